// Package fragment packs the trailing partial blocks of small files
// into shared fragment blocks and eliminates byte-identical duplicates
// so repeated content is stored once.
package fragment

// Checksum computes the 16-bit rolling checksum over data. The rotate
// keeps byte order significant, so permuted payloads of equal sum are
// still distinguished more often than a plain additive sum would.
func Checksum(data []byte) uint16 {
	var chksum uint16
	for _, b := range data {
		if chksum&1 != 0 {
			chksum = chksum>>1 | 0x8000
		} else {
			chksum >>= 1
		}
		chksum += uint16(b)
	}
	return chksum
}

// ChecksumSparse computes the rolling checksum while simultaneously
// detecting an all-zero buffer, in a single pass. Sparse buffers can be
// stored as holes instead of fragments.
func ChecksumSparse(data []byte) (chksum uint16, sparse bool) {
	sparse = true
	for _, b := range data {
		if chksum&1 != 0 {
			chksum = chksum>>1 | 0x8000
		} else {
			chksum >>= 1
		}
		if b != 0 {
			chksum += uint16(b)
			sparse = false
		}
	}
	return chksum, sparse
}
