package builder

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/squashkit/squashkit/pkg/compress"
	"github.com/squashkit/squashkit/pkg/format"
)

// idTable interns uids and gids. Inodes store 16-bit indices into it;
// the table itself is written as metadata blocks of packed 32-bit ids
// plus an index of absolute block positions.
type idTable struct {
	ids   []uint32
	index map[uint32]uint16
}

func newIDTable() *idTable {
	return &idTable{index: make(map[uint32]uint16)}
}

// Lookup returns the index for id, interning it on first sight.
func (t *idTable) Lookup(id uint32) (uint16, error) {
	if idx, ok := t.index[id]; ok {
		return idx, nil
	}
	if len(t.ids) >= format.MaxIDs {
		return 0, errors.Errorf("more than %d distinct uids/gids", format.MaxIDs)
	}
	idx := uint16(len(t.ids))
	t.ids = append(t.ids, id)
	t.index[id] = idx
	return idx, nil
}

func (t *idTable) Count() uint16 { return uint16(len(t.ids)) }

// idsPerBlock is how many packed 32-bit ids one metadata block holds.
const idsPerBlock = format.MetadataSize / 4

// Write emits the id metadata blocks followed by the block index and
// returns the index position, which is what the superblock points at.
func (t *idTable) Write(out *output, codec compress.Compressor, noCompress bool) (int64, error) {
	starts := make([]int64, 0, (len(t.ids)+idsPerBlock-1)/idsPerBlock)
	for off := 0; off < len(t.ids); off += idsPerBlock {
		end := off + idsPerBlock
		if end > len(t.ids) {
			end = len(t.ids)
		}
		payload := make([]byte, 4*(end-off))
		for i, id := range t.ids[off:end] {
			binary.LittleEndian.PutUint32(payload[4*i:], id)
		}
		start, err := writeMetaBlock(out, codec, payload, noCompress)
		if err != nil {
			return 0, err
		}
		starts = append(starts, start)
	}
	return writeBlockIndex(out, starts)
}

// writeMetaBlock stores one standalone metadata block at the output's
// current position and returns that position.
func writeMetaBlock(out *output, codec compress.Compressor, payload []byte, noCompress bool) (int64, error) {
	start := out.Position()
	stored, uncompressed, err := storeBlock(codec, payload, noCompress)
	if err != nil {
		return 0, err
	}
	hdr, err := format.EncodeMetaHeader(format.MetaHeader{Length: len(stored), Uncompressed: uncompressed})
	if err != nil {
		return 0, err
	}
	if err := out.Append(hdr); err != nil {
		return 0, err
	}
	return start, out.Append(stored)
}

// writeBlockIndex writes a table's index of absolute metadata block
// positions, uncompressed, and returns its start.
func writeBlockIndex(out *output, starts []int64) (int64, error) {
	pos := out.Position()
	b := make([]byte, 8*len(starts))
	for i, s := range starts {
		binary.LittleEndian.PutUint64(b[8*i:], uint64(s))
	}
	return pos, out.Append(b)
}
