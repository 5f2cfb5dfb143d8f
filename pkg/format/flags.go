package format

// Flags is the superblock flags bitset.
type Flags uint16

// Flag bit positions.
const (
	FlagUncompressedInodes Flags = 1 << iota
	FlagUncompressedData
	FlagCheck // unused since 3.x, kept for layout fidelity
	FlagUncompressedFragments
	FlagNoFragments
	FlagAlwaysFragments
	FlagDuplicates
	FlagExportable
	FlagUncompressedXattrs
	FlagNoXattrs
	FlagCompressorOptions
	FlagUncompressedIDs
)

func (f Flags) UncompressedInodes() bool    { return f&FlagUncompressedInodes != 0 }
func (f Flags) UncompressedData() bool      { return f&FlagUncompressedData != 0 }
func (f Flags) UncompressedFragments() bool { return f&FlagUncompressedFragments != 0 }
func (f Flags) NoFragments() bool           { return f&FlagNoFragments != 0 }
func (f Flags) AlwaysFragments() bool       { return f&FlagAlwaysFragments != 0 }
func (f Flags) Duplicates() bool            { return f&FlagDuplicates != 0 }
func (f Flags) Exportable() bool            { return f&FlagExportable != 0 }
func (f Flags) UncompressedXattrs() bool    { return f&FlagUncompressedXattrs != 0 }
func (f Flags) NoXattrs() bool              { return f&FlagNoXattrs != 0 }
func (f Flags) CompressorOptions() bool     { return f&FlagCompressorOptions != 0 }
func (f Flags) UncompressedIDs() bool       { return f&FlagUncompressedIDs != 0 }

// Set returns the flags with the given bits set.
func (f Flags) Set(bits Flags) Flags { return f | bits }

// Clear returns the flags with the given bits cleared.
func (f Flags) Clear(bits Flags) Flags { return f &^ bits }
