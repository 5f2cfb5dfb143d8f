// Package builder constructs filesystem images: it scans a source
// tree, pushes file data through the parallel compression pipeline and
// writes out the data blocks, fragments, metadata tables and
// superblock.
package builder

import (
	"os"
	"runtime"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/squashkit/squashkit/pkg/compress"
	"github.com/squashkit/squashkit/pkg/format"
)

// Config carries every build knob. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	BlockSize   int    `toml:"block_size"`
	Compression string `toml:"compression"`

	// CompressorOptions are codec options by name, e.g. level = "9".
	CompressorOptions map[string]string `toml:"compressor_options"`

	// Processors sets the deflator thread count; 0 means all CPUs.
	Processors int `toml:"processors"`

	NoFragments     bool `toml:"no_fragments"`
	AlwaysFragments bool `toml:"always_fragments"`
	NoDuplicates    bool `toml:"no_duplicates"`
	NoSparse        bool `toml:"no_sparse"`
	Exportable      bool `toml:"exportable"`

	NoCompressInodes    bool `toml:"no_compress_inodes"`
	NoCompressData      bool `toml:"no_compress_data"`
	NoCompressFragments bool `toml:"no_compress_fragments"`

	// FileLimit caps concurrently open source files; 0 derives it from
	// the process descriptor limit.
	FileLimit int `toml:"file_limit"`
}

// DefaultConfig returns the build defaults: gzip, 128 KiB blocks,
// fragments and duplicate removal on.
func DefaultConfig() Config {
	return Config{
		BlockSize:   format.BlockSizeDefault,
		Compression: "gzip",
		Processors:  runtime.NumCPU(),
	}
}

// LoadConfig reads a TOML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return cfg, errors.Wrap(err, "parse config")
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the on-disk format cannot express.
func (c *Config) Validate() error {
	bs := uint32(c.BlockSize)
	if bs < format.BlockSizeMin || bs > format.BlockSizeMax || bs&(bs-1) != 0 {
		return errors.Wrapf(format.ErrInvalidBlockSize, "block_size %d", c.BlockSize)
	}
	if !compress.Valid(c.Compression) {
		return errors.Errorf("compressor %q is not supported by this build", c.Compression)
	}
	if c.Processors < 0 {
		return errors.Errorf("processors %d", c.Processors)
	}
	return nil
}

// Compressor builds the configured codec with its options applied.
func (c *Config) Compressor() (compress.Compressor, error) {
	codec := compress.Lookup(c.Compression)
	for name, value := range c.CompressorOptions {
		if err := codec.ParseOption(name, value); err != nil {
			return nil, err
		}
	}
	return codec, nil
}

// flags derives the superblock flag bits from the configuration.
func (c *Config) flags(opts bool) format.Flags {
	var f format.Flags
	if c.NoCompressInodes {
		f = f.Set(format.FlagUncompressedInodes)
		f = f.Set(format.FlagUncompressedIDs)
	}
	if c.NoCompressData {
		f = f.Set(format.FlagUncompressedData)
	}
	if c.NoCompressFragments {
		f = f.Set(format.FlagUncompressedFragments)
	}
	if c.NoFragments {
		f = f.Set(format.FlagNoFragments)
	}
	if c.AlwaysFragments {
		f = f.Set(format.FlagAlwaysFragments)
	}
	if !c.NoDuplicates {
		f = f.Set(format.FlagDuplicates)
	}
	if c.Exportable {
		f = f.Set(format.FlagExportable)
	}
	if opts {
		f = f.Set(format.FlagCompressorOptions)
	}
	return f.Set(format.FlagNoXattrs)
}
