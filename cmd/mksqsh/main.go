package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/squashkit/squashkit/pkg/builder"
	"github.com/squashkit/squashkit/pkg/compress"
)

func main() {
	app := &cli.App{
		Name:      "mksqsh",
		Usage:     "create a compressed read-only filesystem image from a directory",
		ArgsUsage: "SOURCE_DIR IMAGE_FILE",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "TOML build profile; flags override it"},
			&cli.IntFlag{Name: "block-size", Aliases: []string{"b"}, Usage: "data block size in bytes (power of two)"},
			&cli.StringFlag{Name: "compression", Aliases: []string{"z"}, Usage: "block compressor"},
			&cli.StringSliceFlag{Name: "opt", Aliases: []string{"X"}, Usage: "compressor option name=value, repeatable"},
			&cli.IntFlag{Name: "processors", Aliases: []string{"p"}, Usage: "compression threads, 0 means all CPUs"},
			&cli.BoolFlag{Name: "no-fragments", Usage: "store every tail as a full block"},
			&cli.BoolFlag{Name: "always-fragments", Usage: "store tails of multi-block files as fragments too"},
			&cli.BoolFlag{Name: "no-duplicates", Usage: "disable duplicate tail detection"},
			&cli.BoolFlag{Name: "no-sparse", Usage: "store all-zero blocks instead of holes"},
			&cli.BoolFlag{Name: "exportable", Usage: "write the NFS export lookup table"},
			&cli.BoolFlag{Name: "noI", Usage: "do not compress the metadata tables"},
			&cli.BoolFlag{Name: "noD", Usage: "do not compress data blocks"},
			&cli.BoolFlag{Name: "noF", Usage: "do not compress fragment blocks"},
			&cli.BoolFlag{Name: "list-compressors", Usage: "list available compressors and exit"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "debug logging"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "errors only"},
		},
		Action: build,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "mksqsh: %v\n", err)
		os.Exit(1)
	}
}

func build(c *cli.Context) error {
	if c.Bool("list-compressors") {
		compress.DisplayUsage(os.Stdout, builder.DefaultConfig().Compression)
		return nil
	}
	if c.NArg() != 2 {
		cli.ShowAppHelp(c)
		return fmt.Errorf("expected SOURCE_DIR and IMAGE_FILE")
	}

	cfg := builder.DefaultConfig()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = builder.LoadConfig(path); err != nil {
			return err
		}
	}
	if c.IsSet("block-size") {
		cfg.BlockSize = c.Int("block-size")
	}
	if c.IsSet("compression") {
		cfg.Compression = c.String("compression")
	}
	if c.IsSet("processors") {
		cfg.Processors = c.Int("processors")
	}
	for _, opt := range c.StringSlice("opt") {
		name, value, ok := strings.Cut(opt, "=")
		if !ok {
			return fmt.Errorf("compressor option %q is not name=value", opt)
		}
		if cfg.CompressorOptions == nil {
			cfg.CompressorOptions = map[string]string{}
		}
		cfg.CompressorOptions[name] = value
	}
	cfg.NoFragments = cfg.NoFragments || c.Bool("no-fragments")
	cfg.AlwaysFragments = cfg.AlwaysFragments || c.Bool("always-fragments")
	cfg.NoDuplicates = cfg.NoDuplicates || c.Bool("no-duplicates")
	cfg.NoSparse = cfg.NoSparse || c.Bool("no-sparse")
	cfg.Exportable = cfg.Exportable || c.Bool("exportable")
	cfg.NoCompressInodes = cfg.NoCompressInodes || c.Bool("noI")
	cfg.NoCompressData = cfg.NoCompressData || c.Bool("noD")
	cfg.NoCompressFragments = cfg.NoCompressFragments || c.Bool("noF")

	log := logrus.New()
	switch {
	case c.Bool("verbose"):
		log.SetLevel(logrus.DebugLevel)
	case c.Bool("quiet"):
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	stats, err := builder.Build(cfg, c.Args().Get(0), c.Args().Get(1), log)
	if err != nil {
		return err
	}
	fmt.Printf("created %s: %d inodes, %d data files, %d fragment blocks, %d duplicate tails, %d bytes\n",
		c.Args().Get(1), stats.Inodes, stats.DataFiles, stats.Fragments, stats.DuplicateTails, stats.BytesUsed)
	return nil
}
