package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/zeebo/blake3"

	"github.com/squashkit/squashkit/pkg/format"
	"github.com/squashkit/squashkit/pkg/image"
)

func main() {
	app := &cli.App{
		Name:  "sqshls",
		Usage: "inspect and extract filesystem images",
		Commands: []*cli.Command{
			{
				Name:      "info",
				Usage:     "print superblock summary",
				ArgsUsage: "IMAGE",
				Action:    withImage(1, info),
			},
			{
				Name:      "ls",
				Usage:     "list the image tree",
				ArgsUsage: "IMAGE",
				Action:    withImage(1, list),
			},
			{
				Name:      "cat",
				Usage:     "write one file to stdout",
				ArgsUsage: "IMAGE PATH",
				Action:    withImage(2, cat),
			},
			{
				Name:      "extract",
				Usage:     "extract the tree into a directory",
				ArgsUsage: "IMAGE DEST_DIR",
				Action:    withImage(2, extract),
			},
			{
				Name:      "verify",
				Usage:     "decode every file and print its content digest",
				ArgsUsage: "IMAGE",
				Action:    withImage(1, verify),
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "sqshls: %v\n", err)
		os.Exit(1)
	}
}

// withImage opens the image named by the first argument and hands it to
// the subcommand.
func withImage(args int, fn func(*cli.Context, *image.Image) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.NArg() != args {
			cli.ShowSubcommandHelp(c)
			return fmt.Errorf("expected %s", c.Command.ArgsUsage)
		}
		log := logrus.New()
		log.SetLevel(logrus.WarnLevel)
		img, err := image.Open(c.Args().Get(0), log)
		if err != nil {
			return err
		}
		defer img.Close()
		return fn(c, img)
	}
}

func info(c *cli.Context, img *image.Image) error {
	sb := img.SuperBlock()
	fmt.Printf("compression:     %s\n", img.Compression())
	fmt.Printf("block size:      %d\n", sb.BlockSize)
	fmt.Printf("inodes:          %d\n", sb.Inodes)
	fmt.Printf("fragment blocks: %d\n", sb.Fragments)
	fmt.Printf("bytes used:      %d\n", sb.BytesUsed)
	fmt.Printf("created:         %s\n", time.Unix(int64(sb.MkfsTime), 0).UTC().Format(time.RFC3339))
	fmt.Printf("exportable:      %v\n", sb.Flags.Exportable())
	return nil
}

func list(c *cli.Context, img *image.Image) error {
	return img.Walk(func(path string, e image.Entry, ino format.Inode) error {
		hdr := ino.Header()
		fmt.Printf("%s %5d %5d %12d  %s\n",
			modeString(hdr), img.ID(hdr.UID), img.ID(hdr.GID), inodeSize(ino), path)
		return nil
	})
}

func cat(c *cli.Context, img *image.Image) error {
	ino, err := img.Lookup(c.Args().Get(1))
	if err != nil {
		return err
	}
	return img.ReadFile(ino, os.Stdout)
}

func extract(c *cli.Context, img *image.Image) error {
	return img.Extract(c.Args().Get(1))
}

func verify(c *cli.Context, img *image.Image) error {
	return img.Walk(func(path string, e image.Entry, ino format.Inode) error {
		if e.Type != format.TypeFile {
			return nil
		}
		h := blake3.New()
		if err := img.ReadFile(ino, h); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Printf("%x  %s\n", h.Sum(nil), path)
		return nil
	})
}

func inodeSize(ino format.Inode) int64 {
	switch f := ino.(type) {
	case *format.RegInode:
		return int64(f.FileSize)
	case *format.LRegInode:
		return f.FileSize
	case *format.SymlinkInode:
		return int64(len(f.Target))
	default:
		return 0
	}
}

func modeString(hdr *format.InodeHeader) string {
	var kind byte
	switch hdr.Type {
	case format.TypeDir, format.TypeLDir:
		kind = 'd'
	case format.TypeSymlink, format.TypeLSymlink:
		kind = 'l'
	case format.TypeBlockDev, format.TypeLBlockDev:
		kind = 'b'
	case format.TypeCharDev, format.TypeLCharDev:
		kind = 'c'
	case format.TypeFifo, format.TypeLFifo:
		kind = 'p'
	case format.TypeSocket, format.TypeLSocket:
		kind = 's'
	default:
		kind = '-'
	}
	out := []byte{kind, '-', '-', '-', '-', '-', '-', '-', '-', '-'}
	bits := []byte("rwxrwxrwx")
	for i := 0; i < 9; i++ {
		if hdr.Mode&(1<<(8-i)) != 0 {
			out[i+1] = bits[i]
		}
	}
	return string(out)
}
