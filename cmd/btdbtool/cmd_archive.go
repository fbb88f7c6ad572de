package main

import (
	"fmt"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"

	"github.com/rpcpool/btreedb/asset"
	"github.com/rpcpool/btreedb/internal/iodevice"
)

func newCmd_Archive() *cli.Command {
	return &cli.Command{
		Name:        "archive",
		Usage:       "Build and inspect packed asset archives.",
		Description: "Build a packed asset archive from a directory tree, and list or extract entries from one.",
		Subcommands: []*cli.Command{
			newCmd_Archive_Build(),
			newCmd_Archive_Ls(),
			newCmd_Archive_Cat(),
		},
	}
}

func newCmd_Archive_Build() *cli.Command {
	var extPriority string
	return &cli.Command{
		Name:      "build",
		Usage:     "Build a packed archive from a source directory.",
		ArgsUsage: "<src-dir> <out-file>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "ext-priority", Destination: &extPriority},
		},
		Action: func(c *cli.Context) error {
			srcDir := c.Args().Get(0)
			outFile := c.Args().Get(1)
			if srcDir == "" || outFile == "" {
				return fmt.Errorf("usage: btdbtool archive build --ext-priority a,b,c <src-dir> <out-file>")
			}
			var priority []string
			if extPriority != "" {
				priority = strings.Split(extPriority, ",")
			}

			source, err := asset.OpenDirectorySource(srcDir)
			if err != nil {
				return err
			}
			dev, err := iodevice.Open(outFile, iodevice.Read|iodevice.Write|iodevice.Truncate)
			if err != nil {
				return err
			}
			defer dev.Close()

			n := 0
			var bar *progressbar.ProgressBar
			err = asset.Build(c.Context, dev, source, priority, func(i, total int, fsPath, assetPath string) {
				if bar == nil {
					bar = progressbar.Default(int64(total), "building archive")
				}
				n++
				metricsArchiveAssetsWritten.WithLabelValues(outFile).Inc()
				bar.Describe(assetPath)
				_ = bar.Add(1)
			})
			if bar != nil {
				_ = bar.Finish()
			}
			if err != nil {
				return err
			}
			fmt.Printf("wrote %d assets to %s\n", n, outFile)
			return nil
		},
	}
}

func openArchive(path string) (*asset.Archive, error) {
	dev, err := iodevice.Open(path, iodevice.Read)
	if err != nil {
		return nil, err
	}
	return asset.OpenArchive(dev)
}

func newCmd_Archive_Ls() *cli.Command {
	return &cli.Command{
		Name:      "ls",
		Usage:     "List every asset path in an archive.",
		ArgsUsage: "<archive>",
		Action: func(c *cli.Context) error {
			a, err := openArchive(c.Args().Get(0))
			if err != nil {
				return err
			}
			paths, err := a.AssetPaths(c.Context)
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Println(p)
			}
			return nil
		},
	}
}

func newCmd_Archive_Cat() *cli.Command {
	return &cli.Command{
		Name:      "cat",
		Usage:     "Print the contents of one asset path to stdout.",
		ArgsUsage: "<archive> <path>",
		Action: func(c *cli.Context) error {
			a, err := openArchive(c.Args().Get(0))
			if err != nil {
				return err
			}
			contents, err := a.Read(c.Args().Get(1))
			if err != nil {
				return err
			}
			_, err = fmt.Print(string(contents))
			return err
		},
	}
}
