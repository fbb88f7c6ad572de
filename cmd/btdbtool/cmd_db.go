package main

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/rpcpool/btreedb/btreedb"
	"github.com/rpcpool/btreedb/internal/iodevice"
)

func newCmd_DB() *cli.Command {
	return &cli.Command{
		Name:        "db",
		Usage:       "Operate on a BTreeDB database file.",
		Description: "Create, inspect, and perform point operations against a BTreeDB database.",
		Subcommands: []*cli.Command{
			newCmd_DB_Open(),
			newCmd_DB_Get(),
			newCmd_DB_Put(),
			newCmd_DB_Rm(),
			newCmd_DB_Dump(),
			newCmd_DB_Snapshot(),
			newCmd_DB_Restore(),
		},
	}
}

func openDB(path string, keySize, blockSize uint64, contentID string) (*btreedb.DB, error) {
	dev, err := iodevice.Open(path, iodevice.Read|iodevice.Write)
	if err != nil {
		return nil, fmt.Errorf("open device: %w", err)
	}
	var opts []btreedb.Option
	if keySize != 0 {
		opts = append(opts, btreedb.WithKeySize(uint32(keySize)))
	}
	if blockSize != 0 {
		opts = append(opts, btreedb.WithBlockSize(uint32(blockSize)))
	}
	if contentID != "" {
		opts = append(opts, btreedb.WithContentID(contentID))
	}
	return btreedb.Open(dev, opts...)
}

func newCmd_DB_Open() *cli.Command {
	var keySize, blockSize uint64
	var contentID string
	return &cli.Command{
		Name:      "open",
		Usage:     "Create or open a database and print its header summary.",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "key-size", Destination: &keySize},
			&cli.Uint64Flag{Name: "block-size", Destination: &blockSize},
			&cli.StringFlag{Name: "content-id", Destination: &contentID},
		},
		Action: func(c *cli.Context) error {
			db, err := openDB(c.Args().Get(0), keySize, blockSize, contentID)
			if err != nil {
				return err
			}
			defer db.Close()
			fmt.Printf("content-id=%s key-size=%d block-size=%d records=%d\n",
				db.ContentID(), db.KeySize(), db.BlockSize(), db.RecordCount())
			return nil
		},
	}
}

func newCmd_DB_Get() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Look up a hex-encoded key.",
		ArgsUsage: "<path> <hex-key>",
		Action: func(c *cli.Context) error {
			db, err := openDB(c.Args().Get(0), 0, 0, "")
			if err != nil {
				return err
			}
			defer db.Close()
			key, err := hex.DecodeString(c.Args().Get(1))
			if err != nil {
				return err
			}
			value, ok, err := db.Get(key)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("(not found)")
				return nil
			}
			fmt.Println(hex.EncodeToString(value))
			return nil
		},
	}
}

func newCmd_DB_Put() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "Insert or overwrite a hex-encoded key/value pair.",
		ArgsUsage: "<path> <hex-key> <hex-value>",
		Action: func(c *cli.Context) error {
			db, err := openDB(c.Args().Get(0), 0, 0, "")
			if err != nil {
				return err
			}
			defer db.Close()
			key, err := hex.DecodeString(c.Args().Get(1))
			if err != nil {
				return err
			}
			value, err := hex.DecodeString(c.Args().Get(2))
			if err != nil {
				return err
			}
			start := time.Now()
			if err := db.Put(key, value); err != nil {
				return err
			}
			metricsCommitsTotal.WithLabelValues(db.ContentID()).Inc()
			metricsCommitDuration.WithLabelValues(db.ContentID()).Observe(time.Since(start).Seconds())
			return nil
		},
	}
}

func newCmd_DB_Rm() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Usage:     "Remove a hex-encoded key.",
		ArgsUsage: "<path> <hex-key>",
		Action: func(c *cli.Context) error {
			db, err := openDB(c.Args().Get(0), 0, 0, "")
			if err != nil {
				return err
			}
			defer db.Close()
			key, err := hex.DecodeString(c.Args().Get(1))
			if err != nil {
				return err
			}
			removed, err := db.Remove(key)
			if err != nil {
				return err
			}
			fmt.Println("removed:", removed)
			return nil
		},
	}
}

func newCmd_DB_Dump() *cli.Command {
	return &cli.Command{
		Name:      "dump",
		Usage:     "Walk every node and print block occupancy.",
		ArgsUsage: "<path>",
		Action: func(c *cli.Context) error {
			db, err := openDB(c.Args().Get(0), 0, 0, "")
			if err != nil {
				return err
			}
			defer db.Close()

			leaves, indexes, err := db.NodeStats()
			if err != nil {
				return err
			}
			var elements int
			if err := db.ForAll(func(k, v []byte) bool { elements++; return true }); err != nil {
				return err
			}
			hit, miss, items, capacity := db.CacheStats()
			fmt.Printf("leaves=%d indexes=%d elements=%d records=%d cache(items=%d/%d hit=%d miss=%d)\n",
				leaves, indexes, elements, db.RecordCount(), items, capacity, hit, miss)
			return nil
		},
	}
}
