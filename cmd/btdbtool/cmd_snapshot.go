package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/rpcpool/btreedb/compressstream"
	"github.com/rpcpool/btreedb/internal/bytebuf"
	"github.com/rpcpool/btreedb/internal/datastream"
)

// newCmd_DB_Snapshot exports every (key, value) pair as a zstd-compressed
// stream of length-prefixed records, for off-box backup or transfer. The file
// is an 8-byte little-endian record count followed by the compressed stream,
// in which each key and each value is a VLQ-length-prefixed byte array
// written with the datastream package.
func newCmd_DB_Snapshot() *cli.Command {
	return &cli.Command{
		Name:      "snapshot",
		Usage:     "Export every key/value pair as a compressed snapshot file.",
		ArgsUsage: "<db-path> <snapshot-file>",
		Action: func(c *cli.Context) error {
			db, err := openDB(c.Args().Get(0), 0, 0, "")
			if err != nil {
				return err
			}
			defer db.Close()

			staging := bytebuf.New()
			s := datastream.New(staging)
			var count uint64
			var writeErr error
			if err := db.ForAll(func(k, v []byte) bool {
				if err := s.WriteBytes(k); err != nil {
					writeErr = err
					return false
				}
				if err := s.WriteBytes(v); err != nil {
					writeErr = err
					return false
				}
				count++
				return true
			}); err != nil {
				return err
			}
			if writeErr != nil {
				return writeErr
			}

			compressed, err := compressstream.CompressAll(staging.Bytes())
			if err != nil {
				return err
			}

			out, err := os.Create(c.Args().Get(1))
			if err != nil {
				return err
			}
			defer out.Close()
			bw := bufio.NewWriter(out)
			if err := binary.Write(bw, binary.LittleEndian, count); err != nil {
				return err
			}
			if _, err := bw.Write(compressed); err != nil {
				return err
			}
			if err := bw.Flush(); err != nil {
				return err
			}
			fmt.Printf("wrote %d records (%d bytes compressed) to %s\n", count, len(compressed), c.Args().Get(1))
			return nil
		},
	}
}

// newCmd_DB_Restore replays a snapshot produced by "db snapshot" into a
// freshly opened or existing database.
func newCmd_DB_Restore() *cli.Command {
	var keySize, blockSize uint64
	return &cli.Command{
		Name:      "restore",
		Usage:     "Replay a compressed snapshot file into a database.",
		ArgsUsage: "<snapshot-file> <db-path>",
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "key-size", Destination: &keySize},
			&cli.Uint64Flag{Name: "block-size", Destination: &blockSize},
		},
		Action: func(c *cli.Context) error {
			raw, err := os.ReadFile(c.Args().Get(0))
			if err != nil {
				return err
			}
			if len(raw) < 8 {
				return fmt.Errorf("snapshot file too short")
			}
			count := binary.LittleEndian.Uint64(raw[:8])
			plain, err := compressstream.DecompressAll(raw[8:])
			if err != nil {
				return err
			}

			staging := bytebuf.FromBytes(plain)
			s := datastream.New(staging)

			db, err := openDB(c.Args().Get(1), keySize, blockSize, "")
			if err != nil {
				return err
			}
			defer db.Close()

			for i := uint64(0); i < count; i++ {
				k, err := s.ReadBytes()
				if err != nil {
					return err
				}
				v, err := s.ReadBytes()
				if err != nil {
					return err
				}
				if err := db.Put(k, v); err != nil {
					return err
				}
			}
			fmt.Printf("restored %d records into %s\n", count, c.Args().Get(1))
			return nil
		},
	}
}
