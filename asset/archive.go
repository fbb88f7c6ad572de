package asset

import (
	"context"
	"fmt"
	"sort"
	"strings"

	logging "github.com/ipfs/go-log/v2"

	"github.com/rpcpool/btreedb/internal/datastream"
	"github.com/rpcpool/btreedb/internal/iodevice"
)

var log = logging.Logger("asset")

const (
	archiveMagic = "SBAsset6"
	indexMagic   = "INDEX"
)

// FormatError reports a malformed packed archive: bad magic, truncated
// index, or similar.
type FormatError struct{ Msg string }

func (e *FormatError) Error() string { return "asset: format error: " + e.Msg }

// NotFoundError reports a request for an asset path the source does not
// have.
type NotFoundError struct{ Path string }

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("asset: no such asset path %q", e.Path)
}

type indexEntry struct {
	offset uint64
	size   uint64
}

// BuildProgress is called once per asset as Build writes it: i is the
// zero-based index, n the total count.
type BuildProgress func(i, n int, fsPath, assetPath string)

// Build scans source and writes a packed archive to dev, which must be
// opened read-write and positioned at offset 0. extensionPriority orders
// the written blob region: paths whose extension appears earlier in the
// list are written first (and so read back with better locality), ties and
// unlisted extensions falling back to a lowercase path comparison.
func Build(ctx context.Context, dev iodevice.Device, source *DirectorySource, extensionPriority []string, progress BuildProgress) error {
	s := datastream.New(dev)

	if err := dev.WriteFull([]byte(archiveMagic)); err != nil {
		return err
	}
	if _, err := dev.Seek(8, iodevice.SeekRelative); err != nil {
		return err
	}

	paths, err := source.AssetPaths(ctx)
	if err != nil {
		return err
	}
	sortAssetPaths(paths, extensionPriority)

	index := make(map[string]indexEntry, len(paths))
	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		contents, err := source.Read(p)
		if err != nil {
			return err
		}
		if progress != nil {
			progress(i, len(paths), source.toFilesystem(p), p)
		}
		index[p] = indexEntry{offset: uint64(dev.Pos()), size: uint64(len(contents))}
		if err := dev.WriteFull(contents); err != nil {
			return err
		}
	}

	indexStart := uint64(dev.Pos())
	if err := dev.WriteFull([]byte(indexMagic)); err != nil {
		return err
	}

	md, err := source.Metadata()
	if err != nil {
		return err
	}
	if err := writeMetadata(s, md); err != nil {
		return err
	}
	if err := writeIndex(s, paths, index); err != nil {
		return err
	}

	if _, err := dev.Seek(8, iodevice.SeekAbsolute); err != nil {
		return err
	}
	return s.WriteU64(indexStart)
}

// sortAssetPaths orders paths by (position of lowercase extension in
// priority; len(priority) if absent), then lowercase path.
func sortAssetPaths(paths []string, priority []string) {
	rank := make(map[string]int, len(priority))
	for i, ext := range priority {
		rank[strings.ToLower(ext)] = i
	}
	absent := len(priority)

	orderingValue := func(p string) (int, string) {
		ext := ""
		if dot := strings.LastIndex(p, "."); dot != -1 {
			ext = p[dot+1:]
		}
		if r, ok := rank[strings.ToLower(ext)]; ok {
			return r, strings.ToLower(p)
		}
		return absent, strings.ToLower(p)
	}

	sort.Slice(paths, func(i, j int) bool {
		ri, si := orderingValue(paths[i])
		rj, sj := orderingValue(paths[j])
		if ri != rj {
			return ri < rj
		}
		return si < sj
	})
}

func writeMetadata(s *datastream.Stream, md map[string]any) error {
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return s.WriteMapContainer(keys, func(key string) error {
		return s.WriteString(fmt.Sprint(md[key]))
	})
}

func readMetadata(s *datastream.Stream) (map[string]any, error) {
	md := make(map[string]any)
	err := s.ReadMapContainer(func(key string) error {
		v, err := s.ReadString()
		if err != nil {
			return err
		}
		md[key] = v
		return nil
	})
	return md, err
}

func writeIndex(s *datastream.Stream, order []string, index map[string]indexEntry) error {
	return s.WriteMapContainer(order, func(key string) error {
		e := index[key]
		if err := s.WriteU64(e.offset); err != nil {
			return err
		}
		return s.WriteU64(e.size)
	})
}

func readIndex(s *datastream.Stream) (map[string]indexEntry, []string, error) {
	index := make(map[string]indexEntry)
	var order []string
	err := s.ReadMapContainer(func(key string) error {
		offset, err := s.ReadU64()
		if err != nil {
			return err
		}
		size, err := s.ReadU64()
		if err != nil {
			return err
		}
		index[key] = indexEntry{offset: offset, size: size}
		order = append(order, key)
		return nil
	})
	return index, order, err
}

// Archive is a read-only Source backed by a single packed archive file.
type Archive struct {
	dev      iodevice.Device
	metadata map[string]any
	index    map[string]indexEntry
	paths    []string
}

var _ Source = (*Archive)(nil)

// OpenArchive reads the header and index of a packed archive built by Build.
func OpenArchive(dev iodevice.Device) (*Archive, error) {
	s := datastream.New(dev)

	magic := make([]byte, 8)
	if err := dev.ReadFull(magic); err != nil {
		return nil, err
	}
	if string(magic) != archiveMagic {
		return nil, &FormatError{Msg: "bad archive magic"}
	}
	indexStart, err := s.ReadU64()
	if err != nil {
		return nil, err
	}
	if _, err := dev.Seek(int64(indexStart), iodevice.SeekAbsolute); err != nil {
		return nil, err
	}

	header := make([]byte, 5)
	if err := dev.ReadFull(header); err != nil {
		return nil, err
	}
	if string(header) != indexMagic {
		return nil, &FormatError{Msg: "no INDEX header found at recorded offset"}
	}

	md, err := readMetadata(s)
	if err != nil {
		return nil, err
	}
	index, order, err := readIndex(s)
	if err != nil {
		return nil, err
	}
	sort.Strings(order)

	return &Archive{dev: dev, metadata: md, index: index, paths: order}, nil
}

// Metadata returns the archive's stored metadata object.
func (a *Archive) Metadata() (map[string]any, error) { return a.metadata, nil }

// AssetPaths returns every path in the archive's index, in ascending order.
// The index is already fully resident in memory, so ctx is only checked, not
// polled mid-scan.
func (a *Archive) AssetPaths(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.paths, nil
}

// Open returns a read-only device over the blob stored at path, or
// NotFoundError if path is not in the index. The view reads through the
// archive's own device, so it is only valid while that device stays open;
// nothing enforces this.
func (a *Archive) Open(assetPath string) (iodevice.Device, error) {
	e, ok := a.index[assetPath]
	if !ok {
		return nil, &NotFoundError{Path: assetPath}
	}
	return newAssetView(a.dev, int64(e.offset), int64(e.size)), nil
}

// Read reads the entire blob stored at path into memory.
func (a *Archive) Read(assetPath string) ([]byte, error) {
	e, ok := a.index[assetPath]
	if !ok {
		return nil, &NotFoundError{Path: assetPath}
	}
	buf := make([]byte, e.size)
	if _, err := a.dev.ReadAbsolute(int64(e.offset), buf); err != nil {
		return nil, err
	}
	return buf, nil
}
