// Package asset implements the packed asset archive (a read-only,
// single-file container addressed by logical paths) and the Source
// interface shared by directory-backed and archive-backed asset
// collections.
package asset

import (
	"context"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/rpcpool/btreedb/internal/iodevice"
)

// MetadataPrimaryName and MetadataFallbackName are the two logical paths a
// directory source checks for a metadata document; neither is itself
// enumerated as an asset.
const (
	MetadataPrimaryName  = "/_metadata"
	MetadataFallbackName = "/.metadata"
)

// Source is an abstract collection of named byte blobs with metadata.
// Implementations: a directory-backed source (DirectorySource) and a
// packed-archive reader (Archive).
type Source interface {
	Metadata() (map[string]any, error)
	// AssetPaths enumerates every asset path in ascending order. It accepts
	// a context so a caller walking a large tree can cancel the scan early:
	// DirectorySource checks ctx before every directory entry, Archive (whose
	// index is already in memory) checks it once.
	AssetPaths(ctx context.Context) ([]string, error)
	Open(assetPath string) (iodevice.Device, error)
	Read(assetPath string) ([]byte, error)
}

// DirectorySource is a Source backed by a filesystem directory tree. Asset
// paths are absolute ("/"-rooted) logical paths using "/" as separator
// regardless of host filesystem convention.
type DirectorySource struct {
	base     string
	ignore   []*regexp.Regexp
	metadata map[string]any
}

// DirectorySourceOption configures a DirectorySource at open time.
type DirectorySourceOption func(*DirectorySource)

// WithIgnorePatterns adds regular expressions matched against logical asset
// paths; any match excludes the file from AssetPaths/enumeration.
func WithIgnorePatterns(patterns ...string) DirectorySourceOption {
	return func(d *DirectorySource) {
		for _, p := range patterns {
			if re, err := regexp.Compile(p); err == nil {
				d.ignore = append(d.ignore, re)
			}
		}
	}
}

// OpenDirectorySource loads base's metadata file, if any. The directory tree
// itself is walked by AssetPaths.
func OpenDirectorySource(base string, opts ...DirectorySourceOption) (*DirectorySource, error) {
	d := &DirectorySource{base: base}
	for _, fn := range opts {
		fn(d)
	}

	for _, name := range []string{MetadataPrimaryName, MetadataFallbackName} {
		raw, err := os.ReadFile(d.toFilesystem(name))
		if err == nil {
			md, perr := parseMetadataJSON(raw)
			if perr == nil {
				d.metadata = md
			}
			break
		}
	}
	return d, nil
}

func (d *DirectorySource) toFilesystem(assetPath string) string {
	rel := strings.TrimPrefix(assetPath, "/")
	return path.Join(d.base, rel)
}

func (d *DirectorySource) isMetadataPath(assetPath string) bool {
	return assetPath == MetadataPrimaryName || assetPath == MetadataFallbackName
}

func (d *DirectorySource) ignored(assetPath string) bool {
	for _, re := range d.ignore {
		if re.MatchString(assetPath) {
			return true
		}
	}
	return false
}

// Metadata returns the parsed `_metadata`/`.metadata` document, or nil if
// the directory has none.
func (d *DirectorySource) Metadata() (map[string]any, error) { return d.metadata, nil }

// AssetPaths walks the directory tree and returns every logical asset path
// in lexical order, excluding the metadata file and anything ignored.
func (d *DirectorySource) AssetPaths(ctx context.Context) ([]string, error) {
	var paths []string
	err := walkDir(ctx, d.base, "", func(logicalPath string) {
		if d.isMetadataPath(logicalPath) || d.ignored(logicalPath) {
			return
		}
		paths = append(paths, logicalPath)
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// Open returns a read-only device over the file at assetPath.
func (d *DirectorySource) Open(assetPath string) (iodevice.Device, error) {
	return iodevice.Open(d.toFilesystem(assetPath), iodevice.Read)
}

// Read reads the entire file at assetPath into memory.
func (d *DirectorySource) Read(assetPath string) ([]byte, error) {
	return os.ReadFile(d.toFilesystem(assetPath))
}

func walkDir(ctx context.Context, base, rel string, visit func(logicalPath string)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dirPath := path.Join(base, rel)
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		childRel := path.Join(rel, e.Name())
		if e.IsDir() {
			if err := walkDir(ctx, base, childRel, visit); err != nil {
				return err
			}
			continue
		}
		visit("/" + childRel)
	}
	return nil
}
