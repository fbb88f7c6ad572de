package asset

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/btreedb/internal/bytebuf"
	"github.com/rpcpool/btreedb/internal/iodevice"
)

func writeTestFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	full := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(contents), 0o644))
}

func TestArchiveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.json", `{"a":1}`)
	writeTestFile(t, dir, "b.json", `{"b":2}`)
	writeTestFile(t, dir, "c.png", "binarydata")

	source, err := OpenDirectorySource(dir)
	require.NoError(t, err)

	wantPaths, err := source.AssetPaths(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"/a.json", "/b.json", "/c.png"}, wantPaths)

	dev := bytebuf.New()
	var seen []string
	err = Build(context.Background(), dev, source, []string{"json", "png"}, func(i, n int, fsPath, assetPath string) {
		seen = append(seen, assetPath)
	})
	require.NoError(t, err)
	require.Equal(t, []string{"/a.json", "/b.json", "/c.png"}, seen)

	if _, err := dev.Seek(0, iodevice.SeekAbsolute); err != nil {
		t.Fatal(err)
	}
	a, err := OpenArchive(dev)
	require.NoError(t, err)

	gotPaths, err := a.AssetPaths(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, wantPaths, gotPaths)

	for _, p := range wantPaths {
		want, err := source.Read(p)
		require.NoError(t, err)
		got, err := a.Read(p)
		require.NoError(t, err)
		require.Equal(t, string(want), string(got))
	}

	_, err = a.Read("/does-not-exist")
	require.Error(t, err)
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestArchiveExtensionPriorityOrdering(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "z.png", "z")
	writeTestFile(t, dir, "a.png", "a")
	writeTestFile(t, dir, "m.json", "m")
	writeTestFile(t, dir, "readme.txt", "r")

	source, err := OpenDirectorySource(dir)
	require.NoError(t, err)

	dev := bytebuf.New()
	var order []string
	err = Build(context.Background(), dev, source, []string{"json", "png"}, func(i, n int, fsPath, assetPath string) {
		order = append(order, assetPath)
	})
	require.NoError(t, err)

	require.Equal(t, []string{"/m.json", "/a.png", "/z.png", "/readme.txt"}, order)
}

func TestDirectorySourceMetadataAndIgnore(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "_metadata", `{"version":"1"}`)
	writeTestFile(t, dir, "keep.json", "{}")
	writeTestFile(t, dir, "skip.bak", "stale")

	source, err := OpenDirectorySource(dir, WithIgnorePatterns(`\.bak$`))
	require.NoError(t, err)

	md, err := source.Metadata()
	require.NoError(t, err)
	require.Equal(t, "1", md["version"])

	paths, err := source.AssetPaths(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"/keep.json"}, paths)
}

func TestAssetViewWindowedRead(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.bin", "0123456789")
	writeTestFile(t, dir, "b.bin", "abcdefghij")

	source, err := OpenDirectorySource(dir)
	require.NoError(t, err)

	dev := bytebuf.New()
	require.NoError(t, Build(context.Background(), dev, source, nil, nil))

	if _, err := dev.Seek(0, iodevice.SeekAbsolute); err != nil {
		t.Fatal(err)
	}
	a, err := OpenArchive(dev)
	require.NoError(t, err)

	view, err := a.Open("/b.bin")
	require.NoError(t, err)

	buf := make([]byte, 5)
	require.NoError(t, view.ReadFull(buf))
	require.Equal(t, "abcde", string(buf))

	size, err := view.Size()
	require.NoError(t, err)
	require.EqualValues(t, 10, size)
}
