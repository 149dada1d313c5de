package archive

import (
	"archive/tar"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeFile creates parent directories and writes contents to path.
func writeFile(t *testing.T, path, contents string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

// TestCreateExtract_Roundtrip writes files and directories and reads them back.
func TestCreateExtract_Roundtrip(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	writeFile(t, filepath.Join(src, "app", "ebin", "app.app"), "{application, app, []}.")
	writeFile(t, filepath.Join(src, "app", "priv", "data.txt"), "payload")
	writeFile(t, filepath.Join(src, "vm.args"), "-name app")
	require.NoError(t, os.Chmod(filepath.Join(src, "vm.args"), 0o600))

	target := filepath.Join(t.TempDir(), "out", "app.tar.gz")
	codec := NewTar()

	err := codec.Create(target, []Entry{
		{ArchivePath: "lib/app-1.0", Source: filepath.Join(src, "app")},
		{ArchivePath: "releases/1.0/vm.args", Source: filepath.Join(src, "vm.args")},
	}, Options{Compress: true})
	require.NoError(t, err)

	names, err := codec.List(target)
	require.NoError(t, err)
	require.Equal(t, []string{
		"lib/app-1.0",
		"lib/app-1.0/ebin",
		"lib/app-1.0/ebin/app.app",
		"lib/app-1.0/priv",
		"lib/app-1.0/priv/data.txt",
		"releases/1.0/vm.args",
	}, names)

	dest := t.TempDir()
	require.NoError(t, codec.Extract(target, dest))

	data, err := os.ReadFile(filepath.Join(dest, "lib", "app-1.0", "priv", "data.txt"))
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))

	info, err := os.Stat(filepath.Join(dest, "releases", "1.0", "vm.args"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

// TestCreate_LaterEntryWins checks that a repeated archive path keeps one member with the last content.
func TestCreate_LaterEntryWins(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	writeFile(t, filepath.Join(src, "first"), "first")
	writeFile(t, filepath.Join(src, "second"), "second")

	target := filepath.Join(t.TempDir(), "dup.tar")
	codec := NewTar()

	require.NoError(t, codec.Create(target, []Entry{
		{ArchivePath: "etc/file", Source: filepath.Join(src, "first")},
		{ArchivePath: "other", Source: filepath.Join(src, "first")},
		{ArchivePath: "./etc/file", Source: filepath.Join(src, "second")},
	}, Options{}))

	names, err := codec.List(target)
	require.NoError(t, err)
	require.Equal(t, []string{"etc/file", "other"}, names)

	dest := t.TempDir()
	require.NoError(t, codec.Extract(target, dest))

	data, err := os.ReadFile(filepath.Join(dest, "etc", "file"))
	require.NoError(t, err)
	require.Equal(t, "second", string(data))
}

// TestCreate_Symlinks compares kept and dereferenced symlinks.
func TestCreate_Symlinks(t *testing.T) {
	t.Parallel()

	shared := t.TempDir()
	writeFile(t, filepath.Join(shared, "ebin", "mod.beam"), "beam")

	tree := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(tree, "app"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(shared, "ebin"), filepath.Join(tree, "app", "ebin")))
	// A cycle must not make the walk loop forever.
	require.NoError(t, os.Symlink(filepath.Join(tree, "app"), filepath.Join(tree, "app", "self")))

	codec := NewTar()

	kept := filepath.Join(t.TempDir(), "kept.tar.gz")
	require.NoError(t, codec.Create(kept, []Entry{{ArchivePath: "lib/app", Source: filepath.Join(tree, "app")}},
		Options{Compress: true}))

	dest := t.TempDir()
	require.NoError(t, codec.Extract(kept, dest))

	info, err := os.Lstat(filepath.Join(dest, "lib", "app", "ebin"))
	require.NoError(t, err)
	require.NotZero(t, info.Mode()&os.ModeSymlink)

	deref := filepath.Join(t.TempDir(), "deref.tar.gz")
	require.NoError(t, codec.Create(deref, []Entry{{ArchivePath: "lib/app", Source: filepath.Join(tree, "app")}},
		Options{Compress: true, Dereference: true}))

	names, err := codec.List(deref)
	require.NoError(t, err)
	require.Contains(t, names, "lib/app/ebin/mod.beam")
	require.NotContains(t, names, "lib/app/self/ebin/mod.beam")

	dest = t.TempDir()
	require.NoError(t, codec.Extract(deref, dest))

	info, err = os.Lstat(filepath.Join(dest, "lib", "app", "ebin"))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

// TestCreate_Errors verifies entry level failures.
func TestCreate_Errors(t *testing.T) {
	t.Parallel()

	codec := NewTar()
	target := filepath.Join(t.TempDir(), "bad.tar")

	err := codec.Create(target, []Entry{{ArchivePath: "lib/missing", Source: "/does/not/exist"}}, Options{})

	var entryErr *EntryError
	require.ErrorAs(t, err, &entryErr)
	require.Equal(t, "lib/missing", entryErr.ArchivePath)
	require.True(t, errors.Is(err, os.ErrNotExist))

	err = codec.Create(target, []Entry{{ArchivePath: "../escape", Source: t.TempDir()}}, Options{})
	require.ErrorIs(t, err, ErrUnsafePath)

	_, statErr := os.Stat(target)
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

// TestExtract_MissingArchive reports a missing source archive.
func TestExtract_MissingArchive(t *testing.T) {
	t.Parallel()

	err := NewTar().Extract(filepath.Join(t.TempDir(), "none.tar.gz"), t.TempDir())
	require.ErrorIs(t, err, os.ErrNotExist)
}

// writeRawTar writes headers, with contents for regular files, as an uncompressed tar.
func writeRawTar(t *testing.T, path string, headers []*tar.Header, contents map[string]string) {
	t.Helper()

	file, err := os.Create(path)
	require.NoError(t, err)

	tw := tar.NewWriter(file)

	for _, header := range headers {
		if header.Typeflag == tar.TypeReg {
			header.Size = int64(len(contents[header.Name]))
		}

		require.NoError(t, tw.WriteHeader(header))

		if header.Typeflag == tar.TypeReg {
			_, err = tw.Write([]byte(contents[header.Name]))
			require.NoError(t, err)
		}
	}

	require.NoError(t, tw.Close())
	require.NoError(t, file.Close())
}

// TestExtract_ReplacesSymlinkedTarget never writes through a symlink left by
// an earlier member with the same name.
func TestExtract_ReplacesSymlinkedTarget(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	outside := filepath.Join(base, "outside.txt")
	writeFile(t, outside, "original")

	dir := filepath.Join(base, "dest")
	require.NoError(t, os.Mkdir(dir, 0o755))

	source := filepath.Join(base, "crafted.tar")
	writeRawTar(t, source, []*tar.Header{
		{Name: "x", Typeflag: tar.TypeSymlink, Linkname: outside, Mode: 0o777},
		{Name: "x", Typeflag: tar.TypeReg, Mode: 0o644},
		{Name: "y", Typeflag: tar.TypeSymlink, Linkname: outside, Mode: 0o777},
		{Name: "y", Typeflag: tar.TypeLink, Linkname: "x"},
	}, map[string]string{"x": "replaced"})

	require.NoError(t, NewTar().Extract(source, dir))

	data, err := os.ReadFile(outside)
	require.NoError(t, err)
	require.Equal(t, "original", string(data))

	for _, name := range []string{"x", "y"} {
		info, err := os.Lstat(filepath.Join(dir, name))
		require.NoError(t, err)
		require.True(t, info.Mode().IsRegular(), name)

		data, err = os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		require.Equal(t, "replaced", string(data), name)
	}
}

// TestExtract_HardLinkOutside refuses hard links whose source resolves outside dir.
func TestExtract_HardLinkOutside(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	writeFile(t, filepath.Join(base, "secret", "key"), "secret")

	dir := filepath.Join(base, "dest")
	require.NoError(t, os.Mkdir(dir, 0o755))

	source := filepath.Join(base, "crafted.tar")
	writeRawTar(t, source, []*tar.Header{
		{Name: "d", Typeflag: tar.TypeSymlink, Linkname: filepath.Join(base, "secret"), Mode: 0o777},
		{Name: "h", Typeflag: tar.TypeLink, Linkname: "d/key"},
	}, nil)

	require.ErrorIs(t, NewTar().Extract(source, dir), ErrUnsafePath)

	_, err := os.Lstat(filepath.Join(dir, "h"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
