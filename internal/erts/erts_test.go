package erts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeInstallation lays out a minimal runtime root and returns it.
func fakeInstallation(t *testing.T, version string, withStartErl bool) string {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "erts-"+version, "bin"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "lib", "kernel-9.0"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "lib", "stdlib-6.0"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "lib", "README"), []byte("not a lib"), 0o644))

	if withStartErl {
		require.NoError(t, os.MkdirAll(filepath.Join(root, "releases"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, "releases", "start_erl.data"),
			[]byte(version+" 27\n"), 0o644))
	}

	return root
}

// TestFromRoot detects the version from start_erl.data or the single runtime directory.
func TestFromRoot(t *testing.T) {
	t.Parallel()

	for _, withStartErl := range []bool{true, false} {
		root := fakeInstallation(t, "15.0", withStartErl)

		inst, err := FromRoot(root)
		require.NoError(t, err)
		require.Equal(t, "15.0", inst.Version)
		require.Equal(t, "erts-15.0", inst.DirName())
		require.Equal(t, filepath.Join(root, "erts-15.0"), inst.ErtsDir)
		require.Equal(t, filepath.Join(root, "lib"), inst.LibDir)
	}
}

// TestFromRoot_Ambiguous refuses to guess between several runtime directories.
func TestFromRoot_Ambiguous(t *testing.T) {
	t.Parallel()

	root := fakeInstallation(t, "15.0", false)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "erts-14.2"), 0o755))

	_, err := FromRoot(root)
	require.ErrorIs(t, err, ErrAmbiguous)

	_, err = FromRoot(t.TempDir())
	require.ErrorIs(t, err, ErrNotFound)
}

// TestFromPath accepts both a runtime directory and an installation root.
func TestFromPath(t *testing.T) {
	t.Parallel()

	root := fakeInstallation(t, "15.0", true)

	inst, err := FromPath(filepath.Join(root, "erts-15.0"))
	require.NoError(t, err)
	require.Equal(t, "15.0", inst.Version)
	require.Equal(t, root, inst.Root)

	inst, err = FromPath(root)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "erts-15.0"), inst.ErtsDir)

	_, err = FromPath(filepath.Join(root, "missing"))
	require.ErrorIs(t, err, ErrNotFound)
}

// TestLocator_ExplicitRoot caches the installation found at a configured root.
func TestLocator_ExplicitRoot(t *testing.T) {
	t.Parallel()

	root := fakeInstallation(t, "15.0", true)
	locator := NewLocator(root)

	first, err := locator.Active()
	require.NoError(t, err)

	second, err := locator.Active()
	require.NoError(t, err)
	require.Same(t, first, second)

	libs, err := first.SystemLibs()
	require.NoError(t, err)
	require.Equal(t, map[string]struct{}{"kernel-9.0": {}, "stdlib-6.0": {}}, libs)
}
