package archiver

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/relpack/internal/archive"
	"github.com/oshokin/relpack/internal/beam"
	"github.com/oshokin/relpack/internal/domain/release"
	"github.com/oshokin/relpack/internal/erts"
)

const (
	testName        = "shop"
	testVersion     = "1.0.0"
	testErtsVersion = "15.0"
)

// fixture is an assembled release tree plus a fake runtime installation.
type fixture struct {
	outputDir   string
	runtimeRoot string
	scratchRoot string
	module      []byte
}

// moduleWithDebugInfo returns a module file carrying debug and metadata chunks.
func moduleWithDebugInfo() []byte {
	return beam.Encode([]beam.Chunk{
		{ID: "AtU8", Data: []byte{0, 0, 0, 1, 4, 's', 'h', 'o', 'p'}},
		{ID: "Code", Data: []byte{0, 0, 0, 16, 0, 0, 0, 0}},
		{ID: "ExpT", Data: []byte{0, 0, 0, 0}},
		{ID: "Attr", Data: []byte("[{vsn,[42]}]")},
		{ID: "CInf", Data: []byte("[{version,\"8.4\"}]")},
		{ID: "Dbgi", Data: bytes.Repeat([]byte{0xAB}, 128)},
	})
}

func put(t *testing.T, path, contents string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

// newFixture lays out a release tree with one project application, one
// dependency and two system libraries.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		outputDir:   t.TempDir(),
		runtimeRoot: t.TempDir(),
		scratchRoot: t.TempDir(),
		module:      moduleWithDebugInfo(),
	}

	rt := f.runtimeRoot
	put(t, filepath.Join(rt, "releases", "start_erl.data"), testErtsVersion+" 27\n")
	put(t, filepath.Join(rt, "erts-"+testErtsVersion, "bin", "beam.smp"), "emulator")
	put(t, filepath.Join(rt, "lib", "kernel-9.0", "ebin", "kernel.app"), "{application,kernel,[]}.")
	put(t, filepath.Join(rt, "lib", "stdlib-6.0", "ebin", "stdlib.app"), "{application,stdlib,[]}.")

	out := f.outputDir
	app := filepath.Join(out, "lib", testName+"-"+testVersion)
	put(t, filepath.Join(app, "ebin", "shop.app"), "{application,shop,[]}.")
	require.NoError(t, os.WriteFile(filepath.Join(app, "ebin", "shop.beam"), f.module, 0o644))
	put(t, filepath.Join(app, "src", "shop.erl"), "-module(shop).")
	put(t, filepath.Join(app, "consolidated", "Elixir.Enumerable.beam"), "protocol")
	put(t, filepath.Join(out, "lib", "dep-2.0", "ebin", "dep.app"), "{application,dep,[]}.")
	put(t, filepath.Join(out, "lib", "dep-2.0", "priv", "schema.sql"), "create table t();")
	put(t, filepath.Join(out, "lib", "kernel-9.0", "ebin", "kernel.app"), "{application,kernel,[]}.")
	put(t, filepath.Join(out, "lib", "stdlib-6.0", "ebin", "stdlib.app"), "{application,stdlib,[]}.")

	releases := filepath.Join(out, "releases")
	put(t, filepath.Join(releases, release.StartErlData), testErtsVersion+" "+testVersion+"\n")
	put(t, filepath.Join(releases, release.ReleasesIndex), "[{release,\"shop\",\"1.0.0\"}].")

	for name, contents := range map[string]string{
		release.VMArgs:         "-name shop@127.0.0.1",
		release.SysConfig:      "[{shop, [{port, 4000}]}].",
		"shop.sh":              "#!/bin/sh\n",
		"shop.boot":            "boot",
		"shop.script":          "{script, {\"shop\", \"1.0.0\"}, []}.",
		"shop.rel":             "{release, {\"shop\", \"1.0.0\"}, {erts, \"15.0\"}, []}.",
		release.StartCleanBoot: "clean",
		release.Relup:          "{\"1.0.0\", [], []}.",
	} {
		put(t, filepath.Join(releases, testVersion, name), contents)
	}

	put(t, filepath.Join(out, "bin", "shop"), "#!/bin/sh\nexec shop.sh \"$@\"\n")

	return f
}

// release returns the release described by the fixture with the given profile.
func (f *fixture) release(profile release.Profile) *release.Release {
	return &release.Release{
		Name:      testName,
		Version:   testVersion,
		OutputDir: f.outputDir,
		Profile:   profile,
	}
}

// archiver returns an Archiver bound to the fixture runtime and scratch root.
func (f *fixture) archiver(opts ...Option) *Archiver {
	base := []Option{
		WithRuntimeLocator(erts.NewLocator(f.runtimeRoot)),
		WithScratchRoot(f.scratchRoot),
	}

	return New(append(base, opts...)...)
}

// members lists archive member names.
func members(t *testing.T, archivePath string) []string {
	t.Helper()

	names, err := archive.NewTar().List(archivePath)
	require.NoError(t, err)

	return names
}

// extract unpacks an archive into a fresh directory.
func extract(t *testing.T, archivePath string) string {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, archive.NewTar().Extract(archivePath, dir))

	return dir
}

func count(names []string, name string) int {
	var n int

	for _, candidate := range names {
		if candidate == name {
			n++
		}
	}

	return n
}

func hasPrefix(names []string, prefix string) bool {
	for _, name := range names {
		if name == prefix || strings.HasPrefix(name, prefix+"/") {
			return true
		}
	}

	return false
}
