package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/relpack/internal/domain/release"
)

const sampleJob = `
name: shop
version: 1.2.0
output_dir: _build/prod/rel/shop
upgrade: true
profile:
  include_src: true
  include_erts: runtimes/otp-27
  strip_debug_info: true
overlays:
  - archive_path: etc/extra.conf
    source: rel/extra.conf
hooks:
  pre_package:
    - ./scripts/pre.sh
`

// TestValidate checks required fields and archive path rules.
func TestValidate(t *testing.T) {
	t.Parallel()

	require.Error(t, Validate(nil))
	require.Error(t, Validate(new(Config)))

	cfg := &Config{Name: "shop", Version: "1.0.0", OutputDir: "out"}
	require.NoError(t, Validate(cfg))

	cfg.Name = "shop/evil"
	require.ErrorContains(t, Validate(cfg), "Config.Name")

	for _, bad := range []string{"/etc/passwd", "../outside", "a/../../b", "."} {
		cfg := &Config{
			Name:      "shop",
			Version:   "1.0.0",
			OutputDir: "out",
			Overlays:  []Overlay{{ArchivePath: bad, Source: "x"}},
		}
		require.ErrorContains(t, Validate(cfg), "archivepath", bad)
	}

	cfg = &Config{
		Name:      "shop",
		Version:   "1.0.0",
		OutputDir: "out",
		Overlays:  []Overlay{{ArchivePath: "etc/ok.conf", Source: "x"}},
	}
	require.NoError(t, Validate(cfg))
}

// TestLoad_ResolvesPaths decodes the job file and anchors relative paths at its directory.
func TestLoad_ResolvesPaths(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, DefaultConfigFilename)
	require.NoError(t, os.WriteFile(path, []byte(sampleJob), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, dir, cfg.BaseDir())
	require.Equal(t, filepath.Join(dir, "_build", "prod", "rel", "shop"), cfg.OutputDir)
	require.Equal(t, []string{"./scripts/pre.sh"}, cfg.Hooks.PrePackage)

	rel := cfg.Release()
	require.Equal(t, "shop", rel.Name)
	require.True(t, rel.IsUpgrade)
	require.True(t, rel.Profile.IncludeSrc)
	require.True(t, rel.Profile.StripDebugInfo)
	require.Equal(t, release.BundleErtsFrom(filepath.Join(dir, "runtimes", "otp-27")), rel.Profile.IncludeErts)
	require.Equal(t, []release.Overlay{{
		ArchivePath: "etc/extra.conf",
		Source:      filepath.Join(dir, "rel", "extra.conf"),
	}}, rel.Overlays)
}

// TestLoad_RejectsUnknownFields keeps typos from silently changing the archive.
func TestLoad_RejectsUnknownFields(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: a\nversion: b\noutput_dir: c\nincude_erts: true\n"), 0o644))

	_, err := Load(path)
	require.ErrorContains(t, err, "incude_erts")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestSaveLoadRoundtrip ensures a saved starter file loads back.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, DefaultConfigFilename)

	require.NoError(t, Save(path, Example("shop")))
	require.Error(t, Save(path, nil))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "shop", loaded.Name)
	require.Equal(t, release.BundleDefaultErts(), loaded.Profile.IncludeErts)
	require.Equal(t, filepath.Join(dir, "_build", "prod", "rel", "shop"), loaded.OutputDir)
}
