package archiver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/oshokin/relpack/internal/archive"
	"github.com/oshokin/relpack/internal/domain/release"
	"github.com/oshokin/relpack/internal/logger"
)

const (
	// modulesDir holds the compiled modules of an application.
	modulesDir = "ebin"
	// privDir holds application data files; it travels with the modules.
	privDir = "priv"
	// appFileExtension is the extension of application resource files.
	appFileExtension = ".app"
)

// sourceDirs are added per application when the profile includes sources.
//
//nolint:gochecknoglobals // Read-only list.
var sourceDirs = []string{"src", "include", "c_src"}

// buildInitial writes the first-pass archive of rel to its archive path.
func (a *Archiver) buildInitial(ctx context.Context, rel *release.Release) error {
	entries, err := a.initialEntries(ctx, rel)
	if err != nil {
		return err
	}

	err = a.codec.Create(rel.ArchiveFile(), entries, archive.Options{Compress: true})
	if err != nil {
		return &TarGenerationError{Module: moduleOf(rel, err), Err: err}
	}

	return nil
}

// initialEntries scans the release tree. Problems that do not stop the
// scan are collected and reported together as a warning error.
func (a *Archiver) initialEntries(ctx context.Context, rel *release.Release) ([]archive.Entry, error) {
	ebins, err := filepath.Glob(filepath.Join(rel.LibDir(), "*", modulesDir))
	if err != nil {
		return nil, &TarGenerationError{Module: UnknownModule, Err: err}
	}

	sort.Strings(ebins)

	var (
		entries  = make([]archive.Entry, 0, len(ebins)+4)
		warnings []string
		warnMod  string
	)

	for _, ebin := range ebins {
		appDir := filepath.Dir(ebin)
		app := filepath.Base(appDir)
		prefix := path.Join("lib", app)

		if !isDir(ebin) {
			continue
		}

		entries = append(entries, archive.Entry{ArchivePath: path.Join(prefix, modulesDir), Source: ebin})

		appFile := appName(app) + appFileExtension
		if !isFile(filepath.Join(ebin, appFile)) {
			if warnMod == "" {
				warnMod = app
			}

			warnings = append(warnings, fmt.Sprintf("%s: missing application resource file %s", app, appFile))
		}

		dirs := []string{privDir}
		if rel.Profile.IncludeSrc {
			dirs = append(dirs, sourceDirs...)
		}

		for _, dir := range dirs {
			if source := filepath.Join(appDir, dir); isDir(source) {
				entries = append(entries, archive.Entry{ArchivePath: path.Join(prefix, dir), Source: source})
			}
		}
	}

	if len(warnings) > 0 {
		return nil, &TarGenerationWarnError{Module: warnMod, Warnings: warnings}
	}

	relEntries, err := releaseEntries(rel)
	if err != nil {
		return nil, err
	}

	entries = append(entries, relEntries...)

	inst, err := a.runtimeFor(rel.Profile.IncludeErts)
	if err != nil {
		return nil, &TarGenerationError{Module: "erts", Err: err}
	}

	if inst != nil {
		logger.InfoKV(ctx, "Bundling runtime", "erts", inst.DirName(), "from", inst.ErtsDir)
		entries = append(entries, archive.Entry{ArchivePath: inst.DirName(), Source: inst.ErtsDir})
	}

	logger.DebugKV(ctx, "Initial archive entries", "applications", len(ebins), "entries", len(entries))

	return entries, nil
}

// releaseEntries adds the release resource file and the boot files that exist.
func releaseEntries(rel *release.Release) ([]archive.Entry, error) {
	relFile := rel.VersionFile(".rel")
	if !isFile(relFile) {
		return nil, &TarGenerationError{
			Module: rel.Name,
			Err:    fmt.Errorf("release resource file %s: %w", relFile, os.ErrNotExist),
		}
	}

	versionDir := path.Join("releases", rel.Version)
	entries := []archive.Entry{
		{ArchivePath: path.Join("releases", rel.Name+".rel"), Source: relFile},
		{ArchivePath: path.Join(versionDir, rel.Name+".rel"), Source: relFile},
	}

	for _, name := range []string{rel.Name + ".boot", rel.Name + ".script", release.StartCleanBoot} {
		if source := filepath.Join(rel.VersionDir(), name); isFile(source) {
			entries = append(entries, archive.Entry{ArchivePath: path.Join(versionDir, name), Source: source})
		}
	}

	return entries, nil
}

// moduleOf names the application a codec error belongs to.
func moduleOf(rel *release.Release, err error) string {
	var entryErr *archive.EntryError
	if !errors.As(err, &entryErr) {
		return UnknownModule
	}

	parts := strings.Split(entryErr.ArchivePath, "/")

	switch {
	case len(parts) >= 2 && parts[0] == "lib":
		return parts[1]
	case strings.HasPrefix(parts[0], "erts-"):
		return "erts"
	case parts[0] == "releases":
		return rel.Name
	default:
		return UnknownModule
	}
}

// appName strips the version from an application directory name.
func appName(dir string) string {
	if i := strings.LastIndex(dir, "-"); i > 0 {
		return dir[:i]
	}

	return dir
}

func isDir(name string) bool {
	info, err := os.Stat(name)
	return err == nil && info.IsDir()
}

func isFile(name string) bool {
	info, err := os.Stat(name)
	return err == nil && info.Mode().IsRegular()
}
