package archiver

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/oshokin/relpack/internal/archive"
	"github.com/oshokin/relpack/internal/domain/release"
	"github.com/oshokin/relpack/internal/logger"
)

// scratchPattern names scratch directories.
const scratchPattern = "relpack-*"

// reshape rebuilds the initial archive into the final layout. The scratch
// directory is removed on every exit path; a removal failure is returned
// together with the archive path, which is valid by then.
func (a *Archiver) reshape(ctx context.Context, rel *release.Release) (archivePath string, err error) {
	archiveFile := rel.ArchiveFile()

	if a.scratchRoot != "" {
		if err = os.MkdirAll(a.scratchRoot, 0o755); err != nil {
			return "", fmt.Errorf("failed to create temporary directory %w", err)
		}
	}

	scratch, err := os.MkdirTemp(a.scratchRoot, scratchPattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temporary directory %w", err)
	}

	defer func() {
		rmErr := a.removeAll(scratch)
		if rmErr == nil {
			return
		}

		rmErr = fmt.Errorf("failed to remove %s (%w)", scratch, rmErr)
		if err == nil {
			err = rmErr
			return
		}

		logger.WarnKV(ctx, "Scratch directory was not removed", "error", rmErr)
	}()

	logger.DebugKV(ctx, "Extracting initial archive", "archive", archiveFile, "scratch", scratch)

	if err = a.codec.Extract(archiveFile, scratch); err != nil {
		return "", fmt.Errorf("extract %s: %w", archiveFile, err)
	}

	if err = a.stripper.Run(ctx, rel, scratch); err != nil {
		return "", err
	}

	entries, err := a.finalEntries(ctx, rel, scratch)
	if err != nil {
		return "", err
	}

	err = a.codec.Create(archiveFile, entries, archive.Options{Compress: true, Dereference: true})
	if err != nil {
		return "", fmt.Errorf("write final archive: %w", err)
	}

	return archiveFile, nil
}

// finalEntries composes the final archive. Order matters only for
// duplicates: overlays come last and may shadow earlier entries.
func (a *Archiver) finalEntries(ctx context.Context, rel *release.Release, scratch string) ([]archive.Entry, error) {
	var (
		versionDir = path.Join("releases", rel.Version)
		appDir     = path.Join("lib", rel.AppDirName())
	)

	entries := []archive.Entry{
		{ArchivePath: "releases", Source: filepath.Join(scratch, "releases")},
		{ArchivePath: path.Join("releases", release.StartErlData), Source: filepath.Join(rel.ReleasesDir(), release.StartErlData)},
		{ArchivePath: path.Join("releases", release.ReleasesIndex), Source: filepath.Join(rel.ReleasesDir(), release.ReleasesIndex)},
	}

	for _, name := range []string{
		release.VMArgs,
		release.SysConfig,
		rel.Name + ".sh",
		rel.Name + ".boot",
		rel.Name + ".script",
		rel.Name + ".rel",
		release.StartCleanBoot,
	} {
		entries = append(entries, archive.Entry{
			ArchivePath: path.Join(versionDir, name),
			Source:      filepath.Join(rel.VersionDir(), name),
		})
	}

	entries = append(entries, archive.Entry{ArchivePath: "bin", Source: rel.BinDir()})

	if consolidated := filepath.Join(rel.LibDir(), rel.AppDirName(), release.Consolidated); isDir(consolidated) {
		entries = append(entries, archive.Entry{ArchivePath: path.Join(appDir, release.Consolidated), Source: consolidated})
	}

	if rel.IsUpgrade {
		entries = append(entries, archive.Entry{
			ArchivePath: path.Join(versionDir, release.Relup),
			Source:      filepath.Join(rel.VersionDir(), release.Relup),
		})
	}

	libEntries, err := a.libraryEntries(ctx, rel, scratch)
	if err != nil {
		return nil, err
	}

	entries = append(entries, libEntries...)

	for _, overlay := range rel.Overlays {
		entries = append(entries, archive.Entry{ArchivePath: overlay.ArchivePath, Source: overlay.Source})
	}

	return entries, nil
}

// libraryEntries selects libraries and the runtime according to the profile.
func (a *Archiver) libraryEntries(ctx context.Context, rel *release.Release, scratch string) ([]archive.Entry, error) {
	scratchLib := filepath.Join(scratch, "lib")
	profile := rel.Profile

	inst, err := a.runtimeFor(profile.IncludeErts)
	if err != nil {
		return nil, fmt.Errorf("locate runtime: %w", err)
	}

	switch {
	case inst != nil:
		return []archive.Entry{
			{ArchivePath: "lib", Source: scratchLib},
			{ArchivePath: inst.DirName(), Source: inst.ErtsDir},
		}, nil
	case profile.IncludeSystemLibs:
		return []archive.Entry{{ArchivePath: "lib", Source: scratchLib}}, nil
	}

	active, err := a.locator.Active()
	if err != nil {
		return nil, fmt.Errorf("locate system libraries: %w", err)
	}

	systemLibs, err := active.SystemLibs()
	if err != nil {
		return nil, err
	}

	libs, err := os.ReadDir(scratchLib)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("list libraries: %w", err)
	}

	entries := make([]archive.Entry, 0, len(libs))

	for _, lib := range libs {
		if _, system := systemLibs[lib.Name()]; system {
			logger.DebugKV(ctx, "Skipping system library", "lib", lib.Name())
			continue
		}

		entries = append(entries, archive.Entry{
			ArchivePath: path.Join("lib", lib.Name()),
			Source:      filepath.Join(scratchLib, lib.Name()),
		})
	}

	return entries, nil
}
