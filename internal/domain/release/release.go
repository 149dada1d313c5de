package release

import (
	"path/filepath"
	"slices"
)

const (
	// ArchiveExtension is appended to the release name to form the archive filename.
	ArchiveExtension = ".tar.gz"

	// StartErlData is the top-level file naming the runtime and release versions to boot.
	StartErlData = "start_erl.data"
	// ReleasesIndex is the top-level file listing installed releases.
	ReleasesIndex = "RELEASES"
	// Relup is the upgrade instructions file of a version.
	Relup = "relup"
	// StartCleanBoot is the boot file that starts only the kernel and stdlib.
	StartCleanBoot = "start_clean.boot"
	// VMArgs holds the emulator flags of a version.
	VMArgs = "vm.args"
	// SysConfig holds the application environment of a version.
	SysConfig = "sys.config"
	// Consolidated is the protocol consolidation directory inside the release application.
	Consolidated = "consolidated"
)

// Profile is the packaging policy of a release.
type Profile struct {
	// IncludeSrc adds application source directories to the archive.
	IncludeSrc bool
	// IncludeErts selects the runtime bundling variant.
	IncludeErts ErtsPolicy
	// IncludeSystemLibs keeps standard runtime libraries when the runtime is omitted.
	IncludeSystemLibs bool
	// StripDebugInfo removes debug chunks from compiled modules.
	StripDebugInfo bool
	// DevMode marks a tree whose libraries are symlinks into the build directory.
	DevMode bool
}

// Overlay is an extra file injected into the final archive.
type Overlay struct {
	// ArchivePath is the path of the file inside the archive.
	ArchivePath string
	// Source is the file or directory on disk.
	Source string
}

// Release identifies one packaging job.
type Release struct {
	// Name is the release name.
	Name string
	// Version is the release version.
	Version string
	// OutputDir is the assembled release tree.
	OutputDir string
	// IsUpgrade marks a release that ships upgrade instructions.
	IsUpgrade bool
	// Overlays are appended to the final archive in order.
	Overlays []Overlay
	// Profile is the packaging policy.
	Profile Profile
}

// Clone returns a deep copy, so hooks cannot mutate the caller's value.
func (r *Release) Clone() *Release {
	if r == nil {
		return nil
	}

	cloned := *r
	cloned.Overlays = slices.Clone(r.Overlays)

	return &cloned
}

// ReleasesDir returns <output>/releases.
func (r *Release) ReleasesDir() string {
	return filepath.Join(r.OutputDir, "releases")
}

// VersionDir returns <output>/releases/<version>.
func (r *Release) VersionDir() string {
	return filepath.Join(r.ReleasesDir(), r.Version)
}

// LibDir returns <output>/lib.
func (r *Release) LibDir() string {
	return filepath.Join(r.OutputDir, "lib")
}

// BinDir returns <output>/bin.
func (r *Release) BinDir() string {
	return filepath.Join(r.OutputDir, "bin")
}

// ArchiveFile returns the location of the release archive.
func (r *Release) ArchiveFile() string {
	return filepath.Join(r.VersionDir(), r.Name+ArchiveExtension)
}

// AppDirName returns "<name>-<version>", the directory of the release application under lib.
func (r *Release) AppDirName() string {
	return r.Name + "-" + r.Version
}

// VersionFile returns "<name><ext>" inside the version directory, e.g. VersionFile(".rel").
func (r *Release) VersionFile(ext string) string {
	return filepath.Join(r.VersionDir(), r.Name+ext)
}
