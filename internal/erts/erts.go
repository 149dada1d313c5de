package erts

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

const (
	// RootEnv overrides runtime discovery with an explicit installation root.
	RootEnv = "RELPACK_ERTS_ROOT"

	// dirPrefix starts every runtime directory name.
	dirPrefix = "erts-"
	// erlExecutable is searched on PATH when no root is configured.
	erlExecutable = "erl"
)

var (
	// ErrNotFound is returned when no runtime installation can be located.
	ErrNotFound = errors.New("runtime installation not found")
	// ErrAmbiguous is returned when a root holds several runtime directories and no version file.
	ErrAmbiguous = errors.New("several runtime directories found")
)

// Installation describes one runtime installation.
type Installation struct {
	// Root is the installation root.
	Root string
	// Version is the runtime version, e.g. "14.2.5".
	Version string
	// ErtsDir is <root>/erts-<version>.
	ErtsDir string
	// LibDir holds the system libraries, <root>/lib.
	LibDir string
}

// DirName returns "erts-<version>".
func (i *Installation) DirName() string {
	return dirPrefix + i.Version
}

// Locator finds the active runtime installation and caches the result.
type Locator struct {
	root string

	once   sync.Once
	result *Installation
	err    error
}

// NewLocator returns a Locator. A non-empty root skips discovery.
func NewLocator(root string) *Locator {
	return &Locator{root: root}
}

// Active returns the active runtime installation.
func (l *Locator) Active() (*Installation, error) {
	l.once.Do(func() {
		l.result, l.err = l.detect()
	})

	return l.result, l.err
}

func (l *Locator) detect() (*Installation, error) {
	root := l.root
	if root == "" {
		root = os.Getenv(RootEnv)
	}

	if root == "" {
		erl, err := exec.LookPath(erlExecutable)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}

		resolved, err := filepath.EvalSymlinks(erl)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", erl, err)
		}

		// <root>/bin/erl or <root>/erts-<vsn>/bin/erl.
		root = filepath.Dir(filepath.Dir(resolved))
		if strings.HasPrefix(filepath.Base(root), dirPrefix) {
			root = filepath.Dir(root)
		}
	}

	return FromRoot(root)
}

// FromRoot inspects the installation rooted at root.
func FromRoot(root string) (*Installation, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	version, err := readStartErlData(root)
	if err != nil {
		version, err = singleErtsVersion(root)
		if err != nil {
			return nil, err
		}
	}

	inst := &Installation{
		Root:    root,
		Version: version,
		ErtsDir: filepath.Join(root, dirPrefix+version),
		LibDir:  filepath.Join(root, "lib"),
	}

	if _, err = os.Stat(inst.ErtsDir); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	return inst, nil
}

// FromPath resolves an explicitly configured runtime: either an
// erts-<version> directory or an installation root containing one.
func FromPath(path string) (*Installation, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrNotFound, abs)
	}

	base := filepath.Base(abs)
	if version, ok := strings.CutPrefix(base, dirPrefix); ok && version != "" {
		root := filepath.Dir(abs)

		return &Installation{
			Root:    root,
			Version: version,
			ErtsDir: abs,
			LibDir:  filepath.Join(root, "lib"),
		}, nil
	}

	return FromRoot(abs)
}

// readStartErlData reads "<erts_vsn> <rel_vsn>" from <root>/releases/start_erl.data.
func readStartErlData(root string) (string, error) {
	contents, err := os.ReadFile(filepath.Join(root, "releases", "start_erl.data"))
	if err != nil {
		return "", err
	}

	fields := strings.Fields(string(contents))
	if len(fields) == 0 {
		return "", fmt.Errorf("%w: empty start_erl.data in %s", ErrNotFound, root)
	}

	return fields[0], nil
}

func singleErtsVersion(root string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(root, dirPrefix+"*"))
	if err != nil {
		return "", err
	}

	var versions []string

	for _, match := range matches {
		if info, statErr := os.Stat(match); statErr == nil && info.IsDir() {
			versions = append(versions, strings.TrimPrefix(filepath.Base(match), dirPrefix))
		}
	}

	switch len(versions) {
	case 0:
		return "", fmt.Errorf("%w: no %s* directory in %s", ErrNotFound, dirPrefix, root)
	case 1:
		return versions[0], nil
	default:
		return "", fmt.Errorf("%w in %s: %s", ErrAmbiguous, root, strings.Join(versions, ", "))
	}
}

// SystemLibs returns the names of the directories under the installation's library root.
func (i *Installation) SystemLibs() (map[string]struct{}, error) {
	entries, err := os.ReadDir(i.LibDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]struct{}{}, nil
		}

		return nil, fmt.Errorf("list system libraries: %w", err)
	}

	libs := make(map[string]struct{}, len(entries))

	for _, entry := range entries {
		if isDir(filepath.Join(i.LibDir, entry.Name())) {
			libs[entry.Name()] = struct{}{}
		}
	}

	return libs, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
