package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/go-ps"
)

// DefaultFilename is the marker created inside the release output directory.
const DefaultFilename = ".relpack.lock"

const (
	// filePermissions is the permission of marker files.
	filePermissions = 0o600
	// unreadableGrace is how long a marker without a PID is assumed to be in use.
	unreadableGrace = time.Minute
)

var (
	// ErrLocked is returned when a live process holds the marker.
	ErrLocked = errors.New("release output is locked by another process")
	// ErrNotHeld is returned when releasing a lock that was not acquired.
	ErrNotHeld = errors.New("lock is not held")
)

// ProcessFinder reports whether a process with pid is running.
type ProcessFinder func(pid int) (bool, error)

// FileLock is a PID marker file.
type FileLock struct {
	// path is the marker location.
	path string
	// alive checks the owner of an existing marker.
	alive ProcessFinder
	// grace protects markers whose PID cannot be read yet.
	grace time.Duration
	// mu protects held.
	mu   sync.Mutex
	held bool
}

// NewFileLock returns a lock backed by the marker at path.
func NewFileLock(path string) *FileLock {
	return &FileLock{
		path:  filepath.Clean(path),
		alive: processAlive,
		grace: unreadableGrace,
	}
}

// ForDir returns a lock for the release output directory dir.
func ForDir(dir string) *FileLock {
	return NewFileLock(filepath.Join(dir, DefaultFilename))
}

// Path returns the marker location.
func (l *FileLock) Path() string {
	return l.path
}

// Acquire creates the marker. A marker left by a dead process, or one whose
// PID stays unreadable past the grace period, is replaced once.
func (l *FileLock) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for attempt := 0; ; attempt++ {
		err := l.create()
		if err == nil {
			l.held = true
			return nil
		}

		if !errors.Is(err, fs.ErrExist) || attempt > 0 {
			return err
		}

		if err = l.checkStale(); err != nil {
			return err
		}

		if err = os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove stale lock: %w", err)
		}
	}
}

// Release removes the marker.
func (l *FileLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return ErrNotHeld
	}

	l.held = false

	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove lock: %w", err)
	}

	return nil
}

func (l *FileLock) create() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePermissions)
	if err != nil {
		return err
	}

	if _, err = file.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		_ = file.Close()
		return fmt.Errorf("write lock: %w", err)
	}

	return file.Close()
}

// checkStale returns nil only when the existing marker may be reclaimed.
// A marker without a readable PID may belong to a process that has created
// it but not written it yet, so it counts as held until it is older than
// unreadableGrace.
func (l *FileLock) checkStale() error {
	owner, err := l.owner()
	if err == nil {
		running, findErr := l.alive(owner)
		if findErr != nil {
			return fmt.Errorf("check lock owner %d: %w", owner, findErr)
		}

		if running {
			return fmt.Errorf("%w (pid %d, %s)", ErrLocked, owner, l.path)
		}

		return nil
	}

	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	info, statErr := os.Stat(l.path)
	if statErr != nil {
		if errors.Is(statErr, fs.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("stat lock: %w", statErr)
	}

	if time.Since(info.ModTime()) < l.grace {
		return fmt.Errorf("%w (owner not recorded yet, %s)", ErrLocked, l.path)
	}

	return nil
}

func (l *FileLock) owner() (int, error) {
	contents, err := os.ReadFile(l.path)
	if err != nil {
		return 0, err
	}

	return strconv.Atoi(strings.TrimSpace(string(contents)))
}

func processAlive(pid int) (bool, error) {
	process, err := ps.FindProcess(pid)
	if err != nil {
		return false, err
	}

	return process != nil, nil
}
