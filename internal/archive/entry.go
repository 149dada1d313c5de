package archive

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// Entry maps an archive path to a file or directory on disk.
// Directories are added recursively.
type Entry struct {
	// ArchivePath is the slash-separated path inside the archive.
	ArchivePath string
	// Source is the file or directory on disk.
	Source string
}

// Options tune archive creation.
type Options struct {
	// Compress wraps the tar stream in gzip.
	Compress bool
	// Dereference stores the content symlinks point to instead of the links.
	Dereference bool
}

// EntryError reports a failure tied to one entry.
type EntryError struct {
	// ArchivePath is the archive path of the entry that failed.
	ArchivePath string
	// Source is the file on disk that could not be processed.
	Source string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *EntryError) Error() string {
	return fmt.Sprintf("%s (from %s): %v", e.ArchivePath, e.Source, e.Err)
}

// Unwrap returns the underlying cause.
func (e *EntryError) Unwrap() error {
	return e.Err
}

var (
	// ErrUnsafePath is returned for archive paths that are absolute or leave the archive root.
	ErrUnsafePath = errors.New("unsafe archive path")
	// ErrUnsupportedEntry is returned for file types the codec does not store.
	ErrUnsupportedEntry = errors.New("unsupported file type")
)

// cleanName normalizes an archive path and rejects paths escaping the root.
func cleanName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}

	cleaned := path.Clean(name)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}

	return cleaned, nil
}
