package archive

import (
	"archive/tar"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

const (
	// dirMode is used for directories created while writing or extracting.
	dirMode os.FileMode = 0o755
	// archiveMode is the permission of finished archives.
	archiveMode os.FileMode = 0o644
)

// gzipMagic starts every gzip stream.
var gzipMagic = []byte{0x1f, 0x8b}

// Tar creates and extracts tar archives, optionally gzip-compressed.
// The zero value is ready to use.
type Tar struct {
	// Level is the gzip compression level; zero means gzip.DefaultCompression.
	Level int
}

// NewTar returns a codec using the default compression level.
func NewTar() *Tar {
	return &Tar{Level: gzip.DefaultCompression}
}

// member is one file, directory or symlink scheduled for writing.
type member struct {
	// name is the archive path.
	name string
	// source is the path on disk.
	source string
	// info describes source (after dereferencing, if enabled).
	info fs.FileInfo
	// link is the symlink target when links are kept.
	link string
	// origin is the archive path of the entry that produced this member.
	origin string
}

// manifest collects members in insertion order. A later member with an
// already known name replaces the earlier one in place.
type manifest struct {
	opts    Options
	members []member
	index   map[string]int
}

// Create writes entries to target, replacing it atomically once the archive is complete.
func (t *Tar) Create(target string, entries []Entry, opts Options) error {
	m := &manifest{
		opts:  opts,
		index: make(map[string]int, len(entries)),
	}

	for _, entry := range entries {
		if err := m.add(entry); err != nil {
			return err
		}
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*")
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}

	tmpName := tmp.Name()

	if err = t.write(tmp, m, opts.Compress); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return err
	}

	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close archive: %w", err)
	}

	if err = os.Chmod(tmpName, archiveMode); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod archive: %w", err)
	}

	if err = os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace archive: %w", err)
	}

	return nil
}

func (t *Tar) write(w io.Writer, m *manifest, compress bool) error {
	var gz *gzip.Writer

	if compress {
		level := t.Level
		if level == 0 {
			level = gzip.DefaultCompression
		}

		var err error

		gz, err = gzip.NewWriterLevel(w, level)
		if err != nil {
			return fmt.Errorf("gzip writer: %w", err)
		}

		w = gz
	}

	tw := tar.NewWriter(w)

	for _, mb := range m.members {
		if err := writeMember(tw, mb); err != nil {
			return &EntryError{ArchivePath: mb.origin, Source: mb.source, Err: err}
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finish tar stream: %w", err)
	}

	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("finish gzip stream: %w", err)
		}
	}

	return nil
}

func writeMember(tw *tar.Writer, mb member) error {
	header, err := tar.FileInfoHeader(mb.info, mb.link)
	if err != nil {
		return err
	}

	header.Name = mb.name
	if mb.info.IsDir() {
		header.Name += "/"
	}

	// Ownership of the build machine means nothing on the target host.
	header.Uid, header.Gid = 0, 0
	header.Uname, header.Gname = "", ""

	if err = tw.WriteHeader(header); err != nil {
		return err
	}

	if !mb.info.Mode().IsRegular() {
		return nil
	}

	file, err := os.Open(mb.source)
	if err != nil {
		return err
	}

	defer func() {
		_ = file.Close()
	}()

	_, err = io.Copy(tw, file)

	return err
}

func (m *manifest) put(mb member) {
	if i, ok := m.index[mb.name]; ok {
		m.members[i] = mb
		return
	}

	m.index[mb.name] = len(m.members)
	m.members = append(m.members, mb)
}

func (m *manifest) add(entry Entry) error {
	name, err := cleanName(entry.ArchivePath)
	if err != nil {
		return &EntryError{ArchivePath: entry.ArchivePath, Source: entry.Source, Err: err}
	}

	return m.walk(name, entry.Source, entry.ArchivePath, make(map[string]struct{}))
}

// walk adds source under name. ancestors holds the resolved directories on
// the current path, so symlink cycles are visited once.
func (m *manifest) walk(name, source, origin string, ancestors map[string]struct{}) error {
	stat := os.Lstat
	if m.opts.Dereference {
		stat = os.Stat
	}

	info, err := stat(source)
	if err != nil {
		return &EntryError{ArchivePath: origin, Source: source, Err: err}
	}

	mode := info.Mode()

	switch {
	case mode.IsRegular():
		m.put(member{name: name, source: source, info: info, origin: origin})
	case mode&fs.ModeSymlink != 0:
		link, err := os.Readlink(source)
		if err != nil {
			return &EntryError{ArchivePath: origin, Source: source, Err: err}
		}

		m.put(member{name: name, source: source, info: info, link: link, origin: origin})
	case mode.IsDir():
		return m.walkDir(name, source, origin, info, ancestors)
	default:
		return &EntryError{
			ArchivePath: origin,
			Source:      source,
			Err:         fmt.Errorf("%w: %s", ErrUnsupportedEntry, mode.Type()),
		}
	}

	return nil
}

func (m *manifest) walkDir(name, source, origin string, info fs.FileInfo, ancestors map[string]struct{}) error {
	resolved, err := filepath.EvalSymlinks(source)
	if err != nil {
		return &EntryError{ArchivePath: origin, Source: source, Err: err}
	}

	if _, seen := ancestors[resolved]; seen {
		return nil
	}

	ancestors[resolved] = struct{}{}
	defer delete(ancestors, resolved)

	m.put(member{name: name, source: source, info: info, origin: origin})

	children, err := os.ReadDir(source)
	if err != nil {
		return &EntryError{ArchivePath: origin, Source: source, Err: err}
	}

	for _, child := range children {
		err = m.walk(path.Join(name, child.Name()), filepath.Join(source, child.Name()), origin, ancestors)
		if err != nil {
			return err
		}
	}

	return nil
}

// Extract unpacks source into dir, which must exist.
// Gzip compression is detected from the stream itself.
func (t *Tar) Extract(source, dir string) error {
	root, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return fmt.Errorf("resolve extraction directory: %w", err)
	}

	return t.scan(source, func(tr *tar.Reader, header *tar.Header) error {
		return extractMember(root, tr, header)
	})
}

// List returns the member names of the archive at source, without trailing slashes.
func (t *Tar) List(source string) ([]string, error) {
	var names []string

	err := t.scan(source, func(_ *tar.Reader, header *tar.Header) error {
		names = append(names, strings.TrimSuffix(header.Name, "/"))
		return nil
	})
	if err != nil {
		return nil, err
	}

	return names, nil
}

func (t *Tar) scan(source string, visit func(*tar.Reader, *tar.Header) error) error {
	file, err := os.Open(filepath.Clean(source))
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	buffered := bufio.NewReader(file)

	var stream io.Reader = buffered

	if magic, peekErr := buffered.Peek(len(gzipMagic)); peekErr == nil && bytes.Equal(magic, gzipMagic) {
		gz, err := gzip.NewReader(buffered)
		if err != nil {
			return fmt.Errorf("open gzip stream: %w", err)
		}

		defer func() {
			_ = gz.Close()
		}()

		stream = gz
	}

	tr := tar.NewReader(stream)

	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}

		if err = visit(tr, header); err != nil {
			return err
		}
	}
}

func extractMember(root string, tr *tar.Reader, header *tar.Header) error {
	name, err := cleanName(header.Name)
	if err != nil {
		return err
	}

	target := filepath.Join(root, filepath.FromSlash(name))

	switch header.Typeflag {
	case tar.TypeDir:
		if err = os.MkdirAll(target, dirMode); err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}

		return nil
	case tar.TypeReg:
		if err = prepareTarget(root, target); err != nil {
			return err
		}

		return extractFile(tr, header, target)
	case tar.TypeSymlink:
		if err = prepareTarget(root, target); err != nil {
			return err
		}

		if err = os.Symlink(header.Linkname, target); err != nil {
			return fmt.Errorf("symlink %s: %w", name, err)
		}

		return nil
	case tar.TypeLink:
		linkName, err := cleanName(header.Linkname)
		if err != nil {
			return err
		}

		source := filepath.Join(root, filepath.FromSlash(linkName))
		if err = checkInside(root, filepath.Dir(source)); err != nil {
			return err
		}

		if err = prepareTarget(root, target); err != nil {
			return err
		}

		if err = os.Link(source, target); err != nil {
			return fmt.Errorf("link %s: %w", name, err)
		}

		return nil
	default:
		return fmt.Errorf("%w: %s (type %q)", ErrUnsupportedEntry, name, header.Typeflag)
	}
}

// prepareTarget creates the parent of target, refuses to write through
// symlinked directories that lead outside root and removes whatever an
// earlier member left at target, so a symlink there is never followed.
func prepareTarget(root, target string) error {
	parent := filepath.Dir(target)
	if err := os.MkdirAll(parent, dirMode); err != nil {
		return fmt.Errorf("create %s: %w", parent, err)
	}

	if err := checkInside(root, parent); err != nil {
		return err
	}

	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("replace %s: %w", target, err)
	}

	return nil
}

// checkInside fails when dir, with symlinks resolved, is not under root.
func checkInside(root, dir string) error {
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dir, err)
	}

	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s resolves outside %s", ErrUnsafePath, dir, root)
	}

	return nil
}

func extractFile(tr *tar.Reader, header *tar.Header, target string) error {
	file, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, header.FileInfo().Mode().Perm())
	if err != nil {
		return fmt.Errorf("create %s: %w", header.Name, err)
	}

	if _, err = io.Copy(file, tr); err != nil {
		_ = file.Close()
		return fmt.Errorf("write %s: %w", header.Name, err)
	}

	if err = file.Close(); err != nil {
		return fmt.Errorf("close %s: %w", header.Name, err)
	}

	if err = os.Chmod(target, header.FileInfo().Mode().Perm()); err != nil {
		return fmt.Errorf("chmod %s: %w", header.Name, err)
	}

	return os.Chtimes(target, header.ModTime, header.ModTime)
}
