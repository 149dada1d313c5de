package beam

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

const (
	// Extension is the filename extension of compiled modules.
	Extension = ".beam"

	formHeader = "FOR1"
	formType   = "BEAM"
	// headerSize covers "FOR1", the length and "BEAM".
	headerSize = 12
	// chunkHeaderSize covers the chunk id and its length.
	chunkHeaderSize = 8
)

var (
	// ErrNotBeam is returned when data is not a BEAM container.
	ErrNotBeam = errors.New("not a BEAM file")
	// ErrTruncated is returned when a chunk extends past the end of the container.
	ErrTruncated = errors.New("truncated BEAM file")

	gzipMagic = []byte{0x1f, 0x8b}
)

// significantChunks are needed to load and run a module.
//
//nolint:gochecknoglobals // Read-only lookup table.
var significantChunks = map[string]struct{}{
	"Atom": {},
	"AtU8": {},
	"Code": {},
	"StrT": {},
	"ImpT": {},
	"ExpT": {},
	"FunT": {},
	"LitT": {},
	"Line": {},
}

// Chunk is one section of a module file.
type Chunk struct {
	// ID is the four character chunk name, e.g. "Code".
	ID string
	// Data is the chunk payload without padding.
	Data []byte
}

// Parse splits an uncompressed module file into its chunks.
func Parse(data []byte) ([]Chunk, error) {
	if len(data) < headerSize || string(data[0:4]) != formHeader || string(data[8:12]) != formType {
		return nil, ErrNotBeam
	}

	end := 8 + int(binary.BigEndian.Uint32(data[4:8]))
	if end > len(data) {
		return nil, fmt.Errorf("%w: form length %d exceeds %d bytes", ErrTruncated, end, len(data))
	}

	var chunks []Chunk

	for pos := headerSize; pos < end; {
		if pos+chunkHeaderSize > end {
			return nil, fmt.Errorf("%w: chunk header at offset %d", ErrTruncated, pos)
		}

		id := string(data[pos : pos+4])
		size := int(binary.BigEndian.Uint32(data[pos+4 : pos+8]))
		start := pos + chunkHeaderSize

		if start+size > end {
			return nil, fmt.Errorf("%w: chunk %q at offset %d", ErrTruncated, id, pos)
		}

		chunks = append(chunks, Chunk{ID: id, Data: data[start : start+size]})

		pos = min(start+align4(size), end)
	}

	return chunks, nil
}

// Encode assembles chunks into a module file.
func Encode(chunks []Chunk) []byte {
	bodySize := len(formType)
	for _, chunk := range chunks {
		bodySize += chunkHeaderSize + align4(len(chunk.Data))
	}

	var buf bytes.Buffer

	buf.Grow(8 + bodySize)
	buf.WriteString(formHeader)
	_ = binary.Write(&buf, binary.BigEndian, uint32(bodySize)) //nolint:gosec // Modules are far below 4 GiB.
	buf.WriteString(formType)

	for _, chunk := range chunks {
		buf.WriteString(chunk.ID)
		_ = binary.Write(&buf, binary.BigEndian, uint32(len(chunk.Data))) //nolint:gosec // See above.
		buf.Write(chunk.Data)
		buf.Write(make([]byte, align4(len(chunk.Data))-len(chunk.Data)))
	}

	return buf.Bytes()
}

// Strip removes every chunk that is not needed to load the module.
// Gzip-compressed modules are decompressed and compressed again.
func Strip(data []byte) ([]byte, error) {
	if bytes.HasPrefix(data, gzipMagic) {
		return stripCompressed(data)
	}

	chunks, err := Parse(data)
	if err != nil {
		return nil, err
	}

	kept := chunks[:0]

	for _, chunk := range chunks {
		if _, ok := significantChunks[chunk.ID]; ok {
			kept = append(kept, chunk)
		}
	}

	return Encode(kept), nil
}

func stripCompressed(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open compressed module: %w", err)
	}

	plain, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decompress module: %w", err)
	}

	stripped, err := Strip(plain)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer

	writer := gzip.NewWriter(&buf)
	if _, err = writer.Write(stripped); err != nil {
		return nil, fmt.Errorf("compress module: %w", err)
	}

	if err = writer.Close(); err != nil {
		return nil, fmt.Errorf("compress module: %w", err)
	}

	return buf.Bytes(), nil
}

// StripFile rewrites the module at path in place, keeping its permissions.
func StripFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return err
	}

	stripped, err := Strip(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	return os.WriteFile(path, stripped, info.Mode().Perm())
}

// StripTree strips the module files of every application under root and
// returns how many were rewritten. Only <root>/lib/*/ebin is scanned: files
// with the module extension elsewhere (priv, src, the runtime) are left as
// they are. Symlinks are not followed: they may point into a shared
// installation.
func StripTree(root string) (int, error) {
	apps, err := os.ReadDir(filepath.Join(root, "lib"))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}

	if err != nil {
		return 0, err
	}

	var count int

	for _, app := range apps {
		if !app.IsDir() {
			continue
		}

		n, stripErr := stripEbin(filepath.Join(root, "lib", app.Name(), "ebin"))
		count += n

		if stripErr != nil {
			return count, stripErr
		}
	}

	return count, nil
}

func stripEbin(dir string) (int, error) {
	info, err := os.Lstat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}

	if err != nil {
		return 0, err
	}

	if !info.IsDir() {
		return 0, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	var count int

	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), Extension) {
			continue
		}

		if err = StripFile(filepath.Join(dir, entry.Name())); err != nil {
			return count, err
		}

		count++
	}

	return count, nil
}

func align4(n int) int {
	return (n + 3) &^ 3
}
