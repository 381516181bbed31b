package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	maxFilenameLength   = 255
	maxUniqueNameProbes = 1000
	defaultMimeType     = "application/octet-stream"
)

var (
	ErrInvalidFilename = errors.New("invalid filename")
	ErrFilenameTooLong = errors.New("filename too long")
	errNotRegularFile  = errors.New("not a regular file")
)

// FileDescriptor describes one file of a session.
type FileDescriptor struct {
	Name         string
	Size         int64
	MimeType     string
	LastModified time.Time
	// Checksum is the hex whole-file hash, empty when not computed or announced.
	Checksum string
}

// File is a FileDescriptor plus random access to its content.
type File struct {
	FileDescriptor
	Data io.ReaderAt

	closer io.Closer
}

// Close releases the underlying file, if any.
func (f File) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}

// OpenFile opens a regular file for sending. The caller must Close it.
func OpenFile(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return File{}, fmt.Errorf("%s: %w", path, errNotRegularFile)
	}
	fh, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("open %s: %w", path, err)
	}
	return File{
		FileDescriptor: FileDescriptor{
			Name:         info.Name(),
			Size:         info.Size(),
			MimeType:     mimeTypeFor(info.Name()),
			LastModified: info.ModTime(),
		},
		Data:   fh,
		closer: fh,
	}, nil
}

// BytesFile wraps in-memory content as a File.
func BytesFile(name string, data []byte, modified time.Time) File {
	return File{
		FileDescriptor: FileDescriptor{
			Name:         name,
			Size:         int64(len(data)),
			MimeType:     mimeTypeFor(name),
			LastModified: modified,
		},
		Data: bytes.NewReader(data),
	}
}

func mimeTypeFor(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return defaultMimeType
}

func validateFilename(filename string) error {
	if filename == "" {
		return ErrInvalidFilename
	}
	if strings.Contains(filename, "/") || strings.Contains(filename, "\\") {
		return ErrInvalidFilename
	}
	if filename == "." || filename == ".." {
		return ErrInvalidFilename
	}
	if len(filename) > maxFilenameLength {
		return ErrFilenameTooLong
	}
	return nil
}

// SafeName reduces a peer-supplied name to a single path element.
func SafeName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimSpace(filepath.Base(name))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if err := validateFilename(name); err != nil {
		return "", fmt.Errorf("%q: %w", name, err)
	}
	return name, nil
}

// createExclusive creates path for writing and fails if it already exists.
var createExclusive = func(path string) (io.WriteCloser, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
}

// SaveFile writes data into dir under a sanitized, de-duplicated name and
// returns the final path.
func SaveFile(dir string, desc FileDescriptor, data []byte) (string, error) {
	name, err := SafeName(desc.Name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < maxUniqueNameProbes; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		path := filepath.Join(dir, candidate)
		fh, err := createExclusive(path)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create %s: %w", path, err)
		}
		if _, err := fh.Write(data); err != nil {
			fh.Close()
			_ = os.Remove(path)
			return "", fmt.Errorf("write %s: %w", path, err)
		}
		if err := fh.Close(); err != nil {
			_ = os.Remove(path)
			return "", fmt.Errorf("close %s: %w", path, err)
		}
		if !desc.LastModified.IsZero() {
			_ = os.Chtimes(path, desc.LastModified, desc.LastModified)
		}
		return path, nil
	}
	return "", fmt.Errorf("no free name for %q in %s", name, dir)
}
