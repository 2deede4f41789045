package remote

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rustalink/server/internal/audio"
)

// File adapts a local file to the Reader interface, backing tracks the
// local resolver serves (fixtures, development assets) with the same
// Read+Seek+length surface the HTTP readers present.
type File struct {
	f           *os.File
	length      int64
	contentType string
}

// NewFile opens path (a bare path or a file:// URI) as a Reader.
func NewFile(path string) (*File, error) {
	path = strings.TrimPrefix(path, "file://")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("remote: open file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("remote: stat file: %w", err)
	}

	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	ct := ""
	if kind := audio.ContainerKindFromSuffix(ext); kind != audio.ContainerUnknown {
		ct = "audio/" + ext
	}
	return &File{f: f, length: info.Size(), contentType: ct}, nil
}

func (r *File) Read(p []byte) (int, error) { return r.f.Read(p) }

func (r *File) Seek(offset int64, whence int) (int64, error) {
	return r.f.Seek(offset, whence)
}

func (r *File) Len() int64          { return r.length }
func (r *File) ContentType() string { return r.contentType }
func (r *File) Close() error        { return r.f.Close() }

var _ Reader = (*File)(nil)
