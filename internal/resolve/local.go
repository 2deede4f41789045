package resolve

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rustalink/server/internal/audio"
)

// LocalResolver serves fixture files from a root directory, used in
// tests and local development in place of a real streaming source.
type LocalResolver struct {
	root string
}

// NewLocalResolver builds a LocalResolver rooted at the current
// working directory; call WithRoot to scope it elsewhere.
func NewLocalResolver() *LocalResolver {
	return &LocalResolver{root: "."}
}

func (l *LocalResolver) WithRoot(root string) *LocalResolver {
	l.root = root
	return l
}

func (l *LocalResolver) Resolve(ctx context.Context, identifier string) (audio.TrackInfo, error) {
	full := filepath.Join(l.root, filepath.Clean("/"+identifier))
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return audio.TrackInfo{}, fmt.Errorf("resolve: %w: %s", ErrNotFound, identifier)
	}

	ext := strings.TrimPrefix(filepath.Ext(full), ".")
	return audio.TrackInfo{
		Identifier: identifier,
		Title:      filepath.Base(full),
		URI:        "file://" + full,
		SourceName: "local",
		Container:  audio.ContainerKindFromSuffix(ext),
	}, nil
}
