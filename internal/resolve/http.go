package resolve

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/rustalink/server/internal/audio"
)

// HTTPResolver resolves a bare URL into a TrackInfo by HEAD-probing it
// (a status of 400 or above counts as not found) and inferring a
// ContainerKind from the URL suffix; the response's content-type is not
// consulted. The HEAD request has the same shape as the probe
// RemoteReader's Plain reader performs before opening a body.
type HTTPResolver struct {
	client *http.Client
}

func NewHTTPResolver() *HTTPResolver {
	return &HTTPResolver{client: http.DefaultClient}
}

func (h *HTTPResolver) Resolve(ctx context.Context, identifier string) (audio.TrackInfo, error) {
	if !strings.HasPrefix(identifier, "http://") && !strings.HasPrefix(identifier, "https://") {
		return audio.TrackInfo{}, fmt.Errorf("resolve: %w: not a URL", ErrNotFound)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, identifier, nil)
	if err != nil {
		return audio.TrackInfo{}, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return audio.TrackInfo{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return audio.TrackInfo{}, fmt.Errorf("resolve: %w: status %d", ErrNotFound, resp.StatusCode)
	}

	ext := path.Ext(identifier)
	container := audio.ContainerKindFromSuffix(strings.TrimPrefix(ext, "."))

	return audio.TrackInfo{
		Identifier: identifier,
		Title:      path.Base(identifier),
		URI:        identifier,
		SourceName: "http",
		Container:  container,
	}, nil
}
