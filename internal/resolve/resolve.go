// Package resolve turns a loadtracks identifier or search query into
// concrete TrackInfo values. Its provider-dispatch registry mirrors
// the provider-switch idiom an integration client elsewhere in this
// codebase uses to route a request by provider name, generalized from
// "route a chat request to a named LLM provider" to "route a
// loadtracks identifier to a named source resolver".
package resolve

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/rustalink/server/internal/audio"
)

// ErrUnimplementedSource is returned by every registered source tag
// that has no concrete resolver behind it.
var ErrUnimplementedSource = errors.New("resolve: source not implemented")

// ErrNotFound is returned when a resolver ran but found nothing, the
// loadtracks "empty" result (not an error event).
var ErrNotFound = errors.New("resolve: no matching track")

// SourceResolver turns one identifier into a TrackInfo.
type SourceResolver interface {
	Resolve(ctx context.Context, identifier string) (audio.TrackInfo, error)
}

// SearchResolver additionally supports typed search.
type SearchResolver interface {
	SourceResolver
	Search(ctx context.Context, query string) ([]audio.TrackInfo, error)
}

// Registry dispatches by source tag, the same way a provider name
// routes a chat request.
type Registry struct {
	resolvers map[string]SourceResolver
}

// NewRegistry builds a Registry with every known source tag bound,
// concrete resolvers for "http" and "local" and a stub for the rest.
func NewRegistry() *Registry {
	r := &Registry{resolvers: make(map[string]SourceResolver)}
	r.Register("http", NewHTTPResolver())
	r.Register("local", NewLocalResolver())
	for _, tag := range []string{"youtube", "spotify", "deezer", "soundcloud", "bandcamp", "vimeo", "twitch", "nico"} {
		r.Register(tag, stubResolver{source: tag})
	}
	return r
}

// Register binds resolver to tag, overwriting any existing binding.
func (r *Registry) Register(tag string, resolver SourceResolver) {
	r.resolvers[strings.ToLower(tag)] = resolver
}

// Resolve dispatches identifier to the resolver named by sourceTag.
func (r *Registry) Resolve(ctx context.Context, sourceTag, identifier string) (audio.TrackInfo, error) {
	resolver, ok := r.resolvers[strings.ToLower(sourceTag)]
	if !ok {
		return audio.TrackInfo{}, ErrUnimplementedSource
	}
	return resolver.Resolve(ctx, identifier)
}

// Search dispatches query to every resolver implementing SearchResolver
// among the requested source tags, one goroutine per tag, and
// concatenates results back in tag order. A single source erroring
// (timeout, upstream 5xx) doesn't fail the others.
func (r *Registry) Search(ctx context.Context, sourceTags []string, query string) ([]audio.TrackInfo, error) {
	searchables := make([]SearchResolver, len(sourceTags))
	for i, tag := range sourceTags {
		resolver, ok := r.resolvers[strings.ToLower(tag)]
		if !ok {
			continue
		}
		if searchable, ok := resolver.(SearchResolver); ok {
			searchables[i] = searchable
		}
	}

	results := make([][]audio.TrackInfo, len(sourceTags))
	g, gCtx := errgroup.WithContext(ctx)
	for i, searchable := range searchables {
		if searchable == nil {
			continue
		}
		i, searchable := i, searchable
		g.Go(func() error {
			tracks, err := searchable.Search(gCtx, query)
			if err != nil {
				return nil
			}
			results[i] = tracks
			return nil
		})
	}
	_ = g.Wait()

	var out []audio.TrackInfo
	for _, tracks := range results {
		out = append(out, tracks...)
	}
	return out, nil
}

type stubResolver struct {
	source string
}

func (s stubResolver) Resolve(ctx context.Context, identifier string) (audio.TrackInfo, error) {
	return audio.TrackInfo{}, ErrUnimplementedSource
}
