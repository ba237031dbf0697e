package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/keshon/elchicle/internal/music/sources"
	"github.com/keshon/elchicle/pkg/retrylimit"
)

// Named pairs a resolver with a label for logs.
type Named struct {
	Name     string
	Resolver Resolver
}

// Chain tries resolvers in order. Busy, auth and cancellation errors are
// returned as-is; only unclassified failures and empty results move on to
// the next resolver.
type Chain struct {
	links []Named
}

// NewChain builds a chain. At least one link is required.
func NewChain(links ...Named) *Chain {
	return &Chain{links: links}
}

func (c *Chain) fallsThrough(err error) bool {
	switch Classify(err) {
	case retrylimit.Busy, retrylimit.AuthRequired, retrylimit.Cancelled:
		return false
	}
	return true
}

func chainCall[T any](ctx context.Context, c *Chain, op string, call func(Resolver) (T, error)) (T, error) {
	var (
		zero T
		errs []error
	)
	for i, link := range c.links {
		v, err := call(link.Resolver)
		if err == nil {
			return v, nil
		}
		if !c.fallsThrough(err) || ctx.Err() != nil {
			return zero, err
		}
		errs = append(errs, fmt.Errorf("%s: %w", link.Name, err))
		if i < len(c.links)-1 {
			log.Warn().Str("component", "resolver").Str("op", op).Str("backend", link.Name).Err(err).Msg("Backend failed, trying next")
		}
	}
	if len(errs) == 1 {
		return zero, errors.Unwrap(errs[0])
	}
	return zero, errors.Join(errs...)
}

func (c *Chain) Resolve(ctx context.Context, url string) (*sources.Track, error) {
	return chainCall(ctx, c, "resolve", func(r Resolver) (*sources.Track, error) { return r.Resolve(ctx, url) })
}

func (c *Chain) Search(ctx context.Context, query string) (*sources.Track, error) {
	return chainCall(ctx, c, "search", func(r Resolver) (*sources.Track, error) { return r.Search(ctx, query) })
}

func (c *Chain) ExpandPlaylist(ctx context.Context, url string) (*Playlist, error) {
	return chainCall(ctx, c, "playlist", func(r Resolver) (*Playlist, error) { return r.ExpandPlaylist(ctx, url) })
}

func (c *Chain) StreamURL(ctx context.Context, track *sources.Track) (string, error) {
	return chainCall(ctx, c, "stream", func(r Resolver) (string, error) { return r.StreamURL(ctx, track) })
}

func (c *Chain) Related(ctx context.Context, videoID string, limit int) ([]sources.Track, error) {
	return chainCall(ctx, c, "related", func(r Resolver) ([]sources.Track, error) { return r.Related(ctx, videoID, limit) })
}

// New builds the production chain: yt-dlp (binary, then python module)
// followed by the native YouTube clients, spaced by limiter.
func New(opts Options, limiter *retrylimit.Limiter) Resolver {
	chain := NewChain(
		Named{Name: "yt-dlp", Resolver: NewYTDLP(opts)},
		Named{Name: "native", Resolver: NewNative(opts.RequestTimeout)},
	)
	if limiter == nil {
		return chain
	}
	return Limited(chain, limiter)
}
