package resolver

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/keshon/elchicle/internal/metrics"
	"github.com/keshon/elchicle/internal/music/sources"
	"github.com/keshon/elchicle/pkg/retrylimit"
)

// limited gates every call through a shared limiter, so no two calls to the
// underlying resolver start closer than the limiter's interval, whichever
// guild issued them.
type limited struct {
	next    Resolver
	limiter *retrylimit.Limiter
}

// Limited wraps r with limiter.
func Limited(r Resolver, limiter *retrylimit.Limiter) Resolver {
	return &limited{next: r, limiter: limiter}
}

func (l *limited) acquire(ctx context.Context, op string) error {
	start := time.Now()
	if err := l.limiter.Acquire(ctx); err != nil {
		metrics.Resolutions.WithLabelValues(op, "cancelled").Inc()
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
		return err
	}
	waited := time.Since(start)
	metrics.ResolutionWait.Observe(waited.Seconds())
	if waited > 100*time.Millisecond {
		log.Debug().Str("component", "resolver").Str("op", op).Dur("waited", waited).Msg("Resolution throttled")
	}
	return nil
}

func observe(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = Classify(err).String()
	}
	metrics.Resolutions.WithLabelValues(op, outcome).Inc()
}

func (l *limited) Resolve(ctx context.Context, url string) (*sources.Track, error) {
	if err := l.acquire(ctx, "resolve"); err != nil {
		return nil, err
	}
	t, err := l.next.Resolve(ctx, url)
	observe("resolve", err)
	return t, err
}

func (l *limited) Search(ctx context.Context, query string) (*sources.Track, error) {
	if err := l.acquire(ctx, "search"); err != nil {
		return nil, err
	}
	t, err := l.next.Search(ctx, query)
	observe("search", err)
	return t, err
}

func (l *limited) ExpandPlaylist(ctx context.Context, url string) (*Playlist, error) {
	if err := l.acquire(ctx, "playlist"); err != nil {
		return nil, err
	}
	p, err := l.next.ExpandPlaylist(ctx, url)
	observe("playlist", err)
	return p, err
}

func (l *limited) StreamURL(ctx context.Context, track *sources.Track) (string, error) {
	if err := l.acquire(ctx, "stream"); err != nil {
		return "", err
	}
	u, err := l.next.StreamURL(ctx, track)
	observe("stream", err)
	return u, err
}

func (l *limited) Related(ctx context.Context, videoID string, limit int) ([]sources.Track, error) {
	if err := l.acquire(ctx, "related"); err != nil {
		return nil, err
	}
	ts, err := l.next.Related(ctx, videoID, limit)
	observe("related", err)
	return ts, err
}
