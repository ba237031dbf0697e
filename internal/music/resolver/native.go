package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	youtube "github.com/kkdai/youtube/v2"
	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"

	"github.com/keshon/elchicle/internal/music/sources"
	"github.com/keshon/elchicle/pkg/util"
)

// Native resolves without the external tool, using the Go YouTube clients.
// It is the last link of the chain and is never consulted for errors the
// tool already classified.
type Native struct {
	client    *youtube.Client
	searchers []searcher // nil uses defaultSearchers
}

// NewNative creates a Native resolver whose HTTP calls time out after timeout.
func NewNative(timeout time.Duration) *Native {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Native{
		client: &youtube.Client{
			HTTPClient: &http.Client{Timeout: timeout},
		},
	}
}

func (n *Native) translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, youtube.ErrLoginRequired) || IsAuthText(err.Error()) {
		return fmt.Errorf("%w: %v", ErrAuthRequired, err)
	}
	return fmt.Errorf("youtube client: %w", err)
}

// Resolve fetches video metadata with kkdai/youtube.
func (n *Native) Resolve(ctx context.Context, url string) (*sources.Track, error) {
	id := sources.VideoID(url)
	if id == "" {
		return nil, fmt.Errorf("%w: not a YouTube video link", ErrUnavailable)
	}
	v, err := n.client.GetVideoContext(ctx, id)
	if err != nil {
		return nil, n.translate(err)
	}
	t := &sources.Track{
		ID:       v.ID,
		Title:    v.Title,
		Artist:   v.Author,
		Duration: v.Duration,
		URL:      sources.WatchURL(v.ID),
		Source:   sources.SourceYouTube,
		StartAt:  sources.StartOffset(url),
		IsLive:   v.Duration == 0,
	}
	if len(v.Thumbnails) > 0 {
		t.Thumbnail = v.Thumbnails[len(v.Thumbnails)-1].URL
	}
	return t, nil
}

// ExpandPlaylist lists a playlist with kkdai/youtube.
func (n *Native) ExpandPlaylist(ctx context.Context, url string) (*Playlist, error) {
	p, err := n.client.GetPlaylistContext(ctx, url)
	if err != nil {
		return nil, n.translate(err)
	}
	out := &Playlist{ID: p.ID, Title: p.Title}
	for _, e := range p.Videos {
		if e == nil || e.ID == "" {
			continue
		}
		out.Items = append(out.Items, sources.Track{
			ID:       e.ID,
			Title:    e.Title,
			Artist:   e.Author,
			Duration: e.Duration,
			URL:      sources.WatchURL(e.ID),
			Source:   sources.SourceYouTube,
		})
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("%w: playlist is empty", ErrNotFound)
	}
	return out, nil
}

// Related lists the YouTube mix for videoID.
func (n *Native) Related(ctx context.Context, videoID string, limit int) ([]sources.Track, error) {
	p, err := n.ExpandPlaylist(ctx, sources.WatchURL(videoID)+"&list=RD"+videoID)
	if err != nil {
		return nil, err
	}
	items := p.Items
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// StreamURL picks the first audio format kkdai reports.
func (n *Native) StreamURL(ctx context.Context, track *sources.Track) (string, error) {
	id := track.ID
	if id == "" {
		id = sources.VideoID(track.URL)
	}
	v, err := n.client.GetVideoContext(ctx, id)
	if err != nil {
		return "", n.translate(err)
	}
	formats := v.Formats.WithAudioChannels()
	if len(formats) == 0 {
		return "", fmt.Errorf("%w: no audio formats", ErrUnavailable)
	}
	link, err := n.client.GetStreamURLContext(ctx, v, &formats[0])
	if err != nil {
		return "", n.translate(err)
	}
	return link, nil
}

// searcher returns the first hit for a query, or nil when there is none.
type searcher struct {
	name   string
	search func(ctx context.Context, query string) (*sources.Track, error)
}

var defaultSearchers = []searcher{
	{name: "youtube", search: searchYouTube},
	{name: "ytmusic", search: searchYouTubeMusic},
}

// Search queries YouTube and YouTube Music concurrently and prefers the
// regular YouTube hit. When nothing was found and a backend failed, the
// failures are returned as ErrBusy so the request is retried.
func (n *Native) Search(ctx context.Context, query string) (*sources.Track, error) {
	backends := n.searchers
	if backends == nil {
		backends = defaultSearchers
	}
	hits := make([]*sources.Track, len(backends))
	errs := make([]error, len(backends))

	idx := make([]int, len(backends))
	for i := range idx {
		idx[i] = i
	}
	_ = util.Parallel(ctx, idx, len(idx), func(ctx context.Context, i int) error {
		hits[i], errs[i] = backends[i].search(ctx, query)
		if errs[i] != nil {
			errs[i] = fmt.Errorf("%s: %w", backends[i].name, errs[i])
		}
		return nil
	})

	for _, t := range hits {
		if t != nil {
			return t, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, context.Cause(ctx)
	}
	if err := errors.Join(errs...); err != nil {
		if IsAuthText(err.Error()) {
			return nil, fmt.Errorf("%w: %v", ErrAuthRequired, err)
		}
		return nil, fmt.Errorf("%w: search failed: %w", ErrBusy, err)
	}
	return nil, ErrNotFound
}

func searchYouTube(ctx context.Context, query string) (*sources.Track, error) {
	c := ytsearch.NewClient(nil)
	res, err := c.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	for _, v := range res.Results {
		if v.VideoID == "" {
			continue
		}
		return &sources.Track{
			ID:     v.VideoID,
			Title:  v.Title,
			URL:    sources.WatchURL(v.VideoID),
			Source: sources.SourceSearch,
		}, nil
	}
	return nil, nil
}

func searchYouTubeMusic(_ context.Context, query string) (*sources.Track, error) {
	res, err := ytmusic.TrackSearch(query).Next()
	if err != nil {
		return nil, err
	}
	for _, v := range res.Tracks {
		if v.VideoID == "" {
			continue
		}
		var artists []string
		for _, a := range v.Artists {
			artists = append(artists, a.Name)
		}
		return &sources.Track{
			ID:     v.VideoID,
			Title:  v.Title,
			Artist: strings.Join(artists, ", "),
			URL:    sources.WatchURL(v.VideoID),
			Source: sources.SourceSearch,
		}, nil
	}
	return nil, nil
}
