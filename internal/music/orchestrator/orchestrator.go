// Package orchestrator turns play and playlist requests into queue items.
//
// A request moves through
//
//	RECEIVED -> RESOLVING -> (EXPANDING_PLAYLIST | READY) -> ENQUEUING -> DONE | FAILED | CANCELLED
//
// Every resolution goes through the rate-limited resolver, busy failures are
// retried with linear backoff and an interrupt for the guild cancels the
// request at its next suspension point with a single notice.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/keshon/elchicle/internal/metrics"
	"github.com/keshon/elchicle/internal/music/events"
	"github.com/keshon/elchicle/internal/music/interrupt"
	"github.com/keshon/elchicle/internal/music/player"
	"github.com/keshon/elchicle/internal/music/resolver"
	"github.com/keshon/elchicle/internal/music/session"
	"github.com/keshon/elchicle/internal/music/sources"
	"github.com/keshon/elchicle/pkg/retrylimit"
)

var (
	ErrEmptyQuery    = errors.New("empty query")
	ErrEmptyPlaylist = errors.New("playlist has no items")
)

// State is the position of a request in its lifecycle.
type State string

const (
	StateReceived  State = "received"
	StateResolving State = "resolving"
	StateExpanding State = "expanding_playlist"
	StateReady     State = "ready"
	StateEnqueuing State = "enqueuing"
	StateDone      State = "done"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Request is one play or playlist command.
type Request struct {
	ID             string
	GuildID        string
	VoiceChannelID string
	TextChannelID  string
	Requester      string
	RequesterID    string
	Query          string
	Playlist       bool // issued as a playlist command
}

// IsDirectURL reports whether the query is a link rather than search text.
func (r Request) IsDirectURL() bool {
	return sources.IsURL(strings.TrimSpace(r.Query))
}

// Failure is a playlist item that could not be queued.
type Failure struct {
	Index int // 1-based position in the playlist
	ID    string
	Err   error
}

// Result summarizes a handled request.
type Result struct {
	RequestID string
	State     State
	Track     *sources.Track // single item requests
	Position  int
	Added     int
	Skipped   int
	Failed    []Failure
	Err       error
}

// Notifier posts plain text to a chat channel.
type Notifier interface {
	Notify(ctx context.Context, channelID, text string) error
}

// Transport is the queue the orchestrator feeds.
type Transport interface {
	Enqueue(ctx context.Context, target player.Target, track sources.Track, announce bool) (int, error)
	Teardown(guildID string) bool
	Has(guildID string) bool
}

type Publisher interface {
	Publish(events.Event)
}

type Deps struct {
	Resolver   resolver.Resolver // expected to be wrapped with resolver.Limited
	Transport  Transport
	Sessions   *session.Registry
	Interrupts *interrupt.Controller
	Notifier   Notifier
	Events     Publisher
}

type Options struct {
	MaxPlayRetries   int
	PlaylistAttempts int
	BackoffBase      time.Duration
	BackoffStep      time.Duration
	EnqueueDelay     time.Duration
	IntroURL         string
	IntroSettle      time.Duration
	FailedPreview    int
}

func (o *Options) setDefaults() {
	if o.MaxPlayRetries < 1 {
		o.MaxPlayRetries = 6
	}
	if o.PlaylistAttempts < 1 {
		o.PlaylistAttempts = 3
	}
	if o.FailedPreview < 1 {
		o.FailedPreview = 6
	}
}

type Orchestrator struct {
	deps Deps
	opts Options
}

func New(deps Deps, opts Options) *Orchestrator {
	opts.setDefaults()
	return &Orchestrator{deps: deps, opts: opts}
}

func (o *Orchestrator) policy(attempts int) retrylimit.Policy {
	return retrylimit.Policy{
		MaxAttempts: attempts,
		BaseDelay:   o.opts.BackoffBase,
		Step:        o.opts.BackoffStep,
		OnRetry: func(int, error, time.Duration) {
			metrics.Retries.WithLabelValues("busy").Inc()
		},
	}
}

// notify ignores cancellation so notices still go out for interrupted requests.
func (o *Orchestrator) notify(ctx context.Context, channelID, text string) {
	if o.deps.Notifier == nil || channelID == "" {
		return
	}
	if err := o.deps.Notifier.Notify(context.WithoutCancel(ctx), channelID, text); err != nil {
		log.Warn().Str("component", "orchestrator").Str("channel", channelID).Err(err).Msg("notification failed")
	}
}

func (o *Orchestrator) publish(e events.Event) {
	if o.deps.Events != nil {
		o.deps.Events.Publish(e)
	}
}

// request carries the per-request state through the handlers.
type request struct {
	Request
	res    Result
	logger zerolog.Logger
	target player.Target
}

func (r *request) set(s State) {
	r.logger.Debug().Str("from", string(r.res.State)).Str("to", string(s)).Msg("state")
	r.res.State = s
}

// Handle runs req to completion. Requests for one guild are serialized;
// an interrupt raised for the guild while req runs cancels it.
func (o *Orchestrator) Handle(ctx context.Context, req Request) Result {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	r := &request{
		Request: req,
		res:     Result{RequestID: req.ID, State: StateReceived},
		logger:  log.With().Str("component", "orchestrator").Str("guild", req.GuildID).Str("request", req.ID).Logger(),
		target: player.Target{
			GuildID:        req.GuildID,
			VoiceChannelID: req.VoiceChannelID,
			TextChannelID:  req.TextChannelID,
		},
	}

	ctx, release := o.deps.Interrupts.Watch(ctx, req.GuildID)
	defer release()

	sess := o.lockSession(req.GuildID)
	defer sess.Unlock()
	sess.SetChannels(req.VoiceChannelID, req.TextChannelID)

	r.logger.Info().Str("query", req.Query).Bool("playlist", req.Playlist).Msg("request received")

	query := strings.TrimSpace(req.Query)
	switch {
	case query == "":
		o.fail(ctx, r, ErrEmptyQuery)
	case req.Playlist || (r.IsDirectURL() && sources.IsPlaylistURL(query)):
		o.handlePlaylist(ctx, r, sess, query)
	case r.IsDirectURL():
		o.handleURL(ctx, r, sess, query)
	default:
		o.handleSearch(ctx, r, sess, query)
	}

	// a session without a queue has no voice connection to keep
	if !o.deps.Transport.Has(req.GuildID) && o.deps.Sessions.Get(req.GuildID) == sess {
		if o.deps.Sessions.Remove(req.GuildID) != nil {
			metrics.ActiveSessions.Dec()
		}
	}

	r.logger.Info().Str("state", string(r.res.State)).Int("added", r.res.Added).Int("skipped", r.res.Skipped).Msg("request finished")
	return r.res
}

// lockSession returns the guild's session with its request lock held. A
// session torn down while waiting for the lock is replaced.
func (o *Orchestrator) lockSession(guildID string) *session.Session {
	for {
		sess, created := o.deps.Sessions.GetOrCreate(guildID)
		if created {
			metrics.ActiveSessions.Inc()
		}
		sess.Lock()
		if o.deps.Sessions.Get(guildID) == sess {
			return sess
		}
		sess.Unlock()
	}
}

func (o *Orchestrator) handleURL(ctx context.Context, r *request, sess *session.Session, raw string) {
	link := sources.NormalizeURL(raw)
	r.set(StateResolving)

	if !o.intro(ctx, r, sess) {
		return
	}

	r.set(StateEnqueuing)
	res, err := retrylimit.Do(ctx, o.policy(o.opts.MaxPlayRetries), func(ctx context.Context) (queued, error) {
		return o.resolveAndEnqueue(ctx, r, link, true)
	}, resolver.Classify)
	if err != nil {
		o.fail(ctx, r, err)
		return
	}
	metrics.Enqueued.WithLabelValues("added").Inc()
	r.res.Track = &res.track
	r.res.Position = res.position
	r.res.Added = 1
	r.set(StateDone)
}

func (o *Orchestrator) handleSearch(ctx context.Context, r *request, sess *session.Session, query string) {
	r.set(StateResolving)
	o.notify(ctx, r.TextChannelID, fmt.Sprintf("🔍 Searching YouTube: `%s`", query))

	track, err := retrylimit.Do(ctx, o.policy(o.opts.PlaylistAttempts), func(ctx context.Context) (*sources.Track, error) {
		return o.deps.Resolver.Search(ctx, query)
	}, resolver.Classify)
	if errors.Is(err, resolver.ErrNotFound) {
		o.notify(ctx, r.TextChannelID, fmt.Sprintf("❌ No results found for: `%s`", query))
		r.res.Err = err
		r.set(StateDone)
		return
	}
	if err != nil {
		o.fail(ctx, r, err)
		return
	}
	r.set(StateReady)

	if !o.intro(ctx, r, sess) {
		return
	}

	r.set(StateEnqueuing)
	t := o.stamp(r, *track)
	pos, err := o.deps.Transport.Enqueue(ctx, r.target, t, true)
	if err != nil {
		o.fail(ctx, r, err)
		return
	}
	metrics.Enqueued.WithLabelValues("added").Inc()
	r.res.Track = &t
	r.res.Position = pos
	r.res.Added = 1
	r.set(StateDone)
}

func (o *Orchestrator) handlePlaylist(ctx context.Context, r *request, sess *session.Session, link string) {
	r.set(StateResolving)
	o.notify(ctx, r.TextChannelID, fmt.Sprintf("📃 Expanding playlist: `%s`", link))

	pl, err := retrylimit.Do(ctx, o.policy(o.opts.PlaylistAttempts), func(ctx context.Context) (*resolver.Playlist, error) {
		return o.deps.Resolver.ExpandPlaylist(ctx, link)
	}, resolver.Classify)
	if err != nil {
		if retrylimit.ReasonOf(err) == retrylimit.ReasonCancelled {
			o.cancelled(ctx, r, "⛔ **Playlist interrupted.**")
			return
		}
		r.res.Err = err
		r.set(StateFailed)
		o.notify(ctx, r.TextChannelID, "❌ Could not expand the playlist: "+resolver.UserMessage(err))
		return
	}
	if len(pl.Items) == 0 {
		r.res.Err = ErrEmptyPlaylist
		r.set(StateFailed)
		o.notify(ctx, r.TextChannelID, "❌ No songs found in that playlist.")
		return
	}

	r.set(StateExpanding)
	o.publish(events.PlaylistAdded{
		Guild:         r.GuildID,
		TextChannelID: r.TextChannelID,
		Title:         pl.Title,
		Items:         pl.Items,
		Requester:     r.Requester,
	})

	if !o.intro(ctx, r, sess) {
		return
	}

	r.set(StateEnqueuing)
	authNotified := false
	for i, item := range pl.Items {
		if ctx.Err() != nil {
			o.cancelled(ctx, r, "⛔ **Playlist interrupted.**")
			return
		}
		if item.ID == "" {
			r.res.Skipped++
			metrics.Enqueued.WithLabelValues("skipped").Inc()
			continue
		}

		link := sources.WatchURL(item.ID)
		_, err := retrylimit.Do(ctx, o.policy(o.opts.MaxPlayRetries), func(ctx context.Context) (queued, error) {
			return o.resolveAndEnqueue(ctx, r, link, false)
		}, resolver.Classify)

		switch retrylimit.ReasonOf(err) {
		case "":
			r.res.Added++
			metrics.Enqueued.WithLabelValues("added").Inc()
		case retrylimit.ReasonCancelled:
			o.cancelled(ctx, r, "⛔ **Playlist interrupted.**")
			return
		case retrylimit.ReasonAuthRequired:
			// item specific; keep going with the rest
			r.res.Skipped++
			r.res.Failed = append(r.res.Failed, Failure{Index: i + 1, ID: item.ID, Err: err})
			metrics.Enqueued.WithLabelValues("failed").Inc()
			if !authNotified {
				authNotified = true
				o.notify(ctx, r.TextChannelID, "❌ "+resolver.AuthMessage)
			}
		default:
			r.res.Skipped++
			r.res.Failed = append(r.res.Failed, Failure{Index: i + 1, ID: item.ID, Err: err})
			metrics.Enqueued.WithLabelValues("failed").Inc()
			r.logger.Warn().Int("index", i+1).Str("id", item.ID).Err(err).Msg("playlist item failed")
			o.notify(ctx, r.TextChannelID, fmt.Sprintf("❌ Error with song #%d: %s", i+1, resolver.UserMessage(err)))
		}

		if i < len(pl.Items)-1 {
			if err := retrylimit.Sleep(ctx, o.opts.EnqueueDelay); err != nil {
				o.cancelled(ctx, r, "⛔ **Playlist interrupted.**")
				return
			}
		}
	}

	r.set(StateDone)
	o.notify(ctx, r.TextChannelID, Summary(r.res, o.opts.FailedPreview))
}

// Summary renders the playlist outcome, listing at most preview failures.
func Summary(res Result, preview int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Playlist processed. Added: %d. Skipped: %d.", res.Added, res.Skipped)
	if len(res.Failed) == 0 {
		return b.String()
	}
	shown := res.Failed
	if len(shown) > preview {
		shown = shown[:preview]
	}
	parts := make([]string, len(shown))
	for i, f := range shown {
		parts[i] = fmt.Sprintf("#%d id=%s", f.Index, f.ID)
	}
	fmt.Fprintf(&b, " Errors: %d (e.g. %s", len(res.Failed), strings.Join(parts, ", "))
	if len(res.Failed) > preview {
		b.WriteString(", ...")
	}
	b.WriteString(")")
	return b.String()
}

type queued struct {
	track    sources.Track
	position int
}

// resolveAndEnqueue is one attempt at turning a link into a queue item.
func (o *Orchestrator) resolveAndEnqueue(ctx context.Context, r *request, link string, announce bool) (queued, error) {
	track, err := o.deps.Resolver.Resolve(ctx, link)
	if err != nil {
		return queued{}, err
	}
	t := o.stamp(r, *track)
	if t.StartAt == 0 {
		t.StartAt = sources.StartOffset(link)
	}
	pos, err := o.deps.Transport.Enqueue(ctx, r.target, t, announce)
	if err != nil {
		return queued{}, err
	}
	return queued{track: t, position: pos}, nil
}

func (o *Orchestrator) stamp(r *request, t sources.Track) sources.Track {
	t.Requester = r.Requester
	t.RequesterID = r.RequesterID
	return t
}

// intro queues the configured intro item once per session and waits for it
// to settle. It returns false when the request was cancelled meanwhile.
func (o *Orchestrator) intro(ctx context.Context, r *request, sess *session.Session) bool {
	if o.opts.IntroURL == "" || !sess.ClaimIntro() {
		return true
	}
	_, err := retrylimit.Do(ctx, o.policy(o.opts.MaxPlayRetries), func(ctx context.Context) (sources.Track, error) {
		track, err := o.deps.Resolver.Resolve(ctx, sources.NormalizeURL(o.opts.IntroURL))
		if err != nil {
			return sources.Track{}, err
		}
		t := *track
		t.Requester = "intro"
		_, err = o.deps.Transport.Enqueue(ctx, r.target, t, false)
		return t, err
	}, resolver.Classify)
	if retrylimit.ReasonOf(err) == retrylimit.ReasonCancelled {
		o.cancelled(ctx, r, "⛔ **Interrupted.**")
		return false
	}
	if err != nil {
		r.logger.Warn().Err(err).Msg("intro could not be queued")
		return true
	}
	if err := retrylimit.Sleep(ctx, o.opts.IntroSettle); err != nil {
		o.cancelled(ctx, r, "⛔ **Interrupted.**")
		return false
	}
	return true
}

func (o *Orchestrator) cancelled(ctx context.Context, r *request, notice string) {
	r.res.Err = context.Cause(ctx)
	r.set(StateCancelled)
	o.notify(ctx, r.TextChannelID, notice)
}

func (o *Orchestrator) fail(ctx context.Context, r *request, err error) {
	if retrylimit.ReasonOf(err) == retrylimit.ReasonCancelled || interrupt.Interrupted(ctx) {
		o.cancelled(ctx, r, "⛔ **Interrupted.**")
		return
	}
	r.res.Err = err
	r.set(StateFailed)
	r.logger.Warn().Err(err).Msg("request failed")

	switch {
	case errors.Is(err, ErrEmptyQuery):
		o.notify(ctx, r.TextChannelID, "⚠️ Type the name of a song or artist, or a link.")
	case errors.Is(err, resolver.ErrNotFound):
		o.notify(ctx, r.TextChannelID, fmt.Sprintf("❌ No results found for: `%s`", strings.TrimSpace(r.Query)))
	default:
		o.notify(ctx, r.TextChannelID, "❌ "+resolver.UserMessage(err))
	}
}

// Interrupt raises the guild's interrupt, cancelling in-flight requests, and
// tears the session down. Raising again within the grace window is a no-op
// and returns false.
func (o *Orchestrator) Interrupt(guildID string) bool {
	if !o.deps.Interrupts.Raise(guildID) {
		return false
	}
	metrics.Interrupts.Inc()
	o.Teardown(guildID, events.ReasonInterrupt)
	return true
}

// Teardown stops the guild's queue, leaves voice and destroys the session.
// It reports whether there was anything to tear down; a second call for the
// same session returns false.
func (o *Orchestrator) Teardown(guildID, reason string) bool {
	sess := o.deps.Sessions.Remove(guildID)
	hadQueue := o.deps.Transport.Teardown(guildID)
	if sess == nil && !hadQueue {
		return false
	}

	text := ""
	if sess != nil {
		metrics.ActiveSessions.Dec()
		text = sess.TextChannel()
	}
	log.Info().Str("component", "orchestrator").Str("guild", guildID).Str("reason", reason).Msg("session torn down")
	o.publish(events.SessionEmpty{Guild: guildID, TextChannelID: text, Reason: reason})
	return true
}

// Session returns the guild's live session or nil.
func (o *Orchestrator) Session(guildID string) *session.Session {
	return o.deps.Sessions.Get(guildID)
}
