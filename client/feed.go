package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"
	"pkt.systems/guestbookd/api"
	"pkt.systems/guestbookd/internal/clock"
	"pkt.systems/guestbookd/internal/guestbook"
	"pkt.systems/guestbookd/internal/svcfields"
	"pkt.systems/pslog"
)

// SubmitCooldown is the minimum interval between submissions from the same
// session. Enforced locally before any network call; the server still
// validates independently.
const SubmitCooldown = 5000 // milliseconds

const rateLimitKey = "gb-last"

// ErrRateLimited is returned by Feed.Submit when a submission arrives within
// SubmitCooldown of the previous one from the same session.
var ErrRateLimited = errors.New("guestbookd: hold on, one entry per 5 seconds")

// ErrFetchInFlight is returned by Feed.Fetch when another fetch is already
// running; the caller's request is suppressed rather than queued.
var ErrFetchInFlight = errors.New("guestbookd: fetch already in flight")

// SessionStore holds small session-scoped values, such as the submission
// rate-limit marker. Implementations must be safe for concurrent use.
type SessionStore interface {
	Get(key string) (string, bool)
	Set(key, value string)
}

// MemorySessionStore is the default in-process SessionStore.
type MemorySessionStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemorySessionStore returns an empty session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{values: make(map[string]string)}
}

// Get returns the stored value for key.
func (s *MemorySessionStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores value under key.
func (s *MemorySessionStore) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// FileSessionStore persists session values to a JSON file so the submission
// rate limit survives across CLI invocations. Write failures are dropped;
// losing a rate-limit marker is preferable to failing the submission.
type FileSessionStore struct {
	mu     sync.Mutex
	path   string
	values map[string]string
}

// OpenFileSessionStore loads path, which need not exist yet.
func OpenFileSessionStore(path string) (*FileSessionStore, error) {
	s := &FileSessionStore{path: path, values: make(map[string]string)}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("guestbookd: session store: %w", err)
	}
	if err := json.Unmarshal(data, &s.values); err != nil {
		// Corrupt state file: start over rather than refuse to run.
		s.values = make(map[string]string)
	}
	return s, nil
}

// Get returns the stored value for key.
func (s *FileSessionStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores value under key and persists the file.
func (s *FileSessionStore) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	if data, err := json.Marshal(s.values); err == nil {
		_ = os.WriteFile(s.path, data, 0o600)
	}
}

// Phase describes where the feed is in its sync lifecycle.
type Phase int

const (
	// PhaseIdle means no fetch is running; Err distinguishes idle-with-data
	// from idle-with-error.
	PhaseIdle Phase = iota
	// PhaseLoading means a fetch is in flight.
	PhaseLoading
)

// Status is a snapshot of the feed's sync state for status-line display.
type Status struct {
	Phase   Phase
	Entries int
	Err     error
}

// Line renders the status as a short human-readable string.
func (s Status) Line() string {
	switch {
	case s.Phase == PhaseLoading:
		return "Loading entries..."
	case s.Err != nil:
		return "Couldn't load entries."
	case s.Entries == 1:
		return "1 entry"
	default:
		return fmt.Sprintf("%d entries", s.Entries)
	}
}

// FeedOption configures a Feed.
type FeedOption func(*Feed)

// WithFeedClock overrides the feed's time source.
func WithFeedClock(clk clock.Clock) FeedOption {
	return func(f *Feed) {
		if clk != nil {
			f.clock = clk
		}
	}
}

// WithFeedSessionID pins the session identifier instead of generating one.
// Combined with a FileSessionStore this makes the submit cooldown persist
// across process restarts.
func WithFeedSessionID(id string) FeedOption {
	return func(f *Feed) {
		if id = strings.TrimSpace(id); id != "" {
			f.sessionID = id
		}
	}
}

// WithFeedSessionStore overrides the session store used for rate limiting.
func WithFeedSessionStore(store SessionStore) FeedOption {
	return func(f *Feed) {
		if store != nil {
			f.sessions = store
		}
	}
}

// WithFeedLogger supplies a logger for feed diagnostics.
func WithFeedLogger(logger pslog.Logger) FeedOption {
	return func(f *Feed) {
		if logger != nil {
			f.logger = svcfields.WithSubsystem(logger, "client.feed")
		}
	}
}

// Feed maintains a local view of the entry sequence: it fetches from the
// server, merges submission responses optimistically, rate-limits repeated
// submissions per session, and renders the cached entries newest-first.
type Feed struct {
	client    *Client
	clock     clock.Clock
	logger    pslog.Base
	sessions  SessionStore
	sessionID string

	mu       sync.Mutex
	entries  []api.Entry
	loaded   bool
	lastErr  error
	fetching bool
	silent   bool
}

// NewFeed wraps cli in a Feed with an empty cache and a fresh session id.
func NewFeed(cli *Client, opts ...FeedOption) *Feed {
	f := &Feed{
		client:    cli,
		clock:     clock.Real{},
		logger:    pslog.NoopLogger(),
		sessions:  NewMemorySessionStore(),
		sessionID: xid.New().String(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SessionID returns the feed's session identifier. Rate-limit markers are
// keyed per session, so two feeds sharing a SessionStore stay independent.
func (f *Feed) SessionID() string {
	return f.sessionID
}

// Status reports a snapshot of the sync state.
func (f *Feed) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := Status{Entries: len(f.entries), Err: f.lastErr}
	if f.fetching && !f.silent {
		st.Phase = PhaseLoading
	}
	return st
}

// Entries returns a copy of the cached entries sorted newest-first.
func (f *Feed) Entries() []api.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sortedLocked()
}

func (f *Feed) sortedLocked() []api.Entry {
	out := make([]api.Entry, len(f.entries))
	copy(out, f.entries)
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS > out[j].TS })
	return out
}

// Fetch refreshes the cache from the server. A fetch already in flight
// suppresses this one (ErrFetchInFlight). On failure an existing cache is
// kept so stale data stays visible; the error is recorded only when the
// cache is empty, where the rendered view shows it instead of an empty state.
func (f *Feed) Fetch(ctx context.Context) error {
	return f.fetch(ctx, false)
}

// FetchSilent refreshes the cache like Fetch but never surfaces the loading
// phase in Status, so background refreshes do not move the status line.
func (f *Feed) FetchSilent(ctx context.Context) error {
	return f.fetch(ctx, true)
}

func (f *Feed) fetch(ctx context.Context, silent bool) error {
	f.mu.Lock()
	if f.fetching {
		f.mu.Unlock()
		f.logger.Trace("feed.fetch.suppressed", "session", f.sessionID)
		return ErrFetchInFlight
	}
	f.fetching = true
	f.silent = silent
	f.mu.Unlock()

	entries, err := f.client.Entries(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetching = false
	if err != nil {
		if !f.loaded || len(f.entries) == 0 {
			f.lastErr = err
		}
		f.logger.Debug("feed.fetch.failed", "session", f.sessionID, "error", err)
		return err
	}
	f.entries = entries
	f.loaded = true
	f.lastErr = nil
	f.logger.Trace("feed.fetch.done", "session", f.sessionID, "entries", len(entries))
	return nil
}

func (f *Feed) rateLimited(nowMillis int64) bool {
	raw, ok := f.sessions.Get(f.sessionKey())
	if !ok {
		return false
	}
	var last int64
	if _, err := fmt.Sscanf(raw, "%d", &last); err != nil {
		return false
	}
	return nowMillis-last < SubmitCooldown
}

func (f *Feed) sessionKey() string {
	return f.sessionID + ":" + rateLimitKey
}

// Submit validates fields locally, applies the per-session rate limit, posts
// the entry, and merges the server's canonical entry into the cache by id.
// Server-side rejections come back as *APIError with the message verbatim.
func (f *Feed) Submit(ctx context.Context, req api.CreateRequest) (api.Entry, error) {
	if err := guestbook.ValidateSubmission(req.Name, req.Message); err != nil {
		return api.Entry{}, err
	}
	now := f.clock.Now().UnixMilli()
	if f.rateLimited(now) {
		f.logger.Trace("feed.submit.rate_limited", "session", f.sessionID)
		return api.Entry{}, ErrRateLimited
	}
	entry, err := f.client.Sign(ctx, req)
	if err != nil {
		f.logger.Debug("feed.submit.failed", "session", f.sessionID, "error", err)
		return api.Entry{}, err
	}
	f.sessions.Set(f.sessionKey(), fmt.Sprintf("%d", now))
	f.merge(entry)
	f.logger.Trace("feed.submit.done", "session", f.sessionID, "id", entry.ID)
	return entry, nil
}

// merge updates the cached entry with a matching id, or appends when absent.
func (f *Feed) merge(entry api.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.entries {
		if f.entries[i].ID == entry.ID {
			f.entries[i] = entry
			return
		}
	}
	f.entries = append(f.entries, entry)
	f.loaded = true
	f.lastErr = nil
}

const placeholderName = "Anonymous"
const emptyStateMessage = "No entries yet. Be the first bean hero!"
const loadErrorMessage = "Couldn't load the guestbook. Try again in a moment."

var feedTemplate = template.Must(template.New("feed").Funcs(template.FuncMap{
	"stars":     starString,
	"multiline": multiline,
}).Parse(`{{- if .Error -}}
<div class="feed-error">{{.ErrorMessage}}</div>
{{- else if not .Entries -}}
<div class="feed-empty">{{.EmptyMessage}}</div>
{{- else -}}
{{- range .Entries -}}
<article class="entry">
<header><span class="entry-name">{{.DisplayName}}</span><span class="entry-stars">{{stars .Stars}}</span>{{if .When}} <time class="entry-time">{{.When}}</time>{{end}}</header>
<p class="entry-message">{{multiline .Message}}</p>
{{- if .Rule}}
<p class="entry-rule">&bull; Fav: {{.Rule}}</p>
{{- end}}
</article>
{{end -}}
{{- end -}}`))

type feedView struct {
	Entries      []feedEntryView
	Error        bool
	ErrorMessage string
	EmptyMessage string
}

type feedEntryView struct {
	DisplayName string
	Message     string
	Rule        string
	Stars       int
	When        string
}

func starString(n int) string {
	if n < guestbook.MinStars {
		n = guestbook.MinStars
	}
	if n > guestbook.MaxStars {
		n = guestbook.MaxStars
	}
	return strings.Repeat("★", n) + strings.Repeat("☆", guestbook.MaxStars-n)
}

// multiline escapes s and converts line feeds to <br> so normalized messages
// keep their breaks when displayed.
func multiline(s string) template.HTML {
	escaped := template.HTMLEscapeString(s)
	return template.HTML(strings.ReplaceAll(escaped, "\n", "<br>"))
}

// Render produces HTML for the cached entries, newest-first. User-supplied
// fields are escaped. An empty cache shows the empty-state card, unless the
// last fetch failed with nothing cached, which shows an error card instead.
func (f *Feed) Render() (string, error) {
	f.mu.Lock()
	entries := f.sortedLocked()
	fetchErr := f.lastErr
	f.mu.Unlock()

	view := feedView{EmptyMessage: emptyStateMessage}
	if len(entries) == 0 && fetchErr != nil {
		view.Error = true
		view.ErrorMessage = loadErrorMessage
	}
	for _, e := range entries {
		name := e.Name
		if name == "" {
			name = placeholderName
		}
		var when string
		if e.TS > 0 {
			when = time.UnixMilli(e.TS).UTC().Format("Jan 2, 2006 15:04")
		}
		view.Entries = append(view.Entries, feedEntryView{
			DisplayName: name,
			Message:     e.Message,
			Rule:        e.Rule,
			Stars:       e.Stars,
			When:        when,
		})
	}
	var sb strings.Builder
	if err := feedTemplate.Execute(&sb, view); err != nil {
		return "", err
	}
	return sb.String(), nil
}
