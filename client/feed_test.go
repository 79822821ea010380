package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pkt.systems/guestbookd/api"
	"pkt.systems/guestbookd/internal/clock"
	"pkt.systems/guestbookd/internal/guestbook"
)

func newFeedFixture(t *testing.T, handler http.HandlerFunc) (*Feed, *clock.Manual) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cli, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })
	clk := clock.NewManual(time.UnixMilli(1_000_000))
	return NewFeed(cli, WithFeedClock(clk)), clk
}

func entriesHandler(entries *[]api.Entry, requests *atomic.Int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			requests.Add(1)
		}
		switch {
		case r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(api.EntriesResponse{Entries: *entries})
		case r.Method == http.MethodPost:
			var req api.CreateRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			entry := api.Entry{ID: "srv-1", Name: strings.TrimSpace(req.Name), Message: req.Message, Stars: 5, TS: 500}
			*entries = append(*entries, entry)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(api.EntryResponse{Entry: entry})
		}
	}
}

func TestFeedFetchPopulatesCache(t *testing.T) {
	data := []api.Entry{
		{ID: "a", Name: "Ada", Message: "hi", TS: 100},
		{ID: "b", Name: "Grace", Message: "beans", TS: 300},
		{ID: "c", Name: "Edsger", Message: "maths", TS: 200},
	}
	feed, _ := newFeedFixture(t, entriesHandler(&data, nil))
	if err := feed.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	got := feed.Entries()
	if len(got) != 3 {
		t.Fatalf("entries = %+v", got)
	}
	// Newest first by ts.
	if got[0].TS != 300 || got[1].TS != 200 || got[2].TS != 100 {
		t.Fatalf("order = %d,%d,%d want 300,200,100", got[0].TS, got[1].TS, got[2].TS)
	}
}

func TestFeedFetchSingleFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var startedOnce sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedOnce.Do(func() { close(started) })
		<-release
		_ = json.NewEncoder(w).Encode(api.EntriesResponse{Entries: []api.Entry{}})
	}))
	t.Cleanup(srv.Close)
	cli, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })
	feed := NewFeed(cli)

	done := make(chan error, 1)
	go func() { done <- feed.Fetch(context.Background()) }()
	<-started

	if err := feed.Fetch(context.Background()); !errors.Is(err, ErrFetchInFlight) {
		t.Fatalf("concurrent fetch err = %v, want ErrFetchInFlight", err)
	}
	if st := feed.Status(); st.Phase != PhaseLoading {
		t.Errorf("phase = %v, want loading", st.Phase)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if st := feed.Status(); st.Phase != PhaseIdle {
		t.Errorf("phase = %v after fetch", st.Phase)
	}
	// A later fetch is allowed again.
	if err := feed.Fetch(context.Background()); err != nil {
		t.Fatalf("third fetch: %v", err)
	}
}

func TestFeedFetchKeepsStaleCacheOnError(t *testing.T) {
	var fail atomic.Bool
	data := []api.Entry{{ID: "a", Name: "Ada", Message: "hi", TS: 100}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "Failed to read entries."})
			return
		}
		_ = json.NewEncoder(w).Encode(api.EntriesResponse{Entries: data})
	}))
	t.Cleanup(srv.Close)
	cli, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })
	feed := NewFeed(cli)

	if err := feed.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	fail.Store(true)
	if err := feed.Fetch(context.Background()); err == nil {
		t.Fatal("expected fetch error")
	}
	if got := feed.Entries(); len(got) != 1 {
		t.Fatalf("stale cache lost: %+v", got)
	}
	html, err := feed.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(html, loadErrorMessage) {
		t.Error("error card shown despite stale data")
	}
}

func TestFeedFetchErrorWithEmptyCache(t *testing.T) {
	feed := mustFeed(t, "127.0.0.1:1")
	if err := feed.Fetch(context.Background()); err == nil {
		t.Fatal("expected fetch error")
	}
	html, err := feed.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(html, loadErrorMessage) {
		t.Errorf("error card missing:\n%s", html)
	}
	if strings.Contains(html, emptyStateMessage) {
		t.Error("empty state shown instead of error card")
	}
}

func mustFeed(t *testing.T, endpoint string) *Feed {
	t.Helper()
	cli, err := NewWithEndpoints([]string{endpoint}, WithEndpointShuffle(false), WithHTTPTimeout(time.Second))
	if err != nil {
		t.Fatalf("NewWithEndpoints: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })
	return NewFeed(cli)
}

func TestFeedSubmitMergesOptimistically(t *testing.T) {
	var requests atomic.Int64
	data := []api.Entry{}
	feed, _ := newFeedFixture(t, entriesHandler(&data, &requests))

	entry, err := feed.Submit(context.Background(), api.CreateRequest{Name: "Ada", Message: "hi beans"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if entry.ID != "srv-1" {
		t.Fatalf("entry = %+v", entry)
	}
	// The cache updates from the submit response without a GET round-trip.
	if requests.Load() != 1 {
		t.Errorf("requests = %d, want 1", requests.Load())
	}
	got := feed.Entries()
	if len(got) != 1 || got[0].ID != "srv-1" {
		t.Fatalf("cache = %+v", got)
	}
}

func TestFeedSubmitUpdatesExistingEntryByID(t *testing.T) {
	data := []api.Entry{}
	feed, clk := newFeedFixture(t, entriesHandler(&data, nil))
	if _, err := feed.Submit(context.Background(), api.CreateRequest{Name: "Ada", Message: "hi beans"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	clk.Advance(6 * time.Second)
	if _, err := feed.Submit(context.Background(), api.CreateRequest{Name: "Ada", Message: "updated beans"}); err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	// Server reuses id srv-1, so the cache updates in place.
	got := feed.Entries()
	if len(got) != 1 {
		t.Fatalf("cache = %+v", got)
	}
	if got[0].Message != "updated beans" {
		t.Errorf("message = %q", got[0].Message)
	}
}

func TestFeedSubmitLocalValidation(t *testing.T) {
	var requests atomic.Int64
	data := []api.Entry{}
	feed, _ := newFeedFixture(t, entriesHandler(&data, &requests))

	_, err := feed.Submit(context.Background(), api.CreateRequest{Name: "", Message: "hi beans"})
	var validation *guestbook.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if requests.Load() != 0 {
		t.Error("invalid submission reached the network")
	}
}

func TestFeedSubmitRateLimit(t *testing.T) {
	var requests atomic.Int64
	data := []api.Entry{}
	feed, clk := newFeedFixture(t, entriesHandler(&data, &requests))
	ctx := context.Background()

	if _, err := feed.Submit(ctx, api.CreateRequest{Name: "Ada", Message: "hi beans"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	after := requests.Load()

	clk.Advance(2 * time.Second)
	if _, err := feed.Submit(ctx, api.CreateRequest{Name: "Ada", Message: "more beans"}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if requests.Load() != after {
		t.Error("rate-limited submission reached the network")
	}

	clk.Advance(3 * time.Second)
	if _, err := feed.Submit(ctx, api.CreateRequest{Name: "Ada", Message: "more beans"}); err != nil {
		t.Fatalf("Submit after cooldown: %v", err)
	}
}

func TestFeedRateLimitIsPerSession(t *testing.T) {
	data := []api.Entry{}
	srv := httptest.NewServer(entriesHandler(&data, nil))
	t.Cleanup(srv.Close)
	cli, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })

	sessions := NewMemorySessionStore()
	clk := clock.NewManual(time.UnixMilli(1_000_000))
	first := NewFeed(cli, WithFeedClock(clk), WithFeedSessionStore(sessions))
	second := NewFeed(cli, WithFeedClock(clk), WithFeedSessionStore(sessions))
	if first.SessionID() == second.SessionID() {
		t.Fatal("feeds share a session id")
	}

	ctx := context.Background()
	if _, err := first.Submit(ctx, api.CreateRequest{Name: "Ada", Message: "hi beans"}); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	// A different session is not throttled by the first one.
	if _, err := second.Submit(ctx, api.CreateRequest{Name: "Grace", Message: "more beans"}); err != nil {
		t.Fatalf("second session Submit: %v", err)
	}
}

func TestFeedRenderEscapesAndOrders(t *testing.T) {
	feed := mustFeed(t, "127.0.0.1:1")
	feed.merge(api.Entry{ID: "a", Name: "<script>alert(1)</script>", Message: "line one\nline two", Stars: 3, TS: 100})
	feed.merge(api.Entry{ID: "b", Name: "", Message: "no name", Rule: "b<e>ans", Stars: 5, TS: 300})
	feed.merge(api.Entry{ID: "c", Name: "Ada", Message: "middle", Stars: 1, TS: 200})

	html, err := feed.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Error("name not escaped")
	}
	if !strings.Contains(html, "&lt;script&gt;") {
		t.Error("escaped name missing")
	}
	if !strings.Contains(html, "line one<br>line two") {
		t.Errorf("line breaks not converted:\n%s", html)
	}
	if !strings.Contains(html, "b&lt;e&gt;ans") {
		t.Error("rule not escaped")
	}
	if !strings.Contains(html, placeholderName) {
		t.Error("missing name placeholder absent")
	}
	if !strings.Contains(html, "★★★☆☆") {
		t.Error("three-star rating not rendered")
	}
	// Newest first: b (300) before c (200) before a (100).
	posB := strings.Index(html, "no name")
	posC := strings.Index(html, "middle")
	posA := strings.Index(html, "line one")
	if !(posB < posC && posC < posA) {
		t.Errorf("render order wrong: b=%d c=%d a=%d\n%s", posB, posC, posA, html)
	}
}

func TestFeedRenderEmptyState(t *testing.T) {
	data := []api.Entry{}
	feed, _ := newFeedFixture(t, entriesHandler(&data, nil))
	if err := feed.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	html, err := feed.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(html, emptyStateMessage) {
		t.Errorf("empty state missing:\n%s", html)
	}
	if strings.Contains(html, loadErrorMessage) {
		t.Error("error card shown for a successful empty fetch")
	}
}

func TestFeedStatusLine(t *testing.T) {
	cases := []struct {
		st   Status
		want string
	}{
		{Status{Phase: PhaseLoading}, "Loading entries..."},
		{Status{Err: errors.New("boom")}, "Couldn't load entries."},
		{Status{Entries: 1}, "1 entry"},
		{Status{Entries: 3}, "3 entries"},
	}
	for _, tc := range cases {
		if got := tc.st.Line(); got != tc.want {
			t.Errorf("Line() = %q, want %q", got, tc.want)
		}
	}
}

func TestFeedRenderTimestamps(t *testing.T) {
	feed := mustFeed(t, "127.0.0.1:1")
	feed.merge(api.Entry{ID: "a", Name: "Ada", Message: "hi beans", Stars: 5, TS: time.Date(2026, 3, 14, 9, 26, 0, 0, time.UTC).UnixMilli()})
	feed.merge(api.Entry{ID: "b", Name: "Zero", Message: "no clock", Stars: 5})

	html, err := feed.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(html, `<time class="entry-time">Mar 14, 2026 09:26</time>`) {
		t.Errorf("timestamp not rendered:\n%s", html)
	}
	// A zero ts renders without a time element rather than the epoch.
	if strings.Contains(html, "Jan 1, 1970") {
		t.Errorf("zero ts rendered as epoch:\n%s", html)
	}
}

func TestFeedFetchSilentHidesLoadingPhase(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"entries":[]}`))
	}))
	t.Cleanup(srv.Close)
	cli, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })
	feed := NewFeed(cli)

	done := make(chan error, 1)
	go func() { done <- feed.FetchSilent(context.Background()) }()
	<-started
	if st := feed.Status(); st.Phase != PhaseIdle {
		t.Errorf("silent fetch surfaced phase %v", st.Phase)
	}
	// Still single-flight even when silent.
	if err := feed.Fetch(context.Background()); !errors.Is(err, ErrFetchInFlight) {
		t.Errorf("concurrent fetch error = %v, want ErrFetchInFlight", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("FetchSilent: %v", err)
	}
	if st := feed.Status(); st.Phase != PhaseIdle || st.Err != nil {
		t.Errorf("post-fetch status = %+v", st)
	}
}

func TestFileSessionStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	store, err := OpenFileSessionStore(path)
	if err != nil {
		t.Fatalf("OpenFileSessionStore: %v", err)
	}
	if _, ok := store.Get("missing"); ok {
		t.Error("Get on empty store reported a value")
	}
	store.Set("sess:gb-last", "123456")

	reopened, err := OpenFileSessionStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	v, ok := reopened.Get("sess:gb-last")
	if !ok || v != "123456" {
		t.Fatalf("reopened Get = %q, %v", v, ok)
	}
}

func TestFileSessionStoreCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o600); err != nil {
		t.Fatal(err)
	}
	store, err := OpenFileSessionStore(path)
	if err != nil {
		t.Fatalf("OpenFileSessionStore: %v", err)
	}
	if _, ok := store.Get("anything"); ok {
		t.Error("corrupt file produced values")
	}
}
