package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(attempts uint) *Client {
	c := New(&http.Client{Timeout: 2 * time.Second}, attempts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.delay = time.Millisecond
	c.jitter = time.Millisecond
	return c
}

func TestFetchLatest(t *testing.T) {
	var gotQuery, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[
  {"id": 6, "date": "2025-03-14T10:00:00", "link": "https://tyflopodcast.net/6/", "title": {"rendered": "TyfloPrzegląd &#8211; odcinek <em>6</em>"}},
  {"id": 5, "date": "2025-03-13T10:00:00", "link": "https://tyflopodcast.net/5/", "title": {"rendered": "  Odcinek   5 "}},
  {"id": 0, "date": "", "link": "", "title": {"rendered": "broken"}}
]`)
	}))
	defer srv.Close()

	items, err := newTestClient(1).FetchLatest(context.Background(), srv.URL+"/", 20)
	if err != nil {
		t.Fatalf("FetchLatest: %v", err)
	}

	if gotPath != "/wp-json/wp/v2/posts" {
		t.Errorf("path = %q", gotPath)
	}
	for _, want := range []string{"per_page=20", "context=embed", "_fields=id%2Cdate%2Ctitle%2Clink"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}

	if len(items) != 2 {
		t.Fatalf("got %d items, want 2 (id 0 dropped)", len(items))
	}
	if items[0].ID != 6 || items[1].ID != 5 {
		t.Errorf("ids = %d,%d, want 6,5 in source order", items[0].ID, items[1].ID)
	}
	if items[0].Title != "TyfloPrzegląd \u2013 odcinek 6" {
		t.Errorf("title = %q", items[0].Title)
	}
	if items[1].Title != "Odcinek 5" {
		t.Errorf("title = %q, want whitespace collapsed", items[1].Title)
	}
	if items[0].URL != "https://tyflopodcast.net/6/" || items[0].PublishedAt != "2025-03-14T10:00:00" {
		t.Errorf("item = %+v", items[0])
	}
}

func TestFetchLatestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `[{"id": 1, "title": {"rendered": "ok"}}]`)
	}))
	defer srv.Close()

	items, err := newTestClient(3).FetchLatest(context.Background(), srv.URL, 5)
	if err != nil {
		t.Fatalf("FetchLatest: %v", err)
	}
	if len(items) != 1 || calls.Load() != 3 {
		t.Errorf("items = %d, calls = %d; want 1 item after 3 calls", len(items), calls.Load())
	}
}

func TestFetchLatestDoesNotRetryClientErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int32
	}{
		{name: "not found", status: http.StatusNotFound, wantCalls: 1},
		{name: "forbidden", status: http.StatusForbidden, wantCalls: 1},
		{name: "rate limited", status: http.StatusTooManyRequests, wantCalls: 3},
		{name: "server error", status: http.StatusBadGateway, wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := newTestClient(3).FetchLatest(context.Background(), srv.URL, 5)
			if err == nil {
				t.Fatal("expected an error")
			}
			var fe *FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("error %v is not a *FetchError", err)
			}
			if fe.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", fe.StatusCode, tt.status)
			}
			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestFetchLatestMalformedBody(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `<html>maintenance</html>`)
	}))
	defer srv.Close()

	_, err := newTestClient(3).FetchLatest(context.Background(), srv.URL, 5)
	if !IsFetchError(err) {
		t.Fatalf("error = %v, want a FetchError", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, a malformed body should not be retried", calls.Load())
	}
}

func TestFetchLatestTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(1)
	c.client.Timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := c.FetchLatest(context.Background(), srv.URL, 5)
	if !IsFetchError(err) {
		t.Fatalf("error = %v, want a FetchError", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("fetch took %v, timeout not applied", elapsed)
	}
}

func TestPostsURLClampsPerPage(t *testing.T) {
	tests := []struct {
		perPage int
		want    string
	}{
		{perPage: 0, want: "per_page=1"},
		{perPage: 20, want: "per_page=20"},
		{perPage: 500, want: "per_page=100"},
	}
	for _, tt := range tests {
		if got := PostsURL("https://tyfloswiat.pl", tt.perPage); !strings.Contains(got, tt.want) {
			t.Errorf("PostsURL(%d) = %q, want %s", tt.perPage, got, tt.want)
		}
	}
}

func TestPlainText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Zwykły tytuł", want: "Zwykły tytuł"},
		{in: "<strong>Nowość</strong> w&nbsp;aplikacji", want: "Nowość w aplikacji"},
		{in: "Q&amp;A", want: "Q&A"},
		{in: "   ", want: ""},
	}
	for _, tt := range tests {
		if got := PlainText(tt.in); got != tt.want {
			t.Errorf("PlainText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
