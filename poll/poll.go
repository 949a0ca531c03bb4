// Package poll checks the content sources for new posts and fans them out.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"tyflo-push/metrics"
	"tyflo-push/pkg/notifier"
)

// Fetcher interface for listing the latest posts of a content source.
type Fetcher interface {
	FetchLatest(ctx context.Context, baseURL string, perPage int) ([]notifier.Item, error)
}

// Store interface for state persistence.
type Store interface {
	Load(ctx context.Context) *notifier.State
	Save(ctx context.Context, state *notifier.State) error
}

// Fanout interface for delivering one notification to matching subscribers.
type Fanout interface {
	Apply(ctx context.Context, state *notifier.State, category notifier.Category, payload notifier.Payload) int
}

// Source describes one polled WordPress site.
type Source struct {
	// History selects the dedup list for this source inside the state document.
	History      func(*notifier.Sent) *[]int64
	Name         string
	BaseURL      string
	Category     notifier.Category
	DefaultTitle string
}

// Default titles used when a post has no title.
const (
	DefaultPodcastTitle = "Nowy odcinek Tyflopodcastu"
	DefaultArticleTitle = "Nowy artykuł w Tyfloświecie"
)

// Tyflopodcast returns the podcast source rooted at baseURL.
func Tyflopodcast(baseURL string) Source {
	return Source{
		Name:         "tyflopodcast",
		BaseURL:      baseURL,
		Category:     notifier.CategoryPodcast,
		DefaultTitle: DefaultPodcastTitle,
		History:      func(s *notifier.Sent) *[]int64 { return &s.Tyflopodcast },
	}
}

// Tyfloswiat returns the article source rooted at baseURL.
func Tyfloswiat(baseURL string) Source {
	return Source{
		Name:         "tyfloswiat",
		BaseURL:      baseURL,
		Category:     notifier.CategoryArticle,
		DefaultTitle: DefaultArticleTitle,
		History:      func(s *notifier.Sent) *[]int64 { return &s.Tyfloswiat },
	}
}

// Result summarizes one poll iteration.
type Result struct {
	Failed   []string // sources whose fetch failed
	New      int      // items fanned out
	Notified int      // deliveries across all items
}

// ErrAllSourcesFailed is returned when no source could be fetched.
var ErrAllSourcesFailed = errors.New("all content sources failed")

// Monitor handles source polling logic.
type Monitor struct {
	fetcher Fetcher
	store   Store
	fanout  Fanout
	metrics metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time
	sources []Source
	perPage int
}

// New creates a new poll monitor.
func New(fetcher Fetcher, store Store, fanout Fanout, recorder metrics.Recorder, logger *slog.Logger, perPage int, sources ...Source) *Monitor {
	if recorder == nil {
		recorder = metrics.Discard{}
	}
	return &Monitor{
		fetcher: fetcher,
		store:   store,
		fanout:  fanout,
		metrics: recorder,
		logger:  logger,
		now:     time.Now,
		sources: sources,
		perPage: perPage,
	}
}

// RunOnce performs one poll iteration against a freshly loaded state and
// saves it once. Sources fail independently: a failed source keeps its
// history untouched while the others still advance. When every source
// fails nothing is saved and ErrAllSourcesFailed is returned.
func (m *Monitor) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	start := m.now()
	state := m.store.Load(ctx)

	for _, src := range m.sources {
		n, notified, err := m.checkSource(ctx, state, src)
		if err != nil {
			res.Failed = append(res.Failed, src.Name)
			m.metrics.RecordFetchFailure(src.Name)
			m.logger.Warn("Source check failed", "source", src.Name, "url", src.BaseURL, "error", err)
			continue
		}
		res.New += n
		res.Notified += notified
	}

	if len(m.sources) > 0 && len(res.Failed) == len(m.sources) {
		m.metrics.RecordPollIteration(metrics.ResultFailed)
		return res, ErrAllSourcesFailed
	}

	if err := m.store.Save(ctx, state); err != nil {
		m.metrics.RecordPollIteration(metrics.ResultFailed)
		return res, fmt.Errorf("save state: %w", err)
	}

	result := metrics.ResultOK
	if len(res.Failed) > 0 {
		result = metrics.ResultPartial
	}
	m.metrics.RecordPollIteration(result)
	m.logger.Info("Poll iteration completed",
		"new_items", res.New,
		"notified", res.Notified,
		"failed_sources", res.Failed,
		"duration_ms", m.now().Sub(start).Milliseconds())

	return res, nil
}

func (m *Monitor) checkSource(ctx context.Context, state *notifier.State, src Source) (newItems, notified int, err error) {
	fetchStart := time.Now()
	items, err := m.fetcher.FetchLatest(ctx, src.BaseURL, m.perPage)
	m.metrics.RecordFetchLatency(src.Name, time.Since(fetchStart))
	if err != nil {
		return 0, 0, fmt.Errorf("fetch %s: %w", src.Name, err)
	}

	history := src.History(&state.Sent)
	for _, item := range items {
		if notifier.Contains(*history, item.ID) {
			continue
		}

		title := item.Title
		if title == "" {
			title = src.DefaultTitle
		}
		m.logger.Info("New item detected", "source", src.Name, "id", item.ID, "title", title)

		notified += m.fanout.Apply(ctx, state, src.Category, notifier.Payload{
			Kind:        string(src.Category),
			ID:          item.ID,
			Title:       title,
			URL:         item.URL,
			PublishedAt: item.PublishedAt,
		})
		*history = notifier.PushFront(*history, item.ID, notifier.MaxHistory)
		newItems++
	}

	m.logger.Debug("Source checked", "source", src.Name, "fetched", len(items), "new", newItems)
	return newItems, notified, nil
}

// Start runs an iteration immediately and then one every interval until ctx
// is cancelled. An iteration in progress is not interrupted by cancellation;
// the returned function blocks until the loop has exited.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) (wait func()) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.logger.Info("Poll loop started", "interval", interval.String(), "sources", len(m.sources))

		timer := time.NewTimer(0)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				m.logger.Info("Poll loop stopped", "reason", ctx.Err())
				return
			case <-timer.C:
			}

			m.runIteration(context.WithoutCancel(ctx))
			timer.Reset(interval)
		}
	}()
	return wg.Wait
}

// runIteration runs RunOnce and logs a panic instead of ending the loop.
func (m *Monitor) runIteration(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("Poll iteration panicked", "panic", rec, "stack", string(debug.Stack()))
		}
	}()
	if _, err := m.RunOnce(ctx); err != nil {
		m.logger.Error("Poll iteration failed", "error", err)
	}
}
