// Package source fetches the latest posts from WordPress content sources.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"

	"tyflo-push/pkg/notifier"
)

const (
	maxPerPage   = 100 // WordPress REST API upper bound
	maxBodyBytes = 4 << 20
	userAgent    = "tyflo-push/1.0 (+https://tyflopodcast.net)"
)

// FetchError indicates a failed request to a content source.
type FetchError struct {
	Err        error
	URL        string
	StatusCode int // 0 when no response was received
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 && e.StatusCode/100 != 2 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsFetchError checks if an error is a FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// retryable reports whether another attempt could succeed: transport
// failures, 429 and 5xx.
func retryable(err error) bool {
	var fe *FetchError
	if !errors.As(err, &fe) {
		return false
	}
	if fe.StatusCode == 0 {
		return true
	}
	return fe.StatusCode == http.StatusTooManyRequests || fe.StatusCode >= 500
}

// Client fetches post listings from WordPress sites.
type Client struct {
	client   *http.Client
	logger   *slog.Logger
	attempts uint
	delay    time.Duration
	jitter   time.Duration
}

// New creates a new client. The http.Client timeout bounds every request.
func New(client *http.Client, attempts uint, logger *slog.Logger) *Client {
	if attempts == 0 {
		attempts = 1
	}
	return &Client{
		client:   client,
		logger:   logger,
		attempts: attempts,
		delay:    time.Second,
		jitter:   time.Second,
	}
}

type wpPost struct {
	Title struct {
		Rendered string `json:"rendered"`
	} `json:"title"`
	Date string `json:"date"`
	Link string `json:"link"`
	ID   int64  `json:"id"`
}

// PostsURL builds the listing URL for a WordPress site.
func PostsURL(baseURL string, perPage int) string {
	perPage = max(1, min(perPage, maxPerPage))
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("context", "embed")
	q.Set("_fields", "id,date,title,link")
	return strings.TrimSuffix(baseURL, "/") + "/wp-json/wp/v2/posts?" + q.Encode()
}

// FetchLatest returns the newest posts of the site at baseURL, newest first
// as WordPress orders them.
func (c *Client) FetchLatest(ctx context.Context, baseURL string, perPage int) ([]notifier.Item, error) {
	listURL := PostsURL(baseURL, perPage)
	var items []notifier.Item
	var lastErr error

	err := retry.Do(
		func() error {
			lastErr = c.fetchOnce(ctx, listURL, &items)
			return lastErr
		},
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(c.jitter),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying fetch after error", "url", listURL, "attempt", n, "error", err)
		}),
		retry.RetryIf(retryable),
	)
	if err != nil {
		// Report the last attempt rather than the accumulated retry error.
		if lastErr != nil {
			return nil, fmt.Errorf("fetch latest posts: %w", lastErr)
		}
		return nil, fmt.Errorf("fetch latest posts: %w", err)
	}

	return items, nil
}

func (c *Client) fetchOnce(ctx context.Context, listURL string, items *[]notifier.Item) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.logger.Warn("HTTP request failed",
			"url", listURL,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return &FetchError{URL: listURL, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	c.logger.Debug("HTTP request completed",
		"url", listURL,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &FetchError{
			URL:        listURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("HTTP %d", resp.StatusCode),
		}
	}

	parsed, err := parsePosts(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		// A 2xx with an unreadable body will not improve on retry.
		return &FetchError{URL: listURL, StatusCode: resp.StatusCode, Err: err}
	}
	*items = parsed
	return nil
}

func parsePosts(r io.Reader) ([]notifier.Item, error) {
	var posts []wpPost
	if err := json.NewDecoder(r).Decode(&posts); err != nil {
		return nil, fmt.Errorf("decode posts: %w", err)
	}

	items := make([]notifier.Item, 0, len(posts))
	for _, p := range posts {
		if p.ID <= 0 {
			continue
		}
		items = append(items, notifier.Item{
			ID:          p.ID,
			Title:       PlainText(p.Title.Rendered),
			URL:         p.Link,
			PublishedAt: p.Date,
		})
	}
	return items, nil
}

// PlainText reduces a rendered HTML fragment to text: tags are stripped,
// entities decoded and whitespace collapsed.
func PlainText(rendered string) string {
	if !strings.ContainsAny(rendered, "<&") {
		return strings.Join(strings.Fields(rendered), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rendered))
	if err != nil {
		return strings.Join(strings.Fields(rendered), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
