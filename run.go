package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/api/option"

	"tyflo-push/config"
	"tyflo-push/fanout"
	"tyflo-push/metrics"
	"tyflo-push/poll"
	"tyflo-push/push"
	"tyflo-push/registry"
	"tyflo-push/server"
	"tyflo-push/source"
	"tyflo-push/storage"
)

const shutdownTimeout = 30 * time.Second

// app holds the wired components shared by the commands.
type app struct {
	store    *storage.Store
	registry *registry.Registry
	fanout   *fanout.Engine
	monitor  *poll.Monitor
	metrics  *prometheus.Registry
	close    func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	backend, closeBackend, err := newBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	store := storage.New(backend, logger)
	if err := store.EnsureDirectory(ctx); err != nil {
		closeBackend()
		return nil, err
	}

	salt := cfg.TokenLogSalt
	if salt == "" {
		salt = uuid.NewString()
		logger.Info("No TOKEN_LOG_SALT set, token references are only stable for this process")
	}
	hasher := push.NewHasher(salt)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewCollector(reg)

	engine := fanout.New(store, push.NewLogProvider(hasher, logger), recorder, logger)
	fetcher := source.New(&http.Client{Timeout: cfg.FetchTimeout}, uint(cfg.FetchAttempts), logger)
	monitor := poll.New(fetcher, store, engine, recorder, logger, cfg.PollPerPage,
		poll.Tyflopodcast(cfg.TyflopodcastURL),
		poll.Tyfloswiat(cfg.TyfloswiatURL))

	return &app{
		store:    store,
		registry: registry.New(store, hasher.TokenRef, logger),
		fanout:   engine,
		monitor:  monitor,
		metrics:  reg,
		close:    closeBackend,
	}, nil
}

// newBackend picks Cloud Storage when a bucket is configured and the local
// file otherwise.
func newBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Backend, func(), error) {
	if cfg.StateBucket == "" {
		logger.Info("Using local state file", "path", cfg.StatePath)
		return storage.NewFileBackend(cfg.StatePath), func() {}, nil
	}

	var opts []option.ClientOption
	if cfg.GoogleCredentials != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.GoogleCredentials)))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create storage client: %w", err)
	}
	logger.Info("Using Cloud Storage state", "bucket", cfg.StateBucket, "object", cfg.StateObject())

	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close storage client", "error", err)
		}
	}
	return storage.NewGCSBackend(client, cfg.StateBucket, cfg.StateObject(), logger), closeFn, nil
}

// lockDataDir takes the instance lock for commands that write state.
func lockDataDir(cfg *config.Config, logger *slog.Logger) (unlock func(), err error) {
	lock, err := storage.AcquireInstanceLock(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("Failed to release instance lock", "error", err)
		}
	}, nil
}

func runServe(parent context.Context, cfg *config.Config) error {
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	unlock, err := lockDataDir(cfg, logger)
	if err != nil {
		return err
	}
	defer unlock()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if cfg.WebhookSecret == "" {
		logger.Warn("WEBHOOK_SECRET is empty, webhook endpoints will reject every request")
	}

	srv := server.New(&server.Config{
		Registry:           a.registry,
		Notifier:           a.fanout,
		Logger:             logger,
		Metrics:            metrics.Handler(a.metrics),
		Version:            version,
		WebhookSecret:      cfg.WebhookSecret,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})

	waitPoller := a.monitor.Start(ctx, cfg.PollInterval)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe(cfg.Addr())
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			stop()
			waitPoller()
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", "error", err)
	}
	waitPoller()

	logger.Info("Shutdown complete")
	return nil
}

func runPollOnce(parent context.Context, cfg *config.Config) error {
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	unlock, err := lockDataDir(cfg, logger)
	if err != nil {
		return err
	}
	defer unlock()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.monitor.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("poll: %w", err)
	}
	logger.Info("Poll finished", "new_items", res.New, "notified", res.Notified, "failed_sources", res.Failed)
	return nil
}

func runHealthcheck(ctx context.Context, cfg *config.Config, out io.Writer) error {
	host := cfg.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	url := "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Port)) + "/health"

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var body struct {
		Version string `json:"version"`
		OK      bool   `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !body.OK {
		return fmt.Errorf("unhealthy: HTTP %d", resp.StatusCode)
	}
	_, err = fmt.Fprintf(out, "ok (version %s)\n", body.Version)
	return err
}
