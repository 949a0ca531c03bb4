// Package fanout delivers one notification to every subscriber opted in to its category.
package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"tyflo-push/metrics"
	"tyflo-push/pkg/notifier"
	"tyflo-push/push"
	"tyflo-push/storage"
)

// Store is the persistence surface the engine needs.
type Store interface {
	Mutate(ctx context.Context, fn func(*notifier.State) error) error
}

// Engine matches subscribers against a category and hands deliveries to the provider.
type Engine struct {
	store    Store
	provider push.Provider
	metrics  metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a new fan-out engine.
func New(store Store, provider push.Provider, recorder metrics.Recorder, logger *slog.Logger) *Engine {
	if recorder == nil {
		recorder = metrics.Discard{}
	}
	return &Engine{
		store:    store,
		provider: provider,
		metrics:  recorder,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Apply delivers payload to every subscriber in state whose preference for
// category is on, stamps their lastNotifiedAt and returns the matched count.
// The caller is responsible for saving state. Provider errors are logged and
// counted but never returned. Apply panics on an unknown category.
func (e *Engine) Apply(ctx context.Context, state *notifier.State, category notifier.Category, payload notifier.Payload) int {
	if !category.Valid() {
		panic(fmt.Sprintf("fanout: unknown category %q", category))
	}

	tokens := make([]string, 0, len(state.Tokens))
	for token, sub := range state.Tokens {
		if sub != nil && sub.Prefs.Enabled(category) {
			tokens = append(tokens, token)
		}
	}
	slices.Sort(tokens)

	now := e.now()
	failed := 0
	for _, token := range tokens {
		sub := state.Tokens[token]
		err := e.provider.Deliver(ctx, push.Delivery{
			Token:    token,
			Env:      sub.Env,
			Category: category,
			Payload:  payload,
		})
		if err != nil {
			failed++
			e.metrics.RecordDeliveryFailure(string(category))
			e.logger.Warn("Delivery failed", "category", category, "kind", payload.Kind, "error", err)
		}
		sub.LastNotifiedAt = now
	}

	e.metrics.RecordNotified(string(category), len(tokens))
	e.logger.Info("Fan-out complete",
		"category", category,
		"kind", payload.Kind,
		"matched", len(tokens),
		"failed", failed)

	return len(tokens)
}

// Notify runs Apply inside one load-save cycle. Only persistence errors are returned.
func (e *Engine) Notify(ctx context.Context, category notifier.Category, payload notifier.Payload) (int, error) {
	var matched int
	err := e.store.Mutate(ctx, func(state *notifier.State) error {
		matched = e.Apply(ctx, state, category, payload)
		return nil
	})
	if err != nil {
		return matched, fmt.Errorf("save after fan-out: %w", err)
	}
	return matched, nil
}

// NotifyOnce fans out payload unless key is already recorded in the
// category's event history, then records key. It reports whether a fan-out
// happened. Only live and schedule events carry string keys.
func (e *Engine) NotifyOnce(ctx context.Context, category notifier.Category, key string, payload notifier.Payload) (sent bool, matched int, err error) {
	err = e.store.Mutate(ctx, func(state *notifier.State) error {
		history := eventHistory(state, category)
		if notifier.Contains(*history, key) {
			return storage.ErrSkipSave
		}
		matched = e.Apply(ctx, state, category, payload)
		*history = notifier.PushFront(*history, key, notifier.MaxHistory)
		sent = true
		return nil
	})
	if err != nil {
		return sent, matched, fmt.Errorf("save after fan-out: %w", err)
	}
	return sent, matched, nil
}

func eventHistory(state *notifier.State, category notifier.Category) *[]string {
	switch category {
	case notifier.CategoryLive:
		return &state.Sent.Live
	case notifier.CategorySchedule:
		return &state.Sent.Schedule
	}
	panic(fmt.Sprintf("fanout: category %q has no event history", category))
}
