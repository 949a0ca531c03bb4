// Package registry manages subscriber registrations in the state document.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tyflo-push/pkg/notifier"
	"tyflo-push/storage"
)

// Token length bounds, after trimming.
const (
	MinTokenLength = 16
	MaxTokenLength = 256
)

// DefaultEnv is recorded for new subscribers that do not report an environment.
const DefaultEnv = "unknown"

// Store is the persistence surface the registry needs.
type Store interface {
	Load(ctx context.Context) *notifier.State
	Mutate(ctx context.Context, fn func(*notifier.State) error) error
}

// Registry creates, updates and removes subscribers.
type Registry struct {
	store    Store
	logger   *slog.Logger
	tokenRef func(token string) string
	now      func() time.Time
}

// New creates a new registry. tokenRef maps raw tokens to log-safe references.
func New(store Store, tokenRef func(string) string, logger *slog.Logger) *Registry {
	return &Registry{
		store:    store,
		logger:   logger,
		tokenRef: tokenRef,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ValidateToken trims token and checks its length.
func ValidateToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", &notifier.ValidationError{Field: "token", Reason: "missing"}
	}
	if n := len(token); n < MinTokenLength || n > MaxTokenLength {
		return "", &notifier.ValidationError{
			Field:  "token",
			Reason: fmt.Sprintf("length %d outside %d..%d", n, MinTokenLength, MaxTokenLength),
		}
	}
	return token, nil
}

// NormalizePreferences coerces a decoded JSON value into preferences. Every
// field that is missing or not a boolean defaults to true, and any value
// that is not an object yields all categories enabled.
func NormalizePreferences(raw any) notifier.Preferences {
	prefs := notifier.AllEnabled()
	m, ok := raw.(map[string]any)
	if !ok {
		return prefs
	}
	flag := func(key string) bool {
		if b, ok := m[key].(bool); ok {
			return b
		}
		return true
	}
	prefs.Podcast = flag("podcast")
	prefs.Article = flag("article")
	prefs.Live = flag("live")
	prefs.Schedule = flag("schedule")
	return prefs
}

// Register creates or refreshes a subscriber. An existing record keeps its
// createdAt; env is only overwritten when a non-empty value is supplied.
func (r *Registry) Register(ctx context.Context, token, env string, prefs notifier.Preferences) error {
	token, err := ValidateToken(token)
	if err != nil {
		return err
	}
	env = strings.TrimSpace(env)

	var created bool
	err = r.store.Mutate(ctx, func(state *notifier.State) error {
		now := r.now()
		sub, ok := state.Tokens[token]
		if !ok {
			created = true
			if env == "" {
				env = DefaultEnv
			}
			state.Tokens[token] = &notifier.Subscriber{
				Token:      token,
				Env:        env,
				Prefs:      prefs,
				CreatedAt:  now,
				UpdatedAt:  now,
				LastSeenAt: now,
			}
			return nil
		}
		if env != "" {
			sub.Env = env
		}
		sub.Prefs = prefs
		sub.UpdatedAt = now
		sub.LastSeenAt = now
		return nil
	})
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}

	r.logger.Info("Subscriber registered",
		"token_ref", r.tokenRef(token),
		"env", env,
		"created", created,
		"prefs", prefs)
	return nil
}

// UpdatePreferences replaces the preferences of a registered subscriber.
func (r *Registry) UpdatePreferences(ctx context.Context, token string, prefs notifier.Preferences) error {
	token, err := ValidateToken(token)
	if err != nil {
		return err
	}

	err = r.store.Mutate(ctx, func(state *notifier.State) error {
		sub, ok := state.Tokens[token]
		if !ok {
			return &notifier.NotFoundError{Token: token}
		}
		now := r.now()
		sub.Prefs = prefs
		sub.UpdatedAt = now
		sub.LastSeenAt = now
		return nil
	})
	if err != nil {
		if notifier.IsNotFound(err) {
			return err
		}
		return fmt.Errorf("update preferences: %w", err)
	}

	r.logger.Info("Preferences updated", "token_ref", r.tokenRef(token), "prefs", prefs)
	return nil
}

// Unregister removes a subscriber. Unknown tokens are not an error.
func (r *Registry) Unregister(ctx context.Context, token string) error {
	token, err := ValidateToken(token)
	if err != nil {
		return err
	}

	var removed bool
	err = r.store.Mutate(ctx, func(state *notifier.State) error {
		if _, ok := state.Tokens[token]; !ok {
			return storage.ErrSkipSave
		}
		delete(state.Tokens, token)
		removed = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("unregister: %w", err)
	}

	r.logger.Info("Subscriber unregistered", "token_ref", r.tokenRef(token), "removed", removed)
	return nil
}

// Get returns a copy of the subscriber record for token.
func (r *Registry) Get(ctx context.Context, token string) (notifier.Subscriber, error) {
	token, err := ValidateToken(token)
	if err != nil {
		return notifier.Subscriber{}, err
	}
	sub, ok := r.store.Load(ctx).Tokens[token]
	if !ok {
		return notifier.Subscriber{}, &notifier.NotFoundError{Token: token}
	}
	return *sub, nil
}

// Count returns the number of registered subscribers.
func (r *Registry) Count(ctx context.Context) int {
	return len(r.store.Load(ctx).Tokens)
}
