// Package push defines the delivery seam between fan-out and a push gateway.
package push

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	"tyflo-push/pkg/notifier"
)

// tokenRefLen is the number of hex characters of the token HMAC kept in logs.
const tokenRefLen = 12

// Delivery is one notification addressed to one subscriber.
type Delivery struct {
	Token    string
	Env      string
	Category notifier.Category
	Payload  notifier.Payload
}

// Provider defines the interface for push delivery implementations.
type Provider interface {
	// Deliver hands one notification to the transport.
	Deliver(ctx context.Context, d Delivery) error
}

// Hasher derives log-safe references from raw tokens.
type Hasher struct {
	salt []byte
}

// NewHasher creates a hasher keyed with salt.
func NewHasher(salt string) *Hasher {
	return &Hasher{salt: []byte(salt)}
}

// TokenRef returns a short HMAC-SHA256 fragment of token. The same token
// always maps to the same fragment for a given salt, so deliveries can be
// correlated in logs without exposing the token.
func (h *Hasher) TokenRef(token string) string {
	mac := hmac.New(sha256.New, h.salt)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))[:tokenRefLen]
}

// LogProvider records deliveries in the log instead of sending them.
type LogProvider struct {
	hasher *Hasher
	logger *slog.Logger
}

// NewLogProvider creates a new logging provider.
func NewLogProvider(hasher *Hasher, logger *slog.Logger) *LogProvider {
	return &LogProvider{
		hasher: hasher,
		logger: logger,
	}
}

// Deliver logs the notification.
func (p *LogProvider) Deliver(ctx context.Context, d Delivery) error {
	p.logger.InfoContext(ctx, "PUSH DELIVERY",
		"token_ref", p.hasher.TokenRef(d.Token),
		"env", d.Env,
		"category", string(d.Category),
		"kind", d.Payload.Kind,
		"id", d.Payload.ID,
		"title", d.Payload.Title,
		"url", d.Payload.URL)
	return nil
}
