// Package notifier contains the core domain types for the tyflo-push notification service.
package notifier

import (
	"fmt"
	"time"
)

// SchemaVersion is the version of the persisted state document.
const SchemaVersion = 1

// MaxHistory bounds every dedup history list.
const MaxHistory = 500

// Category is the axis along which preferences and dedup history are partitioned.
type Category string

// Notification categories.
const (
	CategoryPodcast  Category = "podcast"
	CategoryArticle  Category = "article"
	CategoryLive     Category = "live"
	CategorySchedule Category = "schedule"
)

// Categories lists every valid category.
var Categories = []Category{CategoryPodcast, CategoryArticle, CategoryLive, CategorySchedule}

// Valid reports whether c is one of the four known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryPodcast, CategoryArticle, CategoryLive, CategorySchedule:
		return true
	}
	return false
}

// Preferences holds the per-category opt-in flags of a subscriber.
type Preferences struct {
	Podcast  bool `json:"podcast"`
	Article  bool `json:"article"`
	Live     bool `json:"live"`
	Schedule bool `json:"schedule"`
}

// AllEnabled returns preferences with every category turned on.
func AllEnabled() Preferences {
	return Preferences{Podcast: true, Article: true, Live: true, Schedule: true}
}

// Enabled reports whether the category is switched on.
// It panics on an unknown category: callers only pass the four constants.
func (p Preferences) Enabled(c Category) bool {
	switch c {
	case CategoryPodcast:
		return p.Podcast
	case CategoryArticle:
		return p.Article
	case CategoryLive:
		return p.Live
	case CategorySchedule:
		return p.Schedule
	}
	panic(fmt.Sprintf("notifier: unknown category %q", c))
}

// Subscriber is a registered device or installation.
type Subscriber struct {
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
	LastSeenAt     time.Time   `json:"lastSeenAt"`
	LastNotifiedAt time.Time   `json:"lastNotifiedAt,omitzero"`
	Token          string      `json:"token"`
	Env            string      `json:"env"`
	Prefs          Preferences `json:"prefs"`
}

// Sent holds the dedup history per category, most recent first.
type Sent struct {
	Tyflopodcast []int64  `json:"tyflopodcast"` // WordPress post ids from the podcast source
	Tyfloswiat   []int64  `json:"tyfloswiat"`   // WordPress post ids from the article source
	Live         []string `json:"live"`         // live event keys
	Schedule     []string `json:"schedule"`     // schedule update keys
}

// State is the single persisted document.
type State struct {
	CreatedAt     time.Time              `json:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`
	Tokens        map[string]*Subscriber `json:"tokens"`
	Sent          Sent                   `json:"sent"`
	SchemaVersion int                    `json:"schemaVersion"`
}

// NewState returns an empty document stamped with now.
func NewState(now time.Time) *State {
	s := &State{
		SchemaVersion: SchemaVersion,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.Normalize()
	return s
}

// Normalize replaces nil collections with empty ones so the document always
// serializes with explicit {} and [] values.
func (s *State) Normalize() {
	if s.Tokens == nil {
		s.Tokens = make(map[string]*Subscriber)
	}
	for token, sub := range s.Tokens {
		if sub == nil {
			delete(s.Tokens, token)
			continue
		}
		if sub.Token == "" {
			sub.Token = token
		}
	}
	if s.Sent.Tyflopodcast == nil {
		s.Sent.Tyflopodcast = []int64{}
	}
	if s.Sent.Tyfloswiat == nil {
		s.Sent.Tyfloswiat = []int64{}
	}
	if s.Sent.Live == nil {
		s.Sent.Live = []string{}
	}
	if s.Sent.Schedule == nil {
		s.Sent.Schedule = []string{}
	}
	if s.SchemaVersion == 0 {
		s.SchemaVersion = SchemaVersion
	}
}

// Item is one entry returned by a content source.
type Item struct {
	PublishedAt string
	Title       string
	URL         string
	ID          int64
}

// Payload is the notification body handed to the delivery provider.
type Payload struct {
	Kind        string `json:"kind"`
	Title       string `json:"title,omitempty"`
	URL         string `json:"url,omitempty"`
	PublishedAt string `json:"publishedAt,omitempty"`
	StartedAt   string `json:"startedAt,omitempty"`
	EndedAt     string `json:"endedAt,omitempty"`
	UpdatedAt   string `json:"updatedAt,omitempty"`
	ID          int64  `json:"id,omitempty"`
}

// PushFront inserts v at the head of list, dropping any earlier occurrence,
// and truncates the result to limit entries.
func PushFront[T comparable](list []T, v T, limit int) []T {
	out := make([]T, 0, min(len(list)+1, limit))
	out = append(out, v)
	for _, x := range list {
		if len(out) >= limit {
			break
		}
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// Contains reports whether v is present in list.
func Contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
