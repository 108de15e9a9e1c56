// Package giveaways runs chat giveaways. Every active giveaway owns a
// management command through which moderators set the prize, open and
// close entries and draw a winner, and viewers enter or leave.
package giveaways

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
)

var (
	// ErrUnknownGiveaway is returned for ids that name no giveaway.
	ErrUnknownGiveaway = errors.New("unknown giveaway")
	// ErrInvalidGiveaway is returned when a giveaway misses required fields.
	ErrInvalidGiveaway = errors.New("invalid giveaway")
	// ErrClosed is returned when entering a giveaway that does not take entries.
	ErrClosed = errors.New("giveaway is closed")
	// ErrNoEntries is returned when drawing from an empty giveaway.
	ErrNoEntries = errors.New("giveaway has no entries")
)

// Giveaway is a saved giveaway.
type Giveaway struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Prize   string   `json:"prize"`
	Entries []string `json:"entries"`
	Winner  string   `json:"winner,omitempty"`
	IsOpen  bool     `json:"isOpen"`
	Active  bool     `json:"active"`
}

// CommandID is the id of the management command spawned for g.
func (g Giveaway) CommandID() string { return "firebot:giveaways:" + g.ID }

// Trigger is the default trigger: the name lowercased with whitespace runs
// replaced by dashes.
func (g Giveaway) Trigger() string {
	return "!" + strings.ToLower(strings.Join(strings.Fields(g.Name), "-"))
}

// HasEntered reports whether username is in the entries list.
func (g Giveaway) HasEntered(username string) bool {
	return slices.ContainsFunc(g.Entries, func(e string) bool { return strings.EqualFold(e, username) })
}

func (g Giveaway) clone() Giveaway {
	g.Entries = slices.Clone(g.Entries)
	return g
}

// Store persists giveaways.
type Store interface {
	LoadGiveaways(ctx context.Context) (map[string]Giveaway, error)
	SaveGiveaway(ctx context.Context, g Giveaway) error
	DeleteGiveaway(ctx context.Context, id string) error
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]Giveaway
	// FailSaves makes SaveGiveaway fail, for tests.
	FailSaves bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{items: make(map[string]Giveaway)} }

func (s *MemoryStore) LoadGiveaways(ctx context.Context) (map[string]Giveaway, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Giveaway, len(s.items))
	for k, v := range s.items {
		out[k] = v.clone()
	}
	return out, nil
}

func (s *MemoryStore) SaveGiveaway(ctx context.Context, g Giveaway) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSaves {
		return errors.New("memory store: save disabled")
	}
	s.items[g.ID] = g.clone()
	return nil
}

func (s *MemoryStore) DeleteGiveaway(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
	return nil
}
