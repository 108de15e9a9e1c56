package giveaways

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/onnwee/streambot/commands"
)

// Manager owns the giveaways and their management commands. Every state
// change is persisted before it becomes visible.
type Manager struct {
	store  Store
	reg    *commands.Registry
	sender commands.ChatSender
	newID  func() string
	pick   func(n int) int

	mu    sync.Mutex
	items map[string]Giveaway
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithPicker replaces the random winner selection; pick returns an index in [0, n).
func WithPicker(pick func(n int) int) ManagerOption { return func(m *Manager) { m.pick = pick } }

// NewManager wires a manager.
func NewManager(store Store, reg *commands.Registry, sender commands.ChatSender, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		reg:    reg,
		sender: sender,
		newID:  uuid.NewString,
		pick:   rand.IntN,
		items:  make(map[string]Giveaway),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Init loads stored giveaways and registers the commands of active ones.
func (m *Manager) Init(ctx context.Context) error {
	loaded, err := m.store.LoadGiveaways(ctx)
	if err != nil {
		return fmt.Errorf("load giveaways: %w", err)
	}
	m.mu.Lock()
	for id, g := range loaded {
		g.ID = id
		m.items[id] = g
	}
	m.mu.Unlock()

	for _, g := range m.All() {
		if !g.Active {
			continue
		}
		if err := m.register(g); err != nil {
			slog.Error("failed to register giveaway command", slog.String("giveaway", g.ID), slog.Any("err", err))
		}
	}
	slog.Info("giveaways loaded", slog.Int("count", len(loaded)))
	return nil
}

// Save creates or updates a giveaway and registers or unregisters its
// command to match Active.
func (m *Manager) Save(ctx context.Context, g Giveaway) (Giveaway, error) {
	g.Name = strings.TrimSpace(g.Name)
	if g.Name == "" {
		return Giveaway{}, fmt.Errorf("%w: name is required", ErrInvalidGiveaway)
	}
	if g.ID == "" {
		g.ID = m.newID()
	}
	if g.Entries == nil {
		g.Entries = []string{}
	}

	if g.Active {
		if err := m.register(g); err != nil {
			return Giveaway{}, err
		}
	}
	if err := m.store.SaveGiveaway(ctx, g); err != nil {
		if prev, ok := m.Get(g.ID); ok && prev.Active {
			_ = m.register(prev)
		} else {
			m.reg.Unregister(g.CommandID())
		}
		return Giveaway{}, fmt.Errorf("save giveaway %s: %w", g.ID, err)
	}
	if !g.Active {
		m.reg.Unregister(g.CommandID())
	}

	m.mu.Lock()
	m.items[g.ID] = g.clone()
	m.mu.Unlock()
	return g, nil
}

// Delete removes a giveaway and its command including any stored override.
func (m *Manager) Delete(ctx context.Context, id string) error {
	g, ok := m.Get(id)
	if !ok {
		return ErrUnknownGiveaway
	}
	if err := m.store.DeleteGiveaway(ctx, id); err != nil {
		return fmt.Errorf("delete giveaway %s: %w", id, err)
	}
	m.mu.Lock()
	delete(m.items, id)
	m.mu.Unlock()

	if err := m.reg.DeleteOverride(ctx, g.CommandID(), true); err != nil && !errors.Is(err, commands.ErrUnknownCommand) {
		return fmt.Errorf("delete giveaway command: %w", err)
	}
	return nil
}

// Get returns a copy of a giveaway by id.
func (m *Manager) Get(id string) (Giveaway, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.items[id]
	return g.clone(), ok
}

// All returns every giveaway sorted by name.
func (m *Manager) All() []Giveaway {
	m.mu.Lock()
	out := make([]Giveaway, 0, len(m.items))
	for _, g := range m.items {
		out = append(out, g.clone())
	}
	m.mu.Unlock()
	slices.SortFunc(out, func(a, b Giveaway) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// SetPrize changes the prize.
func (m *Manager) SetPrize(ctx context.Context, id, prize string) (Giveaway, error) {
	return m.update(ctx, id, func(g *Giveaway) error {
		g.Prize = strings.TrimSpace(prize)
		return nil
	})
}

// Start opens the giveaway with an empty entries list and no winner.
func (m *Manager) Start(ctx context.Context, id string) (Giveaway, error) {
	return m.update(ctx, id, func(g *Giveaway) error {
		g.Entries = []string{}
		g.Winner = ""
		g.IsOpen = true
		return nil
	})
}

// Open reopens the giveaway keeping its entries.
func (m *Manager) Open(ctx context.Context, id string) (Giveaway, error) {
	return m.update(ctx, id, func(g *Giveaway) error {
		g.IsOpen = true
		return nil
	})
}

// Close stops taking entries.
func (m *Manager) Close(ctx context.Context, id string) (Giveaway, error) {
	return m.update(ctx, id, func(g *Giveaway) error {
		g.IsOpen = false
		return nil
	})
}

// Draw picks a random winner and removes them from the entries so a redraw
// picks someone else.
func (m *Manager) Draw(ctx context.Context, id string) (Giveaway, error) {
	return m.update(ctx, id, func(g *Giveaway) error {
		if len(g.Entries) == 0 {
			return ErrNoEntries
		}
		i := m.pick(len(g.Entries))
		g.Winner = g.Entries[i]
		g.Entries = slices.Delete(g.Entries, i, i+1)
		return nil
	})
}

// Enter adds username to an open giveaway. It reports false when the user
// had already entered.
func (m *Manager) Enter(ctx context.Context, id, username string) (bool, error) {
	added := false
	_, err := m.update(ctx, id, func(g *Giveaway) error {
		if !g.IsOpen {
			return ErrClosed
		}
		if g.HasEntered(username) {
			return nil
		}
		g.Entries = append(g.Entries, username)
		added = true
		return nil
	})
	return added, err
}

// Leave removes username from the entries. It reports false when the user
// had not entered.
func (m *Manager) Leave(ctx context.Context, id, username string) (bool, error) {
	removed := false
	_, err := m.update(ctx, id, func(g *Giveaway) error {
		n := len(g.Entries)
		g.Entries = slices.DeleteFunc(g.Entries, func(e string) bool { return strings.EqualFold(e, username) })
		removed = len(g.Entries) != n
		return nil
	})
	return removed, err
}

// update applies fn to a copy of the giveaway, persists it and only then
// swaps it in. The lock is held across the store call so concurrent chat
// commands on one giveaway serialize.
func (m *Manager) update(ctx context.Context, id string, fn func(*Giveaway) error) (Giveaway, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[id]
	if !ok {
		return Giveaway{}, ErrUnknownGiveaway
	}
	next := cur.clone()
	if err := fn(&next); err != nil {
		return cur.clone(), err
	}
	if err := m.store.SaveGiveaway(ctx, next); err != nil {
		return cur.clone(), fmt.Errorf("save giveaway %s: %w", id, err)
	}
	m.items[id] = next
	return next.clone(), nil
}

func (m *Manager) register(g Giveaway) error {
	return m.reg.Register(commands.SystemCommand{
		Definition: Definition(g),
		Handler:    commandHandler{id: g.ID, m: m},
	})
}
