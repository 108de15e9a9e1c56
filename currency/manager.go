package currency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/streambot/commands"
	"github.com/onnwee/streambot/telemetry"
)

// ErrUnknownCurrency is returned for ids that name no currency.
var ErrUnknownCurrency = errors.New("unknown currency")

// ErrInvalidCurrency is returned when a currency misses required fields.
var ErrInvalidCurrency = errors.New("invalid currency")

// Store persists currency definitions.
type Store interface {
	LoadCurrencies(ctx context.Context) (map[string]Currency, error)
	SaveCurrency(ctx context.Context, c Currency) error
	DeleteCurrency(ctx context.Context, id string) error
}

// StreamStatus reports whether the broadcaster is live.
type StreamStatus interface {
	IsLive(ctx context.Context) (bool, error)
}

// ChatStatus reports whether the chat connection is up.
type ChatStatus interface {
	Connected() bool
}

// Manager owns the currencies, their management commands and the payout
// timer.
type Manager struct {
	store   Store
	ledger  Ledger
	reg     *commands.Registry
	sender  commands.ChatSender
	viewers *ActiveViewers
	stream  StreamStatus
	chat    ChatStatus
	newID   func() string

	mu    sync.RWMutex
	items map[string]Currency
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithStreamStatus sets the live check used to pick online or offline payouts.
func WithStreamStatus(s StreamStatus) ManagerOption { return func(m *Manager) { m.stream = s } }

// WithChatStatus sets the chat connection check; payouts pause while disconnected.
func WithChatStatus(c ChatStatus) ManagerOption { return func(m *Manager) { m.chat = c } }

// NewManager wires a manager. viewers may be shared with other consumers of
// chat activity.
func NewManager(store Store, ledger Ledger, reg *commands.Registry, sender commands.ChatSender, viewers *ActiveViewers, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:   store,
		ledger:  ledger,
		reg:     reg,
		sender:  sender,
		viewers: viewers,
		newID:   uuid.NewString,
		items:   make(map[string]Currency),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Init loads stored currencies and registers the commands of active ones.
func (m *Manager) Init(ctx context.Context) error {
	loaded, err := m.store.LoadCurrencies(ctx)
	if err != nil {
		return fmt.Errorf("load currencies: %w", err)
	}
	m.mu.Lock()
	for id, c := range loaded {
		c.ID = id
		m.items[id] = c
	}
	m.mu.Unlock()

	for _, c := range m.All() {
		if !c.Active {
			continue
		}
		if err := m.register(c); err != nil {
			slog.Error("failed to register currency command", slog.String("currency", c.ID), slog.Any("err", err))
		}
	}
	slog.Info("currencies loaded", slog.Int("count", len(loaded)))
	return nil
}

// Save creates or updates a currency. An active currency gets its management
// command registered; an inactive one has it unregistered.
func (m *Manager) Save(ctx context.Context, c Currency) (Currency, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return Currency{}, fmt.Errorf("%w: name is required", ErrInvalidCurrency)
	}
	if c.Interval < 1 {
		return Currency{}, fmt.Errorf("%w: interval must be at least one minute", ErrInvalidCurrency)
	}
	if c.Transfer == "" {
		c.Transfer = TransferAllow
	}
	if c.ID == "" {
		c.ID = m.newID()
	}

	if c.Active {
		if err := m.register(c); err != nil {
			return Currency{}, err
		}
	}
	if err := m.store.SaveCurrency(ctx, c); err != nil {
		if prev, ok := m.Get(c.ID); ok && prev.Active {
			_ = m.register(prev)
		} else {
			m.reg.Unregister(c.CommandID())
		}
		return Currency{}, fmt.Errorf("save currency %s: %w", c.ID, err)
	}
	if !c.Active {
		m.reg.Unregister(c.CommandID())
	}

	m.mu.Lock()
	m.items[c.ID] = c
	m.mu.Unlock()
	return c, nil
}

// Delete removes a currency, its balances and its management command
// including any stored override.
func (m *Manager) Delete(ctx context.Context, id string) error {
	c, ok := m.Get(id)
	if !ok {
		return ErrUnknownCurrency
	}
	if err := m.store.DeleteCurrency(ctx, id); err != nil {
		return fmt.Errorf("delete currency %s: %w", id, err)
	}
	m.mu.Lock()
	delete(m.items, id)
	m.mu.Unlock()

	if err := m.ledger.DeleteCurrency(ctx, id); err != nil {
		slog.Error("failed to delete currency balances", slog.String("currency", id), slog.Any("err", err))
	}
	if err := m.reg.DeleteOverride(ctx, c.CommandID(), true); err != nil && !errors.Is(err, commands.ErrUnknownCommand) {
		return fmt.Errorf("delete currency command: %w", err)
	}
	return nil
}

// Get returns a currency by id.
func (m *Manager) Get(id string) (Currency, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.items[id]
	return c, ok
}

// All returns every currency sorted by name.
func (m *Manager) All() []Currency {
	m.mu.RLock()
	out := make([]Currency, 0, len(m.items))
	for _, c := range m.items {
		out = append(out, c)
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b Currency) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Ledger exposes the balance store.
func (m *Manager) Ledger() Ledger { return m.ledger }

// Viewers exposes the active viewer tracker.
func (m *Manager) Viewers() *ActiveViewers { return m.viewers }

// Observe records chat activity for payouts.
func (m *Manager) Observe(msg commands.ChatMessage) {
	if msg.Username == "" {
		return
	}
	m.viewers.Touch(msg.Username, msg.Roles)
}

func (m *Manager) register(c Currency) error {
	return m.reg.Register(commands.SystemCommand{
		Definition: Definition(c),
		Handler:    commandHandler{id: c.ID, m: m},
	})
}

func (m *Manager) say(ctx context.Context, text, whisperTo string) error {
	return m.sender.SendMessage(ctx, text, whisperTo, commands.AccountDefault)
}

// Run pays out currencies once a minute, starting at the next full minute,
// until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	now := time.Now()
	wait := now.Truncate(time.Minute).Add(time.Minute).Sub(now)
	slog.Debug("currency timer scheduled", slog.Duration("in", wait))

	select {
	case <-ctx.Done():
		return
	case <-time.After(wait):
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		m.Payout(ctx, time.Now())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Payout applies one timer tick at now: every active currency whose
// interval divides the current minute pays its online or offline amount to
// the active viewers, plus role bonuses.
func (m *Manager) Payout(ctx context.Context, now time.Time) {
	if m.chat != nil && !m.chat.Connected() {
		slog.Debug("currency payout skipped, chat not connected")
		return
	}
	live := true
	if m.stream != nil {
		var err error
		if live, err = m.stream.IsLive(ctx); err != nil {
			slog.Warn("failed to read stream status, treating as offline", slog.Any("err", err))
			live = false
		}
	}
	m.viewers.Sweep()
	viewers := m.viewers.Active()

	for _, c := range m.All() {
		if !c.Active || c.Interval < 1 || now.Minute()%c.Interval != 0 {
			continue
		}
		amount := c.Payout
		if !live {
			if c.Offline == 0 {
				continue
			}
			amount = c.Offline
		}
		slog.Info("currency payout", slog.String("currency", c.Name), slog.Int("amount", amount), slog.Int("viewers", len(viewers)))
		if err := m.ledger.AdjustAll(ctx, c.ID, viewers, amount, c.Limit); err != nil {
			slog.Error("failed to pay out currency", slog.String("currency", c.ID), slog.Any("err", err))
			continue
		}
		telemetry.Inc(telemetry.CurrencyPayouts)
		for role, bonus := range c.Bonus {
			if bonus == 0 {
				continue
			}
			if err := m.ledger.AdjustAll(ctx, c.ID, m.viewers.WithRole(role), bonus, c.Limit); err != nil {
				slog.Error("failed to pay out currency bonus", slog.String("currency", c.ID), slog.String("role", role), slog.Any("err", err))
			}
		}
	}
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]Currency
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{items: make(map[string]Currency)} }

func (s *MemoryStore) LoadCurrencies(ctx context.Context) (map[string]Currency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Currency, len(s.items))
	for k, v := range s.items {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) SaveCurrency(ctx context.Context, c Currency) error {
	s.mu.Lock()
	s.items[c.ID] = c
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DeleteCurrency(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
	return nil
}
