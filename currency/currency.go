// Package currency manages virtual chat currencies: their definitions, the
// per-viewer ledger, the management chat command spawned for every
// currency, and the periodic payout to active viewers.
package currency

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// TransferPolicy controls whether viewers may give currency to each other.
type TransferPolicy string

const (
	TransferAllow    TransferPolicy = "Allow"
	TransferDisallow TransferPolicy = "Disallow"
)

// Currency is a user-defined currency.
type Currency struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
	// Payout is paid to active viewers every Interval minutes while live.
	Payout int `json:"payout"`
	// Offline is paid instead of Payout while offline; 0 disables offline payouts.
	Offline  int            `json:"offline"`
	Interval int            `json:"interval"`
	Limit    int            `json:"limit"`
	Transfer TransferPolicy `json:"transfer"`
	// Bonus maps a chat role to an extra payout.
	Bonus map[string]int `json:"bonus,omitempty"`
}

// CommandID is the id of the management command spawned for c.
func (c Currency) CommandID() string { return "firebot:currency:" + c.ID }

// Trigger is the default trigger of the management command: the name,
// lowercased, with whitespace runs replaced by dashes.
func (c Currency) Trigger() string {
	return "!" + strings.ToLower(strings.Join(strings.Fields(c.Name), "-"))
}

// ErrInsufficientFunds is returned by Debit when the balance is too low.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Ledger stores balances per currency and viewer. Usernames are compared
// case-insensitively and balances never go below zero.
type Ledger interface {
	Balance(ctx context.Context, currencyID, username string) (int, error)
	// Adjust adds delta and returns the new balance, clamped to [0, limit]
	// when limit is positive.
	Adjust(ctx context.Context, currencyID, username string, delta, limit int) (int, error)
	// Debit atomically removes amount or fails with ErrInsufficientFunds.
	Debit(ctx context.Context, currencyID, username string, amount int) (int, error)
	AdjustAll(ctx context.Context, currencyID string, usernames []string, delta, limit int) error
	DeleteCurrency(ctx context.Context, currencyID string) error
}

// MemoryLedger is an in-memory Ledger.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]map[string]int
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[string]map[string]int)}
}

func (l *MemoryLedger) Balance(ctx context.Context, currencyID, username string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[currencyID][strings.ToLower(username)], nil
}

func (l *MemoryLedger) Adjust(ctx context.Context, currencyID, username string, delta, limit int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.adjustLocked(currencyID, username, delta, limit), nil
}

func (l *MemoryLedger) Debit(ctx context.Context, currencyID, username string, amount int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balances[currencyID][strings.ToLower(username)]
	if bal < amount {
		return bal, ErrInsufficientFunds
	}
	return l.adjustLocked(currencyID, username, -amount, 0), nil
}

func (l *MemoryLedger) AdjustAll(ctx context.Context, currencyID string, usernames []string, delta, limit int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, u := range usernames {
		l.adjustLocked(currencyID, u, delta, limit)
	}
	return nil
}

func (l *MemoryLedger) DeleteCurrency(ctx context.Context, currencyID string) error {
	l.mu.Lock()
	delete(l.balances, currencyID)
	l.mu.Unlock()
	return nil
}

func (l *MemoryLedger) adjustLocked(currencyID, username string, delta, limit int) int {
	m, ok := l.balances[currencyID]
	if !ok {
		m = make(map[string]int)
		l.balances[currencyID] = m
	}
	key := strings.ToLower(username)
	m[key] = Clamp(m[key]+delta, limit)
	return m[key]
}

// Clamp bounds a balance to zero and, when limit is positive, to limit.
func Clamp(balance, limit int) int {
	if balance < 0 {
		return 0
	}
	if limit > 0 && balance > limit {
		return limit
	}
	return balance
}
