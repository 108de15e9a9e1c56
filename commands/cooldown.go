package commands

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/streambot/expiry"
)

// Cooldowns tracks global and per-user cooldowns for dispatched commands.
// A sub-command with its own cooldown is tracked separately from its parent.
type Cooldowns struct {
	// mu makes the check in Acquire and the start that follows one step.
	mu sync.Mutex
	m  *expiry.Map[string]
}

// NewCooldowns returns an empty tracker using the wall clock.
func NewCooldowns() *Cooldowns {
	return &Cooldowns{m: expiry.New[string]()}
}

func newCooldownsWithClock(now func() time.Time) *Cooldowns {
	return &Cooldowns{m: expiry.NewWithClock[string](now)}
}

func cooldownFor(def Definition, sc *SubCommand) (string, *Cooldown) {
	if sc != nil && sc.Cooldown != nil {
		return def.ID + ":" + sc.Identity(), sc.Cooldown
	}
	return def.ID, def.Cooldown
}

func globalKey(key string) string { return "global:" + key }

func userKey(key, username string) string { return "user:" + key + ":" + strings.ToLower(username) }

// Remaining returns the longer of the global and user cooldown left for
// username; ok is false when the command may run.
func (c *Cooldowns) Remaining(def Definition, sc *SubCommand, username string) (time.Duration, bool) {
	key, _ := cooldownFor(def, sc)
	g, gok := c.m.Remaining(globalKey(key))
	u, uok := c.m.Remaining(userKey(key, username))
	if !gok && !uok {
		return 0, false
	}
	return max(g, u), true
}

// Acquire starts the cooldowns for username unless one is already running.
// When blocked it returns the time left and false.
func (c *Cooldowns) Acquire(def Definition, sc *SubCommand, username string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if left, blocked := c.Remaining(def, sc, username); blocked {
		return left, false
	}
	c.start(def, sc, username)
	return 0, true
}

// Start begins the configured cooldowns for username.
func (c *Cooldowns) Start(def Definition, sc *SubCommand, username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start(def, sc, username)
}

func (c *Cooldowns) start(def Definition, sc *SubCommand, username string) {
	key, cd := cooldownFor(def, sc)
	if cd == nil {
		return
	}
	if cd.Global > 0 {
		c.m.Set(globalKey(key), time.Duration(cd.Global)*time.Second)
	}
	if cd.User > 0 {
		c.m.Set(userKey(key, username), time.Duration(cd.User)*time.Second)
	}
}

// Reset clears the global and user cooldowns of a command for username.
func (c *Cooldowns) Reset(def Definition, sc *SubCommand, username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, _ := cooldownFor(def, sc)
	c.m.Delete(globalKey(key))
	c.m.Delete(userKey(key, username))
}

// Run sweeps expired cooldowns every interval until ctx is done.
func (c *Cooldowns) Run(ctx context.Context, interval time.Duration) {
	c.m.Run(ctx, interval)
}
