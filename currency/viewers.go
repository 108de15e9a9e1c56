package currency

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/streambot/expiry"
	"github.com/onnwee/streambot/telemetry"
)

// DefaultActiveTimeout is how long a chatter counts as active after their
// last message.
const DefaultActiveTimeout = 5 * time.Minute

// ActiveViewers tracks recent chatters and their roles.
type ActiveViewers struct {
	timeout time.Duration
	seen    *expiry.Map[string]

	mu    sync.Mutex
	roles map[string][]string
}

// NewActiveViewers returns a tracker that forgets chatters after timeout.
func NewActiveViewers(timeout time.Duration) *ActiveViewers {
	return newActiveViewersWithClock(timeout, time.Now)
}

func newActiveViewersWithClock(timeout time.Duration, now func() time.Time) *ActiveViewers {
	if timeout <= 0 {
		timeout = DefaultActiveTimeout
	}
	return &ActiveViewers{
		timeout: timeout,
		seen:    expiry.NewWithClock[string](now),
		roles:   make(map[string][]string),
	}
}

// Touch marks username as active with the given roles.
func (a *ActiveViewers) Touch(username string, roles []string) {
	key := strings.ToLower(username)
	a.seen.Set(key, a.timeout)
	a.mu.Lock()
	a.roles[key] = slices.Clone(roles)
	a.mu.Unlock()
}

// Active returns the currently active usernames, sorted.
func (a *ActiveViewers) Active() []string {
	keys := a.seen.Keys()
	slices.Sort(keys)
	telemetry.SetActiveViewers(len(keys))
	return keys
}

// WithRole returns the active usernames that carry role.
func (a *ActiveViewers) WithRole(role string) []string {
	active := a.Active()
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, u := range active {
		if slices.Contains(a.roles[u], role) {
			out = append(out, u)
		}
	}
	return out
}

// Sweep forgets expired chatters.
func (a *ActiveViewers) Sweep() {
	a.seen.Sweep()
	live := make(map[string]bool)
	for _, k := range a.seen.Keys() {
		live[k] = true
	}
	a.mu.Lock()
	for k := range a.roles {
		if !live[k] {
			delete(a.roles, k)
		}
	}
	a.mu.Unlock()
}
