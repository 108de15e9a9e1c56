package commands

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	Text      string
	WhisperTo string
	As        Account
}

type fakeSender struct {
	mu        sync.Mutex
	sent      []sentMessage
	deleted   []string
	deleteErr error
}

func (f *fakeSender) SendMessage(ctx context.Context, text, whisperTo string, as Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{Text: text, WhisperTo: whisperTo, As: as})
	return nil
}

func (f *fakeSender) DeleteMessage(ctx context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return f.deleteErr
}

func (f *fakeSender) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, m := range f.sent {
		out[i] = m.Text
	}
	return out
}

var errStoreDown = errors.New("store down")

// failingStore fails every write.
type failingStore struct {
	*MemoryStore
}

func (failingStore) SaveOverride(ctx context.Context, o Override) error { return errStoreDown }
func (failingStore) DeleteOverride(ctx context.Context, id string) error { return errStoreDown }
func (failingStore) Save(ctx context.Context, cmd CustomCommand) error { return errStoreDown }
func (failingStore) Delete(ctx context.Context, id string) error { return errStoreDown }

func newTestRegistry(t *testing.T, store OverrideStore) *Registry {
	t.Helper()
	if store == nil {
		store = NewMemoryStore()
	}
	reg := NewRegistry(store)
	require.NoError(t, reg.Init(context.Background()))
	t.Cleanup(reg.Close)
	return reg
}

func nopHandler() Handler {
	return HandlerFunc(func(ctx context.Context, evt *Event) error { return nil })
}

func uptimeDefinition() Definition {
	return Definition{
		ID:          "firebot:uptime",
		Name:        "Uptime",
		Description: "Displays how long the stream has been live in chat.",
		Trigger:     "!uptime",
		Active:      true,
		Cooldown:    &Cooldown{User: 0, Global: 15},
		Options: map[string]Option{
			"uptimeDisplayTemplate": {
				Type:    "string",
				Title:   "Output Template",
				Default: "Broadcaster has been live for {uptime}.",
			},
		},
	}
}

func bidDefinition() Definition {
	return Definition{
		ID:          "firebot:bid",
		Name:        "Bid",
		Trigger:     "!bid",
		Active:      true,
		Description: "Allows viewers to participate in the Bid game.",
		Options: map[string]Option{
			"minBid": {Type: "number", Title: "Minimum bid", Default: 1},
		},
		SubCommands: []SubCommand{
			{ID: "start", Arg: "start", Usage: "start [amount]", MinArgs: ptr(2),
				RestrictionData: &RestrictionData{Restrictions: []Restriction{{Type: RestrictionPermissions, Mode: PermissionModeRoles, RoleIDs: []string{RoleBroadcaster, RoleMod}}}}},
			{ID: "stop", Arg: "stop", Usage: "stop"},
			{ID: "bidAmount", Arg: `\d+`, Regex: true, Usage: "[amount]"},
		},
	}
}
