package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/onnwee/streambot/commands"
)

// SentMessage is one message captured by ChatRecorder.
type SentMessage struct {
	Text      string
	WhisperTo string
	As        commands.Account
}

// ChatRecorder is a commands.ChatSender that records outbound chat.
type ChatRecorder struct {
	mu      sync.Mutex
	Sent    []SentMessage
	Deleted []string
}

func (c *ChatRecorder) SendMessage(ctx context.Context, text, whisperTo string, as commands.Account) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Sent = append(c.Sent, SentMessage{Text: text, WhisperTo: whisperTo, As: as})
	return nil
}

func (c *ChatRecorder) DeleteMessage(ctx context.Context, messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Deleted = append(c.Deleted, messageID)
	return nil
}

// Messages returns the texts sent so far.
func (c *ChatRecorder) Messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.Sent))
	for i, m := range c.Sent {
		out[i] = m.Text
	}
	return out
}

// Last returns the most recent message, or the zero value.
func (c *ChatRecorder) Last() SentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Sent) == 0 {
		return SentMessage{}
	}
	return c.Sent[len(c.Sent)-1]
}

// Reset forgets everything recorded.
func (c *ChatRecorder) Reset() {
	c.mu.Lock()
	c.Sent, c.Deleted = nil, nil
	c.mu.Unlock()
}

// Core is an in-memory command core for tests.
type Core struct {
	Registry   *commands.Registry
	Custom     *commands.CustomStore
	Dispatcher *commands.Dispatcher
}

// NewCore returns an initialized in-memory registry, a custom store attached
// to it and a dispatcher that sends through chat.
func NewCore(t *testing.T, chat commands.ChatSender, opts ...commands.DispatcherOption) Core {
	t.Helper()
	mem := commands.NewMemoryStore()
	reg := commands.NewRegistry(mem)
	require.NoError(t, reg.Init(context.Background()))
	custom := commands.NewCustomStore(mem, reg)
	require.NoError(t, custom.Init(context.Background()))
	t.Cleanup(func() {
		custom.Close()
		reg.Close()
	})
	return Core{Registry: reg, Custom: custom, Dispatcher: commands.NewDispatcher(reg, custom, chat, opts...)}
}

// NewRegistry is NewCore for callers that only need the registry and dispatcher.
func NewRegistry(t *testing.T, chat commands.ChatSender) (*commands.Registry, *commands.Dispatcher) {
	t.Helper()
	c := NewCore(t, chat)
	return c.Registry, c.Dispatcher
}

// Chat builds a chat message from user with the given roles.
func Chat(user, text string, roles ...string) commands.ChatMessage {
	return commands.ChatMessage{ID: "msg-" + user, Username: user, DisplayName: user, Roles: roles, Text: text}
}
