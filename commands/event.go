package commands

import (
	"context"
	"encoding/json"
	"slices"
	"time"
)

// Twitch chat roles as reported by the chat listener.
const (
	RoleBroadcaster = "broadcaster"
	RoleMod         = "mod"
	RoleVIP         = "vip"
	RoleSubscriber  = "sub"
)

// ChatMessage is the normalized chat event the dispatcher consumes.
type ChatMessage struct {
	ID          string    `json:"id"`
	Channel     string    `json:"channel"`
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	Roles       []string  `json:"roles"`
	Text        string    `json:"text"`
	Whisper     bool      `json:"whisper"`
	Time        time.Time `json:"time"`
}

// HasRole reports whether the sender carries the role.
func (m ChatMessage) HasRole(role string) bool {
	return slices.Contains(m.Roles, role)
}

// DisplayNameOrUsername prefers the display name.
func (m ChatMessage) DisplayNameOrUsername() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.Username
}

// UserCommand is the per-invocation view of a matched command. It is never
// persisted.
type UserCommand struct {
	Trigger       string   `json:"trigger"`
	Args          []string `json:"args"`
	TriggeredArg  string   `json:"triggeredArg,omitempty"`
	SubcommandID  string   `json:"subcommandId,omitempty"`
	CommandSender string   `json:"commandSender"`
	SenderRoles   []string `json:"senderRoles,omitempty"`
}

// Event is what a handler receives.
type Event struct {
	Command        Definition
	CommandOptions Options
	UserCommand    UserCommand
	ChatMessage    ChatMessage
}

// Handler is implemented by every system command.
type Handler interface {
	OnTriggerEvent(ctx context.Context, evt *Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, evt *Event) error

func (f HandlerFunc) OnTriggerEvent(ctx context.Context, evt *Event) error { return f(ctx, evt) }

// SystemCommand pairs a built-in definition with its handler.
type SystemCommand struct {
	Definition Definition
	Handler    Handler
}

// Account selects which chat identity sends a message.
type Account string

const (
	AccountDefault  Account = ""
	AccountBot      Account = "bot"
	AccountStreamer Account = "streamer"
)

// ChatSender is the outbound chat capability handlers use. Both calls are
// fire-and-forget from the dispatcher's point of view.
type ChatSender interface {
	// SendMessage posts text to the channel, or whispers it when whisperTo is set.
	SendMessage(ctx context.Context, text, whisperTo string, as Account) error
	DeleteMessage(ctx context.Context, messageID string) error
}

// EffectRunner executes the opaque effect list of a custom command.
type EffectRunner interface {
	RunEffects(ctx context.Context, effects json.RawMessage, evt *Event) error
}
