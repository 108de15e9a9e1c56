package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/google/uuid"

	"github.com/onnwee/streambot/commands"
	"github.com/onnwee/streambot/telemetry"
)

// Observer is told about every chat message, e.g. to track active viewers.
type Observer interface {
	Observe(msg commands.ChatMessage)
}

// Moderator may remove a message before commands see it.
type Moderator interface {
	Moderate(ctx context.Context, msg commands.ChatMessage) (bool, error)
}

// Dispatcher runs commands for a message without blocking the reader.
type Dispatcher interface {
	Go(ctx context.Context, msg commands.ChatMessage)
}

// Client is the IRC side of the bot.
type Client struct {
	irc       *twitch.Client
	channel   string
	dispatch  Dispatcher
	observers []Observer
	moderator Moderator
	connected atomic.Bool
}

// Option customizes a Client.
type Option func(*Client)

// WithObserver adds an activity observer.
func WithObserver(o Observer) Option { return func(c *Client) { c.observers = append(c.observers, o) } }

// WithModerator sets the moderation step.
func WithModerator(m Moderator) Option { return func(c *Client) { c.moderator = m } }

// NewClient returns a client for channel authenticated as username. token
// may carry the "oauth:" prefix or not.
func NewClient(channel, username, token string, dispatch Dispatcher, opts ...Option) *Client {
	if !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	c := &Client{
		irc:      twitch.NewClient(strings.ToLower(username), token),
		channel:  strings.ToLower(strings.TrimPrefix(channel, "#")),
		dispatch: dispatch,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Attach sets the dispatcher and applies opts. Call it before Run when the
// dispatcher depends on a Sender built over this client.
func (c *Client) Attach(dispatch Dispatcher, opts ...Option) {
	c.dispatch = dispatch
	for _, o := range opts {
		o(c)
	}
}

// Say implements Sayer over the IRC connection.
func (c *Client) Say(channel, text string) { c.irc.Say(channel, text) }

// Connected reports whether the IRC connection is up.
func (c *Client) Connected() bool { return c.connected.Load() }

func (c *Client) setConnected(v bool) {
	c.connected.Store(v)
	telemetry.UpdateChatGauge(v)
}

// Run connects and handles chat until ctx is done. It returns nil after a
// cancel-triggered disconnect.
func (c *Client) Run(ctx context.Context) error {
	c.irc.OnConnect(func() {
		c.setConnected(true)
		slog.Info("twitch chat connected", slog.String("channel", c.channel), slog.String("component", "chat"))
	})
	c.irc.OnReconnectMessage(func(twitch.ReconnectMessage) {
		c.setConnected(false)
		slog.Info("twitch chat reconnect requested", slog.String("component", "chat"))
	})
	c.irc.OnPrivateMessage(func(m twitch.PrivateMessage) {
		c.Handle(ctx, FromPrivateMessage(m))
	})
	c.irc.OnWhisperMessage(func(m twitch.WhisperMessage) {
		c.Handle(ctx, FromWhisper(m, c.channel))
	})

	// Handle context cancellation by closing the client
	go func() {
		<-ctx.Done()
		if err := c.irc.Disconnect(); err != nil {
			slog.Debug("twitch chat disconnect", slog.Any("err", err))
		}
	}()

	c.irc.Join(c.channel)
	err := c.irc.Connect()
	c.setConnected(false)
	if ctx.Err() != nil || errors.Is(err, twitch.ErrClientDisconnected) {
		return nil
	}
	return err
}

// Handle runs one inbound message through observers, moderation and the
// dispatcher.
func (c *Client) Handle(ctx context.Context, msg commands.ChatMessage) {
	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	telemetry.Inc(telemetry.ChatMessagesSeen)
	log := telemetry.LoggerWithCorr(ctx)

	if !msg.Whisper {
		for _, o := range c.observers {
			o.Observe(msg)
		}
	}
	if c.moderator != nil {
		removed, err := c.moderator.Moderate(ctx, msg)
		if err != nil {
			log.Warn("moderation failed", slog.String("user", msg.Username), slog.Any("err", err))
		}
		if removed {
			return
		}
	}
	if c.dispatch != nil {
		c.dispatch.Go(ctx, msg)
	}
}

// FromPrivateMessage converts an IRC channel message.
func FromPrivateMessage(m twitch.PrivateMessage) commands.ChatMessage {
	at := m.Time
	if at.IsZero() {
		at = time.Now()
	}
	return commands.ChatMessage{
		ID:          m.ID,
		Channel:     m.Channel,
		UserID:      m.User.ID,
		Username:    strings.ToLower(m.User.Name),
		DisplayName: m.User.DisplayName,
		Roles:       RolesFromBadges(m.User.Badges),
		Text:        m.Message,
		Time:        at.UTC(),
	}
}

// FromWhisper converts an IRC whisper. Whispers carry no channel badges.
func FromWhisper(m twitch.WhisperMessage, channel string) commands.ChatMessage {
	return commands.ChatMessage{
		ID:          m.MessageID,
		Channel:     channel,
		UserID:      m.User.ID,
		Username:    strings.ToLower(m.User.Name),
		DisplayName: m.User.DisplayName,
		Roles:       RolesFromBadges(m.User.Badges),
		Text:        m.Message,
		Whisper:     true,
		Time:        time.Now().UTC(),
	}
}

// RolesFromBadges maps Twitch badges to command roles. Founders count as
// subscribers.
func RolesFromBadges(badges map[string]int) []string {
	var roles []string
	if _, ok := badges["broadcaster"]; ok {
		roles = append(roles, commands.RoleBroadcaster)
	}
	if _, ok := badges["moderator"]; ok {
		roles = append(roles, commands.RoleMod)
	}
	if _, ok := badges["vip"]; ok {
		roles = append(roles, commands.RoleVIP)
	}
	_, sub := badges["subscriber"]
	_, founder := badges["founder"]
	if sub || founder {
		roles = append(roles, commands.RoleSubscriber)
	}
	return roles
}
