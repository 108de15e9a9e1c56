package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/onnwee/streambot/commands"
	"github.com/onnwee/streambot/telemetry"
	"github.com/onnwee/streambot/twitchapi"
)

// maxMessageLen is the Twitch limit for one chat message.
const maxMessageLen = 500

// Sayer posts a message to a channel.
type Sayer interface {
	Say(channel, text string)
}

// Helix is the part of the Helix API the sender needs.
type Helix interface {
	GetUser(ctx context.Context, login string) (twitchapi.User, error)
	DeleteChatMessage(ctx context.Context, broadcasterID, moderatorID, messageID string) error
	SendWhisper(ctx context.Context, fromUserID, toUserID, message string) error
}

// Sender implements commands.ChatSender for one channel. It only holds the
// bot's credentials, so streamer-account messages are sent as the bot.
type Sender struct {
	irc     Sayer
	helix   Helix
	channel string
	bot     string
	limiter *rate.Limiter

	mu  sync.Mutex
	ids map[string]string
}

var _ commands.ChatSender = (*Sender)(nil)

// NewSender returns a sender allowing limit messages per window.
func NewSender(irc Sayer, helix Helix, channel, botUsername string, limit int, window time.Duration) *Sender {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = 30 * time.Second
	}
	return &Sender{
		irc:     irc,
		helix:   helix,
		channel: strings.ToLower(strings.TrimPrefix(channel, "#")),
		bot:     strings.ToLower(botUsername),
		limiter: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit),
		ids:     make(map[string]string),
	}
}

// SendMessage posts text to the channel, or whispers it when whisperTo is
// set. It waits for the rate limiter.
func (s *Sender) SendMessage(ctx context.Context, text, whisperTo string, as commands.Account) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if as == commands.AccountStreamer {
		slog.Debug("no streamer credentials; sending as bot", slog.String("component", "chat_sender"))
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("chat rate limit: %w", err)
	}
	if len(text) > maxMessageLen {
		text = truncate(text, maxMessageLen)
	}
	if whisperTo == "" {
		s.irc.Say(s.channel, text)
		telemetry.Inc(telemetry.ChatMessagesSent)
		return nil
	}
	if err := s.whisper(ctx, whisperTo, text); err != nil {
		telemetry.Inc(telemetry.ChatSendFailures)
		return err
	}
	telemetry.Inc(telemetry.ChatMessagesSent)
	return nil
}

func (s *Sender) whisper(ctx context.Context, to, text string) error {
	if s.helix == nil {
		return errors.New("whispers need the helix api")
	}
	from, err := s.userID(ctx, s.bot)
	if err != nil {
		return err
	}
	toID, err := s.userID(ctx, to)
	if err != nil {
		return err
	}
	return s.helix.SendWhisper(ctx, from, toID, text)
}

// DeleteMessage removes a chat message through Helix moderation.
func (s *Sender) DeleteMessage(ctx context.Context, messageID string) error {
	if messageID == "" {
		return nil
	}
	if s.helix == nil {
		return errors.New("message deletion needs the helix api")
	}
	broadcaster, err := s.userID(ctx, s.channel)
	if err != nil {
		return err
	}
	moderator, err := s.userID(ctx, s.bot)
	if err != nil {
		return err
	}
	return s.helix.DeleteChatMessage(ctx, broadcaster, moderator, messageID)
}

// userID resolves and caches a login's user id.
func (s *Sender) userID(ctx context.Context, login string) (string, error) {
	login = strings.ToLower(strings.TrimPrefix(login, "@"))
	s.mu.Lock()
	id, ok := s.ids[login]
	s.mu.Unlock()
	if ok {
		return id, nil
	}
	u, err := s.helix.GetUser(ctx, login)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", login, err)
	}
	s.mu.Lock()
	s.ids[login] = u.ID
	s.mu.Unlock()
	return u.ID, nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	last := 0
	for i := range s {
		if i > n {
			break
		}
		last = i
	}
	if len(s) <= n {
		return s
	}
	return s[:last]
}
