// Package moderation removes chat messages that break the channel's
// moderation settings.
package moderation

import (
	"context"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/onnwee/streambot/commands"
	"github.com/onnwee/streambot/telemetry"
)

// linkRegex matches scheme links, www. hosts and bare domains.
var linkRegex = regexp.MustCompile(`(?i)\b(?:(?:https?|steam)://[^\s<]+|(?:www\.)?[a-z0-9][a-z0-9-]*(?:\.[a-z0-9-]+)*\.[a-z]{2,6}(?:/[^\s]*)?)\b`)

// backslashes are dropped before matching so "example\.com" is caught.
var backslashes = strings.NewReplacer("\\", "")

// ContainsLink reports whether text contains something that looks like a URL.
func ContainsLink(text string) bool {
	return linkRegex.MatchString(backslashes.Replace(text))
}

// Permitter grants temporary link permission, see builtin.Permit.
type Permitter interface {
	HasTemporaryPermission(username string) bool
}

// URLSettings configures link moderation.
type URLSettings struct {
	Enabled bool `json:"enabled"`
	// ExemptRoles may always post links. Broadcaster and moderators are
	// always exempt.
	ExemptRoles []string `json:"exemptRoles"`
	// OutputMessage is sent after a deletion; {user} is replaced by the
	// sender. Empty sends nothing.
	OutputMessage string `json:"outputMessage"`
}

// DefaultURLSettings is link moderation switched off with the stock message.
func DefaultURLSettings() URLSettings {
	return URLSettings{OutputMessage: "{user}, you do not have permission to post links."}
}

// URLModerator deletes messages containing links from users that are
// neither exempt nor permitted.
type URLModerator struct {
	sender  commands.ChatSender
	permits Permitter

	mu       sync.RWMutex
	settings URLSettings
}

// NewURLModerator returns a moderator. permits may be nil.
func NewURLModerator(sender commands.ChatSender, permits Permitter, settings URLSettings) *URLModerator {
	return &URLModerator{sender: sender, permits: permits, settings: settings}
}

// Settings returns the current settings.
func (m *URLModerator) Settings() URLSettings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.settings
	s.ExemptRoles = slices.Clone(s.ExemptRoles)
	return s
}

// SetSettings replaces the settings.
func (m *URLModerator) SetSettings(s URLSettings) {
	s.ExemptRoles = slices.Clone(s.ExemptRoles)
	m.mu.Lock()
	m.settings = s
	m.mu.Unlock()
}

// Moderate deletes msg when it breaks the link rule and reports whether it
// did.
func (m *URLModerator) Moderate(ctx context.Context, msg commands.ChatMessage) (bool, error) {
	s := m.Settings()
	if !s.Enabled || msg.Whisper || m.exempt(s, msg) || !ContainsLink(msg.Text) {
		return false, nil
	}
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "url_moderation"))
	if err := m.sender.DeleteMessage(ctx, msg.ID); err != nil {
		logger.Warn("failed to delete message with link", slog.String("user", msg.Username), slog.Any("err", err))
		return false, err
	}
	telemetry.Inc(telemetry.ModeratedMessages)
	logger.Info("deleted message with link", slog.String("user", msg.Username))

	if s.OutputMessage != "" {
		text := strings.ReplaceAll(s.OutputMessage, "{user}", msg.DisplayNameOrUsername())
		if err := m.sender.SendMessage(ctx, text, "", commands.AccountBot); err != nil {
			logger.Warn("failed to send url moderation message", slog.Any("err", err))
		}
	}
	return true, nil
}

func (m *URLModerator) exempt(s URLSettings, msg commands.ChatMessage) bool {
	if msg.HasRole(commands.RoleBroadcaster) || msg.HasRole(commands.RoleMod) {
		return true
	}
	for _, r := range s.ExemptRoles {
		if msg.HasRole(r) {
			return true
		}
	}
	return m.permits != nil && m.permits.HasTemporaryPermission(msg.Username)
}
