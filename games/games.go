// Package games implements the currency games played through chat: the
// bid auction and the slot machine.
package games

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/onnwee/streambot/commands"
	"github.com/onnwee/streambot/currency"
)

// Currencies resolves the currency a game is played with.
type Currencies interface {
	Get(id string) (currency.Currency, bool)
}

// chatter maps the "chatter" option to the sending account.
func chatter(opts commands.Options) commands.Account {
	if strings.EqualFold(opts.String("chatter"), string(commands.AccountStreamer)) {
		return commands.AccountStreamer
	}
	return commands.AccountBot
}

func chatterOption() commands.Option {
	return commands.Option{
		Type:        "enum",
		Title:       "Chat As",
		Description: "Which account sends the game messages.",
		Default:     string(commands.AccountBot),
	}
}

func numberOption(title, description string, def any) commands.Option {
	return commands.Option{Type: "number", Title: title, Description: description, Default: def}
}

func stringOption(title, tip string, def string) commands.Option {
	return commands.Option{Type: "string", Title: title, Tip: tip, Default: def, UseTextArea: true}
}

// secondsForHumans renders a remaining duration as "30 seconds" or "2 minutes".
func secondsForHumans(d time.Duration) string {
	base := time.Time{}
	return strings.TrimSpace(humanize.RelTime(base, base.Add(d), "", ""))
}

func say(ctx context.Context, sender commands.ChatSender, text, whisperTo string, as commands.Account) {
	if text == "" {
		return
	}
	if err := sender.SendMessage(ctx, text, whisperTo, as); err != nil {
		slog.Warn("failed to send game message", slog.Any("err", err))
	}
}

func deleteMessage(ctx context.Context, sender commands.ChatSender, id string) {
	if id == "" {
		return
	}
	if err := sender.DeleteMessage(ctx, id); err != nil {
		slog.Debug("failed to delete game message", slog.String("message", id), slog.Any("err", err))
	}
}

func intPtr(v int) *int { return &v }
