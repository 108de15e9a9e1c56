// Package builtin holds the stock system commands and the table that
// registers them.
package builtin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/streambot/commands"
)

// UptimeID is the id of the uptime command.
const UptimeID = "firebot:uptime"

// StreamInfo reports when the current broadcast started.
type StreamInfo interface {
	// StreamStartedAt returns the start time and whether the stream is live.
	StreamStartedAt(ctx context.Context) (time.Time, bool, error)
}

// UptimeDefinition is the default uptime command.
func UptimeDefinition() commands.Definition {
	return commands.Definition{
		ID:          UptimeID,
		Name:        "Uptime",
		Type:        commands.TypeSystem,
		Description: "Displays how long the stream has been live in chat.",
		Trigger:     "!uptime",
		Active:      true,
		Cooldown:    &commands.Cooldown{},
		Options: map[string]commands.Option{
			"uptimeDisplayTemplate": {
				Type:        "string",
				Title:       "Output Template",
				Description: "How the uptime message is formatted",
				Tip:         "Variables: {uptime}",
				Default:     "Broadcasting time: {uptime}",
				UseTextArea: true,
			},
		},
	}
}

// Uptime replies with the time since the broadcast started.
type Uptime struct {
	stream StreamInfo
	sender commands.ChatSender
	now    func() time.Time
}

// NewUptime returns the uptime handler. Without stream info the channel
// always reads as offline.
func NewUptime(stream StreamInfo, sender commands.ChatSender) *Uptime {
	return &Uptime{stream: stream, sender: sender, now: time.Now}
}

func (u *Uptime) OnTriggerEvent(ctx context.Context, evt *commands.Event) error {
	var (
		started time.Time
		live    bool
	)
	if u.stream != nil {
		var err error
		if started, live, err = u.stream.StreamStartedAt(ctx); err != nil {
			return fmt.Errorf("read stream start: %w", err)
		}
	}
	uptime := "Not currently broadcasting"
	if live {
		uptime = formatUptime(u.now().Sub(started))
	}
	text := strings.ReplaceAll(evt.CommandOptions.String("uptimeDisplayTemplate"), "{uptime}", uptime)
	return u.sender.SendMessage(ctx, text, "", commands.AccountDefault)
}

// formatUptime renders d as "1 day, 2 hours, 5 minutes", dropping zero parts.
func formatUptime(d time.Duration) string {
	if d < time.Minute {
		return "less than a minute"
	}
	units := []struct {
		name string
		size time.Duration
	}{
		{"day", 24 * time.Hour},
		{"hour", time.Hour},
		{"minute", time.Minute},
	}
	var parts []string
	for _, u := range units {
		n := int(d / u.size)
		d -= time.Duration(n) * u.size
		switch {
		case n == 1:
			parts = append(parts, "1 "+u.name)
		case n > 1:
			parts = append(parts, fmt.Sprintf("%d %ss", n, u.name))
		}
	}
	return strings.Join(parts, ", ")
}
