package builtin

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/streambot/commands"
	"github.com/onnwee/streambot/expiry"
)

// PermitID is the id of the URL permit command.
const PermitID = "firebot:moderation:url:permit"

// PermitDefinition is the default permit command.
func PermitDefinition() commands.Definition {
	return commands.Definition{
		ID:              PermitID,
		Name:            "Permit",
		Type:            commands.TypeSystem,
		Description:     "Permits a viewer to post a url for a set duration.",
		Usage:           "[target]",
		Trigger:         "!permit",
		Active:          true,
		HideCooldowns:   true,
		RestrictionData: commands.ModsOnly(),
		Options: map[string]commands.Option{
			"permitDuration": {
				Type:        "number",
				Title:       "Duration in seconds",
				Description: "The amount of time the viewer has to post a link after the !permit command is used.",
				Default:     30,
			},
			"permitDisplayTemplate": {
				Type:        "string",
				Title:       "Output Template",
				Description: "The chat message shown when the permit command is used (leave empty for no message).",
				Tip:         "Variables: {target}, {duration}",
				Default:     "{target}, you have {duration} seconds to post your url in the chat.",
				UseTextArea: true,
			},
		},
	}
}

// Permit grants viewers temporary permission to post links.
type Permit struct {
	sender    commands.ChatSender
	permitted *expiry.Map[string]
}

// NewPermit returns the permit handler.
func NewPermit(sender commands.ChatSender) *Permit {
	return newPermitWithClock(sender, time.Now)
}

func newPermitWithClock(sender commands.ChatSender, now func() time.Time) *Permit {
	return &Permit{sender: sender, permitted: expiry.NewWithClock[string](now)}
}

// HasTemporaryPermission reports whether username may currently post a link.
func (p *Permit) HasTemporaryPermission(username string) bool {
	return p.permitted.Has(strings.ToLower(username))
}

func (p *Permit) OnTriggerEvent(ctx context.Context, evt *commands.Event) error {
	args := evt.UserCommand.Args
	if evt.Command.ScanWholeMessage {
		kept := args[:0:0]
		for _, a := range args {
			if !strings.EqualFold(a, evt.Command.Trigger) {
				kept = append(kept, a)
			}
		}
		args = kept
	}
	if len(args) != 1 {
		return p.sender.SendMessage(ctx, "Incorrect command usage!", "", commands.AccountDefault)
	}
	target := strings.TrimPrefix(args[0], "@")
	if target == "" {
		return p.sender.SendMessage(ctx, "Please specify a user to permit.", "", commands.AccountDefault)
	}

	secs := evt.CommandOptions.Int("permitDuration")
	p.permitted.Set(strings.ToLower(target), time.Duration(secs)*time.Second)
	slog.Debug("url moderation: temporary permission granted", slog.String("user", target), slog.Int("seconds", secs))

	msg := strings.NewReplacer("{target}", target, "{duration}", strconv.Itoa(secs)).
		Replace(evt.CommandOptions.String("permitDisplayTemplate"))
	if msg == "" {
		return nil
	}
	return p.sender.SendMessage(ctx, msg, "", commands.AccountDefault)
}
