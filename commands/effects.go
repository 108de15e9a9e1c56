package commands

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"emperror.dev/errors"
	"github.com/google/uuid"
)

// Effect types run by ChatEffectRunner.
const (
	EffectChat = "firebot:chat"
)

// EffectList is the stored shape of a custom command's effects.
type EffectList struct {
	ID   string   `json:"id,omitempty"`
	List []Effect `json:"list"`
}

// Effect is one step of an effect list. Unknown types are skipped.
type Effect struct {
	ID      string  `json:"id,omitempty"`
	Type    string  `json:"type"`
	Message string  `json:"message,omitempty"`
	Chatter Account `json:"chatter,omitempty"`
	Whisper string  `json:"whisper,omitempty"`
	Active  *bool   `json:"active,omitempty"`
}

// ChatEffects returns an effect list with a single chat effect posting
// message.
func ChatEffects(message string) (json.RawMessage, error) {
	raw, err := json.Marshal(EffectList{
		ID:   uuid.NewString(),
		List: []Effect{{ID: uuid.NewString(), Type: EffectChat, Message: message}},
	})
	if err != nil {
		return nil, errors.WrapIf(err, "encode chat effect")
	}
	return raw, nil
}

// ChatEffectRunner runs the chat effects of custom commands.
type ChatEffectRunner struct {
	sender ChatSender
}

// NewChatEffectRunner returns a runner that posts through sender.
func NewChatEffectRunner(sender ChatSender) *ChatEffectRunner {
	return &ChatEffectRunner{sender: sender}
}

// RunEffects decodes effects and executes them in order. It stops at the
// first failed effect.
func (r *ChatEffectRunner) RunEffects(ctx context.Context, effects json.RawMessage, evt *Event) error {
	var list EffectList
	if err := json.Unmarshal(effects, &list); err != nil {
		return errors.WrapIf(err, "decode effect list")
	}
	for _, e := range list.List {
		if e.Active != nil && !*e.Active {
			continue
		}
		switch e.Type {
		case EffectChat:
			text := ExpandVariables(e.Message, evt)
			if strings.TrimSpace(text) == "" {
				continue
			}
			whisperTo := ""
			if e.Whisper != "" {
				whisperTo = ExpandVariables(e.Whisper, evt)
			}
			if err := r.sender.SendMessage(ctx, text, whisperTo, e.Chatter); err != nil {
				return errors.WrapIfWithDetails(err, "run chat effect", "effect", e.ID)
			}
		default:
			slog.Debug("skipping unsupported effect", slog.String("type", e.Type), slog.String("command", evt.Command.ID))
		}
	}
	return nil
}

// ExpandVariables replaces the chat variables supported in command
// messages: {user}, {username}, {args}, {arg1}..{arg9} and {trigger}.
func ExpandVariables(tmpl string, evt *Event) string {
	uc := evt.UserCommand
	pairs := []string{
		"{user}", evt.ChatMessage.DisplayNameOrUsername(),
		"{username}", evt.ChatMessage.Username,
		"{args}", strings.Join(uc.Args, " "),
		"{trigger}", uc.Trigger,
	}
	for i := 1; i <= 9; i++ {
		v := ""
		if i <= len(uc.Args) {
			v = uc.Args[i-1]
		}
		pairs = append(pairs, "{arg"+string(rune('0'+i))+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
