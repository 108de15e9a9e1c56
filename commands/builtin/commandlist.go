package builtin

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/onnwee/streambot/commands"
)

// CommandListID is the id of the command list command.
const CommandListID = "firebot:commandlist"

// maxChatMessage is Twitch's message length limit.
const maxChatMessage = 500

// CommandListDefinition is the default command list command.
func CommandListDefinition() commands.Definition {
	return commands.Definition{
		ID:          CommandListID,
		Name:        "Command List",
		Type:        commands.TypeSystem,
		Description: "Lists the commands the viewer is allowed to run.",
		Trigger:     "!commands",
		Active:      true,
		Cooldown:    &commands.Cooldown{},
	}
}

// CommandList replies with the visible commands the sender may run.
type CommandList struct {
	reg    *commands.Registry
	custom *commands.CustomStore
	sender commands.ChatSender
}

// NewCommandList returns the command list handler. custom may be nil.
func NewCommandList(reg *commands.Registry, custom *commands.CustomStore, sender commands.ChatSender) *CommandList {
	return &CommandList{reg: reg, custom: custom, sender: sender}
}

// Allowed returns the triggers msg's sender can run, sorted.
func (c *CommandList) Allowed(msg commands.ChatMessage) []string {
	var triggers []string
	add := func(d commands.Definition) {
		if !d.Active || d.Hidden || d.TriggerIsRegex {
			return
		}
		if ok, _ := commands.CheckRestrictions(d.RestrictionData, msg); !ok {
			return
		}
		triggers = append(triggers, d.Trigger)
	}
	for _, d := range c.reg.All() {
		add(d)
	}
	if c.custom != nil {
		for _, cc := range c.custom.All() {
			add(cc.Definition)
		}
	}
	slices.SortFunc(triggers, func(a, b string) int { return strings.Compare(strings.ToLower(a), strings.ToLower(b)) })
	return slices.Compact(triggers)
}

func (c *CommandList) OnTriggerEvent(ctx context.Context, evt *commands.Event) error {
	triggers := c.Allowed(evt.ChatMessage)
	if len(triggers) == 0 {
		return c.sender.SendMessage(ctx, fmt.Sprintf("%s, there are no commands that you are allowed to run.", evt.ChatMessage.Username), "", commands.AccountBot)
	}
	for _, line := range chunk("Commands you can use: ", triggers) {
		if err := c.sender.SendMessage(ctx, line, "", commands.AccountBot); err != nil {
			return err
		}
	}
	return nil
}

// chunk joins items after prefix, splitting into messages that fit in chat.
func chunk(prefix string, items []string) []string {
	var out []string
	cur := prefix
	for _, it := range items {
		sep := ", "
		if cur == prefix {
			sep = ""
		}
		if len(cur)+len(sep)+len(it) > maxChatMessage && cur != prefix {
			out = append(out, cur)
			cur, sep = "", ""
		}
		cur += sep + it
	}
	return append(out, cur)
}
