package giveaways

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/onnwee/streambot/commands"
)

// Sub-command ids of the management command.
const (
	SubSet   = "set"
	SubStart = "start"
	SubOpen  = "open"
	SubClose = "close"
	SubDraw  = "draw"
	SubEnter = "enter"
	SubLeave = "leave"
)

// defaultDisplay is used when the outputTemplate option is empty.
const defaultDisplay = "The {name} giveaway is for {prize}. {status}"

// Definition builds the management command for g.
func Definition(g Giveaway) commands.Definition {
	return commands.Definition{
		ID:                     g.CommandID(),
		Name:                   g.Name + " Giveaway",
		Description:            fmt.Sprintf("Allows management of the %q giveaway", g.Name),
		Type:                   commands.TypeSystem,
		BaseCommandDescription: "Display the current giveaway",
		Trigger:                g.Trigger(),
		Active:                 true,
		Cooldown:               &commands.Cooldown{},
		Options: map[string]commands.Option{
			"outputTemplate": {
				Type:        "string",
				Title:       "Giveaway Display Template",
				Description: "How the giveaway message displays in chat.",
				Tip:         "Variables: {prize}, {name}, {entries}, {status}",
				Default:     "",
				UseTextArea: true,
			},
		},
		SubCommands: []commands.SubCommand{
			{ID: SubSet, Arg: "set", Usage: "set [prize]", Description: "Sets the prize of the giveaway.", MinArgs: intPtr(2), RestrictionData: commands.ModsOnly()},
			{ID: SubStart, Arg: "start", Usage: "start", Description: "Starts the giveaway with an empty entries list.", RestrictionData: commands.ModsOnly()},
			{ID: SubOpen, Arg: "open", Usage: "open", Description: "Opens the giveaway without throwing away entries.", RestrictionData: commands.ModsOnly()},
			{ID: SubClose, Arg: "close", Usage: "close", Description: "Closes the giveaway.", RestrictionData: commands.ModsOnly()},
			{ID: SubDraw, Arg: "draw", Usage: "draw", Description: "Draws a winner.", RestrictionData: commands.ModsOnly()},
			{ID: SubEnter, Arg: "enter", Usage: "enter", Description: "Lets a user enter the giveaway."},
			{ID: SubLeave, Arg: "leave", Usage: "leave", Description: "Lets a user leave the giveaway."},
		},
	}
}

type commandHandler struct {
	id string
	m  *Manager
}

func (h commandHandler) OnTriggerEvent(ctx context.Context, evt *commands.Event) error {
	user := evt.UserCommand.CommandSender
	trigger := evt.Command.Trigger

	switch evt.UserCommand.SubcommandID {
	case SubSet:
		g, err := h.m.SetPrize(ctx, h.id, strings.Join(evt.UserCommand.Args[1:], " "))
		if err != nil {
			return err
		}
		return h.say(ctx, fmt.Sprintf("The prize for the %s giveaway is now %s.", g.Name, g.Prize), "")

	case SubStart:
		g, err := h.m.Start(ctx, h.id)
		if err != nil {
			return err
		}
		return h.say(ctx, fmt.Sprintf("The %s giveaway has started! Type %s enter to join.", g.Name, trigger), "")

	case SubOpen:
		g, err := h.m.Open(ctx, h.id)
		if err != nil {
			return err
		}
		return h.say(ctx, fmt.Sprintf("The %s giveaway is open. Type %s enter to join.", g.Name, trigger), "")

	case SubClose:
		g, err := h.m.Close(ctx, h.id)
		if err != nil {
			return err
		}
		return h.say(ctx, fmt.Sprintf("Entries for the %s giveaway are closed.", g.Name), "")

	case SubDraw:
		g, err := h.m.Draw(ctx, h.id)
		if errors.Is(err, ErrNoEntries) {
			return h.say(ctx, fmt.Sprintf("There are no entries in the %s giveaway.", g.Name), "")
		}
		if err != nil {
			return err
		}
		slog.Info("giveaway winner drawn", slog.String("giveaway", g.ID), slog.String("winner", g.Winner))
		if g.Prize == "" {
			return h.say(ctx, fmt.Sprintf("%s has won the %s giveaway!", g.Winner, g.Name), "")
		}
		return h.say(ctx, fmt.Sprintf("%s has won the %s giveaway! Prize: %s", g.Winner, g.Name, g.Prize), "")

	case SubEnter:
		added, err := h.m.Enter(ctx, h.id, user)
		g, _ := h.m.Get(h.id)
		switch {
		case errors.Is(err, ErrClosed):
			return h.say(ctx, fmt.Sprintf("The %s giveaway is not open for entries.", g.Name), user)
		case err != nil:
			return err
		case !added:
			return h.say(ctx, fmt.Sprintf("You have already entered the %s giveaway.", g.Name), user)
		}
		return h.say(ctx, fmt.Sprintf("You have entered the %s giveaway. Good luck!", g.Name), user)

	case SubLeave:
		removed, err := h.m.Leave(ctx, h.id, user)
		if err != nil {
			return err
		}
		g, _ := h.m.Get(h.id)
		if !removed {
			return h.say(ctx, fmt.Sprintf("You are not entered in the %s giveaway.", g.Name), user)
		}
		return h.say(ctx, fmt.Sprintf("You have left the %s giveaway.", g.Name), user)

	default:
		g, ok := h.m.Get(h.id)
		if !ok {
			return ErrUnknownGiveaway
		}
		tmpl := evt.CommandOptions.String("outputTemplate")
		if tmpl == "" {
			tmpl = defaultDisplay
		}
		return h.say(ctx, strings.TrimSpace(display(tmpl, g, trigger)), "")
	}
}

func (h commandHandler) say(ctx context.Context, text, whisperTo string) error {
	return h.m.sender.SendMessage(ctx, text, whisperTo, commands.AccountDefault)
}

func display(tmpl string, g Giveaway, trigger string) string {
	prize := g.Prize
	if prize == "" {
		prize = "a mystery prize"
	}
	status := "Entries are closed."
	if g.IsOpen {
		status = fmt.Sprintf("Type %s enter to join.", trigger)
	}
	return strings.NewReplacer(
		"{prize}", prize,
		"{name}", g.Name,
		"{entries}", strconv.Itoa(len(g.Entries)),
		"{status}", status,
	).Replace(tmpl)
}

func intPtr(v int) *int { return &v }
