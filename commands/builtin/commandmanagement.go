package builtin

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"emperror.dev/errors"

	"github.com/onnwee/streambot/commands"
)

// CommandManagementID is the id of the chat command that edits custom
// commands.
const CommandManagementID = "firebot:commandmanagement"

// Sub-command ids of the command management command.
const (
	ManageAdd         = "add"
	ManageResponse    = "response"
	ManageSetCount    = "setcount"
	ManageDescription = "description"
	ManageCooldown    = "cooldown"
	ManageEnable      = "enable"
	ManageDisable     = "disable"
	ManageRemove      = "remove"
)

// manageArgs is the argument count each sub-command reads, sub-command
// word included.
var manageArgs = map[string]int{
	ManageAdd:         3,
	ManageResponse:    3,
	ManageSetCount:    3,
	ManageDescription: 3,
	ManageCooldown:    4,
	ManageEnable:      2,
	ManageDisable:     2,
	ManageRemove:      2,
}

// CommandManagementDefinition is the default command management command.
func CommandManagementDefinition() commands.Definition {
	sub := func(id, usage, desc string) commands.SubCommand {
		return commands.SubCommand{ID: id, Arg: id, Usage: usage, Description: desc, MinArgs: intPtr(manageArgs[id])}
	}
	return commands.Definition{
		ID:                     CommandManagementID,
		Name:                   "Command Management",
		Type:                   commands.TypeSystem,
		Description:            "Allows custom command management via chat.",
		BaseCommandDescription: "See help for sub-commands",
		Trigger:                "!command",
		Active:                 true,
		HideCooldowns:          true,
		RestrictionData:        commands.ModsOnly(),
		SubCommands: []commands.SubCommand{
			sub(ManageAdd, "add [!trigger] [message]", "Adds a new command with a given response message."),
			sub(ManageResponse, "response [!trigger] [message]", "Updates the response message for a command."),
			sub(ManageSetCount, "setcount [!trigger] [count]", "Updates the usage count of a command."),
			sub(ManageDescription, "description [!trigger] [message]", "Updates the description of a command."),
			sub(ManageCooldown, "cooldown [!trigger] [globalSecs] [userSecs]", "Changes the cooldowns of a command."),
			sub(ManageEnable, "enable [!trigger]", "Enables the given custom command."),
			sub(ManageDisable, "disable [!trigger]", "Disables the given custom command."),
			sub(ManageRemove, "remove [!trigger]", "Removes the given custom command."),
		},
	}
}

// CommandManagement lets moderators add and edit custom commands from chat.
type CommandManagement struct {
	custom *commands.CustomStore
	sender commands.ChatSender
}

// NewCommandManagement returns the command management handler.
func NewCommandManagement(custom *commands.CustomStore, sender commands.ChatSender) *CommandManagement {
	return &CommandManagement{custom: custom, sender: sender}
}

func (c *CommandManagement) OnTriggerEvent(ctx context.Context, evt *commands.Event) error {
	uc := evt.UserCommand
	args := uc.Args
	sc, ok := evt.Command.SubCommandByID(uc.SubcommandID)
	if !ok {
		return c.say(ctx, fmt.Sprintf("Invalid command usage: %s [add|response|setcount|description|cooldown|enable|disable|remove]", uc.Trigger))
	}
	if len(args) < manageArgs[uc.SubcommandID] {
		return c.say(ctx, fmt.Sprintf("Invalid command usage: %s %s", uc.Trigger, sc.Usage))
	}
	trigger := args[1]
	rest := strings.Join(args[2:], " ")
	author := uc.CommandSender

	if uc.SubcommandID == ManageAdd {
		if c.custom.TriggerIsTaken(trigger) {
			return c.say(ctx, fmt.Sprintf("The trigger '%s' is already in use, please try again.", trigger))
		}
		effects, err := commands.ChatEffects(rest)
		if err != nil {
			return err
		}
		cmd := commands.CustomCommand{
			Definition: commands.Definition{Trigger: trigger, Active: true, Effects: effects, Cooldown: &commands.Cooldown{}},
			Simple:     true,
		}
		if _, err := c.custom.Save(ctx, cmd, author); err != nil {
			return c.saveFailed(ctx, trigger, err)
		}
		return c.say(ctx, fmt.Sprintf("Added command '%s'!", trigger))
	}

	cmd, ok := c.custom.ByTrigger(trigger)
	if !ok {
		return c.say(ctx, fmt.Sprintf("Could not find a command with the trigger '%s', please try again.", trigger))
	}

	var reply string
	switch uc.SubcommandID {
	case ManageRemove:
		if err := c.custom.DeleteByID(ctx, cmd.ID); err != nil {
			return err
		}
		return c.say(ctx, fmt.Sprintf("Removed command '%s'!", trigger))

	case ManageResponse:
		effects, err := commands.ChatEffects(rest)
		if err != nil {
			return err
		}
		cmd.Effects = effects
		reply = fmt.Sprintf("Updated '%s' with response: %s", trigger, rest)

	case ManageSetCount:
		n, err := strconv.Atoi(args[2])
		if err != nil || n < 0 {
			return c.say(ctx, "Count must be a number of 0 or more.")
		}
		cmd.Count = n
		reply = fmt.Sprintf("Updated usage count for '%s' to: %d", trigger, n)

	case ManageDescription:
		cmd.Description = rest
		reply = fmt.Sprintf("Updated description for '%s' to: %s", trigger, rest)

	case ManageCooldown:
		global, gerr := strconv.Atoi(args[2])
		user, uerr := strconv.Atoi(args[3])
		if gerr != nil || uerr != nil || global < 0 || user < 0 {
			return c.say(ctx, "Cooldowns must be numbers of 0 or more.")
		}
		cmd.Cooldown = &commands.Cooldown{Global: global, User: user}
		reply = fmt.Sprintf("Updated '%s' with cooldowns: %ds (global) %ds (user)", trigger, global, user)

	case ManageEnable, ManageDisable:
		cmd.Active = uc.SubcommandID == ManageEnable
		reply = fmt.Sprintf("Disabled '%s'!", trigger)
		if cmd.Active {
			reply = fmt.Sprintf("Enabled '%s'!", trigger)
		}
	}

	if _, err := c.custom.Save(ctx, cmd, author); err != nil {
		return c.saveFailed(ctx, trigger, err)
	}
	return c.say(ctx, reply)
}

func (c *CommandManagement) saveFailed(ctx context.Context, trigger string, err error) error {
	switch {
	case errors.Is(err, commands.ErrTriggerConflict):
		return c.say(ctx, fmt.Sprintf("The trigger '%s' is already in use, please try again.", trigger))
	case errors.Is(err, commands.ErrValidation):
		return c.say(ctx, fmt.Sprintf("'%s' is not a valid trigger.", trigger))
	}
	slog.Error("failed to save custom command from chat", slog.String("trigger", trigger), slog.Any("err", err))
	return err
}

func (c *CommandManagement) say(ctx context.Context, text string) error {
	return c.sender.SendMessage(ctx, text, "", commands.AccountBot)
}

func intPtr(v int) *int { return &v }
