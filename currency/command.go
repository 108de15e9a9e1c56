package currency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/onnwee/streambot/commands"
)

// Sub-command ids of the management command.
const (
	SubAdd       = "add"
	SubRemove    = "remove"
	SubGive      = "give"
	SubAddAll    = "addall"
	SubRemoveAll = "removeall"
)

// Definition builds the management command for c.
func Definition(c Currency) commands.Definition {
	return commands.Definition{
		ID:                     c.CommandID(),
		Name:                   c.Name + " Management",
		Description:            fmt.Sprintf("Allows management of the %q currency", c.Name),
		Type:                   commands.TypeSystem,
		BaseCommandDescription: "See your balance",
		Trigger:                c.Trigger(),
		Active:                 true,
		Cooldown:               &commands.Cooldown{},
		Options: map[string]commands.Option{
			"currencyBalanceMessageTemplate": {
				Type:        "string",
				Title:       "Currency Balance Message Template",
				Description: "How the currency balance message appears in chat.",
				Tip:         "Variables: {user}, {currency}, {amount}",
				Default:     "{user}'s {currency} total is {amount}",
				UseTextArea: true,
			},
			"whisperCurrencyBalanceMessage": {
				Type:    "boolean",
				Title:   "Whisper Currency Balance Message",
				Default: false,
			},
			"addMessageTemplate": {
				Type:        "string",
				Title:       "Add Currency Message Template",
				Description: "How the add message appears in chat.",
				Tip:         "Variables: {user}, {currency}, {amount}",
				Default:     "Added {amount} {currency} to {user}.",
				UseTextArea: true,
			},
			"removeMessageTemplate": {
				Type:        "string",
				Title:       "Remove Currency Message Template",
				Description: "How the remove message appears in chat.",
				Tip:         "Variables: {user}, {currency}, {amount}",
				Default:     "Removed {amount} {currency} from {user}.",
				UseTextArea: true,
			},
			"addAllMessageTemplate": {
				Type:        "string",
				Title:       "Add All Currency Message Template",
				Description: "How the addall message appears in chat.",
				Tip:         "Variables: {currency}, {amount}",
				Default:     "Added {amount} {currency} to everyone!",
				UseTextArea: true,
			},
			"removeAllMessageTemplate": {
				Type:        "string",
				Title:       "Remove All Currency Message Template",
				Description: "How the removeall message appears in chat.",
				Tip:         "Variables: {currency}, {amount}",
				Default:     "Removed {amount} {currency} from everyone!",
				UseTextArea: true,
			},
		},
		SubCommands: []commands.SubCommand{
			{ID: SubAdd, Arg: "add", Usage: "add [@user] [amount]", Description: "Adds currency for a given user.", MinArgs: intPtr(3), RestrictionData: commands.ModsOnly()},
			{ID: SubRemove, Arg: "remove", Usage: "remove [@user] [amount]", Description: "Removes currency for a given user.", MinArgs: intPtr(3), RestrictionData: commands.ModsOnly()},
			{ID: SubGive, Arg: "give", Usage: "give [@user] [amount]", Description: "Gives currency from one user to another user.", MinArgs: intPtr(3)},
			{ID: SubAddAll, Arg: "addall", Usage: "addall [amount]", Description: "Adds currency to all online users.", MinArgs: intPtr(2), RestrictionData: commands.ModsOnly()},
			{ID: SubRemoveAll, Arg: "removeall", Usage: "removeall [amount]", Description: "Removes currency from all online users.", MinArgs: intPtr(2), RestrictionData: commands.ModsOnly()},
		},
	}
}

// subCommandArgs is the argument count each sub-command handler reads,
// whatever minArgs an override configures.
var subCommandArgs = map[string]int{
	SubAdd:       3,
	SubRemove:    3,
	SubGive:      3,
	SubAddAll:    2,
	SubRemoveAll: 2,
}

// commandHandler serves the management command of one currency.
type commandHandler struct {
	id string
	m  *Manager
}

func (h commandHandler) OnTriggerEvent(ctx context.Context, evt *commands.Event) error {
	cur, ok := h.m.Get(h.id)
	if !ok {
		return fmt.Errorf("currency %s no longer exists", h.id)
	}
	opts := evt.CommandOptions
	args := evt.UserCommand.Args
	sender := evt.UserCommand.CommandSender

	if sc, ok := evt.Command.SubCommandByID(evt.UserCommand.SubcommandID); ok {
		if need := subCommandArgs[sc.Identity()]; len(args) < need {
			return h.m.say(ctx, fmt.Sprintf("Invalid command usage: %s %s", evt.UserCommand.Trigger, sc.Usage), "")
		}
	}

	switch evt.UserCommand.SubcommandID {
	case SubAdd, SubRemove:
		target := strings.TrimPrefix(args[1], "@")
		amount, err := parseAmount(args[2])
		verb := "add currency to"
		tmpl := opts.String("addMessageTemplate")
		delta := amount
		if evt.UserCommand.SubcommandID == SubRemove {
			verb = "remove currency from"
			tmpl = opts.String("removeMessageTemplate")
			delta = -amount
		}
		if err != nil {
			return h.m.say(ctx, fmt.Sprintf("Error: Could not %s user.", verb), "")
		}
		if _, err := h.m.ledger.Adjust(ctx, cur.ID, target, delta, cur.Limit); err != nil {
			slog.Error("failed to adjust currency via chat command",
				slog.String("currency", cur.ID), slog.String("user", target), slog.Int("delta", delta), slog.Any("err", err))
			return h.m.say(ctx, fmt.Sprintf("Error: Could not %s user.", verb), "")
		}
		return h.m.say(ctx, render(tmpl, target, cur.Name, amount), "")

	case SubGive:
		return h.give(ctx, cur, sender, strings.TrimPrefix(args[1], "@"), args[2])

	case SubAddAll, SubRemoveAll:
		amount, err := parseAmount(args[1])
		tmpl := opts.String("addAllMessageTemplate")
		delta := amount
		failure := "Error: Could not add currency to all online users."
		if evt.UserCommand.SubcommandID == SubRemoveAll {
			tmpl = opts.String("removeAllMessageTemplate")
			delta = -amount
			failure = "Error: Could not remove currency from all online users."
		}
		if err != nil {
			return h.m.say(ctx, failure, "")
		}
		if err := h.m.ledger.AdjustAll(ctx, cur.ID, h.m.viewers.Active(), delta, cur.Limit); err != nil {
			slog.Error("failed to adjust currency for online users", slog.String("currency", cur.ID), slog.Any("err", err))
			return h.m.say(ctx, failure, "")
		}
		return h.m.say(ctx, render(tmpl, "", cur.Name, amount), "")

	default:
		amount, err := h.m.ledger.Balance(ctx, cur.ID, sender)
		if err != nil {
			return fmt.Errorf("read balance: %w", err)
		}
		whisperTo := ""
		if opts.Bool("whisperCurrencyBalanceMessage") {
			whisperTo = sender
		}
		return h.m.say(ctx, render(opts.String("currencyBalanceMessageTemplate"), sender, cur.Name, amount), whisperTo)
	}
}

func (h commandHandler) give(ctx context.Context, cur Currency, from, to, rawAmount string) error {
	if cur.Transfer == TransferDisallow {
		slog.Debug("currency transfer refused, transfers disabled", slog.String("currency", cur.ID), slog.String("user", from))
		return h.m.say(ctx, "Transfers are not allowed for this currency.", "")
	}
	if strings.EqualFold(from, to) {
		return h.m.say(ctx, fmt.Sprintf("%s, you can't give yourself currency.", from), "")
	}
	amount, err := parseAmount(rawAmount)
	if err != nil || amount == 0 {
		return h.m.say(ctx, "Error: Could not add currency to user. Was there a typo in the amount?", "")
	}

	if _, err := h.m.ledger.Debit(ctx, cur.ID, from, amount); err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return h.m.say(ctx, fmt.Sprintf("You do not have enough %s to do this action.", cur.Name), "")
		}
		return h.m.say(ctx, "Error: Could not retrieve currency.", "")
	}
	if _, err := h.m.ledger.Adjust(ctx, cur.ID, to, amount, cur.Limit); err != nil {
		slog.Error("failed to credit currency transfer, refunding",
			slog.String("currency", cur.ID), slog.String("from", from), slog.String("to", to), slog.Any("err", err))
		if _, rerr := h.m.ledger.Adjust(ctx, cur.ID, from, amount, 0); rerr != nil {
			slog.Error("failed to refund currency transfer", slog.String("currency", cur.ID), slog.String("user", from), slog.Any("err", rerr))
		}
		return h.m.say(ctx, "Error: Could not add currency to user. Was there a typo in the username?", "")
	}
	return h.m.say(ctx, fmt.Sprintf("Gave %s %s to %s.", Commafy(amount), cur.Name, to), "")
}

// parseAmount reads a non-negative amount; the sign is ignored.
func parseAmount(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n < 0 {
		n = -n
	}
	return n, nil
}

func render(tmpl, user, currencyName string, amount int) string {
	return strings.NewReplacer(
		"{user}", user,
		"{currency}", currencyName,
		"{amount}", Commafy(amount),
	).Replace(tmpl)
}

// Commafy formats n with thousands separators.
func Commafy(n int) string { return humanize.Comma(int64(n)) }

func intPtr(v int) *int { return &v }
