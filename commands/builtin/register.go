package builtin

import (
	"fmt"
	"log/slog"

	"github.com/onnwee/streambot/commands"
	"github.com/onnwee/streambot/currency"
	"github.com/onnwee/streambot/games"
)

// Deps are the collaborators the stock commands need.
type Deps struct {
	Registry   *commands.Registry
	Custom     *commands.CustomStore
	Sender     commands.ChatSender
	Stream     StreamInfo
	Ledger     currency.Ledger
	Currencies games.Currencies
	SpinOpts   []games.SpinOption
}

// Builtins exposes the registered handlers that other components consult.
type Builtins struct {
	Uptime      *Uptime
	CommandList *CommandList
	Permit      *Permit
	Manage      *CommandManagement
	Bid         *games.Bid
	Spin        *games.Spin
}

// Register builds every stock command and registers it. The registry must
// be initialized.
func Register(d Deps) (*Builtins, error) {
	b := &Builtins{
		Uptime:      NewUptime(d.Stream, d.Sender),
		CommandList: NewCommandList(d.Registry, d.Custom, d.Sender),
		Permit:      NewPermit(d.Sender),
		Bid:         games.NewBid(d.Ledger, d.Currencies, d.Sender),
		Spin:        games.NewSpin(d.Ledger, d.Currencies, d.Sender, d.SpinOpts...),
	}
	table := []commands.SystemCommand{
		{Definition: UptimeDefinition(), Handler: b.Uptime},
		{Definition: CommandListDefinition(), Handler: b.CommandList},
		{Definition: PermitDefinition(), Handler: b.Permit},
		b.Bid.Command(),
		b.Spin.Command(),
	}
	if d.Custom != nil {
		b.Manage = NewCommandManagement(d.Custom, d.Sender)
		table = append(table, commands.SystemCommand{Definition: CommandManagementDefinition(), Handler: b.Manage})
	}
	for _, cmd := range table {
		if err := d.Registry.Register(cmd); err != nil {
			return nil, fmt.Errorf("register %s: %w", cmd.Definition.ID, err)
		}
	}
	slog.Info("registered built-in commands", slog.Int("count", len(table)))
	return b, nil
}
