package commands

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/google/uuid"

	"github.com/onnwee/streambot/telemetry"
)

// Outcome describes what Dispatch did with a message.
type Outcome string

const (
	OutcomeNoMatch      Outcome = "no-match"
	OutcomeInvoked      Outcome = "invoked"
	OutcomeIgnored      Outcome = "ignored"
	OutcomeInvalidUsage Outcome = "invalid-usage"
	OutcomeRestricted   Outcome = "restricted"
	OutcomeCooldown     Outcome = "cooldown"
	OutcomeFailed       Outcome = "failed"
)

// Result reports the dispatch of one message.
type Result struct {
	Outcome      Outcome
	CommandID    string
	SubcommandID string
	// Remaining is set for OutcomeCooldown.
	Remaining time.Duration
	// Err is set for OutcomeFailed and wraps ErrHandlerFailure.
	Err error
}

// Dispatcher matches chat messages against the registry and custom store
// and invokes the matched command.
type Dispatcher struct {
	reg       *Registry
	custom    *CustomStore
	sender    ChatSender
	effects   EffectRunner
	cooldowns *Cooldowns

	botName      string
	streamerName string

	patternsMu sync.Mutex
	patterns   map[string]*regexp.Regexp

	wg sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithEffectRunner sets the runner used for custom command effects.
func WithEffectRunner(r EffectRunner) DispatcherOption {
	return func(d *Dispatcher) { d.effects = r }
}

// WithCooldowns replaces the cooldown tracker.
func WithCooldowns(c *Cooldowns) DispatcherOption {
	return func(d *Dispatcher) { d.cooldowns = c }
}

// WithAccounts sets the bot and streamer usernames used by the ignoreBot and
// ignoreStreamer flags of custom commands.
func WithAccounts(bot, streamer string) DispatcherOption {
	return func(d *Dispatcher) {
		d.botName = bot
		d.streamerName = streamer
	}
}

// NewDispatcher returns a dispatcher over reg and custom. custom may be nil.
func NewDispatcher(reg *Registry, custom *CustomStore, sender ChatSender, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		reg:       reg,
		custom:    custom,
		sender:    sender,
		cooldowns: NewCooldowns(),
		patterns:  make(map[string]*regexp.Regexp),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Cooldowns exposes the tracker so callers can run its sweep.
func (d *Dispatcher) Cooldowns() *Cooldowns { return d.cooldowns }

// Run dispatches every message from msgs on its own goroutine, starting
// them in arrival order, until msgs is closed or ctx is done. It waits for
// in-flight dispatches before returning.
func (d *Dispatcher) Run(ctx context.Context, msgs <-chan ChatMessage) {
	defer d.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			d.Go(ctx, msg)
		}
	}
}

// Go dispatches msg asynchronously.
func (d *Dispatcher) Go(ctx context.Context, msg ChatMessage) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Dispatch(ctx, msg)
	}()
}

// Wait blocks until all dispatches started by Go have finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// candidate is a matched command before sub-command resolution.
type candidate struct {
	def     Definition
	handler Handler
	custom  *CustomCommand
	// trigger is the trigger or alias that matched.
	trigger string
	args    []string
}

// Dispatch resolves msg to at most one command and invokes it. Handler
// errors and panics are contained and reported in the Result.
func (d *Dispatcher) Dispatch(ctx context.Context, msg ChatMessage) Result {
	if telemetry.GetCorrelation(ctx) == "" {
		ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	}
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "dispatch"))

	tokens := strings.Fields(msg.Text)
	if len(tokens) == 0 {
		return Result{Outcome: OutcomeNoMatch}
	}

	matches := d.match(msg.Text, tokens)
	if len(matches) == 0 {
		return Result{Outcome: OutcomeNoMatch}
	}
	if len(matches) > 1 {
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.def.ID
		}
		logger.Error("multiple commands match one message, using the first", slog.Any("ids", ids), slog.String("text", msg.Text))
	}
	c := matches[0]
	def := c.def
	res := Result{CommandID: def.ID}

	if c.custom != nil && d.ignored(c.custom, msg) {
		res.Outcome = OutcomeIgnored
		return res
	}

	sc := d.resolveSubCommand(def, c.args)
	uc := UserCommand{
		Trigger:       c.trigger,
		Args:          c.args,
		CommandSender: msg.Username,
		SenderRoles:   append([]string(nil), msg.Roles...),
	}
	if sc != nil {
		uc.SubcommandID = sc.Identity()
		uc.TriggeredArg = c.args[0]
		res.SubcommandID = uc.SubcommandID
	}

	if sc != nil && sc.MinArgs != nil && len(c.args) < *sc.MinArgs {
		usage := strings.TrimSpace(c.trigger + " " + sc.Usage)
		d.send(ctx, logger, fmt.Sprintf("Invalid command usage: %s", usage), "")
		res.Outcome = OutcomeInvalidUsage
		return res
	}

	rd := effectiveRestrictions(def, sc)
	if ok, reason := CheckRestrictions(rd, msg); !ok {
		telemetry.Inc(telemetry.CommandsRestricted)
		logger.Debug("command restricted", slog.String("id", def.ID), slog.String("user", msg.Username), slog.String("reason", reason))
		if rd.SendFailMessage {
			d.send(ctx, logger, restrictionFailMessage(rd, msg.DisplayNameOrUsername(), reason), "")
		}
		res.Outcome = OutcomeRestricted
		return res
	}

	if left, ok := d.cooldowns.Acquire(def, sc, msg.Username); !ok {
		telemetry.Inc(telemetry.CommandsCooldownBlocked)
		logger.Debug("command on cooldown", slog.String("id", def.ID), slog.String("user", msg.Username), slog.Duration("remaining", left))
		res.Outcome = OutcomeCooldown
		res.Remaining = left
		return res
	}

	autoDelete := def.AutoDeleteTrigger
	if sc != nil && sc.AutoDeleteTrigger != nil {
		autoDelete = *sc.AutoDeleteTrigger
	}
	if autoDelete && msg.ID != "" && d.sender != nil {
		if err := d.sender.DeleteMessage(ctx, msg.ID); err != nil {
			logger.Warn("failed to delete command trigger message", slog.String("id", def.ID), slog.Any("err", err))
		}
	}

	evt := &Event{
		Command:        def,
		CommandOptions: def.ResolvedOptions(),
		UserCommand:    uc,
		ChatMessage:    msg,
	}
	if err := d.invoke(ctx, c, evt); err != nil {
		telemetry.IncHandlerFailure(def.ID)
		logger.Error("command handler failed",
			slog.String("id", def.ID),
			slog.String("subcommand", uc.SubcommandID),
			slog.String("user", msg.Username),
			slog.Any("err", err))
		res.Outcome = OutcomeFailed
		res.Err = err
		return res
	}
	res.Outcome = OutcomeInvoked
	return res
}

func (d *Dispatcher) invoke(ctx context.Context, c candidate, evt *Event) (err error) {
	source := telemetry.SourceSystem
	if c.custom != nil {
		source = telemetry.SourceCustom
	}
	telemetry.IncDispatched(source)

	ctx, span := telemetry.StartSpan(ctx, "commands", "command.invoke",
		telemetry.CommandIDAttr(evt.Command.ID),
		telemetry.CommandTriggerAttr(evt.Command.Trigger),
		telemetry.SubcommandAttr(evt.UserCommand.SubcommandID),
		telemetry.ChatUserAttr(evt.UserCommand.CommandSender))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = errors.WithDetails(errors.WithMessage(ErrHandlerFailure, fmt.Sprintf("panic: %v", r)), "id", evt.Command.ID)
		}
		telemetry.RecordError(span, err)
	}()

	telemetry.TimeFunc(telemetry.HandlerDuration, func() {
		if c.custom != nil {
			err = d.runCustom(ctx, c.custom, evt)
			return
		}
		err = c.handler.OnTriggerEvent(ctx, evt)
	})
	if err != nil && !errors.Is(err, ErrHandlerFailure) {
		err = fmt.Errorf("%w: %w", ErrHandlerFailure, err)
	}
	return err
}

func (d *Dispatcher) runCustom(ctx context.Context, cmd *CustomCommand, evt *Event) error {
	effects := cmd.Effects
	if sc, ok := cmd.SubCommandByID(evt.UserCommand.SubcommandID); ok && len(sc.Effects) > 0 {
		effects = sc.Effects
	}
	if d.custom != nil {
		if err := d.custom.IncrementCount(ctx, cmd.ID); err != nil {
			slog.Warn("failed to update custom command count", slog.String("id", cmd.ID), slog.Any("err", err))
		}
	}
	if d.effects == nil || len(effects) == 0 {
		return nil
	}
	return d.effects.RunEffects(ctx, effects, evt)
}

func (d *Dispatcher) ignored(cmd *CustomCommand, msg ChatMessage) bool {
	if cmd.IgnoreBot && d.botName != "" && strings.EqualFold(msg.Username, d.botName) {
		return true
	}
	if cmd.IgnoreStreamer && d.streamerName != "" && strings.EqualFold(msg.Username, d.streamerName) {
		return true
	}
	return false
}

func (d *Dispatcher) send(ctx context.Context, logger *slog.Logger, text, whisperTo string) {
	if d.sender == nil {
		return
	}
	if err := d.sender.SendMessage(ctx, text, whisperTo, AccountDefault); err != nil {
		logger.Warn("failed to send chat message", slog.Any("err", err))
	}
}

// match returns every active command whose trigger matches, system commands
// first in id order, then custom commands in trigger order.
func (d *Dispatcher) match(text string, tokens []string) []candidate {
	var out []candidate
	for _, c := range d.reg.snapshot() {
		if !c.def.Active {
			continue
		}
		if args, ok := d.matchTrigger(c.def.Trigger, c.def.TriggerIsRegex, c.def.ScanWholeMessage, text, tokens); ok {
			out = append(out, candidate{def: c.def, handler: c.handler, trigger: c.def.Trigger, args: args})
		}
	}
	if d.custom == nil {
		return out
	}
	for _, cc := range d.custom.All() {
		if !cc.Active {
			continue
		}
		for _, trig := range cc.Triggers() {
			if args, ok := d.matchTrigger(trig, cc.TriggerIsRegex, cc.ScanWholeMessage, text, tokens); ok {
				cmd := cc
				out = append(out, candidate{def: cc.Definition, custom: &cmd, trigger: trig, args: args})
				break
			}
		}
	}
	return out
}

// matchTrigger reports whether trigger matches and returns the arguments:
// the message tokens with the matched trigger removed.
func (d *Dispatcher) matchTrigger(trigger string, isRegex, scanWhole bool, text string, tokens []string) ([]string, bool) {
	if isRegex {
		re := d.pattern(trigger)
		if re == nil {
			return nil, false
		}
		loc := re.FindStringIndex(text)
		if loc == nil {
			return nil, false
		}
		return strings.Fields(text[:loc[0]] + " " + text[loc[1]:]), true
	}

	words := strings.Fields(trigger)
	if len(words) == 0 || len(words) > len(tokens) {
		return nil, false
	}
	last := 0
	if scanWhole {
		last = len(tokens) - len(words)
	}
	for i := 0; i <= last; i++ {
		if wordsEqual(tokens[i:i+len(words)], words) {
			args := make([]string, 0, len(tokens)-len(words))
			args = append(args, tokens[:i]...)
			args = append(args, tokens[i+len(words):]...)
			return args, true
		}
	}
	return nil, false
}

func wordsEqual(a, b []string) bool {
	for i := range b {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}

// pattern compiles a case-insensitive trigger pattern once. Invalid patterns
// are cached as nil and never match.
func (d *Dispatcher) pattern(expr string) *regexp.Regexp {
	d.patternsMu.Lock()
	defer d.patternsMu.Unlock()
	if re, ok := d.patterns[expr]; ok {
		return re
	}
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		slog.Warn("invalid trigger pattern", slog.String("pattern", expr), slog.Any("err", err))
		re = nil
	}
	d.patterns[expr] = re
	return re
}

// resolveSubCommand selects the sub-command for args: a literal match first,
// then a regex match, then the fallback, each in declared order. It returns
// nil when the base command should handle the event.
func (d *Dispatcher) resolveSubCommand(def Definition, args []string) *SubCommand {
	if len(def.SubCommands) == 0 || len(args) == 0 {
		return nil
	}
	arg := args[0]
	for i := range def.SubCommands {
		sc := &def.SubCommands[i]
		if sc.IsActive() && !sc.Regex && !sc.Fallback && strings.EqualFold(sc.Arg, arg) {
			return sc
		}
	}
	for i := range def.SubCommands {
		sc := &def.SubCommands[i]
		if !sc.IsActive() || !sc.Regex || sc.Fallback {
			continue
		}
		if re := d.pattern("^(?:" + sc.Arg + ")$"); re != nil && re.MatchString(arg) {
			return sc
		}
	}
	for i := range def.SubCommands {
		sc := &def.SubCommands[i]
		if sc.IsActive() && sc.Fallback {
			return sc
		}
	}
	return nil
}
