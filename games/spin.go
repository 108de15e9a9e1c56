package games

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/streambot/commands"
	"github.com/onnwee/streambot/currency"
	"github.com/onnwee/streambot/expiry"
)

// SpinCommandID is the id of the slots command.
const SpinCommandID = "firebot:spin"

// SpinAmount is the sub-command matching a numeric wager.
const SpinAmount = "spinAmount"

// spinnerTTL bounds how long a crashed spin can hold a viewer's slot machine.
const spinnerTTL = time.Minute

// SlotMachine rolls the reels and returns the number of successful rolls.
type SlotMachine interface {
	Spin(successChance int) int
}

// RandomSlots rolls three reels, each succeeding with successChance percent.
type RandomSlots struct{}

func (RandomSlots) Spin(successChance int) int {
	hits := 0
	for range 3 {
		if rand.IntN(100) < successChance {
			hits++
		}
	}
	return hits
}

// RoleChance overrides the base success chance for viewers with a role.
type RoleChance struct {
	Role    string `json:"roleId"`
	Percent int    `json:"percent"`
}

// SpinDefinition is the default definition of the slots command.
func SpinDefinition() commands.Definition {
	return commands.Definition{
		ID:            SpinCommandID,
		Name:          "Spin (Slots)",
		Type:          commands.TypeSystem,
		Description:   "Allows viewers to play the Slots game.",
		Trigger:       "!spin",
		Active:        true,
		HideCooldowns: true,
		Options: map[string]commands.Option{
			"currencyId":         {Type: "currency", Title: "Currency", Description: "Which currency to use for this game.", Default: ""},
			"defaultWager":       numberOption("Default Wager", "Wager used when none is given. 0 requires a wager.", 0),
			"minWager":           numberOption("Min Wager", "", 1),
			"maxWager":           numberOption("Max Wager", "0 means no maximum.", 0),
			"cooldown":           numberOption("Cooldown (secs)", "How long a viewer must wait between spins.", 300),
			"successChance":      numberOption("Base Success Chance", "Percent chance each reel hits.", 50),
			"multiplier":         numberOption("Winnings Multiplier", "Winnings are wager x hits x multiplier.", 1),
			"chatter":            chatterOption(),
			"noWagerAmount":      stringOption("No Wager Amount", "Variables: {user}", "{user}, please include a wager amount!"),
			"invalidWagerAmount": stringOption("Invalid Wager Amount", "Variables: {user}", "{user}, please include a valid wager amount!"),
			"alreadySpinning":    stringOption("Already Spinning", "Variables: {username}", "{username}, your slot machine is actively working!"),
			"onCooldown":         stringOption("On Cooldown", "Variables: {username}, {timeRemaining}", "{username}, your slot machine is on cooldown. Time remaining: {timeRemaining}"),
			"moreThanZero":       stringOption("More Than 0", "Variables: {username}", "{username}, your wager amount must be more than 0."),
			"minWagerMessage":    stringOption("Below Min Wager", "Variables: {username}, {minWager}", "{username}, your wager amount must be at least {minWager}."),
			"maxWagerMessage":    stringOption("Above Max Wager", "Variables: {username}, {maxWager}", "{username}, your wager amount can be no more than {maxWager}."),
			"notEnough":          stringOption("Not Enough", "Variables: {username}", "{username}, you don't have enough to wager this amount!"),
			"spinInAction":       stringOption("Spin In Action", "Variables: {username}", "{username} pulls back the lever..."),
			"spinSuccessful":     stringOption("Spin Successful", "Variables: {username}, {successfulRolls}, {winningsAmount}, {currencyName}", "{username} hit {successfulRolls} out of 3 and won {winningsAmount} {currencyName}!"),
		},
		SubCommands: []commands.SubCommand{
			{
				ID:          SpinAmount,
				Arg:         `\d+`,
				Regex:       true,
				Usage:       "[currencyAmount]",
				Description: "Spins the slot machine with the given amount",
			},
		},
	}
}

// Spin is the slots game handler. A viewer can run one spin at a time.
type Spin struct {
	ledger     currency.Ledger
	currencies Currencies
	sender     commands.ChatSender
	slots      SlotMachine
	chances    []RoleChance
	spinners   *expiry.Map[string]
	cooldowns  *expiry.Map[string]
}

// SpinOption customizes a Spin.
type SpinOption func(*Spin)

// WithSlotMachine replaces the random reels.
func WithSlotMachine(m SlotMachine) SpinOption { return func(s *Spin) { s.slots = m } }

// WithRoleChances sets per-role success chances; the first matching role wins.
func WithRoleChances(c []RoleChance) SpinOption { return func(s *Spin) { s.chances = c } }

// WithSpinClock sets the clock used for cooldowns.
func WithSpinClock(now func() time.Time) SpinOption {
	return func(s *Spin) {
		s.spinners = expiry.NewWithClock[string](now)
		s.cooldowns = expiry.NewWithClock[string](now)
	}
}

// NewSpin returns the slots game handler.
func NewSpin(ledger currency.Ledger, currencies Currencies, sender commands.ChatSender, opts ...SpinOption) *Spin {
	s := &Spin{
		ledger:     ledger,
		currencies: currencies,
		sender:     sender,
		slots:      RandomSlots{},
		spinners:   expiry.New[string](),
		cooldowns:  expiry.New[string](),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Command pairs the definition with this handler for registration.
func (s *Spin) Command() commands.SystemCommand {
	return commands.SystemCommand{Definition: SpinDefinition(), Handler: s}
}

// Spinning reports whether user holds a running spin.
func (s *Spin) Spinning(user string) bool { return s.spinners.Has(strings.ToLower(user)) }

func (s *Spin) OnTriggerEvent(ctx context.Context, evt *commands.Event) error {
	opts := evt.CommandOptions
	as := chatter(opts)
	user := evt.UserCommand.CommandSender
	key := strings.ToLower(user)
	reply := func(option string, pairs ...string) {
		tmpl := opts.String(option)
		pairs = append(pairs, "{user}", user, "{username}", user)
		say(ctx, s.sender, strings.NewReplacer(pairs...).Replace(tmpl), "", as)
	}

	var wager int
	switch {
	case len(evt.UserCommand.Args) == 0:
		wager = opts.Int("defaultWager")
		if wager < 1 {
			reply("noWagerAmount")
			return nil
		}
	case evt.UserCommand.SubcommandID == SpinAmount:
		n, err := strconv.Atoi(evt.UserCommand.Args[0])
		if err != nil {
			reply("invalidWagerAmount")
			return nil
		}
		wager = n
	default:
		reply("invalidWagerAmount")
		return nil
	}

	if !s.spinners.SetIfAbsent(key, spinnerTTL) {
		reply("alreadySpinning")
		return nil
	}
	defer s.spinners.Delete(key)

	if left, ok := s.cooldowns.Remaining(key); ok {
		reply("onCooldown", "{timeRemaining}", secondsForHumans(left))
		return nil
	}
	if wager < 1 {
		reply("moreThanZero")
		return nil
	}
	if lo := opts.Int("minWager"); lo > 0 && wager < lo {
		reply("minWagerMessage", "{minWager}", strconv.Itoa(lo))
		return nil
	}
	if hi := opts.Int("maxWager"); hi > 0 && wager > hi {
		reply("maxWagerMessage", "{maxWager}", strconv.Itoa(hi))
		return nil
	}

	cur, ok := s.currencies.Get(opts.String("currencyId"))
	if !ok {
		say(ctx, s.sender, "The slots game has no currency configured.", "", as)
		return nil
	}
	if _, err := s.ledger.Debit(ctx, cur.ID, user, wager); err != nil {
		if errors.Is(err, currency.ErrInsufficientFunds) {
			reply("notEnough")
			return nil
		}
		say(ctx, s.sender, fmt.Sprintf("Sorry %s, there was an error deducting currency from your balance so the spin has been canceled.", user), "", as)
		return fmt.Errorf("debit wager: %w", err)
	}
	if secs := opts.Int("cooldown"); secs > 0 {
		s.cooldowns.Set(key, time.Duration(secs)*time.Second)
	}

	reply("spinInAction")
	hits := s.slots.Spin(s.successChance(opts, evt.UserCommand.SenderRoles))
	winnings := int(math.Floor(float64(wager) * float64(hits) * opts.Float("multiplier")))
	if winnings > 0 {
		if _, err := s.ledger.Adjust(ctx, cur.ID, user, winnings, cur.Limit); err != nil {
			slog.Error("failed to pay slots winnings", slog.String("user", user), slog.Int("amount", winnings), slog.Any("err", err))
			return fmt.Errorf("pay winnings: %w", err)
		}
	}
	reply("spinSuccessful",
		"{successfulRolls}", strconv.Itoa(hits),
		"{winningsAmount}", currency.Commafy(winnings),
		"{currencyName}", cur.Name)
	return nil
}

func (s *Spin) successChance(opts commands.Options, roles []string) int {
	for _, rc := range s.chances {
		for _, r := range roles {
			if r == rc.Role {
				return rc.Percent
			}
		}
	}
	if _, set := opts["successChance"]; set {
		return opts.Int("successChance")
	}
	return 50
}
