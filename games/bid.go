package games

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/streambot/commands"
	"github.com/onnwee/streambot/currency"
	"github.com/onnwee/streambot/expiry"
)

// BidCommandID is the id of the bid game command.
const BidCommandID = "firebot:bid"

// Bid sub-command ids.
const (
	BidStart  = "bidStart"
	BidStop   = "bidStop"
	BidAmount = "bidAmount"
)

// BidDefinition is the default definition of the bid command. Game settings
// live in its options so they can be overridden like any other command.
func BidDefinition() commands.Definition {
	return commands.Definition{
		ID:            BidCommandID,
		Name:          "Bid",
		Type:          commands.TypeSystem,
		Description:   "Allows viewers to participate in the Bid game.",
		Trigger:       "!bid",
		Active:        true,
		HideCooldowns: true,
		Options: map[string]commands.Option{
			"currencyId":   {Type: "currency", Title: "Currency", Description: "Which currency to use for this game.", Default: ""},
			"minBid":       numberOption("Minimum Bid", "The lowest amount that can be bid.", 1),
			"minIncrement": numberOption("Minimum Raise", "How much a new bid must exceed the current one.", 1),
			"timeLimit":    numberOption("Time Limit (min)", "How long the bidding stays open.", 2),
			"cooldown":     numberOption("Cooldown (secs)", "How long a viewer must wait between bids.", 5),
			"chatter":      chatterOption(),
		},
		SubCommands: []commands.SubCommand{
			{
				ID:              BidStart,
				Arg:             "start",
				Usage:           "start [currencyAmount]",
				Description:     "Starts the bidding at the given amount.",
				MinArgs:         intPtr(2),
				RestrictionData: commands.ModsOnly(),
			},
			{
				ID:              BidStop,
				Arg:             "stop",
				Usage:           "stop",
				Description:     "Manually stops the bidding. Highest bidder wins.",
				RestrictionData: commands.ModsOnly(),
			},
			{
				ID:          BidAmount,
				Arg:         `\d+`,
				Regex:       true,
				Usage:       "[currencyAmount]",
				Description: "Joins the bidding at the given amount.",
			},
		},
	}
}

// BidState is a snapshot of the running auction.
type BidState struct {
	Active     bool
	CurrentBid int
	TopBidder  string
	CurrencyID string
}

// Bid runs one auction at a time. Bids are paid up front and refunded when
// outbid.
type Bid struct {
	ledger     currency.Ledger
	currencies Currencies
	sender     commands.ChatSender
	cooldowns  *expiry.Map[string]
	now        func() time.Time
	afterFunc  func(time.Duration, func()) func() bool

	mu    sync.Mutex
	state BidState
	as    commands.Account
	gen   int
	stopT func() bool
}

// NewBid returns the bid game handler.
func NewBid(ledger currency.Ledger, currencies Currencies, sender commands.ChatSender) *Bid {
	return &Bid{
		ledger:     ledger,
		currencies: currencies,
		sender:     sender,
		cooldowns:  expiry.New[string](),
		now:        time.Now,
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
	}
}

// Command pairs the definition with this handler for registration.
func (b *Bid) Command() commands.SystemCommand {
	return commands.SystemCommand{Definition: BidDefinition(), Handler: b}
}

// State returns the current auction.
func (b *Bid) State() BidState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bid) OnTriggerEvent(ctx context.Context, evt *commands.Event) error {
	opts := evt.CommandOptions
	as := chatter(opts)
	user := evt.UserCommand.CommandSender
	cur, ok := b.currencies.Get(opts.String("currencyId"))
	if !ok {
		say(ctx, b.sender, "The bid game has no currency configured.", user, as)
		return nil
	}

	reject := func(text string) error {
		say(ctx, b.sender, text, user, as)
		deleteMessage(ctx, b.sender, evt.ChatMessage.ID)
		return nil
	}

	switch evt.UserCommand.SubcommandID {
	case BidStart:
		if len(evt.UserCommand.Args) < 2 {
			return reject(fmt.Sprintf("Invalid command usage: %s start [amount]", evt.UserCommand.Trigger))
		}
		amount, err := strconv.Atoi(evt.UserCommand.Args[1])
		if err != nil {
			return reject("Invalid amount. Please enter a number to start bidding.")
		}
		return b.start(ctx, opts, cur, amount, reject)
	case BidStop:
		b.Stop(ctx)
		return nil
	case BidAmount:
		amount, err := strconv.Atoi(evt.UserCommand.Args[0])
		if err != nil {
			return reject("Bid amount must be more than 0.")
		}
		return b.bid(ctx, opts, cur, user, amount, reject)
	default:
		return reject(fmt.Sprintf("Incorrect bid usage: %s [bidAmount]", evt.UserCommand.Trigger))
	}
}

func (b *Bid) start(ctx context.Context, opts commands.Options, cur currency.Currency, amount int, reject func(string) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.Active {
		return reject("There is already a bid running. Use !bid stop to stop it.")
	}
	if minBid := opts.Int("minBid"); amount < minBid {
		return reject(fmt.Sprintf("The opening bid must be more than %d.", minBid))
	}

	b.gen++
	gen := b.gen
	b.state = BidState{Active: true, CurrentBid: amount, CurrencyID: cur.ID}
	b.as = chatter(opts)
	b.cooldowns = expiry.NewWithClock[string](b.now)

	limit := time.Duration(opts.Int("timeLimit")) * time.Minute
	if limit <= 0 {
		limit = 2 * time.Minute
	}
	b.stopT = b.afterFunc(limit, func() { b.finish(context.Background(), gen) })

	raise := b.state.CurrentBid + minIncrement(opts)
	say(ctx, b.sender, fmt.Sprintf("Bidding has started at %s %s. Type !bid %d to start bidding.",
		currency.Commafy(amount), cur.Name, raise), "", b.as)
	slog.Info("bidding started", slog.Int("opening", amount), slog.String("currency", cur.ID))
	return nil
}

func (b *Bid) bid(ctx context.Context, opts commands.Options, cur currency.Currency, user string, amount int, reject func(string) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.state.Active {
		return reject("There is no active bidding in progress.")
	}
	key := strings.ToLower(user)
	if left, ok := b.cooldowns.Remaining(key); ok {
		return reject(fmt.Sprintf("You placed a bid recently! Please wait %s before placing another bid.", secondsForHumans(left)))
	}
	if strings.EqualFold(b.state.TopBidder, user) {
		return reject("You are already the top bidder. You can't bid against yourself.")
	}
	if amount < 1 {
		return reject("Bid amount must be more than 0.")
	}
	if minBid := opts.Int("minBid"); minBid > 0 && amount < minBid {
		return reject(fmt.Sprintf("Bid amount must be at least %d %s.", minBid, cur.Name))
	}
	if raise := b.state.CurrentBid + minIncrement(opts); amount < raise {
		return reject(fmt.Sprintf("You must bid at least %d %s.", raise, cur.Name))
	}

	if _, err := b.ledger.Debit(ctx, b.state.CurrencyID, user, amount); err != nil {
		if errors.Is(err, currency.ErrInsufficientFunds) {
			return reject(fmt.Sprintf("You don't have enough %s!", cur.Name))
		}
		return fmt.Errorf("debit bid: %w", err)
	}

	if prev := b.state.TopBidder; prev != "" {
		if _, err := b.ledger.Adjust(ctx, b.state.CurrencyID, prev, b.state.CurrentBid, 0); err != nil {
			slog.Error("failed to refund outbid user", slog.String("user", prev), slog.Int("amount", b.state.CurrentBid), slog.Any("err", err))
		} else {
			say(ctx, b.sender, fmt.Sprintf("You have been out bid! You've been refunded %d %s.", b.state.CurrentBid, cur.Name), prev, b.as)
		}
	}

	b.state.TopBidder = user
	b.state.CurrentBid = amount
	say(ctx, b.sender, fmt.Sprintf("%s is the new high bidder at %d %s. To bid, type !bid %d (or higher).",
		user, amount, cur.Name, amount+minIncrement(opts)), "", b.as)

	if secs := opts.Int("cooldown"); secs > 0 {
		b.cooldowns.Set(key, time.Duration(secs)*time.Second)
	}
	return nil
}

// Stop ends the running auction early. The highest bidder wins.
func (b *Bid) Stop(ctx context.Context) {
	b.mu.Lock()
	gen := b.gen
	b.mu.Unlock()
	b.finish(ctx, gen)
}

// finish resolves round gen once; later calls for the same round are no-ops.
func (b *Bid) finish(ctx context.Context, gen int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.state.Active || gen != b.gen {
		return
	}
	if b.stopT != nil {
		b.stopT()
		b.stopT = nil
	}
	if b.state.TopBidder != "" {
		say(ctx, b.sender, fmt.Sprintf("%s has won the bidding with %d!", b.state.TopBidder, b.state.CurrentBid), "", b.as)
	} else {
		say(ctx, b.sender, "There is no winner, because no one bid!", "", b.as)
	}
	slog.Info("bidding finished", slog.String("winner", b.state.TopBidder), slog.Int("amount", b.state.CurrentBid))
	b.state = BidState{}
	b.cooldowns = expiry.NewWithClock[string](b.now)
}

func minIncrement(opts commands.Options) int {
	if n := opts.Int("minIncrement"); n > 0 {
		return n
	}
	return 1
}
