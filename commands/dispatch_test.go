package commands

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"emperror.dev/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu     sync.Mutex
	calls  int
	events []*Event
	err    error
	panics bool
}

func (h *recordingHandler) OnTriggerEvent(ctx context.Context, evt *Event) error {
	h.mu.Lock()
	h.calls++
	h.events = append(h.events, evt)
	h.mu.Unlock()
	if h.panics {
		panic("boom")
	}
	return h.err
}

func (h *recordingHandler) last() *Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.events) == 0 {
		return nil
	}
	return h.events[len(h.events)-1]
}

type dispatchFixture struct {
	reg    *Registry
	custom *CustomStore
	sender *fakeSender
	d      *Dispatcher
	clock  time.Time
}

func newDispatchFixture(t *testing.T, opts ...DispatcherOption) *dispatchFixture {
	t.Helper()
	f := &dispatchFixture{sender: &fakeSender{}, clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	f.reg = newTestRegistry(t, nil)
	f.custom = NewCustomStore(NewMemoryStore(), f.reg)
	require.NoError(t, f.custom.Init(context.Background()))
	opts = append([]DispatcherOption{
		WithCooldowns(newCooldownsWithClock(func() time.Time { return f.clock })),
		WithEffectRunner(NewChatEffectRunner(f.sender)),
	}, opts...)
	f.d = NewDispatcher(f.reg, f.custom, f.sender, opts...)
	return f
}

func (f *dispatchFixture) register(t *testing.T, def Definition) *recordingHandler {
	t.Helper()
	h := &recordingHandler{}
	require.NoError(t, f.reg.Register(SystemCommand{Definition: def, Handler: h}))
	return h
}

func chat(user, text string, roles ...string) ChatMessage {
	return ChatMessage{ID: "msg-" + user, Username: user, DisplayName: user, Text: text, Roles: roles}
}

func TestDispatchExactlyOnceWithArgs(t *testing.T) {
	f := newDispatchFixture(t)
	h := f.register(t, Definition{ID: "firebot:echo", Trigger: "!echo", Active: true})

	res := f.d.Dispatch(context.Background(), chat("alice", "!ECHO  Hello   World again"))
	assert.Equal(t, OutcomeInvoked, res.Outcome)
	assert.Equal(t, "firebot:echo", res.CommandID)
	require.Equal(t, 1, h.calls)

	evt := h.last()
	assert.Equal(t, []string{"Hello", "World", "again"}, evt.UserCommand.Args)
	assert.Equal(t, "!echo", evt.UserCommand.Trigger)
	assert.Equal(t, "alice", evt.UserCommand.CommandSender)
	assert.Empty(t, evt.UserCommand.SubcommandID)
}

func TestDispatchNoMatch(t *testing.T) {
	f := newDispatchFixture(t)
	h := f.register(t, Definition{ID: "firebot:echo", Trigger: "!echo", Active: true})

	for _, text := range []string{"", "   ", "hello !echo", "!echoes"} {
		assert.Equal(t, OutcomeNoMatch, f.d.Dispatch(context.Background(), chat("a", text)).Outcome, text)
	}
	assert.Zero(t, h.calls)
}

func TestDispatchScanWholeMessage(t *testing.T) {
	f := newDispatchFixture(t)
	h := f.register(t, Definition{ID: "firebot:hype", Trigger: "hype", Active: true, ScanWholeMessage: true})

	res := f.d.Dispatch(context.Background(), chat("a", "so much HYPE today"))
	require.Equal(t, OutcomeInvoked, res.Outcome)
	assert.Equal(t, []string{"so", "much", "today"}, h.last().UserCommand.Args)
}

func TestDispatchSkipsInactive(t *testing.T) {
	f := newDispatchFixture(t)
	h := f.register(t, Definition{ID: "firebot:echo", Trigger: "!echo", Active: false})
	assert.Equal(t, OutcomeNoMatch, f.d.Dispatch(context.Background(), chat("a", "!echo")).Outcome)
	assert.Zero(t, h.calls)
}

func TestDispatchUsesEffectiveTrigger(t *testing.T) {
	f := newDispatchFixture(t)
	h := f.register(t, uptimeDefinition())
	_, err := f.reg.SaveOverride(context.Background(), Override{ID: "firebot:uptime", Trigger: ptr("!howlong")})
	require.NoError(t, err)

	assert.Equal(t, OutcomeNoMatch, f.d.Dispatch(context.Background(), chat("a", "!uptime")).Outcome)
	assert.Equal(t, OutcomeInvoked, f.d.Dispatch(context.Background(), chat("a", "!howlong")).Outcome)
	assert.Equal(t, 1, h.calls)
}

func TestDispatchResolvesOptions(t *testing.T) {
	f := newDispatchFixture(t)
	h := f.register(t, bidDefinition())
	_, err := f.reg.SaveOverride(context.Background(), Override{ID: "firebot:bid", Options: map[string]Option{"minBid": {Value: 10}}})
	require.NoError(t, err)

	f.d.Dispatch(context.Background(), chat("a", "!bid"))
	require.Equal(t, 1, h.calls)
	assert.Equal(t, 10, h.last().CommandOptions.Int("minBid"))
}

func TestDispatchSubCommandLiteralBeforeRegex(t *testing.T) {
	f := newDispatchFixture(t)
	def := Definition{
		ID: "firebot:game", Trigger: "!game", Active: true,
		SubCommands: []SubCommand{
			{ID: "amount", Arg: `\w+`, Regex: true},
			{ID: "start", Arg: "start"},
		},
	}
	h := f.register(t, def)

	res := f.d.Dispatch(context.Background(), chat("a", "!game START 5"))
	assert.Equal(t, "start", res.SubcommandID)
	assert.Equal(t, "START", h.last().UserCommand.TriggeredArg)

	res = f.d.Dispatch(context.Background(), chat("b", "!game 42"))
	assert.Equal(t, "amount", res.SubcommandID)
}

func TestDispatchSubCommandRegexIsAnchored(t *testing.T) {
	f := newDispatchFixture(t)
	h := f.register(t, bidDefinition())

	f.d.Dispatch(context.Background(), chat("a", "!bid 100"))
	assert.Equal(t, "bidAmount", h.last().UserCommand.SubcommandID)

	f.d.Dispatch(context.Background(), chat("a", "!bid 100abc"))
	assert.Empty(t, h.last().UserCommand.SubcommandID, "no sub-command matches, base handles it")
}

func TestDispatchSubCommandFallbackAndInactive(t *testing.T) {
	f := newDispatchFixture(t)
	def := Definition{
		ID: "firebot:thing", Trigger: "!thing", Active: true,
		SubCommands: []SubCommand{
			{ID: "off", Arg: "off", Active: ptr(false)},
			{ID: "any", Arg: "any", Fallback: true},
		},
	}
	h := f.register(t, def)

	f.d.Dispatch(context.Background(), chat("a", "!thing off"))
	assert.Equal(t, "any", h.last().UserCommand.SubcommandID, "inactive sub-commands are skipped")

	f.d.Dispatch(context.Background(), chat("a", "!thing"))
	assert.Empty(t, h.last().UserCommand.SubcommandID, "no argument means the base command")
}

func TestDispatchMinArgs(t *testing.T) {
	f := newDispatchFixture(t)
	h := f.register(t, bidDefinition())

	res := f.d.Dispatch(context.Background(), chat("mod", "!bid start", RoleMod))
	assert.Equal(t, OutcomeInvalidUsage, res.Outcome)
	assert.Zero(t, h.calls)
	assert.Equal(t, []string{"Invalid command usage: !bid start [amount]"}, f.sender.messages())
}

func TestDispatchRestrictions(t *testing.T) {
	f := newDispatchFixture(t)
	h := f.register(t, bidDefinition())

	res := f.d.Dispatch(context.Background(), chat("viewer", "!bid start 100"))
	assert.Equal(t, OutcomeRestricted, res.Outcome)
	assert.Zero(t, h.calls)
	assert.Empty(t, f.sender.messages(), "fail message is opt-in")

	res = f.d.Dispatch(context.Background(), chat("boss", "!bid start 100", RoleBroadcaster))
	assert.Equal(t, OutcomeInvoked, res.Outcome)
}

func TestDispatchRestrictionFailMessage(t *testing.T) {
	f := newDispatchFixture(t)
	f.register(t, Definition{
		ID: "firebot:modonly", Trigger: "!modonly", Active: true,
		RestrictionData: &RestrictionData{
			SendFailMessage: true,
			Restrictions:    []Restriction{{Type: RestrictionPermissions, Mode: PermissionModeRoles, RoleIDs: []string{RoleMod}}},
		},
	})

	f.d.Dispatch(context.Background(), chat("viewer", "!modonly"))
	msgs := f.sender.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Sorry @viewer")
}

func TestDispatchCooldowns(t *testing.T) {
	f := newDispatchFixture(t)
	h := f.register(t, Definition{ID: "firebot:cd", Trigger: "!cd", Active: true, Cooldown: &Cooldown{User: 60, Global: 10}})
	ctx := context.Background()

	assert.Equal(t, OutcomeInvoked, f.d.Dispatch(ctx, chat("a", "!cd")).Outcome)

	res := f.d.Dispatch(ctx, chat("b", "!cd"))
	assert.Equal(t, OutcomeCooldown, res.Outcome, "global cooldown applies to everyone")
	assert.Equal(t, 10*time.Second, res.Remaining)

	f.clock = f.clock.Add(11 * time.Second)
	assert.Equal(t, OutcomeInvoked, f.d.Dispatch(ctx, chat("b", "!cd")).Outcome)

	f.clock = f.clock.Add(11 * time.Second)
	res = f.d.Dispatch(ctx, chat("a", "!cd"))
	assert.Equal(t, OutcomeCooldown, res.Outcome, "user cooldown still running")
	assert.Equal(t, 38*time.Second, res.Remaining)
	assert.Equal(t, 2, h.calls)
	assert.Empty(t, f.sender.messages(), "cooldowns abort silently")
}

func TestDispatchContainsHandlerFailures(t *testing.T) {
	f := newDispatchFixture(t)
	panicky := f.register(t, Definition{ID: "firebot:panic", Trigger: "!panic", Active: true})
	panicky.panics = true
	failing := f.register(t, Definition{ID: "firebot:fail", Trigger: "!fail", Active: true})
	failing.err = errors.New("nope")
	ok := f.register(t, Definition{ID: "firebot:ok", Trigger: "!ok", Active: true})

	res := f.d.Dispatch(context.Background(), chat("a", "!panic"))
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, errors.Is(res.Err, ErrHandlerFailure))

	res = f.d.Dispatch(context.Background(), chat("a", "!fail"))
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, errors.Is(res.Err, ErrHandlerFailure))

	assert.Equal(t, OutcomeInvoked, f.d.Dispatch(context.Background(), chat("a", "!ok")).Outcome)
	assert.Equal(t, 1, ok.calls)
}

func TestDispatchAutoDeleteTrigger(t *testing.T) {
	f := newDispatchFixture(t)
	f.sender.deleteErr = errors.New("helix down")
	h := f.register(t, Definition{ID: "firebot:secret", Trigger: "!secret", Active: true, AutoDeleteTrigger: true})

	res := f.d.Dispatch(context.Background(), chat("a", "!secret"))
	assert.Equal(t, OutcomeInvoked, res.Outcome, "delete failure is best-effort")
	assert.Equal(t, []string{"msg-a"}, f.sender.deleted)
	assert.Equal(t, 1, h.calls)
}

func TestDispatchCustomCommandEffects(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()
	effects, err := json.Marshal(EffectList{List: []Effect{
		{Type: EffectChat, Message: "{user} says {args}"},
		{Type: "firebot:unknown"},
		{Type: EffectChat, Message: "first arg {arg1}", Whisper: "{username}"},
	}})
	require.NoError(t, err)

	saved, err := f.custom.Save(ctx, CustomCommand{
		Definition: Definition{Trigger: "!shout", Active: true, Effects: effects},
		Aliases:    []string{"!yell"},
	}, "streamer")
	require.NoError(t, err)

	res := f.d.Dispatch(ctx, chat("bob", "!yell hi there"))
	require.Equal(t, OutcomeInvoked, res.Outcome)
	assert.Equal(t, saved.ID, res.CommandID)

	f.sender.mu.Lock()
	require.Len(t, f.sender.sent, 2)
	assert.Equal(t, "bob says hi there", f.sender.sent[0].Text)
	assert.Equal(t, sentMessage{Text: "first arg hi", WhisperTo: "bob"}, f.sender.sent[1])
	f.sender.mu.Unlock()

	got, _ := f.custom.Get(saved.ID)
	assert.Equal(t, 1, got.Count)
}

func TestDispatchAliasSetsMatchedTrigger(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()
	effects, err := json.Marshal(EffectList{List: []Effect{{Type: EffectChat, Message: "you used {trigger}"}}})
	require.NoError(t, err)
	_, err = f.custom.Save(ctx, CustomCommand{
		Definition: Definition{Trigger: "!shout", Active: true, Effects: effects},
		Aliases:    []string{"!yell"},
	}, "streamer")
	require.NoError(t, err)

	require.Equal(t, OutcomeInvoked, f.d.Dispatch(ctx, chat("bob", "!YELL now")).Outcome)
	require.Equal(t, OutcomeInvoked, f.d.Dispatch(ctx, chat("bob", "!shout now")).Outcome)
	assert.Equal(t, []string{"you used !yell", "you used !shout"}, f.sender.messages())
}

func TestDispatchConcurrentCooldownRunsOnce(t *testing.T) {
	f := newDispatchFixture(t, WithCooldowns(NewCooldowns()))
	var calls atomic.Int32
	start := make(chan struct{})
	require.NoError(t, f.reg.Register(SystemCommand{
		Definition: Definition{ID: "firebot:cd", Trigger: "!cd", Active: true, Cooldown: &Cooldown{Global: 60}},
		Handler: HandlerFunc(func(ctx context.Context, evt *Event) error {
			calls.Add(1)
			return nil
		}),
	}))

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			f.d.Dispatch(context.Background(), chat("viewer", "!cd"))
		}()
	}
	close(start)
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestCooldownsAcquire(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newCooldownsWithClock(func() time.Time { return now })
	def := Definition{ID: "firebot:cd", Cooldown: &Cooldown{User: 30}}

	_, ok := c.Acquire(def, nil, "Alice")
	assert.True(t, ok)
	left, ok := c.Acquire(def, nil, "alice")
	assert.False(t, ok)
	assert.Equal(t, 30*time.Second, left)
	_, ok = c.Acquire(def, nil, "bob")
	assert.True(t, ok, "user cooldowns are per user")

	c.Reset(def, nil, "alice")
	_, ok = c.Acquire(def, nil, "alice")
	assert.True(t, ok)
}

func TestDispatchCustomRegexTrigger(t *testing.T) {
	f := newDispatchFixture(t)
	_, err := f.custom.Save(context.Background(), CustomCommand{
		Definition: Definition{Trigger: `^!d(ice)?\d+`, TriggerIsRegex: true, Active: true},
	}, "u")
	require.NoError(t, err)

	assert.Equal(t, OutcomeInvoked, f.d.Dispatch(context.Background(), chat("a", "!DICE20 now")).Outcome)
	assert.Equal(t, OutcomeNoMatch, f.d.Dispatch(context.Background(), chat("a", "roll !d20")).Outcome)
}

func TestDispatchCustomIgnoreFlags(t *testing.T) {
	f := newDispatchFixture(t, WithAccounts("botty", "streamer"))
	_, err := f.custom.Save(context.Background(), CustomCommand{
		Definition: Definition{Trigger: "!hi", Active: true},
		IgnoreBot:  true,
	}, "u")
	require.NoError(t, err)

	assert.Equal(t, OutcomeIgnored, f.d.Dispatch(context.Background(), chat("Botty", "!hi")).Outcome)
	assert.Equal(t, OutcomeInvoked, f.d.Dispatch(context.Background(), chat("streamer", "!hi")).Outcome)
}

func TestDispatchRunProcessesChannel(t *testing.T) {
	f := newDispatchFixture(t)
	var calls atomic.Int32
	require.NoError(t, f.reg.Register(SystemCommand{
		Definition: Definition{ID: "firebot:count", Trigger: "!count", Active: true},
		Handler: HandlerFunc(func(ctx context.Context, evt *Event) error {
			calls.Add(1)
			return nil
		}),
	}))

	msgs := make(chan ChatMessage)
	done := make(chan struct{})
	go func() {
		f.d.Run(context.Background(), msgs)
		close(done)
	}()
	for i := 0; i < 5; i++ {
		msgs <- chat("u", "!count")
	}
	close(msgs)
	<-done
	assert.Equal(t, int32(5), calls.Load())
}
