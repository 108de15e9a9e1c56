package giveaways

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/streambot/commands"
	"github.com/onnwee/streambot/testutil"
)

type fixture struct {
	reg   *commands.Registry
	disp  *commands.Dispatcher
	chat  *testutil.ChatRecorder
	store *MemoryStore
	m     *Manager
}

func newFixture(t *testing.T, opts ...ManagerOption) *fixture {
	t.Helper()
	f := &fixture{chat: &testutil.ChatRecorder{}, store: NewMemoryStore()}
	f.reg, f.disp = testutil.NewRegistry(t, f.chat)
	f.m = NewManager(f.store, f.reg, f.chat, opts...)
	require.NoError(t, f.m.Init(context.Background()))
	return f
}

func (f *fixture) raffle(t *testing.T) Giveaway {
	t.Helper()
	g, err := f.m.Save(context.Background(), Giveaway{Name: "Big Raffle", Active: true})
	require.NoError(t, err)
	return g
}

func (f *fixture) send(user, text string, roles ...string) commands.Result {
	return f.disp.Dispatch(context.Background(), testutil.Chat(user, text, roles...))
}

func TestTriggerAndCommandID(t *testing.T) {
	g := Giveaway{ID: "g1", Name: "Big  Raffle"}
	assert.Equal(t, "!big-raffle", g.Trigger())
	assert.Equal(t, "firebot:giveaways:g1", g.CommandID())
}

func TestSaveRegistersAndValidates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.m.Save(ctx, Giveaway{Name: "  "})
	assert.ErrorIs(t, err, ErrInvalidGiveaway)

	g := f.raffle(t)
	assert.NotEmpty(t, g.ID)
	assert.True(t, f.reg.Has(g.CommandID()))
	assert.NotNil(t, g.Entries)

	g.Active = false
	_, err = f.m.Save(ctx, g)
	require.NoError(t, err)
	assert.False(t, f.reg.Has(g.CommandID()))

	stored, err := f.store.LoadGiveaways(ctx)
	require.NoError(t, err)
	assert.False(t, stored[g.ID].Active)
}

func TestSaveFailureRestoresRegistration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.store.FailSaves = true

	_, err := f.m.Save(ctx, Giveaway{ID: "g1", Name: "Raffle", Active: true})
	require.Error(t, err)
	assert.False(t, f.reg.Has("firebot:giveaways:g1"))
	_, ok := f.m.Get("g1")
	assert.False(t, ok)
}

func TestModeratorFlow(t *testing.T) {
	f := newFixture(t, WithPicker(func(n int) int { return n - 1 }))
	g := f.raffle(t)

	assert.Equal(t, commands.OutcomeRestricted, f.send("viewer", "!big-raffle start").Outcome)

	require.Equal(t, commands.OutcomeInvoked, f.send("mod", "!big-raffle set A shiny  keyboard", commands.RoleMod).Outcome)
	assert.Equal(t, "The prize for the Big Raffle giveaway is now A shiny keyboard.", f.chat.Last().Text)

	f.send("mod", "!big-raffle start", commands.RoleMod)
	assert.Equal(t, "The Big Raffle giveaway has started! Type !big-raffle enter to join.", f.chat.Last().Text)

	f.send("alice", "!big-raffle enter")
	assert.Equal(t, "alice", f.chat.Last().WhisperTo)
	f.send("bob", "!big-raffle enter")
	f.send("Bob", "!big-raffle enter")
	assert.Equal(t, "You have already entered the Big Raffle giveaway.", f.chat.Last().Text)

	cur, _ := f.m.Get(g.ID)
	assert.Equal(t, []string{"alice", "bob"}, cur.Entries)

	f.send("mod", "!big-raffle close", commands.RoleMod)
	f.send("carol", "!big-raffle enter")
	assert.Equal(t, "The Big Raffle giveaway is not open for entries.", f.chat.Last().Text)

	f.send("broadcaster", "!big-raffle draw", commands.RoleBroadcaster)
	assert.Equal(t, "bob has won the Big Raffle giveaway! Prize: A shiny keyboard", f.chat.Last().Text)

	cur, _ = f.m.Get(g.ID)
	assert.Equal(t, "bob", cur.Winner)
	assert.Equal(t, []string{"alice"}, cur.Entries, "the winner is removed so a redraw picks someone else")

	f.send("mod", "!big-raffle draw", commands.RoleMod)
	assert.Equal(t, "alice has won the Big Raffle giveaway! Prize: A shiny keyboard", f.chat.Last().Text)
	f.send("mod", "!big-raffle draw", commands.RoleMod)
	assert.Equal(t, "There are no entries in the Big Raffle giveaway.", f.chat.Last().Text)

	stored, _ := f.store.LoadGiveaways(context.Background())
	assert.Equal(t, "alice", stored[g.ID].Winner)
}

func TestOpenKeepsEntriesAndStartClears(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	g := f.raffle(t)

	_, err := f.m.Start(ctx, g.ID)
	require.NoError(t, err)
	_, err = f.m.Enter(ctx, g.ID, "alice")
	require.NoError(t, err)
	_, err = f.m.Close(ctx, g.ID)
	require.NoError(t, err)

	g, err = f.m.Open(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, g.Entries)

	g, err = f.m.Start(ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, g.Entries)
	assert.True(t, g.IsOpen)
}

func TestLeave(t *testing.T) {
	f := newFixture(t)
	f.raffle(t)
	f.send("mod", "!big-raffle start", commands.RoleMod)

	f.send("alice", "!big-raffle leave")
	assert.Equal(t, "You are not entered in the Big Raffle giveaway.", f.chat.Last().Text)

	f.send("alice", "!big-raffle enter")
	f.send("ALICE", "!big-raffle leave")
	assert.Equal(t, "You have left the Big Raffle giveaway.", f.chat.Last().Text)
}

func TestSetRequiresPrize(t *testing.T) {
	f := newFixture(t)
	f.raffle(t)

	res := f.send("mod", "!big-raffle set", commands.RoleMod)
	assert.Equal(t, commands.OutcomeInvalidUsage, res.Outcome)
	assert.Equal(t, "Invalid command usage: !big-raffle set [prize]", f.chat.Last().Text)
}

func TestDisplayTemplate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	g := f.raffle(t)

	f.send("alice", "!big-raffle")
	assert.Equal(t, "The Big Raffle giveaway is for a mystery prize. Entries are closed.", f.chat.Last().Text)

	_, err := f.reg.SaveOverride(ctx, commands.Override{
		ID:      g.CommandID(),
		Options: map[string]commands.Option{"outputTemplate": {Value: "Win {prize}! ({entries} entered)"}},
	})
	require.NoError(t, err)
	_, err = f.m.SetPrize(ctx, g.ID, "a hat")
	require.NoError(t, err)

	f.send("alice", "!big-raffle")
	assert.Equal(t, "Win a hat! (0 entered)", f.chat.Last().Text)
}

func TestDeleteRemovesCommandAndOverride(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	g := f.raffle(t)
	trig := "!raffle"
	_, err := f.reg.SaveOverride(ctx, commands.Override{ID: g.CommandID(), Trigger: &trig})
	require.NoError(t, err)

	require.NoError(t, f.m.Delete(ctx, g.ID))
	assert.False(t, f.reg.Has(g.CommandID()))
	assert.False(t, f.reg.HasOverride(g.CommandID()))
	assert.ErrorIs(t, f.m.Delete(ctx, g.ID), ErrUnknownGiveaway)

	stored, _ := f.store.LoadGiveaways(ctx)
	assert.Empty(t, stored)
}

func TestInitRegistersActiveGiveaways(t *testing.T) {
	ctx := context.Background()
	chat := &testutil.ChatRecorder{}
	reg, _ := testutil.NewRegistry(t, chat)
	store := NewMemoryStore()
	require.NoError(t, store.SaveGiveaway(ctx, Giveaway{ID: "a", Name: "On", Active: true}))
	require.NoError(t, store.SaveGiveaway(ctx, Giveaway{ID: "b", Name: "Off"}))

	m := NewManager(store, reg, chat)
	require.NoError(t, m.Init(ctx))
	assert.True(t, reg.Has("firebot:giveaways:a"))
	assert.False(t, reg.Has("firebot:giveaways:b"))
	assert.Len(t, m.All(), 2)
}
