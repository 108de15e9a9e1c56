package commands

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"emperror.dev/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterBeforeInit(t *testing.T) {
	reg := NewRegistry(NewMemoryStore())
	err := reg.Register(SystemCommand{Definition: uptimeDefinition(), Handler: nopHandler()})
	assert.True(t, errors.Is(err, ErrNotInitialized))
	assert.False(t, reg.Has("firebot:uptime"))
}

func TestRegisterValidation(t *testing.T) {
	reg := newTestRegistry(t, nil)

	noID := uptimeDefinition()
	noID.ID = ""
	assert.True(t, errors.Is(reg.Register(SystemCommand{Definition: noID, Handler: nopHandler()}), ErrValidation))

	noTrigger := uptimeDefinition()
	noTrigger.Trigger = "  "
	assert.True(t, errors.Is(reg.Register(SystemCommand{Definition: noTrigger, Handler: nopHandler()}), ErrValidation))

	assert.True(t, errors.Is(reg.Register(SystemCommand{Definition: uptimeDefinition()}), ErrValidation))
	assert.Empty(t, reg.All())
}

func TestUptimeOverrideScenario(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, nil)
	require.NoError(t, reg.Register(SystemCommand{Definition: uptimeDefinition(), Handler: nopHandler()}))

	trigger, ok := reg.Trigger("firebot:uptime")
	require.True(t, ok)
	assert.Equal(t, "!uptime", trigger)
	assert.False(t, reg.HasOverride("firebot:uptime"))

	eff, err := reg.SaveOverride(ctx, Override{ID: "firebot:uptime", Trigger: ptr("!howlong")})
	require.NoError(t, err)
	assert.Equal(t, "!howlong", eff.Trigger)

	trigger, _ = reg.Trigger("firebot:uptime")
	assert.Equal(t, "!howlong", trigger)
	assert.True(t, reg.TriggerIsTaken("!howlong"))
	assert.True(t, reg.TriggerIsTaken("!HowLong"))
	assert.False(t, reg.TriggerIsTaken("!uptime"))

	def, ok := reg.Default("firebot:uptime")
	require.True(t, ok)
	assert.Equal(t, "!uptime", def.Trigger, "default is never mutated by a save")
}

func TestRegisterAppliesStoredOverride(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.SaveOverride(context.Background(), Override{ID: "firebot:uptime", Trigger: ptr("!live")}))

	reg := newTestRegistry(t, store)
	require.NoError(t, reg.Register(SystemCommand{Definition: uptimeDefinition(), Handler: nopHandler()}))

	cmd, ok := reg.Get("firebot:uptime")
	require.True(t, ok)
	assert.Equal(t, "!live", cmd.Definition.Trigger)
	assert.True(t, reg.HasOverride("firebot:uptime"))
}

func TestRegisterIsIdempotent(t *testing.T) {
	reg := newTestRegistry(t, nil)
	cmd := SystemCommand{Definition: uptimeDefinition(), Handler: nopHandler()}
	require.NoError(t, reg.Register(cmd))
	first := reg.All()
	require.NoError(t, reg.Register(cmd))
	assert.Equal(t, first, reg.All())
	assert.Len(t, reg.All(), 1)
}

func TestTriggerLookupsForUnknown(t *testing.T) {
	reg := newTestRegistry(t, nil)
	_, ok := reg.Trigger("nope")
	assert.False(t, ok)
	_, ok = reg.Get("nope")
	assert.False(t, ok)
	assert.False(t, reg.Has("nope"))
}

func TestSaveOverrideUnknownCommand(t *testing.T) {
	store := NewMemoryStore()
	reg := newTestRegistry(t, store)

	_, err := reg.SaveOverride(context.Background(), Override{ID: "firebot:missing", Trigger: ptr("!x")})
	assert.True(t, errors.Is(err, ErrUnknownCommand))

	stored, _ := store.LoadOverrides(context.Background())
	assert.Empty(t, stored, "no partial mutation")
}

func TestSaveOverrideRejectsEmptyTrigger(t *testing.T) {
	reg := newTestRegistry(t, nil)
	require.NoError(t, reg.Register(SystemCommand{Definition: uptimeDefinition(), Handler: nopHandler()}))

	_, err := reg.SaveOverride(context.Background(), Override{ID: "firebot:uptime", Trigger: ptr("")})
	assert.True(t, errors.Is(err, ErrValidation))
	trigger, _ := reg.Trigger("firebot:uptime")
	assert.Equal(t, "!uptime", trigger)
}

func TestOverrideRoundTripRestoresDefault(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, nil)
	require.NoError(t, reg.Register(SystemCommand{Definition: bidDefinition(), Handler: nopHandler()}))
	before, _ := reg.Get("firebot:bid")

	_, err := reg.SaveOverride(ctx, Override{
		ID:          "firebot:bid",
		Trigger:     ptr("!auction"),
		Options:     map[string]Option{"minBid": {Value: 5}},
		SubCommands: []SubCommand{{ID: "stop", Active: ptr(false)}},
	})
	require.NoError(t, err)

	require.NoError(t, reg.DeleteOverride(ctx, "firebot:bid", false))
	after, ok := reg.Get("firebot:bid")
	require.True(t, ok, "deleting an override never unregisters")
	assert.Equal(t, before.Definition, after.Definition)

	def, _ := reg.Default("firebot:bid")
	assert.Equal(t, def, after.Definition)
	assert.False(t, reg.HasOverride("firebot:bid"))
}

func TestDeleteOverrideWithDefault(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	reg := newTestRegistry(t, store)

	currency := Definition{ID: "firebot:currency:abc", Trigger: "!coins", Active: true}
	require.NoError(t, reg.Register(SystemCommand{Definition: currency, Handler: nopHandler()}))
	_, err := reg.SaveOverride(ctx, Override{ID: currency.ID, Cooldown: &Cooldown{User: 10}})
	require.NoError(t, err)

	require.NoError(t, reg.DeleteOverride(ctx, currency.ID, true))
	assert.False(t, reg.Has(currency.ID))
	_, ok := reg.Default(currency.ID)
	assert.False(t, ok)
	stored, _ := store.LoadOverrides(ctx)
	assert.NotContains(t, stored, currency.ID)
	assert.False(t, reg.TriggerIsTaken("!coins"))

	recreated := Definition{ID: "firebot:currency:def", Trigger: "!coins", Active: true}
	require.NoError(t, reg.Register(SystemCommand{Definition: recreated, Handler: nopHandler()}))
	assert.False(t, reg.HasOverride(recreated.ID))
	got, _ := reg.Get(recreated.ID)
	assert.Nil(t, got.Definition.Cooldown)
}

func TestDeleteOverrideUnknownCommand(t *testing.T) {
	reg := newTestRegistry(t, nil)
	assert.True(t, errors.Is(reg.DeleteOverride(context.Background(), "nope", false), ErrUnknownCommand))
}

func TestDeleteOverrideRevertConflict(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, nil)
	custom := NewCustomStore(NewMemoryStore(), reg)
	require.NoError(t, reg.Register(SystemCommand{Definition: uptimeDefinition(), Handler: nopHandler()}))
	_, err := reg.SaveOverride(ctx, Override{ID: "firebot:uptime", Trigger: ptr("!howlong")})
	require.NoError(t, err)

	_, err = custom.Save(ctx, CustomCommand{Definition: Definition{Trigger: "!uptime", Active: true}}, "streamer")
	require.NoError(t, err)

	err = reg.DeleteOverride(ctx, "firebot:uptime", false)
	assert.True(t, errors.Is(err, ErrTriggerConflict))
	trigger, _ := reg.Trigger("firebot:uptime")
	assert.Equal(t, "!howlong", trigger)
}

func TestUnregisterKeepsOverride(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, nil)
	require.NoError(t, reg.Register(SystemCommand{Definition: uptimeDefinition(), Handler: nopHandler()}))
	_, err := reg.SaveOverride(ctx, Override{ID: "firebot:uptime", Trigger: ptr("!howlong")})
	require.NoError(t, err)

	reg.Unregister("firebot:uptime")
	assert.False(t, reg.Has("firebot:uptime"))
	assert.False(t, reg.TriggerIsTaken("!howlong"))
	assert.True(t, reg.HasOverride("firebot:uptime"))

	require.NoError(t, reg.Register(SystemCommand{Definition: uptimeDefinition(), Handler: nopHandler()}))
	trigger, _ := reg.Trigger("firebot:uptime")
	assert.Equal(t, "!howlong", trigger)
}

func TestTriggerConflicts(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, nil)
	require.NoError(t, reg.Register(SystemCommand{Definition: uptimeDefinition(), Handler: nopHandler()}))

	dup := Definition{ID: "firebot:other", Trigger: "!UPTIME", Active: true}
	assert.True(t, errors.Is(reg.Register(SystemCommand{Definition: dup, Handler: nopHandler()}), ErrTriggerConflict))
	assert.False(t, reg.Has(dup.ID))

	inactive := Definition{ID: "firebot:other", Trigger: "!uptime", Active: false}
	require.NoError(t, reg.Register(SystemCommand{Definition: inactive, Handler: nopHandler()}))

	_, err := reg.SaveOverride(ctx, Override{ID: "firebot:other", Active: ptr(true)})
	assert.True(t, errors.Is(err, ErrTriggerConflict))
	other, _ := reg.Get("firebot:other")
	assert.False(t, other.Definition.Active, "rejected save leaves state unchanged")

	_, err = reg.SaveOverride(ctx, Override{ID: "firebot:other", Active: ptr(true), Trigger: ptr("!other")})
	require.NoError(t, err)
}

func TestRegistryPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, failingStore{NewMemoryStore()})
	require.NoError(t, reg.Register(SystemCommand{Definition: uptimeDefinition(), Handler: nopHandler()}))

	_, err := reg.SaveOverride(ctx, Override{ID: "firebot:uptime", Trigger: ptr("!howlong")})
	assert.True(t, errors.Is(err, ErrPersistence))
	assert.True(t, errors.Is(err, errStoreDown))
	assert.False(t, reg.HasOverride("firebot:uptime"))
	trigger, _ := reg.Trigger("firebot:uptime")
	assert.Equal(t, "!uptime", trigger)
}

func TestRegistrySubscribe(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, nil)

	var mu sync.Mutex
	var events []ChangeEvent
	unsubscribe := reg.Subscribe(func(evt ChangeEvent) {
		mu.Lock()
		events = append(events, evt)
		mu.Unlock()
	})
	reg.Subscribe(func(ChangeEvent) { panic("bad subscriber") })

	require.NoError(t, reg.Register(SystemCommand{Definition: uptimeDefinition(), Handler: nopHandler()}))
	_, err := reg.SaveOverride(ctx, Override{ID: "firebot:uptime", Hidden: ptr(true)})
	require.NoError(t, err)
	require.NoError(t, reg.DeleteOverride(ctx, "firebot:uptime", false))
	reg.Unregister("firebot:uptime")

	mu.Lock()
	require.Len(t, events, 4)
	for _, evt := range events {
		assert.Equal(t, SystemCommandsChanged, evt.Kind)
	}
	assert.True(t, events[1].Commands[0].Hidden)
	assert.Empty(t, events[3].Commands)
	events[0].Commands[0].Trigger = "mutated"
	mu.Unlock()

	unsubscribe()
	require.NoError(t, reg.Register(SystemCommand{Definition: uptimeDefinition(), Handler: nopHandler()}))
	mu.Lock()
	assert.Len(t, events, 4)
	mu.Unlock()

	trigger, _ := reg.Trigger("firebot:uptime")
	assert.Equal(t, "!uptime", trigger, "events carry snapshots")
}

// TestTriggerUniquenessHolds runs random register, save and delete
// sequences across both stores and checks that no two active commands ever
// share a trigger.
func TestTriggerUniquenessHolds(t *testing.T) {
	ctx := context.Background()
	triggers := []string{"!a", "!A", "!b", "!c", "!B"}
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 20; round++ {
		reg := newTestRegistry(t, nil)
		custom := NewCustomStore(NewMemoryStore(), reg)

		for step := 0; step < 60; step++ {
			id := fmt.Sprintf("sys:%d", rng.Intn(4))
			trig := triggers[rng.Intn(len(triggers))]
			switch rng.Intn(6) {
			case 0:
				_ = reg.Register(SystemCommand{Definition: Definition{ID: id, Trigger: trig, Active: true}, Handler: nopHandler()})
			case 1:
				_, _ = reg.SaveOverride(ctx, Override{ID: id, Trigger: &trig, Active: ptr(rng.Intn(2) == 0)})
			case 2:
				_ = reg.DeleteOverride(ctx, id, rng.Intn(2) == 0)
			case 3:
				_, _ = custom.Save(ctx, CustomCommand{Definition: Definition{Trigger: trig, Active: true}}, "u")
			case 4:
				_, _ = custom.DeleteByTrigger(ctx, trig)
			case 5:
				reg.Unregister(id)
			}

			seen := map[string]string{}
			owners := append(reg.ActiveTriggers(), custom.ActiveTriggers()...)
			for _, o := range owners {
				key := strings.ToLower(o.Trigger)
				if prev, dup := seen[key]; dup {
					t.Fatalf("round %d step %d: trigger %q owned by %s and %s", round, step, o.Trigger, prev, o.ID)
				}
				seen[key] = o.ID
			}
		}
	}
}
