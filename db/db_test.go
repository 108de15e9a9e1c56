package db_test

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/streambot/commands"
	"github.com/onnwee/streambot/crypto"
	"github.com/onnwee/streambot/currency"
	"github.com/onnwee/streambot/db"
	"github.com/onnwee/streambot/giveaways"
	"github.com/onnwee/streambot/testutil"
)

var allTables = []string{"command_overrides", "custom_commands", "currencies", "currency_balances", "giveaways", "oauth_tokens", "kv"}

func TestMigrationsIdempotent(t *testing.T) {
	database := testutil.SetupTestDB(t, db.RunMigrations)
	require.NoError(t, db.RunMigrations(database))

	v, dirty, err := db.MigrationVersion(database)
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.GreaterOrEqual(t, v, uint(1))
}

func TestCommandStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	database := testutil.SetupTestDB(t, db.RunMigrations, allTables...)
	s := db.NewCommandStore(database)

	trig := "!howlong"
	require.NoError(t, s.SaveOverride(ctx, commands.Override{ID: "firebot:uptime", Trigger: &trig}))
	overrides, err := s.LoadOverrides(ctx)
	require.NoError(t, err)
	require.Contains(t, overrides, "firebot:uptime")
	assert.Equal(t, "!howlong", *overrides["firebot:uptime"].Trigger)
	assert.Nil(t, overrides["firebot:uptime"].Active, "absent fields stay absent")

	require.NoError(t, s.DeleteOverride(ctx, "firebot:uptime"))
	overrides, _ = s.LoadOverrides(ctx)
	assert.Empty(t, overrides)

	cmd := commands.CustomCommand{Definition: commands.Definition{ID: "c1", Trigger: "!lurk", Active: true}, Aliases: []string{"!afk"}, Count: 3}
	require.NoError(t, s.Save(ctx, cmd))
	cmd.Count = 4
	require.NoError(t, s.Save(ctx, cmd))
	all, err := s.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, all["c1"].Count)
	assert.Equal(t, []string{"!afk"}, all["c1"].Aliases)

	require.NoError(t, s.Delete(ctx, "c1"))
	all, _ = s.LoadAll(ctx)
	assert.Empty(t, all)
}

func TestRegistryOverPostgres(t *testing.T) {
	ctx := context.Background()
	database := testutil.SetupTestDB(t, db.RunMigrations, allTables...)
	store := db.NewCommandStore(database)

	reg := commands.NewRegistry(store)
	require.NoError(t, reg.Init(ctx))
	require.NoError(t, reg.Register(commands.SystemCommand{
		Definition: commands.Definition{ID: "firebot:uptime", Trigger: "!uptime", Active: true},
		Handler:    commands.HandlerFunc(func(context.Context, *commands.Event) error { return nil }),
	}))
	trig := "!howlong"
	_, err := reg.SaveOverride(ctx, commands.Override{ID: "firebot:uptime", Trigger: &trig})
	require.NoError(t, err)
	reg.Close()

	reloaded := commands.NewRegistry(store)
	require.NoError(t, reloaded.Init(ctx))
	defer reloaded.Close()
	require.NoError(t, reloaded.Register(commands.SystemCommand{
		Definition: commands.Definition{ID: "firebot:uptime", Trigger: "!uptime", Active: true},
		Handler:    commands.HandlerFunc(func(context.Context, *commands.Event) error { return nil }),
	}))
	trigger, ok := reloaded.Trigger("firebot:uptime")
	require.True(t, ok)
	assert.Equal(t, "!howlong", trigger)
}

func TestLedger(t *testing.T) {
	ctx := context.Background()
	database := testutil.SetupTestDB(t, db.RunMigrations, allTables...)
	l := &db.Ledger{DB: database}

	bal, err := l.Adjust(ctx, "c", "Bob", -5, 0)
	require.NoError(t, err)
	assert.Zero(t, bal)

	bal, err = l.Adjust(ctx, "c", "bob", 150, 100)
	require.NoError(t, err)
	assert.Equal(t, 100, bal)

	_, err = l.Debit(ctx, "c", "BOB", 101)
	assert.ErrorIs(t, err, currency.ErrInsufficientFunds)

	bal, err = l.Debit(ctx, "c", "bob", 30)
	require.NoError(t, err)
	assert.Equal(t, 70, bal)

	require.NoError(t, l.AdjustAll(ctx, "c", []string{"bob", "alice"}, 10, 0))
	bal, _ = l.Balance(ctx, "c", "alice")
	assert.Equal(t, 10, bal)
	bal, _ = l.Balance(ctx, "c", "bob")
	assert.Equal(t, 80, bal)

	require.NoError(t, l.DeleteCurrency(ctx, "c"))
	bal, _ = l.Balance(ctx, "c", "bob")
	assert.Zero(t, bal)
}

func TestLedgerConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	database := testutil.SetupTestDB(t, db.RunMigrations, allTables...)
	l := &db.Ledger{DB: database}
	_, err := l.Adjust(ctx, "c", "bob", 50, 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Debit(ctx, "c", "bob", 10); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, ok)
	bal, _ := l.Balance(ctx, "c", "bob")
	assert.Zero(t, bal)
}

func TestCurrencyAndGiveawayStores(t *testing.T) {
	ctx := context.Background()
	database := testutil.SetupTestDB(t, db.RunMigrations, allTables...)

	cs := db.NewCurrencyStore(database)
	require.NoError(t, cs.SaveCurrency(ctx, currency.Currency{ID: "p", Name: "Points", Interval: 5, Bonus: map[string]int{"sub": 2}}))
	curs, err := cs.LoadCurrencies(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, curs["p"].Bonus["sub"])
	require.NoError(t, cs.DeleteCurrency(ctx, "p"))

	gs := db.NewGiveawayStore(database)
	require.NoError(t, gs.SaveGiveaway(ctx, giveaways.Giveaway{ID: "g", Name: "Raffle", Entries: []string{"alice"}, IsOpen: true}))
	gws, err := gs.LoadGiveaways(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, gws["g"].Entries)
	require.NoError(t, gs.DeleteGiveaway(ctx, "g"))
}

func TestTokenStoreEncryption(t *testing.T) {
	ctx := context.Background()
	database := testutil.SetupTestDB(t, db.RunMigrations, allTables...)
	cipher, err := crypto.NewTokenCipher(base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32))), "")
	require.NoError(t, err)

	plain := db.NewTokenStore(database, nil)
	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, plain.UpsertOAuthToken(ctx, "legacy", db.Token{AccessToken: "a0", RefreshToken: "r0", Expiry: exp}))

	sealed := db.NewTokenStore(database, cipher)
	require.NoError(t, sealed.UpsertOAuthToken(ctx, "twitch", db.Token{AccessToken: "a1", RefreshToken: "r1", Expiry: exp, Scope: "chat:read"}))

	var raw string
	require.NoError(t, database.QueryRow(`SELECT access_token FROM oauth_tokens WHERE provider='twitch'`).Scan(&raw))
	assert.NotEqual(t, "a1", raw)

	tok, ok, err := sealed.GetOAuthToken(ctx, "twitch")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a1", tok.AccessToken)
	assert.Equal(t, "chat:read", tok.Scope)
	assert.True(t, exp.Equal(tok.Expiry))

	tok, ok, err = sealed.GetOAuthToken(ctx, "legacy")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "r0", tok.RefreshToken, "plaintext rows stay readable")

	_, _, err = plain.GetOAuthToken(ctx, "twitch")
	assert.Error(t, err)

	_, ok, err = sealed.GetOAuthToken(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKV(t *testing.T) {
	ctx := context.Background()
	database := testutil.SetupTestDB(t, db.RunMigrations, allTables...)
	kv := db.KV{DB: database}

	var v struct{ Enabled bool }
	ok, err := kv.Get(ctx, "moderation:url", &v)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set(ctx, "moderation:url", map[string]bool{"Enabled": true}))
	ok, err = kv.Get(ctx, "moderation:url", &v)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, v.Enabled)
}
