package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/onnwee/streambot/commands"
	"github.com/onnwee/streambot/currency"
	"github.com/onnwee/streambot/giveaways"
)

// jsonTable stores values of T as JSONB rows keyed by id. Table names are
// constants, never user input.
type jsonTable[T any] struct {
	db    *sql.DB
	table string
}

func (t jsonTable[T]) load(ctx context.Context) (map[string]T, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT id, data FROM `+t.table)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", t.table, err)
	}
	defer rows.Close()
	out := make(map[string]T)
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", t.table, err)
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", t.table, id, err)
		}
		out[id] = v
	}
	return out, rows.Err()
}

func (t jsonTable[T]) save(ctx context.Context, id string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", t.table, id, err)
	}
	_, err = t.db.ExecContext(ctx,
		`INSERT INTO `+t.table+`(id, data, updated_at) VALUES($1,$2,NOW())
		 ON CONFLICT(id) DO UPDATE SET data=EXCLUDED.data, updated_at=NOW()`, id, raw)
	if err != nil {
		return fmt.Errorf("save %s %s: %w", t.table, id, err)
	}
	return nil
}

func (t jsonTable[T]) delete(ctx context.Context, id string) error {
	if _, err := t.db.ExecContext(ctx, `DELETE FROM `+t.table+` WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete %s %s: %w", t.table, id, err)
	}
	return nil
}

// CommandStore persists system command overrides and custom commands. It
// implements commands.OverrideStore and commands.CustomCommandStore.
type CommandStore struct {
	db        *sql.DB
	overrides jsonTable[commands.Override]
}

// NewCommandStore returns a command store over db.
func NewCommandStore(db *sql.DB) *CommandStore {
	return &CommandStore{db: db, overrides: jsonTable[commands.Override]{db: db, table: "command_overrides"}}
}

func (s *CommandStore) LoadOverrides(ctx context.Context) (map[string]commands.Override, error) {
	return s.overrides.load(ctx)
}

func (s *CommandStore) SaveOverride(ctx context.Context, o commands.Override) error {
	return s.overrides.save(ctx, o.ID, o)
}

func (s *CommandStore) DeleteOverride(ctx context.Context, id string) error {
	return s.overrides.delete(ctx, id)
}

func (s *CommandStore) LoadAll(ctx context.Context) (map[string]commands.CustomCommand, error) {
	return jsonTable[commands.CustomCommand]{db: s.db, table: "custom_commands"}.load(ctx)
}

func (s *CommandStore) Save(ctx context.Context, cmd commands.CustomCommand) error {
	raw, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode custom command %s: %w", cmd.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO custom_commands(id, trigger, data, updated_at) VALUES($1,$2,$3,NOW())
		 ON CONFLICT(id) DO UPDATE SET trigger=EXCLUDED.trigger, data=EXCLUDED.data, updated_at=NOW()`,
		cmd.ID, cmd.Trigger, raw)
	if err != nil {
		return fmt.Errorf("save custom command %s: %w", cmd.ID, err)
	}
	return nil
}

func (s *CommandStore) Delete(ctx context.Context, id string) error {
	return jsonTable[commands.CustomCommand]{db: s.db, table: "custom_commands"}.delete(ctx, id)
}

// CurrencyStore implements currency.Store.
type CurrencyStore struct{ t jsonTable[currency.Currency] }

// NewCurrencyStore returns a currency store over db.
func NewCurrencyStore(db *sql.DB) *CurrencyStore {
	return &CurrencyStore{t: jsonTable[currency.Currency]{db: db, table: "currencies"}}
}

func (s *CurrencyStore) LoadCurrencies(ctx context.Context) (map[string]currency.Currency, error) {
	return s.t.load(ctx)
}

func (s *CurrencyStore) SaveCurrency(ctx context.Context, c currency.Currency) error {
	return s.t.save(ctx, c.ID, c)
}

func (s *CurrencyStore) DeleteCurrency(ctx context.Context, id string) error {
	return s.t.delete(ctx, id)
}

// GiveawayStore implements giveaways.Store.
type GiveawayStore struct{ t jsonTable[giveaways.Giveaway] }

// NewGiveawayStore returns a giveaway store over db.
func NewGiveawayStore(db *sql.DB) *GiveawayStore {
	return &GiveawayStore{t: jsonTable[giveaways.Giveaway]{db: db, table: "giveaways"}}
}

func (s *GiveawayStore) LoadGiveaways(ctx context.Context) (map[string]giveaways.Giveaway, error) {
	return s.t.load(ctx)
}

func (s *GiveawayStore) SaveGiveaway(ctx context.Context, g giveaways.Giveaway) error {
	return s.t.save(ctx, g.ID, g)
}

func (s *GiveawayStore) DeleteGiveaway(ctx context.Context, id string) error {
	return s.t.delete(ctx, id)
}
