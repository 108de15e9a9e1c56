// Package db provides the Postgres connection, schema migrations, and the
// stores behind command overrides, custom commands, currencies, balances,
// giveaways, OAuth tokens and runtime settings.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/onnwee/streambot/crypto"
)

// Connect opens a Postgres connection pool for dsn and verifies it.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	database.SetMaxOpenConns(10)
	database.SetConnMaxIdleTime(5 * time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := database.PingContext(pingCtx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return database, nil
}

// Token is a stored OAuth token.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scope        string
}

// TokenStore persists OAuth tokens per provider. With a cipher set, tokens
// are sealed at rest; plaintext rows written before a key was configured
// are still readable.
type TokenStore struct {
	DB     *sql.DB
	Cipher crypto.Cipher
}

// NewTokenStore returns a token store. cipher may be nil.
func NewTokenStore(db *sql.DB, cipher crypto.Cipher) *TokenStore {
	if cipher == nil {
		slog.Warn("ENCRYPTION_KEY not set, OAuth tokens will be stored in plaintext", slog.String("component", "db_tokens"))
	}
	return &TokenStore{DB: db, Cipher: cipher}
}

// UpsertOAuthToken stores or replaces the token of provider.
func (s *TokenStore) UpsertOAuthToken(ctx context.Context, provider string, tok Token) error {
	access, refresh, keyID := tok.AccessToken, tok.RefreshToken, ""
	if s.Cipher != nil {
		var err error
		if access, err = s.Cipher.Seal(tok.AccessToken); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		if refresh, err = s.Cipher.Seal(tok.RefreshToken); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		keyID = s.Cipher.KeyID()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO oauth_tokens(provider, access_token, refresh_token, expires_at, scope, encryption_key_id, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,NOW())
		 ON CONFLICT(provider) DO UPDATE SET
		   access_token=EXCLUDED.access_token,
		   refresh_token=EXCLUDED.refresh_token,
		   expires_at=EXCLUDED.expires_at,
		   scope=EXCLUDED.scope,
		   encryption_key_id=EXCLUDED.encryption_key_id,
		   updated_at=NOW()`,
		provider, access, refresh, tok.Expiry, tok.Scope, keyID)
	return err
}

// GetOAuthToken returns the token of provider; ok is false when none is stored.
func (s *TokenStore) GetOAuthToken(ctx context.Context, provider string) (tok Token, ok bool, err error) {
	var keyID sql.NullString
	var expiry sql.NullTime
	var scope sql.NullString
	err = s.DB.QueryRowContext(ctx,
		`SELECT COALESCE(access_token,''), COALESCE(refresh_token,''), expires_at, scope, encryption_key_id
		 FROM oauth_tokens WHERE provider = $1`, provider).
		Scan(&tok.AccessToken, &tok.RefreshToken, &expiry, &scope, &keyID)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, err
	}
	tok.Expiry, tok.Scope = expiry.Time, scope.String

	if keyID.String != "" {
		if s.Cipher == nil {
			return Token{}, false, errors.New("token is encrypted but ENCRYPTION_KEY not configured")
		}
		if tok.AccessToken, err = s.Cipher.Open(tok.AccessToken); err != nil {
			return Token{}, false, fmt.Errorf("decrypt access token: %w", err)
		}
		if tok.RefreshToken, err = s.Cipher.Open(tok.RefreshToken); err != nil {
			return Token{}, false, fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	return tok, true, nil
}

// KV stores small runtime settings as JSON values.
type KV struct{ DB *sql.DB }

// Get decodes the value under key into v; ok is false when the key is unset.
func (k KV) Get(ctx context.Context, key string, v any) (ok bool, err error) {
	var raw string
	err = k.DB.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=$1`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("decode kv %s: %w", key, err)
	}
	return true, nil
}

// Set stores v under key.
func (k KV) Set(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode kv %s: %w", key, err)
	}
	_, err = k.DB.ExecContext(ctx,
		`INSERT INTO kv(key, value, updated_at) VALUES($1,$2,NOW())
		 ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`, key, string(raw))
	return err
}
