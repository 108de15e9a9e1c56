// Command streambot runs the Twitch chat bot and its management API.
// It:
//   - Loads configuration and initializes structured logging, metrics and tracing.
//   - Opens Postgres and runs versioned migrations, or keeps all state in
//     memory when STORAGE=memory.
//   - Loads system command overrides and custom commands, registers the
//     built-in commands, currencies and giveaways.
//   - Connects to Twitch chat and dispatches commands for every message.
//   - Starts background jobs: currency payouts, stream status polling,
//     cooldown sweeping and the bot token refresher.
//   - Exposes the HTTP API with /healthz, /readyz, /status and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2"

	"github.com/onnwee/streambot/chat"
	"github.com/onnwee/streambot/commands"
	"github.com/onnwee/streambot/commands/builtin"
	"github.com/onnwee/streambot/config"
	"github.com/onnwee/streambot/crypto"
	"github.com/onnwee/streambot/currency"
	"github.com/onnwee/streambot/db"
	"github.com/onnwee/streambot/giveaways"
	"github.com/onnwee/streambot/moderation"
	"github.com/onnwee/streambot/oauth"
	"github.com/onnwee/streambot/server"
	"github.com/onnwee/streambot/telemetry"
	"github.com/onnwee/streambot/twitchapi"
)

// stores are the persistence backends selected by STORAGE.
type stores struct {
	cmds interface {
		commands.OverrideStore
		commands.CustomCommandStore
	}
	currencies currency.Store
	ledger     currency.Ledger
	giveaways  giveaways.Store
	settings   server.Settings
	tokens     *db.TokenStore
}

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	setupLogging(cfg)

	telemetry.Init()
	// Tracing is optional; it requires OTEL_EXPORTER_OTLP_ENDPOINT.
	shutdown, err := telemetry.InitTracing("streambot", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var database *sql.DB
	st := memoryStores()
	if cfg.Storage == config.StoragePostgres {
		database, err = db.Connect(ctx, cfg.DBDsn)
		if err != nil {
			slog.Error("failed to open db", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		slog.Info("running database migrations", slog.String("component", "db_migrate"))
		if err := db.RunMigrations(database); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err))
			os.Exit(1)
		}
		if st, err = postgresStores(cfg, database); err != nil {
			slog.Error("failed to set up stores", slog.Any("err", err))
			os.Exit(1)
		}
	} else {
		slog.Warn("STORAGE=memory: commands, currencies and giveaways are lost on restart")
	}

	// Twitch OAuth and Helix
	var twitchOAuth *twitchapi.OAuth
	if cfg.HelixReady() {
		twitchOAuth = twitchapi.NewOAuth(cfg.TwitchClientID, cfg.TwitchClientSecret, cfg.TwitchRedirectURI, cfg.TwitchScopes)
	}
	userTokens, refresher := botTokenSource(ctx, cfg, st.tokens, twitchOAuth)
	var (
		helix   *twitchapi.HelixClient
		monitor *twitchapi.StreamMonitor
	)
	if cfg.HelixReady() {
		helix = &twitchapi.HelixClient{
			BaseURL:    cfg.TwitchHelixURL,
			ClientID:   cfg.TwitchClientID,
			AppTokens:  twitchapi.AppTokenSource(ctx, cfg.TwitchClientID, cfg.TwitchClientSecret, ""),
			UserTokens: userTokens,
		}
		if cfg.TwitchChannel != "" {
			monitor = twitchapi.NewStreamMonitor(helix, cfg.TwitchChannel, cfg.StreamPollInterval)
		}
	} else {
		slog.Warn("TWITCH_CLIENT_ID/TWITCH_CLIENT_SECRET not set: uptime, whispers and link deletion are unavailable")
	}

	// Chat connection; the dispatcher is attached once the commands exist.
	ircToken := cfg.TwitchOAuthToken
	chatClient := chat.NewClient(cfg.TwitchChannel, cfg.TwitchBotUsername, ircToken, nil)
	var helixAPI chat.Helix
	if helix != nil {
		helixAPI = helix
	}
	sender := chat.NewSender(chatClient, helixAPI, cfg.TwitchChannel, cfg.TwitchBotUsername, cfg.ChatSendLimit, cfg.ChatSendWindow)

	// Command core
	registry := commands.NewRegistry(st.cmds)
	if err := registry.Init(ctx); err != nil {
		slog.Error("failed to load command overrides", slog.Any("err", err))
		os.Exit(1)
	}
	defer registry.Close()
	custom := commands.NewCustomStore(st.cmds, registry)
	if err := custom.Init(ctx); err != nil {
		slog.Error("failed to load custom commands", slog.Any("err", err))
		os.Exit(1)
	}
	defer custom.Close()
	dispatcher := commands.NewDispatcher(registry, custom, sender,
		commands.WithEffectRunner(commands.NewChatEffectRunner(sender)),
		commands.WithAccounts(cfg.TwitchBotUsername, cfg.TwitchChannel),
	)

	// Currencies and giveaways
	var curOpts []currency.ManagerOption
	if monitor != nil {
		curOpts = append(curOpts, currency.WithStreamStatus(monitor))
	}
	curOpts = append(curOpts, currency.WithChatStatus(chatClient))
	currencies := currency.NewManager(st.currencies, st.ledger, registry, sender, currency.NewActiveViewers(cfg.ActiveViewerTimeout), curOpts...)
	if err := currencies.Init(ctx); err != nil {
		slog.Error("failed to load currencies", slog.Any("err", err))
		os.Exit(1)
	}
	giveawayManager := giveaways.NewManager(st.giveaways, registry, sender)
	if err := giveawayManager.Init(ctx); err != nil {
		slog.Error("failed to load giveaways", slog.Any("err", err))
		os.Exit(1)
	}

	// Built-in commands
	deps := builtin.Deps{
		Registry:   registry,
		Custom:     custom,
		Sender:     sender,
		Ledger:     currencies.Ledger(),
		Currencies: currencies,
	}
	if monitor != nil {
		deps.Stream = monitor
	}
	builtins, err := builtin.Register(deps)
	if err != nil {
		slog.Error("failed to register built-in commands", slog.Any("err", err))
		os.Exit(1)
	}

	// Link moderation
	urlSettings := moderation.DefaultURLSettings()
	urlSettings.Enabled = cfg.URLModerationEnabled
	urlSettings.ExemptRoles = cfg.URLModerationExemptRoles
	if st.settings != nil {
		if _, err := st.settings.Get(ctx, server.SettingsURLModeration, &urlSettings); err != nil {
			slog.Warn("failed to load url moderation settings, using config", slog.Any("err", err))
		}
	}
	moderator := moderation.NewURLModerator(sender, builtins.Permit, urlSettings)

	chatClient.Attach(dispatcher, chat.WithObserver(currencies), chat.WithModerator(moderator))

	// Background jobs
	go dispatcher.Cooldowns().Run(ctx, time.Minute)
	go currencies.Run(ctx)
	if monitor != nil {
		go monitor.Run(ctx)
	}
	if refresher != nil {
		refresher.Start(ctx)
	}
	if err := cfg.ValidateChatReady(); err != nil {
		slog.Warn("chat disabled", slog.Any("err", err))
	} else {
		go func() {
			if err := chatClient.Run(ctx); err != nil {
				slog.Error("chat client stopped", slog.Any("err", err))
				stop()
			}
		}()
	}

	srvDeps := server.Deps{
		Config:     cfg,
		DB:         database,
		Registry:   registry,
		Custom:     custom,
		Currencies: currencies,
		Giveaways:  giveawayManager,
		Moderation: moderator,
		Settings:   st.settings,
		OAuth:      twitchOAuth,
		Chat:       chatClient,
	}
	if st.tokens != nil {
		srvDeps.Tokens = st.tokens
	}
	if err := server.Start(ctx, srvDeps, cfg.HTTPAddr); err != nil {
		slog.Error("http server failed", slog.Any("err", err))
		stop()
	}

	<-ctx.Done()
	dispatcher.Wait()
	slog.Info("shutdown complete")
}

// setupLogging configures the default logger from LOG_LEVEL and LOG_FORMAT.
func setupLogging(cfg *config.Config) {
	lvl := slog.LevelInfo
	unknown := false
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		unknown = true
	}
	var handler slog.Handler
	if strings.EqualFold(cfg.LogFormat, "json") {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	if unknown {
		slog.Warn("unknown LOG_LEVEL, using info", slog.String("value", cfg.LogLevel))
	}
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", strings.ToLower(cfg.LogFormat)))
}

func memoryStores() stores {
	return stores{
		cmds:       commands.NewMemoryStore(),
		currencies: currency.NewMemoryStore(),
		ledger:     currency.NewMemoryLedger(),
		giveaways:  giveaways.NewMemoryStore(),
	}
}

func postgresStores(cfg *config.Config, database *sql.DB) (stores, error) {
	var cipher crypto.Cipher
	if cfg.EncryptionKey != "" {
		c, err := crypto.NewTokenCipher(cfg.EncryptionKey, cfg.EncryptionKeyID)
		if err != nil {
			return stores{}, err
		}
		cipher = c
	}
	return stores{
		cmds:       db.NewCommandStore(database),
		currencies: db.NewCurrencyStore(database),
		ledger:     &db.Ledger{DB: database},
		giveaways:  db.NewGiveawayStore(database),
		settings:   db.KV{DB: database},
		tokens:     db.NewTokenStore(database, cipher),
	}, nil
}

// botTokenSource picks the user token for Helix moderation and whispers:
// the stored, refreshed OAuth token once /auth/twitch has run, else
// TWITCH_OAUTH_TOKEN.
func botTokenSource(ctx context.Context, cfg *config.Config, tokens *db.TokenStore, oa *twitchapi.OAuth) (oauth2.TokenSource, *oauth.Refresher) {
	static := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: strings.TrimPrefix(cfg.TwitchOAuthToken, "oauth:")})
	if tokens == nil || oa == nil {
		return static, nil
	}
	refresher := &oauth.Refresher{
		Store:    tokens,
		Provider: server.TwitchProvider,
		Refresh: func(ctx context.Context, refreshToken string) (db.Token, error) {
			tok, err := oa.Refresh(ctx, refreshToken)
			if err != nil {
				return db.Token{}, err
			}
			return db.Token{
				AccessToken:  tok.AccessToken,
				RefreshToken: tok.RefreshToken,
				Expiry:       twitchapi.Expiry(tok),
				Scope:        twitchapi.Scope(tok),
			}, nil
		},
	}
	return oauth.NewTokenSource(ctx, refresher).WithFallback(static), refresher
}
