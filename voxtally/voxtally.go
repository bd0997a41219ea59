package voxtally

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/voxtally/voxtally/voxtally.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var (
	defaultLogWriter io.Writer = os.Stdout

	structValidator = validator.New()
)

//nolint:gochecknoinits // validator tag setup
func init() {
	structValidator.SetTagName("binding")
}

// VoxTally is the main application struct: it wires the activity store,
// the voice-presence sampler, the leaderboard paths, the monthly recap
// task, the discord session and the status API together, and manages
// their shared lifecycle.
type VoxTally struct {
	config *Config

	// GORM connection; per-row write serialization is the storage
	// engine's job, not ours
	db *gorm.DB

	// store owns the voice minute counters exclusively
	store *ActivityStore

	// Standard logger. Missing loggers will try to use this,
	// and fall back to slog.Default()
	logger *slog.Logger

	// Handler for the above
	logHandler slog.Handler

	// Handles discord integration, sessions
	discord *Discord

	// Read-only status/leaderboard HTTP API
	api *API

	sampler     *VoiceSampler
	recap       *MonthlyRecap
	leaderboard *Leaderboard

	// signalReady is closed when the gateway Ready event first fires;
	// the sampler and recap loops hold their first tick on it
	signalReady chan struct{}

	// eventShutdown has a value sent on it when shutdown finishes
	eventShutdown chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// The time Run was called
	startedAt time.Time
}

func New(config *Config) (*VoxTally, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	v := &VoxTally{
		config:        config,
		signalReady:   make(chan struct{}),
		eventShutdown: make(chan struct{}, 1),
	}

	v.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     v.config.LogLevel,
			AddSource: true,
		},
	)

	v.logger = slog.New(v.logHandler)
	slog.SetDefault(v.logger)

	v.config.Discord.httpClient = v.config.HTTPClient

	disc, err := newDiscord(v.config.Discord)
	if err != nil {
		errs = append(errs, err)
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     v.config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	if disc != nil {
		disc.logger = slog.New(
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     v.config.Discord.LogLevel,
					AddSource: true,
				},
			),
		).With(loggerNameKey, "discord")
		disc.vt = v
		v.discord = disc
	}

	api, err := newAPI(v, config.API)
	errs = append(errs, err)
	v.api = api

	return v, errors.Join(errs...)
}

func (v *VoxTally) ValidateConfig() error {
	return structValidator.Struct(v.config)
}

// Store returns the activity store, for callers outside the run loop
// (ex: the `init` subcommand).
func (v *VoxTally) Store() *ActivityStore {
	return v.store
}

// Run starts everything and blocks until ctx is cancelled, then shuts
// down gracefully. The sampler and recap tasks don't tick until the
// gateway Ready event has fired.
func (v *VoxTally) Run(ctx context.Context) error {
	// prevents concurrent runs
	v.runMu.Lock()
	defer v.runMu.Unlock()

	v.startedAt = time.Now()
	logger := v.logger

	if err := v.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", v.config))

	// this is the 'runtime' context; cancellation triggers a graceful
	// shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	startCtx, startCancel := context.WithTimeout(ctx, v.config.StartupTimeout)
	defer startCancel()

	db, err := CreateDB(startCtx, v.config.DatabaseType, v.config.Database)
	if err != nil {
		logger.ErrorContext(ctx, "error initializing database", tint.Err(err))
		return err
	}
	v.db = db
	v.store = NewActivityStore(db, logger)

	if err = v.initDiscordSession(ctx); err != nil {
		logger.ErrorContext(ctx, "error creating discord session", tint.Err(err))
		return err
	}

	resolver := newDiscordNameResolver(
		v.discord.session,
		v.config.Discord.UserLookupsPerSecond,
		v.discord.logger,
	)
	v.leaderboard = NewLeaderboard(v.store, resolver, logger)
	v.sampler = NewVoiceSampler(
		v.store,
		v.discord.session,
		v.config.Sampler.Interval,
		logger,
	)
	v.recap = NewMonthlyRecap(
		v.leaderboard,
		v.discord.session,
		v.config.Recap,
		logger,
	)

	g, gctx := errgroup.WithContext(ctx)

	if v.config.API.Enabled {
		g.Go(
			func() error {
				httpErr := v.api.Serve(gctx)
				if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
					logger.ErrorContext(
						gctx,
						"error serving api HTTP",
						tint.Err(httpErr),
					)
					return httpErr
				}
				return nil
			},
		)
	}

	if err = v.discordInit(ctx, logger); err != nil {
		return err
	}

	g.Go(
		func() error {
			v.sampler.Run(gctx, v.signalReady)
			return nil
		},
	)
	g.Go(
		func() error {
			v.recap.Run(gctx, v.signalReady)
			return nil
		},
	)

	// block until something cancels the main runtime context
	<-gctx.Done()

	return v.shutdown(g)
}

// discordInit opens the gateway connection, registers commands and sets
// the bot's custom status.
func (v *VoxTally) discordInit(ctx context.Context, logger *slog.Logger) error {
	logger.InfoContext(ctx, "connecting to discord")
	if err := v.discord.session.Open(); err != nil {
		logger.ErrorContext(ctx, "error connecting to discord!", tint.Err(err))
		return fmt.Errorf("error connecting to discord: %w", err)
	}

	if _, err := v.discord.registerCommands(); err != nil {
		return fmt.Errorf("error registering discord commands: %w", err)
	}

	if v.config.Discord.CustomStatus != "" {
		go func() {
			if statusErr := v.discord.updateCustomStatus(
				v.config.Discord.CustomStatus,
			); statusErr != nil {
				logger.Error("error updating discord status", tint.Err(statusErr))
			}
		}()
	}
	return nil
}

func (v *VoxTally) initDiscordSession(ctx context.Context) error {
	logger := v.logger.With(loggerNameKey, "discord_session")

	if v.discord.session == nil {
		disc, discErr := v.discord.newSession()
		if discErr != nil {
			return fmt.Errorf("error creating discord session: %w", discErr)
		}
		v.discord.session = disc
	}

	ctx = WithLogger(ctx, logger)

	if len(v.discord.discordgoRemoveHandlerFuncs) > 0 {
		for _, h := range v.discord.discordgoRemoveHandlerFuncs {
			h()
		}
	}

	identify := discordgo.Identify{
		Intents: v.config.Discord.GatewayIntents,
		Presence: discordgo.GatewayStatusUpdate{
			Status: v.config.Discord.CustomStatus,
		},
	}
	v.discord.session.SetIdentify(identify)

	v.discord.discordgoRemoveHandlerFuncs = []func(){
		v.discord.session.AddHandler(v.discord.handlerConnect()),
		v.discord.session.AddHandler(v.discord.handlerDisconnect()),
		v.discord.session.AddHandler(v.discord.handlerReady()),
		v.discord.session.AddHandler(
			func(
				_ *discordgo.Session,
				i *discordgo.InteractionCreate,
			) {
				go v.handleInteraction(ctx, i)
			},
		),
	}
	return nil
}

// shutdown closes the API listener, the gateway session and the
// database, allowing in-flight work up to ShutdownTimeout to drain.
func (v *VoxTally) shutdown(g *errgroup.Group) error {
	v.logger.Warn("shutting down")
	defer func() {
		if v.eventShutdown != nil {
			go func() {
				v.eventShutdown <- struct{}{}
			}()
		}
	}()

	shutdownStart := time.Now()
	closeCtx, closeCancel := context.WithTimeout(
		context.Background(),
		v.config.ShutdownTimeout,
	)
	defer closeCancel()

	if v.api != nil && v.api.httpServer != nil {
		if err := v.api.httpServer.Shutdown(closeCtx); err != nil {
			v.logger.Error("error shutting down api server", tint.Err(err))
		}
	}

	if v.discord != nil && v.discord.session != nil {
		if err := v.discord.session.Close(); err != nil {
			v.logger.Error("error closing discord session", tint.Err(err))
		}
	}

	waitDone := make(chan error, 1)
	go func() {
		waitDone <- g.Wait()
	}()

	var waitErr error
	select {
	case waitErr = <-waitDone:
		v.logger.Info(
			"finished handling in-flight work",
			"shutdown_duration", time.Since(shutdownStart),
		)
	case <-closeCtx.Done():
		v.logger.Warn("shutdown deadline passed, exiting anyway")
	}

	if v.db != nil {
		if sqlDB, err := v.db.DB(); err == nil && sqlDB != nil {
			if closeErr := sqlDB.Close(); closeErr != nil {
				v.logger.Error("error closing database", tint.Err(closeErr))
			}
		}
	}

	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return waitErr
	}
	return nil
}
