package aithena

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/St0nefish/discord-openai/aithena.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// Aithena is the main application struct, wiring the bot's components
// together: configuration, the exchange store, the in-memory usage
// ledger, the access policy, the OpenAI request orchestration, the
// Discord session and the operator API.
//
// All components are constructed once in New and passed by reference;
// there is no global mutable state.
type Aithena struct {
	config *Config
	logger *slog.Logger

	db     *gorm.DB
	store  ExchangeStore
	ledger *UsageLedger
	policy *AccessPolicy
	openai *OpenAI

	discord *Discord
	api     *API

	// signalStop enables an explicit stop signal to be sent to the bot
	signalStop chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// The time Run was called
	startedAt time.Time
}

// New validates the configuration, opens the database and constructs all
// components. It does not open any network connections; that happens in
// Run.
func New(config *Config) (*Aithena, error) {
	if config == nil {
		return nil, fmt.Errorf("nil config")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	a := &Aithena{
		config:     config,
		signalStop: make(chan struct{}, 1),
	}
	a.logger = slog.New(newLogHandler(config.LogLevel)).With(
		loggerNameKey, config.BotName,
	)
	slog.SetDefault(a.logger)

	startupCtx, cancel := context.WithTimeout(
		context.Background(),
		config.StartupTimeout,
	)
	defer cancel()

	db, err := CreateDB(
		startupCtx,
		config.DatabaseType,
		config.Database,
		newLogHandler(config.DatabaseLogLevel),
		config.DatabaseSlowThreshold,
	)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}
	a.db = db

	a.store = NewExchangeStore(
		db,
		config,
		a.logger,
		config.DatabaseType == dbTypePostgres,
	)
	a.ledger = NewUsageLedger(config, a.logger)
	a.policy = NewAccessPolicy(config, a.ledger, a.logger)
	a.openai = newOpenAI(config, a.ledger, a.policy, a.store, nil)
	a.discord = newDiscord(a)
	a.api = newAPI(a)

	return a, nil
}

// SetProvider replaces the OpenAI client. Intended for tests and for
// callers that need a custom HTTP transport.
func (a *Aithena) SetProvider(provider CompletionProvider) {
	a.openai.client = provider
}

// SetHTTPClient rebuilds the OpenAI client with the given HTTP client.
func (a *Aithena) SetHTTPClient(httpClient *http.Client) {
	a.openai = newOpenAI(a.config, a.ledger, a.policy, a.store, httpClient)
}

// Store returns the exchange store.
func (a *Aithena) Store() ExchangeStore {
	return a.store
}

// Ledger returns the in-memory usage ledger.
func (a *Aithena) Ledger() *UsageLedger {
	return a.ledger
}

// Policy returns the access policy.
func (a *Aithena) Policy() *AccessPolicy {
	return a.policy
}

// OpenAI returns the request orchestrator.
func (a *Aithena) OpenAI() *OpenAI {
	return a.openai
}

// Run connects to Discord, starts the operator API if enabled, and
// blocks until ctx is cancelled or Stop is called, then shuts down
// gracefully.
func (a *Aithena) Run(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	a.startedAt = time.Now()
	a.logger.Info(
		"starting",
		"bot_name", a.config.BotName,
		"version", Version,
		"usage_limit", a.config.UsageLimitString(),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.discord.connect(runCtx); err != nil {
		return fmt.Errorf("error connecting to discord: %w", err)
	}

	group, groupCtx := errgroup.WithContext(runCtx)
	if a.config.API.Enabled {
		group.Go(
			func() error {
				return a.api.Serve(groupCtx)
			},
		)
	}
	group.Go(
		func() error {
			select {
			case <-groupCtx.Done():
			case <-a.signalStop:
				a.logger.Info("received stop signal")
				cancel()
			}
			return nil
		},
	)

	err := group.Wait()
	a.shutdown()
	return err
}

// Stop signals Run to shut down.
func (a *Aithena) Stop() {
	select {
	case a.signalStop <- struct{}{}:
	default:
	}
}

func (a *Aithena) shutdown() {
	a.logger.Info("shutting down")
	if err := a.discord.close(); err != nil {
		a.logger.Error("error closing discord session", tint.Err(err))
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			if closeErr := sqlDB.Close(); closeErr != nil {
				a.logger.Error("error closing database", tint.Err(closeErr))
			}
		}
	}
	a.logger.Info("shutdown complete")
}
