package aithena

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}
	dbOperationTimeout = 30 * time.Second
)

// ErrPersistence wraps any failure to write or read exchange rows. Unlike
// provider errors, these are never converted to a user-visible exchange
// record: losing the audit trail is a hard failure for the request.
var ErrPersistence = errors.New("exchange store failure")

// ExchangeStore is the durable, queryable log of every chat/image
// exchange. [database] implements this interface for 'real' DB
// operations; tests substitute mocks.
type ExchangeStore interface {
	// SaveChatExchange appends a new immutable chat row, assigning its
	// row ID.
	SaveChatExchange(ctx context.Context, exchange *ChatExchange) error

	// SaveImageExchange appends a new immutable image row, assigning its
	// row ID.
	SaveImageExchange(ctx context.Context, exchange *ImageExchange) error

	// LastChatExchange returns the most recent chat row, optionally
	// filtered to one author. Returns (nil, nil) when no row matches.
	LastChatExchange(ctx context.Context, author *uint64) (*ChatExchange, error)

	// LastImage returns the most recent image row, optionally filtered
	// to one author. Returns (nil, nil) when no row matches.
	LastImage(ctx context.Context, author *uint64) (*ImageExchange, error)

	// APIUsage sums tokens/cost across chat rows and image count/cost
	// across image rows, optionally filtered by author and/or limited to
	// the configured rolling window.
	APIUsage(ctx context.Context, author *uint64, windowed bool) (APIUsage, error)

	DB() *gorm.DB
}

// database wraps the GORM connection behind ExchangeStore. When using
// SQLite, a mutex serializes writes; paired with WAL mode and a single
// open connection, aggregate reads can never observe a half-written row.
// Postgres relies on per-transaction snapshot isolation instead.
type database struct {
	db                     *gorm.DB
	mu                     sync.Mutex
	config                 *Config
	logger                 *slog.Logger
	enableConcurrentWrites bool
}

// NewExchangeStore wraps db as an ExchangeStore. Concurrent writes should
// be enabled for postgres and disabled for sqlite.
func NewExchangeStore(
	db *gorm.DB,
	config *Config,
	log *slog.Logger,
	enableConcurrentWrites bool,
) ExchangeStore {
	if log == nil {
		log = slog.Default()
	}
	return &database{
		db:                     db,
		config:                 config,
		logger:                 log.With(loggerNameKey, "exchange_store"),
		enableConcurrentWrites: enableConcurrentWrites,
	}
}

func (d *database) DB() *gorm.DB {
	return d.db
}

func (d *database) SaveChatExchange(ctx context.Context, exchange *ChatExchange) error {
	if err := d.create(ctx, exchange); err != nil {
		d.logger.ErrorContext(ctx, "error saving chat exchange", tint.Err(err))
		return fmt.Errorf("%w: saving chat exchange: %w", ErrPersistence, err)
	}
	return nil
}

func (d *database) SaveImageExchange(ctx context.Context, exchange *ImageExchange) error {
	if err := d.create(ctx, exchange); err != nil {
		d.logger.ErrorContext(ctx, "error saving image exchange", tint.Err(err))
		return fmt.Errorf("%w: saving image exchange: %w", ErrPersistence, err)
	}
	return nil
}

func (d *database) create(ctx context.Context, value any) error {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dbOperationTimeout)
		defer cancel()
	}
	return d.db.WithContext(ctx).Create(value).Error
}

func (d *database) LastChatExchange(
	ctx context.Context,
	author *uint64,
) (*ChatExchange, error) {
	var exchange ChatExchange
	q := d.db.WithContext(ctx).Model(&ChatExchange{})
	if author != nil {
		q = q.Where("author = ?", *author)
	}
	err := q.Order("timestamp DESC").First(&exchange).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return &exchange, nil
}

func (d *database) LastImage(
	ctx context.Context,
	author *uint64,
) (*ImageExchange, error) {
	var exchange ImageExchange
	q := d.db.WithContext(ctx).Model(&ImageExchange{})
	if author != nil {
		q = q.Where("author = ?", *author)
	}
	err := q.Order("timestamp DESC").First(&exchange).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return &exchange, nil
}

// chatUsageRow receives the summed chat columns. COALESCE keeps the sums
// zero-valued when no rows match.
type chatUsageRow struct {
	RequestTokens  int
	ResponseTokens int
	TotalTokens    int
	Cost           float64
}

type imageUsageRow struct {
	Images int
	Cost   float64
}

func (d *database) APIUsage(
	ctx context.Context,
	author *uint64,
	windowed bool,
) (APIUsage, error) {
	usage := APIUsage{Timestamp: time.Now().UTC()}
	if author != nil {
		usage.User = *author
	}

	var cutoff time.Time
	if windowed {
		_, interval := d.config.UsageLimit()
		cutoff = time.Now().UTC().Add(-interval)
	}

	err := d.db.WithContext(ctx).Transaction(
		func(tx *gorm.DB) error {
			var chat chatUsageRow
			chatQuery := tx.Model(&ChatExchange{}).Select(
				"COALESCE(SUM(request_tokens), 0) AS request_tokens, " +
					"COALESCE(SUM(response_tokens), 0) AS response_tokens, " +
					"COALESCE(SUM(total_tokens), 0) AS total_tokens, " +
					"COALESCE(SUM(cost), 0) AS cost",
			)
			imgQuery := tx.Model(&ImageExchange{}).Select(
				"COUNT(id) AS images, COALESCE(SUM(cost), 0) AS cost",
			)
			if author != nil {
				chatQuery = chatQuery.Where("author = ?", *author)
				imgQuery = imgQuery.Where("author = ?", *author)
			}
			if windowed {
				chatQuery = chatQuery.Where("timestamp > ?", cutoff)
				imgQuery = imgQuery.Where("timestamp > ?", cutoff)
			}
			if err := chatQuery.Scan(&chat).Error; err != nil {
				return err
			}
			var img imageUsageRow
			if err := imgQuery.Scan(&img).Error; err != nil {
				return err
			}
			usage.GPTRequestTokens = chat.RequestTokens
			usage.GPTResponseTokens = chat.ResponseTokens
			usage.GPTTotalTokens = chat.TotalTokens
			usage.GPTCost = chat.Cost
			usage.DalleImages = img.Images
			usage.DalleCost = img.Cost
			usage.TotalCost = usage.GPTCost + usage.DalleCost
			return nil
		},
	)
	if err != nil {
		return usage, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return usage, nil
}

// CreateDB opens a GORM connection for the given database type, applies
// the SQLite pragmas/connection limits where relevant, and migrates the
// exchange tables.
func CreateDB(
	ctx context.Context,
	databaseType string,
	database string,
	logHandler slog.Handler,
	slowThreshold time.Duration,
) (*gorm.DB, error) {
	if logHandler == nil {
		logHandler = newLogHandler(DefaultDatabaseLogLevel)
	}
	gormLogger := newGORMLogger(logHandler, slowThreshold)
	dbLogger := slog.New(logHandler)

	dbLogger.InfoContext(
		ctx,
		"initializing database",
		"database_type", databaseType,
		"database", database,
	)
	db, err := getDB(databaseType, database, gormLogger)
	if err != nil {
		return db, err
	}

	if databaseType == dbTypeSQLite {
		sqlDB, sqlErr := db.DB()
		if sqlErr != nil {
			return db, fmt.Errorf("error getting database connection: %w", sqlErr)
		}
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)

		pragmaErrors := make([]error, 0, len(sqliteExecPragma))
		for _, p := range sqliteExecPragma {
			pragmaErrors = append(
				pragmaErrors,
				db.WithContext(ctx).Exec(p).Error,
			)
		}
		if pragmaErr := errors.Join(pragmaErrors...); pragmaErr != nil {
			return db, pragmaErr
		}
	}

	txn := db.WithContext(ctx).Begin()
	if err = txn.Migrator().AutoMigrate(
		&ChatExchange{},
		&ImageExchange{},
	); err != nil {
		return db, fmt.Errorf("error migrating database: %w", err)
	}
	if commitErr := txn.Commit().Error; commitErr != nil {
		return db, fmt.Errorf("error committing migration: %w", commitErr)
	}

	return db, nil
}

// getDB initializes a GORM connection for the given database type.
func getDB(
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(database)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0755); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return nil, err
				}
			}
		}
		return gorm.Open(
			sqlite.Open(database),
			&gorm.Config{
				Logger: gormLogger,
				NowFunc: func() time.Time {
					return time.Now().UTC()
				},
			},
		)
	case dbTypePostgres:
		return gorm.Open(
			postgres.Open(database), &gorm.Config{
				Logger: gormLogger,
				NowFunc: func() time.Time {
					return time.Now().UTC()
				},
			},
		)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}
