package stickykeeper

import (
	"context"
	"errors"
	"fmt"
	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
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
)

// ModelUnixTime is an embeddable model with Unix timestamps for
// creation, update, and deletion, stored in milliseconds.
type ModelUnixTime struct {
	CreatedAt int64          `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64          `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// StickyRecord is the persisted sticky state for one managed channel:
// the ID of the currently active sticky message, and when it was posted.
//
// At most one record exists per channel, and MessageID, when set, always
// names a message the coordinator itself sent. Mutated only inside the
// channel's lock.
type StickyRecord struct {
	ChannelID string `gorm:"primaryKey" json:"channel_id"`
	MessageID string `json:"message_id"`

	// PostedAt is the sticky message's creation time in Unix
	// milliseconds. Stored explicitly rather than re-derived from the
	// message snowflake, so a change in Discord's ID scheme can't break
	// the cooldown math. Zero for records written by older versions.
	PostedAt int64 `json:"posted_at"`

	ModelUnixTime
}

// PostedTime returns PostedAt as a time.Time, or the zero time when no
// timestamp was stored.
func (r StickyRecord) PostedTime() time.Time {
	if r.PostedAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(r.PostedAt).UTC()
}

// Confession is a stored anonymous confession. UserID is retained for
// moderation and never rendered to the channel.
type Confession struct {
	ModelUintID
	ModelUnixTime
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

// Suggestion is a stored suggestion-box submission.
type Suggestion struct {
	ModelUintID
	ModelUnixTime
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// DBI is the interface for database operations used across the bot.
// It covers the coordinator's StickyStateStore contract plus the
// front-ends' submission bookkeeping.
type DBI interface {
	StickyStateStore

	// DB returns the underlying GORM connection.
	DB() *gorm.DB

	// Save upserts the given model.
	Save(ctx context.Context, value any) error

	// StickyRecords returns every persisted sticky record.
	StickyRecords(ctx context.Context) ([]StickyRecord, error)

	CreateConfession(ctx context.Context, confession *Confession) error
	CreateSuggestion(ctx context.Context, suggestion *Suggestion) error
	Confessions(ctx context.Context, limit int) ([]Confession, error)
	Suggestions(ctx context.Context, limit int) ([]Suggestion, error)
}

// database implements DBI on a GORM connection.
//
// SQLite runs with a single connection, and all writes additionally
// serialize on mu - concurrent writers otherwise surface 'database is
// locked' errors from the driver.
type database struct {
	db                     *gorm.DB
	mu                     sync.Mutex
	logger                 *slog.Logger
	enableConcurrentWrites bool
}

// NewDatabase wraps a GORM connection in the DBI interface.
// enableConcurrentWrites should be false for SQLite.
func NewDatabase(
	db *gorm.DB,
	log *slog.Logger,
	enableConcurrentWrites bool,
) DBI {
	if log == nil {
		log = slog.Default()
	}
	return &database{
		db:                     db,
		logger:                 log.With(loggerNameKey, "writedb"),
		enableConcurrentWrites: enableConcurrentWrites,
	}
}

func (d *database) DB() *gorm.DB {
	return d.db
}

func (d *database) lock() {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
	}
}

func (d *database) unlock() {
	if !d.enableConcurrentWrites {
		d.mu.Unlock()
	}
}

func (d *database) Save(ctx context.Context, value any) error {
	d.lock()
	defer d.unlock()
	return d.db.WithContext(ctx).Save(value).Error
}

func (d *database) GetSticky(
	ctx context.Context,
	channelID string,
) (*StickyRecord, error) {
	var rec StickyRecord
	rv := d.db.WithContext(ctx).Where(
		"channel_id = ?", channelID,
	).First(&rec)
	if rv.Error != nil {
		if errors.Is(rv.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, rv.Error
	}
	return &rec, nil
}

func (d *database) SetSticky(
	ctx context.Context,
	channelID string,
	messageID string,
	postedAt time.Time,
) error {
	d.lock()
	defer d.unlock()
	rec := StickyRecord{
		ChannelID: channelID,
		MessageID: messageID,
		PostedAt:  postedAt.UnixMilli(),
	}
	return d.db.WithContext(ctx).Save(&rec).Error
}

func (d *database) StickyRecords(ctx context.Context) ([]StickyRecord, error) {
	var records []StickyRecord
	rv := d.db.WithContext(ctx).Find(&records)
	return records, rv.Error
}

func (d *database) CreateConfession(
	ctx context.Context,
	confession *Confession,
) error {
	d.lock()
	defer d.unlock()
	return d.db.WithContext(ctx).Create(confession).Error
}

func (d *database) CreateSuggestion(
	ctx context.Context,
	suggestion *Suggestion,
) error {
	d.lock()
	defer d.unlock()
	return d.db.WithContext(ctx).Create(suggestion).Error
}

func (d *database) Confessions(
	ctx context.Context,
	limit int,
) ([]Confession, error) {
	var confessions []Confession
	tx := d.db.WithContext(ctx).Order("id desc")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	return confessions, tx.Find(&confessions).Error
}

func (d *database) Suggestions(
	ctx context.Context,
	limit int,
) ([]Suggestion, error) {
	var suggestions []Suggestion
	tx := d.db.WithContext(ctx).Order("id desc")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	return suggestions, tx.Find(&suggestions).Error
}

// CreateDB opens the database indicated by databaseType ('sqlite' or
// 'postgres') and runs migrations for all models. logLevel and
// slowThreshold configure the GORM logger (Config.DatabaseLogLevel and
// Config.DatabaseSlowThreshold).
func CreateDB(
	ctx context.Context,
	databaseType string,
	database string,
	logLevel slog.Leveler,
	slowThreshold time.Duration,
) (*gorm.DB, error) {
	handler := tint.NewHandler(
		defaultLogWriter,
		&tint.Options{
			Level:     logLevel,
			AddSource: true,
		},
	)

	gormLogger := newGORMLogger(handler, slowThreshold)
	dbLogger := slog.New(handler)

	dbLogger.InfoContext(
		ctx,
		"Initializing database",
		"database_type", databaseType,
		"database", database,
	)
	db, err := getDB(databaseType, database, gormLogger)
	if err != nil {
		return db, err
	}

	if databaseType == dbTypeSQLite {
		sqlDB, dbErr := db.DB()
		if dbErr != nil {
			return db, dbErr
		}
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)
		for _, pragma := range sqliteExecPragma {
			if err = db.Exec(pragma).Error; err != nil {
				return db, fmt.Errorf("error executing '%s': %w", pragma, err)
			}
		}
	}

	txn := db.WithContext(ctx).Begin()
	err = txn.Migrator().AutoMigrate(
		&StickyRecord{},
		&Confession{},
		&Suggestion{},
	)
	if err != nil {
		return db, err
	}

	if commitErr := txn.Commit().Error; commitErr != nil {
		return db, commitErr
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
