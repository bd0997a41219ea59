package voxtally

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"

	columnUserID  = "user_id"
	columnMonth   = "month"
	columnMinutes = "minutes"
)

var sqliteExecPragma = []string{
	"pragma journal_mode=WAL;",
	"pragma synchronous = normal;",
	"pragma temp_store = memory;",
	"pragma foreign_keys = ON;",
}

// VoiceActivityMonthly is one user's credited voice minutes for one
// calendar month. Rows are created on first credit and never deleted.
type VoiceActivityMonthly struct {
	UserID  string `gorm:"primaryKey" json:"user_id"`
	Month   string `gorm:"primaryKey;column:month" json:"month"`
	Minutes int64  `gorm:"not null;default:0" json:"minutes"`
}

func (VoiceActivityMonthly) TableName() string {
	return "voice_activity_monthly"
}

// VoiceActivityTotal is one user's credited voice minutes across all
// months. For every user, Minutes equals the sum of that user's
// [VoiceActivityMonthly] rows - both are always written in the same
// transaction.
type VoiceActivityTotal struct {
	UserID  string `gorm:"primaryKey" json:"user_id"`
	Minutes int64  `gorm:"not null;default:0" json:"minutes"`
}

func (VoiceActivityTotal) TableName() string {
	return "voice_activity_total"
}

// CreateDB initializes the database connection and runs migrations.
func CreateDB(ctx context.Context, databaseType string, database string) (
	*gorm.DB,
	error,
) {
	handler := tint.NewHandler(
		os.Stdout,
		&tint.Options{
			Level:     slog.LevelWarn,
			AddSource: true,
		},
	)

	gormLogger := newGORMLogger(handler, 500*time.Millisecond)
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
		for _, pragma := range sqliteExecPragma {
			if err = db.Exec(pragma).Error; err != nil {
				return db, fmt.Errorf("error setting pragma %q: %w", pragma, err)
			}
		}
	}

	txn := db.WithContext(ctx).Begin()

	mg := txn.Migrator()
	err = mg.AutoMigrate(
		&VoiceActivityMonthly{},
		&VoiceActivityTotal{},
	)
	if err != nil {
		return db, err
	}

	commitErr := txn.Commit().Error
	if commitErr != nil {
		return db, commitErr
	}

	return db, nil
}

// getDB initializes and returns a GORM database connection based on the
// specified database type.
//
// Parameters:
//   - databaseType: Must be 'sqlite' or 'postgres'
//   - database: Database connection string, or SQLite file path.
//   - gormLogger: A pointer to a gormStructuredLogger instance for
//     logging database operations.
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

// ActivityStore owns the voice activity counters. The sampler and the
// leaderboard paths only ever go through its methods.
//
// Per-user write serialization relies on the storage engine's own
// transactional guarantees (SQLite's single writer, postgres row locks) -
// any substituted engine must provide the same, there are no
// application-level row locks here.
type ActivityStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewActivityStore(db *gorm.DB, log *slog.Logger) *ActivityStore {
	if log == nil {
		log = slog.Default()
	}
	return &ActivityStore{
		db:     db,
		logger: log.With(loggerNameKey, "activity_store"),
	}
}

// IncrementVoiceActivity credits one minute to the given user for the
// given month key, and one minute to the user's running total, creating
// either row at 1 if absent. Both writes happen in one transaction, so a
// reader can never observe the monthly/total invariant broken. Returns
// the post-increment total.
//
// On error the transaction is rolled back and (0, err) is returned;
// callers should treat that as "could not confirm the update" and log,
// not crash.
func (s *ActivityStore) IncrementVoiceActivity(
	ctx context.Context,
	userID string,
	month string,
) (int64, error) {
	var total VoiceActivityTotal
	err := s.db.WithContext(ctx).Transaction(
		func(tx *gorm.DB) error {
			monthly := VoiceActivityMonthly{
				UserID:  userID,
				Month:   month,
				Minutes: 1,
			}
			if err := tx.Clauses(
				clause.OnConflict{
					Columns: []clause.Column{
						{Name: columnUserID},
						{Name: columnMonth},
					},
					DoUpdates: clause.Assignments(
						map[string]any{
							columnMinutes: gorm.Expr("minutes + 1"),
						},
					),
				},
			).Create(&monthly).Error; err != nil {
				return fmt.Errorf("monthly upsert: %w", err)
			}

			if err := tx.Clauses(
				clause.OnConflict{
					Columns: []clause.Column{{Name: columnUserID}},
					DoUpdates: clause.Assignments(
						map[string]any{
							columnMinutes: gorm.Expr("minutes + 1"),
						},
					),
				},
			).Create(
				&VoiceActivityTotal{UserID: userID, Minutes: 1},
			).Error; err != nil {
				return fmt.Errorf("total upsert: %w", err)
			}

			if err := tx.Where(
				"user_id = ?", userID,
			).Take(&total).Error; err != nil {
				return fmt.Errorf("total readback: %w", err)
			}
			return nil
		},
	)
	if err != nil {
		s.logger.ErrorContext(
			ctx,
			"error incrementing voice activity",
			columnUserID, userID,
			columnMonth, month,
			tint.Err(err),
		)
		return 0, err
	}
	return total.Minutes, nil
}

// TotalVoiceTimes returns every user's total credited minutes, most
// minutes first. An empty store yields an empty slice.
func (s *ActivityStore) TotalVoiceTimes(ctx context.Context) (
	[]VoiceActivityTotal,
	error,
) {
	totals := make([]VoiceActivityTotal, 0)
	err := s.db.WithContext(ctx).Order(
		"minutes DESC",
	).Find(&totals).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching total voice times: %w", err)
	}
	return totals, nil
}

// MonthlyVoiceTimes returns every user's credited minutes for the given
// month key, most minutes first. An unknown month yields an empty slice.
func (s *ActivityStore) MonthlyVoiceTimes(
	ctx context.Context,
	month string,
) ([]VoiceActivityMonthly, error) {
	rows := make([]VoiceActivityMonthly, 0)
	err := s.db.WithContext(ctx).Where(
		"month = ?", month,
	).Order("minutes DESC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf(
			"error fetching voice times for %s: %w", month, err,
		)
	}
	return rows, nil
}
