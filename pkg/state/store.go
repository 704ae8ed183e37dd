// Package state implements the StateStore: the transactional table store
// shared by every pipeline stage.
//
// Writers are serialized by a single mutex and every mutation runs inside an
// explicit transaction, so status transitions stay monotonic even when many
// workers report completions at once. Reads take the same mutex for
// consistency but are not transactional; callers must not assume snapshot
// isolation across several reads.
package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marmos91/dicomgw/internal/logger"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("state store is closed")

// Store is the GORM-backed StateStore.
type Store struct {
	mu     sync.Mutex
	db     *gorm.DB
	config *Config
	closed bool
}

// New opens the store described by config and migrates its schema.
func New(config *Config) (*Store, error) {
	if config == nil {
		config = &Config{}
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid state store configuration: %w", err)
	}

	var dialector gorm.Dialector
	switch config.Type {
	case DatabaseTypeSQLite:
		dsn := config.SQLite.Path
		if dsn != MemoryPath {
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
			dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		}
		dialector = sqlite.Open(dsn)
	case DatabaseTypePostgres:
		dialector = postgres.Open(config.Postgres.DSN())
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying database: %w", err)
	}
	switch config.Type {
	case DatabaseTypeSQLite:
		// Every connection to ":memory:" is a distinct database.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxLifetime(0)
	case DatabaseTypePostgres:
		sqlDB.SetMaxOpenConns(config.Postgres.MaxOpenConns)
		sqlDB.SetMaxIdleConns(config.Postgres.MaxIdleConns)
	}

	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("failed to run database migration: %w", err)
	}

	logger.Debug("State store opened", "type", config.Type)
	return &Store{db: db, config: config}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Reset deletes every row from both tables.
func (s *Store) Reset(ctx context.Context) error {
	return s.write(ctx, "reset", func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&IncomingObject{}).Error; err != nil {
			return err
		}
		return tx.Where("1 = 1").Delete(&FetchJob{}).Error
	})
}

// write runs fn in a transaction while holding the writer mutex. A failed
// transaction is rolled back in full.
func (s *Store) write(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if err := s.db.WithContext(ctx).Transaction(fn); err != nil {
		logger.Warn("State store write abandoned", "operation", op, logger.KeyError, err)
		return fmt.Errorf("state %s: %w", op, err)
	}
	return nil
}

// read runs fn under the mutex without a transaction.
func (s *Store) read(ctx context.Context, op string, fn func(db *gorm.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if err := fn(s.db.WithContext(ctx)); err != nil {
		return fmt.Errorf("state %s: %w", op, err)
	}
	return nil
}

// Stats returns row counts by state.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.read(ctx, "stats", func(db *gorm.DB) error {
		counts := []struct {
			dst   *int64
			query *gorm.DB
		}{
			{&st.Unsent, db.Model(&IncomingObject{}).Where("status = ?", Unsent)},
			{&st.Queued, db.Model(&IncomingObject{}).Where("status = ?", Queued)},
			{&st.Sent, db.Model(&IncomingObject{}).Where("status = ?", Sent)},
			{&st.Associations, db.Model(&IncomingObject{}).Distinct("association_id")},
			{&st.PendingFetches, db.Model(&FetchJob{}).Where("fetched = ?", false)},
			{&st.FetchJobs, db.Model(&FetchJob{}).Distinct("job_id")},
		}
		for _, c := range counts {
			if err := c.query.Count(c.dst).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return st, err
}
