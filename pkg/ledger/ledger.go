// Package ledger records outbound jobs whose send has completed so a
// redelivered forward request is not fetched and sent a second time.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
)

const keyPrefix = "job:"

// Config configures the ledger.
type Config struct {
	// Path is the badger directory. Empty keeps the ledger in memory.
	Path string `mapstructure:"path" yaml:"path"`

	// Retention is how long a completed job is remembered. Zero keeps
	// entries forever.
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`
}

// Entry describes one finished job. A failed entry is history only; the job
// may be requested again.
type Entry struct {
	JobID       string    `json:"job_id"`
	Objects     int       `json:"objects"`
	Sent        int       `json:"sent"`
	Failed      bool      `json:"failed,omitempty"`
	Description string    `json:"description"`
	CompletedAt time.Time `json:"completed_at"`
}

// Ledger is a badger-backed set of completed job ids.
type Ledger struct {
	db        *badgerdb.DB
	retention time.Duration
	inMemory  bool
}

// Open opens or creates the ledger.
func Open(cfg Config) (*Ledger, error) {
	opts := badgerdb.DefaultOptions(cfg.Path).WithLogger(nil)
	if cfg.Path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return &Ledger{db: db, retention: cfg.Retention, inMemory: cfg.Path == ""}, nil
}

func keyJob(jobID string) []byte {
	return []byte(keyPrefix + jobID)
}

// Record stores e, replacing any previous entry for the same job.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.CompletedAt.IsZero() {
		e.CompletedAt = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode ledger entry: %w", err)
	}

	return l.db.Update(func(txn *badgerdb.Txn) error {
		entry := badgerdb.NewEntry(keyJob(e.JobID), data)
		if l.retention > 0 {
			entry = entry.WithTTL(l.retention)
		}
		return txn.SetEntry(entry)
	})
}

// Get returns the entry of jobID.
func (l *Ledger) Get(ctx context.Context, jobID string) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}

	var e Entry
	err := l.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keyJob(jobID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("read ledger entry %s: %w", jobID, err)
	}
	return e, true, nil
}

// Completed reports whether jobID is recorded as successfully sent.
func (l *Ledger) Completed(ctx context.Context, jobID string) (bool, error) {
	e, ok, err := l.Get(ctx, jobID)
	return ok && !e.Failed, err
}

// Count returns the number of live entries.
func (l *Ledger) Count() (int, error) {
	n := 0
	err := l.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// GC reclaims value-log space until badger reports nothing to rewrite.
func (l *Ledger) GC() error {
	if l.inMemory {
		return nil
	}
	for {
		err := l.db.RunValueLogGC(0.5)
		if errors.Is(err, badgerdb.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("ledger value log gc: %w", err)
		}
	}
}

// Healthcheck verifies the database still serves reads.
func (l *Ledger) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.db.View(func(*badgerdb.Txn) error { return nil }); err != nil {
		return fmt.Errorf("ledger healthcheck failed: %w", err)
	}
	return nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}
