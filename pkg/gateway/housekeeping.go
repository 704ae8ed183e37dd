package gateway

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/marmos91/dicomgw/internal/logger"
	"github.com/marmos91/dicomgw/pkg/state"
)

// ValueLogGC compacts the completed-job ledger.
type ValueLogGC interface {
	GC() error
}

// Housekeeper runs periodic maintenance on a cron schedule: ledger GC,
// removal of old forwarded FetchJob rows and a sweep of work directories
// no row refers to.
type Housekeeper struct {
	opts      Options
	store     *state.Store
	ledger    ValueLogGC
	isActive  func(associationID string) bool
	isSending func(jobID string) bool
	cron      *cron.Cron
}

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewHousekeeper validates the schedule. ledger, isActive and isSending may
// be nil.
func NewHousekeeper(opts Options, store *state.Store, ledger ValueLogGC, isActive, isSending func(string) bool) (*Housekeeper, error) {
	opts = opts.withDefaults()
	if _, err := scheduleParser.Parse(opts.HousekeepingSchedule); err != nil {
		return nil, fmt.Errorf("invalid housekeeping schedule %q: %w", opts.HousekeepingSchedule, err)
	}
	never := func(string) bool { return false }
	if isActive == nil {
		isActive = never
	}
	if isSending == nil {
		isSending = never
	}
	return &Housekeeper{
		opts:      opts,
		store:     store,
		ledger:    ledger,
		isActive:  isActive,
		isSending: isSending,
		cron:      cron.New(cron.WithParser(scheduleParser)),
	}, nil
}

// Start schedules RunOnce.
func (h *Housekeeper) Start(ctx context.Context) error {
	_, err := h.cron.AddFunc(h.opts.HousekeepingSchedule, func() { h.RunOnce(ctx) })
	if err != nil {
		return err
	}
	h.cron.Start()
	logger.Info("Housekeeping scheduled", "schedule", h.opts.HousekeepingSchedule)
	return nil
}

// Stop waits for a running pass to finish.
func (h *Housekeeper) Stop() {
	<-h.cron.Stop().Done()
}

// RunOnce performs one maintenance pass.
func (h *Housekeeper) RunOnce(ctx context.Context) {
	ctx = logger.WithContext(ctx, logger.NewLogContext("housekeeping"))

	if h.ledger != nil {
		if err := h.ledger.GC(); err != nil {
			logger.WarnCtx(ctx, "Ledger GC failed", logger.Err(err))
		}
	}

	if h.opts.ForwardedRetention > 0 {
		n, err := h.store.DeleteForwardedBefore(ctx, time.Now().Add(-h.opts.ForwardedRetention))
		if err != nil {
			logger.WarnCtx(ctx, "Forwarded row cleanup failed", logger.Err(err))
		} else if n > 0 {
			logger.InfoCtx(ctx, "Removed forwarded rows", logger.KeyCount, n)
		}
	}

	removed := h.SweepOrphans(ctx)
	if removed > 0 {
		logger.InfoCtx(ctx, "Swept orphaned work directories", logger.KeyCount, removed)
	}
}

// SweepOrphans removes out/ and in/ directories older than OrphanAge that
// no row or open association refers to.
func (h *Housekeeper) SweepOrphans(ctx context.Context) int {
	cutoff := time.Now().Add(-h.opts.OrphanAge)
	removed := 0

	removed += h.sweep(ctx, filepath.Join(h.opts.Workdir, "out"), cutoff, func(id string) (bool, error) {
		if h.isActive(id) {
			return true, nil
		}
		rows, err := h.store.ObjectsForAssociation(ctx, id)
		return len(rows) > 0, err
	})
	removed += h.sweep(ctx, filepath.Join(h.opts.Workdir, "in"), cutoff, func(id string) (bool, error) {
		if h.isSending(id) {
			return true, nil
		}
		rows, err := h.store.FetchJobs(ctx, id)
		if err != nil || len(rows) == 0 {
			return false, err
		}
		for _, r := range rows {
			if !r.Forwarded {
				return true, nil
			}
		}
		return false, nil
	})
	return removed
}

func (h *Housekeeper) sweep(ctx context.Context, root string, cutoff time.Time, referenced func(string) (bool, error)) int {
	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WarnCtx(ctx, "Could not list work directory", logger.KeyPath, root, logger.Err(err))
		}
		return 0
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		used, err := referenced(e.Name())
		if err != nil || used {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
			logger.WarnCtx(ctx, "Could not remove orphaned directory", logger.KeyPath, e.Name(), logger.Err(err))
			continue
		}
		removed++
	}
	return removed
}
