// Package intake implements JobIntake: it polls the receiver queue for
// forward requests and expands each one into FetchJob rows and fetch items.
package intake

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/dicomgw/internal/logger"
	"github.com/marmos91/dicomgw/internal/telemetry"
	"github.com/marmos91/dicomgw/pkg/errkind"
	"github.com/marmos91/dicomgw/pkg/queue"
	"github.com/marmos91/dicomgw/pkg/state"
	"github.com/marmos91/dicomgw/pkg/transfer"
)

// Outcomes reported to Metrics.
const (
	OutcomeAccepted  = "accepted"
	OutcomeMalformed = "malformed"
	OutcomeDuplicate = "duplicate"
	OutcomeRetry     = "retry"
)

// Metrics receives per-message outcomes. A nil Metrics disables collection.
type Metrics interface {
	ObserveMessage(outcome string, instances int)
}

// Ledger answers whether a job already completed its send.
type Ledger interface {
	Completed(ctx context.Context, jobID string) (bool, error)
}

// Config configures the intake loop.
type Config struct {
	EdgeID   string
	Workdir  string
	Interval time.Duration
	Batch    int
	Wait     time.Duration
}

// Intake is the JobIntake loop.
type Intake struct {
	cfg       Config
	queueName string
	client    queue.Client
	store     *state.Store
	fetch     *transfer.FetchPool
	rr        *transfer.RoundRobin
	ledger    Ledger
	metrics   Metrics

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// New creates an intake bound to the receiver queue of cfg.EdgeID. ledger
// may be nil.
func New(cfg Config, client queue.Client, store *state.Store, fetch *transfer.FetchPool, ledger Ledger, metrics Metrics) *Intake {
	if cfg.Batch <= 0 {
		cfg.Batch = 10
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 1500 * time.Millisecond
	}
	return &Intake{
		cfg:       cfg,
		queueName: queue.Name(cfg.EdgeID, queue.Receiver),
		client:    client,
		store:     store,
		fetch:     fetch,
		rr:        transfer.NewRoundRobin(fetch.Size()),
		ledger:    ledger,
		metrics:   metrics,
	}
}

// QueueName returns the polled queue.
func (in *Intake) QueueName() string {
	return in.queueName
}

// Start launches the polling loop.
func (in *Intake) Start(ctx context.Context) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.done != nil {
		return
	}

	ctx, in.cancel = context.WithCancel(ctx)
	in.done = make(chan struct{})
	logger.Info("Starting job intake", logger.KeyQueue, in.queueName)

	go func() {
		defer close(in.done)
		ticker := time.NewTicker(in.cfg.Interval)
		defer ticker.Stop()
		for {
			if _, err := in.Poll(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("Receiver queue poll failed", logger.KeyQueue, in.queueName, logger.Err(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop cancels the loop and waits for the current poll to finish.
func (in *Intake) Stop() {
	in.mu.Lock()
	cancel, done := in.cancel, in.done
	in.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Poll receives one batch and handles every message. It returns the number
// of messages removed from the queue.
func (in *Intake) Poll(ctx context.Context) (int, error) {
	msgs, err := in.client.Receive(ctx, in.queueName, in.cfg.Batch, in.cfg.Wait)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, msg := range msgs {
		if in.Handle(ctx, msg) {
			if err := in.client.Delete(ctx, in.queueName, msg.ReceiptHandle); err != nil {
				logger.Warn("Could not delete forward request",
					logger.KeyQueue, in.queueName,
					logger.KeyMessageID, msg.ID,
					logger.Err(err))
				continue
			}
			deleted++
		}
	}
	return deleted, nil
}

// Handle processes one message and reports whether it may be deleted.
// A message is kept only when expansion failed part way; redelivery then
// repeats the whole expansion, which is idempotent.
func (in *Intake) Handle(ctx context.Context, msg queue.Message) bool {
	ctx, span := telemetry.StartQueueSpan(ctx, telemetry.SpanReceive, in.queueName)
	defer span.End()

	req, err := ParseForwardRequest(msg.Body)
	if err != nil {
		logger.Warn("Discarding malformed forward request",
			logger.KeyMessageID, msg.ID,
			logger.KeyErrorKind, errkind.KindOf(err).String(),
			logger.Err(err))
		in.observe(OutcomeMalformed, 0)
		return true
	}

	lc := logger.NewLogContext("intake").WithJob(req.JobID)
	ctx = logger.WithContext(ctx, lc)

	if done, err := in.alreadyHandled(ctx, req.JobID); err != nil {
		logger.WarnCtx(ctx, "Could not check job history", logger.Err(err))
		in.observe(OutcomeRetry, 0)
		return false
	} else if done {
		logger.InfoCtx(ctx, "Skipping forward request for completed job", logger.KeyMessageID, msg.ID)
		in.observe(OutcomeDuplicate, 0)
		return true
	}

	leaves := req.Leaves()
	items := make([]transfer.FetchItem, 0, len(leaves))
	for _, l := range leaves {
		row := &state.FetchJob{
			JobID:           req.JobID,
			SourceAE:        req.SourceAE,
			DestinationAE:   req.DestinationAE,
			DestinationHost: req.DestinationHostname,
			DestinationPort: int(req.DestinationPort),
			StudyUID:        l.StudyUID,
			SeriesUID:       l.SeriesUID,
			SOPInstanceUID:  l.SOPInstanceUID,
			LocalPath:       transfer.FetchPath(in.cfg.Workdir, req.JobID, l.StudyUID, l.SeriesUID, l.SOPInstanceUID),
			SourceKey:       transfer.FetchKey(l.RootDirectory, l.SOPInstanceUID),
		}
		if err := in.store.UpsertFetchJob(ctx, row); err != nil {
			logger.WarnCtx(ctx, "Forward request expansion failed, leaving message for redelivery",
				logger.KeySOPUID, l.SOPInstanceUID,
				logger.Err(err))
			in.observe(OutcomeRetry, 0)
			return false
		}
		items = append(items, transfer.FetchItem{
			JobID:          row.JobID,
			SOPInstanceUID: row.SOPInstanceUID,
			Key:            row.SourceKey,
			LocalPath:      row.LocalPath,
		})
	}

	for _, item := range items {
		if err := in.fetch.AddJob(in.rr.Next(), item); err != nil {
			// Rows exist; the stale-fetch scan re-offers them.
			logger.WarnCtx(ctx, "Could not enqueue fetch", logger.KeySOPUID, item.SOPInstanceUID, logger.Err(err))
		}
	}

	logger.InfoCtx(ctx, "Forward request accepted",
		logger.KeyDestAE, req.DestinationAE,
		logger.KeyDestHost, req.DestinationHostname,
		logger.KeyDestPort, int(req.DestinationPort),
		logger.KeyCount, len(items))
	in.observe(OutcomeAccepted, len(items))
	return true
}

func (in *Intake) alreadyHandled(ctx context.Context, jobID string) (bool, error) {
	if in.ledger != nil {
		done, err := in.ledger.Completed(ctx, jobID)
		if err != nil || done {
			return done, err
		}
	}
	return in.store.JobForwarded(ctx, jobID)
}

func (in *Intake) observe(outcome string, n int) {
	if in.metrics != nil {
		in.metrics.ObserveMessage(outcome, n)
	}
}
