// Package gateway wires the store-and-forward pipeline together: the
// inbound store handler, the worker pools, the notification publishers,
// job intake, the orchestrator loops and housekeeping.
//
// An Engine owns the lifecycle of all of them. Components never call each
// other directly; they hand work over through the StateStore and the pool
// queues, and the orchestrator loops move it along.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/marmos91/dicomgw/internal/logger"
	"github.com/marmos91/dicomgw/pkg/blob"
	"github.com/marmos91/dicomgw/pkg/dimse"
	"github.com/marmos91/dicomgw/pkg/intake"
	"github.com/marmos91/dicomgw/pkg/ledger"
	"github.com/marmos91/dicomgw/pkg/notify"
	"github.com/marmos91/dicomgw/pkg/queue"
	"github.com/marmos91/dicomgw/pkg/sender"
	"github.com/marmos91/dicomgw/pkg/state"
	"github.com/marmos91/dicomgw/pkg/storage"
	"github.com/marmos91/dicomgw/pkg/transfer"
)

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("engine already started")

// MetricsSet groups the per-component metrics. Any field may be nil.
type MetricsSet struct {
	Transfer transfer.Metrics
	Send     sender.Metrics
	Notify   notify.Metrics
	Intake   intake.Metrics
	Gateway  Metrics
}

// Components are the backends an Engine runs on. Ledger is optional.
type Components struct {
	State   *state.Store
	Blob    blob.Store
	Queue   queue.Client
	Stack   dimse.Stack
	Monitor *storage.Monitor
	Ledger  *ledger.Ledger
	Metrics MetricsSet
}

func (c Components) validate() error {
	switch {
	case c.State == nil:
		return errors.New("state store is required")
	case c.Blob == nil:
		return errors.New("blob store is required")
	case c.Queue == nil:
		return errors.New("queue client is required")
	case c.Stack == nil:
		return errors.New("dimse stack is required")
	case c.Monitor == nil:
		return errors.New("storage monitor is required")
	}
	return nil
}

// Engine runs the whole gateway.
type Engine struct {
	opts Options
	c    Components

	upload   *transfer.UploadPool
	fetch    *transfer.FetchPool
	send     *sender.Pool
	inbound  *notify.Publisher
	outbound *notify.Publisher
	handler  *Handler
	orch     *Orchestrator
	intake   *intake.Intake
	house    *Housekeeper

	mu        sync.Mutex
	started   bool
	startedAt time.Time
	cancel    context.CancelFunc
	listening chan struct{}
	listenErr error
}

// NewEngine builds every component without starting any of them.
func NewEngine(opts Options, c Components) (*Engine, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid gateway options: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}

	e := &Engine{opts: opts, c: c}
	m := c.Metrics

	e.upload = transfer.NewUploadPool(c.Blob, opts.Workers, m.Transfer)
	e.fetch = transfer.NewFetchPool(c.Blob, opts.Workers, m.Transfer)
	e.send = sender.NewPool(c.Stack, opts.Workers, m.Send)
	e.inbound = notify.NewPublisher(c.Queue, opts.EdgeID, queue.Inbound, m.Notify)
	e.outbound = notify.NewPublisher(c.Queue, opts.EdgeID, queue.Outbound, m.Notify)
	e.handler = NewHandler(opts, c.State, c.Monitor, e.inbound, m.Gateway)

	var jobs JobRecorder
	var completed intake.Ledger
	var gc ValueLogGC
	if c.Ledger != nil {
		jobs, completed, gc = c.Ledger, c.Ledger, c.Ledger
	}

	e.orch = NewOrchestrator(opts, c.Blob.Name(), c.State, e.upload, e.fetch, e.send, e.inbound, e.outbound, jobs, m.Gateway)
	e.intake = intake.New(intake.Config{
		EdgeID:   opts.EdgeID,
		Workdir:  opts.Workdir,
		Interval: opts.IntakeInterval,
		Batch:    opts.IntakeBatch,
		Wait:     opts.IntakeWait,
	}, c.Queue, c.State, e.fetch, completed, m.Intake)

	house, err := NewHousekeeper(opts, c.State, gc, e.handler.IsActive, e.orch.Sending)
	if err != nil {
		return nil, err
	}
	e.house = house
	return e, nil
}

// Handler returns the inbound protocol handler.
func (e *Engine) Handler() *Handler {
	return e.handler
}

// Orchestrator returns the orchestrator, mostly for tests.
func (e *Engine) Orchestrator() *Orchestrator {
	return e.orch
}

// Start resets the work tree, starts every component and begins listening
// for inbound associations.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return ErrAlreadyStarted
	}

	if err := ResetWorkTree(e.opts.Workdir); err != nil {
		return err
	}

	ctx, e.cancel = context.WithCancel(ctx)

	e.c.Monitor.Start(ctx)
	e.inbound.Start(ctx)
	e.outbound.Start(ctx)
	e.upload.Start(ctx)
	e.fetch.Start(ctx)
	e.send.Start(ctx)
	e.orch.Start(ctx)
	e.intake.Start(ctx)
	if err := e.house.Start(ctx); err != nil {
		e.cancel()
		return fmt.Errorf("start housekeeping: %w", err)
	}

	e.listening = make(chan struct{})
	go e.listen(ctx)

	e.started = true
	e.startedAt = time.Now()
	logger.Info("Gateway started",
		logger.KeyEdgeID, e.opts.EdgeID,
		"ae_title", e.opts.AETitle,
		"port", e.opts.ListenPort,
		"workers", e.opts.Workers,
		"workdir", e.opts.Workdir)
	return nil
}

func (e *Engine) listen(ctx context.Context) {
	defer close(e.listening)
	err := e.c.Stack.Listen(ctx, dimse.ListenConfig{
		AETitle:         e.opts.AETitle,
		Port:            e.opts.ListenPort,
		MaxAssociations: e.opts.MaxAssociations,
	}, e.handler)
	if err != nil && ctx.Err() == nil {
		logger.Error("Inbound listener stopped", logger.Err(err))
		e.mu.Lock()
		e.listenErr = err
		e.mu.Unlock()
	}
}

// Stop shuts components down in reverse start order. Pools and publishers
// get up to timeout each to drain in-flight work.
func (e *Engine) Stop(timeout time.Duration) {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	cancel, listening := e.cancel, e.listening
	e.mu.Unlock()

	logger.Info("Stopping gateway")
	cancel()
	<-listening

	e.house.Stop()
	e.intake.Stop()
	e.orch.Stop()
	e.send.Stop(timeout)
	e.fetch.Stop(timeout)
	e.upload.Stop(timeout)
	e.outbound.Stop(timeout)
	e.inbound.Stop(timeout)
	e.c.Monitor.Stop()
	logger.Info("Gateway stopped")
}

// ListenErr returns the error that ended the inbound listener, if any.
func (e *Engine) ListenErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listenErr
}

// ResetWorkTree removes and recreates <workdir>/in and <workdir>/out.
func ResetWorkTree(workdir string) error {
	for _, sub := range []string{"in", "out"} {
		dir := filepath.Join(workdir, sub)
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("reset %s: %w", dir, err)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// StorageSnapshot is the last disk sample.
type StorageSnapshot struct {
	Pressure      string `json:"pressure"`
	Throttled     bool   `json:"throttled"`
	OutOfResource bool   `json:"out_of_resource"`
	FreeBytes     uint64 `json:"free_bytes"`
}

// Snapshot is a point-in-time view of the gateway.
type Snapshot struct {
	EdgeID             string                 `json:"edge_id"`
	AETitle            string                 `json:"ae_title"`
	Datastore          string                 `json:"datastore"`
	Running            bool                   `json:"running"`
	StartedAt          time.Time              `json:"started_at"`
	Storage            StorageSnapshot        `json:"storage"`
	ActiveAssociations int                    `json:"active_associations"`
	State              state.Stats            `json:"state"`
	Upload             []transfer.WorkerState `json:"upload_workers"`
	Fetch              []transfer.WorkerState `json:"fetch_workers"`
	Send               []sender.WorkerState   `json:"send_workers"`
	ReadyJobs          int                    `json:"ready_jobs"`
	InboundBacklog     int                    `json:"inbound_backlog"`
	OutboundBacklog    int                    `json:"outbound_backlog"`
}

// Snapshot collects worker states, queue depths and storage flags. The
// returned error concerns only the StateStore counts; every other field is
// always filled.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	e.mu.Lock()
	running, startedAt := e.started, e.startedAt
	e.mu.Unlock()

	mon := e.c.Monitor
	snap := Snapshot{
		EdgeID:    e.opts.EdgeID,
		AETitle:   e.opts.AETitle,
		Datastore: e.c.Blob.Name(),
		Running:   running,
		StartedAt: startedAt,
		Storage: StorageSnapshot{
			Pressure:      mon.Pressure().String(),
			Throttled:     mon.IsThrottled(),
			OutOfResource: mon.IsOutOfResource(),
			FreeBytes:     mon.FreeBytes(),
		},
		ActiveAssociations: e.handler.ActiveAssociations(),
		Upload:             e.upload.States(),
		Fetch:              e.fetch.States(),
		Send:               e.send.States(),
		ReadyJobs:          e.orch.ReadyQueueLen(),
		InboundBacklog:     e.inbound.Pending(),
		OutboundBacklog:    e.outbound.Pending(),
	}

	stats, err := e.c.State.Stats(ctx)
	snap.State = stats
	return snap, err
}

// Ready reports whether the engine is running and its backends respond.
func (e *Engine) Ready(ctx context.Context) error {
	e.mu.Lock()
	running, listenErr := e.started, e.listenErr
	e.mu.Unlock()

	if !running {
		return errors.New("engine not running")
	}
	if listenErr != nil {
		return fmt.Errorf("listener: %w", listenErr)
	}
	if err := e.c.Blob.HealthCheck(ctx); err != nil {
		return fmt.Errorf("blob store: %w", err)
	}
	if e.c.Ledger != nil {
		if err := e.c.Ledger.Healthcheck(ctx); err != nil {
			return fmt.Errorf("ledger: %w", err)
		}
	}
	return nil
}
