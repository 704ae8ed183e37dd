// Package transfer moves DICOM files between the local work tree and the
// blob store through pools of isolated workers.
//
// Each worker owns an inbound queue and a completed queue. A failed transfer
// is logged and dropped: the item never reaches the completed queue, so the
// owning StateStore row keeps its prior status and a later scan re-offers it.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dicomgw/internal/fifo"
	"github.com/marmos91/dicomgw/internal/logger"
	"github.com/marmos91/dicomgw/internal/telemetry"
	"github.com/marmos91/dicomgw/pkg/errkind"
)

// ErrPoolStopped is returned by AddJob after Stop.
var ErrPoolStopped = errors.New("transfer pool stopped")

// WorkerStatus is the externally visible state of a transfer worker.
type WorkerStatus int

const (
	Idle WorkerStatus = iota
	Busy
)

func (s WorkerStatus) String() string {
	if s == Busy {
		return "busy"
	}
	return "idle"
}

// WorkerState is a point-in-time view of one worker.
type WorkerState struct {
	Index     int          `json:"index"`
	Status    WorkerStatus `json:"-"`
	State     string       `json:"status"`
	Queued    int          `json:"queued"`
	Completed int          `json:"completed_pending"`
	Processed int64        `json:"processed"`
	Failed    int64        `json:"failed"`
}

// Metrics receives per-transfer observations. A nil Metrics disables
// collection.
type Metrics interface {
	ObserveTransfer(op string, d time.Duration, bytes int64, err error)
	SetQueueDepth(op string, depth int)
}

// TransferFunc performs one transfer and reports the bytes moved.
type TransferFunc[T any] func(ctx context.Context, item T) (int64, error)

// KeyFunc names an item in logs and spans.
type KeyFunc[T any] func(item T) string

type worker[T any] struct {
	index     int
	inbound   *fifo.Queue[T]
	completed *fifo.Queue[T]
	busy      atomic.Bool
	processed atomic.Int64
	failed    atomic.Int64
}

// Pool is a fixed-size set of transfer workers.
type Pool[T any] struct {
	op      string
	span    string
	workers []*worker[T]
	fn      TransferFunc[T]
	keyOf   KeyFunc[T]
	metrics Metrics

	// outstanding counts items added and neither dropped on failure nor
	// returned by PollCompleted.
	outstanding atomic.Int64

	wg        sync.WaitGroup
	stopCh    chan struct{}
	stoppedCh chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewPool creates a pool of size workers. op labels logs and metrics
// ("upload", "fetch"); span is the trace span name.
func NewPool[T any](op, span string, size int, fn TransferFunc[T], keyOf KeyFunc[T], metrics Metrics) *Pool[T] {
	if size <= 0 {
		size = 1
	}
	p := &Pool[T]{
		op:        op,
		span:      span,
		fn:        fn,
		keyOf:     keyOf,
		metrics:   metrics,
		workers:   make([]*worker[T], size),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
	for i := range p.workers {
		p.workers[i] = &worker[T]{
			index:     i,
			inbound:   fifo.New[T](),
			completed: fifo.New[T](),
		}
	}
	return p
}

// Size returns the number of workers.
func (p *Pool[T]) Size() int {
	return len(p.workers)
}

// Start launches one goroutine per worker. Transfers run on a context
// detached from ctx's cancellation so an in-flight item always completes.
func (p *Pool[T]) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	logger.Info("Starting transfer pool", "op", p.op, "workers", len(p.workers))

	runCtx := context.WithoutCancel(ctx)
	for _, w := range p.workers {
		p.wg.Add(1)
		go p.run(runCtx, w)
	}

	go func() {
		p.wg.Wait()
		close(p.stoppedCh)
	}()
}

// Stop signals workers to exit after their current item and waits up to
// timeout. Items still queued are abandoned; their rows are re-offered by
// the next scan.
func (p *Pool[T]) Stop(timeout time.Duration) {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.stopped = true
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	logger.Info("Stopping transfer pool", "op", p.op, "pending", p.Pending())
	close(p.stopCh)

	select {
	case <-p.stoppedCh:
		logger.Info("Transfer pool stopped", "op", p.op)
	case <-time.After(timeout):
		logger.Warn("Transfer pool stop timed out", "op", p.op, "pending", p.Pending())
	}
}

// AddJob enqueues item on worker i. It never blocks.
func (p *Pool[T]) AddJob(i int, item T) error {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return ErrPoolStopped
	}
	if i < 0 || i >= len(p.workers) {
		return fmt.Errorf("%s worker %d out of range [0,%d)", p.op, i, len(p.workers))
	}
	p.outstanding.Add(1)
	p.workers[i].inbound.Push(item)
	p.reportDepth()
	return nil
}

// PollCompleted returns the next finished item of worker i, if any.
func (p *Pool[T]) PollCompleted(i int) (T, bool) {
	if i < 0 || i >= len(p.workers) {
		var zero T
		return zero, false
	}
	item, ok := p.workers[i].completed.TryPop()
	if ok {
		p.outstanding.Add(-1)
	}
	return item, ok
}

// Outstanding returns the number of items queued, in progress or completed
// but not yet collected.
func (p *Pool[T]) Outstanding() int {
	return int(p.outstanding.Load())
}

// Pending returns the number of items waiting in inbound queues.
func (p *Pool[T]) Pending() int {
	n := 0
	for _, w := range p.workers {
		n += w.inbound.Len()
	}
	return n
}

// States returns a snapshot of every worker.
func (p *Pool[T]) States() []WorkerState {
	out := make([]WorkerState, len(p.workers))
	for i, w := range p.workers {
		status := Idle
		if w.busy.Load() {
			status = Busy
		}
		out[i] = WorkerState{
			Index:     i,
			Status:    status,
			State:     status.String(),
			Queued:    w.inbound.Len(),
			Completed: w.completed.Len(),
			Processed: w.processed.Load(),
			Failed:    w.failed.Load(),
		}
	}
	return out
}

func (p *Pool[T]) run(ctx context.Context, w *worker[T]) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		item, ok := w.inbound.Pop(p.stopCh)
		if !ok {
			return
		}
		p.process(ctx, w, item)
	}
}

func (p *Pool[T]) process(ctx context.Context, w *worker[T], item T) {
	w.busy.Store(true)
	defer w.busy.Store(false)
	p.reportDepth()

	key := p.keyOf(item)
	ctx, span := telemetry.StartTransferSpan(ctx, p.span, w.index, key)
	defer span.End()

	lc := logger.NewLogContext(p.op).WithWorker(w.index)
	ctx = logger.WithContext(ctx, lc)

	start := time.Now()
	n, err := p.fn(ctx, item)
	elapsed := time.Since(start)

	if p.metrics != nil {
		p.metrics.ObserveTransfer(p.op, elapsed, n, err)
	}

	if err != nil {
		p.outstanding.Add(-1)
		w.failed.Add(1)
		telemetry.RecordError(ctx, err)
		logger.WarnCtx(ctx, "Transfer failed, leaving item for rescan",
			"op", p.op,
			logger.KeyKey, key,
			logger.KeyErrorKind, errkind.KindOf(err).String(),
			logger.Err(err))
		return
	}

	w.processed.Add(1)
	w.completed.Push(item)
	logger.DebugCtx(ctx, "Transfer complete",
		"op", p.op,
		logger.KeyKey, key,
		logger.KeySize, n,
		logger.KeyDurationMs, float64(elapsed.Microseconds())/1000)
}

func (p *Pool[T]) reportDepth() {
	if p.metrics != nil {
		p.metrics.SetQueueDepth(p.op, p.Pending())
	}
}
