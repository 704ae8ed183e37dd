// Package sender implements the SendWorkerPool: workers that relay a
// fetched job to a local DICOM receiver over one outbound association.
//
// Each worker holds at most one job. Its state moves
// Idle -> Pending -> Processing -> Completed and returns to Idle only
// through an explicit Reset, after the status reporter has published the
// final description.
package sender

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/marmos91/dicomgw/internal/logger"
	"github.com/marmos91/dicomgw/internal/telemetry"
	"github.com/marmos91/dicomgw/pkg/dimse"
	"github.com/marmos91/dicomgw/pkg/errkind"
)

var (
	// ErrWorkerBusy is returned by AssignJob when the worker is not Idle.
	ErrWorkerBusy = errors.New("send worker is not idle")

	// ErrNotCompleted is returned by Reset when the worker is not Completed.
	ErrNotCompleted = errors.New("send worker has not completed its job")
)

// DescAssociationFailed is reported when the outbound association cannot
// be opened.
const DescAssociationFailed = "Failed - Could not establish DICOM association."

// Status is the state of a send worker.
type Status int

const (
	Idle Status = iota
	Pending
	Processing
	Completed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Processing:
		return "processing"
	case Completed:
		return "completed"
	default:
		return "idle"
	}
}

// Job is one forward request ready to be sent.
type Job struct {
	JobID    string
	SelfAE   string
	DestAE   string
	DestHost string
	DestPort int

	// Files are sent in order.
	Files []string
}

// WorkerState is a point-in-time view of one send worker.
type WorkerState struct {
	Index       int    `json:"index"`
	Status      Status `json:"-"`
	State       string `json:"status"`
	JobID       string `json:"job_id,omitempty"`
	DestAE      string `json:"destination_ae,omitempty"`
	Description string `json:"description,omitempty"`
	Sent        int    `json:"sent"`
	Total       int    `json:"total"`
	Failed      bool   `json:"failed"`
}

// Metrics receives per-job observations. A nil Metrics disables collection.
type Metrics interface {
	ObserveJob(outcome string, objects int, d time.Duration)
	ObserveObject(err error)
}

type worker struct {
	index int
	wake  chan struct{}

	mu          sync.Mutex
	status      Status
	job         *Job
	description string
	sent        int
	total       int
	failed      bool
}

func (w *worker) snapshot() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := WorkerState{
		Index:       w.index,
		Status:      w.status,
		State:       w.status.String(),
		Description: w.description,
		Sent:        w.sent,
		Total:       w.total,
		Failed:      w.failed,
	}
	if w.job != nil {
		st.JobID = w.job.JobID
		st.DestAE = w.job.DestAE
	}
	return st
}

func (w *worker) setProgress(desc string, sent int) {
	w.mu.Lock()
	w.description = desc
	w.sent = sent
	w.mu.Unlock()
}

func (w *worker) finish(desc string, failed bool) {
	w.mu.Lock()
	w.description = desc
	w.failed = failed
	w.status = Completed
	w.mu.Unlock()
}

// Pool is the SendWorkerPool.
type Pool struct {
	associator dimse.Associator
	workers    []*worker
	metrics    Metrics

	wg        sync.WaitGroup
	stopCh    chan struct{}
	stoppedCh chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewPool creates size send workers that open associations through a.
func NewPool(a dimse.Associator, size int, metrics Metrics) *Pool {
	if size <= 0 {
		size = 1
	}
	p := &Pool{
		associator: a,
		metrics:    metrics,
		workers:    make([]*worker, size),
		stopCh:     make(chan struct{}),
		stoppedCh:  make(chan struct{}),
	}
	for i := range p.workers {
		p.workers[i] = &worker{index: i, wake: make(chan struct{}, 1)}
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Start launches the worker goroutines.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	logger.Info("Starting send pool", "workers", len(p.workers))

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

// Stop waits up to timeout for workers to finish their current job.
func (p *Pool) Stop(timeout time.Duration) {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.stopped = true
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	logger.Info("Stopping send pool")
	close(p.stopCh)

	select {
	case <-p.stoppedCh:
		logger.Info("Send pool stopped")
	case <-time.After(timeout):
		logger.Warn("Send pool stop timed out")
	}
}

// AssignJob hands job to worker i. It fails with ErrWorkerBusy unless the
// worker is Idle.
func (p *Pool) AssignJob(i int, job Job) error {
	if i < 0 || i >= len(p.workers) {
		return fmt.Errorf("send worker %d out of range [0,%d)", i, len(p.workers))
	}
	w := p.workers[i]

	w.mu.Lock()
	if w.status != Idle {
		w.mu.Unlock()
		return ErrWorkerBusy
	}
	j := job
	j.Files = append([]string(nil), job.Files...)
	w.job = &j
	w.status = Pending
	w.sent = 0
	w.total = len(j.Files)
	w.failed = false
	w.description = ""
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

// FirstIdle returns the lowest-indexed Idle worker.
func (p *Pool) FirstIdle() (int, bool) {
	for i, w := range p.workers {
		w.mu.Lock()
		idle := w.status == Idle
		w.mu.Unlock()
		if idle {
			return i, true
		}
	}
	return -1, false
}

// Reset returns a Completed worker to Idle.
func (p *Pool) Reset(i int) error {
	if i < 0 || i >= len(p.workers) {
		return fmt.Errorf("send worker %d out of range [0,%d)", i, len(p.workers))
	}
	w := p.workers[i]
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status != Completed {
		return ErrNotCompleted
	}
	w.status = Idle
	w.job = nil
	w.sent = 0
	w.total = 0
	w.failed = false
	w.description = ""
	return nil
}

// State returns a snapshot of worker i.
func (p *Pool) State(i int) WorkerState {
	return p.workers[i].snapshot()
}

// States returns a snapshot of every worker.
func (p *Pool) States() []WorkerState {
	out := make([]WorkerState, len(p.workers))
	for i, w := range p.workers {
		out[i] = w.snapshot()
	}
	return out
}

func (p *Pool) run(ctx context.Context, w *worker) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case <-w.wake:
		}

		w.mu.Lock()
		if w.status != Pending {
			w.mu.Unlock()
			continue
		}
		w.status = Processing
		job := *w.job
		w.mu.Unlock()

		p.process(ctx, w, job)
	}
}

func (p *Pool) process(ctx context.Context, w *worker, job Job) {
	total := len(job.Files)
	ctx, span := telemetry.StartSendSpan(ctx, job.JobID, job.DestAE, job.DestHost, job.DestPort, total)
	defer span.End()

	lc := logger.NewLogContext("send").WithWorker(w.index).WithJob(job.JobID)
	ctx = logger.WithContext(ctx, lc)
	start := time.Now()

	logger.InfoCtx(ctx, "Starting send job",
		logger.KeyDestAE, job.DestAE,
		logger.KeyDestHost, job.DestHost,
		logger.KeyDestPort, job.DestPort,
		logger.KeyTotal, total)

	assoc, err := p.associator.Associate(ctx, dimse.AssociateRequest{
		CallingAE: job.SelfAE,
		CalledAE:  job.DestAE,
		Host:      job.DestHost,
		Port:      job.DestPort,
	})
	if err != nil {
		err = errkind.Fatal("send.associate", err)
		telemetry.RecordError(ctx, err)
		logger.WarnCtx(ctx, "Could not establish association", logger.Err(err))
		w.finish(DescAssociationFailed, true)
		p.observeJob("association_failed", 0, start)
		return
	}
	defer func() {
		if err := assoc.Release(); err != nil {
			logger.WarnCtx(ctx, "Association release failed", logger.Err(err))
		}
	}()

	for k, path := range job.Files {
		w.setProgress(fmt.Sprintf("Sending object %d/%d.", k+1, total), k)

		err := p.sendFile(ctx, assoc, path)
		if p.metrics != nil {
			p.metrics.ObserveObject(err)
		}
		if err != nil {
			telemetry.RecordError(ctx, err)
			logger.WarnCtx(ctx, "Send job aborted",
				logger.KeyPath, path,
				logger.KeyCount, k,
				logger.KeyTotal, total,
				logger.Err(err))
			w.finish("Failed - "+errors.Unwrap(err).Error(), true)
			p.observeJob("failed", k, start)
			return
		}
		w.setProgress(fmt.Sprintf("Sending object %d/%d.", k+1, total), k+1)
	}

	w.finish(fmt.Sprintf("%d/%d sent.", total, total), false)
	p.observeJob("sent", total, start)
	logger.InfoCtx(ctx, "Send job complete",
		logger.KeyCount, total,
		logger.KeyDurationMs, logger.Duration(start))
}

// sendFile returns a FatalToJob error wrapping the cause.
func (p *Pool) sendFile(ctx context.Context, assoc dimse.Association, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errkind.Fatal("send.read", err)
	}
	if err := assoc.Store(ctx, data); err != nil {
		return errkind.Fatal("send.store", err)
	}
	return nil
}

func (p *Pool) observeJob(outcome string, objects int, start time.Time) {
	if p.metrics != nil {
		p.metrics.ObserveJob(outcome, objects, time.Since(start))
	}
}
