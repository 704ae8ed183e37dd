package gateway

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/marmos91/dicomgw/internal/logger"
	"github.com/marmos91/dicomgw/pkg/ledger"
	"github.com/marmos91/dicomgw/pkg/notify"
	"github.com/marmos91/dicomgw/pkg/queue"
	"github.com/marmos91/dicomgw/pkg/sender"
	"github.com/marmos91/dicomgw/pkg/state"
	"github.com/marmos91/dicomgw/pkg/transfer"
)

// JobRecorder remembers jobs whose send finished.
type JobRecorder interface {
	Record(ctx context.Context, e ledger.Entry) error
}

// Orchestrator runs the periodic loops that move work between the
// StateStore and the worker pools. Loops communicate only through the
// store and the pools' queues.
type Orchestrator struct {
	opts        Options
	datastoreID string
	store       *state.Store
	upload      *transfer.UploadPool
	fetch       *transfer.FetchPool
	send        *sender.Pool
	inbound     *notify.Publisher
	outbound    *notify.Publisher
	jobs        JobRecorder
	metrics     Metrics

	uploadRR *transfer.RoundRobin
	fetchRR  *transfer.RoundRobin
	ready    *readyQueue

	// inFlight maps a send worker index to the job it was assigned.
	inFlightMu sync.Mutex
	inFlight   map[int]string

	sweepWG sync.WaitGroup

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator wires the loops. jobs and metrics may be nil.
func NewOrchestrator(
	opts Options,
	datastoreID string,
	store *state.Store,
	upload *transfer.UploadPool,
	fetch *transfer.FetchPool,
	send *sender.Pool,
	inbound, outbound *notify.Publisher,
	jobs JobRecorder,
	metrics Metrics,
) *Orchestrator {
	opts = opts.withDefaults()
	return &Orchestrator{
		opts:        opts,
		datastoreID: datastoreID,
		store:       store,
		upload:      upload,
		fetch:       fetch,
		send:        send,
		inbound:     inbound,
		outbound:    outbound,
		jobs:        jobs,
		metrics:     metrics,
		uploadRR:    transfer.NewRoundRobin(upload.Size()),
		fetchRR:     transfer.NewRoundRobin(fetch.Size()),
		ready:       newReadyQueue(opts.SendQueueSize),
		inFlight:    make(map[int]string),
	}
}

// Start launches every loop.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, o.cancel = context.WithCancel(ctx)

	o.loop(ctx, "upload_assigner", o.opts.UploadAssignInterval, func(ctx context.Context) { o.AssignUploads(ctx) })
	o.loop(ctx, "upload_completion", o.opts.UploadCompletionInterval, func(ctx context.Context) { o.CollectUploads(ctx) })
	o.loop(ctx, "fetch_completion", o.opts.FetchCompletionInterval, func(ctx context.Context) {
		o.CollectFetches(ctx)
		o.AssignSends(ctx)
	})
	o.loop(ctx, "send_status", o.opts.SendStatusInterval, func(ctx context.Context) { o.ReportSendStatus(ctx) })
	o.loop(ctx, "completion", o.opts.CompletionInterval, func(ctx context.Context) { o.DetectCompletions(ctx) })
	if o.opts.FetchRetryAfter > 0 {
		o.loop(ctx, "fetch_rescan", o.opts.FetchRetryAfter/2, func(ctx context.Context) { o.ReofferStaleFetches(ctx) })
	}
}

// Stop cancels the loops, waits for the current ticks and for pending
// work tree deletions.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	o.sweepWG.Wait()
}

func (o *Orchestrator) loop(ctx context.Context, name string, interval time.Duration, tick func(context.Context)) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx := logger.WithContext(ctx, logger.NewLogContext(name))
		logger.Debug("Orchestrator loop started", "loop", name, "interval", interval.String())

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick(ctx)
			}
		}
	}()
}

// AssignUploads claims a batch of Unsent rows and spreads them across the
// upload pool. It returns the number of items enqueued. Stale Queued rows
// are reclaimed only once the pool has drained, so an item still waiting
// behind a slow upload is not offered twice.
func (o *Orchestrator) AssignUploads(ctx context.Context) int {
	requeueAfter := o.opts.RequeueAfter
	if o.upload.Outstanding() > 0 {
		requeueAfter = 0
	}
	rows, err := o.store.ClaimUnsent(ctx, o.opts.UploadBatchSize, requeueAfter)
	if err != nil {
		logger.WarnCtx(ctx, "Upload assignment skipped", logger.Err(err))
		return 0
	}

	n := 0
	for _, row := range rows {
		item := transfer.UploadItem{
			AssociationID:  row.AssociationID,
			SOPInstanceUID: row.SOPInstanceUID,
			LocalPath:      row.Path,
			Key:            transfer.UploadKey(o.opts.EdgeID, row.AssociationID, row.SOPInstanceUID),
		}
		if err := o.upload.AddJob(o.uploadRR.Next(), item); err != nil {
			logger.WarnCtx(ctx, "Could not enqueue upload", logger.SOP(row.SOPInstanceUID), logger.Err(err))
			continue
		}
		n++
	}
	if n > 0 {
		logger.DebugCtx(ctx, "Uploads assigned", logger.KeyCount, n)
	}
	return n
}

// CollectUploads drains every upload worker's completed queue and marks
// the rows Sent.
func (o *Orchestrator) CollectUploads(ctx context.Context) int {
	n := 0
	for i := 0; i < o.upload.Size(); i++ {
		for {
			item, ok := o.upload.PollCompleted(i)
			if !ok {
				break
			}
			changed, err := o.store.MarkSent(ctx, item.AssociationID, item.SOPInstanceUID)
			if err != nil {
				// The row stays Queued and is reclaimed after RequeueAfter.
				logger.WarnCtx(ctx, "Could not mark object sent",
					logger.AssociationID(item.AssociationID),
					logger.SOP(item.SOPInstanceUID),
					logger.Err(err))
				continue
			}
			if changed {
				n++
			}
		}
	}
	return n
}

// CollectFetches drains every fetch worker's completed queue, marks rows
// Fetched and queues jobs whose last object just arrived. Jobs that are
// ready but were never queued, for instance because the queue was full,
// are picked up by a scan.
func (o *Orchestrator) CollectFetches(ctx context.Context) int {
	n := 0
	for i := 0; i < o.fetch.Size(); i++ {
		for {
			item, ok := o.fetch.PollCompleted(i)
			if !ok {
				break
			}
			changed, err := o.store.MarkFetched(ctx, item.JobID, item.SOPInstanceUID)
			if err != nil {
				logger.WarnCtx(ctx, "Could not mark object fetched",
					logger.JobID(item.JobID),
					logger.SOP(item.SOPInstanceUID),
					logger.Err(err))
				continue
			}
			if !changed {
				continue
			}
			n++

			pending, err := o.store.PendingFetchCount(ctx, item.JobID)
			if err != nil {
				logger.WarnCtx(ctx, "Could not count pending fetches", logger.JobID(item.JobID), logger.Err(err))
				continue
			}
			if pending == 0 {
				o.queueReady(ctx, item.JobID)
			}
		}
	}

	if !o.ready.full() {
		ids, err := o.store.ReadyJobs(ctx)
		if err != nil {
			logger.WarnCtx(ctx, "Ready job scan failed", logger.Err(err))
			return n
		}
		for _, id := range ids {
			if !o.Sending(id) {
				o.queueReady(ctx, id)
			}
		}
	}
	return n
}

func (o *Orchestrator) queueReady(ctx context.Context, jobID string) {
	if o.Sending(jobID) {
		return
	}
	if o.ready.push(jobID) {
		logger.InfoCtx(ctx, "Job ready to send", logger.JobID(jobID))
	}
}

// Sending reports whether jobID is assigned to a send worker.
func (o *Orchestrator) Sending(jobID string) bool {
	o.inFlightMu.Lock()
	defer o.inFlightMu.Unlock()
	for _, id := range o.inFlight {
		if id == jobID {
			return true
		}
	}
	return false
}

// AssignSends hands queued ready jobs to idle send workers in FIFO order.
func (o *Orchestrator) AssignSends(ctx context.Context) int {
	n := 0
	for {
		jobID, ok := o.ready.peek()
		if !ok {
			return n
		}
		worker, ok := o.send.FirstIdle()
		if !ok {
			return n
		}

		rows, err := o.store.FetchJobs(ctx, jobID)
		if err != nil {
			logger.WarnCtx(ctx, "Could not load job rows", logger.JobID(jobID), logger.Err(err))
			return n
		}
		if len(rows) == 0 {
			o.ready.pop()
			continue
		}

		job := buildSendJob(o.opts.AETitle, rows)
		// Registered before the worker starts: a fast failure may be
		// reported, and the entry removed, before AssignJob returns.
		o.setInFlight(worker, jobID)
		if err := o.send.AssignJob(worker, job); err != nil {
			o.clearInFlight(worker, jobID)
			logger.WarnCtx(ctx, "Send assignment rejected", logger.JobID(jobID), logger.Worker(worker), logger.Err(err))
			return n
		}
		o.ready.pop()

		if err := o.store.MarkForwarded(ctx, jobID); err != nil {
			logger.WarnCtx(ctx, "Could not mark job forwarded", logger.JobID(jobID), logger.Err(err))
		}
		logger.InfoCtx(ctx, "Send job assigned",
			logger.JobID(jobID),
			logger.Worker(worker),
			logger.KeyCount, len(job.Files))
		n++
	}
}

func (o *Orchestrator) setInFlight(worker int, jobID string) {
	o.inFlightMu.Lock()
	defer o.inFlightMu.Unlock()
	o.inFlight[worker] = jobID
}

// clearInFlight removes the worker's entry if it still names jobID.
func (o *Orchestrator) clearInFlight(worker int, jobID string) {
	o.inFlightMu.Lock()
	defer o.inFlightMu.Unlock()
	if o.inFlight[worker] == jobID {
		delete(o.inFlight, worker)
	}
}

// buildSendJob lists the job's files in row creation order.
func buildSendJob(selfAE string, rows []state.FetchJob) sender.Job {
	first := rows[0]
	job := sender.Job{
		JobID:    first.JobID,
		SelfAE:   selfAE,
		DestAE:   first.DestinationAE,
		DestHost: first.DestinationHost,
		DestPort: first.DestinationPort,
		Files:    make([]string, len(rows)),
	}
	for i, r := range rows {
		job.Files[i] = r.LocalPath
	}
	return job
}

// ReportSendStatus publishes the state of every non-idle send worker and
// resets the Completed ones.
func (o *Orchestrator) ReportSendStatus(ctx context.Context) int {
	n := 0
	for _, st := range o.send.States() {
		if st.Status == sender.Idle {
			continue
		}
		err := o.outbound.Enqueue(notify.Notification{
			JobID:           st.JobID,
			Direction:       string(queue.Outbound),
			Status:          st.State,
			Description:     st.Description,
			ObjectCount:     st.Total,
			ObjectSentCount: st.Sent,
		})
		if err != nil {
			logger.WarnCtx(ctx, "Could not queue send status", logger.JobID(st.JobID), logger.Err(err))
		}
		n++

		if st.Status == sender.Completed {
			o.finishSend(ctx, st)
			if err := o.send.Reset(st.Index); err != nil {
				logger.WarnCtx(ctx, "Send worker reset failed", logger.Worker(st.Index), logger.Err(err))
			}
		}
	}
	return n
}

// finishSend records the job and purges its fetched files. A failed job
// also loses its rows, so a repeated forward request fetches and sends it
// again.
func (o *Orchestrator) finishSend(ctx context.Context, st sender.WorkerState) {
	o.clearInFlight(st.Index, st.JobID)

	if st.Failed {
		if _, err := o.store.DeleteFetchJobs(ctx, st.JobID); err != nil {
			logger.WarnCtx(ctx, "Could not release failed job", logger.JobID(st.JobID), logger.Err(err))
		}
	} else if err := o.store.MarkForwarded(ctx, st.JobID); err != nil {
		logger.WarnCtx(ctx, "Could not mark job forwarded", logger.JobID(st.JobID), logger.Err(err))
	}
	if o.jobs != nil {
		err := o.jobs.Record(ctx, ledger.Entry{
			JobID:       st.JobID,
			Objects:     st.Total,
			Sent:        st.Sent,
			Failed:      st.Failed,
			Description: st.Description,
		})
		if err != nil {
			logger.WarnCtx(ctx, "Could not record finished job", logger.JobID(st.JobID), logger.Err(err))
		}
	}

	dir := filepath.Join(o.opts.Workdir, "in", st.JobID)
	if err := os.RemoveAll(dir); err != nil {
		logger.WarnCtx(ctx, "Could not purge job files", logger.JobID(st.JobID), logger.KeyPath, dir, logger.Err(err))
	}
	logger.InfoCtx(ctx, "Send job finished",
		logger.JobID(st.JobID),
		logger.KeyCount, st.Sent,
		logger.KeyTotal, st.Total,
		"description", st.Description)
}

// DetectCompletions publishes one completion notification per closed,
// fully uploaded association, then deletes its rows and schedules removal
// of its files. Rows are kept when publishing fails so the next tick
// retries.
func (o *Orchestrator) DetectCompletions(ctx context.Context) int {
	ids, err := o.store.CompletedAssociations(ctx)
	if err != nil {
		logger.WarnCtx(ctx, "Completion scan failed", logger.Err(err))
		return 0
	}

	n := 0
	for _, id := range ids {
		rows, err := o.store.ObjectsForAssociation(ctx, id)
		if err != nil || len(rows) == 0 {
			continue
		}

		if err := o.inbound.PublishNow(ctx, completionNotification(o.datastoreID, rows)); err != nil {
			logger.WarnCtx(ctx, "Completion notification failed, will retry", logger.AssociationID(id), logger.Err(err))
			continue
		}

		deleted, err := o.store.DeleteAssociation(ctx, id)
		if err != nil {
			logger.WarnCtx(ctx, "Could not delete completed association", logger.AssociationID(id), logger.Err(err))
			continue
		}
		if deleted == 0 {
			continue
		}

		n++
		if o.metrics != nil {
			o.metrics.ObserveCompletion(len(rows))
		}
		logger.InfoCtx(ctx, "Association relayed", logger.AssociationID(id), logger.KeyCount, len(rows))
		o.removeTreeAsync(filepath.Join(o.opts.Workdir, "out", id))
	}
	return n
}

func completionNotification(datastoreID string, rows []state.IncomingObject) notify.Notification {
	instances := make([]notify.Instance, len(rows))
	for i, r := range rows {
		instances[i] = notify.Instance{StudyUID: r.StudyUID, SeriesUID: r.SeriesUID, SOPInstanceUID: r.SOPInstanceUID}
	}
	return notify.Notification{
		DatastoreID:     datastoreID,
		JobID:           rows[0].AssociationID,
		Direction:       string(queue.Inbound),
		Status:          notify.StatusCompleted,
		Description:     notify.DescSentToIEP,
		ObjectCount:     len(rows),
		ObjectSentCount: len(rows),
		SourceAE:        rows[0].SourceAE,
		DestinationAE:   rows[0].DestinationAE,
		DCMObjs:         notify.BuildTree(instances),
	}
}

func (o *Orchestrator) removeTreeAsync(dir string) {
	o.sweepWG.Add(1)
	go func() {
		defer o.sweepWG.Done()
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("Could not remove association files", logger.KeyPath, dir, logger.Err(err))
		}
	}()
}

// ReofferStaleFetches re-enqueues rows whose fetch never completed.
func (o *Orchestrator) ReofferStaleFetches(ctx context.Context) int {
	rows, err := o.store.ClaimStaleFetches(ctx, time.Now().Add(-o.opts.FetchRetryAfter), o.opts.UploadBatchSize)
	if err != nil {
		logger.WarnCtx(ctx, "Stale fetch scan failed", logger.Err(err))
		return 0
	}
	for _, r := range rows {
		item := transfer.FetchItem{JobID: r.JobID, SOPInstanceUID: r.SOPInstanceUID, Key: r.SourceKey, LocalPath: r.LocalPath}
		if err := o.fetch.AddJob(o.fetchRR.Next(), item); err != nil {
			logger.WarnCtx(ctx, "Could not re-offer fetch", logger.JobID(r.JobID), logger.SOP(r.SOPInstanceUID), logger.Err(err))
		}
	}
	if len(rows) > 0 {
		logger.InfoCtx(ctx, "Re-offered stale fetches", logger.KeyCount, len(rows))
	}
	return len(rows)
}

// ReadyQueueLen returns the number of jobs waiting for a send worker.
func (o *Orchestrator) ReadyQueueLen() int {
	return o.ready.len()
}
