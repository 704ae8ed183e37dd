package gateway

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/dicomgw/internal/logger"
	"github.com/marmos91/dicomgw/internal/telemetry"
	"github.com/marmos91/dicomgw/pkg/blob"
	"github.com/marmos91/dicomgw/pkg/dimse"
	"github.com/marmos91/dicomgw/pkg/errkind"
	"github.com/marmos91/dicomgw/pkg/notify"
	"github.com/marmos91/dicomgw/pkg/state"
)

// Pressure reports disk pressure to the store handler.
type Pressure interface {
	IsThrottled() bool
	IsOutOfResource() bool
}

// Metrics receives inbound and orchestration observations. A nil Metrics
// disables collection.
type Metrics interface {
	ObserveStore(status dimse.Status, d time.Duration)
	ObserveThrottle()
	SetActiveAssociations(n int)
	ObserveCompletion(objects int)
}

type activeAssociation struct {
	peer    dimse.Peer
	refused bool
	seen    bool
}

// Handler receives inbound protocol events: it writes each stored object
// under <workdir>/out/<associationId>/ and records it as Unsent.
type Handler struct {
	opts     Options
	store    *state.Store
	pressure Pressure
	inbound  *notify.Publisher
	metrics  Metrics
	sleep    func(ctx context.Context, d time.Duration)

	mu     sync.Mutex
	active map[string]*activeAssociation
}

// NewHandler creates the inbound handler.
func NewHandler(opts Options, store *state.Store, pressure Pressure, inbound *notify.Publisher, metrics Metrics) *Handler {
	return &Handler{
		opts:     opts.withDefaults(),
		store:    store,
		pressure: pressure,
		inbound:  inbound,
		metrics:  metrics,
		sleep:    sleepCtx,
		active:   make(map[string]*activeAssociation),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// ActiveAssociations returns the number of open inbound associations.
func (h *Handler) ActiveAssociations() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.active)
}

func (h *Handler) reportActive() {
	if h.metrics != nil {
		h.metrics.SetActiveAssociations(h.ActiveAssociations())
	}
}

// OnAssociationAccepted assigns a fresh association id. Associations past
// MaxAssociations are tracked but every store on them is refused.
func (h *Handler) OnAssociationAccepted(ctx context.Context, peer dimse.Peer) string {
	id := uuid.NewString()

	h.mu.Lock()
	refused := len(h.active) >= h.opts.MaxAssociations
	h.active[id] = &activeAssociation{peer: peer, refused: refused}
	h.mu.Unlock()
	h.reportActive()

	ctx = logger.WithContext(ctx, logger.NewLogContext("inbound").WithAssociation(id))
	if refused {
		logger.WarnCtx(ctx, "Association limit reached, stores will be refused",
			logger.KeyCallingAE, peer.CallingAE,
			"max_associations", h.opts.MaxAssociations)
	} else {
		logger.InfoCtx(ctx, "Association accepted",
			logger.KeyCallingAE, peer.CallingAE,
			logger.KeyCalledAE, peer.CalledAE,
			"remote_addr", peer.RemoteAddr)
	}
	return id
}

// OnStore handles one C-STORE.
func (h *Handler) OnStore(ctx context.Context, ev dimse.StoreEvent) dimse.Status {
	start := time.Now()
	status := h.handleStore(ctx, ev)
	if h.metrics != nil {
		h.metrics.ObserveStore(status, time.Since(start))
	}
	return status
}

func (h *Handler) handleStore(ctx context.Context, ev dimse.StoreEvent) dimse.Status {
	ctx, span := telemetry.StartStoreSpan(ctx, ev.AssociationID, ev.SOPInstanceUID)
	defer span.End()
	ctx = logger.WithContext(ctx, logger.NewLogContext("inbound").WithAssociation(ev.AssociationID))

	if h.pressure != nil && h.pressure.IsOutOfResource() {
		logger.WarnCtx(ctx, "Refusing store, out of disk space", logger.SOP(ev.SOPInstanceUID))
		return dimse.StatusOutOfResources
	}

	first, refused := h.track(ev)
	if refused {
		logger.WarnCtx(ctx, "Refusing store on association over limit", logger.SOP(ev.SOPInstanceUID))
		return dimse.StatusOutOfResources
	}

	if h.pressure != nil && h.pressure.IsThrottled() && h.opts.ThrottleDelay > 0 {
		logger.InfoCtx(ctx, "Disk pressure, delaying store", "delay", h.opts.ThrottleDelay.String())
		if h.metrics != nil {
			h.metrics.ObserveThrottle()
		}
		h.sleep(ctx, h.opts.ThrottleDelay)
	}

	path, err := h.writeObject(ev)
	if err != nil {
		err = errkind.Transientf("inbound.write", err)
		telemetry.RecordError(ctx, err)
		logger.ErrorCtx(ctx, "Could not write received object", logger.SOP(ev.SOPInstanceUID), logger.Err(err))
		return dimse.StatusProcessingFailure
	}

	_, err = h.store.InsertObject(ctx, &state.IncomingObject{
		AssociationID:  ev.AssociationID,
		SourceAE:       ev.CallingAE,
		DestinationAE:  ev.CalledAE,
		StudyUID:       ev.StudyUID,
		SeriesUID:      ev.SeriesUID,
		SOPInstanceUID: ev.SOPInstanceUID,
		Path:           path,
		Status:         state.Unsent,
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		logger.ErrorCtx(ctx, "Could not record received object", logger.SOP(ev.SOPInstanceUID), logger.Err(err))
		return dimse.StatusProcessingFailure
	}

	if first {
		h.notifyIncoming(ctx, ev)
	}

	logger.DebugCtx(ctx, "Object received",
		logger.SOP(ev.SOPInstanceUID),
		logger.KeyStudyUID, ev.StudyUID,
		logger.KeySeriesUID, ev.SeriesUID,
		logger.KeySize, len(ev.Data))
	return dimse.StatusSuccess
}

// track registers the association on its first store. It reports whether
// this is the first store and whether the association is refused.
func (h *Handler) track(ev dimse.StoreEvent) (first, refused bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	a, ok := h.active[ev.AssociationID]
	if !ok {
		a = &activeAssociation{
			peer:    dimse.Peer{CallingAE: ev.CallingAE, CalledAE: ev.CalledAE},
			refused: len(h.active) >= h.opts.MaxAssociations,
		}
		h.active[ev.AssociationID] = a
	}
	if a.refused {
		return false, true
	}
	if a.seen {
		return false, false
	}
	a.seen = true
	return true, false
}

func (h *Handler) writeObject(ev dimse.StoreEvent) (string, error) {
	if ev.AssociationID == "" || ev.SOPInstanceUID == "" {
		return "", fmt.Errorf("store event without association or instance uid")
	}
	dir := filepath.Join(h.opts.Workdir, "out", ev.AssociationID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	path := filepath.Join(dir, filepath.Base(ev.SOPInstanceUID))
	if err := blob.WriteFileAtomic(path, bytes.NewReader(ev.Data)); err != nil {
		return "", err
	}
	return path, nil
}

func (h *Handler) notifyIncoming(ctx context.Context, ev dimse.StoreEvent) {
	if h.inbound == nil {
		return
	}
	err := h.inbound.Enqueue(notify.Notification{
		JobID:         ev.AssociationID,
		Status:        notify.StatusIncoming,
		Description:   notify.DescAcquiring,
		SourceAE:      ev.CallingAE,
		DestinationAE: ev.CalledAE,
	})
	if err != nil {
		logger.WarnCtx(ctx, "Could not queue incoming notification", logger.Err(err))
	}
}

// OnAssociationReleased closes the association; its objects become
// eligible for completion once all are uploaded.
func (h *Handler) OnAssociationReleased(ctx context.Context, associationID string) {
	h.close(ctx, associationID, "released")
}

// OnAssociationAborted closes the association like a release. Objects
// already received are still relayed.
func (h *Handler) OnAssociationAborted(ctx context.Context, associationID string) {
	h.close(ctx, associationID, "aborted")
}

func (h *Handler) close(ctx context.Context, associationID, how string) {
	h.mu.Lock()
	delete(h.active, associationID)
	h.mu.Unlock()
	h.reportActive()

	ctx = logger.WithContext(ctx, logger.NewLogContext("inbound").WithAssociation(associationID))
	if err := h.store.MarkAssociationCompleted(ctx, associationID); err != nil {
		logger.ErrorCtx(ctx, "Could not mark association completed", logger.Err(err))
		return
	}
	logger.InfoCtx(ctx, "Association closed", "how", how)
}

var _ dimse.Handler = (*Handler)(nil)

// IsActive reports whether associationID is still open.
func (h *Handler) IsActive(associationID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.active[associationID]
	return ok
}
