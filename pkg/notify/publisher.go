// Package notify publishes status and completion notifications to the
// edge's inbound and outbound queues.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/dicomgw/internal/fifo"
	"github.com/marmos91/dicomgw/internal/logger"
	"github.com/marmos91/dicomgw/internal/telemetry"
	"github.com/marmos91/dicomgw/pkg/queue"
)

// Metrics receives publish outcomes. A nil Metrics disables collection.
type Metrics interface {
	ObservePublish(direction string, err error)
	SetBacklog(direction string, n int)
}

// Publisher is the NotificationPublisher of one direction. Messages added
// with AddSendJob are sent by a background loop; a failed publish is logged
// and dropped.
type Publisher struct {
	client    queue.Client
	edgeID    string
	direction queue.Direction
	queueName string
	pending   *fifo.Queue[string]
	metrics   Metrics

	stopCh    chan struct{}
	stoppedCh chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewPublisher creates a publisher bound to the queue of edgeID for dir.
func NewPublisher(client queue.Client, edgeID string, dir queue.Direction, metrics Metrics) *Publisher {
	return &Publisher{
		client:    client,
		edgeID:    edgeID,
		direction: dir,
		queueName: queue.Name(edgeID, dir),
		pending:   fifo.New[string](),
		metrics:   metrics,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// QueueName returns the destination queue.
func (p *Publisher) QueueName() string {
	return p.queueName
}

// Pending returns the number of messages waiting to be published.
func (p *Publisher) Pending() int {
	return p.pending.Len()
}

// AddSendJob enqueues a serialized message. It never blocks.
func (p *Publisher) AddSendJob(payload string) {
	p.pending.Push(payload)
	if p.metrics != nil {
		p.metrics.SetBacklog(string(p.direction), p.pending.Len())
	}
}

// Enqueue serializes n and adds it to the send queue.
func (p *Publisher) Enqueue(n Notification) error {
	payload, err := p.encode(n)
	if err != nil {
		return err
	}
	p.AddSendJob(payload)
	return nil
}

// PublishNow serializes and sends n synchronously. Callers that must not
// lose the message act only on a nil error.
func (p *Publisher) PublishNow(ctx context.Context, n Notification) error {
	payload, err := p.encode(n)
	if err != nil {
		return err
	}
	return p.publish(ctx, payload)
}

func (p *Publisher) encode(n Notification) (string, error) {
	if n.EdgeID == "" {
		n.EdgeID = p.edgeID
	}
	if n.Direction == "" {
		n.Direction = string(p.direction)
	}
	data, err := json.Marshal(n)
	if err != nil {
		return "", fmt.Errorf("encode notification: %w", err)
	}
	return string(data), nil
}

// publish sends payload with a fresh deduplication id.
func (p *Publisher) publish(ctx context.Context, payload string) error {
	ctx, span := telemetry.StartQueueSpan(ctx, telemetry.SpanPublish, p.queueName)
	defer span.End()

	_, err := p.client.Send(ctx, p.queueName, queue.OutgoingMessage{
		Body:            payload,
		Attributes:      map[string]string{queue.AttrEdgeID: p.edgeID},
		GroupID:         p.edgeID,
		DeduplicationID: uuid.NewString(),
	})
	if p.metrics != nil {
		p.metrics.ObservePublish(string(p.direction), err)
	}
	if err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}
	return nil
}

// Start launches the publish loop.
func (p *Publisher) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	logger.Info("Starting notification publisher", logger.KeyQueue, p.queueName)
	go p.run(context.WithoutCancel(ctx))
}

// Stop publishes what is still queued, up to timeout, then exits.
func (p *Publisher) Stop(timeout time.Duration) {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.stopped = true
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.stopCh)
	select {
	case <-p.stoppedCh:
		logger.Info("Notification publisher stopped", logger.KeyQueue, p.queueName)
	case <-time.After(timeout):
		logger.Warn("Notification publisher stop timed out",
			logger.KeyQueue, p.queueName,
			"pending", p.pending.Len())
	}
}

func (p *Publisher) run(ctx context.Context) {
	defer close(p.stoppedCh)

	for {
		payload, ok := p.pending.Pop(p.stopCh)
		if !ok {
			p.drain(ctx)
			return
		}
		p.send(ctx, payload)
	}
}

func (p *Publisher) drain(ctx context.Context) {
	for {
		payload, ok := p.pending.TryPop()
		if !ok {
			return
		}
		p.send(ctx, payload)
	}
}

func (p *Publisher) send(ctx context.Context, payload string) {
	if p.metrics != nil {
		p.metrics.SetBacklog(string(p.direction), p.pending.Len())
	}
	if err := p.publish(ctx, payload); err != nil {
		logger.Warn("Dropping notification after publish failure",
			logger.KeyQueue, p.queueName,
			logger.Err(err))
		return
	}
	logger.Debug("Notification published", logger.KeyQueue, p.queueName)
}
