// Package queue defines the durable message queue used for the
// edge/cloud handshake. Backends live in the sqs and memory subpackages.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Direction names one of the three logical channels of an edge.
type Direction string

const (
	// Inbound carries incoming and completion notifications for images
	// received from the local network.
	Inbound Direction = "inbound"

	// Outbound carries send-job status reports.
	Outbound Direction = "outbound"

	// Receiver carries forward requests from the cloud to the edge.
	Receiver Direction = "receiver"
)

// AttrEdgeID is the message attribute that identifies the sending edge.
const AttrEdgeID = "EdgeID"

// ErrQueueClosed is returned by operations on a closed client.
var ErrQueueClosed = errors.New("queue client is closed")

// Name returns the FIFO queue name of an edge for direction.
func Name(edgeID string, d Direction) string {
	return fmt.Sprintf("%s_%s.fifo", edgeID, d)
}

// OutgoingMessage is a message to publish.
type OutgoingMessage struct {
	Body       string
	Attributes map[string]string

	// GroupID orders messages inside a FIFO queue.
	GroupID string

	// DeduplicationID suppresses duplicates inside the queue's dedup window.
	DeduplicationID string
}

// Message is a received message.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
	Attributes    map[string]string
}

// Client sends, receives and acknowledges messages on named queues.
//
// Implementations must be safe for concurrent use.
type Client interface {
	// Send publishes msg to queue and returns the service-assigned id.
	Send(ctx context.Context, queue string, msg OutgoingMessage) (string, error)

	// Receive returns up to max messages, waiting at most wait for the
	// first one to arrive.
	Receive(ctx context.Context, queue string, max int, wait time.Duration) ([]Message, error)

	// Delete acknowledges a received message.
	Delete(ctx context.Context, queue, receiptHandle string) error

	Close() error
}
