// Package memory implements an in-process queue.Client.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/marmos91/dicomgw/pkg/errkind"
	"github.com/marmos91/dicomgw/pkg/queue"
)

type entry struct {
	msg      queue.Message
	inFlight bool
}

// Client keeps one FIFO slice per queue name. Received messages stay in
// the queue, invisible to further receives, until deleted.
type Client struct {
	mu     sync.Mutex
	queues map[string][]*entry
	nextID int
	closed bool

	// sendFailures makes the next n sends fail transiently.
	sendFailures int
}

// New creates an empty client.
func New() *Client {
	return &Client{queues: make(map[string][]*entry)}
}

// FailSends makes the next n Send calls fail.
func (c *Client) FailSends(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendFailures = n
}

func (c *Client) Send(_ context.Context, name string, msg queue.OutgoingMessage) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", queue.ErrQueueClosed
	}
	if c.sendFailures > 0 {
		c.sendFailures--
		return "", errkind.Transientf("memory.send", fmt.Errorf("injected failure for %s", name))
	}

	c.nextID++
	id := strconv.Itoa(c.nextID)
	attrs := make(map[string]string, len(msg.Attributes))
	for k, v := range msg.Attributes {
		attrs[k] = v
	}
	c.queues[name] = append(c.queues[name], &entry{msg: queue.Message{
		ID:            id,
		Body:          msg.Body,
		ReceiptHandle: "rh-" + id,
		Attributes:    attrs,
	}})
	return id, nil
}

func (c *Client) Receive(ctx context.Context, name string, max int, wait time.Duration) ([]queue.Message, error) {
	deadline := time.Now().Add(wait)
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, queue.ErrQueueClosed
		}
		var out []queue.Message
		for _, e := range c.queues[name] {
			if len(out) >= max && max > 0 {
				break
			}
			if !e.inFlight {
				e.inFlight = true
				out = append(out, e.msg)
			}
		}
		c.mu.Unlock()

		if len(out) > 0 || !time.Now().Before(deadline) {
			return out, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (c *Client) Delete(_ context.Context, name, receiptHandle string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.queues[name]
	for i, e := range entries {
		if e.msg.ReceiptHandle == receiptHandle {
			c.queues[name] = append(entries[:i], entries[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("receipt handle %s not found in %s", receiptHandle, name)
}

// Release makes every in-flight message of name visible again, as if its
// visibility timeout expired.
func (c *Client) Release(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.queues[name] {
		e.inFlight = false
	}
}

// Messages returns a copy of every message currently held in name.
func (c *Client) Messages(name string) []queue.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]queue.Message, 0, len(c.queues[name]))
	for _, e := range c.queues[name] {
		out = append(out, e.msg)
	}
	return out
}

// Len returns the number of messages held in name.
func (c *Client) Len(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queues[name])
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

var _ queue.Client = (*Client)(nil)
