package queue

import (
	"context"
	"time"
)

// renamed maps logical queue names to configured ones before delegating.
type renamed struct {
	Client
	names map[string]string
}

// Renamed wraps c so that every queue name found in names is replaced by
// its mapped value. Names without an entry pass through unchanged. An
// empty map returns c itself.
func Renamed(c Client, names map[string]string) Client {
	if len(names) == 0 {
		return c
	}
	return &renamed{Client: c, names: names}
}

func (r *renamed) name(queue string) string {
	if n, ok := r.names[queue]; ok && n != "" {
		return n
	}
	return queue
}

func (r *renamed) Send(ctx context.Context, queue string, msg OutgoingMessage) (string, error) {
	return r.Client.Send(ctx, r.name(queue), msg)
}

func (r *renamed) Receive(ctx context.Context, queue string, max int, wait time.Duration) ([]Message, error) {
	return r.Client.Receive(ctx, r.name(queue), max, wait)
}

func (r *renamed) Delete(ctx context.Context, queue, receiptHandle string) error {
	return r.Client.Delete(ctx, r.name(queue), receiptHandle)
}
