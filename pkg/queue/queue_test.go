package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestName(t *testing.T) {
	assert.Equal(t, "edge-1_inbound.fifo", Name("edge-1", Inbound))
	assert.Equal(t, "edge-1_outbound.fifo", Name("edge-1", Outbound))
	assert.Equal(t, "edge-1_receiver.fifo", Name("edge-1", Receiver))
}

type nameRecorder struct {
	names []string
}

func (n *nameRecorder) Send(_ context.Context, queue string, _ OutgoingMessage) (string, error) {
	n.names = append(n.names, queue)
	return "id", nil
}

func (n *nameRecorder) Receive(_ context.Context, queue string, _ int, _ time.Duration) ([]Message, error) {
	n.names = append(n.names, queue)
	return nil, nil
}

func (n *nameRecorder) Delete(_ context.Context, queue, _ string) error {
	n.names = append(n.names, queue)
	return nil
}

func (n *nameRecorder) Close() error { return nil }

func TestRenamed(t *testing.T) {
	rec := &nameRecorder{}
	assert.Same(t, Client(rec), Renamed(rec, nil))

	c := Renamed(rec, map[string]string{
		Name("edge", Inbound):  "custom-in.fifo",
		Name("edge", Receiver): "",
	})
	ctx := context.Background()

	_, _ = c.Send(ctx, Name("edge", Inbound), OutgoingMessage{})
	_, _ = c.Receive(ctx, Name("edge", Receiver), 1, 0)
	_ = c.Delete(ctx, Name("edge", Outbound), "h")

	assert.Equal(t, []string{"custom-in.fifo", "edge_receiver.fifo", "edge_outbound.fifo"}, rec.names)
}
