package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dicomgw/pkg/errkind"
	"github.com/marmos91/dicomgw/pkg/queue"
)

func TestSendReceiveDelete(t *testing.T) {
	ctx := context.Background()
	c := New()

	_, err := c.Send(ctx, "q", queue.OutgoingMessage{Body: "a", Attributes: map[string]string{queue.AttrEdgeID: "e"}})
	require.NoError(t, err)
	_, err = c.Send(ctx, "q", queue.OutgoingMessage{Body: "b"})
	require.NoError(t, err)

	msgs, err := c.Receive(ctx, "q", 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "a", msgs[0].Body)
	assert.Equal(t, "e", msgs[0].Attributes[queue.AttrEdgeID])

	// a is in flight; the next receive returns b.
	msgs2, err := c.Receive(ctx, "q", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs2, 1)
	assert.Equal(t, "b", msgs2[0].Body)

	require.NoError(t, c.Delete(ctx, "q", msgs[0].ReceiptHandle))
	assert.Equal(t, 1, c.Len("q"))
	assert.Error(t, c.Delete(ctx, "q", msgs[0].ReceiptHandle))
}

func TestReleaseRedelivers(t *testing.T) {
	ctx := context.Background()
	c := New()
	_, err := c.Send(ctx, "q", queue.OutgoingMessage{Body: "a"})
	require.NoError(t, err)

	_, err = c.Receive(ctx, "q", 10, 0)
	require.NoError(t, err)
	msgs, err := c.Receive(ctx, "q", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	c.Release("q")
	msgs, err = c.Receive(ctx, "q", 10, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestReceiveWaits(t *testing.T) {
	c := New()
	start := time.Now()
	msgs, err := c.Receive(context.Background(), "q", 10, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestFailSends(t *testing.T) {
	c := New()
	c.FailSends(1)
	_, err := c.Send(context.Background(), "q", queue.OutgoingMessage{Body: "a"})
	assert.True(t, errkind.IsRetryable(err))
	_, err = c.Send(context.Background(), "q", queue.OutgoingMessage{Body: "a"})
	assert.NoError(t, err)
}
