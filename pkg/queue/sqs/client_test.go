package sqs

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dicomgw/pkg/queue"
)

func TestAttributeConversion(t *testing.T) {
	assert.Nil(t, toAttributes(nil))
	assert.Nil(t, fromAttributes(nil))

	attrs := toAttributes(map[string]string{queue.AttrEdgeID: "edge-1"})
	require.Contains(t, attrs, queue.AttrEdgeID)
	assert.Equal(t, "String", aws.ToString(attrs[queue.AttrEdgeID].DataType))

	back := fromAttributes(map[string]types.MessageAttributeValue{
		queue.AttrEdgeID: {DataType: aws.String("String"), StringValue: aws.String("edge-1")},
		"Binary":         {DataType: aws.String("Binary"), BinaryValue: []byte{1}},
	})
	assert.Equal(t, map[string]string{queue.AttrEdgeID: "edge-1"}, back)
}

func TestClosedClient(t *testing.T) {
	c, err := NewFromConfig(context.Background(), Config{
		Region:          "us-east-1",
		Endpoint:        "http://127.0.0.1:1",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = c.Send(context.Background(), "q.fifo", queue.OutgoingMessage{Body: "{}"})
	assert.ErrorIs(t, err, queue.ErrQueueClosed)
	assert.ErrorIs(t, c.Delete(context.Background(), "q.fifo", "r"), queue.ErrQueueClosed)
}
