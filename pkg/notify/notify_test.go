package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dicomgw/pkg/queue"
	"github.com/marmos91/dicomgw/pkg/queue/memory"
)

func TestBuildTree(t *testing.T) {
	tree := BuildTree([]Instance{
		{StudyUID: "ST1", SeriesUID: "SE1", SOPInstanceUID: "S1"},
		{StudyUID: "ST1", SeriesUID: "SE2", SOPInstanceUID: "S2"},
		{StudyUID: "ST1", SeriesUID: "SE1", SOPInstanceUID: "S3"},
		{StudyUID: "ST2", SeriesUID: "SE1", SOPInstanceUID: "S4"},
	})

	require.Len(t, tree, 2)
	assert.Equal(t, "ST1", tree[0].StudyInstanceUID)
	require.Len(t, tree[0].Series, 2)
	assert.Equal(t, "SE1", tree[0].Series[0].SeriesInstanceUID)
	assert.Equal(t, []SOP{{"S1"}, {"S3"}}, tree[0].Series[0].SOPs)
	assert.Equal(t, []SOP{{"S2"}}, tree[0].Series[1].SOPs)

	// Same series UID under another study is a distinct series.
	require.Len(t, tree[1].Series, 1)
	assert.Equal(t, []SOP{{"S4"}}, tree[1].Series[0].SOPs)

	assert.Nil(t, BuildTree(nil))
}

func TestNotificationJSON(t *testing.T) {
	data, err := json.Marshal(Notification{
		EdgeID:          "edge",
		JobID:           "A1",
		Direction:       "inbound",
		Status:          StatusCompleted,
		ObjectCount:     1,
		ObjectSentCount: 1,
		DCMObjs:         BuildTree([]Instance{{"ST", "SE", "S"}}),
	})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "edge", raw["EdgeId"])
	assert.Equal(t, "A1", raw["JobId"])
	assert.NotContains(t, raw, "DatastoreId")

	study := raw["DCMObjs"].([]any)[0].(map[string]any)
	assert.Equal(t, "ST", study["studyInstanceUID"])
	series := study["series"].([]any)[0].(map[string]any)
	assert.Equal(t, "SE", series["seriesInstanceUID"])
	sop := series["SOPs"].([]any)[0].(map[string]any)
	assert.Equal(t, "S", sop["sopInstanceUID"])
}

func TestPublisherLoop(t *testing.T) {
	client := memory.New()
	p := NewPublisher(client, "edge", queue.Outbound, nil)
	assert.Equal(t, "edge_outbound.fifo", p.QueueName())

	p.Start(context.Background())
	require.NoError(t, p.Enqueue(Notification{JobID: "J1", Status: "processing"}))

	require.Eventually(t, func() bool { return client.Len("edge_outbound.fifo") == 1 }, time.Second, 5*time.Millisecond)
	p.Stop(time.Second)

	msg := client.Messages("edge_outbound.fifo")[0]
	assert.Equal(t, "edge", msg.Attributes[queue.AttrEdgeID])

	var n Notification
	require.NoError(t, json.Unmarshal([]byte(msg.Body), &n))
	assert.Equal(t, "edge", n.EdgeID)
	assert.Equal(t, "outbound", n.Direction)
	assert.Equal(t, "J1", n.JobID)
}

func TestPublisherDropsOnFailure(t *testing.T) {
	client := memory.New()
	client.FailSends(1)
	p := NewPublisher(client, "edge", queue.Inbound, nil)

	p.AddSendJob(`{"n":1}`)
	p.AddSendJob(`{"n":2}`)
	assert.Equal(t, 2, p.Pending())

	p.Start(context.Background())
	require.Eventually(t, func() bool { return p.Pending() == 0 && client.Len("edge_inbound.fifo") == 1 },
		time.Second, 5*time.Millisecond)
	p.Stop(time.Second)

	assert.Equal(t, `{"n":2}`, client.Messages("edge_inbound.fifo")[0].Body)
}

func TestStopDrainsQueue(t *testing.T) {
	client := memory.New()
	p := NewPublisher(client, "edge", queue.Inbound, nil)
	p.Start(context.Background())
	p.Stop(time.Second)

	// Stopped publisher never sends; a fresh one drains on stop.
	p2 := NewPublisher(client, "edge", queue.Inbound, nil)
	for i := 0; i < 5; i++ {
		p2.AddSendJob("m")
	}
	p2.Start(context.Background())
	p2.Stop(time.Second)
	assert.Equal(t, 5, client.Len("edge_inbound.fifo"))
}

func TestPublishNow(t *testing.T) {
	client := memory.New()
	p := NewPublisher(client, "edge", queue.Inbound, nil)

	require.NoError(t, p.PublishNow(context.Background(), Notification{JobID: "A1"}))
	assert.Equal(t, 1, client.Len("edge_inbound.fifo"))

	client.FailSends(1)
	assert.Error(t, p.PublishNow(context.Background(), Notification{JobID: "A2"}))
	assert.Equal(t, 1, client.Len("edge_inbound.fifo"))
}
