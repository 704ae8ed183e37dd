package config

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	blobfs "github.com/marmos91/dicomgw/pkg/blob/fs"
	_ "github.com/marmos91/dicomgw/pkg/dimse/loopback"
	"github.com/marmos91/dicomgw/pkg/queue"
	queuememory "github.com/marmos91/dicomgw/pkg/queue/memory"
)

func TestCreateBlobStore(t *testing.T) {
	ctx := context.Background()

	s, err := CreateBlobStore(ctx, BlobConfig{Type: "memory"})
	require.NoError(t, err)
	assert.Equal(t, "memory", s.Name())

	root := filepath.Join(t.TempDir(), "blobs")
	s, err = CreateBlobStore(ctx, BlobConfig{Type: "fs", FS: blobfs.Config{Root: root, CreateDir: true}})
	require.NoError(t, err)
	assert.NoError(t, s.HealthCheck(ctx))
	assert.DirExists(t, root)

	_, err = CreateBlobStore(ctx, BlobConfig{Type: "gcs"})
	assert.Error(t, err)
}

func TestCreateQueueClientAppliesNameOverrides(t *testing.T) {
	ctx := context.Background()
	c, err := CreateQueueClient(ctx, QueueConfig{
		Type:  "memory",
		Names: QueueNames{Receiver: "requests.fifo"},
	}, "edge")
	require.NoError(t, err)

	_, err = c.Send(ctx, queue.Name("edge", queue.Receiver), queue.OutgoingMessage{Body: "x"})
	require.NoError(t, err)

	msgs, err := c.Receive(ctx, "requests.fifo", 1, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	plain, err := CreateQueueClient(ctx, QueueConfig{Type: "memory"}, "edge")
	require.NoError(t, err)
	assert.IsType(t, &queuememory.Client{}, plain)

	_, err = CreateQueueClient(ctx, QueueConfig{Type: "kafka"}, "edge")
	assert.Error(t, err)
}

func TestOpenLedger(t *testing.T) {
	l, err := OpenLedger(LedgerConfig{})
	require.NoError(t, err)
	assert.Nil(t, l, "disabled")

	cfg := LedgerConfig{Enabled: true}
	cfg.Path = filepath.Join(t.TempDir(), "ledger")
	l, err = OpenLedger(cfg)
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.NoError(t, l.Close())
}

func TestCreateMonitorRejectsInvertedThresholds(t *testing.T) {
	cfg := validConfig()
	cfg.Edge.Workdir = t.TempDir()

	_, err := CreateMonitor(cfg, nil)
	require.NoError(t, err)

	cfg.Storage.OutOfResourceMB = cfg.Storage.ThrottleMB + 1
	_, err = CreateMonitor(cfg, nil)
	assert.Error(t, err)
}

func TestOpenStack(t *testing.T) {
	s, err := OpenStack(DIMSEConfig{Stack: "loopback"})
	require.NoError(t, err)
	assert.NotNil(t, s)

	_, err = OpenStack(DIMSEConfig{Stack: "nope"})
	assert.Error(t, err)
}

func TestGatewayOptions(t *testing.T) {
	cfg := validConfig()
	cfg.Workers.Count = 3
	cfg.DIMSE.Port = 104
	cfg.Orchestrator.SendStatusInterval = 2 * time.Second
	cfg.Housekeeping.Schedule = "@hourly"

	o := GatewayOptions(cfg)
	assert.Equal(t, "edge", o.EdgeID)
	assert.Equal(t, "EDGEDEVICE", o.AETitle)
	assert.Equal(t, 104, o.ListenPort)
	assert.Equal(t, 3, o.Workers)
	assert.Equal(t, 5*time.Second, o.ThrottleDelay)
	assert.Equal(t, 1000, o.UploadBatchSize)
	assert.Equal(t, 2*time.Second, o.SendStatusInterval)
	assert.Equal(t, "@hourly", o.HousekeepingSchedule)
	assert.Equal(t, 10, o.IntakeBatch)
}
