package config

import (
	"context"
	"fmt"

	"github.com/marmos91/dicomgw/pkg/blob"
	blobfs "github.com/marmos91/dicomgw/pkg/blob/fs"
	blobmemory "github.com/marmos91/dicomgw/pkg/blob/memory"
	blobs3 "github.com/marmos91/dicomgw/pkg/blob/s3"
	"github.com/marmos91/dicomgw/pkg/dimse"
	"github.com/marmos91/dicomgw/pkg/gateway"
	"github.com/marmos91/dicomgw/pkg/ledger"
	"github.com/marmos91/dicomgw/pkg/queue"
	queuememory "github.com/marmos91/dicomgw/pkg/queue/memory"
	queuesqs "github.com/marmos91/dicomgw/pkg/queue/sqs"
	"github.com/marmos91/dicomgw/pkg/state"
	"github.com/marmos91/dicomgw/pkg/storage"
)

// CreateBlobStore creates the blob store selected by cfg.Type.
func CreateBlobStore(ctx context.Context, cfg BlobConfig) (blob.Store, error) {
	switch cfg.Type {
	case "s3":
		s, err := blobs3.NewFromConfig(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "fs":
		s, err := blobfs.New(cfg.FS)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		name := cfg.S3.Bucket
		if name == "" {
			name = "memory"
		}
		return blobmemory.New(name), nil
	default:
		return nil, fmt.Errorf("unknown blob store type: %q", cfg.Type)
	}
}

// CreateQueueClient creates the queue client selected by cfg.Type and
// applies the queue name overrides for edgeID.
func CreateQueueClient(ctx context.Context, cfg QueueConfig, edgeID string) (queue.Client, error) {
	var c queue.Client
	switch cfg.Type {
	case "sqs":
		sc, err := queuesqs.NewFromConfig(ctx, cfg.SQS)
		if err != nil {
			return nil, err
		}
		c = sc
	case "memory":
		c = queuememory.New()
	default:
		return nil, fmt.Errorf("unknown queue type: %q", cfg.Type)
	}
	return queue.Renamed(c, cfg.Names.overrides(edgeID)), nil
}

func (n QueueNames) overrides(edgeID string) map[string]string {
	m := make(map[string]string)
	for d, name := range map[queue.Direction]string{
		queue.Inbound:  n.Inbound,
		queue.Outbound: n.Outbound,
		queue.Receiver: n.Receiver,
	} {
		if name != "" {
			m[queue.Name(edgeID, d)] = name
		}
	}
	return m
}

// CreateStateStore opens the StateStore.
func CreateStateStore(cfg *state.Config) (*state.Store, error) {
	return state.New(cfg)
}

// OpenLedger opens the completed-job ledger, or returns nil when it is
// disabled.
func OpenLedger(cfg LedgerConfig) (*ledger.Ledger, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	return ledger.Open(cfg.Config)
}

// CreateMonitor builds the disk-pressure monitor for the work directory.
func CreateMonitor(cfg *Config, metrics storage.Metrics) (*storage.Monitor, error) {
	return storage.NewMonitor(storage.Config{
		Path:            cfg.Edge.Workdir,
		ThrottleMB:      cfg.Storage.ThrottleMB,
		OutOfResourceMB: cfg.Storage.OutOfResourceMB,
		Interval:        cfg.Storage.SampleInterval,
	}, nil, metrics)
}

// OpenStack returns the registered protocol stack.
func OpenStack(cfg DIMSEConfig) (dimse.Stack, error) {
	return dimse.Open(cfg.Stack)
}

// GatewayOptions converts the configuration into engine options.
func GatewayOptions(cfg *Config) gateway.Options {
	o := cfg.Orchestrator
	return gateway.Options{
		EdgeID:                   cfg.Edge.ID,
		AETitle:                  cfg.Edge.AETitle,
		Workdir:                  cfg.Edge.Workdir,
		ListenPort:               cfg.DIMSE.Port,
		MaxAssociations:          cfg.Edge.MaxAssociations,
		Workers:                  cfg.Workers.Count,
		ThrottleDelay:            cfg.Storage.ThrottleDelay,
		UploadBatchSize:          o.UploadBatchSize,
		UploadAssignInterval:     o.UploadAssignInterval,
		UploadCompletionInterval: o.UploadCompletionInterval,
		FetchCompletionInterval:  o.FetchCompletionInterval,
		SendStatusInterval:       o.SendStatusInterval,
		CompletionInterval:       o.CompletionInterval,
		RequeueAfter:             o.RequeueAfter,
		FetchRetryAfter:          o.FetchRetryAfter,
		SendQueueSize:            o.SendQueueSize,
		ForwardedRetention:       cfg.Housekeeping.ForwardedRetention,
		HousekeepingSchedule:     cfg.Housekeeping.Schedule,
		IntakeInterval:           o.IntakeInterval,
		IntakeBatch:              o.IntakeBatch,
		IntakeWait:               o.IntakeWait,
		OrphanAge:                cfg.Housekeeping.OrphanAge,
	}
}
