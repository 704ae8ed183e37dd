package gateway

import (
	"errors"
	"runtime"
	"time"
)

// Options holds the engine settings resolved from configuration.
type Options struct {
	EdgeID  string
	AETitle string
	Workdir string

	// ListenPort is the inbound DICOM port.
	ListenPort      int
	MaxAssociations int

	// Workers is the size of each of the upload, fetch and send pools.
	Workers int

	// ThrottleDelay is slept before accepting a store while disk pressure
	// is between the two thresholds.
	ThrottleDelay time.Duration

	UploadBatchSize          int
	UploadAssignInterval     time.Duration
	UploadCompletionInterval time.Duration
	FetchCompletionInterval  time.Duration
	SendStatusInterval       time.Duration
	CompletionInterval       time.Duration

	// RequeueAfter is how long an upload may stay Queued before the
	// assigner offers it again.
	RequeueAfter time.Duration

	// FetchRetryAfter is how long an unfetched row waits before being
	// offered to the fetch pool again.
	FetchRetryAfter time.Duration

	// SendQueueSize bounds the ready-job queue feeding the send pool.
	SendQueueSize int

	// ForwardedRetention is how long forwarded FetchJob rows are kept for
	// duplicate detection before housekeeping removes them.
	ForwardedRetention time.Duration

	// HousekeepingSchedule is a cron expression for ledger GC and sweeps.
	HousekeepingSchedule string

	IntakeInterval time.Duration
	IntakeBatch    int
	IntakeWait     time.Duration

	// OrphanAge is the minimum age of an unreferenced work directory
	// before it is swept.
	OrphanAge time.Duration
}

// DefaultOptions returns the stock settings.
func DefaultOptions() Options {
	return Options{
		AETitle:                  "EDGEDEVICE",
		Workdir:                  ".",
		ListenPort:               11112,
		MaxAssociations:          100,
		Workers:                  4 * runtime.NumCPU(),
		ThrottleDelay:            5 * time.Second,
		UploadBatchSize:          1000,
		UploadAssignInterval:     200 * time.Millisecond,
		UploadCompletionInterval: 100 * time.Millisecond,
		FetchCompletionInterval:  100 * time.Millisecond,
		SendStatusInterval:       5 * time.Second,
		CompletionInterval:       time.Second,
		RequeueAfter:             5 * time.Minute,
		FetchRetryAfter:          5 * time.Minute,
		SendQueueSize:            64,
		ForwardedRetention:       24 * time.Hour,
		HousekeepingSchedule:     "@every 10m",
		IntakeInterval:           1500 * time.Millisecond,
		IntakeBatch:              10,
		IntakeWait:               time.Second,
		OrphanAge:                time.Hour,
	}
}

// withDefaults fills zero fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.AETitle == "" {
		o.AETitle = d.AETitle
	}
	if o.Workdir == "" {
		o.Workdir = d.Workdir
	}
	if o.ListenPort == 0 {
		o.ListenPort = d.ListenPort
	}
	if o.MaxAssociations <= 0 {
		o.MaxAssociations = d.MaxAssociations
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.IntakeInterval <= 0 {
		o.IntakeInterval = d.IntakeInterval
	}
	if o.IntakeBatch <= 0 {
		o.IntakeBatch = d.IntakeBatch
	}
	if o.UploadBatchSize <= 0 {
		o.UploadBatchSize = d.UploadBatchSize
	}
	if o.UploadAssignInterval <= 0 {
		o.UploadAssignInterval = d.UploadAssignInterval
	}
	if o.UploadCompletionInterval <= 0 {
		o.UploadCompletionInterval = d.UploadCompletionInterval
	}
	if o.FetchCompletionInterval <= 0 {
		o.FetchCompletionInterval = d.FetchCompletionInterval
	}
	if o.SendStatusInterval <= 0 {
		o.SendStatusInterval = d.SendStatusInterval
	}
	if o.CompletionInterval <= 0 {
		o.CompletionInterval = d.CompletionInterval
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = d.SendQueueSize
	}
	if o.HousekeepingSchedule == "" {
		o.HousekeepingSchedule = d.HousekeepingSchedule
	}
	return o
}

func (o Options) validate() error {
	if o.EdgeID == "" {
		return errors.New("edge id is required")
	}
	if o.ListenPort < 1 || o.ListenPort > 65535 {
		return errors.New("listen port must be between 1 and 65535")
	}
	return nil
}
