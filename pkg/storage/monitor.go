// Package storage implements the StorageMonitor, which samples free disk
// space and exposes the throttle and out-of-resource flags used for inbound
// backpressure.
package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/marmos91/dicomgw/internal/logger"
)

const mb = 1024 * 1024

// Pressure is the disk pressure level derived from the last sample.
type Pressure int

const (
	PressureNone Pressure = iota
	PressureThrottle
	PressureOutOfResource
)

func (p Pressure) String() string {
	switch p {
	case PressureThrottle:
		return "throttle"
	case PressureOutOfResource:
		return "out_of_resource"
	default:
		return "none"
	}
}

// Sampler returns the free bytes available to unprivileged users at path.
type Sampler func(path string) (uint64, error)

// DiskSampler reads free space through gopsutil.
func DiskSampler(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// Metrics receives storage observations. A nil Metrics disables reporting.
type Metrics interface {
	SetFreeBytes(bytes uint64)
	SetPressure(p Pressure)
	RecordSampleError()
}

// Config configures a Monitor.
type Config struct {
	// Path is the filesystem sampled, normally the work directory.
	Path string

	// ThrottleMB is the free space below which stores are delayed.
	ThrottleMB uint64

	// OutOfResourceMB is the free space below which stores are refused.
	// Must be lower than ThrottleMB.
	OutOfResourceMB uint64

	Interval time.Duration
}

// Validate checks the threshold ordering.
func (c Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("storage monitor path is required")
	}
	if c.OutOfResourceMB >= c.ThrottleMB {
		return fmt.Errorf("out-of-resource limit (%d MB) must be lower than throttle limit (%d MB)",
			c.OutOfResourceMB, c.ThrottleMB)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("storage monitor interval must be positive")
	}
	return nil
}

// Monitor samples free space on a fixed interval. The flag accessors are
// lock-free reads of the last sample.
type Monitor struct {
	cfg     Config
	sampler Sampler
	metrics Metrics

	throttled     atomic.Bool
	outOfResource atomic.Bool
	freeBytes     atomic.Uint64

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewMonitor creates a Monitor. A nil sampler selects DiskSampler.
func NewMonitor(cfg Config, sampler Sampler, metrics Metrics) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sampler == nil {
		sampler = DiskSampler
	}
	return &Monitor{cfg: cfg, sampler: sampler, metrics: metrics}, nil
}

// Start takes a first sample synchronously, then keeps sampling in the
// background until ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	m.Sample()

	ctx, m.cancel = context.WithCancel(ctx)
	m.stopped = make(chan struct{})
	go m.run(ctx)

	logger.Info("Storage monitor started",
		"path", m.cfg.Path,
		"throttle_mb", m.cfg.ThrottleMB,
		"out_of_resource_mb", m.cfg.OutOfResourceMB,
		"interval", m.cfg.Interval)
}

// Stop halts sampling and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, stopped := m.cancel, m.stopped
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.stopped)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sample()
		}
	}
}

// Sample takes one measurement and updates both flags. On a sampling error
// the previous flags are kept.
func (m *Monitor) Sample() {
	free, err := m.sampler(m.cfg.Path)
	if err != nil {
		logger.Warn("Failed to sample free disk space", "path", m.cfg.Path, logger.KeyError, err)
		if m.metrics != nil {
			m.metrics.RecordSampleError()
		}
		return
	}

	freeMB := free / mb
	prev := m.Pressure()

	m.freeBytes.Store(free)
	m.outOfResource.Store(freeMB < m.cfg.OutOfResourceMB)
	m.throttled.Store(freeMB < m.cfg.ThrottleMB)

	cur := m.Pressure()
	if cur != prev {
		logger.Warn("Disk pressure changed", "from", prev, "to", cur, logger.KeyFreeMB, freeMB)
	}
	if m.metrics != nil {
		m.metrics.SetFreeBytes(free)
		m.metrics.SetPressure(cur)
	}
}

// IsThrottled reports whether free space is below the throttle limit.
func (m *Monitor) IsThrottled() bool {
	return m.throttled.Load()
}

// IsOutOfResource reports whether free space is below the out-of-resource
// limit.
func (m *Monitor) IsOutOfResource() bool {
	return m.outOfResource.Load()
}

// Pressure returns the combined level of the two flags.
func (m *Monitor) Pressure() Pressure {
	switch {
	case m.outOfResource.Load():
		return PressureOutOfResource
	case m.throttled.Load():
		return PressureThrottle
	default:
		return PressureNone
	}
}

// FreeBytes returns the free space seen by the last successful sample.
func (m *Monitor) FreeBytes() uint64 {
	return m.freeBytes.Load()
}
