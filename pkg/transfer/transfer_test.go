package transfer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dicomgw/pkg/blob/memory"
)

type recordingMetrics struct {
	mu       sync.Mutex
	observed map[string]int
	failed   map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{observed: map[string]int{}, failed: map[string]int{}}
}

func (m *recordingMetrics) ObserveTransfer(op string, _ time.Duration, _ int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observed[op]++
	if err != nil {
		m.failed[op]++
	}
}

func (m *recordingMetrics) SetQueueDepth(string, int) {}

func waitCompleted[T any](t *testing.T, p *Pool[T], worker int) T {
	t.Helper()
	var out T
	require.Eventually(t, func() bool {
		item, ok := p.PollCompleted(worker)
		if ok {
			out = item
		}
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	return out
}

func TestRoundRobin(t *testing.T) {
	rr := NewRoundRobin(3)
	var got []int
	for i := 0; i < 7; i++ {
		got = append(got, rr.Next())
	}
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2, 0}, got)
	assert.Equal(t, 3, rr.Size())

	assert.Equal(t, 0, NewRoundRobin(0).Next())
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "edge-1/A1/1.2.3.dcm", UploadKey("edge-1", "A1", "1.2.3"))
	assert.Equal(t, "studies/x/1.2.3.dcm", FetchKey("studies/x/", "1.2.3"))
	assert.Equal(t, "studies/x/1.2.3.dcm", FetchKey("studies/x", "1.2.3"))
	assert.Equal(t, "1.2.3.dcm", FetchKey("", "1.2.3"))
	assert.Equal(t, filepath.Join("/w", "in", "J1", "ST", "SE", "1.2.dcm"), FetchPath("/w", "J1", "ST", "SE", "1.2"))
}

func TestUploadPool(t *testing.T) {
	store := memory.New("bucket")
	metrics := newRecordingMetrics()
	pool := NewUploadPool(store, 2, metrics)
	pool.Start(context.Background())
	defer pool.Stop(time.Second)

	src := filepath.Join(t.TempDir(), "S1")
	require.NoError(t, os.WriteFile(src, []byte("dicom"), 0644))

	item := UploadItem{AssociationID: "A1", SOPInstanceUID: "S1", LocalPath: src, Key: UploadKey("e", "A1", "S1")}
	require.NoError(t, pool.AddJob(1, item))
	assert.Equal(t, 1, pool.Outstanding())

	done := waitCompleted(t, pool.Pool, 1)
	assert.Equal(t, item, done)
	assert.Equal(t, 0, pool.Outstanding())

	data, ok := store.Get("e/A1/S1.dcm")
	require.True(t, ok)
	assert.Equal(t, "dicom", string(data))

	_, ok = pool.PollCompleted(0)
	assert.False(t, ok)
}

func TestUploadFailureIsNotCompleted(t *testing.T) {
	store := memory.New("bucket")
	metrics := newRecordingMetrics()
	pool := NewUploadPool(store, 1, metrics)
	pool.Start(context.Background())
	defer pool.Stop(time.Second)

	src := filepath.Join(t.TempDir(), "S1")
	require.NoError(t, os.WriteFile(src, []byte("dicom"), 0644))

	store.FailNext("k", 1)
	require.NoError(t, pool.AddJob(0, UploadItem{LocalPath: src, Key: "k"}))

	require.Eventually(t, func() bool {
		return pool.States()[0].Failed == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, pool.Outstanding())

	_, ok := pool.PollCompleted(0)
	assert.False(t, ok, "failed item must not reach the completed queue")

	// A rescan re-offers the item and it now succeeds.
	require.NoError(t, pool.AddJob(0, UploadItem{LocalPath: src, Key: "k"}))
	waitCompleted(t, pool.Pool, 0)

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.Equal(t, 2, metrics.observed["upload"])
	assert.Equal(t, 1, metrics.failed["upload"])
}

func TestFetchPoolCreatesParents(t *testing.T) {
	store := memory.New("bucket")
	store.Put("root/S1.dcm", []byte("fetched"))

	pool := NewFetchPool(store, 1, nil)
	pool.Start(context.Background())
	defer pool.Stop(time.Second)

	dst := FetchPath(t.TempDir(), "J1", "ST", "SE", "S1")
	item := FetchItem{JobID: "J1", SOPInstanceUID: "S1", Key: FetchKey("root", "S1"), LocalPath: dst}
	require.NoError(t, pool.AddJob(0, item))

	assert.Equal(t, item, waitCompleted(t, pool.Pool, 0))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "fetched", string(data))
}

func TestAddJobAfterStop(t *testing.T) {
	pool := NewFetchPool(memory.New("b"), 1, nil)
	pool.Start(context.Background())
	pool.Stop(time.Second)

	assert.ErrorIs(t, pool.AddJob(0, FetchItem{}), ErrPoolStopped)
}

func TestAddJobOutOfRange(t *testing.T) {
	pool := NewFetchPool(memory.New("b"), 2, nil)
	assert.Error(t, pool.AddJob(2, FetchItem{}))
	assert.Error(t, pool.AddJob(-1, FetchItem{}))
	assert.Equal(t, 2, pool.Size())
}
