package sender

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dicomgw/pkg/dimse/loopback"
)

func writeFiles(t *testing.T, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(paths[i], []byte(n), 0644))
	}
	return paths
}

func waitStatus(t *testing.T, p *Pool, i int, want Status) WorkerState {
	t.Helper()
	var st WorkerState
	require.Eventually(t, func() bool {
		st = p.State(i)
		return st.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return st
}

func newPool(t *testing.T, size int) (*Pool, *loopback.Stack) {
	t.Helper()
	stack := loopback.New()
	p := NewPool(stack, size, nil)
	p.Start(context.Background())
	t.Cleanup(func() { p.Stop(time.Second) })
	return p, stack
}

func TestSendJobSuccess(t *testing.T) {
	p, stack := newPool(t, 1)
	files := writeFiles(t, "S1", "S2", "S3")

	require.NoError(t, p.AssignJob(0, Job{JobID: "J0", SelfAE: "EDGE", DestAE: "PACS", DestHost: "pacs", DestPort: 104, Files: files}))

	st := waitStatus(t, p, 0, Completed)
	assert.Equal(t, "J0", st.JobID)
	assert.Equal(t, 3, st.Sent)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, "3/3 sent.", st.Description)
	assert.False(t, st.Failed)

	received := stack.Received("pacs", 104)
	require.Len(t, received, 3)
	assert.Equal(t, "S1", string(received[0]))
	assert.Equal(t, "S3", string(received[2]))
}

func TestSendJobUnreadableFileFailsFast(t *testing.T) {
	p, stack := newPool(t, 1)
	files := writeFiles(t, "S1", "S2")
	require.NoError(t, os.Remove(files[1]))

	require.NoError(t, p.AssignJob(0, Job{JobID: "J1", DestAE: "PACS", DestHost: "pacs", DestPort: 104, Files: files}))

	st := waitStatus(t, p, 0, Completed)
	assert.Equal(t, 1, st.Sent)
	assert.Equal(t, 2, st.Total)
	assert.True(t, st.Failed)
	assert.True(t, strings.HasPrefix(st.Description, "Failed - "), st.Description)
	assert.Len(t, stack.Received("pacs", 104), 1)
}

func TestSendJobStoreFailureStopsRemainingFiles(t *testing.T) {
	p, stack := newPool(t, 1)
	stack.FailStoreAt("pacs", 104, 2)
	files := writeFiles(t, "S1", "S2", "S3")

	require.NoError(t, p.AssignJob(0, Job{JobID: "J2", DestHost: "pacs", DestPort: 104, Files: files}))

	st := waitStatus(t, p, 0, Completed)
	assert.Equal(t, 1, st.Sent)
	assert.True(t, st.Failed)
	assert.Len(t, stack.Received("pacs", 104), 1)
}

func TestAssociationFailure(t *testing.T) {
	p, stack := newPool(t, 1)
	stack.Refuse("down", 104)

	require.NoError(t, p.AssignJob(0, Job{JobID: "J3", DestHost: "down", DestPort: 104, Files: writeFiles(t, "S1")}))

	st := waitStatus(t, p, 0, Completed)
	assert.Equal(t, DescAssociationFailed, st.Description)
	assert.Equal(t, 0, st.Sent)
	assert.Equal(t, 1, st.Total)
}

func TestAssignAndResetTransitions(t *testing.T) {
	p := NewPool(loopback.New(), 2, nil)

	// Not started: the job stays Pending.
	require.NoError(t, p.AssignJob(0, Job{JobID: "J4"}))
	assert.Equal(t, Pending, p.State(0).Status)
	assert.ErrorIs(t, p.AssignJob(0, Job{JobID: "J5"}), ErrWorkerBusy)
	assert.ErrorIs(t, p.Reset(0), ErrNotCompleted)
	assert.ErrorIs(t, p.Reset(1), ErrNotCompleted)

	i, ok := p.FirstIdle()
	require.True(t, ok)
	assert.Equal(t, 1, i)

	p.Start(context.Background())
	defer p.Stop(time.Second)

	st := waitStatus(t, p, 0, Completed)
	assert.Equal(t, "0/0 sent.", st.Description)

	require.NoError(t, p.Reset(0))
	st = p.State(0)
	assert.Equal(t, Idle, st.Status)
	assert.Empty(t, st.JobID)
	assert.Empty(t, st.Description)

	assert.Error(t, p.AssignJob(5, Job{}))
	assert.Error(t, p.Reset(-1))
}

func TestNoIdleWorker(t *testing.T) {
	p := NewPool(loopback.New(), 1, nil)
	require.NoError(t, p.AssignJob(0, Job{}))
	_, ok := p.FirstIdle()
	assert.False(t, ok)
	assert.Equal(t, "pending", p.States()[0].State)
}
