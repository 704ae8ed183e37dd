package state

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(&Config{Type: DatabaseTypeSQLite, SQLite: SQLiteConfig{Path: MemoryPath}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func object(assoc, sop string) *IncomingObject {
	return &IncomingObject{
		AssociationID:  assoc,
		SourceAE:       "MODALITY",
		DestinationAE:  "EDGEDEVICE",
		StudyUID:       "ST1",
		SeriesUID:      "SE1",
		SOPInstanceUID: sop,
		Path:           "/work/out/" + assoc + "/" + sop,
	}
}

func fetchJob(job, sop string) *FetchJob {
	return &FetchJob{
		JobID:           job,
		SourceAE:        "EDGEDEVICE",
		DestinationAE:   "PACS",
		DestinationHost: "10.0.0.5",
		DestinationPort: 104,
		StudyUID:        "ST2",
		SeriesUID:       "SE2",
		SOPInstanceUID:  sop,
		LocalPath:       "/work/in/" + job + "/ST2/SE2/" + sop + ".dcm",
		SourceKey:       "root/" + sop + ".dcm",
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	assert.Equal(t, DatabaseTypeSQLite, cfg.Type)
	assert.Equal(t, MemoryPath, cfg.SQLite.Path)
	assert.NoError(t, cfg.Validate())

	pg := &Config{Type: DatabaseTypePostgres}
	pg.ApplyDefaults()
	assert.Equal(t, 5432, pg.Postgres.Port)
	assert.Equal(t, "disable", pg.Postgres.SSLMode)
	assert.Error(t, pg.Validate())

	assert.Error(t, (&Config{Type: "mysql"}).Validate())
}

func TestInsertObjectIgnoresDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inserted, err := s.InsertObject(ctx, object("A1", "S1"))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.InsertObject(ctx, object("A1", "S1"))
	require.NoError(t, err)
	assert.False(t, inserted)

	rows, err := s.ObjectsForAssociation(ctx, "A1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, Unsent, rows[0].Status)
}

func TestClaimUnsentMarksQueuedInOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.InsertObject(ctx, object("A1", fmt.Sprintf("S%d", i)))
		require.NoError(t, err)
	}

	claimed, err := s.ClaimUnsent(ctx, 3, 0)
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	for i, row := range claimed {
		assert.Equal(t, fmt.Sprintf("S%d", i), row.SOPInstanceUID)
		assert.Equal(t, Queued, row.Status)
	}

	claimed, err = s.ClaimUnsent(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)

	claimed, err = s.ClaimUnsent(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.Queued)
	assert.Equal(t, int64(0), stats.Unsent)
	assert.Equal(t, int64(1), stats.Associations)
}

func TestClaimUnsentReclaimsStaleQueued(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertObject(ctx, object("A1", "S1"))
	require.NoError(t, err)

	claimed, err := s.ClaimUnsent(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// Still fresh: not re-offered.
	claimed, err = s.ClaimUnsent(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	old := time.Now().Add(-2 * time.Minute)
	require.NoError(t, s.db.Model(&IncomingObject{}).Where("1 = 1").Update("queued_at", old).Error)

	claimed, err = s.ClaimUnsent(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, Queued, claimed[0].Status)
}

func TestMarkSentIsMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertObject(ctx, object("A1", "S1"))
	require.NoError(t, err)
	_, err = s.ClaimUnsent(ctx, 10, 0)
	require.NoError(t, err)

	changed, err := s.MarkSent(ctx, "A1", "S1")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.MarkSent(ctx, "A1", "S1")
	require.NoError(t, err)
	assert.False(t, changed)

	// A stale reclaim never pulls a Sent row back.
	require.NoError(t, s.db.Model(&IncomingObject{}).Where("1 = 1").Update("queued_at", time.Now().Add(-time.Hour)).Error)
	claimed, err := s.ClaimUnsent(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	rows, err := s.ObjectsForAssociation(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, Sent, rows[0].Status)
}

func TestCompletedAssociationsRequiresFlagAndAllSent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, sop := range []string{"S1", "S2", "S3"} {
		_, err := s.InsertObject(ctx, object("A1", sop))
		require.NoError(t, err)
	}
	_, err := s.InsertObject(ctx, object("A2", "X1"))
	require.NoError(t, err)
	_, err = s.ClaimUnsent(ctx, 10, 0)
	require.NoError(t, err)

	for _, sop := range []string{"S1", "S2", "S3"} {
		_, err := s.MarkSent(ctx, "A1", sop)
		require.NoError(t, err)
	}

	// All sent but not closed yet.
	ids, err := s.CompletedAssociations(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	deleted, err := s.DeleteAssociation(ctx, "A1")
	require.NoError(t, err)
	assert.Zero(t, deleted)

	require.NoError(t, s.MarkAssociationCompleted(ctx, "A1"))
	require.NoError(t, s.MarkAssociationCompleted(ctx, "A2"))

	// A2 is closed but its object is still Queued.
	ids, err = s.CompletedAssociations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A1"}, ids)

	n, err := s.CountNotSent(ctx, "A2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	deleted, err = s.DeleteAssociation(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	deleted, err = s.DeleteAssociation(ctx, "A2")
	require.NoError(t, err)
	assert.Zero(t, deleted)

	ids, err = s.CompletedAssociations(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestUpsertFetchJobIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertFetchJob(ctx, fetchJob("J1", "P1")))
	require.NoError(t, s.UpsertFetchJob(ctx, fetchJob("J1", "P2")))

	changed, err := s.MarkFetched(ctx, "J1", "P1")
	require.NoError(t, err)
	assert.True(t, changed)

	dup := fetchJob("J1", "P1")
	dup.DestinationPort = 11112
	require.NoError(t, s.UpsertFetchJob(ctx, dup))

	rows, err := s.FetchJobs(ctx, "J1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "P1", rows[0].SOPInstanceUID)
	assert.Equal(t, 11112, rows[0].DestinationPort)
	assert.True(t, rows[0].Fetched, "upsert must keep the fetched flag")
	assert.Equal(t, "P2", rows[1].SOPInstanceUID)
}

func TestMarkFetchedFlipsOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertFetchJob(ctx, fetchJob("J1", "P1")))

	changed, err := s.MarkFetched(ctx, "J1", "P1")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.MarkFetched(ctx, "J1", "P1")
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.MarkFetched(ctx, "J1", "missing")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestReadyJobsAndForwarding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, sop := range []string{"P1", "P2"} {
		require.NoError(t, s.UpsertFetchJob(ctx, fetchJob("J1", sop)))
	}
	require.NoError(t, s.UpsertFetchJob(ctx, fetchJob("J2", "Q1")))

	_, err := s.MarkFetched(ctx, "J1", "P1")
	require.NoError(t, err)

	pending, err := s.PendingFetchCount(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	ready, err := s.ReadyJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ready)

	_, err = s.MarkFetched(ctx, "J1", "P2")
	require.NoError(t, err)
	_, err = s.MarkFetched(ctx, "J2", "Q1")
	require.NoError(t, err)

	ready, err = s.ReadyJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"J1", "J2"}, ready)

	require.NoError(t, s.MarkForwarded(ctx, "J1"))
	forwarded, err := s.JobForwarded(ctx, "J1")
	require.NoError(t, err)
	assert.True(t, forwarded)

	ready, err = s.ReadyJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"J2"}, ready)

	deleted, err := s.DeleteForwardedBefore(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}

func TestDeleteFetchJobsAllowsFreshExpansion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertFetchJob(ctx, fetchJob("J1", "P1")))
	require.NoError(t, s.UpsertFetchJob(ctx, fetchJob("J2", "Q1")))
	_, err := s.MarkFetched(ctx, "J1", "P1")
	require.NoError(t, err)
	require.NoError(t, s.MarkForwarded(ctx, "J1"))

	deleted, err := s.DeleteFetchJobs(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	forwarded, err := s.JobForwarded(ctx, "J1")
	require.NoError(t, err)
	assert.False(t, forwarded)

	require.NoError(t, s.UpsertFetchJob(ctx, fetchJob("J1", "P1")))
	pending, err := s.PendingFetchCount(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	rows, err := s.FetchJobs(ctx, "J2")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestClaimStaleFetches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertFetchJob(ctx, fetchJob("J1", "P1")))
	require.NoError(t, s.UpsertFetchJob(ctx, fetchJob("J1", "P2")))
	_, err := s.MarkFetched(ctx, "J1", "P2")
	require.NoError(t, err)

	rows, err := s.ClaimStaleFetches(ctx, time.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = s.ClaimStaleFetches(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "P1", rows[0].SOPInstanceUID)

	// Offered again just now, so not stale relative to a past cutoff.
	rows, err = s.ClaimStaleFetches(ctx, time.Now().Add(-time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestConcurrentCompletions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 50
	for i := 0; i < n; i++ {
		_, err := s.InsertObject(ctx, object("A1", fmt.Sprintf("S%d", i)))
		require.NoError(t, err)
	}
	_, err := s.ClaimUnsent(ctx, n, 0)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changed int
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < n; i++ {
				ok, err := s.MarkSent(ctx, "A1", fmt.Sprintf("S%d", i))
				if err == nil && ok {
					mu.Lock()
					changed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, n, changed, "each row transitions to Sent exactly once")
}

func TestClosedStore(t *testing.T) {
	s, err := New(nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.InsertObject(context.Background(), object("A1", "S1"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertObject(ctx, object("A1", "S1"))
	require.NoError(t, err)
	require.NoError(t, s.UpsertFetchJob(ctx, fetchJob("J1", "P1")))
	require.NoError(t, s.Reset(ctx))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}
