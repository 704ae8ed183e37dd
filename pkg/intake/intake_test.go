package intake

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	blobmem "github.com/marmos91/dicomgw/pkg/blob/memory"
	"github.com/marmos91/dicomgw/pkg/errkind"
	"github.com/marmos91/dicomgw/pkg/ledger"
	"github.com/marmos91/dicomgw/pkg/queue"
	queuemem "github.com/marmos91/dicomgw/pkg/queue/memory"
	"github.com/marmos91/dicomgw/pkg/state"
	"github.com/marmos91/dicomgw/pkg/transfer"
)

const requestJ1 = `{
  "jobId": "J1",
  "sourceAE": "IEP",
  "destinationAE": "PACS",
  "destinationHostname": "10.0.0.5",
  "destinationPort": 104,
  "DCMObjs": [{
    "studyInstanceUID": "ST2",
    "series": [{
      "seriesInstanceUID": "SE2",
      "SOPs": [
        {"sopInstanceUID": "S1", "rootDirectory": "datastore/ST2/SE2"},
        {"sopInstanceUID": "S2", "rootDirectory": "datastore/ST2/SE2/"}
      ]
    }]
  }]
}`

type fixture struct {
	intake *Intake
	client *queuemem.Client
	store  *state.Store
	blobs  *blobmem.Store
	fetch  *transfer.FetchPool
	ledger *ledger.Ledger
	dir    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := state.New(&state.Config{Type: state.DatabaseTypeSQLite, SQLite: state.SQLiteConfig{Path: state.MemoryPath}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	l, err := ledger.Open(ledger.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	blobs := blobmem.New("bucket")
	fetch := transfer.NewFetchPool(blobs, 2, nil)
	client := queuemem.New()
	dir := t.TempDir()

	in := New(Config{EdgeID: "edge", Workdir: dir, Batch: 10}, client, st, fetch, l, nil)
	return &fixture{intake: in, client: client, store: st, blobs: blobs, fetch: fetch, ledger: l, dir: dir}
}

func (f *fixture) send(t *testing.T, body string) {
	t.Helper()
	_, err := f.client.Send(context.Background(), f.intake.QueueName(), queue.OutgoingMessage{Body: body})
	require.NoError(t, err)
}

func TestParseForwardRequest(t *testing.T) {
	req, err := ParseForwardRequest(requestJ1)
	require.NoError(t, err)
	assert.Equal(t, "J1", req.JobID)
	assert.Equal(t, Port(104), req.DestinationPort)

	leaves := req.Leaves()
	require.Len(t, leaves, 2)
	assert.Equal(t, Leaf{StudyUID: "ST2", SeriesUID: "SE2", SOPInstanceUID: "S1", RootDirectory: "datastore/ST2/SE2"}, leaves[0])
}

func TestParsePortAsString(t *testing.T) {
	req, err := ParseForwardRequest(`{"jobId":"J","destinationAE":"P","destinationHostname":"h","destinationPort":"11112",
		"DCMObjs":[{"studyInstanceUID":"a","series":[{"seriesInstanceUID":"b","SOPs":[{"sopInstanceUID":"c"}]}]}]}`)
	require.NoError(t, err)
	assert.Equal(t, Port(11112), req.DestinationPort)
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"missing job id", `{"destinationAE":"P","destinationHostname":"h","destinationPort":104,"DCMObjs":[{"studyInstanceUID":"a","series":[{"seriesInstanceUID":"b","SOPs":[{"sopInstanceUID":"c"}]}]}]}`},
		{"bad port", `{"jobId":"J","destinationAE":"P","destinationHostname":"h","destinationPort":"x","DCMObjs":[]}`},
		{"port out of range", `{"jobId":"J","destinationAE":"P","destinationHostname":"h","destinationPort":70000,"DCMObjs":[{"studyInstanceUID":"a","series":[{"seriesInstanceUID":"b","SOPs":[{"sopInstanceUID":"c"}]}]}]}`},
		{"no objects", `{"jobId":"J","destinationAE":"P","destinationHostname":"h","destinationPort":104,"DCMObjs":[]}`},
		{"empty sop uid", `{"jobId":"J","destinationAE":"P","destinationHostname":"h","destinationPort":104,"DCMObjs":[{"studyInstanceUID":"a","series":[{"seriesInstanceUID":"b","SOPs":[{"sopInstanceUID":""}]}]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseForwardRequest(tt.body)
			require.Error(t, err)
			assert.Equal(t, errkind.MalformedInput, errkind.KindOf(err))
		})
	}
}

func TestPollExpandsRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.send(t, requestJ1)

	n, err := f.intake.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, f.client.Len(f.intake.QueueName()))

	rows, err := f.store.FetchJobs(ctx, "J1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "S1", rows[0].SOPInstanceUID)
	assert.Equal(t, "datastore/ST2/SE2/S1.dcm", rows[0].SourceKey)
	assert.Equal(t, "datastore/ST2/SE2/S2.dcm", rows[1].SourceKey)
	assert.Equal(t, filepath.Join(f.dir, "in", "J1", "ST2", "SE2", "S1.dcm"), rows[0].LocalPath)
	assert.Equal(t, 104, rows[0].DestinationPort)

	// Round robin across both fetch workers.
	states := f.fetch.States()
	assert.Equal(t, 1, states[0].Queued)
	assert.Equal(t, 1, states[1].Queued)
}

func TestRedeliveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.send(t, requestJ1)
	f.send(t, requestJ1)

	n, err := f.intake.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := f.store.FetchJobs(ctx, "J1")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestMalformedMessageIsDeleted(t *testing.T) {
	f := newFixture(t)
	f.send(t, `not json`)
	f.send(t, requestJ1)

	n, err := f.intake.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, f.client.Len(f.intake.QueueName()))
}

func TestCompletedJobIsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.ledger.Record(ctx, ledger.Entry{JobID: "J1"}))
	f.send(t, requestJ1)

	n, err := f.intake.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := f.store.FetchJobs(ctx, "J1")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFailedJobIsExpandedAgain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.ledger.Record(ctx, ledger.Entry{JobID: "J1", Failed: true}))
	f.send(t, requestJ1)

	n, err := f.intake.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := f.store.FetchJobs(ctx, "J1")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestStoreFailureKeepsMessage(t *testing.T) {
	f := newFixture(t)
	f.send(t, requestJ1)
	require.NoError(t, f.store.Close())

	n, err := f.intake.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, f.client.Len(f.intake.QueueName()))
}

func TestLoopFetchesFiles(t *testing.T) {
	f := newFixture(t)
	f.blobs.Put("datastore/ST2/SE2/S1.dcm", []byte("one"))
	f.blobs.Put("datastore/ST2/SE2/S2.dcm", []byte("two"))

	ctx := context.Background()
	f.fetch.Start(ctx)
	defer f.fetch.Stop(time.Second)

	f.intake.cfg.Interval = 10 * time.Millisecond
	f.intake.Start(ctx)
	defer f.intake.Stop()
	f.send(t, requestJ1)

	path := filepath.Join(f.dir, "in", "J1", "ST2", "SE2", "S2.dcm")
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}
