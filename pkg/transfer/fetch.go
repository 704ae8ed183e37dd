package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/marmos91/dicomgw/internal/telemetry"
	"github.com/marmos91/dicomgw/pkg/blob"
	"github.com/marmos91/dicomgw/pkg/errkind"
)

// FetchItem materializes one requested instance from the blob store.
type FetchItem struct {
	JobID          string
	SOPInstanceUID string
	Key            string
	LocalPath      string
}

// FetchKey is the blob key of an instance under rootDirectory.
func FetchKey(rootDirectory, sopInstanceUID string) string {
	root := strings.TrimSuffix(rootDirectory, "/")
	if root == "" {
		return sopInstanceUID + ".dcm"
	}
	return root + "/" + sopInstanceUID + ".dcm"
}

// FetchPath is the local path of a fetched instance.
func FetchPath(workdir, jobID, studyUID, seriesUID, sopInstanceUID string) string {
	return filepath.Join(workdir, "in", jobID, studyUID, seriesUID, sopInstanceUID+".dcm")
}

// FetchPool is the FetchWorkerPool.
type FetchPool struct {
	*Pool[FetchItem]
}

// NewFetchPool creates a fetch pool of size workers reading from store.
func NewFetchPool(store blob.Store, size int, metrics Metrics) *FetchPool {
	fn := func(ctx context.Context, item FetchItem) (int64, error) {
		if err := os.MkdirAll(filepath.Dir(item.LocalPath), 0755); err != nil {
			return 0, errkind.Transientf("fetch.mkdir", fmt.Errorf("create %s: %w", filepath.Dir(item.LocalPath), err))
		}
		if err := store.Download(ctx, item.Key, item.LocalPath); err != nil {
			return 0, err
		}
		var n int64
		if info, err := os.Stat(item.LocalPath); err == nil {
			n = info.Size()
		}
		return n, nil
	}
	keyOf := func(item FetchItem) string { return item.Key }
	return &FetchPool{NewPool("fetch", telemetry.SpanFetch, size, fn, keyOf, metrics)}
}
