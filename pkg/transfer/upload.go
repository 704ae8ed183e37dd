package transfer

import (
	"context"
	"fmt"
	"os"

	"github.com/marmos91/dicomgw/internal/telemetry"
	"github.com/marmos91/dicomgw/pkg/blob"
)

// UploadItem moves one received instance to the blob store.
type UploadItem struct {
	AssociationID  string
	SOPInstanceUID string
	LocalPath      string
	Key            string
}

// UploadKey is the blob key of an inbound instance.
func UploadKey(edgeID, associationID, sopInstanceUID string) string {
	return fmt.Sprintf("%s/%s/%s.dcm", edgeID, associationID, sopInstanceUID)
}

// UploadPool is the UploadWorkerPool.
type UploadPool struct {
	*Pool[UploadItem]
}

// NewUploadPool creates an upload pool of size workers writing to store.
func NewUploadPool(store blob.Store, size int, metrics Metrics) *UploadPool {
	fn := func(ctx context.Context, item UploadItem) (int64, error) {
		if err := store.Upload(ctx, item.Key, item.LocalPath); err != nil {
			return 0, err
		}
		var n int64
		if info, err := os.Stat(item.LocalPath); err == nil {
			n = info.Size()
		}
		return n, nil
	}
	keyOf := func(item UploadItem) string { return item.Key }
	return &UploadPool{NewPool("upload", telemetry.SpanUpload, size, fn, keyOf, metrics)}
}
