//go:build integration

package s3

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/marmos91/dicomgw/pkg/blob"
	"github.com/marmos91/dicomgw/pkg/errkind"
)

// localstackEndpoint starts Localstack, or reuses LOCALSTACK_ENDPOINT.
func localstackEndpoint(t *testing.T) string {
	t.Helper()
	if endpoint := os.Getenv("LOCALSTACK_ENDPOINT"); endpoint != "" {
		return endpoint
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "localstack/localstack:3.0",
			ExposedPorts: []string{"4566/tcp"},
			Env: map[string]string{
				"SERVICES":       "s3",
				"DEFAULT_REGION": "us-east-1",
			},
			WaitingFor: wait.ForHTTP("/_localstack/health").
				WithPort("4566/tcp").
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4566")
	require.NoError(t, err)
	return fmt.Sprintf("http://%s:%s", host, port.Port())
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	endpoint := localstackEndpoint(t)

	store, err := NewFromConfig(ctx, Config{
		Bucket:          "dicomgw-it",
		Region:          "us-east-1",
		Endpoint:        endpoint,
		ForcePathStyle:  true,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	require.NoError(t, err)

	_, err = store.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String("dicomgw-it")})
	require.NoError(t, err)
	require.NoError(t, store.HealthCheck(ctx))

	dir := t.TempDir()
	src := filepath.Join(dir, "src.dcm")
	require.NoError(t, os.WriteFile(src, []byte("DICM payload"), 0644))

	require.NoError(t, store.Upload(ctx, "edge-1/A1/1.2.3.dcm", src))

	dst := filepath.Join(dir, "dst.dcm")
	require.NoError(t, store.Download(ctx, "edge-1/A1/1.2.3.dcm", dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "DICM payload", string(data))

	err = store.Download(ctx, "edge-1/A1/missing.dcm", filepath.Join(dir, "missing.dcm"))
	assert.ErrorIs(t, err, blob.ErrNotFound)
	assert.Equal(t, errkind.FatalToJob, errkind.KindOf(err))
}
