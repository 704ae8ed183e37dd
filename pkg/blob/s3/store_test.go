package s3

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dicomgw/pkg/blob"
)

func TestIsNotFoundError(t *testing.T) {
	assert.False(t, isNotFoundError(nil))
	assert.True(t, isNotFoundError(&types.NoSuchKey{}))
	assert.True(t, isNotFoundError(fmt.Errorf("wrapped: %w", &types.NotFound{})))
	assert.True(t, isNotFoundError(errors.New("api error NoSuchKey: The specified key does not exist.")))
	assert.False(t, isNotFoundError(errors.New("connection refused")))
}

func TestNewFromConfigRequiresBucket(t *testing.T) {
	_, err := NewFromConfig(context.Background(), Config{Region: "us-east-1"})
	assert.Error(t, err)
}

func TestClosedStore(t *testing.T) {
	s, err := NewFromConfig(context.Background(), Config{
		Bucket:          "images",
		Region:          "us-east-1",
		Endpoint:        "http://127.0.0.1:1",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	require.NoError(t, err)
	assert.Equal(t, "images", s.Name())

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Upload(context.Background(), "k", "/nonexistent"), blob.ErrStoreClosed)
	assert.ErrorIs(t, s.Download(context.Background(), "k", "/tmp/x"), blob.ErrStoreClosed)
	assert.ErrorIs(t, s.HealthCheck(context.Background()), blob.ErrStoreClosed)
}
