// Package s3 implements blob.Store on Amazon S3 or any S3-compatible
// endpoint.
package s3

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/marmos91/dicomgw/internal/awsconf"
	"github.com/marmos91/dicomgw/pkg/blob"
	"github.com/marmos91/dicomgw/pkg/errkind"
)

const dicomContentType = "application/dicom"

// Config configures the S3 store.
type Config struct {
	Bucket string `mapstructure:"bucket" yaml:"bucket"`
	Region string `mapstructure:"region" yaml:"region"`

	// Endpoint overrides the S3 endpoint (Localstack, MinIO).
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style"`

	// Accelerate routes requests through S3 Transfer Acceleration.
	Accelerate bool `mapstructure:"accelerate" yaml:"accelerate"`

	// ServerSideEncryption is "aws:kms", "AES256" or empty for none.
	ServerSideEncryption string `mapstructure:"server_side_encryption" yaml:"server_side_encryption" validate:"omitempty,oneof=aws:kms AES256"`
	KMSKeyID             string `mapstructure:"kms_key_id" yaml:"kms_key_id,omitempty"`

	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`

	// Static credentials. Empty selects the default credential chain.
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
}

// Store is an S3-backed blob.Store.
type Store struct {
	client *s3.Client
	cfg    Config

	mu     sync.RWMutex
	closed bool
}

// New wraps an existing client.
func New(client *s3.Client, cfg Config) *Store {
	return &Store{client: client, cfg: cfg}
}

// NewFromConfig builds a client from cfg and wraps it.
func NewFromConfig(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	awsCfg, err := awsconf.Load(ctx, awsconf.Options{
		Region:          cfg.Region,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		MaxRetries:      cfg.MaxRetries,
	})
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
		o.UseAccelerate = cfg.Accelerate
	})
	return New(client, cfg), nil
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return blob.ErrStoreClosed
	}
	return nil
}

// Upload puts the file at localPath under key.
func (s *Store) Upload(ctx context.Context, key, localPath string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return errkind.Fatal("s3.upload", fmt.Errorf("open %s: %w", localPath, err))
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return errkind.Fatal("s3.upload", fmt.Errorf("stat %s: %w", localPath, err))
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(dicomContentType),
	}
	if s.cfg.ServerSideEncryption != "" {
		input.ServerSideEncryption = types.ServerSideEncryption(s.cfg.ServerSideEncryption)
		if s.cfg.KMSKeyID != "" {
			input.SSEKMSKeyId = aws.String(s.cfg.KMSKeyID)
		}
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return errkind.Transientf("s3.upload", fmt.Errorf("put object %s: %w", key, err))
	}
	return nil
}

// Download streams key into localPath.
func (s *Store) Download(ctx context.Context, key, localPath string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return errkind.Fatal("s3.download", fmt.Errorf("%s: %w", key, blob.ErrNotFound))
		}
		return errkind.Transientf("s3.download", fmt.Errorf("get object %s: %w", key, err))
	}
	defer func() { _ = resp.Body.Close() }()

	if err := blob.WriteFileAtomic(localPath, resp.Body); err != nil {
		return errkind.Transientf("s3.download", err)
	}
	return nil
}

// Name returns the bucket name.
func (s *Store) Name() string {
	return s.cfg.Bucket
}

// HealthCheck issues HeadBucket.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.cfg.Bucket)}); err != nil {
		return fmt.Errorf("s3 health check failed: %w", err)
	}
	return nil
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "StatusCode: 404")
}

var _ blob.Store = (*Store)(nil)
