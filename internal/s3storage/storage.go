// Package s3storage implements blob.Store on MinIO/S3. Scan images live in a
// single bucket with a public-read policy so stored addresses can be
// dereferenced without credentials.
package s3storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/ScanVault/internal/blob"
	"github.com/dharsanguruparan/ScanVault/internal/config"
)

// Storage wraps MinIO/S3 interactions for scan images.
type Storage struct {
	client     *minio.Client
	bucket     string
	region     string
	publicBase string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	base := cfg.S3PublicURL
	if base == "" {
		base = client.EndpointURL().String()
	}
	return &Storage{
		client:     client,
		bucket:     cfg.S3Bucket,
		region:     cfg.S3Region,
		publicBase: strings.TrimRight(base, "/") + "/" + cfg.S3Bucket + "/",
	}, nil
}

// EnsureBucket makes sure the image bucket exists and allows anonymous reads.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	if err := s.client.SetBucketPolicy(ctx, s.bucket, publicReadPolicy(s.bucket)); err != nil {
		return fmt.Errorf("set policy on %s: %w", s.bucket, err)
	}
	return nil
}

// Put uploads the image bytes.
func (s *Storage) Put(ctx context.Context, key string, data []byte, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// PublicAddress confirms the object exists and returns its anonymous URL.
func (s *Storage) PublicAddress(ctx context.Context, key string) (string, error) {
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("address for %s: %w", key, blob.ErrNotFound)
		}
		return "", fmt.Errorf("stat object %s: %w", key, err)
	}
	return s.publicBase + key, nil
}

// Get maps an address produced by PublicAddress back to its object and reads
// it. Addresses outside this bucket are reported as not found.
func (s *Storage) Get(ctx context.Context, address string) ([]byte, error) {
	key, ok := s.KeyFor(address)
	if !ok {
		return nil, fmt.Errorf("address %q is outside bucket %s: %w", address, s.bucket, blob.ErrNotFound)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()
	buf, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("object %s: %w", key, blob.ErrNotFound)
		}
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return buf, nil
}

// KeyFor extracts the object key from a public address.
func (s *Storage) KeyFor(address string) (string, bool) {
	if !strings.HasPrefix(address, s.publicBase) {
		return "", false
	}
	key := strings.TrimPrefix(address, s.publicBase)
	if i := strings.IndexByte(key, '?'); i >= 0 {
		key = key[:i]
	}
	return key, key != ""
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket"
}

func publicReadPolicy(bucket string) string {
	return fmt.Sprintf(`{
  "Version": "2012-10-17",
  "Statement": [{
    "Effect": "Allow",
    "Principal": {"AWS": ["*"]},
    "Action": ["s3:GetObject"],
    "Resource": ["arn:aws:s3:::%s/*"]
  }]
}`, bucket)
}
