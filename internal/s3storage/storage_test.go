package s3storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ScanVault/internal/blob"
	"github.com/dharsanguruparan/ScanVault/internal/config"
)

func newTestStorage(t *testing.T, publicURL string) *Storage {
	t.Helper()
	s, err := New(&config.Config{
		S3Endpoint:  "minio.local:9000",
		S3AccessKey: "access",
		S3SecretKey: "secret",
		S3Region:    "us-east-1",
		S3Bucket:    "scan-images",
		S3PublicURL: publicURL,
	})
	require.NoError(t, err)
	return s
}

func TestKeyForUsesEndpointByDefault(t *testing.T) {
	s := newTestStorage(t, "")
	key, ok := s.KeyFor("http://minio.local:9000/scan-images/scans/a.jpg")
	require.True(t, ok)
	assert.Equal(t, "scans/a.jpg", key)
}

func TestKeyForPublicURL(t *testing.T) {
	s := newTestStorage(t, "https://cdn.example.com/")
	key, ok := s.KeyFor("https://cdn.example.com/scan-images/scans/b.png?x=1")
	require.True(t, ok)
	assert.Equal(t, "scans/b.png", key)

	_, ok = s.KeyFor("https://cdn.example.com/other-bucket/scans/b.png")
	assert.False(t, ok)
	_, ok = s.KeyFor("https://cdn.example.com/scan-images/")
	assert.False(t, ok)
}

func TestGetForeignAddressIsNotFound(t *testing.T) {
	s := newTestStorage(t, "https://cdn.example.com")
	_, err := s.Get(context.Background(), "https://elsewhere.example.com/x.jpg")
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

func TestPublicReadPolicyNamesBucket(t *testing.T) {
	assert.Contains(t, publicReadPolicy("scan-images"), "arn:aws:s3:::scan-images/*")
}
