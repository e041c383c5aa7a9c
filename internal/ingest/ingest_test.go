package ingest

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ScanVault/internal/model"
	"github.com/dharsanguruparan/ScanVault/internal/queue"
	"github.com/dharsanguruparan/ScanVault/internal/storage"
	"github.com/dharsanguruparan/ScanVault/internal/verify"
)

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	calls   int
	putErr  error
	addrErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (s *fakeStore) Put(_ context.Context, key string, data []byte, ct string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.putErr != nil {
		return s.putErr
	}
	s.objects[key] = data
	s.types[key] = ct
	return nil
}

func (s *fakeStore) PublicAddress(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.addrErr != nil {
		return "", s.addrErr
	}
	return "https://blobs.test/" + key, nil
}

func (s *fakeStore) Get(_ context.Context, address string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return nil, errors.New("not used")
}

type failingInserter struct{}

func (failingInserter) Insert(context.Context, model.ScanDraft) (*model.ScanRecord, error) {
	return nil, errors.New("connection refused")
}

type recordingQueue struct {
	payloads []queue.VerifyPayload
	err      error
}

func (q *recordingQueue) EnqueueVerify(_ context.Context, p queue.VerifyPayload) error {
	q.payloads = append(q.payloads, p)
	return q.err
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8)), nil))
	return buf.Bytes()
}

func validFields() model.ScanFields {
	return model.ScanFields{PatientName: "Jane Doe", PatientID: "P-1", ScanType: "RGB", Region: "Upper Arch"}
}

func TestUploadScanStoresAndInserts(t *testing.T) {
	ctx := context.Background()
	blobs := newFakeStore()
	repo := storage.NewMemoryStore()
	q := &recordingQueue{}
	u := NewUploader(blobs, repo, Options{Verifications: q})
	img := jpegBytes(t)

	rec, err := u.UploadScan(ctx, validFields(), img, "image/jpg", "photo.JPEG")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", rec.PatientName)
	assert.Equal(t, model.RegionUpperArch, rec.Region)
	assert.Regexp(t, regexp.MustCompile(`^https://blobs\.test/scans/\d{8}T\d{6}Z-[0-9a-f-]{36}\.jpeg$`), rec.ImageAddress)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rec.ID, list[0].ID)

	for key, ct := range blobs.types {
		assert.Equal(t, "image/jpeg", ct, key)
	}

	require.Len(t, q.payloads, 1)
	assert.Equal(t, rec.ID, q.payloads[0].ScanID)
	assert.Equal(t, verify.Digest(img), q.payloads[0].SHA256)
	assert.EqualValues(t, len(img), q.payloads[0].Size)
}

func TestUploadScanUnsupportedMediaMakesNoBlobCalls(t *testing.T) {
	blobs := newFakeStore()
	u := NewUploader(blobs, storage.NewMemoryStore(), Options{})

	_, err := u.UploadScan(context.Background(), validFields(), []byte("GIF89a..."), "image/gif", "scan.gif")
	assert.ErrorIs(t, err, model.ErrUnsupportedMediaType)

	_, err = u.UploadScan(context.Background(), validFields(), []byte("%PDF-1.4"), "", "scan.pdf")
	assert.ErrorIs(t, err, model.ErrUnsupportedMediaType)
	assert.Zero(t, blobs.calls)
}

func TestUploadScanValidation(t *testing.T) {
	blobs := newFakeStore()
	u := NewUploader(blobs, storage.NewMemoryStore(), Options{MaxImageBytes: 100})
	img := jpegBytes(t)

	cases := []struct {
		name   string
		fields model.ScanFields
		image  []byte
		field  string
	}{
		{"missing name", model.ScanFields{PatientID: "P-1", Region: "Frontal"}, img[:50], "patient_name"},
		{"missing id", model.ScanFields{PatientName: "Jane", Region: "Frontal"}, img[:50], "patient_id"},
		{"bad region", model.ScanFields{PatientName: "Jane", PatientID: "P-1", Region: "Molar"}, img[:50], "region"},
		{"bad scan type", model.ScanFields{PatientName: "Jane", PatientID: "P-1", ScanType: "CBCT", Region: "Frontal"}, img[:50], "scan_type"},
		{"empty file", validFields(), nil, "file"},
		{"too large", validFields(), bytes.Repeat([]byte{0}, 101), "file"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := u.UploadScan(context.Background(), tc.fields, tc.image, "image/jpeg", "a.jpg")
			assert.ErrorIs(t, err, model.ErrInvalidScan)
			assert.Contains(t, err.Error(), tc.field)
		})
	}
	assert.Zero(t, blobs.calls)
}

func TestUploadScanCancelledBeforeUpload(t *testing.T) {
	blobs := newFakeStore()
	repo := storage.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewUploader(blobs, repo, Options{}).UploadScan(ctx, validFields(), jpegBytes(t), "image/jpeg", "a.jpg")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, blobs.calls)
	list, _ := repo.List(context.Background())
	assert.Empty(t, list)
}

func TestUploadScanBlobFailures(t *testing.T) {
	putFail := newFakeStore()
	putFail.putErr = errors.New("503 from object store")
	_, err := NewUploader(putFail, storage.NewMemoryStore(), Options{}).
		UploadScan(context.Background(), validFields(), jpegBytes(t), "image/jpeg", "a.jpg")
	assert.ErrorIs(t, err, model.ErrBlobUploadFailed)
	assert.Contains(t, err.Error(), "503 from object store")

	addrFail := newFakeStore()
	addrFail.addrErr = errors.New("stat failed")
	repo := storage.NewMemoryStore()
	_, err = NewUploader(addrFail, repo, Options{}).
		UploadScan(context.Background(), validFields(), jpegBytes(t), "image/jpeg", "a.jpg")
	assert.ErrorIs(t, err, model.ErrBlobUploadFailed)
	list, _ := repo.List(context.Background())
	assert.Empty(t, list)
}

func TestUploadScanPersistenceFailure(t *testing.T) {
	blobs := newFakeStore()
	q := &recordingQueue{}
	_, err := NewUploader(blobs, failingInserter{}, Options{Verifications: q}).
		UploadScan(context.Background(), validFields(), jpegBytes(t), "image/jpeg", "a.jpg")
	assert.ErrorIs(t, err, model.ErrPersistence)
	// The blob stays behind, unreferenced.
	assert.Len(t, blobs.objects, 1)
	assert.Empty(t, q.payloads)
}

func TestUploadScanIgnoresEnqueueFailure(t *testing.T) {
	q := &recordingQueue{err: errors.New("redis down")}
	rec, err := NewUploader(newFakeStore(), storage.NewMemoryStore(), Options{Verifications: q}).
		UploadScan(context.Background(), validFields(), jpegBytes(t), "image/jpeg", "a.jpg")
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
}

func TestNormalizeContentType(t *testing.T) {
	assert.Equal(t, "image/jpeg", NormalizeContentType("image/jpg"))
	assert.Equal(t, "image/jpeg", NormalizeContentType("IMAGE/JPEG; charset=binary"))
	assert.Equal(t, "image/png", NormalizeContentType(" image/png "))
	assert.Equal(t, "", NormalizeContentType(""))
}

func TestExtension(t *testing.T) {
	assert.Equal(t, ".jpg", Extension("image/jpeg", "scan.png"))
	assert.Equal(t, ".jpeg", Extension("image/jpeg", "scan.jpeg"))
	assert.Equal(t, ".png", Extension("image/png", "noext"))
}

func TestObjectKey(t *testing.T) {
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.FixedZone("X", 3600))
	key := ObjectKey(now, ".png")
	assert.Regexp(t, `^scans/20240506T060809Z-[0-9a-f-]{36}\.png$`, key)
}
