package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ScanVault/internal/blob"
	"github.com/dharsanguruparan/ScanVault/internal/identity"
	"github.com/dharsanguruparan/ScanVault/internal/ingest"
	"github.com/dharsanguruparan/ScanVault/internal/model"
	pdfutil "github.com/dharsanguruparan/ScanVault/internal/pdf"
	"github.com/dharsanguruparan/ScanVault/internal/report"
	"github.com/dharsanguruparan/ScanVault/internal/roles"
	"github.com/dharsanguruparan/ScanVault/internal/service"
	"github.com/dharsanguruparan/ScanVault/internal/signing"
	"github.com/dharsanguruparan/ScanVault/internal/storage"
)

var jwtSecret = []byte("api-test-secret")

type testEnv struct {
	srv   *httptest.Server
	blobs *blob.FileStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{}
	// The server URL is only known after start, so the handler is swapped in.
	var handler http.Handler
	env.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(env.srv.Close)

	blobs, err := blob.NewFileStore(t.TempDir(), env.srv.URL, signing.NewSigner([]byte("blob-secret")))
	require.NoError(t, err)
	env.blobs = blobs

	scans := storage.NewMemoryStore()
	svc := service.New(
		roles.NewResolver(storage.NewRoleStore(), roles.Options{}),
		ingest.NewUploader(blobs, scans, ingest.Options{MaxImageBytes: 1 << 20}),
		scans,
		report.NewGenerator(blobs, nil),
		nil,
	)
	handler = New(svc, identity.NewHS256(jwtSecret, ""), Options{
		MaxImageBytes: 1 << 20,
		Blobs:         blobs.Handler(),
		Ready:         readyFunc(func(context.Context) error { return nil }),
	}, nil).Handler()
	return env
}

type readyFunc func(context.Context) error

func (f readyFunc) CheckReady(ctx context.Context) error { return f(ctx) }

func token(t *testing.T, id, email string) string {
	t.Helper()
	tok, err := identity.IssueHS256(jwtSecret, "", model.Principal{ID: id, Email: email}, time.Hour)
	require.NoError(t, err)
	return tok
}

func jpegImage(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}

func scanForm(t *testing.T, fields map[string]string, fileName string, file []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func (e *testEnv) do(t *testing.T, method, path, tok string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	require.NoError(t, err)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) ErrorDetail {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error
}

var janeFields = map[string]string{
	"patient_name": "Jane Doe",
	"patient_id":   "P-1",
	"scan_type":    "RGB",
	"region":       "Frontal",
}

func TestCaptureReviewExportFlow(t *testing.T) {
	env := newTestEnv(t)
	tech := token(t, "tech-1", "technician.ann@clinic.test")
	dentist := token(t, "dent-1", "dr.bob@clinic.test")

	uploaded := jpegImage(t, 2000, 1000)
	body, ct := scanForm(t, janeFields, "jane.jpg", uploaded)
	resp := env.do(t, http.MethodPost, "/api/v1/scans", tech, body, ct)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created model.ScanRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "Jane Doe", created.PatientName)
	assert.True(t, strings.HasPrefix(created.ImageAddress, env.srv.URL+"/blobs/scans/"))

	resp = env.do(t, http.MethodGet, "/api/v1/scans", dentist, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var feed []model.ScanRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&feed))
	require.Len(t, feed, 1)
	assert.Equal(t, created.ID, feed[0].ID)

	resp = env.do(t, http.MethodGet, "/api/v1/scans/"+created.ID+"/report", dentist, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Equal(t, "embedded", resp.Header.Get("X-Report-Image"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "Jane_Doe_P-1_scan_report.pdf")
	pdfBytes, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text, err := pdfutil.ExtractText(pdfBytes)
	require.NoError(t, err)
	assert.Contains(t, text, "Jane Doe")
	assert.Contains(t, text, "P-1")

	// The stored address is directly dereferenceable.
	img, err := http.Get(created.ImageAddress)
	require.NoError(t, err)
	defer img.Body.Close()
	assert.Equal(t, http.StatusOK, img.StatusCode)
	assert.Equal(t, "image/jpeg", img.Header.Get("Content-Type"))
	stored, err := io.ReadAll(img.Body)
	require.NoError(t, err)
	assert.Equal(t, uploaded, stored)
}

func TestSubmitChecksRoleBeforeReadingUpload(t *testing.T) {
	env := newTestEnv(t)
	dentist := token(t, "dent-1", "dr.bob@clinic.test")

	body, ct := scanForm(t, janeFields, "empty.jpg", []byte{})
	resp := env.do(t, http.MethodPost, "/api/v1/scans", dentist, body, ct)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", decodeError(t, resp).Code)

	resp = env.do(t, http.MethodPost, "/api/v1/scans", dentist, strings.NewReader("not a form"), "text/plain")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestReportWithMissingImage(t *testing.T) {
	env := newTestEnv(t)
	tech := token(t, "tech-1", "technician@clinic.test")
	dentist := token(t, "dent-1", "dr@clinic.test")

	body, ct := scanForm(t, janeFields, "jane.jpg", jpegImage(t, 10, 10))
	resp := env.do(t, http.MethodPost, "/api/v1/scans", tech, body, ct)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created model.ScanRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	// Corrupt the stored bytes so the image no longer decodes.
	u, err := url.Parse(created.ImageAddress)
	require.NoError(t, err)
	key := strings.TrimPrefix(u.Path, blob.RoutePrefix)
	require.NoError(t, env.blobs.Put(context.Background(), key, []byte("corrupted"), "image/jpeg"))

	resp = env.do(t, http.MethodGet, "/api/v1/scans/"+created.ID+"/report", dentist, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "unavailable", resp.Header.Get("X-Report-Image"))
}

func TestAuthAndRoleErrors(t *testing.T) {
	env := newTestEnv(t)
	tech := token(t, "tech-1", "technician@clinic.test")
	dentist := token(t, "dent-1", "dr@clinic.test")

	resp := env.do(t, http.MethodGet, "/api/v1/scans", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", decodeError(t, resp).Code)

	resp = env.do(t, http.MethodGet, "/api/v1/scans", "not-a-jwt", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/scans", tech, nil, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", decodeError(t, resp).Code)

	body, ct := scanForm(t, janeFields, "jane.jpg", jpegImage(t, 10, 10))
	resp = env.do(t, http.MethodPost, "/api/v1/scans", dentist, body, ct)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	noSub := token(t, "", "dr@clinic.test")
	resp = env.do(t, http.MethodGet, "/api/v1/me", noSub, nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "IDENTITY_UNAVAILABLE", decodeError(t, resp).Code)
}

func TestSubmitValidation(t *testing.T) {
	env := newTestEnv(t)
	tech := token(t, "tech-1", "technician@clinic.test")

	body, ct := scanForm(t, janeFields, "scan.gif", []byte("GIF89a\x01\x00\x01\x00"))
	resp := env.do(t, http.MethodPost, "/api/v1/scans", tech, body, ct)
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	assert.Equal(t, "UNSUPPORTED_MEDIA_TYPE", decodeError(t, resp).Code)

	missing := map[string]string{"patient_name": "Jane Doe", "region": "Frontal"}
	body, ct = scanForm(t, missing, "jane.jpg", jpegImage(t, 10, 10))
	resp = env.do(t, http.MethodPost, "/api/v1/scans", tech, body, ct)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	detail := decodeError(t, resp)
	assert.Equal(t, "VALIDATION_ERROR", detail.Code)
	assert.Contains(t, detail.Message, "patient_id")

	body, ct = scanForm(t, janeFields, "", nil)
	resp = env.do(t, http.MethodPost, "/api/v1/scans", tech, body, ct)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	big := bytes.Repeat([]byte{0xff}, 1<<20+10)
	body, ct = scanForm(t, janeFields, "big.jpg", big)
	resp = env.do(t, http.MethodPost, "/api/v1/scans", tech, body, ct)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReportNotFound(t *testing.T) {
	env := newTestEnv(t)
	dentist := token(t, "dent-1", "dr@clinic.test")
	resp := env.do(t, http.MethodGet, "/api/v1/scans/unknown/report", dentist, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", decodeError(t, resp).Code)
}

func TestWhoami(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/api/v1/me", token(t, "dent-1", "dr.bob@clinic.test"), nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var id service.Identity
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&id))
	assert.Equal(t, model.RoleReview, id.Role)
	assert.Equal(t, "dr.bob", id.FullName)
	assert.Equal(t, []service.Capability{service.CapFetchReviewFeed, service.CapExportReport}, id.Capabilities)
}

func TestOperationalEndpoints(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp := env.do(t, http.MethodGet, path, "", nil, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestClassify(t *testing.T) {
	status, code := classify(context.DeadlineExceeded)
	assert.Equal(t, http.StatusGatewayTimeout, status)
	assert.Equal(t, "TIMEOUT", code)

	status, code = classify(io.ErrUnexpectedEOF)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "INTERNAL_ERROR", code)
}
