// Package ingest binds uploaded scan images to new scan records: validate,
// upload to the blob store, then insert the record with the returned address.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/ScanVault/internal/blob"
	"github.com/dharsanguruparan/ScanVault/internal/metrics"
	"github.com/dharsanguruparan/ScanVault/internal/model"
	"github.com/dharsanguruparan/ScanVault/internal/queue"
	"github.com/dharsanguruparan/ScanVault/internal/verify"
)

// DefaultMaxImageBytes is the upload limit when none is configured.
const DefaultMaxImageBytes = 10 << 20

// DefaultAllowedTypes are the accepted image content types.
var DefaultAllowedTypes = []string{"image/jpeg", "image/png"}

// ScanInserter is the subset of the scan repository the uploader needs.
type ScanInserter interface {
	Insert(ctx context.Context, draft model.ScanDraft) (*model.ScanRecord, error)
}

// Enqueuer schedules post-upload verification.
type Enqueuer interface {
	EnqueueVerify(ctx context.Context, payload queue.VerifyPayload) error
}

// Options tune an Uploader.
type Options struct {
	MaxImageBytes int64
	AllowedTypes  []string
	Verifications Enqueuer
	Logger        *slog.Logger
}

// Uploader implements the blob reference workflow.
type Uploader struct {
	blobs    blob.Store
	scans    ScanInserter
	verifier Enqueuer
	maxBytes int64
	allowed  []string
	logger   *slog.Logger
	now      func() time.Time
}

// NewUploader constructs an Uploader.
func NewUploader(blobs blob.Store, scans ScanInserter, opts Options) *Uploader {
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = DefaultMaxImageBytes
	}
	if len(opts.AllowedTypes) == 0 {
		opts.AllowedTypes = DefaultAllowedTypes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Uploader{
		blobs:    blobs,
		scans:    scans,
		verifier: opts.Verifications,
		maxBytes: opts.MaxImageBytes,
		allowed:  opts.AllowedTypes,
		logger:   opts.Logger.With("component", "ingest"),
		now:      time.Now,
	}
}

// UploadScan validates the submission, stores the image and creates the
// record. Nothing touches the network until every check has passed. A failed
// insert leaves the uploaded blob orphaned.
func (u *Uploader) UploadScan(ctx context.Context, fields model.ScanFields, image []byte, contentType, fileName string) (*model.ScanRecord, error) {
	rec, err := u.upload(ctx, fields, image, contentType, fileName)
	metrics.ScansSubmitted.WithLabelValues(resultLabel(err)).Inc()
	return rec, err
}

func (u *Uploader) upload(ctx context.Context, fields model.ScanFields, image []byte, contentType, fileName string) (*model.ScanRecord, error) {
	ct, err := u.contentType(contentType, image)
	if err != nil {
		return nil, err
	}
	fields, err = fields.Normalize()
	if err != nil {
		return nil, err
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("file is empty: %w", model.ErrInvalidScan)
	}
	if int64(len(image)) > u.maxBytes {
		return nil, fmt.Errorf("file is %d bytes, limit is %d: %w", len(image), u.maxBytes, model.ErrInvalidScan)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("upload scan: %w", err)
	}

	key := ObjectKey(u.now(), Extension(ct, fileName))
	if err := u.blobs.Put(ctx, key, image, ct); err != nil {
		return nil, fmt.Errorf("put %s: %w: %w", key, model.ErrBlobUploadFailed, err)
	}
	address, err := u.blobs.PublicAddress(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("address for %s: %w: %w", key, model.ErrBlobUploadFailed, err)
	}

	rec, err := u.scans.Insert(ctx, model.ScanDraft{ScanFields: fields, ImageAddress: address})
	if err != nil {
		u.logger.Error("scan insert failed, blob orphaned",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, model.ErrPersistence) || errors.Is(err, model.ErrInvalidScan) {
			return nil, fmt.Errorf("insert scan: %w", err)
		}
		return nil, fmt.Errorf("insert scan: %w: %w", model.ErrPersistence, err)
	}

	u.logger.Info("scan stored",
		slog.String("scan_id", rec.ID),
		slog.String("key", key),
		slog.Int("bytes", len(image)),
	)
	u.scheduleVerification(ctx, rec, image)
	return rec, nil
}

func (u *Uploader) scheduleVerification(ctx context.Context, rec *model.ScanRecord, image []byte) {
	if u.verifier == nil {
		return
	}
	payload := queue.VerifyPayload{
		ScanID:  rec.ID,
		Address: rec.ImageAddress,
		SHA256:  verify.Digest(image),
		Size:    int64(len(image)),
	}
	if err := u.verifier.EnqueueVerify(context.WithoutCancel(ctx), payload); err != nil {
		u.logger.Warn("verification not scheduled",
			slog.String("scan_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}

// contentType normalizes the declared type, sniffing the bytes when none was
// sent, and checks it against the allow-list.
func (u *Uploader) contentType(declared string, image []byte) (string, error) {
	ct := NormalizeContentType(declared)
	if ct == "" {
		ct = NormalizeContentType(http.DetectContentType(image))
	}
	if !slices.Contains(u.allowed, ct) {
		return "", fmt.Errorf("content type %q: %w", declared, model.ErrUnsupportedMediaType)
	}
	return ct, nil
}

// NormalizeContentType lowercases, drops parameters and maps the common
// image/jpg alias to image/jpeg.
func NormalizeContentType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if ct == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		ct = mt
	}
	if ct == "image/jpg" || ct == "image/pjpeg" {
		return "image/jpeg"
	}
	return ct
}

var extensions = map[string][]string{
	"image/jpeg": {".jpg", ".jpeg"},
	"image/png":  {".png"},
}

// Extension picks the key suffix: the original file's extension when it agrees
// with the content type, otherwise the canonical one for the type.
func Extension(contentType, fileName string) string {
	allowed, ok := extensions[contentType]
	if !ok {
		return ".bin"
	}
	ext := strings.ToLower(path.Ext(fileName))
	if slices.Contains(allowed, ext) {
		return ext
	}
	return allowed[0]
}

// ObjectKey builds scans/<UTC timestamp>-<uuid><ext>.
func ObjectKey(now time.Time, ext string) string {
	return "scans/" + now.UTC().Format("20060102T150405Z") + "-" + uuid.NewString() + ext
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrUnsupportedMediaType):
		return "unsupported_media_type"
	case errors.Is(err, model.ErrInvalidScan):
		return "invalid"
	case errors.Is(err, model.ErrBlobUploadFailed):
		return "blob_upload_failed"
	case errors.Is(err, model.ErrPersistence):
		return "persistence_error"
	default:
		return "error"
	}
}
