// Package verify re-reads uploaded scan images and checks that the stored
// bytes match what the capture operator sent.
package verify

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"

	"github.com/dharsanguruparan/ScanVault/internal/blob"
	"github.com/dharsanguruparan/ScanVault/internal/metrics"
	"github.com/dharsanguruparan/ScanVault/internal/queue"
)

// Outcomes, also used as metric labels.
const (
	OutcomeOK         = "ok"
	OutcomeMismatch   = "mismatch"
	OutcomeUnreadable = "unreadable"
	OutcomeError      = "error"
)

// ErrMismatch marks a permanent verification failure; retrying cannot help.
var ErrMismatch = errors.New("stored image does not match upload")

// Digest returns the hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verifier fetches a blob and compares it with the upload fingerprint.
type Verifier struct {
	blobs  blob.Getter
	logger *slog.Logger
}

// New builds a Verifier.
func New(blobs blob.Getter, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{blobs: blobs, logger: logger.With("component", "verify")}
}

// Verify checks size, digest and that the bytes decode as an image. Transient
// fetch errors are returned as-is; permanent failures wrap ErrMismatch. The
// scan record itself is never touched.
func (v *Verifier) Verify(ctx context.Context, p queue.VerifyPayload) (string, error) {
	outcome, err := v.verify(ctx, p)
	metrics.UploadVerifications.WithLabelValues(outcome).Inc()
	log := v.logger.With(slog.String("scan_id", p.ScanID), slog.String("outcome", outcome))
	if err != nil {
		log.Warn("upload verification failed", slog.String("error", err.Error()))
		return outcome, err
	}
	log.Info("upload verified", slog.Int64("bytes", p.Size))
	return outcome, nil
}

func (v *Verifier) verify(ctx context.Context, p queue.VerifyPayload) (string, error) {
	data, err := v.blobs.Get(ctx, p.Address)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return OutcomeMismatch, fmt.Errorf("scan %s: %w: %w", p.ScanID, ErrMismatch, err)
		}
		return OutcomeError, fmt.Errorf("fetch scan %s image: %w", p.ScanID, err)
	}
	if int64(len(data)) != p.Size {
		return OutcomeMismatch, fmt.Errorf("scan %s: size %d, expected %d: %w", p.ScanID, len(data), p.Size, ErrMismatch)
	}
	if p.SHA256 != "" && Digest(data) != p.SHA256 {
		return OutcomeMismatch, fmt.Errorf("scan %s: digest differs: %w", p.ScanID, ErrMismatch)
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return OutcomeUnreadable, fmt.Errorf("scan %s: decode image: %w: %w", p.ScanID, ErrMismatch, err)
	}
	return OutcomeOK, nil
}
