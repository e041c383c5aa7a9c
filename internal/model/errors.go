package model

import "errors"

// Error kinds. Callers wrap them with fmt.Errorf("...: %w") so the message
// names the field or external call, and match them with errors.Is.
var (
	ErrUnauthenticated        = errors.New("not authenticated")
	ErrIdentityUnavailable    = errors.New("identity unavailable")
	ErrForbidden              = errors.New("operation not permitted for role")
	ErrInvalidScan            = errors.New("invalid scan")
	ErrUnsupportedMediaType   = errors.New("unsupported media type")
	ErrBlobUploadFailed       = errors.New("blob upload failed")
	ErrPersistence            = errors.New("persistence error")
	ErrNotFound               = errors.New("not found")
	ErrReportGenerationFailed = errors.New("report generation failed")
)
