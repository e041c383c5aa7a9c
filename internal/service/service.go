// Package service is the role-gated entry point to ScanVault. Every operation
// takes the authenticated principal explicitly, resolves its role and checks
// the role's capability set before doing any work.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dharsanguruparan/ScanVault/internal/model"
	"github.com/dharsanguruparan/ScanVault/internal/report"
)

// Capability names one gated operation.
type Capability string

const (
	CapSubmitScan      Capability = "submitScan"
	CapFetchReviewFeed Capability = "fetchReviewFeed"
	CapExportReport    Capability = "exportReport"
)

var capabilities = map[model.Role][]Capability{
	model.RoleCapture: {CapSubmitScan},
	model.RoleReview:  {CapFetchReviewFeed, CapExportReport},
}

// Capabilities returns the operations a role may perform.
func Capabilities(r model.Role) []Capability {
	return slices.Clone(capabilities[r])
}

// RoleResolver maps a principal to its stored role.
type RoleResolver interface {
	Lookup(ctx context.Context, p model.Principal) (*model.RoleRecord, error)
}

// Uploader runs the blob reference workflow.
type Uploader interface {
	UploadScan(ctx context.Context, fields model.ScanFields, image []byte, contentType, fileName string) (*model.ScanRecord, error)
}

// ScanReader reads scan records.
type ScanReader interface {
	List(ctx context.Context) ([]model.ScanRecord, error)
	Get(ctx context.Context, id string) (*model.ScanRecord, error)
}

// Reporter renders one record.
type Reporter interface {
	Generate(ctx context.Context, rec *model.ScanRecord) (*report.Document, error)
}

// Submission is one scan upload.
type Submission struct {
	Fields      model.ScanFields
	Image       []byte
	ContentType string
	FileName    string
}

// Identity describes the caller as the service sees it.
type Identity struct {
	Principal    model.Principal `json:"principal"`
	Role         model.Role      `json:"role"`
	FullName     string          `json:"fullName"`
	Capabilities []Capability    `json:"capabilities"`
}

// Service dispatches capabilities by role.
type Service struct {
	roles    RoleResolver
	uploader Uploader
	scans    ScanReader
	reports  Reporter
	logger   *slog.Logger
}

// New wires a Service.
func New(roles RoleResolver, uploader Uploader, scans ScanReader, reports Reporter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		roles:    roles,
		uploader: uploader,
		scans:    scans,
		reports:  reports,
		logger:   logger.With("component", "service"),
	}
}

// Authorize resolves the principal's role and checks it grants c.
func (s *Service) Authorize(ctx context.Context, p model.Principal, c Capability) (model.Role, error) {
	rec, err := s.roles.Lookup(ctx, p)
	if err != nil {
		return "", err
	}
	if !slices.Contains(capabilities[rec.Role], c) {
		s.logger.Info("capability denied",
			slog.String("principal", p.ID),
			slog.String("role", string(rec.Role)),
			slog.String("capability", string(c)),
		)
		return rec.Role, fmt.Errorf("%s as %s: %w", c, rec.Role, model.ErrForbidden)
	}
	return rec.Role, nil
}

// Whoami reports the caller's role and capabilities, provisioning the role on
// first sight.
func (s *Service) Whoami(ctx context.Context, p model.Principal) (*Identity, error) {
	rec, err := s.roles.Lookup(ctx, p)
	if err != nil {
		return nil, err
	}
	return &Identity{
		Principal:    p,
		Role:         rec.Role,
		FullName:     rec.FullName,
		Capabilities: Capabilities(rec.Role),
	}, nil
}

// SubmitScan stores a new scan for a capture operator.
func (s *Service) SubmitScan(ctx context.Context, p model.Principal, sub Submission) (*model.ScanRecord, error) {
	if _, err := s.Authorize(ctx, p, CapSubmitScan); err != nil {
		return nil, err
	}
	return s.uploader.UploadScan(ctx, sub.Fields, sub.Image, sub.ContentType, sub.FileName)
}

// FetchReviewFeed lists every scan, newest first, for a reviewer.
func (s *Service) FetchReviewFeed(ctx context.Context, p model.Principal) ([]model.ScanRecord, error) {
	if _, err := s.Authorize(ctx, p, CapFetchReviewFeed); err != nil {
		return nil, err
	}
	scans, err := s.scans.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("review feed: %w", err)
	}
	return scans, nil
}

// ExportReport renders the report of one scan for a reviewer.
func (s *Service) ExportReport(ctx context.Context, p model.Principal, scanID string) (*report.Document, error) {
	if _, err := s.Authorize(ctx, p, CapExportReport); err != nil {
		return nil, err
	}
	rec, err := s.scans.Get(ctx, scanID)
	if err != nil {
		return nil, fmt.Errorf("export report: %w", err)
	}
	doc, err := s.reports.Generate(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("export report: %w", err)
	}
	return doc, nil
}
