// Package app opens the backing stores selected by configuration. The API
// server, the verification worker and the CLI share it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/ScanVault/internal/blob"
	"github.com/dharsanguruparan/ScanVault/internal/config"
	"github.com/dharsanguruparan/ScanVault/internal/database"
	"github.com/dharsanguruparan/ScanVault/internal/model"
	"github.com/dharsanguruparan/ScanVault/internal/repository"
	"github.com/dharsanguruparan/ScanVault/internal/roles"
	"github.com/dharsanguruparan/ScanVault/internal/s3storage"
	"github.com/dharsanguruparan/ScanVault/internal/signing"
	"github.com/dharsanguruparan/ScanVault/internal/storage"
)

// ScanStore is the full scan repository surface.
type ScanStore interface {
	Insert(ctx context.Context, draft model.ScanDraft) (*model.ScanRecord, error)
	List(ctx context.Context) ([]model.ScanRecord, error)
	Get(ctx context.Context, id string) (*model.ScanRecord, error)
}

// Stores bundles the metadata stores.
type Stores struct {
	Scans ScanStore
	Roles roles.Store
	Ready *database.ReadinessChecker
	pool  *pgxpool.Pool
}

// Close releases the database pool, if any.
func (s *Stores) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// OpenStores migrates and connects PostgreSQL when a database URL is set and
// falls back to in-memory stores otherwise.
func OpenStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stores, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("SCANVAULT_DATABASE_URL not set, records are kept in memory")
		mem := storage.NewMemoryStore()
		return &Stores{
			Scans: mem,
			Roles: storage.NewRoleStore(),
			Ready: database.NewReadinessChecker(mem),
		}, nil
	}
	if err := database.Migrate(cfg.DatabaseURL, logger); err != nil {
		return nil, err
	}
	pool, err := database.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return &Stores{
		Scans: repository.NewScanRepository(pool),
		Roles: repository.NewRoleRepository(pool),
		Ready: database.NewReadinessChecker(pool),
		pool:  pool,
	}, nil
}

// OpenBlobStore builds the configured blob store. The returned handler serves
// file-store addresses and is nil for S3.
func OpenBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, http.Handler, error) {
	switch cfg.BlobBackend {
	case config.BlobBackendS3:
		s, err := s3storage.New(cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, nil, fmt.Errorf("ensure bucket: %w", err)
		}
		return s, nil, nil
	default:
		fs, err := blob.NewFileStore(cfg.BlobDir, cfg.PublicBaseURL, signing.NewSigner([]byte(cfg.SigningSecret)))
		if err != nil {
			return nil, nil, err
		}
		return fs, fs.Handler(), nil
	}
}
