package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dharsanguruparan/ScanVault/internal/model"
)

// RoleRepository stores provisioned roles in the user_roles table.
type RoleRepository struct {
	db DBTX
}

// NewRoleRepository constructs a repository.
func NewRoleRepository(db DBTX) *RoleRepository {
	return &RoleRepository{db: db}
}

// Get returns the role record of a principal or model.ErrNotFound.
func (r *RoleRepository) Get(ctx context.Context, principalID string) (*model.RoleRecord, error) {
	row := r.db.QueryRow(ctx, `
		SELECT principal_id, email, role, full_name, created_at
		FROM user_roles WHERE principal_id = $1`, principalID)
	rec, err := roleRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("role for %q: %w", principalID, model.ErrNotFound)
		}
		return nil, persistenceError("select role", err)
	}
	return rec, nil
}

// Provision inserts rec unless a row for the principal exists, then returns
// the stored row. Concurrent provisioners converge on whichever insert won.
func (r *RoleRepository) Provision(ctx context.Context, rec model.RoleRecord) (*model.RoleRecord, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	row := r.db.QueryRow(ctx, `
		INSERT INTO user_roles (principal_id, email, role, full_name, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (principal_id) DO NOTHING
		RETURNING principal_id, email, role, full_name, created_at`,
		rec.PrincipalID, rec.Email, string(rec.Role), rec.FullName, rec.CreatedAt,
	)
	stored, err := roleRecord(row)
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, persistenceError("provision role", err)
	}
	// Lost the race: read the winner.
	stored, err = r.Get(ctx, rec.PrincipalID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, persistenceError("provision role", err)
		}
		return nil, err
	}
	return stored, nil
}

func roleRecord(row pgx.Row) (*model.RoleRecord, error) {
	var (
		rec  model.RoleRecord
		role string
	)
	if err := row.Scan(&rec.PrincipalID, &rec.Email, &role, &rec.FullName, &rec.CreatedAt); err != nil {
		return nil, err
	}
	parsed, err := model.ParseRole(role)
	if err != nil {
		return nil, err
	}
	rec.Role = parsed
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}
