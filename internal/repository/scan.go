package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dharsanguruparan/ScanVault/internal/model"
)

// ScanRepository stores scan records in the scans table.
type ScanRepository struct {
	db DBTX
}

// NewScanRepository constructs a repository.
func NewScanRepository(db DBTX) *ScanRepository {
	return &ScanRepository{db: db}
}

const scanColumns = `id, patient_name, patient_id, scan_type, region, image_address, uploaded_at`

// Insert assigns the id and upload time and persists the record.
func (r *ScanRepository) Insert(ctx context.Context, draft model.ScanDraft) (*model.ScanRecord, error) {
	if draft.ImageAddress == "" {
		return nil, fmt.Errorf("image address is required: %w", model.ErrInvalidScan)
	}
	rec := model.ScanRecord{
		ID:           uuid.NewString(),
		PatientName:  draft.PatientName,
		PatientID:    draft.PatientID,
		ScanType:     draft.ScanType,
		Region:       draft.Region,
		ImageAddress: draft.ImageAddress,
		UploadedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO scans (id, patient_name, patient_id, scan_type, region, image_address, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.PatientName, rec.PatientID, string(rec.ScanType), string(rec.Region), rec.ImageAddress, rec.UploadedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, persistenceError(fmt.Sprintf("insert scan %s: duplicate id", rec.ID), err)
		}
		return nil, persistenceError("insert scan", err)
	}
	return &rec, nil
}

// Get returns a record by id. Ids that are not UUIDs cannot exist and are
// reported as not found without a round trip.
func (r *ScanRepository) Get(ctx context.Context, id string) (*model.ScanRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("scan %q: %w", id, model.ErrNotFound)
	}
	row := r.db.QueryRow(ctx, `SELECT `+scanColumns+` FROM scans WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("scan %q: %w", id, model.ErrNotFound)
		}
		return nil, persistenceError("select scan", err)
	}
	return rec, nil
}

// List returns all records newest first; seq breaks ties between equal
// upload times in favour of the later insert.
func (r *ScanRepository) List(ctx context.Context) ([]model.ScanRecord, error) {
	rows, err := r.db.Query(ctx, `SELECT `+scanColumns+` FROM scans ORDER BY uploaded_at DESC, seq DESC`)
	if err != nil {
		return nil, persistenceError("list scans", err)
	}
	defer rows.Close()

	var out []model.ScanRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, persistenceError("scan row", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("iterate scans", err)
	}
	if out == nil {
		out = []model.ScanRecord{}
	}
	return out, nil
}

func scanRecord(row pgx.Row) (*model.ScanRecord, error) {
	var (
		rec      model.ScanRecord
		id       uuid.UUID
		scanType string
		region   string
	)
	if err := row.Scan(&id, &rec.PatientName, &rec.PatientID, &scanType, &region, &rec.ImageAddress, &rec.UploadedAt); err != nil {
		return nil, err
	}
	rec.ID = id.String()
	rec.ScanType = model.ScanType(scanType)
	rec.Region = model.Region(region)
	rec.UploadedAt = rec.UploadedAt.UTC()
	return &rec, nil
}
