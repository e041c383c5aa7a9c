package database

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/scans?sslmode=disable", MigrateURL("postgres://u:p@db:5432/scans?sslmode=disable"))
	assert.Equal(t, "pgx5://u@db/scans", MigrateURL("postgresql://u@db/scans"))
	assert.Equal(t, "pgx5://already", MigrateURL("pgx5://already"))
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestReadinessChecker(t *testing.T) {
	assert.NoError(t, NewReadinessChecker(stubPinger{}).CheckReady(context.Background()))

	err := NewReadinessChecker(stubPinger{err: errors.New("refused")}).CheckReady(context.Background())
	assert.ErrorContains(t, err, "refused")
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	assert.NoError(t, err)
	assert.Len(t, entries, 2)
}
