package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ScanVault/internal/model"
)

func draft(name, id string) model.ScanDraft {
	return model.ScanDraft{
		ScanFields: model.ScanFields{
			PatientName: name,
			PatientID:   id,
			ScanType:    model.ScanTypeRGB,
			Region:      model.RegionFrontal,
		},
		ImageAddress: "http://blobs.test/" + id + ".jpg",
	}
}

func TestInsertThenGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	rec, err := m.Insert(ctx, draft("Jane Doe", "P-1"))
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, time.UTC, rec.UploadedAt.Location())

	got, err := m.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, *rec, *got)

	_, err = m.Get(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestInsertRejectsEmptyAddress(t *testing.T) {
	d := draft("Jane", "P-1")
	d.ImageAddress = ""
	_, err := NewMemoryStore().Insert(context.Background(), d)
	assert.ErrorIs(t, err, model.ErrInvalidScan)
}

func TestListNewestFirst(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	m := NewMemoryStore(WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}))
	for _, id := range []string{"P-1", "P-2", "P-3"} {
		_, err := m.Insert(ctx, draft("Patient", id))
		require.NoError(t, err)
	}
	list, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"P-3", "P-2", "P-1"}, []string{list[0].PatientID, list[1].PatientID, list[2].PatientID})
}

func TestListTiesBrokenByInsertion(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	m := NewMemoryStore(WithClock(func() time.Time { return fixed }))
	for _, id := range []string{"A", "B", "C"} {
		_, err := m.Insert(ctx, draft("Patient", id))
		require.NoError(t, err)
	}
	list, err := m.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "C", list[0].PatientID)
	assert.Equal(t, "A", list[2].PatientID)
}

func TestListReturnsSnapshot(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	_, err := m.Insert(ctx, draft("Jane", "P-1"))
	require.NoError(t, err)
	list, err := m.List(ctx)
	require.NoError(t, err)
	list[0].PatientName = "changed"

	again, err := m.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Jane", again[0].PatientName)
}

func TestConcurrentInsertAndList(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := m.Insert(ctx, draft("Patient", "P"))
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := m.List(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	list, err := m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 20)
}

func TestRoleStoreProvisionKeepsFirst(t *testing.T) {
	ctx := context.Background()
	s := NewRoleStore()
	_, err := s.Get(ctx, "u1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	first, err := s.Provision(ctx, model.RoleRecord{PrincipalID: "u1", Role: model.RoleCapture})
	require.NoError(t, err)
	assert.Equal(t, model.RoleCapture, first.Role)
	assert.False(t, first.CreatedAt.IsZero())

	second, err := s.Provision(ctx, model.RoleRecord{PrincipalID: "u1", Role: model.RoleReview})
	require.NoError(t, err)
	assert.Equal(t, model.RoleCapture, second.Role)

	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.RoleCapture, got.Role)
}
