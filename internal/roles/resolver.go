// Package roles maps authenticated principals to their single stored role,
// provisioning one from the email on first observed login.
package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/dharsanguruparan/ScanVault/internal/metrics"
	"github.com/dharsanguruparan/ScanVault/internal/model"
)

// DefaultCaptureMarker is the email substring that marks capture operators.
const DefaultCaptureMarker = "technician"

const provisionTimeout = 10 * time.Second

// Store persists role records. Get returns model.ErrNotFound for unknown
// principals; Provision inserts only when absent and returns the stored row.
type Store interface {
	Get(ctx context.Context, principalID string) (*model.RoleRecord, error)
	Provision(ctx context.Context, rec model.RoleRecord) (*model.RoleRecord, error)
}

// Options tune a Resolver.
type Options struct {
	CaptureMarker string
	CacheSize     int
	CacheTTL      time.Duration
	Logger        *slog.Logger
}

// Resolver resolves and provisions roles.
type Resolver struct {
	store  Store
	marker string
	cache  *expirable.LRU[string, model.RoleRecord]
	group  singleflight.Group
	logger *slog.Logger
	now    func() time.Time
}

// NewResolver builds a Resolver with an expirable per-principal cache.
func NewResolver(store Store, opts Options) *Resolver {
	if opts.CaptureMarker == "" {
		opts.CaptureMarker = DefaultCaptureMarker
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1024
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Resolver{
		store:  store,
		marker: strings.ToLower(opts.CaptureMarker),
		cache:  expirable.NewLRU[string, model.RoleRecord](opts.CacheSize, nil, opts.CacheTTL),
		logger: opts.Logger.With("component", "roles"),
		now:    time.Now,
	}
}

// Resolve returns the principal's role.
func (r *Resolver) Resolve(ctx context.Context, p model.Principal) (model.Role, error) {
	rec, err := r.Lookup(ctx, p)
	if err != nil {
		return "", err
	}
	return rec.Role, nil
}

// Lookup returns the principal's full role record, provisioning it on first
// sight. Concurrent first lookups of one principal share a single store round
// trip; across processes the store's insert-if-absent keeps one row.
func (r *Resolver) Lookup(ctx context.Context, p model.Principal) (*model.RoleRecord, error) {
	if strings.TrimSpace(p.ID) == "" {
		return nil, fmt.Errorf("principal has no id: %w", model.ErrIdentityUnavailable)
	}
	if rec, ok := r.cache.Get(p.ID); ok {
		return &rec, nil
	}

	ch := r.group.DoChan(p.ID, func() (any, error) {
		// Detached so one caller giving up does not fail the others waiting
		// on the same principal.
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), provisionTimeout)
		defer cancel()
		return r.load(sctx, p)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("resolve role for %q: %w", p.ID, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		rec := res.Val.(model.RoleRecord)
		return &rec, nil
	}
}

func (r *Resolver) load(ctx context.Context, p model.Principal) (model.RoleRecord, error) {
	stored, err := r.store.Get(ctx, p.ID)
	switch {
	case err == nil:
		r.cache.Add(p.ID, *stored)
		return *stored, nil
	case !errors.Is(err, model.ErrNotFound):
		return model.RoleRecord{}, fmt.Errorf("read role for %q: %w: %w", p.ID, model.ErrIdentityUnavailable, err)
	}

	want := model.RoleRecord{
		PrincipalID: p.ID,
		Email:       p.Email,
		Role:        DeriveRole(p.Email, r.marker),
		FullName:    FullName(p),
		CreatedAt:   r.now().UTC().Truncate(time.Microsecond),
	}
	stored, err = r.store.Provision(ctx, want)
	if err != nil {
		if errors.Is(err, model.ErrPersistence) {
			return model.RoleRecord{}, fmt.Errorf("provision role for %q: %w", p.ID, err)
		}
		return model.RoleRecord{}, fmt.Errorf("provision role for %q: %w: %w", p.ID, model.ErrPersistence, err)
	}
	if stored.Role == want.Role && stored.CreatedAt.Equal(want.CreatedAt) {
		metrics.RolesProvisioned.WithLabelValues(string(stored.Role)).Inc()
		r.logger.Info("role provisioned",
			slog.String("principal", p.ID),
			slog.String("role", string(stored.Role)),
		)
	}
	r.cache.Add(p.ID, *stored)
	return *stored, nil
}

// DeriveRole applies the first-login rule: an email containing marker
// (case-insensitive) is a capture operator, anything else a reviewer.
func DeriveRole(email, marker string) model.Role {
	if marker == "" {
		marker = DefaultCaptureMarker
	}
	if strings.Contains(strings.ToLower(email), strings.ToLower(marker)) {
		return model.RoleCapture
	}
	return model.RoleReview
}

// FullName prefers the provider's display name, then the email local part,
// then "User".
func FullName(p model.Principal) string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	if local, _, ok := strings.Cut(p.Email, "@"); ok && local != "" {
		return local
	}
	return "User"
}
