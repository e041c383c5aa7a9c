// Package blob defines the boundary to the object store that keeps scan
// image bytes, plus a directory-backed implementation for development.
package blob

import (
	"context"
	"fmt"

	"github.com/dharsanguruparan/ScanVault/internal/model"
)

// ErrNotFound is returned when an address does not resolve to stored bytes.
var ErrNotFound = fmt.Errorf("blob %w", model.ErrNotFound)

// Getter dereferences a blob address.
type Getter interface {
	Get(ctx context.Context, address string) ([]byte, error)
}

// Store persists image bytes under caller-chosen keys and hands out stable,
// publicly dereferenceable addresses for them.
type Store interface {
	Getter
	Put(ctx context.Context, key string, data []byte, contentType string) error
	PublicAddress(ctx context.Context, key string) (string, error)
}
