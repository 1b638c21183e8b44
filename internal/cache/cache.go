package cache

import (
	"context"
	"time"

	"retailpos/backend/internal/domain"
)

// CatalogCache holds products keyed by SKU for the scan path. Stock on a
// cached product is informational only; checkout always re-reads it.
type CatalogCache interface {
	GetProduct(ctx context.Context, sku string) (*domain.Product, bool, error)
	SetProduct(ctx context.Context, sku string, value *domain.Product, ttl time.Duration) error
	Invalidate(ctx context.Context, sku string) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) GetProduct(_ context.Context, _ string) (*domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) SetProduct(_ context.Context, _ string, _ *domain.Product, _ time.Duration) error {
	return nil
}

func (NoopCatalogCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
