package port

import (
	"context"
	"time"

	"github.com/rl1809/vending/internal/core/domain"
)

type ListingCache interface {
	// Generation returns the current key namespace. Keys built from an older
	// generation are never served again once Invalidate has run.
	Generation(ctx context.Context) (int64, error)

	Get(ctx context.Context, key string) (*domain.ProductPage, bool, error)

	Put(ctx context.Context, key string, page domain.ProductPage, ttl time.Duration) error

	// Invalidate drops every cached listing page.
	Invalidate(ctx context.Context) error
}
