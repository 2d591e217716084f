package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rl1809/vending/internal/core/domain"
	"github.com/rl1809/vending/internal/port"
)

// Ledger is the only code path that changes a product's quantity. Callers
// must pass the repository of the atomic unit that also writes the matching
// transaction row, with the product already locked.
type Ledger struct{}

func (Ledger) CheckAvailable(product domain.Product, requested int) bool {
	return requested <= product.Quantity
}

func (Ledger) AdjustQuantity(ctx context.Context, repo port.DatabaseRepository, product *domain.Product, delta int) error {
	if delta == 0 {
		return nil
	}
	if product.Quantity+delta < 0 {
		return fmt.Errorf("%w: product %d quantity %d%+d", ErrInvalidState, product.ID, product.Quantity, delta)
	}

	if err := repo.AdjustProductQuantity(ctx, product.ID, delta); err != nil {
		if errors.Is(err, port.ErrNegativeQuantity) {
			return fmt.Errorf("%w: product %d: %v", ErrInvalidState, product.ID, err)
		}
		return fmt.Errorf("adjust quantity: %w", err)
	}

	product.Quantity += delta
	product.Version++
	return nil
}
