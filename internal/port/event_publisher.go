package port

import (
	"context"

	"github.com/rl1809/vending/internal/core/domain"
)

type EventPublisher interface {
	Publish(ctx context.Context, event domain.TransactionEvent) error
}
