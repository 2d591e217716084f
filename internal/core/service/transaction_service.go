package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rl1809/vending/internal/core/domain"
	"github.com/rl1809/vending/internal/port"
)

const DefaultPageSize = 6

type TransactionService struct {
	db       port.DatabaseRepository
	cache    port.ListingCache
	events   port.EventPublisher
	ledger   Ledger
	pageSize int
}

func NewTransactionService(db port.DatabaseRepository, cache port.ListingCache, events port.EventPublisher, pageSize int) *TransactionService {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &TransactionService{
		db:       db,
		cache:    cache,
		events:   events,
		pageSize: pageSize,
	}
}

type PurchaseRequest struct {
	ProductID     int64
	Quantity      int
	PaymentMethod domain.PaymentMethod
	ActorID       int64 // 0 for anonymous or system purchases
}

func (r PurchaseRequest) validate() error {
	if r.ProductID <= 0 {
		return invalidInput("product id must be positive")
	}
	if r.Quantity <= 0 {
		return invalidInput("quantity must be greater than 0")
	}
	if _, ok := domain.ParsePaymentMethod(string(r.PaymentMethod)); !ok {
		return invalidInput("unknown payment method %q", r.PaymentMethod)
	}
	return nil
}

func (s *TransactionService) Purchase(ctx context.Context, req PurchaseRequest) (*domain.Transaction, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	method, _ := domain.ParsePaymentMethod(string(req.PaymentMethod))

	var trx domain.Transaction
	err := s.db.HandleTrx(ctx, func(ctx context.Context, repo port.DatabaseRepository) error {
		product, err := repo.LockProduct(ctx, req.ProductID)
		if err != nil {
			return fmt.Errorf("lock product: %w", err)
		}
		if product == nil {
			return notFound("product %d", req.ProductID)
		}

		if !s.ledger.CheckAvailable(*product, req.Quantity) {
			return &InsufficientStockError{Available: product.Quantity, Requested: req.Quantity}
		}

		trx = domain.Transaction{
			ProductID:     product.ID,
			UserID:        actorRef(req.ActorID),
			Quantity:      req.Quantity,
			PaymentMethod: method,
			Status:        domain.TransactionStatusCompleted,
		}
		trx.ApplyDefaults(product.Price)
		if err := repo.CreateTransaction(ctx, &trx); err != nil {
			return fmt.Errorf("create transaction: %w", err)
		}

		if err := s.ledger.AdjustQuantity(ctx, repo, product, -req.Quantity); err != nil {
			return err
		}

		trx.Product = product
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	s.afterCommit(ctx, domain.EventTransactionCreated, trx, -trx.Quantity)
	return &trx, nil
}

// EditQuantity reprices the transaction at the product's current price.
func (s *TransactionService) EditQuantity(ctx context.Context, id int64, newQuantity int, actorID int64) (*domain.Transaction, error) {
	if id <= 0 {
		return nil, invalidInput("transaction id must be positive")
	}
	if newQuantity <= 0 {
		return nil, invalidInput("quantity must be greater than 0")
	}

	var (
		trx   domain.Transaction
		delta int
	)
	err := s.db.HandleTrx(ctx, func(ctx context.Context, repo port.DatabaseRepository) error {
		current, product, err := s.lockOwned(ctx, repo, id, actorID)
		if err != nil {
			return err
		}

		delta = newQuantity - current.Quantity
		if delta > 0 && !s.ledger.CheckAvailable(*product, delta) {
			return &InsufficientStockError{Available: product.Quantity, Requested: delta}
		}

		// consuming delta units; a negative delta hands stock back
		if err := s.ledger.AdjustQuantity(ctx, repo, product, -delta); err != nil {
			return err
		}

		current.Quantity = newQuantity
		current.TotalAmount = domain.LineTotal(product.Price, newQuantity)
		if err := repo.UpdateTransaction(ctx, *current); err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}

		trx = *current
		trx.Product = product
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	s.afterCommit(ctx, domain.EventTransactionUpdated, trx, -delta)
	return &trx, nil
}

func (s *TransactionService) Cancel(ctx context.Context, id int64, actorID int64) error {
	if id <= 0 {
		return invalidInput("transaction id must be positive")
	}

	var trx domain.Transaction
	err := s.db.HandleTrx(ctx, func(ctx context.Context, repo port.DatabaseRepository) error {
		current, product, err := s.lockOwned(ctx, repo, id, actorID)
		if err != nil {
			return err
		}

		if err := s.ledger.AdjustQuantity(ctx, repo, product, current.Quantity); err != nil {
			return err
		}

		deleted, err := repo.DeleteTransaction(ctx, id)
		if err != nil {
			return fmt.Errorf("delete transaction: %w", err)
		}
		if !deleted {
			return notFound("transaction %d", id)
		}

		trx = *current
		trx.Product = product
		return nil
	})
	if err != nil {
		return classify(err)
	}

	s.afterCommit(ctx, domain.EventTransactionCancelled, trx, trx.Quantity)
	return nil
}

func (s *TransactionService) Get(ctx context.Context, id int64, actorID int64) (*domain.Transaction, error) {
	trx, err := s.db.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if trx == nil || !trx.OwnedBy(actorID) {
		return nil, notFound("transaction %d", id)
	}

	product, err := s.db.GetProduct(ctx, trx.ProductID)
	if err != nil {
		return nil, err
	}
	trx.Product = product
	return trx, nil
}

func (s *TransactionService) ListForActor(ctx context.Context, actorID int64, filter domain.TransactionFilter) (*domain.TransactionPage, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, invalidInput("unknown status %q", filter.Status)
	}
	if filter.PaymentMethod != "" {
		method, ok := domain.ParsePaymentMethod(string(filter.PaymentMethod))
		if !ok {
			return nil, invalidInput("unknown payment method %q", filter.PaymentMethod)
		}
		filter.PaymentMethod = method
	}
	if filter.Ordering == "" {
		filter.Ordering = domain.TransactionOrderCreatedDesc
	}
	if !filter.Ordering.Valid() {
		return nil, invalidInput("unsupported ordering %q", filter.Ordering)
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = s.pageSize
	}

	page := &domain.TransactionPage{Page: filter.Page, PageSize: filter.PageSize, Results: []domain.Transaction{}}
	if actorID == 0 {
		return page, nil
	}
	filter.UserID = actorID

	rows, count, err := s.db.ListTransactions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	page.Count = count
	page.Results = rows
	return page, nil
}

// lockOwned locks the product before the transaction row so that every
// ledger unit acquires locks in the same order.
func (s *TransactionService) lockOwned(ctx context.Context, repo port.DatabaseRepository, id, actorID int64) (*domain.Transaction, *domain.Product, error) {
	peek, err := repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("get transaction: %w", err)
	}
	if peek == nil || !peek.OwnedBy(actorID) {
		return nil, nil, notFound("transaction %d", id)
	}

	product, err := repo.LockProduct(ctx, peek.ProductID)
	if err != nil {
		return nil, nil, fmt.Errorf("lock product: %w", err)
	}
	if product == nil {
		return nil, nil, notFound("product %d", peek.ProductID)
	}

	current, err := repo.LockTransaction(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("lock transaction: %w", err)
	}
	if current == nil {
		return nil, nil, notFound("transaction %d", id)
	}
	return current, product, nil
}

func (s *TransactionService) afterCommit(ctx context.Context, kind domain.EventType, trx domain.Transaction, delta int) {
	invalidateListings(ctx, s.cache)

	if s.events == nil {
		return
	}
	event := domain.TransactionEvent{
		ID:            uuid.NewString(),
		Type:          kind,
		TransactionID: trx.ID,
		ProductID:     trx.ProductID,
		UserID:        trx.UserID,
		Quantity:      trx.Quantity,
		Delta:         delta,
		TotalAmount:   trx.TotalAmount.StringFixed(2),
		OccurredAt:    time.Now().UTC(),
	}
	if err := s.events.Publish(ctx, event); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("component", "TransactionService").
			Str("event", string(kind)).Int64("transaction_id", trx.ID).Msg("publish event failed")
	}
}

func actorRef(actorID int64) *int64 {
	if actorID == 0 {
		return nil
	}
	id := actorID
	return &id
}
