package port

import (
	"context"

	"github.com/rl1809/vending/internal/core/domain"
)

// DatabaseRepository is the persistence boundary. Lookups return (nil, nil)
// when the row does not exist.
type DatabaseRepository interface {
	// HandleTrx runs fn inside one atomic unit. fn receives a repository bound
	// to that unit; a non-nil error or a panic rolls everything back.
	HandleTrx(ctx context.Context, fn func(ctx context.Context, repo DatabaseRepository) error) error

	CreateProduct(ctx context.Context, product *domain.Product) error
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	GetProductByName(ctx context.Context, name string) (*domain.Product, error)

	// LockProduct reads the product and holds an exclusive lock on it until
	// the surrounding unit ends.
	LockProduct(ctx context.Context, id int64) (*domain.Product, error)

	// UpdateProduct writes catalog fields (not quantity) when product.Version
	// still matches, then bumps product.Version.
	UpdateProduct(ctx context.Context, product *domain.Product) error

	// AdjustProductQuantity applies quantity += delta, refusing to go negative.
	AdjustProductQuantity(ctx context.Context, id int64, delta int) error

	DeleteProduct(ctx context.Context, id int64) (bool, error)
	ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, int, error)

	CreateTransaction(ctx context.Context, trx *domain.Transaction) error
	GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error)
	LockTransaction(ctx context.Context, id int64) (*domain.Transaction, error)
	UpdateTransaction(ctx context.Context, trx domain.Transaction) error
	DeleteTransaction(ctx context.Context, id int64) (bool, error)
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, int, error)

	CreateUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
}
