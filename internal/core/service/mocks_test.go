package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/vending/internal/adapter/storage"
	"github.com/rl1809/vending/internal/core/domain"
	"github.com/rl1809/vending/internal/port"
)

// Mock ListingCache
type mockListingCache struct {
	mu            sync.Mutex
	generation    int64
	pages         map[string]domain.ProductPage
	hits          int
	invalidations int
	err           error
}

func newMockListingCache() *mockListingCache {
	return &mockListingCache{pages: make(map[string]domain.ProductPage)}
}

func (m *mockListingCache) Generation(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	return m.generation, nil
}

func (m *mockListingCache) Get(ctx context.Context, key string) (*domain.ProductPage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	page, ok := m.pages[key]
	if !ok {
		return nil, false, nil
	}
	m.hits++
	return &page, true, nil
}

func (m *mockListingCache) Put(ctx context.Context, key string, page domain.ProductPage, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.pages[key] = page
	return nil
}

func (m *mockListingCache) Invalidate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidations++
	if m.err != nil {
		return m.err
	}
	m.generation++
	m.pages = make(map[string]domain.ProductPage)
	return nil
}

func (m *mockListingCache) invalidationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invalidations
}

// Mock EventPublisher
type mockPublisher struct {
	mu     sync.Mutex
	events []domain.TransactionEvent
	err    error
}

func (m *mockPublisher) Publish(ctx context.Context, event domain.TransactionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.err
}

// failingRepo injects a storage failure into the quantity write of every
// atomic unit.
type failingRepo struct {
	port.DatabaseRepository
	adjustErr error
}

func (f *failingRepo) HandleTrx(ctx context.Context, fn func(ctx context.Context, repo port.DatabaseRepository) error) error {
	return f.DatabaseRepository.HandleTrx(ctx, func(ctx context.Context, repo port.DatabaseRepository) error {
		return fn(ctx, &failingRepo{DatabaseRepository: repo, adjustErr: f.adjustErr})
	})
}

func (f *failingRepo) AdjustProductQuantity(ctx context.Context, id int64, delta int) error {
	if f.adjustErr != nil {
		return f.adjustErr
	}
	return f.DatabaseRepository.AdjustProductQuantity(ctx, id, delta)
}

type testEnv struct {
	repo         *storage.MemoryAdapter
	cache        *mockListingCache
	events       *mockPublisher
	products     *ProductService
	transactions *TransactionService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:   storage.NewMemoryAdapter(),
		cache:  newMockListingCache(),
		events: &mockPublisher{},
	}
	env.products = NewProductService(env.repo, env.cache, time.Minute, DefaultPageSize)
	env.transactions = NewTransactionService(env.repo, env.cache, env.events, DefaultPageSize)
	return env
}

func (e *testEnv) createProduct(t *testing.T, name, price string, quantity int) *domain.Product {
	t.Helper()
	product := domain.Product{
		Name:     name,
		Price:    decimal.RequireFromString(price),
		Quantity: quantity,
	}
	if err := e.repo.CreateProduct(context.Background(), &product); err != nil {
		t.Fatalf("create product %q: %v", name, err)
	}
	return &product
}

func (e *testEnv) createUser(t *testing.T, username string) int64 {
	t.Helper()
	user := domain.User{Username: username, PasswordHash: "x"}
	if err := e.repo.CreateUser(context.Background(), &user); err != nil {
		t.Fatalf("create user %q: %v", username, err)
	}
	return user.ID
}

func (e *testEnv) quantity(t *testing.T, productID int64) int {
	t.Helper()
	product, err := e.repo.GetProduct(context.Background(), productID)
	if err != nil || product == nil {
		t.Fatalf("get product %d: %v", productID, err)
	}
	return product.Quantity
}

func (e *testEnv) transactionCount(t *testing.T) int {
	t.Helper()
	_, count, err := e.repo.ListTransactions(context.Background(), domain.TransactionFilter{})
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	return count
}
