package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rl1809/vending/internal/core/domain"
	"github.com/rl1809/vending/internal/port"
)

// MemoryAdapter is an in-process DatabaseRepository. A unit started with
// HandleTrx holds the writer lock for its whole duration and works on a copy
// of the state that replaces the live state only on success.
type MemoryAdapter struct {
	mu    *sync.RWMutex
	state *memoryState
	inTx  bool
}

type memoryState struct {
	products      map[int64]domain.Product
	transactions  map[int64]domain.Transaction
	users         map[int64]domain.User
	nextProduct   int64
	nextTrx       int64
	nextUser      int64
	lastTimestamp time.Time
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		mu: &sync.RWMutex{},
		state: &memoryState{
			products:     make(map[int64]domain.Product),
			transactions: make(map[int64]domain.Transaction),
			users:        make(map[int64]domain.User),
		},
	}
}

var _ port.DatabaseRepository = (*MemoryAdapter)(nil)

func (s *memoryState) clone() *memoryState {
	c := *s
	c.products = make(map[int64]domain.Product, len(s.products))
	for k, v := range s.products {
		c.products[k] = v
	}
	c.transactions = make(map[int64]domain.Transaction, len(s.transactions))
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	c.users = make(map[int64]domain.User, len(s.users))
	for k, v := range s.users {
		c.users[k] = v
	}
	return &c
}

// now never goes backwards, matching server-assigned timestamps.
func (s *memoryState) now() time.Time {
	t := time.Now().UTC()
	if t.Before(s.lastTimestamp) {
		t = s.lastTimestamp
	}
	s.lastTimestamp = t
	return t
}

func (m *MemoryAdapter) read(fn func(s *memoryState)) {
	if !m.inTx {
		m.mu.RLock()
		defer m.mu.RUnlock()
	}
	fn(m.state)
}

func (m *MemoryAdapter) write(fn func(s *memoryState) error) error {
	if !m.inTx {
		m.mu.Lock()
		defer m.mu.Unlock()
	}
	return fn(m.state)
}

func (m *MemoryAdapter) HandleTrx(ctx context.Context, fn func(ctx context.Context, repo port.DatabaseRepository) error) (err error) {
	if m.inTx {
		return fn(ctx, m)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	work := m.state.clone()
	txRepo := &MemoryAdapter{mu: m.mu, state: work, inTx: true}

	if err := fn(ctx, txRepo); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	*m.state = *work
	return nil
}

func (m *MemoryAdapter) CreateProduct(ctx context.Context, product *domain.Product) error {
	return m.write(func(s *memoryState) error {
		for _, p := range s.products {
			if p.Name == product.Name {
				return fmt.Errorf("insert product %q: %w", product.Name, port.ErrDuplicate)
			}
		}
		s.nextProduct++
		now := s.now()
		product.ID = s.nextProduct
		product.Version = 0
		product.CreatedAt = now
		product.UpdatedAt = now
		s.products[product.ID] = *product
		return nil
	})
}

func (m *MemoryAdapter) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var out *domain.Product
	m.read(func(s *memoryState) {
		if p, ok := s.products[id]; ok {
			out = &p
		}
	})
	return out, nil
}

func (m *MemoryAdapter) GetProductByName(ctx context.Context, name string) (*domain.Product, error) {
	var out *domain.Product
	m.read(func(s *memoryState) {
		for _, p := range s.products {
			if p.Name == name {
				p := p
				out = &p
				return
			}
		}
	})
	return out, nil
}

// LockProduct is a plain read here; HandleTrx already excludes every other
// writer.
func (m *MemoryAdapter) LockProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return m.GetProduct(ctx, id)
}

func (m *MemoryAdapter) UpdateProduct(ctx context.Context, product *domain.Product) error {
	return m.write(func(s *memoryState) error {
		stored, ok := s.products[product.ID]
		if !ok || stored.Version != product.Version {
			return port.ErrOptimisticLock
		}
		for id, p := range s.products {
			if id != product.ID && p.Name == product.Name {
				return fmt.Errorf("update product %q: %w", product.Name, port.ErrDuplicate)
			}
		}

		stored.Name = product.Name
		stored.Price = product.Price
		stored.Image = product.Image
		stored.ImageURL = product.ImageURL
		stored.Version++
		stored.UpdatedAt = s.now()
		s.products[product.ID] = stored

		product.Version = stored.Version
		product.UpdatedAt = stored.UpdatedAt
		return nil
	})
}

func (m *MemoryAdapter) AdjustProductQuantity(ctx context.Context, id int64, delta int) error {
	return m.write(func(s *memoryState) error {
		p, ok := s.products[id]
		if !ok || p.Quantity+delta < 0 {
			return port.ErrNegativeQuantity
		}
		p.Quantity += delta
		p.Version++
		p.UpdatedAt = s.now()
		s.products[id] = p
		return nil
	})
}

func (m *MemoryAdapter) DeleteProduct(ctx context.Context, id int64) (bool, error) {
	var deleted bool
	err := m.write(func(s *memoryState) error {
		if _, ok := s.products[id]; !ok {
			return nil
		}
		delete(s.products, id)
		for trxID, t := range s.transactions {
			if t.ProductID == id {
				delete(s.transactions, trxID)
			}
		}
		deleted = true
		return nil
	})
	return deleted, err
}

func (m *MemoryAdapter) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, int, error) {
	var rows []domain.Product
	m.read(func(s *memoryState) {
		search := strings.ToLower(filter.Search)
		for _, p := range s.products {
			if filter.Name != "" && p.Name != filter.Name {
				continue
			}
			if filter.Price != nil && !p.Price.Equal(*filter.Price) {
				continue
			}
			if search != "" && !strings.Contains(strings.ToLower(p.Name), search) {
				continue
			}
			rows = append(rows, p)
		}
	})

	sort.Slice(rows, func(i, j int) bool {
		return lessProduct(rows[i], rows[j], filter.Ordering)
	})

	total := len(rows)
	return paginate(rows, filter.Page, filter.PageSize), total, nil
}

func lessProduct(a, b domain.Product, ordering domain.ProductOrdering) bool {
	field := strings.TrimPrefix(string(ordering), "-")
	desc := strings.HasPrefix(string(ordering), "-")

	var cmp int
	switch field {
	case "price":
		cmp = a.Price.Cmp(b.Price)
	case "quantity":
		cmp = compareInt(int64(a.Quantity), int64(b.Quantity))
	default:
		cmp = strings.Compare(a.Name, b.Name)
	}
	if cmp == 0 {
		return a.ID < b.ID
	}
	if desc {
		return cmp > 0
	}
	return cmp < 0
}

func (m *MemoryAdapter) CreateTransaction(ctx context.Context, trx *domain.Transaction) error {
	return m.write(func(s *memoryState) error {
		if _, ok := s.products[trx.ProductID]; !ok {
			return fmt.Errorf("insert transaction: product %d does not exist", trx.ProductID)
		}
		if trx.UserID != nil {
			if _, ok := s.users[*trx.UserID]; !ok {
				return fmt.Errorf("insert transaction: user %d does not exist", *trx.UserID)
			}
		}
		s.nextTrx++
		now := s.now()
		trx.ID = s.nextTrx
		trx.CreatedAt = now
		trx.UpdatedAt = now

		stored := *trx
		stored.Product = nil
		s.transactions[trx.ID] = stored
		return nil
	})
}

func (m *MemoryAdapter) GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	var out *domain.Transaction
	m.read(func(s *memoryState) {
		if t, ok := s.transactions[id]; ok {
			out = &t
		}
	})
	return out, nil
}

func (m *MemoryAdapter) LockTransaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	return m.GetTransaction(ctx, id)
}

func (m *MemoryAdapter) UpdateTransaction(ctx context.Context, trx domain.Transaction) error {
	return m.write(func(s *memoryState) error {
		stored, ok := s.transactions[trx.ID]
		if !ok {
			return fmt.Errorf("update transaction %d: not found", trx.ID)
		}
		stored.Quantity = trx.Quantity
		stored.TotalAmount = trx.TotalAmount
		stored.Status = trx.Status
		stored.UpdatedAt = s.now()
		s.transactions[trx.ID] = stored
		return nil
	})
}

func (m *MemoryAdapter) DeleteTransaction(ctx context.Context, id int64) (bool, error) {
	var deleted bool
	err := m.write(func(s *memoryState) error {
		if _, ok := s.transactions[id]; ok {
			delete(s.transactions, id)
			deleted = true
		}
		return nil
	})
	return deleted, err
}

func (m *MemoryAdapter) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, int, error) {
	var rows []domain.Transaction
	m.read(func(s *memoryState) {
		for _, t := range s.transactions {
			if filter.UserID != 0 && (t.UserID == nil || *t.UserID != filter.UserID) {
				continue
			}
			if filter.Status != "" && t.Status != filter.Status {
				continue
			}
			if filter.PaymentMethod != "" && t.PaymentMethod != filter.PaymentMethod {
				continue
			}
			if p, ok := s.products[t.ProductID]; ok {
				t.Product = &p
			}
			rows = append(rows, t)
		}
	})

	sort.Slice(rows, func(i, j int) bool {
		return lessTransaction(rows[i], rows[j], filter.Ordering)
	})

	total := len(rows)
	return paginate(rows, filter.Page, filter.PageSize), total, nil
}

func lessTransaction(a, b domain.Transaction, ordering domain.TransactionOrdering) bool {
	desc := ordering == "" || strings.HasPrefix(string(ordering), "-")

	var cmp int
	switch strings.TrimPrefix(string(ordering), "-") {
	case "total_amount":
		cmp = a.TotalAmount.Cmp(b.TotalAmount)
	default:
		cmp = a.CreatedAt.Compare(b.CreatedAt)
	}
	if cmp == 0 {
		cmp = compareInt(a.ID, b.ID)
	}
	if desc {
		return cmp > 0
	}
	return cmp < 0
}

func (m *MemoryAdapter) CreateUser(ctx context.Context, user *domain.User) error {
	return m.write(func(s *memoryState) error {
		for _, u := range s.users {
			if u.Username == user.Username {
				return fmt.Errorf("insert user %q: %w", user.Username, port.ErrDuplicate)
			}
		}
		s.nextUser++
		user.ID = s.nextUser
		user.CreatedAt = s.now()
		s.users[user.ID] = *user
		return nil
	})
}

func (m *MemoryAdapter) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	var out *domain.User
	m.read(func(s *memoryState) {
		if u, ok := s.users[id]; ok {
			out = &u
		}
	})
	return out, nil
}

func (m *MemoryAdapter) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var out *domain.User
	m.read(func(s *memoryState) {
		for _, u := range s.users {
			if u.Username == username {
				u := u
				out = &u
				return
			}
		}
	})
	return out, nil
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func paginate[T any](rows []T, page, size int) []T {
	if size <= 0 {
		return rows
	}
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * size
	if start >= len(rows) {
		return []T{}
	}
	end := start + size
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end]
}
