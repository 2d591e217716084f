package storage

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/rl1809/vending/internal/core/domain"
	"github.com/rl1809/vending/internal/port"
)

func getMySQLAdapter(t *testing.T) (*MySQLAdapter, *sqlx.DB) {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/vending?parseTime=true"
	}

	db, err := OpenMySQL(context.Background(), dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	adapter := NewMySQLAdapter(db)
	if err := adapter.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	return adapter, db
}

func cleanupProduct(t *testing.T, db *sqlx.DB, name string) {
	t.Helper()
	db.ExecContext(context.Background(), `DELETE FROM products WHERE name = ?`, name)
	t.Cleanup(func() {
		db.ExecContext(context.Background(), `DELETE FROM products WHERE name = ?`, name)
	})
}

func TestMySQL_CreateProduct(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	cleanupProduct(t, db, "test-coke")
	ctx := context.Background()

	p := domain.Product{Name: "test-coke", Price: decimal.RequireFromString("20.00"), Quantity: 5}
	if err := adapter.CreateProduct(ctx, &p); err != nil {
		t.Fatalf("CreateProduct failed: %v", err)
	}
	if p.ID == 0 || p.CreatedAt.IsZero() {
		t.Errorf("expected server-assigned fields, got %+v", p)
	}

	dup := domain.Product{Name: "test-coke", Price: decimal.NewFromInt(1)}
	if err := adapter.CreateProduct(ctx, &dup); !errors.Is(err, port.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	stored, err := adapter.GetProductByName(ctx, "test-coke")
	if err != nil || stored == nil {
		t.Fatalf("GetProductByName failed: %v", err)
	}
	if !stored.Price.Equal(decimal.RequireFromString("20")) {
		t.Errorf("expected price 20.00, got %s", stored.Price)
	}
}

func TestMySQL_AdjustQuantityNeverNegative(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	cleanupProduct(t, db, "test-fanta")
	ctx := context.Background()

	p := domain.Product{Name: "test-fanta", Price: decimal.RequireFromString("15.00"), Quantity: 1}
	if err := adapter.CreateProduct(ctx, &p); err != nil {
		t.Fatalf("CreateProduct failed: %v", err)
	}

	if err := adapter.AdjustProductQuantity(ctx, p.ID, -2); !errors.Is(err, port.ErrNegativeQuantity) {
		t.Errorf("expected ErrNegativeQuantity, got %v", err)
	}
	if err := adapter.AdjustProductQuantity(ctx, p.ID, -1); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	stored, _ := adapter.GetProduct(ctx, p.ID)
	if stored.Quantity != 0 {
		t.Errorf("expected quantity 0, got %d", stored.Quantity)
	}
}

func TestMySQL_HandleTrxRollback(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	cleanupProduct(t, db, "test-chips")
	ctx := context.Background()

	p := domain.Product{Name: "test-chips", Price: decimal.RequireFromString("15.00"), Quantity: 4}
	if err := adapter.CreateProduct(ctx, &p); err != nil {
		t.Fatalf("CreateProduct failed: %v", err)
	}

	boom := errors.New("boom")
	err := adapter.HandleTrx(ctx, func(ctx context.Context, tx port.DatabaseRepository) error {
		trx := domain.Transaction{ProductID: p.ID, Quantity: 2, PaymentMethod: domain.PaymentMethodCash}
		trx.ApplyDefaults(p.Price)
		if err := tx.CreateTransaction(ctx, &trx); err != nil {
			return err
		}
		if err := tx.AdjustProductQuantity(ctx, p.ID, -2); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	stored, _ := adapter.GetProduct(ctx, p.ID)
	if stored.Quantity != 4 {
		t.Errorf("expected quantity 4 after rollback, got %d", stored.Quantity)
	}

	var count int
	db.GetContext(ctx, &count, `SELECT COUNT(*) FROM transactions WHERE product_id = ?`, p.ID)
	if count != 0 {
		t.Errorf("expected no transactions after rollback, got %d", count)
	}
}

func TestMySQL_ConcurrentLastUnit(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	cleanupProduct(t, db, "test-snickers")
	ctx := context.Background()

	p := domain.Product{Name: "test-snickers", Price: decimal.RequireFromString("10.00"), Quantity: 1}
	if err := adapter.CreateProduct(ctx, &p); err != nil {
		t.Fatalf("CreateProduct failed: %v", err)
	}

	var (
		wg      sync.WaitGroup
		success atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := adapter.HandleTrx(ctx, func(ctx context.Context, tx port.DatabaseRepository) error {
				locked, err := tx.LockProduct(ctx, p.ID)
				if err != nil {
					return err
				}
				if locked.Quantity < 1 {
					return port.ErrNegativeQuantity
				}
				trx := domain.Transaction{ProductID: p.ID, Quantity: 1, PaymentMethod: domain.PaymentMethodApp}
				trx.ApplyDefaults(locked.Price)
				if err := tx.CreateTransaction(ctx, &trx); err != nil {
					return err
				}
				return tx.AdjustProductQuantity(ctx, p.ID, -1)
			})
			if err == nil {
				success.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := success.Load(); got != 1 {
		t.Errorf("expected exactly one purchase, got %d", got)
	}

	stored, _ := adapter.GetProduct(ctx, p.ID)
	if stored.Quantity != 0 {
		t.Errorf("expected quantity 0, got %d", stored.Quantity)
	}

	var count int
	db.GetContext(ctx, &count, `SELECT COUNT(*) FROM transactions WHERE product_id = ?`, p.ID)
	if count != 1 {
		t.Errorf("expected one transaction row, got %d", count)
	}
}
