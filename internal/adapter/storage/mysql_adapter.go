package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/rl1809/vending/internal/core/domain"
	"github.com/rl1809/vending/internal/port"
)

const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrCheckConstraint = 3819
	productColumns          = "id, name, price, quantity, image, image_url, version, created_at, updated_at"
	transactionColumns      = "id, product_id, user_id, quantity, total_amount, payment_method, status, created_at, updated_at"
	userColumns             = "id, username, email, password_hash, is_staff, created_at"
)

//go:embed migrations/schema.sql
var schemaSQL string

var productOrderColumns = map[domain.ProductOrdering]string{
	domain.ProductOrderNameAsc:      "name ASC, id ASC",
	domain.ProductOrderNameDesc:     "name DESC, id ASC",
	domain.ProductOrderPriceAsc:     "price ASC, id ASC",
	domain.ProductOrderPriceDesc:    "price DESC, id ASC",
	domain.ProductOrderQuantityAsc:  "quantity ASC, id ASC",
	domain.ProductOrderQuantityDesc: "quantity DESC, id ASC",
}

var transactionOrderColumns = map[domain.TransactionOrdering]string{
	domain.TransactionOrderCreatedAsc:  "created_at ASC, id ASC",
	domain.TransactionOrderCreatedDesc: "created_at DESC, id DESC",
	domain.TransactionOrderTotalAsc:    "total_amount ASC, id ASC",
	domain.TransactionOrderTotalDesc:   "total_amount DESC, id DESC",
}

type MySQLAdapter struct {
	db *sqlx.DB
	tx *sqlx.Tx
}

func NewMySQLAdapter(db *sqlx.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

var _ port.DatabaseRepository = (*MySQLAdapter)(nil)

// OpenMySQL opens a traced connection pool. The DSN needs parseTime=true.
func OpenMySQL(ctx context.Context, dsn string) (*sqlx.DB, error) {
	sqlDB, err := otelsql.Open("mysql", dsn,
		otelsql.WithAttributes(semconv.DBSystemMySQL),
		otelsql.WithSpanOptions(otelsql.SpanOptions{DisableQuery: true}),
	)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(25)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	db := sqlx.NewDb(sqlDB, "mysql")
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}

// Migrate creates the tables if they do not exist yet.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) ext() sqlx.ExtContext {
	if m.tx != nil {
		return m.tx
	}
	return m.db
}

func (m *MySQLAdapter) HandleTrx(ctx context.Context, fn func(ctx context.Context, repo port.DatabaseRepository) error) (err error) {
	if m.tx != nil {
		return fn(ctx, m)
	}

	tx, err := m.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("commit tx: %w", cerr)
		}
	}()

	err = fn(ctx, &MySQLAdapter{db: m.db, tx: tx})
	return err
}

func (m *MySQLAdapter) CreateProduct(ctx context.Context, product *domain.Product) error {
	result, err := m.ext().ExecContext(ctx, `
		INSERT INTO products (name, price, quantity, image, image_url)
		VALUES (?, ?, ?, ?, ?)`,
		product.Name, product.Price, product.Quantity, product.Image, product.ImageURL,
	)
	if err != nil {
		return fmt.Errorf("insert product: %w", translate(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}

	stored, err := m.GetProduct(ctx, id)
	if err != nil {
		return err
	}
	*product = *stored
	return nil
}

func (m *MySQLAdapter) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return m.getProduct(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
}

func (m *MySQLAdapter) GetProductByName(ctx context.Context, name string) (*domain.Product, error) {
	return m.getProduct(ctx, `SELECT `+productColumns+` FROM products WHERE name = ?`, name)
}

func (m *MySQLAdapter) LockProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return m.getProduct(ctx, `SELECT `+productColumns+` FROM products WHERE id = ? FOR UPDATE`, id)
}

func (m *MySQLAdapter) getProduct(ctx context.Context, query string, arg any) (*domain.Product, error) {
	var p domain.Product
	err := sqlx.GetContext(ctx, m.ext(), &p, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

func (m *MySQLAdapter) UpdateProduct(ctx context.Context, product *domain.Product) error {
	result, err := m.ext().ExecContext(ctx, `
		UPDATE products
		SET name = ?, price = ?, image = ?, image_url = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		product.Name, product.Price, product.Image, product.ImageURL,
		product.ID, product.Version,
	)
	if err != nil {
		return fmt.Errorf("update product: %w", translate(err))
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return port.ErrOptimisticLock
	}

	product.Version++
	return sqlx.GetContext(ctx, m.ext(), &product.UpdatedAt, `SELECT updated_at FROM products WHERE id = ?`, product.ID)
}

func (m *MySQLAdapter) AdjustProductQuantity(ctx context.Context, id int64, delta int) error {
	result, err := m.ext().ExecContext(ctx, `
		UPDATE products
		SET quantity = quantity + ?, version = version + 1
		WHERE id = ? AND quantity + ? >= 0`,
		delta, id, delta,
	)
	if err != nil {
		return fmt.Errorf("update quantity: %w", translate(err))
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return port.ErrNegativeQuantity
	}
	return nil
}

func (m *MySQLAdapter) DeleteProduct(ctx context.Context, id int64) (bool, error) {
	result, err := m.ext().ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete product: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (m *MySQLAdapter) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.Name != "" {
		where = append(where, "name = ?")
		args = append(args, filter.Name)
	}
	if filter.Price != nil {
		where = append(where, "price = ?")
		args = append(args, *filter.Price)
	}
	if filter.Search != "" {
		where = append(where, "name LIKE ?")
		args = append(args, "%"+escapeLike(filter.Search)+"%")
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := sqlx.GetContext(ctx, m.ext(), &total, `SELECT COUNT(*) FROM products`+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	order, ok := productOrderColumns[filter.Ordering]
	if !ok {
		order = productOrderColumns[domain.ProductOrderNameAsc]
	}
	query := `SELECT ` + productColumns + ` FROM products` + clause + ` ORDER BY ` + order
	query, args = withPage(query, args, filter.Page, filter.PageSize)

	rows := []domain.Product{}
	if err := sqlx.SelectContext(ctx, m.ext(), &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("query products: %w", err)
	}
	return rows, total, nil
}

func (m *MySQLAdapter) CreateTransaction(ctx context.Context, trx *domain.Transaction) error {
	result, err := m.ext().ExecContext(ctx, `
		INSERT INTO transactions (product_id, user_id, quantity, total_amount, payment_method, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		trx.ProductID, trx.UserID, trx.Quantity, trx.TotalAmount, trx.PaymentMethod, trx.Status,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", translate(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	stored, err := m.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	product := trx.Product
	*trx = *stored
	trx.Product = product
	return nil
}

func (m *MySQLAdapter) GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	return m.getTransaction(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
}

func (m *MySQLAdapter) LockTransaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	return m.getTransaction(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ? FOR UPDATE`, id)
}

func (m *MySQLAdapter) getTransaction(ctx context.Context, query string, id int64) (*domain.Transaction, error) {
	var t domain.Transaction
	err := sqlx.GetContext(ctx, m.ext(), &t, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query transaction: %w", err)
	}
	return &t, nil
}

func (m *MySQLAdapter) UpdateTransaction(ctx context.Context, trx domain.Transaction) error {
	result, err := m.ext().ExecContext(ctx, `
		UPDATE transactions
		SET quantity = ?, total_amount = ?, status = ?
		WHERE id = ?`,
		trx.Quantity, trx.TotalAmount, trx.Status, trx.ID,
	)
	if err != nil {
		return fmt.Errorf("update transaction: %w", translate(err))
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("update transaction %d: %w", trx.ID, sql.ErrNoRows)
	}
	return nil
}

func (m *MySQLAdapter) DeleteTransaction(ctx context.Context, id int64) (bool, error) {
	result, err := m.ext().ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete transaction: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (m *MySQLAdapter) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, int, error) {
	where := []string{"user_id = ?"}
	args := []any{filter.UserID}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.PaymentMethod != "" {
		where = append(where, "payment_method = ?")
		args = append(args, filter.PaymentMethod)
	}
	clause := " WHERE " + strings.Join(where, " AND ")

	var total int
	if err := sqlx.GetContext(ctx, m.ext(), &total, `SELECT COUNT(*) FROM transactions`+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	order, ok := transactionOrderColumns[filter.Ordering]
	if !ok {
		order = transactionOrderColumns[domain.TransactionOrderCreatedDesc]
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions` + clause + ` ORDER BY ` + order
	query, args = withPage(query, args, filter.Page, filter.PageSize)

	rows := []domain.Transaction{}
	if err := sqlx.SelectContext(ctx, m.ext(), &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("query transactions: %w", err)
	}

	if err := m.attachProducts(ctx, rows); err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (m *MySQLAdapter) attachProducts(ctx context.Context, rows []domain.Transaction) error {
	if len(rows) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(rows))
	seen := make(map[int64]bool, len(rows))
	for _, t := range rows {
		if !seen[t.ProductID] {
			seen[t.ProductID] = true
			ids = append(ids, t.ProductID)
		}
	}

	query, args, err := sqlx.In(`SELECT `+productColumns+` FROM products WHERE id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("build product query: %w", err)
	}

	var products []domain.Product
	if err := sqlx.SelectContext(ctx, m.ext(), &products, m.ext().Rebind(query), args...); err != nil {
		return fmt.Errorf("query products: %w", err)
	}

	byID := make(map[int64]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	for i := range rows {
		if p, ok := byID[rows[i].ProductID]; ok {
			rows[i].Product = &p
		}
	}
	return nil
}

func (m *MySQLAdapter) CreateUser(ctx context.Context, user *domain.User) error {
	result, err := m.ext().ExecContext(ctx, `
		INSERT INTO users (username, email, password_hash, is_staff)
		VALUES (?, ?, ?, ?)`,
		user.Username, user.Email, user.PasswordHash, user.IsStaff,
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", translate(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	stored, err := m.GetUser(ctx, id)
	if err != nil {
		return err
	}
	*user = *stored
	return nil
}

func (m *MySQLAdapter) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	return m.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (m *MySQLAdapter) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return m.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
}

func (m *MySQLAdapter) getUser(ctx context.Context, query string, arg any) (*domain.User, error) {
	var u domain.User
	err := sqlx.GetContext(ctx, m.ext(), &u, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

// translate maps driver errors the service layer reacts to onto port errors.
func translate(err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlErrDuplicateEntry:
			return fmt.Errorf("%w: %s", port.ErrDuplicate, myErr.Message)
		case mysqlErrCheckConstraint:
			return fmt.Errorf("%w: %s", port.ErrNegativeQuantity, myErr.Message)
		}
	}
	return err
}

func withPage(query string, args []any, page, size int) (string, []any) {
	if size <= 0 {
		return query, args
	}
	if page <= 0 {
		page = 1
	}
	return query + " LIMIT ? OFFSET ?", append(args, size, (page-1)*size)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
