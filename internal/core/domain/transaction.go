package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusCompleted, TransactionStatusFailed:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodCash PaymentMethod = "cash"
	PaymentMethodApp  PaymentMethod = "app"
)

// ParsePaymentMethod accepts "cash"/"app" in any case.
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	m := PaymentMethod(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case PaymentMethodCash, PaymentMethodApp:
		return m, true
	}
	return "", false
}

type Transaction struct {
	ID            int64             `db:"id"`
	ProductID     int64             `db:"product_id"`
	UserID        *int64            `db:"user_id"`
	Quantity      int               `db:"quantity"`
	TotalAmount   decimal.Decimal   `db:"total_amount"`
	PaymentMethod PaymentMethod     `db:"payment_method"`
	Status        TransactionStatus `db:"status"`
	CreatedAt     time.Time         `db:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at"`

	Product *Product `db:"-"`
}

// ApplyDefaults fills the total from the unit price when none was supplied.
func (t *Transaction) ApplyDefaults(price decimal.Decimal) {
	if t.TotalAmount.IsZero() {
		t.TotalAmount = LineTotal(price, t.Quantity)
	}
	if t.Status == "" {
		t.Status = TransactionStatusPending
	}
}

// OwnedBy reports whether userID placed the transaction. Anonymous purchases
// belong to nobody.
func (t Transaction) OwnedBy(userID int64) bool {
	return userID != 0 && t.UserID != nil && *t.UserID == userID
}

func LineTotal(price decimal.Decimal, quantity int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(quantity))).Round(2)
}

type TransactionOrdering string

const (
	TransactionOrderCreatedAsc  TransactionOrdering = "created_at"
	TransactionOrderCreatedDesc TransactionOrdering = "-created_at"
	TransactionOrderTotalAsc    TransactionOrdering = "total_amount"
	TransactionOrderTotalDesc   TransactionOrdering = "-total_amount"
)

func (o TransactionOrdering) Valid() bool {
	switch o {
	case TransactionOrderCreatedAsc, TransactionOrderCreatedDesc,
		TransactionOrderTotalAsc, TransactionOrderTotalDesc:
		return true
	}
	return false
}

type TransactionFilter struct {
	UserID        int64
	Status        TransactionStatus
	PaymentMethod PaymentMethod
	Ordering      TransactionOrdering
	Page          int
	PageSize      int
}

type TransactionPage struct {
	Count    int           `json:"count"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	Results  []Transaction `json:"results"`
}
