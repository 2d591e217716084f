package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        int64           `db:"id"`
	Name      string          `db:"name"`
	Price     decimal.Decimal `db:"price"`
	Quantity  int             `db:"quantity"`
	Image     string          `db:"image"`
	ImageURL  string          `db:"image_url"`
	Version   int             `db:"version"` // optimistic locking for catalog edits
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

// ImageSource prefers the uploaded asset over the external URL.
func (p Product) ImageSource() string {
	if p.Image != "" {
		return p.Image
	}
	return p.ImageURL
}

type ProductOrdering string

const (
	ProductOrderNameAsc      ProductOrdering = "name"
	ProductOrderNameDesc     ProductOrdering = "-name"
	ProductOrderPriceAsc     ProductOrdering = "price"
	ProductOrderPriceDesc    ProductOrdering = "-price"
	ProductOrderQuantityAsc  ProductOrdering = "quantity"
	ProductOrderQuantityDesc ProductOrdering = "-quantity"
)

func (o ProductOrdering) Valid() bool {
	switch o {
	case ProductOrderNameAsc, ProductOrderNameDesc,
		ProductOrderPriceAsc, ProductOrderPriceDesc,
		ProductOrderQuantityAsc, ProductOrderQuantityDesc:
		return true
	}
	return false
}

type ProductFilter struct {
	Name     string
	Price    *decimal.Decimal
	Search   string
	Ordering ProductOrdering
	Page     int
	PageSize int
}

type ProductPage struct {
	Count    int       `json:"count"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
	Results  []Product `json:"results"`
}
