package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/vending/internal/core/domain"
)

type SignupRequest struct {
	Username string `json:"username" validate:"required,max=150"`
	Password string `json:"password" validate:"required"`
	Email    string `json:"email" validate:"omitempty,email"`
}

type TokenRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type ProductRequest struct {
	Name     string           `json:"name" validate:"required,max=100"`
	Price    *decimal.Decimal `json:"price" validate:"required"`
	Quantity int              `json:"quantity" validate:"gte=0"`
	Image    string           `json:"image"`
	ImageURL string           `json:"image_url" validate:"omitempty,url,max=200"`
	Version  *int             `json:"version"`
}

type ProductPatchRequest struct {
	Name     *string          `json:"name" validate:"omitempty,max=100"`
	Price    *decimal.Decimal `json:"price"`
	Quantity *int             `json:"quantity" validate:"omitempty,gte=0"`
	Image    *string          `json:"image"`
	ImageURL *string          `json:"image_url" validate:"omitempty,max=200"`
	Version  *int             `json:"version"`
}

type PurchaseRequest struct {
	ProductID     int64  `json:"product_id"`
	Quantity      int    `json:"quantity" validate:"required,gt=0"`
	PaymentMethod string `json:"payment_method"`
}

type EditTransactionRequest struct {
	TransactionID int64 `json:"transaction_id"`
	Quantity      int   `json:"quantity" validate:"required,gt=0"`
}

type CancelTransactionRequest struct {
	TransactionID int64 `json:"transaction_id"`
}

type CancelTransactionResponse struct {
	TransactionID int64 `json:"transaction_id"`
}

type ListTransactionsRequest struct {
	Status        string `json:"status"`
	PaymentMethod string `json:"payment_method"`
	Ordering      string `json:"ordering"`
	Page          int    `json:"page"`
}

type ListProductsRequest struct {
	Name     string `json:"name"`
	Price    string `json:"price"`
	Search   string `json:"search"`
	Ordering string `json:"ordering"`
	Page     int    `json:"page"`
}

type UserResponse struct {
	ID       int64     `json:"id"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
	IsStaff  bool      `json:"is_staff"`
	Created  time.Time `json:"created_at"`
}

type AuthResponse struct {
	User  *UserResponse `json:"user,omitempty"`
	Token string        `json:"token"`
}

type ProductResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Price     string    `json:"price"`
	Quantity  int       `json:"quantity"`
	Image     string    `json:"image"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type TransactionResponse struct {
	ID            int64            `json:"id"`
	ProductID     int64            `json:"product_id"`
	Product       *ProductResponse `json:"product,omitempty"`
	UserID        *int64           `json:"user_id"`
	Quantity      int              `json:"quantity"`
	TotalAmount   string           `json:"total_amount"`
	PaymentMethod string           `json:"payment_method"`
	Status        string           `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

type ProductPageResponse struct {
	Count    int               `json:"count"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
	Results  []ProductResponse `json:"results"`
}

type TransactionPageResponse struct {
	Count    int                   `json:"count"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"page_size"`
	Results  []TransactionResponse `json:"results"`
}

func toUserResponse(u *domain.User) *UserResponse {
	if u == nil {
		return nil
	}
	return &UserResponse{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		IsStaff:  u.IsStaff,
		Created:  u.CreatedAt,
	}
}

func toProductResponse(p domain.Product) ProductResponse {
	return ProductResponse{
		ID:        p.ID,
		Name:      p.Name,
		Price:     p.Price.StringFixed(2),
		Quantity:  p.Quantity,
		Image:     p.ImageSource(),
		Version:   p.Version,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func toTransactionResponse(t domain.Transaction) TransactionResponse {
	resp := TransactionResponse{
		ID:            t.ID,
		ProductID:     t.ProductID,
		UserID:        t.UserID,
		Quantity:      t.Quantity,
		TotalAmount:   t.TotalAmount.StringFixed(2),
		PaymentMethod: string(t.PaymentMethod),
		Status:        string(t.Status),
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
	if t.Product != nil {
		product := toProductResponse(*t.Product)
		resp.Product = &product
	}
	return resp
}

func toProductPageResponse(page *domain.ProductPage) ProductPageResponse {
	resp := ProductPageResponse{
		Count:    page.Count,
		Page:     page.Page,
		PageSize: page.PageSize,
		Results:  make([]ProductResponse, 0, len(page.Results)),
	}
	for _, p := range page.Results {
		resp.Results = append(resp.Results, toProductResponse(p))
	}
	return resp
}

func toTransactionPageResponse(page *domain.TransactionPage) TransactionPageResponse {
	resp := TransactionPageResponse{
		Count:    page.Count,
		Page:     page.Page,
		PageSize: page.PageSize,
		Results:  make([]TransactionResponse, 0, len(page.Results)),
	}
	for _, t := range page.Results {
		resp.Results = append(resp.Results, toTransactionResponse(t))
	}
	return resp
}
