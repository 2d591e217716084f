package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/rl1809/vending/internal/core/domain"
	"github.com/rl1809/vending/internal/port"
)

const (
	DefaultListingTTL = 300 * time.Second

	listingKeyPrefix = "product_list"
	maxNameLength    = 100
	maxImageURLLen   = 200
)

type ProductService struct {
	db       port.DatabaseRepository
	cache    port.ListingCache
	ledger   Ledger
	ttl      time.Duration
	pageSize int
}

func NewProductService(db port.DatabaseRepository, cache port.ListingCache, ttl time.Duration, pageSize int) *ProductService {
	if ttl <= 0 {
		ttl = DefaultListingTTL
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &ProductService{
		db:       db,
		cache:    cache,
		ttl:      ttl,
		pageSize: pageSize,
	}
}

type ProductInput struct {
	Name     string
	Price    decimal.Decimal
	Quantity int
	Image    string
	ImageURL string
}

func (in *ProductInput) normalize() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Image = strings.TrimSpace(in.Image)
	in.ImageURL = strings.TrimSpace(in.ImageURL)

	if err := validateName(in.Name); err != nil {
		return err
	}
	if in.Price.IsNegative() {
		return invalidInput("price must not be negative")
	}
	if in.Quantity < 0 {
		return invalidInput("quantity must not be negative")
	}
	return validateImageURL(in.ImageURL)
}

// ProductPatch carries optional catalog changes. Version, when set, must
// match the stored version.
type ProductPatch struct {
	Name     *string
	Price    *decimal.Decimal
	Quantity *int
	Image    *string
	ImageURL *string
	Version  *int
}

func (s *ProductService) Create(ctx context.Context, in ProductInput) (*domain.Product, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	existing, err := s.db.GetProductByName(ctx, in.Name)
	if err != nil {
		return nil, fmt.Errorf("get product by name: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: product %q already exists", ErrConflict, in.Name)
	}

	product := domain.Product{
		Name:     in.Name,
		Price:    in.Price,
		Quantity: in.Quantity,
		Image:    in.Image,
		ImageURL: in.ImageURL,
	}
	if err := s.db.CreateProduct(ctx, &product); err != nil {
		if errors.Is(err, port.ErrDuplicate) {
			return nil, fmt.Errorf("%w: product %q already exists", ErrConflict, in.Name)
		}
		return nil, fmt.Errorf("create product: %w", err)
	}

	invalidateListings(ctx, s.cache)
	return &product, nil
}

func (s *ProductService) Get(ctx context.Context, id int64) (*domain.Product, error) {
	product, err := s.db.GetProduct(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if product == nil {
		return nil, notFound("product %d", id)
	}
	return product, nil
}

func (s *ProductService) Update(ctx context.Context, id int64, patch ProductPatch) (*domain.Product, error) {
	if id <= 0 {
		return nil, invalidInput("product id must be positive")
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if err := validateName(name); err != nil {
			return nil, err
		}
		patch.Name = &name
	}
	if patch.Price != nil && patch.Price.IsNegative() {
		return nil, invalidInput("price must not be negative")
	}
	if patch.Quantity != nil && *patch.Quantity < 0 {
		return nil, invalidInput("quantity must not be negative")
	}
	if patch.ImageURL != nil {
		if err := validateImageURL(strings.TrimSpace(*patch.ImageURL)); err != nil {
			return nil, err
		}
	}

	var updated domain.Product
	err := s.db.HandleTrx(ctx, func(ctx context.Context, repo port.DatabaseRepository) error {
		product, err := repo.LockProduct(ctx, id)
		if err != nil {
			return fmt.Errorf("lock product: %w", err)
		}
		if product == nil {
			return notFound("product %d", id)
		}
		if patch.Version != nil && *patch.Version != product.Version {
			return fmt.Errorf("%w: product %d is at version %d", ErrConflict, id, product.Version)
		}

		if patch.Name != nil && *patch.Name != product.Name {
			other, err := repo.GetProductByName(ctx, *patch.Name)
			if err != nil {
				return fmt.Errorf("get product by name: %w", err)
			}
			if other != nil {
				return fmt.Errorf("%w: product %q already exists", ErrConflict, *patch.Name)
			}
			product.Name = *patch.Name
		}
		if patch.Price != nil {
			product.Price = *patch.Price
		}
		if patch.Image != nil {
			product.Image = strings.TrimSpace(*patch.Image)
		}
		if patch.ImageURL != nil {
			product.ImageURL = strings.TrimSpace(*patch.ImageURL)
		}

		if err := repo.UpdateProduct(ctx, product); err != nil {
			if errors.Is(err, port.ErrOptimisticLock) || errors.Is(err, port.ErrDuplicate) {
				return fmt.Errorf("%w: %v", ErrConflict, err)
			}
			return fmt.Errorf("update product: %w", err)
		}

		if patch.Quantity != nil {
			if err := s.ledger.AdjustQuantity(ctx, repo, product, *patch.Quantity-product.Quantity); err != nil {
				return err
			}
		}

		updated = *product
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	invalidateListings(ctx, s.cache)
	return &updated, nil
}

// Delete removes the product together with its transactions.
func (s *ProductService) Delete(ctx context.Context, id int64) error {
	deleted, err := s.db.DeleteProduct(ctx, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if !deleted {
		return notFound("product %d", id)
	}

	invalidateListings(ctx, s.cache)
	return nil
}

// List serves a page of products, from the listing cache when possible.
func (s *ProductService) List(ctx context.Context, filter domain.ProductFilter) (*domain.ProductPage, error) {
	filter.Name = strings.TrimSpace(filter.Name)
	filter.Search = strings.TrimSpace(filter.Search)
	if filter.Ordering == "" {
		filter.Ordering = domain.ProductOrderNameAsc
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

	logger := log.Ctx(ctx).With().Str("component", "ProductService.List").Logger()

	gen, err := s.cache.Generation(ctx)
	cacheable := err == nil
	if err != nil {
		logger.Warn().Err(err).Msg("listing cache unavailable")
	}

	key := listingKey(gen, filter)
	if cacheable {
		page, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			logger.Warn().Err(err).Str("key", key).Msg("listing cache get failed")
		} else if ok {
			return page, nil
		}
	}

	products, count, err := s.db.ListProducts(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	if products == nil {
		products = []domain.Product{}
	}

	page := domain.ProductPage{
		Count:    count,
		Page:     filter.Page,
		PageSize: filter.PageSize,
		Results:  products,
	}

	if cacheable {
		if err := s.cache.Put(ctx, key, page, s.ttl); err != nil {
			logger.Warn().Err(err).Str("key", key).Msg("listing cache put failed")
		}
	}
	return &page, nil
}

// Seed creates every product whose name is not yet taken and leaves
// existing ones untouched. It returns how many were created.
func (s *ProductService) Seed(ctx context.Context, products []ProductInput) (int, error) {
	created := 0
	for _, in := range products {
		_, err := s.Create(ctx, in)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("seed %q: %w", in.Name, err)
		}
		created++
	}
	return created, nil
}

// InitialProducts is the catalog a fresh machine is loaded with.
func InitialProducts() []ProductInput {
	return []ProductInput{
		{Name: "coke", Price: decimal.RequireFromString("20.00"), Quantity: 5},
		{Name: "fanta", Price: decimal.RequireFromString("15.00"), Quantity: 3},
		{Name: "chips", Price: decimal.RequireFromString("15.00"), Quantity: 4},
		{Name: "snickers", Price: decimal.RequireFromString("10.00"), Quantity: 5},
	}
}

func validateName(name string) error {
	if name == "" {
		return invalidInput("name is required")
	}
	if len(name) > maxNameLength {
		return invalidInput("name must be at most %d characters", maxNameLength)
	}
	return nil
}

func validateImageURL(raw string) error {
	if raw == "" {
		return nil
	}
	if len(raw) > maxImageURLLen {
		return invalidInput("image_url must be at most %d characters", maxImageURLLen)
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalidInput("image_url must be an http(s) URL")
	}
	return nil
}

func listingKey(gen int64, filter domain.ProductFilter) string {
	q := url.Values{}
	q.Set("page", fmt.Sprint(filter.Page))
	q.Set("size", fmt.Sprint(filter.PageSize))
	q.Set("ordering", string(filter.Ordering))
	if filter.Name != "" {
		q.Set("name", filter.Name)
	}
	if filter.Price != nil {
		q.Set("price", filter.Price.StringFixed(2))
	}
	if filter.Search != "" {
		q.Set("search", strings.ToLower(filter.Search))
	}
	return fmt.Sprintf("%s:%d:%s", listingKeyPrefix, gen, q.Encode())
}

// invalidateListings runs after commit. A failure leaves at most a stale
// page until its TTL; it never affects the committed ledger change.
func invalidateListings(ctx context.Context, cache port.ListingCache) {
	if cache == nil {
		return
	}
	if err := cache.Invalidate(ctx); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("component", "invalidateListings").Msg("listing cache invalidation failed")
	}
}
