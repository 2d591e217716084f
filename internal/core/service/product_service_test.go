package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/vending/internal/core/domain"
)

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestProductCreate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	product, err := env.products.Create(ctx, ProductInput{
		Name:     "  coke ",
		Price:    price("20.00"),
		Quantity: 5,
		ImageURL: "https://cdn.example.com/coke.png",
	})
	require.NoError(t, err)
	assert.NotZero(t, product.ID)
	assert.Equal(t, "coke", product.Name)
	assert.Equal(t, "https://cdn.example.com/coke.png", product.ImageSource())
	assert.Equal(t, 1, env.cache.invalidationCount())

	_, err = env.products.Create(ctx, ProductInput{Name: "coke", Price: price("1.00")})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestProductCreate_InvalidInput(t *testing.T) {
	env := newTestEnv(t)

	cases := map[string]ProductInput{
		"empty name":        {Name: " ", Price: price("1.00")},
		"long name":         {Name: fmt.Sprintf("%0101d", 0), Price: price("1.00")},
		"negative price":    {Name: "a", Price: price("-0.01")},
		"negative quantity": {Name: "a", Price: price("1.00"), Quantity: -1},
		"bad image url":     {Name: "a", Price: price("1.00"), ImageURL: "ftp://example.com/a.png"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.products.Create(context.Background(), in)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestProductUpdate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	coke := env.createProduct(t, "coke", "20.00", 5)
	env.createProduct(t, "fanta", "15.00", 3)

	quantity := 8
	newPrice := price("22.50")
	updated, err := env.products.Update(ctx, coke.ID, ProductPatch{Quantity: &quantity, Price: &newPrice})
	require.NoError(t, err)
	assert.Equal(t, 8, updated.Quantity)
	assert.True(t, updated.Price.Equal(newPrice))
	assert.Equal(t, 8, env.quantity(t, coke.ID))
	assert.Equal(t, 1, env.cache.invalidationCount())

	stored, err := env.products.Get(ctx, coke.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.Version, stored.Version)

	stale := stored.Version - 1
	_, err = env.products.Update(ctx, coke.ID, ProductPatch{Price: &newPrice, Version: &stale})
	assert.ErrorIs(t, err, ErrConflict)

	taken := "fanta"
	_, err = env.products.Update(ctx, coke.ID, ProductPatch{Name: &taken})
	assert.ErrorIs(t, err, ErrConflict)

	negative := -1
	_, err = env.products.Update(ctx, coke.ID, ProductPatch{Quantity: &negative})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.products.Update(ctx, 999, ProductPatch{Price: &newPrice})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 8, env.quantity(t, coke.ID))
}

func TestProductDelete_CascadesTransactions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	coke := env.createProduct(t, "coke", "20.00", 5)

	trx, err := env.transactions.Purchase(ctx, PurchaseRequest{ProductID: coke.ID, Quantity: 1, PaymentMethod: "app"})
	require.NoError(t, err)

	require.NoError(t, env.products.Delete(ctx, coke.ID))

	gone, err := env.repo.GetTransaction(ctx, trx.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	_, err = env.products.Get(ctx, coke.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, env.products.Delete(ctx, coke.ID), ErrNotFound)
}

func TestProductList(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		env.createProduct(t, fmt.Sprintf("item-%d", i), fmt.Sprintf("%d.00", i+1), i)
	}
	env.createProduct(t, "Coke Zero", "3.00", 1)

	page, err := env.products.List(ctx, domain.ProductFilter{})
	require.NoError(t, err)
	assert.Equal(t, 9, page.Count)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, DefaultPageSize, page.PageSize)
	require.Len(t, page.Results, DefaultPageSize)
	assert.Equal(t, "Coke Zero", page.Results[0].Name)

	page, err = env.products.List(ctx, domain.ProductFilter{Page: 2})
	require.NoError(t, err)
	assert.Len(t, page.Results, 3)

	page, err = env.products.List(ctx, domain.ProductFilter{Search: "coke"})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "Coke Zero", page.Results[0].Name)

	three := price("3")
	page, err = env.products.List(ctx, domain.ProductFilter{Price: &three, Ordering: domain.ProductOrderNameDesc})
	require.NoError(t, err)
	require.Len(t, page.Results, 2)
	assert.Equal(t, "item-2", page.Results[0].Name)

	page, err = env.products.List(ctx, domain.ProductFilter{Ordering: domain.ProductOrderQuantityDesc})
	require.NoError(t, err)
	assert.Equal(t, "item-7", page.Results[0].Name)

	_, err = env.products.List(ctx, domain.ProductFilter{Ordering: "stock"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestProductList_ServedFromCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createProduct(t, "coke", "20.00", 5)

	_, err := env.products.List(ctx, domain.ProductFilter{})
	require.NoError(t, err)
	assert.Equal(t, 0, env.cache.hits)

	page, err := env.products.List(ctx, domain.ProductFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, env.cache.hits)
	require.Len(t, page.Results, 1)

	// a different page is a different key
	_, err = env.products.List(ctx, domain.ProductFilter{Page: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, env.cache.hits)
}

func TestProductList_CacheUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.cache.err = errors.New("redis down")
	env.createProduct(t, "coke", "20.00", 5)

	page, err := env.products.List(context.Background(), domain.ProductFilter{})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, 5, page.Results[0].Quantity)
}

func TestProductSeed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.products.Seed(ctx, InitialProducts())
	require.NoError(t, err)
	assert.Equal(t, 4, created)

	created, err = env.products.Seed(ctx, InitialProducts())
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	coke, err := env.repo.GetProductByName(ctx, "coke")
	require.NoError(t, err)
	require.NotNil(t, coke)
	assert.True(t, coke.Price.Equal(price("20.00")))
	assert.Equal(t, 5, coke.Quantity)
}

func TestListingKey(t *testing.T) {
	filter := domain.ProductFilter{Ordering: domain.ProductOrderNameAsc, Page: 1, PageSize: 6}

	assert.NotEqual(t, listingKey(1, filter), listingKey(2, filter))

	searched := filter
	searched.Search = "Coke"
	lower := filter
	lower.Search = "coke"
	assert.Equal(t, listingKey(1, searched), listingKey(1, lower))
	assert.NotEqual(t, listingKey(1, filter), listingKey(1, searched))
}
