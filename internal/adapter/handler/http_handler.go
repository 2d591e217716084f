package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/rl1809/vending/internal/core/domain"
	"github.com/rl1809/vending/internal/core/service"
)

type HTTPHandler struct {
	products     *service.ProductService
	transactions *service.TransactionService
	auth         *service.AuthService
}

func NewHTTPHandler(products *service.ProductService, transactions *service.TransactionService, auth *service.AuthService) *HTTPHandler {
	return &HTTPHandler{
		products:     products,
		transactions: transactions,
		auth:         auth,
	}
}

// Register mounts every route on e. throttlePerHour bounds product requests
// per user; zero disables throttling.
func (h *HTTPHandler) Register(e *echo.Echo, throttlePerHour int) {
	if e.Validator == nil {
		e.Validator = NewValidator()
	}
	e.GET("/health", h.HealthCheck)

	api := e.Group("/api")
	api.POST("/signup", h.Signup)
	api.POST("/token", h.Login)

	secured := api.Group("", Authenticate(h.auth))
	secured.GET("/users/me", h.Me)

	products := secured.Group("/products", Throttle(throttlePerHour))
	products.GET("", h.ListProducts)
	products.GET("/:id", h.GetProduct)
	products.POST("", h.CreateProduct, RequireStaff)
	products.PUT("/:id", h.ReplaceProduct, RequireStaff)
	products.PATCH("/:id", h.PatchProduct, RequireStaff)
	products.DELETE("/:id", h.DeleteProduct, RequireStaff)
	products.POST("/:id/purchase", h.Purchase)

	transactions := secured.Group("/transactions")
	transactions.GET("", h.ListTransactions)
	transactions.GET("/:id", h.GetTransaction)
	transactions.PUT("/:id", h.EditTransaction)
	transactions.PATCH("/:id", h.EditTransaction)
	transactions.DELETE("/:id", h.CancelTransaction)
}

func (h *HTTPHandler) HealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) Signup(c echo.Context) error {
	var req SignupRequest
	if err := bindAndValidate(c, &req); err != nil {
		return writeError(c, err)
	}

	user, token, err := h.auth.Signup(c.Request().Context(), service.SignupInput{
		Username: req.Username,
		Password: req.Password,
		Email:    req.Email,
	})
	if err != nil {
		return writeError(c, err)
	}
	return writeSuccess(c, http.StatusCreated, "user registered", AuthResponse{User: toUserResponse(user), Token: token})
}

func (h *HTTPHandler) Login(c echo.Context) error {
	var req TokenRequest
	if err := bindAndValidate(c, &req); err != nil {
		return writeError(c, err)
	}

	token, err := h.auth.Login(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return writeError(c, err)
	}
	return writeSuccess(c, http.StatusOK, "", AuthResponse{Token: token})
}

func (h *HTTPHandler) Me(c echo.Context) error {
	user, err := h.auth.Me(c.Request().Context(), actorID(c))
	if err != nil {
		return writeError(c, err)
	}
	return writeSuccess(c, http.StatusOK, "", toUserResponse(user))
}

func (h *HTTPHandler) ListProducts(c echo.Context) error {
	filter := domain.ProductFilter{
		Name:     c.QueryParam("name"),
		Search:   c.QueryParam("search"),
		Ordering: domain.ProductOrdering(c.QueryParam("ordering")),
	}
	if raw := strings.TrimSpace(c.QueryParam("price")); raw != "" {
		price, err := decimal.NewFromString(raw)
		if err != nil {
			return writeFailure(c, http.StatusBadRequest, "price must be a decimal number", nil)
		}
		filter.Price = &price
	}
	page, err := queryPage(c)
	if err != nil {
		return writeError(c, err)
	}
	filter.Page = page

	result, err := h.products.List(c.Request().Context(), filter)
	if err != nil {
		return writeError(c, err)
	}
	return writeSuccess(c, http.StatusOK, "", toProductPageResponse(result))
}

func (h *HTTPHandler) GetProduct(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return writeError(c, err)
	}

	product, err := h.products.Get(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return writeSuccess(c, http.StatusOK, "", toProductResponse(*product))
}

func (h *HTTPHandler) CreateProduct(c echo.Context) error {
	var req ProductRequest
	if err := bindAndValidate(c, &req); err != nil {
		return writeError(c, err)
	}

	product, err := h.products.Create(c.Request().Context(), service.ProductInput{
		Name:     req.Name,
		Price:    *req.Price,
		Quantity: req.Quantity,
		Image:    req.Image,
		ImageURL: req.ImageURL,
	})
	if err != nil {
		return writeError(c, err)
	}
	return writeSuccess(c, http.StatusCreated, "product created", toProductResponse(*product))
}

func (h *HTTPHandler) ReplaceProduct(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return writeError(c, err)
	}
	var req ProductRequest
	if err := bindAndValidate(c, &req); err != nil {
		return writeError(c, err)
	}

	return h.updateProduct(c, id, service.ProductPatch{
		Name:     &req.Name,
		Price:    req.Price,
		Quantity: &req.Quantity,
		Image:    &req.Image,
		ImageURL: &req.ImageURL,
		Version:  req.Version,
	})
}

func (h *HTTPHandler) PatchProduct(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return writeError(c, err)
	}
	var req ProductPatchRequest
	if err := bindAndValidate(c, &req); err != nil {
		return writeError(c, err)
	}

	return h.updateProduct(c, id, service.ProductPatch{
		Name:     req.Name,
		Price:    req.Price,
		Quantity: req.Quantity,
		Image:    req.Image,
		ImageURL: req.ImageURL,
		Version:  req.Version,
	})
}

func (h *HTTPHandler) updateProduct(c echo.Context, id int64, patch service.ProductPatch) error {
	product, err := h.products.Update(c.Request().Context(), id, patch)
	if err != nil {
		return writeError(c, err)
	}
	return writeSuccess(c, http.StatusOK, "product updated", toProductResponse(*product))
}

func (h *HTTPHandler) DeleteProduct(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return writeError(c, err)
	}
	if err := h.products.Delete(c.Request().Context(), id); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *HTTPHandler) Purchase(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return writeError(c, err)
	}
	var req PurchaseRequest
	if err := bindAndValidate(c, &req); err != nil {
		return writeError(c, err)
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = string(domain.PaymentMethodApp)
	}

	trx, err := h.transactions.Purchase(c.Request().Context(), service.PurchaseRequest{
		ProductID:     id,
		Quantity:      req.Quantity,
		PaymentMethod: domain.PaymentMethod(req.PaymentMethod),
		ActorID:       actorID(c),
	})
	if err != nil {
		return writeError(c, err)
	}
	return writeSuccess(c, http.StatusCreated, "purchase successful", toTransactionResponse(*trx))
}

func (h *HTTPHandler) ListTransactions(c echo.Context) error {
	page, err := queryPage(c)
	if err != nil {
		return writeError(c, err)
	}

	result, err := h.transactions.ListForActor(c.Request().Context(), actorID(c), domain.TransactionFilter{
		Status:        domain.TransactionStatus(c.QueryParam("status")),
		PaymentMethod: domain.PaymentMethod(c.QueryParam("payment_method")),
		Ordering:      domain.TransactionOrdering(c.QueryParam("ordering")),
		Page:          page,
	})
	if err != nil {
		return writeError(c, err)
	}
	return writeSuccess(c, http.StatusOK, "", toTransactionPageResponse(result))
}

func (h *HTTPHandler) GetTransaction(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return writeError(c, err)
	}

	trx, err := h.transactions.Get(c.Request().Context(), id, actorID(c))
	if err != nil {
		return writeError(c, err)
	}
	return writeSuccess(c, http.StatusOK, "", toTransactionResponse(*trx))
}

func (h *HTTPHandler) EditTransaction(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return writeError(c, err)
	}
	var req EditTransactionRequest
	if err := bindAndValidate(c, &req); err != nil {
		return writeError(c, err)
	}

	trx, err := h.transactions.EditQuantity(c.Request().Context(), id, req.Quantity, actorID(c))
	if err != nil {
		return writeError(c, err)
	}
	return writeSuccess(c, http.StatusOK, "transaction updated", toTransactionResponse(*trx))
}

func (h *HTTPHandler) CancelTransaction(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return writeError(c, err)
	}
	if err := h.transactions.Cancel(c.Request().Context(), id, actorID(c)); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func bindAndValidate(c echo.Context, req any) error {
	if err := (&echo.DefaultBinder{}).BindBody(c, req); err != nil {
		return invalidRequest("malformed request body")
	}
	return c.Validate(req)
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, invalidRequest("id must be a positive integer")
	}
	return id, nil
}

func queryPage(c echo.Context) (int, error) {
	raw := strings.TrimSpace(c.QueryParam("page"))
	if raw == "" {
		return 1, nil
	}
	page, err := strconv.Atoi(raw)
	if err != nil || page <= 0 {
		return 0, invalidRequest("page must be a positive integer")
	}
	return page, nil
}

func invalidRequest(message string) error {
	return fmt.Errorf("%w: %s", service.ErrInvalidInput, message)
}
