package handler

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/vending/internal/core/domain"
	"github.com/rl1809/vending/internal/core/service"
)

const ServiceName = "vending.v1.VendingService"

// VendingServer is the server side of vending.v1.VendingService.
type VendingServer interface {
	Purchase(context.Context, *PurchaseRequest) (*TransactionResponse, error)
	EditTransaction(context.Context, *EditTransactionRequest) (*TransactionResponse, error)
	CancelTransaction(context.Context, *CancelTransactionRequest) (*CancelTransactionResponse, error)
	ListTransactions(context.Context, *ListTransactionsRequest) (*TransactionPageResponse, error)
	ListProducts(context.Context, *ListProductsRequest) (*ProductPageResponse, error)
}

type GRPCHandler struct {
	products     *service.ProductService
	transactions *service.TransactionService
	auth         *service.AuthService
}

func NewGRPCHandler(products *service.ProductService, transactions *service.TransactionService, auth *service.AuthService) *GRPCHandler {
	return &GRPCHandler{
		products:     products,
		transactions: transactions,
		auth:         auth,
	}
}

var _ VendingServer = (*GRPCHandler)(nil)

func RegisterVendingServer(s grpc.ServiceRegistrar, srv VendingServer) {
	s.RegisterService(&VendingServiceDesc, srv)
}

func (h *GRPCHandler) Purchase(ctx context.Context, req *PurchaseRequest) (*TransactionResponse, error) {
	actor, err := h.actor(ctx)
	if err != nil {
		return nil, err
	}
	method := req.PaymentMethod
	if method == "" {
		method = string(domain.PaymentMethodApp)
	}

	trx, err := h.transactions.Purchase(ctx, service.PurchaseRequest{
		ProductID:     req.ProductID,
		Quantity:      req.Quantity,
		PaymentMethod: domain.PaymentMethod(method),
		ActorID:       actor,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	resp := toTransactionResponse(*trx)
	return &resp, nil
}

func (h *GRPCHandler) EditTransaction(ctx context.Context, req *EditTransactionRequest) (*TransactionResponse, error) {
	actor, err := h.actor(ctx)
	if err != nil {
		return nil, err
	}

	trx, err := h.transactions.EditQuantity(ctx, req.TransactionID, req.Quantity, actor)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := toTransactionResponse(*trx)
	return &resp, nil
}

func (h *GRPCHandler) CancelTransaction(ctx context.Context, req *CancelTransactionRequest) (*CancelTransactionResponse, error) {
	actor, err := h.actor(ctx)
	if err != nil {
		return nil, err
	}

	if err := h.transactions.Cancel(ctx, req.TransactionID, actor); err != nil {
		return nil, toStatus(err)
	}
	return &CancelTransactionResponse{TransactionID: req.TransactionID}, nil
}

func (h *GRPCHandler) ListTransactions(ctx context.Context, req *ListTransactionsRequest) (*TransactionPageResponse, error) {
	actor, err := h.actor(ctx)
	if err != nil {
		return nil, err
	}

	page, err := h.transactions.ListForActor(ctx, actor, domain.TransactionFilter{
		Status:        domain.TransactionStatus(req.Status),
		PaymentMethod: domain.PaymentMethod(req.PaymentMethod),
		Ordering:      domain.TransactionOrdering(req.Ordering),
		Page:          req.Page,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	resp := toTransactionPageResponse(page)
	return &resp, nil
}

func (h *GRPCHandler) ListProducts(ctx context.Context, req *ListProductsRequest) (*ProductPageResponse, error) {
	filter := domain.ProductFilter{
		Name:     req.Name,
		Search:   req.Search,
		Ordering: domain.ProductOrdering(req.Ordering),
		Page:     req.Page,
	}
	if req.Price != "" {
		price, err := decimal.NewFromString(req.Price)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, "price must be a decimal number")
		}
		filter.Price = &price
	}

	page, err := h.products.List(ctx, filter)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := toProductPageResponse(page)
	return &resp, nil
}

// actor resolves the caller from the "authorization" metadata. Calls without
// a token run as the anonymous actor 0.
func (h *GRPCHandler) actor(ctx context.Context) (int64, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return 0, nil
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return 0, nil
	}

	token, found := strings.CutPrefix(values[0], "Bearer ")
	if !found {
		return 0, status.Error(codes.Unauthenticated, "authorization must be a bearer token")
	}
	claims, err := h.auth.ParseToken(token)
	if err != nil {
		return 0, status.Error(codes.Unauthenticated, "invalid token")
	}
	return claims.UserID, nil
}

func toStatus(err error) error {
	var stockErr *service.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		return status.Error(codes.FailedPrecondition, stockErr.Error())
	case errors.Is(err, service.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, service.ErrConflict):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, service.ErrInvalidCredentials):
		return status.Error(codes.Unauthenticated, err.Error())
	}
	return status.Error(codes.Internal, "internal error")
}

func unaryHandler[Req any, Resp any](call func(VendingServer, context.Context, *Req) (*Resp, error), method string) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(VendingServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + ServiceName + "/" + method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(VendingServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var VendingServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VendingServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Purchase", Handler: unaryHandler(VendingServer.Purchase, "Purchase")},
		{MethodName: "EditTransaction", Handler: unaryHandler(VendingServer.EditTransaction, "EditTransaction")},
		{MethodName: "CancelTransaction", Handler: unaryHandler(VendingServer.CancelTransaction, "CancelTransaction")},
		{MethodName: "ListTransactions", Handler: unaryHandler(VendingServer.ListTransactions, "ListTransactions")},
		{MethodName: "ListProducts", Handler: unaryHandler(VendingServer.ListProducts, "ListProducts")},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "vending/v1/vending.proto",
}
