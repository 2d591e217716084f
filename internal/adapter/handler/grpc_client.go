package handler

import (
	"context"

	"google.golang.org/grpc"
)

// VendingClient calls vending.v1.VendingService over a connection created
// with grpc.CallContentSubtype(CodecName).
type VendingClient struct {
	cc grpc.ClientConnInterface
}

func NewVendingClient(cc grpc.ClientConnInterface) *VendingClient {
	return &VendingClient{cc: cc}
}

func (c *VendingClient) Purchase(ctx context.Context, in *PurchaseRequest, opts ...grpc.CallOption) (*TransactionResponse, error) {
	out := new(TransactionResponse)
	if err := c.invoke(ctx, "Purchase", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *VendingClient) EditTransaction(ctx context.Context, in *EditTransactionRequest, opts ...grpc.CallOption) (*TransactionResponse, error) {
	out := new(TransactionResponse)
	if err := c.invoke(ctx, "EditTransaction", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *VendingClient) CancelTransaction(ctx context.Context, in *CancelTransactionRequest, opts ...grpc.CallOption) (*CancelTransactionResponse, error) {
	out := new(CancelTransactionResponse)
	if err := c.invoke(ctx, "CancelTransaction", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *VendingClient) ListTransactions(ctx context.Context, in *ListTransactionsRequest, opts ...grpc.CallOption) (*TransactionPageResponse, error) {
	out := new(TransactionPageResponse)
	if err := c.invoke(ctx, "ListTransactions", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *VendingClient) ListProducts(ctx context.Context, in *ListProductsRequest, opts ...grpc.CallOption) (*ProductPageResponse, error) {
	out := new(ProductPageResponse)
	if err := c.invoke(ctx, "ListProducts", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *VendingClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...)
}
