// Package collaborator 定义步骤处理器依赖的下游服务接口.
//
// 目录、优惠、订单、支付与出票服务各自独立部署，这里只描述处理器需要的能力.
// 所有写操作都以 saga ID 或订单 ID 为幂等键，重复调用返回首次结果.
// memory.go 提供进程内实现，支持故障注入，用于测试与单进程模式.
package collaborator

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// 预定义错误.
var (
	// ErrNotFound 资源不存在.
	ErrNotFound = errors.New("collaborator: not found")

	// ErrRejected 业务拒绝，重试不会改变结果.
	ErrRejected = errors.New("collaborator: rejected")

	// ErrUnavailable 服务暂不可用，可重试.
	ErrUnavailable = errors.New("collaborator: unavailable")

	// ErrInvalidArgument 参数无效.
	ErrInvalidArgument = errors.New("collaborator: invalid argument")
)

// IsPermanent 判断错误是否不可重试.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrRejected) ||
		errors.Is(err, ErrInvalidArgument)
}

// CatalogItem 目录中的商品.
type CatalogItem struct {
	ID        string
	Name      string
	Kind      string
	Active    bool
	Available int
	UnitPrice decimal.Decimal
}

// ReserveLine 预留的一行库存.
type ReserveLine struct {
	ItemID   string
	Quantity int
}

// Catalog 商品目录与库存服务.
type Catalog interface {
	// Lookup 查询商品，不存在时返回 ErrNotFound.
	Lookup(ctx context.Context, itemID string) (*CatalogItem, error)

	// Reserve 预留库存，以 key 幂等，库存不足时返回 ErrRejected.
	Reserve(ctx context.Context, key string, lines []ReserveLine) (reservationID string, err error)

	// Release 释放预留，预留不存在时返回 ErrNotFound.
	Release(ctx context.Context, reservationID string) error
}

// 优惠类型.
const (
	DiscountKindPackage = "PACKAGE"
	DiscountKindVoucher = "VOUCHER"
)

// Discount 已使用的优惠.
type Discount struct {
	ID     string
	Kind   string
	Amount decimal.Decimal
}

// ApplyDiscountsRequest 使用优惠请求.
type ApplyDiscountsRequest struct {
	Key        string
	UserID     string
	BaseTotal  decimal.Decimal
	PackageIDs []string
	VoucherIDs []string
}

// Discounts 优惠套餐与代金券服务.
type Discounts interface {
	// Apply 消耗优惠并返回各自抵扣金额，以 Key 幂等.
	Apply(ctx context.Context, req *ApplyDiscountsRequest) ([]Discount, error)

	// Release 归还已消耗的优惠，未消耗的 ID 被忽略.
	Release(ctx context.Context, userID string, packageIDs, voucherIDs []string) error
}

// 订单状态.
const (
	OrderStatusPending = "PENDING"
	OrderStatusVoided  = "VOIDED"
)

// OrderLine 订单行.
type OrderLine struct {
	ItemID    string
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// CreateOrderRequest 创建订单请求.
type CreateOrderRequest struct {
	SagaID        string
	UserID        string
	CustomerID    string
	PaymentMethod string
	Total         decimal.Decimal
	Currency      string
	Lines         []OrderLine
}

// Order 订单.
type Order struct {
	ID     string
	SagaID string
	Status string
	Total  decimal.Decimal
}

// Orders 订单服务.
type Orders interface {
	// Create 创建订单，同一 SagaID 返回同一订单.
	Create(ctx context.Context, req *CreateOrderRequest) (orderID string, err error)

	// Cancel 作废订单，订单不存在时返回 ErrNotFound，已作废时返回 nil.
	Cancel(ctx context.Context, orderID string) error

	// Get 查询订单.
	Get(ctx context.Context, orderID string) (*Order, error)
}

// 支付状态.
const (
	PaymentSucceeded = "SUCCEEDED"
	PaymentDeclined  = "DECLINED"
	PaymentRefunded  = "REFUNDED"
	PaymentVoided    = "VOIDED"
)

// ChargeRequest 扣款请求.
type ChargeRequest struct {
	IdempotencyKey string
	OrderID        string
	Amount         decimal.Decimal
	Currency       string
}

// Charge 扣款结果.
type Charge struct {
	ID     string
	Status string
}

// PaymentGateway 支付网关.
type PaymentGateway interface {
	// Name 网关名称.
	Name() string

	// Charge 扣款，以 IdempotencyKey 幂等，拒付时返回 ErrRejected.
	Charge(ctx context.Context, req *ChargeRequest) (*Charge, error)

	// Verify 确认扣款已成功.
	Verify(ctx context.Context, paymentID string) error

	// Cancel 退款或撤销，支付不存在时返回 ErrNotFound，已撤销时返回 nil.
	Cancel(ctx context.Context, paymentID string) error
}

// TicketLine 出票行.
type TicketLine struct {
	ItemID      string
	Kind        string
	Origin      string
	Destination string
	Quantity    int
}

// IssueTicketsRequest 出票请求.
type IssueTicketsRequest struct {
	OrderID string
	UserID  string
	Lines   []TicketLine
}

// Tickets 出票服务.
type Tickets interface {
	// Issue 出票，同一订单返回同一批票号.
	Issue(ctx context.Context, req *IssueTicketsRequest) ([]string, error)
}

// PaymentRouter 按支付方式选择网关.
type PaymentRouter struct {
	gateways map[string]PaymentGateway
}

// NewPaymentRouter 创建路由，键为支付方式（CASH、CARD）.
func NewPaymentRouter(gateways map[string]PaymentGateway) *PaymentRouter {
	r := &PaymentRouter{gateways: make(map[string]PaymentGateway, len(gateways))}
	for method, g := range gateways {
		r.gateways[method] = g
	}
	return r
}

// Gateway 返回支付方式对应的网关.
func (r *PaymentRouter) Gateway(method string) (PaymentGateway, error) {
	g, ok := r.gateways[method]
	if !ok {
		return nil, errors.Join(ErrInvalidArgument, errors.New("no gateway for payment method "+method))
	}
	return g, nil
}

// ByName 按网关名称查找.
func (r *PaymentRouter) ByName(name string) (PaymentGateway, bool) {
	for _, g := range r.gateways {
		if g.Name() == name {
			return g, true
		}
	}
	return nil, false
}
