package collaborator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// MemoryCatalog 内存商品目录.
type MemoryCatalog struct {
	Faults *Faults

	mu           sync.Mutex
	items        map[string]*CatalogItem
	reservations map[string]*reservation
	byKey        map[string]string
}

type reservation struct {
	lines    []ReserveLine
	released bool
}

// NewMemoryCatalog 创建内存商品目录.
func NewMemoryCatalog(items ...CatalogItem) *MemoryCatalog {
	c := &MemoryCatalog{
		Faults:       NewFaults(),
		items:        make(map[string]*CatalogItem),
		reservations: make(map[string]*reservation),
		byKey:        make(map[string]string),
	}
	for _, item := range items {
		c.Put(item)
	}
	return c
}

// Put 新增或替换商品.
func (c *MemoryCatalog) Put(item CatalogItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[item.ID] = &item
}

// Available 返回商品当前可用数量.
func (c *MemoryCatalog) Available(itemID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if item, ok := c.items[itemID]; ok {
		return item.Available
	}
	return 0
}

// Lookup 查询商品.
func (c *MemoryCatalog) Lookup(ctx context.Context, itemID string) (*CatalogItem, error) {
	if err := c.Faults.take(ctx, OpCatalogLookup); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[itemID]
	if !ok {
		return nil, fmt.Errorf("%w: item %s", ErrNotFound, itemID)
	}
	cp := *item
	return &cp, nil
}

// Reserve 预留库存.
func (c *MemoryCatalog) Reserve(ctx context.Context, key string, lines []ReserveLine) (string, error) {
	if err := c.Faults.take(ctx, OpCatalogReserve); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.byKey[key]; ok {
		return id, nil
	}
	for _, l := range lines {
		item, ok := c.items[l.ItemID]
		if !ok {
			return "", fmt.Errorf("%w: item %s", ErrNotFound, l.ItemID)
		}
		if !item.Active || item.Available < l.Quantity {
			return "", fmt.Errorf("%w: item %s has %d available, %d requested", ErrRejected, l.ItemID, item.Available, l.Quantity)
		}
	}
	for _, l := range lines {
		c.items[l.ItemID].Available -= l.Quantity
	}

	id := "res-" + uuid.NewString()
	c.reservations[id] = &reservation{lines: append([]ReserveLine(nil), lines...)}
	c.byKey[key] = id
	return id, nil
}

// Release 释放预留.
func (c *MemoryCatalog) Release(ctx context.Context, reservationID string) error {
	if err := c.Faults.take(ctx, OpCatalogRelease); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.reservations[reservationID]
	if !ok {
		return fmt.Errorf("%w: reservation %s", ErrNotFound, reservationID)
	}
	if r.released {
		return nil
	}
	for _, l := range r.lines {
		if item, ok := c.items[l.ItemID]; ok {
			item.Available += l.Quantity
		}
	}
	r.released = true
	return nil
}

// MemoryDiscounts 内存优惠服务.
//
// 套餐按百分比抵扣，代金券按固定金额抵扣，两者都只能被消耗一次.
type MemoryDiscounts struct {
	Faults *Faults

	mu           sync.Mutex
	packages     map[string]decimal.Decimal
	vouchers     map[string]voucher
	consumed     map[string]bool
	applications map[string][]Discount
}

type voucher struct {
	amount decimal.Decimal
	owner  string
}

// NewMemoryDiscounts 创建内存优惠服务.
func NewMemoryDiscounts() *MemoryDiscounts {
	return &MemoryDiscounts{
		Faults:       NewFaults(),
		packages:     make(map[string]decimal.Decimal),
		vouchers:     make(map[string]voucher),
		consumed:     make(map[string]bool),
		applications: make(map[string][]Discount),
	}
}

// AddPackage 新增按百分比抵扣的套餐.
func (d *MemoryDiscounts) AddPackage(id string, percent decimal.Decimal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.packages[id] = percent
}

// AddVoucher 新增固定金额代金券，owner 为空时任何用户可用.
func (d *MemoryDiscounts) AddVoucher(id string, amount decimal.Decimal, owner string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.vouchers[id] = voucher{amount: amount, owner: owner}
}

// Consumed 优惠是否已被消耗.
func (d *MemoryDiscounts) Consumed(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.consumed[id]
}

// Apply 消耗优惠.
func (d *MemoryDiscounts) Apply(ctx context.Context, req *ApplyDiscountsRequest) ([]Discount, error) {
	if err := d.Faults.take(ctx, OpDiscountsApply); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if applied, ok := d.applications[req.Key]; ok {
		return append([]Discount(nil), applied...), nil
	}

	var applied []Discount
	for _, id := range req.PackageIDs {
		percent, ok := d.packages[id]
		if !ok {
			return nil, fmt.Errorf("%w: discount package %s", ErrNotFound, id)
		}
		if d.consumed[id] {
			return nil, fmt.Errorf("%w: discount package %s already used", ErrRejected, id)
		}
		amount := req.BaseTotal.Mul(percent).Div(hundred).Round(2)
		applied = append(applied, Discount{ID: id, Kind: DiscountKindPackage, Amount: amount})
	}
	for _, id := range req.VoucherIDs {
		v, ok := d.vouchers[id]
		if !ok {
			return nil, fmt.Errorf("%w: voucher %s", ErrNotFound, id)
		}
		if v.owner != "" && v.owner != req.UserID {
			return nil, fmt.Errorf("%w: voucher %s belongs to another account", ErrRejected, id)
		}
		if d.consumed[id] {
			return nil, fmt.Errorf("%w: voucher %s already used", ErrRejected, id)
		}
		applied = append(applied, Discount{ID: id, Kind: DiscountKindVoucher, Amount: v.amount})
	}

	for _, a := range applied {
		d.consumed[a.ID] = true
	}
	d.applications[req.Key] = applied
	return append([]Discount(nil), applied...), nil
}

// Release 归还优惠.
func (d *MemoryDiscounts) Release(ctx context.Context, _ string, packageIDs, voucherIDs []string) error {
	if err := d.Faults.take(ctx, OpDiscountsRelease); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, id := range append(append([]string(nil), packageIDs...), voucherIDs...) {
		delete(d.consumed, id)
	}
	for key, applied := range d.applications {
		for _, a := range applied {
			if !d.consumed[a.ID] {
				delete(d.applications, key)
				break
			}
		}
	}
	return nil
}

// MemoryOrders 内存订单服务.
type MemoryOrders struct {
	Faults *Faults

	mu     sync.Mutex
	orders map[string]*Order
	bySaga map[string]string
}

// NewMemoryOrders 创建内存订单服务.
func NewMemoryOrders() *MemoryOrders {
	return &MemoryOrders{
		Faults: NewFaults(),
		orders: make(map[string]*Order),
		bySaga: make(map[string]string),
	}
}

// Create 创建订单.
func (o *MemoryOrders) Create(ctx context.Context, req *CreateOrderRequest) (string, error) {
	if err := o.Faults.take(ctx, OpOrdersCreate); err != nil {
		return "", err
	}
	if req.SagaID == "" {
		return "", fmt.Errorf("%w: saga id is empty", ErrInvalidArgument)
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	if id, ok := o.bySaga[req.SagaID]; ok {
		return id, nil
	}
	id := "ord-" + uuid.NewString()
	o.orders[id] = &Order{ID: id, SagaID: req.SagaID, Status: OrderStatusPending, Total: req.Total}
	o.bySaga[req.SagaID] = id
	return id, nil
}

// Cancel 作废订单.
func (o *MemoryOrders) Cancel(ctx context.Context, orderID string) error {
	if err := o.Faults.take(ctx, OpOrdersCancel); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	order, ok := o.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	order.Status = OrderStatusVoided
	return nil
}

// Get 查询订单.
func (o *MemoryOrders) Get(_ context.Context, orderID string) (*Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	order, ok := o.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	cp := *order
	return &cp, nil
}

// MemoryGateway 内存支付网关，CASH 支付使用它作为现金台账.
type MemoryGateway struct {
	Faults *Faults

	name         string
	declineAbove decimal.Decimal

	mu      sync.Mutex
	charges map[string]*Charge
	byKey   map[string]string
}

// NewMemoryGateway 创建内存支付网关.
func NewMemoryGateway(name string) *MemoryGateway {
	return &MemoryGateway{
		Faults:  NewFaults(),
		name:    name,
		charges: make(map[string]*Charge),
		byKey:   make(map[string]string),
	}
}

// DeclineAbove 金额超过 limit 的扣款将被拒付，零值表示不限制.
func (g *MemoryGateway) DeclineAbove(limit decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.declineAbove = limit
}

// Name 网关名称.
func (g *MemoryGateway) Name() string {
	return g.name
}

// Status 返回支付状态.
func (g *MemoryGateway) Status(paymentID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.charges[paymentID]; ok {
		return c.Status
	}
	return ""
}

// Charge 扣款.
func (g *MemoryGateway) Charge(ctx context.Context, req *ChargeRequest) (*Charge, error) {
	if err := g.Faults.take(ctx, OpPaymentCharge); err != nil {
		return nil, err
	}
	if req.Amount.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount", ErrInvalidArgument)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if id, ok := g.byKey[req.IdempotencyKey]; ok {
		c := g.charges[id]
		if c.Status == PaymentDeclined {
			return nil, fmt.Errorf("%w: payment %s declined", ErrRejected, id)
		}
		cp := *c
		return &cp, nil
	}

	c := &Charge{ID: g.name + "_" + uuid.NewString(), Status: PaymentSucceeded}
	if !g.declineAbove.IsZero() && req.Amount.GreaterThan(g.declineAbove) {
		c.Status = PaymentDeclined
	}
	g.charges[c.ID] = c
	if req.IdempotencyKey != "" {
		g.byKey[req.IdempotencyKey] = c.ID
	}
	if c.Status == PaymentDeclined {
		return nil, fmt.Errorf("%w: payment declined, amount %s exceeds limit", ErrRejected, req.Amount)
	}
	cp := *c
	return &cp, nil
}

// Verify 确认扣款.
func (g *MemoryGateway) Verify(ctx context.Context, paymentID string) error {
	if err := g.Faults.take(ctx, OpPaymentVerify); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.charges[paymentID]
	if !ok {
		return fmt.Errorf("%w: payment %s", ErrNotFound, paymentID)
	}
	if c.Status != PaymentSucceeded {
		return fmt.Errorf("%w: payment %s is %s", ErrRejected, paymentID, c.Status)
	}
	return nil
}

// Cancel 退款.
func (g *MemoryGateway) Cancel(ctx context.Context, paymentID string) error {
	if err := g.Faults.take(ctx, OpPaymentCancel); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.charges[paymentID]
	if !ok {
		return fmt.Errorf("%w: payment %s", ErrNotFound, paymentID)
	}
	if c.Status == PaymentSucceeded {
		c.Status = PaymentRefunded
	}
	return nil
}

// MemoryTickets 内存出票服务.
type MemoryTickets struct {
	Faults *Faults

	mu      sync.Mutex
	byOrder map[string][]string
}

// NewMemoryTickets 创建内存出票服务.
func NewMemoryTickets() *MemoryTickets {
	return &MemoryTickets{
		Faults:  NewFaults(),
		byOrder: make(map[string][]string),
	}
}

// Issue 出票.
func (t *MemoryTickets) Issue(ctx context.Context, req *IssueTicketsRequest) ([]string, error) {
	if err := t.Faults.take(ctx, OpTicketsIssue); err != nil {
		return nil, err
	}
	if req.OrderID == "" {
		return nil, fmt.Errorf("%w: order id is empty", ErrInvalidArgument)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if ids, ok := t.byOrder[req.OrderID]; ok {
		return append([]string(nil), ids...), nil
	}
	var ids []string
	for _, l := range req.Lines {
		for i := 0; i < l.Quantity; i++ {
			ids = append(ids, "tkt-"+uuid.NewString())
		}
	}
	t.byOrder[req.OrderID] = ids
	return append([]string(nil), ids...), nil
}

// Issued 返回订单已出的票.
func (t *MemoryTickets) Issued(orderID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.byOrder[orderID]...)
}

var (
	_ Catalog        = (*MemoryCatalog)(nil)
	_ Discounts      = (*MemoryDiscounts)(nil)
	_ Orders         = (*MemoryOrders)(nil)
	_ PaymentGateway = (*MemoryGateway)(nil)
	_ Tickets        = (*MemoryTickets)(nil)
)
