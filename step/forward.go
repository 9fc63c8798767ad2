package step

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Tsukikage7/transit-checkout/collaborator"
	"github.com/Tsukikage7/transit-checkout/saga"
)

// ErrValidation 商品校验未通过.
var ErrValidation = errors.New("step: validation failed")

// validateItems 校验商品存在、可售且库存充足.
type validateItems struct {
	catalog collaborator.Catalog
	call    *Caller
}

func (h *validateItems) Step() saga.Step { return saga.StepValidateItems }

func (h *validateItems) Handle(ctx context.Context, e *saga.Event) (map[string]any, error) {
	var cmd saga.ValidateItemsCommand
	if err := decode(e, h.Step(), &cmd); err != nil {
		return nil, err
	}
	if cmd.Request == nil || len(cmd.Request.Items) == 0 {
		return nil, fmt.Errorf("%w: no items", ErrValidation)
	}

	items := make([]saga.ValidatedItem, 0, len(cmd.Request.Items))
	for _, line := range cmd.Request.Items {
		if line.Kind == saga.KindP2P && strings.EqualFold(strings.TrimSpace(line.Origin), strings.TrimSpace(line.Destination)) {
			return nil, fmt.Errorf("%w: item %s has the same origin and destination", ErrValidation, line.ItemID)
		}

		item, err := Call(ctx, h.call, collaborator.OpCatalogLookup, func(ctx context.Context) (*collaborator.CatalogItem, error) {
			return h.catalog.Lookup(ctx, line.ItemID)
		})
		if err != nil {
			return nil, err
		}
		switch {
		case !item.Active:
			return nil, fmt.Errorf("%w: item %s is not active", ErrValidation, line.ItemID)
		case item.Kind != "" && item.Kind != line.Kind:
			return nil, fmt.Errorf("%w: item %s is %s, not %s", ErrValidation, line.ItemID, item.Kind, line.Kind)
		case item.Available < line.Quantity:
			return nil, fmt.Errorf("%w: item %s has %d available, %d requested", ErrValidation, line.ItemID, item.Available, line.Quantity)
		}

		items = append(items, saga.ValidatedItem{
			ItemID:      line.ItemID,
			Kind:        line.Kind,
			Name:        item.Name,
			Origin:      line.Origin,
			Destination: line.Destination,
			Quantity:    line.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}
	return saga.ToPayload(saga.ValidateItemsResult{Items: items})
}

// calculatePricing 预留库存并计算基础总价.
type calculatePricing struct {
	catalog collaborator.Catalog
	call    *Caller
}

func (h *calculatePricing) Step() saga.Step { return saga.StepCalculatePricing }

func (h *calculatePricing) Handle(ctx context.Context, e *saga.Event) (map[string]any, error) {
	var cmd saga.PricingCommand
	if err := decode(e, h.Step(), &cmd); err != nil {
		return nil, err
	}
	if len(cmd.Items) == 0 {
		return nil, fmt.Errorf("%w: nothing to price", collaborator.ErrInvalidArgument)
	}

	lines := make([]collaborator.ReserveLine, len(cmd.Items))
	priced := make([]saga.PricedItem, len(cmd.Items))
	base := decimal.Zero
	for i, item := range cmd.Items {
		lines[i] = collaborator.ReserveLine{ItemID: item.ItemID, Quantity: item.Quantity}
		total := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		priced[i] = saga.PricedItem{
			ItemID:    item.ItemID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: total,
		}
		base = base.Add(total)
	}

	reservationID, err := Call(ctx, h.call, collaborator.OpCatalogReserve, func(ctx context.Context) (string, error) {
		return h.catalog.Reserve(ctx, e.SagaID, lines)
	})
	if err != nil {
		return nil, err
	}

	currency := cmd.Currency
	if currency == "" {
		currency = saga.DefaultCurrency
	}
	return saga.ToPayload(saga.PricingResult{
		BaseTotal:     base,
		Currency:      currency,
		ReservationID: reservationID,
		PricedItems:   priced,
	})
}

// applyDiscounts 消耗优惠套餐与代金券.
type applyDiscounts struct {
	discounts collaborator.Discounts
	call      *Caller
}

func (h *applyDiscounts) Step() saga.Step { return saga.StepApplyDiscounts }

func (h *applyDiscounts) Handle(ctx context.Context, e *saga.Event) (map[string]any, error) {
	var cmd saga.DiscountsCommand
	if err := decode(e, h.Step(), &cmd); err != nil {
		return nil, err
	}

	result := saga.DiscountsResult{DiscountTotal: decimal.Zero, FinalTotal: cmd.BaseTotal}
	if len(cmd.DiscountPackageIDs) == 0 && len(cmd.VoucherIDs) == 0 {
		return saga.ToPayload(result)
	}

	applied, err := Call(ctx, h.call, collaborator.OpDiscountsApply, func(ctx context.Context) ([]collaborator.Discount, error) {
		return h.discounts.Apply(ctx, &collaborator.ApplyDiscountsRequest{
			Key:        e.SagaID,
			UserID:     cmd.UserID,
			BaseTotal:  cmd.BaseTotal,
			PackageIDs: cmd.DiscountPackageIDs,
			VoucherIDs: cmd.VoucherIDs,
		})
	})
	if err != nil {
		return nil, err
	}

	for _, d := range applied {
		kind := saga.DiscountVoucher
		if d.Kind == collaborator.DiscountKindPackage {
			kind = saga.DiscountPackage
		}
		result.AppliedDiscounts = append(result.AppliedDiscounts, saga.AppliedDiscount{ID: d.ID, Kind: kind, Amount: d.Amount})
		result.DiscountTotal = result.DiscountTotal.Add(d.Amount)
	}
	result.FinalTotal = decimal.Max(cmd.BaseTotal.Sub(result.DiscountTotal), decimal.Zero)
	return saga.ToPayload(result)
}

// createOrder 创建订单，同一 saga 只会创建一次.
type createOrder struct {
	orders collaborator.Orders
	call   *Caller
}

func (h *createOrder) Step() saga.Step { return saga.StepCreateOrder }

func (h *createOrder) Handle(ctx context.Context, e *saga.Event) (map[string]any, error) {
	var cmd saga.CreateOrderCommand
	if err := decode(e, h.Step(), &cmd); err != nil {
		return nil, err
	}

	lines := make([]collaborator.OrderLine, len(cmd.Items))
	for i, item := range cmd.Items {
		lines[i] = collaborator.OrderLine{
			ItemID:    item.ItemID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.LineTotal,
		}
	}

	orderID, err := Call(ctx, h.call, collaborator.OpOrdersCreate, func(ctx context.Context) (string, error) {
		return h.orders.Create(ctx, &collaborator.CreateOrderRequest{
			SagaID:        e.SagaID,
			UserID:        cmd.UserID,
			CustomerID:    cmd.CustomerID,
			PaymentMethod: cmd.PaymentMethod,
			Total:         cmd.FinalTotal,
			Currency:      cmd.Currency,
			Lines:         lines,
		})
	})
	if err != nil {
		return nil, err
	}
	return saga.ToPayload(saga.CreateOrderResult{OrderID: orderID})
}

// processPayment 按支付方式扣款并确认.
type processPayment struct {
	payments *collaborator.PaymentRouter
	call     *Caller
}

func (h *processPayment) Step() saga.Step { return saga.StepProcessPayment }

func (h *processPayment) Handle(ctx context.Context, e *saga.Event) (map[string]any, error) {
	var cmd saga.PaymentCommand
	if err := decode(e, h.Step(), &cmd); err != nil {
		return nil, err
	}
	if cmd.OrderID == "" {
		return nil, fmt.Errorf("%w: order id is empty", collaborator.ErrInvalidArgument)
	}

	gateway, err := h.payments.Gateway(cmd.PaymentMethod)
	if err != nil {
		return nil, err
	}

	charge, err := Call(ctx, h.call, collaborator.OpPaymentCharge, func(ctx context.Context) (*collaborator.Charge, error) {
		return gateway.Charge(ctx, &collaborator.ChargeRequest{
			IdempotencyKey: e.SagaID,
			OrderID:        cmd.OrderID,
			Amount:         cmd.FinalTotal,
			Currency:       cmd.Currency,
		})
	})
	if err != nil {
		return nil, err
	}

	if err := Do(ctx, h.call, collaborator.OpPaymentVerify, func(ctx context.Context) error {
		return gateway.Verify(ctx, charge.ID)
	}); err != nil {
		// 本步骤失败后不会再补偿扣款，这里先撤销
		if cerr := Do(ctx, h.call, collaborator.OpPaymentCancel, func(ctx context.Context) error {
			return ignoreNotFound(gateway.Cancel(ctx, charge.ID))
		}); cerr != nil {
			return nil, errors.Join(err, fmt.Errorf("cancel unverified payment %s: %w", charge.ID, cerr))
		}
		return nil, err
	}

	return saga.ToPayload(saga.PaymentResult{PaymentID: charge.ID, Provider: gateway.Name()})
}

// generateTickets 为订单出票.
type generateTickets struct {
	tickets collaborator.Tickets
	call    *Caller
}

func (h *generateTickets) Step() saga.Step { return saga.StepGenerateTickets }

func (h *generateTickets) Handle(ctx context.Context, e *saga.Event) (map[string]any, error) {
	var cmd saga.TicketsCommand
	if err := decode(e, h.Step(), &cmd); err != nil {
		return nil, err
	}

	lines := make([]collaborator.TicketLine, len(cmd.Items))
	for i, item := range cmd.Items {
		lines[i] = collaborator.TicketLine{
			ItemID:      item.ItemID,
			Kind:        item.Kind,
			Origin:      item.Origin,
			Destination: item.Destination,
			Quantity:    item.Quantity,
		}
	}

	ids, err := Call(ctx, h.call, collaborator.OpTicketsIssue, func(ctx context.Context) ([]string, error) {
		return h.tickets.Issue(ctx, &collaborator.IssueTicketsRequest{
			OrderID: cmd.OrderID,
			UserID:  cmd.UserID,
			Lines:   lines,
		})
	})
	if err != nil {
		return nil, err
	}
	return saga.ToPayload(saga.TicketsResult{TicketIDs: ids})
}
