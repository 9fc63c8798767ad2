package step

import (
	"context"

	"github.com/Tsukikage7/transit-checkout/collaborator"
	"github.com/Tsukikage7/transit-checkout/saga"
)

// 补偿处理器都是幂等的，缺少可撤销的资源时直接成功.

type cancelPayment struct {
	payments *collaborator.PaymentRouter
	call     *Caller
}

func (h *cancelPayment) Step() saga.Step { return saga.StepCancelPayment }

func (h *cancelPayment) Handle(ctx context.Context, e *saga.Event) (map[string]any, error) {
	var cmd saga.CancelPaymentCommand
	if err := decode(e, h.Step(), &cmd); err != nil {
		return nil, err
	}
	if cmd.PaymentID == "" {
		return map[string]any{"paymentId": "", "cancelled": false}, nil
	}

	gateway, ok := h.payments.ByName(cmd.Provider)
	if !ok {
		var err error
		if gateway, err = h.payments.Gateway(cmd.PaymentMethod); err != nil {
			return nil, err
		}
	}

	if err := Do(ctx, h.call, collaborator.OpPaymentCancel, func(ctx context.Context) error {
		return ignoreNotFound(gateway.Cancel(ctx, cmd.PaymentID))
	}); err != nil {
		return nil, err
	}
	return map[string]any{"paymentId": cmd.PaymentID, "cancelled": true}, nil
}

type cancelOrder struct {
	orders collaborator.Orders
	call   *Caller
}

func (h *cancelOrder) Step() saga.Step { return saga.StepCancelOrder }

func (h *cancelOrder) Handle(ctx context.Context, e *saga.Event) (map[string]any, error) {
	var cmd saga.CancelOrderCommand
	if err := decode(e, h.Step(), &cmd); err != nil {
		return nil, err
	}
	if cmd.OrderID == "" {
		return map[string]any{"orderId": "", "cancelled": false}, nil
	}

	if err := Do(ctx, h.call, collaborator.OpOrdersCancel, func(ctx context.Context) error {
		return ignoreNotFound(h.orders.Cancel(ctx, cmd.OrderID))
	}); err != nil {
		return nil, err
	}
	return map[string]any{"orderId": cmd.OrderID, "cancelled": true}, nil
}

type releaseDiscounts struct {
	discounts collaborator.Discounts
	call      *Caller
}

func (h *releaseDiscounts) Step() saga.Step { return saga.StepReleaseDiscounts }

func (h *releaseDiscounts) Handle(ctx context.Context, e *saga.Event) (map[string]any, error) {
	var cmd saga.ReleaseDiscountsCommand
	if err := decode(e, h.Step(), &cmd); err != nil {
		return nil, err
	}
	released := len(cmd.DiscountPackageIDs) + len(cmd.VoucherIDs)
	if released == 0 {
		return map[string]any{"released": 0}, nil
	}

	if err := Do(ctx, h.call, collaborator.OpDiscountsRelease, func(ctx context.Context) error {
		return ignoreNotFound(h.discounts.Release(ctx, cmd.UserID, cmd.DiscountPackageIDs, cmd.VoucherIDs))
	}); err != nil {
		return nil, err
	}
	return map[string]any{"released": released}, nil
}

type cleanupItems struct {
	catalog collaborator.Catalog
	call    *Caller
}

func (h *cleanupItems) Step() saga.Step { return saga.StepCleanupItems }

func (h *cleanupItems) Handle(ctx context.Context, e *saga.Event) (map[string]any, error) {
	var cmd saga.CleanupItemsCommand
	if err := decode(e, h.Step(), &cmd); err != nil {
		return nil, err
	}
	if cmd.ReservationID == "" {
		return map[string]any{"reservationId": "", "released": false}, nil
	}

	if err := Do(ctx, h.call, collaborator.OpCatalogRelease, func(ctx context.Context) error {
		return ignoreNotFound(h.catalog.Release(ctx, cmd.ReservationID))
	}); err != nil {
		return nil, err
	}
	return map[string]any{"reservationId": cmd.ReservationID, "released": true}, nil
}
