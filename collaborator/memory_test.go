package collaborator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCatalog_ReserveAndRelease(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCatalog(
		CatalogItem{ID: "p2p-1", Kind: "P2P", Active: true, Available: 5, UnitPrice: decimal.NewFromInt(3)},
		CatalogItem{ID: "old", Kind: "PASS", Active: false, Available: 5},
	)

	item, err := c.Lookup(ctx, "p2p-1")
	require.NoError(t, err)
	assert.Equal(t, 5, item.Available)

	_, err = c.Lookup(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	id, err := c.Reserve(ctx, "s-1", []ReserveLine{{ItemID: "p2p-1", Quantity: 2}})
	require.NoError(t, err)
	assert.Equal(t, 3, c.Available("p2p-1"))

	again, err := c.Reserve(ctx, "s-1", []ReserveLine{{ItemID: "p2p-1", Quantity: 2}})
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, 3, c.Available("p2p-1"))

	_, err = c.Reserve(ctx, "s-2", []ReserveLine{{ItemID: "p2p-1", Quantity: 4}})
	assert.ErrorIs(t, err, ErrRejected)
	_, err = c.Reserve(ctx, "s-3", []ReserveLine{{ItemID: "old", Quantity: 1}})
	assert.ErrorIs(t, err, ErrRejected)

	require.NoError(t, c.Release(ctx, id))
	require.NoError(t, c.Release(ctx, id))
	assert.Equal(t, 5, c.Available("p2p-1"))
	assert.ErrorIs(t, c.Release(ctx, "res-unknown"), ErrNotFound)
}

func TestMemoryDiscounts(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDiscounts()
	d.AddPackage("pkg-10", decimal.NewFromInt(10))
	d.AddVoucher("v-5", decimal.NewFromInt(5), "u-1")

	req := &ApplyDiscountsRequest{
		Key: "s-1", UserID: "u-1", BaseTotal: decimal.NewFromInt(20),
		PackageIDs: []string{"pkg-10"}, VoucherIDs: []string{"v-5"},
	}
	applied, err := d.Apply(ctx, req)
	require.NoError(t, err)
	require.Len(t, applied, 2)
	assert.True(t, decimal.NewFromInt(2).Equal(applied[0].Amount))
	assert.True(t, decimal.NewFromInt(5).Equal(applied[1].Amount))
	assert.True(t, d.Consumed("v-5"))

	replay, err := d.Apply(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, applied, replay)

	_, err = d.Apply(ctx, &ApplyDiscountsRequest{Key: "s-2", UserID: "u-1", VoucherIDs: []string{"v-5"}})
	assert.ErrorIs(t, err, ErrRejected)

	_, err = d.Apply(ctx, &ApplyDiscountsRequest{Key: "s-3", UserID: "u-2", VoucherIDs: []string{"missing"}})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, d.Release(ctx, "u-1", []string{"pkg-10"}, []string{"v-5"}))
	assert.False(t, d.Consumed("v-5"))

	_, err = d.Apply(ctx, &ApplyDiscountsRequest{Key: "s-4", UserID: "u-2", VoucherIDs: []string{"v-5"}})
	assert.ErrorIs(t, err, ErrRejected, "voucher is owned by u-1")
}

func TestMemoryOrders(t *testing.T) {
	ctx := context.Background()
	o := NewMemoryOrders()

	id, err := o.Create(ctx, &CreateOrderRequest{SagaID: "s-1", Total: decimal.NewFromInt(9)})
	require.NoError(t, err)
	again, err := o.Create(ctx, &CreateOrderRequest{SagaID: "s-1"})
	require.NoError(t, err)
	assert.Equal(t, id, again)

	require.NoError(t, o.Cancel(ctx, id))
	order, err := o.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusVoided, order.Status)

	assert.ErrorIs(t, o.Cancel(ctx, "ord-missing"), ErrNotFound)
	_, err = o.Create(ctx, &CreateOrderRequest{})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestMemoryGateway(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway("cash")
	g.DeclineAbove(decimal.NewFromInt(100))

	charge, err := g.Charge(ctx, &ChargeRequest{IdempotencyKey: "s-1", Amount: decimal.NewFromInt(10)})
	require.NoError(t, err)
	assert.Equal(t, PaymentSucceeded, charge.Status)
	require.NoError(t, g.Verify(ctx, charge.ID))

	replay, err := g.Charge(ctx, &ChargeRequest{IdempotencyKey: "s-1", Amount: decimal.NewFromInt(10)})
	require.NoError(t, err)
	assert.Equal(t, charge.ID, replay.ID)

	_, err = g.Charge(ctx, &ChargeRequest{IdempotencyKey: "s-2", Amount: decimal.NewFromInt(101)})
	assert.ErrorIs(t, err, ErrRejected)
	_, err = g.Charge(ctx, &ChargeRequest{IdempotencyKey: "s-2", Amount: decimal.NewFromInt(101)})
	assert.ErrorIs(t, err, ErrRejected)

	require.NoError(t, g.Cancel(ctx, charge.ID))
	require.NoError(t, g.Cancel(ctx, charge.ID))
	assert.Equal(t, PaymentRefunded, g.Status(charge.ID))
	assert.ErrorIs(t, g.Verify(ctx, charge.ID), ErrRejected)
	assert.ErrorIs(t, g.Cancel(ctx, "missing"), ErrNotFound)
}

func TestMemoryTickets(t *testing.T) {
	ctx := context.Background()
	tk := NewMemoryTickets()

	ids, err := tk.Issue(ctx, &IssueTicketsRequest{OrderID: "o-1", Lines: []TicketLine{{ItemID: "a", Quantity: 2}, {ItemID: "b", Quantity: 1}}})
	require.NoError(t, err)
	assert.Len(t, ids, 3)

	again, err := tk.Issue(ctx, &IssueTicketsRequest{OrderID: "o-1"})
	require.NoError(t, err)
	assert.Equal(t, ids, again)
	assert.Equal(t, ids, tk.Issued("o-1"))
}

func TestFaults(t *testing.T) {
	ctx := context.Background()
	o := NewMemoryOrders()
	boom := errors.New("boom")
	o.Faults.Inject(OpOrdersCreate, ErrUnavailable, boom)

	_, err := o.Create(ctx, &CreateOrderRequest{SagaID: "s-1"})
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = o.Create(ctx, &CreateOrderRequest{SagaID: "s-1"})
	assert.ErrorIs(t, err, boom)
	_, err = o.Create(ctx, &CreateOrderRequest{SagaID: "s-1"})
	assert.NoError(t, err)
	assert.Equal(t, 3, o.Faults.Calls(OpOrdersCreate))

	o.Faults.Delay(OpOrdersCancel, time.Second)
	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, o.Cancel(short, "x"), context.DeadlineExceeded)
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(ErrRejected))
	assert.True(t, IsPermanent(errors.Join(ErrNotFound, errors.New("x"))))
	assert.False(t, IsPermanent(ErrUnavailable))
	assert.False(t, IsPermanent(context.DeadlineExceeded))
}

func TestPaymentRouter(t *testing.T) {
	cash := NewMemoryGateway("cash")
	card := NewMemoryGateway("stripe")
	r := NewPaymentRouter(map[string]PaymentGateway{"CASH": cash, "CARD": card})

	g, err := r.Gateway("CARD")
	require.NoError(t, err)
	assert.Equal(t, "stripe", g.Name())

	_, err = r.Gateway("CHEQUE")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	byName, ok := r.ByName("cash")
	assert.True(t, ok)
	assert.Same(t, cash, byName)
}
