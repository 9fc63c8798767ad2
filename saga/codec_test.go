package saga

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeData_Money(t *testing.T) {
	d := &Data{
		Currency:   "EUR",
		BaseTotal:  decimal.RequireFromString("12.50"),
		FinalTotal: decimal.RequireFromString("10"),
	}
	b, err := EncodeData(d)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, float64(CurrentDataVersion), raw["v"])
	assert.Equal(t, "12.5", raw["baseTotal"])
	assert.Equal(t, "10", raw["finalTotal"])
	assert.NotContains(t, raw, "discountTotal")
}

func TestDecodeData_PreservesUnknownFields(t *testing.T) {
	in := `{"v":2,"orderId":"o-1","loyaltyPoints":{"earned":40},"channel":"kiosk"}`

	d, err := DecodeData([]byte(in))
	require.NoError(t, err)
	assert.Equal(t, 2, d.V)
	assert.True(t, d.IsNewerVersion())
	assert.Equal(t, "o-1", d.OrderID)
	require.Len(t, d.Extensions, 2)

	d.PaymentID = "p-1"
	out, err := EncodeData(d)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(out, &raw))
	assert.Equal(t, "kiosk", raw["channel"])
	assert.Equal(t, map[string]any{"earned": float64(40)}, raw["loyaltyPoints"])
	assert.Equal(t, "p-1", raw["paymentId"])
	assert.Equal(t, float64(2), raw["v"])
}

func TestDecodeData_MissingFields(t *testing.T) {
	d, err := DecodeData([]byte(`{"orderId":"o-1"}`))
	require.NoError(t, err)
	assert.Equal(t, CurrentDataVersion, d.V)
	assert.True(t, d.BaseTotal.IsZero())
	assert.Nil(t, d.Items)
	assert.Nil(t, d.Extensions)

	for _, empty := range []string{"", "null", "  "} {
		d, err := DecodeData([]byte(empty))
		require.NoError(t, err)
		assert.Equal(t, CurrentDataVersion, d.V)
	}
}

func TestDecodeData_Invalid(t *testing.T) {
	_, err := DecodeData([]byte(`{"v":`))
	assert.Error(t, err)
}

func TestData_RoundTrip(t *testing.T) {
	d := NewData(validRequest())
	d.Items = []ValidatedItem{{ItemID: "p2p-1", Kind: KindP2P, Quantity: 2, UnitPrice: decimal.NewFromInt(3)}}
	d.AppliedDiscounts = []AppliedDiscount{{ID: "v-1", Kind: DiscountVoucher, Amount: decimal.NewFromInt(1)}}
	d.TicketIDs = []string{"t-1", "t-2"}

	b, err := EncodeData(d)
	require.NoError(t, err)
	got, err := DecodeData(b)
	require.NoError(t, err)

	assert.Equal(t, d.Request, got.Request)
	assert.Equal(t, d.TicketIDs, got.TicketIDs)
	assert.True(t, d.Items[0].UnitPrice.Equal(got.Items[0].UnitPrice))
	assert.Equal(t, "v-1", got.AppliedDiscounts[0].ID)
}

func TestData_DiscountIDs(t *testing.T) {
	d := &Data{AppliedDiscounts: []AppliedDiscount{
		{ID: "pkg-1", Kind: DiscountPackage},
		{ID: "v-1", Kind: DiscountVoucher},
	}}
	packages, vouchers := d.DiscountIDs()
	assert.Equal(t, []string{"pkg-1"}, packages)
	assert.Equal(t, []string{"v-1"}, vouchers)
}
