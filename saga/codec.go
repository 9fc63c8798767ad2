package saga

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// CurrentDataVersion 当前 saga 数据 schema 版本.
const CurrentDataVersion = 1

// ValidatedItem 已校验的商品行.
type ValidatedItem struct {
	ItemID      string          `json:"itemId"`
	Kind        string          `json:"kind"`
	Name        string          `json:"name,omitempty"`
	Origin      string          `json:"origin,omitempty"`
	Destination string          `json:"destination,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

// PricedItem 已定价的商品行.
type PricedItem struct {
	ItemID    string          `json:"itemId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	LineTotal decimal.Decimal `json:"lineTotal"`
}

// 优惠类型.
const (
	DiscountPackage = "PACKAGE"
	DiscountVoucher = "VOUCHER"
)

// AppliedDiscount 已使用的优惠.
type AppliedDiscount struct {
	ID     string          `json:"id"`
	Kind   string          `json:"kind"`
	Amount decimal.Decimal `json:"amount"`
}

// Data 结账上下文，以带版本号的 JSON 持久化.
//
// 未识别的字段保存在 Extensions 中并在编码时原样写回，
// 旧版本实例读写新版本记录不会丢数据.
type Data struct {
	V                int               `json:"v"`
	Request          *CheckoutRequest  `json:"request,omitempty"`
	Items            []ValidatedItem   `json:"items,omitempty"`
	ReservationID    string            `json:"reservationId,omitempty"`
	PricedItems      []PricedItem      `json:"pricedItems,omitempty"`
	Currency         string            `json:"currency,omitempty"`
	BaseTotal        decimal.Decimal   `json:"baseTotal,omitzero"`
	DiscountTotal    decimal.Decimal   `json:"discountTotal,omitzero"`
	FinalTotal       decimal.Decimal   `json:"finalTotal,omitzero"`
	AppliedDiscounts []AppliedDiscount `json:"appliedDiscounts,omitempty"`
	OrderID          string            `json:"orderId,omitempty"`
	PaymentID        string            `json:"paymentId,omitempty"`
	PaymentProvider  string            `json:"paymentProvider,omitempty"`
	TicketIDs        []string          `json:"ticketIds,omitempty"`

	Extensions map[string]json.RawMessage `json:"-"`
}

// knownDataKeys Data 的 JSON 字段名.
var knownDataKeys = map[string]struct{}{
	"v": {}, "request": {}, "items": {}, "reservationId": {}, "pricedItems": {},
	"currency": {}, "baseTotal": {}, "discountTotal": {}, "finalTotal": {},
	"appliedDiscounts": {}, "orderId": {}, "paymentId": {}, "paymentProvider": {},
	"ticketIds": {},
}

type dataAlias Data

// NewData 创建当前版本的数据.
func NewData(req *CheckoutRequest) *Data {
	d := &Data{V: CurrentDataVersion, Request: req.Clone()}
	if req != nil {
		d.Currency = req.Currency
	}
	return d
}

// MarshalJSON 编码时合并 Extensions.
func (d Data) MarshalJSON() ([]byte, error) {
	if d.V == 0 {
		d.V = CurrentDataVersion
	}
	raw, err := json.Marshal(dataAlias(d))
	if err != nil {
		return nil, err
	}
	if len(d.Extensions) == 0 {
		return raw, nil
	}

	merged := make(map[string]json.RawMessage, len(knownDataKeys)+len(d.Extensions))
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, err
	}
	for k, v := range d.Extensions {
		if _, known := knownDataKeys[k]; known {
			continue
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON 解码时收集未识别字段.
func (d *Data) UnmarshalJSON(b []byte) error {
	var alias dataAlias
	if err := json.Unmarshal(b, &alias); err != nil {
		return err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	for k, v := range fields {
		if _, known := knownDataKeys[k]; known {
			continue
		}
		if alias.Extensions == nil {
			alias.Extensions = make(map[string]json.RawMessage)
		}
		alias.Extensions[k] = v
	}

	if alias.V == 0 {
		alias.V = CurrentDataVersion
	}
	*d = Data(alias)
	return nil
}

// EncodeData 编码 saga 数据，nil 编码为空的当前版本.
func EncodeData(d *Data) ([]byte, error) {
	if d == nil {
		d = &Data{V: CurrentDataVersion}
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("saga: encode data: %w", err)
	}
	return b, nil
}

// DecodeData 解码 saga 数据.
//
// 缺失字段取零值；高于当前版本的记录尽力解码，未知字段保留在 Extensions.
func DecodeData(b []byte) (*Data, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return &Data{V: CurrentDataVersion}, nil
	}
	var d Data
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("saga: decode data: %w", err)
	}
	return &d, nil
}

// IsNewerVersion 记录是否由更高版本写入.
func (d *Data) IsNewerVersion() bool {
	return d != nil && d.V > CurrentDataVersion
}

// Clone 深拷贝.
func (d *Data) Clone() *Data {
	if d == nil {
		return nil
	}
	c := *d
	c.Request = d.Request.Clone()
	c.Items = append([]ValidatedItem(nil), d.Items...)
	c.PricedItems = append([]PricedItem(nil), d.PricedItems...)
	c.AppliedDiscounts = append([]AppliedDiscount(nil), d.AppliedDiscounts...)
	c.TicketIDs = append([]string(nil), d.TicketIDs...)
	if d.Extensions != nil {
		c.Extensions = make(map[string]json.RawMessage, len(d.Extensions))
		for k, v := range d.Extensions {
			c.Extensions[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &c
}

// DiscountIDs 返回已使用的优惠 ID，按类型分组.
func (d *Data) DiscountIDs() (packages, vouchers []string) {
	if d == nil {
		return nil, nil
	}
	for _, a := range d.AppliedDiscounts {
		switch a.Kind {
		case DiscountVoucher:
			vouchers = append(vouchers, a.ID)
		default:
			packages = append(packages, a.ID)
		}
	}
	return packages, vouchers
}
