package saga

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidateItemsCommand VALIDATE_ITEMS 命令.
type ValidateItemsCommand struct {
	Request *CheckoutRequest `json:"request"`
}

// ValidateItemsResult VALIDATE_ITEMS 结果.
type ValidateItemsResult struct {
	Items []ValidatedItem `json:"items"`
}

// PricingCommand CALCULATE_PRICING 命令.
type PricingCommand struct {
	Items    []ValidatedItem `json:"items"`
	Currency string          `json:"currency"`
}

// PricingResult CALCULATE_PRICING 结果.
type PricingResult struct {
	BaseTotal     decimal.Decimal `json:"baseTotal"`
	Currency      string          `json:"currency"`
	ReservationID string          `json:"reservationId"`
	PricedItems   []PricedItem    `json:"pricedItems"`
}

// DiscountsCommand APPLY_DISCOUNTS 命令.
type DiscountsCommand struct {
	BaseTotal          decimal.Decimal `json:"baseTotal"`
	Currency           string          `json:"currency"`
	DiscountPackageIDs []string        `json:"discountPackageIds,omitempty"`
	VoucherIDs         []string        `json:"voucherIds,omitempty"`
	UserID             string          `json:"userId"`
}

// DiscountsResult APPLY_DISCOUNTS 结果.
type DiscountsResult struct {
	DiscountTotal    decimal.Decimal   `json:"discountTotal"`
	FinalTotal       decimal.Decimal   `json:"finalTotal"`
	AppliedDiscounts []AppliedDiscount `json:"appliedDiscounts,omitempty"`
}

// CreateOrderCommand CREATE_ORDER 命令.
type CreateOrderCommand struct {
	Items         []PricedItem    `json:"items"`
	FinalTotal    decimal.Decimal `json:"finalTotal"`
	Currency      string          `json:"currency"`
	UserID        string          `json:"userId"`
	CustomerID    string          `json:"customerId,omitempty"`
	PaymentMethod string          `json:"paymentMethod"`
}

// CreateOrderResult CREATE_ORDER 结果.
type CreateOrderResult struct {
	OrderID string `json:"orderId"`
}

// PaymentCommand PROCESS_PAYMENT 命令.
type PaymentCommand struct {
	OrderID       string          `json:"orderId"`
	FinalTotal    decimal.Decimal `json:"finalTotal"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"paymentMethod"`
}

// PaymentResult PROCESS_PAYMENT 结果.
type PaymentResult struct {
	PaymentID string `json:"paymentId"`
	Provider  string `json:"provider,omitempty"`
}

// TicketsCommand GENERATE_TICKETS 命令.
type TicketsCommand struct {
	OrderID string          `json:"orderId"`
	UserID  string          `json:"userId"`
	Items   []ValidatedItem `json:"items"`
}

// TicketsResult GENERATE_TICKETS 结果.
type TicketsResult struct {
	TicketIDs []string `json:"ticketIds"`
}

// CancelPaymentCommand CANCEL_PAYMENT 命令.
type CancelPaymentCommand struct {
	PaymentID     string `json:"paymentId"`
	OrderID       string `json:"orderId"`
	Provider      string `json:"provider,omitempty"`
	PaymentMethod string `json:"paymentMethod,omitempty"`
}

// CancelOrderCommand CANCEL_ORDER 命令.
type CancelOrderCommand struct {
	OrderID string `json:"orderId"`
}

// ReleaseDiscountsCommand RELEASE_DISCOUNTS 命令.
type ReleaseDiscountsCommand struct {
	DiscountPackageIDs []string `json:"discountPackageIds,omitempty"`
	VoucherIDs         []string `json:"voucherIds,omitempty"`
	UserID             string   `json:"userId"`
}

// CleanupItemsCommand CLEANUP_ITEMS 命令.
type CleanupItemsCommand struct {
	ReservationID string       `json:"reservationId"`
	Items         []PricedItem `json:"items,omitempty"`
}

// ToPayload 将类型化的命令或结果转换为事件 payload.
func ToPayload(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("saga: encode payload: %w", err)
	}
	var p map[string]any
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("saga: encode payload: %w", err)
	}
	return p, nil
}

// FromPayload 将事件 payload 解析为类型化结构.
func FromPayload(p map[string]any, v any) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("saga: decode payload: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("saga: decode payload: %w", err)
	}
	return nil
}

// ApplyOutcome 将正向步骤的成功结果合并进 saga 数据.
func ApplyOutcome(s *Saga, step Step, payload map[string]any) error {
	if s.Data == nil {
		s.Data = &Data{V: CurrentDataVersion}
	}
	d := s.Data

	switch step {
	case StepValidateItems:
		var r ValidateItemsResult
		if err := FromPayload(payload, &r); err != nil {
			return err
		}
		d.Items = r.Items
	case StepCalculatePricing:
		var r PricingResult
		if err := FromPayload(payload, &r); err != nil {
			return err
		}
		d.BaseTotal = r.BaseTotal
		d.ReservationID = r.ReservationID
		d.PricedItems = r.PricedItems
		if r.Currency != "" {
			d.Currency = r.Currency
		}
	case StepApplyDiscounts:
		var r DiscountsResult
		if err := FromPayload(payload, &r); err != nil {
			return err
		}
		d.DiscountTotal = r.DiscountTotal
		d.FinalTotal = decimal.Max(r.FinalTotal, decimal.Zero)
		d.AppliedDiscounts = r.AppliedDiscounts
	case StepCreateOrder:
		var r CreateOrderResult
		if err := FromPayload(payload, &r); err != nil {
			return err
		}
		s.SetOrderID(r.OrderID)
		d.OrderID = s.OrderID
	case StepProcessPayment:
		var r PaymentResult
		if err := FromPayload(payload, &r); err != nil {
			return err
		}
		d.PaymentID = r.PaymentID
		d.PaymentProvider = r.Provider
	case StepGenerateTickets:
		var r TicketsResult
		if err := FromPayload(payload, &r); err != nil {
			return err
		}
		d.TicketIDs = r.TicketIDs
	default:
		return fmt.Errorf("saga: no projection for step %s", step)
	}
	return nil
}

// CommandPayload 根据 saga 数据构造步骤命令的 payload.
func CommandPayload(s *Saga, step Step) (map[string]any, error) {
	d := s.Data
	if d == nil {
		d = &Data{V: CurrentDataVersion}
	}
	req := d.Request
	if req == nil {
		req = &CheckoutRequest{}
	}
	currency := d.Currency
	if currency == "" {
		currency = DefaultCurrency
	}

	var cmd any
	switch step {
	case StepValidateItems:
		cmd = ValidateItemsCommand{Request: req}
	case StepCalculatePricing:
		cmd = PricingCommand{Items: d.Items, Currency: currency}
	case StepApplyDiscounts:
		cmd = DiscountsCommand{
			BaseTotal:          d.BaseTotal,
			Currency:           currency,
			DiscountPackageIDs: req.DiscountPackageIDs,
			VoucherIDs:         req.VoucherIDs,
			UserID:             s.UserID,
		}
	case StepCreateOrder:
		cmd = CreateOrderCommand{
			Items:         d.PricedItems,
			FinalTotal:    d.FinalTotal,
			Currency:      currency,
			UserID:        s.UserID,
			CustomerID:    req.CustomerID,
			PaymentMethod: req.PaymentMethod,
		}
	case StepProcessPayment:
		cmd = PaymentCommand{
			OrderID:       s.OrderID,
			FinalTotal:    d.FinalTotal,
			Currency:      currency,
			PaymentMethod: req.PaymentMethod,
		}
	case StepGenerateTickets:
		cmd = TicketsCommand{OrderID: s.OrderID, UserID: s.UserID, Items: d.Items}
	case StepCancelPayment:
		cmd = CancelPaymentCommand{
			PaymentID:     d.PaymentID,
			OrderID:       s.OrderID,
			Provider:      d.PaymentProvider,
			PaymentMethod: req.PaymentMethod,
		}
	case StepCancelOrder:
		cmd = CancelOrderCommand{OrderID: s.OrderID}
	case StepReleaseDiscounts:
		packages, vouchers := d.DiscountIDs()
		cmd = ReleaseDiscountsCommand{DiscountPackageIDs: packages, VoucherIDs: vouchers, UserID: s.UserID}
	case StepCleanupItems:
		cmd = CleanupItemsCommand{ReservationID: d.ReservationID, Items: d.PricedItems}
	default:
		return nil, fmt.Errorf("saga: no command payload for step %s", step)
	}
	return ToPayload(cmd)
}
