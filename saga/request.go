package saga

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// 商品类型.
const (
	KindP2P  = "P2P"
	KindPass = "PASS"
)

// 支付方式.
const (
	PaymentCash = "CASH"
	PaymentCard = "CARD"
)

// DefaultCurrency 默认币种.
const DefaultCurrency = "EUR"

// LineItem 结账请求中的一行商品.
type LineItem struct {
	ItemID      string `json:"itemId" validate:"required"`
	Kind        string `json:"kind" validate:"required,oneof=P2P PASS"`
	Origin      string `json:"origin,omitempty" validate:"required_if=Kind P2P"`
	Destination string `json:"destination,omitempty" validate:"required_if=Kind P2P"`
	Quantity    int    `json:"quantity" validate:"required,min=1,max=50"`
}

// CheckoutRequest 结账请求.
type CheckoutRequest struct {
	Items              []LineItem `json:"items" validate:"required,min=1,max=20,dive"`
	PaymentMethod      string     `json:"paymentMethod" validate:"required,oneof=CASH CARD"`
	DiscountPackageIDs []string   `json:"discountPackageIds,omitempty" validate:"omitempty,dive,required"`
	VoucherIDs         []string   `json:"voucherIds,omitempty" validate:"omitempty,dive,required"`
	CustomerID         string     `json:"customerId,omitempty"`
	Currency           string     `json:"currency,omitempty" validate:"omitempty,len=3,uppercase"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Normalize 填充默认值.
func (r *CheckoutRequest) Normalize() {
	if r.Currency == "" {
		r.Currency = DefaultCurrency
	}
}

// Validate 校验请求，失败时返回包装 ErrInvalidRequest 的错误.
func (r *CheckoutRequest) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: request is nil", ErrInvalidRequest)
	}
	if err := requestValidator().Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// Clone 深拷贝请求.
func (r *CheckoutRequest) Clone() *CheckoutRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.Items = append([]LineItem(nil), r.Items...)
	c.DiscountPackageIDs = append([]string(nil), r.DiscountPackageIDs...)
	c.VoucherIDs = append([]string(nil), r.VoucherIDs...)
	return &c
}
