// Package stripe 基于 Stripe PaymentIntent 的卡支付网关.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/refund"

	"github.com/Tsukikage7/transit-checkout/collaborator"
	"github.com/Tsukikage7/transit-checkout/logger"
)

// Name 网关名称.
const Name = "stripe"

// 预定义错误.
var (
	ErrNilConfig      = errors.New("stripe: config is nil")
	ErrEmptySecretKey = errors.New("stripe: secret key is empty")
)

// Config Stripe 配置.
type Config struct {
	// SecretKey API 密钥
	SecretKey string `json:"secret_key" yaml:"secret_key" mapstructure:"secret_key"`

	// PaymentMethod 确认 PaymentIntent 时使用的支付方式，如测试环境的 pm_card_visa
	PaymentMethod string `json:"payment_method" yaml:"payment_method" mapstructure:"payment_method"`

	// BackendURL 覆盖 API 地址，用于测试或代理
	BackendURL string `json:"backend_url" yaml:"backend_url" mapstructure:"backend_url"`
}

// Gateway Stripe 卡支付网关.
type Gateway struct {
	config *Config
	log    logger.Logger
}

// New 创建网关并设置全局 API 密钥.
func New(config *Config, log logger.Logger) (*Gateway, error) {
	if config == nil {
		return nil, ErrNilConfig
	}
	if config.SecretKey == "" {
		return nil, ErrEmptySecretKey
	}
	if log == nil {
		log = logger.NewNop()
	}

	stripeapi.Key = config.SecretKey
	if config.BackendURL != "" {
		stripeapi.SetBackend(stripeapi.APIBackend, stripeapi.GetBackendWithConfig(stripeapi.APIBackend, &stripeapi.BackendConfig{
			URL: stripeapi.String(config.BackendURL),
		}))
	}

	return &Gateway{config: config, log: log}, nil
}

// Name 网关名称.
func (g *Gateway) Name() string {
	return Name
}

// Charge 创建并确认 PaymentIntent，以 IdempotencyKey 幂等.
func (g *Gateway) Charge(ctx context.Context, req *collaborator.ChargeRequest) (*collaborator.Charge, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: charge request is nil", collaborator.ErrInvalidArgument)
	}

	params := &stripeapi.PaymentIntentParams{
		Amount:   stripeapi.Int64(req.Amount.Shift(2).Round(0).IntPart()),
		Currency: stripeapi.String(strings.ToLower(req.Currency)),
		Confirm:  stripeapi.Bool(true),
		AutomaticPaymentMethods: &stripeapi.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripeapi.Bool(true),
			AllowRedirects: stripeapi.String("never"),
		},
		Metadata: map[string]string{
			"order_id":   req.OrderID,
			"checkout":   req.IdempotencyKey,
			"saga_owner": "transit-checkout",
		},
	}
	if g.config.PaymentMethod != "" {
		params.PaymentMethod = stripeapi.String(g.config.PaymentMethod)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey("charge-" + req.IdempotencyKey)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, translate(err)
	}

	switch pi.Status {
	case stripeapi.PaymentIntentStatusSucceeded, stripeapi.PaymentIntentStatusRequiresCapture, stripeapi.PaymentIntentStatusProcessing:
		return &collaborator.Charge{ID: pi.ID, Status: collaborator.PaymentSucceeded}, nil
	default:
		g.log.WithContext(ctx).Warn("[Stripe] PaymentIntent 未完成",
			logger.String("paymentIntent", pi.ID),
			logger.String("status", string(pi.Status)),
		)
		return nil, fmt.Errorf("%w: payment intent %s is %s", collaborator.ErrRejected, pi.ID, pi.Status)
	}
}

// Verify 确认 PaymentIntent 已成功或已授权.
func (g *Gateway) Verify(ctx context.Context, paymentID string) error {
	pi, err := g.get(ctx, paymentID)
	if err != nil {
		return err
	}
	switch pi.Status {
	case stripeapi.PaymentIntentStatusSucceeded, stripeapi.PaymentIntentStatusRequiresCapture, stripeapi.PaymentIntentStatusProcessing:
		return nil
	default:
		return fmt.Errorf("%w: payment intent %s is %s", collaborator.ErrRejected, paymentID, pi.Status)
	}
}

// Cancel 已扣款的退款，未扣款的撤销.
func (g *Gateway) Cancel(ctx context.Context, paymentID string) error {
	pi, err := g.get(ctx, paymentID)
	if err != nil {
		return err
	}

	switch pi.Status {
	case stripeapi.PaymentIntentStatusCanceled:
		return nil
	case stripeapi.PaymentIntentStatusSucceeded:
		params := &stripeapi.RefundParams{PaymentIntent: stripeapi.String(paymentID)}
		params.Context = ctx
		params.SetIdempotencyKey("refund-" + paymentID)
		if _, err := refund.New(params); err != nil {
			var serr *stripeapi.Error
			if errors.As(err, &serr) && serr.Code == stripeapi.ErrorCodeChargeAlreadyRefunded {
				return nil
			}
			return translate(err)
		}
	default:
		params := &stripeapi.PaymentIntentCancelParams{}
		params.Context = ctx
		if _, err := paymentintent.Cancel(paymentID, params); err != nil {
			return translate(err)
		}
	}

	g.log.WithContext(ctx).Info("[Stripe] 支付已撤销", logger.String("paymentIntent", paymentID))
	return nil
}

func (g *Gateway) get(ctx context.Context, paymentID string) (*stripeapi.PaymentIntent, error) {
	if paymentID == "" {
		return nil, fmt.Errorf("%w: payment id is empty", collaborator.ErrNotFound)
	}
	params := &stripeapi.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(paymentID, params)
	if err != nil {
		return nil, translate(err)
	}
	return pi, nil
}

// translate 将 Stripe 错误映射为 collaborator 错误.
func translate(err error) error {
	var serr *stripeapi.Error
	if !errors.As(err, &serr) {
		return errors.Join(collaborator.ErrUnavailable, err)
	}
	switch {
	case serr.Type == stripeapi.ErrorTypeCard:
		return fmt.Errorf("%w: card declined: %s", collaborator.ErrRejected, serr.Msg)
	case serr.Code == stripeapi.ErrorCodeResourceMissing:
		return fmt.Errorf("%w: %s", collaborator.ErrNotFound, serr.Msg)
	case serr.HTTPStatusCode >= 500 || serr.HTTPStatusCode == 429:
		return errors.Join(collaborator.ErrUnavailable, err)
	case serr.Type == stripeapi.ErrorTypeInvalidRequest:
		return fmt.Errorf("%w: %s", collaborator.ErrInvalidArgument, serr.Msg)
	default:
		return errors.Join(collaborator.ErrUnavailable, err)
	}
}

var _ collaborator.PaymentGateway = (*Gateway)(nil)
