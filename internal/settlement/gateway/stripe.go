package gateway

import (
	"fmt"
	"strconv"

	"github.com/segmentio/encoding/json"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"lunorise.com/internal/settlement/domain"
	"lunorise.com/pkg/opt"
)

const Stripe = "stripe"

// StripeSignatureHeader Stripe 把时间戳和 HMAC 放在这个头里
const StripeSignatureHeader = "Stripe-Signature"

// StripeAdapter JSON 事件回调，只处理 payment_intent 的成功和失败，其余类型验签后直接应答
type StripeAdapter struct{}

func NewStripe() *StripeAdapter { return &StripeAdapter{} }

func (StripeAdapter) Name() string { return Stripe }

func (StripeAdapter) Ack() Ack {
	return Ack{Success: `{"received":true}`, Failure: `{"received":false}`, ContentType: "application/json"}
}

func (StripeAdapter) ParseFields(raw *Raw) (*Fields, error) {
	obj, err := decodeObject(raw.Body)
	if err != nil {
		return nil, err
	}
	var ev stripe.Event
	if err := json.Unmarshal(raw.Body, &ev); err != nil {
		return nil, fmt.Errorf("%w: stripe event: %v", domain.ErrInvalidPayload, err)
	}
	if ev.ID == "" || ev.Type == "" {
		return nil, fmt.Errorf("%w: stripe event without id or type", domain.ErrInvalidPayload)
	}

	f := &Fields{
		Signature:   raw.Header.Get(StripeSignatureHeader),
		EventID:     opt.Some(ev.ID),
		TradeResult: opt.Some(string(ev.Type)),
		Payload:     obj,
	}
	switch ev.Type {
	case stripe.EventTypePaymentIntentSucceeded, stripe.EventTypePaymentIntentPaymentFailed:
	default:
		// 退款等其它事件不走结算
		f.Ignored = true
		return f, nil
	}
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: stripe event %s without data", domain.ErrInvalidPayload, ev.ID)
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("%w: payment intent: %v", domain.ErrInvalidPayload, err)
	}

	f.MchOrderNo = first(pi.Metadata, "mch_order_no", "mchOrderNo", "order_id")
	if pi.ID != "" {
		f.GatewayRef = opt.Some(pi.ID)
	}
	// 最小货币单位
	f.Amount = opt.Some(strconv.FormatInt(pi.Amount, 10))
	if pi.Currency != "" {
		f.Currency = opt.Some(string(pi.Currency))
	}
	f.Succeeded = ev.Type == stripe.EventTypePaymentIntentSucceeded
	return f, nil
}

// Verify 用 webhook 签名密钥校验原始 body，超过默认容忍时间的也不通过
func (StripeAdapter) Verify(raw *Raw, _ *Fields, secret string) bool {
	_, err := webhook.ConstructEventWithOptions(raw.Body, raw.Header.Get(StripeSignatureHeader), secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	return err == nil
}
