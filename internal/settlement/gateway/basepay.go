package gateway

import (
	"bytes"
	"fmt"
	"net/url"

	"github.com/segmentio/encoding/json"
	"lunorise.com/internal/settlement/domain"
	"lunorise.com/internal/settlement/sign"
)

const Basepay = "basepay"

// BasepayAdapter 表单回调（也兼容 JSON），tradeResult == "1" 为成功，应答 success
type BasepayAdapter struct{}

func NewBasepay() *BasepayAdapter { return &BasepayAdapter{} }

func (BasepayAdapter) Name() string { return Basepay }

func (BasepayAdapter) Ack() Ack { return Ack{Success: "success", Failure: "FAIL"} }

// Verify Basepay 的键按 en 区域序排
func (BasepayAdapter) Verify(_ *Raw, f *Fields, secret string) bool {
	return sign.Locale.Verify(f.Params, f.Signature, secret)
}

func (a BasepayAdapter) ParseFields(raw *Raw) (*Fields, error) {
	var (
		flat    map[string]string
		params  sign.Params
		payload map[string]any
	)
	if raw.IsJSON() {
		obj, err := decodeObject(raw.Body)
		if err != nil {
			return nil, err
		}
		params = sign.FromJSON(obj)
		flat = make(map[string]string, len(params))
		for k, v := range params {
			if v.Valid {
				flat[k] = v.String()
			}
		}
		payload = obj
	} else {
		values, err := url.ParseQuery(string(raw.Body))
		if err != nil {
			return nil, fmt.Errorf("%w: form: %v", domain.ErrInvalidPayload, err)
		}
		flat = make(map[string]string, len(values))
		payload = make(map[string]any, len(values))
		for k, vs := range values {
			if len(vs) == 0 {
				continue
			}
			flat[k] = vs[0]
			payload[k] = vs[0]
		}
		params = sign.FromStrings(flat)
	}
	if len(flat) == 0 {
		return nil, fmt.Errorf("%w: empty body", domain.ErrInvalidPayload)
	}

	f := &Fields{
		Params:      params,
		Signature:   flat["sign"],
		MchOrderNo:  first(flat, "mchOrderNo", "mch_order_no"),
		GatewayRef:  first(flat, "orderNo", "tradeNo"),
		TradeResult: first(flat, "tradeResult"),
		Amount:      first(flat, "amount", "tradeAmount"),
		Currency:    first(flat, "currency"),
		Payload:     payload,
	}
	f.Succeeded = f.TradeResult.OrElse("") == "1"
	f.EventID = f.GatewayRef
	return f, nil
}

func decodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("%w: json: %v", domain.ErrInvalidPayload, err)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: json body is not an object", domain.ErrInvalidPayload)
	}
	return obj, nil
}
