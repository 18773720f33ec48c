package gateway

import (
	"fmt"

	"lunorise.com/internal/settlement/domain"
	"lunorise.com/internal/settlement/sign"
)

const Nekpay = "nekpay"

// NekpayAdapter JSON 回调，state == 2 为成功；签名是大写十六进制，应答 SUCCESS
type NekpayAdapter struct{}

func NewNekpay() *NekpayAdapter { return &NekpayAdapter{} }

func (NekpayAdapter) Name() string { return Nekpay }

func (NekpayAdapter) Ack() Ack { return Ack{Success: "SUCCESS", Failure: "FAIL"} }

func (NekpayAdapter) Verify(_ *Raw, f *Fields, secret string) bool {
	return sign.Bytewise.Verify(f.Params, f.Signature, secret)
}

func (NekpayAdapter) ParseFields(raw *Raw) (*Fields, error) {
	obj, err := decodeObject(raw.Body)
	if err != nil {
		return nil, err
	}
	if len(obj) == 0 {
		return nil, fmt.Errorf("%w: empty body", domain.ErrInvalidPayload)
	}

	f := &Fields{Payload: obj}
	f.Params = sign.FromJSON(obj)
	flat := make(map[string]string, len(f.Params))
	for k, v := range f.Params {
		if v.Valid {
			flat[k] = v.String()
		}
	}
	f.Signature = flat["sign"]
	f.MchOrderNo = first(flat, "mchOrderNo")
	f.GatewayRef = first(flat, "payOrderId")
	f.TradeResult = first(flat, "state")
	f.Amount = first(flat, "amount")
	f.Currency = first(flat, "currency")
	f.Succeeded = f.TradeResult.OrElse("") == "2"
	f.EventID = f.GatewayRef
	return f, nil
}
