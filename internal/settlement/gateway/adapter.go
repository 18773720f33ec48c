package gateway

import (
	"mime"
	"net/http"
	"strings"

	"lunorise.com/internal/settlement/sign"
	"lunorise.com/pkg/opt"
)

// Raw 原始回调
type Raw struct {
	ContentType string
	Header      http.Header
	Body        []byte
	SourceIP    string
}

// IsJSON 按 Content-Type 判断；解析不了的按表单处理
func (r *Raw) IsJSON() bool {
	mt, _, err := mime.ParseMediaType(r.ContentType)
	if err != nil {
		return strings.Contains(strings.ToLower(r.ContentType), "json")
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// Fields 各网关回调归一后的结果
type Fields struct {
	// Params 参与验签的平铺参数
	Params    sign.Params
	Signature string

	MchOrderNo  opt.Value[string]
	GatewayRef  opt.Value[string]
	TradeResult opt.Value[string]
	Amount      opt.Value[string]
	Currency    opt.Value[string]
	Succeeded   bool
	EventID     opt.Value[string]
	// Ignored 验签后直接应答成功，不结算
	Ignored bool

	// Payload 原样落到 webhook_events.payload
	Payload map[string]any
}

// Ack 网关认的应答字面量，必须一字不差
type Ack struct {
	Success string
	Failure string
	// ContentType 为空时按纯文本
	ContentType string
}

func (a Ack) MIME() string {
	if a.ContentType == "" {
		return "text/plain; charset=utf-8"
	}
	return a.ContentType
}

type Adapter interface {
	Name() string
	ParseFields(raw *Raw) (*Fields, error)
	// Verify 各网关自己的验签方式，ParseFields 成功后才会调用
	Verify(raw *Raw, f *Fields, secret string) bool
	Ack() Ack
}

// first 按顺序取第一个非空字段
func first(m map[string]string, keys ...string) opt.Value[string] {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != "" {
			return opt.Some(v)
		}
	}
	return opt.None[string]()
}
