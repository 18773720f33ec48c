// Package sign 实现网关的签名规则：
// 去掉 sign/sign_type，其余键按网关约定的顺序(字节序或 en 区域序)排好，拼成 k1=v1&k2=v2&...&key=<secret>，
// 对 UTF-8 字节做 MD5，输出小写十六进制。值为空(absent/null)的键整个跳过。
package sign

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Value 参与签名的单个值，Valid=false 表示缺省，不参与签名
type Value struct {
	s     string
	Valid bool
}

func Str(s string) Value { return Value{s: s, Valid: true} }

func Int(n int64) Value { return Value{s: strconv.FormatInt(n, 10), Valid: true} }

// Dec 十进制渲染，永远不会出现科学计数法
func Dec(d decimal.Decimal) Value { return Value{s: d.String(), Valid: true} }

// Num JSON 数字按原样解析成十进制再渲染；解析失败时退回原始文本
func Num(n json.Number) Value {
	d, err := decimal.NewFromString(string(n))
	if err != nil {
		return Str(string(n))
	}
	return Dec(d)
}

func Null() Value { return Value{} }

func (v Value) String() string { return v.s }

type Params map[string]Value

// 不参与签名的键
var excluded = map[string]struct{}{"sign": {}, "sign_type": {}}

// Order 参与签名的键的排序方式，各网关不一样
type Order func(keys []string)

// ByteOrder 按 UTF-8 字节序
func ByteOrder(keys []string) { sort.Strings(keys) }

// LocaleOrder 按 en 区域的排序规则，大小写不敏感优先；Collator 不能并发用，每次新建
func LocaleOrder(keys []string) { collate.New(language.English).SortStrings(keys) }

// Codec 一种排序方式下的签名规则
type Codec struct {
	Order Order
}

var (
	Bytewise = Codec{Order: ByteOrder}
	Locale   = Codec{Order: LocaleOrder}
)

// Canonical 返回做摘要之前的原串，排查签名不一致时用
func (c Codec) Canonical(params Params, secret string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if _, skip := excluded[k]; skip || !v.Valid {
			continue
		}
		keys = append(keys, k)
	}
	order := c.Order
	if order == nil {
		order = ByteOrder
	}
	order(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k].s)
		b.WriteByte('&')
	}
	b.WriteString("key=")
	b.WriteString(secret)
	return b.String()
}

func (c Codec) Sign(params Params, secret string) string {
	sum := md5.Sum([]byte(c.Canonical(params, secret)))
	return hex.EncodeToString(sum[:])
}

// Verify 忽略大小写比较；收到的签名为空一律不通过
func (c Codec) Verify(params Params, received, secret string) bool {
	received = strings.TrimSpace(received)
	if received == "" {
		return false
	}
	expected := c.Sign(params, secret)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(received))) == 1
}

// Canonical Sign Verify 按字节序
func Canonical(params Params, secret string) string { return Bytewise.Canonical(params, secret) }

func Sign(params Params, secret string) string { return Bytewise.Sign(params, secret) }

func Verify(params Params, received, secret string) bool {
	return Bytewise.Verify(params, received, secret)
}

// FromStrings 表单类回调：所有值都是字符串
func FromStrings(m map[string]string) Params {
	p := make(Params, len(m))
	for k, v := range m {
		p[k] = Str(v)
	}
	return p
}

// FromJSON 把 JSON 对象的一层字段转成签名参数；null 缺省，嵌套对象/数组按紧凑 JSON 文本参与
func FromJSON(obj map[string]any) Params {
	p := make(Params, len(obj))
	for k, raw := range obj {
		switch v := raw.(type) {
		case nil:
			p[k] = Null()
		case string:
			p[k] = Str(v)
		case json.Number:
			p[k] = Num(v)
		case bool:
			p[k] = Str(strconv.FormatBool(v))
		case float64:
			p[k] = Dec(decimal.NewFromFloat(v))
		default:
			b, err := json.Marshal(v)
			if err != nil {
				p[k] = Null()
				continue
			}
			p[k] = Str(string(b))
		}
	}
	return p
}
