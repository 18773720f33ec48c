package sign

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "s3cr3t"

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestCanonical(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		want   string
	}{
		{
			name: "按键排序并追加 key",
			params: Params{
				"tradeResult": Str("1"),
				"mchOrderNo":  Str("ORD-1"),
				"amount":      Str("500.00"),
			},
			want: "amount=500.00&mchOrderNo=ORD-1&tradeResult=1&key=s3cr3t",
		},
		{
			name: "去掉 sign 和 sign_type",
			params: Params{
				"a":         Str("1"),
				"sign":      Str("xxx"),
				"sign_type": Str("MD5"),
			},
			want: "a=1&key=s3cr3t",
		},
		{
			name: "缺省值整个跳过，不渲染成 null",
			params: Params{
				"a":    Str("1"),
				"memo": Null(),
			},
			want: "a=1&key=s3cr3t",
		},
		{
			name: "字节序：大写排在小写前面",
			params: Params{
				"b": Str("2"),
				"B": Str("1"),
				"a": Str("3"),
			},
			want: "B=1&a=3&b=2&key=s3cr3t",
		},
		{
			name:   "空参数",
			params: Params{},
			want:   "key=s3cr3t",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Canonical(tt.params, secret))
		})
	}
}

func TestSign_KnownDigest(t *testing.T) {
	p := Params{"amount": Str("500.00"), "mchOrderNo": Str("ORD-1"), "tradeResult": Str("1")}
	assert.Equal(t, md5Hex("amount=500.00&mchOrderNo=ORD-1&tradeResult=1&key=s3cr3t"), Sign(p, secret))
	assert.Equal(t, strings.ToLower(Sign(p, secret)), Sign(p, secret))
}

func TestVerify(t *testing.T) {
	p := Params{"amount": Str("500.00"), "mchOrderNo": Str("ORD-1"), "tradeResult": Str("1")}
	sig := Sign(p, secret)

	assert.True(t, Verify(p, sig, secret))
	assert.True(t, Verify(p, strings.ToUpper(sig), secret), "大小写不敏感")
	assert.False(t, Verify(p, sig, "other"))
	assert.False(t, Verify(p, "", secret))

	tampered := Params{"amount": Str("5000.00"), "mchOrderNo": Str("ORD-1"), "tradeResult": Str("1")}
	assert.False(t, Verify(tampered, sig, secret), "篡改金额必须验签失败")

	extra := Params{"amount": Str("500.00"), "mchOrderNo": Str("ORD-1"), "tradeResult": Str("1"), "x": Str("y")}
	assert.False(t, Verify(extra, sig, secret), "多一个键也不行")

	withSign := Params{"amount": Str("500.00"), "mchOrderNo": Str("ORD-1"), "tradeResult": Str("1"), "sign": Str(sig)}
	assert.True(t, Verify(withSign, sig, secret), "sign 本身不参与签名")
}

func TestValues_NoScientificNotation(t *testing.T) {
	assert.Equal(t, "0.00000001", Dec(decimal.RequireFromString("1e-8")).String())
	assert.Equal(t, "12000000", Num(json.Number("1.2e7")).String())
	assert.Equal(t, "500", Int(500).String())
	assert.Equal(t, "5.5", Num(json.Number("5.50")).String())
	assert.False(t, Null().Valid)
}

func TestFromJSON(t *testing.T) {
	var obj map[string]any
	dec := json.NewDecoder(strings.NewReader(`{"mchOrderNo":"ORD-1","amount":500,"state":2,"memo":null,"paid":true,"ext":{"k":"v"}}`))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&obj))

	p := FromJSON(obj)
	assert.Equal(t, "amount=500&ext={\"k\":\"v\"}&mchOrderNo=ORD-1&paid=true&state=2&key=s3cr3t", Canonical(p, secret))
}

func TestFromStrings(t *testing.T) {
	p := FromStrings(map[string]string{"a": "1", "sign": "zz"})
	assert.Equal(t, "a=1&key=k", Canonical(p, "k"))
}

func TestCodec_KeyOrder(t *testing.T) {
	p := Params{"amount": Str("500"), "Bank": Str("ICBC"), "zone": Str("cn")}

	assert.Equal(t, "Bank=ICBC&amount=500&zone=cn&key=k", Bytewise.Canonical(p, "k"), "字节序大写在前")
	assert.Equal(t, "amount=500&Bank=ICBC&zone=cn&key=k", Locale.Canonical(p, "k"), "区域序不分大小写")
	assert.Equal(t, Bytewise.Canonical(p, "k"), Canonical(p, "k"))
	assert.Equal(t, Bytewise.Canonical(p, "k"), Codec{}.Canonical(p, "k"), "零值按字节序")

	// 两种顺序签出来的值互不通用
	sig := Locale.Sign(p, "k")
	assert.Equal(t, md5Hex("amount=500&Bank=ICBC&zone=cn&key=k"), sig)
	assert.True(t, Locale.Verify(p, sig, "k"))
	assert.False(t, Bytewise.Verify(p, sig, "k"))
}
