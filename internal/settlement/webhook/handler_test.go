package webhook

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
	"lunorise.com/internal/settlement/domain"
	"lunorise.com/internal/settlement/gateway"
	"lunorise.com/internal/settlement/memstore"
	"lunorise.com/internal/settlement/service"
	"lunorise.com/internal/settlement/sign"
	"lunorise.com/pkg/opt"
	"lunorise.com/pkg/ratelimit"
)

const (
	bpSecret     = "bp-secret"
	nekSecret    = "nek-secret"
	stripeSecret = "whsec_test"
)

func init() { gin.SetMode(gin.TestMode) }

type env struct {
	store  *memstore.Store
	router *gin.Engine
}

// newEnv wrap 可以包一层结算，用来在结算过程中动手脚
func newEnv(t *testing.T, bp gateway.Config, rule ratelimit.Rule, wrap ...func(Settlement) Settlement) *env {
	t.Helper()
	store := memstore.New()
	store.PutWallet(domain.Wallet{UserID: "alice"})
	store.PutProfile("alice", opt.None[string]())
	store.PutDeposit(domain.Deposit{ID: "d1", UserID: "alice", AmountUSDCents: 50000, Method: domain.MethodStandard, Gateway: "basepay", MchOrderNo: "ORD-1", Status: domain.DepositPending})

	if bp.Secret == "" {
		bp.Secret = bpSecret
	}
	reg, err := gateway.NewRegistryFromConfig(map[string]gateway.Config{
		gateway.Basepay: bp,
		gateway.Nekpay:  {Secret: nekSecret},
		gateway.Stripe:  {Secret: stripeSecret},
	})
	require.NoError(t, err)

	rates := service.MustRates(service.DefaultRatesConfig())
	settler := service.NewSettler(store, rates, service.NewScheduler(store, 0), nil, nil)
	var settle Settlement = settler
	for _, w := range wrap {
		settle = w(settle)
	}
	h := NewHandler(store, reg, settle, ratelimit.NewManager(rule, nil), 1024)

	r := gin.New()
	r.POST("/webhooks/:gateway", h.Handle)
	return &env{store: store, router: r}
}

func basepayForm(orderNo, tradeResult, secret string) string {
	vals := map[string]string{"mchOrderNo": orderNo, "tradeResult": tradeResult, "amount": "500.00", "orderNo": "BP-" + orderNo}
	form := url.Values{}
	for k, v := range vals {
		form.Set(k, v)
	}
	form.Set("sign", sign.Locale.Sign(sign.FromStrings(vals), secret))
	form.Set("sign_type", "MD5")
	return form.Encode()
}

func (e *env) post(gw, contentType, body string) *httptest.ResponseRecorder {
	return e.postWith(context.Background(), gw, contentType, body, nil)
}

func (e *env) postWith(ctx context.Context, gw, contentType, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequestWithContext(ctx, http.MethodPost, "/webhooks/"+gw, strings.NewReader(body))
	for k, vs := range header {
		req.Header[k] = vs
	}
	req.Header.Set("Content-Type", contentType)
	req.RemoteAddr = "10.0.0.1:40000"
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

const formCT = "application/x-www-form-urlencoded"

func (e *env) balance(t *testing.T) int64 {
	w, err := e.store.GetWallet(t.Context(), "alice")
	require.NoError(t, err)
	return w.AvailableCents
}

func TestWebhook_SettlesAndIsIdempotent(t *testing.T) {
	e := newEnv(t, gateway.Config{}, ratelimit.Rule{})

	w := e.post("basepay", formCT, basepayForm("ORD-1", "1", bpSecret))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	assert.Equal(t, int64(50000), e.balance(t))

	// 网关重放
	w = e.post("basepay", formCT, basepayForm("ORD-1", "1", bpSecret))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", w.Body.String())
	assert.Equal(t, int64(50000), e.balance(t))

	evs := e.store.WebhookEvents()
	require.Len(t, evs, 2)
	for _, ev := range evs {
		assert.True(t, ev.SignatureOK)
		assert.True(t, ev.Processed)
		assert.False(t, ev.ProcessingError.Valid)
		assert.Equal(t, "ORD-1", ev.MchOrderNo.OrElse(""))
		assert.Equal(t, "10.0.0.1", ev.SourceIP)
		assert.Equal(t, "500.00", ev.Payload["amount"])
	}

	d, err := e.store.GetDeposit(t.Context(), "d1")
	require.NoError(t, err)
	assert.Equal(t, "BP-ORD-1", d.GatewayRef.OrElse(""))
}

func TestWebhook_Nekpay(t *testing.T) {
	e := newEnv(t, gateway.Config{}, ratelimit.Rule{})
	params := sign.Params{
		"mchOrderNo": sign.Str("ORD-1"),
		"payOrderId": sign.Str("NP-1"),
		"state":      sign.Int(2),
		"amount":     sign.Int(50000),
	}
	sig := strings.ToUpper(sign.Bytewise.Sign(params, nekSecret))
	body := `{"mchOrderNo":"ORD-1","payOrderId":"NP-1","state":2,"amount":50000,"sign":"` + sig + `"}`

	w := e.post("NEKPAY", "application/json", body)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "SUCCESS", w.Body.String())
	assert.Equal(t, int64(50000), e.balance(t))
}

func TestWebhook_Rejections(t *testing.T) {
	cases := []struct {
		name     string
		gw       string
		body     string
		wantCode  int
		wantBody  string
		wantErr   bool
		wantSigOK bool
	}{
		{"签名不对", "basepay", basepayForm("ORD-1", "1", "wrong"), http.StatusBadRequest, "FAIL", true, false},
		{"签名对但金额被改", "basepay", strings.Replace(basepayForm("ORD-1", "1", bpSecret), "amount=500.00", "amount=5000.00", 1), http.StatusBadRequest, "FAIL", true, false},
		{"缺订单号", "basepay", "tradeResult=1&sign=" + sign.Locale.Sign(sign.FromStrings(map[string]string{"tradeResult": "1"}), bpSecret), http.StatusBadRequest, "FAIL", true, true},
		{"订单不存在", "basepay", basepayForm("ORD-404", "1", bpSecret), http.StatusNotFound, "FAIL", true, true},
		{"空 body", "basepay", "", http.StatusBadRequest, "FAIL", true, false},
		{"未知网关", "paypal", "a=b", http.StatusNotFound, "unknown gateway", false, false},
		{"body 过大", "basepay", strings.Repeat("a", 2048), http.StatusRequestEntityTooLarge, "FAIL", false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t, gateway.Config{}, ratelimit.Rule{})
			w := e.post(tc.gw, formCT, tc.body)
			assert.Equal(t, tc.wantCode, w.Code)
			assert.Equal(t, tc.wantBody, w.Body.String())
			assert.Equal(t, int64(0), e.balance(t))

			evs := e.store.WebhookEvents()
			if !tc.wantErr {
				assert.Empty(t, evs)
				return
			}
			require.Len(t, evs, 1)
			assert.False(t, evs[0].Processed)
			assert.True(t, evs[0].ProcessingError.Valid)
			assert.Equal(t, tc.wantSigOK, evs[0].SignatureOK)

			d, err := e.store.GetDeposit(t.Context(), "d1")
			require.NoError(t, err)
			assert.Equal(t, domain.DepositPending, d.Status)
		})
	}
}

func TestWebhook_FailedTrade(t *testing.T) {
	e := newEnv(t, gateway.Config{}, ratelimit.Rule{})

	w := e.post("basepay", formCT, basepayForm("ORD-1", "0", bpSecret))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", w.Body.String())

	d, err := e.store.GetDeposit(t.Context(), "d1")
	require.NoError(t, err)
	assert.Equal(t, domain.DepositFailed, d.Status)

	// 失败之后再来成功通知：应答成功但不入账
	w = e.post("basepay", formCT, basepayForm("ORD-1", "1", bpSecret))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", w.Body.String())
	assert.Equal(t, int64(0), e.balance(t))

	evs := e.store.WebhookEvents()
	require.Len(t, evs, 2)
	assert.True(t, evs[1].Processed)
	assert.True(t, evs[1].ProcessingError.Valid)
}

func TestWebhook_IPAllowlist(t *testing.T) {
	t.Run("enforced", func(t *testing.T) {
		e := newEnv(t, gateway.Config{AllowedIPs: []string{"192.168.0.0/16"}, EnforceAllowlist: true}, ratelimit.Rule{})
		w := e.post("basepay", formCT, basepayForm("ORD-1", "1", bpSecret))
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "FAIL", w.Body.String())
		assert.Equal(t, int64(0), e.balance(t))
		require.Len(t, e.store.WebhookEvents(), 1, "被拒之前已经落了日志")
	})
	t.Run("warn only", func(t *testing.T) {
		e := newEnv(t, gateway.Config{AllowedIPs: []string{"192.168.1.1"}}, ratelimit.Rule{})
		w := e.post("basepay", formCT, basepayForm("ORD-1", "1", bpSecret))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, int64(50000), e.balance(t))
	})
	t.Run("allowed", func(t *testing.T) {
		e := newEnv(t, gateway.Config{AllowedIPs: []string{"10.0.0.0/8"}, EnforceAllowlist: true}, ratelimit.Rule{})
		w := e.post("basepay", formCT, basepayForm("ORD-1", "1", bpSecret))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestWebhook_EventLogFailure(t *testing.T) {
	e := newEnv(t, gateway.Config{}, ratelimit.Rule{})
	e.store.InjectFault("CreateWebhookEvent", errors.New("db gone"), 1)

	w := e.post("basepay", formCT, basepayForm("ORD-1", "1", bpSecret))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "FAIL", w.Body.String())

	d, err := e.store.GetDeposit(t.Context(), "d1")
	require.NoError(t, err)
	assert.Equal(t, domain.DepositPending, d.Status, "日志没落就不结算")
}

func TestWebhook_BreakerOpens(t *testing.T) {
	e := newEnv(t, gateway.Config{}, ratelimit.Rule{TripConsecutiveFailures: 1, Timeout: time.Hour})
	e.store.InjectFault("GetDepositByOrderNo", errors.New("connection refused"), 1)

	w := e.post("basepay", formCT, basepayForm("ORD-1", "1", bpSecret))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = e.post("basepay", formCT, basepayForm("ORD-1", "1", bpSecret))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "FAIL", w.Body.String())
	assert.Equal(t, int64(0), e.balance(t))
}

func TestWebhook_NotFoundDoesNotTripBreaker(t *testing.T) {
	e := newEnv(t, gateway.Config{}, ratelimit.Rule{TripConsecutiveFailures: 1, Timeout: time.Hour})

	for i := 0; i < 3; i++ {
		w := e.post("basepay", formCT, basepayForm("ORD-404", "1", bpSecret))
		assert.Equal(t, http.StatusNotFound, w.Code)
	}
	w := e.post("basepay", formCT, basepayForm("ORD-1", "1", bpSecret))
	assert.Equal(t, http.StatusOK, w.Code)
}

func stripeEvent(t *testing.T, payload string) http.Header {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    stripeSecret,
		Timestamp: time.Now(),
	})
	h := http.Header{}
	h.Set(gateway.StripeSignatureHeader, signed.Header)
	return h
}

func TestWebhook_Stripe(t *testing.T) {
	const succeeded = `{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","object":"payment_intent","amount":50000,"currency":"usd","metadata":{"mch_order_no":"ORD-1"}}}}`

	t.Run("settles", func(t *testing.T) {
		e := newEnv(t, gateway.Config{}, ratelimit.Rule{})
		w := e.postWith(t.Context(), "stripe", "application/json", succeeded, stripeEvent(t, succeeded))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"received":true}`, w.Body.String())
		assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
		assert.Equal(t, int64(50000), e.balance(t))

		d, err := e.store.GetDeposit(t.Context(), "d1")
		require.NoError(t, err)
		assert.Equal(t, "pi_1", d.GatewayRef.OrElse(""))

		evs := e.store.WebhookEvents()
		require.Len(t, evs, 1)
		assert.Equal(t, "evt_1", evs[0].EventID.OrElse(""))
		assert.True(t, evs[0].SignatureOK)
		assert.True(t, evs[0].Processed)
	})
	t.Run("bad signature", func(t *testing.T) {
		e := newEnv(t, gateway.Config{}, ratelimit.Rule{})
		h := stripeEvent(t, succeeded)
		tampered := strings.Replace(succeeded, `"amount":50000`, `"amount":5000000`, 1)
		w := e.postWith(t.Context(), "stripe", "application/json", tampered, h)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"received":false}`, w.Body.String())
		assert.Equal(t, int64(0), e.balance(t))

		evs := e.store.WebhookEvents()
		require.Len(t, evs, 1)
		assert.False(t, evs[0].SignatureOK)
	})
	t.Run("refund ignored", func(t *testing.T) {
		e := newEnv(t, gateway.Config{}, ratelimit.Rule{})
		refund := `{"id":"evt_2","type":"charge.refunded","data":{"object":{"id":"ch_1","metadata":{"mch_order_no":"ORD-1"}}}}`
		w := e.postWith(t.Context(), "stripe", "application/json", refund, stripeEvent(t, refund))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"received":true}`, w.Body.String())

		d, err := e.store.GetDeposit(t.Context(), "d1")
		require.NoError(t, err)
		assert.Equal(t, domain.DepositPending, d.Status)
		evs := e.store.WebhookEvents()
		require.Len(t, evs, 1)
		assert.True(t, evs[0].Processed)
	})
}

// disconnectingSettlement 网关在结算进行中断开连接
type disconnectingSettlement struct {
	Settlement
	disconnect context.CancelFunc
}

func (s *disconnectingSettlement) Settle(ctx context.Context, in service.SettleInput) (*service.SettleResult, error) {
	s.disconnect()
	return s.Settlement.Settle(ctx, in)
}

func TestWebhook_ClientDisconnectStillSettles(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	e := newEnv(t, gateway.Config{}, ratelimit.Rule{}, func(s Settlement) Settlement {
		return &disconnectingSettlement{Settlement: s, disconnect: cancel}
	})
	e.store.PutWallet(domain.Wallet{UserID: "bob"})
	e.store.PutProfile("bob", opt.None[string]())
	e.store.PutProfile("alice", opt.Some("bob"))

	w := e.postWith(ctx, "basepay", formCT, basepayForm("ORD-1", "1", bpSecret), nil)
	require.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(50000), e.balance(t))

	bob, err := e.store.GetWallet(t.Context(), "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), bob.AvailableCents, "推荐奖励在提交后照样发放")

	evs := e.store.WebhookEvents()
	require.Len(t, evs, 1)
	assert.True(t, evs[0].Processed)
}
