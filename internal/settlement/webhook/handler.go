// Package webhook 接收支付网关异步通知：先落日志，再验签，最后结算
package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"lunorise.com/internal/settlement/domain"
	"lunorise.com/internal/settlement/gateway"
	"lunorise.com/internal/settlement/service"
	"lunorise.com/pkg/logger"
	"lunorise.com/pkg/metrics"
	"lunorise.com/pkg/opt"
	"lunorise.com/pkg/ratelimit"
)

const DefaultMaxBodyBytes int64 = 64 << 10

// SettleTimeout 验签通过后结算脱离请求 ctx，网关断开也要跑完
const SettleTimeout = 30 * time.Second

// Settlement 由 service.Settler 实现
type Settlement interface {
	Settle(ctx context.Context, in service.SettleInput) (*service.SettleResult, error)
	Fail(ctx context.Context, mchOrderNo, reason string) (*domain.Deposit, error)
}

type Handler struct {
	events   domain.WebhookRepo
	gateways *gateway.Registry
	settle   Settlement
	breakers *ratelimit.Manager
	maxBody  int64
}

func NewHandler(events domain.WebhookRepo, gateways *gateway.Registry, settle Settlement, breakers *ratelimit.Manager, maxBody int64) *Handler {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &Handler{events: events, gateways: gateways, settle: settle, breakers: breakers, maxBody: maxBody}
}

func reply(c *gin.Context, status int, ack gateway.Ack, success bool) {
	token := ack.Failure
	if success {
		token = ack.Success
	}
	c.Data(status, ack.MIME(), []byte(token))
}

// Handle POST /webhooks/:gateway
func (h *Handler) Handle(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("gateway")
	entry, ok := h.gateways.Get(name)
	if !ok {
		metrics.WebhookTotal.WithLabelValues("unknown", "unknown_gateway").Inc()
		c.String(http.StatusNotFound, "unknown gateway")
		return
	}
	gw := entry.Adapter.Name()
	ack := entry.Adapter.Ack()
	ip := c.ClientIP()

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.done(gw, "too_large")
			reply(c, http.StatusRequestEntityTooLarge, ack, false)
			return
		}
		h.done(gw, "bad_request")
		reply(c, http.StatusBadRequest, ack, false)
		return
	}

	raw := &gateway.Raw{ContentType: c.GetHeader("Content-Type"), Header: c.Request.Header, Body: body, SourceIP: ip}
	fields, parseErr := entry.Adapter.ParseFields(raw)

	// 1. 先落日志，解析失败也要留底
	ev := &domain.WebhookEvent{
		ID:       uuid.NewString(),
		Gateway:  gw,
		SourceIP: ip,
	}
	if parseErr != nil {
		ev.Payload = domain.JSONMap{"raw": string(body), "content_type": raw.ContentType}
		ev.ProcessingError = opt.Some(parseErr.Error())
	} else {
		ev.EventID = fields.EventID
		ev.MchOrderNo = fields.MchOrderNo
		ev.Payload = fields.Payload
	}
	if err := h.events.CreateWebhookEvent(ctx, ev); err != nil {
		logger.Error(ctx, "persist webhook event failed", zap.String("gateway", gw), zap.Error(err))
		h.done(gw, "log_failed")
		reply(c, http.StatusInternalServerError, ack, false)
		return
	}
	log := []zap.Field{
		zap.String("gateway", gw),
		zap.String("webhook_event_id", ev.ID),
		zap.String("source_ip", ip),
		zap.String("mch_order_no", ev.MchOrderNo.OrElse("")),
	}
	if parseErr != nil {
		logger.Warn(ctx, "webhook payload rejected", append(log, zap.Error(parseErr))...)
		h.done(gw, "bad_request")
		reply(c, http.StatusBadRequest, ack, false)
		return
	}

	// 2. 来源 IP
	if !entry.IPAllowed(ip) {
		metrics.WebhookIPRejected.WithLabelValues(gw, strconv.FormatBool(entry.Enforce)).Inc()
		logger.Warn(ctx, "webhook source ip not in allowlist", append(log, zap.Bool("enforced", entry.Enforce))...)
		if entry.Enforce {
			h.markError(ctx, ev.ID, "source ip not allowed: "+ip)
			h.done(gw, "ip_rejected")
			reply(c, http.StatusForbidden, ack, false)
			return
		}
	}

	// 3. 验签
	sigOK := entry.Adapter.Verify(raw, fields, entry.Secret)
	h.update(ctx, ev.ID, domain.WebhookUpdate{SignatureOK: &sigOK})
	if !sigOK {
		logger.Warn(ctx, "webhook signature mismatch", log...)
		h.markError(ctx, ev.ID, domain.ErrInvalidSignature.Error())
		h.done(gw, "bad_signature")
		reply(c, http.StatusBadRequest, ack, false)
		return
	}

	// 不关心的事件类型照样应答成功，不然网关会一直重试
	if fields.Ignored {
		processed := true
		h.update(ctx, ev.ID, domain.WebhookUpdate{Processed: &processed})
		logger.Info(ctx, "webhook event type ignored", append(log, zap.String("trade_result", fields.TradeResult.OrElse("")))...)
		h.done(gw, "ignored")
		reply(c, http.StatusOK, ack, true)
		return
	}

	orderNo, ok := fields.MchOrderNo.Get()
	if !ok {
		h.markError(ctx, ev.ID, domain.ErrMissingOrderNo.Error())
		h.done(gw, "bad_request")
		reply(c, http.StatusBadRequest, ack, false)
		return
	}

	// 4. 结算，全部走该网关的熔断器
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), SettleTimeout)
	defer cancel()
	var (
		result  string
		settled *service.SettleResult
	)
	err = h.breakers.Do(gw, func() error {
		if fields.Succeeded {
			res, err := h.settle.Settle(ctx, service.SettleInput{MchOrderNo: orderNo, GatewayRef: fields.GatewayRef})
			settled = res
			return domain.Coded(err)
		}
		_, err := h.settle.Fail(ctx, orderNo, fmt.Sprintf("trade result %s", fields.TradeResult.OrElse("")))
		return domain.Coded(err)
	})

	switch {
	case err == nil:
		result = "settled"
		if !fields.Succeeded {
			result = "trade_failed"
		} else if settled != nil && settled.AlreadySettled {
			result = "duplicate"
		}
	case errors.Is(err, domain.ErrDepositTerminal):
		// 已失败的订单又来成功通知：不入账，但要应答成功让网关停止重试
		logger.Warn(ctx, "success notify for failed deposit ignored", log...)
		processed := true
		h.update(ctx, ev.ID, domain.WebhookUpdate{Processed: &processed, ProcessingError: opt.Some(err.Error())})
		h.done(gw, "terminal")
		reply(c, http.StatusOK, ack, true)
		return
	case errors.Is(err, domain.ErrDepositNotFound):
		h.fail(ctx, c, ev.ID, gw, "not_found", http.StatusNotFound, ack, err, log)
		return
	case errors.Is(err, ratelimit.ErrOpen):
		h.fail(ctx, c, ev.ID, gw, "unavailable", http.StatusServiceUnavailable, ack, err, log)
		return
	default:
		h.fail(ctx, c, ev.ID, gw, "error", http.StatusInternalServerError, ack, err, log)
		return
	}

	processed := true
	h.update(ctx, ev.ID, domain.WebhookUpdate{Processed: &processed})
	logger.Info(ctx, "webhook processed", append(log, zap.String("result", result), zap.Bool("succeeded", fields.Succeeded))...)
	h.done(gw, result)
	reply(c, http.StatusOK, ack, true)
}

func (h *Handler) fail(ctx context.Context, c *gin.Context, eventID, gw, result string, status int, ack gateway.Ack, err error, log []zap.Field) {
	logger.Error(ctx, "webhook settlement failed", append(log, zap.String("result", result), zap.Error(err))...)
	h.markError(ctx, eventID, err.Error())
	h.done(gw, result)
	reply(c, status, ack, false)
}

func (h *Handler) markError(ctx context.Context, id, msg string) {
	h.update(ctx, id, domain.WebhookUpdate{ProcessingError: opt.Some(msg)})
}

// update 事件表只是审计记录，写失败不影响应答
func (h *Handler) update(ctx context.Context, id string, u domain.WebhookUpdate) {
	if err := h.events.UpdateWebhookEvent(ctx, id, u); err != nil {
		logger.Warn(ctx, "update webhook event failed", zap.String("webhook_event_id", id), zap.Error(err))
	}
}

func (h *Handler) done(gw, result string) {
	metrics.WebhookTotal.WithLabelValues(gw, result).Inc()
}
