package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"lunorise.com/internal/settlement/domain"
	"lunorise.com/internal/settlement/events"
	"lunorise.com/pkg/logger"
	"lunorise.com/pkg/metrics"
)

const (
	JobProcessIncomeEvents = "process_income_events"
	DefaultBatchSize       = 100
)

// Summary 一次跑批的结果
type Summary struct {
	TotalEvents     int   `json:"total_events"`
	ProcessedCount  int   `json:"processed_count"`
	SkippedCount    int   `json:"skipped_count"`
	ErrorCount      int   `json:"error_count"`
	ExecutionTimeMs int64 `json:"execution_time_ms"`
}

// IncomeProcessor 扫描到期的派息事件，逐条入账并排下一期
type IncomeProcessor struct {
	store     domain.Store
	ledger    ledger
	scheduler *Scheduler
	publisher events.Publisher
	clock     Clock
	batchSize int
	group     singleflight.Group
}

func NewIncomeProcessor(store domain.Store, scheduler *Scheduler, publisher events.Publisher, clock Clock, batchSize int) *IncomeProcessor {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &IncomeProcessor{
		store:     store,
		ledger:    ledger{store: store},
		scheduler: scheduler,
		publisher: publisher,
		clock:     clock,
		batchSize: batchSize,
	}
}

// Run 同一进程内并发触发会合并成一次执行
func (p *IncomeProcessor) Run(ctx context.Context) (Summary, error) {
	v, err, shared := p.group.Do(JobProcessIncomeEvents, func() (any, error) {
		return p.run(ctx)
	})
	if shared {
		logger.Debug(ctx, "income run coalesced")
	}
	sum, _ := v.(Summary)
	return sum, err
}

func (p *IncomeProcessor) run(ctx context.Context) (Summary, error) {
	start := p.clock.now()
	var sum Summary

	due, err := p.store.ListDueIncomeEvents(ctx, start, p.batchSize)
	if err != nil {
		sum.ExecutionTimeMs = p.since(start)
		p.writeJobLog(ctx, start, sum, domain.JobFailed, err)
		return sum, fmt.Errorf("list due income events: %w", err)
	}
	sum.TotalEvents = len(due)

	for i := range due {
		ev := due[i]
		paid, err := p.payOne(ctx, &ev)
		switch {
		case err != nil:
			// 单条失败不影响后面的
			sum.ErrorCount++
			metrics.IncomeEventsTotal.WithLabelValues("error").Inc()
			logger.Error(ctx, "income event failed",
				zap.String("income_event_id", ev.ID),
				zap.String("user_id", ev.UserID),
				zap.Int("drop_number", ev.DropNumber),
				zap.Error(err),
			)
		case paid:
			sum.ProcessedCount++
			metrics.IncomeEventsTotal.WithLabelValues("paid").Inc()
		default:
			sum.SkippedCount++
			metrics.IncomeEventsTotal.WithLabelValues("skipped").Inc()
		}
	}

	sum.ExecutionTimeMs = p.since(start)
	metrics.IncomeRunDuration.Observe(float64(sum.ExecutionTimeMs) / 1000)

	status := domain.JobCompleted
	if sum.ErrorCount > 0 {
		status = domain.JobCompletedWithErrors
	}
	p.writeJobLog(ctx, start, sum, status, nil)

	logger.Info(ctx, "income events processed",
		zap.Int("total", sum.TotalEvents),
		zap.Int("processed", sum.ProcessedCount),
		zap.Int("skipped", sum.SkippedCount),
		zap.Int("errors", sum.ErrorCount),
		zap.Int64("execution_time_ms", sum.ExecutionTimeMs),
	)
	return sum, nil
}

// payOne 条件更新 pending -> paid 抢到才入账；没抢到说明别的 runner 已经处理
func (p *IncomeProcessor) payOne(ctx context.Context, ev *domain.IncomeEvent) (bool, error) {
	now := p.clock.now()
	var (
		paid bool
		next *domain.IncomeEvent
	)
	err := p.store.Transaction(ctx, func(txCtx context.Context) error {
		ok, err := p.store.MarkIncomePaid(txCtx, ev.ID, now)
		if err != nil {
			return fmt.Errorf("mark paid: %w", err)
		}
		if !ok {
			return nil
		}
		if _, _, err := p.ledger.credit(txCtx, Credit{
			UserID:      ev.UserID,
			Type:        domain.TxIncome,
			ReferenceID: ev.ID,
			AmountCents: ev.AmountCents,
			Meta: domain.JSONMap{
				"description": fmt.Sprintf("drop %d payout", ev.DropNumber),
				"drop_number": ev.DropNumber,
				"deposit_id":  ev.DepositID,
				"plan_id":     ev.PlanID,
			},
		}); err != nil {
			return err
		}
		ev.Status = domain.IncomePaid
		ev.PaidAt = &now
		next, err = p.scheduler.ScheduleNext(txCtx, ev, now)
		if err != nil {
			return err
		}
		paid = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if paid {
		data := map[string]any{
			"income_event_id": ev.ID,
			"deposit_id":      ev.DepositID,
			"user_id":         ev.UserID,
			"amount_cents":    ev.AmountCents,
			"drop_number":     ev.DropNumber,
		}
		if next != nil {
			data["next_drop_due_at"] = next.DueAt
		}
		if err := p.publisher.Publish(ctx, events.Event{Type: events.TypeIncomePaid, OccurredAt: now, Data: data}); err != nil {
			logger.Warn(ctx, "publish event failed", zap.String("type", events.TypeIncomePaid), zap.Error(err))
		}
	}
	return paid, nil
}

func (p *IncomeProcessor) since(start time.Time) int64 {
	return p.clock.now().Sub(start).Milliseconds()
}

func (p *IncomeProcessor) writeJobLog(ctx context.Context, start time.Time, sum Summary, status domain.JobStatus, runErr error) {
	payload := domain.JSONMap{
		"total_events":    sum.TotalEvents,
		"processed_count": sum.ProcessedCount,
		"skipped_count":   sum.SkippedCount,
		"error_count":     sum.ErrorCount,
	}
	if runErr != nil {
		payload["error"] = runErr.Error()
	}
	l := &domain.JobLog{
		ID:              uuid.NewString(),
		Job:             JobProcessIncomeEvents,
		Status:          status,
		Payload:         payload,
		ExecutionTimeMs: sum.ExecutionTimeMs,
		StartedAt:       start,
		FinishedAt:      p.clock.now(),
	}
	if err := p.store.CreateJobLog(ctx, l); err != nil {
		logger.Warn(ctx, "write jobs_log failed", zap.Error(err))
	}
}
