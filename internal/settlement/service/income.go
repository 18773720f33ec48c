package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"lunorise.com/internal/settlement/domain"
	"lunorise.com/pkg/logger"
)

// DefaultCadence 两次派息的间隔
const DefaultCadence = 22 * time.Hour

// Scheduler 负责创建下一期 IncomeEvent
type Scheduler struct {
	store   domain.Store
	cadence time.Duration
}

func NewScheduler(store domain.Store, cadence time.Duration) *Scheduler {
	if cadence <= 0 {
		cadence = DefaultCadence
	}
	return &Scheduler{store: store, cadence: cadence}
}

func (s *Scheduler) Cadence() time.Duration { return s.cadence }

// ScheduleFirst 充值确认时创建第 1 期；没有计划或计划找不到返回 nil
func (s *Scheduler) ScheduleFirst(ctx context.Context, d *domain.Deposit, now time.Time) (*domain.IncomeEvent, error) {
	planID, ok := d.PlanID.Get()
	if !ok || planID == "" {
		return nil, nil
	}
	plan, err := s.plan(ctx, planID, d.ID)
	if err != nil || plan == nil {
		return nil, err
	}
	return s.create(ctx, d.ID, d.UserID, plan, 1, now)
}

// ScheduleNext 第 N 期已付，N < drops_count 时创建第 N+1 期
func (s *Scheduler) ScheduleNext(ctx context.Context, paid *domain.IncomeEvent, now time.Time) (*domain.IncomeEvent, error) {
	plan, err := s.plan(ctx, paid.PlanID, paid.DepositID)
	if err != nil || plan == nil {
		return nil, err
	}
	if paid.DropNumber >= plan.DropsCount {
		return nil, nil
	}
	return s.create(ctx, paid.DepositID, paid.UserID, plan, paid.DropNumber+1, now)
}

func (s *Scheduler) plan(ctx context.Context, planID, depositID string) (*domain.Plan, error) {
	plan, err := s.store.GetPlan(ctx, planID)
	if errors.Is(err, domain.ErrPlanNotFound) {
		logger.Warn(ctx, "plan not found, income not scheduled",
			zap.String("plan_id", planID),
			zap.String("deposit_id", depositID),
		)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get plan %s: %w", planID, err)
	}
	return plan, nil
}

func (s *Scheduler) create(ctx context.Context, depositID, userID string, plan *domain.Plan, drop int, now time.Time) (*domain.IncomeEvent, error) {
	if drop > plan.DropsCount {
		return nil, nil
	}
	ev := &domain.IncomeEvent{
		ID:          uuid.NewString(),
		DepositID:   depositID,
		UserID:      userID,
		PlanID:      plan.ID,
		AmountCents: plan.PayoutPerDropCents,
		DropNumber:  drop,
		DueAt:       now.Add(s.cadence),
		Status:      domain.IncomePending,
	}
	if err := s.store.CreateIncomeEvent(ctx, ev); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			// 同一期已经排过
			return nil, nil
		}
		return nil, fmt.Errorf("create income event drop %d: %w", drop, err)
	}
	return ev, nil
}
