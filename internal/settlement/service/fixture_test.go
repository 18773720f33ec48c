package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"lunorise.com/internal/settlement/domain"
	"lunorise.com/internal/settlement/events"
	"lunorise.com/internal/settlement/memstore"
	"lunorise.com/pkg/opt"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	store     *memstore.Store
	clock     *fakeClock
	pub       *events.Memory
	scheduler *Scheduler
	settler   *Settler
	processor *IncomeProcessor
	crypto    *CryptoService
	admin     *Admin
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memstore.New(),
		clock: &fakeClock{t: t0},
		pub:   &events.Memory{},
	}
	rates, err := NewRates(DefaultRatesConfig())
	require.NoError(t, err)

	clock := Clock(f.clock.Now)
	f.scheduler = NewScheduler(f.store, DefaultCadence)
	f.settler = NewSettler(f.store, rates, f.scheduler, f.pub, clock)
	f.processor = NewIncomeProcessor(f.store, f.scheduler, f.pub, clock, 0)
	f.crypto = NewCryptoService(f.store, f.settler, clock)
	f.admin = NewAdmin(f.store, f.settler)

	f.store.PutPlan(domain.Plan{ID: "plan-500", Name: "Starter", DepositUSDCents: 50000, PayoutPerDropCents: 5000, DropsCount: 3})
	return f
}

// user 建钱包和上级关系，referrer 为空表示没有上级
func (f *fixture) user(id, referrer string) {
	f.store.PutWallet(domain.Wallet{UserID: id})
	if referrer == "" {
		f.store.PutProfile(id, opt.None[string]())
		return
	}
	f.store.PutProfile(id, opt.Some(referrer))
}

func (f *fixture) deposit(id, userID, method string, cents int64, planID string) domain.Deposit {
	d := domain.Deposit{
		ID:             id,
		UserID:         userID,
		AmountUSDCents: cents,
		Method:         method,
		Gateway:        "basepay",
		MchOrderNo:     "MO-" + id,
		Status:         domain.DepositPending,
	}
	if planID != "" {
		d.PlanID = opt.Some(planID)
	}
	f.store.PutDeposit(d)
	return d
}

func (f *fixture) balance(t *testing.T, userID string) int64 {
	t.Helper()
	w, err := f.store.GetWallet(t.Context(), userID)
	require.NoError(t, err)
	return w.AvailableCents
}
