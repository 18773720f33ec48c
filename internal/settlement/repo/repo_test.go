package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"lunorise.com/internal/settlement/domain"
	"lunorise.com/internal/settlement/service"
	"lunorise.com/pkg/opt"
	"lunorise.com/pkg/orm"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	// 使用 SQLite 内存数据库；单连接，否则每个连接都是一个新库
	db, err := gorm.Open(sqlite.Open(":memory:"), orm.GormConfig(false))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	r := New(db)
	require.NoError(t, r.AutoMigrate(t.Context()))
	return r
}

func seedDeposit(t *testing.T, r *Repo, id, userID string, cents int64) *domain.Deposit {
	t.Helper()
	d := &domain.Deposit{
		ID:             id,
		UserID:         userID,
		AmountUSDCents: cents,
		Method:         domain.MethodStandard,
		Gateway:        "basepay",
		MchOrderNo:     "MO-" + id,
		Status:         domain.DepositPending,
	}
	require.NoError(t, r.CreateDeposit(t.Context(), d))
	return d
}

func TestDeposit_CASAndLookup(t *testing.T) {
	r := newTestRepo(t)
	ctx := t.Context()
	seedDeposit(t, r, "d1", "u1", 1000)

	d, err := r.GetDepositByOrderNo(ctx, "MO-d1")
	require.NoError(t, err)
	assert.Equal(t, "d1", d.ID)
	assert.False(t, d.PlanID.Valid)

	_, err = r.GetDeposit(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrDepositNotFound)

	err = r.CreateDeposit(ctx, &domain.Deposit{ID: "d2", UserID: "u1", Method: "standard", Gateway: "basepay", MchOrderNo: "MO-d1", Status: domain.DepositPending})
	assert.ErrorIs(t, err, domain.ErrDuplicate, "mch_order_no 唯一")

	now := time.Now().UTC()
	ok, err := r.ConfirmDeposit(ctx, "d1", opt.Some("GW-9"), now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.ConfirmDeposit(ctx, "d1", opt.Some("GW-10"), now)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = r.FailDeposit(ctx, "d1", now)
	require.NoError(t, err)
	assert.False(t, ok)

	d, err = r.GetDeposit(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, domain.DepositConfirmed, d.Status)
	assert.Equal(t, "GW-9", d.GatewayRef.OrElse(""))
	require.NotNil(t, d.ConfirmedAt)
}

func TestWallet_CreditAndLedger(t *testing.T) {
	r := newTestRepo(t)
	ctx := t.Context()
	require.NoError(t, r.getDb(ctx).Create(&domain.Wallet{UserID: "u1"}).Error)

	bal, err := r.CreditWallet(ctx, "u1", 500)
	require.NoError(t, err)
	assert.Equal(t, int64(500), bal)
	bal, err = r.CreditWallet(ctx, "u1", 25)
	require.NoError(t, err)
	assert.Equal(t, int64(525), bal)

	w, err := r.GetWallet(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(525), w.TotalEarnedCents)

	_, err = r.CreditWallet(ctx, "ghost", 1)
	assert.ErrorIs(t, err, domain.ErrWalletNotFound)

	tx := &domain.WalletTransaction{ID: "t1", UserID: "u1", Type: domain.TxDeposit, AmountCents: 500, BalanceAfterCents: 500, ReferenceID: "d1", Meta: domain.JSONMap{"mch_order_no": "MO-d1"}}
	require.NoError(t, r.AddTransaction(ctx, tx))
	dup := &domain.WalletTransaction{ID: "t2", UserID: "u1", Type: domain.TxDeposit, AmountCents: 500, ReferenceID: "d1"}
	assert.ErrorIs(t, r.AddTransaction(ctx, dup), domain.ErrDuplicate)

	has, err := r.HasTransaction(ctx, "u1", domain.TxDeposit, "d1")
	require.NoError(t, err)
	assert.True(t, has)
	has, err = r.HasTransaction(ctx, "u1", domain.TxIncome, "d1")
	require.NoError(t, err)
	assert.False(t, has)

	txs, err := r.ListTransactions(ctx, domain.TxFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "MO-d1", txs[0].Meta["mch_order_no"])
}

func TestTransaction_Rollback(t *testing.T) {
	r := newTestRepo(t)
	ctx := t.Context()
	require.NoError(t, r.getDb(ctx).Create(&domain.Wallet{UserID: "u1"}).Error)
	boom := errors.New("boom")

	err := r.Transaction(ctx, func(txCtx context.Context) error {
		if _, err := r.CreditWallet(txCtx, "u1", 100); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	w, err := r.GetWallet(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.AvailableCents)
}

func TestIncomeAndReferral_DuplicatesDoNotAbortTx(t *testing.T) {
	r := newTestRepo(t)
	ctx := t.Context()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	err := r.Transaction(ctx, func(txCtx context.Context) error {
		require.NoError(t, r.CreateIncomeEvent(txCtx, &domain.IncomeEvent{ID: "e1", DepositID: "d1", UserID: "u1", PlanID: "p", AmountCents: 10, DropNumber: 1, DueAt: base, Status: domain.IncomePending}))
		assert.ErrorIs(t, r.CreateIncomeEvent(txCtx, &domain.IncomeEvent{ID: "e2", DepositID: "d1", UserID: "u1", PlanID: "p", AmountCents: 10, DropNumber: 1, DueAt: base, Status: domain.IncomePending}), domain.ErrDuplicate)

		require.NoError(t, r.CreateReferral(txCtx, &domain.Referral{ID: "r1", DepositID: "d1", ReferrerID: "a", ReferredID: "u1", Level: 1, Percentage: decimal.RequireFromString("0.2"), BonusCents: 2}))
		assert.ErrorIs(t, r.CreateReferral(txCtx, &domain.Referral{ID: "r2", DepositID: "d1", ReferrerID: "a", ReferredID: "u1", Level: 1, Percentage: decimal.RequireFromString("0.2"), BonusCents: 2}), domain.ErrDuplicate)

		// 冲突之后事务还能继续用
		return r.CreateIncomeEvent(txCtx, &domain.IncomeEvent{ID: "e3", DepositID: "d1", UserID: "u1", PlanID: "p", AmountCents: 10, DropNumber: 2, DueAt: base.Add(time.Hour), Status: domain.IncomePending})
	})
	require.NoError(t, err)

	evs, err := r.ListIncomeEvents(ctx, "d1")
	require.NoError(t, err)
	assert.Len(t, evs, 2)

	due, err := r.ListDueIncomeEvents(ctx, base.Add(30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "e1", due[0].ID)

	ok, err := r.MarkIncomePaid(ctx, "e1", base)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.MarkIncomePaid(ctx, "e1", base)
	require.NoError(t, err)
	assert.False(t, ok)

	refs, err := r.ListReferrals(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.True(t, decimal.RequireFromString("0.2").Equal(refs[0].Percentage))
}

func TestWebhookEvent_Update(t *testing.T) {
	r := newTestRepo(t)
	ctx := t.Context()
	ev := &domain.WebhookEvent{ID: "w1", Gateway: "basepay", Payload: domain.JSONMap{"amount": "500.00"}, SourceIP: "10.0.0.1"}
	require.NoError(t, r.CreateWebhookEvent(ctx, ev))

	sigOK, processed := true, true
	require.NoError(t, r.UpdateWebhookEvent(ctx, "w1", domain.WebhookUpdate{
		SignatureOK: &sigOK,
		Processed:   &processed,
		MchOrderNo:  opt.Some("MO-1"),
	}))
	assert.ErrorIs(t, r.UpdateWebhookEvent(ctx, "nope", domain.WebhookUpdate{Processed: &processed}), domain.ErrWebhookNotFound)

	got, err := r.GetWebhookEvent(ctx, "w1")
	require.NoError(t, err)
	assert.True(t, got.SignatureOK)
	assert.True(t, got.Processed)
	assert.Equal(t, "MO-1", got.MchOrderNo.OrElse(""))
	assert.False(t, got.ProcessingError.Valid)
	assert.Equal(t, "500.00", got.Payload["amount"])
}

func TestCryptoDeposit_Review(t *testing.T) {
	r := newTestRepo(t)
	ctx := t.Context()
	c := &domain.CryptoDeposit{ID: "c1", UserID: "u1", Currency: "USDT", Network: "erc20", AmountCrypto: decimal.RequireFromString("12.5"), TxHash: "0xabc", Status: domain.CryptoPending}
	require.NoError(t, r.CreateCryptoDeposit(ctx, c))
	dup := *c
	dup.ID = "c2"
	assert.ErrorIs(t, r.CreateCryptoDeposit(ctx, &dup), domain.ErrDuplicate)

	now := time.Now().UTC()
	ok, err := r.ReviewCryptoDeposit(ctx, "c1", domain.CryptoReview{Status: domain.CryptoApproved, AdminID: "admin", AmountUSDCents: opt.Some(int64(1250)), DepositID: opt.Some("d9"), At: now})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.ReviewCryptoDeposit(ctx, "c1", domain.CryptoReview{Status: domain.CryptoRejected, AdminID: "admin", At: now})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := r.GetCryptoDeposit(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.CryptoApproved, got.Status)
	assert.Equal(t, int64(1250), got.AmountUSDCents.OrElse(0))
	assert.Equal(t, "d9", got.DepositID.OrElse(""))

	list, err := r.ListCryptoDeposits(ctx, domain.CryptoApproved, 1, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	list, err = r.ListCryptoDeposits(ctx, domain.CryptoPending, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

// 结算流程跑在真实的 gorm 实现上
func TestSettler_OnGormRepo(t *testing.T) {
	r := newTestRepo(t)
	ctx := t.Context()
	db := r.DB()
	require.NoError(t, db.Create(&domain.Wallet{UserID: "alice"}).Error)
	require.NoError(t, db.Create(&domain.Wallet{UserID: "ref"}).Error)
	require.NoError(t, db.Create(&domain.Profile{UserID: "alice", ReferrerID: opt.Some("ref")}).Error)
	require.NoError(t, db.Create(&domain.Profile{UserID: "ref"}).Error)
	require.NoError(t, db.Create(&domain.Plan{ID: "p1", PayoutPerDropCents: 5000, DropsCount: 2}).Error)

	d := &domain.Deposit{ID: "d1", UserID: "alice", PlanID: opt.Some("p1"), AmountUSDCents: 100000, Method: domain.MethodCrypto, Gateway: "nekpay", MchOrderNo: "MO-1", Status: domain.DepositPending}
	require.NoError(t, r.CreateDeposit(ctx, d))

	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	clock := service.Clock(func() time.Time { return now })
	sched := service.NewScheduler(r, 0)
	settler := service.NewSettler(r, service.MustRates(service.DefaultRatesConfig()), sched, nil, clock)

	res, err := settler.Settle(ctx, service.SettleInput{MchOrderNo: "MO-1"})
	require.NoError(t, err)
	require.NoError(t, res.ReferralErr)
	assert.Len(t, res.Referrals, 1)

	res, err = settler.Settle(ctx, service.SettleInput{MchOrderNo: "MO-1"})
	require.NoError(t, err)
	assert.True(t, res.AlreadySettled)

	w, err := r.GetWallet(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(105000), w.AvailableCents)
	w, err = r.GetWallet(ctx, "ref")
	require.NoError(t, err)
	assert.Equal(t, int64(20000), w.AvailableCents)

	now = now.Add(service.DefaultCadence)
	proc := service.NewIncomeProcessor(r, sched, nil, clock, 10)
	sum, err := proc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.ProcessedCount)

	evs, err := r.ListIncomeEvents(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, domain.IncomePaid, evs[0].Status)
	assert.Equal(t, domain.IncomePending, evs[1].Status)

	var jobs int64
	require.NoError(t, db.Model(&domain.JobLog{}).Count(&jobs).Error)
	assert.Equal(t, int64(1), jobs)
}

func TestGetDeposit_LocksRowInsideTransaction(t *testing.T) {
	r := newTestRepo(t)
	seedDeposit(t, r, "d1", "u1", 1000)

	// sqlite 不生成 FOR UPDATE，只能看语句上挂没挂 Locking 子句
	var locked []bool
	require.NoError(t, r.DB().Callback().Query().Before("gorm:query").Register("test:capture_locking", func(tx *gorm.DB) {
		_, ok := tx.Statement.Clauses["FOR"]
		locked = append(locked, ok)
	}))

	_, err := r.GetDeposit(t.Context(), "d1")
	require.NoError(t, err)
	require.Len(t, locked, 1)
	assert.False(t, locked[0], "事务外不加锁")

	locked = nil
	err = r.Transaction(t.Context(), func(txCtx context.Context) error {
		if _, err := r.GetDeposit(txCtx, "d1"); err != nil {
			return err
		}
		if _, err := r.GetDepositByOrderNo(txCtx, "MO-d1"); err != nil {
			return err
		}
		_, err := r.GetWallet(txCtx, "nobody")
		assert.ErrorIs(t, err, domain.ErrWalletNotFound)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, false}, locked, "只有要改状态的充值行加锁")
}
