// Package memstore 是 domain.Store 的内存实现，语义与 gorm 实现保持一致：
// 条件更新、原子累加、唯一键冲突返回 domain.ErrDuplicate、事务失败整体回滚。
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"lunorise.com/internal/settlement/domain"
	"lunorise.com/pkg/opt"
)

type txKey struct{}

type state struct {
	deposits      map[string]domain.Deposit
	depositByNo   map[string]string
	wallets       map[string]domain.Wallet
	txs           []domain.WalletTransaction
	incomes       map[string]domain.IncomeEvent
	referrals     []domain.Referral
	webhooks      map[string]domain.WebhookEvent
	jobs          []domain.JobLog
	plans         map[string]domain.Plan
	profiles      map[string]domain.Profile
	cryptos       map[string]domain.CryptoDeposit
	audits        []domain.AuditLog
	webhookOrder  []string
	incomeOrdinal map[string]int
}

func newState() state {
	return state{
		deposits:      map[string]domain.Deposit{},
		depositByNo:   map[string]string{},
		wallets:       map[string]domain.Wallet{},
		incomes:       map[string]domain.IncomeEvent{},
		webhooks:      map[string]domain.WebhookEvent{},
		plans:         map[string]domain.Plan{},
		profiles:      map[string]domain.Profile{},
		cryptos:       map[string]domain.CryptoDeposit{},
		incomeOrdinal: map[string]int{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s state) clone() state {
	return state{
		deposits:      cloneMap(s.deposits),
		depositByNo:   cloneMap(s.depositByNo),
		wallets:       cloneMap(s.wallets),
		txs:           append([]domain.WalletTransaction(nil), s.txs...),
		incomes:       cloneMap(s.incomes),
		referrals:     append([]domain.Referral(nil), s.referrals...),
		webhooks:      cloneMap(s.webhooks),
		jobs:          append([]domain.JobLog(nil), s.jobs...),
		plans:         cloneMap(s.plans),
		profiles:      cloneMap(s.profiles),
		cryptos:       cloneMap(s.cryptos),
		audits:        append([]domain.AuditLog(nil), s.audits...),
		webhookOrder:  append([]string(nil), s.webhookOrder...),
		incomeOrdinal: cloneMap(s.incomeOrdinal),
	}
}

// Store 事务之间串行执行，相当于 SERIALIZABLE
type Store struct {
	mu     sync.Mutex
	st     state
	seq    int
	faults map[string]*fault
	now    func() time.Time
}

type fault struct {
	err   error
	times int // <0 一直生效
}

func New() *Store {
	return &Store{
		st:     newState(),
		faults: map[string]*fault{},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

var _ domain.Store = (*Store)(nil)

// lock 事务内已经持有锁就不再加
func (s *Store) lock(ctx context.Context) func() {
	if ctx.Value(txKey{}) != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) Transaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		// 嵌套事务直接并入外层，回滚由外层负责
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	seq := s.seq
	if err := fn(context.WithValue(ctx, txKey{}, struct{}{})); err != nil {
		s.st = snapshot
		s.seq = seq
		return err
	}
	return nil
}

// InjectFault 让名为 op 的方法接下来 times 次返回 err；times < 0 表示一直失败
func (s *Store) InjectFault(op string, err error, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = &fault{err: err, times: times}
}

// fault 和真实驱动一样，ctx 已取消时直接报错
func (s *Store) fault(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, ok := s.faults[op]
	if !ok {
		return nil
	}
	if f.times == 0 {
		delete(s.faults, op)
		return nil
	}
	if f.times > 0 {
		f.times--
	}
	return f.err
}

func (s *Store) stamp() time.Time {
	s.seq++
	// 用自增纳秒打破同一时刻创建的排序平局
	return s.now().Add(time.Duration(s.seq))
}

// ---------------------------------------------------------
// 测试种子数据
// ---------------------------------------------------------

func (s *Store) PutWallet(w domain.Wallet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.wallets[w.UserID] = w
}

func (s *Store) PutPlan(p domain.Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.plans[p.ID] = p
}

func (s *Store) PutProfile(userID string, referrerID opt.Value[string]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.profiles[userID] = domain.Profile{UserID: userID, ReferrerID: referrerID}
}

func (s *Store) PutDeposit(d domain.Deposit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.deposits[d.ID] = d
	s.st.depositByNo[d.MchOrderNo] = d.ID
}

func (s *Store) PutIncomeEvent(ev domain.IncomeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.incomeOrdinal[ev.ID] = len(s.st.incomeOrdinal)
	s.st.incomes[ev.ID] = ev
}

func (s *Store) JobLogs() []domain.JobLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.JobLog(nil), s.st.jobs...)
}

func (s *Store) AuditLogs() []domain.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AuditLog(nil), s.st.audits...)
}

func (s *Store) WebhookEvents() []domain.WebhookEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.WebhookEvent, 0, len(s.st.webhookOrder))
	for _, id := range s.st.webhookOrder {
		out = append(out, s.st.webhooks[id])
	}
	return out
}

func (s *Store) AllTransactions() []domain.WalletTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.WalletTransaction(nil), s.st.txs...)
}

// ---------------------------------------------------------
// Deposit
// ---------------------------------------------------------

func (s *Store) CreateDeposit(ctx context.Context, d *domain.Deposit) error {
	defer s.lock(ctx)()
	if err := s.fault(ctx, "CreateDeposit"); err != nil {
		return err
	}
	if _, ok := s.st.deposits[d.ID]; ok {
		return domain.ErrDuplicate
	}
	if _, ok := s.st.depositByNo[d.MchOrderNo]; ok {
		return domain.ErrDuplicate
	}
	now := s.stamp()
	d.CreatedAt, d.UpdatedAt = now, now
	s.st.deposits[d.ID] = *d
	s.st.depositByNo[d.MchOrderNo] = d.ID
	return nil
}

func (s *Store) GetDeposit(ctx context.Context, id string) (*domain.Deposit, error) {
	defer s.lock(ctx)()
	if err := s.fault(ctx, "GetDeposit"); err != nil {
		return nil, err
	}
	d, ok := s.st.deposits[id]
	if !ok {
		return nil, domain.ErrDepositNotFound
	}
	return &d, nil
}

func (s *Store) GetDepositByOrderNo(ctx context.Context, mchOrderNo string) (*domain.Deposit, error) {
	defer s.lock(ctx)()
	if err := s.fault(ctx, "GetDepositByOrderNo"); err != nil {
		return nil, err
	}
	id, ok := s.st.depositByNo[mchOrderNo]
	if !ok {
		return nil, domain.ErrDepositNotFound
	}
	d := s.st.deposits[id]
	return &d, nil
}

func (s *Store) ConfirmDeposit(ctx context.Context, id string, gatewayRef opt.Value[string], at time.Time) (bool, error) {
	defer s.lock(ctx)()
	if err := s.fault(ctx, "ConfirmDeposit"); err != nil {
		return false, err
	}
	d, ok := s.st.deposits[id]
	if !ok || d.Status != domain.DepositPending {
		return false, nil
	}
	d.Status = domain.DepositConfirmed
	d.ConfirmedAt = &at
	if gatewayRef.Valid {
		d.GatewayRef = gatewayRef
	}
	d.UpdatedAt = at
	s.st.deposits[id] = d
	return true, nil
}

func (s *Store) FailDeposit(ctx context.Context, id string, at time.Time) (bool, error) {
	defer s.lock(ctx)()
	if err := s.fault(ctx, "FailDeposit"); err != nil {
		return false, err
	}
	d, ok := s.st.deposits[id]
	if !ok || d.Status != domain.DepositPending {
		return false, nil
	}
	d.Status = domain.DepositFailed
	d.FailedAt = &at
	d.UpdatedAt = at
	s.st.deposits[id] = d
	return true, nil
}

// ---------------------------------------------------------
// Wallet
// ---------------------------------------------------------

func (s *Store) GetWallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	defer s.lock(ctx)()
	if err := s.fault(ctx, "GetWallet"); err != nil {
		return nil, err
	}
	w, ok := s.st.wallets[userID]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	return &w, nil
}

func (s *Store) CreditWallet(ctx context.Context, userID string, cents int64) (int64, error) {
	defer s.lock(ctx)()
	if err := s.fault(ctx, "CreditWallet"); err != nil {
		return 0, err
	}
	w, ok := s.st.wallets[userID]
	if !ok {
		return 0, domain.ErrWalletNotFound
	}
	w.AvailableCents += cents
	w.TotalEarnedCents += cents
	w.UpdatedAt = s.stamp()
	s.st.wallets[userID] = w
	return w.AvailableCents, nil
}

func (s *Store) HasTransaction(ctx context.Context, userID string, typ domain.TxType, referenceID string) (bool, error) {
	defer s.lock(ctx)()
	if err := s.fault(ctx, "HasTransaction"); err != nil {
		return false, err
	}
	for _, t := range s.st.txs {
		if t.UserID == userID && t.Type == typ && t.ReferenceID == referenceID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) AddTransaction(ctx context.Context, tx *domain.WalletTransaction) error {
	defer s.lock(ctx)()
	if err := s.fault(ctx, "AddTransaction"); err != nil {
		return err
	}
	for _, t := range s.st.txs {
		if t.ID == tx.ID || (t.UserID == tx.UserID && t.Type == tx.Type && t.ReferenceID == tx.ReferenceID) {
			return domain.ErrDuplicate
		}
	}
	tx.CreatedAt = s.stamp()
	s.st.txs = append(s.st.txs, *tx)
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, f domain.TxFilter) ([]domain.WalletTransaction, error) {
	defer s.lock(ctx)()
	var out []domain.WalletTransaction
	for _, t := range s.st.txs {
		if f.UserID != "" && t.UserID != f.UserID {
			continue
		}
		if f.ReferenceID != "" && t.ReferenceID != f.ReferenceID {
			continue
		}
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// ---------------------------------------------------------
// Income
// ---------------------------------------------------------

func (s *Store) CreateIncomeEvent(ctx context.Context, ev *domain.IncomeEvent) error {
	defer s.lock(ctx)()
	if err := s.fault(ctx, "CreateIncomeEvent"); err != nil {
		return err
	}
	for _, e := range s.st.incomes {
		if e.ID == ev.ID || (e.DepositID == ev.DepositID && e.DropNumber == ev.DropNumber) {
			return domain.ErrDuplicate
		}
	}
	ev.CreatedAt = s.stamp()
	s.st.incomeOrdinal[ev.ID] = len(s.st.incomeOrdinal)
	s.st.incomes[ev.ID] = *ev
	return nil
}

func (s *Store) ListDueIncomeEvents(ctx context.Context, now time.Time, limit int) ([]domain.IncomeEvent, error) {
	defer s.lock(ctx)()
	if err := s.fault(ctx, "ListDueIncomeEvents"); err != nil {
		return nil, err
	}
	var out []domain.IncomeEvent
	for _, e := range s.st.incomes {
		if e.Status == domain.IncomePending && !e.DueAt.After(now) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueAt.Equal(out[j].DueAt) {
			return out[i].DueAt.Before(out[j].DueAt)
		}
		return s.st.incomeOrdinal[out[i].ID] < s.st.incomeOrdinal[out[j].ID]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkIncomePaid(ctx context.Context, id string, at time.Time) (bool, error) {
	defer s.lock(ctx)()
	if err := s.fault(ctx, "MarkIncomePaid"); err != nil {
		return false, err
	}
	e, ok := s.st.incomes[id]
	if !ok || e.Status != domain.IncomePending {
		return false, nil
	}
	e.Status = domain.IncomePaid
	e.PaidAt = &at
	s.st.incomes[id] = e
	return true, nil
}

func (s *Store) ListIncomeEvents(ctx context.Context, depositID string) ([]domain.IncomeEvent, error) {
	defer s.lock(ctx)()
	var out []domain.IncomeEvent
	for _, e := range s.st.incomes {
		if e.DepositID == depositID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DropNumber < out[j].DropNumber })
	return out, nil
}

// ---------------------------------------------------------
// Referral
// ---------------------------------------------------------

func (s *Store) CreateReferral(ctx context.Context, r *domain.Referral) error {
	defer s.lock(ctx)()
	if err := s.fault(ctx, "CreateReferral"); err != nil {
		return err
	}
	for _, x := range s.st.referrals {
		if x.ID == r.ID || (x.DepositID == r.DepositID && x.Level == r.Level) {
			return domain.ErrDuplicate
		}
	}
	r.CreatedAt = s.stamp()
	s.st.referrals = append(s.st.referrals, *r)
	return nil
}

func (s *Store) ListReferrals(ctx context.Context, depositID string) ([]domain.Referral, error) {
	defer s.lock(ctx)()
	var out []domain.Referral
	for _, r := range s.st.referrals {
		if r.DepositID == depositID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out, nil
}

// ---------------------------------------------------------
// Webhook / Job / Audit
// ---------------------------------------------------------

func (s *Store) CreateWebhookEvent(ctx context.Context, ev *domain.WebhookEvent) error {
	defer s.lock(ctx)()
	if err := s.fault(ctx, "CreateWebhookEvent"); err != nil {
		return err
	}
	if _, ok := s.st.webhooks[ev.ID]; ok {
		return domain.ErrDuplicate
	}
	now := s.stamp()
	ev.CreatedAt, ev.UpdatedAt = now, now
	s.st.webhooks[ev.ID] = *ev
	s.st.webhookOrder = append(s.st.webhookOrder, ev.ID)
	return nil
}

func (s *Store) UpdateWebhookEvent(ctx context.Context, id string, u domain.WebhookUpdate) error {
	defer s.lock(ctx)()
	if err := s.fault(ctx, "UpdateWebhookEvent"); err != nil {
		return err
	}
	ev, ok := s.st.webhooks[id]
	if !ok {
		return domain.ErrWebhookNotFound
	}
	if u.SignatureOK != nil {
		ev.SignatureOK = *u.SignatureOK
	}
	if u.Processed != nil {
		ev.Processed = *u.Processed
	}
	if u.MchOrderNo.Valid {
		ev.MchOrderNo = u.MchOrderNo
	}
	if u.ProcessingError.Valid {
		ev.ProcessingError = u.ProcessingError
	}
	ev.UpdatedAt = s.stamp()
	s.st.webhooks[id] = ev
	return nil
}

func (s *Store) GetWebhookEvent(ctx context.Context, id string) (*domain.WebhookEvent, error) {
	defer s.lock(ctx)()
	ev, ok := s.st.webhooks[id]
	if !ok {
		return nil, domain.ErrWebhookNotFound
	}
	return &ev, nil
}

func (s *Store) CreateJobLog(ctx context.Context, l *domain.JobLog) error {
	defer s.lock(ctx)()
	if err := s.fault(ctx, "CreateJobLog"); err != nil {
		return err
	}
	s.st.jobs = append(s.st.jobs, *l)
	return nil
}

func (s *Store) CreateAuditLog(ctx context.Context, l *domain.AuditLog) error {
	defer s.lock(ctx)()
	if err := s.fault(ctx, "CreateAuditLog"); err != nil {
		return err
	}
	l.CreatedAt = s.stamp()
	s.st.audits = append(s.st.audits, *l)
	return nil
}

// ---------------------------------------------------------
// Catalog
// ---------------------------------------------------------

func (s *Store) GetPlan(ctx context.Context, id string) (*domain.Plan, error) {
	defer s.lock(ctx)()
	if err := s.fault(ctx, "GetPlan"); err != nil {
		return nil, err
	}
	p, ok := s.st.plans[id]
	if !ok {
		return nil, domain.ErrPlanNotFound
	}
	return &p, nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	defer s.lock(ctx)()
	if err := s.fault(ctx, "GetProfile"); err != nil {
		return nil, err
	}
	p, ok := s.st.profiles[userID]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	return &p, nil
}

// ---------------------------------------------------------
// Crypto
// ---------------------------------------------------------

func (s *Store) CreateCryptoDeposit(ctx context.Context, c *domain.CryptoDeposit) error {
	defer s.lock(ctx)()
	if err := s.fault(ctx, "CreateCryptoDeposit"); err != nil {
		return err
	}
	for _, x := range s.st.cryptos {
		if x.ID == c.ID || x.TxHash == c.TxHash {
			return domain.ErrDuplicate
		}
	}
	now := s.stamp()
	c.CreatedAt, c.UpdatedAt = now, now
	s.st.cryptos[c.ID] = *c
	return nil
}

func (s *Store) GetCryptoDeposit(ctx context.Context, id string) (*domain.CryptoDeposit, error) {
	defer s.lock(ctx)()
	c, ok := s.st.cryptos[id]
	if !ok {
		return nil, domain.ErrCryptoNotFound
	}
	return &c, nil
}

func (s *Store) ListCryptoDeposits(ctx context.Context, status domain.CryptoStatus, page, limit int) ([]domain.CryptoDeposit, error) {
	defer s.lock(ctx)()
	var out []domain.CryptoDeposit
	for _, c := range s.st.cryptos {
		if status == "" || c.Status == status {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if page > 0 && limit > 0 {
		start := (page - 1) * limit
		if start >= len(out) {
			return nil, nil
		}
		end := start + limit
		if end > len(out) {
			end = len(out)
		}
		out = out[start:end]
	}
	return out, nil
}

func (s *Store) ReviewCryptoDeposit(ctx context.Context, id string, r domain.CryptoReview) (bool, error) {
	defer s.lock(ctx)()
	if err := s.fault(ctx, "ReviewCryptoDeposit"); err != nil {
		return false, err
	}
	c, ok := s.st.cryptos[id]
	if !ok || c.Status != domain.CryptoPending {
		return false, nil
	}
	c.Status = r.Status
	c.AdminID = opt.Some(r.AdminID)
	c.AdminNote = r.AdminNote
	if r.AmountUSDCents.Valid {
		c.AmountUSDCents = r.AmountUSDCents
	}
	if r.DepositID.Valid {
		c.DepositID = r.DepositID
	}
	at := r.At
	c.ReviewedAt = &at
	c.UpdatedAt = at
	s.st.cryptos[id] = c
	return true, nil
}
