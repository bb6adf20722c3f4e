package domain_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/retail-banking-sim/ledger-core/internal/domain"
	"github.com/retail-banking-sim/ledger-core/internal/memory"
)

type testLedger struct {
	engine   *domain.Engine
	accounts *memory.AccountRepository
	txns     *memory.TransactionRepository
}

func newTestLedger(t *testing.T, risk domain.RiskConfig) *testLedger {
	t.Helper()

	store := memory.NewStore(0)
	accounts := memory.NewAccountRepository(store)
	txns := memory.NewTransactionRepository(store)
	findings := memory.NewRiskFindingRepository(store)
	txManager := memory.NewTransactionManager(store)

	log := logrus.New()
	log.SetOutput(io.Discard)

	engine := domain.NewEngine(
		accounts, txns, findings, txManager,
		domain.NewRiskEvaluator(risk),
		nil, log, domain.EngineConfig{},
	)

	return &testLedger{engine: engine, accounts: accounts, txns: txns}
}

func amount(t *testing.T, value string) domain.Amount {
	t.Helper()
	a, err := domain.NewAmount(value, "CNY")
	if err != nil {
		t.Fatalf("NewAmount(%q) failed: %v", value, err)
	}
	return a
}

func (l *testLedger) open(t *testing.T, initial string) uuid.UUID {
	t.Helper()
	account, err := l.engine.OpenAccount(context.Background(), amount(t, initial))
	if err != nil {
		t.Fatalf("OpenAccount failed: %v", err)
	}
	return account.ID
}

func (l *testLedger) balance(t *testing.T, id uuid.UUID) string {
	t.Helper()
	balance, err := l.engine.GetBalance(context.Background(), id)
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	return balance.String()
}

func TestTransfer(t *testing.T) {
	l := newTestLedger(t, domain.RiskConfig{})
	ctx := context.Background()

	a := l.open(t, "1000")
	b := l.open(t, "500")

	result, err := l.engine.Transfer(ctx, a, b, amount(t, "200"), "transfer-1")
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if result.Status != domain.StatusSuccess {
		t.Errorf("expected SUCCESS, got %s", result.Status)
	}
	if result.SourceBalanceAfter.String() != "800.00" {
		t.Errorf("expected source balance after 800.00, got %s", result.SourceBalanceAfter)
	}
	if result.DestinationBalanceAfter.String() != "700.00" {
		t.Errorf("expected destination balance after 700.00, got %s", result.DestinationBalanceAfter)
	}

	if got := l.balance(t, a); got != "800.00" {
		t.Errorf("expected balance 800.00, got %s", got)
	}
	if got := l.balance(t, b); got != "700.00" {
		t.Errorf("expected balance 700.00, got %s", got)
	}

	findings, err := l.engine.ListRiskFindings(ctx, domain.RiskFindingFilter{})
	if err != nil {
		t.Fatalf("ListRiskFindings failed: %v", err)
	}
	if len(findings) != 0 {
		t.Errorf("expected no findings for a transfer under the limit, got %d", len(findings))
	}
}

func TestWithdrawInsufficientFunds(t *testing.T) {
	l := newTestLedger(t, domain.RiskConfig{})
	ctx := context.Background()

	a := l.open(t, "50")

	result, err := l.engine.Withdraw(ctx, a, amount(t, "100"), "withdraw-1")
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if result == nil || result.Status != domain.StatusFailed {
		t.Fatalf("expected a FAILED result, got %+v", result)
	}
	if result.FailureReason != domain.FailureReasonInsufficientBalance {
		t.Errorf("expected failure reason %s, got %s",
			domain.FailureReasonInsufficientBalance, result.FailureReason)
	}

	if got := l.balance(t, a); got != "50.00" {
		t.Errorf("balance must be unchanged, got %s", got)
	}

	// The rejection is recorded for audit.
	recorded, err := l.txns.GetByID(ctx, result.TransactionID)
	if err != nil || recorded == nil {
		t.Fatalf("FAILED transaction must be recorded, got %v, %v", recorded, err)
	}
	if recorded.Status != domain.StatusFailed {
		t.Errorf("expected recorded status FAILED, got %s", recorded.Status)
	}
	if recorded.SourceBalanceAfter != nil {
		t.Errorf("FAILED record must not carry a post-operation balance")
	}
}

func TestSelfTransferRejected(t *testing.T) {
	l := newTestLedger(t, domain.RiskConfig{})
	ctx := context.Background()

	a := l.open(t, "100")

	before, _ := l.txns.List(ctx)
	_, err := l.engine.Transfer(ctx, a, a, amount(t, "10"), "self-1")
	if !errors.Is(err, domain.ErrSameAccount) {
		t.Fatalf("expected ErrSameAccount, got %v", err)
	}
	after, _ := l.txns.List(ctx)

	if len(after) != len(before) {
		t.Errorf("a rejected self-transfer must not be recorded")
	}
	if got := l.balance(t, a); got != "100.00" {
		t.Errorf("balance must be unchanged, got %s", got)
	}
}

func TestIdempotentReplay(t *testing.T) {
	l := newTestLedger(t, domain.RiskConfig{})
	ctx := context.Background()

	a := l.open(t, "1000")

	first, err := l.engine.Withdraw(ctx, a, amount(t, "100"), "withdraw-once")
	if err != nil {
		t.Fatalf("first withdraw failed: %v", err)
	}

	second, err := l.engine.Withdraw(ctx, a, amount(t, "100"), "withdraw-once")
	if err != nil {
		t.Fatalf("replayed withdraw failed: %v", err)
	}

	if first.TransactionID != second.TransactionID {
		t.Errorf("replay must return the original transaction, got %s and %s",
			first.TransactionID, second.TransactionID)
	}
	if second.SourceBalanceAfter.String() != first.SourceBalanceAfter.String() {
		t.Errorf("replay must return the original balance snapshot")
	}

	// The effect was applied exactly once.
	if got := l.balance(t, a); got != "900.00" {
		t.Errorf("expected balance 900.00, got %s", got)
	}
}

func TestIdempotentReplayOfFailure(t *testing.T) {
	l := newTestLedger(t, domain.RiskConfig{})
	ctx := context.Background()

	a := l.open(t, "50")

	first, err := l.engine.Withdraw(ctx, a, amount(t, "100"), "overdrawn")
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	second, err := l.engine.Withdraw(ctx, a, amount(t, "100"), "overdrawn")
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("replay must reproduce the failure, got %v", err)
	}
	if first.TransactionID != second.TransactionID {
		t.Errorf("replay must return the original FAILED record")
	}
}

func TestDailyWithdrawalLimit(t *testing.T) {
	l := newTestLedger(t, domain.RiskConfig{
		DailyWithdrawalLimit: decimal.NewFromInt(100),
	})
	ctx := context.Background()

	a := l.open(t, "1000")

	if _, err := l.engine.Withdraw(ctx, a, amount(t, "80"), "daily-1"); err != nil {
		t.Fatalf("withdraw within the limit failed: %v", err)
	}

	// 80 + 30 > 100: hard reject, recorded for audit.
	result, err := l.engine.Withdraw(ctx, a, amount(t, "30"), "daily-2")
	if !errors.Is(err, domain.ErrDailyLimitExceeded) {
		t.Fatalf("expected ErrDailyLimitExceeded, got %v", err)
	}
	if result == nil || result.FailureReason != domain.FailureReasonDailyLimitExceeded {
		t.Fatalf("expected a FAILED result with reason %s, got %+v",
			domain.FailureReasonDailyLimitExceeded, result)
	}
	if got := l.balance(t, a); got != "920.00" {
		t.Errorf("expected balance 920.00, got %s", got)
	}

	// 80 + 20 = 100: exactly at the limit is allowed.
	if _, err := l.engine.Withdraw(ctx, a, amount(t, "20"), "daily-3"); err != nil {
		t.Fatalf("withdraw exactly at the limit failed: %v", err)
	}
	if got := l.balance(t, a); got != "900.00" {
		t.Errorf("expected balance 900.00, got %s", got)
	}

	// FAILED withdrawals don't count toward the cumulative total.
	recorded, _ := l.txns.SumWithdrawnSince(ctx, a, time.Now().Add(-time.Hour))
	if recorded.String() != "100" {
		t.Errorf("expected 100 withdrawn today, got %s", recorded)
	}
}

func TestDepositNotSubjectToDailyLimit(t *testing.T) {
	l := newTestLedger(t, domain.RiskConfig{
		DailyWithdrawalLimit: decimal.NewFromInt(100),
	})
	ctx := context.Background()

	a := l.open(t, "0")
	if _, err := l.engine.Deposit(ctx, a, amount(t, "100000"), "big-deposit"); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
}

func TestRiskFindingRecorded(t *testing.T) {
	l := newTestLedger(t, domain.RiskConfig{
		WithdrawLimit: decimal.NewFromInt(100),
	})
	ctx := context.Background()

	a := l.open(t, "1000")

	result, err := l.engine.Withdraw(ctx, a, amount(t, "150"), "risky-withdraw")
	if err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if result.Status != domain.StatusSuccess {
		t.Fatalf("advisory findings must not block the operation, got %s", result.Status)
	}

	findings, err := l.engine.ListRiskFindings(ctx, domain.RiskFindingFilter{AccountID: &a})
	if err != nil {
		t.Fatalf("ListRiskFindings failed: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("expected exactly one finding, got %d", len(findings))
	}
	finding := findings[0]
	if finding.RiskType != domain.RiskTypeWithdrawOverLimit {
		t.Errorf("expected %s, got %s", domain.RiskTypeWithdrawOverLimit, finding.RiskType)
	}
	if finding.TransactionID != result.TransactionID {
		t.Errorf("finding must reference the triggering transaction")
	}
	if finding.Status != domain.RiskFindingPending {
		t.Errorf("expected PENDING, got %s", finding.Status)
	}
}

func TestClosedAccountRejectsOperations(t *testing.T) {
	l := newTestLedger(t, domain.RiskConfig{})
	ctx := context.Background()

	a := l.open(t, "0")
	if err := l.engine.CloseAccount(ctx, a); err != nil {
		t.Fatalf("CloseAccount failed: %v", err)
	}

	if _, err := l.engine.Deposit(ctx, a, amount(t, "10"), "deposit-closed"); !errors.Is(err, domain.ErrAccountClosed) {
		t.Errorf("expected ErrAccountClosed, got %v", err)
	}
}

func TestCloseAccountRequiresZeroBalance(t *testing.T) {
	l := newTestLedger(t, domain.RiskConfig{})
	ctx := context.Background()

	a := l.open(t, "100")
	if err := l.engine.CloseAccount(ctx, a); !errors.Is(err, domain.ErrAccountNotEmpty) {
		t.Errorf("expected ErrAccountNotEmpty, got %v", err)
	}
}

func TestCurrencyMismatchRejected(t *testing.T) {
	l := newTestLedger(t, domain.RiskConfig{})
	ctx := context.Background()

	a := l.open(t, "100")

	usd, err := domain.NewAmount("10", "USD")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.engine.Deposit(ctx, a, usd, "usd-deposit"); !errors.Is(err, domain.ErrCurrencyMismatch) {
		t.Errorf("expected ErrCurrencyMismatch, got %v", err)
	}
}

func TestMissingIdempotencyKeyRejected(t *testing.T) {
	l := newTestLedger(t, domain.RiskConfig{})
	ctx := context.Background()

	a := l.open(t, "100")
	if _, err := l.engine.Deposit(ctx, a, amount(t, "10"), ""); !errors.Is(err, domain.ErrMissingIdempotencyKey) {
		t.Errorf("expected ErrMissingIdempotencyKey, got %v", err)
	}
}

func TestUnknownAccountRejected(t *testing.T) {
	l := newTestLedger(t, domain.RiskConfig{})
	ctx := context.Background()

	if _, err := l.engine.Deposit(ctx, uuid.New(), amount(t, "10"), "ghost"); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestConcurrentWithdrawalsFromSharedSource(t *testing.T) {
	l := newTestLedger(t, domain.RiskConfig{})
	ctx := context.Background()

	a := l.open(t, "150")
	b := l.open(t, "0")
	c := l.open(t, "0")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	targets := []uuid.UUID{b, c}
	for i := range targets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = l.engine.Transfer(ctx, a, targets[i], amount(t, "100"),
				fmt.Sprintf("race-%d", i))
		}(i)
	}
	wg.Wait()

	var succeeded, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrInsufficientFunds):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || insufficient != 1 {
		t.Fatalf("expected exactly one success and one rejection, got %d and %d",
			succeeded, insufficient)
	}

	if got := l.balance(t, a); got != "50.00" {
		t.Errorf("expected source balance 50.00, got %s", got)
	}
}

// flakyTxManager fails the first N transaction attempts with a transient
// error before delegating to the real manager.
type flakyTxManager struct {
	inner    domain.TransactionManager
	err      error
	failures int

	mu    sync.Mutex
	calls int
}

func (m *flakyTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	m.calls++
	calls := m.calls
	m.mu.Unlock()
	if calls <= m.failures {
		return m.err
	}
	return m.inner.WithTransaction(ctx, fn)
}

func newFlakyLedger(t *testing.T, failures int, err error) (*domain.Engine, *memory.AccountRepository, *flakyTxManager) {
	t.Helper()

	store := memory.NewStore(0)
	accounts := memory.NewAccountRepository(store)
	txns := memory.NewTransactionRepository(store)
	findings := memory.NewRiskFindingRepository(store)
	txManager := &flakyTxManager{
		inner:    memory.NewTransactionManager(store),
		err:      err,
		failures: failures,
	}

	log := logrus.New()
	log.SetOutput(io.Discard)

	engine := domain.NewEngine(
		accounts, txns, findings, txManager,
		domain.NewRiskEvaluator(domain.RiskConfig{}),
		nil, log,
		domain.EngineConfig{MaxRetries: 3, RetryBackoff: time.Millisecond},
	)
	return engine, accounts, txManager
}

func TestTransientFailureRetried(t *testing.T) {
	engine, accounts, txManager := newFlakyLedger(t, 2, domain.ErrConflict)
	ctx := context.Background()

	account := domain.NewAccount(uuid.New(), amount(t, "0"))
	if err := accounts.Create(ctx, account); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	result, err := engine.Deposit(ctx, account.ID, amount(t, "100"), "flaky-deposit")
	if err != nil {
		t.Fatalf("deposit must recover from transient failures, got %v", err)
	}
	if result.Status != domain.StatusSuccess {
		t.Errorf("expected SUCCESS, got %s", result.Status)
	}
	if txManager.calls != 3 {
		t.Errorf("expected 3 transaction attempts, got %d", txManager.calls)
	}

	current, err := accounts.GetByID(ctx, account.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if current.Balance.String() != "100.00" {
		t.Errorf("retries must apply the effect exactly once, got %s", current.Balance)
	}
}

func TestTransientFailureExhaustsRetries(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "conflict", err: domain.ErrConflict},
		{name: "lock timeout", err: domain.ErrLockTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, accounts, txManager := newFlakyLedger(t, 100, tt.err)
			ctx := context.Background()

			account := domain.NewAccount(uuid.New(), amount(t, "0"))
			if err := accounts.Create(ctx, account); err != nil {
				t.Fatalf("Create failed: %v", err)
			}

			_, err := engine.Deposit(ctx, account.ID, amount(t, "100"), "doomed-deposit")
			if !errors.Is(err, tt.err) {
				t.Fatalf("exhausted retries must surface the transient error, got %v", err)
			}
			// MaxRetries=3 means one initial attempt plus three retries.
			if txManager.calls != 4 {
				t.Errorf("expected 4 transaction attempts, got %d", txManager.calls)
			}

			current, _ := accounts.GetByID(ctx, account.ID)
			if current.Balance.String() != "0.00" {
				t.Errorf("failed operation must not move money, got %s", current.Balance)
			}
		})
	}
}

func TestConcurrentSameKeySubmissions(t *testing.T) {
	l := newTestLedger(t, domain.RiskConfig{})
	ctx := context.Background()

	a := l.open(t, "0")

	const workers = 8
	var wg sync.WaitGroup
	results := make([]*domain.TransactionResult, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = l.engine.Deposit(ctx, a, amount(t, "100"), "shared-key")
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d failed: %v", i, errs[i])
		}
		if results[i].TransactionID != results[0].TransactionID {
			t.Errorf("worker %d got transaction %s, want %s",
				i, results[i].TransactionID, results[0].TransactionID)
		}
	}

	// Exactly one balance effect and one record for the shared key.
	if got := l.balance(t, a); got != "100.00" {
		t.Errorf("expected a single deposit effect, balance %s", got)
	}
	log, err := l.txns.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	var matching int
	for _, txn := range log {
		if txn.IdempotencyKey == "shared-key" {
			matching++
		}
	}
	if matching != 1 {
		t.Errorf("expected one record for the shared key, got %d", matching)
	}
}

func TestAccountTimestampMatchesTransaction(t *testing.T) {
	l := newTestLedger(t, domain.RiskConfig{})
	ctx := context.Background()

	a := l.open(t, "0")

	result, err := l.engine.Deposit(ctx, a, amount(t, "100"), "stamped-deposit")
	if err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	account, err := l.accounts.GetByID(ctx, a)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	txn, err := l.txns.GetByID(ctx, result.TransactionID)
	if err != nil || txn == nil {
		t.Fatalf("GetByID for transaction failed: %v, %v", txn, err)
	}

	if !account.UpdatedAt.Equal(txn.CreatedAt) {
		t.Errorf("account UpdatedAt %s must match transaction CreatedAt %s",
			account.UpdatedAt, txn.CreatedAt)
	}
}

func TestConcurrentOperationsReplayConsistency(t *testing.T) {
	l := newTestLedger(t, domain.RiskConfig{})
	ctx := context.Background()

	const numAccounts = 4
	const numOps = 60

	accounts := make([]uuid.UUID, numAccounts)
	for i := range accounts {
		accounts[i] = l.open(t, "1000")
	}

	rng := rand.New(rand.NewSource(42))
	type op struct {
		kind  domain.TransactionKind
		from  uuid.UUID
		to    uuid.UUID
		value string
	}
	ops := make([]op, numOps)
	for i := range ops {
		from := accounts[rng.Intn(numAccounts)]
		to := accounts[rng.Intn(numAccounts)]
		for to == from {
			to = accounts[rng.Intn(numAccounts)]
		}
		value := fmt.Sprintf("%d.%02d", 1+rng.Intn(50), rng.Intn(100))
		switch rng.Intn(3) {
		case 0:
			ops[i] = op{kind: domain.KindDeposit, to: to, value: value}
		case 1:
			ops[i] = op{kind: domain.KindWithdraw, from: from, value: value}
		default:
			ops[i] = op{kind: domain.KindTransfer, from: from, to: to, value: value}
		}
	}

	var wg sync.WaitGroup
	for i, o := range ops {
		wg.Add(1)
		go func(i int, o op) {
			defer wg.Done()
			key := fmt.Sprintf("prop-%d", i)
			var err error
			switch o.kind {
			case domain.KindDeposit:
				_, err = l.engine.Deposit(ctx, o.to, amount(t, o.value), key)
			case domain.KindWithdraw:
				_, err = l.engine.Withdraw(ctx, o.from, amount(t, o.value), key)
			case domain.KindTransfer:
				_, err = l.engine.Transfer(ctx, o.from, o.to, amount(t, o.value), key)
			}
			if err != nil && !errors.Is(err, domain.ErrInsufficientFunds) {
				t.Errorf("operation %d failed unexpectedly: %v", i, err)
			}
		}(i, o)
	}
	wg.Wait()

	// Replaying the log from zero must reproduce the materialized balances.
	log, err := l.txns.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	replayed := domain.ReplayBalances(log)

	for _, id := range accounts {
		balance, err := l.engine.GetBalance(ctx, id)
		if err != nil {
			t.Fatalf("GetBalance failed: %v", err)
		}
		if balance.Value.IsNegative() {
			t.Errorf("account %s has negative balance %s", id, balance)
		}
		if !balance.Value.Equal(replayed[id]) {
			t.Errorf("account %s: materialized %s, replayed %s",
				id, balance.Value, replayed[id])
		}
	}

	// Conservation: transfers move money, only deposits and withdrawals
	// change the system total.
	total := decimal.Zero
	for _, id := range accounts {
		balance, _ := l.engine.GetBalance(ctx, id)
		total = total.Add(balance.Value)
	}
	expected := decimal.Zero
	for _, txn := range log {
		if txn.Status != domain.StatusSuccess {
			continue
		}
		switch txn.Kind {
		case domain.KindDeposit:
			expected = expected.Add(txn.Amount.Value)
		case domain.KindWithdraw:
			expected = expected.Sub(txn.Amount.Value)
		}
	}
	if !total.Equal(expected) {
		t.Errorf("conservation violated: total %s, expected %s", total, expected)
	}
}
