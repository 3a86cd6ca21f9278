package services

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"tally/internal/alert"
	"tally/internal/cache"
	"tally/internal/core"
	"tally/internal/log"
	"tally/internal/storage"
)

// recordingNotifier captures dispatched alerts for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (n *recordingNotifier) Notify(_ context.Context, a alert.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

type testStack struct {
	repo     *storage.Repository
	budgets  *BudgetService
	ledger   *LedgerService
	schedule *ScheduleService
	notifier *recordingNotifier
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	repo, err := storage.NewRepository(filepath.Join(t.TempDir(), "tally.db"))
	if err != nil {
		t.Fatalf("open test repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	logger := log.New(log.Config{
		Component: log.ComponentApp,
		Handler:   slog.NewTextHandler(io.Discard, nil),
	})

	notifier := &recordingNotifier{}
	usageCache := cache.NewLRU[core.BudgetUsage](64, time.Minute)
	budgets := NewBudgetService(repo, usageCache, nil, notifier, logger)
	ledger := NewLedgerService(repo, budgets, logger, 5*time.Second)
	schedule := NewScheduleService(repo, ledger, logger)

	return &testStack{
		repo:     repo,
		budgets:  budgets,
		ledger:   ledger,
		schedule: schedule,
		notifier: notifier,
	}
}

func (st *testStack) seedAccount(t *testing.T, userID string) core.Account {
	t.Helper()
	a := core.Account{ID: uuid.NewString(), UserID: userID, Name: "checking", IsActive: true}
	if err := st.repo.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return a
}

func (st *testStack) seedBudget(t *testing.T, b core.Budget) core.Budget {
	t.Helper()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.IsActive = true
	if err := st.repo.CreateBudget(context.Background(), b); err != nil {
		t.Fatalf("seed budget: %v", err)
	}
	return b
}

func (st *testStack) balanceCents(t *testing.T, userID, accountID string) int64 {
	t.Helper()
	acct, err := st.repo.GetAccount(context.Background(), userID, accountID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	return acct.Balance.Cents
}
