package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"tally/internal/alert"
	"tally/internal/cache"
	"tally/internal/core"
	"tally/internal/log"
)

func TestRecomputeDeduplicatesDoubleMatch(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()
	acct := st.seedAccount(t, "u1")
	budget := st.seedBudget(t, core.Budget{
		UserID:     "u1",
		CategoryID: "cat-food",
		Amount:     core.Money{Cents: 100000},
		Month:      3,
		Year:       2026,
	})

	// Linked directly and matching by category at the same time.
	if _, err := st.ledger.CreateTransaction(ctx, "u1", TransactionInput{
		AccountID:  acct.ID,
		CategoryID: "cat-food",
		BudgetID:   budget.ID,
		Amount:     core.Money{Cents: 20000},
		Kind:       core.Expense,
		Status:     core.Completed,
		Date:       core.NewDate(2026, 3, 10),
	}); err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}

	usage, err := st.budgets.RecomputeUsage(ctx, "u1", budget.ID)
	if err != nil {
		t.Fatalf("RecomputeUsage: %v", err)
	}
	if usage.Used.Cents != 20000 {
		t.Errorf("used = %d, want 20000 (counted once, not twice)", usage.Used.Cents)
	}
	if usage.Remaining.Cents != 80000 {
		t.Errorf("remaining = %d, want 80000", usage.Remaining.Cents)
	}
	if usage.Percentage != 20 {
		t.Errorf("percentage = %d, want 20", usage.Percentage)
	}
}

func TestRecomputeIgnoresOutOfScopeTransactions(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()
	acct := st.seedAccount(t, "u1")
	budget := st.seedBudget(t, core.Budget{
		UserID:     "u1",
		CategoryID: "cat-food",
		Amount:     core.Money{Cents: 50000},
		Month:      3,
		Year:       2026,
	})

	inputs := []TransactionInput{
		// Counts: completed expense in category, in period.
		{AccountID: acct.ID, CategoryID: "cat-food", Amount: core.Money{Cents: 1000}, Kind: core.Expense, Status: core.Completed, Date: core.NewDate(2026, 3, 5)},
		// Wrong month.
		{AccountID: acct.ID, CategoryID: "cat-food", Amount: core.Money{Cents: 2000}, Kind: core.Expense, Status: core.Completed, Date: core.NewDate(2026, 4, 5)},
		// Pending, no effect yet.
		{AccountID: acct.ID, CategoryID: "cat-food", Amount: core.Money{Cents: 4000}, Kind: core.Expense, Status: core.Pending, Date: core.NewDate(2026, 3, 6)},
		// Income never counts against a budget.
		{AccountID: acct.ID, CategoryID: "cat-food", Amount: core.Money{Cents: 8000}, Kind: core.Income, Status: core.Completed, Date: core.NewDate(2026, 3, 7)},
		// Different category, no link.
		{AccountID: acct.ID, CategoryID: "cat-rent", Amount: core.Money{Cents: 16000}, Kind: core.Expense, Status: core.Completed, Date: core.NewDate(2026, 3, 8)},
	}
	for i, in := range inputs {
		if _, err := st.ledger.CreateTransaction(ctx, "u1", in); err != nil {
			t.Fatalf("CreateTransaction %d: %v", i, err)
		}
	}

	usage, err := st.budgets.RecomputeUsage(ctx, "u1", budget.ID)
	if err != nil {
		t.Fatalf("RecomputeUsage: %v", err)
	}
	if usage.Used.Cents != 1000 {
		t.Errorf("used = %d, want 1000", usage.Used.Cents)
	}
}

func TestRecomputeIsIdempotent(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()
	acct := st.seedAccount(t, "u1")
	budget := st.seedBudget(t, core.Budget{
		UserID: "u1",
		Amount: core.Money{Cents: 30000},
		Month:  3,
		Year:   2026,
	})

	if _, err := st.ledger.CreateTransaction(ctx, "u1", TransactionInput{
		AccountID: acct.ID,
		BudgetID:  budget.ID,
		Amount:    core.Money{Cents: 4500},
		Kind:      core.Expense,
		Status:    core.Completed,
		Date:      core.NewDate(2026, 3, 3),
	}); err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}

	first, err := st.budgets.RecomputeUsage(ctx, "u1", budget.ID)
	if err != nil {
		t.Fatalf("first RecomputeUsage: %v", err)
	}
	second, err := st.budgets.RecomputeUsage(ctx, "u1", budget.ID)
	if err != nil {
		t.Fatalf("second RecomputeUsage: %v", err)
	}
	if first != second {
		t.Errorf("recompute not idempotent: %+v vs %+v", first, second)
	}
}

func TestEditMovesUsageBetweenBudgets(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()
	acct := st.seedAccount(t, "u1")
	food := st.seedBudget(t, core.Budget{
		UserID: "u1", CategoryID: "cat-food",
		Amount: core.Money{Cents: 50000}, Month: 3, Year: 2026,
	})
	rent := st.seedBudget(t, core.Budget{
		UserID: "u1", CategoryID: "cat-rent",
		Amount: core.Money{Cents: 50000}, Month: 3, Year: 2026,
	})

	tx, err := st.ledger.CreateTransaction(ctx, "u1", TransactionInput{
		AccountID:  acct.ID,
		CategoryID: "cat-food",
		Amount:     core.Money{Cents: 12000},
		Kind:       core.Expense,
		Status:     core.Completed,
		Date:       core.NewDate(2026, 3, 15),
	})
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}

	assertUsed := func(budgetID string, want int64) {
		t.Helper()
		usage, err := st.budgets.GetUsage(ctx, "u1", budgetID)
		if err != nil {
			t.Fatalf("GetUsage(%s): %v", budgetID, err)
		}
		if usage.Used.Cents != want {
			t.Errorf("used(%s) = %d, want %d", budgetID, usage.Used.Cents, want)
		}
	}

	assertUsed(food.ID, 12000)
	assertUsed(rent.ID, 0)

	// Moving the expense to the other category reallocates the usage: the old
	// budget loses it and the new one gains it, both visible on the next read.
	newCat := "cat-rent"
	if _, err := st.ledger.UpdateTransaction(ctx, "u1", tx.ID, TransactionPatch{CategoryID: &newCat}); err != nil {
		t.Fatalf("UpdateTransaction: %v", err)
	}

	assertUsed(food.ID, 0)
	assertUsed(rent.ID, 12000)
}

func TestTransactionChangedReportsAffectedBudgets(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()
	food := st.seedBudget(t, core.Budget{
		UserID: "u1", CategoryID: "cat-food",
		Amount: core.Money{Cents: 50000}, Month: 3, Year: 2026,
	})
	rent := st.seedBudget(t, core.Budget{
		UserID: "u1", CategoryID: "cat-rent",
		Amount: core.Money{Cents: 50000}, Month: 3, Year: 2026,
	})

	prev := &core.Transaction{
		ID: "t1", UserID: "u1", CategoryID: "cat-food",
		Amount: core.Money{Cents: 100}, Kind: core.Expense,
		Status: core.Completed, Date: core.NewDate(2026, 3, 1), IsActive: true,
	}
	next := *prev
	next.CategoryID = "cat-rent"

	ids := st.budgets.TransactionChanged(ctx, prev, &next)
	if len(ids) != 2 {
		t.Fatalf("affected budgets = %v, want both %s and %s", ids, food.ID, rent.ID)
	}
	seen := map[string]bool{ids[0]: true, ids[1]: true}
	if !seen[food.ID] || !seen[rent.ID] {
		t.Errorf("affected budgets = %v, want both %s and %s", ids, food.ID, rent.ID)
	}
}

func TestAlertFiresOnUpwardCrossingOnly(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()
	acct := st.seedAccount(t, "u1")
	budget := st.seedBudget(t, core.Budget{
		UserID:         "u1",
		Amount:         core.Money{Cents: 10000},
		Month:          3,
		Year:           2026,
		AlertThreshold: 80,
	})

	spend := func(cents int64) *core.Transaction {
		t.Helper()
		tx, err := st.ledger.CreateTransaction(ctx, "u1", TransactionInput{
			AccountID: acct.ID,
			BudgetID:  budget.ID,
			Amount:    core.Money{Cents: cents},
			Kind:      core.Expense,
			Status:    core.Completed,
			Date:      core.NewDate(2026, 3, 12),
		})
		if err != nil {
			t.Fatalf("CreateTransaction: %v", err)
		}
		return tx
	}
	recompute := func() {
		t.Helper()
		if _, err := st.budgets.RecomputeUsage(ctx, "u1", budget.ID); err != nil {
			t.Fatalf("RecomputeUsage: %v", err)
		}
	}

	big := spend(9000)
	recompute()
	if st.notifier.count() != 1 {
		t.Fatalf("alerts after crossing = %d, want 1", st.notifier.count())
	}

	// Staying above the threshold never re-fires.
	recompute()
	spend(500)
	recompute()
	if st.notifier.count() != 1 {
		t.Errorf("alerts while above threshold = %d, want 1", st.notifier.count())
	}

	// Dropping below re-arms the alert.
	if err := st.ledger.DeleteTransaction(ctx, "u1", big.ID); err != nil {
		t.Fatalf("DeleteTransaction: %v", err)
	}
	recompute()
	if st.notifier.count() != 1 {
		t.Errorf("alerts after dropping below = %d, want 1", st.notifier.count())
	}

	spend(9000)
	recompute()
	if st.notifier.count() != 2 {
		t.Errorf("alerts after second crossing = %d, want 2", st.notifier.count())
	}
}

func TestZeroThresholdDisablesAlerts(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()
	acct := st.seedAccount(t, "u1")
	budget := st.seedBudget(t, core.Budget{
		UserID: "u1",
		Amount: core.Money{Cents: 1000},
		Month:  3,
		Year:   2026,
	})

	if _, err := st.ledger.CreateTransaction(ctx, "u1", TransactionInput{
		AccountID: acct.ID,
		BudgetID:  budget.ID,
		Amount:    core.Money{Cents: 1000},
		Kind:      core.Expense,
		Status:    core.Completed,
		Date:      core.NewDate(2026, 3, 1),
	}); err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	if _, err := st.budgets.RecomputeUsage(ctx, "u1", budget.ID); err != nil {
		t.Fatalf("RecomputeUsage: %v", err)
	}
	if st.notifier.count() != 0 {
		t.Errorf("alerts with zero threshold = %d, want 0", st.notifier.count())
	}
}

// flakyNotifier fails a fixed number of dispatches before succeeding.
type flakyNotifier struct {
	failures  int
	delivered int
}

func (n *flakyNotifier) Notify(context.Context, alert.Alert) error {
	if n.failures > 0 {
		n.failures--
		return errors.New("broker unavailable")
	}
	n.delivered++
	return nil
}

func TestAlertRetriesAfterDispatchFailure(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()
	acct := st.seedAccount(t, "u1")
	budget := st.seedBudget(t, core.Budget{
		UserID:         "u1",
		Amount:         core.Money{Cents: 10000},
		Month:          3,
		Year:           2026,
		AlertThreshold: 50,
	})

	notifier := &flakyNotifier{failures: 1}
	logger := log.New(log.Config{Component: log.ComponentBudget, Handler: slog.NewTextHandler(io.Discard, nil)})
	budgets := NewBudgetService(st.repo, cache.NewLRU[core.BudgetUsage](8, time.Minute), nil, notifier, logger)

	if _, err := st.ledger.CreateTransaction(ctx, "u1", TransactionInput{
		AccountID: acct.ID,
		BudgetID:  budget.ID,
		Amount:    core.Money{Cents: 8000},
		Kind:      core.Expense,
		Status:    core.Completed,
		Date:      core.NewDate(2026, 3, 1),
	}); err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}

	// First dispatch fails: the recompute itself still succeeds and the flag
	// stays unset so the next recompute retries.
	if _, err := budgets.RecomputeUsage(ctx, "u1", budget.ID); err != nil {
		t.Fatalf("RecomputeUsage with failing notifier: %v", err)
	}
	if notifier.delivered != 0 {
		t.Fatalf("delivered = %d, want 0 after failed dispatch", notifier.delivered)
	}

	if _, err := budgets.RecomputeUsage(ctx, "u1", budget.ID); err != nil {
		t.Fatalf("RecomputeUsage retry: %v", err)
	}
	if notifier.delivered != 1 {
		t.Errorf("delivered = %d, want 1 after retry", notifier.delivered)
	}
}

func TestGetUsageUnknownBudget(t *testing.T) {
	st := newTestStack(t)
	if _, err := st.budgets.GetUsage(context.Background(), "u1", "no-such-budget"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}
