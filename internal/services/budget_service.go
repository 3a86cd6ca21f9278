package services

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"tally/internal/alert"
	"tally/internal/cache"
	"tally/internal/core"
	"tally/internal/log"
	"tally/internal/storage"
)

// RecomputePublisher queues a budget for asynchronous recomputation.
type RecomputePublisher interface {
	PublishBudgetRecompute(ctx context.Context, userID, budgetID string) error
}

// BudgetService derives used/remaining/percentage figures for budgets.
// Recomputation is always a full pass over the matching transactions, which
// makes it idempotent and order-independent: concurrent recomputes of the
// same budget converge on the same value. Relative to the transaction write
// that triggers it the aggregation is best-effort; failures are logged and
// heal on the next read.
type BudgetService struct {
	storage   *storage.Repository
	cache     *cache.LRU[core.BudgetUsage]
	publisher RecomputePublisher // nil when no broker is configured
	notifier  alert.Notifier
	logger    *log.Logger
}

func NewBudgetService(storage *storage.Repository, usageCache *cache.LRU[core.BudgetUsage], publisher RecomputePublisher, notifier alert.Notifier, logger *log.Logger) *BudgetService {
	return &BudgetService{
		storage:   storage,
		cache:     usageCache,
		publisher: publisher,
		notifier:  notifier,
		logger:    logger.WithComponent(log.ComponentBudget),
	}
}

// GetUsage returns the budget's usage figures, serving from cache when a
// fresh value exists and recomputing otherwise. Stale figures after a write
// self-correct here at the latest.
func (s *BudgetService) GetUsage(ctx context.Context, userID, budgetID string) (core.BudgetUsage, error) {
	if s.cache != nil {
		if usage, ok := s.cache.Get(budgetID); ok {
			return usage, nil
		}
	}
	return s.RecomputeUsage(ctx, userID, budgetID)
}

// RecomputeUsage rebuilds a budget's usage from scratch: the union of
// completed, active expenses in the budget's period matching either by
// direct link or by category, each transaction counted at most once even
// when it satisfies both. The result is cached and the alert threshold is
// evaluated.
func (s *BudgetService) RecomputeUsage(ctx context.Context, userID, budgetID string) (core.BudgetUsage, error) {
	b, err := s.storage.GetBudget(ctx, userID, budgetID)
	if err != nil {
		return core.BudgetUsage{}, err
	}

	from, to := core.PeriodRange(b.Month, b.Year)

	linked, err := s.storage.ListBudgetLinkedExpenses(ctx, userID, b.ID, from, to)
	if err != nil {
		return core.BudgetUsage{}, err
	}

	var categorized []core.Transaction
	if b.CategoryID != "" {
		categorized, err = s.storage.ListCategoryExpenses(ctx, userID, b.CategoryID, from, to)
		if err != nil {
			return core.BudgetUsage{}, err
		}
	}

	// Aggregate over the deduplicated set of transaction IDs, never over
	// the concatenation of the two overlapping result lists.
	seen := make(map[string]struct{}, len(linked)+len(categorized))
	var used core.Money
	for _, t := range append(linked, categorized...) {
		if _, ok := seen[t.ID]; ok {
			continue
		}
		seen[t.ID] = struct{}{}
		used = used.Add(t.Amount)
	}

	usage := core.BudgetUsage{
		Used:       used,
		Remaining:  b.Amount.Add(used.Neg()),
		Percentage: usagePercent(used, b.Amount),
	}

	if s.cache != nil {
		s.cache.Set(b.ID, usage)
	}

	s.evaluateAlert(ctx, b, usage)

	return usage, nil
}

// usagePercent returns round(100 * used / amount), or 0 for a zero budget.
func usagePercent(used, amount core.Money) int {
	if amount.Cents == 0 {
		return 0
	}
	pct := decimal.NewFromInt(used.Cents).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(amount.Cents)).
		Round(0)
	return int(pct.IntPart())
}

// evaluateAlert dispatches a threshold alert on the upward crossing only.
// The alerted flag is stored per budget per period and cleared once usage
// drops back below the threshold, so repeated recomputes above the line do
// not re-fire.
func (s *BudgetService) evaluateAlert(ctx context.Context, b *core.Budget, usage core.BudgetUsage) {
	over := usage.Percentage >= b.AlertThreshold && b.AlertThreshold > 0

	switch {
	case over && !b.Alerted:
		a := alert.Alert{
			UserID:     b.UserID,
			BudgetID:   b.ID,
			Month:      b.Month,
			Year:       b.Year,
			Threshold:  b.AlertThreshold,
			Percentage: usage.Percentage,
			Used:       usage.Used,
			Limit:      b.Amount,
		}
		if err := s.notifier.Notify(ctx, a); err != nil {
			// Leave the flag unset so the next recompute retries the
			// dispatch.
			aggErr := &core.AggregationError{BudgetID: b.ID, Err: fmt.Errorf("dispatch alert: %w", err)}
			s.logger.ErrorContext(ctx, "Alert dispatch failed", log.FieldBudgetID, b.ID, log.FieldError, aggErr)
			return
		}
		if err := s.storage.SetBudgetAlerted(ctx, b.UserID, b.ID, true); err != nil {
			s.logger.ErrorContext(ctx, "Failed to record alert state", log.FieldBudgetID, b.ID, log.FieldError, err)
		}
	case !over && b.Alerted:
		if err := s.storage.SetBudgetAlerted(ctx, b.UserID, b.ID, false); err != nil {
			s.logger.ErrorContext(ctx, "Failed to reset alert state", log.FieldBudgetID, b.ID, log.FieldError, err)
		}
	}
}

// TransactionChanged reacts to a transaction lifecycle event: every budget
// the transaction counted against before or after the change has its cached
// usage invalidated and a recompute queued. Returns the affected budget IDs.
// Never fails the caller; aggregation errors are logged and heal on read.
func (s *BudgetService) TransactionChanged(ctx context.Context, prev, next *core.Transaction) []string {
	affected := make(map[string]core.Budget)
	for _, t := range []*core.Transaction{prev, next} {
		if t == nil {
			continue
		}
		budgets, err := s.storage.ListMatchingBudgets(ctx, t.UserID, t.Date, t.BudgetID, t.CategoryID)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to find affected budgets",
				log.FieldTransactionID, t.ID, log.FieldError, err)
			continue
		}
		for _, b := range budgets {
			affected[b.ID] = b
		}
	}

	ids := make([]string, 0, len(affected))
	for id, b := range affected {
		ids = append(ids, id)

		if s.cache != nil {
			s.cache.Delete(id)
		}

		if s.publisher == nil {
			// No broker: the invalidated cache forces a recompute on the
			// next read of this budget.
			continue
		}
		if err := s.publisher.PublishBudgetRecompute(ctx, b.UserID, id); err != nil {
			aggErr := &core.AggregationError{BudgetID: id, Err: err}
			s.logger.ErrorContext(ctx, "Failed to queue budget recompute",
				log.FieldBudgetID, id, log.FieldError, aggErr)
		}
	}
	return ids
}
