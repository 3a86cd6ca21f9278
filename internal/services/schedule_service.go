package services

import (
	"context"
	"time"

	"tally/internal/core"
	"tally/internal/log"
	"tally/internal/recurrence"
	"tally/internal/storage"
)

// ScheduleService projects recurrence rules onto the calendar and
// materializes due occurrences. Projection is read-only; materialization
// goes through the ledger service so every created transaction carries its
// balance effect atomically.
type ScheduleService struct {
	storage *storage.Repository
	ledger  *LedgerService
	logger  *log.Logger
}

func NewScheduleService(storage *storage.Repository, ledger *LedgerService, logger *log.Logger) *ScheduleService {
	return &ScheduleService{
		storage: storage,
		ledger:  ledger,
		logger:  logger.WithComponent(log.ComponentRecurrence),
	}
}

// GetOccurrences expands a rule over [windowStart, windowEnd] and marks each
// occurrence with the status of its materialized transaction, if any.
func (s *ScheduleService) GetOccurrences(ctx context.Context, userID, ruleID string, windowStart, windowEnd core.Date) ([]core.Occurrence, error) {
	rule, err := s.storage.GetRule(ctx, userID, ruleID)
	if err != nil {
		return nil, err
	}

	existing, err := s.storage.ListRuleTransactions(ctx, userID, ruleID, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}

	return recurrence.Project(*rule, windowStart, windowEnd, existing)
}

// GetMonthlyCommitment returns the rule's amount normalized to a per-month
// figure. The normalization factors are fixed approximations (30 days, 4
// weeks, a twelfth), not calendar-accurate counts.
func (s *ScheduleService) GetMonthlyCommitment(ctx context.Context, userID, ruleID string) (core.Money, error) {
	rule, err := s.storage.GetRule(ctx, userID, ruleID)
	if err != nil {
		return core.Money{}, err
	}
	return recurrence.MonthlyCommitment(*rule)
}

// MaterializeDue creates transactions for every pending occurrence of every
// active rule dated within lookback of now. Re-running it is idempotent:
// occurrences with an existing active transaction stay untouched. Failures
// on one occurrence are logged and do not stop the sweep.
func (s *ScheduleService) MaterializeDue(ctx context.Context, now time.Time, lookback time.Duration) (int, error) {
	rules, err := s.storage.ListActiveRules(ctx)
	if err != nil {
		return 0, err
	}

	today := core.DateOf(now)
	windowStart := core.DateOf(now.Add(-lookback))

	s.logger.InfoContext(ctx, "Materializing due occurrences",
		log.FieldCount, len(rules),
		log.FieldDate, today.Key())

	created := 0
	for _, rule := range rules {
		existing, err := s.storage.ListRuleTransactions(ctx, rule.UserID, rule.ID, windowStart, today)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to load rule transactions",
				log.FieldRuleID, rule.ID, log.FieldError, err)
			continue
		}

		occurrences, err := recurrence.Project(rule, windowStart, today, existing)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to project rule",
				log.FieldRuleID, rule.ID, log.FieldError, err)
			continue
		}

		for _, occ := range occurrences {
			if occ.Status != core.Pending {
				continue
			}
			if _, err := s.ledger.MaterializeOccurrence(ctx, rule, occ.Date); err != nil {
				s.logger.ErrorContext(ctx, "Failed to materialize occurrence",
					log.FieldRuleID, rule.ID,
					log.FieldDate, occ.Date.Key(),
					log.FieldError, err)
				continue
			}
			created++
		}
	}

	s.logger.InfoContext(ctx, "Materialization sweep complete", log.FieldCount, created)
	return created, nil
}
