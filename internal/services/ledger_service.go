// Package services holds the business logic of the ledger: atomic balance
// mutation, best-effort budget aggregation and recurrence scheduling.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tally/internal/core"
	"tally/internal/log"
	"tally/internal/storage"
)

// LedgerService is the only writer of transactions and account balances.
// Every lifecycle event (create, edit, re-status, delete) runs the row write
// and its balance effect in one bounded, atomic unit of work; the budget
// aggregator is then notified best-effort and can never fail the write.
type LedgerService struct {
	storage *storage.Repository
	budgets *BudgetService
	logger  *log.Logger
	timeout time.Duration
}

func NewLedgerService(storage *storage.Repository, budgets *BudgetService, logger *log.Logger, timeout time.Duration) *LedgerService {
	return &LedgerService{
		storage: storage,
		budgets: budgets,
		logger:  logger.WithComponent(log.ComponentLedger),
		timeout: timeout,
	}
}

// TransactionInput carries the caller-settable fields of a new transaction.
type TransactionInput struct {
	AccountID   string
	CategoryID  string
	BudgetID    string
	Description string
	Amount      core.Money
	Kind        core.TransactionKind
	Status      core.TransactionStatus
	Date        core.Date
}

// TransactionPatch updates a subset of a transaction's fields. Nil fields
// are left unchanged.
type TransactionPatch struct {
	CategoryID  *string
	BudgetID    *string
	Description *string
	Amount      *core.Money
	Kind        *core.TransactionKind
	Status      *core.TransactionStatus
	Date        *core.Date
}

// CreateTransaction validates and persists a new transaction together with
// its balance effect.
func (s *LedgerService) CreateTransaction(ctx context.Context, userID string, in TransactionInput) (*core.Transaction, error) {
	next := core.Transaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		AccountID:   in.AccountID,
		CategoryID:  in.CategoryID,
		BudgetID:    in.BudgetID,
		Description: in.Description,
		Amount:      in.Amount,
		Kind:        in.Kind,
		Status:      in.Status,
		Date:        in.Date,
		IsActive:    true,
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}

	if err := s.apply(ctx, nil, &next); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Transaction created",
		log.FieldUserID, userID,
		log.FieldTransactionID, next.ID,
		log.FieldAccountID, next.AccountID,
		log.FieldAmountCents, next.Amount.Cents,
		"kind", next.Kind,
		"status", next.Status)

	return &next, nil
}

// UpdateTransaction applies a partial edit. The balance delta is derived
// from the before and after effects, so amount, kind, status and date
// changes all keep the account balance exact.
func (s *LedgerService) UpdateTransaction(ctx context.Context, userID, id string, patch TransactionPatch) (*core.Transaction, error) {
	prev, err := s.storage.GetTransaction(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	next := *prev
	if patch.CategoryID != nil {
		next.CategoryID = *patch.CategoryID
	}
	if patch.BudgetID != nil {
		next.BudgetID = *patch.BudgetID
	}
	if patch.Description != nil {
		next.Description = *patch.Description
	}
	if patch.Amount != nil {
		next.Amount = *patch.Amount
	}
	if patch.Kind != nil {
		next.Kind = *patch.Kind
	}
	if patch.Status != nil {
		next.Status = *patch.Status
	}
	if patch.Date != nil {
		next.Date = *patch.Date
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}

	if err := s.apply(ctx, prev, &next); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Transaction updated",
		log.FieldUserID, userID,
		log.FieldTransactionID, id,
		log.FieldDeltaCents, core.EffectDelta(prev, &next).Cents)

	return &next, nil
}

// DeleteTransaction soft-deletes a transaction and reverses its effect.
func (s *LedgerService) DeleteTransaction(ctx context.Context, userID, id string) error {
	prev, err := s.storage.GetTransaction(ctx, userID, id)
	if err != nil {
		return err
	}

	if err := s.apply(ctx, prev, nil); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Transaction deleted",
		log.FieldUserID, userID,
		log.FieldTransactionID, id,
		log.FieldDeltaCents, core.EffectDelta(prev, nil).Cents)

	return nil
}

// MaterializeOccurrence turns one due occurrence of a rule into a completed
// transaction. Used by the recurrence sweep; the created transaction carries
// the rule's link so future projections see it as materialized.
func (s *LedgerService) MaterializeOccurrence(ctx context.Context, rule core.RecurrenceRule, date core.Date) (*core.Transaction, error) {
	next := core.Transaction{
		ID:          uuid.NewString(),
		UserID:      rule.UserID,
		AccountID:   rule.AccountID,
		CategoryID:  rule.CategoryID,
		RuleID:      rule.ID,
		Description: rule.Description,
		Amount:      rule.Amount,
		Kind:        rule.Kind,
		Status:      core.Completed,
		Date:        date,
		IsActive:    true,
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}

	if err := s.apply(ctx, nil, &next); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Occurrence materialized",
		log.FieldUserID, rule.UserID,
		log.FieldRuleID, rule.ID,
		log.FieldTransactionID, next.ID,
		log.FieldDate, date.Key())

	return &next, nil
}

// AuditBalance compares the running balance with a from-scratch
// recomputation over completed, active transactions.
func (s *LedgerService) AuditBalance(ctx context.Context, userID, accountID string) (running, recomputed core.Money, err error) {
	acct, err := s.storage.GetAccount(ctx, userID, accountID)
	if err != nil {
		return core.Money{}, core.Money{}, err
	}
	recomputed, err = s.storage.RecomputeBalance(ctx, userID, accountID)
	if err != nil {
		return core.Money{}, core.Money{}, err
	}
	if acct.Balance != recomputed {
		s.logger.ErrorContext(ctx, "Balance drift detected",
			log.FieldUserID, userID,
			log.FieldAccountID, accountID,
			"running_cents", acct.Balance.Cents,
			"recomputed_cents", recomputed.Cents)
	}
	return acct.Balance, recomputed, nil
}

// apply runs the atomic unit of work under the ledger timeout and then
// hands the change to the budget aggregator outside the atomic boundary.
func (s *LedgerService) apply(ctx context.Context, prev, next *core.Transaction) error {
	wctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	delta := core.EffectDelta(prev, next)
	if err := s.storage.ApplyTransactionChange(wctx, prev, next, delta); err != nil {
		return fmt.Errorf("apply transaction effect: %w", err)
	}

	// Soft side: failures here are logged inside the aggregator and heal on
	// the next budget read. The write above is already committed.
	s.budgets.TransactionChanged(ctx, prev, next)
	return nil
}
