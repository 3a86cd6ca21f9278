// Package storage persists accounts, transactions, recurrence rules and
// budgets in SQLite. Account balances are only ever adjusted through
// ApplyTransactionChange, which runs the row write and the balance increment
// in one database transaction.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"modernc.org/sqlite"

	"tally/internal/core"
)

// SQLite extended result codes for contended writes.
const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	// The busy timeout must ride on the DSN so it applies to every pooled
	// connection, not just the one a PRAGMA exec happens to land on. Write
	// transactions begin immediate: a deferred read-then-write upgrade gets
	// SQLITE_BUSY without consulting the busy handler.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// mapErr translates driver and context errors into the ledger error
// taxonomy: timeouts are transient, lock contention is a retryable conflict
// and missing rows are not found.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", core.ErrTransient, err)
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqliteBusy, sqliteLocked:
			return fmt.Errorf("%w: %v", core.ErrConflict, err)
		}
	}
	return err
}

// -- accounts --

func (r *Repository) CreateAccount(ctx context.Context, a core.Account) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (id, user_id, name, balance_cents, is_active) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, a.Balance.Cents, a.IsActive)
	if err != nil {
		return fmt.Errorf("create account: %w", mapErr(err))
	}
	return nil
}

func (r *Repository) GetAccount(ctx context.Context, userID, id string) (*core.Account, error) {
	var a core.Account
	var active int64
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, balance_cents, is_active FROM accounts WHERE id = ? AND user_id = ?`,
		id, userID).Scan(&a.ID, &a.UserID, &a.Name, &a.Balance.Cents, &active)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", mapErr(err))
	}
	a.IsActive = active != 0
	return &a, nil
}

// RecomputeBalance sums the signed effects of all completed, active
// transactions on the account from scratch. Used by the consistency audit
// and by tests; the running balance itself is maintained incrementally.
func (r *Repository) RecomputeBalance(ctx context.Context, userID, accountID string) (core.Money, error) {
	var cents int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(CASE WHEN kind = 'income' THEN amount_cents ELSE -amount_cents END), 0)
		 FROM transactions
		 WHERE account_id = ? AND user_id = ? AND status = 'completed' AND is_active = 1`,
		accountID, userID).Scan(&cents)
	if err != nil {
		return core.Money{}, fmt.Errorf("recompute balance: %w", mapErr(err))
	}
	return core.Money{Cents: cents}, nil
}

// -- transactions --

const txColumns = `id, user_id, account_id, category_id, budget_id, rule_id, description, amount_cents, kind, status, tx_date, is_active`

func scanTransaction(row interface{ Scan(...any) error }) (*core.Transaction, error) {
	var t core.Transaction
	var category, budget, rule sql.NullString
	var date string
	var active int64
	err := row.Scan(&t.ID, &t.UserID, &t.AccountID, &category, &budget, &rule,
		&t.Description, &t.Amount.Cents, &t.Kind, &t.Status, &date, &active)
	if err != nil {
		return nil, err
	}
	t.CategoryID = category.String
	t.BudgetID = budget.String
	t.RuleID = rule.String
	t.IsActive = active != 0
	d, err := core.ParseDate(date)
	if err != nil {
		return nil, fmt.Errorf("stored date %q: %w", date, err)
	}
	t.Date = d
	return &t, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (r *Repository) GetTransaction(ctx context.Context, userID, id string) (*core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = ? AND user_id = ? AND is_active = 1`,
		id, userID)
	t, err := scanTransaction(row)
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", mapErr(err))
	}
	return t, nil
}

func (r *Repository) listTransactions(ctx context.Context, query string, args ...any) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// ListRuleTransactions returns the active transactions materialized from a
// rule inside [from, to], ordered by date.
func (r *Repository) ListRuleTransactions(ctx context.Context, userID, ruleID string, from, to core.Date) ([]core.Transaction, error) {
	out, err := r.listTransactions(ctx,
		`SELECT `+txColumns+` FROM transactions
		 WHERE user_id = ? AND rule_id = ? AND is_active = 1 AND tx_date BETWEEN ? AND ?
		 ORDER BY tx_date`,
		userID, ruleID, from.Key(), to.Key())
	if err != nil {
		return nil, fmt.Errorf("list rule transactions: %w", err)
	}
	return out, nil
}

// ListBudgetLinkedExpenses returns active completed expenses directly linked
// to the budget inside [from, to].
func (r *Repository) ListBudgetLinkedExpenses(ctx context.Context, userID, budgetID string, from, to core.Date) ([]core.Transaction, error) {
	out, err := r.listTransactions(ctx,
		`SELECT `+txColumns+` FROM transactions
		 WHERE user_id = ? AND budget_id = ? AND kind = 'expense' AND status = 'completed'
		   AND is_active = 1 AND tx_date BETWEEN ? AND ?`,
		userID, budgetID, from.Key(), to.Key())
	if err != nil {
		return nil, fmt.Errorf("list budget expenses: %w", err)
	}
	return out, nil
}

// ListCategoryExpenses returns active completed expenses in a category
// inside [from, to].
func (r *Repository) ListCategoryExpenses(ctx context.Context, userID, categoryID string, from, to core.Date) ([]core.Transaction, error) {
	out, err := r.listTransactions(ctx,
		`SELECT `+txColumns+` FROM transactions
		 WHERE user_id = ? AND category_id = ? AND kind = 'expense' AND status = 'completed'
		   AND is_active = 1 AND tx_date BETWEEN ? AND ?`,
		userID, categoryID, from.Key(), to.Key())
	if err != nil {
		return nil, fmt.Errorf("list category expenses: %w", err)
	}
	return out, nil
}

// ApplyTransactionChange persists one transaction lifecycle event together
// with its balance effect, atomically. prev is nil on create, next is nil on
// delete (a soft delete that zeroes the row's effect). The balance delta is
// applied as an in-place increment so concurrent writers on the same account
// cannot lose updates; it is never read-modify-written in memory.
//
// On any failure nothing is persisted: missing or foreign accounts map to
// ErrNotFound, lock contention to ErrConflict and timeouts to ErrTransient.
func (r *Repository) ApplyTransactionChange(ctx context.Context, prev, next *core.Transaction, delta core.Money) error {
	ref := next
	if ref == nil {
		ref = prev
	}
	if ref == nil {
		return core.ValidationError{Field: "transaction", Reason: "both states nil"}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin unit of work: %w", mapErr(err))
	}
	defer tx.Rollback()

	var owned int64
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM accounts WHERE id = ? AND user_id = ? AND is_active = 1`,
		ref.AccountID, ref.UserID).Scan(&owned)
	if err != nil {
		return fmt.Errorf("check account: %w", mapErr(err))
	}
	if owned == 0 {
		return fmt.Errorf("account %s: %w", ref.AccountID, core.ErrNotFound)
	}

	switch {
	case prev == nil:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO transactions (id, user_id, account_id, category_id, budget_id, rule_id, description, amount_cents, kind, status, tx_date, is_active)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			next.ID, next.UserID, next.AccountID, nullable(next.CategoryID), nullable(next.BudgetID), nullable(next.RuleID),
			next.Description, next.Amount.Cents, next.Kind, next.Status, next.Date.Key(), next.IsActive)
		if err != nil {
			return fmt.Errorf("insert transaction: %w", mapErr(err))
		}
	case next == nil:
		res, err := tx.ExecContext(ctx,
			`UPDATE transactions SET is_active = 0, updated_at = CURRENT_TIMESTAMP
			 WHERE id = ? AND user_id = ? AND is_active = 1`,
			prev.ID, prev.UserID)
		if err != nil {
			return fmt.Errorf("delete transaction: %w", mapErr(err))
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("transaction %s: %w", prev.ID, core.ErrNotFound)
		}
	default:
		res, err := tx.ExecContext(ctx,
			`UPDATE transactions
			 SET category_id = ?, budget_id = ?, description = ?, amount_cents = ?, kind = ?, status = ?, tx_date = ?, updated_at = CURRENT_TIMESTAMP
			 WHERE id = ? AND user_id = ? AND is_active = 1`,
			nullable(next.CategoryID), nullable(next.BudgetID), next.Description, next.Amount.Cents,
			next.Kind, next.Status, next.Date.Key(), next.ID, next.UserID)
		if err != nil {
			return fmt.Errorf("update transaction: %w", mapErr(err))
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("transaction %s: %w", next.ID, core.ErrNotFound)
		}
	}

	if !delta.IsZero() {
		_, err = tx.ExecContext(ctx,
			`UPDATE accounts SET balance_cents = balance_cents + ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			delta.Cents, ref.AccountID)
		if err != nil {
			return fmt.Errorf("apply balance delta: %w", mapErr(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit unit of work: %w", mapErr(err))
	}
	return nil
}

// -- recurrence rules --

const ruleColumns = `id, user_id, account_id, category_id, description, amount_cents, kind, frequency, start_date, end_date, is_active`

func scanRule(row interface{ Scan(...any) error }) (*core.RecurrenceRule, error) {
	var rr core.RecurrenceRule
	var category, end sql.NullString
	var start string
	var active int64
	err := row.Scan(&rr.ID, &rr.UserID, &rr.AccountID, &category, &rr.Description,
		&rr.Amount.Cents, &rr.Kind, &rr.Frequency, &start, &end, &active)
	if err != nil {
		return nil, err
	}
	rr.CategoryID = category.String
	rr.IsActive = active != 0
	d, err := core.ParseDate(start)
	if err != nil {
		return nil, fmt.Errorf("stored start date %q: %w", start, err)
	}
	rr.StartDate = d
	if end.Valid {
		d, err := core.ParseDate(end.String)
		if err != nil {
			return nil, fmt.Errorf("stored end date %q: %w", end.String, err)
		}
		rr.EndDate = d
	}
	return &rr, nil
}

func (r *Repository) CreateRule(ctx context.Context, rr core.RecurrenceRule) error {
	var end any
	if !rr.EndDate.IsZero() {
		end = rr.EndDate.Key()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO recurrence_rules (id, user_id, account_id, category_id, description, amount_cents, kind, frequency, start_date, end_date, is_active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rr.ID, rr.UserID, rr.AccountID, nullable(rr.CategoryID), rr.Description,
		rr.Amount.Cents, rr.Kind, rr.Frequency, rr.StartDate.Key(), end, rr.IsActive)
	if err != nil {
		return fmt.Errorf("create rule: %w", mapErr(err))
	}
	return nil
}

func (r *Repository) GetRule(ctx context.Context, userID, id string) (*core.RecurrenceRule, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM recurrence_rules WHERE id = ? AND user_id = ? AND is_active = 1`,
		id, userID)
	rr, err := scanRule(row)
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", mapErr(err))
	}
	return rr, nil
}

// ListActiveRules returns every active rule across all users, for the
// materialization sweep.
func (r *Repository) ListActiveRules(ctx context.Context) ([]core.RecurrenceRule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM recurrence_rules WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", mapErr(err))
	}
	defer rows.Close()

	var out []core.RecurrenceRule
	for rows.Next() {
		rr, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("list active rules: %w", err)
		}
		out = append(out, *rr)
	}
	return out, rows.Err()
}

// -- budgets --

const budgetColumns = `id, user_id, category_id, amount_cents, month, year, alert_threshold, alerted, is_active`

func scanBudget(row interface{ Scan(...any) error }) (*core.Budget, error) {
	var b core.Budget
	var category sql.NullString
	var alerted, active int64
	err := row.Scan(&b.ID, &b.UserID, &category, &b.Amount.Cents, &b.Month, &b.Year,
		&b.AlertThreshold, &alerted, &active)
	if err != nil {
		return nil, err
	}
	b.CategoryID = category.String
	b.Alerted = alerted != 0
	b.IsActive = active != 0
	return &b, nil
}

func (r *Repository) CreateBudget(ctx context.Context, b core.Budget) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO budgets (id, user_id, category_id, amount_cents, month, year, alert_threshold, alerted, is_active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.UserID, nullable(b.CategoryID), b.Amount.Cents, b.Month, b.Year,
		b.AlertThreshold, b.Alerted, b.IsActive)
	if err != nil {
		return fmt.Errorf("create budget: %w", mapErr(err))
	}
	return nil
}

func (r *Repository) GetBudget(ctx context.Context, userID, id string) (*core.Budget, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+budgetColumns+` FROM budgets WHERE id = ? AND user_id = ? AND is_active = 1`,
		id, userID)
	b, err := scanBudget(row)
	if err != nil {
		return nil, fmt.Errorf("get budget: %w", mapErr(err))
	}
	return b, nil
}

// ListMatchingBudgets returns the active budgets whose period contains d and
// that a transaction with the given direct link and category would count
// against.
func (r *Repository) ListMatchingBudgets(ctx context.Context, userID string, d core.Date, budgetID, categoryID string) ([]core.Budget, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+budgetColumns+` FROM budgets
		 WHERE user_id = ? AND month = ? AND year = ? AND is_active = 1
		   AND (id = ? OR (category_id IS NOT NULL AND category_id = ?))`,
		userID, int(d.Month()), d.Year(), budgetID, categoryID)
	if err != nil {
		return nil, fmt.Errorf("list matching budgets: %w", mapErr(err))
	}
	defer rows.Close()

	var out []core.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("list matching budgets: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// SetBudgetAlerted records whether the threshold alert has fired for the
// budget's current period, so alerts stay edge-triggered.
func (r *Repository) SetBudgetAlerted(ctx context.Context, userID, id string, alerted bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE budgets SET alerted = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND user_id = ?`,
		alerted, id, userID)
	if err != nil {
		return fmt.Errorf("set budget alerted: %w", mapErr(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("budget %s: %w", id, core.ErrNotFound)
	}
	return nil
}
