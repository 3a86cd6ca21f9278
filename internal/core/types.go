package core

import (
	"time"
)

const (
	Income     TransactionKind = "income"
	Expense    TransactionKind = "expense"
	Transfer   TransactionKind = "transfer"
	Investment TransactionKind = "investment"
)

const (
	Pending   TransactionStatus = "pending"
	Completed TransactionStatus = "completed"
	Failed    TransactionStatus = "failed"
)

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

type (
	TransactionKind   string
	TransactionStatus string
	Frequency         string

	// Date is a calendar day; the time-of-day portion is always UTC midnight.
	Date struct {
		time.Time
	}

	// Account holds a running balance. The balance is only ever mutated by
	// the ledger service, never directly by callers.
	Account struct {
		ID       string
		UserID   string
		Name     string
		Balance  Money
		IsActive bool
	}

	// Transaction is a single ledger entry. Its balance and budget effect is
	// a function of the current (Kind, Status, IsActive) triple only.
	Transaction struct {
		ID          string
		UserID      string
		AccountID   string
		CategoryID  string // optional, empty when unset
		BudgetID    string // optional direct budget link
		RuleID      string // optional, set when materialized from a rule
		Description string
		Amount      Money
		Kind        TransactionKind
		Status      TransactionStatus
		Date        Date
		IsActive    bool
	}

	// RecurrenceRule is the immutable anchor for occurrence-date computation:
	// the start date's weekday, day-of-month and month align every future
	// occurrence for the rule's frequency.
	RecurrenceRule struct {
		ID          string
		UserID      string
		AccountID   string
		CategoryID  string // optional
		Description string
		Amount      Money
		Kind        TransactionKind
		Frequency   Frequency
		StartDate   Date
		EndDate     Date // zero when open-ended
		IsActive    bool
	}

	// Budget caps spending for one (month, year) period, either for a single
	// category or overall when CategoryID is empty. Usage figures are derived
	// from transactions, never stored as source of truth.
	Budget struct {
		ID             string
		UserID         string
		CategoryID     string // empty means overall budget
		Amount         Money
		Month          int // 1-12
		Year           int
		AlertThreshold int  // 0-100
		Alerted        bool // threshold alert already sent this period
		IsActive       bool
	}

	// BudgetUsage is the derived view of a budget for its period.
	BudgetUsage struct {
		Used       Money
		Remaining  Money
		Percentage int
	}

	// Occurrence is one calendar-date instance implied by a recurrence rule.
	// It is a projection, never persisted: Completed when a materialized
	// transaction exists for the (rule, date) pair, otherwise Pending.
	Occurrence struct {
		RuleID string
		Date   Date
		Status TransactionStatus
	}
)

// NewDate builds a Date at UTC midnight.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its UTC calendar day.
func DateOf(t time.Time) Date {
	u := t.UTC()
	return NewDate(u.Year(), int(u.Month()), u.Day())
}

// Key returns the date in ISO form, used as a lookup and storage key.
func (d Date) Key() string {
	return d.Format("2006-01-02")
}

// ParseDate parses an ISO calendar day.
func ParseDate(s string) (Date, error) {
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return Date{}, ValidationError{Field: "date", Reason: "must be YYYY-MM-DD"}
	}
	return Date{Time: t}, nil
}

// PeriodRange returns the first and last day of a (month, year) budget period.
func PeriodRange(month, year int) (Date, Date) {
	start := NewDate(year, month, 1)
	end := Date{Time: start.AddDate(0, 1, -1)}
	return start, end
}

func (k TransactionKind) Valid() bool {
	switch k {
	case Income, Expense, Transfer, Investment:
		return true
	}
	return false
}

func (s TransactionStatus) Valid() bool {
	switch s {
	case Pending, Completed, Failed:
		return true
	}
	return false
}

func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

func (t Transaction) Validate() error {
	if t.AccountID == "" {
		return ValidationError{Field: "accountId", Reason: "required"}
	}
	if !t.Kind.Valid() {
		return ValidationError{Field: "kind", Reason: "unknown transaction kind"}
	}
	if !t.Status.Valid() {
		return ValidationError{Field: "status", Reason: "unknown transaction status"}
	}
	if t.Date.IsZero() {
		return ValidationError{Field: "date", Reason: "required"}
	}
	return t.Amount.Validate()
}

func (r RecurrenceRule) Validate() error {
	if r.AccountID == "" {
		return ValidationError{Field: "accountId", Reason: "required"}
	}
	if !r.Frequency.Valid() {
		return ValidationError{Field: "frequency", Reason: "unknown frequency"}
	}
	if r.StartDate.IsZero() {
		return ValidationError{Field: "startDate", Reason: "required"}
	}
	if !r.EndDate.IsZero() && r.EndDate.Before(r.StartDate.Time) {
		return ValidationError{Field: "endDate", Reason: "before start date"}
	}
	if !r.Kind.Valid() {
		return ValidationError{Field: "kind", Reason: "unknown transaction kind"}
	}
	return r.Amount.Validate()
}

func (b Budget) Validate() error {
	if b.Month < 1 || b.Month > 12 {
		return ValidationError{Field: "month", Reason: "must be 1-12"}
	}
	if b.Year < 1 {
		return ValidationError{Field: "year", Reason: "required"}
	}
	if b.AlertThreshold < 0 || b.AlertThreshold > 100 {
		return ValidationError{Field: "alertThreshold", Reason: "must be 0-100"}
	}
	return b.Amount.Validate()
}

// InPeriod reports whether a calendar day falls inside the budget's period.
func (b Budget) InPeriod(d Date) bool {
	return d.Year() == b.Year && int(d.Month()) == b.Month
}

// Matches reports whether a transaction counts against this budget: an
// expense dated inside the period, linked either directly or via the
// budget's category.
func (b Budget) Matches(t Transaction) bool {
	if t.Kind != Expense || !b.InPeriod(t.Date) {
		return false
	}
	if t.BudgetID == b.ID {
		return true
	}
	return b.CategoryID != "" && t.CategoryID == b.CategoryID
}
