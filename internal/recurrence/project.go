package recurrence

import (
	"tally/internal/core"
)

// Project maps the expanded occurrence dates of rule onto the transactions
// that already exist for it. An occurrence takes the status of a matching
// transaction dated exactly on that day; without one it is pending. The
// projection is read-only: deciding what should exist is kept separate from
// materializing it.
func Project(rule core.RecurrenceRule, windowStart, windowEnd core.Date, existing []core.Transaction) ([]core.Occurrence, error) {
	dates, err := Expand(rule, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}

	byDay := make(map[string]core.TransactionStatus, len(existing))
	for _, t := range existing {
		if t.RuleID != rule.ID || !t.IsActive {
			continue
		}
		// A completed materialization wins over other statuses on the
		// same day.
		if cur, ok := byDay[t.Date.Key()]; ok && cur == core.Completed {
			continue
		}
		byDay[t.Date.Key()] = t.Status
	}

	out := make([]core.Occurrence, len(dates))
	for i, d := range dates {
		status := core.Pending
		if s, ok := byDay[d.Key()]; ok {
			status = s
		}
		out[i] = core.Occurrence{RuleID: rule.ID, Date: d, Status: status}
	}
	return out, nil
}

// MonthlyCommitment normalizes a rule's amount to a per-month figure for
// reporting: daily rules count 30 days, weekly rules 4 weeks and yearly
// rules a twelfth. These factors are deliberate approximations carried over
// from the reporting contract, not calendar-accurate counts.
func MonthlyCommitment(rule core.RecurrenceRule) (core.Money, error) {
	switch rule.Frequency {
	case core.Daily:
		return rule.Amount.MulInt(30), nil
	case core.Weekly:
		return rule.Amount.MulInt(4), nil
	case core.Monthly:
		return rule.Amount, nil
	case core.Yearly:
		return rule.Amount.DivInt(12), nil
	default:
		return core.Money{}, core.ValidationError{Field: "frequency", Reason: "unknown frequency"}
	}
}
