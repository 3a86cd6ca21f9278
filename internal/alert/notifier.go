// Package alert defines the fire-and-forget notification channel used when
// a budget crosses its alert threshold. Delivery is best-effort; a failed
// dispatch never affects the write that triggered it.
package alert

import (
	"context"

	"tally/internal/core"
	"tally/internal/log"
)

// Alert describes one threshold crossing for a budget period.
type Alert struct {
	UserID     string
	BudgetID   string
	Month      int
	Year       int
	Threshold  int
	Percentage int
	Used       core.Money
	Limit      core.Money
}

// Notifier dispatches alerts to an external notification channel.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// LogNotifier writes alerts to the structured log. It stands in when no
// message broker is configured.
type LogNotifier struct {
	logger *log.Logger
}

func NewLogNotifier(logger *log.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.WithComponent(log.ComponentAlert)}
}

func (n *LogNotifier) Notify(ctx context.Context, a Alert) error {
	n.logger.WarnContext(ctx, "Budget threshold exceeded",
		log.FieldUserID, a.UserID,
		log.FieldBudgetID, a.BudgetID,
		log.FieldMonth, a.Month,
		log.FieldYear, a.Year,
		log.FieldPercentage, a.Percentage,
		"threshold", a.Threshold,
		"used", a.Used.String(),
		"limit", a.Limit.String())
	return nil
}
