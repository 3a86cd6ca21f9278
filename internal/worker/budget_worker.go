// Package worker runs background processing: budget recompute requests
// consumed from the message queue and the periodic recurrence sweep.
package worker

import (
	"context"
	"errors"
	"fmt"

	"tally/internal/amqp"
	"tally/internal/core"
	"tally/internal/log"
	"tally/internal/services"
)

// BudgetWorker consumes budget recompute messages and rebuilds usage
// figures. Each message is handled independently; errors are wrapped as
// aggregation failures so the broker requeues them for a later retry
// without affecting any transaction write.
type BudgetWorker struct {
	budgets *services.BudgetService
	logger  *log.Logger
}

func NewBudgetWorker(budgets *services.BudgetService, logger *log.Logger) *BudgetWorker {
	return &BudgetWorker{
		budgets: budgets,
		logger:  logger.WithComponent(log.ComponentWorker),
	}
}

// HandleRecompute processes a single recompute message.
func (w *BudgetWorker) HandleRecompute(ctx context.Context, msg *amqp.BudgetRecomputeMessage) error {
	usage, err := w.budgets.RecomputeUsage(ctx, msg.UserID, msg.BudgetID)
	if errors.Is(err, core.ErrNotFound) {
		// Budget removed since the message was queued; nothing to retry.
		w.logger.WarnContext(ctx, "Dropping recompute for missing budget",
			log.FieldBudgetID, msg.BudgetID)
		return nil
	}
	if err != nil {
		return &core.AggregationError{
			BudgetID: msg.BudgetID,
			Err:      fmt.Errorf("recompute usage: %w", err),
		}
	}

	w.logger.InfoContext(ctx, "Budget usage recomputed",
		log.FieldBudgetID, msg.BudgetID,
		log.FieldUserID, msg.UserID,
		log.FieldAmountCents, usage.Used.Cents,
		log.FieldPercentage, usage.Percentage)

	return nil
}
