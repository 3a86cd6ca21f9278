package amqp

import (
	"encoding/json"
	"time"
)

// BudgetRecomputeMessage asks the budget worker to recompute one budget's
// usage. It carries only identifiers; the worker reads current state from
// the database, which keeps recomputes idempotent and order-independent.
type BudgetRecomputeMessage struct {
	UserID    string    `json:"user_id"`
	BudgetID  string    `json:"budget_id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewBudgetRecomputeMessage(userID, budgetID string) *BudgetRecomputeMessage {
	return &BudgetRecomputeMessage{
		UserID:    userID,
		BudgetID:  budgetID,
		Timestamp: time.Now(),
	}
}

func (m *BudgetRecomputeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func BudgetRecomputeMessageFromJSON(data []byte) (*BudgetRecomputeMessage, error) {
	var msg BudgetRecomputeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// BudgetAlertMessage is the wire form of a threshold alert handed to the
// external notification channel.
type BudgetAlertMessage struct {
	UserID     string    `json:"user_id"`
	BudgetID   string    `json:"budget_id"`
	Month      int       `json:"month"`
	Year       int       `json:"year"`
	Threshold  int       `json:"threshold"`
	Percentage int       `json:"percentage"`
	UsedCents  int64     `json:"used_cents"`
	LimitCents int64     `json:"limit_cents"`
	Timestamp  time.Time `json:"timestamp"`
}

func (m *BudgetAlertMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
