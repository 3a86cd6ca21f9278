package core

// Effect returns the signed balance contribution of a transaction state.
// A transaction contributes nothing unless it is completed and active;
// income adds its amount, while expenses, investments and outgoing transfers
// subtract it.
func Effect(t *Transaction) Money {
	if t == nil || t.Status != Completed || !t.IsActive {
		return Money{}
	}
	switch t.Kind {
	case Income:
		return t.Amount
	case Expense, Transfer, Investment:
		return t.Amount.Neg()
	default:
		return Money{}
	}
}

// EffectDelta returns the balance adjustment needed when a transaction moves
// from one state to another. Either side may be nil (create or delete).
func EffectDelta(prev, next *Transaction) Money {
	return Effect(next).Add(Effect(prev).Neg())
}
