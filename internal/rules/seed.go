package rules

import "github.com/opensource-finance/harrier/internal/domain"

// SeedRules returns the starter rule set installed into an empty store.
func SeedRules() []domain.RuleDraft {
	return []domain.RuleDraft{
		draft("Large Amount Transaction", "Flags transactions above 10000.",
			domain.Condition{All: []domain.Condition{
				{Fact: "transaction_amount", Operator: "greaterThan", Value: 10000.0},
			}},
			"Transaction amount exceeds threshold", 0.7, 10, true),
		draft("Unusual Device and Browser", "Unknown device paired with an outdated browser.",
			domain.Condition{All: []domain.Condition{
				{Fact: "payer_device", Operator: "contains", Value: "unknown"},
				{Fact: "payer_browser", Operator: "contains", Value: "outdated"},
			}},
			"Suspicious device and browser combination", 0.8, 5, true),
		draft("Multiple Web Card Transactions", "Card payments through the web channel.",
			domain.Condition{All: []domain.Condition{
				{Fact: "transaction_channel", Operator: "equal", Value: "web"},
				{Fact: "transaction_payment_mode", Operator: "equal", Value: "card"},
			}},
			"Multiple card transactions through web channel", 0.5, 3, false),
	}
}

func draft(name, description string, cond domain.Condition, message string, score float64, priority int, active bool) domain.RuleDraft {
	eventType := domain.EventFraud
	p := float64(priority)
	d := domain.RuleDraft{
		Name:        &name,
		Description: &description,
		Conditions:  &cond,
		Event:       &domain.EventDraft{Type: &eventType},
		Priority:    &p,
		Active:      &active,
	}
	d.Event.Params.Message = &message
	d.Event.Params.Score = &score
	return d
}
