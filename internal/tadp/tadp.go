// Package tadp implements the Transaction Aggregated Decision Processor.
// TADP folds the rules that matched a transaction into a single verdict.
package tadp

import (
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Match is one rule whose conditions held, in evaluation order.
type Match struct {
	RuleID    string
	EventType string
	Message   string
	Score     float64
}

// DecisionInput contains all data needed for a decision.
type DecisionInput struct {
	TxID        string
	RuleVersion uint64
	Matches     []Match

	// Model is the fallback verdict, consulted only when nothing matched.
	Model *domain.ModelVerdict

	Warnings []string
}

// Processor aggregates matches into a DetectionResult.
type Processor struct {
	now func() time.Time
}

// NewProcessor creates a new TADP processor.
func NewProcessor() *Processor {
	return &Processor{now: time.Now}
}

// Process applies the aggregation policy:
//   - a verdict is fraud iff some matched rule has a fraud event;
//   - its score is the maximum fraud score, and the reason and source come
//     from the first matched fraud rule;
//   - non-fraud matches report their maximum score and first reason without
//     flagging the transaction;
//   - with no match the model verdict is used when present.
func (p *Processor) Process(input *DecisionInput) *domain.DetectionResult {
	result := &domain.DetectionResult{
		TransactionID:  input.TxID,
		RuleVersion:    input.RuleVersion,
		MatchedRuleIDs: make([]string, 0, len(input.Matches)),
		Warnings:       input.Warnings,
		EvaluatedAt:    p.now().UTC(),
	}

	var firstFraud, firstAny *Match
	fraudScore, anyScore := 0.0, 0.0
	for i := range input.Matches {
		m := &input.Matches[i]
		result.MatchedRuleIDs = append(result.MatchedRuleIDs, m.RuleID)

		if firstAny == nil {
			firstAny = m
		}
		anyScore = max(anyScore, m.Score)

		if m.EventType == domain.EventFraud {
			if firstFraud == nil {
				firstFraud = m
			}
			fraudScore = max(fraudScore, m.Score)
		}
	}

	switch {
	case firstFraud != nil:
		result.IsFraud = true
		result.FraudScore = fraudScore
		result.FraudReason = firstFraud.Message
		result.FraudSource = domain.RuleSource(firstFraud.RuleID)
	case firstAny != nil:
		result.FraudScore = anyScore
		result.FraudReason = firstAny.Message
		result.FraudSource = domain.RuleSource(firstAny.RuleID)
	case input.Model != nil:
		result.IsFraud = input.Model.IsFraud
		result.FraudScore = clamp(input.Model.Score)
		result.FraudReason = input.Model.Reason
		result.FraudSource = domain.SourceModel
	default:
		result.FraudReason = domain.ReasonNoRule
	}

	return result
}

func clamp(score float64) float64 {
	return min(max(score, 0), 1)
}

// FlaggingRule returns the rule id that drove a fraud verdict, if any.
func FlaggingRule(result *domain.DetectionResult) string {
	if !result.IsFraud {
		return ""
	}
	return result.FraudSource.RuleID()
}
