package tadp

import (
	"testing"

	"github.com/opensource-finance/harrier/internal/domain"
)

func TestProcessor(t *testing.T) {
	proc := NewProcessor()

	t.Run("NoMatch", func(t *testing.T) {
		result := proc.Process(&DecisionInput{TxID: "tx-001", RuleVersion: 3})

		if result.IsFraud {
			t.Error("expected not fraud")
		}
		if result.FraudScore != 0 {
			t.Errorf("expected score 0, got %.2f", result.FraudScore)
		}
		if result.FraudReason != domain.ReasonNoRule {
			t.Errorf("expected %q, got %q", domain.ReasonNoRule, result.FraudReason)
		}
		if result.FraudSource != "" {
			t.Errorf("expected empty source, got %q", result.FraudSource)
		}
		if result.MatchedRuleIDs == nil || len(result.MatchedRuleIDs) != 0 {
			t.Errorf("expected empty non-nil matched ids, got %#v", result.MatchedRuleIDs)
		}
		if result.RuleVersion != 3 {
			t.Errorf("expected rule version 3, got %d", result.RuleVersion)
		}
	})

	t.Run("MaxScoreFirstReason", func(t *testing.T) {
		result := proc.Process(&DecisionInput{
			TxID: "tx-002",
			Matches: []Match{
				{RuleID: "a", EventType: domain.EventFraud, Message: "A", Score: 0.4},
				{RuleID: "b", EventType: domain.EventFraud, Message: "B", Score: 0.9},
			},
		})

		if !result.IsFraud {
			t.Error("expected fraud")
		}
		if result.FraudScore != 0.9 {
			t.Errorf("expected max score 0.9, got %.2f", result.FraudScore)
		}
		if result.FraudReason != "A" {
			t.Errorf("expected reason from first match, got %q", result.FraudReason)
		}
		if result.FraudSource != "rule:a" {
			t.Errorf("expected rule:a, got %q", result.FraudSource)
		}
		if len(result.MatchedRuleIDs) != 2 || result.MatchedRuleIDs[0] != "a" {
			t.Errorf("unexpected matched ids %v", result.MatchedRuleIDs)
		}
	})

	t.Run("ReviewOnly", func(t *testing.T) {
		result := proc.Process(&DecisionInput{
			TxID:    "tx-003",
			Matches: []Match{{RuleID: "r", EventType: "review", Message: "check", Score: 0.3}},
			Model:   &domain.ModelVerdict{IsFraud: true, Score: 1},
		})

		if result.IsFraud {
			t.Error("review events must not flag fraud")
		}
		if result.FraudScore != 0.3 || result.FraudSource != "rule:r" {
			t.Errorf("unexpected result %+v", result)
		}
	})

	t.Run("FraudWinsOverEarlierReview", func(t *testing.T) {
		result := proc.Process(&DecisionInput{
			TxID: "tx-004",
			Matches: []Match{
				{RuleID: "r", EventType: "review", Message: "check", Score: 0.95},
				{RuleID: "f", EventType: domain.EventFraud, Message: "fraud", Score: 0.6},
			},
		})

		if !result.IsFraud || result.FraudScore != 0.6 || result.FraudReason != "fraud" {
			t.Errorf("unexpected result %+v", result)
		}
		if FlaggingRule(result) != "f" {
			t.Errorf("expected flagging rule f, got %q", FlaggingRule(result))
		}
	})

	t.Run("ModelFallback", func(t *testing.T) {
		result := proc.Process(&DecisionInput{
			TxID:  "tx-005",
			Model: &domain.ModelVerdict{IsFraud: true, Score: 1.7, Reason: "anomalous"},
		})

		if !result.IsFraud || result.FraudSource != domain.SourceModel {
			t.Errorf("unexpected result %+v", result)
		}
		if result.FraudScore != 1 {
			t.Errorf("model score must be clamped to 1, got %.2f", result.FraudScore)
		}
		if FlaggingRule(result) != "" {
			t.Error("model verdicts have no flagging rule")
		}
	})
}
