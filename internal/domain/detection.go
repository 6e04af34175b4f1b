package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ReasonNoRule is the fraud_reason reported when nothing matched.
const ReasonNoRule = "no rule triggered"

// Source identifies what produced a verdict: "rule:<id>", "model" or nothing.
// The empty Source encodes as JSON null.
type Source string

// SourceModel marks a verdict produced by the fallback model.
const SourceModel Source = "model"

// RuleSource returns the source tag for a rule.
func RuleSource(ruleID string) Source {
	return Source("rule:" + ruleID)
}

// RuleID extracts the rule id from a rule source, or "" for other sources.
func (s Source) RuleID() string {
	id, ok := strings.CutPrefix(string(s), "rule:")
	if !ok {
		return ""
	}
	return id
}

func (s Source) MarshalJSON() ([]byte, error) {
	if s == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(s))
}

func (s *Source) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = ""
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = Source(v)
	return nil
}

// DetectionResult is the verdict for one transaction. Immutable once emitted.
type DetectionResult struct {
	TransactionID  string    `json:"transaction_id"`
	IsFraud        bool      `json:"is_fraud"`
	FraudScore     float64   `json:"fraud_score"`
	FraudReason    string    `json:"fraud_reason"`
	FraudSource    Source    `json:"fraud_source"`
	MatchedRuleIDs []string  `json:"matched_rule_ids"`
	RuleVersion    uint64    `json:"rule_version"`
	Warnings       []string  `json:"warnings,omitempty"`
	EvaluatedAt    time.Time `json:"evaluated_at"`
}

// FraudReport is ground truth submitted after the fact.
type FraudReport struct {
	TransactionID     string    `json:"transaction_id"`
	ReportingEntityID string    `json:"reporting_entity_id"`
	FraudDetails      string    `json:"fraud_details,omitempty"`
	IsFraud           *bool     `json:"is_fraud,omitempty"`
	ReportedAt        time.Time `json:"reported_at"`
}

// Fraudulent reports the ground-truth label. Reports default to fraud;
// is_fraud=false confirms a transaction as legitimate.
func (r *FraudReport) Fraudulent() bool {
	return r.IsFraud == nil || *r.IsFraud
}

// Validate checks required fields.
func (r *FraudReport) Validate() error {
	var missing []string
	if strings.TrimSpace(r.TransactionID) == "" {
		missing = append(missing, "transaction_id")
	}
	if strings.TrimSpace(r.ReportingEntityID) == "" {
		missing = append(missing, "reporting_entity_id")
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing, Reason: "required field missing"}
	}
	return nil
}

// Failure codes carried by Ack.
const (
	AckOK             = 0
	AckMissingField   = 1
	AckInternalFailed = 2
)

// Ack acknowledges a fraud report.
type Ack struct {
	TransactionID string `json:"transaction_id"`
	Acknowledged  bool   `json:"acknowledged"`
	FailureCode   int    `json:"failure_code"`
}

// EvaluationRecord joins a verdict with its transaction's dimensions and the
// reported ground truth. Reported is nil when no report exists.
type EvaluationRecord struct {
	TransactionID string          `json:"transaction_id"`
	Date          *time.Time      `json:"transaction_date,omitempty"`
	Amount        decimal.Decimal `json:"transaction_amount"`
	Channel       string          `json:"transaction_channel"`
	PaymentMode   string          `json:"transaction_payment_mode"`
	GatewayBank   string          `json:"payment_gateway_bank,omitempty"`
	PayeeID       string          `json:"payee_id"`
	PayerEmail    string          `json:"payer_email,omitempty"`
	Predicted     bool            `json:"is_fraud_predicted"`
	FraudScore    float64         `json:"fraud_score"`
	FraudSource   Source          `json:"fraud_source"`
	Reported      *bool           `json:"is_fraud_reported"`
}

// ModelVerdict is the answer of the fallback model scorer.
type ModelVerdict struct {
	IsFraud bool    `json:"is_fraud"`
	Score   float64 `json:"score"`
	Reason  string  `json:"reason"`
}
