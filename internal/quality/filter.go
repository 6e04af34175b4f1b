package quality

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/opensource-finance/harrier/internal/domain"
)

var filterEnv *cel.Env

func init() {
	env, err := cel.NewEnv(
		cel.Variable("transaction_id", cel.StringType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("payment_mode", cel.StringType),
		cel.Variable("gateway_bank", cel.StringType),
		cel.Variable("payee_id", cel.StringType),
		cel.Variable("payer_email", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("score", cel.DoubleType),
		cel.Variable("source", cel.StringType),
		cel.Variable("predicted", cel.BoolType),
		cel.Variable("reported", cel.BoolType),
		cel.Variable("has_report", cel.BoolType),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create CEL environment: %v", err))
	}
	filterEnv = env
}

// Filter is a compiled CEL predicate over evaluation records, e.g.
// `channel == "web" && amount > 5000.0 && !predicted`.
type Filter struct {
	expr    string
	program cel.Program
}

// NewFilter compiles a boolean CEL expression.
func NewFilter(expr string) (*Filter, error) {
	ast, issues := filterEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, &domain.ValidationError{
			Fields: []string{"filter"},
			Reason: fmt.Sprintf("failed to compile filter: %v", issues.Err()),
		}
	}
	if ast.OutputType() != cel.BoolType {
		return nil, &domain.ValidationError{
			Fields: []string{"filter"},
			Reason: fmt.Sprintf("filter must return bool, got %s", ast.OutputType()),
		}
	}
	program, err := filterEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create filter program: %w", err)
	}
	return &Filter{expr: expr, program: program}, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	return f.expr
}

// Match evaluates the filter against one record.
func (f *Filter) Match(r *domain.EvaluationRecord) (bool, error) {
	reported := r.Reported != nil && *r.Reported
	out, _, err := f.program.Eval(map[string]any{
		"transaction_id": r.TransactionID,
		"channel":        r.Channel,
		"payment_mode":   r.PaymentMode,
		"gateway_bank":   r.GatewayBank,
		"payee_id":       r.PayeeID,
		"payer_email":    r.PayerEmail,
		"amount":         r.Amount.InexactFloat64(),
		"score":          r.FraudScore,
		"source":         string(r.FraudSource),
		"predicted":      r.Predicted,
		"reported":       reported,
		"has_report":     r.Reported != nil,
	})
	if err != nil {
		return false, &domain.ValidationError{
			Fields: []string{"filter"},
			Reason: fmt.Sprintf("failed to evaluate filter for %s: %v", r.TransactionID, err),
		}
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter returned %T, want bool", out.Value())
	}
	return b, nil
}

// Criteria selects records for listings and analytics.
type Criteria struct {
	Search string
	From   *time.Time
	To     *time.Time
	Payer  string
	Payee  string
	Filter *Filter
}

// Apply returns the records matching every set criterion, preserving order.
// A date range excludes records without a date. To is inclusive of the whole
// day when it has no time component.
func (c *Criteria) Apply(records []domain.EvaluationRecord) ([]domain.EvaluationRecord, error) {
	search := strings.ToLower(strings.TrimSpace(c.Search))
	payer := strings.ToLower(strings.TrimSpace(c.Payer))
	payee := strings.TrimSpace(c.Payee)

	var to time.Time
	if c.To != nil {
		to = *c.To
		if to.Equal(Day.Start(to)) {
			to = to.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
	}

	out := make([]domain.EvaluationRecord, 0, len(records))
	for i := range records {
		r := &records[i]
		if search != "" && !strings.Contains(strings.ToLower(r.TransactionID), search) {
			continue
		}
		if payer != "" && !strings.Contains(strings.ToLower(r.PayerEmail), payer) {
			continue
		}
		if payee != "" && r.PayeeID != payee {
			continue
		}
		if c.From != nil || c.To != nil {
			if r.Date == nil {
				continue
			}
			if c.From != nil && r.Date.Before(*c.From) {
				continue
			}
			if c.To != nil && r.Date.After(to) {
				continue
			}
		}
		if c.Filter != nil {
			ok, err := c.Filter.Match(r)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out = append(out, *r)
	}
	return out, nil
}
