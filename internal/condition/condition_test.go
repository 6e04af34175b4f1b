package condition

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/harrier/internal/domain"
)

func mustCompile(t *testing.T, raw string) Node {
	t.Helper()
	var c domain.Condition
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		t.Fatalf("failed to decode condition: %v", err)
	}
	n, err := Compile(c)
	if err != nil {
		t.Fatalf("failed to compile condition: %v", err)
	}
	return n
}

func TestCompileRejectsMalformedTrees(t *testing.T) {
	cases := map[string]string{
		"leaf at root":      `{"fact":"transaction_amount","operator":"greaterThan","value":1}`,
		"unknown operator":  `{"all":[{"fact":"transaction_amount","operator":"bigger","value":1}]}`,
		"empty group":       `{"all":[]}`,
		"both all and any":  `{"all":[{"fact":"a","operator":"equal","value":1}],"any":[{"fact":"a","operator":"equal","value":1}]}`,
		"missing fact":      `{"all":[{"operator":"equal","value":1}]}`,
		"missing value":     `{"all":[{"fact":"a","operator":"equal"}]}`,
		"in needs list":     `{"all":[{"fact":"a","operator":"in","value":"web"}]}`,
		"numeric op string": `{"all":[{"fact":"a","operator":"greaterThan","value":"lots"}]}`,
		"object literal":    `{"all":[{"fact":"a","operator":"equal","value":{"x":1}}]}`,
		"mixed group leaf":  `{"all":[{"fact":"a","operator":"equal","value":1}],"fact":"b"}`,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			var c domain.Condition
			if err := json.Unmarshal([]byte(raw), &c); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			_, err := Compile(c)
			var se *domain.StructuralError
			if !errors.As(err, &se) {
				t.Fatalf("expected StructuralError, got %v", err)
			}
		})
	}
}

func TestCompileDepthLimit(t *testing.T) {
	c := domain.Condition{All: []domain.Condition{{Fact: "a", Operator: "equal", Value: 1.0}}}
	for i := 0; i < MaxDepth; i++ {
		c = domain.Condition{Any: []domain.Condition{c}}
	}

	_, err := Compile(c)
	var se *domain.StructuralError
	if !errors.As(err, &se) {
		t.Fatalf("expected StructuralError for deep tree, got %v", err)
	}
	if !strings.Contains(se.Reason, "nesting") {
		t.Errorf("unexpected reason: %s", se.Reason)
	}
}

func TestStructuralErrorPath(t *testing.T) {
	var c domain.Condition
	json.Unmarshal([]byte(`{"all":[{"fact":"a","operator":"equal","value":1},{"any":[{"fact":"b","operator":"nope","value":1}]}]}`), &c)

	_, err := Compile(c)
	var se *domain.StructuralError
	if !errors.As(err, &se) {
		t.Fatalf("expected StructuralError, got %v", err)
	}
	if se.Path != "conditions.all[1].any[0]" {
		t.Errorf("expected path conditions.all[1].any[0], got %s", se.Path)
	}
}

func TestEvaluateOperators(t *testing.T) {
	facts := Facts{
		"transaction_amount":  decimal.NewFromInt(12000),
		"transaction_channel": "web",
		"payer_device":        "unknown-android",
		"numeric_text":        "250.50",
		"is_new_payer":        true,
		"tags":                []string{"vip", "returning"},
	}

	tests := []struct {
		name string
		cond string
		want bool
	}{
		{"greaterThan true", `{"all":[{"fact":"transaction_amount","operator":"greaterThan","value":10000}]}`, true},
		{"greaterThan equal boundary", `{"all":[{"fact":"transaction_amount","operator":"greaterThan","value":12000}]}`, false},
		{"greaterThanInclusive boundary", `{"all":[{"fact":"transaction_amount","operator":"greaterThanInclusive","value":12000}]}`, true},
		{"lessThan", `{"all":[{"fact":"transaction_amount","operator":"lessThan","value":12000.01}]}`, true},
		{"lessThanInclusive", `{"all":[{"fact":"transaction_amount","operator":"lessThanInclusive","value":11999}]}`, false},
		{"numeric string fact", `{"all":[{"fact":"numeric_text","operator":"greaterThan","value":250}]}`, true},
		{"numeric string literal", `{"all":[{"fact":"transaction_amount","operator":"greaterThan","value":"10000"}]}`, true},
		{"equal string", `{"all":[{"fact":"transaction_channel","operator":"equal","value":"web"}]}`, true},
		{"equal is case sensitive", `{"all":[{"fact":"transaction_channel","operator":"equal","value":"WEB"}]}`, false},
		{"equal number vs numeric string", `{"all":[{"fact":"numeric_text","operator":"equal","value":250.5}]}`, true},
		{"equal number vs text", `{"all":[{"fact":"transaction_channel","operator":"equal","value":1}]}`, false},
		{"equal bool", `{"all":[{"fact":"is_new_payer","operator":"equal","value":true}]}`, true},
		{"equal bool vs string", `{"all":[{"fact":"is_new_payer","operator":"equal","value":"true"}]}`, false},
		{"notEqual", `{"all":[{"fact":"transaction_channel","operator":"notEqual","value":"mobile"}]}`, true},
		{"contains substring", `{"all":[{"fact":"payer_device","operator":"contains","value":"unknown"}]}`, true},
		{"contains list membership", `{"all":[{"fact":"tags","operator":"contains","value":"vip"}]}`, true},
		{"contains list miss", `{"all":[{"fact":"tags","operator":"contains","value":"new"}]}`, false},
		{"in", `{"all":[{"fact":"transaction_channel","operator":"in","value":["web","mobile"]}]}`, true},
		{"in numeric", `{"all":[{"fact":"transaction_amount","operator":"in","value":[100,12000]}]}`, true},
		{"notIn", `{"all":[{"fact":"transaction_channel","operator":"notIn","value":["pos","atm"]}]}`, true},
		{"notIn hit", `{"all":[{"fact":"transaction_channel","operator":"notIn","value":["web"]}]}`, false},
		{"any", `{"any":[{"fact":"transaction_channel","operator":"equal","value":"pos"},{"fact":"payer_device","operator":"contains","value":"android"}]}`, true},
		{"nested", `{"all":[{"fact":"transaction_amount","operator":"greaterThan","value":1},{"any":[{"fact":"transaction_channel","operator":"equal","value":"pos"},{"fact":"transaction_channel","operator":"equal","value":"web"}]}]}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := mustCompile(t, tt.cond)
			if got := Evaluate(n, facts, nil); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestEvaluateMissingFact(t *testing.T) {
	facts := Facts{"transaction_channel": "web"}

	for _, op := range []string{"equal", "notEqual", "contains", "greaterThan"} {
		t.Run(op, func(t *testing.T) {
			n := mustCompile(t, `{"all":[{"fact":"payer_device","operator":"`+op+`","value":"1"}]}`)
			var w Warnings
			if Evaluate(n, facts, &w) {
				t.Error("missing fact must evaluate to false")
			}
			if len(w) != 1 || !strings.Contains(w[0], "payer_device") {
				t.Errorf("expected one warning naming the fact, got %v", w)
			}
		})
	}

	t.Run("notIn", func(t *testing.T) {
		n := mustCompile(t, `{"all":[{"fact":"payer_device","operator":"notIn","value":["x"]}]}`)
		if Evaluate(n, facts, nil) {
			t.Error("missing fact must evaluate to false even for notIn")
		}
	})
}

func TestEvaluateTypeMismatchWarns(t *testing.T) {
	n := mustCompile(t, `{"all":[{"fact":"transaction_channel","operator":"greaterThan","value":5}]}`)
	var w Warnings
	if Evaluate(n, Facts{"transaction_channel": "web"}, &w) {
		t.Error("non-numeric fact must not satisfy greaterThan")
	}
	if len(w) != 1 {
		t.Errorf("expected 1 warning, got %v", w)
	}
}

func TestEvaluateShortCircuit(t *testing.T) {
	facts := Facts{"a": "x"}

	t.Run("all stops at first false", func(t *testing.T) {
		n := mustCompile(t, `{"all":[{"fact":"a","operator":"equal","value":"y"},{"fact":"missing","operator":"equal","value":"z"}]}`)
		var w Warnings
		Evaluate(n, facts, &w)
		if len(w) != 0 {
			t.Errorf("second leaf should not run, got warnings %v", w)
		}
	})

	t.Run("any stops at first true", func(t *testing.T) {
		n := mustCompile(t, `{"any":[{"fact":"a","operator":"equal","value":"x"},{"fact":"missing","operator":"equal","value":"z"}]}`)
		var w Warnings
		if !Evaluate(n, facts, &w) {
			t.Error("expected true")
		}
		if len(w) != 0 {
			t.Errorf("second leaf should not run, got warnings %v", w)
		}
	})
}

func TestToConditionRoundTrip(t *testing.T) {
	raw := `{"all":[{"fact":"transaction_amount","operator":"greaterThan","value":0},{"any":[{"fact":"transaction_channel","operator":"in","value":["web","app"]}]}]}`
	n := mustCompile(t, raw)

	c := ToCondition(n)
	again, err := Compile(c)
	if err != nil {
		t.Fatalf("recompile failed: %v", err)
	}

	facts := Facts{"transaction_amount": decimal.NewFromInt(5), "transaction_channel": "app"}
	if Evaluate(n, facts, nil) != Evaluate(again, facts, nil) {
		t.Error("round-tripped tree evaluates differently")
	}

	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"value":0`) {
		t.Errorf("zero literal lost in %s", data)
	}
}

func TestFactsListed(t *testing.T) {
	n := mustCompile(t, `{"all":[{"fact":"a","operator":"equal","value":1},{"any":[{"fact":"b","operator":"equal","value":1},{"fact":"a","operator":"equal","value":2}]}]}`)
	got := FactNames(n)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("expected [a b], got %v", got)
	}
}
