package condition

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Facts maps fact names to values. Values are strings, bools, numbers
// (including decimal.Decimal) or lists of those.
type Facts map[string]any

// Warnings collects non-fatal evaluation diagnostics. A nil *Warnings
// discards them.
type Warnings []string

func (w *Warnings) add(format string, args ...any) {
	if w == nil {
		return
	}
	*w = append(*w, fmt.Sprintf(format, args...))
}

// Evaluate reports whether the facts satisfy the tree. It never fails:
// missing facts and type mismatches make the leaf false and are recorded
// in w.
func Evaluate(n Node, facts Facts, w *Warnings) bool {
	switch x := n.(type) {
	case *Group:
		return evalGroup(x, facts, w)
	case *Leaf:
		return evalLeaf(x, facts, w)
	}
	return false
}

func evalGroup(g *Group, facts Facts, w *Warnings) bool {
	if g.Mode == Any {
		for _, child := range g.Children {
			if Evaluate(child, facts, w) {
				return true
			}
		}
		return false
	}
	for _, child := range g.Children {
		if !Evaluate(child, facts, w) {
			return false
		}
	}
	return true
}

func evalLeaf(l *Leaf, facts Facts, w *Warnings) bool {
	v, ok := facts[l.Fact]
	if !ok || v == nil {
		w.add("fact %q missing for %s", l.Fact, l.Op)
		return false
	}

	switch l.Op {
	case Equal:
		return equal(v, l.Value)
	case NotEqual:
		return !equal(v, l.Value)
	case GreaterThan, GreaterThanInclusive, LessThan, LessThanInclusive:
		n, ok := toNumber(v)
		if !ok {
			w.add("fact %q is not numeric for %s", l.Fact, l.Op)
			return false
		}
		return compareNumbers(l.Op, n.Cmp(l.Value.num))
	case Contains:
		return contains(l, v, w)
	case In, NotIn:
		if isList(v) {
			w.add("fact %q is a list, %s needs a scalar", l.Fact, l.Op)
			return false
		}
		found := false
		for _, lit := range l.List {
			if equal(v, lit) {
				found = true
				break
			}
		}
		return found == (l.Op == In)
	}
	return false
}

func compareNumbers(op Operator, cmp int) bool {
	switch op {
	case GreaterThan:
		return cmp > 0
	case GreaterThanInclusive:
		return cmp >= 0
	case LessThan:
		return cmp < 0
	case LessThanInclusive:
		return cmp <= 0
	}
	return false
}

func contains(l *Leaf, v any, w *Warnings) bool {
	if s, ok := v.(string); ok {
		return strings.Contains(s, l.Value.text())
	}
	if items, ok := asList(v); ok {
		for _, item := range items {
			if equal(item, l.Value) {
				return true
			}
		}
		return false
	}
	w.add("fact %q is neither text nor a list for contains", l.Fact)
	return false
}

// equal compares a fact with a literal. Numbers and numeric strings are
// compared numerically when at least one side is a number; everything else
// needs matching types.
func equal(v any, lit Literal) bool {
	switch x := v.(type) {
	case string:
		switch lit.kind {
		case kindString:
			return x == lit.str
		case kindNumber:
			n, ok := parseNumeric(x)
			return ok && n.Equal(lit.num)
		}
		return false
	case bool:
		return lit.kind == kindBool && x == lit.b
	}

	n, ok := toDecimal(v)
	if !ok || !lit.numeric {
		return false
	}
	return n.Equal(lit.num)
}

// toNumber accepts numbers and numeric strings.
func toNumber(v any) (decimal.Decimal, bool) {
	if s, ok := v.(string); ok {
		return parseNumeric(s)
	}
	return toDecimal(v)
}

func parseNumeric(s string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	return d, err == nil
}

func isList(v any) bool {
	_, ok := asList(v)
	return ok
}

func asList(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case []string:
		items := make([]any, len(x))
		for i, s := range x {
			items[i] = s
		}
		return items, true
	}
	return nil, false
}
