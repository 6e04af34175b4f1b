// Package condition compiles rule condition trees into a closed typed form
// and evaluates them against a transaction's facts.
package condition

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/harrier/internal/domain"
)

// MaxDepth bounds group nesting.
const MaxDepth = 32

// Node is a compiled condition: *Group or *Leaf.
type Node interface {
	node()
}

// GroupMode selects all/any semantics.
type GroupMode int

const (
	All GroupMode = iota
	Any
)

func (m GroupMode) String() string {
	if m == Any {
		return "any"
	}
	return "all"
}

// Group combines children with all (AND) or any (OR).
type Group struct {
	Mode     GroupMode
	Children []Node
}

func (*Group) node() {}

// Leaf compares one fact with a literal. List is set for in/notIn.
type Leaf struct {
	Fact  string
	Op    Operator
	Value Literal
	List  []Literal
}

func (*Leaf) node() {}

type literalKind int

const (
	kindString literalKind = iota
	kindNumber
	kindBool
)

// Literal is a normalized scalar from a rule definition.
// Numeric strings keep their string kind but also carry the parsed number.
type Literal struct {
	kind    literalKind
	str     string
	num     decimal.Decimal
	numeric bool
	b       bool
}

// IsNumeric reports whether the literal can take part in numeric comparison.
func (l Literal) IsNumeric() bool { return l.numeric }

func (l Literal) text() string {
	switch l.kind {
	case kindNumber:
		return l.num.String()
	case kindBool:
		if l.b {
			return "true"
		}
		return "false"
	default:
		return l.str
	}
}

// Any returns the literal in wire form.
func (l Literal) Any() any {
	switch l.kind {
	case kindNumber:
		return json.Number(l.num.String())
	case kindBool:
		return l.b
	default:
		return l.str
	}
}

// Compile validates a wire condition tree and returns its compiled form.
// The root must be a group.
func Compile(c domain.Condition) (Node, error) {
	if !c.IsGroup() {
		return nil, &domain.StructuralError{Path: "conditions", Reason: "root must be an all or any group"}
	}
	return compile(c, "conditions", 1)
}

func compile(c domain.Condition, path string, depth int) (Node, error) {
	if depth > MaxDepth {
		return nil, &domain.StructuralError{Path: path, Reason: fmt.Sprintf("nesting deeper than %d", MaxDepth)}
	}

	if c.IsGroup() {
		return compileGroup(c, path, depth)
	}
	return compileLeaf(c, path)
}

func compileGroup(c domain.Condition, path string, depth int) (Node, error) {
	if c.All != nil && c.Any != nil {
		return nil, &domain.StructuralError{Path: path, Reason: "node has both all and any"}
	}
	if c.Fact != "" || c.Operator != "" || c.Value != nil {
		return nil, &domain.StructuralError{Path: path, Reason: "group node mixes leaf keys"}
	}

	g := &Group{Mode: All}
	children := c.All
	if c.Any != nil {
		g.Mode = Any
		children = c.Any
	}
	if len(children) == 0 {
		return nil, &domain.StructuralError{Path: path, Reason: fmt.Sprintf("empty %s group", g.Mode)}
	}

	g.Children = make([]Node, 0, len(children))
	for i, child := range children {
		n, err := compile(child, fmt.Sprintf("%s.%s[%d]", path, g.Mode, i), depth+1)
		if err != nil {
			return nil, err
		}
		g.Children = append(g.Children, n)
	}
	return g, nil
}

func compileLeaf(c domain.Condition, path string) (Node, error) {
	fact := strings.TrimSpace(c.Fact)
	if fact == "" {
		return nil, &domain.StructuralError{Path: path, Reason: "leaf requires a fact"}
	}
	op, ok := ParseOperator(c.Operator)
	if !ok {
		return nil, &domain.StructuralError{Path: path, Reason: fmt.Sprintf("unknown operator %q", c.Operator)}
	}
	if c.Value == nil {
		return nil, &domain.StructuralError{Path: path, Reason: "leaf requires a value"}
	}

	leaf := &Leaf{Fact: fact, Op: op}

	if op.takesList() {
		items, ok := c.Value.([]any)
		if !ok {
			return nil, &domain.StructuralError{Path: path, Reason: fmt.Sprintf("%s requires a list value", op)}
		}
		leaf.List = make([]Literal, 0, len(items))
		for i, item := range items {
			lit, err := newLiteral(item)
			if err != nil {
				return nil, &domain.StructuralError{Path: fmt.Sprintf("%s.value[%d]", path, i), Reason: err.Error()}
			}
			leaf.List = append(leaf.List, lit)
		}
		return leaf, nil
	}

	lit, err := newLiteral(c.Value)
	if err != nil {
		return nil, &domain.StructuralError{Path: path + ".value", Reason: err.Error()}
	}
	if op.numeric() && !lit.numeric {
		return nil, &domain.StructuralError{Path: path + ".value", Reason: fmt.Sprintf("%s requires a numeric value", op)}
	}
	leaf.Value = lit
	return leaf, nil
}

func newLiteral(v any) (Literal, error) {
	switch x := v.(type) {
	case string:
		lit := Literal{kind: kindString, str: x}
		if d, err := decimal.NewFromString(strings.TrimSpace(x)); err == nil {
			lit.num, lit.numeric = d, true
		}
		return lit, nil
	case bool:
		return Literal{kind: kindBool, b: x}, nil
	case []any, map[string]any:
		return Literal{}, fmt.Errorf("value must be a scalar, got %T", v)
	}

	d, ok := toDecimal(v)
	if !ok {
		return Literal{}, fmt.Errorf("unsupported value type %T", v)
	}
	return Literal{kind: kindNumber, num: d, numeric: true}, nil
}

// toDecimal converts numeric Go values. Strings are not handled here.
func toDecimal(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat(x), true
	case float32:
		return toDecimal(float64(x))
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int32:
		return decimal.NewFromInt(int64(x)), true
	case int64:
		return decimal.NewFromInt(x), true
	case uint32:
		return decimal.NewFromInt(int64(x)), true
	case uint64:
		return decimal.RequireFromString(strconv.FormatUint(x, 10)), true
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		return d, err == nil
	}
	return decimal.Decimal{}, false
}

// ToCondition converts a compiled tree back to wire form. The result shares
// no memory with the input definition.
func ToCondition(n Node) domain.Condition {
	switch x := n.(type) {
	case *Group:
		children := make([]domain.Condition, 0, len(x.Children))
		for _, child := range x.Children {
			children = append(children, ToCondition(child))
		}
		if x.Mode == Any {
			return domain.Condition{Any: children}
		}
		return domain.Condition{All: children}
	case *Leaf:
		c := domain.Condition{Fact: x.Fact, Operator: x.Op.String()}
		if x.Op.takesList() {
			items := make([]any, 0, len(x.List))
			for _, lit := range x.List {
				items = append(items, lit.Any())
			}
			c.Value = items
		} else {
			c.Value = x.Value.Any()
		}
		return c
	}
	return domain.Condition{}
}

// FactNames returns the distinct fact names referenced by the tree, in first-use order.
func FactNames(n Node) []string {
	var names []string
	seen := make(map[string]bool)
	var walk func(Node)
	walk = func(n Node) {
		switch x := n.(type) {
		case *Group:
			for _, child := range x.Children {
				walk(child)
			}
		case *Leaf:
			if !seen[x.Fact] {
				seen[x.Fact] = true
				names = append(names, x.Fact)
			}
		}
	}
	walk(n)
	return names
}
