package condition

// Operator is a leaf comparison.
type Operator int

const (
	Equal Operator = iota
	NotEqual
	GreaterThan
	GreaterThanInclusive
	LessThan
	LessThanInclusive
	Contains
	In
	NotIn
)

var operatorNames = map[Operator]string{
	Equal:                "equal",
	NotEqual:             "notEqual",
	GreaterThan:          "greaterThan",
	GreaterThanInclusive: "greaterThanInclusive",
	LessThan:             "lessThan",
	LessThanInclusive:    "lessThanInclusive",
	Contains:             "contains",
	In:                   "in",
	NotIn:                "notIn",
}

var operatorsByName = func() map[string]Operator {
	m := make(map[string]Operator, len(operatorNames))
	for op, name := range operatorNames {
		m[name] = op
	}
	return m
}()

// ParseOperator resolves an operator name. Names are case-sensitive.
func ParseOperator(name string) (Operator, bool) {
	op, ok := operatorsByName[name]
	return op, ok
}

func (o Operator) String() string {
	if name, ok := operatorNames[o]; ok {
		return name
	}
	return "unknown"
}

func (o Operator) numeric() bool {
	switch o {
	case GreaterThan, GreaterThanInclusive, LessThan, LessThanInclusive:
		return true
	}
	return false
}

func (o Operator) takesList() bool {
	return o == In || o == NotIn
}
