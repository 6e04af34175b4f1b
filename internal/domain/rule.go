package domain

import (
	"encoding/json"
	"time"
)

// EventFraud is the rule event type that marks a transaction as fraudulent.
// Other event types (e.g. "review") are carried through but never set is_fraud.
const EventFraud = "fraud"

// Rule is a named, prioritized condition tree with an outcome event.
type Rule struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Conditions  Condition `json:"conditions"`
	Event       RuleEvent `json:"event"`
	Priority    int       `json:"priority"`
	Active      bool      `json:"active"`

	// Sequence is the creation order, used to break priority ties.
	Sequence  int64     `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RuleEvent is the outcome a rule emits when its conditions hold.
type RuleEvent struct {
	Type   string      `json:"type"`
	Params EventParams `json:"params"`
}

// EventParams carries the human-readable reason and risk score of an event.
type EventParams struct {
	Message string  `json:"message"`
	Score   float64 `json:"score"`
}

// RuleDraft is the input for creating a rule. The same shape is used as a
// partial patch on update, where nil fields are left unchanged.
type RuleDraft struct {
	Name        *string     `json:"name,omitempty" yaml:"name"`
	Description *string     `json:"description,omitempty" yaml:"description"`
	Conditions  *Condition  `json:"conditions,omitempty" yaml:"conditions"`
	Event       *EventDraft `json:"event,omitempty" yaml:"event"`
	Priority    *float64    `json:"priority,omitempty" yaml:"priority"`
	Active      *bool       `json:"active,omitempty" yaml:"active"`
}

// EventDraft is the optional-field form of RuleEvent.
type EventDraft struct {
	Type   *string `json:"type,omitempty" yaml:"type"`
	Params struct {
		Message *string  `json:"message,omitempty" yaml:"message"`
		Score   *float64 `json:"score,omitempty" yaml:"score"`
	} `json:"params" yaml:"params"`
}

// Condition is the wire form of a condition tree node: either a group
// ({"all": [...]} or {"any": [...]}) or a leaf {"fact", "operator", "value"}.
// Groups keep a non-nil slice even when empty so that "all": [] is
// distinguishable from an absent key.
type Condition struct {
	All      []Condition `json:"all,omitempty" yaml:"all"`
	Any      []Condition `json:"any,omitempty" yaml:"any"`
	Fact     string      `json:"fact,omitempty" yaml:"fact"`
	Operator string      `json:"operator,omitempty" yaml:"operator"`
	Value    any         `json:"value,omitempty" yaml:"value"`
}

// IsGroup reports whether the node carries an all/any key.
func (c Condition) IsGroup() bool {
	return c.All != nil || c.Any != nil
}

// MarshalJSON writes groups without leaf keys and leaves with an explicit
// value, so that zero literals survive a round trip.
func (c Condition) MarshalJSON() ([]byte, error) {
	switch {
	case c.All != nil:
		return json.Marshal(struct {
			All []Condition `json:"all"`
		}{c.All})
	case c.Any != nil:
		return json.Marshal(struct {
			Any []Condition `json:"any"`
		}{c.Any})
	default:
		return json.Marshal(struct {
			Fact     string `json:"fact"`
			Operator string `json:"operator"`
			Value    any    `json:"value"`
		}{c.Fact, c.Operator, c.Value})
	}
}
