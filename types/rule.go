package types

// Operator is a comparison operator used in condition leaves
type Operator string

const (
	OpGreaterThan    Operator = "gt"
	OpGreaterOrEqual Operator = "gte"
	OpLessThan       Operator = "lt"
	OpLessOrEqual    Operator = "lte"
	OpEqual          Operator = "eq"
	OpNotEqual       Operator = "ne"
)

// ConditionKind identifies which branch of a Condition is populated
type ConditionKind string

const (
	ConditionAll     ConditionKind = "all"
	ConditionAny     ConditionKind = "any"
	ConditionNot     ConditionKind = "not"
	ConditionCompare ConditionKind = "compare"
	ConditionExpr    ConditionKind = "expr"
	ConditionInvalid ConditionKind = ""
)

// Condition is a node of a rule's predicate tree. Exactly one of All, Any, Not,
// the comparison triple (Field, Op, Value) or Expr must be set.
type Condition struct {
	All   []Condition `json:"all,omitempty" yaml:"all,omitempty"`
	Any   []Condition `json:"any,omitempty" yaml:"any,omitempty"`
	Not   *Condition  `json:"not,omitempty" yaml:"not,omitempty"`
	Field string      `json:"field,omitempty" yaml:"field,omitempty"`
	Op    Operator    `json:"op,omitempty" yaml:"op,omitempty"`
	Value string      `json:"value,omitempty" yaml:"value,omitempty"`
	Expr  string      `json:"expr,omitempty" yaml:"expr,omitempty"`
}

// Kind returns the populated branch, or ConditionInvalid when zero or several
// branches are set
func (c Condition) Kind() ConditionKind {
	kind := ConditionInvalid
	set := 0
	if len(c.All) > 0 {
		kind = ConditionAll
		set++
	}
	if len(c.Any) > 0 {
		kind = ConditionAny
		set++
	}
	if c.Not != nil {
		kind = ConditionNot
		set++
	}
	if c.Field != "" || c.Op != "" {
		kind = ConditionCompare
		set++
	}
	if c.Expr != "" {
		kind = ConditionExpr
		set++
	}
	if set != 1 {
		return ConditionInvalid
	}
	return kind
}

// AmountSpec describes how an action amount is resolved against a snapshot.
// Exactly one of Fixed, PercentOfBalance or PercentOfOverflow is set.
type AmountSpec struct {
	Fixed             string `json:"fixed,omitempty" yaml:"fixed,omitempty"`
	PercentOfBalance  string `json:"percentOfBalance,omitempty" yaml:"percent_of_balance,omitempty"`
	PercentOfOverflow string `json:"percentOfOverflow,omitempty" yaml:"percent_of_overflow,omitempty"`
	// Above is the threshold the overflow is measured from
	Above string `json:"above,omitempty" yaml:"above,omitempty"`
	// Account the percentage applies to; defaults to the template source
	Account string `json:"account,omitempty" yaml:"account,omitempty"`
}

// ActionTemplate is an action with unresolved parameters
type ActionTemplate struct {
	Type        ActionType `json:"type" yaml:"type"`
	Source      string     `json:"source,omitempty" yaml:"source,omitempty"`
	Destination string     `json:"destination,omitempty" yaml:"destination,omitempty"`
	Goal        string     `json:"goal,omitempty" yaml:"goal,omitempty"`
	Amount      AmountSpec `json:"amount,omitempty" yaml:"amount,omitempty"`
	Channel     string     `json:"channel,omitempty" yaml:"channel,omitempty"`
	Message     string     `json:"message,omitempty" yaml:"message,omitempty"`
}

// Rule maps a condition tree to an ordered list of action templates
type Rule struct {
	ID         string           `json:"id" yaml:"id"`
	Name       string           `json:"name" yaml:"name"`
	Conditions Condition        `json:"conditions" yaml:"conditions"`
	Actions    []ActionTemplate `json:"actions" yaml:"actions"`
	Enabled    bool             `json:"enabled" yaml:"enabled"`
}
