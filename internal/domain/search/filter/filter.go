package filter

import "fmt"

// MaxConditionsPerGroup is the maximum number of conditions per filter group.
const MaxConditionsPerGroup = 16

// Expression is a structured payload filter: every must condition holds, and
// when should is non-empty at least one should condition holds.
type Expression struct {
	must   []Condition
	should []Condition
}

// NewExpression validates and creates a filter Expression.
func NewExpression(must, should []Condition) (Expression, error) {
	if len(must) > MaxConditionsPerGroup {
		return Expression{}, fmt.Errorf("too many must conditions (max %d)", MaxConditionsPerGroup)
	}
	if len(should) > MaxConditionsPerGroup {
		return Expression{}, fmt.Errorf("too many should conditions (max %d)", MaxConditionsPerGroup)
	}
	return Expression{must: must, should: should}, nil
}

// Must returns the must conditions.
func (e Expression) Must() []Condition { return e.must }

// Should returns the should conditions.
func (e Expression) Should() []Condition { return e.should }

// IsEmpty reports whether the expression has no conditions.
// Drivers omit the filter entirely for an empty expression.
func (e Expression) IsEmpty() bool {
	return len(e.must) == 0 && len(e.should) == 0
}

// Kind tells drivers how to compare a condition value.
type Kind uint8

// Condition kinds.
const (
	// KindMatch is an exact keyword match.
	KindMatch Kind = iota + 1
	// KindText is a substring match on a text field.
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindMatch:
		return "match"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// Condition is a single filter clause on one payload field.
type Condition struct {
	key   string
	value string
	kind  Kind
}

// NewMatch creates an exact keyword match condition.
func NewMatch(key, value string) (Condition, error) {
	return newCondition(key, value, KindMatch)
}

// NewText creates a substring text match condition.
func NewText(key, value string) (Condition, error) {
	return newCondition(key, value, KindText)
}

func newCondition(key, value string, kind Kind) (Condition, error) {
	if key == "" {
		return Condition{}, fmt.Errorf("filter key is required")
	}
	if value == "" {
		return Condition{}, fmt.Errorf("%s value is required for key %q", kind, key)
	}
	return Condition{key: key, value: value, kind: kind}, nil
}

// Key returns the field name.
func (c Condition) Key() string { return c.key }

// Value returns the compared value.
func (c Condition) Value() string { return c.value }

// Kind returns the comparison kind.
func (c Condition) Kind() Kind { return c.kind }

// IsText reports whether this is a substring condition.
func (c Condition) IsText() bool { return c.kind == KindText }
