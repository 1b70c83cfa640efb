package request

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/maomao/internal/domain/knowledge"
	"github.com/kailas-cloud/maomao/internal/domain/search/filter"
)

// MaxQueryLength is the maximum allowed search query length.
const MaxQueryLength = 4096

// Options is the per-query filter/options bundle. Nil means "not set":
// an unset Scope searches both partitions, an unset ProjectID imposes no
// project constraint.
type Options struct {
	Limit            *int
	MinScore         *float64
	SourceType       *string
	SourcePathPrefix *string
	Scope            *knowledge.Scope
	ProjectID        *string
	ContextLines     int
}

// String returns a pointer to s, or nil when s is empty.
func String(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Int returns a pointer to n.
func Int(n int) *int { return &n }

// Float returns a pointer to f.
func Float(f float64) *float64 { return &f }

// ScopeOf returns a pointer to s.
func ScopeOf(s knowledge.Scope) *knowledge.Scope { return &s }

// ValidateQuery checks the query text.
func ValidateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("query is required")
	}
	if len(query) > MaxQueryLength {
		return fmt.Errorf("query too long (max %d chars)", MaxQueryLength)
	}
	return nil
}

// Validate checks option invariants.
func (o Options) Validate() error {
	if o.Limit != nil && *o.Limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", *o.Limit)
	}
	if o.MinScore != nil && (*o.MinScore < 0 || *o.MinScore > 1) {
		return fmt.Errorf("min_score must be between 0 and 1, got %g", *o.MinScore)
	}
	if o.Scope != nil {
		if _, err := knowledge.ParseScope(string(*o.Scope)); err != nil {
			return err
		}
	}
	if o.ContextLines < 0 {
		return fmt.Errorf("context_lines must not be negative, got %d", o.ContextLines)
	}
	return nil
}

// WithDefaults fills Limit and MinScore when absent. maxLimit > 0 clamps Limit.
func (o Options) WithDefaults(limit, maxLimit int, minScore float64) Options {
	if o.Limit == nil {
		o.Limit = Int(limit)
	}
	if maxLimit > 0 && *o.Limit > maxLimit {
		o.Limit = Int(maxLimit)
	}
	if o.MinScore == nil {
		o.MinScore = Float(minScore)
	}
	return o
}

// LimitOr returns Limit or def when unset.
func (o Options) LimitOr(def int) int {
	if o.Limit == nil {
		return def
	}
	return *o.Limit
}

// MinScoreOr returns MinScore or def when unset.
func (o Options) MinScoreOr(def float64) float64 {
	if o.MinScore == nil {
		return def
	}
	return *o.MinScore
}

// ScopeLabel names the scope for logs and metrics.
func (o Options) ScopeLabel() string {
	if o.Scope == nil {
		return "all"
	}
	return string(*o.Scope)
}

// Filter composes the conjunctive payload filter from the present clauses.
// The project id applies when the scope is project or unset; with
// scope=global it is ignored. Nothing present yields an empty expression.
func (o Options) Filter() (filter.Expression, error) {
	var must []filter.Condition

	add := func(c filter.Condition, err error) error {
		if err != nil {
			return err
		}
		must = append(must, c)
		return nil
	}

	if v := deref(o.SourceType); v != "" {
		if err := add(filter.NewMatch(knowledge.FieldSourceType, v)); err != nil {
			return filter.Expression{}, err
		}
	}
	if v := deref(o.SourcePathPrefix); v != "" {
		if err := add(filter.NewText(knowledge.FieldSourcePath, v)); err != nil {
			return filter.Expression{}, err
		}
	}
	if o.Scope != nil {
		if err := add(filter.NewMatch(knowledge.FieldScope, string(*o.Scope))); err != nil {
			return filter.Expression{}, err
		}
	}
	if project := deref(o.ProjectID); project != "" && (o.Scope == nil || *o.Scope == knowledge.ScopeProject) {
		if err := add(filter.NewMatch(knowledge.FieldProjectID, project)); err != nil {
			return filter.Expression{}, err
		}
	}

	return filter.NewExpression(must, nil)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
