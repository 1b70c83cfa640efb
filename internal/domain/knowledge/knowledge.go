// Package knowledge holds the read-only view of indexed chunks and the
// transient per-query result types.
package knowledge

import (
	"fmt"
	"time"
)

// Payload field names as stored in the vector index.
const (
	FieldContent     = "content"
	FieldSourceType  = "source_type"
	FieldSourcePath  = "source_path"
	FieldSourceID    = "source_id"
	FieldScope       = "knowledge_scope"
	FieldProjectID   = "project_id"
	FieldMetadata    = "metadata"
	FieldContentHash = "content_hash"
	FieldLocation    = "location"
	FieldStartLine   = "start_line"
	FieldEndLine     = "end_line"
	FieldCharStart   = "char_start"
	FieldCharEnd     = "char_end"
)

// Scope partitions indexed knowledge.
type Scope string

// Knowledge scopes.
const (
	ScopeGlobal  Scope = "global"
	ScopeProject Scope = "project"
)

// ParseScope validates a scope name.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeGlobal, ScopeProject:
		return Scope(s), nil
	default:
		return "", fmt.Errorf("unknown knowledge scope %q (want global or project)", s)
	}
}

// Location places a chunk inside its source.
type Location struct {
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`
	CharStart int `json:"char_start"`
	CharEnd   int `json:"char_end"`
}

// Chunk is a unit of previously indexed content.
type Chunk struct {
	ID          string         `json:"id"`
	Content     string         `json:"content"`
	SourceType  string         `json:"source_type"`
	SourcePath  string         `json:"source_path"`
	SourceID    string         `json:"source_id"`
	Scope       Scope          `json:"knowledge_scope"`
	ProjectID   string         `json:"project_id,omitempty"`
	Metadata    map[string]any `json:"metadata"`
	ContentHash string         `json:"content_hash"`
	Location    *Location      `json:"location,omitempty"`
}

// SearchResult is a chunk scored against one query.
type SearchResult struct {
	Chunk         Chunk   `json:"chunk"`
	Score         float64 `json:"score"`
	ContextBefore string  `json:"context_before,omitempty"`
	ContextAfter  string  `json:"context_after,omitempty"`
}

// Context aggregates one query with its results for presentation.
type Context struct {
	Query      string         `json:"query"`
	Results    []SearchResult `json:"results"`
	TotalFound int            `json:"total_found"`
	SearchTime time.Duration  `json:"search_time_ns"`
}

// GroupByScope splits results by partition, keeping relative order.
func GroupByScope(results []SearchResult) (global, project []SearchResult) {
	for _, r := range results {
		if r.Chunk.Scope == ScopeProject {
			project = append(project, r)
			continue
		}
		global = append(global, r)
	}
	return global, project
}
