package mcp

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/maomao/internal/domain/knowledge"
	"github.com/kailas-cloud/maomao/internal/usecase/retrieval"
)

func formatGlobal(results []knowledge.SearchResult) string {
	if len(results) == 0 {
		return "No relevant global knowledge found.\n"
	}
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("### Global knowledge %d (score: %s)%s\nSource: %s\n\n%s",
			i+1, retrieval.FormatScore(r.Score), retrieval.LocationSuffix(r.Chunk.Location),
			r.Chunk.SourcePath, r.Chunk.Content)
	}
	return fmt.Sprintf("Found %d relevant global knowledge chunks:\n\n", len(results)) +
		strings.Join(parts, retrieval.Separator)
}

func formatProject(results []knowledge.SearchResult) string {
	if len(results) == 0 {
		return "No relevant project knowledge found.\n"
	}
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("### Project knowledge %d (score: %s)%s\n%sSource: %s\n\n%s",
			i+1, retrieval.FormatScore(r.Score), retrieval.LocationSuffix(r.Chunk.Location),
			projectTag(r.Chunk), r.Chunk.SourcePath, r.Chunk.Content)
	}
	return fmt.Sprintf("Found %d relevant project knowledge chunks:\n\n", len(results)) +
		strings.Join(parts, retrieval.Separator)
}

// formatAll groups results by scope, keeping the ranking inside each group.
func formatAll(results []knowledge.SearchResult) string {
	if len(results) == 0 {
		return retrieval.NoResultsText
	}
	global, project := knowledge.GroupByScope(results)

	var b strings.Builder
	if len(global) > 0 {
		fmt.Fprintf(&b, "## Global knowledge (%d)\n\n", len(global))
		parts := make([]string, len(global))
		for i, r := range global {
			parts[i] = fmt.Sprintf("### %d. %s%s (score: %s)\n\n%s",
				i+1, r.Chunk.SourcePath, retrieval.LocationSuffix(r.Chunk.Location),
				retrieval.FormatScore(r.Score), r.Chunk.Content)
		}
		b.WriteString(strings.Join(parts, retrieval.Separator))
		b.WriteString("\n\n")
	}
	if len(project) > 0 {
		fmt.Fprintf(&b, "## Project knowledge (%d)\n\n", len(project))
		parts := make([]string, len(project))
		for i, r := range project {
			parts[i] = fmt.Sprintf("### %d. %s%s%s (score: %s)\n\n%s",
				i+1, projectTag(r.Chunk), r.Chunk.SourcePath, retrieval.LocationSuffix(r.Chunk.Location),
				retrieval.FormatScore(r.Score), r.Chunk.Content)
		}
		b.WriteString(strings.Join(parts, retrieval.Separator))
	}
	return b.String()
}

func projectTag(c knowledge.Chunk) string {
	if c.ProjectID == "" {
		return ""
	}
	return "[" + c.ProjectID + "] "
}
