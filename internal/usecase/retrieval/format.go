package retrieval

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/maomao/internal/domain/knowledge"
)

// NoResultsText is returned by GetContext when nothing matched. It is not an error.
const NoResultsText = "No relevant knowledge found."

// Separator joins formatted results.
const Separator = "\n\n---\n\n"

// FormatContext renders a knowledge context as text: a header with count and
// elapsed time, then one block per result.
func FormatContext(kc knowledge.Context) string {
	if len(kc.Results) == 0 {
		return NoResultsText
	}

	parts := make([]string, len(kc.Results))
	for i, r := range kc.Results {
		parts[i] = fmt.Sprintf("### Knowledge %d (score: %s)%s\nSource: [%s] %s\n\n%s",
			i+1, FormatScore(r.Score), LocationSuffix(r.Chunk.Location),
			r.Chunk.SourceType, r.Chunk.SourcePath, withContext(r))
	}

	header := fmt.Sprintf("Found %d relevant knowledge chunks (took %dms):\n",
		len(kc.Results), kc.SearchTime.Milliseconds())
	return header + strings.Join(parts, Separator)
}

// FormatScore renders a similarity score with three decimals.
func FormatScore(score float64) string {
	return fmt.Sprintf("%.3f", score)
}

// LocationSuffix renders " (lines a-b)" or "" when the chunk has no location.
func LocationSuffix(loc *knowledge.Location) string {
	if loc == nil {
		return ""
	}
	return fmt.Sprintf(" (lines %d-%d)", loc.StartLine, loc.EndLine)
}

func withContext(r knowledge.SearchResult) string {
	if r.ContextBefore == "" && r.ContextAfter == "" {
		return r.Chunk.Content
	}
	parts := make([]string, 0, 3)
	if r.ContextBefore != "" {
		parts = append(parts, "...\n"+r.ContextBefore)
	}
	parts = append(parts, r.Chunk.Content)
	if r.ContextAfter != "" {
		parts = append(parts, r.ContextAfter+"\n...")
	}
	return strings.Join(parts, "\n")
}
