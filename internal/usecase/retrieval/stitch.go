package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/maomao/internal/domain"
	"github.com/kailas-cloud/maomao/internal/domain/knowledge"
)

// defaultScanLimit caps chunks listed per source when unset.
const defaultScanLimit = 256

// stitch fills ContextBefore/ContextAfter from the neighbouring chunks of the
// same source: the last n lines of the previous chunk and the first n lines of
// the next one. Each source is listed once. A backend without source listing
// leaves the results untouched.
func (s *Service) stitch(ctx context.Context, results []knowledge.SearchResult, n int) ([]knowledge.SearchResult, error) {
	limit := s.cfg.ContextScanLimit
	if limit <= 0 {
		limit = defaultScanLimit
	}

	neighbours := make(map[string][]knowledge.Chunk)
	out := make([]knowledge.SearchResult, len(results))
	copy(out, results)

	for i := range out {
		c := out[i].Chunk
		if c.SourceID == "" || c.Location == nil {
			continue
		}

		chunks, ok := neighbours[c.SourceID]
		if !ok {
			listed, err := s.index.SourceChunks(ctx, c.SourceID, limit)
			if errors.Is(err, domain.ErrNotSupported) {
				s.logger.Debug("Context stitching not supported by vector store", zap.Error(err))
				return results, nil
			}
			if err != nil {
				return nil, fmt.Errorf("list source %q: %w", c.SourceID, err)
			}
			chunks = orderByLine(listed)
			neighbours[c.SourceID] = chunks
		}

		before, after := adjacent(chunks, c.ID)
		if before != nil {
			out[i].ContextBefore = lastLines(before.Content, n)
		}
		if after != nil {
			out[i].ContextAfter = firstLines(after.Content, n)
		}
	}
	return out, nil
}

// orderByLine keeps located chunks sorted by start line.
func orderByLine(chunks []knowledge.Chunk) []knowledge.Chunk {
	located := make([]knowledge.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Location != nil {
			located = append(located, c)
		}
	}
	sort.SliceStable(located, func(i, j int) bool {
		return located[i].Location.StartLine < located[j].Location.StartLine
	})
	return located
}

func adjacent(chunks []knowledge.Chunk, id string) (before, after *knowledge.Chunk) {
	for i := range chunks {
		if chunks[i].ID != id {
			continue
		}
		if i > 0 {
			before = &chunks[i-1]
		}
		if i+1 < len(chunks) {
			after = &chunks[i+1]
		}
		return before, after
	}
	return nil, nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func firstLines(s string, n int) string {
	lines := strings.Split(strings.TrimLeft(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}
