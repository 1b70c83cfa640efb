package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/maomao/internal/domain"
	"github.com/kailas-cloud/maomao/internal/domain/knowledge"
	"github.com/kailas-cloud/maomao/internal/domain/search/request"
	"github.com/kailas-cloud/maomao/internal/logger"
	"github.com/kailas-cloud/maomao/internal/metrics"
	"github.com/kailas-cloud/maomao/internal/usecase/retrieval"
)

// Tool names.
const (
	ToolSearchGlobal  = "search_global_knowledge"
	ToolSearchProject = "search_project_knowledge"
	ToolSearchAll     = "search_all_knowledge"
	ToolStatus        = "knowledge_status"
	ToolContext       = "get_knowledge_context"
)

// toolHandler returns the text block and the number of results it carries.
type toolHandler func(ctx context.Context, args json.RawMessage) (string, int, error)

func (s *Server) registerTools() map[string]toolHandler {
	return map[string]toolHandler{
		ToolSearchGlobal:  s.searchGlobal,
		ToolSearchProject: s.searchProject,
		ToolSearchAll:     s.searchAll,
		ToolStatus:        s.knowledgeStatus,
		ToolContext:       s.knowledgeContext,
	}
}

// CallTool runs a tool. Tool failures come back as an isError result; only an
// unknown tool name is returned as an error.
func (s *Server) CallTool(ctx context.Context, name string, args json.RawMessage) (CallToolResult, error) {
	handler, ok := s.tools[name]
	if !ok {
		metrics.ToolCallsTotal.WithLabelValues("unknown", "error").Inc()
		return CallToolResult{}, fmt.Errorf("%w: %s", domain.ErrUnknownTool, name)
	}

	callID := uuid.NewString()
	log := s.logger.With(zap.String("tool", name), zap.String("call_id", callID))
	ctx = logger.ContextWithLogger(ctx, log)
	ctx, usage := domain.NewContextWithUsage(ctx)

	start := time.Now()
	text, n, err := handler(ctx, args)
	latency := time.Since(start)
	tokens, embeddings, degraded := usage.Snapshot()

	if err != nil {
		status := errorStatus(err)
		metrics.ToolCallsTotal.WithLabelValues(name, status).Inc()
		log.Warn("tool_call",
			zap.String("status", status),
			zap.Duration("latency", latency),
			zap.Int("embeddings", embeddings),
			zap.Error(err),
		)
		return textResult(errorText(err), true), nil
	}

	metrics.ToolCallsTotal.WithLabelValues(name, "ok").Inc()
	log.Info("tool_call",
		zap.String("status", "ok"),
		zap.Duration("latency", latency),
		zap.Int("results", n),
		zap.Int("embeddings", embeddings),
		zap.Int("embedding_tokens", tokens),
		zap.Bool("degraded_embedding", degraded),
	)
	return textResult(text, false), nil
}

// --- Arguments ---

type searchArgs struct {
	Query     string  `json:"query"`
	ProjectID *string `json:"project_id,omitempty"`
	Limit     *int    `json:"limit,omitempty"`
}

type contextArgs struct {
	Query            string   `json:"query"`
	Limit            *int     `json:"limit,omitempty"`
	MinScore         *float64 `json:"min_score,omitempty"`
	SourceType       *string  `json:"source_type,omitempty"`
	SourcePathPrefix *string  `json:"source_path_prefix,omitempty"`
	Scope            *string  `json:"knowledge_scope,omitempty"`
	ProjectID        *string  `json:"project_id,omitempty"`
	ContextLines     int      `json:"context_lines,omitempty"`
}

func decodeArgs(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidQuery, err)
	}
	return nil
}

// --- Handlers ---

func (s *Server) searchGlobal(ctx context.Context, raw json.RawMessage) (string, int, error) {
	var args searchArgs
	if err := decodeArgs(raw, &args); err != nil {
		return "", 0, err
	}
	results, err := s.svc.SearchGlobal(ctx, args.Query, args.Limit)
	if err != nil {
		return "", 0, err
	}
	return formatGlobal(results), len(results), nil
}

func (s *Server) searchProject(ctx context.Context, raw json.RawMessage) (string, int, error) {
	var args searchArgs
	if err := decodeArgs(raw, &args); err != nil {
		return "", 0, err
	}
	results, err := s.svc.SearchProject(ctx, args.Query, args.ProjectID, args.Limit)
	if err != nil {
		return "", 0, err
	}
	return formatProject(results), len(results), nil
}

func (s *Server) searchAll(ctx context.Context, raw json.RawMessage) (string, int, error) {
	var args searchArgs
	if err := decodeArgs(raw, &args); err != nil {
		return "", 0, err
	}
	results, err := s.svc.SearchAll(ctx, args.Query, args.ProjectID, args.Limit)
	if err != nil {
		return "", 0, err
	}
	return formatAll(results), len(results), nil
}

func (s *Server) knowledgeContext(ctx context.Context, raw json.RawMessage) (string, int, error) {
	var args contextArgs
	if err := decodeArgs(raw, &args); err != nil {
		return "", 0, err
	}
	opts := request.Options{
		Limit:            args.Limit,
		MinScore:         args.MinScore,
		SourceType:       normalize(args.SourceType),
		SourcePathPrefix: normalize(args.SourcePathPrefix),
		ProjectID:        normalize(args.ProjectID),
		ContextLines:     args.ContextLines,
	}
	if sc := normalize(args.Scope); sc != nil {
		scope, err := knowledge.ParseScope(*sc)
		if err != nil {
			return "", 0, fmt.Errorf("%w: %w", domain.ErrInvalidQuery, err)
		}
		opts.Scope = request.ScopeOf(scope)
	}

	kc, err := s.svc.Retrieve(ctx, args.Query, opts)
	if err != nil {
		return "", 0, err
	}
	return retrieval.FormatContext(kc), len(kc.Results), nil
}

type statusPayload struct {
	Status         string `json:"status"`
	VectorCount    int    `json:"vectorCount"`
	Collection     string `json:"collection"`
	EmbeddingModel string `json:"embeddingModel"`
	ProjectID      string `json:"projectId"`
}

func (s *Server) knowledgeStatus(ctx context.Context, _ json.RawMessage) (string, int, error) {
	st, err := s.svc.GetStatus(ctx)
	if err != nil {
		return "", 0, err
	}
	data, err := json.MarshalIndent(statusPayload{
		Status:         "ok",
		VectorCount:    st.Count,
		Collection:     s.info.Collection,
		EmbeddingModel: s.info.EmbeddingModel,
		ProjectID:      s.info.DefaultProjectID,
	}, "", "  ")
	if err != nil {
		return "", 0, fmt.Errorf("marshal status: %w", err)
	}
	return string(data), 0, nil
}

func normalize(s *string) *string {
	if s == nil {
		return nil
	}
	return request.String(*s)
}

// --- Errors ---

func errorStatus(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidQuery):
		return "invalid"
	case errors.Is(err, domain.ErrEmbeddingFailure):
		return "embedding_error"
	case errors.Is(err, domain.ErrVectorStore):
		return "vector_store_error"
	case errors.Is(err, domain.ErrNotSupported):
		return "not_supported"
	default:
		return "error"
	}
}

// errorText prefixes the message so infrastructure failures are
// distinguishable from bad input and from an empty result.
func errorText(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidQuery):
		return "invalid arguments: " + err.Error()
	case errors.Is(err, domain.ErrEmbeddingFailure):
		return "embedding unavailable: " + err.Error()
	case errors.Is(err, domain.ErrVectorStore):
		return "vector store unavailable: " + err.Error()
	case errors.Is(err, domain.ErrNotSupported):
		return "not supported: " + err.Error()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "request cancelled: " + err.Error()
	default:
		return "internal error: " + err.Error()
	}
}

// --- Definitions ---

func toolDefinitions() []Tool {
	query := map[string]any{"type": "string", "description": "Natural-language search query"}
	limit := map[string]any{"type": "integer", "description": "Maximum number of results (default 10)", "minimum": 1}
	project := map[string]any{"type": "string", "description": "Project identifier; defaults to the current project, empty searches every project"}

	return []Tool{
		{
			Name: ToolSearchGlobal,
			Description: "Search the global knowledge base: programming best practices, framework usage, " +
				"design patterns and coding conventions reusable across projects.",
			InputSchema: objectSchema(map[string]any{"query": query, "limit": limit}, "query"),
		},
		{
			Name: ToolSearchProject,
			Description: "Search the knowledge specific to the current project: business logic, " +
				"architecture decisions and code patterns documented for this project.",
			InputSchema: objectSchema(map[string]any{"query": query, "project_id": project, "limit": limit}, "query"),
		},
		{
			Name: ToolSearchAll,
			Description: "Search global and project knowledge together, grouping the results by scope. " +
				"Use when unsure which partition holds the answer.",
			InputSchema: objectSchema(map[string]any{"query": query, "project_id": project, "limit": limit}, "query"),
		},
		{
			Name:        ToolStatus,
			Description: "Report knowledge base status: vector count, collection, embedding model and default project.",
			InputSchema: objectSchema(map[string]any{}),
		},
		{
			Name: ToolContext,
			Description: "Retrieve formatted knowledge context for a query with full filter control, " +
				"optionally including neighbouring lines around each chunk.",
			InputSchema: objectSchema(map[string]any{
				"query":              query,
				"limit":              limit,
				"min_score":          map[string]any{"type": "number", "minimum": 0, "maximum": 1},
				"source_type":        map[string]any{"type": "string"},
				"source_path_prefix": map[string]any{"type": "string", "description": "Substring matched against the source path"},
				"knowledge_scope":    map[string]any{"type": "string", "enum": []string{"global", "project"}},
				"project_id":         project,
				"context_lines":      map[string]any{"type": "integer", "minimum": 0},
			}, "query"),
		},
	}
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
