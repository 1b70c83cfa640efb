package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kailas-cloud/maomao/internal/domain/knowledge"
	"github.com/kailas-cloud/maomao/internal/domain/search/request"
	"github.com/kailas-cloud/maomao/internal/usecase/retrieval"
)

const previewLen = 200

type searchFlags struct {
	scope        string
	project      string
	sourceType   string
	path         string
	limit        int
	minScore     float64
	contextLines int
	json         bool
	queries      []string
}

// queryList joins positional args into one query and appends every --query.
func (f *searchFlags) queryList(args []string) ([]string, error) {
	var out []string
	if len(args) > 0 {
		out = append(out, strings.Join(args, " "))
	}
	out = append(out, f.queries...)
	if len(out) == 0 {
		return nil, errors.New("a query is required: pass it as arguments or with --query")
	}
	return out, nil
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var f searchFlags

	cmd := &cobra.Command{
		Use:   "search [query] [--query q]...",
		Short: "Search the knowledge base",
		Long: `Search the knowledge base without an MCP client.

Examples:
  maomao-mcp search "connection pooling"
  maomao-mcp search "order lifecycle" --scope project --project billing --limit 5
  maomao-mcp search "retry policy" --context-lines 3 --json
  maomao-mcp search -q "retry policy" -q "circuit breaker" -q "timeouts"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			queries, err := f.queryList(args)
			if err != nil {
				return err
			}
			searchOpts, err := f.options(cmd)
			if err != nil {
				return err
			}

			app, err := opts.setup(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer app.Close()
			defer func() { _ = app.Logger.Sync() }()

			var contexts []knowledge.Context
			if len(queries) == 1 {
				kc, err := app.Retrieval.Retrieve(cmd.Context(), queries[0], searchOpts)
				if err != nil {
					return fmt.Errorf("search failed: %w", err)
				}
				contexts = []knowledge.Context{kc}
			} else {
				if contexts, err = app.Retrieval.RetrieveBatch(cmd.Context(), queries, searchOpts); err != nil {
					return fmt.Errorf("batch search failed: %w", err)
				}
			}

			w := cmd.OutOrStdout()
			if f.json {
				if len(contexts) == 1 {
					return outputJSON(w, contexts[0])
				}
				return outputJSONBatch(w, contexts)
			}
			for i, kc := range contexts {
				if i > 0 {
					fmt.Fprintln(w, strings.Repeat("=", 40))
				}
				outputHuman(w, kc)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&f.scope, "scope", "s", "", "knowledge scope (global, project); unset searches both")
	cmd.Flags().StringVar(&f.project, "project", "", "project id")
	cmd.Flags().StringVarP(&f.sourceType, "type", "t", "", "filter by source type")
	cmd.Flags().StringVar(&f.path, "path", "", "filter by source path substring")
	cmd.Flags().IntVarP(&f.limit, "limit", "l", 0, "maximum results (default from config)")
	cmd.Flags().Float64Var(&f.minScore, "min-score", 0, "minimum similarity score (default from config)")
	cmd.Flags().IntVar(&f.contextLines, "context-lines", 0, "neighbouring lines to include around each chunk")
	cmd.Flags().BoolVar(&f.json, "json", false, "output as JSON")
	cmd.Flags().StringArrayVarP(&f.queries, "query", "q", nil, "additional query; repeat to search several at once")

	return cmd
}

// options maps flags to request options; flags left unset stay nil so config defaults apply.
func (f *searchFlags) options(cmd *cobra.Command) (request.Options, error) {
	o := request.Options{
		SourceType:       request.String(f.sourceType),
		SourcePathPrefix: request.String(f.path),
		ProjectID:        request.String(f.project),
		ContextLines:     f.contextLines,
	}
	if cmd.Flags().Changed("limit") {
		o.Limit = request.Int(f.limit)
	}
	if cmd.Flags().Changed("min-score") {
		o.MinScore = request.Float(f.minScore)
	}
	if f.scope != "" {
		scope, err := knowledge.ParseScope(f.scope)
		if err != nil {
			return request.Options{}, err
		}
		o.Scope = request.ScopeOf(scope)
	}
	if err := o.Validate(); err != nil {
		return request.Options{}, err
	}
	return o, nil
}

type searchOutput struct {
	Query   string                   `json:"query"`
	Count   int                      `json:"count"`
	TookMs  int64                    `json:"took_ms"`
	Results []knowledge.SearchResult `json:"results"`
}

func toOutput(kc knowledge.Context) searchOutput {
	out := searchOutput{
		Query:   kc.Query,
		Count:   kc.TotalFound,
		TookMs:  kc.SearchTime.Milliseconds(),
		Results: kc.Results,
	}
	if out.Results == nil {
		out.Results = []knowledge.SearchResult{}
	}
	return out
}

func outputJSON(w io.Writer, kc knowledge.Context) error {
	return encodeJSON(w, toOutput(kc))
}

// outputJSONBatch writes one array entry per query, in query order.
func outputJSONBatch(w io.Writer, contexts []knowledge.Context) error {
	out := make([]searchOutput, len(contexts))
	for i, kc := range contexts {
		out[i] = toOutput(kc)
	}
	return encodeJSON(w, out)
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	return nil
}

func outputHuman(w io.Writer, kc knowledge.Context) {
	if len(kc.Results) == 0 {
		fmt.Fprintln(w, retrieval.NoResultsText)
		return
	}

	bold := color.New(color.Bold).SprintFunc()
	faint := color.New(color.Faint).SprintFunc()
	score := color.New(color.FgGreen).SprintFunc()
	badge := color.New(color.FgCyan).SprintFunc()

	fmt.Fprintf(w, "Results for %q (%d results, %dms)\n\n", kc.Query, kc.TotalFound, kc.SearchTime.Milliseconds())

	for i, r := range kc.Results {
		c := r.Chunk
		tag := string(c.Scope)
		if c.ProjectID != "" {
			tag += ":" + c.ProjectID
		}
		fmt.Fprintf(w, "%d. %s %s%s  (score: %s)\n",
			i+1, badge("["+tag+"]"), bold(c.SourcePath), retrieval.LocationSuffix(c.Location),
			score(retrieval.FormatScore(r.Score)))
		if c.SourceType != "" {
			fmt.Fprintf(w, "   %s\n", faint("type: "+c.SourceType))
		}
		fmt.Fprintf(w, "   %s\n\n", preview(c.Content))
	}
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > previewLen {
		return string(r[:previewLen]) + "..."
	}
	return s
}
