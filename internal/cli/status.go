package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	healthuc "github.com/kailas-cloud/maomao/internal/usecase/health"
)

type statusReport struct {
	VectorCount    *int            `json:"vector_count,omitempty"`
	CountError     string          `json:"count_error,omitempty"`
	Collection     string          `json:"collection"`
	Driver         string          `json:"driver"`
	EmbeddingModel string          `json:"embedding_model"`
	Provider       string          `json:"provider"`
	ProjectID      string          `json:"project_id"`
	Health         healthuc.Report `json:"health"`
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show knowledge base status and dependency health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := opts.setup(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer app.Close()
			defer func() { _ = app.Logger.Sync() }()

			report := collectStatus(cmd, app)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return fmt.Errorf("encode status: %w", err)
				}
			} else {
				printStatus(cmd.OutOrStdout(), report)
			}

			if report.Health.Status != healthuc.Healthy {
				return fmt.Errorf("knowledge base is %s", report.Health.Status)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

// collectStatus never fails: a failing count is reported, not returned.
func collectStatus(cmd *cobra.Command, app *App) statusReport {
	cfg := app.Config
	report := statusReport{
		Collection:     cfg.VectorStore.Collection,
		Driver:         cfg.VectorStore.Driver,
		EmbeddingModel: cfg.Embedding.Model,
		Provider:       cfg.Embedding.Provider,
		ProjectID:      cfg.Project.DefaultProjectID,
		Health:         app.Health.Check(cmd.Context()),
	}

	st, err := app.Retrieval.GetStatus(cmd.Context())
	if err != nil {
		report.CountError = err.Error()
	} else {
		report.VectorCount = &st.Count
	}
	return report
}

func printStatus(w io.Writer, r statusReport) {
	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()

	fmt.Fprintln(w, "maomao status")
	fmt.Fprintln(w, strings.Repeat("=", 40))
	fmt.Fprintf(w, "  Vector store: %s (%s)\n", r.Driver, r.Collection)
	fmt.Fprintf(w, "  Embedding:    %s/%s\n", r.Provider, r.EmbeddingModel)
	fmt.Fprintf(w, "  Project:      %s\n", r.ProjectID)
	if r.VectorCount != nil {
		fmt.Fprintf(w, "  Vectors:      %d\n", *r.VectorCount)
	} else {
		fmt.Fprintf(w, "  Vectors:      %s\n", bad("unavailable ("+r.CountError+")"))
	}

	fmt.Fprintln(w, "\nHealth:")
	names := make([]string, 0, len(r.Health.Checks))
	for name := range r.Health.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if r.Health.Checks[name] == healthuc.CheckOK {
			fmt.Fprintf(w, "  %-13s %s\n", name+":", ok("ok"))
			continue
		}
		fmt.Fprintf(w, "  %-13s %s\n", name+":", bad("error: "+r.Health.Errors[name]))
	}
}
