package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/fin-ingest/internal/lifecycle"
	"github.com/sells-group/fin-ingest/internal/pipeline"
	"github.com/sells-group/fin-ingest/internal/report"
	"github.com/sells-group/fin-ingest/internal/store"
)

var (
	retryEnhanced   bool
	retryUser       string
	resultsSummary  bool
	resultsAllConf  bool
	exportFormat    string
	exportOut       string
	exportFlaggedOK bool
)

var statusCmd = &cobra.Command{
	Use:   "status <document-id>",
	Short: "Print a document's processing status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg, "query")
		if err != nil {
			return err
		}
		defer env.Close()

		status, err := documentStatus(ctx, env, args[0], time.Now().UTC())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), status)
	},
}

// documentStatus builds the status payload from the most recent events.
func documentStatus(ctx context.Context, env *appEnv, id string, now time.Time) (*lifecycle.StatusReport, error) {
	events, err := env.Store.ListEvents(ctx, id, env.Config.Processing.StatusLogLimit)
	if err != nil {
		return nil, eris.Wrapf(err, "list events for %s", id)
	}
	if len(events) == 0 {
		return nil, eris.Errorf("document %s not found", id)
	}
	r := lifecycle.Summarize(id, events, now, env.Config.Processing.Timeout())
	res, err := env.Store.GetLatestExtractionResult(ctx, id)
	switch {
	case err == nil:
		r.AttachResult(res)
	case !store.IsNotFound(err):
		return nil, eris.Wrapf(err, "load extraction result for %s", id)
	}
	return &r, nil
}

var retryCmd = &cobra.Command{
	Use:   "retry <document-id>",
	Short: "Reprocess a failed document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		out, err := retryDocument(ctx, env, pipeline.RetryRequest{
			DocumentID:  args[0],
			EnhancedOCR: retryEnhanced,
			InitiatedBy: retryUser,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

// retryOutput pairs the accepted retry with the status reached after the
// inline rerun.
type retryOutput struct {
	Retry  *pipeline.RetryOutcome  `json:"retry,omitempty"`
	Status *lifecycle.StatusReport `json:"status"`
	Error  string                  `json:"error,omitempty"`
}

// retryDocument resubmits a document and runs it through both stages
// before returning. Once the retry is recorded, a failure during the
// rerun is reported next to the resulting status instead of as an error.
func retryDocument(ctx context.Context, env *appEnv, req pipeline.RetryRequest) (*retryOutput, error) {
	if req.InitiatedBy == "" {
		req.InitiatedBy = os.Getenv("USER")
	}
	retrier := pipeline.NewRetrier(env.Config, env.Store, env.Blobs, env.inline())

	out, err := retrier.Retry(ctx, req)
	var ineligible *pipeline.IneligibleError
	switch {
	case errors.As(err, &ineligible):
		e := ineligible.Eligibility
		return nil, eris.Errorf("document %s cannot be retried: %s (status %s, %d retries)",
			req.DocumentID, e.Reason, e.CurrentStatus, e.RetryCount)
	case errors.Is(err, pipeline.ErrBlobMissing):
		return nil, eris.Wrapf(err, "document %s must be uploaded again", req.DocumentID)
	}

	status, serr := documentStatus(ctx, env, req.DocumentID, time.Now().UTC())
	if serr != nil {
		if err != nil {
			return nil, err
		}
		return nil, serr
	}
	o := &retryOutput{Retry: out, Status: status}
	if err != nil {
		o.Error = err.Error()
	}
	return o, nil
}

var resultsCmd = &cobra.Command{
	Use:   "results <document-id>",
	Short: "Print extracted metrics for a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg, "query")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := pipeline.LoadResults(ctx, env.Store, pipeline.ResultQuery{
			DocumentID:           args[0],
			IncludeLowConfidence: resultsAllConf,
		})
		if err != nil {
			return eris.Wrapf(err, "load results for %s", args[0])
		}
		if resultsSummary {
			return printJSON(cmd.OutOrStdout(), res.Summary())
		}
		return printJSON(cmd.OutOrStdout(), res.Detailed())
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <document-id>",
	Short: "Write a review report as xlsx or pdf",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg, "query")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := exportReport(ctx, env, args[0], exportFormat, exportOut, exportFlaggedOK)
		if err != nil {
			return err
		}
		cmd.Printf("wrote %d bytes to %s\n", n, exportOut)
		return nil
	},
}

// exportReport renders the results of id and writes them to path.
func exportReport(ctx context.Context, env *appEnv, id, format, path string, includeFlagged bool) (int, error) {
	if path == "" {
		return 0, eris.New("export: --out is required")
	}
	res, err := pipeline.LoadResults(ctx, env.Store, pipeline.ResultQuery{DocumentID: id, IncludeLowConfidence: includeFlagged})
	if err != nil {
		return 0, eris.Wrapf(err, "load results for %s", id)
	}
	data, err := report.Render(format, res)
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, eris.Wrapf(err, "write %s", path)
	}
	return len(data), nil
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the store schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), cfg, "migrate")
		if err != nil {
			return err
		}
		env.Close()
		cmd.Println("migrations applied")
		return nil
	},
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode output")
}

func init() {
	retryCmd.Flags().BoolVar(&retryEnhanced, "enhanced-ocr", false, "request the high-resolution OCR mode")
	retryCmd.Flags().StringVar(&retryUser, "initiated-by", "", "who requested the retry (default $USER)")
	resultsCmd.Flags().BoolVar(&resultsSummary, "summary", false, "print one metric per type")
	resultsCmd.Flags().BoolVar(&resultsAllConf, "include-low-confidence", true, "include metrics flagged for review")
	exportCmd.Flags().StringVar(&exportFormat, "format", report.FormatXLSX, "report format: xlsx or pdf")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output file path")
	exportCmd.Flags().BoolVar(&exportFlaggedOK, "include-low-confidence", true, "include metrics flagged for review")

	rootCmd.AddCommand(statusCmd, retryCmd, resultsCmd, exportCmd, migrateCmd)
}
