package main

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/fin-ingest/internal/intake"
	"github.com/sells-group/fin-ingest/internal/lifecycle"
)

var processConcurrency int

var processCmd = &cobra.Command{
	Use:   "process <file>...",
	Short: "Ingest local PDF or XLSX files and process them synchronously",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		outcomes, err := processFiles(ctx, env, args, processConcurrency)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), outcomes)
	},
}

// processOutcome is printed for each file.
type processOutcome struct {
	File       string           `json:"file"`
	DocumentID string           `json:"document_id,omitempty"`
	Status     lifecycle.Status `json:"status"`
	Error      string           `json:"error,omitempty"`
}

// processFiles ingests each path and runs extraction and validation
// inline, at most concurrency files at a time. A failing file does not
// stop the others; its outcome carries the error.
func processFiles(ctx context.Context, env *appEnv, paths []string, concurrency int) ([]processOutcome, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	svc := env.intake(env.inline())

	outcomes := make([]processOutcome, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, path := range paths {
		g.Go(func() error {
			outcomes[i] = processFile(gctx, env, svc, path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "process files")
	}

	var failed int
	for _, o := range outcomes {
		if o.Status != lifecycle.StatusCompleted {
			failed++
		}
	}
	zap.L().Info("process: batch complete",
		zap.Int("files", len(paths)),
		zap.Int("failed", failed),
	)
	return outcomes, nil
}

func processFile(ctx context.Context, env *appEnv, svc *intake.Service, path string) processOutcome {
	out := processOutcome{File: path}
	log := zap.L().With(zap.String("file", path))

	data, err := readLocal(path, svc.MaxBytes())
	if err != nil {
		out.Status = lifecycle.StatusFailed
		out.Error = err.Error()
		log.Error("process: read file", zap.Error(err))
		return out
	}

	rec, err := svc.Ingest(ctx, intake.Upload{Name: filepath.Base(path), Data: data})
	if rec != nil {
		out.DocumentID = rec.DocumentID
	}
	if err != nil {
		out.Error = err.Error()
		log.Warn("process: document did not complete", zap.Error(err))
	}
	if rec == nil {
		out.Status = lifecycle.StatusFailed
		return out
	}

	events, lerr := env.Store.ListEvents(ctx, rec.DocumentID, 0)
	if lerr != nil {
		out.Status = lifecycle.StatusUnknown
		return out
	}
	out.Status = lifecycle.DeriveStatus(events)
	return out
}

// readLocal reads at most limit+1 bytes so intake can reject oversize
// files without loading them whole.
func readLocal(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	return data, nil
}

func init() {
	processCmd.Flags().IntVar(&processConcurrency, "concurrency", 2, "files processed in parallel")
	rootCmd.AddCommand(processCmd)
}
