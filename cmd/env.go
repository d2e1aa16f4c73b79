package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fin-ingest/internal/blob"
	"github.com/sells-group/fin-ingest/internal/config"
	"github.com/sells-group/fin-ingest/internal/intake"
	"github.com/sells-group/fin-ingest/internal/ocr"
	"github.com/sells-group/fin-ingest/internal/pipeline"
	"github.com/sells-group/fin-ingest/internal/store"
)

// appEnv holds the store, blob store and pipeline stages shared by the
// commands.
type appEnv struct {
	Config    *config.Config
	Store     store.Store
	Blobs     blob.Store
	Extractor *pipeline.Extractor
	Validator *pipeline.Validator
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates cfg for mode, opens and migrates the store and, for
// modes that process documents, builds the extraction and validation
// stages. Callers should defer env.Close().
func initEnv(ctx context.Context, c *config.Config, mode string) (*appEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, c.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	env := &appEnv{Config: c, Store: st}

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	blobs, err := blob.NewFS(c.Blob.Root)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "open blob store")
	}
	env.Blobs = blobs

	if mode != "serve" && mode != "process" {
		return env, nil
	}

	analyzer, err := ocr.NewAnalyzer(ctx, c.OCR)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "init ocr")
	}
	env.Extractor = pipeline.NewExtractor(c, st, blobs, analyzer, nil)
	env.Validator, err = pipeline.NewValidator(c, st)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "init validator")
	}
	return env, nil
}

// inline wires both stages to run synchronously and returns the queue.
func (e *appEnv) inline() *pipeline.Inline {
	q := &pipeline.Inline{Extractor: e.Extractor, Validator: e.Validator}
	e.Extractor.SetQueue(q)
	return q
}

// intake returns an intake service that enqueues onto q.
func (e *appEnv) intake(q pipeline.Queue) *intake.Service {
	return intake.New(e.Config.Upload, e.Store, e.Blobs, q)
}
