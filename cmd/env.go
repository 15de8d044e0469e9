package main

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/registry-sync/internal/blob"
	"github.com/sells-group/registry-sync/internal/company"
	"github.com/sells-group/registry-sync/internal/document"
	"github.com/sells-group/registry-sync/internal/fetcher"
	"github.com/sells-group/registry-sync/internal/locate"
	"github.com/sells-group/registry-sync/internal/parser"
	"github.com/sells-group/registry-sync/internal/pipeline"
	"github.com/sells-group/registry-sync/internal/store"
	"github.com/sells-group/registry-sync/internal/tables"
)

// initStore opens the configured store and applies migrations.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// pipelineEnv holds the wired components shared by run, serve and the
// document commands.
type pipelineEnv struct {
	Store    store.Store
	Blobs    blob.Store
	Docs     *document.Service
	Locator  *locate.Locator
	Parser   *parser.Service
	Pipeline *pipeline.Pipeline
}

func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	blobs, err := blob.New(ctx, cfg.Blob)
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "init blob store")
	}

	ext, err := tables.NewExtractor(cfg.Tables)
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      cfg.Fetch.DownloadTimeout(),
		MaxRetries:   cfg.Fetch.MaxRetries,
		MaxBodyBytes: int64(cfg.Fetch.MaxBodyMB) << 20,
		RateLimiters: fetcher.RateLimiters(cfg.Fetch.HostRates()),
	})

	docs := document.New(f, blobs, st, document.Options{
		Prefix:  cfg.Blob.Prefix,
		Timeout: cfg.Fetch.DownloadTimeout(),
	})
	loc := locate.New(f, cfg.Fetch.PageTimeout())
	ps := parser.NewService(parser.New(parser.Options{
		HeaderKeywords: cfg.Parser.HeaderKeywords,
		MinNameLength:  cfg.Parser.MinNameLength,
		MinColumns:     cfg.Parser.MinColumns,
	}), ext, st)
	rec := company.NewReconciler(st, st, company.Options{
		DefaultCategory:   cfg.Sync.DefaultCategory,
		CleanDisplayNames: cfg.Sync.CleanDisplayNames,
	})

	zap.L().Debug("pipeline initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("blob", cfg.Blob.Backend),
		zap.String("tables", cfg.Tables.Provider),
	)

	return &pipelineEnv{
		Store:    st,
		Blobs:    blobs,
		Docs:     docs,
		Locator:  loc,
		Parser:   ps,
		Pipeline: pipeline.New(loc, docs, tables.NewValidator(ext), ps, rec, st),
	}, nil
}

// Close releases the store and any blob client that holds connections.
func (e *pipelineEnv) Close() {
	if c, ok := e.Blobs.(io.Closer); ok {
		if err := c.Close(); err != nil {
			zap.L().Warn("close blob store", zap.Error(err))
		}
	}
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}
