package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fusionaix/rfp-cli/internal/kb"
	"github.com/fusionaix/rfp-cli/internal/pipeline"
	"github.com/fusionaix/rfp-cli/internal/store"
	"github.com/fusionaix/rfp-cli/pkg/llm"
	"github.com/fusionaix/rfp-cli/pkg/retrieval"
)

// pipelineEnv holds the initialized store, clients, and pipeline needed by
// the process/ask/generate/serve commands.
type pipelineEnv struct {
	Store     store.Store
	Pipeline  *pipeline.Pipeline
	Retriever retrieval.Retriever // may be nil
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Retriever != nil {
		_ = pe.Retriever.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initStore opens the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		return store.NewMemory(), nil
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "rfp.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// indexCorpusDir loads reference documents (.txt/.md) from a directory
// into the retriever. File paths double as document IDs, so re-running
// replaces rather than duplicates.
func indexCorpusDir(ctx context.Context, retriever retrieval.Retriever, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return eris.Wrapf(err, "read corpus dir %s", dir)
	}

	var docs []retrieval.Document
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".txt" && ext != ".md" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			zap.L().Warn("skipping unreadable corpus file", zap.String("path", path), zap.Error(err))
			continue
		}
		docs = append(docs, retrieval.Document{
			ID:      path,
			Title:   strings.TrimSuffix(entry.Name(), ext),
			Content: string(data),
		})
	}
	if len(docs) == 0 {
		return nil
	}

	if err := retriever.Add(ctx, docs...); err != nil {
		return eris.Wrap(err, "index corpus documents")
	}
	zap.L().Info("reference corpus indexed", zap.Int("documents", len(docs)), zap.String("dir", dir))
	return nil
}

// initPipeline sets up the store, LLM client, reference retriever, and
// company knowledge base, then builds the Pipeline. Callers should defer
// env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate("pipeline"); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	client := llm.NewClient(cfg.Anthropic.Key)

	// Reference retriever is optional: a missing or broken index degrades
	// generation context, it never blocks the pipeline.
	var retriever retrieval.Retriever
	if cfg.Retrieval.IndexPath != "" {
		r, rErr := retrieval.NewSQLite(cfg.Retrieval.IndexPath)
		if rErr != nil {
			zap.L().Warn("reference index unavailable, continuing without retrieval",
				zap.String("index_path", cfg.Retrieval.IndexPath),
				zap.Error(rErr),
			)
		} else {
			retriever = r
		}
	}
	if retriever != nil && cfg.Retrieval.CorpusDir != "" {
		if err := indexCorpusDir(ctx, retriever, cfg.Retrieval.CorpusDir); err != nil {
			zap.L().Warn("corpus indexing failed, continuing with existing index",
				zap.String("corpus_dir", cfg.Retrieval.CorpusDir),
				zap.Error(err),
			)
		}
	}

	companyKB, err := kb.Load(cfg.KB.ProfilePath)
	if err != nil {
		if retriever != nil {
			_ = retriever.Close()
		}
		_ = st.Close()
		return nil, eris.Wrap(err, "load company profile")
	}
	if len(companyKB.KnownTopics()) == 0 {
		zap.L().Warn("company profile is empty, gap analysis will ask about everything",
			zap.String("profile_path", cfg.KB.ProfilePath),
		)
	}

	p := pipeline.New(cfg, st, client, retriever, companyKB)

	return &pipelineEnv{
		Store:     st,
		Pipeline:  p,
		Retriever: retriever,
	}, nil
}
