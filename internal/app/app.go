// Package app opens the storage backends shared by the service and the CLI.
package app

import (
	"context"
	"fmt"

	"github.com/nidhogg/nuka-memgraph/internal/config"
	"github.com/nidhogg/nuka-memgraph/internal/coord"
	"github.com/nidhogg/nuka-memgraph/internal/detect"
	"github.com/nidhogg/nuka-memgraph/internal/graph"
	"github.com/nidhogg/nuka-memgraph/internal/metrics"
	"github.com/nidhogg/nuka-memgraph/internal/semantic"
	"github.com/nidhogg/nuka-memgraph/internal/store"
	"go.uber.org/zap"
)

// Backends holds the opened stores. Only Store is mandatory; the others are nil
// when unconfigured or unreachable.
type Backends struct {
	Store    *store.Store
	Mirror   *graph.Neo4jMirror
	Coord    *coord.Coordinator
	Semantic *semantic.Provider

	qdrant *semantic.QdrantIndex
	logger *zap.Logger
}

// Open connects PostgreSQL and runs migrations, then attaches whichever optional
// backends are reachable. Optional failures are logged and skipped.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Backends, error) {
	st, err := store.New(ctx, cfg.Database.Postgres.DSN, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	b := &Backends{Store: st, logger: logger}

	if nc := cfg.Database.Neo4j; nc.URI != "" {
		m, err := graph.NewNeo4jMirror(nc.URI, nc.User, nc.Password, logger)
		if err == nil {
			err = m.EnsureSchema(ctx)
			if err != nil {
				m.Close(ctx)
			}
		}
		if err != nil {
			logger.Warn("Neo4j unavailable, running without graph mirror", zap.Error(err))
		} else {
			b.Mirror = m
		}
	}

	if url := cfg.Database.Redis.URL; url != "" {
		c, err := coord.NewCoordinator(url, logger)
		if err != nil {
			logger.Warn("Redis unavailable, running without run coordination", zap.Error(err))
		} else {
			b.Coord = c
		}
	}

	if cfg.Database.Qdrant.Host != "" && cfg.Embedding.Endpoint != "" {
		p, idx, err := openSemantic(ctx, cfg, logger)
		if err != nil {
			logger.Warn("semantic search unavailable", zap.Error(err))
		} else {
			b.Semantic, b.qdrant = p, idx
		}
	}

	logger.Info("Backends opened",
		zap.Bool("neo4j", b.Mirror != nil),
		zap.Bool("redis", b.Coord != nil),
		zap.Bool("qdrant", b.Semantic != nil))
	return b, nil
}

func openSemantic(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*semantic.Provider, *semantic.QdrantIndex, error) {
	emb, err := semantic.NewEmbedder(cfg.Embedding)
	if err != nil {
		return nil, nil, err
	}
	idx, err := semantic.NewQdrantIndex(cfg.Database.Qdrant)
	if err != nil {
		return nil, nil, err
	}
	p := semantic.NewProvider(emb, idx, cfg.Database.Qdrant.Collection, logger)
	if err := p.Init(ctx); err != nil {
		idx.Close()
		return nil, nil, fmt.Errorf("init semantic provider: %w", err)
	}
	return p, idx, nil
}

// DetectionJob builds a detection job over the store with every available
// optional backend attached.
func (b *Backends) DetectionJob(cfg detect.Config, m *metrics.Metrics) (*detect.Job, error) {
	job, err := detect.NewJob(cfg, b.Store, b.Store, b.logger)
	if err != nil {
		return nil, err
	}
	if b.Mirror != nil {
		job.SetMirror(b.Mirror)
	}
	if b.Coord != nil {
		job.SetCoordinator(b.Coord)
	}
	job.SetMetrics(m)
	return job, nil
}

// Close releases every open backend.
func (b *Backends) Close(ctx context.Context) {
	if b.qdrant != nil {
		b.qdrant.Close()
	}
	if b.Coord != nil {
		b.Coord.Close()
	}
	if b.Mirror != nil {
		b.Mirror.Close(ctx)
	}
	b.Store.Close()
}
