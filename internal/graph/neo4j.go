package graph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/nidhogg/nuka-memgraph/internal/relation"
	"go.uber.org/zap"
)

const projectChunk = 500

// Neo4jMirror projects committed relationships into Neo4j as
// (:Observation)-[:RELATES_TO {type}]->(:Observation). PostgreSQL stays the
// source of truth; the mirror can also serve one-hop lookups.
type Neo4jMirror struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewNeo4jMirror creates a mirror backed by a new Neo4j driver.
func NewNeo4jMirror(uri, user, password string, logger *zap.Logger) (*Neo4jMirror, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Neo4jMirror{driver: driver, logger: logger}, nil
}

// Close shuts down the Neo4j driver.
func (m *Neo4jMirror) Close(ctx context.Context) error {
	return m.driver.Close(ctx)
}

// Ping verifies the Neo4j connection.
func (m *Neo4jMirror) Ping(ctx context.Context) error {
	return m.driver.VerifyConnectivity(ctx)
}

// EnsureSchema creates the uniqueness constraint on observation ids.
func (m *Neo4jMirror) EnsureSchema(ctx context.Context) error {
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`CREATE CONSTRAINT observation_id IF NOT EXISTS
		 FOR (o:Observation) REQUIRE o.id IS UNIQUE`, nil)
	if err != nil {
		return fmt.Errorf("create observation constraint: %w", err)
	}
	return nil
}

// Project merges rels into the graph. Existing edges keep their original properties.
func (m *Neo4jMirror) Project(ctx context.Context, rels []relation.Relationship) error {
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	for start := 0; start < len(rels); start += projectChunk {
		end := start + projectChunk
		if end > len(rels) {
			end = len(rels)
		}
		rows := make([]map[string]interface{}, 0, end-start)
		for _, r := range rels[start:end] {
			meta, err := json.Marshal(r.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata: %w", err)
			}
			rows = append(rows, map[string]interface{}{
				"source":     r.SourceID,
				"target":     r.TargetID,
				"type":       string(r.Type),
				"confidence": r.Confidence,
				"tier":       string(r.Tier()),
				"metadata":   string(meta),
				"created":    r.CreatedAtEpoch,
			})
		}

		_, err := session.Run(ctx,
			`UNWIND $rels AS r
			 MERGE (a:Observation {id: r.source})
			 MERGE (b:Observation {id: r.target})
			 MERGE (a)-[e:RELATES_TO {type: r.type}]->(b)
			 ON CREATE SET e.confidence = r.confidence,
			               e.tier = r.tier,
			               e.metadata = r.metadata,
			               e.created_at_epoch = r.created`,
			map[string]interface{}{"rels": rows})
		if err != nil {
			return fmt.Errorf("project relationships %d-%d: %w", start, end, err)
		}
	}

	m.logger.Debug("relationships projected to neo4j", zap.Int("count", len(rels)))
	return nil
}

// Reset removes every projected relationship.
func (m *Neo4jMirror) Reset(ctx context.Context) error {
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx, `MATCH ()-[e:RELATES_TO]->() DELETE e`, nil)
	if err != nil {
		return fmt.Errorf("reset neo4j relationships: %w", err)
	}
	return nil
}

// EdgesFor returns the projected edges touching id in either direction, strongest first.
func (m *Neo4jMirror) EdgesFor(ctx context.Context, id int64, f relation.Filter) ([]relation.Relationship, error) {
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (n:Observation {id: $id})-[e:RELATES_TO]-()
		WHERE e.confidence >= $min
		  AND (size($types) = 0 OR e.type IN $types)
		RETURN startNode(e).id AS source, endNode(e).id AS target,
		       e.type AS type, e.confidence AS confidence,
		       coalesce(e.metadata, '{}') AS metadata,
		       coalesce(e.created_at_epoch, 0) AS created
		ORDER BY confidence DESC`
	if f.Limit > 0 {
		query += ` LIMIT ` + itoa(f.Limit)
	}

	result, err := session.Run(ctx, query, map[string]interface{}{
		"id":    id,
		"min":   f.MinConfidence,
		"types": f.TypeStrings(),
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j edges for %d: %w", id, err)
	}

	var out []relation.Relationship
	for result.Next(ctx) {
		rec := result.Record()
		var r relation.Relationship
		if v, ok := rec.Get("source"); ok && v != nil {
			r.SourceID = v.(int64)
		}
		if v, ok := rec.Get("target"); ok && v != nil {
			r.TargetID = v.(int64)
		}
		if v, ok := rec.Get("type"); ok && v != nil {
			r.Type = relation.Type(v.(string))
		}
		if v, ok := rec.Get("confidence"); ok && v != nil {
			r.Confidence = v.(float64)
		}
		if v, ok := rec.Get("created"); ok && v != nil {
			r.CreatedAtEpoch = v.(int64)
		}
		if v, ok := rec.Get("metadata"); ok && v != nil {
			if err := json.Unmarshal([]byte(v.(string)), &r.Metadata); err != nil {
				m.logger.Warn("bad projected metadata", zap.Int64("observation", id), zap.Error(err))
			}
		}
		out = append(out, r)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("neo4j edges for %d: %w", id, err)
	}
	return out, nil
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}
