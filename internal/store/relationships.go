package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/nuka-memgraph/internal/relation"
	"go.uber.org/zap"
)

const relationshipColumns = `id, source_id, target_id, relationship_type, confidence, metadata, created_at_epoch`

const insertRelationship = `
	INSERT INTO observation_relationships
		(source_id, target_id, relationship_type, confidence, confidence_tier, metadata, created_at_epoch)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (source_id, target_id, relationship_type) DO NOTHING`

// WriteRelationships inserts rels in batches of batchSize inside a single transaction.
// Existing (source, target, type) triples are skipped. With reset set, every existing
// edge is deleted first in the same transaction. Any error rolls back the whole write.
// It returns the number of rows actually inserted.
func (s *Store) WriteRelationships(ctx context.Context, rels []relation.Relationship, batchSize int, reset bool) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	for i := range rels {
		if err := rels[i].Validate(); err != nil {
			return 0, err
		}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if reset {
		tag, err := tx.Exec(ctx, `DELETE FROM observation_relationships`)
		if err != nil {
			return 0, fmt.Errorf("reset relationships: %w", err)
		}
		s.logger.Info("Relationships reset", zap.Int64("deleted", tag.RowsAffected()))
	}

	now := time.Now().UnixMilli()
	var inserted int64
	for start := 0; start < len(rels); start += batchSize {
		end := start + batchSize
		if end > len(rels) {
			end = len(rels)
		}
		n, err := insertBatch(ctx, tx, rels[start:end], now)
		if err != nil {
			return 0, fmt.Errorf("insert batch at %d: %w", start, err)
		}
		inserted += n
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit relationships: %w", err)
	}
	s.logger.Debug("Relationships written",
		zap.Int("candidates", len(rels)),
		zap.Int64("inserted", inserted),
		zap.Bool("reset", reset))
	return inserted, nil
}

func insertBatch(ctx context.Context, tx pgx.Tx, rels []relation.Relationship, now int64) (int64, error) {
	batch := &pgx.Batch{}
	for _, r := range rels {
		created := r.CreatedAtEpoch
		if created == 0 {
			created = now
		}
		batch.Queue(insertRelationship,
			r.SourceID, r.TargetID, string(r.Type), r.Confidence,
			string(r.Tier()), r.Metadata, created)
	}

	br := tx.SendBatch(ctx, batch)
	var inserted int64
	for range rels {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, err
		}
		inserted += tag.RowsAffected()
	}
	if err := br.Close(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// BySource returns edges leaving id, strongest first.
func (s *Store) BySource(ctx context.Context, id int64, f relation.Filter) ([]relation.Relationship, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+relationshipColumns+`
		FROM observation_relationships
		WHERE source_id = $1
		  AND confidence >= $2
		  AND (cardinality($3::text[]) = 0 OR relationship_type = ANY($3))
		ORDER BY confidence DESC, id ASC
		LIMIT $4`,
		id, f.MinConfidence, f.TypeStrings(), limitArg(f.Limit))
	if err != nil {
		return nil, fmt.Errorf("query relationships by source: %w", err)
	}
	return collectRelationships(rows)
}

// ByTarget returns edges arriving at id, strongest first.
func (s *Store) ByTarget(ctx context.Context, id int64, f relation.Filter) ([]relation.Relationship, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+relationshipColumns+`
		FROM observation_relationships
		WHERE target_id = $1
		  AND confidence >= $2
		  AND (cardinality($3::text[]) = 0 OR relationship_type = ANY($3))
		ORDER BY confidence DESC, id ASC
		LIMIT $4`,
		id, f.MinConfidence, f.TypeStrings(), limitArg(f.Limit))
	if err != nil {
		return nil, fmt.Errorf("query relationships by target: %w", err)
	}
	return collectRelationships(rows)
}

// EdgesFor returns edges touching id in either direction, strongest first.
// The two directions are separate index scans joined with UNION ALL; an OR over
// both columns would fall back to a sequential scan.
func (s *Store) EdgesFor(ctx context.Context, id int64, f relation.Filter) ([]relation.Relationship, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+relationshipColumns+` FROM (
			SELECT `+relationshipColumns+`
			FROM observation_relationships
			WHERE source_id = $1
			  AND confidence >= $2
			  AND (cardinality($3::text[]) = 0 OR relationship_type = ANY($3))
			UNION ALL
			SELECT `+relationshipColumns+`
			FROM observation_relationships
			WHERE target_id = $1
			  AND confidence >= $2
			  AND (cardinality($3::text[]) = 0 OR relationship_type = ANY($3))
		) edges
		ORDER BY confidence DESC, id ASC
		LIMIT $4`,
		id, f.MinConfidence, f.TypeStrings(), limitArg(f.Limit))
	if err != nil {
		return nil, fmt.Errorf("query relationships for %d: %w", id, err)
	}
	return collectRelationships(rows)
}

// HighConfidence returns edges with confidence >= threshold, strongest first.
// Candidate rows are narrowed by the categorical tier index before the numeric filter.
func (s *Store) HighConfidence(ctx context.Context, threshold float64, limit int) ([]relation.Relationship, error) {
	tiers := relation.TierStrings(relation.TiersAtOrAbove(threshold))
	rows, err := s.db.Query(ctx, `
		SELECT `+relationshipColumns+`
		FROM observation_relationships
		WHERE confidence_tier = ANY($1)
		  AND confidence >= $2
		ORDER BY confidence DESC, id ASC
		LIMIT $3`,
		tiers, threshold, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("query high confidence relationships: %w", err)
	}
	return collectRelationships(rows)
}

// IncomingCounts returns how many edges point at each of ids. Ids with no incoming
// edges are absent from the map.
func (s *Store) IncomingCounts(ctx context.Context, ids []int64) (map[int64]int, error) {
	out := make(map[int64]int, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT target_id, COUNT(*)
		FROM observation_relationships
		WHERE target_id = ANY($1)
		GROUP BY target_id`, ids)
	if err != nil {
		return nil, fmt.Errorf("count incoming relationships: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan incoming count: %w", err)
		}
		out[id] = int(n)
	}
	return out, rows.Err()
}

// Stats summarizes the edge table.
type Stats struct {
	Total  int64                   `json:"total"`
	ByType map[relation.Type]int64 `json:"by_type"`
	ByTier map[relation.Tier]int64 `json:"by_tier"`
}

// Stats counts edges by type and by confidence tier.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		ByType: make(map[relation.Type]int64),
		ByTier: make(map[relation.Tier]int64),
	}
	rows, err := s.db.Query(ctx, `
		SELECT relationship_type, confidence_tier, COUNT(*)
		FROM observation_relationships
		GROUP BY relationship_type, confidence_tier`)
	if err != nil {
		return nil, fmt.Errorf("relationship stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var typ, tier string
		var n int64
		if err := rows.Scan(&typ, &tier, &n); err != nil {
			return nil, fmt.Errorf("scan relationship stats: %w", err)
		}
		st.ByType[relation.Type(typ)] += n
		st.ByTier[relation.Tier(tier)] += n
		st.Total += n
	}
	return st, rows.Err()
}

// Count returns the number of stored edges.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM observation_relationships`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count relationships: %w", err)
	}
	return n, nil
}

func collectRelationships(rows pgx.Rows) ([]relation.Relationship, error) {
	defer rows.Close()

	var out []relation.Relationship
	for rows.Next() {
		var r relation.Relationship
		var typ string
		if err := rows.Scan(&r.ID, &r.SourceID, &r.TargetID, &typ, &r.Confidence, &r.Metadata, &r.CreatedAtEpoch); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		r.Type = relation.Type(typ)
		out = append(out, r)
	}
	return out, rows.Err()
}

// limitArg maps a non-positive limit to SQL NULL, which Postgres treats as LIMIT ALL.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
