package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/nuka-memgraph/internal/observation"
)

const observationColumns = `id, session_id, type, narrative, facts, concepts,
	files_read, files_modified, tool_name, discovery_tokens, created_at_epoch`

// GetObservations returns the observations that exist among ids, keyed by id.
func (s *Store) GetObservations(ctx context.Context, ids []int64) (map[int64]*observation.Observation, error) {
	out := make(map[int64]*observation.Observation, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+observationColumns+`
		FROM observations
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get observations: %w", err)
	}
	list, err := collectObservations(rows)
	if err != nil {
		return nil, err
	}
	for _, o := range list {
		out[o.ID] = o
	}
	return out, nil
}

// RecentObservations returns up to limit of the newest observations created at or
// after sinceEpochMs, in ascending creation order.
func (s *Store) RecentObservations(ctx context.Context, limit int, sinceEpochMs int64) ([]*observation.Observation, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+observationColumns+` FROM (
			SELECT `+observationColumns+`
			FROM observations
			WHERE created_at_epoch >= $1
			ORDER BY created_at_epoch DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at_epoch ASC, id ASC`,
		sinceEpochMs, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("recent observations: %w", err)
	}
	return collectObservations(rows)
}

// InsertObservation stores o and sets its ID. The engine never writes observations
// in production; this exists for seeding and tests.
func (s *Store) InsertObservation(ctx context.Context, o *observation.Observation) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO observations
			(session_id, type, narrative, facts, concepts, files_read, files_modified,
			 tool_name, discovery_tokens, created_at_epoch)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		o.SessionID, string(o.Type), o.Narrative, nonNil(o.Facts), nonNil(o.Concepts),
		nonNil(o.FilesRead), nonNil(o.FilesModified), o.ToolName, o.DiscoveryTokens, o.CreatedAtEpoch,
	).Scan(&o.ID)
	if err != nil {
		return fmt.Errorf("insert observation: %w", err)
	}
	return nil
}

func collectObservations(rows pgx.Rows) ([]*observation.Observation, error) {
	defer rows.Close()

	var out []*observation.Observation
	for rows.Next() {
		o := &observation.Observation{}
		var typ string
		if err := rows.Scan(
			&o.ID, &o.SessionID, &typ, &o.Narrative, &o.Facts, &o.Concepts,
			&o.FilesRead, &o.FilesModified, &o.ToolName, &o.DiscoveryTokens, &o.CreatedAtEpoch,
		); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		o.Type = observation.Type(typ)
		out = append(out, o)
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
