package importance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nidhogg/nuka-memgraph/internal/observation"
	"go.uber.org/zap"
)

// ErrNotFound is returned by Service.Score for an unknown observation.
var ErrNotFound = errors.New("observation not found")

// RefCounter counts incoming relationships per observation.
type RefCounter interface {
	IncomingCounts(ctx context.Context, ids []int64) (map[int64]int, error)
}

// Service scores stored observations. Ids unknown to the accessor are absent from results.
type Service struct {
	observations observation.Accessor
	refs         RefCounter
	logger       *zap.Logger
	now          func() time.Time
}

// NewService creates an importance service. refs may be nil, in which case the
// backward-reference term is always zero.
func NewService(observations observation.Accessor, refs RefCounter, logger *zap.Logger) *Service {
	return &Service{
		observations: observations,
		refs:         refs,
		logger:       logger,
		now:          time.Now,
	}
}

// Scores loads ids and scores them in a single pass.
func (s *Service) Scores(ctx context.Context, ids []int64) (map[int64]Breakdown, error) {
	out := make(map[int64]Breakdown, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	obs, err := s.observations.GetObservations(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load observations: %w", err)
	}

	counts := map[int64]int{}
	if s.refs != nil {
		counts, err = s.refs.IncomingCounts(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("count backward references: %w", err)
		}
	}

	now := s.now()
	for id, o := range obs {
		out[id] = Score(FeaturesOf(o, counts[id]), now)
	}

	if missing := len(ids) - len(obs); missing > 0 {
		s.logger.Debug("importance requested for unknown observations", zap.Int("missing", missing))
	}
	return out, nil
}

// Score returns the breakdown for a single observation.
func (s *Service) Score(ctx context.Context, id int64) (*Breakdown, error) {
	scores, err := s.Scores(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	b, ok := scores[id]
	if !ok {
		return nil, fmt.Errorf("score %d: %w", id, ErrNotFound)
	}
	return &b, nil
}
