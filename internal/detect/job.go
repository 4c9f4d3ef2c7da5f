package detect

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/nuka-memgraph/internal/coord"
	"github.com/nidhogg/nuka-memgraph/internal/metrics"
	"github.com/nidhogg/nuka-memgraph/internal/observation"
	"github.com/nidhogg/nuka-memgraph/internal/relation"
	"go.uber.org/zap"
)

// ErrRunInProgress is returned when another detection run holds the job lock.
var ErrRunInProgress = errors.New("detection run already in progress")

const (
	lockName = "detect"
	// lockTTL bounds how long a crashed run blocks the next one. The coordinator
	// renews the lock while a run is alive, so long runs keep it.
	lockTTL    = 2 * time.Minute
	RunsStream = "detect:runs"
)

// Writer persists a detection run's relationships atomically: either every row of
// the run is committed or none is. With reset set, existing edges are removed in
// the same transaction before inserting.
type Writer interface {
	WriteRelationships(ctx context.Context, rels []relation.Relationship, batchSize int, reset bool) (int64, error)
}

// Mirror receives a copy of committed relationships. Failures never fail a run.
type Mirror interface {
	Project(ctx context.Context, rels []relation.Relationship) error
}

// resetter is implemented by mirrors that can drop their projection before a full run.
type resetter interface {
	Reset(ctx context.Context) error
}

// Coordinator serializes runs across processes and records their summaries.
type Coordinator interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error)
	Publish(ctx context.Context, stream string, v any) error
}

// RunOptions controls a single run.
type RunOptions struct {
	// Full removes every existing relationship before inserting the new set.
	Full bool
}

// Summary describes a completed detection run.
type Summary struct {
	RunID         string                `json:"run_id"`
	StartedAt     time.Time             `json:"started_at"`
	Duration      time.Duration         `json:"duration"`
	Full          bool                  `json:"full"`
	Observations  int                   `json:"observations"`
	PairsCompared int                   `json:"pairs_compared"`
	Detected      int                   `json:"detected"`
	Inserted      int64                 `json:"inserted"`
	ByType        map[relation.Type]int `json:"by_type"`
}

// Job runs relationship detection over a bounded window of recent observations.
// Runs are single-threaded; the window compares each observation only with the
// next CompareWindow observations so cost stays near-linear.
type Job struct {
	cfg      Config
	detector *Detector
	source   observation.Accessor
	writer   Writer
	mirror   Mirror
	coord    Coordinator
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewJob creates a detection job. The configuration is validated up front.
func NewJob(cfg Config, source observation.Accessor, writer Writer, logger *zap.Logger) (*Job, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Job{
		cfg:      cfg,
		detector: NewDetector(cfg),
		source:   source,
		writer:   writer,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// SetMirror attaches a best-effort projection target for committed edges.
func (j *Job) SetMirror(m Mirror) { j.mirror = m }

// SetCoordinator attaches cross-process run coordination.
func (j *Job) SetCoordinator(c Coordinator) { j.coord = c }

// SetMetrics attaches Prometheus collectors.
func (j *Job) SetMetrics(m *metrics.Metrics) { j.metrics = m }

// Run executes one detection pass. Any failure while writing aborts the whole run;
// re-running is safe because inserts skip existing (source, target, type) triples.
func (j *Job) Run(ctx context.Context, opts RunOptions) (*Summary, error) {
	start := j.now()
	sum := &Summary{
		RunID:     uuid.New().String(),
		StartedAt: start,
		Full:      opts.Full,
		ByType:    make(map[relation.Type]int),
	}

	if j.coord != nil {
		release, err := j.coord.Acquire(ctx, lockName, lockTTL)
		switch {
		case errors.Is(err, coord.ErrLockHeld):
			return nil, ErrRunInProgress
		case err != nil:
			j.logger.Warn("run lock unavailable, continuing without it", zap.Error(err))
		default:
			defer func() {
				if err := release(context.Background()); err != nil {
					j.logger.Warn("failed to release run lock", zap.Error(err))
				}
			}()
		}
	}

	since := start.UnixMilli() - j.cfg.MaxLookbackMs
	observations, err := j.source.RecentObservations(ctx, j.cfg.MaxObservations, since)
	if err != nil {
		j.metrics.RecordDetectionRun(false, j.now().Sub(start), 0, 0)
		return nil, fmt.Errorf("load observations: %w", err)
	}
	sortByTime(observations)
	sum.Observations = len(observations)

	rels, pairs := j.detectAll(observations)
	sum.PairsCompared = pairs
	sum.Detected = len(rels)
	for _, r := range rels {
		sum.ByType[r.Type]++
		j.metrics.RecordDetected(string(r.Type))
	}

	inserted, err := j.writer.WriteRelationships(ctx, rels, j.cfg.BatchSize, opts.Full)
	if err != nil {
		j.metrics.RecordDetectionRun(false, j.now().Sub(start), pairs, 0)
		j.logger.Error("detection run rolled back",
			zap.String("run", sum.RunID),
			zap.Int("detected", len(rels)),
			zap.Error(err))
		return nil, fmt.Errorf("write relationships: %w", err)
	}
	sum.Inserted = inserted
	sum.Duration = j.now().Sub(start)
	j.metrics.RecordDetectionRun(true, sum.Duration, pairs, inserted)

	if j.mirror != nil {
		j.project(ctx, sum.RunID, rels, opts.Full)
	}
	if j.coord != nil {
		if err := j.coord.Publish(ctx, RunsStream, sum); err != nil {
			j.logger.Warn("failed to publish run summary", zap.String("run", sum.RunID), zap.Error(err))
		}
	}

	j.logger.Info("detection run complete",
		zap.String("run", sum.RunID),
		zap.Bool("full", opts.Full),
		zap.Int("observations", sum.Observations),
		zap.Int("pairs", sum.PairsCompared),
		zap.Int("detected", sum.Detected),
		zap.Int64("inserted", sum.Inserted),
		zap.Duration("duration", sum.Duration))
	return sum, nil
}

func (j *Job) project(ctx context.Context, runID string, rels []relation.Relationship, full bool) {
	if r, ok := j.mirror.(resetter); ok && full {
		if err := r.Reset(ctx); err != nil {
			j.logger.Warn("graph mirror reset failed", zap.String("run", runID), zap.Error(err))
			return
		}
	}
	if len(rels) == 0 {
		return
	}
	if err := j.mirror.Project(ctx, rels); err != nil {
		j.logger.Warn("graph mirror projection failed", zap.String("run", runID), zap.Error(err))
	}
}

// detectAll compares each observation with the following CompareWindow observations.
// The earlier observation of a pair is always the source.
func (j *Job) detectAll(observations []*observation.Observation) ([]relation.Relationship, int) {
	var rels []relation.Relationship
	pairs := 0
	for i, src := range observations {
		end := i + 1 + j.cfg.CompareWindow
		if end > len(observations) {
			end = len(observations)
		}
		for _, tgt := range observations[i+1 : end] {
			pairs++
			if rel, ok := j.detector.Detect(src, tgt); ok {
				rels = append(rels, *rel)
			}
		}
	}
	return rels, pairs
}

func sortByTime(observations []*observation.Observation) {
	sort.SliceStable(observations, func(a, b int) bool {
		if observations[a].CreatedAtEpoch != observations[b].CreatedAtEpoch {
			return observations[a].CreatedAtEpoch < observations[b].CreatedAtEpoch
		}
		return observations[a].ID < observations[b].ID
	})
}
