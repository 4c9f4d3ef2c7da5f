package detect

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Config controls a detection run. All fields are overridable.
type Config struct {
	TemporalWindowMs  int64   `json:"temporal_window_ms" validate:"gt=0"`
	MinConceptOverlap int     `json:"min_concept_overlap" validate:"gte=1"`
	MinConfidence     float64 `json:"min_confidence" validate:"gte=0,lte=1"`
	MaxLookbackMs     int64   `json:"max_lookback_ms" validate:"gt=0"`
	BatchSize         int     `json:"batch_size" validate:"gt=0"`
	MaxObservations   int     `json:"max_observations" validate:"gt=0"`
	CompareWindow     int     `json:"compare_window" validate:"gt=0"` // later observations each one is compared against
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TemporalWindowMs:  3_600_000,
		MinConceptOverlap: 3,
		MinConfidence:     0.4,
		MaxLookbackMs:     7 * 24 * 3_600_000,
		BatchSize:         500,
		MaxObservations:   5000,
		CompareWindow:     100,
	}
}

// Validate checks every field against its allowed range.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid detection config: %w", err)
	}
	return nil
}
