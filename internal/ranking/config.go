package ranking

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/goccy/go-json"
)

// ErrInvalidWeights is returned for calibrations that cannot produce a sane order.
var ErrInvalidWeights = errors.New("invalid ranking weights")

// Weights holds the tunable constants of the ranking pipeline.
type Weights struct {
	Recency         float64 `json:"recency"`         // Weight for freshness (default: 0.4)
	Popularity      float64 `json:"popularity"`      // Weight for view count (default: 0.3)
	FeaturedBoost   float64 `json:"featured_boost"`  // Additive editorial boost (default: 1.0)
	Personalization float64 `json:"personalization"` // Used only for reason attribution (default: 0.5)

	RecencyHalfLifeHours float64 `json:"recency_half_life_hours"` // default: 168 (7 days)
	MaxPositionShift     float64 `json:"max_position_shift"`      // Slots personalization may move an item (default: 3)
}

// HalfLife returns the recency half-life as a duration.
func (w *Weights) HalfLife() time.Duration {
	return time.Duration(w.RecencyHalfLifeHours * float64(time.Hour))
}

// FeaturedBandHolds reports whether the featured boost exceeds everything
// recency and popularity can add together. Featured posts then form the top
// band of the base order and personalization shifts do not cross it.
func (w *Weights) FeaturedBandHolds() bool {
	return w.FeaturedBoost > w.Recency+w.Popularity
}

// Validate rejects negative weights and a non-positive half-life.
func (w *Weights) Validate() error {
	checks := []struct {
		name  string
		value float64
	}{
		{"recency", w.Recency},
		{"popularity", w.Popularity},
		{"featured_boost", w.FeaturedBoost},
		{"personalization", w.Personalization},
		{"max_position_shift", w.MaxPositionShift},
	}
	for _, c := range checks {
		if c.value < 0 || isNaNOrInf(c.value) {
			return fmt.Errorf("%w: %s must be a non-negative number, got %v", ErrInvalidWeights, c.name, c.value)
		}
	}
	if !(w.RecencyHalfLifeHours > 0) || isNaNOrInf(w.RecencyHalfLifeHours) {
		return fmt.Errorf("%w: recency_half_life_hours must be positive, got %v", ErrInvalidWeights, w.RecencyHalfLifeHours)
	}
	return nil
}

// CalibrationConfig represents the JSON structure of the calibration file.
type CalibrationConfig struct {
	Version string  `json:"version"`
	Weights Weights `json:"weights"`
}

// DefaultWeights returns the default ranking weight configuration.
//
// base = (recency * 0.4) + (popularity * 0.3) + (featured * 1.0)
//   - recency decays with a 7 day half-life
//   - popularity is log-scaled against the batch maximum
//   - max score without the boost: 0.7, so featured always forms the top band
//
// Personalization may move an item at most 3 slots.
func DefaultWeights() *Weights {
	return &Weights{
		Recency:              0.4,
		Popularity:           0.3,
		FeaturedBoost:        1.0,
		Personalization:      0.5,
		RecencyHalfLifeHours: 168,
		MaxPositionShift:     3,
	}
}

// LoadCalibration loads ranking weights from a JSON calibration file.
// Partial files are merged over the defaults. On any error the defaults are
// returned together with the error so callers can log and continue.
func LoadCalibration(filePath string) (*Weights, error) {
	if filePath == "" {
		return DefaultWeights(), nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		slog.Warn("failed to read calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to read calibration file: %w", err)
	}

	var config CalibrationConfig
	if err := json.Unmarshal(data, &config); err != nil {
		slog.Warn("failed to parse calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to parse calibration file: %w", err)
	}

	defaults := DefaultWeights()
	merged := MergeCalibration(defaults, &config.Weights)
	if err := merged.Validate(); err != nil {
		slog.Warn("rejected calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), err
	}
	logCalibrationOverrides(config.Version, defaults, merged)

	return merged, nil
}

// MergeCalibration merges override weights over base weights.
// Only non-zero override values are applied, so a calibration file may list
// just the constants it tunes.
func MergeCalibration(base *Weights, override *Weights) *Weights {
	if base == nil {
		return DefaultWeights()
	}

	result := *base
	if override == nil {
		return &result
	}

	mergeField(&result.Recency, override.Recency)
	mergeField(&result.Popularity, override.Popularity)
	mergeField(&result.FeaturedBoost, override.FeaturedBoost)
	mergeField(&result.Personalization, override.Personalization)
	mergeField(&result.RecencyHalfLifeHours, override.RecencyHalfLifeHours)
	mergeField(&result.MaxPositionShift, override.MaxPositionShift)

	return &result
}

func mergeField(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

// logCalibrationOverrides logs which weights differ from defaults.
func logCalibrationOverrides(version string, defaults, loaded *Weights) {
	pairs := []struct {
		name     string
		def, got float64
	}{
		{"recency", defaults.Recency, loaded.Recency},
		{"popularity", defaults.Popularity, loaded.Popularity},
		{"featured_boost", defaults.FeaturedBoost, loaded.FeaturedBoost},
		{"personalization", defaults.Personalization, loaded.Personalization},
		{"recency_half_life_hours", defaults.RecencyHalfLifeHours, loaded.RecencyHalfLifeHours},
		{"max_position_shift", defaults.MaxPositionShift, loaded.MaxPositionShift},
	}

	var overrides []string
	for _, p := range pairs {
		if p.def != p.got {
			overrides = append(overrides, fmt.Sprintf("%s: %.2f -> %.2f", p.name, p.def, p.got))
		}
	}

	if len(overrides) > 0 {
		slog.Info("loaded ranking calibration with overrides",
			"version", version,
			"overrides", overrides)
	} else {
		slog.Info("loaded ranking calibration (using all defaults)", "version", version)
	}
}
