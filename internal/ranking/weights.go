package ranking

import (
	"math"
	"time"
)

// RecencySignal computes a freshness score in [0, 1] with exponential decay.
//
// Formula: 0.5^(age / halfLife). A post published now scores 1.0, one
// half-life old scores 0.5. Future publish times clamp to 1.0 and drafts
// (nil publishedAt) score 0.
func RecencySignal(publishedAt *time.Time, now time.Time, halfLife time.Duration) float64 {
	if publishedAt == nil {
		return 0
	}
	age := now.Sub(*publishedAt)
	if age <= 0 {
		return 1
	}
	if halfLife <= 0 {
		return 0
	}
	return math.Pow(0.5, float64(age)/float64(halfLife))
}

// PopularitySignal computes a log-scaled popularity score in [0, 1].
//
// Formula: log1p(views) / log1p(maxViews), where maxViews is the largest view
// count in the batch. Log scaling keeps one viral post from flattening the
// rest of the batch. Returns 0 when the batch maximum is 0.
func PopularitySignal(views, maxViews int64) float64 {
	if maxViews <= 0 || views <= 0 {
		return 0
	}
	if views >= maxViews {
		return 1
	}
	return math.Log1p(float64(views)) / math.Log1p(float64(maxViews))
}

// BaseParams holds the personalization-free inputs for one post.
type BaseParams struct {
	Recency    float64 // [0, 1]
	Popularity float64 // [0, 1]
	Featured   bool
}

// BaseScore computes the personalization-free sort key.
//
// Default formula: base = (recency * 0.4) + (popularity * 0.3) + (featured ? 1.0 : 0)
// The other signals top out at 0.7, so the featured boost puts every featured
// post above every non-featured post while recency and popularity still order
// featured posts among themselves.
func BaseScore(params BaseParams, weights *Weights) float64 {
	if weights == nil {
		weights = DefaultWeights()
	}

	score := params.Recency*weights.Recency + params.Popularity*weights.Popularity
	if params.Featured {
		score += weights.FeaturedBoost
	}
	return score
}

// PositionShift converts a normalized recommendation score into a signed slot
// offset. Negative values move an item toward the front. The result is
// clamped to [-maxShift, +maxShift] for any input.
func PositionShift(normalized, maxShift float64) float64 {
	if maxShift <= 0 || math.IsNaN(normalized) {
		return 0
	}
	shift := -normalized * maxShift
	return math.Max(-maxShift, math.Min(maxShift, shift))
}
