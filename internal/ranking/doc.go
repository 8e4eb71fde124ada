// Package ranking orders a batch of feed posts.
//
// Basic Usage:
//
//	// Load calibration (typically at startup)
//	weights, err := ranking.LoadCalibration("configs/ranking.calibration.json")
//	if err != nil {
//		slog.Warn("using default weights", "error", err)
//	}
//
//	result, err := ranking.Rank(posts, scores, ranking.Options{
//		Now:     time.Now(),
//		Weights: weights,
//	})
//
// Pipeline:
//
// Each post gets a personalization-free base key from recency, popularity and
// the featured boost; sorting by it defines BaseRank. Recommendation scores
// are normalized against the batch maximum and become a bounded slot shift,
// so FinalSortKey = BaseRank + shift and no item moves more than
// MaxPositionShift slots. Posts with an editor BentoOrder are then pinned to
// that slot and everything else fills the gaps in order.
//
// Calibration:
//
// Weights are tuned through a JSON file loaded at startup. Partial files
// merge over the defaults. See configs/ranking.calibration.json.
package ranking
