package ranking

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/onnwee/bentofeed/internal/post"
)

// ErrInvalidInput is returned when the catalog batch contains malformed posts.
// It wraps the per-post validation errors.
var ErrInvalidInput = errors.New("invalid ranking input")

// Options parameterizes one ranking pass.
type Options struct {
	// Now is the evaluation instant for recency. Zero means time.Now().
	Now time.Time

	// Weights overrides the defaults. Nil means DefaultWeights().
	Weights *Weights
}

// Signals are the normalized personalization-free inputs of an item.
type Signals struct {
	Recency    float64 `json:"recency"`
	Popularity float64 `json:"popularity"`
}

// RankedItem is one post's position in the feed together with the diagnostic
// fields behind it.
type RankedItem struct {
	PostID             string  `json:"post_id"`
	RawRecScore        float64 `json:"raw_rec_score"`
	NormalizedRecScore float64 `json:"normalized_rec_score"`
	BaseSortKey        float64 `json:"base_sort_key"`
	PositionShift      float64 `json:"position_shift"`
	// FinalSortKey is BaseRank + PositionShift. It orders items within
	// their band; see Weights.FeaturedBandHolds.
	FinalSortKey       float64 `json:"final_sort_key"`
	FinalRank          int     `json:"final_rank"`
	BaseRank           int     `json:"base_rank"`
	RankChange         int     `json:"rank_change"`
	Reason             Reason  `json:"reason"`
	IsFeatured         bool    `json:"is_featured"`
	Pinned             bool    `json:"pinned"`
	Signals            Signals `json:"signals"`
}

// Meta summarizes a ranking pass for the debug view.
type Meta struct {
	TotalPosts         int       `json:"total_posts"`
	FeaturedCount      int       `json:"featured_count"`
	PinnedCount        int       `json:"pinned_count"`
	HasPersonalization bool      `json:"has_personalization"`
	MaxRecScore        float64   `json:"max_rec_score"`
	MaxPositionShift   float64   `json:"max_position_shift"`
	GeneratedAt        time.Time `json:"generated_at"`
}

// Result is the output of Rank. Items are ordered by FinalRank.
type Result struct {
	Items []RankedItem `json:"items"`
	Meta  Meta         `json:"meta"`
}

// Rank orders a catalog batch. It is a pure function of its arguments:
// posts are never mutated and identical inputs give identical output.
//
// recScores may be nil. Scores for IDs outside the batch and scores that are
// negative, NaN or infinite are ignored.
func Rank(posts []post.Post, recScores map[string]float64, opts Options) (*Result, error) {
	if err := post.ValidateBatch(posts); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	weights := opts.Weights
	if weights == nil {
		weights = DefaultWeights()
	} else if err := weights.Validate(); err != nil {
		return nil, err
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	n := len(posts)
	result := &Result{
		Items: make([]RankedItem, n),
		Meta: Meta{
			TotalPosts:       n,
			MaxPositionShift: weights.MaxPositionShift,
			GeneratedAt:      now,
		},
	}
	if n == 0 {
		return result, nil
	}

	var maxViews int64
	maxRec := 0.0
	for i := range posts {
		if posts[i].ViewCount > maxViews {
			maxViews = posts[i].ViewCount
		}
		if raw, ok := usableScore(recScores, posts[i].ID); ok && raw > maxRec {
			maxRec = raw
		}
	}
	result.Meta.MaxRecScore = maxRec
	result.Meta.HasPersonalization = maxRec > 0

	halfLife := weights.HalfLife()
	items := result.Items
	for i := range posts {
		p := &posts[i]
		it := &items[i]
		it.PostID = p.ID
		it.IsFeatured = p.IsFeatured
		it.Pinned = p.BentoOrder != nil
		it.Signals = Signals{
			Recency:    RecencySignal(p.PublishedAt, now, halfLife),
			Popularity: PopularitySignal(p.ViewCount, maxViews),
		}
		it.BaseSortKey = BaseScore(BaseParams{
			Recency:    it.Signals.Recency,
			Popularity: it.Signals.Popularity,
			Featured:   p.IsFeatured,
		}, weights)

		if raw, ok := usableScore(recScores, p.ID); ok {
			it.RawRecScore = raw
			if maxRec > 0 {
				it.NormalizedRecScore = raw / maxRec
			}
		}
		it.PositionShift = PositionShift(it.NormalizedRecScore, weights.MaxPositionShift)

		if p.IsFeatured {
			result.Meta.FeaturedCount++
		}
		if it.Pinned {
			result.Meta.PinnedCount++
		}
	}

	// Rank without personalization.
	base := identity(n)
	sort.SliceStable(base, func(a, b int) bool {
		ia, ib := &items[base[a]], &items[base[b]]
		if ia.BaseSortKey != ib.BaseSortKey {
			return ia.BaseSortKey > ib.BaseSortKey
		}
		return ia.PostID < ib.PostID
	})
	for rank, idx := range base {
		items[idx].BaseRank = rank
		items[idx].FinalSortKey = float64(rank) + items[idx].PositionShift
	}

	// Algorithmic order in slot space: lower key is earlier. When the featured
	// band holds, a shift only reorders items within their own band.
	band := result.Meta.FeaturedCount > 0 && weights.FeaturedBandHolds()
	algo := identity(n)
	sort.SliceStable(algo, func(a, b int) bool {
		ia, ib := &items[algo[a]], &items[algo[b]]
		if band && ia.IsFeatured != ib.IsFeatured {
			return ia.IsFeatured
		}
		if ia.FinalSortKey != ib.FinalSortKey {
			return ia.FinalSortKey < ib.FinalSortKey
		}
		return ia.PostID < ib.PostID
	})

	final := applyPins(algo, posts)
	ordered := make([]RankedItem, n)
	for rank, idx := range final {
		it := items[idx]
		it.FinalRank = rank
		it.RankChange = it.FinalRank - it.BaseRank
		it.Reason = reasonFor(&it, weights)
		ordered[rank] = it
	}
	result.Items = ordered
	return result, nil
}

// usableScore returns the raw score for id if it is a finite non-negative number.
func usableScore(scores map[string]float64, id string) (float64, bool) {
	raw, ok := scores[id]
	if !ok || raw < 0 || isNaNOrInf(raw) {
		return 0, false
	}
	return raw, true
}

func isNaNOrInf(f float64) bool {
	return math.IsNaN(f) || math.IsInf(f, 0)
}

func identity(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}
