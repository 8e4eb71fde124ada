package ranking

// Reason is the human-readable tag explaining an item's placement.
type Reason string

const (
	ReasonFeatured        Reason = "featured"
	ReasonPersonalization Reason = "high-personalization"
	ReasonPopular         Reason = "popular"
	ReasonRecent          Reason = "recent"
	ReasonDefault         Reason = "default"
)

// minReasonContribution is the smallest contribution that earns a specific tag.
const minReasonContribution = 0.05

// reasonFor picks the signal with the largest weighted contribution. Ties go
// to the earlier entry: featured, personalization, popularity, recency.
func reasonFor(it *RankedItem, w *Weights) Reason {
	featured := 0.0
	if it.IsFeatured {
		featured = w.FeaturedBoost
	}
	candidates := []struct {
		reason Reason
		value  float64
	}{
		{ReasonFeatured, featured},
		{ReasonPersonalization, w.Personalization * it.NormalizedRecScore},
		{ReasonPopular, w.Popularity * it.Signals.Popularity},
		{ReasonRecent, w.Recency * it.Signals.Recency},
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.value > best.value {
			best = c
		}
	}
	if best.value < minReasonContribution {
		return ReasonDefault
	}
	return best.reason
}
