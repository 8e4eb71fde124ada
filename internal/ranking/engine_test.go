package ranking

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/onnwee/bentofeed/internal/post"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func ago(d time.Duration) *time.Time {
	t := testNow.Add(-d)
	return &t
}

func order(i int) *int { return &i }

func ids(items []RankedItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.PostID
	}
	return out
}

func byID(items []RankedItem) map[string]RankedItem {
	m := make(map[string]RankedItem, len(items))
	for _, it := range items {
		m[it.PostID] = it
	}
	return m
}

func mustRank(t *testing.T, posts []post.Post, scores map[string]float64) *Result {
	t.Helper()
	res, err := Rank(posts, scores, Options{Now: testNow})
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	return res
}

// twoPostCatalog is a fresh popular post next to an old featured one.
func twoPostCatalog() []post.Post {
	return []post.Post{
		{ID: "1", PublishedAt: ago(24 * time.Hour), ViewCount: 1000, ContentType: post.ContentTypeArticle},
		{ID: "2", PublishedAt: ago(30 * 24 * time.Hour), ViewCount: 10, ContentType: post.ContentTypeArticle, IsFeatured: true},
	}
}

func TestRank_FeaturedBoostDominates(t *testing.T) {
	res := mustRank(t, twoPostCatalog(), nil)

	if got := ids(res.Items); !reflect.DeepEqual(got, []string{"2", "1"}) {
		t.Fatalf("expected order [2 1], got %v", got)
	}
	items := byID(res.Items)
	if items["2"].Reason != ReasonFeatured {
		t.Errorf("expected reason featured for 2, got %q", items["2"].Reason)
	}
	if items["1"].Reason != ReasonRecent {
		t.Errorf("expected reason recent for 1, got %q", items["1"].Reason)
	}
	for _, it := range res.Items {
		if it.PositionShift != 0 {
			t.Errorf("expected zero shift for %s, got %f", it.PostID, it.PositionShift)
		}
		if it.RankChange != 0 {
			t.Errorf("expected zero rank change for %s, got %d", it.PostID, it.RankChange)
		}
	}
	if math.Abs(items["2"].BaseSortKey-1.1246) > 0.001 {
		t.Errorf("unexpected base key for 2: %f", items["2"].BaseSortKey)
	}
	if math.Abs(items["1"].BaseSortKey-0.6623) > 0.001 {
		t.Errorf("unexpected base key for 1: %f", items["1"].BaseSortKey)
	}
	if res.Meta.HasPersonalization || res.Meta.FeaturedCount != 1 || res.Meta.TotalPosts != 2 {
		t.Errorf("unexpected meta: %+v", res.Meta)
	}
	if res.Meta.MaxPositionShift != 3 {
		t.Errorf("expected max shift 3, got %f", res.Meta.MaxPositionShift)
	}
}

func TestRank_PersonalizationWithinShiftBudget(t *testing.T) {
	res := mustRank(t, twoPostCatalog(), map[string]float64{"1": 0.9, "2": 0.1})

	if res.Meta.MaxRecScore != 0.9 || !res.Meta.HasPersonalization {
		t.Fatalf("unexpected meta: %+v", res.Meta)
	}
	items := byID(res.Items)
	one, two := items["1"], items["2"]

	if one.NormalizedRecScore != 1.0 {
		t.Errorf("expected normalized 1.0 for 1, got %f", one.NormalizedRecScore)
	}
	if math.Abs(two.NormalizedRecScore-0.1111) > 0.001 {
		t.Errorf("expected normalized ~0.111 for 2, got %f", two.NormalizedRecScore)
	}
	if one.PositionShift != -3 {
		t.Errorf("expected shift -3 for 1, got %f", one.PositionShift)
	}
	if one.BaseRank != 1 || two.BaseRank != 0 {
		t.Errorf("unexpected base ranks: 1=%d 2=%d", one.BaseRank, two.BaseRank)
	}
	// The featured boost outweighs the full swing, so 1 still trails 2.
	if one.FinalRank != 1 || one.RankChange != 0 || two.FinalRank != 0 || two.RankChange != 0 {
		t.Errorf("expected featured 2 to keep the lead, got 1=%d/%d 2=%d/%d",
			one.FinalRank, one.RankChange, two.FinalRank, two.RankChange)
	}
	if one.FinalSortKey != -2 {
		t.Errorf("expected key -2 for 1, got %f", one.FinalSortKey)
	}
	if one.Reason != ReasonPersonalization {
		t.Errorf("expected high-personalization for 1, got %q", one.Reason)
	}
	if one.RawRecScore != 0.9 {
		t.Errorf("expected raw score echoed, got %f", one.RawRecScore)
	}
}

func TestRank_FeaturedBand(t *testing.T) {
	posts := []post.Post{
		{ID: "f", PublishedAt: ago(48 * time.Hour), ViewCount: 10, ContentType: post.ContentTypeArticle, IsFeatured: true},
		{ID: "n", PublishedAt: ago(time.Hour), ViewCount: 5000, ContentType: post.ContentTypeArticle},
		{ID: "m", PublishedAt: ago(2 * time.Hour), ViewCount: 4000, ContentType: post.ContentTypeVideo},
	}
	// A tiny raw score still normalizes to 1.0 and takes the full shift.
	scores := map[string]float64{"m": 0.001}

	t.Run("default weights keep featured on top", func(t *testing.T) {
		res := mustRank(t, posts, scores)
		if got := ids(res.Items); !reflect.DeepEqual(got, []string{"f", "m", "n"}) {
			t.Fatalf("order = %v, want [f m n]", got)
		}
		m := byID(res.Items)["m"]
		if m.PositionShift != -3 || m.RankChange != -1 || m.Reason != ReasonPersonalization {
			t.Errorf("m = shift %f change %d reason %q", m.PositionShift, m.RankChange, m.Reason)
		}
		if f := byID(res.Items)["f"]; f.FinalRank != 0 || f.Reason != ReasonFeatured {
			t.Errorf("f = rank %d reason %q", f.FinalRank, f.Reason)
		}
	})

	t.Run("weak boost lets personalization cross", func(t *testing.T) {
		w := DefaultWeights()
		w.FeaturedBoost = 0.5
		if w.FeaturedBandHolds() {
			t.Fatal("boost 0.5 should not hold the band against 0.7")
		}
		res, err := Rank(posts, scores, Options{Now: testNow, Weights: w})
		if err != nil {
			t.Fatalf("Rank failed: %v", err)
		}
		if got := ids(res.Items); got[0] != "m" {
			t.Errorf("order = %v, want m first", got)
		}
	})
}

func TestRank_EmptyCatalog(t *testing.T) {
	res := mustRank(t, nil, map[string]float64{"x": 1})
	if res.Items == nil || len(res.Items) != 0 {
		t.Fatalf("expected empty non-nil items, got %v", res.Items)
	}
	if res.Meta.TotalPosts != 0 || res.Meta.HasPersonalization {
		t.Errorf("unexpected meta: %+v", res.Meta)
	}
}

func TestRank_InvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		posts   []post.Post
		wantErr error
	}{
		{"missing id", []post.Post{{ContentType: post.ContentTypeArticle}}, post.ErrInvalidPost},
		{"negative views", []post.Post{{ID: "a", ContentType: post.ContentTypeArticle, ViewCount: -1}}, post.ErrInvalidPost},
		{"unknown content type", []post.Post{{ID: "a", ContentType: "gif"}}, post.ErrInvalidPost},
		{"negative order", []post.Post{{ID: "a", ContentType: post.ContentTypeArticle, BentoOrder: order(-2)}}, post.ErrInvalidPost},
		{"duplicate id", []post.Post{
			{ID: "a", ContentType: post.ContentTypeArticle},
			{ID: "a", ContentType: post.ContentTypeVideo},
		}, post.ErrDuplicatePost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Rank(tt.posts, nil, Options{Now: testNow})
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected wrapped %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRank_InvalidWeights(t *testing.T) {
	w := DefaultWeights()
	w.RecencyHalfLifeHours = 0
	_, err := Rank(twoPostCatalog(), nil, Options{Now: testNow, Weights: w})
	if !errors.Is(err, ErrInvalidWeights) {
		t.Fatalf("expected ErrInvalidWeights, got %v", err)
	}
}

func TestRank_IgnoresUnusableScores(t *testing.T) {
	scores := map[string]float64{
		"1":     -4,
		"2":     math.NaN(),
		"ghost": 100,
	}
	res := mustRank(t, twoPostCatalog(), scores)

	if res.Meta.HasPersonalization || res.Meta.MaxRecScore != 0 {
		t.Fatalf("expected no personalization, got %+v", res.Meta)
	}
	for _, it := range res.Items {
		if it.RawRecScore != 0 || it.NormalizedRecScore != 0 || it.PositionShift != 0 {
			t.Errorf("expected %s untouched by unusable scores: %+v", it.PostID, it)
		}
	}
}

func TestRank_AllZeroScores(t *testing.T) {
	res := mustRank(t, twoPostCatalog(), map[string]float64{"1": 0, "2": 0})
	if res.Meta.HasPersonalization {
		t.Error("expected no personalization for all-zero scores")
	}
	for _, it := range res.Items {
		if it.NormalizedRecScore != 0 {
			t.Errorf("expected 0 normalized for %s, got %f", it.PostID, it.NormalizedRecScore)
		}
	}
}

func TestRank_ManualOrderPinsFront(t *testing.T) {
	posts := []post.Post{
		{ID: "p1", ContentType: post.ContentTypeArticle, PublishedAt: ago(90 * 24 * time.Hour), BentoOrder: order(1)},
		{ID: "p2", ContentType: post.ContentTypeVideo, BentoOrder: order(2)},
		{ID: "p3", ContentType: post.ContentTypeArticle, PublishedAt: ago(365 * 24 * time.Hour), BentoOrder: order(0)},
		{ID: "hot", ContentType: post.ContentTypeArticle, PublishedAt: ago(time.Hour), ViewCount: 50000, IsFeatured: true},
		{ID: "warm", ContentType: post.ContentTypeArticle, PublishedAt: ago(2 * time.Hour), ViewCount: 900},
	}
	res := mustRank(t, posts, map[string]float64{"hot": 5, "warm": 3})

	got := ids(res.Items)
	want := []string{"p3", "p1", "p2", "hot", "warm"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if res.Meta.PinnedCount != 3 {
		t.Errorf("expected 3 pinned, got %d", res.Meta.PinnedCount)
	}
	for _, it := range res.Items[:3] {
		if !it.Pinned {
			t.Errorf("expected %s to be pinned", it.PostID)
		}
	}
	if res.Items[3].Pinned {
		t.Error("hot should not be pinned")
	}
}

func TestRank_PinCollisionsAndOverflow(t *testing.T) {
	posts := []post.Post{
		{ID: "a", ContentType: post.ContentTypeArticle, ViewCount: 100},
		{ID: "b", ContentType: post.ContentTypeArticle, ViewCount: 90},
		{ID: "c", ContentType: post.ContentTypeArticle, ViewCount: 80},
		{ID: "x", ContentType: post.ContentTypeArticle, BentoOrder: order(1)},
		{ID: "y", ContentType: post.ContentTypeArticle, BentoOrder: order(1)},
		{ID: "z", ContentType: post.ContentTypeArticle, BentoOrder: order(99)},
	}
	res := mustRank(t, posts, nil)

	// x wins slot 1 by ID, y takes the next free slot, z clamps to the end.
	want := []string{"a", "x", "y", "b", "c", "z"}
	if got := ids(res.Items); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestRank_PinBackwardSearchWhenTailFull(t *testing.T) {
	posts := []post.Post{
		{ID: "a", ContentType: post.ContentTypeArticle, ViewCount: 10},
		{ID: "x", ContentType: post.ContentTypeArticle, BentoOrder: order(2)},
		{ID: "y", ContentType: post.ContentTypeArticle, BentoOrder: order(7)},
	}
	res := mustRank(t, posts, nil)

	// Both pins clamp to slot 2; y falls back to slot 1.
	want := []string{"a", "y", "x"}
	if got := ids(res.Items); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestRank_TieBreakByID(t *testing.T) {
	posts := []post.Post{
		{ID: "c", ContentType: post.ContentTypeArticle},
		{ID: "a", ContentType: post.ContentTypeArticle},
		{ID: "b", ContentType: post.ContentTypeArticle},
	}
	res := mustRank(t, posts, nil)
	if got := ids(res.Items); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("expected ID order for equal keys, got %v", got)
	}
	for _, it := range res.Items {
		if it.Reason != ReasonDefault {
			t.Errorf("expected default reason for signal-less %s, got %q", it.PostID, it.Reason)
		}
	}
}

func TestRank_DoesNotMutateInput(t *testing.T) {
	posts := twoPostCatalog()
	posts[0].BentoOrder = order(1)
	before := make([]post.Post, len(posts))
	for i := range posts {
		before[i] = posts[i].Clone()
	}

	mustRank(t, posts, map[string]float64{"1": 1})

	if !reflect.DeepEqual(before, posts) {
		t.Fatal("Rank mutated its input")
	}
}

func TestRank_ZeroNowUsesWallClock(t *testing.T) {
	res, err := Rank(twoPostCatalog(), nil, Options{})
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if res.Meta.GeneratedAt.IsZero() {
		t.Error("expected GeneratedAt to be set")
	}
}

// randomCatalog builds a reproducible catalog with mixed signals.
func randomCatalog(r *rand.Rand, n int) ([]post.Post, map[string]float64) {
	posts := make([]post.Post, n)
	scores := make(map[string]float64)
	types := []post.ContentType{post.ContentTypeArticle, post.ContentTypeVideo, post.ContentTypeNews}
	for i := range posts {
		p := post.Post{
			ID:          fmt.Sprintf("post-%03d", r.Intn(1000)*1000+i),
			ContentType: types[r.Intn(len(types))],
			ViewCount:   int64(r.Intn(100000)),
			IsFeatured:  r.Intn(8) == 0,
		}
		if r.Intn(6) != 0 {
			p.PublishedAt = ago(time.Duration(r.Intn(60*24)) * time.Hour)
		}
		posts[i] = p
		if r.Intn(2) == 0 {
			scores[p.ID] = r.Float64() * math.Pow(10, float64(r.Intn(12)-6))
		}
	}
	return posts, scores
}

func TestRank_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for iter := 0; iter < 200; iter++ {
		posts, scores := randomCatalog(r, 1+r.Intn(40))

		res := mustRank(t, posts, scores)
		again := mustRank(t, posts, scores)
		if !reflect.DeepEqual(res, again) {
			t.Fatalf("iteration %d: ranking is not deterministic", iter)
		}

		// Permutation with contiguous ranks.
		seen := make(map[string]bool, len(posts))
		for rank, it := range res.Items {
			if it.FinalRank != rank {
				t.Fatalf("iteration %d: FinalRank %d at index %d", iter, it.FinalRank, rank)
			}
			if seen[it.PostID] {
				t.Fatalf("iteration %d: duplicate %s", iter, it.PostID)
			}
			seen[it.PostID] = true
		}
		if len(seen) != len(posts) {
			t.Fatalf("iteration %d: expected %d items, got %d", iter, len(posts), len(seen))
		}

		maxNorm := 0.0
		for _, it := range res.Items {
			if it.PositionShift < -res.Meta.MaxPositionShift || it.PositionShift > res.Meta.MaxPositionShift {
				t.Fatalf("iteration %d: shift %f out of bounds", iter, it.PositionShift)
			}
			// Without pins no item strays further than the shift budget.
			if math.Abs(float64(it.RankChange)) > res.Meta.MaxPositionShift {
				t.Fatalf("iteration %d: %s moved %d slots", iter, it.PostID, it.RankChange)
			}
			maxNorm = math.Max(maxNorm, it.NormalizedRecScore)
		}
		if res.Meta.HasPersonalization && math.Abs(maxNorm-1) > 1e-9 {
			t.Fatalf("iteration %d: max normalized score %f", iter, maxNorm)
		}
		if !res.Meta.HasPersonalization && maxNorm != 0 {
			t.Fatalf("iteration %d: normalized scores without personalization", iter)
		}

		cold := mustRank(t, posts, nil)
		for _, it := range cold.Items {
			if it.PositionShift != 0 || it.FinalRank != it.BaseRank {
				t.Fatalf("iteration %d: cold path moved %s", iter, it.PostID)
			}
		}
		if cold.Meta.HasPersonalization {
			t.Fatalf("iteration %d: cold path reported personalization", iter)
		}
	}
}

func TestRank_ExtremeScoresStayBounded(t *testing.T) {
	posts := twoPostCatalog()
	for _, raw := range []float64{1e-300, 1, 1e300, math.MaxFloat64} {
		res := mustRank(t, posts, map[string]float64{"1": raw})
		for _, it := range res.Items {
			if math.Abs(it.PositionShift) > 3 {
				t.Errorf("raw %g: shift %f out of bounds", raw, it.PositionShift)
			}
		}
	}
}
