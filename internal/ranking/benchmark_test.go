package ranking

import (
	"math/rand"
	"testing"
	"time"
)

func BenchmarkRecencySignal(b *testing.B) {
	now := time.Now()
	published := now.Add(-36 * time.Hour)
	for i := 0; i < b.N; i++ {
		_ = RecencySignal(&published, now, 168*time.Hour)
	}
}

func BenchmarkPopularitySignal(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = PopularitySignal(1234, 98765)
	}
}

func benchmarkRank(b *testing.B, n int, personalized bool) {
	posts, scores := randomCatalog(rand.New(rand.NewSource(7)), n)
	if !personalized {
		scores = nil
	}
	opts := Options{Now: testNow}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Rank(posts, scores, opts); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRank_50_Cold(b *testing.B) { benchmarkRank(b, 50, false) }
func BenchmarkRank_50_Personalized(b *testing.B) { benchmarkRank(b, 50, true) }
func BenchmarkRank_500_Personalized(b *testing.B) { benchmarkRank(b, 500, true) }
