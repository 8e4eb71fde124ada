// Package recommend talks to the external recommendation service: it fetches
// a viewer's watch history and asks for per-post personalization scores.
//
// Personalization is optional. Every failure here is returned as an error
// and the feed falls back to the non-personalized order.
package recommend

import (
	"context"
	"errors"
	"sync"
)

// Errors returned by scorers and history providers.
var (
	ErrUnavailable = errors.New("recommender unavailable")
	ErrRateLimited = errors.New("recommender rate limit exceeded")
	ErrBadResponse = errors.New("malformed recommender response")
)

// WatchEvent is one entry of a viewer's watch history.
type WatchEvent struct {
	ItemID            string  `json:"item_id"`
	EngagementSeconds float64 `json:"engagement_seconds"`
}

// HistoryProvider returns a viewer's watch history. An unknown viewer has an
// empty history, not an error.
type HistoryProvider interface {
	History(ctx context.Context, viewerID string) ([]WatchEvent, error)
}

// Scorer returns raw non-negative scores for a subset of items. Items missing
// from the result are treated as unscored.
type Scorer interface {
	Score(ctx context.Context, viewerID string, itemIDs []string, history []WatchEvent) (map[string]float64, error)
}

// StaticSource is an in-memory HistoryProvider and Scorer with fixed data,
// used in tests and when no recommender URL is configured.
type StaticSource struct {
	mu        sync.RWMutex
	histories map[string][]WatchEvent
	scores    map[string]map[string]float64
	err       error
}

// NewStaticSource creates an empty static source.
func NewStaticSource() *StaticSource {
	return &StaticSource{
		histories: make(map[string][]WatchEvent),
		scores:    make(map[string]map[string]float64),
	}
}

// SetHistory replaces a viewer's history.
func (s *StaticSource) SetHistory(viewerID string, events []WatchEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories[viewerID] = append([]WatchEvent(nil), events...)
}

// SetScores replaces a viewer's scores.
func (s *StaticSource) SetScores(viewerID string, scores map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]float64, len(scores))
	for k, v := range scores {
		cp[k] = v
	}
	s.scores[viewerID] = cp
}

// SetError makes every call fail with err until cleared with nil.
func (s *StaticSource) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// History implements HistoryProvider.
func (s *StaticSource) History(ctx context.Context, viewerID string) ([]WatchEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]WatchEvent(nil), s.histories[viewerID]...), nil
}

// Score implements Scorer. Only requested items are returned.
func (s *StaticSource) Score(ctx context.Context, viewerID string, itemIDs []string, history []WatchEvent) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	all := s.scores[viewerID]
	out := make(map[string]float64, len(itemIDs))
	for _, id := range itemIDs {
		if v, ok := all[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}
