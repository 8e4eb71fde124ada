// Package override applies editor overrides to the bento feed: a full manual
// order (drag-and-drop reorder) and per-post size pins.
//
// Writes are last-writer-wins. Two editors reordering concurrently are not
// reconciled; whichever write commits second defines the order.
package override

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/bentofeed/internal/post"
	"github.com/onnwee/bentofeed/internal/ranking"
)

// Override errors.
var (
	ErrInvalidOrder    = errors.New("invalid manual order")
	ErrIndexOutOfRange = errors.New("target index out of range")
	ErrEmptyPostID     = errors.New("empty post id")
)

// Store persists overrides. post.InMemoryRepository and post.SQLRepository
// implement it.
type Store interface {
	// Reorder assigns a dense zero-based order to ids and clears every other
	// post's order in one atomic write.
	Reorder(ctx context.Context, ids []string) error

	// SetSize sets or, with nil, clears a post's declared size.
	SetSize(ctx context.Context, id string, size *post.SizeClass) error
}

// Service validates override commands and writes them to a Store.
type Service struct {
	store   Store
	catalog post.Catalog
	weights *ranking.Weights
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithWeights sets the weights used to derive the editor order for Move.
func WithWeights(w *ranking.Weights) Option {
	return func(s *Service) { s.weights = w }
}

// WithMetrics records every write outcome.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates an override service. catalog is read by Move to find
// the current editor order.
func NewService(store Store, catalog post.Catalog, opts ...Option) *Service {
	s := &Service{
		store:   store,
		catalog: catalog,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reorder pins orderedIDs to the front of the feed in the given order and
// releases every other pin. An empty list releases all pins.
func (s *Service) Reorder(ctx context.Context, orderedIDs []string) (err error) {
	defer func() { s.record(OpReorder, err, "posts", len(orderedIDs)) }()

	if err := validateOrder(orderedIDs); err != nil {
		return err
	}
	return s.store.Reorder(ctx, orderedIDs)
}

// SetSize pins a post's size class, or clears the pin when size is nil.
func (s *Service) SetSize(ctx context.Context, postID string, size *post.SizeClass) (err error) {
	defer func() { s.record(OpSetSize, err, "post_id", postID) }()

	if postID == "" {
		return ErrEmptyPostID
	}
	if size != nil && !size.Valid() {
		return fmt.Errorf("%w: %q", post.ErrInvalidSize, *size)
	}
	return s.store.SetSize(ctx, postID, size)
}

// Move handles a single drag event: postID is taken out of the current editor
// order and reinserted at newIndex, and the whole list is written back as a
// dense manual order. It returns the order that was written.
//
// The editor order is the non-personalized feed order, so pins already in
// place are respected.
func (s *Service) Move(ctx context.Context, postID string, newIndex int) (order []string, err error) {
	defer func() { s.record(OpMove, err, "post_id", postID, "new_index", newIndex) }()

	if postID == "" {
		return nil, ErrEmptyPostID
	}
	current, err := s.EditorOrder(ctx)
	if err != nil {
		return nil, err
	}

	from := -1
	for i, id := range current {
		if id == postID {
			from = i
			break
		}
	}
	if from < 0 {
		return nil, fmt.Errorf("%w: %q", post.ErrPostNotFound, postID)
	}
	if newIndex < 0 || newIndex >= len(current) {
		return nil, fmt.Errorf("%w: %d not in [0, %d]", ErrIndexOutOfRange, newIndex, len(current)-1)
	}

	order = moveItem(current, from, newIndex)
	if err := s.store.Reorder(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// EditorOrder returns post IDs in non-personalized feed order.
func (s *Service) EditorOrder(ctx context.Context) ([]string, error) {
	posts, err := s.catalog.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog: %w", err)
	}
	res, err := ranking.Rank(posts, nil, ranking.Options{Now: s.now(), Weights: s.weights})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(res.Items))
	for i, it := range res.Items {
		ids[i] = it.PostID
	}
	return ids, nil
}

func validateOrder(ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	for i, id := range ids {
		if id == "" {
			return fmt.Errorf("%w: empty post id at index %d", ErrInvalidOrder, i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate post id %q", ErrInvalidOrder, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// moveItem returns a copy of ids with the element at from relocated to to.
func moveItem(ids []string, from, to int) []string {
	out := make([]string, 0, len(ids))
	moved := ids[from]
	for i, id := range ids {
		if i != from {
			out = append(out, id)
		}
	}
	out = append(out[:to], append([]string{moved}, out[to:]...)...)
	return out
}

func (s *Service) record(op Operation, err error, attrs ...any) {
	if s.metrics != nil {
		s.metrics.Inc(op, err)
	}
	args := append([]any{"op", string(op)}, attrs...)
	if err != nil {
		s.logger.Warn("override rejected", append(args, "error", err)...)
		return
	}
	s.logger.Info("override applied", args...)
}
