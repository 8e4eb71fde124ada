package post

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Catalog is the read side consumed by the feed: the eligible posts and a
// version that changes whenever any post or override changes.
type Catalog interface {
	// List returns every eligible post ordered by ID.
	List(ctx context.Context) ([]Post, error)

	// Version returns a counter bumped on every write.
	Version(ctx context.Context) (int64, error)
}

// Repository is the full persistence boundary for posts and their overrides.
type Repository interface {
	Catalog

	// Get retrieves a post by ID.
	Get(ctx context.Context, id string) (*Post, error)

	// Upsert inserts or replaces the editorial fields of a post.
	// BentoOrder and DeclaredSize are preserved for existing posts.
	Upsert(ctx context.Context, p Post) error

	// Delete removes a post from the catalog.
	Delete(ctx context.Context, id string) error

	// Reorder assigns a dense zero-based BentoOrder to the listed posts and
	// clears it on every other post, atomically.
	Reorder(ctx context.Context, orderedIDs []string) error

	// SetSize sets or clears (nil) the DeclaredSize of one post.
	SetSize(ctx context.Context, id string, size *SizeClass) error
}

// InMemoryRepository is an in-memory implementation of Repository.
// Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu      sync.RWMutex
	posts   map[string]*Post
	version int64
	now     func() time.Time
}

// NewInMemoryRepository creates a new in-memory post repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		posts: make(map[string]*Post),
		now:   time.Now,
	}
}

// List returns deep copies of all posts ordered by ID.
func (r *InMemoryRepository) List(ctx context.Context) ([]Post, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Post, 0, len(r.posts))
	for _, p := range r.posts {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Version returns the current catalog version.
func (r *InMemoryRepository) Version(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version, nil
}

// Get retrieves a post by ID.
func (r *InMemoryRepository) Get(ctx context.Context, id string) (*Post, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.posts[id]
	if !ok {
		return nil, ErrPostNotFound
	}
	c := p.Clone()
	return &c, nil
}

// Upsert inserts a new post or replaces the editorial fields of an existing one.
func (r *InMemoryRepository) Upsert(ctx context.Context, p Post) error {
	if err := p.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored := p.Clone()
	if existing, ok := r.posts[p.ID]; ok {
		// Overrides are owned by the override store, not the editorial workflow.
		stored.BentoOrder = existing.Clone().BentoOrder
		stored.DeclaredSize = existing.Clone().DeclaredSize
	}
	stored.UpdatedAt = r.now()
	r.posts[p.ID] = &stored
	r.version++
	return nil
}

// Delete removes a post.
func (r *InMemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.posts[id]; !ok {
		return ErrPostNotFound
	}
	delete(r.posts, id)
	r.version++
	return nil
}

// Reorder writes a dense BentoOrder for orderedIDs and clears all others.
// Nothing is written if any ID is unknown.
func (r *InMemoryRepository) Reorder(ctx context.Context, orderedIDs []string) error {
	if err := checkUnique(orderedIDs); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range orderedIDs {
		if _, ok := r.posts[id]; !ok {
			return fmt.Errorf("%w: %q", ErrPostNotFound, id)
		}
	}

	now := r.now()
	for _, p := range r.posts {
		if p.BentoOrder != nil {
			p.BentoOrder = nil
			p.UpdatedAt = now
		}
	}
	for i, id := range orderedIDs {
		order := i
		p := r.posts[id]
		p.BentoOrder = &order
		p.UpdatedAt = now
	}
	r.version++
	return nil
}

// SetSize sets or clears the declared size of a post.
func (r *InMemoryRepository) SetSize(ctx context.Context, id string, size *SizeClass) error {
	if size != nil && !size.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSize, *size)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.posts[id]
	if !ok {
		return ErrPostNotFound
	}
	if size == nil {
		p.DeclaredSize = nil
	} else {
		s := *size
		p.DeclaredSize = &s
	}
	p.UpdatedAt = r.now()
	r.version++
	return nil
}
