package post

import (
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// Upserter is the write side Import needs. Both repositories implement it.
type Upserter interface {
	Upsert(ctx context.Context, p Post) error
}

// DecodeBatch reads a JSON array of posts and validates it as a batch.
// Override fields in the input are ignored; overrides are written only
// through the override store.
func DecodeBatch(r io.Reader) ([]Post, error) {
	var posts []Post
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&posts); err != nil {
		return nil, fmt.Errorf("failed to decode posts: %w", err)
	}
	for i := range posts {
		posts[i].BentoOrder = nil
		posts[i].DeclaredSize = nil
	}
	if err := ValidateBatch(posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// Import upserts every post and stops at the first failure. It returns the
// number of posts written.
func Import(ctx context.Context, dst Upserter, posts []Post) (int, error) {
	for i, p := range posts {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := dst.Upsert(ctx, p); err != nil {
			return i, fmt.Errorf("failed to import post %q: %w", p.ID, err)
		}
	}
	return len(posts), nil
}
