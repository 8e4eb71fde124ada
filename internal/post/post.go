// Package post provides the catalog model for feed posts and the repositories
// that persist them together with their editorial bento overrides.
package post

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// Common errors for post operations.
var (
	ErrPostNotFound       = errors.New("post not found")
	ErrInvalidPost        = errors.New("invalid post")
	ErrInvalidSize        = errors.New("invalid size class")
	ErrInvalidContentType = errors.New("invalid content type")
	ErrDuplicatePost      = errors.New("duplicate post id")
)

// ContentType classifies a post for layout purposes.
type ContentType string

const (
	ContentTypeArticle ContentType = "article"
	ContentTypeVideo   ContentType = "video"
	ContentTypeNews    ContentType = "news"
)

// Valid reports whether c is one of the known content types.
func (c ContentType) Valid() bool {
	switch c {
	case ContentTypeArticle, ContentTypeVideo, ContentTypeNews:
		return true
	}
	return false
}

// SizeClass is the visual prominence of a bento cell.
type SizeClass string

const (
	SizeSmall    SizeClass = "small"
	SizeMedium   SizeClass = "medium"
	SizeLarge    SizeClass = "large"
	SizeBanner   SizeClass = "banner"
	SizeFeatured SizeClass = "featured"
)

// AllSizeClasses lists every size class, smallest first.
var AllSizeClasses = []SizeClass{SizeSmall, SizeMedium, SizeLarge, SizeBanner, SizeFeatured}

// Valid reports whether s is one of the known size classes.
func (s SizeClass) Valid() bool {
	switch s {
	case SizeSmall, SizeMedium, SizeLarge, SizeBanner, SizeFeatured:
		return true
	}
	return false
}

// ParseSizeClass normalizes and validates a size class name.
func ParseSizeClass(s string) (SizeClass, error) {
	size := SizeClass(strings.ToLower(strings.TrimSpace(s)))
	if !size.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	return size, nil
}

// Post is a catalog entry eligible for the feed.
// Editorial fields are read-only for the ranking engine; BentoOrder and
// DeclaredSize are written only through the override store.
type Post struct {
	ID           string      `json:"id" validate:"required"`
	PublishedAt  *time.Time  `json:"published_at,omitempty"`
	ViewCount    int64       `json:"view_count" validate:"gte=0"`
	ContentType  ContentType `json:"content_type" validate:"required,content_type"`
	IsFeatured   bool        `json:"is_featured"`
	DeclaredSize *SizeClass  `json:"declared_size,omitempty" validate:"omitempty,size_class"`
	BentoOrder   *int        `json:"bento_order,omitempty" validate:"omitempty,gte=0"`

	UpdatedAt time.Time `json:"updated_at"`
}

// IsNews reports whether the post is routed to the compact lane.
func (p *Post) IsNews() bool {
	return p.ContentType == ContentTypeNews
}

// Clone returns a deep copy so callers never share pointer fields.
func (p Post) Clone() Post {
	out := p
	if p.PublishedAt != nil {
		t := *p.PublishedAt
		out.PublishedAt = &t
	}
	if p.DeclaredSize != nil {
		s := *p.DeclaredSize
		out.DeclaredSize = &s
	}
	if p.BentoOrder != nil {
		o := *p.BentoOrder
		out.BentoOrder = &o
	}
	return out
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		_ = v.RegisterValidation("content_type", func(fl validator.FieldLevel) bool {
			return ContentType(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("size_class", func(fl validator.FieldLevel) bool {
			return SizeClass(fl.Field().String()).Valid()
		})
		validate = v
	})
	return validate
}

// Validate checks a single post record. The returned error wraps
// ErrInvalidPost and names the offending field.
func (p *Post) Validate() error {
	if err := getValidator().Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: post %q field %s failed %q", ErrInvalidPost, p.ID, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidPost, err)
	}
	return nil
}

// ValidateBatch validates every post and rejects duplicate IDs.
// All failures are joined so an editor sees every bad row at once.
func ValidateBatch(posts []Post) error {
	var errs []error
	seen := make(map[string]struct{}, len(posts))
	for i := range posts {
		if err := posts[i].Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := seen[posts[i].ID]; dup {
			errs = append(errs, fmt.Errorf("%w: %q", ErrDuplicatePost, posts[i].ID))
			continue
		}
		seen[posts[i].ID] = struct{}{}
	}
	return errors.Join(errs...)
}
