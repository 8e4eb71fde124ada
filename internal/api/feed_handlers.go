package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/onnwee/bentofeed/internal/bento"
	"github.com/onnwee/bentofeed/internal/feed"
	"github.com/onnwee/bentofeed/internal/middleware"
	"github.com/onnwee/bentofeed/internal/post"
	"github.com/onnwee/bentofeed/internal/ranking"
)

// FeedBuilder builds a composed feed. *feed.Service implements it.
type FeedBuilder interface {
	Build(ctx context.Context, req feed.Request) (*feed.Feed, error)
}

// FeedHandlers serves the public feed and the operator debug view.
type FeedHandlers struct {
	feeds  FeedBuilder
	logger *slog.Logger
}

// NewFeedHandlers creates feed handlers. A nil logger uses slog.Default().
func NewFeedHandlers(feeds FeedBuilder, logger *slog.Logger) *FeedHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedHandlers{feeds: feeds, logger: logger}
}

// FeedItem is the compact per-post view of the public feed.
type FeedItem struct {
	PostID    string         `json:"post_id"`
	FinalRank int            `json:"final_rank"`
	Reason    ranking.Reason `json:"reason"`
	Pinned    bool           `json:"pinned,omitempty"`
}

// FeedMeta summarizes the public feed.
type FeedMeta struct {
	TotalPosts         int       `json:"total_posts"`
	HasPersonalization bool      `json:"has_personalization"`
	Columns            int       `json:"columns"`
	Rows               int       `json:"rows"`
	GeneratedAt        time.Time `json:"generated_at"`
}

// FeedResponse is the body of GET /feed.
type FeedResponse struct {
	Placements []bento.Placement `json:"placements"`
	Items      []FeedItem        `json:"items"`
	Meta       FeedMeta          `json:"meta"`
}

// DebugResponse is the body of GET /admin/bento/debug.
type DebugResponse struct {
	ViewerID          string               `json:"viewer_id,omitempty"`
	SimulateNoHistory bool                 `json:"simulate_no_history"`
	Degraded          bool                 `json:"degraded"`
	CatalogVersion    int64                `json:"catalog_version"`
	Items             []ranking.RankedItem `json:"items"`
	Layout            bento.Layout         `json:"layout"`
	Meta              ranking.Meta         `json:"meta"`
}

// GetFeed handles GET /feed. The viewer comes from X-Viewer-ID;
// ?simulate_no_history=true forces the cold path.
func (h *FeedHandlers) GetFeed(w http.ResponseWriter, r *http.Request) {
	simulate, ok := parseSimulate(w, r)
	if !ok {
		return
	}

	f, ok := h.build(w, r, feed.Request{
		ViewerID:          middleware.GetViewerID(r.Context()),
		SimulateNoHistory: simulate,
	})
	if !ok {
		return
	}

	items := make([]FeedItem, len(f.Items))
	for i, it := range f.Items {
		items[i] = FeedItem{PostID: it.PostID, FinalRank: it.FinalRank, Reason: it.Reason, Pinned: it.Pinned}
	}
	placements := f.Layout.Placements
	if placements == nil {
		placements = []bento.Placement{}
	}

	writeJSON(w, r.Context(), http.StatusOK, FeedResponse{
		Placements: placements,
		Items:      items,
		Meta: FeedMeta{
			TotalPosts:         f.Meta.TotalPosts,
			HasPersonalization: f.Meta.HasPersonalization,
			Columns:            f.Layout.Columns,
			Rows:               f.Layout.Rows,
			GeneratedAt:        f.Meta.GeneratedAt,
		},
	})
}

// GetDebug handles GET /admin/bento/debug. The viewer is ?viewer_id=, falling
// back to X-Viewer-ID.
func (h *FeedHandlers) GetDebug(w http.ResponseWriter, r *http.Request) {
	simulate, ok := parseSimulate(w, r)
	if !ok {
		return
	}
	viewer := r.URL.Query().Get("viewer_id")
	if viewer == "" {
		viewer = middleware.GetViewerID(r.Context())
	}

	f, ok := h.build(w, r, feed.Request{ViewerID: viewer, SimulateNoHistory: simulate})
	if !ok {
		return
	}

	items := f.Items
	if items == nil {
		items = []ranking.RankedItem{}
	}
	writeJSON(w, r.Context(), http.StatusOK, DebugResponse{
		ViewerID:          viewer,
		SimulateNoHistory: simulate,
		Degraded:          f.Degraded,
		CatalogVersion:    f.CatalogVersion,
		Items:             items,
		Layout:            f.Layout,
		Meta:              f.Meta,
	})
}

func (h *FeedHandlers) build(w http.ResponseWriter, r *http.Request, req feed.Request) (*feed.Feed, bool) {
	ctx := r.Context()
	f, err := h.feeds.Build(ctx, req)
	switch {
	case err == nil:
		return f, true
	case errors.Is(err, ranking.ErrInvalidInput), errors.Is(err, post.ErrInvalidPost):
		h.logger.ErrorContext(ctx, "catalog failed validation", "error", err)
		WriteError(w, ctx, http.StatusUnprocessableEntity, ErrCodeInvalidCatalog, "Catalog contains invalid posts")
	default:
		h.logger.ErrorContext(ctx, "failed to build feed", "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to build feed")
	}
	return nil, false
}

// parseSimulate reads ?simulate_no_history. It writes a 400 and returns false
// for unparsable values.
func parseSimulate(w http.ResponseWriter, r *http.Request) (bool, bool) {
	raw := r.URL.Query().Get("simulate_no_history")
	if raw == "" {
		return false, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "simulate_no_history must be a boolean")
		return false, false
	}
	return v, true
}
