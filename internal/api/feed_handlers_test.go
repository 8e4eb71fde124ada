package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/onnwee/bentofeed/internal/bento"
	"github.com/onnwee/bentofeed/internal/feed"
	"github.com/onnwee/bentofeed/internal/middleware"
	"github.com/onnwee/bentofeed/internal/post"
	"github.com/onnwee/bentofeed/internal/ranking"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFeeds records the last request and returns a canned result.
type fakeFeeds struct {
	last feed.Request
	feed *feed.Feed
	err  error
}

func (f *fakeFeeds) Build(ctx context.Context, req feed.Request) (*feed.Feed, error) {
	f.last = req
	return f.feed, f.err
}

func cannedFeed() *feed.Feed {
	return &feed.Feed{
		Items: []ranking.RankedItem{
			{PostID: "a", FinalRank: 0, Reason: ranking.ReasonFeatured, IsFeatured: true, BaseSortKey: 1.2},
			{PostID: "b", FinalRank: 1, Reason: ranking.ReasonPersonalization, Pinned: true, RawRecScore: 0.8},
		},
		Layout: bento.Layout{
			Columns:      bento.DesktopColumns,
			Rows:         3,
			PrimaryCount: 2,
			Placements: []bento.Placement{
				{PostID: "a", SizeClass: post.SizeFeatured, Lane: bento.LanePrimary, GridColumnSpan: 3, GridRowSpan: 2, GridColumn: 1, GridRow: 1},
				{PostID: "b", SizeClass: post.SizeLarge, Lane: bento.LanePrimary, GridColumnSpan: 2, GridRowSpan: 2, GridColumn: 4, GridRow: 1},
			},
		},
		Meta:           ranking.Meta{TotalPosts: 2, HasPersonalization: true, GeneratedAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
		CatalogVersion: 9,
		Degraded:       true,
	}
}

func serveFeed(h http.HandlerFunc, target, viewer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if viewer != "" {
		req = req.WithContext(middleware.SetViewerID(req.Context(), viewer))
	}
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func TestGetFeed(t *testing.T) {
	fake := &fakeFeeds{feed: cannedFeed()}
	h := NewFeedHandlers(fake, quietLogger())

	rr := serveFeed(h.GetFeed, "/feed", "viewer-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	if fake.last.ViewerID != "viewer-1" || fake.last.SimulateNoHistory {
		t.Errorf("unexpected request %+v", fake.last)
	}

	var resp FeedResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 2 || resp.Items[1].PostID != "b" || !resp.Items[1].Pinned || resp.Items[1].Reason != ranking.ReasonPersonalization {
		t.Errorf("unexpected items %+v", resp.Items)
	}
	if len(resp.Placements) != 2 || resp.Placements[0].GridColumnSpan != 3 {
		t.Errorf("unexpected placements %+v", resp.Placements)
	}
	if resp.Meta.Columns != 5 || resp.Meta.Rows != 3 || !resp.Meta.HasPersonalization {
		t.Errorf("unexpected meta %+v", resp.Meta)
	}

	// The public view omits diagnostics.
	var raw map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &raw)
	if _, ok := raw["degraded"]; ok {
		t.Error("public feed exposes degraded flag")
	}
}

func TestGetFeed_SimulateNoHistory(t *testing.T) {
	tests := []struct {
		query    string
		want     bool
		wantCode int
	}{
		{"", false, http.StatusOK},
		{"?simulate_no_history=true", true, http.StatusOK},
		{"?simulate_no_history=1", true, http.StatusOK},
		{"?simulate_no_history=false", false, http.StatusOK},
		{"?simulate_no_history=maybe", false, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			fake := &fakeFeeds{feed: cannedFeed()}
			rr := serveFeed(NewFeedHandlers(fake, quietLogger()).GetFeed, "/feed"+tt.query, "v")
			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantCode)
			}
			if tt.wantCode == http.StatusOK && fake.last.SimulateNoHistory != tt.want {
				t.Errorf("SimulateNoHistory = %v, want %v", fake.last.SimulateNoHistory, tt.want)
			}
		})
	}
}

func TestGetFeed_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"invalid catalog", fmt.Errorf("%w: %w", ranking.ErrInvalidInput, post.ErrInvalidPost), http.StatusUnprocessableEntity, ErrCodeInvalidCatalog},
		{"internal", errors.New("db down"), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serveFeed(NewFeedHandlers(&fakeFeeds{err: tt.err}, quietLogger()).GetFeed, "/feed", "")
			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantCode)
			}
			var resp ErrorResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Error.Code != tt.wantErr {
				t.Errorf("code = %q, want %q", resp.Error.Code, tt.wantErr)
			}
		})
	}
}

func TestGetDebug(t *testing.T) {
	fake := &fakeFeeds{feed: cannedFeed()}
	h := NewFeedHandlers(fake, quietLogger())

	rr := serveFeed(h.GetDebug, "/admin/bento/debug?viewer_id=v42&simulate_no_history=true", "header-viewer")
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	if fake.last.ViewerID != "v42" || !fake.last.SimulateNoHistory {
		t.Errorf("unexpected request %+v", fake.last)
	}

	var resp DebugResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Degraded || resp.CatalogVersion != 9 || resp.ViewerID != "v42" || !resp.SimulateNoHistory {
		t.Errorf("unexpected debug header fields %+v", resp)
	}
	if len(resp.Items) != 2 || resp.Items[0].BaseSortKey != 1.2 || resp.Items[1].RawRecScore != 0.8 {
		t.Errorf("debug items lost diagnostic fields: %+v", resp.Items)
	}
	if resp.Layout.PrimaryCount != 2 {
		t.Errorf("layout = %+v", resp.Layout)
	}
}

func TestGetDebug_ViewerFallsBackToHeader(t *testing.T) {
	fake := &fakeFeeds{feed: cannedFeed()}
	serveFeed(NewFeedHandlers(fake, quietLogger()).GetDebug, "/admin/bento/debug", "header-viewer")
	if fake.last.ViewerID != "header-viewer" {
		t.Errorf("ViewerID = %q", fake.last.ViewerID)
	}
}
