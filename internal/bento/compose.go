package bento

import (
	"errors"
	"fmt"
	"sort"

	"github.com/onnwee/bentofeed/internal/post"
	"github.com/onnwee/bentofeed/internal/ranking"
)

// Composition errors.
var (
	ErrUnknownPost   = errors.New("ranked item has no matching post")
	ErrDuplicateItem = errors.New("duplicate ranked item")
)

// Lane separates grid cells from the compact news list.
type Lane string

const (
	LanePrimary Lane = "primary"
	LaneCompact Lane = "compact"
)

// Placement is where and how large one post renders.
type Placement struct {
	PostID         string         `json:"post_id"`
	SizeClass      post.SizeClass `json:"size_class"`
	Declared       bool           `json:"declared"`
	Lane           Lane           `json:"lane"`
	GridColumnSpan int            `json:"grid_column_span"`
	GridRowSpan    int            `json:"grid_row_span"`
	// GridColumn and GridRow are 1-based desktop coordinates; 0 in the compact lane.
	GridColumn int                 `json:"grid_column"`
	GridRow    int                 `json:"grid_row"`
	LaneIndex  int                 `json:"lane_index"`
	FinalRank  int                 `json:"final_rank"`
	Responsive map[Breakpoint]Span `json:"responsive"`
}

// Layout is the composed grid.
type Layout struct {
	Columns      int         `json:"columns"`
	Rows         int         `json:"rows"`
	GapCells     int         `json:"gap_cells"`
	PrimaryCount int         `json:"primary_count"`
	CompactCount int         `json:"compact_count"`
	Placements   []Placement `json:"placements"`
}

// Compose assigns size classes and desktop positions to a ranked feed.
//
// Sizes come from the post's DeclaredSize when set, otherwise from the item's
// position within the primary lane (see BandSize). News posts go to the
// compact lane as single cells and never consume a band position. Primary
// cells are packed row-major without backfilling, so gaps left by wide cells
// are counted in GapCells rather than filled by later items.
//
// Placements are returned in FinalRank order.
func Compose(ranked []ranking.RankedItem, posts []post.Post) (*Layout, error) {
	byID := make(map[string]*post.Post, len(posts))
	for i := range posts {
		byID[posts[i].ID] = &posts[i]
	}

	items := make([]ranking.RankedItem, len(ranked))
	copy(items, ranked)
	sort.SliceStable(items, func(a, b int) bool {
		if items[a].FinalRank != items[b].FinalRank {
			return items[a].FinalRank < items[b].FinalRank
		}
		return items[a].PostID < items[b].PostID
	})

	layout := &Layout{
		Columns:    DesktopColumns,
		Placements: make([]Placement, 0, len(items)),
	}
	grid := newPacker(DesktopColumns)
	seen := make(map[string]struct{}, len(items))

	for _, it := range items {
		p, ok := byID[it.PostID]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPost, it.PostID)
		}
		if _, dup := seen[it.PostID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateItem, it.PostID)
		}
		seen[it.PostID] = struct{}{}

		pl := Placement{
			PostID:    it.PostID,
			FinalRank: it.FinalRank,
		}

		if p.IsNews() {
			pl.Lane = LaneCompact
			pl.SizeClass = post.SizeSmall
			pl.GridColumnSpan, pl.GridRowSpan = 1, 1
			pl.LaneIndex = layout.CompactCount
			pl.Responsive = compactSpans()
			layout.CompactCount++
			layout.Placements = append(layout.Placements, pl)
			continue
		}

		pl.Lane = LanePrimary
		pl.LaneIndex = layout.PrimaryCount
		if p.DeclaredSize != nil {
			pl.SizeClass = *p.DeclaredSize
			pl.Declared = true
		} else {
			pl.SizeClass = BandSize(layout.PrimaryCount)
		}
		span := SpanFor(pl.SizeClass, Desktop)
		pl.GridColumnSpan, pl.GridRowSpan = span.Columns, span.Rows
		pl.Responsive = ResponsiveSpans(pl.SizeClass)
		pl.GridRow, pl.GridColumn = grid.place(span)

		layout.PrimaryCount++
		layout.Placements = append(layout.Placements, pl)
	}

	layout.Rows = grid.rows()
	layout.GapCells = layout.Rows*DesktopColumns - grid.filled
	return layout, nil
}

// packer implements sparse row-major auto-placement on a fixed-width grid.
type packer struct {
	cols      int
	occupied  [][]bool
	cursorRow int
	cursorCol int
	filled    int
}

func newPacker(cols int) *packer {
	return &packer{cols: cols}
}

// place puts a span at the first fitting position at or after the cursor and
// returns its 1-based (row, column).
func (g *packer) place(span Span) (int, int) {
	w := min(max(span.Columns, 1), g.cols)
	h := max(span.Rows, 1)

	for r := g.cursorRow; ; r++ {
		start := 0
		if r == g.cursorRow {
			start = g.cursorCol
		}
		for c := start; c+w <= g.cols; c++ {
			if g.fits(r, c, w, h) {
				g.mark(r, c, w, h)
				g.cursorRow, g.cursorCol = r, c+w
				return r + 1, c + 1
			}
		}
	}
}

func (g *packer) fits(r, c, w, h int) bool {
	for y := r; y < r+h; y++ {
		if y >= len(g.occupied) {
			return true
		}
		for x := c; x < c+w; x++ {
			if g.occupied[y][x] {
				return false
			}
		}
	}
	return true
}

func (g *packer) mark(r, c, w, h int) {
	for len(g.occupied) < r+h {
		g.occupied = append(g.occupied, make([]bool, g.cols))
	}
	for y := r; y < r+h; y++ {
		for x := c; x < c+w; x++ {
			g.occupied[y][x] = true
		}
	}
	g.filled += w * h
}

func (g *packer) rows() int {
	return len(g.occupied)
}
