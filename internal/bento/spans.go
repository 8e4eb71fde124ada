// Package bento turns a ranked feed into grid placements: a size class per
// post, column and row spans per breakpoint, and desktop grid coordinates
// from row-major packing.
package bento

import "github.com/onnwee/bentofeed/internal/post"

// Breakpoint names a responsive width band.
type Breakpoint string

const (
	Desktop Breakpoint = "desktop" // >= 1024px, 5 columns
	Tablet  Breakpoint = "tablet"  // 600-1023px, 3 columns
	Mobile  Breakpoint = "mobile"  // < 600px, 1 column
)

// Breakpoints lists every breakpoint, widest first.
var Breakpoints = []Breakpoint{Desktop, Tablet, Mobile}

// DesktopColumns is the width of the primary grid.
const DesktopColumns = 5

// Columns returns the grid width at a breakpoint.
func Columns(bp Breakpoint) int {
	switch bp {
	case Desktop:
		return DesktopColumns
	case Tablet:
		return 3
	default:
		return 1
	}
}

// MinWidth returns the smallest viewport width, in CSS pixels, of a breakpoint.
func MinWidth(bp Breakpoint) int {
	switch bp {
	case Desktop:
		return 1024
	case Tablet:
		return 600
	default:
		return 0
	}
}

// Span is a cell footprint in grid tracks.
type Span struct {
	Columns int `json:"columns"`
	Rows    int `json:"rows"`
}

var unit = Span{Columns: 1, Rows: 1}

var spanTable = map[post.SizeClass]map[Breakpoint]Span{
	post.SizeFeatured: {Desktop: {3, 2}, Tablet: {2, 2}, Mobile: unit},
	post.SizeBanner:   {Desktop: {5, 1}, Tablet: {3, 1}, Mobile: unit},
	post.SizeLarge:    {Desktop: {2, 2}, Tablet: {2, 2}, Mobile: unit},
	post.SizeMedium:   {Desktop: {2, 1}, Tablet: unit, Mobile: unit},
	post.SizeSmall:    {Desktop: unit, Tablet: unit, Mobile: unit},
}

// SpanFor returns the footprint of a size class at a breakpoint. Unknown
// sizes and breakpoints get a single cell.
func SpanFor(size post.SizeClass, bp Breakpoint) Span {
	if byBP, ok := spanTable[size]; ok {
		if s, ok := byBP[bp]; ok {
			return s
		}
	}
	return unit
}

// ResponsiveSpans returns the footprint of a size class at every breakpoint.
func ResponsiveSpans(size post.SizeClass) map[Breakpoint]Span {
	out := make(map[Breakpoint]Span, len(Breakpoints))
	for _, bp := range Breakpoints {
		out[bp] = SpanFor(size, bp)
	}
	return out
}

func compactSpans() map[Breakpoint]Span {
	out := make(map[Breakpoint]Span, len(Breakpoints))
	for _, bp := range Breakpoints {
		out[bp] = unit
	}
	return out
}

// BandSize returns the default size class for the n-th primary lane item.
//
//	0     featured
//	1-2   large
//	3-6   medium
//	7+    small
func BandSize(position int) post.SizeClass {
	switch {
	case position == 0:
		return post.SizeFeatured
	case position <= 2:
		return post.SizeLarge
	case position <= 6:
		return post.SizeMedium
	default:
		return post.SizeSmall
	}
}
