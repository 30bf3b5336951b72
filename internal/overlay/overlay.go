package overlay

import "sort"

// eps keeps rectangles that only share an edge from overlapping.
const eps = 1e-6

// Die is one cell of a wafer map. X is the column, Y the row.
type Die struct {
	X   int `json:"x"`
	Y   int `json:"y"`
	Bin Bin `json:"bin"`
}

// DefectRect is a substrate defect anchored at its bottom-left corner.
// X and Y are in the die grid's unit (millimeters); Width and Height are
// raw micrometers.
type DefectRect struct {
	X      float64 `json:"x" toml:"x"`
	Y      float64 `json:"y" toml:"y"`
	Width  float64 `json:"width" toml:"width"`
	Height float64 `json:"height" toml:"height"`
}

// GridSize is the physical size of one die cell in millimeters.
type GridSize struct {
	Width  float64 `json:"width" toml:"width"`
	Height float64 `json:"height" toml:"height"`
}

// GridOffset translates the die grid origin, in millimeters.
type GridOffset struct {
	X float64 `json:"x" toml:"x"`
	Y float64 `json:"y" toml:"y"`
}

// SizeOffset is added to every defect's width and height, in micrometers,
// before conversion.
type SizeOffset struct {
	X float64 `json:"x" toml:"x"`
	Y float64 `json:"y" toml:"y"`
}

// Rect is an axis-aligned rectangle in millimeters. Top < Bottom.
type Rect struct {
	Left, Right, Top, Bottom float64
}

// Overlaps reports whether r and o share interior area. Rectangles that
// only touch along an edge do not overlap.
func (r Rect) Overlaps(o Rect) bool {
	return !(r.Right <= o.Left+eps ||
		r.Left >= o.Right-eps ||
		r.Bottom <= o.Top+eps ||
		r.Top >= o.Bottom-eps)
}

// DieRect returns the physical rectangle of the die at (x, y). Rows run
// downward in physical space while the row index runs upward.
func DieRect(x, y int, grid GridSize, offset GridOffset) Rect {
	left := float64(x)*grid.Width + offset.X
	top := -float64(y)*grid.Height + offset.Y
	return Rect{
		Left:   left,
		Right:  left + grid.Width,
		Top:    top,
		Bottom: top + grid.Height,
	}
}

// Normalize applies the size offset to d, clamps negative dimensions to
// zero and converts them from micrometers to millimeters.
func (d DefectRect) Normalize(size SizeOffset) DefectRect {
	return DefectRect{
		X:      d.X,
		Y:      d.Y,
		Width:  max(0, d.Width+size.X) / 1000,
		Height: max(0, d.Height+size.Y) / 1000,
	}
}

// Rect returns the rectangle of an already normalized defect.
func (d DefectRect) Rect() Rect {
	return Rect{Left: d.X, Right: d.X + d.Width, Top: d.Y, Bottom: d.Y + d.Height}
}

// Seed returns layout when it is non-empty and base otherwise. A product
// layout, when known, is the authoritative die set for overlaying.
func Seed(base, layout []Die) []Die {
	if len(layout) > 0 {
		return layout
	}
	return base
}

// Map returns a copy of base in which every die overlapping any defect is
// reassigned to DefectBin, unless its bin is protected. Inputs are not
// modified; the result has the same length and order as base.
func Map(base []Die, defects []DefectRect, grid GridSize, offset GridOffset, size SizeOffset) []Die {
	if len(base) == 0 {
		return []Die{}
	}

	rects := make([]Rect, len(defects))
	for i, d := range defects {
		rects[i] = d.Normalize(size).Rect()
	}

	out := make([]Die, len(base))
	for i, die := range base {
		out[i] = die
		if die.Bin.Protected() {
			continue
		}
		r := DieRect(die.X, die.Y, grid, offset)
		for _, dr := range rects {
			if r.Overlaps(dr) {
				out[i].Bin = DefectBin
				break
			}
		}
	}
	return out
}

// BinCount is the number of dies carrying one bin.
type BinCount struct {
	Bin   Bin `json:"bin"`
	Count int `json:"count"`
}

// Summary counts dies per bin. Special bins sort before numeric ones.
func Summary(dies []Die) []BinCount {
	counts := make(map[Bin]int)
	for _, d := range dies {
		counts[d.Bin]++
	}
	out := make([]BinCount, 0, len(counts))
	for b, n := range counts {
		out = append(out, BinCount{Bin: b, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Bin, out[j].Bin
		if a.IsSpecial() != b.IsSpecial() {
			return a.IsSpecial()
		}
		if a.IsSpecial() {
			return a.special < b.special
		}
		return a.number < b.number
	})
	return out
}
