// Package geom provides integer pixel geometry for page layout analysis.
package geom

// BBox is an axis-aligned box in page pixel coordinates. Width and height
// are never negative.
type BBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Right returns the exclusive right edge.
func (b BBox) Right() int { return b.X + b.W }

// Bottom returns the exclusive bottom edge.
func (b BBox) Bottom() int { return b.Y + b.H }

// Area returns the box area in square pixels.
func (b BBox) Area() int { return b.W * b.H }

// Empty reports whether the box covers no pixels.
func (b BBox) Empty() bool { return b.W <= 0 || b.H <= 0 }

// Union returns the smallest box covering both b and o. An empty box is
// absorbed by the other operand.
func (b BBox) Union(o BBox) BBox {
	if b.Empty() {
		return o
	}
	if o.Empty() {
		return b
	}
	x := min(b.X, o.X)
	y := min(b.Y, o.Y)
	return BBox{
		X: x,
		Y: y,
		W: max(b.Right(), o.Right()) - x,
		H: max(b.Bottom(), o.Bottom()) - y,
	}
}

// OverlapsX reports whether the horizontal ranges of the two boxes
// intersect. Touching edges do not count as overlap.
func (b BBox) OverlapsX(o BBox) bool {
	return b.X < o.Right() && o.X < b.Right()
}

// OverlapsY reports whether the vertical ranges of the two boxes intersect.
// Touching edges do not count as overlap.
func (b BBox) OverlapsY(o BBox) bool {
	return b.Y < o.Bottom() && o.Y < b.Bottom()
}

// Pad grows the box by n pixels on every side, clamping the origin at zero
// so the padded box never extends into negative coordinates.
func (b BBox) Pad(n int) BBox {
	x0 := max(0, b.X-n)
	y0 := max(0, b.Y-n)
	return BBox{
		X: x0,
		Y: y0,
		W: b.Right() + n - x0,
		H: b.Bottom() + n - y0,
	}
}

// ClampTo intersects the box with the page rectangle (0, 0, w, h).
func (b BBox) ClampTo(w, h int) BBox {
	x0 := max(0, b.X)
	y0 := max(0, b.Y)
	x1 := min(b.Right(), w)
	y1 := min(b.Bottom(), h)
	if x1 < x0 {
		x1 = x0
	}
	if y1 < y0 {
		y1 = y0
	}
	return BBox{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// orderHintScale keeps the vertical position dominant in reading-order keys
// for any realistic page width.
const orderHintScale = 1_000_000

// OrderHint produces a reading-order sort key for the box: top-to-bottom
// first, left-to-right as the tie-break.
func OrderHint(b BBox) float64 {
	return float64(b.Y)*orderHintScale + float64(b.X)
}
