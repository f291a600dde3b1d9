/**
 * OCR Types - Shared data structures for text detection
 *
 * A TextLine is one OCR detection in full-image pixel coordinates.
 * Rect is an integer pixel rectangle with x1<x2, y1<y2.
 */

package ocr

// Language tags the script of an OCR pass
type Language string

const (
	LangLatin  Language = "latin"
	LangArabic Language = "arabic"
)

// Point is a pixel coordinate
type Point struct {
	X int
	Y int
}

// Rect is a pixel rectangle, inclusive of X1/Y1, exclusive of X2/Y2
type Rect struct {
	X1 int
	Y1 int
	X2 int
	Y2 int
}

// Width returns the rectangle width in pixels
func (r Rect) Width() int { return r.X2 - r.X1 }

// Height returns the rectangle height in pixels
func (r Rect) Height() int { return r.Y2 - r.Y1 }

// Center returns the integer center of the rectangle
func (r Rect) Center() Point {
	return Point{X: (r.X1 + r.X2) / 2, Y: (r.Y1 + r.Y2) / 2}
}

// ContainsPoint reports whether p falls inside the rectangle (borders included)
func (r Rect) ContainsPoint(p Point) bool {
	return p.X >= r.X1 && p.X <= r.X2 && p.Y >= r.Y1 && p.Y <= r.Y2
}

// Clip bounds the rectangle to an image of the given width and height
func (r Rect) Clip(w, h int) Rect {
	out := r
	if out.X1 < 0 {
		out.X1 = 0
	}
	if out.Y1 < 0 {
		out.Y1 = 0
	}
	if out.X2 > w {
		out.X2 = w
	}
	if out.Y2 > h {
		out.Y2 = h
	}
	if out.X2 <= out.X1 {
		out.X2 = out.X1 + 1
	}
	if out.Y2 <= out.Y1 {
		out.Y2 = out.Y1 + 1
	}
	return out
}

// Pad grows the rectangle by n pixels on every side (clip afterwards)
func (r Rect) Pad(n int) Rect {
	return Rect{X1: r.X1 - n, Y1: r.Y1 - n, X2: r.X2 + n, Y2: r.Y2 + n}
}

// NormRect is a normalized [x, y, w, h] rectangle with components in [0, 1]
type NormRect struct {
	X float64
	Y float64
	W float64
	H float64
}

func clip01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// ToPixels converts a normalized rectangle to an integer pixel Rect.
// Components are clamped to [0, 1] first; the result is clipped to the image
// and guarantees x2 >= x1+1, y2 >= y1+1.
func (n NormRect) ToPixels(imgW, imgH int) Rect {
	x := clip01(n.X)
	y := clip01(n.Y)
	rw := clip01(n.W)
	rh := clip01(n.H)
	x1 := int(x*float64(imgW) + 0.5)
	y1 := int(y*float64(imgH) + 0.5)
	x2 := int((x+rw)*float64(imgW) + 0.5)
	y2 := int((y+rh)*float64(imgH) + 0.5)
	if x1 > imgW-1 {
		x1 = imgW - 1
	}
	if y1 > imgH-1 {
		y1 = imgH - 1
	}
	if x1 < 0 {
		x1 = 0
	}
	if y1 < 0 {
		y1 = 0
	}
	if x2 < x1+1 {
		x2 = x1 + 1
	}
	if y2 < y1+1 {
		y2 = y1 + 1
	}
	if x2 > imgW {
		x2 = imgW
	}
	if y2 > imgH {
		y2 = imgH
	}
	return Rect{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

// TextLine represents one OCR detection
type TextLine struct {
	Text       string
	Confidence float64 // 0..1
	Language   Language
	Center     Point
	Polygon    []Point
}

// XBounds returns the min and max x of the line's polygon, falling back to
// the center when no polygon is available.
func (t TextLine) XBounds() (int, int) {
	if len(t.Polygon) == 0 {
		return t.Center.X, t.Center.X
	}
	minX, maxX := t.Polygon[0].X, t.Polygon[0].X
	for _, p := range t.Polygon[1:] {
		if p.X < minX {
			minX = p.X
		}
		if p.X > maxX {
			maxX = p.X
		}
	}
	return minX, maxX
}
