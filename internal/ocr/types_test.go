package ocr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRectClip(t *testing.T) {
	tests := []struct {
		name string
		in   Rect
		want Rect
	}{
		{name: "inside untouched", in: Rect{X1: 10, Y1: 10, X2: 50, Y2: 40}, want: Rect{X1: 10, Y1: 10, X2: 50, Y2: 40}},
		{name: "negative origin clamps", in: Rect{X1: -5, Y1: -3, X2: 50, Y2: 40}, want: Rect{X1: 0, Y1: 0, X2: 50, Y2: 40}},
		{name: "overflow clamps", in: Rect{X1: 10, Y1: 10, X2: 500, Y2: 400}, want: Rect{X1: 10, Y1: 10, X2: 100, Y2: 80}},
		{name: "degenerate gets minimum size", in: Rect{X1: 30, Y1: 20, X2: 30, Y2: 20}, want: Rect{X1: 30, Y1: 20, X2: 31, Y2: 21}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Clip(100, 80))
		})
	}
}

func TestRectPad(t *testing.T) {
	r := Rect{X1: 10, Y1: 10, X2: 20, Y2: 20}
	assert.Equal(t, Rect{X1: 5, Y1: 5, X2: 25, Y2: 25}, r.Pad(5))
}

func TestRectGeometry(t *testing.T) {
	r := Rect{X1: 10, Y1: 20, X2: 50, Y2: 60}
	assert.Equal(t, 40, r.Width())
	assert.Equal(t, 40, r.Height())
	assert.Equal(t, Point{X: 30, Y: 40}, r.Center())
	assert.True(t, r.ContainsPoint(Point{X: 10, Y: 20}))
	assert.True(t, r.ContainsPoint(Point{X: 50, Y: 60}))
	assert.False(t, r.ContainsPoint(Point{X: 9, Y: 20}))
}

func TestNormRectToPixels(t *testing.T) {
	box := NormRect{X: 0.25, Y: 0.5, W: 0.5, H: 0.25}.ToPixels(200, 100)
	assert.Equal(t, Rect{X1: 50, Y1: 50, X2: 150, Y2: 75}, box)

	// Values outside [0, 1] clamp rather than producing empty boxes
	clamped := NormRect{X: 1.5, Y: -0.2, W: 0.5, H: 0.5}.ToPixels(200, 100)
	assert.GreaterOrEqual(t, clamped.X1, 0)
	assert.LessOrEqual(t, clamped.X2, 200)
	assert.GreaterOrEqual(t, clamped.Width(), 1)
	assert.GreaterOrEqual(t, clamped.Height(), 1)
}

func TestXBounds(t *testing.T) {
	line := TextLine{
		Center:  Point{X: 50, Y: 10},
		Polygon: []Point{{X: 40, Y: 5}, {X: 60, Y: 5}, {X: 60, Y: 15}, {X: 40, Y: 15}},
	}
	minX, maxX := line.XBounds()
	assert.Equal(t, 40, minX)
	assert.Equal(t, 60, maxX)

	noPoly := TextLine{Center: Point{X: 7, Y: 3}}
	minX, maxX = noPoly.XBounds()
	assert.Equal(t, 7, minX)
	assert.Equal(t, 7, maxX)
}
