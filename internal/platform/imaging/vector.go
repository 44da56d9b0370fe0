package imaging

import (
	"image"
	"image/color"
	"math"

	"github.com/radreport/radreport/internal/domain/report"
)

// Annotation palettes. The color-safe variant uses Okabe-Ito hues that
// stay distinguishable under the common color-vision deficiencies.
var (
	defaultPalette = map[string]color.RGBA{
		"red":    {R: 220, G: 38, B: 38, A: 255},
		"green":  {R: 22, G: 163, B: 74, A: 255},
		"yellow": {R: 234, G: 179, B: 8, A: 255},
		"blue":   {R: 37, G: 99, B: 235, A: 255},
	}
	colorSafePalette = map[string]color.RGBA{
		"red":    {R: 213, G: 94, B: 0, A: 255},   // vermillion
		"green":  {R: 0, G: 114, B: 178, A: 255},  // blue
		"yellow": {R: 240, G: 228, B: 66, A: 255}, // yellow
		"blue":   {R: 86, G: 180, B: 233, A: 255}, // sky blue
	}
)

func annotationColor(name string, colorSafe bool) color.RGBA {
	palette := defaultPalette
	if colorSafe {
		palette = colorSafePalette
	}
	if c, ok := palette[name]; ok {
		return c
	}
	return palette["red"]
}

// rasterizeVector renders each vector operation onto a transparent layer
// sized to the given bounds.
func rasterizeVector(ops []report.VectorOp, bounds image.Rectangle, colorSafe bool) *image.RGBA {
	layer := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for _, op := range ops {
		col := annotationColor(op.Color, colorSafe)
		switch op.Kind {
		case report.VectorLine:
			if len(op.Points) >= 2 {
				drawLine(layer, op.Points[0], op.Points[1], col)
			}
		case report.VectorCircle:
			if len(op.Points) >= 1 && op.Radius > 0 {
				drawCircle(layer, op.Points[0], op.Radius, col)
			}
		case report.VectorFreehand:
			drawPolyline(layer, op.Points, col)
		case report.VectorMeasurement:
			if len(op.Points) >= 2 {
				drawMeasurement(layer, op.Points[0], op.Points[1], col)
			}
		}
	}
	return layer
}

// drawLine draws a 2px line between two points.
func drawLine(img *image.RGBA, a, b report.Point, col color.RGBA) {
	dx := b.X - a.X
	dy := b.Y - a.Y
	steps := int(math.Max(math.Abs(dx), math.Abs(dy)))
	if steps == 0 {
		setThick(img, int(a.X), int(a.Y), col)
		return
	}
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		setThick(img, int(a.X+dx*t), int(a.Y+dy*t), col)
	}
}

// drawPolyline connects consecutive points of a freehand path.
func drawPolyline(img *image.RGBA, pts []report.Point, col color.RGBA) {
	for i := 1; i < len(pts); i++ {
		drawLine(img, pts[i-1], pts[i], col)
	}
}

// drawCircle draws a circle outline around a center point.
func drawCircle(img *image.RGBA, center report.Point, radius float64, col color.RGBA) {
	steps := int(2 * math.Pi * radius)
	if steps < 16 {
		steps = 16
	}
	for i := 0; i < steps; i++ {
		theta := 2 * math.Pi * float64(i) / float64(steps)
		x := center.X + radius*math.Cos(theta)
		y := center.Y + radius*math.Sin(theta)
		setThick(img, int(x), int(y), col)
	}
}

// drawMeasurement draws a line with perpendicular end ticks. The
// measured value itself is reported in the export's measurement table
// and legend, not rendered as text.
func drawMeasurement(img *image.RGBA, a, b report.Point, col color.RGBA) {
	drawLine(img, a, b, col)

	dx := b.X - a.X
	dy := b.Y - a.Y
	length := math.Hypot(dx, dy)
	if length == 0 {
		return
	}
	// Unit normal for the tick direction.
	nx := -dy / length * 6
	ny := dx / length * 6
	for _, p := range []report.Point{a, b} {
		drawLine(img,
			report.Point{X: p.X - nx, Y: p.Y - ny},
			report.Point{X: p.X + nx, Y: p.Y + ny}, col)
	}
}

// setThick sets a 2x2 pixel block, clipped to the image bounds.
func setThick(img *image.RGBA, x, y int, col color.RGBA) {
	b := img.Bounds()
	for dy := 0; dy < 2; dy++ {
		for dx := 0; dx < 2; dx++ {
			px, py := x+dx, y+dy
			if px >= b.Min.X && px < b.Max.X && py >= b.Min.Y && py < b.Max.Y {
				img.SetRGBA(px, py, col)
			}
		}
	}
}

// drawScaleBar draws a 10 mm reference bar in the lower-left corner.
func drawScaleBar(img *image.RGBA, pixelSpacingMM float64, colorSafe bool) {
	const barMM = 10.0
	barPx := int(barMM / pixelSpacingMM)
	b := img.Bounds()
	if barPx <= 0 || barPx > b.Dx()/2 {
		return
	}
	col := annotationColor("yellow", colorSafe)
	x0 := b.Min.X + 12
	y0 := b.Max.Y - 16
	for x := x0; x < x0+barPx; x++ {
		for y := y0; y < y0+4; y++ {
			img.SetRGBA(x, y, col)
		}
	}
	// End caps.
	for y := y0 - 4; y < y0+8; y++ {
		setThick(img, x0, y, col)
		setThick(img, x0+barPx-2, y, col)
	}
}

// drawOrientationTags draws edge markers: a block on the left edge
// (patient right) and on the top edge (anterior/superior).
func drawOrientationTags(img *image.RGBA, colorSafe bool) {
	col := annotationColor("blue", colorSafe)
	b := img.Bounds()
	cy := b.Min.Y + b.Dy()/2
	cx := b.Min.X + b.Dx()/2
	for i := -6; i <= 6; i++ {
		for j := 0; j < 4; j++ {
			img.SetRGBA(b.Min.X+4+j, cy+i, col)
			img.SetRGBA(cx+i, b.Min.Y+4+j, col)
		}
	}
}
