// Package imaging flattens a base study image with raster and vector
// annotation overlays into a single figure-ready image.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"

	"github.com/radreport/radreport/internal/domain/report"
)

// Encoding selects the output image codec.
type Encoding string

const (
	// EncodingPNG is raster-lossless output.
	EncodingPNG Encoding = "png"
	// EncodingJPEG is raster-lossy output with a quality parameter.
	EncodingJPEG Encoding = "jpeg"
)

// ErrEmptyBase is returned when no base image bytes were supplied.
var ErrEmptyBase = errors.New("empty base image")

// Options controls composition and the final encoding step.
type Options struct {
	// DPI is the output scale factor, 1..3.
	DPI int
	// Encoding selects PNG or JPEG output.
	Encoding Encoding
	// Quality is the JPEG quality (1..100); ignored for PNG.
	Quality int
	// ColorSafe substitutes a color-blind-safe annotation palette.
	ColorSafe bool
	// ScaleBar draws a scale bar in the lower-left corner.
	ScaleBar bool
	// OrientationTags draws orientation markers on the image edges.
	OrientationTags bool
	// PixelSpacingMM is the physical size of one base-image pixel,
	// used to size the scale bar. Zero disables the bar.
	PixelSpacingMM float64
}

func (o Options) normalized() Options {
	if o.DPI < 1 {
		o.DPI = 1
	}
	if o.DPI > 3 {
		o.DPI = 3
	}
	if o.Encoding == "" {
		o.Encoding = EncodingPNG
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = 85
	}
	return o
}

// MIME returns the content type the options encode to.
func (o Options) MIME() string {
	if o.Encoding == EncodingJPEG {
		return "image/jpeg"
	}
	return "image/png"
}

// Compose merges a base raster image with optional raster and vector
// overlays. Flattening order is fixed: base, raster overlay, rasterized
// vector layer, then scale bar and orientation chrome; later layers draw
// over earlier ones. Re-encoding to the requested type, quality and DPI
// happens strictly last so lossy artifacts never compound into the
// annotation rendering.
//
// With no overlays the base image passes through unchanged apart from
// the requested re-encoding and DPI.
func Compose(base []byte, overlayRaster []byte, overlayVector []report.VectorOp, opts Options) ([]byte, error) {
	if len(base) == 0 {
		return nil, ErrEmptyBase
	}
	opts = opts.normalized()

	src, _, err := image.Decode(bytes.NewReader(base))
	if err != nil {
		return nil, fmt.Errorf("decode base image: %w", err)
	}

	bounds := src.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(canvas, canvas.Bounds(), src, bounds.Min, draw.Src)

	if len(overlayRaster) > 0 {
		ov, _, err := image.Decode(bytes.NewReader(overlayRaster))
		if err != nil {
			return nil, fmt.Errorf("decode raster overlay: %w", err)
		}
		draw.Draw(canvas, canvas.Bounds(), ov, ov.Bounds().Min, draw.Over)
	}

	if len(overlayVector) > 0 {
		// The vector layer is sized to the base image before
		// flattening so annotation coordinates stay correct at any
		// output resolution.
		layer := rasterizeVector(overlayVector, canvas.Bounds(), opts.ColorSafe)
		draw.Draw(canvas, canvas.Bounds(), layer, layer.Bounds().Min, draw.Over)
	}

	if opts.ScaleBar && opts.PixelSpacingMM > 0 {
		drawScaleBar(canvas, opts.PixelSpacingMM, opts.ColorSafe)
	}
	if opts.OrientationTags {
		drawOrientationTags(canvas, opts.ColorSafe)
	}

	out := scale(canvas, opts.DPI)
	return encode(out, opts)
}

// scale enlarges the image by an integer factor with nearest-neighbor
// sampling. Factor 1 returns the input untouched.
func scale(src *image.RGBA, factor int) *image.RGBA {
	if factor <= 1 {
		return src
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*factor, b.Dy()*factor))
	for y := 0; y < b.Dy()*factor; y++ {
		for x := 0; x < b.Dx()*factor; x++ {
			dst.Set(x, y, src.At(b.Min.X+x/factor, b.Min.Y+y/factor))
		}
	}
	return dst
}

func encode(img image.Image, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	switch opts.Encoding {
	case EncodingJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: opts.Quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	default:
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	}
	return buf.Bytes(), nil
}
