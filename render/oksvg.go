package render

import (
	"bytes"
	"fmt"
	"image"

	"github.com/ruteri/social-image/interfaces"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// MaxCanvasDimension bounds each side of a render in pixels.
const MaxCanvasDimension = 8192

// OksvgRasterizer rasterizes documents with oksvg. oksvg draws shapes, paths
// and gradients. <image> and <text> elements are then painted on top from
// resourceDir: bitmaps referenced by file name or data URI, and text set in
// the attached TrueType or OpenType font matching its font-family. Documents
// without attached fonts render no text.
type OksvgRasterizer struct{}

func NewOksvgRasterizer() *OksvgRasterizer {
	return &OksvgRasterizer{}
}

// Rasterize implements interfaces.Rasterizer.
func (r *OksvgRasterizer) Rasterize(svg []byte, resourceDir string, defaultSize interfaces.CanvasSize) (image.Image, error) {
	size, err := ParseDocumentSize(svg)
	if err != nil {
		return nil, err
	}

	icon, err := oksvg.ReadIconStream(bytes.NewReader(svg), oksvg.IgnoreErrorMode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidSVG, err)
	}

	w, h := size.Resolve(defaultSize)
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: empty canvas %dx%d", interfaces.ErrRasterizeFailed, w, h)
	}
	if w > MaxCanvasDimension || h > MaxCanvasDimension {
		return nil, fmt.Errorf("%w: canvas %dx%d exceeds %d pixels per side", interfaces.ErrRasterizeFailed, w, h, MaxCanvasDimension)
	}

	// without a declared size oksvg leaves the viewBox empty
	if icon.ViewBox.W <= 0 || icon.ViewBox.H <= 0 {
		icon.ViewBox.X, icon.ViewBox.Y = 0, 0
		icon.ViewBox.W, icon.ViewBox.H = float64(w), float64(h)
	}
	icon.SetTarget(0, 0, float64(w), float64(h))

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	scanner := rasterx.NewScannerGV(w, h, img, img.Bounds())
	icon.Draw(rasterx.NewDasher(w, h, scanner), 1.0)

	t := icon.Transform
	paintResources(img, svg, resourceDir, affine{a: t.A, b: t.B, c: t.C, d: t.D, e: t.E, f: t.F})
	return img, nil
}
