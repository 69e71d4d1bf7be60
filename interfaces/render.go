package interfaces

import (
	"context"
	"image"
)

// CanvasSize is a pixel size used when a document does not declare its own.
type CanvasSize struct {
	Width  int
	Height int
}

// Rasterizer draws an SVG document. resourceDir is the directory relative
// references inside the document resolve against; defaultSize is used only
// when the document declares no size.
type Rasterizer interface {
	Rasterize(svg []byte, resourceDir string, defaultSize CanvasSize) (image.Image, error)
}

// ImageEncoder serializes a raster.
type ImageEncoder interface {
	Encode(img image.Image) ([]byte, error)
}

// Renderer turns an SVG document and its resources into PNG bytes.
type Renderer interface {
	Render(ctx context.Context, svg []byte, resources map[string][]byte) ([]byte, error)
}
