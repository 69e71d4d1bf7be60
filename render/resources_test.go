package render

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/ruteri/social-image/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/gofont/goregular"
)

func solidPNG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func writeResource(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func rasterize(t *testing.T, svg, dir string) image.Image {
	t.Helper()
	img, err := NewOksvgRasterizer().Rasterize([]byte(svg), dir, interfaces.CanvasSize{Width: 64, Height: 64})
	require.NoError(t, err)
	return img
}

func isRed(c color.Color) bool {
	r, g, b, a := c.RGBA()
	return r > 0xc000 && g < 0x4000 && b < 0x4000 && a > 0xc000
}

func isEmpty(c color.Color) bool {
	_, _, _, a := c.RGBA()
	return a == 0
}

func paintedPixels(img image.Image, within image.Rectangle) int {
	n := 0
	for y := within.Min.Y; y < within.Max.Y; y++ {
		for x := within.Min.X; x < within.Max.X; x++ {
			if !isEmpty(img.At(x, y)) {
				n++
			}
		}
	}
	return n
}

func TestOksvgRasterizer_AttachedBitmap(t *testing.T) {
	svg := `<svg xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink" width="20" height="20">
		<image xlink:href="dot.png" x="5" y="5" width="10" height="10"/>
	</svg>`

	dir := t.TempDir()
	without := rasterize(t, svg, dir)
	assert.True(t, isEmpty(without.At(10, 10)))

	writeResource(t, dir, "dot.png", solidPNG(t, color.RGBA{R: 0xff, A: 0xff}))
	with := rasterize(t, svg, dir)
	assert.True(t, isRed(with.At(10, 10)), "got %v", with.At(10, 10))
	assert.True(t, isEmpty(with.At(1, 1)))
	assert.True(t, isEmpty(with.At(18, 18)))
}

func TestOksvgRasterizer_BitmapPlacement(t *testing.T) {
	dir := t.TempDir()
	writeResource(t, dir, "dot.png", solidPNG(t, color.RGBA{R: 0xff, A: 0xff}))

	t.Run("viewBox and group transform", func(t *testing.T) {
		img := rasterize(t, `<svg xmlns="http://www.w3.org/2000/svg" width="40" height="40" viewBox="0 0 20 20">
			<g transform="translate(10,0)"><image href="dot.png" width="10" height="10"/></g>
		</svg>`, dir)
		assert.True(t, isRed(img.At(30, 10)))
		assert.True(t, isEmpty(img.At(10, 10)))
		assert.True(t, isEmpty(img.At(30, 30)))
	})

	t.Run("meet keeps aspect ratio", func(t *testing.T) {
		img := rasterize(t, `<svg xmlns="http://www.w3.org/2000/svg" width="40" height="20">
			<image href="dot.png" width="40" height="20"/>
		</svg>`, dir)
		assert.True(t, isRed(img.At(20, 10)))
		assert.True(t, isEmpty(img.At(2, 10)))
		assert.True(t, isEmpty(img.At(37, 10)))
	})

	t.Run("none stretches", func(t *testing.T) {
		img := rasterize(t, `<svg xmlns="http://www.w3.org/2000/svg" width="40" height="20">
			<image href="dot.png" width="40" height="20" preserveAspectRatio="none"/>
		</svg>`, dir)
		assert.True(t, isRed(img.At(2, 10)))
		assert.True(t, isRed(img.At(37, 10)))
	})

	t.Run("inside defs is not painted", func(t *testing.T) {
		img := rasterize(t, `<svg xmlns="http://www.w3.org/2000/svg" width="20" height="20">
			<defs><image id="d" href="dot.png" width="20" height="20"/></defs>
		</svg>`, dir)
		assert.Zero(t, paintedPixels(img, img.Bounds()))
	})
}

func TestOksvgRasterizer_BitmapReferences(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "resources")
	require.NoError(t, os.Mkdir(dir, 0o755))
	red := solidPNG(t, color.RGBA{R: 0xff, A: 0xff})
	writeResource(t, parent, "outside.png", red)

	tests := []struct {
		name    string
		href    string
		painted bool
	}{
		{name: "data uri", href: "data:image/png;base64," + base64.StdEncoding.EncodeToString(red), painted: true},
		{name: "parent directory", href: "../outside.png"},
		{name: "absolute path", href: filepath.Join(parent, "outside.png")},
		{name: "remote url", href: "https://example.com/outside.png"},
		{name: "missing file", href: "nope.png"},
		{name: "not an image", href: "notes.txt"},
	}
	writeResource(t, dir, "notes.txt", []byte("hello"))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := rasterize(t, `<svg xmlns="http://www.w3.org/2000/svg" width="8" height="8"><image href="`+tt.href+`" width="8" height="8"/></svg>`, dir)
			assert.Equal(t, tt.painted, isRed(img.At(4, 4)))
		})
	}
}

func TestOksvgRasterizer_AttachedFont(t *testing.T) {
	svg := `<svg xmlns="http://www.w3.org/2000/svg" width="160" height="40">
		<text x="4" y="30" font-family="Go" font-size="28" fill="#0000ff">Hello</text>
	</svg>`

	dir := t.TempDir()
	without := rasterize(t, svg, dir)
	assert.Zero(t, paintedPixels(without, without.Bounds()))

	writeResource(t, dir, "Go-Regular.ttf", goregular.TTF)
	with := rasterize(t, svg, dir)
	assert.Greater(t, paintedPixels(with, with.Bounds()), 50)

	var blue bool
	b := with.Bounds()
	for y := b.Min.Y; y < b.Max.Y && !blue; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := with.At(x, y).RGBA()
			if a > 0xc000 && bl > 0xc000 && r < 0x4000 && g < 0x4000 {
				blue = true
				break
			}
		}
	}
	assert.True(t, blue, "text should be painted in its fill colour")
}

func TestOksvgRasterizer_TextAnchor(t *testing.T) {
	dir := t.TempDir()
	writeResource(t, dir, "Go-Regular.ttf", goregular.TTF)

	paint := func(anchor string) image.Image {
		return rasterize(t, `<svg xmlns="http://www.w3.org/2000/svg" width="200" height="40">
			<g style="font-family: 'Go Sans', sans-serif; font-size: 24px">
				<text x="100" y="30" text-anchor="`+anchor+`">Anchor<tspan> text</tspan></text>
			</g>
		</svg>`, dir)
	}

	// a few pixels either side of the anchor absorb side bearings
	left := image.Rect(0, 0, 96, 40)
	right := image.Rect(104, 0, 200, 40)

	start := paint("start")
	assert.Zero(t, paintedPixels(start, left))
	assert.Positive(t, paintedPixels(start, right))

	end := paint("end")
	assert.Positive(t, paintedPixels(end, left))
	assert.Zero(t, paintedPixels(end, right))

	middle := paint("middle")
	assert.Positive(t, paintedPixels(middle, left))
	assert.Positive(t, paintedPixels(middle, right))
}

func TestParseTransform(t *testing.T) {
	tests := []struct {
		in   string
		x, y float64
	}{
		{in: "", x: 1, y: 2},
		{in: "translate(10)", x: 11, y: 2},
		{in: "translate(10, 20)", x: 11, y: 22},
		{in: "scale(2)", x: 2, y: 4},
		{in: "scale(2 3)", x: 2, y: 6},
		{in: "translate(10,0) scale(2)", x: 12, y: 4},
		{in: "matrix(1 0 0 1 5 5)", x: 6, y: 7},
		{in: "bogus(1) translate(1,1)", x: 2, y: 3},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			x, y := parseTransform(tt.in).apply(1, 2)
			assert.InDelta(t, tt.x, x, 1e-9)
			assert.InDelta(t, tt.y, y, 1e-9)
		})
	}

	assert.False(t, parseTransform("rotate(45)").axisAligned())
	x, y := parseTransform("rotate(90)").apply(1, 0)
	assert.InDelta(t, 0, x, 1e-9)
	assert.InDelta(t, 1, y, 1e-9)
}
