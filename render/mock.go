package render

import (
	"image"

	"github.com/ruteri/social-image/interfaces"
	"github.com/stretchr/testify/mock"
	"go.uber.org/atomic"
)

// MockRasterizer is a testify mock of interfaces.Rasterizer.
type MockRasterizer struct {
	mock.Mock
}

func (m *MockRasterizer) Rasterize(svg []byte, resourceDir string, defaultSize interfaces.CanvasSize) (image.Image, error) {
	args := m.Called(svg, resourceDir, defaultSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(image.Image), args.Error(1)
}

// CountingRasterizer delegates to Next and counts calls.
type CountingRasterizer struct {
	Next interfaces.Rasterizer

	// Gate, if set, is received from before each call is delegated.
	Gate chan struct{}

	calls atomic.Int64
}

// NewCountingRasterizer wraps an OksvgRasterizer.
func NewCountingRasterizer() *CountingRasterizer {
	return &CountingRasterizer{Next: NewOksvgRasterizer()}
}

func (c *CountingRasterizer) Rasterize(svg []byte, resourceDir string, defaultSize interfaces.CanvasSize) (image.Image, error) {
	c.calls.Inc()
	if c.Gate != nil {
		<-c.Gate
	}
	return c.Next.Rasterize(svg, resourceDir, defaultSize)
}

// Calls returns the number of Rasterize calls so far.
func (c *CountingRasterizer) Calls() int64 {
	return c.calls.Load()
}
