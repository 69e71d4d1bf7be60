package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/ruteri/social-image/interfaces"
	"github.com/ruteri/social-image/metrics"
)

// DefaultCanvasSize is used for documents that declare neither a size nor a
// viewBox.
var DefaultCanvasSize = interfaces.CanvasSize{Width: 1080, Height: 566}

// Pipeline implements interfaces.Renderer on top of a Rasterizer and an
// ImageEncoder, running every render in its own Workspace.
type Pipeline struct {
	workspaceDir string
	rasterizer   interfaces.Rasterizer
	encoder      interfaces.ImageEncoder
	canvas       interfaces.CanvasSize
	log          *slog.Logger
	metrics      *metrics.Metrics
}

// NewPipeline creates a pipeline that places workspaces under workspaceDir and
// encodes PNG with default compression.
func NewPipeline(workspaceDir string, rasterizer interfaces.Rasterizer, log *slog.Logger) *Pipeline {
	return &Pipeline{
		workspaceDir: workspaceDir,
		rasterizer:   rasterizer,
		encoder:      &PNGEncoder{},
		canvas:       DefaultCanvasSize,
		log:          log,
	}
}

func (p *Pipeline) WithEncoder(encoder interfaces.ImageEncoder) *Pipeline {
	p.encoder = encoder
	return p
}

func (p *Pipeline) WithDefaultCanvas(size interfaces.CanvasSize) *Pipeline {
	p.canvas = size
	return p
}

func (p *Pipeline) WithMetrics(m *metrics.Metrics) *Pipeline {
	p.metrics = m
	return p
}

// Render implements interfaces.Renderer. The workspace is released before
// Render returns, whatever the outcome.
func (p *Pipeline) Render(ctx context.Context, svg []byte, resources map[string][]byte) (out []byte, err error) {
	start := time.Now()
	defer func() {
		p.metrics.ObserveRender(resultLabel(err), time.Since(start))
	}()

	ws, err := AcquireWorkspace(p.workspaceDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrWorkspaceIO, err)
	}
	defer func() {
		if rerr := ws.Release(); rerr != nil {
			p.log.Warn("Failed to release render workspace", "err", rerr, "path", ws.Path())
		}
	}()

	p.log.Debug("Rendering in workspace", "path", ws.Path(), "resources", len(resources))

	for name, data := range resources {
		if err := interfaces.ValidateResourceName(name); err != nil {
			return nil, err
		}
		if err := ws.WriteFile(name, data); err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrWorkspaceIO, err)
		}
	}
	if err := ws.WriteFile(interfaces.SourceFileName, svg); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrWorkspaceIO, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := p.rasterize(svg, ws.Path())
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	encoded, err := p.encoder.Encode(img)
	if err != nil {
		if errors.Is(err, interfaces.ErrEncodeFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", interfaces.ErrEncodeFailed, err)
	}
	return encoded, nil
}

// rasterize calls the rasterizer, turning panics and untyped errors into
// ErrRasterizeFailed.
func (p *Pipeline) rasterize(svg []byte, dir string) (img image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Rasterizer panicked", "panic", r)
			img, err = nil, fmt.Errorf("%w: rasterizer panic: %v", interfaces.ErrRasterizeFailed, r)
		}
	}()

	img, err = p.rasterizer.Rasterize(svg, dir, p.canvas)
	if err != nil && !errors.Is(err, interfaces.ErrInvalidInput) && !errors.Is(err, interfaces.ErrRenderFailure) {
		err = fmt.Errorf("%w: %v", interfaces.ErrRasterizeFailed, err)
	}
	if err == nil && img == nil {
		err = fmt.Errorf("%w: rasterizer returned no image", interfaces.ErrRasterizeFailed)
	}
	return img, err
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, interfaces.ErrInvalidInput):
		return metrics.ResultInvalid
	default:
		return metrics.ResultFailed
	}
}
