// Package render turns SVG documents into PNG bytes.
//
// A render runs inside a Workspace: an exclusively owned directory that holds
// the document and its resources while the rasterizer resolves relative
// references. Workspaces are named with a unique identifier so concurrent
// renders never share one, and they are removed on every exit path:
//
//	ws, err := render.AcquireWorkspace(baseDir)
//	if err != nil {
//	    return err
//	}
//	defer ws.Release()
//
// Pipeline strings the steps together (materialize resources, write the
// document, rasterize, encode) and maps failures onto the error taxonomy in
// the interfaces package:
//
//   - interfaces.ErrInvalidSVG: the document does not parse
//   - interfaces.ErrRasterizeFailed: the document parsed but could not be drawn
//   - interfaces.ErrEncodeFailed: the raster could not be encoded
//   - interfaces.ErrWorkspaceIO: the workspace could not be prepared
//
// The production rasterizer is OksvgRasterizer, built on
// github.com/srwiley/oksvg and github.com/srwiley/rasterx. Bitmaps and text
// that reference attached resources are painted over its output with
// golang.org/x/image.
package render
