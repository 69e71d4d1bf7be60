package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entry or one of its files does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned for malformed SVG documents, identifiers or
	// resource names. Retrying the same request will not help.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRenderFailure is returned when valid input could not be rasterized or
	// encoded.
	ErrRenderFailure = errors.New("render failure")

	// ErrStorageIO is returned for filesystem failures such as permission
	// errors or a full disk.
	ErrStorageIO = errors.New("storage i/o failure")
)

var (
	// ErrInvalidSVG means the document does not parse or has no <svg> root.
	ErrInvalidSVG = fmt.Errorf("%w: invalid svg document", ErrInvalidInput)

	// ErrRasterizeFailed means the document parsed but could not be drawn,
	// e.g. because the resolved canvas is empty or too large.
	ErrRasterizeFailed = fmt.Errorf("%w: rasterization failed", ErrRenderFailure)

	// ErrEncodeFailed means the raster could not be serialized.
	ErrEncodeFailed = fmt.Errorf("%w: encoding failed", ErrRenderFailure)

	// ErrWorkspaceIO means the render workspace could not be prepared.
	ErrWorkspaceIO = fmt.Errorf("%w: render workspace", ErrStorageIO)
)
