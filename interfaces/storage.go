package interfaces

import (
	"context"
	"fmt"
	"strings"
)

// Reserved file names inside an entry directory.
const (
	// SourceFileName holds the authoritative SVG document.
	SourceFileName = "img.svg"

	// RenderFileName holds the cached render. It is derived, never
	// authoritative, and may be removed at any time.
	RenderFileName = "img.png"

	// TempSuffix marks in-progress writes. Temp files are also hidden
	// (leading dot) so they never look like resources.
	TempSuffix = ".tmp"

	maxResourceNameLength = 255
)

// ValidateResourceName checks that name can be used as a resource file inside
// an entry directory. Names must be a single path segment and must not collide
// with the source, the cached render or temporary files.
func ValidateResourceName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty resource name", ErrInvalidInput)
	case len(name) > maxResourceNameLength:
		return fmt.Errorf("%w: resource name too long", ErrInvalidInput)
	case name == SourceFileName, name == RenderFileName:
		return fmt.Errorf("%w: resource name %q is reserved", ErrInvalidInput, name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: resource name must not start with a dot", ErrInvalidInput)
	case strings.HasSuffix(name, TempSuffix):
		return fmt.Errorf("%w: resource name must not end in %s", ErrInvalidInput, TempSuffix)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: resource name must be a single path segment", ErrInvalidInput)
	}
	return nil
}

// ImageStore is a read-through render cache keyed by EntryID.
type ImageStore interface {
	// Create stores a new SVG source and returns its identifier. It never
	// renders.
	Create(ctx context.Context, svg []byte, mode IDMode) (EntryID, error)

	// Read returns the cached PNG, rendering and persisting it on a miss.
	Read(ctx context.Context, id EntryID) ([]byte, error)

	// Update replaces the SVG source and invalidates the cached PNG.
	Update(ctx context.Context, id EntryID, svg []byte) error

	// Attach adds or replaces a named resource and invalidates the cached PNG.
	Attach(ctx context.Context, id EntryID, name string, data []byte) error

	// Delete removes the entry with its source, resources and render.
	Delete(ctx context.Context, id EntryID) error
}
