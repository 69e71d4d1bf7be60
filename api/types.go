package api

import (
	"errors"
	"fmt"

	"github.com/ruteri/social-image/interfaces"
)

// Error kinds carried in ErrorResponse.Error.
const (
	ErrorKindNotFound     = "not_found"
	ErrorKindInvalidInput = "invalid_input"
	ErrorKindInvalidSVG   = "invalid_svg"
	ErrorKindRenderFailed = "render_failed"
	ErrorKindTooLarge     = "too_large"
	ErrorKindUnauthorized = "unauthorized"
	ErrorKindTimeout      = "timeout"
	ErrorKindInternal     = "internal_error"
)

// ErrUnauthorized is returned by clients when the server rejects the API key.
var ErrUnauthorized = errors.New("unauthorized")

// CreateResponse is returned when an entry is created, updated or receives a
// resource.
type CreateResponse struct {
	// ID is the 44-character entry identifier.
	ID string `json:"id"`

	// Path is the "<shard>/<name>" form of ID.
	Path string `json:"path"`

	// URL is the path of the rendered image relative to the server root.
	URL string `json:"url"`
}

// NewCreateResponse describes id.
func NewCreateResponse(id interfaces.EntryID) CreateResponse {
	return CreateResponse{
		ID:   id.String(),
		Path: id.Path(),
		URL:  ImageURL(id),
	}
}

// ImageURL is the route that serves the render of id.
func ImageURL(id interfaces.EntryID) string {
	return "/images/" + id.Path()
}

// StatusResponse is the body of operations with no other result.
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the JSON body of every non-2xx API response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Err converts the response back into an error matching the sentinel errors
// of the interfaces package.
func (e ErrorResponse) Err() error {
	var base error
	switch e.Error {
	case ErrorKindNotFound:
		base = interfaces.ErrNotFound
	case ErrorKindInvalidSVG:
		base = interfaces.ErrInvalidSVG
	case ErrorKindInvalidInput, ErrorKindTooLarge:
		base = interfaces.ErrInvalidInput
	case ErrorKindRenderFailed:
		base = interfaces.ErrRenderFailure
	case ErrorKindUnauthorized:
		base = ErrUnauthorized
	default:
		return fmt.Errorf("server error %s: %s", e.Error, e.Message)
	}
	if e.Message == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, e.Message)
}
