package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/ruteri/social-image/api"
	"github.com/ruteri/social-image/cryptoutils"
	"github.com/ruteri/social-image/interfaces"
	"github.com/ruteri/social-image/render"
)

const (
	// APIKeyHeader carries the shared key required by mutating routes.
	APIKeyHeader = "X-API-KEY"

	// DefaultMaxUploadBytes bounds request bodies (32 MiB).
	DefaultMaxUploadBytes = 32 << 20

	// maxMultipartMemory is the part of a multipart upload kept in memory;
	// the rest spills to temporary files.
	maxMultipartMemory = 8 << 20

	svgFormField      = "svg"
	resourceFieldPre  = "resources["
	resourceFieldPost = "]"
)

const usage = `social-image: SVG to PNG render cache

  GET    /images/{shard}/{name}                  rendered PNG
  POST   /images                                 create from SVG body (?mode=content for content addressing)
  PUT    /images/{shard}/{name}                  replace the SVG source
  POST   /images/{shard}/{name}/resource/{res}   attach a resource referenced by the SVG
  DELETE /images/{shard}/{name}                  delete the entry
  POST   /image                                  render a multipart upload (svg, resources[name]) without storing it

Mutating routes require the X-API-KEY header.
`

// RequestError provides structured error information for HTTP responses.
type RequestError struct {
	StatusCode int
	Kind       string
	Err        error
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Handler serves the image API on top of an ImageStore.
type Handler struct {
	store          interfaces.ImageStore
	renderer       interfaces.Renderer
	apiKey         string
	maxUploadBytes int64
	log            *slog.Logger
}

// NewHandler creates a handler. renderer serves one-shot renders, which bypass
// the store.
func NewHandler(store interfaces.ImageStore, renderer interfaces.Renderer, apiKey string, log *slog.Logger) *Handler {
	return &Handler{
		store:          store,
		renderer:       renderer,
		apiKey:         apiKey,
		maxUploadBytes: DefaultMaxUploadBytes,
		log:            log,
	}
}

func (h *Handler) WithMaxUploadBytes(n int64) *Handler {
	h.maxUploadBytes = n
	return h
}

// RequireAPIKey rejects requests whose X-API-KEY header does not match the
// configured key.
func (h *Handler) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cryptoutils.KeyMatches(h.apiKey, r.Header.Get(APIKeyHeader)) {
			h.writeError(w, r, &RequestError{
				StatusCode: http.StatusUnauthorized,
				Kind:       api.ErrorKindUnauthorized,
				Err:        errors.New("missing or invalid API key"),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HandleIndex returns the usage help.
//
// URL format: GET /
func (h *Handler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, usage)
}

// HandleGetImage returns the PNG render of an entry, rendering it on a cache
// miss.
//
// URL format: GET /images/{shard}/{name}
func (h *Handler) HandleGetImage(w http.ResponseWriter, r *http.Request) {
	id, err := entryFromPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	png, err := h.store.Read(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writePNG(w, png)
}

// HandleCreateImage stores the SVG request body as a new entry.
//
// URL format: POST /images?mode={unique|content}
//
// Responds 303 See Other with Location pointing at the image.
func (h *Handler) HandleCreateImage(w http.ResponseWriter, r *http.Request) {
	mode, err := interfaces.ParseIDMode(r.URL.Query().Get("mode"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	svg, err := h.readBody(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	id, err := h.store.Create(r.Context(), svg, mode)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.redirectToImage(w, id)
}

// HandleUpdateImage replaces the SVG source of an entry.
//
// URL format: PUT /images/{shard}/{name}
func (h *Handler) HandleUpdateImage(w http.ResponseWriter, r *http.Request) {
	id, err := entryFromPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	svg, err := h.readBody(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.store.Update(r.Context(), id, svg); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.redirectToImage(w, id)
}

// HandleAttachResource stores the request body as a named resource of an
// existing entry.
//
// URL format: POST /images/{shard}/{name}/resource/{resource}
func (h *Handler) HandleAttachResource(w http.ResponseWriter, r *http.Request) {
	id, err := entryFromPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	name := r.PathValue("resource")
	if err := interfaces.ValidateResourceName(name); err != nil {
		h.writeError(w, r, err)
		return
	}

	data, err := h.readBody(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.store.Attach(r.Context(), id, name, data); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.redirectToImage(w, id)
}

// HandleDeleteImage removes an entry.
//
// URL format: DELETE /images/{shard}/{name}
func (h *Handler) HandleDeleteImage(w http.ResponseWriter, r *http.Request) {
	id, err := entryFromPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, api.StatusResponse{Status: "ok"})
}

// HandleRenderOnce renders an uploaded SVG with its resources and returns the
// PNG without storing anything.
//
// URL format: POST /image
//
// Request body: multipart/form-data with an "svg" file or field and any
// number of "resources[<name>]" files.
func (h *Handler) HandleRenderOnce(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		h.writeError(w, r, bodyError(err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	svg, err := formSVG(r.MultipartForm)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := render.ValidateDocument(svg); err != nil {
		h.writeError(w, r, err)
		return
	}

	resources, err := formResources(r.MultipartForm)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	png, err := h.renderer.Render(r.Context(), svg, resources)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writePNG(w, png)
}

func entryFromPath(r *http.Request) (interfaces.EntryID, error) {
	return interfaces.ParseEntryPath(r.PathValue("shard"), r.PathValue("name"))
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUploadBytes))
	if err != nil {
		return nil, bodyError(err)
	}
	return data, nil
}

func bodyError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return &RequestError{
			StatusCode: http.StatusRequestEntityTooLarge,
			Kind:       api.ErrorKindTooLarge,
			Err:        fmt.Errorf("%w: request body exceeds %d bytes", interfaces.ErrInvalidInput, maxErr.Limit),
		}
	}
	return fmt.Errorf("%w: reading request body: %v", interfaces.ErrInvalidInput, err)
}

func formSVG(form *multipart.Form) ([]byte, error) {
	if files := form.File[svgFormField]; len(files) > 0 {
		return readFormFile(files[0])
	}
	if values := form.Value[svgFormField]; len(values) > 0 {
		return []byte(values[0]), nil
	}
	return nil, fmt.Errorf("%w: missing %q form field", interfaces.ErrInvalidInput, svgFormField)
}

func formResources(form *multipart.Form) (map[string][]byte, error) {
	resources := make(map[string][]byte)
	for field, files := range form.File {
		if !strings.HasPrefix(field, resourceFieldPre) || !strings.HasSuffix(field, resourceFieldPost) || len(files) == 0 {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(field, resourceFieldPre), resourceFieldPost)
		if err := interfaces.ValidateResourceName(name); err != nil {
			return nil, err
		}
		data, err := readFormFile(files[0])
		if err != nil {
			return nil, err
		}
		resources[name] = data
	}
	return resources, nil
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: opening upload %s: %v", interfaces.ErrInvalidInput, fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: reading upload %s: %v", interfaces.ErrInvalidInput, fh.Filename, err)
	}
	return data, nil
}

func (h *Handler) redirectToImage(w http.ResponseWriter, id interfaces.EntryID) {
	resp := api.NewCreateResponse(id)
	w.Header().Set("Location", resp.URL)
	writeJSON(w, http.StatusSeeOther, resp)
}

// classify maps an error to its HTTP status and error kind.
func classify(err error) (int, string) {
	var reqErr *RequestError
	switch {
	case errors.As(err, &reqErr):
		return reqErr.StatusCode, reqErr.Kind
	case errors.Is(err, interfaces.ErrNotFound):
		return http.StatusNotFound, api.ErrorKindNotFound
	case errors.Is(err, interfaces.ErrInvalidSVG):
		return http.StatusBadRequest, api.ErrorKindInvalidSVG
	case errors.Is(err, interfaces.ErrInvalidInput):
		return http.StatusBadRequest, api.ErrorKindInvalidInput
	case errors.Is(err, interfaces.ErrRenderFailure):
		return http.StatusUnprocessableEntity, api.ErrorKindRenderFailed
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, api.ErrorKindTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, api.ErrorKindTimeout
	default:
		return http.StatusInternalServerError, api.ErrorKindInternal
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)

	logArgs := []any{
		"err", err,
		"status", status,
		"method", r.Method,
		"path", r.URL.Path,
		"requestID", middleware.GetReqID(r.Context()),
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed", logArgs...)
	} else {
		h.log.Debug("Request rejected", logArgs...)
	}

	resp := api.ErrorResponse{Error: kind, Message: err.Error()}
	if status >= http.StatusInternalServerError {
		// storage paths stay in the logs
		resp.Message = http.StatusText(status)
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writePNG(w http.ResponseWriter, png []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}
