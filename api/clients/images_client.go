package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ruteri/social-image/api"
	"github.com/ruteri/social-image/interfaces"
)

// APIKeyHeader must match the header checked by the server.
const APIKeyHeader = "X-API-KEY"

// ImagesClient talks to the social-image HTTP API. Errors returned by the
// server are converted back into the sentinel errors of the interfaces
// package, so callers can use errors.Is as they would against a local store.
type ImagesClient struct {
	// ServerAddr is the base URL of the server, e.g. http://127.0.0.1:8080
	ServerAddr string

	// APIKey is sent with mutating requests.
	APIKey string

	HTTPClient *http.Client
}

// NewImagesClient returns a client that does not follow the 303 redirects
// returned by mutating routes.
func NewImagesClient(serverAddr, apiKey string) *ImagesClient {
	return &ImagesClient{
		ServerAddr: strings.TrimRight(serverAddr, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{
			Timeout: 2 * time.Minute,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Create uploads svg as a new entry and returns its identifier.
func (c *ImagesClient) Create(ctx context.Context, svg []byte, mode interfaces.IDMode) (interfaces.EntryID, error) {
	path := "/images?mode=" + url.QueryEscape(mode.String())
	resp, err := c.do(ctx, http.MethodPost, path, "image/svg+xml", bytes.NewReader(svg), http.StatusSeeOther)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var created api.CreateResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("could not parse create response: %w", err)
	}
	return interfaces.ParseEntryID(created.ID)
}

// Get returns the PNG render of id.
func (c *ImagesClient) Get(ctx context.Context, id interfaces.EntryID) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, api.ImageURL(id), "", nil, http.StatusOK)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// Update replaces the SVG source of id.
func (c *ImagesClient) Update(ctx context.Context, id interfaces.EntryID, svg []byte) error {
	resp, err := c.do(ctx, http.MethodPut, api.ImageURL(id), "image/svg+xml", bytes.NewReader(svg), http.StatusSeeOther)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// Attach uploads a resource for id.
func (c *ImagesClient) Attach(ctx context.Context, id interfaces.EntryID, name string, data []byte) error {
	path := api.ImageURL(id) + "/resource/" + url.PathEscape(name)
	resp, err := c.do(ctx, http.MethodPost, path, "application/octet-stream", bytes.NewReader(data), http.StatusSeeOther)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// Delete removes id.
func (c *ImagesClient) Delete(ctx context.Context, id interfaces.EntryID) error {
	resp, err := c.do(ctx, http.MethodDelete, api.ImageURL(id), "", nil, http.StatusOK)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// Render asks the server to render svg with resources without storing it.
func (c *ImagesClient) Render(ctx context.Context, svg []byte, resources map[string][]byte) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("svg", "main.svg")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(svg); err != nil {
		return nil, err
	}
	for name, data := range resources {
		fw, err := mw.CreateFormFile("resources["+name+"]", name)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(data); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodPost, "/image", mw.FormDataContentType(), &body, http.StatusOK)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// do sends the request and returns the response if its status is expected.
// Otherwise the body is decoded as api.ErrorResponse and returned as error.
func (c *ImagesClient) do(ctx context.Context, method, path, contentType string, body io.Reader, expected int) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.ServerAddr+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.APIKey != "" {
		req.Header.Set(APIKeyHeader, c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not request %s %s: %w", method, path, err)
	}
	if resp.StatusCode == expected {
		return resp, nil
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s returned %d", method, path, resp.StatusCode)
	}

	var apiErr api.ErrorResponse
	if err := json.Unmarshal(bodyBytes, &apiErr); err != nil || apiErr.Error == "" {
		return nil, fmt.Errorf("%s %s returned error %d: %s", method, path, resp.StatusCode, string(bodyBytes))
	}
	return nil, apiErr.Err()
}
