/*
Package httpserver serves the social-image HTTP API.

Server owns the listener, the optional metrics listener and the readiness flag
used by /drain and /undrain. Handler maps routes onto an
interfaces.ImageStore:

	GET    /images/{shard}/{name}                  Read
	POST   /images                                 Create
	PUT    /images/{shard}/{name}                  Update
	POST   /images/{shard}/{name}/resource/{res}   Attach
	DELETE /images/{shard}/{name}                  Delete
	POST   /image                                  one-shot render, nothing stored

Mutating routes are wrapped by Handler.RequireAPIKey. Every response carries
an X-Request-Id header. Errors are written as api.ErrorResponse:

	ErrNotFound       404 not_found
	ErrInvalidSVG     400 invalid_svg
	ErrInvalidInput   400 invalid_input
	ErrRenderFailure  422 render_failed
	body over limit   413 too_large
	bad API key       401 unauthorized
	anything else     500 internal_error
*/
package httpserver
