/*
Package api holds the wire types shared by the HTTP server and its clients.

# Routes

	GET    /                                       usage help
	GET    /images/{shard}/{name}                  rendered PNG
	POST   /images                                 create from SVG body (?mode=content)
	PUT    /images/{shard}/{name}                  replace SVG source
	POST   /images/{shard}/{name}/resource/{res}   attach a resource
	DELETE /images/{shard}/{name}                  delete entry
	POST   /image                                  one-shot render of a multipart upload

Mutating routes require the X-API-KEY header. Create, update and attach answer
303 See Other pointing at the image, with a CreateResponse body. Errors are
returned as ErrorResponse with a status derived from the error kind.

The clients subpackage wraps these routes.
*/
package api
