// Package clients provides a Go client for the social-image HTTP API.
//
//	client := clients.NewImagesClient("http://127.0.0.1:8080", apiKey)
//	id, err := client.Create(ctx, svg, interfaces.IDModeContent)
//	png, err := client.Get(ctx, id)
//
// Server errors come back as the sentinel errors of the interfaces package,
// plus api.ErrUnauthorized for a rejected key.
package clients
