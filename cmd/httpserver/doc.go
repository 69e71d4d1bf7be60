// Command httpserver runs the social-image service: the HTTP API, the
// Prometheus metrics listener and the eviction sweeper.
//
// Configuration is read from defaults, an optional App.toml with profile
// tables, APP_* environment variables and finally command-line flags:
//
//	APP_KEY=s3cret httpserver --store /var/lib/social-image --log-json
//
// SIGINT or SIGTERM shut the server down gracefully; in-flight renders are
// given the render timeout to finish.
package main
