// Package common holds process-wide constants and the logger setup shared by
// the social-image binaries.
package common

// PackageName is used as the metrics namespace and the default log service tag.
const PackageName = "social_image"

// Version is overridden at build time with -ldflags "-X ...common.Version=...".
var Version = "dev"
