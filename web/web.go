// Package web embeds the browser control surface.
package web

import "embed"

// Assets holds templates/ and locales/
//
//go:embed templates/*.html locales/*.json
var Assets embed.FS
