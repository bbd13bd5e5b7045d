// Package loader registers the default response cache drivers via blank
// imports. Import it from main for side effects only:
//
//	import _ "github.com/vellum-gemini/vellum/internal/cache/loader"
package loader

import (
	_ "github.com/vellum-gemini/vellum/internal/cache/memory"
	_ "github.com/vellum-gemini/vellum/internal/cache/redis"
)
