// Package utils holds tiny helpers shared across layers, free of any
// domain knowledge.
package utils

import "strconv"

// AtoiDefault parses s as a base-10 int, falling back to def when s is
// empty or not a valid integer. Handlers use it for page and page_size
// query parameters, where a garbage value should degrade to the default
// rather than fail the request.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
