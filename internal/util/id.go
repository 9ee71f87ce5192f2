// Package util holds small helpers shared across packages.
package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a prefixed random identifier, e.g. "crd_4f9d...". Ordering
// never relies on id shape; it always comes from explicit columns.
func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
