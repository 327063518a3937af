package ota

import "strings"

// ShouldUpdate reports whether target differs from the persisted version, ignoring case.
// An absent persisted version is the empty string.
func ShouldUpdate(persisted, target string) bool {
	return !strings.EqualFold(persisted, target)
}
