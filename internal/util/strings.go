// Package util provides small helpers shared across the broker packages.
package util

import "strings"

// SafeTruncate safely truncates a string to maxLen characters without
// panicking. Used when logging sensitive data like upstream error bodies,
// where only a bounded prefix should be shown.
//
// If maxLen is negative, it's treated as 0 and returns an empty string.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL normalizes a URL for comparison and joining by removing
// trailing slashes.
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}
