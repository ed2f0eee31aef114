// Package checksum computes content digests used for metadata change
// detection and HTTP entity tags.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// ETag returns the strong entity tag of data.
func ETag(data []byte) string {
	return `"` + Sum(data) + `"`
}

// NoneMatch reports whether an If-None-Match header value fails to match
// etag, i.e. whether the full body must be sent. Weak tags compare by value.
func NoneMatch(header, etag string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return true
	}
	if header == "*" {
		return false
	}
	for _, tag := range strings.Split(header, ",") {
		tag = strings.TrimPrefix(strings.TrimSpace(tag), "W/")
		if tag == etag {
			return false
		}
	}
	return true
}
