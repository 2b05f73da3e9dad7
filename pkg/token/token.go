// Package token builds the opaque identifiers that stand in for real asset paths in public URLs.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Length is the number of hex characters in a token (4 hash bytes)
const Length = 8

var tokenPrefix = regexp.MustCompile(`^[a-f0-9]{8}\.`)

// Generate derives a token for path at the given instant.
// The nanosecond salt keeps repeated calls for one path from producing a stable token.
func Generate(path string, at time.Time) string {
	hash := sha256.Sum256([]byte(path + strconv.FormatInt(at.UnixNano(), 10)))
	return hex.EncodeToString(hash[:Length/2])
}

// ResourceName joins a token and a lowercase extension into the public path segment
func ResourceName(tok, ext string) string {
	return tok + "." + strings.ToLower(ext)
}

// ParseResource splits a public path segment into token and extension.
// The extension is whatever follows the token's dot; it may be any valid UTF-8 without
// separators or further dots.
func ParseResource(name string) (tok, ext string, ok bool) {
	if !tokenPrefix.MatchString(name) {
		return "", "", false
	}
	ext = name[Length+1:]
	if ext == "" || !utf8.ValidString(ext) || strings.ContainsAny(ext, `./\`) {
		return "", "", false
	}
	return name[:Length], ext, true
}
