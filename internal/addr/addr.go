// Package addr centralizes the address prefix policy described in the
// design notes: external APIs and node calls use the "kaspa:" prefix;
// internal storage strips it. Every boundary crossing calls Canonicalize or
// Externalize rather than handling the prefix ad hoc.
package addr

import (
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	prefixMain = "kaspa:"
	prefixTest = "kaspatest:"
	external   = prefixMain
)

// Canonicalize strips a known network prefix and lower-cases the result.
// It accepts both prefixed and unprefixed forms.
func Canonicalize(raw string) string {
	s := raw
	switch {
	case strings.HasPrefix(s, prefixMain):
		s = s[len(prefixMain):]
	case strings.HasPrefix(s, prefixTest):
		s = s[len(prefixTest):]
	}
	return strings.ToLower(s)
}

// Externalize reattaches the canonical prefix for anything leaving the
// process on a read API.
func Externalize(canonical string) string {
	if strings.HasPrefix(canonical, prefixMain) || strings.HasPrefix(canonical, prefixTest) {
		return canonical
	}
	return external + canonical
}

// Fingerprint hashes a canonicalized identity (address, or address+nonce
// dedup key) to a fixed-size digest. Used wherever a bounded-length key is
// needed instead of a raw variable-length string, such as the Stratum
// dedup set's nonce keys.
func Fingerprint(canonical string) [32]byte {
	return blake2b.Sum256([]byte(canonical))
}
