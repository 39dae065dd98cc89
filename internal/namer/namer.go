// Package namer derives filesystem- and platform-safe names for generated
// applications: sanitization, length capping that keeps meaningful suffixes,
// and collision-avoiding unique names.
package namer

import (
	"math/rand/v2"
	"strings"
)

const (
	// DefaultMaxLength is the platform's limit on application names.
	DefaultMaxLength = 50

	// UniqueSuffixLength is the number of random characters appended on collision.
	UniqueSuffixLength = 4

	suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// ProtectedSuffixes are name endings that carry meaning and survive truncation.
// Longer entries come first so "-sandbox" is never mistaken for a shorter match.
var ProtectedSuffixes = []string{"-sandbox", "-source", "-draft", "-sink", "-test"}

// Sanitize lower-cases s, replaces every run of non [a-z0-9] characters with a
// single hyphen and trims hyphens from both ends. The result is idempotent.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingHyphen := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	return b.String()
}

// SplitSuffix separates a sanitized name into its body and protected suffix.
// The suffix is empty when the name does not end with one, or when the suffix
// would be the whole name.
func SplitSuffix(name string) (body, suffix string) {
	for _, s := range ProtectedSuffixes {
		if strings.HasSuffix(name, s) && len(name) > len(s) {
			return name[:len(name)-len(s)], s
		}
	}
	return name, ""
}

// Truncate sanitizes name and caps it at maxLen characters. Middle tokens of
// the hyphenated body are dropped first so the leading and trailing words
// stay recognisable; the protected suffix is always kept.
func Truncate(name string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}
	s := Sanitize(name)
	if len(s) <= maxLen {
		return s
	}

	body, suffix := SplitSuffix(s)
	budget := maxLen - len(suffix)
	if budget <= 0 {
		return hardCut(s, maxLen)
	}

	return fitBody(body, budget) + suffix
}

// fitBody shortens a sanitized body to at most budget characters.
func fitBody(body string, budget int) string {
	tokens := strings.Split(body, "-")
	for len(tokens) > 2 && joinedLen(tokens) > budget {
		mid := len(tokens) / 2
		tokens = append(tokens[:mid], tokens[mid+1:]...)
	}
	return hardCut(strings.Join(tokens, "-"), budget)
}

func joinedLen(tokens []string) int {
	n := len(tokens) - 1
	for _, t := range tokens {
		n += len(t)
	}
	return n
}

func hardCut(s string, n int) string {
	if len(s) > n {
		s = s[:n]
	}
	return strings.Trim(s, "-")
}

// UniqueName returns a sanitized variant of base with a random
// UniqueSuffixLength character token inserted before any protected suffix,
// e.g. "orders-sink" -> "orders-k3x9-sink". The result never exceeds maxLen.
func UniqueName(base string, maxLen int) string {
	return uniqueName(base, maxLen, RandomSuffix())
}

func uniqueName(base string, maxLen int, token string) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}
	body, suffix := SplitSuffix(Sanitize(base))
	budget := maxLen - len(suffix) - len(token) - 1
	if body == "" || budget <= 0 {
		return hardCut(token+suffix, maxLen)
	}
	return fitBody(body, budget) + "-" + token + suffix
}

// RandomSuffix returns UniqueSuffixLength random lowercase alphanumerics.
func RandomSuffix() string {
	b := make([]byte, UniqueSuffixLength)
	for i := range b {
		b[i] = suffixAlphabet[rand.IntN(len(suffixAlphabet))]
	}
	return string(b)
}
