// Package ufnet contains utilities for hostname extraction, normalization, and
// validation.
package ufnet

import (
	"strings"

	"github.com/miekg/dns"
)

// ExtractHostname quickly retrieves the hostname from the authority part of
// the given URL.  The authority must either start the URL or directly follow
// its scheme.  It returns an empty string if url has no authority, so that
// strings like "example.org/path", "x?r=//example.org", or
// "data:text/plain,//example.org" have no hostname.
//
// NOTE: ExtractHostname is an optimized, best-effort function.  It never
// allocates, and the result is a substring of url that is not normalized; see
// [NormalizeHostname].
func ExtractHostname(url string) (hostname string) {
	rest := url[schemeLen(url):]
	if !strings.HasPrefix(rest, "//") {
		return ""
	}

	authority := rest[len("//"):]
	if endIdx := strings.IndexAny(authority, "/?#"); endIdx != -1 {
		authority = authority[:endIdx]
	}

	if atIdx := strings.LastIndexByte(authority, '@'); atIdx != -1 {
		authority = authority[atIdx+1:]
	}

	if strings.HasPrefix(authority, "[") {
		endIdx := strings.IndexByte(authority, ']')
		if endIdx == -1 {
			return ""
		}

		return authority[1:endIdx]
	}

	if portIdx := strings.IndexByte(authority, ':'); portIdx != -1 {
		authority = authority[:portIdx]
	}

	return authority
}

// schemeLen returns the length of the scheme of url including the colon, or 0
// if url doesn't start with a scheme.  A scheme is a letter followed by
// letters, digits, '+', '-', or '.'.
func schemeLen(url string) (n int) {
	for i := 0; i < len(url); i++ {
		c := url[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
			// Go on.
		case i == 0:
			return 0
		case c >= '0' && c <= '9', c == '+', c == '-', c == '.':
			// Go on.
		case c == ':':
			return i + 1
		default:
			return 0
		}
	}

	return 0
}

// NormalizeHostname returns hostname in lower case and without the trailing
// dot.  It only allocates if hostname contains upper-case characters.
func NormalizeHostname(hostname string) (normalized string) {
	hostname = strings.TrimSuffix(hostname, ".")
	for i := 0; i < len(hostname); i++ {
		c := hostname[i]
		if c >= 'A' && c <= 'Z' {
			return strings.ToLower(hostname)
		}
	}

	return hostname
}

// CanonicalHost converts a host token from a rule configuration into the form
// used for lookups: trimmed, lower-cased, without the trailing dot.
func CanonicalHost(token string) (host string) {
	token = strings.TrimSpace(token)
	if token == "" || token == "." {
		return ""
	}

	return strings.TrimSuffix(dns.CanonicalName(token), ".")
}

// IsValidHostname returns true if host is either a syntactically valid domain
// name or a probable IP address.
func IsValidHostname(host string) (ok bool) {
	if host == "" {
		return false
	}

	if IsProbablyIP(host) {
		return true
	}

	_, ok = dns.IsDomainName(host)

	return ok
}

// isAddrRune returns true if r is a valid rune of string representation of an
// IP address.
func isAddrRune(r rune) (ok bool) {
	switch {
	case r == '.', r == ':',
		r >= '0' && r <= '9',
		r >= 'A' && r <= 'F',
		r >= 'a' && r <= 'f',
		r == '[', r == ']':
		return true
	default:
		return false
	}
}

// IsProbablyIP returns true if s only contains characters that can be part of
// an IP address.
func IsProbablyIP(s string) (ok bool) {
	for _, r := range s {
		if !isAddrRune(r) {
			return false
		}
	}

	return len(s) >= len("::")
}
