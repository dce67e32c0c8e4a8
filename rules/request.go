package rules

import (
	"net/netip"
	"strings"

	"github.com/AdguardTeam/reqfilter/internal/ufnet"
	"golang.org/x/net/publicsuffix"
)

// maxURLLength limits the URL length by 4 KiB.  It appears that there can be
// URLs longer than a megabyte, and it makes no sense to go through the whole
// URL.
const maxURLLength = 4 * 1024

// Request represents an outgoing request with the properties needed to report
// a filtering decision.
type Request struct {
	// URL is the full request URL, possibly truncated.
	URL string

	// Hostname is the normalized hostname of the request.  It is empty if the
	// URL has no authority.
	Hostname string

	// Domain is the effective top-level domain of the request with an
	// additional label.  If it cannot be determined, it is equal to Hostname.
	Domain string
}

// NewRequest creates a new instance of *Request and populates its fields.
func NewRequest(url string) (r *Request) {
	if len(url) > maxURLLength {
		url = url[:maxURLLength]
	}

	r = &Request{
		URL:      url,
		Hostname: ufnet.NormalizeHostname(ufnet.ExtractHostname(url)),
	}

	r.Domain = effectiveTLDPlusOne(r.Hostname)
	if r.Domain == "" {
		r.Domain = r.Hostname
	}

	return r
}

// effectiveTLDPlusOne is a faster version of publicsuffix.EffectiveTLDPlusOne
// that avoids using fmt.Errorf when the domain is less or equal the suffix.  IP
// addresses have no registrable domain.
func effectiveTLDPlusOne(hostname string) (domain string) {
	hostnameLen := len(hostname)
	if hostnameLen < 1 {
		return ""
	}

	if hostname[0] == '.' || hostname[hostnameLen-1] == '.' {
		return ""
	}

	if _, err := netip.ParseAddr(hostname); err == nil {
		return ""
	}

	suffix, _ := publicsuffix.PublicSuffix(hostname)

	i := hostnameLen - len(suffix) - 1
	if i < 0 || hostname[i] != '.' {
		return ""
	}

	return hostname[1+strings.LastIndex(hostname[:i], "."):]
}
