// Package lookup implements index structures that we use to improve matching
// speed in the rule sets.
package lookup

import (
	"strings"

	"github.com/AdguardTeam/reqfilter/internal/fasthash"
)

// SuffixTable is a lookup table of hosts that matches a hostname if the
// hostname is equal to one of the hosts or is a subdomain of it.  Subdomains
// are only matched at a label boundary, so that "ads.example.com" matches
// "sub.ads.example.com" but not "notads.example.com".
//
// SuffixTable is immutable after creation and is safe for concurrent use.
type SuffixTable struct {
	// hosts contains the unique hosts in the order they were first added.
	hosts []string

	// table maps host hashes to the indexes of hosts.
	table map[uint32][]int
}

// NewSuffixTable returns a new table of the given hosts.  Empty and duplicate
// hosts are ignored.  hosts are expected to be normalized.
func NewSuffixTable(hosts []string) (t *SuffixTable) {
	t = &SuffixTable{
		hosts: make([]string, 0, len(hosts)),
		table: make(map[uint32][]int, len(hosts)),
	}

	for _, h := range hosts {
		if h == "" {
			continue
		}

		if _, ok := t.matchExact(h, 0); ok {
			continue
		}

		hash := fasthash.String(h)
		t.table[hash] = append(t.table[hash], len(t.hosts))
		t.hosts = append(t.hosts, h)
	}

	return t
}

// Match returns the host from t that hostname is equal to or a subdomain of.
// It doesn't allocate.
func (t *SuffixTable) Match(hostname string) (host string, ok bool) {
	if len(t.hosts) == 0 || hostname == "" {
		return "", false
	}

	for i := 0; i < len(hostname); {
		host, ok = t.matchExact(hostname, i)
		if ok {
			return host, true
		}

		next := strings.IndexByte(hostname[i:], '.')
		if next == -1 {
			break
		}

		i += next + 1
	}

	return "", false
}

// matchExact looks for hostname[begin:] in t.
func (t *SuffixTable) matchExact(hostname string, begin int) (host string, ok bool) {
	idxs, ok := t.table[fasthash.Between(hostname, begin, len(hostname))]
	if !ok {
		return "", false
	}

	for _, idx := range idxs {
		if h := t.hosts[idx]; h == hostname[begin:] {
			return h, true
		}
	}

	return "", false
}

// Hosts returns a copy of the hosts in t in the order they were added.
func (t *SuffixTable) Hosts() (hosts []string) {
	return append([]string(nil), t.hosts...)
}

// Len returns the number of unique hosts in t.
func (t *SuffixTable) Len() (n int) {
	return len(t.hosts)
}
