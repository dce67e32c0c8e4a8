package reqfilter

import (
	"github.com/AdguardTeam/reqfilter/internal/ufnet"
	"github.com/AdguardTeam/reqfilter/rules"
)

// Category is the kind of rule that decided a request.
type Category uint8

// Category values.
const (
	CategoryNone Category = iota
	CategoryDomain
	CategoryFilter
	CategoryRegex
)

// String implements the [fmt.Stringer] interface for Category.
func (c Category) String() (s string) {
	switch c {
	case CategoryNone:
		return "none"
	case CategoryDomain:
		return "domain_rules"
	case CategoryFilter:
		return "filter_rules"
	case CategoryRegex:
		return "regex_rules"
	default:
		return "unknown"
	}
}

// MatchResult is the outcome of matching a URL against a rule set.
type MatchResult struct {
	// Rule is the text of the rule that decided the request.  It is empty if
	// Category is [CategoryNone].
	Rule string

	// Category is the kind of the deciding rule.
	Category Category

	// Block is true if the request must be blocked.
	Block bool
}

// Match matches urlStr against rs.  Categories are evaluated in a fixed order
// and the first hit wins:
//
//  1. domain_rules: the exact hostname decides, including explicit allows;
//  2. filter_rules: the hostname equals a token or is its subdomain;
//  3. regex_rules: the first pattern in order matching the full URL.
//
// A URL without a hostname is only matched against regex rules.  Match is
// pure, doesn't perform I/O, and only allocates if the hostname of urlStr
// contains upper-case characters.
func Match(rs *rules.RuleSet, urlStr string) (res MatchResult) {
	if rs == nil {
		return MatchResult{}
	}

	host := ufnet.NormalizeHostname(ufnet.ExtractHostname(urlStr))
	if host != "" {
		if block, ok := rs.DomainRule(host); ok {
			return MatchResult{Rule: host, Category: CategoryDomain, Block: block}
		}

		if rule, ok := rs.MatchFilter(host); ok {
			return MatchResult{Rule: rule, Category: CategoryFilter, Block: true}
		}
	}

	if rule, ok := rs.MatchRegex(urlStr); ok {
		return MatchResult{Rule: rule, Category: CategoryRegex, Block: true}
	}

	return MatchResult{}
}

// ShouldBlock returns true if the request to urlStr must be blocked according
// to rs.  See [Match].
func ShouldBlock(rs *rules.RuleSet, urlStr string) (ok bool) {
	return Match(rs, urlStr).Block
}
