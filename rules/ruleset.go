package rules

import (
	"fmt"
	"maps"
	"regexp"
	"regexp/syntax"
	"slices"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/reqfilter/internal/lookup"
	"github.com/AdguardTeam/reqfilter/internal/ufnet"
)

// RuleSet is a compiled, immutable rule configuration.  It is safe for
// concurrent use.  A new configuration always produces a new RuleSet.
type RuleSet struct {
	// conf is the normalized source configuration.
	conf *Configuration

	// filters is the lookup table for filter rules.
	filters *lookup.SuffixTable

	// domains maps normalized hostnames to their decision.
	domains map[string]bool

	// regexps are the compiled regex rules in their configured order.
	regexps []*regexp.Regexp

	// warnings are the non-fatal problems found during compilation.
	warnings []string
}

// CompileJSON parses and compiles a JSON rule configuration.
func CompileJSON(data []byte) (rs *RuleSet, err error) {
	c, err := Parse(data)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	return Compile(c)
}

// Compile builds a RuleSet from c.  A nil c is treated as an empty
// configuration.  If any regex rule is malformed, it returns a *RegexError and
// no RuleSet.  Compile is pure: identical inputs produce RuleSets with
// identical behavior.
func Compile(c *Configuration) (rs *RuleSet, err error) {
	c = c.Clone()

	rs = &RuleSet{
		domains: make(map[string]bool, len(c.DomainRules)),
		regexps: make([]*regexp.Regexp, 0, len(c.RegexRules)),
	}

	for i, p := range c.RegexRules {
		var re *regexp.Regexp
		re, err = regexp.Compile(p)
		if err != nil {
			return nil, newRegexError(p, i, err)
		}

		if p == "" {
			rs.warn("regex rule at index %d is empty and matches every url", i)
		}

		rs.regexps = append(rs.regexps, re)
	}

	hosts := make([]string, 0, len(c.FilterRules))
	for i, token := range c.FilterRules {
		h := ufnet.CanonicalHost(token)
		if h == "" {
			rs.warn("filter rule at index %d is empty", i)

			continue
		} else if !ufnet.IsValidHostname(h) {
			rs.warn("filter rule %q is not a valid hostname and may never match", token)
		}

		hosts = append(hosts, h)
	}

	rs.filters = lookup.NewSuffixTable(hosts)

	// Iterate in a stable order so that keys that only differ in case resolve
	// the same way every time.
	for _, key := range slices.Sorted(maps.Keys(c.DomainRules)) {
		h := ufnet.CanonicalHost(key)
		if h == "" {
			rs.warn("domain rule with empty host is ignored")

			continue
		}

		if _, ok := rs.domains[h]; ok {
			rs.warn("domain rule %q overrides an earlier rule for %q", key, h)
		}

		rs.domains[h] = c.DomainRules[key]
	}

	rs.conf = &Configuration{
		DomainRules: maps.Clone(rs.domains),
		FilterRules: rs.filters.Hosts(),
		RegexRules:  c.RegexRules,
	}

	return rs, nil
}

// newRegexError returns a *RegexError for pattern p at index i.
func newRegexError(p string, i int, err error) (reErr *RegexError) {
	reErr = &RegexError{
		Err:      err,
		Pattern:  p,
		Index:    i,
		Position: len(p),
	}

	var synErr *syntax.Error
	if errors.As(err, &synErr) {
		reErr.Err = synErr
		if pos := strings.Index(p, synErr.Expr); synErr.Expr != "" && pos != -1 {
			reErr.Position = pos
		}
	}

	return reErr
}

// warn adds a formatted compilation warning.
func (rs *RuleSet) warn(format string, args ...any) {
	rs.warnings = append(rs.warnings, fmt.Sprintf(format, args...))
}

// DomainRule returns the decision of the domain rule for the normalized
// hostname, if there is one.
func (rs *RuleSet) DomainRule(hostname string) (block, ok bool) {
	block, ok = rs.domains[hostname]

	return block, ok
}

// MatchFilter returns the filter rule that the normalized hostname is equal to
// or a subdomain of.
func (rs *RuleSet) MatchFilter(hostname string) (rule string, ok bool) {
	return rs.filters.Match(hostname)
}

// MatchRegex returns the first regex rule, in configured order, that matches
// urlStr.
func (rs *RuleSet) MatchRegex(urlStr string) (rule string, ok bool) {
	for _, re := range rs.regexps {
		if re.MatchString(urlStr) {
			return re.String(), true
		}
	}

	return "", false
}

// Configuration returns a copy of the normalized configuration rs was compiled
// from.  Compiling it produces a RuleSet with the same behavior.
func (rs *RuleSet) Configuration() (c *Configuration) {
	return rs.conf.Clone()
}

// FilterRules returns the normalized filter rule hosts.
func (rs *RuleSet) FilterRules() (hosts []string) {
	return rs.filters.Hosts()
}

// Regexps returns the compiled regex rules in their configured order.
func (rs *RuleSet) Regexps() (res []*regexp.Regexp) {
	return slices.Clone(rs.regexps)
}

// Warnings returns the non-fatal problems found during compilation.
func (rs *RuleSet) Warnings() (warnings []string) {
	return slices.Clone(rs.warnings)
}

// Len returns the total number of rules in rs.
func (rs *RuleSet) Len() (n int) {
	return rs.filters.Len() + len(rs.regexps) + len(rs.domains)
}
