package rules

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/AdguardTeam/golibs/errors"
)

// Configuration is the declarative, serialized form of a rule set.  Absent
// fields are treated as empty collections.
type Configuration struct {
	// DomainRules maps hostnames to their decision: true blocks the host and
	// false explicitly allows it.  These rules take precedence over all other
	// kinds.
	DomainRules map[string]bool `json:"domain_rules"`

	// FilterRules are host tokens.  A request is blocked if its hostname is
	// equal to a token or is a subdomain of it.
	FilterRules []string `json:"filter_rules"`

	// RegexRules are regular expressions evaluated in order against the full
	// request URL.
	RegexRules []string `json:"regex_rules"`
}

// Parse decodes a JSON rule configuration.  Any error returned wraps
// [ErrInvalidEncoding].
func Parse(data []byte) (c *Configuration, err error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty configuration", ErrInvalidEncoding)
	} else if data[0] != '{' {
		return nil, fmt.Errorf("%w: configuration is not an object", ErrInvalidEncoding)
	}

	c = &Configuration{}
	err = json.Unmarshal(data, c)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEncoding, err)
	}

	return c, nil
}

// Clone returns a deep copy of c.
func (c *Configuration) Clone() (clone *Configuration) {
	if c == nil {
		return &Configuration{}
	}

	return &Configuration{
		DomainRules: maps.Clone(c.DomainRules),
		FilterRules: slices.Clone(c.FilterRules),
		RegexRules:  slices.Clone(c.RegexRules),
	}
}

// Text returns the indented JSON encoding of c.
func (c *Configuration) Text() (data []byte, err error) {
	data, err = json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding rule configuration: %w", err)
	}

	return data, nil
}

// defaultData is the bundled default rule configuration.
//
//go:embed default.json
var defaultData []byte

// DefaultText returns a copy of the text of the bundled default rule
// configuration.
func DefaultText() (data []byte) {
	return slices.Clone(defaultData)
}

// DefaultConfiguration returns the bundled default rule configuration.
func DefaultConfiguration() (c *Configuration) {
	return errors.Must(Parse(defaultData))
}
