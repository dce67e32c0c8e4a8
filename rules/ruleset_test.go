package rules_test

import (
	"testing"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/AdguardTeam/reqfilter/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Common hosts for tests.
const (
	testHost      = "ads.example.com"
	testHostOther = "tracker.example.net"
)

func TestParse(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		want       *rules.Configuration
		name       string
		in         string
		wantErrMsg string
	}{{
		want: &rules.Configuration{
			DomainRules: map[string]bool{testHost: true},
			FilterRules: []string{testHostOther},
			RegexRules:  []string{`\.js$`},
		},
		name:       "full",
		in:         `{"filter_rules":["` + testHostOther + `"],"regex_rules":["\\.js$"],"domain_rules":{"` + testHost + `":true}}`,
		wantErrMsg: "",
	}, {
		want:       &rules.Configuration{},
		name:       "absent_fields",
		in:         `{}`,
		wantErrMsg: "",
	}, {
		want:       &rules.Configuration{},
		name:       "null_fields",
		in:         `{"filter_rules":null,"regex_rules":null,"domain_rules":null}`,
		wantErrMsg: "",
	}, {
		want:       &rules.Configuration{},
		name:       "unknown_field",
		in:         ` {"comment":"x"} `,
		wantErrMsg: "",
	}, {
		want:       nil,
		name:       "empty",
		in:         "",
		wantErrMsg: "invalid rule configuration encoding: empty configuration",
	}, {
		want:       nil,
		name:       "array",
		in:         `[]`,
		wantErrMsg: "invalid rule configuration encoding: configuration is not an object",
	}, {
		want:       nil,
		name:       "null",
		in:         `null`,
		wantErrMsg: "invalid rule configuration encoding: configuration is not an object",
	}, {
		want: nil,
		name: "truncated",
		in:   `{"filter_rules":[`,
		wantErrMsg: "invalid rule configuration encoding: " +
			"unexpected end of JSON input",
	}, {
		want: nil,
		name: "bad_type",
		in:   `{"filter_rules":"a.example"}`,
		wantErrMsg: "invalid rule configuration encoding: json: cannot unmarshal " +
			"string into Go struct field Configuration.filter_rules of type []string",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c, err := rules.Parse([]byte(tc.in))
			testutil.AssertErrorMsg(t, tc.wantErrMsg, err)
			if tc.wantErrMsg != "" {
				assert.ErrorIs(t, err, rules.ErrInvalidEncoding)
				assert.True(t, rules.IsCompileError(err))
			}

			assert.Equal(t, tc.want, c)
		})
	}
}

func TestCompile(t *testing.T) {
	t.Parallel()

	rs, err := rules.Compile(&rules.Configuration{
		DomainRules: map[string]bool{
			"Allowed.Example.org.": false,
			testHost:               true,
		},
		FilterRules: []string{" " + testHostOther + " ", "", "TRACKER.example.net"},
		RegexRules:  []string{`^https://first/`, `^https://second/`, `third`},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{testHostOther}, rs.FilterRules())
	assert.Equal(t, 1+3+2, rs.Len())

	block, ok := rs.DomainRule("allowed.example.org")
	require.True(t, ok)
	assert.False(t, block)

	block, ok = rs.DomainRule(testHost)
	require.True(t, ok)
	assert.True(t, block)

	assert.Equal(t, []string{"filter rule at index 1 is empty"}, rs.Warnings())
}

func TestCompile_regexOrder(t *testing.T) {
	t.Parallel()

	patterns := []string{`z`, `a`, `.*\.doubleclick\.net/.*`, `m`}
	rs, err := rules.Compile(&rules.Configuration{RegexRules: patterns})
	require.NoError(t, err)

	res := rs.Regexps()
	require.Len(t, res, len(patterns))

	for i, re := range res {
		assert.Equal(t, patterns[i], re.String())
	}

	rule, ok := rs.MatchRegex("https://za/")
	require.True(t, ok)

	assert.Equal(t, "z", rule)
}

func TestCompile_malformedRegex(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		pattern string
		wantPos int
	}{{
		name:    "open_paren",
		pattern: "(",
		wantPos: 0,
	}, {
		name:    "bad_repeat",
		pattern: "ab**",
		wantPos: 2,
	}, {
		name:    "bad_class",
		pattern: `abc[z-a]`,
		wantPos: 4,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rs, err := rules.Compile(&rules.Configuration{
				RegexRules: []string{`ok`, tc.pattern},
			})
			require.Error(t, err)

			assert.Nil(t, rs)
			assert.True(t, rules.IsCompileError(err))

			reErr := &rules.RegexError{}
			require.True(t, errors.As(err, &reErr))

			assert.Equal(t, tc.pattern, reErr.Pattern)
			assert.Equal(t, 1, reErr.Index)
			assert.Equal(t, tc.wantPos, reErr.Position)
		})
	}
}

func TestCompile_empty(t *testing.T) {
	t.Parallel()

	rs, err := rules.Compile(nil)
	require.NoError(t, err)

	assert.Zero(t, rs.Len())

	_, ok := rs.MatchFilter(testHost)
	assert.False(t, ok)

	_, ok = rs.MatchRegex("http://" + testHost + "/")
	assert.False(t, ok)
}

func TestCompile_emptyRegexWarning(t *testing.T) {
	t.Parallel()

	rs, err := rules.Compile(&rules.Configuration{RegexRules: []string{""}})
	require.NoError(t, err)

	assert.Equal(t, []string{"regex rule at index 0 is empty and matches every url"}, rs.Warnings())
}

func TestCompileJSON(t *testing.T) {
	t.Parallel()

	_, err := rules.CompileJSON([]byte(`{"regex_rules":["("]}`))
	testutil.AssertErrorMsg(
		t,
		`regex rule at index 0: malformed pattern "(" at position 0: `+
			"error parsing regexp: missing closing ): `(`",
		err,
	)

	_, err = rules.CompileJSON([]byte(`{"regex_rules":`))
	assert.ErrorIs(t, err, rules.ErrInvalidEncoding)
}

func TestCompile_domainCaseConflict(t *testing.T) {
	t.Parallel()

	rs, err := rules.Compile(&rules.Configuration{
		DomainRules: map[string]bool{"B.example": true, "b.example": false},
	})
	require.NoError(t, err)

	// Keys are applied in sorted order, so the lowercase one wins.
	block, ok := rs.DomainRule("b.example")
	require.True(t, ok)
	assert.False(t, block)

	assert.Equal(t, []string{
		`domain rule "b.example" overrides an earlier rule for "b.example"`,
	}, rs.Warnings())
}

func TestRuleSet_Configuration(t *testing.T) {
	t.Parallel()

	c := &rules.Configuration{
		DomainRules: map[string]bool{"A.example": false},
		FilterRules: []string{testHost},
		RegexRules:  []string{`\.gif$`},
	}

	rs, err := rules.Compile(c)
	require.NoError(t, err)

	got := rs.Configuration()
	assert.Equal(t, &rules.Configuration{
		DomainRules: map[string]bool{"a.example": false},
		FilterRules: []string{testHost},
		RegexRules:  []string{`\.gif$`},
	}, got)

	// Mutating the returned configuration must not affect the rule set.
	got.FilterRules[0] = testHostOther
	assert.Equal(t, []string{testHost}, rs.FilterRules())

	// The source configuration must not be affected either.
	assert.Equal(t, map[string]bool{"A.example": false}, c.DomainRules)
}

func TestDefaultConfiguration(t *testing.T) {
	t.Parallel()

	c := rules.DefaultConfiguration()
	assert.Len(t, c.FilterRules, 4)
	assert.Len(t, c.RegexRules, 5)
	assert.Len(t, c.DomainRules, 2)

	rs, err := rules.CompileJSON(rules.DefaultText())
	require.NoError(t, err)

	assert.Equal(t, 11, rs.Len())
	assert.Empty(t, rs.Warnings())
}

func FuzzCompileJSON(f *testing.F) {
	for _, seed := range []string{
		"",
		"{}",
		"null",
		"[]",
		`{"filter_rules":["` + testHost + `"]}`,
		`{"regex_rules":["("]}`,
		`{"regex_rules":[".*\\.doubleclick\\.net/.*"]}`,
		`{"domain_rules":{"` + testHost + `":false}}`,
		`{"domain_rules":{"":true}}`,
	} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, in string) {
		assert.NotPanics(t, func() {
			rs, err := rules.CompileJSON([]byte(in))
			if err != nil {
				assert.True(t, rules.IsCompileError(err))

				return
			}

			_, _ = rs.MatchFilter(testHost)
		})
	})
}
