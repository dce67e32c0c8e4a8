package lookup_test

import (
	"testing"

	"github.com/AdguardTeam/reqfilter/internal/lookup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Common hosts for tests.
const (
	testHost      = "ads.example.com"
	testHostOther = "tracker.example.net"
)

func TestNewSuffixTable(t *testing.T) {
	t.Parallel()

	tbl := lookup.NewSuffixTable([]string{testHost, "", testHostOther, testHost})
	require.Equal(t, 2, tbl.Len())

	assert.Equal(t, []string{testHost, testHostOther}, tbl.Hosts())
}

func TestSuffixTable_Match(t *testing.T) {
	t.Parallel()

	tbl := lookup.NewSuffixTable([]string{testHost, testHostOther})

	testCases := []struct {
		name     string
		hostname string
		wantHost string
		wantOK   bool
	}{{
		name:     "exact",
		hostname: testHost,
		wantHost: testHost,
		wantOK:   true,
	}, {
		name:     "subdomain",
		hostname: "sub." + testHost,
		wantHost: testHost,
		wantOK:   true,
	}, {
		name:     "deep_subdomain",
		hostname: "a.b.c." + testHost,
		wantHost: testHost,
		wantOK:   true,
	}, {
		name:     "no_label_boundary",
		hostname: "not" + testHost,
		wantHost: "",
		wantOK:   false,
	}, {
		name:     "suffix_of_attacker",
		hostname: testHost + ".attacker.net",
		wantHost: "",
		wantOK:   false,
	}, {
		name:     "parent",
		hostname: "example.com",
		wantHost: "",
		wantOK:   false,
	}, {
		name:     "other",
		hostname: "x." + testHostOther,
		wantHost: testHostOther,
		wantOK:   true,
	}, {
		name:     "empty",
		hostname: "",
		wantHost: "",
		wantOK:   false,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			host, ok := tbl.Match(tc.hostname)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.wantHost, host)
		})
	}
}

func TestSuffixTable_Match_empty(t *testing.T) {
	t.Parallel()

	tbl := lookup.NewSuffixTable(nil)

	_, ok := tbl.Match(testHost)
	assert.False(t, ok)
}

func BenchmarkSuffixTable_Match(b *testing.B) {
	tbl := lookup.NewSuffixTable([]string{testHost, testHostOther})

	const hostname = "a.b.c.d." + testHost

	var ok bool

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, ok = tbl.Match(hostname)
	}

	require.True(b, ok)
}
