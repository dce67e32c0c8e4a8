package reqfilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecisionCache(t *testing.T) {
	t.Parallel()

	const (
		testURL   = "https://ads.example.com/x"
		otherURL  = "https://ads.example.com/y"
		cacheSize = 1024 * 1024
	)

	want := MatchResult{
		Rule:     "ads.example.com",
		Category: CategoryFilter,
		Block:    true,
	}

	c := newDecisionCache(cacheSize)
	require.NotNil(t, c)

	_, ok := c.get(1, testURL)
	assert.False(t, ok)

	c.set(1, testURL, want)

	got, ok := c.get(1, testURL)
	require.True(t, ok)
	assert.Equal(t, want, got)

	// Results of another generation must not be returned.
	_, ok = c.get(2, testURL)
	assert.False(t, ok)

	_, ok = c.get(1, otherURL)
	assert.False(t, ok)

	c.set(1, otherURL, MatchResult{})

	got, ok = c.get(1, otherURL)
	require.True(t, ok)
	assert.Equal(t, MatchResult{}, got)
}

func TestDecisionCache_nil(t *testing.T) {
	t.Parallel()

	c := newDecisionCache(0)
	require.Nil(t, c)

	assert.NotPanics(t, func() {
		c.set(1, "https://example.com", MatchResult{Block: true})
	})

	_, ok := c.get(1, "https://example.com")
	assert.False(t, ok)
}
