package storage_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/testutil"
	"github.com/AdguardTeam/reqfilter/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests.
const testTimeout = 1 * time.Second

// testRules is the common rule configuration text for tests.
const testRules = `{"filter_rules":["ads.example.com"]}`

func TestMemory_defaults(t *testing.T) {
	t.Parallel()

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	m := storage.NewMemory()

	data, err := m.RuleConfig(ctx)
	require.NoError(t, err)
	assert.Nil(t, data)

	c, err := m.Counters(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.Counters{}, c)

	enabled, err := m.Enabled(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestMemory_set(t *testing.T) {
	t.Parallel()

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	m := storage.NewMemory()

	require.NoError(t, m.SetRuleConfig(ctx, []byte(testRules)))
	require.NoError(t, m.SetEnabled(ctx, false))

	want := storage.Counters{Day: "2024-01-02", BlockedToday: 3, TotalBlocked: 10}
	require.NoError(t, m.SetCounters(ctx, want))

	data, err := m.RuleConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, testRules, string(data))

	enabled, err := m.Enabled(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)

	c, err := m.Counters(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, c)
}

func TestFile(t *testing.T) {
	t.Parallel()

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	path := filepath.Join(t.TempDir(), "state.json")

	f, err := storage.NewFile(path)
	require.NoError(t, err)

	require.NoError(t, f.SetRuleConfig(ctx, []byte(testRules)))
	require.NoError(t, f.SetEnabled(ctx, false))
	require.NoError(t, f.SetCounters(ctx, storage.Counters{BlockedToday: 1, TotalBlocked: 2}))

	reopened, err := storage.NewFile(path)
	require.NoError(t, err)

	data, err := reopened.RuleConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, testRules, string(data))

	enabled, err := reopened.Enabled(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)

	c, err := reopened.Counters(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.Counters{BlockedToday: 1, TotalBlocked: 2}, c)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestNewFile_malformed(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))

	f, err := storage.NewFile(path)
	assert.Error(t, err)
	assert.Nil(t, f)
}

func TestFile_rollback(t *testing.T) {
	t.Parallel()

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	path := filepath.Join(t.TempDir(), "missing_dir", "state.json")

	f, err := storage.NewFile(path)
	require.NoError(t, err)

	err = f.SetEnabled(ctx, false)
	require.Error(t, err)

	enabled, err := f.Enabled(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)
}
