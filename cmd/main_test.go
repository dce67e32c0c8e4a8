package main

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/reqfilter/config"
	"github.com/AdguardTeam/reqfilter/rulesource"
	"github.com/AdguardTeam/reqfilter/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  url: https://rules.example/\n"), 0o600))

	conf, err := loadConfig(Options{
		ConfigPath: path,
		Verbose:    true,
		ListenPort: 3128,
		RulesFile:  "rules.json",
		StatePath:  "state.json",
	})
	require.NoError(t, err)

	assert.True(t, conf.Log.Verbose)
	assert.Equal(t, "0.0.0.0:3128", conf.Proxy.ListenAddr)
	assert.Equal(t, "rules.json", conf.Rules.File)
	assert.Empty(t, conf.Rules.URL)
	assert.Equal(t, "state.json", conf.Storage.Path)

	_, err = loadConfig(Options{HTTPSProxy: true})
	assert.Error(t, err)
}

func TestOverrideAddr(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		addr string
		host string
		want string
		port int
	}{{
		name: "host",
		addr: "0.0.0.0:8080",
		host: "127.0.0.1",
		want: "127.0.0.1:8080",
		port: 0,
	}, {
		name: "port",
		addr: "0.0.0.0:8080",
		host: "",
		want: "0.0.0.0:3128",
		port: 3128,
	}, {
		name: "ipv6",
		addr: "0.0.0.0:8080",
		host: "::1",
		want: "[::1]:3128",
		port: 3128,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := overrideAddr(tc.addr, tc.host, tc.port)
			require.NoError(t, err)

			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNewRuleSource(t *testing.T) {
	t.Parallel()

	assert.Equal(t, rulesource.Bundled{}, newRuleSource(config.RulesConfig{}))
	assert.Equal(
		t,
		&rulesource.File{Path: "rules.json"},
		newRuleSource(config.RulesConfig{File: "rules.json"}),
	)
	assert.IsType(t, &rulesource.URL{}, newRuleSource(config.RulesConfig{URL: "https://a.example/"}))
}

func TestNewStorage(t *testing.T) {
	t.Parallel()

	s, err := newStorage(config.StorageConfig{})
	require.NoError(t, err)
	assert.IsType(t, &storage.Memory{}, s)

	s, err = newStorage(config.StorageConfig{Path: filepath.Join(t.TempDir(), "state.json")})
	require.NoError(t, err)
	assert.IsType(t, &storage.File{}, s)
}

// testService is a [service.Interface] for tests.
type testService struct {
	onShutdown func(ctx context.Context) (err error)
}

// type check
var _ service.Interface = (*testService)(nil)

// Start implements the [service.Interface] interface for *testService.
func (s *testService) Start(_ context.Context) (err error) {
	return nil
}

// Shutdown implements the [service.Interface] interface for *testService.
func (s *testService) Shutdown(ctx context.Context) (err error) {
	return s.onShutdown(ctx)
}

func TestShutdownAll(t *testing.T) {
	t.Parallel()

	const errSource errors.Error = "source error"

	sourcesDown := &atomic.Int32{}
	sourceDown := func(_ context.Context) (err error) {
		time.Sleep(10 * time.Millisecond)
		sourcesDown.Add(1)

		return nil
	}

	var downBeforePipeline int32
	pipeline := &testService{
		onShutdown: func(_ context.Context) (err error) {
			downBeforePipeline = sourcesDown.Load()

			return nil
		},
	}

	failing := &testService{
		onShutdown: func(ctx context.Context) (err error) {
			_ = sourceDown(ctx)

			return errSource
		},
	}

	err := shutdownAll([]service.Interface{
		pipeline,
		&testService{onShutdown: sourceDown},
		failing,
	})
	assert.ErrorIs(t, err, errSource)
	assert.Equal(t, int32(2), downBeforePipeline)

	assert.NoError(t, shutdownAll(nil))
}
