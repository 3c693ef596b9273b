package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cesnet/ipfixprobe-go/pkg/config"
)

// newTestCmd builds a root command whose runFunc just records the
// Config buildConfig produced, so tests can assert on the overlay
// logic without starting the real pipeline.
func newTestCmd(t *testing.T) (run func(argv ...string) error, cfg **config.Config) {
	t.Helper()
	var captured *config.Config
	cmd, err := newRootCmd(func(_ context.Context, c *config.Config, _ *cliArgs) error {
		captured = c
		return nil
	})
	require.NoError(t, err)
	return func(argv ...string) error {
		cmd.SetArgs(argv)
		return cmd.Execute()
	}, &captured
}

func TestBuildConfigRequiresCollectorAddress(t *testing.T) {
	run, _ := newTestCmd(t)
	err := run("--interface", "eth0")
	require.Error(t, err)
}

func TestBuildConfigAppliesChangedFlagsOnly(t *testing.T) {
	run, cfg := newTestCmd(t)
	err := run("--interface", "eth0", "--ipfix", "collector.example:4739", "--udp", "--mtu", "1400")
	require.NoError(t, err)
	require.NotNil(t, *cfg)

	assert.Equal(t, []string{"eth0"}, (*cfg).Capture.Interfaces)
	assert.Equal(t, "collector.example", (*cfg).Exporter.Host)
	assert.Equal(t, "4739", (*cfg).Exporter.Port)
	assert.True(t, (*cfg).Exporter.UDP)
	assert.Equal(t, 1400, (*cfg).Exporter.MTU)
	// snapshot length wasn't passed on the command line, so the default survives.
	assert.Equal(t, 65535, (*cfg).Capture.SnapshotLength)
}

func TestBuildConfigParsesTimeout(t *testing.T) {
	run, cfg := newTestCmd(t)
	err := run("--interface", "eth0", "--ipfix", "collector.example:4739", "--timeout", "120.5:15")
	require.NoError(t, err)
	assert.Equal(t, 120500*time.Millisecond, (*cfg).Cache.ActiveTimeout)
	assert.Equal(t, 15*time.Second, (*cfg).Cache.InactiveTimeout)
}

func TestBuildConfigParsesPlugins(t *testing.T) {
	run, cfg := newTestCmd(t)
	err := run("--interface", "eth0", "--ipfix", "collector.example:4739", "--plugins", "pstats,bstats")
	require.NoError(t, err)
	require.Len(t, (*cfg).Plugins, 2)
	assert.Equal(t, "pstats", (*cfg).Plugins[0].Name)
	assert.Equal(t, "bstats", (*cfg).Plugins[1].Name)
}

func TestBuildConfigRejectsMalformedCollectorAddress(t *testing.T) {
	run, _ := newTestCmd(t)
	err := run("--interface", "eth0", "--ipfix", "no-port-here")
	require.Error(t, err)
}
