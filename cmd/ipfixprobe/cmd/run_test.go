package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cesnet/ipfixprobe-go/pkg/config"
	"github.com/cesnet/ipfixprobe-go/pkg/flow"
)

func TestCaptureSourcesRejectsEmptyConfig(t *testing.T) {
	cfg := config.New()
	_, _, err := captureSources(cfg)
	require.Error(t, err)
}

func TestCaptureSourcesFile(t *testing.T) {
	cfg := config.New()
	cfg.Capture.File = "testdata/does-not-need-to-exist.pcap"
	openers, names, err := captureSources(cfg)
	require.NoError(t, err)
	require.Len(t, openers, 1)
	assert.Equal(t, []string{cfg.Capture.File}, names)
}

func TestCaptureSourcesOneOpenerPerInterface(t *testing.T) {
	cfg := config.New()
	cfg.Capture.Interfaces = []string{"eth0", "eth1", "eth2"}
	openers, names, err := captureSources(cfg)
	require.NoError(t, err)
	assert.Len(t, openers, 3)
	assert.Equal(t, cfg.Capture.Interfaces, names)
}

func TestBuildFramedSinksEmptyPathIsNoop(t *testing.T) {
	sinks, cleanup, err := buildFramedSinks("")
	require.NoError(t, err)
	assert.Nil(t, sinks)
	cleanup()
}

func TestBuildFramedSinksCreatesSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flows")

	sinks, cleanup, err := buildFramedSinks(path)
	require.NoError(t, err)
	require.Len(t, sinks, 1)
	defer cleanup()

	assert.FileExists(t, path+".v4")
	assert.FileExists(t, path+".v6")
}

func TestDualVersionSinkRoutesByIPVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flows")

	sinks, cleanup, err := buildFramedSinks(path)
	require.NoError(t, err)
	defer cleanup()

	f4 := &flow.Flow{IPVersion: 4}
	f6 := &flow.Flow{IPVersion: 6}

	require.NoError(t, sinks[0].Write(f4))
	v4Info, err := os.Stat(path + ".v4")
	require.NoError(t, err)
	v6Info, err := os.Stat(path + ".v6")
	require.NoError(t, err)
	assert.NotZero(t, v4Info.Size())
	assert.Zero(t, v6Info.Size())

	require.NoError(t, sinks[0].Write(f6))
	v6Info, err = os.Stat(path + ".v6")
	require.NoError(t, err)
	assert.NotZero(t, v6Info.Size())
}
