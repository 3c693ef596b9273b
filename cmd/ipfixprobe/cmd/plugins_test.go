package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cesnet/ipfixprobe-go/pkg/config"
)

func TestParsePluginListEmpty(t *testing.T) {
	out, err := parsePluginList("")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestParsePluginListNames(t *testing.T) {
	out, err := parsePluginList("pstats,bstats")
	require.NoError(t, err)
	assert.Equal(t, []config.PluginConfig{{Name: "pstats"}, {Name: "bstats"}}, out)
}

func TestParsePluginListWithParams(t *testing.T) {
	out, err := parsePluginList("pstats:skipdup=true:includezeros=false")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "pstats", out[0].Name)
	assert.Equal(t, map[string]string{"skipdup": "true", "includezeros": "false"}, out[0].Params)
}

func TestParsePluginListRejectsMalformedParam(t *testing.T) {
	_, err := parsePluginList("pstats:skipdup")
	require.Error(t, err)
}

func TestBuildRegistryKnownPlugins(t *testing.T) {
	reg, err := buildRegistry([]config.PluginConfig{
		{Name: "pstats", Params: map[string]string{"skipdup": "true"}},
		{Name: "bstats"},
	})
	require.NoError(t, err)
	require.Len(t, reg.Plugins(), 2)
	assert.Equal(t, "pstats", reg.Plugins()[0].Name())
	assert.Equal(t, "bstats", reg.Plugins()[1].Name())
}

func TestBuildRegistryRejectsUnknownPlugin(t *testing.T) {
	_, err := buildRegistry([]config.PluginConfig{{Name: "http"}})
	require.Error(t, err)
}

func TestBuildRegistryRejectsInvalidBoolParam(t *testing.T) {
	_, err := buildRegistry([]config.PluginConfig{{Name: "pstats", Params: map[string]string{"skipdup": "nope"}}})
	require.Error(t, err)
}
