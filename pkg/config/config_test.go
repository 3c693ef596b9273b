package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValidConfig(t *testing.T) {
	cfg, err := Parse(strings.NewReader(`{
		"capture": {"interfaces": ["eth0"]},
		"exporter": {"host": "10.0.0.1", "port": "4739"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"eth0"}, cfg.Capture.Interfaces)
	assert.Equal(t, 17, cfg.Cache.SizeExponent, "unset fields should keep New()'s default")
	assert.Equal(t, 1458, cfg.Exporter.MTU)
}

func TestParseRejectsMissingCaptureSource(t *testing.T) {
	_, err := Parse(strings.NewReader(`{"exporter": {"host": "10.0.0.1", "port": "4739"}}`))
	require.Error(t, err)
}

func TestParseRejectsInterfacesAndFileTogether(t *testing.T) {
	_, err := Parse(strings.NewReader(`{
		"capture": {"interfaces": ["eth0"], "file": "capture.pcap"},
		"exporter": {"host": "10.0.0.1", "port": "4739"}
	}`))
	require.Error(t, err)
}

func TestParseRejectsMissingExporterHost(t *testing.T) {
	_, err := Parse(strings.NewReader(`{"capture": {"file": "capture.pcap"}}`))
	require.Error(t, err)
}

func TestParseRejectsOutOfRangeCacheSizeExponent(t *testing.T) {
	_, err := Parse(strings.NewReader(`{
		"capture": {"file": "capture.pcap"},
		"cache": {"size_exponent": 31},
		"exporter": {"host": "10.0.0.1", "port": "4739"}
	}`))
	require.Error(t, err)
}

func TestParseRejectsInsecureAPIKey(t *testing.T) {
	_, err := Parse(strings.NewReader(`{
		"capture": {"file": "capture.pcap"},
		"exporter": {"host": "10.0.0.1", "port": "4739"},
		"api": {"port": "8080", "keys": ["tooshort"]}
	}`))
	require.Error(t, err)
}

func TestParseRejectsDemoAPIKey(t *testing.T) {
	_, err := Parse(strings.NewReader(`{
		"capture": {"file": "capture.pcap"},
		"exporter": {"host": "10.0.0.1", "port": "4739"},
		"api": {"port": "8080", "keys": ["da53ae3fb482db63d9606a9324a694bf51f7ad47623c04ab7b97a811f2a78e05"]}
	}`))
	require.Error(t, err)
}

func TestParseRejectsMalformedJSON(t *testing.T) {
	_, err := Parse(strings.NewReader(`{not json`))
	require.Error(t, err)
}
