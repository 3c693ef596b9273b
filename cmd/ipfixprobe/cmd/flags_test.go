package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeoutDefault(t *testing.T) {
	active, inactive, err := parseTimeout("default")
	require.NoError(t, err)
	assert.Equal(t, 300*time.Second, active)
	assert.Equal(t, 30*time.Second, inactive)
}

func TestParseTimeoutEmptyIsDefault(t *testing.T) {
	active, inactive, err := parseTimeout("")
	require.NoError(t, err)
	assert.Equal(t, 300*time.Second, active)
	assert.Equal(t, 30*time.Second, inactive)
}

func TestParseTimeoutExplicit(t *testing.T) {
	active, inactive, err := parseTimeout("120.5:15")
	require.NoError(t, err)
	assert.Equal(t, 120500*time.Millisecond, active)
	assert.Equal(t, 15*time.Second, inactive)
}

func TestParseTimeoutRejectsMalformed(t *testing.T) {
	_, _, err := parseTimeout("nope")
	require.Error(t, err)
}

func TestParseCollectorAddr(t *testing.T) {
	host, port, err := parseCollectorAddr("collector.example:4739")
	require.NoError(t, err)
	assert.Equal(t, "collector.example", host)
	assert.Equal(t, "4739", port)
}

func TestParseCollectorAddrBracketedIPv6(t *testing.T) {
	host, port, err := parseCollectorAddr("[::1]:4739")
	require.NoError(t, err)
	assert.Equal(t, "::1", host)
	assert.Equal(t, "4739", port)
}

func TestParseCollectorAddrRejectsMissingPort(t *testing.T) {
	_, _, err := parseCollectorAddr("collector.example")
	require.Error(t, err)
}

func TestParseDurationOrSecondsEmptyDisables(t *testing.T) {
	d, err := parseDurationOrSeconds("")
	require.NoError(t, err)
	assert.Zero(t, d)
}

func TestParseDurationOrSecondsBareInteger(t *testing.T) {
	d, err := parseDurationOrSeconds("10")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, d)
}

func TestParseDurationOrSecondsGoDuration(t *testing.T) {
	d, err := parseDurationOrSeconds("90s")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)
}

func TestParseDurationOrSecondsRejectsMalformed(t *testing.T) {
	_, err := parseDurationOrSeconds("nope")
	require.Error(t, err)
}
