package plugins

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseManifestJSON(t *testing.T) {
	data := []byte(`{
		"displayName": "Git Helper",
		"version": "1.0.0",
		"capabilities": ["events"],
		"bridge": {"command": "node", "args": ["bridge.js"], "timeoutMs": 5000}
	}`)
	m, err := parseManifest(data)
	require.NoError(t, err)
	require.Equal(t, "Git Helper", m.DisplayName)
	require.True(t, m.hasCapability("events"))
	require.Equal(t, "node", m.Bridge.Command)
	require.Equal(t, 5000, m.Bridge.TimeoutMs)
}

func TestParseManifestFallsBackToHujson(t *testing.T) {
	// Trailing comma + comment: invalid strict JSON, valid hujson.
	data := []byte(`{
		// a plugin manifest
		"displayName": "Commented",
		"bridge": "./bridge.sh",
	}`)
	m, err := parseManifest(data)
	require.NoError(t, err)
	require.Equal(t, "Commented", m.DisplayName)
	require.Equal(t, "./bridge.sh", m.Bridge.Command)
	require.Equal(t, bridgeTimeoutDefault, m.Bridge.TimeoutMs)
}

func TestNormalizeBridgeArrayForm(t *testing.T) {
	data := []byte(`{"bridge": ["python3", "bridge.py", "--flag"]}`)
	m, err := parseManifest(data)
	require.NoError(t, err)
	require.Equal(t, "python3", m.Bridge.Command)
	require.Equal(t, []string{"bridge.py", "--flag"}, m.Bridge.Args)
}

func TestBridgeTimeoutClampedToBounds(t *testing.T) {
	data := []byte(`{"bridge": {"command": "x", "timeoutMs": 999999999}}`)
	m, err := parseManifest(data)
	require.NoError(t, err)
	require.Equal(t, bridgeTimeoutMax, m.Bridge.TimeoutMs)
}

func TestSanitizeIDStripsDisallowedChars(t *testing.T) {
	require.Equal(t, "my-plugin_1.0", sanitizeID("my-plugin_1.0!!"))
	require.Equal(t, "plugin", sanitizeID("!!!"))
}
