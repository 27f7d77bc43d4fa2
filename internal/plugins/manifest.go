package plugins

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tailscale/hujson"
)

// BridgeSpec describes how to invoke a plugin's out-of-process bridge. A
// manifest may declare it as a bare command string, an array of tokens, or
// the expanded object form; normalizeBridge folds all three into this
// shape.
type BridgeSpec struct {
	Command   string            `json:"command"`
	Args      []string          `json:"args,omitempty"`
	Cwd       string            `json:"cwd,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	TimeoutMs int               `json:"timeoutMs,omitempty"`
}

// UISpec describes where a plugin's static assets live.
type UISpec struct {
	Entry     string `json:"entry,omitempty"`
	AssetsDir string `json:"assetsDir,omitempty"`
}

// Manifest is the parsed shape of a plugin's manifest file. Bridge is
// excluded from direct decoding because manifests may declare it as a bare
// string, an array, or an object; normalizeBridge folds the raw value.
type Manifest struct {
	DisplayName  string      `json:"displayName,omitempty"`
	Version      string      `json:"version,omitempty"`
	Capabilities []string    `json:"capabilities,omitempty"`
	Bridge       *BridgeSpec `json:"-"`
	UI           *UISpec     `json:"ui,omitempty"`

	raw map[string]interface{}
}

const (
	bridgeTimeoutMin     = 1
	bridgeTimeoutMax     = 120_000
	bridgeTimeoutDefault = 12_000
)

var idSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// sanitizeID strips any character outside alphanumeric/-_. from id.
func sanitizeID(id string) string {
	s := idSanitizer.ReplaceAllString(id, "")
	if s == "" {
		return "plugin"
	}
	return s
}

// parseManifest decodes data as JSON, falling back to the permissive
// JSON-with-comments grammar hujson accepts, since plugin authors often hand
// edit these files.
func parseManifest(data []byte) (*Manifest, error) {
	std := data
	var m Manifest
	if err := json.Unmarshal(std, &m); err != nil {
		h, herr := hujson.Standardize(data)
		if herr != nil {
			return nil, fmt.Errorf("invalid manifest: %w", herr)
		}
		if err := json.Unmarshal(h, &m); err != nil {
			return nil, fmt.Errorf("invalid manifest: %w", err)
		}
		std = h
	}
	_ = json.Unmarshal(std, &m.raw)
	normalizeBridge(&m, m.raw["bridge"])
	return &m, nil
}

// normalizeBridge folds the string / array / object bridge forms into a
// single BridgeSpec, clamping the timeout into [1ms, 120s].
func normalizeBridge(m *Manifest, raw interface{}) {
	var spec BridgeSpec
	switch v := raw.(type) {
	case string:
		spec.Command = v
	case []interface{}:
		for _, tok := range v {
			if s, ok := tok.(string); ok {
				if spec.Command == "" {
					spec.Command = s
				} else {
					spec.Args = append(spec.Args, s)
				}
			}
		}
	case map[string]interface{}:
		if s, ok := v["command"].(string); ok {
			spec.Command = s
		}
		if args, ok := v["args"].([]interface{}); ok {
			for _, a := range args {
				if s, ok := a.(string); ok {
					spec.Args = append(spec.Args, s)
				}
			}
		}
		if s, ok := v["cwd"].(string); ok {
			spec.Cwd = s
		}
		if ms, ok := v["timeoutMs"].(float64); ok {
			spec.TimeoutMs = int(ms)
		}
		if env, ok := v["env"].(map[string]interface{}); ok {
			spec.Env = map[string]string{}
			for k, val := range env {
				if s, ok := val.(string); ok {
					spec.Env[k] = s
				}
			}
		}
	default:
		return
	}
	if spec.Command == "" {
		return
	}
	spec.TimeoutMs = clampInt(spec.TimeoutMs, bridgeTimeoutMin, bridgeTimeoutMax, bridgeTimeoutDefault)
	m.Bridge = &spec
}

func clampInt(v, min, max, def int) int {
	if v <= 0 {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// hasCapability reports whether m declares capability among Capabilities.
func (m *Manifest) hasCapability(capability string) bool {
	for _, c := range m.Capabilities {
		if strings.EqualFold(c, capability) {
			return true
		}
	}
	return false
}

var manifestCandidates = []string{
	"dist/studio.manifest.json",
	"studio.manifest.json",
}

const packageJSONManifestKey = "opencodeStudio"
