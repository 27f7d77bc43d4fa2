package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const stdioSnippetCap = 2000

// BridgeError carries the structured failure envelope described by the
// plugin action contract: a stable code, an HTTP status class, and a
// truncated snippet of whatever the child process wrote before failing.
type BridgeError struct {
	Code    string
	Status  int
	Stdout  string
	Stderr  string
	Message string
}

func (e *BridgeError) Error() string { return e.Message }

func truncate(s string) string {
	if len(s) <= stdioSnippetCap {
		return s
	}
	return s[:stdioSnippetCap]
}

// invocationPayload is written to the bridge process's stdin.
type invocationPayload struct {
	Action  string                 `json:"action"`
	Payload map[string]interface{} `json:"payload"`
	Context map[string]interface{} `json:"context"`
	Plugin  pluginRef              `json:"plugin"`
}

type pluginRef struct {
	ID           string `json:"id"`
	Spec         string `json:"spec"`
	RootPath     string `json:"rootPath,omitempty"`
	ManifestPath string `json:"manifestPath,omitempty"`
}

// Invoke spawns the plugin's bridge command, writes the invocation payload
// to its stdin, and waits up to the manifest's configured timeout. On
// success it parses stdout as JSON, wrapping a bare data payload as
// {ok:true, data}. On failure it returns a *BridgeError describing the
// failure class.
func Invoke(ctx context.Context, id, spec, rootPath, manifestPath string, bridge *BridgeSpec, action string, payload, invocationContext map[string]interface{}) (map[string]interface{}, *BridgeError) {
	if bridge == nil || bridge.Command == "" {
		return nil, &BridgeError{Code: "invalid_bridge_config", Status: 400, Message: "plugin has no bridge configured"}
	}

	command := bridge.Command
	if looksLikePath(command) && !filepath.IsAbs(command) {
		base := bridge.Cwd
		if base == "" {
			base = rootPath
		}
		command = filepath.Join(base, command)
	}

	timeout := time.Duration(bridge.TimeoutMs) * time.Millisecond
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, command, bridge.Args...)
	if bridge.Cwd != "" {
		cmd.Dir = bridge.Cwd
	} else {
		cmd.Dir = rootPath
	}
	cmd.Env = os.Environ()
	for k, v := range bridge.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	body, err := json.Marshal(invocationPayload{
		Action:  action,
		Payload: payload,
		Context: invocationContext,
		Plugin:  pluginRef{ID: id, Spec: spec, RootPath: rootPath, ManifestPath: manifestPath},
	})
	if err != nil {
		return nil, &BridgeError{Code: "invalid_bridge_config", Status: 400, Message: "failed to encode invocation payload"}
	}
	cmd.Stdin = bytes.NewReader(body)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return nil, &BridgeError{
			Code: "bridge_timeout", Status: 504,
			Stdout: truncate(stdout.String()), Stderr: truncate(stderr.String()),
			Message: "plugin bridge timed out",
		}
	}
	if runErr != nil {
		return nil, &BridgeError{
			Code: "bridge_exec_failed", Status: 502,
			Stdout: truncate(stdout.String()), Stderr: truncate(stderr.String()),
			Message: "plugin bridge exited with an error: " + runErr.Error(),
		}
	}

	var result map[string]interface{}
	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return map[string]interface{}{"ok": true}, nil
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		return nil, &BridgeError{
			Code: "bridge_invalid_response", Status: 502,
			Stdout: truncate(out), Stderr: truncate(stderr.String()),
			Message: "plugin bridge returned invalid JSON",
		}
	}
	if _, hasOK := result["ok"]; hasOK {
		return result, nil
	}
	return map[string]interface{}{"ok": true, "data": result}, nil
}
