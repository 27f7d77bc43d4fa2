// Package model defines the gateway's data model: directories, sessions,
// messages, parts, patches, terminal sessions, and plugin records.
package model

import "encoding/json"

// DirectoryEntry is a configured workspace directory.
type DirectoryEntry struct {
	ID           string `json:"id"`
	Path         string `json:"path"`
	AddedAt      int64  `json:"addedAt"`
	LastOpenedAt int64  `json:"lastOpenedAt,omitempty"`
}

// TimeInfo captures the lifecycle timestamps common to sessions and
// messages.
type TimeInfo struct {
	Created   int64 `json:"created"`
	Updated   int64 `json:"updated"`
	Completed int64 `json:"completed,omitempty"`
}

// ShareInfo describes a session's public share link.
type ShareInfo struct {
	URL string `json:"url"`
}

// RevertInfo describes the message a session was reverted to.
type RevertInfo struct {
	MessageID string `json:"messageID"`
	Diff      string `json:"diff,omitempty"`
}

// SessionSummary is the narrowed, client-facing view of a session.
type SessionSummary struct {
	ID        string      `json:"id"`
	ParentID  string      `json:"parentID,omitempty"`
	Directory string      `json:"directory"`
	Title     string      `json:"title"`
	Slug      string      `json:"slug,omitempty"`
	Time      TimeInfo    `json:"time"`
	Share     *ShareInfo  `json:"share,omitempty"`
	Revert    *RevertInfo `json:"revert,omitempty"`
}

// SessionRuntimePhase is the activity phase of a session.
type SessionRuntimePhase string

const (
	PhaseIdle     SessionRuntimePhase = "idle"
	PhaseBusy     SessionRuntimePhase = "busy"
	PhaseCooldown SessionRuntimePhase = "cooldown"
)

// SessionRuntime is the narrowed runtime-status entity tracked per session.
type SessionRuntime struct {
	Type    SessionRuntimePhase `json:"type"`
	Attempt int                 `json:"attempt,omitempty"`
	Message string              `json:"message,omitempty"`
	Next    int64               `json:"next,omitempty"`
}

// MessageInfo is the metadata envelope of a Message.
type MessageInfo struct {
	ID        string        `json:"id"`
	SessionID string        `json:"sessionID"`
	Role      string        `json:"role"`
	Time      TimeInfo      `json:"time"`
	Model     string        `json:"model,omitempty"`
	Provider  string        `json:"provider,omitempty"`
	Tokens    int64         `json:"tokens,omitempty"`
	Cost      float64       `json:"cost,omitempty"`
	Error     *ErrorSummary `json:"error,omitempty"`
}

// Message is a chat message with its ordered parts.
type Message struct {
	Info  MessageInfo `json:"info"`
	Parts []Part      `json:"parts"`
}

// PartType is the closed set of part kinds.
type PartType string

const (
	PartText         PartType = "text"
	PartFile         PartType = "file"
	PartTool         PartType = "tool"
	PartReasoning    PartType = "reasoning"
	PartJustification PartType = "justification"
	PartStepStart    PartType = "step-start"
	PartStepFinish   PartType = "step-finish"
	PartSnapshot     PartType = "snapshot"
	PartPatch        PartType = "patch"
	PartAgent        PartType = "agent"
	PartRetry        PartType = "retry"
	PartCompaction   PartType = "compaction"
)

// ToolState is the state envelope carried by tool parts.
type ToolState struct {
	Status   string          `json:"status"`
	Input    json.RawMessage `json:"input,omitempty"`
	Output   json.RawMessage `json:"output,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Time     *TimeInfo       `json:"time,omitempty"`
	Error    json.RawMessage `json:"error,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// Part is a single message part, tagged by Type. Raw carries the
// type-specific payload prior to sanitization.
type Part struct {
	ID          string          `json:"id"`
	Type        PartType        `json:"type"`
	Text        string          `json:"text,omitempty"`
	Synthetic   bool            `json:"synthetic,omitempty"`
	Ignored     bool            `json:"ignored,omitempty"`
	Tool        string          `json:"tool,omitempty"`
	State       *ToolState      `json:"state,omitempty"`
	Files       json.RawMessage `json:"files,omitempty"`
	FileCount   int             `json:"fileCount,omitempty"`
	OcLazy      bool            `json:"ocLazy,omitempty"`
	OcTruncated bool            `json:"ocTruncated,omitempty"`
	Raw         json.RawMessage `json:"-"`
}

// ErrorSummary is the whitelisted projection of an assistant message error.
type ErrorSummary struct {
	Name            string                 `json:"name,omitempty"`
	Type            string                 `json:"type,omitempty"`
	Code            string                 `json:"code,omitempty"`
	Classification  string                 `json:"classification,omitempty"`
	StatusCode      int                    `json:"statusCode,omitempty"`
	IsRetryable     bool                   `json:"isRetryable,omitempty"`
	Retries         int                    `json:"retries,omitempty"`
	ProviderID      string                 `json:"providerID,omitempty"`
	ModelID         string                 `json:"modelID,omitempty"`
	RequestID       string                 `json:"requestID,omitempty"`
	ResponseMessage string                 `json:"responseMessage,omitempty"`
	ResponseBody    string                 `json:"responseBody,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	Message         string                 `json:"message,omitempty"`
	Data            map[string]interface{} `json:"data,omitempty"`
}

// SidebarSnapshot is the composed (directories, sessions, runtime) tuple the
// patch bus diffs between polls.
type SidebarSnapshot struct {
	Directories *OrderedMap[DirectoryEntry] `json:"directories"`
	Sessions    *OrderedMap[SessionSummary] `json:"sessions"`
	Runtime     *OrderedMap[SessionRuntime] `json:"runtime"`
}

// NewSidebarSnapshot returns an empty snapshot.
func NewSidebarSnapshot() *SidebarSnapshot {
	return &SidebarSnapshot{
		Directories: NewOrderedMap[DirectoryEntry](),
		Sessions:    NewOrderedMap[SessionSummary](),
		Runtime:     NewOrderedMap[SessionRuntime](),
	}
}

// PatchOpKind is the tagged union discriminator for PatchOp.
type PatchOpKind string

const (
	OpDirectoryUpsert PatchOpKind = "directoryEntry.upsert"
	OpDirectoryRemove PatchOpKind = "directoryEntry.remove"
	OpSessionUpsert   PatchOpKind = "sessionSummary.upsert"
	OpSessionRemove   PatchOpKind = "sessionSummary.remove"
	OpRuntimeUpsert   PatchOpKind = "sessionRuntime.upsert"
	OpRuntimeRemove   PatchOpKind = "sessionRuntime.remove"
)

// PatchOp is a single upsert/remove mutation against one of the three
// snapshot maps.
type PatchOp struct {
	Kind      PatchOpKind     `json:"kind"`
	ID        string          `json:"id"`
	Directory *DirectoryEntry `json:"directory,omitempty"`
	Session   *SessionSummary `json:"session,omitempty"`
	Runtime   *SessionRuntime `json:"runtime,omitempty"`
}

// PatchEvent is the sequenced record the patch bus publishes and replays.
type PatchEvent struct {
	Seq int64     `json:"seq"`
	Ts  int64     `json:"ts"`
	Ops []PatchOp `json:"ops"`
}

// TerminalBackend distinguishes a bare-shell PTY from a multiplexer-backed
// one.
type TerminalBackend string

const (
	BackendShell       TerminalBackend = "shell"
	BackendMultiplexer TerminalBackend = "multiplexer"
)

// TerminalSession is the metadata persisted for a live or resumable PTY
// session.
type TerminalSession struct {
	ID           string          `json:"id"`
	Cwd          string          `json:"cwd"`
	Cols         int             `json:"cols"`
	Rows         int             `json:"rows"`
	Backend      TerminalBackend `json:"backend"`
	LastActivity int64           `json:"lastActivity"`
}

// PluginStatus is the closed set of plugin discovery outcomes.
type PluginStatus string

const (
	PluginReady           PluginStatus = "ready"
	PluginManifestMissing PluginStatus = "manifest-missing"
	PluginManifestInvalid PluginStatus = "manifest-invalid"
	PluginResolveError    PluginStatus = "resolve-error"
)

// PluginRecord describes a discovered plugin.
type PluginRecord struct {
	ID           string                 `json:"id"`
	Spec         string                 `json:"spec"`
	Status       PluginStatus           `json:"status"`
	RootPath     string                 `json:"rootPath,omitempty"`
	ManifestPath string                 `json:"manifestPath,omitempty"`
	Manifest     map[string]interface{} `json:"manifest,omitempty"`
	DisplayName  string                 `json:"displayName,omitempty"`
	Version      string                 `json:"version,omitempty"`
	Capabilities []string               `json:"capabilities,omitempty"`
	Error        string                 `json:"error,omitempty"`
}
