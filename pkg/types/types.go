package types

import "github.com/google/uuid"

// NewLocalID generates a client-side identifier for queue items.
//
// Local ids are stable across retries and edits of the same message and are
// distinct from server-assigned message ids.
func NewLocalID() string {
	return uuid.NewString()
}

// Presence describes whether a session's agent-side process is currently
// connected to the transport.
type Presence string

const (
	// PresenceOnline means the agent process holds a live socket connection.
	PresenceOnline Presence = "online"
	// PresenceOffline means the agent process is not connected. Liveness
	// signals (thinking, pending requests) must be treated as stale.
	PresenceOffline Presence = "offline"
)

// Session is one logical conversation between a user and an agent process.
//
// Session is an immutable value: every mutation goes through the merge
// functions in internal/session and returns a full replacement, so holders of
// a *Session always observe either the old complete snapshot or the new one,
// never a partially-updated mix.
type Session struct {
	// ID is the server-generated session id.
	ID string `json:"id"`
	// Seq is the server-assigned monotonic sequence number. It never
	// decreases; an incoming update whose seq would not exceed it is a
	// duplicate or a reordering and must be dropped.
	Seq int64 `json:"seq"`
	// Metadata is the decrypted session metadata document.
	Metadata *Metadata `json:"metadata,omitempty"`
	// MetadataVersion is the optimistic-concurrency version of Metadata.
	MetadataVersion int64 `json:"metadataVersion"`
	// AgentState is the decrypted agent state document.
	AgentState *AgentState `json:"agentState,omitempty"`
	// AgentStateVersion is the optimistic-concurrency version of AgentState.
	AgentStateVersion int64 `json:"agentStateVersion"`
	// Thinking reports whether the agent is mid-turn.
	Thinking bool `json:"thinking"`
	// ThinkingAt is when Thinking last changed, in ms since epoch.
	ThinkingAt int64 `json:"thinkingAt,omitempty"`
	// Presence is the agent-side connectivity of this session.
	Presence Presence `json:"presence,omitempty"`
	// ActiveAt is the last server-observed activity time in ms since epoch.
	ActiveAt int64 `json:"activeAt,omitempty"`
	// CreatedAt is the session creation time in ms since epoch.
	CreatedAt int64 `json:"createdAt"`
	// UpdatedAt is the server-stamped time of the last applied update in ms
	// since epoch. It is always taken from the update's createdAt, never from
	// the local clock, so ordering stays consistent across devices.
	UpdatedAt int64 `json:"updatedAt"`
}

// Online reports whether the session's agent process is connected.
func (s *Session) Online() bool {
	return s != nil && s.Presence == PresenceOnline
}

// Metadata is the session metadata document (decrypted).
//
// The document evolves its schema across app versions; versioned embedded
// structures carry an explicit `v` discriminator (see MessageQueueV1).
type Metadata struct {
	// Path is the working directory of the agent process.
	Path string `json:"path"`
	// Host is the hostname of the machine running the agent.
	Host string `json:"host,omitempty"`
	// MachineID identifies the machine running the agent daemon.
	MachineID string `json:"machineId,omitempty"`
	// Flavor identifies which agent backend this session runs
	// (e.g. "claude", "codex").
	Flavor string `json:"flavor,omitempty"`
	// HomeDir is the agent machine's home directory.
	HomeDir string `json:"homeDir,omitempty"`
	// TerminalID is the attached terminal, when the session runs inside one.
	TerminalID string `json:"terminalId,omitempty"`
	// PermissionMode selects the session's permission/approval mode.
	PermissionMode string `json:"permissionMode,omitempty"`
	// PermissionModeUpdatedAt is when PermissionMode last changed, in ms
	// since epoch.
	PermissionModeUpdatedAt int64 `json:"permissionModeUpdatedAt,omitempty"`
	// ClaudeSessionID is the vendor resume id for Claude-flavored sessions.
	ClaudeSessionID string `json:"claudeSessionId,omitempty"`
	// CodexSessionID is the vendor resume id for Codex-flavored sessions.
	CodexSessionID string `json:"codexSessionId,omitempty"`
	// GeminiSessionID is the vendor resume id for Gemini-flavored sessions.
	GeminiSessionID string `json:"geminiSessionId,omitempty"`
	// MessageQueueV1 is the embedded pending message queue, when present.
	MessageQueueV1 *MessageQueueV1 `json:"messageQueueV1,omitempty"`
	// MessageQueueV1Discarded is the bounded history of discarded queue
	// items, newest last.
	MessageQueueV1Discarded []MessageQueueV1DiscardedItem `json:"messageQueueV1Discarded,omitempty"`
}

// AgentState is the agent state document (decrypted).
type AgentState struct {
	// ControlledByUser reports whether the desktop currently controls the
	// session's agent loop.
	ControlledByUser bool `json:"controlledByUser"`
	// PermissionMode is the agent-reported permission/approval mode.
	PermissionMode string `json:"permissionMode,omitempty"`
	// Requests contains pending permission requests keyed by request id. A
	// non-empty map means the agent is waiting on a human decision.
	Requests map[string]AgentPendingRequest `json:"requests,omitempty"`
}

// AgentPendingRequest is a permission prompt awaiting a user decision. It is
// persisted in agent state so clients can recover it after reconnect.
type AgentPendingRequest struct {
	// ToolName is the tool being requested.
	ToolName string `json:"toolName"`
	// Input is the JSON-encoded tool input string.
	Input string `json:"input"`
	// CreatedAt is when the request was first observed, in ms since epoch.
	CreatedAt int64 `json:"createdAt"`
}
