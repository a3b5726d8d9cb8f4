package wire

// VersionedAck is an ACK response with an updated version and optional value.
//
// Different events populate different value fields.
type VersionedAck struct {
	// Result is one of "success", "error", or "version-mismatch".
	Result string `json:"result"`
	// Version is the current or updated version.
	Version int64 `json:"version,omitempty"`
	// Message is an optional error annotation.
	Message string `json:"message,omitempty"`

	// Metadata is returned by session metadata updates.
	Metadata string `json:"metadata,omitempty"`
	// AgentState is returned by session agentState updates.
	AgentState string `json:"agentState,omitempty"`
}

// RPCAck is the ACK response shape for "rpc-call".
type RPCAck struct {
	// OK indicates whether the call succeeded.
	OK bool `json:"ok"`
	// Error contains an error string when OK is false.
	Error string `json:"error,omitempty"`
	// Result contains the RPC response payload when OK is true.
	Result any `json:"result,omitempty"`
}

// RPCCallPayload is the request shape for "rpc-call".
type RPCCallPayload struct {
	// Method is the scoped method name (e.g. "machine:<id>:spawn-session").
	Method string `json:"method"`
	// Params is the encrypted, base64-encoded call payload.
	Params string `json:"params"`
}
