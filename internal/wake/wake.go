// Package wake decides whether and how to resume a dormant agent process so
// it can drain its pending message queue.
//
// The resolver is pure: it only produces resume options (or nil for "don't
// wake"). Dispatching the actual resume RPC to the agent's machine is the
// caller's job.
package wake

import "github.com/perchhq/perch/pkg/types"

// Canonical agent identifiers emitted in resume options.
const (
	AgentClaude = "claude"
	AgentCodex  = "codex"
	AgentGemini = "gemini"
)

// flavorAliases normalizes recorded flavor strings to canonical agent ids.
// Two sessions recorded under different names for the same backend must
// produce identical wake behavior.
var flavorAliases = map[string]string{
	"claude":      AgentClaude,
	"claude-code": AgentClaude,
	"codex":       AgentCodex,
	"codex-cli":   AgentCodex,
	"gemini":      AgentGemini,
	"gemini-cli":  AgentGemini,
}

// CanonicalAgent maps a metadata flavor to its canonical agent id. ok is
// false for unknown flavors.
func CanonicalAgent(flavor string) (string, bool) {
	agent, ok := flavorAliases[flavor]
	return agent, ok
}

// Capabilities is the runtime configuration gating resume per agent.
//
// Which agents are gated is an evolving whitelist, so it lives in
// configuration rather than code: an agent listed in Gated may only be woken
// when one of the two allow maps flags it.
type Capabilities struct {
	// Gated lists agents whose resume support requires an explicit flag.
	Gated map[string]bool
	// AllowExperimentalResume flags agents allowed to resume via the
	// experimental path.
	AllowExperimentalResume map[string]bool
	// AllowRuntimeResume flags agents allowed to resume via the runtime
	// path.
	AllowRuntimeResume map[string]bool
}

// DefaultCapabilities gates Codex resume behind the experimental flag and
// leaves other agents ungated.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		Gated: map[string]bool{AgentCodex: true},
	}
}

func (c Capabilities) allows(agent string) bool {
	if !c.Gated[agent] {
		return true
	}
	return c.AllowExperimentalResume[agent] || c.AllowRuntimeResume[agent]
}

// ResumeOptions is the wake command payload for the agent control plane.
type ResumeOptions struct {
	// SessionID is the session to wake.
	SessionID string `json:"sessionId"`
	// MachineID is the machine running the agent daemon.
	MachineID string `json:"machineId"`
	// Directory is the agent's working directory.
	Directory string `json:"directory"`
	// Agent is the canonical agent id.
	Agent string `json:"agent"`
	// Resume is the vendor session id to reattach to.
	Resume string `json:"resume"`
	// PermissionMode is passed through when the session has one.
	PermissionMode string `json:"permissionMode,omitempty"`
	// PermissionModeUpdatedAt is passed through alongside PermissionMode.
	PermissionModeUpdatedAt int64 `json:"permissionModeUpdatedAt,omitempty"`
}

// Args are the inputs to ResolvePendingQueueWake.
type Args struct {
	// SessionID is the session holding the pending queue.
	SessionID string
	// Session is the current session snapshot.
	Session *types.Session
	// Capabilities gates resume per agent.
	Capabilities Capabilities
	// PermissionModeOverride, when set, replaces the metadata permission
	// mode in the emitted options.
	PermissionModeOverride string
}

// ResolvePendingQueueWake decides whether a session's agent should be woken
// to drain its pending queue, and with which resume options.
//
// Returns nil for every "don't wake" outcome: agent mid-turn, agent waiting
// on a human decision, unresolvable target, or a capability gate. Liveness
// signals only gate online sessions; for any other presence they may be
// stale leftovers from before the agent went away and are ignored.
func ResolvePendingQueueWake(args Args) *ResumeOptions {
	sess := args.Session
	if sess == nil {
		return nil
	}

	if sess.Online() {
		if sess.Thinking {
			return nil
		}
		if sess.AgentState != nil && len(sess.AgentState.Requests) > 0 {
			return nil
		}
	}

	meta := sess.Metadata
	if meta == nil || meta.MachineID == "" || meta.Path == "" {
		return nil
	}
	agent, ok := CanonicalAgent(meta.Flavor)
	if !ok {
		return nil
	}

	resume := resumeID(agent, meta)
	if resume == "" {
		return nil
	}
	if !args.Capabilities.allows(agent) {
		return nil
	}

	opts := &ResumeOptions{
		SessionID: args.SessionID,
		MachineID: meta.MachineID,
		Directory: meta.Path,
		Agent:     agent,
		Resume:    resume,
	}
	if args.PermissionModeOverride != "" {
		opts.PermissionMode = args.PermissionModeOverride
	} else if meta.PermissionMode != "" {
		opts.PermissionMode = meta.PermissionMode
		opts.PermissionModeUpdatedAt = meta.PermissionModeUpdatedAt
	}
	return opts
}

// resumeID selects the stored vendor session id for an agent.
func resumeID(agent string, meta *types.Metadata) string {
	switch agent {
	case AgentClaude:
		return meta.ClaudeSessionID
	case AgentCodex:
		return meta.CodexSessionID
	case AgentGemini:
		return meta.GeminiSessionID
	default:
		return ""
	}
}
