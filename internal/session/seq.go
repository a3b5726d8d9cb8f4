// Package session implements the merge path for synced session state.
//
// All session mutation flows through BuildUpdatedSessionFromUpdate: each
// merge reads a complete session snapshot and returns a full replacement, so
// interleaved socket deliveries can never produce a torn write. Out-of-order
// and duplicate deliveries are rejected by sequence-number regression checks.
package session

import "github.com/perchhq/perch/internal/protocol/wire"

// NextSessionSeq computes the next session sequence number implied by an
// incoming update.
//
// Session metadata/agentState updates carry their own monotonic container
// seq, independent of message seq, so for "update-session" the next session
// seq is simply the update's container seq. Message updates advance to
// whichever of the container seq and the message's session-scoped seq is
// larger.
//
// The result must strictly exceed current; a regression means a reordered or
// duplicate delivery and the caller must drop the update as already applied.
func NextSessionSeq(current int64, updateType string, containerSeq int64, messageSeq int64) int64 {
	switch updateType {
	case wire.UpdateTypeNewMessage:
		if messageSeq > containerSeq {
			return messageSeq
		}
		return containerSeq
	default:
		return containerSeq
	}
}
