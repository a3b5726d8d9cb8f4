package msgqueue

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/perchhq/perch/pkg/types"
)

func item(localID string, createdAt int64) types.MessageQueueV1Item {
	return types.MessageQueueV1Item{
		LocalID:   localID,
		Message:   "msg-" + localID,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestEnqueueAppendsAndReplaces(t *testing.T) {
	meta := &types.Metadata{Path: "/work"}

	meta2 := Enqueue(meta, item("a", 100))
	require.Nil(t, meta.MessageQueueV1, "input metadata must not be mutated")
	require.Len(t, meta2.MessageQueueV1.Queue, 1)
	require.Equal(t, 1, meta2.MessageQueueV1.V)

	meta3 := Enqueue(meta2, item("b", 110))
	require.Equal(t, []string{"a", "b"}, localIDs(meta3))

	// Re-enqueue with the same local id replaces in place.
	edited := item("a", 100)
	edited.Message = "edited"
	edited.UpdatedAt = 120
	meta4 := Enqueue(meta3, edited)
	require.Equal(t, []string{"a", "b"}, localIDs(meta4))
	require.Equal(t, "edited", meta4.MessageQueueV1.Queue[0].Message)
	require.Equal(t, int64(100), meta4.MessageQueueV1.Queue[0].CreatedAt)
}

func TestUpdatePreservesPositionAndIgnoresAbsent(t *testing.T) {
	meta := Enqueue(Enqueue(&types.Metadata{}, item("a", 100)), item("b", 110))

	edited := item("a", 100)
	edited.Message = "hello again"
	next := Update(meta, edited)
	require.Equal(t, []string{"a", "b"}, localIDs(next))
	require.Equal(t, "hello again", next.MessageQueueV1.Queue[0].Message)

	// Absent target is a total no-op, same metadata back.
	same := Update(meta, item("zzz", 50))
	require.Same(t, meta, same)
}

func TestDeleteIsIdempotent(t *testing.T) {
	meta := Enqueue(Enqueue(&types.Metadata{}, item("a", 100)), item("b", 110))

	once := Delete(meta, "a")
	twice := Delete(once, "a")
	require.Equal(t, []string{"b"}, localIDs(once))
	require.Same(t, once, twice)
}

func TestDiscardAllMovesQueueAndInFlight(t *testing.T) {
	meta := Enqueue(&types.Metadata{}, item("m1", 100))
	meta = Claim(Enqueue(meta, item("m2", 110)), "m1", 150)

	next, discarded := DiscardAll(meta, DiscardAllArgs{DiscardedAt: 200, Reason: types.DiscardReasonManual})
	require.Len(t, discarded, 2)
	require.Empty(t, next.MessageQueueV1.Queue)
	require.Nil(t, next.MessageQueueV1.InFlight)
	require.Len(t, next.MessageQueueV1Discarded, 2)
	for _, d := range next.MessageQueueV1Discarded {
		require.Equal(t, int64(200), d.DiscardedAt)
		require.Equal(t, types.DiscardReasonManual, d.DiscardedReason)
	}

	// Empty queue: unchanged metadata, empty discard list.
	again, none := DiscardAll(next, DiscardAllArgs{DiscardedAt: 300, Reason: types.DiscardReasonManual})
	require.Same(t, next, again)
	require.Empty(t, none)
}

func TestDiscardOneTargetsQueueOrInFlight(t *testing.T) {
	meta := Enqueue(Enqueue(&types.Metadata{}, item("a", 100)), item("b", 110))
	meta = Claim(meta, "a", 120)

	fromFlight := DiscardOne(meta, DiscardOneArgs{LocalID: "a", DiscardedAt: 130, Reason: types.DiscardReasonSwitchToLocal})
	require.Nil(t, fromFlight.MessageQueueV1.InFlight)
	require.Equal(t, []string{"b"}, localIDs(fromFlight))
	require.Len(t, fromFlight.MessageQueueV1Discarded, 1)

	fromQueue := DiscardOne(fromFlight, DiscardOneArgs{LocalID: "b", DiscardedAt: 140, Reason: types.DiscardReasonManual})
	require.Empty(t, fromQueue.MessageQueueV1.Queue)
	require.Len(t, fromQueue.MessageQueueV1Discarded, 2)

	missing := DiscardOne(fromQueue, DiscardOneArgs{LocalID: "nope", DiscardedAt: 150, Reason: types.DiscardReasonManual})
	require.Same(t, fromQueue, missing)
}

func TestDiscardRestoreRoundTrip(t *testing.T) {
	meta := Enqueue(&types.Metadata{}, item("a", 100))
	meta = DiscardOne(meta, DiscardOneArgs{LocalID: "a", DiscardedAt: 200, Reason: types.DiscardReasonManual})
	require.Empty(t, meta.MessageQueueV1.Queue)

	restored := Restore(meta, "a", 300)
	require.Equal(t, []string{"a"}, localIDs(restored))
	require.Empty(t, restored.MessageQueueV1Discarded)
	require.Equal(t, int64(100), restored.MessageQueueV1.Queue[0].CreatedAt, "CreatedAt survives the round trip")
	require.Equal(t, int64(300), restored.MessageQueueV1.Queue[0].UpdatedAt, "UpdatedAt is re-stamped on restore")

	require.Same(t, restored, Restore(restored, "a", 400))
}

func TestDeleteDiscarded(t *testing.T) {
	meta := Enqueue(&types.Metadata{}, item("a", 100))
	meta = DiscardOne(meta, DiscardOneArgs{LocalID: "a", DiscardedAt: 200, Reason: types.DiscardReasonManual})

	next := DeleteDiscarded(meta, "a")
	require.Empty(t, next.MessageQueueV1Discarded)
	require.Same(t, next, DeleteDiscarded(next, "a"))
}

func TestDiscardRingBoundEvictsOldestFirst(t *testing.T) {
	meta := &types.Metadata{}
	const maxDiscarded = 5
	for i := 0; i < 2*maxDiscarded; i++ {
		id := fmt.Sprintf("m%02d", i)
		meta = Enqueue(meta, item(id, int64(100+i)))
		meta = DiscardOne(meta, DiscardOneArgs{
			LocalID:      id,
			DiscardedAt:  int64(1000 + i),
			Reason:       types.DiscardReasonManual,
			MaxDiscarded: maxDiscarded,
		})
		require.LessOrEqual(t, len(meta.MessageQueueV1Discarded), maxDiscarded)
	}
	require.Len(t, meta.MessageQueueV1Discarded, maxDiscarded)
	// Newest survive, oldest evicted.
	require.Equal(t, "m05", meta.MessageQueueV1Discarded[0].LocalID)
	require.Equal(t, "m09", meta.MessageQueueV1Discarded[maxDiscarded-1].LocalID)
}

func TestClaimAndRelease(t *testing.T) {
	meta := Enqueue(Enqueue(&types.Metadata{}, item("a", 100)), item("b", 110))

	claimed := Claim(meta, "a", 150)
	require.NotNil(t, claimed.MessageQueueV1.InFlight)
	require.Equal(t, "a", claimed.MessageQueueV1.InFlight.LocalID)
	require.Equal(t, int64(150), claimed.MessageQueueV1.InFlight.ClaimedAt)
	require.Equal(t, []string{"b"}, localIDs(claimed))

	// A second claim while one is in flight is refused.
	require.Same(t, claimed, Claim(claimed, "b", 160))

	// Aborted sends return the item to the head of the queue, never drop it.
	released := ReleaseInFlight(claimed)
	require.Nil(t, released.MessageQueueV1.InFlight)
	require.Equal(t, []string{"a", "b"}, localIDs(released))
}

func TestCompleteInFlight(t *testing.T) {
	meta := Claim(Enqueue(&types.Metadata{}, item("a", 100)), "a", 150)

	// A mismatched local id means the in-flight item was already swapped.
	require.Same(t, meta, CompleteInFlight(meta, "other"))

	done := CompleteInFlight(meta, "a")
	require.Nil(t, done.MessageQueueV1.InFlight)
	require.Empty(t, done.MessageQueueV1.Queue)
}

func TestUnknownQueueVersionIsUntouched(t *testing.T) {
	meta := &types.Metadata{
		MessageQueueV1: &types.MessageQueueV1{V: 2, Queue: []types.MessageQueueV1Item{item("a", 100)}},
	}
	require.Same(t, meta, Enqueue(meta, item("b", 110)))
	require.Same(t, meta, Delete(meta, "a"))
	next, discarded := DiscardAll(meta, DiscardAllArgs{DiscardedAt: 200, Reason: types.DiscardReasonManual})
	require.Same(t, meta, next)
	require.Empty(t, discarded)
}

func TestPendingActivityAt(t *testing.T) {
	require.Zero(t, PendingActivityAt(nil))
	require.Zero(t, PendingActivityAt(&types.Metadata{}))

	meta := &types.Metadata{
		MessageQueueV1: &types.MessageQueueV1{
			V:     1,
			Queue: []types.MessageQueueV1Item{{LocalID: "a", UpdatedAt: 50}},
			InFlight: &types.MessageQueueV1InFlight{
				MessageQueueV1Item: types.MessageQueueV1Item{LocalID: "b"},
				ClaimedAt:          80,
			},
		},
		MessageQueueV1Discarded: []types.MessageQueueV1DiscardedItem{
			{MessageQueueV1Item: types.MessageQueueV1Item{LocalID: "c"}, DiscardedAt: 30},
		},
	}
	require.Equal(t, int64(80), PendingActivityAt(meta))
}

func localIDs(meta *types.Metadata) []string {
	if meta == nil || meta.MessageQueueV1 == nil {
		return nil
	}
	ids := make([]string, 0, len(meta.MessageQueueV1.Queue))
	for _, it := range meta.MessageQueueV1.Queue {
		ids = append(ids, it.LocalID)
	}
	return ids
}
