// Package msgqueue implements the pending message queue embedded in session
// metadata.
//
// Every operation is a pure transform `(metadata, args) -> metadata`: the
// input is never mutated and the result is a full replacement value, so
// interleaved async completions cannot produce a torn write. Operations are
// total; a missing target is a no-op, not an error, because queue calls can
// race with a concurrent delivery that already removed the item.
package msgqueue

import "github.com/perchhq/perch/pkg/types"

// DefaultMaxDiscarded bounds the discard ring.
const DefaultMaxDiscarded = 50

// queueVersion is the only schema version these transforms understand.
// Queues with any other version tag are passed through untouched.
const queueVersion = 1

// DiscardAllArgs parameterizes DiscardAll.
type DiscardAllArgs struct {
	// DiscardedAt stamps every discarded item, in ms since epoch.
	DiscardedAt int64
	// Reason tags why the items were discarded.
	Reason types.DiscardedReason
	// MaxDiscarded caps the discard ring; 0 means DefaultMaxDiscarded.
	MaxDiscarded int
}

// DiscardOneArgs parameterizes DiscardOne.
type DiscardOneArgs struct {
	// LocalID selects the item, wherever it lives (queue or in-flight).
	LocalID string
	// DiscardedAt stamps the discarded item, in ms since epoch.
	DiscardedAt int64
	// Reason tags why the item was discarded.
	Reason types.DiscardedReason
	// MaxDiscarded caps the discard ring; 0 means DefaultMaxDiscarded.
	MaxDiscarded int
}

// Enqueue inserts an item, or replaces it when the LocalID is already queued.
// New items are appended at the end (insertion order is send order).
func Enqueue(meta *types.Metadata, item types.MessageQueueV1Item) *types.Metadata {
	if meta == nil {
		return nil
	}
	q, ok := editableQueue(meta)
	if !ok {
		return meta
	}
	replaced := false
	for i := range q.Queue {
		if q.Queue[i].LocalID == item.LocalID {
			q.Queue[i] = item
			replaced = true
			break
		}
	}
	if !replaced {
		q.Queue = append(q.Queue, item)
	}
	next := *meta
	next.MessageQueueV1 = q
	return &next
}

// Update replaces a queued item in place, preserving its position. No-op when
// the LocalID is not queued.
func Update(meta *types.Metadata, item types.MessageQueueV1Item) *types.Metadata {
	if meta == nil || meta.MessageQueueV1 == nil {
		return meta
	}
	q, ok := editableQueue(meta)
	if !ok {
		return meta
	}
	for i := range q.Queue {
		if q.Queue[i].LocalID == item.LocalID {
			q.Queue[i] = item
			next := *meta
			next.MessageQueueV1 = q
			return &next
		}
	}
	return meta
}

// Delete removes a queued item by LocalID. No-op when absent.
func Delete(meta *types.Metadata, localID string) *types.Metadata {
	if meta == nil || meta.MessageQueueV1 == nil {
		return meta
	}
	q, ok := editableQueue(meta)
	if !ok {
		return meta
	}
	for i := range q.Queue {
		if q.Queue[i].LocalID == localID {
			q.Queue = append(q.Queue[:i], q.Queue[i+1:]...)
			next := *meta
			next.MessageQueueV1 = q
			return &next
		}
	}
	return meta
}

// DiscardAll moves every queued item and the in-flight item (if any) into the
// discard ring and clears both. The discarded items are returned for
// caller-side notification. No-op with an empty discard list when there is
// nothing to discard.
func DiscardAll(meta *types.Metadata, args DiscardAllArgs) (*types.Metadata, []types.MessageQueueV1DiscardedItem) {
	if meta == nil || meta.MessageQueueV1 == nil {
		return meta, nil
	}
	q, ok := editableQueue(meta)
	if !ok {
		return meta, nil
	}
	if len(q.Queue) == 0 && q.InFlight == nil {
		return meta, nil
	}

	discarded := make([]types.MessageQueueV1DiscardedItem, 0, len(q.Queue)+1)
	for _, item := range q.Queue {
		discarded = append(discarded, types.MessageQueueV1DiscardedItem{
			MessageQueueV1Item: item,
			DiscardedAt:        args.DiscardedAt,
			DiscardedReason:    args.Reason,
		})
	}
	if q.InFlight != nil {
		discarded = append(discarded, types.MessageQueueV1DiscardedItem{
			MessageQueueV1Item: q.InFlight.MessageQueueV1Item,
			DiscardedAt:        args.DiscardedAt,
			DiscardedReason:    args.Reason,
		})
	}

	q.Queue = nil
	q.InFlight = nil
	next := *meta
	next.MessageQueueV1 = q
	next.MessageQueueV1Discarded = appendDiscarded(meta.MessageQueueV1Discarded, discarded, args.MaxDiscarded)
	return &next, discarded
}

// DiscardOne moves a single item into the discard ring, wherever it currently
// lives (queue or in-flight). No-op when the LocalID is not found anywhere.
func DiscardOne(meta *types.Metadata, args DiscardOneArgs) *types.Metadata {
	if meta == nil || meta.MessageQueueV1 == nil {
		return meta
	}
	q, ok := editableQueue(meta)
	if !ok {
		return meta
	}

	var item *types.MessageQueueV1Item
	for i := range q.Queue {
		if q.Queue[i].LocalID == args.LocalID {
			found := q.Queue[i]
			item = &found
			q.Queue = append(q.Queue[:i], q.Queue[i+1:]...)
			break
		}
	}
	if item == nil && q.InFlight != nil && q.InFlight.LocalID == args.LocalID {
		found := q.InFlight.MessageQueueV1Item
		item = &found
		q.InFlight = nil
	}
	if item == nil {
		return meta
	}

	entry := types.MessageQueueV1DiscardedItem{
		MessageQueueV1Item: *item,
		DiscardedAt:        args.DiscardedAt,
		DiscardedReason:    args.Reason,
	}
	next := *meta
	next.MessageQueueV1 = q
	next.MessageQueueV1Discarded = appendDiscarded(meta.MessageQueueV1Discarded, []types.MessageQueueV1DiscardedItem{entry}, args.MaxDiscarded)
	return &next
}

// Restore moves one item from the discard ring back into the queue,
// re-stamping UpdatedAt while preserving the original CreatedAt. No-op when
// the LocalID is not in the discard ring.
func Restore(meta *types.Metadata, localID string, now int64) *types.Metadata {
	if meta == nil {
		return nil
	}
	idx := -1
	for i := range meta.MessageQueueV1Discarded {
		if meta.MessageQueueV1Discarded[i].LocalID == localID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return meta
	}
	q, ok := editableQueue(meta)
	if !ok {
		return meta
	}

	item := meta.MessageQueueV1Discarded[idx].MessageQueueV1Item
	item.UpdatedAt = now
	q.Queue = append(q.Queue, item)

	ring := make([]types.MessageQueueV1DiscardedItem, 0, len(meta.MessageQueueV1Discarded)-1)
	ring = append(ring, meta.MessageQueueV1Discarded[:idx]...)
	ring = append(ring, meta.MessageQueueV1Discarded[idx+1:]...)

	next := *meta
	next.MessageQueueV1 = q
	next.MessageQueueV1Discarded = ring
	return &next
}

// DeleteDiscarded permanently removes one entry from the discard ring. No-op
// when absent.
func DeleteDiscarded(meta *types.Metadata, localID string) *types.Metadata {
	if meta == nil {
		return nil
	}
	idx := -1
	for i := range meta.MessageQueueV1Discarded {
		if meta.MessageQueueV1Discarded[i].LocalID == localID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return meta
	}
	ring := make([]types.MessageQueueV1DiscardedItem, 0, len(meta.MessageQueueV1Discarded)-1)
	ring = append(ring, meta.MessageQueueV1Discarded[:idx]...)
	ring = append(ring, meta.MessageQueueV1Discarded[idx+1:]...)
	next := *meta
	next.MessageQueueV1Discarded = ring
	return &next
}

// Claim moves the queued item with the given LocalID into the in-flight slot
// so delivery can begin. No-op when the item is not queued or another item is
// already in flight.
func Claim(meta *types.Metadata, localID string, claimedAt int64) *types.Metadata {
	if meta == nil || meta.MessageQueueV1 == nil {
		return meta
	}
	q, ok := editableQueue(meta)
	if !ok || q.InFlight != nil {
		return meta
	}
	for i := range q.Queue {
		if q.Queue[i].LocalID == localID {
			q.InFlight = &types.MessageQueueV1InFlight{
				MessageQueueV1Item: q.Queue[i],
				ClaimedAt:          claimedAt,
			}
			q.Queue = append(q.Queue[:i], q.Queue[i+1:]...)
			next := *meta
			next.MessageQueueV1 = q
			return &next
		}
	}
	return meta
}

// ReleaseInFlight returns an aborted in-flight item to the head of the queue.
// An aborted send must never drop the item. No-op when nothing is in flight.
func ReleaseInFlight(meta *types.Metadata) *types.Metadata {
	if meta == nil || meta.MessageQueueV1 == nil || meta.MessageQueueV1.InFlight == nil {
		return meta
	}
	q, ok := editableQueue(meta)
	if !ok {
		return meta
	}
	item := q.InFlight.MessageQueueV1Item
	q.InFlight = nil
	q.Queue = append([]types.MessageQueueV1Item{item}, q.Queue...)
	next := *meta
	next.MessageQueueV1 = q
	return &next
}

// CompleteInFlight removes a delivered in-flight item. No-op when the LocalID
// does not match the current in-flight item.
func CompleteInFlight(meta *types.Metadata, localID string) *types.Metadata {
	if meta == nil || meta.MessageQueueV1 == nil || meta.MessageQueueV1.InFlight == nil {
		return meta
	}
	if meta.MessageQueueV1.InFlight.LocalID != localID {
		return meta
	}
	q, ok := editableQueue(meta)
	if !ok {
		return meta
	}
	q.InFlight = nil
	next := *meta
	next.MessageQueueV1 = q
	return &next
}

// PendingActivityAt scans the queue, the in-flight item and the discard ring
// for the maximum timestamp: a single monotonic "last local activity"
// watermark. Returns 0 when there is no activity.
func PendingActivityAt(meta *types.Metadata) int64 {
	if meta == nil {
		return 0
	}
	var max int64
	bump := func(ts int64) {
		if ts > max {
			max = ts
		}
	}
	if q := meta.MessageQueueV1; q != nil {
		for _, item := range q.Queue {
			bump(item.CreatedAt)
			bump(item.UpdatedAt)
		}
		if q.InFlight != nil {
			bump(q.InFlight.CreatedAt)
			bump(q.InFlight.UpdatedAt)
			bump(q.InFlight.ClaimedAt)
		}
	}
	for _, item := range meta.MessageQueueV1Discarded {
		bump(item.CreatedAt)
		bump(item.UpdatedAt)
		bump(item.DiscardedAt)
	}
	return max
}

// editableQueue returns a private copy of the metadata's queue, creating an
// empty one when absent. ok is false for unknown schema versions.
func editableQueue(meta *types.Metadata) (*types.MessageQueueV1, bool) {
	if meta.MessageQueueV1 == nil {
		return &types.MessageQueueV1{V: queueVersion}, true
	}
	if meta.MessageQueueV1.V != queueVersion {
		return nil, false
	}
	q := *meta.MessageQueueV1
	q.Queue = append([]types.MessageQueueV1Item(nil), q.Queue...)
	if q.InFlight != nil {
		inFlight := *q.InFlight
		q.InFlight = &inFlight
	}
	return &q, true
}

// appendDiscarded appends entries to the discard ring and evicts the oldest
// entries once the ring exceeds the cap (slice-from-end semantics).
func appendDiscarded(ring []types.MessageQueueV1DiscardedItem, entries []types.MessageQueueV1DiscardedItem, maxDiscarded int) []types.MessageQueueV1DiscardedItem {
	if maxDiscarded <= 0 {
		maxDiscarded = DefaultMaxDiscarded
	}
	next := make([]types.MessageQueueV1DiscardedItem, 0, len(ring)+len(entries))
	next = append(next, ring...)
	next = append(next, entries...)
	if len(next) > maxDiscarded {
		next = next[len(next)-maxDiscarded:]
	}
	return next
}
