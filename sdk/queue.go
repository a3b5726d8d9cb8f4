package sdk

import (
	"errors"
	"fmt"

	"github.com/perchhq/perch/internal/crypto"
	"github.com/perchhq/perch/internal/msgqueue"
	"github.com/perchhq/perch/internal/websocket"
	"github.com/perchhq/perch/pkg/logger"
	"github.com/perchhq/perch/pkg/types"
)

// maxMetadataRetries bounds the optimistic write loop. Each retry re-applies
// the transform onto the server's authoritative document, so contention with
// another device converges instead of clobbering.
const maxMetadataRetries = 5

// EnqueueMessage appends a message to a session's pending queue and returns
// the local id identifying it across later edits, deletes and delivery.
func (c *Client) EnqueueMessage(sessionID string, message string) (string, error) {
	localID := types.NewLocalID()
	now := c.clock.NowMs()
	err := c.mutateMetadata(sessionID, func(meta *types.Metadata) *types.Metadata {
		return msgqueue.Enqueue(meta, types.MessageQueueV1Item{
			LocalID:   localID,
			Message:   message,
			CreatedAt: now,
			UpdatedAt: now,
		})
	})
	if err != nil {
		return "", err
	}
	return localID, nil
}

// UpdateQueuedMessage edits a queued message in place. Editing an item that
// was already delivered or discarded is a no-op.
func (c *Client) UpdateQueuedMessage(sessionID string, localID string, message string) error {
	return c.mutateMetadata(sessionID, func(meta *types.Metadata) *types.Metadata {
		item, ok := findQueued(meta, localID)
		if !ok {
			return meta
		}
		item.Message = message
		item.UpdatedAt = c.clock.NowMs()
		return msgqueue.Update(meta, item)
	})
}

// DeleteQueuedMessage removes a queued message without a trace. Deleting an
// absent item is a no-op.
func (c *Client) DeleteQueuedMessage(sessionID string, localID string) error {
	return c.mutateMetadata(sessionID, func(meta *types.Metadata) *types.Metadata {
		return msgqueue.Delete(meta, localID)
	})
}

// DiscardAllQueued moves every pending message into the recoverable discard
// ring. Used when the user takes the session over locally.
func (c *Client) DiscardAllQueued(sessionID string, reason types.DiscardedReason) error {
	return c.mutateMetadata(sessionID, func(meta *types.Metadata) *types.Metadata {
		next, _ := msgqueue.DiscardAll(meta, msgqueue.DiscardAllArgs{
			DiscardedAt: c.clock.NowMs(),
			Reason:      reason,
		})
		return next
	})
}

// DiscardQueuedMessage moves one pending message into the discard ring.
func (c *Client) DiscardQueuedMessage(sessionID string, localID string, reason types.DiscardedReason) error {
	return c.mutateMetadata(sessionID, func(meta *types.Metadata) *types.Metadata {
		return msgqueue.DiscardOne(meta, msgqueue.DiscardOneArgs{
			LocalID:     localID,
			DiscardedAt: c.clock.NowMs(),
			Reason:      reason,
		})
	})
}

// RestoreDiscardedMessage moves an item from the discard ring back into the
// queue.
func (c *Client) RestoreDiscardedMessage(sessionID string, localID string) error {
	return c.mutateMetadata(sessionID, func(meta *types.Metadata) *types.Metadata {
		return msgqueue.Restore(meta, localID, c.clock.NowMs())
	})
}

// DeleteDiscardedMessage permanently removes an item from the discard ring.
func (c *Client) DeleteDiscardedMessage(sessionID string, localID string) error {
	return c.mutateMetadata(sessionID, func(meta *types.Metadata) *types.Metadata {
		return msgqueue.DeleteDiscarded(meta, localID)
	})
}

// FlushPendingQueue delivers queued messages head-first until the queue is
// empty or a send fails. Each item is claimed before delivery and either
// completed or released back to the head, so an aborted flush never loses a
// message.
func (c *Client) FlushPendingQueue(sessionID string) error {
	manager := c.sessionManager(sessionID)
	manager.BeginProcessing()
	defer manager.EndProcessing()

	for {
		c.mu.Lock()
		sess := c.sessions[sessionID]
		tr := c.transport
		c.mu.Unlock()
		if sess == nil {
			return fmt.Errorf("unknown session %s", sessionID)
		}
		if tr == nil {
			return fmt.Errorf("not connected")
		}

		meta := sess.Metadata
		if meta == nil || meta.MessageQueueV1 == nil {
			return nil
		}
		if meta.MessageQueueV1.InFlight != nil {
			// A previous flush was interrupted before its completing write
			// landed. Return the item to the head and redeliver it through
			// the normal claim path; the stable localId keys server-side
			// dedupe, so a redelivery cannot duplicate the message.
			if err := c.mutateMetadata(sessionID, msgqueue.ReleaseInFlight); err != nil {
				return err
			}
			continue
		}
		if len(meta.MessageQueueV1.Queue) == 0 {
			return nil
		}
		item := meta.MessageQueueV1.Queue[0]

		if err := c.mutateMetadata(sessionID, func(m *types.Metadata) *types.Metadata {
			return msgqueue.Claim(m, item.LocalID, c.clock.NowMs())
		}); err != nil {
			return err
		}
		if !c.hasInFlight(sessionID, item.LocalID) {
			// The claim raced with a concurrent flush or delivery and did
			// not take effect. Sending anyway would deliver an unclaimed
			// item, so stop here.
			return fmt.Errorf("session %s: could not claim %s for delivery", sessionID, item.LocalID)
		}

		if err := c.deliverClaimed(sessionID, item, tr); err != nil {
			if relErr := c.mutateMetadata(sessionID, msgqueue.ReleaseInFlight); relErr != nil {
				logger.Errorf("session %s: release after failed send: %v", sessionID, relErr)
			}
			return err
		}

		if err := c.mutateMetadata(sessionID, func(m *types.Metadata) *types.Metadata {
			return msgqueue.CompleteInFlight(m, item.LocalID)
		}); err != nil {
			return err
		}
	}
}

// hasInFlight reports whether the session's in-flight slot currently holds
// the given item.
func (c *Client) hasInFlight(sessionID string, localID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess := c.sessions[sessionID]
	if sess == nil || sess.Metadata == nil || sess.Metadata.MessageQueueV1 == nil {
		return false
	}
	inFlight := sess.Metadata.MessageQueueV1.InFlight
	return inFlight != nil && inFlight.LocalID == localID
}

// deliverClaimed encrypts and sends one claimed queue item.
func (c *Client) deliverClaimed(sessionID string, item types.MessageQueueV1Item, tr transport) error {
	enc, err := c.sessionEncryption(sessionID)
	if err != nil {
		return err
	}
	cipher, err := enc.EncryptDocument(messageContent{T: "text", Text: item.Message})
	if err != nil {
		return fmt.Errorf("encrypt message %s: %w", item.LocalID, err)
	}
	return tr.SendMessage(sessionID, item.LocalID, cipher)
}

// messageContent is the plaintext message document sealed into the content
// envelope.
type messageContent struct {
	T    string `json:"t"`
	Text string `json:"text"`
}

// confirmDelivered clears the in-flight slot when the server echoes our own
// message back. Covers flushes whose completing write was lost to a
// disconnect.
func (c *Client) confirmDelivered(sessionID string, localID string) {
	// Already on the dispatch goroutine (update pipeline), so the mutation
	// must not re-enter the dispatcher.
	err := c.runMetadataMutation(sessionID, func(meta *types.Metadata) *types.Metadata {
		next := msgqueue.CompleteInFlight(meta, localID)
		if next != meta {
			return next
		}
		// Another device may have delivered a still-queued item.
		return msgqueue.Delete(meta, localID)
	})
	if err != nil {
		logger.Warnf("session %s: confirm delivery of %s: %v", sessionID, localID, err)
	}
}

// PendingQueue returns the current pending queue snapshot for a session, or
// nil when it has none.
func (c *Client) PendingQueue(sessionID string) *types.MessageQueueV1 {
	sess := c.Session(sessionID)
	if sess == nil || sess.Metadata == nil {
		return nil
	}
	return sess.Metadata.MessageQueueV1
}

// DiscardedMessages returns the discard ring snapshot for a session.
func (c *Client) DiscardedMessages(sessionID string) []types.MessageQueueV1DiscardedItem {
	sess := c.Session(sessionID)
	if sess == nil || sess.Metadata == nil {
		return nil
	}
	return sess.Metadata.MessageQueueV1Discarded
}

// mutateMetadata applies a pure queue transform to a session's metadata and
// writes it back with optimistic concurrency.
//
// On version mismatch the server returns its current document; the transform
// is re-applied onto that document and the write retried. A transform that
// returns its input unchanged is a no-op and produces no write.
func (c *Client) mutateMetadata(sessionID string, transform func(*types.Metadata) *types.Metadata) error {
	_, err := c.dispatch.call(func() (interface{}, error) {
		return nil, c.runMetadataMutation(sessionID, transform)
	})
	return err
}

// runMetadataMutation is mutateMetadata without the SDK dispatch queue. Only
// call from the dispatch goroutine.
func (c *Client) runMetadataMutation(sessionID string, transform func(*types.Metadata) *types.Metadata) error {
	c.mu.Lock()
	sess := c.sessions[sessionID]
	tr := c.transport
	c.mu.Unlock()
	if sess == nil {
		return fmt.Errorf("unknown session %s", sessionID)
	}
	if tr == nil {
		return fmt.Errorf("not connected")
	}
	enc, err := c.sessionEncryption(sessionID)
	if err != nil {
		return err
	}

	meta := sess.Metadata
	if meta == nil {
		meta = &types.Metadata{}
	}
	version := sess.MetadataVersion

	for attempt := 0; attempt < maxMetadataRetries; attempt++ {
		next := transform(meta)
		if next == meta {
			return nil
		}
		cipher, err := enc.EncryptDocument(next)
		if err != nil {
			return fmt.Errorf("encrypt metadata for session %s: %w", sessionID, err)
		}

		newVersion, authoritative, err := tr.UpdateMetadata(sessionID, cipher, version)
		if err == nil {
			c.installMetadata(sessionID, next, newVersion)
			return nil
		}
		if !errors.Is(err, websocket.ErrVersionMismatch) {
			return fmt.Errorf("update metadata for session %s: %w", sessionID, err)
		}

		// Re-merge: decrypt the server's winner and re-apply the transform
		// onto it.
		meta, err = decryptMetadata(enc, newVersion, authoritative)
		if err != nil {
			return fmt.Errorf("session %s: decode authoritative metadata: %w", sessionID, err)
		}
		version = newVersion
		logger.Debugf("session %s: metadata version raced, retrying at v%d", sessionID, newVersion)
	}
	return fmt.Errorf("session %s: metadata contention, gave up after %d attempts", sessionID, maxMetadataRetries)
}

// installMetadata swaps a freshly acknowledged metadata document into the
// session snapshot.
func (c *Client) installMetadata(sessionID string, meta *types.Metadata, version int64) {
	c.mu.Lock()
	sess := c.sessions[sessionID]
	if sess == nil {
		c.mu.Unlock()
		return
	}
	next := *sess
	next.Metadata = meta
	next.MetadataVersion = version
	c.mu.Unlock()
	c.storeSession(&next)
}

func decryptMetadata(enc *crypto.SessionEncryption, version int64, ciphertext string) (*types.Metadata, error) {
	if ciphertext == "" {
		return &types.Metadata{}, nil
	}
	return enc.DecryptMetadata(version, ciphertext)
}

// findQueued copies a queued item by local id.
func findQueued(meta *types.Metadata, localID string) (types.MessageQueueV1Item, bool) {
	if meta == nil || meta.MessageQueueV1 == nil {
		return types.MessageQueueV1Item{}, false
	}
	for _, item := range meta.MessageQueueV1.Queue {
		if item.LocalID == localID {
			return item, true
		}
	}
	return types.MessageQueueV1Item{}, false
}
