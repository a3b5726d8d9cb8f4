package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/perchhq/perch/pkg/types"
)

func TestHasUnreadActivityNeverViewed(t *testing.T) {
	require.False(t, HasUnreadActivity(UnreadArgs{}))
	require.True(t, HasUnreadActivity(UnreadArgs{SessionSeq: 1}))
	require.True(t, HasUnreadActivity(UnreadArgs{PendingActivityAt: 50}))
}

func TestHasUnreadActivityHighWaterMarks(t *testing.T) {
	viewed := &types.ViewedSessionMarker{Seq: 5, PendingActivityAt: 0}

	require.False(t, HasUnreadActivity(UnreadArgs{SessionSeq: 5, PendingActivityAt: 0, LastViewed: viewed}))
	require.True(t, HasUnreadActivity(UnreadArgs{SessionSeq: 6, PendingActivityAt: 0, LastViewed: viewed}),
		"server seq past the mark")
	require.True(t, HasUnreadActivity(UnreadArgs{SessionSeq: 5, PendingActivityAt: 10, LastViewed: viewed}),
		"purely-local queue activity counts even though server seq never moved")
	require.False(t, HasUnreadActivity(UnreadArgs{SessionSeq: 4, PendingActivityAt: 0, LastViewed: viewed}))
}

func TestMergeFeedItemOrdersAndDedupes(t *testing.T) {
	feed := []types.FeedItem{
		{ID: "f1", Counter: 1},
		{ID: "f3", Counter: 3},
	}

	merged := MergeFeedItem(feed, types.FeedItem{ID: "f2", Counter: 2})
	require.Equal(t, []string{"f1", "f2", "f3"}, feedIDs(merged))
	require.Len(t, feed, 2, "input slice untouched")

	appended := MergeFeedItem(merged, types.FeedItem{ID: "f5", Counter: 5})
	require.Equal(t, []string{"f1", "f2", "f3", "f5"}, feedIDs(appended))

	deduped := MergeFeedItem(appended, types.FeedItem{ID: "f2", Counter: 2})
	require.Equal(t, feedIDs(appended), feedIDs(deduped))
}

func feedIDs(feed []types.FeedItem) []string {
	ids := make([]string, 0, len(feed))
	for _, it := range feed {
		ids = append(ids, it.ID)
	}
	return ids
}
