package reconnect

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/perchhq/perch/pkg/types"
)

type fakeClient struct {
	id   string
	sess *types.Session
}

func (f *fakeClient) SessionID() string       { return f.id }
func (f *fakeClient) Session() *types.Session { return f.sess }

func TestImmediateSwapNotifiesOnce(t *testing.T) {
	old := &fakeClient{id: "s1"}
	m := NewConnected(old)

	var seen []SessionClient
	m.OnSessionSwap(func(next SessionClient) { seen = append(seen, next) })

	fresh := &fakeClient{id: "s1"}
	m.OfferSwap(fresh)

	require.Equal(t, StateConnected, m.State())
	require.Same(t, fresh, m.Client())
	require.Len(t, seen, 1)
	require.Same(t, fresh, seen[0])
}

func TestSwapDeferredWhileProcessing(t *testing.T) {
	old := &fakeClient{id: "s1"}
	m := NewConnected(old)

	var seen []SessionClient
	m.OnSessionSwap(func(next SessionClient) { seen = append(seen, next) })

	m.BeginProcessing()
	m.MarkReconnecting()

	fresh := &fakeClient{id: "s1"}
	m.OfferSwap(fresh)

	// Mid-turn: still serving the old reference, no callback yet.
	require.Same(t, old, m.Client())
	require.Empty(t, seen)
	require.Equal(t, StateReconnecting, m.State())

	m.EndProcessing()
	require.Same(t, fresh, m.Client())
	require.Equal(t, StateConnected, m.State())
	require.Len(t, seen, 1, "dependents updated exactly once")
}

func TestOnlyFinalParkedSwapApplies(t *testing.T) {
	m := NewConnected(&fakeClient{id: "s1"})

	var seen []SessionClient
	m.OnSessionSwap(func(next SessionClient) { seen = append(seen, next) })

	m.BeginProcessing()
	first := &fakeClient{id: "s1"}
	second := &fakeClient{id: "s1"}
	m.OfferSwap(first)
	m.OfferSwap(second)
	m.EndProcessing()

	require.Same(t, second, m.Client())
	require.Len(t, seen, 1, "intermediate swap never observed")
	require.Same(t, second, seen[0])
}

func TestNestedProcessingDefersUntilLastEnd(t *testing.T) {
	m := NewConnected(&fakeClient{id: "s1"})

	m.BeginProcessing()
	m.BeginProcessing()
	fresh := &fakeClient{id: "s1"}
	m.OfferSwap(fresh)

	m.EndProcessing()
	require.NotSame(t, fresh, m.Client(), "swap held while inner operation still running")

	m.EndProcessing()
	require.Same(t, fresh, m.Client())
}

func TestOfflineStubServesLocalState(t *testing.T) {
	stub := &fakeClient{id: "draft", sess: &types.Session{ID: "draft"}}
	m := NewOfflineStub(stub)

	require.Equal(t, StateOfflineStub, m.State())
	require.Same(t, stub, m.Client())

	fresh := &fakeClient{id: "s1"}
	m.OfferSwap(fresh)
	require.Equal(t, StateConnected, m.State())
	require.Same(t, fresh, m.Client())
}

func TestCancelDropsParkedAndFutureSwaps(t *testing.T) {
	old := &fakeClient{id: "s1"}
	m := NewConnected(old)

	var seen []SessionClient
	m.OnSessionSwap(func(next SessionClient) { seen = append(seen, next) })

	m.BeginProcessing()
	m.OfferSwap(&fakeClient{id: "s1"})
	m.Cancel()
	m.EndProcessing()

	require.Same(t, old, m.Client())
	require.Empty(t, seen)
	require.True(t, m.Cancelled())

	m.OfferSwap(&fakeClient{id: "s1"})
	require.Same(t, old, m.Client())
}
