package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tokensale/core/types"
)

type hubEvent struct{ evt *types.Event }

func (e hubEvent) EventType() string { return e.evt.Type }
func (e hubEvent) Event() *types.Event { return e.evt }

func emitN(h *Hub, n int) {
	for i := 0; i < n; i++ {
		h.Emit(hubEvent{evt: &types.Event{Type: "presale.purchased", Attributes: map[string]string{"n": string(rune('a' + i))}}})
	}
}

func TestHubBacklogRespectsCursorAndLimit(t *testing.T) {
	h := NewHub(3)
	emitN(h, 5)

	_, cancel, backlog := h.Subscribe(context.Background(), 0)
	defer cancel()
	require.Len(t, backlog, 3)
	require.Equal(t, uint64(3), backlog[0].Sequence)
	require.Equal(t, uint64(5), backlog[2].Sequence)

	_, cancel2, backlog := h.Subscribe(context.Background(), 4)
	defer cancel2()
	require.Len(t, backlog, 1)
	require.Equal(t, "e", backlog[0].Attributes["n"])
}

func TestHubDeliversLiveUpdatesAndCancels(t *testing.T) {
	h := NewHub(0)
	ctx, stop := context.WithCancel(context.Background())
	updates, _, backlog := h.Subscribe(ctx, 0)
	require.Empty(t, backlog)
	require.Equal(t, 1, h.Subscribers())

	emitN(h, 1)
	select {
	case update := <-updates:
		require.Equal(t, uint64(1), update.Sequence)
		require.Equal(t, "presale.purchased", update.Type)
	case <-time.After(time.Second):
		t.Fatalf("update not delivered")
	}

	stop()
	require.Eventually(t, func() bool { return h.Subscribers() == 0 }, time.Second, 10*time.Millisecond)
	_, open := <-updates
	require.False(t, open)
}

func TestHubUpdatesAreIsolated(t *testing.T) {
	h := NewHub(0)
	attrs := map[string]string{"buyer": "0x01"}
	h.Emit(hubEvent{evt: &types.Event{Type: "presale.redeemed", Attributes: attrs}})
	attrs["buyer"] = "0x02"

	_, cancel, backlog := h.Subscribe(context.Background(), 0)
	defer cancel()
	require.Equal(t, "0x01", backlog[0].Attributes["buyer"])
	backlog[0].Attributes["buyer"] = "0x03"

	_, cancel2, again := h.Subscribe(context.Background(), 0)
	defer cancel2()
	require.Equal(t, "0x01", again[0].Attributes["buyer"])
}
