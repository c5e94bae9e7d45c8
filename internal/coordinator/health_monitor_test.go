package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/dreamware/vstack/internal/metastore"
	"github.com/stretchr/testify/require"
)

func TestLivenessMonitorFiresOnDownTransition(t *testing.T) {
	store := metastore.NewMemoryStore()
	require.NoError(t, store.RegisterNode(metastore.Node{NodeID: "n1", BaseURL: "http://n1"}))

	mon := NewLivenessMonitor(store, 10*time.Millisecond, 20*time.Millisecond)
	downCh := make(chan string, 1)
	mon.SetOnDown(func(nodeID string) { downCh <- nodeID })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mon.Start(ctx)
	defer mon.Stop()

	select {
	case id := <-downCh:
		t.Fatalf("unexpected early down event for %s", id)
	case <-time.After(15 * time.Millisecond):
	}

	select {
	case id := <-downCh:
		require.Equal(t, "n1", id)
	case <-time.After(time.Second):
		t.Fatal("expected a down event after TTL elapsed")
	}
}

func TestLivenessMonitorNoEventForHealthyNode(t *testing.T) {
	store := metastore.NewMemoryStore()
	require.NoError(t, store.RegisterNode(metastore.Node{NodeID: "n1", BaseURL: "http://n1"}))

	mon := NewLivenessMonitor(store, 10*time.Millisecond, time.Minute)
	downCh := make(chan string, 1)
	mon.SetOnDown(func(nodeID string) { downCh <- nodeID })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mon.Start(ctx)
	defer mon.Stop()

	select {
	case id := <-downCh:
		t.Fatalf("unexpected down event for healthy node %s", id)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLivenessMonitorStartIsIdempotentAndStopDrains(t *testing.T) {
	store := metastore.NewMemoryStore()
	mon := NewLivenessMonitor(store, 10*time.Millisecond, time.Minute)

	ctx := context.Background()
	mon.Start(ctx)
	mon.Start(ctx) // no-op
	mon.Stop()
	mon.Stop() // no-op, must not block or panic
}
