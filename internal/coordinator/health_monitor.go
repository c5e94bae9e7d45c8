package coordinator

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/dreamware/vstack/internal/metastore"
)

// LivenessMonitor periodically sweeps the node table for heartbeats that
// have gone stale past the TTL, and fires a callback on each down
// transition. The TTL bookkeeping itself lives in
// metastore.Store.ListHealthyNodes (spec.md §3: "heartbeat older than a TTL
// -> status forced to down") — this type only detects the state changes
// and decides what to do about them, adapted from the ticker/Start/Stop
// shape of torua's node health monitor.
type LivenessMonitor struct {
	store    metastore.Store
	interval time.Duration
	ttl      time.Duration
	onDown   func(nodeID string)

	mu     sync.Mutex
	known  map[string]bool // nodeID -> last-seen-healthy
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLivenessMonitor builds a monitor that sweeps at the given interval,
// treating any node whose heartbeat is older than ttl as down.
func NewLivenessMonitor(store metastore.Store, interval, ttl time.Duration) *LivenessMonitor {
	return &LivenessMonitor{
		store:    store,
		interval: interval,
		ttl:      ttl,
		known:    make(map[string]bool),
	}
}

// SetOnDown registers a callback invoked (in its own goroutine) the first
// time a previously-healthy node is found down.
func (l *LivenessMonitor) SetOnDown(callback func(nodeID string)) {
	l.onDown = callback
}

// Start begins sweeping in the background. Idempotent: a second Start while
// already running logs and does nothing.
func (l *LivenessMonitor) Start(ctx context.Context) {
	l.mu.Lock()
	if l.cancel != nil {
		l.mu.Unlock()
		log.Println("liveness monitor already running, ignoring Start")
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.run(runCtx)
	}()
}

// Stop cancels the sweep loop and waits for it to exit. Idempotent.
func (l *LivenessMonitor) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	l.wg.Wait()
}

func (l *LivenessMonitor) run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.sweep()
	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-ctx.Done():
			return
		}
	}
}

// sweep lists all nodes, and for each no-longer-healthy node previously seen
// healthy, fires onDown exactly once per transition.
func (l *LivenessMonitor) sweep() {
	nodes, err := l.store.ListNodes()
	if err != nil {
		log.Printf("liveness monitor: list nodes: %v", err)
		return
	}
	healthy, err := l.store.ListHealthyNodes(l.ttl)
	if err != nil {
		log.Printf("liveness monitor: list healthy nodes: %v", err)
		return
	}
	healthySet := make(map[string]bool, len(healthy))
	for _, n := range healthy {
		healthySet[n.NodeID] = true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	current := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		current[n.NodeID] = true
		wasHealthy := l.known[n.NodeID]
		isHealthy := healthySet[n.NodeID]
		if wasHealthy && !isHealthy {
			log.Printf("node %s marked down (heartbeat stale past %v)", n.NodeID, l.ttl)
			if l.onDown != nil {
				go l.onDown(n.NodeID)
			}
		}
		l.known[n.NodeID] = isHealthy
	}
	for id := range l.known {
		if !current[id] {
			delete(l.known, id)
		}
	}
}
