package nodeprobe

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/dreamware/vstack/internal/wire"
)

// Config tunes the probe's sampling windows and timing (spec.md §4.1).
type Config struct {
	ProbeInterval        time.Duration
	ProbeTimeout         time.Duration
	LatencyWindowLen     int
	BandwidthWindowLen   int
	SuccessWindowLen     int
	HealthTTL            time.Duration
	DefaultBandwidthMbps float64
}

// DefaultConfig matches spec.md §4.1's stated defaults: 10s probe interval,
// window lengths 10/10/20, and a configurable bandwidth prior used until a
// real download is observed.
var DefaultConfig = Config{
	ProbeInterval:        10 * time.Second,
	ProbeTimeout:         3 * time.Second,
	LatencyWindowLen:     10,
	BandwidthWindowLen:   10,
	SuccessWindowLen:     20,
	HealthTTL:            30 * time.Second,
	DefaultBandwidthMbps: 50,
}

type nodeStats struct {
	mu          sync.Mutex
	latencyMs   *window
	bandwidth   *window
	success     *window
	lastProbeAt time.Time
	lastProbeOK bool
}

func newNodeStats(cfg Config) *nodeStats {
	return &nodeStats{
		latencyMs: newWindow(cfg.LatencyWindowLen),
		bandwidth: newWindow(cfg.BandwidthWindowLen),
		success:   newWindow(cfg.SuccessWindowLen),
	}
}

// Prober maintains live performance windows for a fixed set of nodes and
// derives a ranking score from them.
type Prober struct {
	cfg    Config
	client *wire.Client

	mu        sync.RWMutex
	nodes     map[string]*nodeStats
	nodeOrder []string
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New builds a Prober. Call Start to begin periodic probing.
func New(cfg Config) *Prober {
	return &Prober{cfg: cfg, nodes: make(map[string]*nodeStats)}
}

// Start begins probing nodes over client. A second Start while already
// running is a no-op that logs (spec.md §4.1).
func (p *Prober) Start(nodes []string, client *wire.Client) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		log.Printf("nodeprobe: start called while already running, ignoring")
		return
	}
	p.client = client
	p.nodeOrder = append([]string(nil), nodes...)
	for _, n := range nodes {
		if _, ok := p.nodes[n]; !ok {
			p.nodes[n] = newNodeStats(p.cfg)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.running = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(ctx)
}

// Stop ends probing, releases scheduled work, and clears all windows.
// Idempotent.
func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()

	p.mu.Lock()
	p.nodes = make(map[string]*nodeStats)
	p.nodeOrder = nil
	p.mu.Unlock()
}

func (p *Prober) run(ctx context.Context) {
	defer p.wg.Done()

	p.probeAll(ctx)

	ticker := time.NewTicker(p.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.probeAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Prober) probeAll(ctx context.Context) {
	p.mu.RLock()
	nodes := append([]string(nil), p.nodeOrder...)
	p.mu.RUnlock()

	var wg sync.WaitGroup
	for _, node := range nodes {
		node := node
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.probeOne(ctx, node)
		}()
	}
	wg.Wait()
}

// probeOne issues one liveness probe against node. A probe never retries
// and is never fatal to the prober; it only moves the node's score
// (spec.md §4.1 "Failure semantics").
func (p *Prober) probeOne(ctx context.Context, node string) {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := p.client.Ping(reqCtx, node)
	elapsed := time.Since(start)

	p.mu.RLock()
	ns := p.nodes[node]
	p.mu.RUnlock()
	if ns == nil {
		return
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.lastProbeAt = time.Now()
	if err != nil {
		ns.lastProbeOK = false
		ns.success.push(0)
		return
	}
	ns.lastProbeOK = true
	ns.latencyMs.push(float64(elapsed.Milliseconds()))
	ns.success.push(1)
}

// UpdateBandwidth records an observed download bandwidth sample. This is
// the only source of real bandwidth numbers (spec.md §4.1); it is called by
// the scheduler after every successful chunk download.
func (p *Prober) UpdateBandwidth(node string, mbps float64) {
	p.mu.RLock()
	ns := p.nodes[node]
	p.mu.RUnlock()
	if ns == nil {
		return
	}
	ns.mu.Lock()
	ns.bandwidth.push(mbps)
	ns.mu.Unlock()
}

// Score returns (bandwidth_Mbps × success_ratio) / (1 + latency_ms × 0.1).
// A node with fewer than one latency sample scores 0.
func (p *Prober) Score(node string) float64 {
	p.mu.RLock()
	ns := p.nodes[node]
	p.mu.RUnlock()
	if ns == nil {
		return 0
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()
	if ns.latencyMs.len() < 1 {
		return 0
	}

	bw := p.cfg.DefaultBandwidthMbps
	if ns.bandwidth.len() > 0 {
		bw = ns.bandwidth.mean()
	}
	successRatio := ns.success.mean()
	latency := ns.latencyMs.mean()
	return (bw * successRatio) / (1 + latency*0.1)
}

// IsHealthy is true iff the last probe succeeded within the configured TTL
// and the mean of the last up to five success observations exceeds 0.5.
func (p *Prober) IsHealthy(node string) bool {
	p.mu.RLock()
	ns := p.nodes[node]
	p.mu.RUnlock()
	if ns == nil {
		return false
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()
	if !ns.lastProbeOK {
		return false
	}
	if time.Since(ns.lastProbeAt) > p.cfg.HealthTTL {
		return false
	}
	return ns.success.meanLast(5) > 0.5
}

// HealthyNodes returns the currently healthy subset of known nodes,
// preserving the order nodes were passed to Start.
func (p *Prober) HealthyNodes() []string {
	p.mu.RLock()
	nodes := append([]string(nil), p.nodeOrder...)
	p.mu.RUnlock()

	var out []string
	for _, n := range nodes {
		if p.IsHealthy(n) {
			out = append(out, n)
		}
	}
	return out
}
