package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dreamware/vstack/internal/wire"
)

// Prober is the subset of nodeprobe.Prober the scheduler depends on: score
// and health lookups to rank candidates, and the bandwidth feedback loop
// after a successful download (spec.md §4.1's "only source of real
// bandwidth numbers").
type Prober interface {
	Score(node string) float64
	HealthyNodes() []string
	UpdateBandwidth(node string, mbps float64)
}

// Config tunes the scheduler's concurrency bound, retry envelope, and
// timeouts (spec.md §4.2).
type Config struct {
	MaxConcurrent    int
	MaxRetries       int
	RetryBackoffBase time.Duration
	DownloadTimeout  time.Duration
}

// DefaultConfig matches spec.md §4.2's stated defaults.
var DefaultConfig = Config{
	MaxConcurrent:    4,
	MaxRetries:       3,
	RetryBackoffBase: 500 * time.Millisecond,
	DownloadTimeout:  30 * time.Second,
}

// Request is one chunk to fetch, with its candidate replica set drawn from
// the manifest, in manifest order (used for the insertion-order tie-break).
type Request struct {
	ChunkID  string
	Replicas []string
}

// Stats is a point-in-time snapshot of the scheduler's counters, surfaced
// for observability (spec.md's supplemented "scheduler statistics").
type Stats struct {
	TotalDownloads   int
	FailedDownloads  int
	FailoverCount    int
	LoadByNode       map[string]int
	DownloadsPerNode map[string]int
}

// Scheduler downloads chunks against a fixed pool of storage nodes, ranking
// candidates by nodeprobe.Prober's score with a per-node load penalty.
type Scheduler struct {
	cfg    Config
	client *wire.Client
	prober Prober
	sem    *semaphore.Weighted

	mu               sync.Mutex
	load             map[string]int
	source           map[string]string // chunk_id -> serving node
	totalDownloads   int
	failedDownloads  int
	failoverCount    int
	downloadsPerNode map[string]int
}

// New builds a Scheduler over the given prober and shared HTTP client.
func New(cfg Config, client *wire.Client, prober Prober) *Scheduler {
	return &Scheduler{
		cfg:              cfg,
		client:           client,
		prober:           prober,
		sem:              semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		load:             make(map[string]int),
		source:           make(map[string]string),
		downloadsPerNode: make(map[string]int),
	}
}

// Download launches a worker pool of cfg.MaxConcurrent workers over requests
// and returns the downloaded bytes per chunk id, nil for any chunk whose
// every replica failed (spec.md §4.2).
func (s *Scheduler) Download(ctx context.Context, requests []Request) map[string][]byte {
	results := make(map[string][]byte, len(requests))
	var resultsMu sync.Mutex

	reqCh := make(chan Request)
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.MaxConcurrent; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for req := range reqCh {
				data := s.downloadChunk(ctx, req)
				resultsMu.Lock()
				results[req.ChunkID] = data
				resultsMu.Unlock()
			}
		}()
	}

	go func() {
		for _, r := range requests {
			reqCh <- r
		}
		close(reqCh)
	}()
	wg.Wait()
	return results
}

// ChunkSource returns which node served chunkID, for the audit trail.
func (s *Scheduler) ChunkSource(chunkID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.source[chunkID]
	return node, ok
}

// Stats returns a snapshot of the scheduler's counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	load := make(map[string]int, len(s.load))
	for k, v := range s.load {
		load[k] = v
	}
	perNode := make(map[string]int, len(s.downloadsPerNode))
	for k, v := range s.downloadsPerNode {
		perNode[k] = v
	}
	return Stats{
		TotalDownloads:   s.totalDownloads,
		FailedDownloads:  s.failedDownloads,
		FailoverCount:    s.failoverCount,
		LoadByNode:       load,
		DownloadsPerNode: perNode,
	}
}

// downloadChunk runs the per-chunk algorithm of spec.md §4.2 steps 1-5. The
// semaphore is acquired once here and held across every retry/failover for
// this chunk, released only on success or final failure.
func (s *Scheduler) downloadChunk(ctx context.Context, req Request) []byte {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil
	}
	defer s.sem.Release(1)

	candidates := s.healthyOrFallback(req.Replicas)
	attempted := make(map[string]bool, len(candidates))

	for {
		node := s.selectBestNode(candidates, attempted)
		if node == "" {
			s.mu.Lock()
			s.failedDownloads++
			s.mu.Unlock()
			return nil
		}

		data, ok := s.tryNodeWithRetries(ctx, node, req)
		if ok {
			s.mu.Lock()
			s.source[req.ChunkID] = node
			s.totalDownloads++
			s.downloadsPerNode[node]++
			s.mu.Unlock()
			return data
		}

		attempted[node] = true
		s.mu.Lock()
		s.failoverCount++
		s.mu.Unlock()
	}
}

// healthyOrFallback filters replicas to currently healthy nodes, preserving
// manifest order; if that leaves none, the full replica set is used.
func (s *Scheduler) healthyOrFallback(replicas []string) []string {
	healthy := make(map[string]bool)
	for _, n := range s.prober.HealthyNodes() {
		healthy[n] = true
	}

	var candidates []string
	for _, n := range replicas {
		if healthy[n] {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		candidates = append([]string(nil), replicas...)
	}
	return candidates
}

// selectBestNode picks the highest score(node) × 1/(1+0.2×activeLoad(node))
// among candidates not yet attempted, breaking ties by insertion order.
func (s *Scheduler) selectBestNode(candidates []string, attempted map[string]bool) string {
	best := ""
	bestScore := -1.0
	for _, node := range candidates {
		if attempted[node] {
			continue
		}
		s.mu.Lock()
		load := s.load[node]
		s.mu.Unlock()

		score := s.prober.Score(node) / (1 + 0.2*float64(load))
		if score > bestScore {
			bestScore = score
			best = node
		}
	}
	return best
}

// tryNodeWithRetries issues up to 1+cfg.MaxRetries attempts against node,
// with exponential backoff between retries starting at cfg.RetryBackoffBase.
func (s *Scheduler) tryNodeWithRetries(ctx context.Context, node string, req Request) ([]byte, bool) {
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(s.cfg.RetryBackoffBase * time.Duration(int64(1)<<uint(attempt-1)))
		}

		s.incLoad(node)
		data, elapsed, err := s.attemptDownload(ctx, node, req)
		s.decLoad(node)

		if err == nil {
			if elapsed > 0 {
				mbps := 8 * float64(len(data)) / elapsed.Seconds() / 1e6
				s.prober.UpdateBandwidth(node, mbps)
			}
			return data, true
		}
	}
	return nil, false
}

func (s *Scheduler) attemptDownload(ctx context.Context, node string, req Request) ([]byte, time.Duration, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.DownloadTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/chunk/%s", node, req.ChunkID)
	start := time.Now()
	data, err := s.client.GetBytes(reqCtx, url)
	elapsed := time.Since(start)
	return data, elapsed, err
}

func (s *Scheduler) incLoad(node string) {
	s.mu.Lock()
	s.load[node]++
	s.mu.Unlock()
}

func (s *Scheduler) decLoad(node string) {
	s.mu.Lock()
	s.load[node]--
	s.mu.Unlock()
}
