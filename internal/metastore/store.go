package metastore

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dreamware/vstack/internal/wire"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("metastore: not found")

// ErrAlreadyExists signals a uniqueness violation. MemoryStore never
// returns it.
var ErrAlreadyExists = errors.New("metastore: already exists")

// CommitPlacementRequest carries everything ChunkPaxos's phase 3 needs to
// commit in one transaction (spec.md §4.5 "Phase 3 — Commit").
type CommitPlacementRequest struct {
	ChunkID     string
	VideoID     string
	SequenceNum int
	SizeBytes   int
	Checksum    string
	Placement   wire.Placement
	Ballot      uint64
}

// Store is the metadata persistence interface, modeled on spec.md §3's seven
// record kinds. See doc.go for scope notes.
type Store interface {
	CreateVideo(title string, durationSec, chunkDurationSec, chunkSizeBytes int) (Video, error)
	GetVideo(videoID string) (Video, error)

	ListChunks(videoID string) ([]Chunk, error)
	GetChunk(chunkID string) (Chunk, error)
	GetReplicas(chunkID string) ([]Replica, error)
	GetFragments(chunkID string) ([]Fragment, error)

	GetConsensusRecord(chunkID string) (ConsensusRecord, error)
	SetConsensusPhase(chunkID string, phase ConsensusPhase, promisedBallot uint64) error
	CommitPlacement(req CommitPlacementRequest) ([]string, error)
	CleanupFailedConsensus(chunkID string, ballot uint64) error

	RegisterNode(node Node) error
	Heartbeat(nodeID string, diskUsagePct float64, chunkCount int) error
	GetNode(nodeID string) (Node, error)
	ListNodes() ([]Node, error)
	ListHealthyNodes(ttl time.Duration) ([]Node, error)

	RecordView(videoID string) error
	GetPopularity(videoID string) (Popularity, error)
}

// MemoryStore is an in-memory Store implementation, sufficient to drive the
// coordinator and its tests without a real database (spec.md §1 scopes the
// real store out). Each entity group is guarded by its own RWMutex so
// unrelated entities never contend; the chunk/replica/fragment/consensus
// group shares one lock because CommitPlacement must touch all four
// atomically.
type MemoryStore struct {
	videoMu sync.RWMutex
	videos  map[string]*Video
	nextID  int64

	chunkMu   sync.RWMutex
	chunks    map[string]*Chunk            // chunkID -> chunk
	byVideo   map[string][]string          // videoID -> ordered chunkIDs
	replicas  map[string][]Replica         // chunkID -> replicas
	fragments map[string][]Fragment        // chunkID -> fragments
	consensus map[string]*ConsensusRecord  // chunkID -> record

	nodeMu sync.RWMutex
	nodes  map[string]*Node

	popMu sync.RWMutex
	pop   map[string]*Popularity
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		videos:    make(map[string]*Video),
		chunks:    make(map[string]*Chunk),
		byVideo:   make(map[string][]string),
		replicas:  make(map[string][]Replica),
		fragments: make(map[string][]Fragment),
		consensus: make(map[string]*ConsensusRecord),
		nodes:     make(map[string]*Node),
		pop:       make(map[string]*Popularity),
	}
}

func (m *MemoryStore) CreateVideo(title string, durationSec, chunkDurationSec, chunkSizeBytes int) (Video, error) {
	id := atomic.AddInt64(&m.nextID, 1)
	videoID := fmt.Sprintf("video-%d", id)

	v := &Video{
		VideoID:          videoID,
		Title:            title,
		DurationSec:      durationSec,
		ChunkDurationSec: chunkDurationSec,
		ChunkSizeBytes:   chunkSizeBytes,
		CreatedAt:        time.Now(),
		Status:           VideoUploading,
	}

	m.videoMu.Lock()
	m.videos[videoID] = v
	m.videoMu.Unlock()

	return *v, nil
}

func (m *MemoryStore) GetVideo(videoID string) (Video, error) {
	m.videoMu.RLock()
	defer m.videoMu.RUnlock()

	v, ok := m.videos[videoID]
	if !ok {
		return Video{}, ErrNotFound
	}
	return *v, nil
}

func (m *MemoryStore) ListChunks(videoID string) ([]Chunk, error) {
	m.chunkMu.RLock()
	defer m.chunkMu.RUnlock()

	ids := m.byVideo[videoID]
	out := make([]Chunk, 0, len(ids))
	for _, id := range ids {
		out = append(out, *m.chunks[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNum < out[j].SequenceNum })
	return out, nil
}

func (m *MemoryStore) GetChunk(chunkID string) (Chunk, error) {
	m.chunkMu.RLock()
	defer m.chunkMu.RUnlock()

	c, ok := m.chunks[chunkID]
	if !ok {
		return Chunk{}, ErrNotFound
	}
	return *c, nil
}

func (m *MemoryStore) GetReplicas(chunkID string) ([]Replica, error) {
	m.chunkMu.RLock()
	defer m.chunkMu.RUnlock()
	return append([]Replica(nil), m.replicas[chunkID]...), nil
}

func (m *MemoryStore) GetFragments(chunkID string) ([]Fragment, error) {
	m.chunkMu.RLock()
	defer m.chunkMu.RUnlock()
	return append([]Fragment(nil), m.fragments[chunkID]...), nil
}

func (m *MemoryStore) GetConsensusRecord(chunkID string) (ConsensusRecord, error) {
	m.chunkMu.RLock()
	defer m.chunkMu.RUnlock()

	rec, ok := m.consensus[chunkID]
	if !ok {
		return ConsensusRecord{ChunkID: chunkID, Phase: PhaseNone}, nil
	}
	return *rec, nil
}

// SetConsensusPhase persists a phase transition before the outgoing RPC of
// that phase, per spec.md §4.5's state-machine diagram.
func (m *MemoryStore) SetConsensusPhase(chunkID string, phase ConsensusPhase, promisedBallot uint64) error {
	m.chunkMu.Lock()
	defer m.chunkMu.Unlock()

	rec, ok := m.consensus[chunkID]
	if !ok {
		rec = &ConsensusRecord{ChunkID: chunkID}
		m.consensus[chunkID] = rec
	}
	rec.Phase = phase
	if promisedBallot > rec.PromisedBallot {
		rec.PromisedBallot = promisedBallot
	}
	return nil
}

// CommitPlacement performs spec.md §4.5's Phase 3 in one critical section:
// upsert the chunk row, upsert its replica or fragment rows, recompute
// video.total_chunks as the distinct committed chunk count, and mark the
// consensus record COMMITTED. Returns the node URLs committed to.
func (m *MemoryStore) CommitPlacement(req CommitPlacementRequest) ([]string, error) {
	m.chunkMu.Lock()
	defer m.chunkMu.Unlock()

	if _, exists := m.chunks[req.ChunkID]; !exists {
		m.byVideo[req.VideoID] = append(m.byVideo[req.VideoID], req.ChunkID)
	}

	m.chunks[req.ChunkID] = &Chunk{
		ChunkID:        req.ChunkID,
		VideoID:        req.VideoID,
		SequenceNum:    req.SequenceNum,
		SizeBytes:      req.SizeBytes,
		Checksum:       req.Checksum,
		RedundancyMode: req.Placement.Mode,
	}

	var committedNodes []string
	switch req.Placement.Mode {
	case wire.Replicated:
		replicas := make([]Replica, 0, len(req.Placement.Nodes))
		for _, url := range req.Placement.Nodes {
			replicas = append(replicas, Replica{
				ChunkID: req.ChunkID,
				NodeURL: url,
				Status:  ReplicaActive,
				Ballot:  req.Ballot,
			})
			committedNodes = append(committedNodes, url)
		}
		m.replicas[req.ChunkID] = replicas
	case wire.Erasure:
		fragments := make([]Fragment, 0, len(req.Placement.Fragments))
		for _, f := range req.Placement.Fragments {
			fragments = append(fragments, Fragment{
				FragmentID:    f.FragmentID,
				ChunkID:       req.ChunkID,
				FragmentIndex: f.FragmentIndex,
				NodeURL:       f.NodeURL,
				SizeBytes:     f.SizeBytes,
				Checksum:      f.Checksum,
				Status:        FragmentActive,
			})
			committedNodes = append(committedNodes, f.NodeURL)
		}
		m.fragments[req.ChunkID] = fragments
	}

	rec, ok := m.consensus[req.ChunkID]
	if !ok {
		rec = &ConsensusRecord{ChunkID: req.ChunkID}
		m.consensus[req.ChunkID] = rec
	}
	rec.Phase = PhaseCommitted
	rec.AcceptedBallot = req.Ballot
	rec.AcceptedNodes = committedNodes

	m.videoMu.Lock()
	if v, ok := m.videos[req.VideoID]; ok {
		distinct := make(map[string]bool)
		for _, id := range m.byVideo[req.VideoID] {
			if c := m.chunks[id]; c != nil {
				if rec := m.consensus[id]; rec != nil && rec.Phase == PhaseCommitted {
					distinct[id] = true
				}
			}
		}
		v.TotalChunks = len(distinct)
		v.Status = VideoActive
	}
	m.videoMu.Unlock()

	return committedNodes, nil
}

// CleanupFailedConsensus deletes the chunk's replica rows matching the given
// ballot (fragment rows carry no ballot and are left in place) and resets the consensus phase to NONE, per spec.md §4.5's retry
// cleanup.
func (m *MemoryStore) CleanupFailedConsensus(chunkID string, ballot uint64) error {
	m.chunkMu.Lock()
	defer m.chunkMu.Unlock()

	filtered := m.replicas[chunkID][:0]
	for _, r := range m.replicas[chunkID] {
		if r.Ballot != ballot {
			filtered = append(filtered, r)
		}
	}
	m.replicas[chunkID] = filtered

	if rec, ok := m.consensus[chunkID]; ok {
		rec.Phase = PhaseNone
	}
	return nil
}

func (m *MemoryStore) RegisterNode(node Node) error {
	m.nodeMu.Lock()
	defer m.nodeMu.Unlock()

	node.LastHeartbeat = time.Now()
	if node.Status == "" {
		node.Status = NodeHealthy
	}
	m.nodes[node.NodeID] = &node
	return nil
}

func (m *MemoryStore) Heartbeat(nodeID string, diskUsagePct float64, chunkCount int) error {
	m.nodeMu.Lock()
	defer m.nodeMu.Unlock()

	n, ok := m.nodes[nodeID]
	if !ok {
		return ErrNotFound
	}
	n.LastHeartbeat = time.Now()
	n.DiskUsagePct = diskUsagePct
	n.ChunkCount = chunkCount
	n.Status = NodeHealthy
	return nil
}

func (m *MemoryStore) GetNode(nodeID string) (Node, error) {
	m.nodeMu.RLock()
	defer m.nodeMu.RUnlock()

	n, ok := m.nodes[nodeID]
	if !ok {
		return Node{}, ErrNotFound
	}
	return *n, nil
}

func (m *MemoryStore) ListNodes() ([]Node, error) {
	m.nodeMu.RLock()
	defer m.nodeMu.RUnlock()

	out := make([]Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, *n)
	}
	return out, nil
}

// ListHealthyNodes returns nodes whose heartbeat is within ttl, forcing the
// status of any stale node to down as a side effect (spec.md §3: "Heartbeat
// older than a TTL -> status forced to down").
func (m *MemoryStore) ListHealthyNodes(ttl time.Duration) ([]Node, error) {
	m.nodeMu.Lock()
	defer m.nodeMu.Unlock()

	now := time.Now()
	var healthy []Node
	for _, n := range m.nodes {
		if now.Sub(n.LastHeartbeat) > ttl {
			n.Status = NodeDown
			continue
		}
		if n.Status == NodeHealthy {
			healthy = append(healthy, *n)
		}
	}
	return healthy, nil
}

func (m *MemoryStore) RecordView(videoID string) error {
	m.popMu.Lock()
	defer m.popMu.Unlock()

	p, ok := m.pop[videoID]
	if !ok {
		p = &Popularity{VideoID: videoID}
		m.pop[videoID] = p
	}
	p.ViewCount++
	p.LastView = time.Now()
	return nil
}

func (m *MemoryStore) GetPopularity(videoID string) (Popularity, error) {
	m.popMu.RLock()
	defer m.popMu.RUnlock()

	p, ok := m.pop[videoID]
	if !ok {
		return Popularity{VideoID: videoID}, nil
	}
	return *p, nil
}

var _ Store = (*MemoryStore)(nil)
