package consensus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dreamware/vstack/internal/metastore"
	"github.com/dreamware/vstack/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{MaxAttempts: 3, BackoffBase: 5 * time.Millisecond, PhaseTimeout: 2 * time.Second}
}

// acceptingNode simulates a storage node that has never seen the chunk: its
// first HEAD (the prepare-phase probe) returns 404, a free promise. Every
// HEAD after that (the accept-phase probe, and any retried prepare/accept
// calls) returns 200 with an ETag equal to checksum, genuinely confirming
// the proposed placement the way a real node does once it has replicated
// the chunk.
type acceptingNode struct {
	mu       sync.Mutex
	calls    int
	checksum string
}

func newAcceptingNode(checksum string) *httptest.Server {
	n := &acceptingNode{checksum: checksum}
	return httptest.NewServer(http.HandlerFunc(n.handler))
}

func (n *acceptingNode) handler(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	n.calls++
	count := n.calls
	n.mu.Unlock()

	if count == 1 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("ETag", n.checksum)
	w.WriteHeader(http.StatusOK)
}

// TestS1HappyPathReplication exercises spec.md §8 scenario S1: three
// equally-healthy nodes, one proposal, expect success and all three
// committed.
func TestS1HappyPathReplication(t *testing.T) {
	n1, n2, n3 := newAcceptingNode("deadbeef"), newAcceptingNode("deadbeef"), newAcceptingNode("deadbeef")
	defer n1.Close()
	defer n2.Close()
	defer n3.Close()

	store := metastore.NewMemoryStore()
	client := wire.NewClient(2 * time.Second)
	cp := New(store, client, fastConfig())

	nodes := []string{n1.URL, n2.URL, n3.URL}
	v, err := store.CreateVideo("s1", 30, 10, 2_097_152)
	require.NoError(t, err)
	chunkID := wire.ChunkID(v.VideoID, 0)

	ok, committed, err := cp.ProposePlacement(context.Background(), Proposal{
		ChunkID:     chunkID,
		VideoID:     v.VideoID,
		SequenceNum: 0,
		Checksum:    "deadbeef",
		SizeBytes:   2_097_152,
		NodeURLs:    nodes,
		Placement:   wire.NewReplicatedPlacement(nodes),
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.ElementsMatch(t, nodes, committed)

	chunk, err := store.GetChunk(chunkID)
	require.NoError(t, err)
	assert.Equal(t, wire.Replicated, chunk.RedundancyMode)

	replicas, err := store.GetReplicas(chunkID)
	require.NoError(t, err)
	assert.Len(t, replicas, 3)
}

// TestSingleNodeQuorumIsOne exercises the boundary case: a one-node replica
// set has quorum 1, so a single promise/accept is sufficient to commit.
func TestSingleNodeQuorumIsOne(t *testing.T) {
	n1 := newAcceptingNode("cafebabe")
	defer n1.Close()

	store := metastore.NewMemoryStore()
	client := wire.NewClient(2 * time.Second)
	cp := New(store, client, fastConfig())

	v, err := store.CreateVideo("solo", 10, 10, 1024)
	require.NoError(t, err)
	chunkID := wire.ChunkID(v.VideoID, 0)
	nodes := []string{n1.URL}

	ok, committed, err := cp.ProposePlacement(context.Background(), Proposal{
		ChunkID:     chunkID,
		VideoID:     v.VideoID,
		Checksum:    "cafebabe",
		SizeBytes:   1024,
		NodeURLs:    nodes,
		Placement:   wire.NewReplicatedPlacement(nodes),
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, nodes, committed)
}

// conflictOnceNode simulates a competing proposer: on the second HEAD it
// receives (the accept-phase probe of the first attempt), it reports an
// enormous promised ballot, forcing a conflict. Every other odd-numbered
// call (a prepare-phase probe) looks like an ordinary absent chunk; every
// other even-numbered call (an accept-phase probe, on the successful retry)
// confirms with a matching checksum.
type conflictOnceNode struct {
	mu       sync.Mutex
	calls    int
	checksum string
}

func (n *conflictOnceNode) handler(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	n.calls++
	count := n.calls
	n.mu.Unlock()

	if count == 2 {
		w.Header().Set("X-Ballot-Number", "999999999999999999")
		w.WriteHeader(http.StatusOK)
		return
	}
	if count%2 == 0 {
		w.Header().Set("ETag", n.checksum)
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

// TestS5BallotConflictRetrySucceeds exercises spec.md §8 scenario S5: the
// first attempt's accept phase discovers a higher competing ballot on every
// node and aborts; the retry with a fresh, higher ballot succeeds, leaving
// exactly one committed chunk row.
func TestS5BallotConflictRetrySucceeds(t *testing.T) {
	n1 := &conflictOnceNode{checksum: "c0ffee"}
	n2 := &conflictOnceNode{checksum: "c0ffee"}
	n3 := &conflictOnceNode{checksum: "c0ffee"}
	s1 := httptest.NewServer(http.HandlerFunc(n1.handler))
	s2 := httptest.NewServer(http.HandlerFunc(n2.handler))
	s3 := httptest.NewServer(http.HandlerFunc(n3.handler))
	defer s1.Close()
	defer s2.Close()
	defer s3.Close()

	store := metastore.NewMemoryStore()
	client := wire.NewClient(2 * time.Second)
	cp := New(store, client, fastConfig())

	nodes := []string{s1.URL, s2.URL, s3.URL}
	v, err := store.CreateVideo("s5", 30, 10, 2_097_152)
	require.NoError(t, err)
	chunkID := wire.ChunkID(v.VideoID, 0)

	ok, committed, err := cp.ProposePlacement(context.Background(), Proposal{
		ChunkID:     chunkID,
		VideoID:     v.VideoID,
		Checksum:    "c0ffee",
		SizeBytes:   2_097_152,
		NodeURLs:    nodes,
		Placement:   wire.NewReplicatedPlacement(nodes),
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.ElementsMatch(t, nodes, committed)

	chunks, err := store.ListChunks(v.VideoID)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

// TestProposePlacementFailsAfterMaxAttempts asserts that an unreachable
// replica set exhausts all retries and leaves the consensus phase reset to
// NONE rather than stuck in PREPARE/ACCEPT.
func TestProposePlacementFailsAfterMaxAttempts(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict) // busy forever: never promises
	}))
	defer down.Close()

	store := metastore.NewMemoryStore()
	client := wire.NewClient(2 * time.Second)
	cp := New(store, client, fastConfig())

	v, _ := store.CreateVideo("fails", 10, 10, 1024)
	chunkID := wire.ChunkID(v.VideoID, 0)
	nodes := []string{down.URL, down.URL, down.URL}

	ok, _, err := cp.ProposePlacement(context.Background(), Proposal{
		ChunkID:   chunkID,
		VideoID:   v.VideoID,
		Checksum:  "x",
		SizeBytes: 1024,
		NodeURLs:  nodes,
		Placement: wire.NewReplicatedPlacement(nodes),
	})
	assert.False(t, ok)
	require.Error(t, err)

	rec, err := store.GetConsensusRecord(chunkID)
	require.NoError(t, err)
	assert.Equal(t, metastore.PhaseNone, rec.Phase)
}

// TestAcceptPhaseConfirmsOnMatchingChecksum exercises the accept phase in
// isolation: a node responding 200 with an ETag equal to the proposed
// checksum must count as a genuine confirmation.
func TestAcceptPhaseConfirmsOnMatchingChecksum(t *testing.T) {
	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", "match-me")
		w.WriteHeader(http.StatusOK)
	}))
	defer node.Close()

	cp := New(metastore.NewMemoryStore(), wire.NewClient(2*time.Second), fastConfig())

	accepted, err := cp.acceptPhase(context.Background(), Proposal{Checksum: "match-me"}, 1, []string{node.URL}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{node.URL}, accepted)
}

// TestAcceptPhaseAbortsOnChecksumMismatch exercises spec.md §7's explicit
// carve-out: a checksum mismatch must abort the attempt with
// ErrChecksumMismatch rather than silently counting as unconfirmed.
func TestAcceptPhaseAbortsOnChecksumMismatch(t *testing.T) {
	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", "corrupted")
		w.WriteHeader(http.StatusOK)
	}))
	defer node.Close()

	cp := New(metastore.NewMemoryStore(), wire.NewClient(2*time.Second), fastConfig())

	_, err := cp.acceptPhase(context.Background(), Proposal{Checksum: "expected"}, 1, []string{node.URL}, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

// TestAcceptPhaseTreats404AsUnconfirmed exercises the fixed 404 path: a node
// reporting it has no record of the chunk provides no checksum to verify
// and must not count toward quorum, matching
// metadata-service/consensus.py's _send_accept_request (status 200 and a
// matching checksum are the only path returning True).
func TestAcceptPhaseTreats404AsUnconfirmed(t *testing.T) {
	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer node.Close()

	cp := New(metastore.NewMemoryStore(), wire.NewClient(2*time.Second), fastConfig())

	_, err := cp.acceptPhase(context.Background(), Proposal{Checksum: "expected"}, 1, []string{node.URL}, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuorumNotReached)
}

// ballotCapturingStore wraps a real Store and records the ballot passed to
// CleanupFailedConsensus, so tests can assert on it without reaching into
// MemoryStore's private replica bookkeeping.
type ballotCapturingStore struct {
	metastore.Store
	mu            sync.Mutex
	cleanupCalled bool
	cleanupBallot uint64
}

func (s *ballotCapturingStore) CleanupFailedConsensus(chunkID string, ballot uint64) error {
	s.mu.Lock()
	s.cleanupCalled = true
	s.cleanupBallot = ballot
	s.mu.Unlock()
	return s.Store.CleanupFailedConsensus(chunkID, ballot)
}

// TestProposePlacementCleansUpWithLastAttemptedBallot asserts that a failed
// attempt's final cleanup call carries the ballot that was actually
// proposed, not a sentinel zero that can never match a real ballot row
// (metastore.MemoryStore.CleanupFailedConsensus filters on ballot equality,
// and BallotGenerator never produces zero).
func TestProposePlacementCleansUpWithLastAttemptedBallot(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer down.Close()

	store := &ballotCapturingStore{Store: metastore.NewMemoryStore()}
	client := wire.NewClient(2 * time.Second)
	cp := New(store, client, fastConfig())

	v, _ := store.CreateVideo("cleanup", 10, 10, 1024)
	chunkID := wire.ChunkID(v.VideoID, 0)
	nodes := []string{down.URL, down.URL, down.URL}

	ok, _, err := cp.ProposePlacement(context.Background(), Proposal{
		ChunkID:   chunkID,
		VideoID:   v.VideoID,
		Checksum:  "x",
		SizeBytes: 1024,
		NodeURLs:  nodes,
		Placement: wire.NewReplicatedPlacement(nodes),
	})
	assert.False(t, ok)
	require.Error(t, err)

	assert.True(t, store.cleanupCalled)
	assert.NotZero(t, store.cleanupBallot, "cleanup must carry the last attempted ballot, not the zero sentinel")
}
