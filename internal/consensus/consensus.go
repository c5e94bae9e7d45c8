package consensus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/vstack/internal/metastore"
	"github.com/dreamware/vstack/internal/wire"
)

// ErrQuorumNotReached is returned when an attempt fails to gather quorum
// responses in a phase.
var ErrQuorumNotReached = errors.New("consensus: quorum not reached")

// ErrBallotConflict is returned when a peer has promised a strictly higher
// ballot than ours, aborting the attempt immediately.
var ErrBallotConflict = errors.New("consensus: ballot conflict")

// ErrChecksumMismatch is returned when an accept-phase peer's ETag does not
// match the proposed checksum.
var ErrChecksumMismatch = errors.New("consensus: checksum mismatch")

// Config holds ChunkPaxos's tunables (spec.md §9's explicit-typed-config
// note): quorum is derived per proposal from the node-set size, so only the
// retry envelope and the per-probe phase timeout are configured here.
type Config struct {
	MaxAttempts int
	BackoffBase time.Duration
	PhaseTimeout time.Duration
}

// DefaultConfig matches spec.md §4.5's defaults: 3 attempts, 1s backoff
// base.
var DefaultConfig = Config{
	MaxAttempts:  3,
	BackoffBase:  1 * time.Second,
	PhaseTimeout: 5 * time.Second,
}

// Proposal is the input to ProposePlacement: everything needed to commit
// one chunk's placement (spec.md §4.5).
type Proposal struct {
	ChunkID     string
	VideoID     string
	SequenceNum int
	Checksum    string
	SizeBytes   int
	NodeURLs    []string // the candidate set probed in prepare/accept
	Placement   wire.Placement
}

// Quorum returns floor(n/2)+1 for this proposal's node set.
func (p Proposal) Quorum() int {
	return len(p.NodeURLs)/2 + 1
}

// ChunkPaxos runs the per-chunk commit protocol against a metadata store
// and a set of storage nodes reached over HTTP.
type ChunkPaxos struct {
	store   metastore.Store
	client  *wire.Client
	cfg     Config
	ballots BallotGenerator
}

// New builds a ChunkPaxos instance over the given store and shared HTTP
// client.
func New(store metastore.Store, client *wire.Client, cfg Config) *ChunkPaxos {
	return &ChunkPaxos{store: store, client: client, cfg: cfg}
}

// ProposePlacement runs up to cfg.MaxAttempts attempts to commit p, each
// with a freshly generated ballot, per spec.md §4.5.
func (cp *ChunkPaxos) ProposePlacement(ctx context.Context, p Proposal) (bool, []string, error) {
	var lastErr error
	var lastBallot uint64
	for attempt := 1; attempt <= cp.cfg.MaxAttempts; attempt++ {
		ballot := cp.ballots.Next()
		lastBallot = ballot

		committedNodes, err := cp.attempt(ctx, p, ballot)
		if err == nil {
			return true, committedNodes, nil
		}
		lastErr = err
		log.Printf("consensus: attempt %d/%d for chunk %s failed: %v", attempt, cp.cfg.MaxAttempts, p.ChunkID, err)

		if errors.Is(err, ErrBallotConflict) && attempt < cp.cfg.MaxAttempts {
			continue // fresh, higher ballot next loop; no backoff needed for conflicts
		}
		if attempt < cp.cfg.MaxAttempts {
			time.Sleep(cp.cfg.BackoffBase * time.Duration(1<<(attempt-1)))
		}
	}

	cp.store.CleanupFailedConsensus(p.ChunkID, lastBallot)
	cp.store.SetConsensusPhase(p.ChunkID, metastore.PhaseNone, 0)
	return false, nil, fmt.Errorf("consensus: failed after %d attempts: %w", cp.cfg.MaxAttempts, lastErr)
}

func (cp *ChunkPaxos) attempt(ctx context.Context, p Proposal, ballot uint64) ([]string, error) {
	quorum := p.Quorum()

	if err := cp.store.SetConsensusPhase(p.ChunkID, metastore.PhasePrepare, ballot); err != nil {
		return nil, err
	}
	survivors, err := cp.preparePhase(ctx, p, ballot, quorum)
	if err != nil {
		return nil, err
	}

	if err := cp.store.SetConsensusPhase(p.ChunkID, metastore.PhaseAccept, ballot); err != nil {
		return nil, err
	}
	accepted, err := cp.acceptPhase(ctx, p, ballot, survivors, quorum)
	if err != nil {
		return nil, err
	}

	committed, err := cp.store.CommitPlacement(metastore.CommitPlacementRequest{
		ChunkID:     p.ChunkID,
		VideoID:     p.VideoID,
		SequenceNum: p.SequenceNum,
		SizeBytes:   p.SizeBytes,
		Checksum:    p.Checksum,
		Placement:   p.Placement,
		Ballot:      ballot,
	})
	if err != nil {
		return nil, err
	}
	_ = accepted
	return committed, nil
}

// preparePhase sends an idempotent HEAD carrying the ballot to every
// candidate node in parallel and returns the nodes that promised this
// ballot. Fewer than quorum "ok" responses fails the attempt; any peer
// promising a strictly higher ballot aborts the attempt immediately.
func (cp *ChunkPaxos) preparePhase(ctx context.Context, p Proposal, ballot uint64, quorum int) ([]string, error) {
	type result struct {
		node string
		ok   bool
	}
	results := make([]result, len(p.NodeURLs))

	g, gctx := errgroup.WithContext(ctx)
	var conflict error
	for i, node := range p.NodeURLs {
		i, node := i, node
		g.Go(func() error {
			reqCtx, cancel := context.WithTimeout(gctx, cp.cfg.PhaseTimeout)
			defer cancel()

			status, peerBallot, _, err := cp.client.HeadChunk(reqCtx, node, p.ChunkID, ballot)
			if err != nil {
				return nil // transient network error: no-response, not fatal to the attempt
			}
			switch status {
			case http.StatusNotFound:
				results[i] = result{node: node, ok: true}
			case http.StatusOK:
				if peerBallot > ballot {
					conflict = fmt.Errorf("%w: peer %s promised %d > our %d", ErrBallotConflict, node, peerBallot, ballot)
					return conflict
				}
				results[i] = result{node: node, ok: true}
			case http.StatusConflict:
				// busy: treat as no-response
			default:
				// no-response
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var survivors []string
	for _, r := range results {
		if r.ok {
			survivors = append(survivors, r.node)
		}
	}
	if len(survivors) < quorum {
		return nil, fmt.Errorf("%w: prepare got %d/%d", ErrQuorumNotReached, len(survivors), quorum)
	}
	return survivors, nil
}

// acceptPhase issues a HEAD against every prepare survivor and verifies the
// returned checksum; fewer than quorum confirmations fails the attempt. A
// peer that now reports a ballot higher than ours (another proposer raced
// ahead between our prepare and accept) aborts the attempt with a ballot
// conflict, per spec.md §8 scenario S5. A peer that confirms with a
// mismatching checksum aborts the attempt outright rather than simply
// counting as unconfirmed (spec.md §7): a corrupted replica among the
// survivors must not let the attempt silently commit around it.
func (cp *ChunkPaxos) acceptPhase(ctx context.Context, p Proposal, ballot uint64, survivors []string, quorum int) ([]string, error) {
	confirmed := make([]bool, len(survivors))

	g, gctx := errgroup.WithContext(ctx)
	for i, node := range survivors {
		i, node := i, node
		g.Go(func() error {
			reqCtx, cancel := context.WithTimeout(gctx, cp.cfg.PhaseTimeout)
			defer cancel()

			status, peerBallot, etag, err := cp.client.HeadChunk(reqCtx, node, p.ChunkID, ballot)
			if err != nil {
				return nil
			}
			if peerBallot > ballot {
				return fmt.Errorf("%w: peer %s reports %d > our %d", ErrBallotConflict, node, peerBallot, ballot)
			}
			if status == http.StatusOK && etag == p.Checksum {
				confirmed[i] = true
				return nil
			}
			if status == http.StatusOK && etag != p.Checksum {
				return fmt.Errorf("%w: peer %s returned etag %q, want %q", ErrChecksumMismatch, node, etag, p.Checksum)
			}
			// 404 or anything else: no-response, not confirmed.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var accepted []string
	for i, ok := range confirmed {
		if ok {
			accepted = append(accepted, survivors[i])
		}
	}
	if len(accepted) < quorum {
		return nil, fmt.Errorf("%w: accept got %d/%d", ErrQuorumNotReached, len(accepted), quorum)
	}
	return accepted, nil
}
