package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dreamware/vstack/internal/codec"
	"github.com/dreamware/vstack/internal/wire"
)

// Config holds the upload worker's tunables (spec.md §9's explicit-typed-config
// convention).
type Config struct {
	ReplicasPerChunk     int
	MaxConcurrentUploads int
	MaxRetries           int
	BackoffBase          time.Duration
	RequestTimeout       time.Duration
	Codec                codec.Config
}

// DefaultConfig mirrors upload_coordinator.py's constructor defaults: 3
// replicas per chunk, 5 concurrent uploads, 3 retries, exponential backoff
// starting at 1s (Python's `2 ** attempt` seconds).
var DefaultConfig = Config{
	ReplicasPerChunk:     3,
	MaxConcurrentUploads: 5,
	MaxRetries:           3,
	BackoffBase:          time.Second,
	RequestTimeout:       30 * time.Second,
	Codec:                codec.DefaultConfig,
}

// minReplicaQuorum is the minimum number of successful node writes a chunk
// upload needs before its placement is committed, per upload_coordinator.py's
// `min_replicas = min(2, self.replicas_per_chunk)`.
func minReplicaQuorum(replicasPerChunk int) int {
	if replicasPerChunk < 2 {
		return replicasPerChunk
	}
	return 2
}

// Chunk is one piece of a video awaiting upload. Sequence numbers must be
// dense starting at 0, matching video_processor.py's chunk splitting.
type Chunk struct {
	SequenceNum int
	Data        []byte
}

// Uploader drives the ingest path for a single coordinator endpoint.
type Uploader struct {
	cfg         Config
	coordinator string
	client      *wire.Client
	codec       *codec.Codec
}

// New builds an Uploader talking to the coordinator at baseURL.
func New(cfg Config, coordinatorBaseURL string, client *wire.Client) (*Uploader, error) {
	c, err := codec.New(cfg.Codec)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	return &Uploader{cfg: cfg, coordinator: coordinatorBaseURL, client: client, codec: c}, nil
}

// RegisterVideo registers a new video with the coordinator and returns the
// coordinator-assigned video ID — never a locally generated one, since
// video identity is owned by the coordinator's metastore.
func (u *Uploader) RegisterVideo(ctx context.Context, title string, durationSec int) (string, error) {
	var resp wire.CreateVideoResponse
	req := wire.CreateVideoRequest{Title: title, DurationSec: durationSec}
	if err := u.client.PostJSON(ctx, u.coordinator+"/video", req, &resp); err != nil {
		return "", fmt.Errorf("ingest: register video: %w", err)
	}
	return resp.VideoID, nil
}

// HealthyNodes asks the coordinator for the current healthy storage node
// set, returning their base URLs.
func (u *Uploader) HealthyNodes(ctx context.Context) ([]string, error) {
	var nodes []wire.NodeInfo
	if err := u.client.GetJSON(ctx, u.coordinator+"/nodes/healthy", &nodes); err != nil {
		return nil, fmt.Errorf("ingest: healthy nodes: %w", err)
	}
	urls := make([]string, len(nodes))
	for i, n := range nodes {
		urls[i] = n.NodeURL
	}
	return urls, nil
}

// UploadChunks uploads every chunk under mode, bounding concurrency to
// cfg.MaxConcurrentUploads, and reports fractional progress after each
// chunk completes. It fails fast on the first chunk whose upload cannot
// reach quorum after retries, mirroring upload_coordinator.py's
// asyncio.gather(return_exceptions=True) + first-error-wins behavior.
func (u *Uploader) UploadChunks(ctx context.Context, videoID string, chunks []Chunk, mode wire.RedundancyMode, progress func(float64)) error {
	nodes, err := u.HealthyNodes(ctx)
	if err != nil {
		return err
	}
	need := u.cfg.ReplicasPerChunk
	if mode == wire.Erasure {
		need = u.cfg.Codec.TotalShards()
	}
	if len(nodes) < need {
		return fmt.Errorf("ingest: insufficient storage nodes: need %d, have %d", need, len(nodes))
	}

	sem := semaphore.NewWeighted(int64(u.cfg.MaxConcurrentUploads))
	g, gctx := errgroup.WithContext(ctx)

	total := len(chunks)
	var completed atomic.Int32
	for _, chunk := range chunks {
		chunk := chunk
		if err := sem.Acquire(gctx, 1); err != nil {
			return err
		}
		g.Go(func() error {
			defer sem.Release(1)
			if err := u.uploadSingleChunk(gctx, videoID, chunk, mode, nodes); err != nil {
				return err
			}
			done := completed.Add(1)
			if progress != nil {
				progress(float64(done) / float64(total))
			}
			return nil
		})
	}
	return g.Wait()
}

// uploadSingleChunk uploads one chunk to its target nodes with retry,
// committing placement once quorum is reached.
func (u *Uploader) uploadSingleChunk(ctx context.Context, videoID string, chunk Chunk, mode wire.RedundancyMode, healthy []string) error {
	chunkID := wire.ChunkID(videoID, chunk.SequenceNum)
	quorum := minReplicaQuorum(u.cfg.ReplicasPerChunk)

	var lastErr error
	for attempt := 0; attempt <= u.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(u.cfg.BackoffBase * time.Duration(int64(1)<<uint(attempt-1))):
			}
		}

		if mode == wire.Erasure {
			lastErr = u.commitErasureChunk(ctx, videoID, chunkID, chunk, healthy)
		} else {
			lastErr = u.commitReplicatedChunk(ctx, videoID, chunkID, chunk, healthy, quorum)
		}
		if lastErr == nil {
			return nil
		}
		log.Printf("ingest: attempt %d/%d for %s failed: %v", attempt+1, u.cfg.MaxRetries+1, chunkID, lastErr)
	}
	return fmt.Errorf("ingest: chunk %s failed after %d attempts: %w", chunkID, u.cfg.MaxRetries+1, lastErr)
}

// commitReplicatedChunk picks ReplicasPerChunk random target nodes, PUTs the
// chunk to each in parallel, and commits placement if at least quorum
// succeeded.
func (u *Uploader) commitReplicatedChunk(ctx context.Context, videoID, chunkID string, chunk Chunk, healthy []string, quorum int) error {
	targets := sampleNodes(healthy, u.cfg.ReplicasPerChunk)
	checksum := sha256Hex(chunk.Data)

	g, gctx := errgroup.WithContext(ctx)
	successful := make([]string, 0, len(targets))
	var mu sync.Mutex
	for _, node := range targets {
		node := node
		g.Go(func() error {
			err := u.client.PutBytes(gctx, fmt.Sprintf("%s/chunk/%s", node, chunkID), chunk.Data, checksum)
			if err != nil {
				log.Printf("ingest: upload to %s failed: %v", node, err)
				return nil // a single node failure is not fatal; quorum is checked below
			}
			mu.Lock()
			successful = append(successful, node)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(successful) < quorum {
		return fmt.Errorf("only %d/%d nodes accepted the chunk", len(successful), quorum)
	}

	req := wire.CommitRequest{
		NodeURLs:       successful,
		Checksum:       checksum,
		SizeBytes:      len(chunk.Data),
		VideoID:        videoID,
		SequenceNum:    chunk.SequenceNum,
		RedundancyMode: wire.Replicated,
	}
	return u.commit(ctx, chunkID, req)
}

// commitErasureChunk encodes the chunk into K+M fragments and puts each
// fragment to a distinct node, then commits placement once all fragments
// land — erasure fragments are not interchangeable, so there is no partial
// quorum here: any missing fragment placement is a failed upload.
func (u *Uploader) commitErasureChunk(ctx context.Context, videoID, chunkID string, chunk Chunk, healthy []string) error {
	fragments, err := u.codec.Encode(chunkID, chunk.Data)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if len(healthy) < len(fragments) {
		return fmt.Errorf("need %d nodes for erasure fragments, have %d", len(fragments), len(healthy))
	}
	targets := sampleNodes(healthy, len(fragments))

	g, gctx := errgroup.WithContext(ctx)
	meta := make([]wire.FragmentInfo, len(fragments))
	for i, frag := range fragments {
		i, frag, node := i, frag, targets[i]
		meta[i] = wire.FragmentInfo{
			FragmentID:    frag.FragmentID,
			ChunkID:       frag.ChunkID,
			FragmentIndex: frag.FragmentIndex,
			NodeURL:       node,
			SizeBytes:     len(frag.Data),
			Checksum:      frag.Checksum,
		}
		g.Go(func() error {
			// Keyed by fragment id, not chunk id: the scheduler's download
			// path (internal/streaming.fetchErasureChunk) fetches each
			// fragment with a one-node Request{ChunkID: fragmentID}, so the
			// storage node's chunk route must serve fragments under their
			// own id too.
			url := fmt.Sprintf("%s/chunk/%s", node, frag.FragmentID)
			return u.client.PutBytes(gctx, url, frag.Data, frag.Checksum)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("fragment upload: %w", err)
	}

	req := wire.CommitRequest{
		Checksum:          sha256Hex(chunk.Data),
		SizeBytes:         len(chunk.Data),
		VideoID:           videoID,
		SequenceNum:       chunk.SequenceNum,
		RedundancyMode:    wire.Erasure,
		FragmentsMetadata: meta,
	}
	return u.commit(ctx, chunkID, req)
}

func (u *Uploader) commit(ctx context.Context, chunkID string, req wire.CommitRequest) error {
	var resp wire.CommitResponse
	if err := u.client.PostJSON(ctx, fmt.Sprintf("%s/chunk/%s/commit", u.coordinator, chunkID), req, &resp); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("consensus rejected placement: %s", resp.Message)
	}
	return nil
}

// Finalize fetches the video's manifest, logs (without failing) a mismatch
// between expectedChunks and the manifest's chunk count, and fails if any
// listed chunk has no replica or fragment recorded, mirroring
// upload_coordinator.py's finalize_video.
func (u *Uploader) Finalize(ctx context.Context, videoID string, expectedChunks int) (wire.Manifest, error) {
	var manifest wire.Manifest
	if err := u.client.GetJSON(ctx, u.coordinator+"/manifest/"+videoID, &manifest); err != nil {
		return manifest, fmt.Errorf("ingest: finalize: %w", err)
	}
	if manifest.TotalChunks != expectedChunks {
		log.Printf("ingest: chunk count mismatch for %s: expected %d, got %d", videoID, expectedChunks, manifest.TotalChunks)
	}
	for _, c := range manifest.Chunks {
		if c.RedundancyMode == wire.Replicated && len(c.Replicas) == 0 {
			return manifest, fmt.Errorf("ingest: chunk %s has no replicas", c.ChunkID)
		}
		if c.RedundancyMode == wire.Erasure && len(c.Fragments) == 0 {
			return manifest, fmt.Errorf("ingest: chunk %s has no fragments", c.ChunkID)
		}
	}
	return manifest, nil
}

// sampleNodes returns n distinct nodes chosen at random from healthy,
// mirroring upload_coordinator.py's random.sample. There is no ecosystem
// shuffling library in the reference pack, so this uses math/rand/v2
// directly, same as the Python original reaches for its own stdlib.
func sampleNodes(healthy []string, n int) []string {
	if n > len(healthy) {
		n = len(healthy)
	}
	shuffled := make([]string, len(healthy))
	copy(shuffled, healthy)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled[:n]
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

