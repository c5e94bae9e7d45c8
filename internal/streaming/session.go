package streaming

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dreamware/vstack/internal/buffer"
	"github.com/dreamware/vstack/internal/codec"
	"github.com/dreamware/vstack/internal/nodeprobe"
	"github.com/dreamware/vstack/internal/scheduler"
	"github.com/dreamware/vstack/internal/wire"
)

// compile-time check that the concrete prober satisfies the scheduler's
// narrow dependency interface.
var _ scheduler.Prober = (*nodeprobe.Prober)(nil)

// Config holds a session's tunables, layered over the component defaults
// (spec.md §4.4).
type Config struct {
	ChangeWaitTimeout time.Duration // bounded wait on "buffer changed"
	CodecConfig       codec.Config
}

// DefaultConfig matches the (3,2) erasure default used elsewhere in the
// system.
var DefaultConfig = Config{
	ChangeWaitTimeout: 2 * time.Second,
	CodecConfig:       codec.Config{DataShards: 3, ParityShards: 2},
}

// Consumer receives chunk bytes in strictly ascending sequence order.
type Consumer func(seq int, data []byte)

// Session drives one video's playback pipeline: a download-ahead loop that
// keeps the buffer above its low water mark, and a consumer loop that hands
// buffered bytes to the caller at playback rate (spec.md §4.4).
type Session struct {
	cfg       Config
	manifest  wire.Manifest
	prober    scheduler.Prober
	scheduler *scheduler.Scheduler
	buffer    *buffer.Buffer
	codec     *codec.Codec
	consume   Consumer

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// New builds a Session for an already-fetched manifest. The caller owns
// starting the prober against the manifest's node set before calling Start.
func New(cfg Config, manifest wire.Manifest, prober scheduler.Prober, sched *scheduler.Scheduler, buf *buffer.Buffer, consume Consumer) (*Session, error) {
	c, err := codec.New(cfg.CodecConfig)
	if err != nil {
		return nil, fmt.Errorf("streaming: build codec: %w", err)
	}
	return &Session{
		cfg:       cfg,
		manifest:  manifest,
		prober:    prober,
		scheduler: sched,
		buffer:    buf,
		codec:     c,
		consume:   consume,
	}, nil
}

// Start launches the download and consumer loops as managed goroutines.
// Calling Start twice while running is a no-op.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.downloadLoop(runCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.consumerLoop(runCtx)
	}()
}

// Stop cancels both loops and waits for them to drain.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
}

func (s *Session) chunkByIndex(idx int) (wire.ChunkInfo, bool) {
	if idx < 0 || idx >= len(s.manifest.Chunks) {
		return wire.ChunkInfo{}, false
	}
	return s.manifest.Chunks[idx], true
}

// downloadLoop keeps the buffer fed: while it needs more, it computes a
// deficit-sized batch of upcoming sequences, resolves each to its manifest
// entry, downloads them (directly for REPLICATED, via erasure decode for
// ERASURE), and adds the bytes to the buffer.
func (s *Session) downloadLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if !s.buffer.NeedsMore() {
			s.buffer.WaitForChange(ctx, s.cfg.ChangeWaitTimeout)
			continue
		}

		target := float64(s.buffer.TargetSec())
		level := s.buffer.LevelSec()
		chunkDur := s.chunkDurationSec()
		deficit := int(math.Ceil((target-level)/float64(chunkDur))) + 2
		if deficit < 1 {
			deficit = 1
		}

		seqs := s.buffer.NextSequencesToFetch(deficit)
		fetchedAny := false
		for _, seq := range seqs {
			if ctx.Err() != nil {
				return
			}
			info, ok := s.chunkByIndex(seq)
			if !ok {
				continue // past end of manifest; nothing more to fetch
			}

			data := s.fetchChunk(ctx, info)
			if data == nil {
				continue
			}
			if _, err := s.buffer.Add(info.ChunkID, seq, data); err != nil {
				continue
			}
			fetchedAny = true
		}
		if !fetchedAny {
			// Every requested sequence was past the manifest's end (or
			// failed outright): nothing left to download. Wait for the
			// consumer to drain the buffer rather than busy-spinning.
			s.buffer.WaitForChange(ctx, s.cfg.ChangeWaitTimeout)
		}
	}
}

func (s *Session) chunkDurationSec() int {
	if s.manifest.ChunkDurationSec <= 0 {
		return 1
	}
	return s.manifest.ChunkDurationSec
}

// fetchChunk resolves one manifest entry to its bytes, dispatching on
// redundancy mode.
func (s *Session) fetchChunk(ctx context.Context, info wire.ChunkInfo) []byte {
	switch info.RedundancyMode {
	case wire.Erasure:
		return s.fetchErasureChunk(ctx, info)
	default:
		results := s.scheduler.Download(ctx, []scheduler.Request{{ChunkID: info.ChunkID, Replicas: info.Replicas}})
		return results[info.ChunkID]
	}
}

// fetchErasureChunk downloads fragments one at a time (each is hosted by a
// single node, unlike a replica set's interchangeable copies) until K have
// succeeded or nodes are exhausted, then decodes.
func (s *Session) fetchErasureChunk(ctx context.Context, info wire.ChunkInfo) []byte {
	need := s.codec.DataShards()
	var frags []codec.Fragment
	for _, fi := range info.Fragments {
		if ctx.Err() != nil {
			return nil
		}
		raw := s.scheduler.Download(ctx, []scheduler.Request{{ChunkID: fi.FragmentID, Replicas: []string{fi.NodeURL}}})
		data := raw[fi.FragmentID]
		if data == nil {
			continue
		}
		frags = append(frags, codec.Fragment{FragmentIndex: fi.FragmentIndex, Data: data, Checksum: fi.Checksum})
		if len(frags) >= need {
			break
		}
	}
	if len(frags) < need {
		return nil
	}
	out, err := s.codec.Decode(frags, info.SizeBytes)
	if err != nil {
		return nil
	}
	return out
}

// consumerLoop waits for playback-ready, then repeatedly takes the next
// chunk and hands it to the consumer, waiting out underruns and gaps with a
// bounded retry instead of busy-looping.
func (s *Session) consumerLoop(ctx context.Context) {
	s.buffer.WaitForPlaybackReady(ctx)

	for {
		if ctx.Err() != nil {
			return
		}

		data, ok, err := s.buffer.Take()
		if err != nil {
			continue
		}
		if !ok {
			s.buffer.WaitForChange(ctx, s.cfg.ChangeWaitTimeout)
			continue
		}

		seq := s.buffer.Stats().CurrentPosition - 1
		s.consume(seq, data)
	}
}
