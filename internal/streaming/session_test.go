package streaming

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dreamware/vstack/internal/buffer"
	"github.com/dreamware/vstack/internal/codec"
	"github.com/dreamware/vstack/internal/scheduler"
	"github.com/dreamware/vstack/internal/wire"
	"github.com/stretchr/testify/require"
)

type fakeProber struct{}

func (fakeProber) Score(string) float64          { return 1 }
func (fakeProber) HealthyNodes() []string        { return nil }
func (fakeProber) UpdateBandwidth(string, float64) {}

func chunkServer(t *testing.T, payload []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(payload)
	}))
}

func smallBufferConfig() buffer.Config {
	return buffer.Config{
		ChunkDurationSec: 1,
		TargetBufferSec:  3,
		LowWaterMarkSec:  2,
		StartPlaybackSec: 1,
		MaxMemoryBytes:   1 << 20,
	}
}

func TestSessionReplicatedDownloadFeedsBuffer(t *testing.T) {
	srv := chunkServer(t, []byte("hello-chunk"))
	defer srv.Close()

	manifest := wire.Manifest{
		VideoID:          "v1",
		TotalChunks:      3,
		ChunkDurationSec: 1,
		Chunks: []wire.ChunkInfo{
			{ChunkID: "v1-chunk-000", SequenceNum: 0, RedundancyMode: wire.Replicated, Replicas: []string{srv.URL}},
			{ChunkID: "v1-chunk-001", SequenceNum: 1, RedundancyMode: wire.Replicated, Replicas: []string{srv.URL}},
			{ChunkID: "v1-chunk-002", SequenceNum: 2, RedundancyMode: wire.Replicated, Replicas: []string{srv.URL}},
		},
	}

	buf := buffer.New(smallBufferConfig())
	sched := scheduler.New(scheduler.DefaultConfig, wire.NewClient(time.Second), fakeProber{})
	sess, err := New(DefaultConfig, manifest, fakeProber{}, sched, buf, func(seq int, data []byte) {})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sess.Start(ctx)
	defer sess.Stop()

	require.Eventually(t, func() bool {
		return buf.Stats().Buffered >= 3
	}, time.Second, 10*time.Millisecond)
}

func TestSessionErasureDownloadDecodesFragments(t *testing.T) {
	c, err := codec.New(codec.Config{DataShards: 3, ParityShards: 2})
	require.NoError(t, err)
	original := []byte("this is the original chunk payload, erasure coded")
	fragments, err := c.Encode("v2-chunk-000", original)
	require.NoError(t, err)

	var servers []*httptest.Server
	for _, f := range fragments {
		f := f
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write(f.Data)
		}))
		servers = append(servers, srv)
	}
	defer func() {
		for _, s := range servers {
			s.Close()
		}
	}()

	var fragInfos []wire.FragmentInfo
	for i, f := range fragments {
		fragInfos = append(fragInfos, wire.FragmentInfo{
			FragmentID:    f.FragmentID,
			ChunkID:       f.ChunkID,
			FragmentIndex: f.FragmentIndex,
			NodeURL:       servers[i].URL,
			Checksum:      f.Checksum,
		})
	}

	manifest := wire.Manifest{
		VideoID:          "v2",
		TotalChunks:      1,
		ChunkDurationSec: 1,
		Chunks: []wire.ChunkInfo{
			{
				ChunkID:        "v2-chunk-000",
				SequenceNum:    0,
				SizeBytes:      len(original),
				RedundancyMode: wire.Erasure,
				Fragments:      fragInfos,
			},
		},
	}

	buf := buffer.New(smallBufferConfig())
	sched := scheduler.New(scheduler.DefaultConfig, wire.NewClient(time.Second), fakeProber{})
	var mu sync.Mutex
	var got []byte
	sess, err := New(DefaultConfig, manifest, fakeProber{}, sched, buf, func(seq int, data []byte) {
		mu.Lock()
		got = data
		mu.Unlock()
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sess.Start(ctx)
	defer sess.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, original, got)
}

func TestSessionStartIsIdempotentAndStopDrains(t *testing.T) {
	srv := chunkServer(t, []byte("x"))
	defer srv.Close()

	manifest := wire.Manifest{
		VideoID:          "v3",
		TotalChunks:      1,
		ChunkDurationSec: 1,
		Chunks: []wire.ChunkInfo{
			{ChunkID: "v3-chunk-000", SequenceNum: 0, RedundancyMode: wire.Replicated, Replicas: []string{srv.URL}},
		},
	}
	buf := buffer.New(smallBufferConfig())
	sched := scheduler.New(scheduler.DefaultConfig, wire.NewClient(time.Second), fakeProber{})
	sess, err := New(DefaultConfig, manifest, fakeProber{}, sched, buf, func(seq int, data []byte) {})
	require.NoError(t, err)

	ctx := context.Background()
	sess.Start(ctx)
	sess.Start(ctx) // no-op
	sess.Stop()
	sess.Stop() // no-op, must not block or panic
}
