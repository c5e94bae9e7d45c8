package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dreamware/vstack/internal/ingest"
	"github.com/dreamware/vstack/internal/wire"
)

func TestSplitChunksDicesIntoDenseSequence(t *testing.T) {
	data := []byte("0123456789abcde") // 15 bytes
	chunks := splitChunks(data, 4)
	require.Len(t, chunks, 4)
	require.Equal(t, []byte("0123"), chunks[0].Data)
	require.Equal(t, []byte("4567"), chunks[1].Data)
	require.Equal(t, []byte("89ab"), chunks[2].Data)
	require.Equal(t, []byte("cde"), chunks[3].Data) // last chunk is shorter
	for i, c := range chunks {
		require.Equal(t, i, c.SequenceNum)
	}
}

func TestOrDefaultHelpers(t *testing.T) {
	require.Equal(t, "fallback", orDefault("", "fallback"))
	require.Equal(t, "set", orDefault("set", "fallback"))
	require.Equal(t, 5, orDefaultInt(0, 5))
	require.Equal(t, 7, orDefaultInt(7, 5))
}

func TestRunRegistersUploadsAndFinalizes(t *testing.T) {
	var mu sync.Mutex
	var chunks []wire.ChunkInfo
	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer node.Close()

	coordinator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/video":
			json.NewEncoder(w).Encode(wire.CreateVideoResponse{VideoID: "v-ingest"})
		case r.URL.Path == "/nodes/healthy":
			json.NewEncoder(w).Encode([]wire.NodeInfo{
				{NodeID: "n1", NodeURL: node.URL},
				{NodeID: "n2", NodeURL: node.URL},
				{NodeID: "n3", NodeURL: node.URL},
			})
		case len(r.URL.Path) > len("/chunk/") && r.URL.Path[:7] == "/chunk/":
			var req wire.CommitRequest
			json.NewDecoder(r.Body).Decode(&req)
			mu.Lock()
			chunks = append(chunks, wire.ChunkInfo{
				ChunkID:        wire.ChunkID(req.VideoID, req.SequenceNum),
				RedundancyMode: req.RedundancyMode,
				Replicas:       req.NodeURLs,
			})
			mu.Unlock()
			json.NewEncoder(w).Encode(wire.CommitResponse{Success: true, CommittedNodes: req.NodeURLs})
		case len(r.URL.Path) > len("/manifest/") && r.URL.Path[:10] == "/manifest/":
			mu.Lock()
			defer mu.Unlock()
			json.NewEncoder(w).Encode(wire.Manifest{VideoID: "v-ingest", TotalChunks: len(chunks), Chunks: chunks})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer coordinator.Close()

	cfg := ingest.DefaultConfig
	uploader, err := ingest.New(cfg, coordinator.URL, wire.NewClient(5*time.Second))
	require.NoError(t, err)

	var out bytes.Buffer
	data := []byte("this is a small video payload used only for testing chunking")
	err = run(context.Background(), uploader, "clip", 12, data, 16, wire.Replicated, &out)
	require.NoError(t, err)
	require.Contains(t, out.String(), "registered video v-ingest")
	require.Contains(t, out.String(), "finalized: 4 chunks")
}
