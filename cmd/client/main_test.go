package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dreamware/vstack/internal/wire"
)

func TestOrDefault(t *testing.T) {
	require.Equal(t, "fallback", orDefault("", "fallback"))
	require.Equal(t, "set", orDefault("set", "fallback"))
}

func TestRunStreamsChunksInOrder(t *testing.T) {
	chunkData := [][]byte{[]byte("chunk-zero-"), []byte("chunk-one--")}

	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		id := parts[len(parts)-1]
		switch id {
		case "v1-chunk-000":
			w.Write(chunkData[0])
		case "v1-chunk-001":
			w.Write(chunkData[1])
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer node.Close()

	manifest := wire.Manifest{
		VideoID:          "v1",
		Title:            "test clip",
		TotalChunks:      2,
		ChunkDurationSec: 10,
		Chunks: []wire.ChunkInfo{
			{ChunkID: "v1-chunk-000", SequenceNum: 0, RedundancyMode: wire.Replicated, Replicas: []string{node.URL}},
			{ChunkID: "v1-chunk-001", SequenceNum: 1, RedundancyMode: wire.Replicated, Replicas: []string{node.URL}},
		},
	}

	coordinator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(manifest)
	}))
	defer coordinator.Close()

	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, coordinator.URL, "v1", &out)
	require.NoError(t, err)
	require.Equal(t, "chunk-zero-chunk-one--", out.String())
}
