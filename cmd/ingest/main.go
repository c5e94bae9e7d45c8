// Package main implements the V-Stack ingest worker: it chunks a video
// file, registers it with the coordinator, uploads every chunk to its
// redundancy set of storage nodes, commits each placement via consensus,
// and finalizes by verifying the resulting manifest.
//
// Architecture:
//
//	┌──────────────────────────────────────────┐
//	│               ingest                      │
//	├──────────────────────────────────────────┤
//	│  ingest.Uploader                          │
//	│    RegisterVideo -> coordinator /video    │
//	│    HealthyNodes  -> /nodes/healthy        │
//	│    UploadChunks  -> per-chunk PUT+commit  │
//	│    Finalize      -> /manifest/{id}        │
//	└──────────────────────────────────────────┘
//
// Configuration, in increasing precedence: built-in defaults, an optional
// -config YAML file, then environment variables / flags.
//
//	coordinator_url:   COORDINATOR_URL / -coordinator (default "http://localhost:8080")
//	redundancy_mode:   INGEST_REDUNDANCY_MODE / -mode ("replication" or "erasure_coding")
//	chunk_size_bytes:  INGEST_CHUNK_SIZE_BYTES / -chunk-size (default 2MiB)
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/dreamware/vstack/internal/config"
	"github.com/dreamware/vstack/internal/ingest"
	"github.com/dreamware/vstack/internal/wire"
)

type fileConfig struct {
	CoordinatorURL string `yaml:"coordinator_url"`
	RedundancyMode string `yaml:"redundancy_mode"`
	ChunkSizeBytes int    `yaml:"chunk_size_bytes"`
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	coordinatorFlag := flag.String("coordinator", "", "coordinator base URL")
	input := flag.String("input", "", "path to the video payload, split into chunks on upload (required)")
	title := flag.String("title", "", "video title (required)")
	durationSec := flag.Int("duration", 0, "video duration in seconds (required)")
	modeFlag := flag.String("mode", "", "redundancy mode: replication or erasure_coding")
	chunkSizeFlag := flag.Int("chunk-size", 0, "chunk size in bytes")
	flag.Parse()

	if *input == "" || *title == "" || *durationSec <= 0 {
		log.Fatal("ingest: -input, -title, and -duration are required")
	}

	var file fileConfig
	if err := config.LoadYAML(*configPath, &file); err != nil {
		log.Fatalf("config: %v", err)
	}
	coordinatorURL := *coordinatorFlag
	if coordinatorURL == "" {
		coordinatorURL = config.Getenv("COORDINATOR_URL", orDefault(file.CoordinatorURL, "http://localhost:8080"))
	}
	modeStr := *modeFlag
	if modeStr == "" {
		modeStr = config.Getenv("INGEST_REDUNDANCY_MODE", orDefault(file.RedundancyMode, string(wire.Replicated)))
	}
	mode := wire.RedundancyMode(modeStr)

	chunkSize := *chunkSizeFlag
	if chunkSize == 0 {
		chunkSize = config.GetenvInt("INGEST_CHUNK_SIZE_BYTES", orDefaultInt(file.ChunkSizeBytes, 2<<20))
	}

	data, err := os.ReadFile(*input)
	if err != nil {
		log.Fatalf("ingest: read input: %v", err)
	}

	cfg := ingest.DefaultConfig
	client := wire.NewClient(cfg.RequestTimeout)
	uploader, err := ingest.New(cfg, coordinatorURL, client)
	if err != nil {
		log.Fatalf("ingest: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := run(ctx, uploader, *title, *durationSec, data, chunkSize, mode, os.Stdout); err != nil {
		log.Fatalf("ingest: %v", err)
	}
}

func run(ctx context.Context, uploader *ingest.Uploader, title string, durationSec int, data []byte, chunkSize int, mode wire.RedundancyMode, out io.Writer) error {
	videoID, err := uploader.RegisterVideo(ctx, title, durationSec)
	if err != nil {
		return fmt.Errorf("register video: %w", err)
	}
	fmt.Fprintf(out, "registered video %s\n", videoID)

	chunks := splitChunks(data, chunkSize)
	err = uploader.UploadChunks(ctx, videoID, chunks, mode, func(p float64) {
		fmt.Fprintf(out, "upload progress: %.0f%%\n", p*100)
	})
	if err != nil {
		return fmt.Errorf("upload chunks: %w", err)
	}

	manifest, err := uploader.Finalize(ctx, videoID, len(chunks))
	if err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	fmt.Fprintf(out, "video %s finalized: %d chunks\n", manifest.VideoID, manifest.TotalChunks)
	return nil
}

// splitChunks dices data into dense, zero-indexed chunks of at most size
// bytes, matching video_processor.py's chunking (the last chunk may be
// shorter).
func splitChunks(data []byte, size int) []ingest.Chunk {
	var chunks []ingest.Chunk
	for i, seq := 0, 0; i < len(data); i, seq = i+size, seq+1 {
		end := i + size
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, ingest.Chunk{SequenceNum: seq, Data: data[i:end]})
	}
	return chunks
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
