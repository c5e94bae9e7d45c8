// Package main implements the V-Stack streaming client: given a coordinator
// URL and a video id, it fetches the manifest, probes the storage nodes
// named in it, and streams the video's chunks in sequence order to stdout
// (or a file), backed by the download-ahead buffer and scheduler.
//
// Architecture:
//
//	┌──────────────────────────────────────────┐
//	│               client                      │
//	├──────────────────────────────────────────┤
//	│  nodeprobe.Prober   - per-node score      │
//	│  scheduler.Scheduler - download + retry   │
//	│  buffer.Buffer       - playback buffer    │
//	│  streaming.Session   - download/consume   │
//	└──────────────────────────────────────────┘
//
// Configuration, in increasing precedence: built-in defaults, an optional
// -config YAML file, then environment variables / flags.
//
//	coordinator_url: COORDINATOR_URL / -coordinator (default "http://localhost:8080")
//	output:          -output (default "-", meaning stdout)
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dreamware/vstack/internal/buffer"
	"github.com/dreamware/vstack/internal/config"
	"github.com/dreamware/vstack/internal/nodeprobe"
	"github.com/dreamware/vstack/internal/scheduler"
	"github.com/dreamware/vstack/internal/streaming"
	"github.com/dreamware/vstack/internal/wire"
)

type fileConfig struct {
	CoordinatorURL string `yaml:"coordinator_url"`
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	coordinatorFlag := flag.String("coordinator", "", "coordinator base URL")
	videoID := flag.String("video", "", "video id to stream (required)")
	output := flag.String("output", "-", "output path, \"-\" for stdout")
	flag.Parse()

	if *videoID == "" {
		log.Fatal("client: -video is required")
	}

	var file fileConfig
	if err := config.LoadYAML(*configPath, &file); err != nil {
		log.Fatalf("config: %v", err)
	}
	coordinatorURL := *coordinatorFlag
	if coordinatorURL == "" {
		coordinatorURL = config.Getenv("COORDINATOR_URL", orDefault(file.CoordinatorURL, "http://localhost:8080"))
	}

	out := os.Stdout
	if *output != "-" {
		f, err := os.Create(*output)
		if err != nil {
			log.Fatalf("client: open output: %v", err)
		}
		defer f.Close()
		out = f
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	if err := run(ctx, coordinatorURL, *videoID, out); err != nil {
		log.Fatalf("client: %v", err)
	}
}

func run(ctx context.Context, coordinatorURL, videoID string, out io.Writer) error {
	client := wire.NewClient(10 * time.Second)

	var manifest wire.Manifest
	if err := client.GetJSON(ctx, coordinatorURL+"/manifest/"+videoID, &manifest); err != nil {
		return fmt.Errorf("fetch manifest: %w", err)
	}
	log.Printf("streaming %q: %d chunks, %ds/chunk", manifest.Title, manifest.TotalChunks, manifest.ChunkDurationSec)

	nodeSet := make(map[string]struct{})
	for _, c := range manifest.Chunks {
		for _, r := range c.Replicas {
			nodeSet[r] = struct{}{}
		}
		for _, f := range c.Fragments {
			nodeSet[f.NodeURL] = struct{}{}
		}
	}
	nodes := make([]string, 0, len(nodeSet))
	for n := range nodeSet {
		nodes = append(nodes, n)
	}

	prober := nodeprobe.New(nodeprobe.Config{
		ProbeInterval:        5 * time.Second,
		ProbeTimeout:         2 * time.Second,
		LatencyWindowLen:     20,
		BandwidthWindowLen:   20,
		SuccessWindowLen:     20,
		HealthTTL:            30 * time.Second,
		DefaultBandwidthMbps: 5,
	})
	prober.Start(nodes, client)
	defer prober.Stop()

	sched := scheduler.New(scheduler.DefaultConfig, client, prober)
	buf := buffer.New(buffer.Config{
		ChunkDurationSec: manifest.ChunkDurationSec,
		TargetBufferSec:  30,
		LowWaterMarkSec:  15,
		StartPlaybackSec: 10,
		MaxMemoryBytes:   64 << 20,
	})

	written := make(chan error, 1)
	nextSeq := 0
	session, err := streaming.New(streaming.DefaultConfig, manifest, prober, sched, buf, func(seq int, data []byte) {
		if seq != nextSeq {
			return // out-of-order delivery never happens (buffer guarantees ascending order); defensive no-op
		}
		nextSeq++
		if _, err := out.Write(data); err != nil {
			select {
			case written <- err:
			default:
			}
		}
		if nextSeq >= manifest.TotalChunks {
			select {
			case written <- nil:
			default:
			}
		}
	})
	if err != nil {
		return fmt.Errorf("build session: %w", err)
	}

	session.Start(ctx)
	defer session.Stop()

	select {
	case err := <-written:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
