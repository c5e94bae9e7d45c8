// Package main implements the V-Stack coordinator service, the control plane
// that tracks cluster membership, decides chunk placement via ChunkPaxos, and
// serves video manifests to streaming clients.
//
// The coordinator is the central authority for the distributed video storage
// cluster, responsible for:
//   - Video and chunk metadata (metastore.Store)
//   - Placement consensus for newly uploaded chunks (consensus.ChunkPaxos)
//   - Node liveness tracking via heartbeat TTL (coordinator.LivenessMonitor)
//   - Redundancy mode decisions and popularity-driven recommendations
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│            Coordinator                   │
//	├─────────────────────────────────────────┤
//	│  HTTP API:                              │
//	│    GET  /manifest/{video_id}            │
//	│    POST /video                          │
//	│    POST /chunk/{id}/commit              │
//	│    POST /nodes/{node_id}/heartbeat      │
//	│    GET  /nodes/healthy                  │
//	│    POST /video/{id}/view                │
//	│    GET  /video/{id}/redundancy          │
//	│    POST /video/{id}/redundancy/override │
//	├─────────────────────────────────────────┤
//	│  Components:                            │
//	│    coordinator.Server   - HTTP handlers │
//	│    metastore.Store      - metadata      │
//	│    consensus.ChunkPaxos - placement     │
//	│    coordinator.LivenessMonitor          │
//	└─────────────────────────────────────────┘
//
// Configuration, in increasing precedence: built-in defaults, an optional
// -config YAML file, then environment variables.
//
//	addr:                     COORDINATOR_ADDR (default ":8080")
//	node_heartbeat_ttl:       NODE_HEARTBEAT_TTL (default "30s")
//	liveness_check_interval: LIVENESS_CHECK_INTERVAL (default "5s")
//	storage_nodes:            STORAGE_NODES, comma-separated id=url pairs,
//	                          e.g. "node-1=http://localhost:9001,node-2=http://localhost:9002"
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dreamware/vstack/internal/config"
	"github.com/dreamware/vstack/internal/consensus"
	"github.com/dreamware/vstack/internal/coordinator"
	"github.com/dreamware/vstack/internal/metastore"
	"github.com/dreamware/vstack/internal/redundancy"
	"github.com/dreamware/vstack/internal/wire"
)

// fileConfig is the shape of the optional -config YAML file.
type fileConfig struct {
	Addr                  string `yaml:"addr"`
	NodeHeartbeatTTL      string `yaml:"node_heartbeat_ttl"`
	LivenessCheckInterval string `yaml:"liveness_check_interval"`
	StorageNodes          string `yaml:"storage_nodes"`
}

// main initializes and runs the coordinator service, setting up HTTP endpoints
// for cluster management and gracefully handling shutdown signals.
//
// The main function:
//  1. Loads config from the optional -config file and environment
//  2. Builds the metastore, ChunkPaxos instance, and redundancy policy/advisor
//  3. Seeds the static node set
//  4. Starts the liveness monitor in the background
//  5. Starts the HTTP server in a goroutine for non-blocking operation
//  6. Waits for SIGINT/SIGTERM, then shuts both down gracefully
func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	var file fileConfig
	if err := config.LoadYAML(*configPath, &file); err != nil {
		log.Fatalf("config: %v", err)
	}

	addr := config.Getenv("COORDINATOR_ADDR", orDefault(file.Addr, ":8080"))
	heartbeatTTL := config.GetenvDuration("NODE_HEARTBEAT_TTL", parseDurationOr(file.NodeHeartbeatTTL, 30*time.Second))
	livenessInterval := config.GetenvDuration("LIVENESS_CHECK_INTERVAL", parseDurationOr(file.LivenessCheckInterval, 5*time.Second))
	storageNodes := config.Getenv("STORAGE_NODES", file.StorageNodes)

	store := metastore.NewMemoryStore()
	client := wire.NewClient(5 * time.Second)
	paxos := consensus.New(store, client, consensus.DefaultConfig)
	policy := redundancy.NewPolicy(redundancy.DefaultConfig)
	advisor := redundancy.NewAdvisor(redundancy.DefaultConfig)

	cfg := coordinator.DefaultConfig
	cfg.NodeHeartbeatTTL = heartbeatTTL
	srv := coordinator.NewServer(cfg, store, paxos, policy, advisor)

	nodes := parseStaticNodes(storageNodes)
	if len(nodes) > 0 {
		if err := srv.SeedNodes(nodes); err != nil {
			log.Fatalf("seed nodes: %v", err)
		}
		log.Printf("seeded %d storage node(s)", len(nodes))
	} else {
		log.Printf("no storage nodes configured; heartbeats will 404 until nodes are seeded")
	}

	monitor := coordinator.NewLivenessMonitor(store, livenessInterval, heartbeatTTL)
	monitor.SetOnDown(func(nodeID string) {
		log.Printf("node %s missed its heartbeat TTL, marking down", nodeID)
	})
	monitor.Start(context.Background())

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("coordinator listening on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("stopping liveness monitor...")
	monitor.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	log.Println("coordinator stopped")
}

// parseStaticNodes parses a "id=url,id=url" list into metastore.Node seeds.
// Each entry is split at its first '='; entries with no '=', or with an
// empty id or URL, are skipped with a warning,
// since a malformed entry almost always means a typo in STORAGE_NODES rather
// than a node the operator actually wants to drop.
func parseStaticNodes(raw string) []metastore.Node {
	if raw == "" {
		return nil
	}
	var nodes []metastore.Node
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			log.Printf("skipping malformed STORAGE_NODES entry %q", entry)
			continue
		}
		nodes = append(nodes, metastore.Node{NodeID: parts[0], BaseURL: parts[1]})
	}
	return nodes
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func parseDurationOr(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	if parsed, err := time.ParseDuration(v); err == nil {
		return parsed
	}
	return def
}
