package coordinator

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/vstack/internal/consensus"
	"github.com/dreamware/vstack/internal/metastore"
	"github.com/dreamware/vstack/internal/redundancy"
	"github.com/dreamware/vstack/internal/wire"
)

// Config holds the server's tunables. NodeHeartbeatTTL feeds both
// /nodes/healthy and the LivenessMonitor sweep.
type Config struct {
	NodeHeartbeatTTL time.Duration
	ChunkDurationSec int
	ChunkSizeBytes   int
}

// DefaultConfig matches spec.md's implicit defaults: a 30s heartbeat TTL (3x
// a 10s heartbeat interval, the same ratio torua's health monitor used
// between check interval and failure threshold), 10s chunks, 2 MiB chunks.
var DefaultConfig = Config{
	NodeHeartbeatTTL: 30 * time.Second,
	ChunkDurationSec: 10,
	ChunkSizeBytes:   2 << 20,
}

// Server is the coordinator's HTTP handler state: metadata store, consensus
// engine, and redundancy policy, wired into net/http.ServeMux routes
// (spec.md §6, SPEC_FULL.md §6's addition). Grounded on
// cmd/coordinator/main.go's server struct — same shape (state + mutex-free
// since each dependency manages its own concurrency), same route-table
// style.
type Server struct {
	cfg     Config
	store   metastore.Store
	paxos   *consensus.ChunkPaxos
	policy  *redundancy.Policy
	advisor *redundancy.Advisor
}

// NewServer builds a Server over the given dependencies.
func NewServer(cfg Config, store metastore.Store, paxos *consensus.ChunkPaxos, policy *redundancy.Policy, advisor *redundancy.Advisor) *Server {
	return &Server{cfg: cfg, store: store, paxos: paxos, policy: policy, advisor: advisor}
}

// Routes builds the coordinator's ServeMux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/manifest/", s.handleManifest)
	mux.HandleFunc("/video", s.handleCreateVideo)
	mux.HandleFunc("/chunk/", s.handleChunkCommit)
	mux.HandleFunc("/nodes/healthy", s.handleListHealthyNodes)
	mux.HandleFunc("/nodes/", s.handleNodeHeartbeat)
	mux.HandleFunc("/video/", s.handleVideoSubresource)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleManifest serves GET /manifest/{video_id}: the video row plus its
// committed chunks, each carrying its replica URLs or fragment metadata
// (spec.md §6).
func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	videoID := strings.TrimPrefix(r.URL.Path, "/manifest/")
	if videoID == "" {
		writeError(w, http.StatusBadRequest, "missing video_id")
		return
	}

	video, err := s.store.GetVideo(videoID)
	if err != nil {
		writeError(w, http.StatusNotFound, "video not found")
		return
	}
	chunks, err := s.store.ListChunks(videoID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := wire.Manifest{
		VideoID:          video.VideoID,
		Title:            video.Title,
		DurationSec:      video.DurationSec,
		TotalChunks:      video.TotalChunks,
		ChunkDurationSec: video.ChunkDurationSec,
		ChunkSizeBytes:   video.ChunkSizeBytes,
		Status:           string(video.Status),
	}
	for _, c := range chunks {
		info := wire.ChunkInfo{
			ChunkID:        c.ChunkID,
			SequenceNum:    c.SequenceNum,
			SizeBytes:      c.SizeBytes,
			Checksum:       c.Checksum,
			RedundancyMode: c.RedundancyMode,
		}
		switch c.RedundancyMode {
		case wire.Replicated:
			replicas, _ := s.store.GetReplicas(c.ChunkID)
			for _, rep := range replicas {
				info.Replicas = append(info.Replicas, rep.NodeURL)
			}
		case wire.Erasure:
			fragments, _ := s.store.GetFragments(c.ChunkID)
			for _, f := range fragments {
				info.Fragments = append(info.Fragments, wire.FragmentInfo{
					FragmentID:    f.FragmentID,
					ChunkID:       f.ChunkID,
					FragmentIndex: f.FragmentIndex,
					NodeURL:       f.NodeURL,
					SizeBytes:     f.SizeBytes,
					Checksum:      f.Checksum,
				})
			}
		}
		out.Chunks = append(out.Chunks, info)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCreateVideo serves POST /video: registers a new video and returns
// its coordinator-assigned id (spec.md §9: the id the coordinator returns
// here is the only authoritative video_id).
func (s *Server) handleCreateVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var req wire.CreateVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}

	video, err := s.store.CreateVideo(req.Title, req.DurationSec, s.cfg.ChunkDurationSec, s.cfg.ChunkSizeBytes)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, wire.CreateVideoResponse{
		VideoID:   video.VideoID,
		UploadURL: fmt.Sprintf("/video/%s/chunks", video.VideoID),
	})
}

// handleChunkCommit serves POST /chunk/{id}/commit: runs ChunkPaxos to
// decide the chunk's placement (spec.md §4.5, §6).
func (s *Server) handleChunkCommit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	chunkID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/chunk/"), "/commit")
	if chunkID == "" || !strings.HasSuffix(r.URL.Path, "/commit") {
		writeError(w, http.StatusBadRequest, "bad path")
		return
	}

	var req wire.CommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}

	placement := wire.NewReplicatedPlacement(req.NodeURLs)
	if req.RedundancyMode == wire.Erasure {
		placement = wire.NewErasurePlacement(req.FragmentsMetadata)
	}

	ok, committedNodes, err := s.paxos.ProposePlacement(r.Context(), consensus.Proposal{
		ChunkID:     chunkID,
		VideoID:     req.VideoID,
		SequenceNum: req.SequenceNum,
		Checksum:    req.Checksum,
		SizeBytes:   req.SizeBytes,
		NodeURLs:    req.NodeURLs,
		Placement:   placement,
	})
	if err != nil {
		log.Printf("chunk commit %s: %v", chunkID, err)
	}
	if !ok {
		writeJSON(w, http.StatusConflict, wire.CommitResponse{Success: false, Message: "consensus failed"})
		return
	}
	writeJSON(w, http.StatusOK, wire.CommitResponse{Success: true, CommittedNodes: committedNodes})
}

// handleNodeHeartbeat serves POST /nodes/{node_id}/heartbeat.
func (s *Server) handleNodeHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	nodeID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/nodes/"), "/heartbeat")
	if nodeID == "" {
		writeError(w, http.StatusBadRequest, "missing node_id")
		return
	}

	var req wire.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}

	if err := s.store.Heartbeat(nodeID, req.DiskUsagePercent, req.ChunkCount); err != nil {
		if err == metastore.ErrNotFound {
			writeError(w, http.StatusNotFound, "node not registered")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListHealthyNodes serves GET /nodes/healthy.
func (s *Server) handleListHealthyNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	nodes, err := s.store.ListHealthyNodes(s.cfg.NodeHeartbeatTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// MemoryStore.ListHealthyNodes iterates a map; sort for a stable response
	// the way torua's handleListNodes does via golang.org/x/exp/slices.
	slices.SortFunc(nodes, func(a, b metastore.Node) int { return strings.Compare(a.NodeID, b.NodeID) })

	out := make([]wire.NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, wire.NodeInfo{NodeID: n.NodeID, NodeURL: n.BaseURL, Status: string(n.Status)})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleVideoSubresource dispatches the three SPEC_FULL.md §6 additions:
// POST /video/{id}/view, GET /video/{id}/redundancy, and
// POST /video/{id}/redundancy/override.
func (s *Server) handleVideoSubresource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/video/")
	switch {
	case strings.HasSuffix(path, "/view"):
		s.handleRecordView(w, r, strings.TrimSuffix(path, "/view"))
	case strings.HasSuffix(path, "/redundancy/override"):
		s.handleRedundancyOverride(w, r, strings.TrimSuffix(path, "/redundancy/override"))
	case strings.HasSuffix(path, "/redundancy"):
		s.handleRedundancy(w, r, strings.TrimSuffix(path, "/redundancy"))
	default:
		writeError(w, http.StatusNotFound, "unknown video subresource")
	}
}

func (s *Server) handleRecordView(w http.ResponseWriter, r *http.Request, videoID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	if err := s.store.RecordView(videoID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type redundancyResponse struct {
	Decision       redundancy.Decision       `json:"decision"`
	Recommendation *redundancy.Recommendation `json:"recommendation,omitempty"`
}

func (s *Server) handleRedundancy(w http.ResponseWriter, r *http.Request, videoID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	pop, err := s.store.GetPopularity(videoID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	decision := s.policy.Decide(videoID, pop.ViewCount)
	resp := redundancyResponse{Decision: decision}

	if trend := redundancy.Trend(r.URL.Query().Get("trend")); trend != "" {
		rec := s.advisor.Recommend(decision.Mode, pop.ViewCount, trend)
		if rec.Mode != "" {
			resp.Recommendation = &rec
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRedundancyOverride(w http.ResponseWriter, r *http.Request, videoID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	if req.Mode == "" {
		s.policy.ClearOverride(videoID)
	} else {
		s.policy.SetOverride(videoID, wire.RedundancyMode(req.Mode))
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SeedNodes registers the cluster's fixed node set at startup: node
// identity and base URL are static configuration, not something nodes
// self-announce over HTTP (spec.md §6 names no node-registration endpoint;
// heartbeats carry only disk usage and chunk count, keyed by a node_id
// already known to the path). Heartbeats update liveness and usage for an
// already-seeded node; they never introduce a new one.
func (s *Server) SeedNodes(nodes []metastore.Node) error {
	for _, n := range nodes {
		if err := s.store.RegisterNode(n); err != nil {
			return err
		}
	}
	return nil
}

// CandidateNodes exposes candidateNodes, applied to the currently healthy
// nodes, to callers outside the package. The ingest worker does not use it;
// it samples its target nodes at random.
func (s *Server) CandidateNodes(chunkID string, n int) ([]string, error) {
	nodes, err := s.store.ListHealthyNodes(s.cfg.NodeHeartbeatTTL)
	if err != nil {
		return nil, err
	}
	urls := make([]string, len(nodes))
	for i, nd := range nodes {
		urls[i] = nd.BaseURL
	}
	return candidateNodes(chunkID, urls, n), nil
}
