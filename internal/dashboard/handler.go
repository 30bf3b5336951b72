package dashboard

import (
	"log"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/fabtrace/wafersync/internal/ingest"
)

// RunStartedData announces a run.
type RunStartedData struct {
	RunID  string `json:"run_id"`
	DryRun bool   `json:"dry_run,omitempty"`
}

// RunCompleteData summarizes a finished run.
type RunCompleteData struct {
	RunID    string        `json:"run_id"`
	Counts   ingest.Counts `json:"counts"`
	Failures int           `json:"failures"`
	Duration time.Duration `json:"duration"`
}

// FailureData is one failed path.
type FailureData struct {
	RunID string `json:"run_id"`
	ingest.Failure
}

// StatsData holds totals across the runs seen by this process.
type StatsData struct {
	Runs       int       `json:"runs"`
	FailedRuns int       `json:"failed_runs"`
	Inserted   int       `json:"inserted"`
	Updated    int       `json:"updated"`
	Failures   int       `json:"failures"`
	Running    bool      `json:"running"`
	LastRunID  string    `json:"last_run_id,omitempty"`
	LastRunAt  time.Time `json:"last_run_at,omitempty"`
}

// Handler turns ingestion run notifications into dashboard messages. It
// implements ingest.Observer.
type Handler struct {
	server *Server
	logger *log.Logger

	mu    sync.Mutex
	stats StatsData
}

var _ ingest.Observer = (*Handler)(nil)

// NewHandler creates a new event handler connected to a dashboard server.
// New clients receive the current totals as their first message.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	h := &Handler{server: server, logger: logger}
	server.welcome = h.statsMessage
	return h
}

// RunStarted implements ingest.Observer.
func (h *Handler) RunStarted(r *ingest.Report) {
	h.mu.Lock()
	h.stats.Running = true
	h.mu.Unlock()

	h.send(MessageTypeRunStarted, RunStartedData{RunID: r.RunID, DryRun: r.DryRun})
}

// RunFailure implements ingest.Observer.
func (h *Handler) RunFailure(r *ingest.Report, f ingest.Failure) {
	h.mu.Lock()
	h.stats.Failures++
	h.mu.Unlock()

	h.send(MessageTypeFailure, FailureData{RunID: r.RunID, Failure: f})
}

// RunFinished implements ingest.Observer.
func (h *Handler) RunFinished(r *ingest.Report) {
	h.mu.Lock()
	h.stats.Running = false
	h.stats.Runs++
	if r.Failed() {
		h.stats.FailedRuns++
	}
	if !r.DryRun {
		h.stats.Inserted += r.Counts.Inserted
		h.stats.Updated += r.Counts.Updated
	}
	h.stats.LastRunID = r.RunID
	h.stats.LastRunAt = r.FinishedAt
	h.mu.Unlock()

	h.logger.Printf("Run %s complete: inserted=%d updated=%d failures=%d",
		r.RunID, r.Counts.Inserted, r.Counts.Updated, len(r.Failures))

	h.send(MessageTypeRunComplete, RunCompleteData{
		RunID:    r.RunID,
		Counts:   r.Counts,
		Failures: len(r.Failures),
		Duration: r.Duration,
	})
	h.server.Broadcast(h.statsMessage())
}

// GetStats returns the current statistics
func (h *Handler) GetStats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *Handler) statsMessage() Message {
	stats := h.GetStats()
	data, err := json.Marshal(stats)
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
		return Message{Type: MessageTypeStats, Timestamp: time.Now()}
	}
	return Message{Type: MessageTypeStats, Timestamp: time.Now(), Data: data}
}

func (h *Handler) send(typ MessageType, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: time.Now(), Data: data})
}
