package statusfeed

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/microsearch/drivercapture/internal/sample"
	capsync "github.com/microsearch/drivercapture/internal/sync"
)

// CountSource reports local sample counts by sync state.
type CountSource interface {
	Counts(ctx context.Context) (map[sample.SyncState]int, error)
}

// StatsData contains local queue counts
type StatsData struct {
	Pending int `json:"pending"`
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
}

// ReportData summarises one sync pass
type ReportData struct {
	Allowed  bool             `json:"allowed"`
	Reason   string           `json:"reason"`
	Synced   int              `json:"synced"`
	Failed   int              `json:"failed"`
	Skipped  int              `json:"skipped"`
	Duration time.Duration    `json:"duration"`
	Results  []capsync.Result `json:"results,omitempty"`
}

// Publisher turns sync reports and store counts into feed messages.
type Publisher struct {
	server *Server
	counts CountSource
	logger *log.Logger
}

// NewPublisher creates a publisher. counts may be nil, in which case no
// stats messages are sent.
func NewPublisher(server *Server, counts CountSource, logger *log.Logger) *Publisher {
	if logger == nil {
		logger = log.Default()
	}
	return &Publisher{server: server, counts: counts, logger: logger}
}

// OnReport broadcasts a finished pass followed by fresh queue counts. It
// matches the sync engine's report hook.
func (p *Publisher) OnReport(report *capsync.Report) {
	if report == nil {
		return
	}

	data := ReportData{
		Allowed:  report.Decision.Allowed,
		Reason:   report.Decision.Reason,
		Synced:   report.Synced(),
		Failed:   report.Failed(),
		Skipped:  report.Skipped(),
		Duration: report.Duration(),
		Results:  report.Results,
	}
	p.send(MessageTypeSyncReport, report.FinishedAt, data)

	p.PublishStats(context.Background())
}

// PublishStats reads the current counts and broadcasts them.
func (p *Publisher) PublishStats(ctx context.Context) {
	if p.counts == nil {
		return
	}

	counts, err := p.counts.Counts(ctx)
	if err != nil {
		p.logger.Printf("Failed to read sample counts: %v", err)
		return
	}

	p.send(MessageTypeStats, time.Now(), StatsData{
		Pending: counts[sample.StatePending],
		Synced:  counts[sample.StateSynced],
		Failed:  counts[sample.StateFailed],
	})
}

func (p *Publisher) send(typ MessageType, at time.Time, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		p.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	p.server.Broadcast(Message{Type: typ, Timestamp: at, Data: data})
}
