package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/reportgate/internal/archive"
	"github.com/danmuck/reportgate/internal/protocol"
	"github.com/rs/zerolog/log"
)

const (
	DefaultRecorderLimit = 256

	ReplyRecorded    = "worker-report-recorded"
	replyErrorPrefix = "worker-report-error:"
	reasonNoReport   = "missing worker report"
)

// RecordedReport is one accepted worker report with its envelope identifiers.
type RecordedReport struct {
	ChannelID  string                `json:"channel_id"`
	SessionID  string                `json:"session_id"`
	Report     protocol.WorkerReport `json:"report"`
	ReceivedAt time.Time             `json:"received_at"`
}

// ReportSource exposes recorded history to the admin surface.
type ReportSource interface {
	RecentReports(limit int) []RecordedReport
	ReportCount() int
}

// ReportArchive stores encoded reports outside process memory.
type ReportArchive interface {
	Write(rel string, content []byte) error
}

// Recorder is a Handler that keeps a bounded history of worker reports.
type Recorder struct {
	mu      sync.Mutex
	limit   int
	reports []RecordedReport
	total   int
	now     func() time.Time
	archive ReportArchive
}

var (
	_ Handler      = (*Recorder)(nil)
	_ ReportSource = (*Recorder)(nil)
)

func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = DefaultRecorderLimit
	}
	return &Recorder{
		limit:   limit,
		reports: make([]RecordedReport, 0),
		now:     time.Now,
	}
}

// WithArchive makes every accepted report durable before it is acknowledged.
func (r *Recorder) WithArchive(a ReportArchive) *Recorder {
	r.archive = a
	return r
}

func (r *Recorder) Handle(_ context.Context, event protocol.ChannelEvent) protocol.ChannelEvent {
	report, ok, err := event.Report()
	if err != nil {
		log.Warn().Str("channel_id", event.ChannelID.String()).Err(err).Msg("gateway.Recorder.Handle bad report")
		return protocol.ErrorEvent(event.ChannelID, event.SessionID, replyErrorPrefix+err.Error())
	}
	if !ok {
		return protocol.ErrorEvent(event.ChannelID, event.SessionID, replyErrorPrefix+reasonNoReport)
	}

	rec := RecordedReport{
		ChannelID:  event.ChannelID.String(),
		SessionID:  event.SessionID.String(),
		Report:     report,
		ReceivedAt: r.now(),
	}
	if err := r.persist(rec); err != nil {
		log.Error().Str("call_id", report.CallID).Err(err).Msg("gateway.Recorder.Handle archive")
		return protocol.ErrorEvent(event.ChannelID, event.SessionID, replyErrorPrefix+"archive failed")
	}
	r.append(rec)
	log.Info().
		Str("call_id", report.CallID).
		Str("worker_id", report.WorkerID).
		Str("image", report.Image).
		Int64("exit_code", report.WorkerOutput.ExitCode).
		Msg("gateway.Recorder.Handle recorded")
	return protocol.NewChannelEvent(event.ChannelID, event.SessionID, ReplyRecorded)
}

// RecentReports returns up to limit of the newest reports, oldest first.
// limit <= 0 returns the whole retained history.
func (r *Recorder) RecentReports(limit int) []RecordedReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || len(r.reports) <= limit {
		out := make([]RecordedReport, len(r.reports))
		copy(out, r.reports)
		return out
	}
	out := make([]RecordedReport, limit)
	copy(out, r.reports[len(r.reports)-limit:])
	return out
}

// ReportCount is the number of reports recorded since start, including
// entries already evicted from history.
func (r *Recorder) ReportCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

func (r *Recorder) append(rec RecordedReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total++
	r.reports = append(r.reports, rec)
	if over := len(r.reports) - r.limit; over > 0 {
		r.reports = append(r.reports[:0:0], r.reports[over:]...)
	}
}

// ArchivePath is where rec is stored: <worker_id>/<call_id>.json.
func ArchivePath(rec RecordedReport) string {
	return archive.Segment(rec.Report.WorkerID) + "/" + archive.Segment(rec.Report.CallID) + ".json"
}

func (r *Recorder) persist(rec RecordedReport) error {
	if r.archive == nil {
		return nil
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return r.archive.Write(ArchivePath(rec), body)
}

func reportSourceOf(h Handler) ReportSource {
	if src, ok := h.(ReportSource); ok {
		return src
	}
	return nil
}
