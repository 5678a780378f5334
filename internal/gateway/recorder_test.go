package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/reportgate/internal/archive"
	"github.com/danmuck/reportgate/internal/protocol"
	"github.com/danmuck/reportgate/internal/testutil/testlog"
)

func TestRecorderRejectsEventWithoutReport(t *testing.T) {
	testlog.Start(t)
	rec := NewRecorder(4)
	ch, _ := protocol.NewChannelID("cli", "local")
	resp := rec.Handle(context.Background(), protocol.NewChannelEvent(ch, "ses-1", "hello"))
	if !resp.IsError || resp.Content != "worker-report-error:missing worker report" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.ChannelID != ch || resp.SessionID != "ses-1" {
		t.Fatalf("response should echo request ids: %+v", resp)
	}
	if rec.ReportCount() != 0 {
		t.Fatalf("nothing should be recorded")
	}
}

func TestRecorderKeepsBoundedHistory(t *testing.T) {
	testlog.Start(t)
	rec := NewRecorder(3)
	for i := 0; i < 5; i++ {
		resp := rec.Handle(context.Background(), reportEvent(t, fmt.Sprintf("call-%d", i)))
		if resp.IsError || resp.Content != ReplyRecorded {
			t.Fatalf("record %d: unexpected response %+v", i, resp)
		}
	}
	if rec.ReportCount() != 5 {
		t.Fatalf("expected total 5, got %d", rec.ReportCount())
	}
	all := rec.RecentReports(0)
	if len(all) != 3 {
		t.Fatalf("expected 3 retained reports, got %d", len(all))
	}
	if all[0].Report.CallID != "call-2" || all[2].Report.CallID != "call-4" {
		t.Fatalf("unexpected retained window: %s..%s", all[0].Report.CallID, all[2].Report.CallID)
	}
	last := rec.RecentReports(1)
	if len(last) != 1 || last[0].Report.CallID != "call-4" {
		t.Fatalf("unexpected newest report: %+v", last)
	}
}

func TestRecorderStampsReceiveTime(t *testing.T) {
	testlog.Start(t)
	rec := NewRecorder(1)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec.now = func() time.Time { return fixed }
	rec.Handle(context.Background(), reportEvent(t, "call-time"))
	if got := rec.RecentReports(1)[0].ReceivedAt; !got.Equal(fixed) {
		t.Fatalf("unexpected receive time %v", got)
	}
}

func TestAdminRoutes(t *testing.T) {
	testlog.Start(t)
	rec := NewRecorder(8)
	rec.Handle(context.Background(), reportEvent(t, "call-x"))
	rec.Handle(context.Background(), reportEvent(t, "call-y"))
	admin := NewAdmin("gw-admin", AdminConfig{Token: "s3cret"}, rec)
	router := admin.HTTPRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"gateway":"gw-admin"`) {
		t.Fatalf("health: code=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "reportgate_") {
		t.Fatalf("metrics: code=%d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/reports", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("reports without token: expected 401, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/reports", nil)
	req.Header.Set("Authorization", "Basic s3cret")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("reports with non-bearer scheme: expected 401, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/reports?limit=1", nil)
	req.Header.Set("Authorization", "bearer s3cret")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("reports: code=%d body=%s", rr.Code, rr.Body.String())
	}
	var out struct {
		Total   int `json:"total"`
		Reports []struct {
			Report map[string]any `json:"report"`
		} `json:"reports"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode reports: %v", err)
	}
	if out.Total != 2 || len(out.Reports) != 1 || out.Reports[0].Report["call_id"] != "call-y" {
		t.Fatalf("unexpected reports body: %s", rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/reports?limit=-2", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("negative limit: expected 400, got %d", rr.Code)
	}
}

func TestAdminWithoutReportSource(t *testing.T) {
	testlog.Start(t)
	admin := NewAdmin("gw-static", DefaultAdminConfig(), reportSourceOf(StaticReply(protocol.ChannelEvent{})))
	rr := httptest.NewRecorder()
	admin.HTTPRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/reports", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without report source, got %d", rr.Code)
	}
}

func TestRecorderArchivesReports(t *testing.T) {
	testlog.Start(t)
	dir := archive.NewDir(t.TempDir())
	rec := NewRecorder(2).WithArchive(dir)
	resp := rec.Handle(context.Background(), reportEvent(t, "call/archived"))
	if resp.IsError {
		t.Fatalf("unexpected error reply: %+v", resp)
	}
	keys, err := dir.List("")
	if err != nil || len(keys) != 1 {
		t.Fatalf("expected one archived file, keys=%v err=%v", keys, err)
	}
	if keys[0] != ArchivePath(rec.RecentReports(1)[0]) {
		t.Fatalf("unexpected archive path %q", keys[0])
	}
	raw, err := dir.Read(keys[0])
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	var stored RecordedReport
	if err := json.Unmarshal(raw, &stored); err != nil {
		t.Fatalf("decode archive: %v", err)
	}
	if stored.Report.CallID != "call/archived" {
		t.Fatalf("unexpected archived report: %+v", stored.Report)
	}
}

type failingArchive struct{}

func (failingArchive) Write(string, []byte) error { return errors.New("disk full") }

func TestRecorderArchiveFailureIsNotAcknowledged(t *testing.T) {
	testlog.Start(t)
	rec := NewRecorder(2).WithArchive(failingArchive{})
	resp := rec.Handle(context.Background(), reportEvent(t, "call-lost"))
	if !resp.IsError || !strings.HasPrefix(resp.Content, "worker-report-error:") {
		t.Fatalf("expected error reply, got %+v", resp)
	}
	if rec.ReportCount() != 0 {
		t.Fatalf("failed archive should not record")
	}
}

func TestServiceWiresArchiveDir(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	svc := NewService(ServiceConfig{ArchiveDir: root}, nil)
	svc.Handler().Handle(context.Background(), reportEvent(t, "call-wired"))
	keys, err := archive.NewDir(root).List("")
	if err != nil || len(keys) != 1 {
		t.Fatalf("expected archived report, keys=%v err=%v", keys, err)
	}
}
