package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/reportgate/internal/testutil/testlog"
)

func sampleReport(t *testing.T) WorkerReport {
	t.Helper()
	report, err := NewWorkerReport("call-42", "worker-1", "alpine:3.20", "echo ok", WorkerOutput{
		ExitCode: 0,
		Stdout:   "ok\n",
		Stderr:   "",
		Output:   "stdout:\nok\n\nexit_code: 0",
	})
	if err != nil {
		t.Fatalf("new worker report: %v", err)
	}
	return report
}

func mustChannel(t *testing.T, source, target string) ChannelID {
	t.Helper()
	ch, err := NewChannelID(source, target)
	if err != nil {
		t.Fatalf("new channel id: %v", err)
	}
	return ch
}

func TestRequireReturnsValueUnchanged(t *testing.T) {
	testlog.Start(t)
	for _, s := range []string{"a", "call-1", " padded ", "with:colon", "ünïcode"} {
		got, err := Require("field", s)
		if err != nil {
			t.Fatalf("require %q: %v", s, err)
		}
		if got != s {
			t.Fatalf("require changed value: got=%q want=%q", got, s)
		}
	}
}

func TestRequireRejectsEmpty(t *testing.T) {
	testlog.Start(t)
	_, err := Require("call_id", "")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if !strings.Contains(err.Error(), "call_id") {
		t.Fatalf("error should name the field: %v", err)
	}
}

func TestChannelIDRendersSourceTarget(t *testing.T) {
	testlog.Start(t)
	ch := mustChannel(t, "cli", "local")
	if ch.String() != "cli:local" {
		t.Fatalf("unexpected channel string %q", ch.String())
	}
	parsed, err := ParseChannelID("mobile:device:req-1")
	if err != nil {
		t.Fatalf("parse channel id: %v", err)
	}
	if parsed.Source() != "mobile" || parsed.Target() != "device:req-1" {
		t.Fatalf("unexpected parse: source=%q target=%q", parsed.Source(), parsed.Target())
	}
}

func TestChannelIDRejectsEmptyParts(t *testing.T) {
	testlog.Start(t)
	cases := [][2]string{{"", "local"}, {"cli", ""}, {"", ""}, {"a:b", "c"}}
	for _, c := range cases {
		if _, err := NewChannelID(c[0], c[1]); !errors.Is(err, ErrValidation) {
			t.Fatalf("NewChannelID(%q, %q) expected ErrValidation, got %v", c[0], c[1], err)
		}
	}
	for _, raw := range []string{"", "nocolon", ":target", "source:"} {
		if _, err := ParseChannelID(raw); !errors.Is(err, ErrValidation) {
			t.Fatalf("ParseChannelID(%q) expected ErrValidation, got %v", raw, err)
		}
	}
}

func TestSessionIDValidation(t *testing.T) {
	testlog.Start(t)
	if _, err := NewSessionID(""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	a := GenerateSessionID()
	b := GenerateSessionID()
	if a.IsEmpty() || a == b {
		t.Fatalf("generated ids must be non-empty and distinct: %q %q", a, b)
	}
}

func TestWorkerReportRequiresIdentifiers(t *testing.T) {
	testlog.Start(t)
	out := WorkerOutput{ExitCode: 1}
	cases := []struct {
		name                             string
		callID, workerID, image, command string
	}{
		{"call_id", "", "w", "img", "cmd"},
		{"worker_id", "c", "", "img", "cmd"},
		{"image", "c", "w", "", "cmd"},
		{"command", "c", "w", "img", ""},
	}
	for _, c := range cases {
		_, err := NewWorkerReport(c.callID, c.workerID, c.image, c.command, out)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected ErrValidation, got %v", c.name, err)
		}
		if !strings.Contains(err.Error(), c.name) {
			t.Fatalf("%s: error should name the field: %v", c.name, err)
		}
	}
}

func TestWorkerReportWireRoundTrip(t *testing.T) {
	testlog.Start(t)
	report, err := NewWorkerReport("call-7", "worker-b", "busybox:1.36", "sh -c 'exit 3'", WorkerOutput{
		ExitCode: 3,
		Stdout:   "line one\nline \"two\"\n",
		Stderr:   "warn: ☃\n",
		Output:   "stderr:\nwarn\n\nexit_code: 3",
	})
	if err != nil {
		t.Fatalf("new worker report: %v", err)
	}
	event := NewChannelEvent(mustChannel(t, "worker", "gateway"), SessionID("ses-1"), "report")
	if err := event.AttachReport(report); err != nil {
		t.Fatalf("attach report: %v", err)
	}

	body, err := EncodeEvent(event)
	if err != nil {
		t.Fatalf("encode event: %v", err)
	}
	decoded, err := DecodeEvent(body)
	if err != nil {
		t.Fatalf("decode event: %v", err)
	}
	got, ok, err := decoded.Report()
	if err != nil || !ok {
		t.Fatalf("decoded report ok=%v err=%v", ok, err)
	}
	if got != report {
		t.Fatalf("report mismatch:\n got=%+v\nwant=%+v", got, report)
	}
	if decoded.ChannelID != event.ChannelID || decoded.SessionID != event.SessionID || decoded.Content != "report" {
		t.Fatalf("envelope mismatch: %+v", decoded)
	}
}

func TestEncodeEventWireShape(t *testing.T) {
	testlog.Start(t)
	event := NewChannelEvent(mustChannel(t, "cli", "test"), SessionID("ses"), "hello")
	if err := event.AttachReport(sampleReport(t)); err != nil {
		t.Fatalf("attach report: %v", err)
	}
	body, err := EncodeEvent(event)
	if err != nil {
		t.Fatalf("encode event: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if raw["channel_id"] != "cli:test" || raw["session_id"] != "ses" || raw["is_error"] != false {
		t.Fatalf("unexpected envelope: %v", raw)
	}
	meta, ok := raw["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("metadata should be an object: %v", raw["metadata"])
	}
	for _, key := range []string{"call_id", "worker_id", "image", "command", "exit_code", "stdout", "stderr", "output"} {
		if _, ok := meta[key]; !ok {
			t.Fatalf("metadata missing %q: %v", key, meta)
		}
	}
}

func TestEncodeEventWithoutMetadataWritesNull(t *testing.T) {
	testlog.Start(t)
	body, err := EncodeEvent(NewChannelEvent(mustChannel(t, "cli", "test"), SessionID("ses"), "ok"))
	if err != nil {
		t.Fatalf("encode event: %v", err)
	}
	if !strings.Contains(string(body), `"metadata":null`) {
		t.Fatalf("expected null metadata: %s", body)
	}
}

func TestAttachReportOnlyOnce(t *testing.T) {
	testlog.Start(t)
	event := NewChannelEvent(mustChannel(t, "cli", "local"), SessionID("s1"), "hello")
	if event.HasMetadata() {
		t.Fatalf("new event should not carry metadata")
	}
	if err := event.AttachReport(sampleReport(t)); err != nil {
		t.Fatalf("attach report: %v", err)
	}
	if err := event.AttachReport(sampleReport(t)); !errors.Is(err, ErrMetadataAlreadySet) {
		t.Fatalf("expected ErrMetadataAlreadySet, got %v", err)
	}
}

func TestDecodeEventFixedAckBody(t *testing.T) {
	testlog.Start(t)
	event, err := DecodeEvent([]byte(`{"channel_id":"cli:test","session_id":"ses","content":"ok","is_error":false}`))
	if err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Content != "ok" || event.IsError || event.HasMetadata() {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.ChannelID.String() != "cli:test" {
		t.Fatalf("unexpected channel id %q", event.ChannelID)
	}
}

func TestDecodeEventNullMetadataIsAbsent(t *testing.T) {
	testlog.Start(t)
	event, err := DecodeEvent([]byte(`{"channel_id":"cli:test","session_id":"ses","content":"ok","is_error":true,"metadata":null}`))
	if err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.HasMetadata() || !event.IsError {
		t.Fatalf("unexpected event: %+v", event)
	}
	if _, ok, err := event.Report(); ok || err != nil {
		t.Fatalf("expected no report, ok=%v err=%v", ok, err)
	}
}

func TestDecodeEventRejectsMalformedBodies(t *testing.T) {
	testlog.Start(t)
	bodies := []string{
		`{not json`,
		`[]`,
		`{"session_id":"ses","content":"x","is_error":false}`,
		`{"channel_id":"cli:test","content":"x","is_error":false}`,
		`{"channel_id":"cli:test","session_id":"","content":"x","is_error":false}`,
		`{"channel_id":"nocolon","session_id":"ses","content":"x","is_error":false}`,
		`{"channel_id":"cli:test","session_id":"ses","content":"x","is_error":"no"}`,
		`{"channel_id":"cli:test","session_id":"ses","content":"x","is_error":false,"metadata":{"call_id":""}}`,
		`{"channel_id":"cli:test","session_id":"ses","content":"x","is_error":false,"metadata":"text"}`,
	}
	for _, body := range bodies {
		if _, err := DecodeEvent([]byte(body)); !errors.Is(err, ErrProtocol) {
			t.Fatalf("DecodeEvent(%s) expected ErrProtocol, got %v", body, err)
		}
	}
}

func TestEncodeEventRequiresIdentifiers(t *testing.T) {
	testlog.Start(t)
	if _, err := EncodeEvent(ChannelEvent{SessionID: "ses"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing channel, got %v", err)
	}
	if _, err := EncodeEvent(ChannelEvent{ChannelID: mustChannel(t, "cli", "x")}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing session, got %v", err)
	}
}

func TestMetadataReturnsCopy(t *testing.T) {
	testlog.Start(t)
	event := NewChannelEvent(mustChannel(t, "cli", "local"), SessionID("s1"), "hello")
	if err := event.AttachReport(sampleReport(t)); err != nil {
		t.Fatalf("attach report: %v", err)
	}
	meta := event.Metadata()
	meta[0] = 'X'
	if _, _, err := event.Report(); err != nil {
		t.Fatalf("mutating the copy must not affect the event: %v", err)
	}
}
