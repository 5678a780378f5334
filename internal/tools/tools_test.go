package tools

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/reportgate/internal/testutil/testlog"
)

func TestFormatOutputSections(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name   string
		stdout string
		stderr string
		code   int64
		want   string
	}{
		{name: "both", stdout: "hello\n", stderr: "warn", code: 0, want: "stdout:\nhello\n\nstderr:\nwarn\n\nexit_code: 0"},
		{name: "stdout only", stdout: "hello", code: 2, want: "stdout:\nhello\n\nexit_code: 2"},
		{name: "stderr only", stderr: "boom\n", code: 1, want: "stderr:\nboom\n\nexit_code: 1"},
		{name: "empty", code: 0, want: "\nexit_code: 0"},
	}
	for _, tc := range cases {
		if got := FormatOutput(tc.stdout, tc.stderr, tc.code); got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}
}

func TestFormatOutputTruncatesEachStream(t *testing.T) {
	testlog.Start(t)
	long := strings.Repeat("z", MaxOutputChars)
	got := FormatOutput(long, long, 0)
	if strings.Count(got, "[... output truncated at 5000 chars]") != 2 {
		t.Fatalf("expected a truncation marker per stream:\n%s", got)
	}
	kept, _, _ := strings.Cut(strings.TrimPrefix(got, "stdout:\n"), "\n[... output truncated")
	if len(kept) != MaxOutputChars/2 || strings.Trim(kept, "z") != "" {
		t.Fatalf("expected %d kept stdout chars, got %d", MaxOutputChars/2, len(kept))
	}
	if strings.Count(got, "z") != MaxOutputChars {
		t.Fatalf("expected %d kept chars across both streams, got %d", MaxOutputChars, strings.Count(got, "z"))
	}
}

func TestTruncateCountsRunes(t *testing.T) {
	testlog.Start(t)
	if got := Truncate("ééé", 3); got != "ééé" {
		t.Fatalf("three runes should fit: %q", got)
	}
	if got := Truncate("éééé", 3); got != "ééé\n[... output truncated at 3 chars]" {
		t.Fatalf("unexpected truncation: %q", got)
	}
}

func requireCommand(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
}

func TestExecRunnerCapturesStreams(t *testing.T) {
	testlog.Start(t)
	requireCommand(t, "sh")
	out, err := ExecRunner{}.Run(context.Background(), "sh", "-c", "echo out; echo err 1>&2; exit 3")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.ExitCode != 3 || out.Stdout != "out\n" || out.Stderr != "err\n" {
		t.Fatalf("unexpected output: %+v", out)
	}
	if out.Output != "stdout:\nout\n\nstderr:\nerr\n\nexit_code: 3" {
		t.Fatalf("unexpected combined output %q", out.Output)
	}
}

func TestExecRunnerMissingCommand(t *testing.T) {
	testlog.Start(t)
	out, err := ExecRunner{}.Run(context.Background(), "reportgate-definitely-missing-binary")
	if err == nil {
		t.Fatalf("expected error for missing binary")
	}
	if out.ExitCode != ExitNotFound {
		t.Fatalf("expected exit %d, got %d", ExitNotFound, out.ExitCode)
	}
}

func TestExecRunnerHonorsContext(t *testing.T) {
	testlog.Start(t)
	requireCommand(t, "sleep")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	out, err := ExecRunner{}.Run(ctx, "sleep", "5")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if out.ExitCode != ExitNoStatus {
		t.Fatalf("expected exit %d, got %d", ExitNoStatus, out.ExitCode)
	}
}
