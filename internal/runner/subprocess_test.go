package runner

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestSubprocessDriverRunsToCompletion(t *testing.T) {
	d := &SubprocessDriver{
		Command:      "/bin/sh",
		Args:         []string{"-c", `echo '{"type":"tool_call","name":"search","args":{"q":"x"}}'; echo '{"type":"tool_result","name":"search","status":"ok"}'; echo done`},
		StreamFormat: StreamFormatJSONL,
	}

	sess, err := d.Spawn(context.Background())
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outcome, err := sess.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if outcome.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", outcome.ExitCode)
	}
	if len(outcome.ToolEvents) != 2 {
		t.Fatalf("len(ToolEvents) = %d, want 2", len(outcome.ToolEvents))
	}
	if outcome.ToolEvents[0].Name != "search" || outcome.ToolEvents[0].Kind != "call" {
		t.Errorf("ToolEvents[0] = %+v, want call/search", outcome.ToolEvents[0])
	}
	if !strings.Contains(outcome.StdoutTail, "done") {
		t.Errorf("StdoutTail = %q, want it to contain 'done'", outcome.StdoutTail)
	}
	if sess.State() != StateDone {
		t.Errorf("State() = %v, want Done", sess.State())
	}
}

func TestSubprocessDriverNonZeroExit(t *testing.T) {
	d := &SubprocessDriver{
		Command:      "/bin/sh",
		Args:         []string{"-c", "exit 3"},
		StreamFormat: StreamFormatText,
	}

	sess, err := d.Spawn(context.Background())
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outcome, err := sess.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if outcome.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", outcome.ExitCode)
	}
}

func TestSubprocessDriverTimeoutYieldsExitCode124(t *testing.T) {
	d := &SubprocessDriver{
		Command:      "/bin/sh",
		Args:         []string{"-c", "sleep 5"},
		StreamFormat: StreamFormatText,
	}

	sess, err := d.Spawn(context.Background())
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	outcome, err := sess.Wait(ctx)
	if err == nil {
		t.Fatalf("Wait() error = nil, want deadline exceeded")
	}
	if outcome.ExitCode != 124 {
		t.Errorf("ExitCode = %d, want 124", outcome.ExitCode)
	}
}

func TestSubprocessDriverCancel(t *testing.T) {
	d := &SubprocessDriver{
		Command:      "/bin/sh",
		Args:         []string{"-c", "sleep 5"},
		StreamFormat: StreamFormatText,
	}

	sess, err := d.Spawn(context.Background())
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	sess.Cancel("user requested stop")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outcome, err := sess.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if outcome.ExitCode != 130 {
		t.Errorf("ExitCode = %d, want 130", outcome.ExitCode)
	}
}

func TestSubprocessDriverContextCancelYieldsExitCode130(t *testing.T) {
	d := &SubprocessDriver{
		Command:      "/bin/sh",
		Args:         []string{"-c", "sleep 5"},
		StreamFormat: StreamFormatText,
	}

	sess, err := d.Spawn(context.Background())
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	outcome, err := sess.Wait(ctx)
	if err == nil {
		t.Fatal("Wait() error = nil, want context cancelled")
	}
	if outcome.ExitCode != 130 {
		t.Errorf("ExitCode = %d, want 130", outcome.ExitCode)
	}
}

func TestSubprocessDriverForwardsToSinks(t *testing.T) {
	var out, errOut strings.Builder
	d := &SubprocessDriver{
		Command:      "/bin/sh",
		Args:         []string{"-c", "echo to-stdout; echo to-stderr >&2"},
		StreamFormat: StreamFormatText,
		Sink:         &out,
		ErrSink:      &errOut,
	}

	sess, err := d.Spawn(context.Background())
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := sess.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if !strings.Contains(out.String(), "to-stdout") {
		t.Errorf("stdout sink = %q, want it to contain to-stdout", out.String())
	}
	if !strings.Contains(errOut.String(), "to-stderr") {
		t.Errorf("stderr sink = %q, want it to contain to-stderr", errOut.String())
	}
}
