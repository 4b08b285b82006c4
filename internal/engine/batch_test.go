package engine

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/user/memex/internal/enginerr"
	"github.com/user/memex/internal/toolpolicy"
	"github.com/user/memex/internal/types"
)

func batchSpec(id, backend string, deps ...string) types.TaskSpec {
	s := types.TaskSpec{ID: types.TaskID(id), Backend: backend, Workdir: ""}
	for _, d := range deps {
		s.Dependencies = append(s.Dependencies, types.TaskID(d))
	}
	return s
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return New(&fakeMemory{}, toolpolicy.New(nil, nil), nil, testConfig(t))
}

func TestRunBatchLinearChainAllSucceed(t *testing.T) {
	e := newTestEngine(t)
	specs := []types.TaskSpec{
		batchSpec("a", "/bin/true"),
		batchSpec("b", "/bin/true", "a"),
	}

	outcomes, err := e.RunBatch(context.Background(), specs, "proj", 2)
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}
	for _, id := range []types.TaskID{"a", "b"} {
		o, ok := outcomes[id]
		if !ok {
			t.Fatalf("no outcome for task %s", id)
		}
		if o.Skipped || o.ExitCode != 0 {
			t.Errorf("outcome[%s] = %+v, want exit 0, not skipped", id, o)
		}
	}
}

func TestRunBatchDependencyFailureSkipsDependents(t *testing.T) {
	e := newTestEngine(t)
	specs := []types.TaskSpec{
		batchSpec("a", "/bin/false"),
		batchSpec("b", "/bin/true", "a"),
		batchSpec("c", "/bin/true", "b"),
	}

	outcomes, err := e.RunBatch(context.Background(), specs, "proj", 2)
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}
	if o := outcomes["a"]; o.ExitCode == 0 || o.Skipped {
		t.Errorf("outcome[a] = %+v, want non-zero exit, not skipped", o)
	}
	for _, id := range []types.TaskID{"b", "c"} {
		o := outcomes[id]
		if !o.Skipped {
			t.Errorf("outcome[%s] = %+v, want skipped", id, o)
		}
		if o.Reason == "" {
			t.Errorf("outcome[%s] has no skip reason", id)
		}
	}
}

func TestRunBatchConcurrentRankIndependentOutcomes(t *testing.T) {
	e := newTestEngine(t)
	specs := []types.TaskSpec{
		batchSpec("ok1", "/bin/true"),
		batchSpec("bad", "/bin/false"),
		batchSpec("ok2", "/bin/true"),
	}

	outcomes, err := e.RunBatch(context.Background(), specs, "proj", 3)
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}
	if outcomes["ok1"].ExitCode != 0 || outcomes["ok2"].ExitCode != 0 {
		t.Errorf("outcomes = %+v, want ok1/ok2 to succeed despite bad", outcomes)
	}
	if outcomes["bad"].ExitCode == 0 {
		t.Errorf("outcome[bad] = %+v, want non-zero exit", outcomes["bad"])
	}
}

func TestRunBatchRetryExhaustedKeepsFinalExitCode(t *testing.T) {
	if testing.Short() {
		t.Skip("retry backoff sleeps")
	}
	e := newTestEngine(t)
	spec := batchSpec("flaky", "/bin/false")
	spec.Retry = 1

	outcomes, err := e.RunBatch(context.Background(), []types.TaskSpec{spec}, "proj", 1)
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}
	// Both attempts fail, but the outcome reflects the final attempt's exit
	// code rather than a skip.
	o := outcomes["flaky"]
	if o.Skipped || o.ExitCode == 0 {
		t.Errorf("outcome = %+v, want non-zero exit after exhausted retries", o)
	}
}

func TestRunBatchRejectsCycle(t *testing.T) {
	e := newTestEngine(t)
	specs := []types.TaskSpec{
		batchSpec("a", "/bin/true", "b"),
		batchSpec("b", "/bin/true", "a"),
	}

	_, err := e.RunBatch(context.Background(), specs, "proj", 1)
	if !errors.Is(err, enginerr.ErrParseInput) {
		t.Fatalf("error = %v, want ErrParseInput", err)
	}
}

func TestComposeTaskPromptEmbedsUTF8File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("use tracing"), 0o644); err != nil {
		t.Fatal(err)
	}

	spec := batchSpec("a", "/bin/true")
	spec.Content = "configure the logger"
	spec.Files = []string{path}
	spec.FilesMode = types.FilesModeEmbed
	spec.FilesEncoding = types.FilesEncodingUTF8

	prompt, err := composeTaskPrompt(spec)
	if err != nil {
		t.Fatalf("composeTaskPrompt() error = %v", err)
	}
	if !strings.Contains(prompt, "configure the logger") || !strings.Contains(prompt, "use tracing") {
		t.Errorf("prompt = %q, want content and embedded file text", prompt)
	}
}

func TestComposeTaskPromptRefListsPathOnly(t *testing.T) {
	spec := batchSpec("a", "/bin/true")
	spec.Content = "body"
	spec.Files = []string{"/nonexistent/huge.bin"}
	spec.FilesMode = types.FilesModeRef

	prompt, err := composeTaskPrompt(spec)
	if err != nil {
		t.Fatalf("composeTaskPrompt() error = %v", err)
	}
	if !strings.Contains(prompt, "/nonexistent/huge.bin") {
		t.Errorf("prompt = %q, want the file path referenced", prompt)
	}
}

func TestComposeTaskPromptBase64ForBinary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob")
	raw := []byte{0xff, 0xfe, 0x00, 0x01}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	spec := batchSpec("a", "/bin/true")
	spec.Files = []string{path}
	spec.FilesMode = types.FilesModeEmbed
	spec.FilesEncoding = types.FilesEncodingAuto

	prompt, err := composeTaskPrompt(spec)
	if err != nil {
		t.Fatalf("composeTaskPrompt() error = %v", err)
	}
	if !strings.Contains(prompt, base64.StdEncoding.EncodeToString(raw)) {
		t.Errorf("prompt = %q, want base64-encoded file contents", prompt)
	}
}

func TestComposeTaskPromptEmbedUnreadableFileFails(t *testing.T) {
	spec := batchSpec("a", "/bin/true")
	spec.Files = []string{"/nonexistent/file.txt"}
	spec.FilesMode = types.FilesModeEmbed

	if _, err := composeTaskPrompt(spec); err == nil {
		t.Fatal("composeTaskPrompt() error = nil, want read failure")
	}
}
