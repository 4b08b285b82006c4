package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/semaphore"

	"github.com/user/memex/internal/runner"
	"github.com/user/memex/internal/taskparse"
	"github.com/user/memex/internal/types"
)

// RunBatch runs a parsed set of TaskSpecs in topological order, executing
// all tasks within a rank concurrently up to maxConcurrent in-flight runs
// (spec §4.8 "Batch DAG"). A dependency's failure marks its dependents
// Skipped; a task with remaining retries is rerun with exponential
// backoff on a non-zero exit or timeout.
func (e *Engine) RunBatch(ctx context.Context, specs []types.TaskSpec, projectID string, maxConcurrent int64) (map[types.TaskID]types.TaskOutcome, error) {
	ranks, err := taskparse.BuildRanks(specs)
	if err != nil {
		return nil, err
	}
	byID := make(map[types.TaskID]types.TaskSpec, len(specs))
	for _, s := range specs {
		byID[s.ID] = s
	}

	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	sem := semaphore.NewWeighted(maxConcurrent)

	outcomes := make(map[types.TaskID]types.TaskOutcome, len(specs))
	var mu sync.Mutex

	for _, rank := range ranks {
		var wg sync.WaitGroup
		for _, id := range rank {
			spec := byID[id]

			mu.Lock()
			skip, reason := dependencySkip(spec, outcomes)
			mu.Unlock()
			if skip {
				mu.Lock()
				outcomes[id] = types.TaskOutcome{TaskID: id, Skipped: true, Reason: reason}
				mu.Unlock()
				continue
			}

			if err := sem.Acquire(ctx, 1); err != nil {
				mu.Lock()
				outcomes[id] = types.TaskOutcome{TaskID: id, Skipped: true, Reason: "batch cancelled"}
				mu.Unlock()
				continue
			}

			wg.Add(1)
			go func(spec types.TaskSpec) {
				defer wg.Done()
				defer sem.Release(1)

				outcome := e.runTaskWithRetry(ctx, spec, projectID)

				mu.Lock()
				outcomes[spec.ID] = outcome
				mu.Unlock()
			}(spec)
		}
		wg.Wait()
	}

	return outcomes, nil
}

func dependencySkip(spec types.TaskSpec, outcomes map[types.TaskID]types.TaskOutcome) (bool, string) {
	for _, dep := range spec.Dependencies {
		o, ok := outcomes[dep]
		if !ok {
			continue
		}
		if o.Skipped || o.ExitCode != 0 {
			return true, "dependency " + string(dep) + " did not complete successfully"
		}
	}
	return false, ""
}

func (e *Engine) runTaskWithRetry(ctx context.Context, spec types.TaskSpec, projectID string) types.TaskOutcome {
	prompt, err := composeTaskPrompt(spec)
	if err != nil {
		slog.Warn("task prompt composition failed", "task_id", string(spec.ID), "error", err)
		return types.TaskOutcome{TaskID: spec.ID, ExitCode: 1, Reason: err.Error()}
	}

	var opts []RunOption
	if spec.StreamFormat != "" {
		opts = append(opts, WithStreamFormat(runner.StreamFormat(spec.StreamFormat)))
	}
	if spec.Model != "" || spec.ModelProvider != "" {
		opts = append(opts, WithModel(spec.Model, spec.ModelProvider))
	}

	attempts := spec.Retry + 1
	var exitCode int
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return types.TaskOutcome{TaskID: spec.ID, Skipped: true, Reason: "batch cancelled during backoff"}
			}
		}

		runCtx := ctx
		var cancel context.CancelFunc
		if spec.Timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, time.Duration(spec.Timeout)*time.Second)
		}
		code, err := e.Run(runCtx, projectID, prompt, spec.Backend, spec.Workdir, opts...)
		if cancel != nil {
			cancel()
		}
		exitCode, lastErr = code, err

		if code == 0 {
			return types.TaskOutcome{TaskID: spec.ID, ExitCode: code}
		}
		slog.Warn("task failed, considering retry", "task_id", string(spec.ID), "attempt", attempt, "exit_code", code, "error", lastErr)
	}

	return types.TaskOutcome{TaskID: spec.ID, ExitCode: exitCode}
}

// autoEmbedMaxBytes is the size cutoff above which files-mode "auto"
// references a file by path instead of embedding its contents.
const autoEmbedMaxBytes = 64 * 1024

// composeTaskPrompt appends the task's attached files to its content body
// per files-mode and files-encoding (spec §3, §6): "embed" inlines each
// file, "ref" lists its path, "auto" embeds small files and references
// large or unreadable ones.
func composeTaskPrompt(spec types.TaskSpec) (string, error) {
	if len(spec.Files) == 0 {
		return spec.Content, nil
	}

	var b strings.Builder
	b.WriteString(spec.Content)
	for _, path := range spec.Files {
		mode := spec.FilesMode
		if mode == "" || mode == types.FilesModeAuto {
			mode = autoFilesMode(path)
		}

		if mode == types.FilesModeRef {
			fmt.Fprintf(&b, "\n\nFile: %s", path)
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("task %s: read file %s: %w", spec.ID, path, err)
		}
		encoding := spec.FilesEncoding
		if encoding == "" || encoding == types.FilesEncodingAuto {
			encoding = types.FilesEncodingUTF8
			if !utf8.Valid(data) {
				encoding = types.FilesEncodingBase64
			}
		}
		switch encoding {
		case types.FilesEncodingBase64:
			fmt.Fprintf(&b, "\n\nFile: %s (base64)\n%s", path, base64.StdEncoding.EncodeToString(data))
		default:
			fmt.Fprintf(&b, "\n\nFile: %s\n%s", path, string(data))
		}
	}
	return b.String(), nil
}

func autoFilesMode(path string) string {
	info, err := os.Stat(path)
	if err != nil || info.Size() > autoEmbedMaxBytes {
		return types.FilesModeRef
	}
	return types.FilesModeEmbed
}
