package taskparse

import (
	"errors"
	"testing"

	"github.com/user/memex/internal/enginerr"
	"github.com/user/memex/internal/types"
)

func TestParseBatchSingleTask(t *testing.T) {
	input := `---TASK---
id: build
backend: codex
workdir: /tmp/proj
timeout: 30
---CONTENT---
please build the project
---END---
`
	specs, err := ParseBatch(input)
	if err != nil {
		t.Fatalf("ParseBatch() error = %v", err)
	}
	if len(specs) != 1 {
		t.Fatalf("len(specs) = %d, want 1", len(specs))
	}
	s := specs[0]
	if s.ID != "build" || s.Backend != "codex" || s.Workdir != "/tmp/proj" {
		t.Errorf("spec = %+v, unexpected core fields", s)
	}
	if s.Timeout != 30 {
		t.Errorf("Timeout = %d, want 30", s.Timeout)
	}
	if s.Content != "please build the project" {
		t.Errorf("Content = %q", s.Content)
	}
	if s.FilesMode != types.FilesModeAuto {
		t.Errorf("FilesMode = %q, want auto default", s.FilesMode)
	}
}

func TestParseBatchMultipleTasksWithDependencies(t *testing.T) {
	input := `---TASK---
id: a
backend: codex
workdir: /tmp/a
---CONTENT---
first
---END---
---TASK---
id: b
backend: claude
workdir: /tmp/b
dependencies: a
---CONTENT---
second
---END---
`
	specs, err := ParseBatch(input)
	if err != nil {
		t.Fatalf("ParseBatch() error = %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("len(specs) = %d, want 2", len(specs))
	}
	if len(specs[1].Dependencies) != 1 || specs[1].Dependencies[0] != "a" {
		t.Errorf("specs[1].Dependencies = %v, want [a]", specs[1].Dependencies)
	}
}

func TestParseBatchMissingRequiredKey(t *testing.T) {
	input := `---TASK---
id: build
backend: codex
---CONTENT---
x
---END---
`
	_, err := ParseBatch(input)
	if !errors.Is(err, enginerr.ErrParseInput) {
		t.Fatalf("error = %v, want ErrParseInput", err)
	}
}

func TestParseBatchDuplicateID(t *testing.T) {
	input := `---TASK---
id: a
backend: codex
workdir: /tmp/a
---CONTENT---
x
---END---
---TASK---
id: a
backend: codex
workdir: /tmp/a
---CONTENT---
y
---END---
`
	_, err := ParseBatch(input)
	if !errors.Is(err, enginerr.ErrParseInput) {
		t.Fatalf("error = %v, want ErrParseInput", err)
	}
}

func TestParseBatchUnterminatedBlock(t *testing.T) {
	input := `---TASK---
id: a
backend: codex
workdir: /tmp/a
---CONTENT---
x
`
	_, err := ParseBatch(input)
	if !errors.Is(err, enginerr.ErrParseInput) {
		t.Fatalf("error = %v, want ErrParseInput", err)
	}
}

func TestParseBatchFilesAndEncoding(t *testing.T) {
	input := `---TASK---
id: a
backend: codex
workdir: /tmp/a
files: a.go,b.go
files-mode: embed
files-encoding: utf-8
---CONTENT---
x
---END---
`
	specs, err := ParseBatch(input)
	if err != nil {
		t.Fatalf("ParseBatch() error = %v", err)
	}
	if len(specs[0].Files) != 2 {
		t.Fatalf("Files = %v, want 2 entries", specs[0].Files)
	}
	if specs[0].FilesMode != "embed" || specs[0].FilesEncoding != "utf-8" {
		t.Errorf("spec = %+v, unexpected files-mode/encoding", specs[0])
	}
}

func TestParseBatchRejectsUnknownStreamFormat(t *testing.T) {
	input := `---TASK---
id: a
backend: codex
workdir: /tmp/a
stream-format: xml
---CONTENT---
x
---END---
`
	_, err := ParseBatch(input)
	if !errors.Is(err, enginerr.ErrParseInput) {
		t.Fatalf("error = %v, want ErrParseInput", err)
	}
}

func TestParseBatchRejectsUnknownFilesMode(t *testing.T) {
	input := `---TASK---
id: a
backend: codex
workdir: /tmp/a
files-mode: inline
---CONTENT---
x
---END---
`
	_, err := ParseBatch(input)
	if !errors.Is(err, enginerr.ErrParseInput) {
		t.Fatalf("error = %v, want ErrParseInput", err)
	}
}
