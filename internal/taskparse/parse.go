// Package taskparse parses structured batch input into TaskSpecs and
// computes their dependency DAG and topological execution order (spec
// §4.4, §6). Grounded on internal/config/flatten.go's small recursive
// line-scanner style, generalized from flat key-path parsing to a
// block-delimited, metadata-plus-body record format; the DAG/topo-sort
// step has no direct teacher analogue and is built from scriptweaver's
// internal/dag/taskgraph.go shape (Kahn's-algorithm topological sort),
// read for approach rather than copied line-for-line — SPEC_FULL.md's
// ordering rule (source-order tie-break within a rank) differs from
// taskgraph.go's hash-canonicalized node order.
package taskparse

import (
	"bufio"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/user/memex/internal/enginerr"
	"github.com/user/memex/internal/types"
)

const (
	delimTask    = "---TASK---"
	delimContent = "---CONTENT---"
	delimEnd     = "---END---"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// ParseBatch parses one or more ---TASK---/---CONTENT---/---END--- blocks
// from input into TaskSpecs, in source order (spec §6).
func ParseBatch(input string) ([]types.TaskSpec, error) {
	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var specs []types.TaskSpec
	var inTask, inContent bool
	var meta map[string]string
	var contentLines []string

	flush := func() error {
		spec, err := buildTaskSpec(meta, strings.Join(contentLines, "\n"))
		if err != nil {
			return err
		}
		specs = append(specs, spec)
		return nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == delimTask:
			if inTask {
				return nil, fmt.Errorf("%w: nested %s before %s", enginerr.ErrParseInput, delimTask, delimEnd)
			}
			inTask = true
			inContent = false
			meta = make(map[string]string)
			contentLines = nil
		case line == delimContent:
			if !inTask {
				return nil, fmt.Errorf("%w: %s outside a task block", enginerr.ErrParseInput, delimContent)
			}
			inContent = true
		case line == delimEnd:
			if !inTask {
				return nil, fmt.Errorf("%w: %s without matching %s", enginerr.ErrParseInput, delimEnd, delimTask)
			}
			if err := flush(); err != nil {
				return nil, err
			}
			inTask = false
			inContent = false
		case inContent:
			contentLines = append(contentLines, line)
		case inTask:
			if strings.TrimSpace(line) == "" {
				continue
			}
			key, val, ok := strings.Cut(line, ":")
			if !ok {
				return nil, fmt.Errorf("%w: malformed metadata line %q", enginerr.ErrParseInput, line)
			}
			meta[strings.TrimSpace(key)] = strings.TrimSpace(val)
		default:
			if strings.TrimSpace(line) != "" {
				return nil, fmt.Errorf("%w: content outside a task block: %q", enginerr.ErrParseInput, line)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: scanning input: %v", enginerr.ErrParseInput, err)
	}
	if inTask {
		return nil, fmt.Errorf("%w: unterminated task block (missing %s)", enginerr.ErrParseInput, delimEnd)
	}

	if err := checkUniqueIDs(specs); err != nil {
		return nil, err
	}
	return specs, nil
}

func checkUniqueIDs(specs []types.TaskSpec) error {
	seen := make(map[types.TaskID]bool, len(specs))
	for _, s := range specs {
		if seen[s.ID] {
			return fmt.Errorf("%w: duplicate task id %q", enginerr.ErrParseInput, s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

func buildTaskSpec(meta map[string]string, content string) (types.TaskSpec, error) {
	id := meta["id"]
	backend := meta["backend"]
	workdir := meta["workdir"]

	if id == "" {
		return types.TaskSpec{}, fmt.Errorf("%w: missing required key \"id\"", enginerr.ErrParseInput)
	}
	if !idPattern.MatchString(id) {
		return types.TaskSpec{}, fmt.Errorf("%w: invalid task id %q", enginerr.ErrParseInput, id)
	}
	if backend == "" {
		return types.TaskSpec{}, fmt.Errorf("%w: task %q: missing required key \"backend\"", enginerr.ErrParseInput, id)
	}
	if workdir == "" {
		return types.TaskSpec{}, fmt.Errorf("%w: task %q: missing required key \"workdir\"", enginerr.ErrParseInput, id)
	}
	if !filepath.IsAbs(workdir) {
		return types.TaskSpec{}, fmt.Errorf("%w: task %q: workdir %q is not an absolute path", enginerr.ErrParseInput, id, workdir)
	}

	spec := types.TaskSpec{
		ID:            types.TaskID(id),
		Backend:       backend,
		Workdir:       workdir,
		Model:         meta["model"],
		ModelProvider: meta["model-provider"],
		StreamFormat:  meta["stream-format"],
		FilesEncoding: meta["files-encoding"],
		FilesMode:     meta["files-mode"],
		Content:       content,
	}
	if spec.FilesMode == "" {
		spec.FilesMode = types.FilesModeAuto
	}

	switch spec.StreamFormat {
	case "", "text", "jsonl":
	default:
		return types.TaskSpec{}, fmt.Errorf("%w: task %q: stream-format must be text or jsonl, got %q", enginerr.ErrParseInput, id, spec.StreamFormat)
	}
	switch spec.FilesMode {
	case types.FilesModeEmbed, types.FilesModeRef, types.FilesModeAuto:
	default:
		return types.TaskSpec{}, fmt.Errorf("%w: task %q: files-mode must be embed, ref, or auto, got %q", enginerr.ErrParseInput, id, spec.FilesMode)
	}
	switch spec.FilesEncoding {
	case "", types.FilesEncodingUTF8, types.FilesEncodingBase64, types.FilesEncodingAuto:
	default:
		return types.TaskSpec{}, fmt.Errorf("%w: task %q: files-encoding must be utf-8, base64, or auto, got %q", enginerr.ErrParseInput, id, spec.FilesEncoding)
	}

	if deps, ok := meta["dependencies"]; ok && strings.TrimSpace(deps) != "" {
		for _, d := range strings.Split(deps, ",") {
			d = strings.TrimSpace(d)
			if d == "" {
				continue
			}
			spec.Dependencies = append(spec.Dependencies, types.TaskID(d))
		}
	}
	if files, ok := meta["files"]; ok && strings.TrimSpace(files) != "" {
		for _, f := range strings.Split(files, ",") {
			f = strings.TrimSpace(f)
			if f != "" {
				spec.Files = append(spec.Files, f)
			}
		}
	}
	if t, ok := meta["timeout"]; ok && t != "" {
		n, err := strconv.Atoi(t)
		if err != nil || n < 1 {
			return types.TaskSpec{}, fmt.Errorf("%w: task %q: invalid timeout %q", enginerr.ErrParseInput, id, t)
		}
		spec.Timeout = n
	}
	if r, ok := meta["retry"]; ok && r != "" {
		n, err := strconv.Atoi(r)
		if err != nil || n < 0 {
			return types.TaskSpec{}, fmt.Errorf("%w: task %q: invalid retry %q", enginerr.ErrParseInput, id, r)
		}
		spec.Retry = n
	}

	return spec, nil
}
