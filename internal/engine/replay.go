package engine

import (
	"encoding/json"
	"fmt"

	"github.com/user/memex/internal/eventlog"
	"github.com/user/memex/internal/types"
)

// Replay streams a Run's event log back without executing any side
// effects — no memory writes, no backend spawn (spec §4.8, §8 property 1
// "replay determinism"). It returns the run's final exit code, taken from
// its last run.end event, alongside a channel of every event in file
// order for UI reconstruction.
func (e *Engine) Replay(path string) (int, <-chan types.Event, error) {
	lastEnd, found, err := eventlog.LastRunEnd(path)
	if err != nil {
		return 0, nil, fmt.Errorf("replay: %w", err)
	}

	exitCode := 0
	if found {
		var data runEndData
		if jsonErr := json.Unmarshal(lastEnd.Data, &data); jsonErr == nil {
			exitCode = data.ExitCode
		}
	}

	events, err := eventlog.Replay(path)
	if err != nil {
		return exitCode, nil, fmt.Errorf("replay: %w", err)
	}
	return exitCode, events, nil
}
