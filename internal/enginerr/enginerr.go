// Package enginerr defines the sentinel error kinds the engine recognizes
// (spec §7). Callers wrap a kind with fmt.Errorf("%w: ...", enginerr.ErrSpawn)
// and check with errors.Is, matching the teacher's plain-wrapping idiom
// rather than introducing a custom error-stack type.
package enginerr

import "errors"

var (
	// ErrConfig marks an invalid or missing required setting. Fatal before
	// any Run starts.
	ErrConfig = errors.New("config error")

	// ErrParseInput marks malformed, cyclic, or unknown-id structured input.
	// Fatal for the batch.
	ErrParseInput = errors.New("parse input error")

	// ErrSpawn marks a failure to start the backend. Fatal to that Run only.
	ErrSpawn = errors.New("spawn error")

	// ErrProtocol marks a structured-event parse error on a single record.
	// Recovered: the event is dropped and a counter is incremented.
	ErrProtocol = errors.New("protocol error")

	// ErrPolicy marks a denied tool call. Non-fatal.
	ErrPolicy = errors.New("policy error")

	// ErrTimeout marks an exceeded configured bound.
	ErrTimeout = errors.New("timeout")

	// ErrCancelled marks a Run cancelled by the user or a parent failure.
	ErrCancelled = errors.New("cancelled")

	// ErrMemory marks a failed memory facade call. Never fatal to the Run.
	ErrMemory = errors.New("memory error")

	// ErrIO marks an event log write failure.
	ErrIO = errors.New("io error")
)
