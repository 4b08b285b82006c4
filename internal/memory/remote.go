// Package memory implements the MemoryFacade variants: remote (HTTP
// service), local (sqlite), and hybrid (local-first with async sync).
// See spec §4.2 and §6 "Memory service HTTP".
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/user/memex/internal/types"
)

// Remote is a MemoryFacade backed by the memory service's HTTP API
// (spec §6). Grounded on pkg/llm/openai/client.go's net/http client shape:
// a single *http.Client with a fixed timeout, context-bound requests, and
// JSON request/response structs per endpoint.
type Remote struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewRemote creates a Remote facade against baseURL, authenticating with
// apiKey when non-empty (spec §6 "optional Authorization: Bearer <key>").
func NewRemote(baseURL, apiKey string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Remote{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (r *Remote) do(ctx context.Context, method, path string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("memory service error (status %d): %s", resp.StatusCode, string(data))
	}

	if respBody != nil && len(data) > 0 {
		if err := json.Unmarshal(data, respBody); err != nil {
			return fmt.Errorf("parsing response: %w", err)
		}
	}
	return nil
}

type searchResponse struct {
	Results []types.QARecord `json:"results"`
}

// Search implements types.MemoryFacade.
func (r *Remote) Search(ctx context.Context, payload types.SearchPayload) ([]types.QARecord, error) {
	if payload.Limit <= 0 || payload.Limit > 20 {
		payload.Limit = 20
	}
	var resp searchResponse
	if err := r.do(ctx, http.MethodPost, "/v1/qa/search", payload, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

type hitRequest struct {
	ProjectID string         `json:"project_id"`
	Refs      []types.HitRef `json:"refs"`
}

// RecordHit implements types.MemoryFacade.
func (r *Remote) RecordHit(ctx context.Context, projectID string, refs []types.HitRef) error {
	return r.do(ctx, http.MethodPost, "/v1/qa/hit", hitRequest{ProjectID: projectID, Refs: refs}, nil)
}

type validateRequest struct {
	ProjectID string     `json:"project_id"`
	QAID      types.QAID `json:"qa_id"`
	Result    string     `json:"result"`
	Notes     string     `json:"notes,omitempty"`
}

// RecordValidation implements types.MemoryFacade.
func (r *Remote) RecordValidation(ctx context.Context, projectID string, qaID types.QAID, result string, notes string) error {
	return r.do(ctx, http.MethodPost, "/v1/qa/validate", validateRequest{
		ProjectID: projectID,
		QAID:      qaID,
		Result:    result,
		Notes:     notes,
	}, nil)
}

// RecordCandidate implements types.MemoryFacade.
func (r *Remote) RecordCandidate(ctx context.Context, draft types.CandidateDraft) error {
	return r.do(ctx, http.MethodPost, "/v1/qa/candidates", draft, nil)
}

type taskGradeRequest struct {
	Prompt string `json:"prompt"`
}

type taskGradeResponse struct {
	Level string `json:"level"`
}

// TaskGrade implements types.MemoryFacade.
func (r *Remote) TaskGrade(ctx context.Context, prompt string) (string, error) {
	var resp taskGradeResponse
	if err := r.do(ctx, http.MethodPost, "/v1/qa/grade", taskGradeRequest{Prompt: prompt}, &resp); err != nil {
		return "", err
	}
	return resp.Level, nil
}

// Health checks the remote memory service's /v1/qa/health endpoint, used by
// "memex sync status".
func (r *Remote) Health(ctx context.Context) error {
	return r.do(ctx, http.MethodGet, "/v1/qa/health", nil, nil)
}

var _ types.MemoryFacade = (*Remote)(nil)
