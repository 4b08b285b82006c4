package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/user/memex/internal/types"
)

type fakeMemory struct {
	searchResult []types.QARecord
	candidates   []types.CandidateDraft
}

func (f *fakeMemory) Search(ctx context.Context, payload types.SearchPayload) ([]types.QARecord, error) {
	return f.searchResult, nil
}
func (f *fakeMemory) RecordHit(ctx context.Context, projectID string, refs []types.HitRef) error {
	return nil
}
func (f *fakeMemory) RecordValidation(ctx context.Context, projectID string, qaID types.QAID, result, notes string) error {
	return nil
}
func (f *fakeMemory) RecordCandidate(ctx context.Context, draft types.CandidateDraft) error {
	f.candidates = append(f.candidates, draft)
	return nil
}
func (f *fakeMemory) TaskGrade(ctx context.Context, prompt string) (string, error) {
	return types.TaskGradeL1, nil
}

var _ types.MemoryFacade = (*fakeMemory)(nil)

func TestHealthDoesNotRequireAuth(t *testing.T) {
	srv := NewServer(&fakeMemory{}, "secret")
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/qa/health")
	if err != nil {
		t.Fatalf("GET /v1/qa/health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestSearchRejectsMissingBearerToken(t *testing.T) {
	srv := NewServer(&fakeMemory{}, "secret")
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/qa/search", "application/json", bytes.NewReader([]byte(`{}`)))
	if err != nil {
		t.Fatalf("POST /v1/qa/search: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestSearchReturnsResultsWithValidToken(t *testing.T) {
	mem := &fakeMemory{searchResult: []types.QARecord{{QAID: "q1", Score: 0.9}}}
	srv := NewServer(mem, "secret")
	ts := httptest.NewServer(srv)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/qa/search", bytes.NewReader([]byte(`{"project_id":"p","query":"x"}`)))
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /v1/qa/search: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Results []types.QARecord `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Results) != 1 || body.Results[0].QAID != "q1" {
		t.Errorf("results = %v, want one record q1", body.Results)
	}
}

func TestRecordCandidateStoresDraft(t *testing.T) {
	mem := &fakeMemory{}
	srv := NewServer(mem, "")
	ts := httptest.NewServer(srv)
	defer ts.Close()

	body, _ := json.Marshal(types.CandidateDraft{Query: "q", Answer: "a", Confidence: 0.7})
	resp, err := http.Post(ts.URL+"/v1/qa/candidates", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/qa/candidates: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(mem.candidates) != 1 || mem.candidates[0].Query != "q" {
		t.Errorf("candidates = %v, want one draft with query %q", mem.candidates, "q")
	}
}
