package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/namewise/runwatch-go/types"
)

const statusPayload = `{
	"run_id": "r1",
	"version_id": "v1",
	"state": "stage_3",
	"current_stage": 3,
	"progress": {"overall_pct": 25},
	"stages": [{"id": "cp-3", "stage_id": 3, "status": "running", "progress_pct": 10}]
}`

func TestFetchRunStatus(t *testing.T) {
	var gotPath, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_, _ = io.WriteString(w, statusPayload)
	}))
	defer server.Close()

	c := New(WithBaseURL(server.URL), WithAPIKey("secret"))
	snap, err := c.FetchRunStatus(context.Background(), "r1")
	if err != nil {
		t.Fatalf("FetchRunStatus: %v", err)
	}
	if gotPath != "/v1/runs/r1/status" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("unexpected auth header: %q", gotAuth)
	}
	if snap.RunID != "r1" || snap.State != types.StageState(3) {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestFetchRunStatusRejectsMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"run_id": "r1"}`)
	}))
	defer server.Close()

	c := New(WithBaseURL(server.URL))
	if _, err := c.FetchRunStatus(context.Background(), "r1"); err == nil {
		t.Fatalf("expected decode failure for partial snapshot")
	}
}

func TestFetchRunStatusTypedError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "run not found", http.StatusNotFound)
	}))
	defer server.Close()

	c := New(WithBaseURL(server.URL))
	_, err := c.FetchRunStatus(context.Background(), "missing")
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *api.Error, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", apiErr.StatusCode)
	}
}

func TestListCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "2" || r.URL.Query().Get("sort") != "rank" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		_, _ = io.WriteString(w, `{"candidates": [{"id": "c1", "run_id": "r1", "name": "Lumera", "rank": 1}]}`)
	}))
	defer server.Close()

	c := New(WithBaseURL(server.URL))
	candidates, err := c.ListCandidates(context.Background(), "r1", ListQuery{Page: 2, Sort: "rank"})
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].Name != "Lumera" {
		t.Fatalf("unexpected candidates: %+v", candidates)
	}
}

func TestPatchCandidate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/v1/candidates/c1" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var patch map[string]any
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			t.Errorf("decode patch: %v", err)
		}
		if len(patch) != 1 || patch["shortlisted"] != true {
			t.Errorf("unexpected patch body: %v", patch)
		}
		_, _ = io.WriteString(w, `{"id": "c1", "run_id": "r1", "name": "Lumera", "rank": 1, "shortlisted": true}`)
	}))
	defer server.Close()

	c := New(WithBaseURL(server.URL))
	shortlisted := true
	confirmed, err := c.PatchCandidate(context.Background(), "c1", CandidatePatch{Shortlisted: &shortlisted})
	if err != nil {
		t.Fatalf("PatchCandidate: %v", err)
	}
	if !confirmed.Shortlisted {
		t.Fatalf("unexpected confirmed candidate: %+v", confirmed)
	}
}

func TestTriggerClearance(t *testing.T) {
	var gotMethod, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	c := New(WithBaseURL(server.URL))
	if err := c.TriggerClearance(context.Background(), "r1"); err != nil {
		t.Fatalf("TriggerClearance: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/v1/runs/r1/clearance" {
		t.Fatalf("unexpected request: %s %s", gotMethod, gotPath)
	}
}
