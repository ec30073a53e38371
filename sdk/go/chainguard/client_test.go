package chainguard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(server.URL, server.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestSubmitRoundTrip(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/analyses" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req AnalysisRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Address != "0xabc" || req.Type != "token" {
			t.Fatalf("unexpected payload: %+v", req)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(Analysis{ID: "job-1", Address: req.Address, Status: "pending"})
	}))

	analysis, err := client.Submit(context.Background(), AnalysisRequest{Address: "0xabc", Type: "token"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if analysis.ID != "job-1" || analysis.Status != "pending" {
		t.Fatalf("unexpected analysis: %+v", analysis)
	}
}

func TestGetEncodesIdentifier(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/analyses/job 1" {
			t.Fatalf("unexpected path: %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(Analysis{ID: "job 1", Status: "succeeded"})
	}))

	analysis, err := client.Get(context.Background(), "job 1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if analysis.ID != "job 1" {
		t.Fatalf("unexpected analysis: %+v", analysis)
	}
}

func TestListBuildsQuery(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("status") != "pending,failed" || query.Get("tier") != "RED" {
			t.Fatalf("unexpected query: %v", query)
		}
		if query.Get("limit") != "5" || query.Get("has_report") != "true" {
			t.Fatalf("unexpected query: %v", query)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jobs":  []*Analysis{{ID: "a"}, {ID: "b"}},
			"count": 2,
		})
	}))

	hasReport := true
	analyses, err := client.List(context.Background(), ListQuery{
		Limit:     5,
		Statuses:  []string{"pending", "failed"},
		RiskTiers: []string{"RED"},
		HasReport: &hasReport,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(analyses) != 2 || analyses[0].ID != "a" {
		t.Fatalf("unexpected analyses: %+v", analyses)
	}
}

func TestStatsRoundTrip(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/stats" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(Stats{Total: 4, Succeeded: 3, Failed: 1})
	}))

	stats, err := client.Stats(context.Background(), ListQuery{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 4 || stats.Succeeded != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"JOB_NOT_FOUND","message":"job not found"}`))
	}))

	_, err := client.Get(context.Background(), "ghost")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "JOB_NOT_FOUND" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestAPIErrorFallsBackToRawBody(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream exploded"))
	}))

	_, err := client.Get(context.Background(), "any")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Message != "upstream exploded" {
		t.Fatalf("unexpected message: %q", apiErr.Message)
	}
}

func TestWaitForCompletionPolls(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := "running"
		if calls.Add(1) >= 3 {
			status = "succeeded"
		}
		_ = json.NewEncoder(w).Encode(Analysis{ID: "slow", Status: status})
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	analysis, err := client.WaitForCompletion(ctx, "slow", 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if analysis.Status != "succeeded" {
		t.Fatalf("unexpected terminal status: %s", analysis.Status)
	}
	if calls.Load() < 3 {
		t.Fatalf("expected at least 3 polls, got %d", calls.Load())
	}
}
