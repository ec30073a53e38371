package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ChainGuard/internal/job"
)

func newTestServer(t *testing.T) (*httptest.Server, *job.Service) {
	t.Helper()
	service := job.NewService(job.NewMemoryStore(), job.NewMemoryQueue(16), 3)
	server := httptest.NewServer(NewServer(":0", service).Handler())
	t.Cleanup(server.Close)
	return server, service
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestSubmitAndFetchAnalysis(t *testing.T) {
	server, _ := newTestServer(t)

	payload := `{"id":"job-1","address":"0xabc","type":"wallet","chain":"ethereum"}`
	resp, err := http.Post(server.URL+"/api/v1/analyses", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var created job.Job
	decodeBody(t, resp, &created)
	if created.ID != "job-1" || created.Status != job.StatusPending {
		t.Fatalf("unexpected created job: %+v", created)
	}

	resp, err = http.Get(server.URL + "/api/v1/analyses/job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var fetched job.Job
	decodeBody(t, resp, &fetched)
	if fetched.Address != "0xabc" {
		t.Fatalf("unexpected job: %+v", fetched)
	}
}

func TestSubmitRejectsMalformedBody(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Post(server.URL+"/api/v1/analyses", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSubmitRejectsEmptyAddress(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Post(server.URL+"/api/v1/analyses", "application/json", strings.NewReader(`{"address":""}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var body struct {
		Code string `json:"code"`
	}
	decodeBody(t, resp, &body)
	if body.Code != string(job.CodeJobValidation) {
		t.Fatalf("expected validation code, got %s", body.Code)
	}
}

func TestAnalysisDetailNotFound(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/v1/analyses/ghost")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	var body struct {
		Code string `json:"code"`
	}
	decodeBody(t, resp, &body)
	if body.Code != string(job.CodeJobNotFound) {
		t.Fatalf("expected not found code, got %s", body.Code)
	}
}

func TestListAnalysesWithFilters(t *testing.T) {
	server, service := newTestServer(t)

	for _, id := range []string{"a", "b"} {
		if _, err := service.Submit(context.Background(), job.Request{ID: id, Address: "0x" + id}); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	resp, err := http.Get(server.URL + "/api/v1/analyses?status=pending&limit=10")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Jobs  []*job.Job `json:"jobs"`
		Count int        `json:"count"`
	}
	decodeBody(t, resp, &body)
	if body.Count != 2 || len(body.Jobs) != 2 {
		t.Fatalf("unexpected list body: %+v", body)
	}

	resp, err = http.Get(server.URL + "/api/v1/analyses?status=bogus")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid status filter should be rejected, got %d", resp.StatusCode)
	}
}

func TestStatsEndpoint(t *testing.T) {
	server, service := newTestServer(t)

	if _, err := service.Submit(context.Background(), job.Request{ID: "s1", Address: "0xabc"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	resp, err := http.Get(server.URL + "/api/v1/stats")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var stats job.JobStats
	decodeBody(t, resp, &stats)
	if stats.Total != 1 || stats.Pending != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from metrics, got %d", resp.StatusCode)
	}
}
