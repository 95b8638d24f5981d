package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, authToken string, emb *stubEmbedder) *httptest.Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.AuthToken = authToken
	cfg.Index.Dim = emb.dim
	cfg.Scheduler.MaxBatchSize = 1
	cfg.Scheduler.MaxWait = "0s"

	s, err := NewServer(cfg, oneHotIndex(t, emb.dim), emb)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(func() {
		ts.Close()
		s.scheduler.Stop()
	})
	return ts
}

func postPredict(t *testing.T, ts *httptest.Server, token string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/predict", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	return resp
}

func TestPredictEndpoint(t *testing.T) {
	ts := newTestServer(t, "", &stubEmbedder{dim: 8})

	resp := postPredict(t, ts, "", PredictRequest{
		Requests: []QueryRequest{{Query: "doc3"}, {Query: "doc6"}},
		K:        2,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d", resp.StatusCode)
	}

	var out PredictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Indices) != 2 {
		t.Fatalf("got %d index lists, want 2", len(out.Indices))
	}
	if out.Indices[0][0] != 3 || out.Indices[1][0] != 6 {
		t.Errorf("wrong nearest ids: %v", out.Indices)
	}
	if len(out.Indices[0]) != 2 {
		t.Errorf("got %d ids, want k=2", len(out.Indices[0]))
	}
	if out.ModelLatency == 0 || out.SearchLatency == 0 {
		t.Errorf("expected non-zero stage latencies, got %d/%d", out.ModelLatency, out.SearchLatency)
	}
}

func TestPredictValidation(t *testing.T) {
	ts := newTestServer(t, "", &stubEmbedder{dim: 4})

	cases := []struct {
		name string
		body any
	}{
		{"empty requests", PredictRequest{K: 2}},
		{"zero k", PredictRequest{Requests: []QueryRequest{{Query: "doc0"}}}},
		{"empty query", PredictRequest{Requests: []QueryRequest{{Query: ""}}, K: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postPredict(t, ts, "", tc.body)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("got status %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestPredictBackendFailure(t *testing.T) {
	ts := newTestServer(t, "", &stubEmbedder{dim: 4, fail: "doc"})

	resp := postPredict(t, ts, "", PredictRequest{
		Requests: []QueryRequest{{Query: "doc0"}},
		K:        1,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("got status %d, want 502", resp.StatusCode)
	}

	var out errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Error == "" {
		t.Error("error response carries no message")
	}
}

func TestAuthMiddleware(t *testing.T) {
	ts := newTestServer(t, "secret-token", &stubEmbedder{dim: 4})

	resp := postPredict(t, ts, "", PredictRequest{
		Requests: []QueryRequest{{Query: "doc0"}},
		K:        1,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated predict: got %d, want 401", resp.StatusCode)
	}

	resp = postPredict(t, ts, "secret-token", PredictRequest{
		Requests: []QueryRequest{{Query: "doc0"}},
		K:        1,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated predict: got %d, want 200", resp.StatusCode)
	}

	// Health stays open for probes.
	hr, err := ts.Client().Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	hr.Body.Close()
	if hr.StatusCode != http.StatusOK {
		t.Errorf("healthz without token: got %d, want 200", hr.StatusCode)
	}
}

func TestStatsEndpoint(t *testing.T) {
	ts := newTestServer(t, "", &stubEmbedder{dim: 8})

	resp, err := ts.Client().Get(ts.URL + "/stats")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var out StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Vectors != 8 || out.Dim != 8 {
		t.Errorf("unexpected stats: %+v", out)
	}
}
