package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fleetcomply/fleetcomply/internal/models"
)

func TestSubmitReport(t *testing.T) {
	var gotPath, gotContentType string
	var gotPayload ReportPayload

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		json.NewEncoder(w).Encode(SubmitResponse{Status: "ok", Timestamp: "20260828T120000Z"})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", 0) // trailing slash must not double up
	resp, err := c.SubmitReport(context.Background(), ReportPayload{
		AgentID: "agent-1",
		Scan:    models.FactContext{"hostname": "web-01"},
	})
	if err != nil {
		t.Fatalf("SubmitReport() error: %v", err)
	}

	if gotPath != "/api/v1/reports" {
		t.Errorf("path = %q, want /api/v1/reports", gotPath)
	}
	if gotContentType != "application/json" {
		t.Errorf("content type = %q, want application/json", gotContentType)
	}
	if gotPayload.AgentID != "agent-1" {
		t.Errorf("payload agent_id = %q, want agent-1", gotPayload.AgentID)
	}
	if resp.Status != "ok" || resp.Timestamp != "20260828T120000Z" {
		t.Errorf("response = %+v, want ok/20260828T120000Z", resp)
	}
}

func TestSubmitReport_ServerRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"agent_id is required"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	_, err := c.SubmitReport(context.Background(), ReportPayload{})
	if err == nil {
		t.Fatal("SubmitReport() should surface a 400")
	}
	if !strings.Contains(err.Error(), "agent_id is required") {
		t.Errorf("error %q should carry the server's message", err)
	}
}

func TestCatalogVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/catalog/version" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"version": "sha256:abc", "rules": 5})
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	version, err := c.CatalogVersion(context.Background())
	if err != nil {
		t.Fatalf("CatalogVersion() error: %v", err)
	}
	if version != "sha256:abc" {
		t.Errorf("CatalogVersion() = %q, want sha256:abc", version)
	}
}

func TestCatalogVersion_UnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	if _, err := c.CatalogVersion(context.Background()); err == nil {
		t.Fatal("CatalogVersion() should fail on 500")
	}
}
