package anchor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const testHash = "0c7e9a2b4d6f8e1a3c5b7d9f0e2a4c6b8d0f1e3a5c7b9d1f2e4a6c8b0d2f4e6a"

func TestHTTPPublisher_Publish(t *testing.T) {
	var gotHash string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/anchors" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Hash string `json:"hash"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		gotHash = body.Hash
		json.NewEncoder(w).Encode(map[string]string{"ref": "anchor-tx-42"})
	}))
	defer srv.Close()

	pub := NewHTTPPublisher(srv.URL, time.Second, nil)
	outcome := pub.Publish(context.Background(), testHash)
	if outcome.State != StateOK {
		t.Fatalf("expected ok, got %s (%s)", outcome.State, outcome.Reason)
	}
	if outcome.Ref != "anchor-tx-42" {
		t.Fatalf("expected anchor-tx-42, got %q", outcome.Ref)
	}
	if gotHash != testHash {
		t.Fatalf("expected the attestation hash in the request, got %q", gotHash)
	}
}

func TestHTTPPublisher_SkipsEmptyHash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("empty hash must not reach the anchor network")
	}))
	defer srv.Close()

	pub := NewHTTPPublisher(srv.URL, time.Second, nil)
	if outcome := pub.Publish(context.Background(), ""); outcome.State != StateSkipped {
		t.Fatalf("expected skipped, got %s", outcome.State)
	}
}

func TestHTTPPublisher_SkipsOnRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "over capacity", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	pub := NewHTTPPublisher(srv.URL, time.Second, nil)
	outcome := pub.Publish(context.Background(), testHash)
	if outcome.State != StateSkipped {
		t.Fatalf("expected skipped, got %s", outcome.State)
	}
	if outcome.Ref != "" {
		t.Fatalf("skipped outcome must not carry a ref, got %q", outcome.Ref)
	}
}

func TestHTTPPublisher_SkipsOnUnusableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ref": ""}`))
	}))
	defer srv.Close()

	pub := NewHTTPPublisher(srv.URL, time.Second, nil)
	if outcome := pub.Publish(context.Background(), testHash); outcome.State != StateSkipped {
		t.Fatalf("expected skipped, got %s", outcome.State)
	}
}

func TestHTTPPublisher_SkipsWhenNetworkDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	pub := NewHTTPPublisher(srv.URL, time.Second, nil)
	outcome := pub.Publish(context.Background(), testHash)
	if outcome.State != StateSkipped {
		t.Fatalf("expected skipped, got %s", outcome.State)
	}
	if outcome.Reason == "" {
		t.Fatal("expected a reason for the skip")
	}
}

func TestDisabledPublisher(t *testing.T) {
	if outcome := (Disabled{}).Publish(context.Background(), testHash); outcome.State != StateDisabled {
		t.Fatalf("expected disabled, got %s", outcome.State)
	}
}
