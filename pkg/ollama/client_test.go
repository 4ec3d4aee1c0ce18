package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/paddy-monitor/pkg/client"
)

func TestNewClientInvalidURL(t *testing.T) {
	if _, err := NewClient("not a url"); err == nil {
		t.Error("Expected error for URL without scheme")
	}
}

func TestQuerySendsAllImages(t *testing.T) {
	var got api.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(api.ChatResponse{
			Model:   got.Model,
			Message: api.Message{Role: "assistant", Content: `{"analysis":{}}`},
			Done:    true,
		})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL + "/api/chat")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	images := []client.Image{
		{Data: []byte("drone")}, {Data: []byte("horizontal")},
		{Data: []byte("vertical")}, {Data: []byte("closeup")},
	}
	reply, err := c.Query(context.Background(), "qwen2.5vl", "describe", images)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if reply != `{"analysis":{}}` {
		t.Errorf("Unexpected reply %q", reply)
	}
	if got.Model != "qwen2.5vl" {
		t.Errorf("Expected model qwen2.5vl, got %s", got.Model)
	}
	if len(got.Messages) != 1 || len(got.Messages[0].Images) != 4 {
		t.Fatalf("Expected one message with 4 images, got %+v", got.Messages)
	}
	if string(got.Messages[0].Images[1]) != "horizontal" {
		t.Errorf("Expected image order to be preserved, got %q", got.Messages[0].Images[1])
	}
	if got.Options["num_ctx"] == nil {
		t.Error("Expected num_ctx to be raised for multi-image prompts")
	}
}

func TestQueryServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"model not loaded"}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Query(context.Background(), "m", "p", nil); err == nil {
		t.Error("Expected error from failing server")
	}
}
