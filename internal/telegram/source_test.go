package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSource_FetchUpdates(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTEST_TOKEN/getUpdates" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req GetUpdatesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Offset != 10 || req.Limit != 50 || req.Timeout != 30 {
			t.Errorf("request = %+v", req)
		}
		if len(req.AllowedUpdates) != 1 || req.AllowedUpdates[0] != "message" {
			t.Errorf("allowed_updates = %v", req.AllowedUpdates)
		}
		_, _ = io.WriteString(w, `{"ok":true,"result":[
			{"update_id":10,"message":{"message_id":1,"chat":{"id":1,"type":"private"},"text":"a"}},
			{"update_id":11,"message":"garbage"},
			{"update_id":12,"inline_query":{"id":"q","from":{"id":5,"first_name":"x"},"query":"cats","offset":""}}
		]}`)
	}))
	defer srv.Close()

	src := NewSource(newTestClient(t, srv), SourceConfig{
		Limit:          50,
		PollingTimeout: 30,
		AllowedUpdates: []string{"message"},
	})
	batch, err := src.FetchUpdates(context.Background(), 10)
	if err != nil {
		t.Fatalf("FetchUpdates: %v", err)
	}
	if len(batch.Payloads) != 3 {
		t.Errorf("payloads = %d, want 3", len(batch.Payloads))
	}
	if batch.NextOffset != 13 {
		t.Errorf("NextOffset = %d, want 13", batch.NextOffset)
	}
}

func TestSource_EmptyKeepsOffset(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"ok":true,"result":[]}`)
	}))
	defer srv.Close()

	batch, err := NewSource(newTestClient(t, srv), SourceConfig{}).FetchUpdates(context.Background(), 77)
	if err != nil {
		t.Fatalf("FetchUpdates: %v", err)
	}
	if batch.NextOffset != 77 || len(batch.Payloads) != 0 {
		t.Errorf("batch = %+v", batch)
	}
}
