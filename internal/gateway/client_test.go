package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chadiek/historia/internal/conversation"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", time.Second)
}

func TestClient_Chat(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chat" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["message"] != "hi" || body["category"] != "history" || body["chat_id"] != "sess-1" {
			t.Errorf("unexpected body: %v", body)
		}
		_, _ = w.Write([]byte(`{"response":"Hello there","category":"history","timestamp":"2024-01-01T00:00:00"}`))
	})
	reply, err := c.Chat(context.Background(), "hi", conversation.CategoryHistory, "sess-1")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if reply.Response != "Hello there" || reply.Category != "history" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestClient_ChatFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		status  int
	}{
		{"status_non_2xx", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500); _, _ = w.Write([]byte("oops")) }, 500},
		{"bad_json", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("not-json")) }, 0},
		{"empty_response", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"response":"  "}`)) }, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, tc.handler)
			_, err := c.Chat(context.Background(), "hi", conversation.CategoryGeneral, "x")
			if err == nil {
				t.Fatalf("expected error; got nil")
			}
			var he *HTTPError
			if tc.status != 0 && (!errors.As(err, &he) || he.Status != tc.status) {
				t.Fatalf("expected HTTPError %d, got %v", tc.status, err)
			}
		})
	}
}

func TestClient_ChatUnreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 200*time.Millisecond)
	_, err := c.Chat(context.Background(), "hi", conversation.CategoryGeneral, "x")
	var ce *ConnectivityError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConnectivityError, got %v", err)
	}
}

func TestClient_Transcribe(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("audio_file")
		if err != nil {
			t.Errorf("form file: %v", err)
			w.WriteHeader(400)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if string(data) != "RIFFdata" || hdr.Filename != "recording.wav" {
			t.Errorf("unexpected upload %q %q", data, hdr.Filename)
		}
		_, _ = w.Write([]byte(`{"transcription":" What is virtue? ","confidence":0.9}`))
	})
	text, err := c.Transcribe(context.Background(), []byte("RIFFdata"), "recording.wav")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "What is virtue?" {
		t.Fatalf("unexpected transcription %q", text)
	}
}

func TestClient_Synthesize(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/synthesize" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte{1, 2, 3})
	})
	audio, err := c.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(audio) != 3 {
		t.Fatalf("unexpected audio length %d", len(audio))
	}
}

func TestClient_Health(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"degraded","services":{"ollama":{"status":"disconnected"},"whisper":{"status":"loaded"}}}`))
	})
	h, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if h.Status != "degraded" || h.Services["whisper"].Status != "loaded" {
		t.Fatalf("unexpected health: %+v", h)
	}
}
