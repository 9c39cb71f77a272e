package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/chadiek/historia/internal/conversation"
)

// HTTPError is a non-2xx backend response.
type HTTPError struct {
	Op     string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: status=%d body=%s", e.Op, e.Status, e.Body)
}

// ConnectivityError is a transport-level failure reaching the backend.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *ConnectivityError) Unwrap() error { return e.Err }

// Client performs the backend calls. None of them retries.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
}

// Health is the body of GET /health.
type Health struct {
	Status   string                   `json:"status"`
	Services map[string]ServiceStatus `json:"services"`
}

// ServiceStatus describes one backend dependency.
type ServiceStatus struct {
	Status       string `json:"status"`
	CurrentModel string `json:"current_model,omitempty"`
}

type chatRequest struct {
	Message  string `json:"message"`
	Category string `json:"category"`
	ChatID   string `json:"chat_id"`
}

// ChatReply is the body of POST /api/chat.
type ChatReply struct {
	Response string `json:"response"`
	Category string `json:"category"`
}

type transcribeResponse struct {
	Transcription string  `json:"transcription"`
	Confidence    float64 `json:"confidence"`
	Language      string  `json:"language,omitempty"`
}

type synthesizeRequest struct {
	Text string `json:"text"`
}

const maxErrorBody = 512

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: timeout},
		BaseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Health probes GET /health.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	resp, err := c.do(ctx, "health", http.MethodGet, "/health", "", nil)
	if err != nil {
		return h, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return h, fmt.Errorf("health: decode: %w", err)
	}
	return h, nil
}

// Chat sends one user message for the given session.
func (c *Client) Chat(ctx context.Context, message string, category conversation.Category, sessionID string) (ChatReply, error) {
	var reply ChatReply
	body, _ := json.Marshal(chatRequest{Message: message, Category: string(category), ChatID: sessionID})
	resp, err := c.do(ctx, "chat", http.MethodPost, "/api/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		return reply, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return reply, fmt.Errorf("chat: decode: %w", err)
	}
	if strings.TrimSpace(reply.Response) == "" {
		return reply, errors.New("chat: empty response")
	}
	return reply, nil
}

// Transcribe uploads recorded audio as the multipart field audio_file.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("audio_file", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	resp, err := c.do(ctx, "transcribe", http.MethodPost, "/api/transcribe", mw.FormDataContentType(), &buf)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var tr transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("transcribe: decode: %w", err)
	}
	return strings.TrimSpace(tr.Transcription), nil
}

// Synthesize renders text to audio bytes on the backend.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	body, _ := json.Marshal(synthesizeRequest{Text: text})
	resp, err := c.do(ctx, "synthesize", http.MethodPost, "/api/synthesize", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConnectivityError{Op: "synthesize", Err: err}
	}
	if len(audio) == 0 {
		return nil, errors.New("synthesize: empty audio")
	}
	return audio, nil
}

// do returns the response only for 2xx statuses; the caller closes the body.
func (c *Client) do(ctx context.Context, op, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &ConnectivityError{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, &HTTPError{Op: op, Status: resp.StatusCode, Body: string(b)}
	}
	return resp, nil
}
