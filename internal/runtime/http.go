package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPRuntime drives an agent through an OpenAI-compatible chat
// completions endpoint, the surface the gateway itself exposes.
type HTTPRuntime struct {
	agentID   string
	agentName string
	endpoint  string
	token     string
	client    *http.Client
}

// NewHTTPFactory returns a Factory producing HTTPRuntime handles
// against the given chat completions endpoint.
func NewHTTPFactory(endpoint, token string, turnTimeout time.Duration) Factory {
	if turnTimeout <= 0 {
		turnTimeout = 5 * time.Minute
	}
	return func(agentID, agentName string) AgentRuntime {
		return &HTTPRuntime{
			agentID:   agentID,
			agentName: agentName,
			endpoint:  endpoint,
			token:     token,
			client:    &http.Client{Timeout: turnTimeout},
		}
	}
}

func (r *HTTPRuntime) Initialize(ctx context.Context) error {
	if r.endpoint == "" {
		return fmt.Errorf("agent runtime endpoint not configured")
	}
	return nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (r *HTTPRuntime) Send(ctx context.Context, prompt string) error {
	body, err := json.Marshal(chatRequest{
		Model:    r.agentID,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("agent %s turn: %w", r.agentID, err)
	}
	defer resp.Body.Close()

	// The turn's channel writes happen via the agent's own tools; the
	// completion body itself is not needed, only the status.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agent %s turn: status %d", r.agentID, resp.StatusCode)
	}
	return nil
}

func (r *HTTPRuntime) Disconnect() error { return nil }
