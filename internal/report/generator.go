package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SynthesisError wraps a text-generation backend failure. Nothing is
// persisted when one is returned.
type SynthesisError struct {
	Kind string
	Err  error
}

func (e SynthesisError) Error() string {
	return fmt.Sprintf("synthesis of %s report failed: %v", e.Kind, e.Err)
}

func (e SynthesisError) Unwrap() error {
	return e.Err
}

// Generator produces report text from a system prompt and a context block.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// HTTPGenerator talks to an OpenAI-style chat completions endpoint.
type HTTPGenerator struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (g HTTPGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: g.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.APIKey)
	}
	client := g.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("backend returned status %d with unparseable body", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		msg := "unknown error"
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return "", fmt.Errorf("backend returned status %d: %s", resp.StatusCode, msg)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("backend returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// TemplateGenerator renders reports locally from the context block. It backs
// deployments with no backend configured and keeps tests hermetic.
type TemplateGenerator struct{}

func (TemplateGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	return fmt.Sprintf("Generated Summary\n\n%s", user), nil
}
