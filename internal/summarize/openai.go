package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultOpenAIURL   = "https://api.openai.com/v1"
	DefaultOpenAIModel = "gpt-3.5-turbo"
	DefaultOllamaURL   = "http://localhost:11434/v1"
	DefaultOllamaModel = "llama2"
)

const systemPrompt = "You are a helpful assistant that creates concise, conversational summaries suitable for text-to-speech."

func userPrompt(text string, maxLen int) string {
	return fmt.Sprintf("Please summarize the following text in a conversational way that's suitable for text-to-speech.\n"+
		"Keep it under %d characters and make it sound natural when spoken aloud:\n\n%s\n\nSummary:", maxLen, text)
}

// OpenAI talks to any OpenAI-compatible chat completions endpoint,
// including Ollama's /v1 API.
type OpenAI struct {
	name    string
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

// NewOpenAI returns a provider for baseURL. An empty apiKey sends no
// Authorization header, which is what Ollama expects.
func NewOpenAI(name, baseURL, model, apiKey string) *OpenAI {
	if name == "" {
		name = "openai"
	}
	return &OpenAI{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (o *OpenAI) Name() string { return o.name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (o *OpenAI) Summarize(ctx context.Context, text string, maxLen int) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(text, maxLen)},
		},
		MaxTokens:   100,
		Temperature: 0.7,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", o.name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%s: read response: %w", o.name, err)
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("%s: status %s", o.name, resp.Status)
		}
		return "", fmt.Errorf("%s: decode response: %w", o.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		if out.Error != nil && out.Error.Message != "" {
			return "", fmt.Errorf("%s: status %s: %s", o.name, resp.Status, out.Error.Message)
		}
		return "", fmt.Errorf("%s: status %s", o.name, resp.Status)
	}
	if len(out.Choices) == 0 {
		return "", errors.New(o.name + ": no choices in response")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
