// Package llm is a client for OpenAI-compatible inference endpoints
// (Ollama, llama.cpp, vLLM and the hosted providers all speak it).
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Message is one chat turn in the wire format
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Options tunes a single chat call
type Options struct {
	Temperature float64
	MaxTokens   int
	Stream      bool
}

// Chatter is the interface agents consume; satisfied by *Client and by
// test fakes.
type Chatter interface {
	Chat(ctx context.Context, messages []Message, opts Options) (string, error)
}

// Embedder produces embedding vectors for retrieval
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Client talks to one OpenAI-compatible endpoint
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	embedModel string
	httpClient *http.Client
}

// New creates a client. baseURL is the endpoint root, e.g.
// http://localhost:11434/v1.
func New(baseURL, apiKey, model, embedModel string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Chat performs a blocking completion and returns the assistant content.
// With opts.Stream it consumes the SSE stream and returns the
// concatenated deltas, so callers get one uniform result either way.
func (c *Client) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	if opts.Stream {
		var sb strings.Builder
		err := c.ChatStream(ctx, messages, opts, func(delta string) error {
			sb.WriteString(delta)
			return nil
		})
		return sb.String(), err
	}

	body, err := c.post(ctx, "/chat/completions", chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	defer body.Close()

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in chat response")
	}
	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

// ChatStream performs a streaming completion, invoking fn for every
// content delta. Returning an error from fn aborts the stream.
func (c *Client) ChatStream(ctx context.Context, messages []Message, opts Options, fn func(delta string) error) error {
	body, err := c.post(ctx, "/chat/completions", chatRequest{
		Model:       c.model,
		Messages:    messages,
		Stream:      true,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return err
	}
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue // skip malformed keep-alives
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			if err := fn(chunk.Choices[0].Delta.Content); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}

// Embed returns the embedding vector for text
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := c.post(ctx, "/embeddings", map[string]any{
		"model": c.embedModel,
		"input": text,
	})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var result struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode embeddings response: %w", err)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("no embedding in response")
	}
	return result.Data[0].Embedding, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (io.ReadCloser, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}
	return resp.Body, nil
}
