package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	coachErrors "github.com/ZaguanLabs/coach/internal/errors"
)

const openAIName = "openai"

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenAI handles HTTP communication with OpenAI-compatible APIs.
type OpenAI struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

// NewOpenAI creates a client for the chat completions endpoint under baseURL.
func NewOpenAI(apiKey, baseURL, model string, httpClient *http.Client) (*OpenAI, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("api key cannot be empty")
	}
	if baseURL == "" {
		return nil, errors.New("base URL cannot be empty")
	}
	if model == "" {
		return nil, errors.New("model cannot be empty")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: streamingTimeout}
	}

	return &OpenAI{
		apiKey:  apiKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		http:    httpClient,
	}, nil
}

// Name implements Provider.
func (c *OpenAI) Name() string { return openAIName }

// Generate sends a chat completion request and returns the assistant's response.
func (c *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := c.do(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	return c.decodeSuccess(resp.Body)
}

// Stream sends a streaming chat completion request and calls onChunk for each content delta.
func (c *OpenAI) Stream(ctx context.Context, req Request, onChunk func(string) error) (string, error) {
	resp, err := c.do(ctx, req, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	return c.processStream(resp.Body, onChunk)
}

func (c *OpenAI) do(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	reqBody := map[string]interface{}{
		"model":    c.model,
		"messages": messagesFor(req),
		"stream":   stream,
	}

	// Reasoning models reject a temperature.
	if !isReasoningModel(c.model) {
		reqBody["temperature"] = req.Temperature
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, coachErrors.NewNetworkError(c.baseURL, "execute request", 0, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, c.decodeError(bytes.NewReader(bodyBytes), resp.StatusCode)
	}

	return resp, nil
}

func isReasoningModel(model string) bool {
	for _, prefix := range []string{"o1", "o3", "o4"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

func (c *OpenAI) processStream(r io.Reader, onChunk func(string) error) (string, error) {
	var full strings.Builder
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return full.String(), nil
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}

		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // Skip malformed chunks
		}

		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			delta := chunk.Choices[0].Delta.Content
			full.WriteString(delta)
			if onChunk != nil {
				if err := onChunk(delta); err != nil {
					return full.String(), err
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return full.String(), coachErrors.NewNetworkError(c.baseURL, "stream read error", 0, err)
	}

	return full.String(), nil
}

func (c *OpenAI) decodeSuccess(r io.Reader) (string, error) {
	var response struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}

	if err := json.NewDecoder(r).Decode(&response); err != nil {
		return "", coachErrors.NewProviderError(openAIName, http.StatusBadGateway, "decode response", err)
	}

	if len(response.Choices) == 0 {
		return "", nil
	}

	return response.Choices[0].Message.Content, nil
}

func (c *OpenAI) decodeError(r io.Reader, status int) error {
	var apiErr struct {
		Error interface{} `json:"error"`
	}

	if err := json.NewDecoder(r).Decode(&apiErr); err != nil {
		return coachErrors.NewProviderError(openAIName, status, "failed to decode error body", err)
	}

	var message string
	switch e := apiErr.Error.(type) {
	case string:
		message = e
	case map[string]interface{}:
		if msg, ok := e["message"].(string); ok {
			message = msg
		}
	}

	return coachErrors.NewProviderError(openAIName, status, message, nil)
}
