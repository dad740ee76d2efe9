package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/genai"

	coachErrors "github.com/ZaguanLabs/coach/internal/errors"
	"github.com/ZaguanLabs/coach/internal/conversation"
)

const (
	geminiName         = "gemini"
	defaultGeminiModel = "gemini-2.5-flash"
)

// Gemini generates replies through the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini provider. baseURL overrides the API endpoint and
// is normally empty.
func NewGemini(ctx context.Context, apiKey, model, baseURL string, httpClient *http.Client) (*Gemini, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = defaultGeminiModel
	}

	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Gemini{client: client, model: model}, nil
}

// Name implements Provider.
func (g *Gemini) Name() string { return geminiName }

// Generate implements Provider.
func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, geminiContents(req), geminiConfig(req))
	if err != nil {
		return "", wrapGeminiError(ctx, err)
	}
	return resp.Text(), nil
}

// Stream implements Provider.
func (g *Gemini) Stream(ctx context.Context, req Request, onChunk func(string) error) (string, error) {
	var full strings.Builder
	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, geminiContents(req), geminiConfig(req)) {
		if err != nil {
			return full.String(), wrapGeminiError(ctx, err)
		}
		delta := resp.Text()
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if onChunk != nil {
			if err := onChunk(delta); err != nil {
				return full.String(), err
			}
		}
	}
	return full.String(), nil
}

// geminiContents maps history roles onto Gemini's user/model roles and
// appends the new message.
func geminiContents(req Request) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, turn := range req.History {
		var role genai.Role = genai.RoleUser
		if turn.Role == conversation.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Content, role))
	}
	return append(contents, genai.NewContentFromText(req.Message, genai.RoleUser))
}

func geminiConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	return cfg
}

func wrapGeminiError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return coachErrors.NewProviderError(geminiName, apiErr.Code, apiErr.Message, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return coachErrors.NewProviderError(geminiName, apiErrPtr.Code, apiErrPtr.Message, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return coachErrors.NewNetworkError(urlErr.URL, "request failed", 0, err)
	}
	return coachErrors.NewProviderError(geminiName, 0, "request failed", err)
}
