package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vigilops/vigil-core/internal/config"
	"github.com/vigilops/vigil-core/internal/evidence"
	"github.com/vigilops/vigil-core/internal/provider"
)

type Adapter struct {
	client  *http.Client
	apiKey  string
	model   string
	baseURL string
}

func NewAdapter(settings config.ProviderSettings) *Adapter {
	model := settings.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	base := settings.BaseURL
	if base == "" {
		base = "https://api.openai.com"
	}
	return &Adapter{
		client: &http.Client{
			Timeout: provider.DefaultTimeout * time.Second,
		},
		apiKey:  settings.APIKey,
		model:   model,
		baseURL: base,
	}
}

func init() {
	provider.Register("openai", func(settings config.ProviderSettings) (provider.Adapter, error) {
		if settings.APIKey == "" {
			return nil, fmt.Errorf("api_key required")
		}
		return NewAdapter(settings), nil
	})
}

func (a *Adapter) Name() string {
	return "openai"
}

// Chat completions take one or many images; there is no clip input.
func (a *Adapter) Supports(kind evidence.Kind) bool {
	return kind == evidence.KindSingleFrame || kind == evidence.KindMultiFrame
}

func (a *Adapter) CostPer1KTokens() float64 {
	return 0.0006
}

// Minimal request/response structs

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *imageRef `json:"image_url,omitempty"`
}

type imageRef struct {
	URL string `json:"url"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (a *Adapter) Invoke(ctx context.Context, ev *evidence.Evidence, prompt string) (*provider.RawResult, error) {
	if !a.Supports(ev.Kind) {
		return nil, fmt.Errorf("openai: unsupported evidence kind %s", ev.Kind)
	}

	parts := []contentPart{{Type: "text", Text: prompt}}
	for _, frame := range ev.Frames {
		parts = append(parts, contentPart{
			Type: "image_url",
			ImageURL: &imageRef{
				URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(frame),
			},
		})
	}

	body, err := json.Marshal(chatRequest{
		Model:          a.model,
		Messages:       []chatMessage{{Role: "user", Content: parts}},
		MaxTokens:      300,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("openai: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices in response")
	}

	result, err := provider.ParseModelReply(out.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	result.TokensUsed = out.Usage.TotalTokens
	return result, nil
}
