package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
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
		model = "gemini-1.5-flash"
	}
	base := settings.BaseURL
	if base == "" {
		base = "https://generativelanguage.googleapis.com"
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
	provider.Register("gemini", func(settings config.ProviderSettings) (provider.Adapter, error) {
		if settings.APIKey == "" {
			return nil, fmt.Errorf("api_key required")
		}
		return NewAdapter(settings), nil
	})
}

func (a *Adapter) Name() string {
	return "gemini"
}

// generateContent takes inline images and short inline videos, so every
// evidence tier is fair game.
func (a *Adapter) Supports(kind evidence.Kind) bool {
	return true
}

func (a *Adapter) CostPer1KTokens() float64 {
	return 0.0003
}

// Minimal request/response structs

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func (a *Adapter) Invoke(ctx context.Context, ev *evidence.Evidence, prompt string) (*provider.RawResult, error) {
	parts := []part{{Text: prompt}}
	switch ev.Kind {
	case evidence.KindClip:
		parts = append(parts, part{InlineData: &inlineData{
			MimeType: "video/mp4",
			Data:     base64.StdEncoding.EncodeToString(ev.Clip),
		}})
	default:
		for _, frame := range ev.Frames {
			parts = append(parts, part{InlineData: &inlineData{
				MimeType: "image/jpeg",
				Data:     base64.StdEncoding.EncodeToString(frame),
			}})
		}
	}

	body, err := json.Marshal(generateRequest{Contents: []content{{Parts: parts}}})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", a.baseURL, a.model)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("gemini: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("gemini: decode response: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("gemini: empty candidate set")
	}

	var sb strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}

	result, err := provider.ParseModelReply(sb.String())
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	result.TokensUsed = out.UsageMetadata.TotalTokenCount
	return result, nil
}
