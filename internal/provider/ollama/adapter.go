package ollama

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

// Adapter speaks to a local ollama daemon. No key, no billing; it is
// the natural tail of the precedence list once paid backends fail.
type Adapter struct {
	client  *http.Client
	model   string
	baseURL string
}

func NewAdapter(settings config.ProviderSettings) *Adapter {
	model := settings.Model
	if model == "" {
		model = "llava"
	}
	base := settings.BaseURL
	if base == "" {
		base = "http://localhost:11434"
	}
	return &Adapter{
		// Local models can be slow to first token; give them headroom
		// beyond the cloud ceiling. The router deadline still applies.
		client:  &http.Client{Timeout: 2 * provider.DefaultTimeout * time.Second},
		model:   model,
		baseURL: base,
	}
}

func init() {
	provider.Register("ollama", func(settings config.ProviderSettings) (provider.Adapter, error) {
		return NewAdapter(settings), nil
	})
}

func (a *Adapter) Name() string {
	return "ollama"
}

func (a *Adapter) Supports(kind evidence.Kind) bool {
	return kind == evidence.KindSingleFrame || kind == evidence.KindMultiFrame
}

func (a *Adapter) CostPer1KTokens() float64 {
	return 0
}

type generateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images,omitempty"`
	Stream bool     `json:"stream"`
	Format string   `json:"format,omitempty"`
}

type generateResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func (a *Adapter) Invoke(ctx context.Context, ev *evidence.Evidence, prompt string) (*provider.RawResult, error) {
	if !a.Supports(ev.Kind) {
		return nil, fmt.Errorf("ollama: unsupported evidence kind %s", ev.Kind)
	}

	images := make([]string, 0, len(ev.Frames))
	for _, frame := range ev.Frames {
		images = append(images, base64.StdEncoding.EncodeToString(frame))
	}

	body, err := json.Marshal(generateRequest{
		Model:  a.model,
		Prompt: prompt,
		Images: images,
		Stream: false,
		Format: "json",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ollama: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}

	result, err := provider.ParseModelReply(out.Response)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	result.TokensUsed = out.PromptEvalCount + out.EvalCount
	return result, nil
}
