package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const azureAPIVersion = "2023-07-01-preview"

// AzureOpenAIConfig configures the Azure OpenAI adapter.
type AzureOpenAIConfig struct {
	// Name is the configured provider name. Defaults to "azure_openai".
	Name string
	// APIKey is the api-key header value.
	APIKey string
	// Endpoint is the Azure resource endpoint, e.g. https://myres.openai.azure.com.
	Endpoint string
	// Deployment is the model deployment name.
	Deployment string
	// Timeout for each HTTP request. Defaults to 120s.
	Timeout time.Duration
}

type azureProvider struct {
	cfg    AzureOpenAIConfig
	client *http.Client
}

// NewAzureOpenAI returns a Provider backed by an Azure OpenAI chat deployment.
func NewAzureOpenAI(cfg AzureOpenAIConfig) Provider {
	if cfg.Name == "" {
		cfg.Name = "azure_openai"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	return &azureProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *azureProvider) Name() string { return p.cfg.Name }

// --- wire types (subset of the chat completions API) ---

type azureMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type azureRequest struct {
	Messages    []azureMessage `json:"messages"`
	Temperature float64        `json:"temperature"`
	MaxTokens   int            `json:"max_tokens"`
}

type azureResponse struct {
	Choices []struct {
		Message azureMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (p *azureProvider) Generate(ctx context.Context, prompt string) (string, error) {
	reqBody := azureRequest{
		Messages: []azureMessage{
			{Role: "system", Content: "You are an expert Manim developer who creates beautiful animations."},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.7,
		MaxTokens:   4000,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("encoding azure request: %w", err)
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		p.cfg.Endpoint, p.cfg.Deployment, azureAPIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building azure request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling azure openai: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("reading azure response: %w", err)
	}

	var parsed azureResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decoding azure response (status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("azure openai API error (%s): %s", parsed.Error.Type, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("azure openai returned status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("azure openai returned no choices")
	}

	return parsed.Choices[0].Message.Content, nil
}
