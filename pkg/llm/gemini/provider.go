// Package gemini implements the Google Gemini chat and embedding provider on
// top of the generative-ai-go SDK.
package gemini

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/kart-io/statute-agent/pkg/llm"
)

// ProviderName is the registry name of this provider.
const ProviderName = "gemini"

func init() {
	llm.RegisterProvider(ProviderName, NewProvider)
}

// Config holds provider settings.
type Config struct {
	APIKey     string        `json:"api_key" mapstructure:"api_key"`
	EmbedModel string        `json:"embed_model" mapstructure:"embed_model"`
	ChatModel  string        `json:"chat_model" mapstructure:"chat_model"`
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`

	// Endpoint overrides the API endpoint; empty uses the SDK default.
	Endpoint string `json:"base_url" mapstructure:"base_url"`

	// Temperature is applied only when non-zero.
	Temperature float32 `json:"temperature" mapstructure:"temperature"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		EmbedModel: "text-embedding-004",
		ChatModel:  "gemini-1.5-flash",
		Timeout:    60 * time.Second,
	}
}

// Provider talks to Gemini through the SDK client.
type Provider struct {
	config *Config
	client *genai.Client
}

// NewProvider builds a provider from a config map.
func NewProvider(configMap map[string]any) (llm.Provider, error) {
	cfg := DefaultConfig()

	if v, ok := configMap["api_key"].(string); ok && v != "" {
		cfg.APIKey = v
	}
	if v, ok := configMap["embed_model"].(string); ok && v != "" {
		cfg.EmbedModel = v
	}
	if v, ok := configMap["chat_model"].(string); ok && v != "" {
		cfg.ChatModel = v
	}
	if v, ok := configMap["timeout"].(time.Duration); ok && v > 0 {
		cfg.Timeout = v
	}
	if v, ok := configMap["base_url"].(string); ok {
		cfg.Endpoint = v
	}
	if v, ok := configMap["temperature"].(float64); ok {
		cfg.Temperature = float32(v)
	}

	return NewProviderWithConfig(context.Background(), cfg)
}

// NewProviderWithConfig creates the SDK client.
func NewProviderWithConfig(ctx context.Context, cfg *Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api_key is required")
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Provider{config: cfg, client: client}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return ProviderName
}

// Close releases the SDK client.
func (p *Provider) Close() error {
	return p.client.Close()
}

func (p *Provider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.config.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.config.Timeout)
}

// Embed embeds texts in one batch request.
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	em := p.client.EmbeddingModel(p.config.EmbedModel)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini: batch embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini: expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}

	out := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("gemini: empty embedding for input %d", i)
		}
		out[i] = e.Values
	}
	return out, nil
}

// EmbedSingle embeds one text.
func (p *Provider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	resp, err := p.client.EmbeddingModel(p.config.EmbedModel).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini: embed: %w", err)
	}
	if resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("gemini: empty embedding")
	}
	return resp.Embedding.Values, nil
}

func (p *Provider) model(systemPrompt string) *genai.GenerativeModel {
	m := p.client.GenerativeModel(p.config.ChatModel)
	if systemPrompt != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	}
	if p.config.Temperature > 0 {
		m.SetTemperature(p.config.Temperature)
	}
	return m
}

// Chat runs a multi-turn completion. System messages become the system
// instruction; the last user message is sent against the preceding history.
func (p *Provider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	var system []string
	var turns []llm.Message
	for _, m := range messages {
		if m.Role == llm.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}
	if len(turns) == 0 {
		return "", fmt.Errorf("gemini: no user message")
	}

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	cs := p.model(strings.Join(system, "\n\n")).StartChat()
	for _, m := range turns[:len(turns)-1] {
		cs.History = append(cs.History, &genai.Content{
			Role:  toGeminiRole(m.Role),
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}

	resp, err := cs.SendMessage(ctx, genai.Text(turns[len(turns)-1].Content))
	if err != nil {
		return "", fmt.Errorf("gemini: chat: %w", err)
	}
	return responseText(resp)
}

// Generate runs a single-turn completion.
func (p *Provider) Generate(ctx context.Context, prompt string, systemPrompt string) (string, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	resp, err := p.model(systemPrompt).GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini: generate: %w", err)
	}
	return responseText(resp)
}

func toGeminiRole(r llm.Role) string {
	if r == llm.RoleAssistant {
		return "model"
	}
	return "user"
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini: empty response")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("gemini: response has no text parts")
	}
	return sb.String(), nil
}
