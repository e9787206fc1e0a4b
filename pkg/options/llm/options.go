// Package llm provides language model provider options.
package llm

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/statute-agent/pkg/options"
)

var _ options.IOptions = (*ProviderOptions)(nil)

// ProviderOptions configures one provider. The same struct is used for the
// embedding and the chat side; the flag namespace tells them apart.
type ProviderOptions struct {
	// Provider is a registry name: openai, gemini or ollama.
	Provider     string        `json:"provider" mapstructure:"provider"`
	BaseURL      string        `json:"base-url" mapstructure:"base-url"`
	APIKey       string        `json:"-" mapstructure:"api-key"`
	Model        string        `json:"model" mapstructure:"model"`
	Timeout      time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries   int           `json:"max-retries" mapstructure:"max-retries"`
	Organization string        `json:"organization" mapstructure:"organization"`
	Temperature  float64       `json:"temperature" mapstructure:"temperature"`
	Dimensions   int           `json:"dimensions" mapstructure:"dimensions"`

	// Breaker settings for the resilience wrapper.
	BreakerThreshold int           `json:"breaker-threshold" mapstructure:"breaker-threshold"`
	BreakerTimeout   time.Duration `json:"breaker-timeout" mapstructure:"breaker-timeout"`

	namespace string
}

// NewProviderOptions creates provider options with defaults.
func NewProviderOptions(namespace string) *ProviderOptions {
	return &ProviderOptions{
		Provider:         "openai",
		BaseURL:          "https://api.openai.com/v1",
		Timeout:          60 * time.Second,
		MaxRetries:       2,
		BreakerThreshold: 5,
		BreakerTimeout:   30 * time.Second,
		namespace:        namespace,
	}
}

// NewEmbeddingOptions creates embedding provider options.
func NewEmbeddingOptions() *ProviderOptions {
	o := NewProviderOptions("embedding")
	o.Model = "text-embedding-3-large"
	return o
}

// NewChatOptions creates chat provider options.
func NewChatOptions() *ProviderOptions {
	o := NewProviderOptions("chat")
	o.Model = "gpt-4o-mini"
	o.Temperature = 0.3
	return o
}

// ToConfigMap converts the options to a provider factory config map.
func (o *ProviderOptions) ToConfigMap() map[string]any {
	m := map[string]any{
		"api_key":      o.APIKey,
		"embed_model":  o.Model,
		"chat_model":   o.Model,
		"timeout":      o.Timeout,
		"max_retries":  o.MaxRetries,
		"organization": o.Organization,
		"temperature":  o.Temperature,
		"dimensions":   o.Dimensions,
	}
	if o.BaseURL != "" {
		m["base_url"] = o.BaseURL
	}
	return m
}

// AddFlags adds flags for the provider to fs.
func (o *ProviderOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(append(prefixes, o.namespace)...)

	fs.StringVar(&o.Provider, p+"provider", o.Provider, "Provider name (openai, gemini, ollama).")
	fs.StringVar(&o.BaseURL, p+"base-url", o.BaseURL, "API base URL. Empty uses the provider default.")
	fs.StringVar(&o.APIKey, p+"api-key", o.APIKey, "API key.")
	fs.StringVar(&o.Model, p+"model", o.Model, "Model name.")
	fs.DurationVar(&o.Timeout, p+"timeout", o.Timeout, "Request timeout.")
	fs.IntVar(&o.MaxRetries, p+"max-retries", o.MaxRetries, "Transport-level retries.")
	fs.StringVar(&o.Organization, p+"organization", o.Organization, "Organization ID (openai only).")
	fs.Float64Var(&o.Temperature, p+"temperature", o.Temperature, "Sampling temperature; 0 keeps the model default.")
	fs.IntVar(&o.Dimensions, p+"dimensions", o.Dimensions, "Embedding dimensions; 0 keeps the model default.")
	fs.IntVar(&o.BreakerThreshold, p+"breaker-threshold", o.BreakerThreshold, "Consecutive failures that open the circuit.")
	fs.DurationVar(&o.BreakerTimeout, p+"breaker-timeout", o.BreakerTimeout, "Time the circuit stays open.")
}

// Validate validates the provider options.
func (o *ProviderOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	switch o.Provider {
	case "openai", "gemini", "ollama":
	case "":
		errs = append(errs, fmt.Errorf("%s.provider is required", o.namespace))
	default:
		errs = append(errs, fmt.Errorf("%s.provider %q is not supported", o.namespace, o.Provider))
	}
	if o.Model == "" {
		errs = append(errs, fmt.Errorf("%s.model is required", o.namespace))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("%s.timeout must be positive", o.namespace))
	}
	if o.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("%s.max-retries must not be negative", o.namespace))
	}
	return errs
}

// Complete fills provider-specific defaults.
func (o *ProviderOptions) Complete() error {
	if o.BaseURL == "https://api.openai.com/v1" {
		switch o.Provider {
		case "gemini":
			o.BaseURL = ""
		case "ollama":
			o.BaseURL = "http://localhost:11434"
		}
	}
	if o.BreakerThreshold <= 0 {
		o.BreakerThreshold = 5
	}
	return nil
}
