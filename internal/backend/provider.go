package backend

import "fmt"

// ProviderConfig selects and configures a vendor adapter.
type ProviderConfig struct {
	Name    string // openai, anthropic, azure, openai-compatible
	APIKey  string
	BaseURL string // endpoint for azure, base URL otherwise
}

// NewProvider builds the adapter named by cfg.Name.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Name {
	case "openai", "":
		return NewOpenAIProvider(cfg.APIKey, cfg.BaseURL), nil
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey, cfg.BaseURL), nil
	case "azure":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("azure provider requires an endpoint")
		}
		return NewAzureProvider(cfg.APIKey, cfg.BaseURL), nil
	case "openai-compatible":
		return NewCompatProvider(cfg.APIKey, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Name)
	}
}
