package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// ProviderConfig describes one generation backend entry from the providers
// YAML file. Extra keys the backend understands live in Options.
type ProviderConfig struct {
	Type      string            `yaml:"type"`
	APIKey    string            `yaml:"api_key"`
	BaseURL   string            `yaml:"base_url"`
	Model     string            `yaml:"model"`
	SecretKey string            `yaml:"secret_key"`
	Timeout   int               `yaml:"timeout"`
	Options   map[string]string `yaml:"options"`
}

// ProvidersFile is the parsed providers YAML document.
type ProvidersFile struct {
	ActiveProvider string                    `yaml:"active_provider"`
	Providers      map[string]ProviderConfig `yaml:"providers"`
}

// baseURLRequired lists provider types that cannot operate without an
// explicit endpoint.
var baseURLRequired = map[string]bool{
	"openai_compatible":    true,
	"kolors_virtual_tryon": true,
	"kling_ai":             true,
	"stable_diffusion":     true,
}

// LoadProviders reads and validates the providers YAML file. A missing file
// is not an error: it yields a default document with a single inactive
// openai_compatible entry so the service can boot and report its state.
func LoadProviders(path string) (*ProvidersFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return defaultProviders(), nil
		}
		return nil, fmt.Errorf("config: read providers file: %w", err)
	}

	var doc ProvidersFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse providers file: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks structural requirements: a known active provider and the
// credentials each entry's type demands.
func (f *ProvidersFile) Validate() error {
	if len(f.Providers) == 0 {
		return errors.New("config: no providers defined")
	}
	if f.ActiveProvider == "" {
		return errors.New("config: active_provider is required")
	}
	if _, ok := f.Providers[f.ActiveProvider]; !ok {
		return fmt.Errorf("config: active_provider %q not found in providers", f.ActiveProvider)
	}
	for name, p := range f.Providers {
		if p.Type == "" {
			return fmt.Errorf("config: provider %q: type is required", name)
		}
		if p.APIKey == "" {
			return fmt.Errorf("config: provider %q: api_key is required", name)
		}
		if baseURLRequired[p.Type] && p.BaseURL == "" {
			return fmt.Errorf("config: provider %q: base_url is required for type %s", name, p.Type)
		}
	}
	return nil
}

func defaultProviders() *ProvidersFile {
	return &ProvidersFile{
		ActiveProvider: "openai_compatible",
		Providers: map[string]ProviderConfig{
			"openai_compatible": {
				Type:    "openai_compatible",
				BaseURL: "https://api.openai.com/v1",
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				Model:   "gpt-4o",
			},
		},
	}
}
