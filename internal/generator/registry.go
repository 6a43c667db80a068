package generator

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"photostudio/internal/config"
	"photostudio/internal/infra"
)

// Factory builds a backend from its YAML entry.
type Factory func(name string, cfg config.ProviderConfig, client *http.Client, logger infra.Logger) Generator

type descriptor struct {
	displayName string
	features    []string
	factory     Factory
}

// Registry maps provider type names to backend factories.
type Registry struct {
	descriptors map[string]descriptor
}

// NewRegistry returns a registry with all built-in backend types registered.
func NewRegistry() *Registry {
	r := &Registry{descriptors: map[string]descriptor{}}
	r.register("openai_compatible", "OpenAI Compatible", []string{"product_photo", "image_edit"}, func(name string, cfg config.ProviderConfig, client *http.Client, logger infra.Logger) Generator {
		return NewOpenAIGenerator(name, OpenAIOptions{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Client:  client,
			Logger:  logger,
		})
	})
	r.register("kling_ai", "Kling AI", []string{"product_photo"}, func(name string, cfg config.ProviderConfig, client *http.Client, logger infra.Logger) Generator {
		return NewKlingGenerator(name, KlingOptions{
			AccessKey:   cfg.APIKey,
			SecretKey:   cfg.SecretKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Client:      client,
			Logger:      logger,
			PollTimeout: time.Duration(cfg.Timeout) * time.Second,
		})
	})
	r.register("kolors_virtual_tryon", "Kolors Virtual Try-On", []string{"product_photo", "virtual_tryon"}, func(name string, cfg config.ProviderConfig, client *http.Client, logger infra.Logger) Generator {
		apiKey := cfg.APIKey
		if cfg.SecretKey != "" {
			apiKey = cfg.APIKey + ":" + cfg.SecretKey
		}
		return NewKolorsGenerator(name, KolorsOptions{
			APIKey:      apiKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Client:      client,
			Logger:      logger,
			PollTimeout: time.Duration(cfg.Timeout) * time.Second,
		})
	})
	r.register("stable_diffusion", "Stable Diffusion", []string{"product_photo", "inpainting"}, func(name string, cfg config.ProviderConfig, client *http.Client, logger infra.Logger) Generator {
		return NewStableDiffusionGenerator(name, StableDiffusionOptions{
			APIKey:   cfg.APIKey,
			BaseURL:  cfg.BaseURL,
			Model:    cfg.Model,
			CFGScale: optionInt(cfg.Options, "cfg_scale"),
			Steps:    optionInt(cfg.Options, "steps"),
			Sampler:  cfg.Options["sampler"],
			Client:   client,
			Logger:   logger,
		})
	})
	return r
}

// optionInt reads an integer extra from the provider's options block; absent
// or malformed values yield 0 so the backend's defaults apply.
func optionInt(options map[string]string, key string) int {
	n, err := strconv.Atoi(options[key])
	if err != nil {
		return 0
	}
	return n
}

func (r *Registry) register(typeName, displayName string, features []string, f Factory) {
	r.descriptors[typeName] = descriptor{displayName: displayName, features: features, factory: f}
}

// Types returns the registered provider type names, sorted.
func (r *Registry) Types() []string {
	names := make([]string, 0, len(r.descriptors))
	for name := range r.descriptors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create instantiates the backend named by the YAML entry's type field. The
// entry's timeout, in seconds, bounds every request the backend makes.
func (r *Registry) Create(name string, cfg config.ProviderConfig, logger infra.Logger) (Generator, error) {
	desc, ok := r.descriptors[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("generator: unknown provider type %q (available: %s)", cfg.Type, strings.Join(r.Types(), ", "))
	}
	timeout := 180 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	client := &http.Client{Timeout: timeout}
	return desc.factory(name, cfg, client, logger), nil
}

// DisplayName returns the human-readable name for a provider type.
func (r *Registry) DisplayName(typeName string) string {
	if desc, ok := r.descriptors[typeName]; ok {
		return desc.displayName
	}
	return typeName
}

// Features returns the capability tags for a provider type.
func (r *Registry) Features(typeName string) []string {
	if desc, ok := r.descriptors[typeName]; ok {
		return append([]string(nil), desc.features...)
	}
	return nil
}
