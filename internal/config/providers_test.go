package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeProvidersFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "providers.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write providers file: %v", err)
	}
	return path
}

func TestLoadProvidersValid(t *testing.T) {
	path := writeProvidersFile(t, `
active_provider: primary
providers:
  primary:
    type: openai_compatible
    api_key: sk-test
    base_url: https://api.example.com/v1
    model: test-image-model
    timeout: 60
  tryon:
    type: kolors_virtual_tryon
    api_key: kl-test
    base_url: https://tryon.example.com
`)

	doc, err := LoadProviders(path)
	if err != nil {
		t.Fatalf("LoadProviders: %v", err)
	}
	if doc.ActiveProvider != "primary" {
		t.Fatalf("active provider = %q", doc.ActiveProvider)
	}
	if doc.Providers["primary"].Model != "test-image-model" {
		t.Fatalf("model = %q", doc.Providers["primary"].Model)
	}
	if doc.Providers["primary"].Timeout != 60 {
		t.Fatalf("timeout = %d", doc.Providers["primary"].Timeout)
	}
	if doc.Providers["tryon"].Timeout != 0 {
		t.Fatalf("tryon timeout = %d", doc.Providers["tryon"].Timeout)
	}
}

func TestLoadProvidersMissingFile(t *testing.T) {
	doc, err := LoadProviders(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadProviders: %v", err)
	}
	if doc.ActiveProvider != "openai_compatible" {
		t.Fatalf("expected default active provider, got %q", doc.ActiveProvider)
	}
}

func TestLoadProvidersMissingAPIKey(t *testing.T) {
	path := writeProvidersFile(t, `
active_provider: primary
providers:
  primary:
    type: openai_compatible
    base_url: https://api.example.com/v1
`)

	if _, err := LoadProviders(path); err == nil || !strings.Contains(err.Error(), "api_key") {
		t.Fatalf("expected api_key error, got %v", err)
	}
}

func TestLoadProvidersBaseURLRequiredByType(t *testing.T) {
	path := writeProvidersFile(t, `
active_provider: primary
providers:
  primary:
    type: kling_ai
    api_key: kl-test
`)

	if _, err := LoadProviders(path); err == nil || !strings.Contains(err.Error(), "base_url") {
		t.Fatalf("expected base_url error, got %v", err)
	}
}

func TestLoadProvidersUnknownActive(t *testing.T) {
	path := writeProvidersFile(t, `
active_provider: ghost
providers:
  primary:
    type: openai_compatible
    api_key: sk-test
    base_url: https://api.example.com/v1
`)

	if _, err := LoadProviders(path); err == nil || !strings.Contains(err.Error(), "active_provider") {
		t.Fatalf("expected active_provider error, got %v", err)
	}
}
