package generator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"photostudio/internal/imageutil"
	"photostudio/internal/infra"
	"photostudio/internal/retry"
)

// OpenAIOptions configures an OpenAI-compatible chat-completions backend.
type OpenAIOptions struct {
	APIKey  string
	BaseURL string
	Model   string
	Client  *http.Client
	Logger  infra.Logger
}

// OpenAIGenerator talks to any endpoint exposing the OpenAI chat-completions
// shape with image output, such as OpenRouter or a self-hosted gateway.
type OpenAIGenerator struct {
	name       string
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     infra.Logger
}

// NewOpenAIGenerator constructs the backend with injected dependencies.
func NewOpenAIGenerator(name string, opts OpenAIOptions) *OpenAIGenerator {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAIGenerator{
		name:       name,
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		model:      model,
		httpClient: client,
		logger:     opts.Logger,
	}
}

var _ Generator = (*OpenAIGenerator)(nil)

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []chatContent `json:"content"`
}

type chatContent struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Images  []struct {
				ImageURL chatImageURL `json:"image_url"`
			} `json:"images"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ValidateConfig reports whether the backend has enough configuration to run.
func (g *OpenAIGenerator) ValidateConfig() bool {
	return g.apiKey != "" && g.baseURL != ""
}

// Info describes the backend for discovery endpoints.
func (g *OpenAIGenerator) Info() ProviderInfo {
	return ProviderInfo{
		Name:        g.name,
		DisplayName: "OpenAI Compatible",
		Type:        "openai_compatible",
		Features:    []string{"product_photo", "image_edit"},
		Configured:  g.ValidateConfig(),
	}
}

// Generate performs one attempt against the chat-completions endpoint.
// Transport faults come back as errors; a response the backend produced but
// that carries no usable image is a typed failure.
func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	content := []chatContent{{Type: "text", Text: req.Prompt}}
	for _, img := range append([][]byte{req.ModelImage}, req.ProductImages...) {
		if len(img) == 0 {
			continue
		}
		content = append(content, chatContent{
			Type:     "image_url",
			ImageURL: &chatImageURL{URL: dataURL(img)},
		})
	}
	if req.Background != nil && len(req.Background.CustomImage) > 0 {
		content = append(content, chatContent{
			Type:     "image_url",
			ImageURL: &chatImageURL{URL: dataURL(req.Background.CustomImage)},
		})
	}

	payload := chatRequest{
		Model:    g.model,
		Messages: []chatMessage{{Role: "user", Content: content}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("openai: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("openai: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("openai: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Result{}, fmt.Errorf("openai: status 429: %w", retry.ErrRateLimited)
	case resp.StatusCode == http.StatusUnauthorized:
		return Result{Success: false, Error: "invalid API key, check provider configuration"}, nil
	case resp.StatusCode == http.StatusBadRequest:
		return Result{Success: false, Error: "request rejected: " + apiErrorMessage(raw)}, nil
	case resp.StatusCode >= 500:
		return Result{}, fmt.Errorf("openai: server error %d: %s", resp.StatusCode, apiErrorMessage(raw))
	case resp.StatusCode >= 300:
		return Result{}, fmt.Errorf("openai: unexpected status %d: %s", resp.StatusCode, apiErrorMessage(raw))
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Result{Success: false, Error: "malformed provider response"}, nil
	}
	if decoded.Error != nil {
		return Result{Success: false, Error: decoded.Error.Message}, nil
	}
	if len(decoded.Choices) == 0 {
		return Result{Success: false, Error: "provider returned no choices"}, nil
	}

	msg := decoded.Choices[0].Message
	ref := ""
	if len(msg.Images) > 0 {
		ref = msg.Images[0].ImageURL.URL
	}
	if ref == "" {
		ref = extractImageRef(msg.Content)
	}
	if ref == "" {
		return Result{Success: false, Error: "no image found in provider response"}, nil
	}

	data, err := g.resolveImage(ctx, ref)
	if err != nil {
		return Result{}, err
	}
	if imageutil.DetectFormat(data) == imageutil.FormatUnknown {
		return Result{Success: false, Error: "provider returned data that is not a valid image"}, nil
	}

	g.logger.Debug().Str("provider", g.name).Str("model", g.model).Int("bytes", len(data)).Msg("image generated")
	return Result{
		Success: true,
		Image:   data,
		Metadata: map[string]string{
			"model":    g.model,
			"provider": g.name,
		},
	}, nil
}

var markdownImageRef = regexp.MustCompile(`!\[[^\]]*\]\(([^)\s]+)\)`)

// extractImageRef pulls an image reference out of assistant text, trying
// markdown image syntax, then a data URL, then a bare http(s) URL.
func extractImageRef(content string) string {
	if m := markdownImageRef.FindStringSubmatch(content); len(m) == 2 {
		return m[1]
	}
	if idx := strings.Index(content, "data:image/"); idx >= 0 {
		ref := content[idx:]
		if end := strings.IndexAny(ref, " \n\t\"')"); end > 0 {
			ref = ref[:end]
		}
		return ref
	}
	for _, field := range strings.Fields(content) {
		trimmed := strings.Trim(field, `"'<>()`)
		if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
			return trimmed
		}
	}
	return ""
}

func (g *OpenAIGenerator) resolveImage(ctx context.Context, ref string) ([]byte, error) {
	if strings.HasPrefix(ref, "data:") {
		idx := strings.Index(ref, ",")
		if idx < 0 {
			return nil, fmt.Errorf("openai: malformed data url")
		}
		data, err := base64.StdEncoding.DecodeString(ref[idx+1:])
		if err != nil {
			return nil, fmt.Errorf("openai: decode data url: %w", err)
		}
		return data, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("openai: build download request: %w", err)
	}
	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("openai: download image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read image: %w", err)
	}
	return data, nil
}

func dataURL(img []byte) string {
	mime := "image/png"
	switch imageutil.DetectFormat(img) {
	case imageutil.FormatJPEG:
		mime = "image/jpeg"
	case imageutil.FormatWebP:
		mime = "image/webp"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img)
}

func apiErrorMessage(raw []byte) string {
	var decoded struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &decoded); err == nil {
		if decoded.Error.Message != "" {
			return decoded.Error.Message
		}
		if decoded.Message != "" {
			return decoded.Message
		}
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
