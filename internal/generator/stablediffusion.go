package generator

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

	"photostudio/internal/imageutil"
	"photostudio/internal/infra"
	"photostudio/internal/retry"
)

// StableDiffusionOptions configures the Stable Diffusion image-to-image
// backend (Stability AI API shape).
type StableDiffusionOptions struct {
	APIKey   string
	BaseURL  string
	Model    string
	CFGScale int
	Steps    int
	Sampler  string
	Client   *http.Client
	Logger   infra.Logger
}

// StableDiffusionGenerator composites model and product photos through an
// image-to-image endpoint. It is the only backend with a masked inpainting
// operation, which the edit-session applier uses for targeted edits.
type StableDiffusionGenerator struct {
	name       string
	apiKey     string
	baseURL    string
	model      string
	cfgScale   int
	steps      int
	sampler    string
	httpClient *http.Client
	logger     infra.Logger
}

// NewStableDiffusionGenerator constructs the backend with injected
// dependencies.
func NewStableDiffusionGenerator(name string, opts StableDiffusionOptions) *StableDiffusionGenerator {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 180 * time.Second}
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "stable-diffusion-xl-1024-v1-0"
	}
	cfgScale := opts.CFGScale
	if cfgScale <= 0 {
		cfgScale = 7
	}
	steps := opts.Steps
	if steps <= 0 {
		steps = 30
	}
	sampler := strings.TrimSpace(opts.Sampler)
	if sampler == "" {
		sampler = "K_EULER_ANCESTRAL"
	}
	return &StableDiffusionGenerator{
		name:       name,
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		model:      model,
		cfgScale:   cfgScale,
		steps:      steps,
		sampler:    sampler,
		httpClient: client,
		logger:     opts.Logger,
	}
}

var _ Generator = (*StableDiffusionGenerator)(nil)

type sdTextPrompt struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

type sdGenerationRequest struct {
	InitImage   string         `json:"init_image"`
	MaskImage   string         `json:"mask_image,omitempty"`
	StyleImage  string         `json:"style_image,omitempty"`
	TextPrompts []sdTextPrompt `json:"text_prompts"`
	CFGScale    int            `json:"cfg_scale"`
	Steps       int            `json:"steps"`
	Sampler     string         `json:"sampler"`
	Width       int            `json:"width,omitempty"`
	Height      int            `json:"height,omitempty"`
}

type sdGenerationResponse struct {
	Artifacts []struct {
		Base64 string `json:"base64"`
		URL    string `json:"url"`
	} `json:"artifacts"`
	Images []string `json:"images"`
	Image  string   `json:"image"`
	Output string   `json:"output"`
}

// sdSizes maps aspect ratios to SDXL-compatible dimensions.
var sdSizes = map[string][2]int{
	"1:1":  {1024, 1024},
	"3:4":  {768, 1024},
	"4:3":  {1024, 768},
	"16:9": {1024, 576},
	"9:16": {576, 1024},
}

// ValidateConfig reports whether the backend has enough configuration to run.
func (g *StableDiffusionGenerator) ValidateConfig() bool {
	return g.apiKey != "" && g.baseURL != "" && g.model != ""
}

// Info describes the backend for discovery endpoints.
func (g *StableDiffusionGenerator) Info() ProviderInfo {
	return ProviderInfo{
		Name:        g.name,
		DisplayName: "Stable Diffusion",
		Type:        "stable_diffusion",
		Features:    []string{"product_photo", "inpainting"},
		Configured:  g.ValidateConfig(),
	}
}

// Generate runs one image-to-image pass. The model photo conditions the
// output; the first product photo rides along as the style reference, this
// backend handles one product at a time.
func (g *StableDiffusionGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	if len(req.ModelImage) == 0 {
		return Result{Success: false, Error: "a model photo is required for image-to-image generation"}, nil
	}
	if len(req.ProductImages) > 1 {
		g.logger.Warn().Str("provider", g.name).Int("products", len(req.ProductImages)).Msg("only the first product photo is used")
	}

	payload := sdGenerationRequest{
		InitImage:   base64.StdEncoding.EncodeToString(req.ModelImage),
		TextPrompts: []sdTextPrompt{{Text: req.Prompt, Weight: 1.0}},
		CFGScale:    g.cfgScale,
		Steps:       g.steps,
		Sampler:     g.sampler,
	}
	if len(req.ProductImages) > 0 && len(req.ProductImages[0]) > 0 {
		payload.StyleImage = base64.StdEncoding.EncodeToString(req.ProductImages[0])
	}
	if size, ok := sdSizes[req.AspectRatio]; ok {
		payload.Width, payload.Height = size[0], size[1]
	} else {
		payload.Width, payload.Height = 768, 1024
	}

	image, result, err := g.call(ctx, "/v1/generation/"+g.model+"/image-to-image", payload)
	if err != nil || !result.Success {
		return result, err
	}
	return g.finish(image)
}

// Inpaint regenerates only the masked region of an image. White mask pixels
// mark the area to change.
func (g *StableDiffusionGenerator) Inpaint(ctx context.Context, image, mask []byte, prompt string) (Result, error) {
	if len(image) == 0 {
		return Result{Success: false, Error: "an input image is required for inpainting"}, nil
	}
	if len(mask) == 0 {
		return Result{Success: false, Error: "a mask image is required for inpainting"}, nil
	}

	payload := sdGenerationRequest{
		InitImage:   base64.StdEncoding.EncodeToString(image),
		MaskImage:   base64.StdEncoding.EncodeToString(mask),
		TextPrompts: []sdTextPrompt{{Text: prompt, Weight: 1.0}},
		CFGScale:    g.cfgScale,
		Steps:       g.steps,
		Sampler:     g.sampler,
	}

	out, result, err := g.call(ctx, "/v1/generation/"+g.model+"/image-to-image/masking", payload)
	if err != nil || !result.Success {
		return result, err
	}
	return g.finish(out)
}

// call posts one generation payload and extracts the image bytes. The second
// return value carries typed failures; err is reserved for transport faults.
func (g *StableDiffusionGenerator) call(ctx context.Context, path string, payload sdGenerationRequest) ([]byte, Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, Result{}, fmt.Errorf("stablediffusion: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, Result{}, fmt.Errorf("stablediffusion: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, Result{}, fmt.Errorf("stablediffusion: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Result{}, fmt.Errorf("stablediffusion: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, Result{}, fmt.Errorf("stablediffusion: status 429: %w", retry.ErrRateLimited)
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, Result{Success: false, Error: "invalid API key, check provider configuration"}, nil
	case resp.StatusCode == http.StatusBadRequest:
		return nil, Result{Success: false, Error: "request rejected: " + apiErrorMessage(raw)}, nil
	case resp.StatusCode >= 500:
		return nil, Result{}, fmt.Errorf("stablediffusion: server error %d: %s", resp.StatusCode, apiErrorMessage(raw))
	case resp.StatusCode >= 300:
		return nil, Result{}, fmt.Errorf("stablediffusion: unexpected status %d: %s", resp.StatusCode, apiErrorMessage(raw))
	}

	var decoded sdGenerationResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, Result{Success: false, Error: "malformed provider response"}, nil
	}
	image, err := g.extractImage(ctx, decoded)
	if err != nil {
		return nil, Result{}, err
	}
	if image == nil {
		return nil, Result{Success: false, Error: "no image found in provider response"}, nil
	}
	return image, Result{Success: true}, nil
}

// extractImage tries the Stability artifacts array first, then the fallback
// response shapes some gateways use.
func (g *StableDiffusionGenerator) extractImage(ctx context.Context, resp sdGenerationResponse) ([]byte, error) {
	if len(resp.Artifacts) > 0 {
		if resp.Artifacts[0].Base64 != "" {
			return decodeBase64Payload(resp.Artifacts[0].Base64)
		}
		if resp.Artifacts[0].URL != "" {
			return g.download(ctx, resp.Artifacts[0].URL)
		}
	}
	if len(resp.Images) > 0 && resp.Images[0] != "" {
		return decodeBase64Payload(resp.Images[0])
	}
	if resp.Image != "" {
		return decodeBase64Payload(resp.Image)
	}
	if resp.Output != "" {
		if strings.HasPrefix(resp.Output, "http") {
			return g.download(ctx, resp.Output)
		}
		return decodeBase64Payload(resp.Output)
	}
	return nil, nil
}

func (g *StableDiffusionGenerator) finish(image []byte) (Result, error) {
	if imageutil.DetectFormat(image) == imageutil.FormatUnknown {
		return Result{Success: false, Error: "provider returned data that is not a valid image"}, nil
	}
	g.logger.Debug().Str("provider", g.name).Str("model", g.model).Int("bytes", len(image)).Msg("image generated")
	return Result{
		Success: true,
		Image:   image,
		Metadata: map[string]string{
			"model":    g.model,
			"provider": g.name,
		},
	}, nil
}

func (g *StableDiffusionGenerator) download(ctx context.Context, url string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("stablediffusion: build download request: %w", err)
	}
	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("stablediffusion: download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("stablediffusion: download image: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func decodeBase64Payload(encoded string) ([]byte, error) {
	if idx := strings.Index(encoded, ","); idx >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("stablediffusion: decode image payload: %w", err)
	}
	return data, nil
}
