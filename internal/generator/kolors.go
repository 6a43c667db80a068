package generator

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"photostudio/internal/infra"
)

// KolorsOptions configures the Kolors virtual try-on backend.
type KolorsOptions struct {
	APIKey  string
	BaseURL string
	Model   string
	Client  *http.Client
	Logger  infra.Logger
	// PollInterval overrides the task polling cadence, mainly for tests.
	PollInterval time.Duration
	// PollTimeout bounds how long a submitted task may stay unsettled.
	PollTimeout time.Duration
}

// KolorsGenerator dresses a model photo with a garment photo via the Kolors
// virtual try-on API. It shares the Kling task protocol and auth scheme, the
// difference is the endpoint and the human/cloth input pair. The try-on model
// ignores free-form prompts, so scene instructions have no effect here.
type KolorsGenerator struct {
	name  string
	model string
	kling *KlingGenerator
}

// NewKolorsGenerator constructs the backend with injected dependencies.
// The API key is expected as "accessKey:secretKey".
func NewKolorsGenerator(name string, opts KolorsOptions) *KolorsGenerator {
	accessKey, secretKey := splitKolorsKey(opts.APIKey)
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "kolors-virtual-try-on-v1-5"
	}
	return &KolorsGenerator{
		name:  name,
		model: model,
		kling: NewKlingGenerator(name, KlingOptions{
			AccessKey:    accessKey,
			SecretKey:    secretKey,
			BaseURL:      opts.BaseURL,
			Model:        model,
			Client:       opts.Client,
			Logger:       opts.Logger,
			PollInterval: opts.PollInterval,
			PollTimeout:  opts.PollTimeout,
		}),
	}
}

var _ Generator = (*KolorsGenerator)(nil)

// ValidateConfig reports whether credentials and endpoint are present.
func (g *KolorsGenerator) ValidateConfig() bool {
	return g.kling.ValidateConfig()
}

// Info describes the backend for discovery endpoints.
func (g *KolorsGenerator) Info() ProviderInfo {
	return ProviderInfo{
		Name:        g.name,
		DisplayName: "Kolors Virtual Try-On",
		Type:        "kolors_virtual_tryon",
		Features:    []string{"product_photo", "virtual_tryon"},
		Configured:  g.ValidateConfig(),
	}
}

type kolorsCreateRequest struct {
	Model      string `json:"model_name"`
	HumanImage string `json:"human_image"`
	ClothImage string `json:"cloth_image"`
}

// Generate submits one try-on task pairing the model photo with the first
// product photo and polls it to completion.
func (g *KolorsGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	if len(req.ModelImage) == 0 {
		return Result{Success: false, Error: "virtual try-on requires a model photo"}, nil
	}
	if len(req.ProductImages) == 0 || len(req.ProductImages[0]) == 0 {
		return Result{Success: false, Error: "virtual try-on requires a product photo"}, nil
	}

	payload := kolorsCreateRequest{
		Model:      g.model,
		HumanImage: base64.StdEncoding.EncodeToString(req.ModelImage),
		ClothImage: base64.StdEncoding.EncodeToString(req.ProductImages[0]),
	}
	created, err := g.kling.call(ctx, http.MethodPost, "/v1/images/kolors-virtual-try-on", payload)
	if err != nil {
		return Result{}, err
	}
	if created.Code != 0 {
		return g.kling.apiFailure(created)
	}
	if created.Data.TaskID == "" {
		return Result{Success: false, Error: "provider accepted the task but returned no task id"}, nil
	}
	return g.kling.poll(ctx, "/v1/images/kolors-virtual-try-on/"+created.Data.TaskID)
}

func splitKolorsKey(key string) (string, string) {
	parts := strings.SplitN(strings.TrimSpace(key), ":", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}
