package generator

import (
	"context"

	"photostudio/internal/domain"
)

// Request describes one variation's worth of work passed to any backend.
// Image payloads arrive pre-compressed; backends must not mutate them.
type Request struct {
	ModelImage    []byte
	ProductImages [][]byte
	Prompt        string
	AspectRatio   string
	Style         string
	Background    *domain.BackgroundSpec
	Placement     *domain.PlacementSpec
	Pose          string
	VariationSeed int
}

// Result is the outcome of a single generation attempt. Success=false with
// an Error message is a typed failure: the backend answered but could not
// produce a usable image. Transport faults are returned as Go errors instead.
type Result struct {
	Success  bool
	Image    []byte
	Error    string
	Metadata map[string]string
}

// ProviderInfo describes a backend for discovery endpoints.
type ProviderInfo struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Type        string   `json:"type"`
	Features    []string `json:"features"`
	Configured  bool     `json:"configured"`
}

// Generator is the contract implemented by all generation backends.
type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
	ValidateConfig() bool
	Info() ProviderInfo
}

// Inpainter is implemented by backends that can regenerate only a masked
// region of an image. White mask pixels mark the area to change.
type Inpainter interface {
	Inpaint(ctx context.Context, image, mask []byte, prompt string) (Result, error)
}
