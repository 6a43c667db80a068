package generator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"photostudio/internal/retry"
)

func newStableDiffusionForTest(transport *captureTransport) *StableDiffusionGenerator {
	return NewStableDiffusionGenerator("sd", StableDiffusionOptions{
		APIKey:  "sk-test",
		BaseURL: "https://api.example.com",
		Client:  &http.Client{Transport: transport},
		Logger:  zerolog.Nop(),
	})
}

func artifactsReply(image []byte) map[string]any {
	return map[string]any{
		"artifacts": []map[string]any{{
			"base64": base64.StdEncoding.EncodeToString(image),
		}},
	}
}

func TestStableDiffusionGenerate(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse("/v1/generation/stable-diffusion-xl-1024-v1-0/image-to-image", artifactsReply(pngStub))

	g := newStableDiffusionForTest(transport)
	result, err := g.Generate(context.Background(), Request{
		Prompt:        "studio photo",
		ModelImage:    pngStub,
		ProductImages: [][]byte{[]byte("product")},
		AspectRatio:   "16:9",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !result.Success || !bytes.Equal(result.Image, pngStub) {
		t.Fatalf("result=%+v", result)
	}
	if result.Metadata["model"] != "stable-diffusion-xl-1024-v1-0" {
		t.Fatalf("metadata=%v", result.Metadata)
	}

	var sent sdGenerationRequest
	if err := json.Unmarshal(transport.lastBody, &sent); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if sent.InitImage != base64.StdEncoding.EncodeToString(pngStub) {
		t.Fatal("model photo should ride as init_image")
	}
	if sent.StyleImage != base64.StdEncoding.EncodeToString([]byte("product")) {
		t.Fatal("first product photo should ride as style_image")
	}
	if sent.Width != 1024 || sent.Height != 576 {
		t.Fatalf("size=%dx%d", sent.Width, sent.Height)
	}
	if len(sent.TextPrompts) != 1 || sent.TextPrompts[0].Text != "studio photo" {
		t.Fatalf("prompts=%+v", sent.TextPrompts)
	}
}

func TestStableDiffusionRequiresModelImage(t *testing.T) {
	g := newStableDiffusionForTest(&captureTransport{responses: map[string]responseStub{}})
	result, err := g.Generate(context.Background(), Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.Success || !strings.Contains(result.Error, "model photo") {
		t.Fatalf("result=%+v", result)
	}
}

func TestStableDiffusionInpaintUsesMaskingEndpoint(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse("/v1/generation/stable-diffusion-xl-1024-v1-0/image-to-image/masking", artifactsReply(pngStub))

	g := newStableDiffusionForTest(transport)
	result, err := g.Inpaint(context.Background(), pngStub, []byte("mask"), "remove logo")
	if err != nil {
		t.Fatalf("Inpaint: %v", err)
	}
	if !result.Success || !bytes.Equal(result.Image, pngStub) {
		t.Fatalf("result=%+v", result)
	}

	var sent sdGenerationRequest
	if err := json.Unmarshal(transport.lastBody, &sent); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if sent.MaskImage != base64.StdEncoding.EncodeToString([]byte("mask")) {
		t.Fatal("mask should ride as mask_image")
	}
}

func TestStableDiffusionInpaintRequiresMask(t *testing.T) {
	g := newStableDiffusionForTest(&captureTransport{responses: map[string]responseStub{}})
	result, err := g.Inpaint(context.Background(), pngStub, nil, "p")
	if err != nil {
		t.Fatalf("Inpaint: %v", err)
	}
	if result.Success || !strings.Contains(result.Error, "mask") {
		t.Fatalf("result=%+v", result)
	}
}

func TestStableDiffusionRateLimit(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{
		"/v1/generation/stable-diffusion-xl-1024-v1-0/image-to-image": {status: http.StatusTooManyRequests, body: []byte(`{}`)},
	}}
	g := newStableDiffusionForTest(transport)
	_, err := g.Generate(context.Background(), Request{Prompt: "p", ModelImage: pngStub})
	if !errors.Is(err, retry.ErrRateLimited) {
		t.Fatalf("err=%v", err)
	}
}

func TestStableDiffusionAuthFailureIsTyped(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{
		"/v1/generation/stable-diffusion-xl-1024-v1-0/image-to-image": {status: http.StatusUnauthorized, body: []byte(`{}`)},
	}}
	g := newStableDiffusionForTest(transport)
	result, err := g.Generate(context.Background(), Request{Prompt: "p", ModelImage: pngStub})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.Success || !strings.Contains(result.Error, "API key") {
		t.Fatalf("result=%+v", result)
	}
}

func TestStableDiffusionBadRequestIsTyped(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{
		"/v1/generation/stable-diffusion-xl-1024-v1-0/image-to-image": {
			status: http.StatusBadRequest,
			body:   []byte(`{"message":"init_image too large"}`),
		},
	}}
	g := newStableDiffusionForTest(transport)
	result, err := g.Generate(context.Background(), Request{Prompt: "p", ModelImage: pngStub})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.Success || !strings.Contains(result.Error, "init_image too large") {
		t.Fatalf("result=%+v", result)
	}
}

func TestStableDiffusionFallbackResponseShapes(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse("/v1/generation/stable-diffusion-xl-1024-v1-0/image-to-image", map[string]any{
		"output": "https://api.example.com/out/result.png",
	})
	transport.responses["/out/result.png"] = responseStub{status: http.StatusOK, body: pngStub}

	g := newStableDiffusionForTest(transport)
	result, err := g.Generate(context.Background(), Request{Prompt: "p", ModelImage: pngStub})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !result.Success || !bytes.Equal(result.Image, pngStub) {
		t.Fatalf("result=%+v", result)
	}
}
