package editsession

import (
	"context"
	"strings"
	"testing"

	"photostudio/internal/generator"
)

type plainBackend struct{ lastPrompt string }

func (b *plainBackend) Generate(ctx context.Context, req generator.Request) (generator.Result, error) {
	b.lastPrompt = req.Prompt
	return generator.Result{Success: true, Image: []byte("GENERATED")}, nil
}

func (b *plainBackend) ValidateConfig() bool { return true }

func (b *plainBackend) Info() generator.ProviderInfo {
	return generator.ProviderInfo{Name: "plain", Type: "openai_compatible"}
}

type inpaintBackend struct {
	plainBackend
	lastMask []byte
}

func (b *inpaintBackend) Inpaint(ctx context.Context, image, mask []byte, prompt string) (generator.Result, error) {
	b.lastMask = mask
	b.lastPrompt = prompt
	return generator.Result{Success: true, Image: []byte("INPAINTED")}, nil
}

func TestGeneratorApplierUsesGenerateWithoutMask(t *testing.T) {
	backend := &plainBackend{}
	out, err := GeneratorApplier(backend).Apply(context.Background(), []byte("IMG"), "warm tones", nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if string(out) != "GENERATED" || backend.lastPrompt != "warm tones" {
		t.Fatalf("out=%q prompt=%q", out, backend.lastPrompt)
	}
}

func TestGeneratorApplierRoutesMaskToInpainter(t *testing.T) {
	backend := &inpaintBackend{}
	mask := []byte("MASK")
	out, err := GeneratorApplier(backend).Apply(context.Background(), []byte("IMG"), "remove logo", mask)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if string(out) != "INPAINTED" {
		t.Fatalf("out=%q", out)
	}
	if string(backend.lastMask) != "MASK" {
		t.Fatalf("mask=%q", backend.lastMask)
	}
}

func TestGeneratorApplierRejectsMaskWithoutInpainter(t *testing.T) {
	backend := &plainBackend{}
	_, err := GeneratorApplier(backend).Apply(context.Background(), []byte("IMG"), "remove logo", []byte("MASK"))
	if err == nil || !strings.Contains(err.Error(), "masked edits") {
		t.Fatalf("err=%v", err)
	}
}

func TestGeneratorApplierRequiresInstruction(t *testing.T) {
	backend := &plainBackend{}
	if _, err := GeneratorApplier(backend).Apply(context.Background(), []byte("IMG"), "", nil); err == nil {
		t.Fatal("empty instruction should fail")
	}
}
