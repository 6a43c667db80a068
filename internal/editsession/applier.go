package editsession

import (
	"context"
	"errors"
	"fmt"

	"photostudio/internal/generator"
)

// GeneratorApplier edits images by round-tripping them through a generation
// backend: the current snapshot goes in as the conditioning image, the edit
// instruction as the prompt. A mask routes to the backend's inpainting
// operation when it has one.
func GeneratorApplier(gen generator.Generator) Applier {
	return ApplierFunc(func(ctx context.Context, image []byte, instruction string, mask []byte) ([]byte, error) {
		if instruction == "" {
			return nil, errors.New("edit instruction is required")
		}

		var result generator.Result
		var err error
		if len(mask) > 0 {
			inpainter, ok := gen.(generator.Inpainter)
			if !ok {
				return nil, fmt.Errorf("provider %s does not support masked edits", gen.Info().Name)
			}
			result, err = inpainter.Inpaint(ctx, image, mask, instruction)
		} else {
			result, err = gen.Generate(ctx, generator.Request{
				ModelImage: image,
				Prompt:     instruction,
			})
		}
		if err != nil {
			return nil, err
		}
		if !result.Success {
			return nil, fmt.Errorf("edit rejected: %s", result.Error)
		}
		return result.Image, nil
	})
}
