package generator

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"photostudio/internal/domain"
)

// positionPhrases maps placement positions to instruction fragments.
var positionPhrases = map[string]string{
	"front":       "placed prominently on the front",
	"back":        "placed on the back",
	"left_chest":  "placed on the left chest area",
	"right_chest": "placed on the right chest area",
	"center":      "centered on the garment",
	"full":        "covering the full garment",
}

// BuildPrompt assembles the generation instruction from a task configuration.
// The same configuration always yields the same text so retried variations
// see exactly the prompt the first pass used.
func BuildPrompt(cfg domain.TaskConfig) string {
	var b strings.Builder
	b.WriteString("Professional product photography. Dress the model from the first image with the product shown in the following images. Keep the model's face, body and pose natural.")

	if cfg.Prompt != "" {
		b.WriteString(" ")
		b.WriteString(strings.TrimSpace(cfg.Prompt))
	}

	if cfg.Background != nil {
		switch cfg.Background.Type {
		case domain.BackgroundOriginal:
			b.WriteString(" Keep the original background of the model photo unchanged.")
		case domain.BackgroundPreset:
			if cfg.Background.Preset != "" {
				titler := cases.Title(language.Und)
				fmt.Fprintf(&b, " Set the scene in a %s background.", titler.String(strings.ReplaceAll(cfg.Background.Preset, "_", " ")))
			}
		case domain.BackgroundCustom:
			b.WriteString(" Use the provided background image as the scene behind the model.")
		case domain.BackgroundDescription:
			if cfg.Background.Description != "" {
				fmt.Fprintf(&b, " Background: %s.", strings.TrimSpace(cfg.Background.Description))
			}
		}
	}

	if cfg.Placement != nil {
		if phrase, ok := positionPhrases[cfg.Placement.Position]; ok {
			fmt.Fprintf(&b, " The product should be %s.", phrase)
		}
		if cfg.Placement.CustomInstruction != "" {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(cfg.Placement.CustomInstruction))
		}
	}

	if cfg.Pose != "" {
		fmt.Fprintf(&b, " Model pose: %s.", strings.TrimSpace(cfg.Pose))
	}
	if cfg.Style != "" {
		fmt.Fprintf(&b, " Photography style: %s.", strings.TrimSpace(cfg.Style))
	}
	if cfg.AspectRatio != "" {
		fmt.Fprintf(&b, " Output aspect ratio %s.", cfg.AspectRatio)
	}

	return b.String()
}
