package domain

import "time"

// TaskStatus enumerates generation task lifecycle states.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusGenerating TaskStatus = "generating"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusPartial    TaskStatus = "partial"
	TaskStatusFailed     TaskStatus = "failed"
)

// BackgroundType enumerates how the generated scene background is chosen.
type BackgroundType string

const (
	BackgroundOriginal    BackgroundType = "original"
	BackgroundPreset      BackgroundType = "preset"
	BackgroundCustom      BackgroundType = "custom"
	BackgroundDescription BackgroundType = "description"
)

// BackgroundSpec configures the scene background for a generation.
type BackgroundSpec struct {
	Type        BackgroundType `json:"type"`
	Preset      string         `json:"preset,omitempty"`
	CustomImage []byte         `json:"custom_image,omitempty"`
	Description string         `json:"description,omitempty"`
}

// PlacementSpec configures where the product sits on the model.
type PlacementSpec struct {
	Position          string `json:"position"`
	CustomInstruction string `json:"custom_instruction,omitempty"`
}

// TaskConfig holds the generation parameters. It is immutable for the life
// of a task and reused verbatim when a variation is retried.
type TaskConfig struct {
	Prompt      string          `json:"prompt"`
	AspectRatio string          `json:"aspect_ratio"`
	Style       string          `json:"style"`
	Background  *BackgroundSpec `json:"background,omitempty"`
	Placement   *PlacementSpec  `json:"placement,omitempty"`
	Pose        string          `json:"pose,omitempty"`
	Variations  int             `json:"variations"`
}

// Task is one multi-variation generation request. The model and product
// images are stored pre-compressed and never re-compressed, so a retry
// operates on exactly the bytes the original pass used.
type Task struct {
	ID            string
	Status        TaskStatus
	Provider      string
	ModelImage    []byte
	ProductImages [][]byte
	Config        TaskConfig
	Results       []string
	Error         string
	CreatedAt     time.Time
}
