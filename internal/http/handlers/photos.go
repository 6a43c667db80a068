package handlers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"photostudio/internal/domain"
	"photostudio/internal/middleware"
	"photostudio/internal/orchestrator"
	"photostudio/pkg/zip"
)

const maxUploadBytes = 64 << 20

// generateRequest is the JSON body shape for generation requests. Multipart
// submissions carry the same fields as form values plus file parts.
type generateRequest struct {
	ModelImage    string   `json:"model_image"`
	ProductImages []string `json:"product_images"`
	Prompt        string   `json:"prompt"`
	AspectRatio   string   `json:"aspect_ratio"`
	Style         string   `json:"style"`
	Variations    int      `json:"variations"`
	Provider      string   `json:"provider"`
	Pose          string   `json:"pose"`
	Background    *struct {
		Type        string `json:"type"`
		Preset      string `json:"preset"`
		Description string `json:"description"`
		CustomImage string `json:"custom_image"`
	} `json:"background"`
	Placement *struct {
		Position          string `json:"position"`
		CustomInstruction string `json:"custom_instruction"`
	} `json:"placement"`
}

// Generate starts a generation task and streams its events.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	input, err := a.parseGenerateInput(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	input.Locale = middleware.LocaleFromContext(r.Context())

	seq, err := a.Orchestrator.Generate(r.Context(), *input)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.stream(w, seq)
}

// RetryVariation re-runs one failed variation and streams its events.
func (a *App) RetryVariation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TaskID string `json:"task_id"`
		Index  int    `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.fail(w, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
		return
	}
	if body.TaskID == "" {
		a.fail(w, fmt.Errorf("%w: task_id is required", domain.ErrInvalidInput))
		return
	}

	seq, err := a.Orchestrator.Retry(r.Context(), body.TaskID, body.Index)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.stream(w, seq)
}

func (a *App) stream(w http.ResponseWriter, seq func(func(orchestrator.Event) bool)) {
	sse, err := newSSEWriter(w)
	if err != nil {
		a.fail(w, err)
		return
	}
	seq(sse.send)
}

// TaskStatus reports the current state of a task.
func (a *App) TaskStatus(w http.ResponseWriter, r *http.Request) {
	view, err := a.Orchestrator.Status(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, view)
}

// TaskImage serves one stored artifact. With thumbnail=true it serves the
// artifact's thumbnail instead, falling back to the full image.
func (a *App) TaskImage(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	filename := chi.URLParam(r, "filename")
	var data []byte
	var err error
	contentType := contentTypeFor(filename)
	if r.URL.Query().Get("thumbnail") == "true" {
		data, err = a.Orchestrator.Thumbnail(r.Context(), taskID, filename)
		if err == nil {
			contentType = http.DetectContentType(data)
		}
	} else {
		data, err = a.Orchestrator.Artifact(r.Context(), taskID, filename)
	}
	if err != nil {
		a.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(data)
}

// TaskDownload bundles a task's artifacts into a zip archive.
func (a *App) TaskDownload(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	names, err := a.Orchestrator.ListArtifacts(r.Context(), taskID)
	if err != nil {
		a.fail(w, err)
		return
	}
	assets := make([]zip.Asset, 0, len(names))
	for _, name := range names {
		data, err := a.Orchestrator.Artifact(r.Context(), taskID, name)
		if err != nil {
			a.fail(w, err)
			return
		}
		assets = append(assets, zip.Asset{Filename: name, Data: data})
	}
	archive, err := zip.Archive(assets)
	if err != nil {
		a.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", taskID+".zip"))
	_, _ = w.Write(archive)
}

// CleanupTask evicts a task and deletes its artifacts.
func (a *App) CleanupTask(w http.ResponseWriter, r *http.Request) {
	if err := a.Orchestrator.Cleanup(r.Context(), chi.URLParam(r, "taskID")); err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true})
}

// Providers lists the configured generation backends.
func (a *App) Providers(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{
		"default":   a.Orchestrator.DefaultProvider(),
		"providers": a.Orchestrator.Providers(),
	})
}

func (a *App) parseGenerateInput(r *http.Request) (*orchestrator.GenerateInput, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return a.parseMultipartGenerate(r)
	}

	var body generateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes)).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	modelImage, err := decodeBase64Image(body.ModelImage)
	if err != nil {
		return nil, fmt.Errorf("%w: model_image: %v", domain.ErrInvalidInput, err)
	}
	productImages := make([][]byte, 0, len(body.ProductImages))
	for i, encoded := range body.ProductImages {
		data, err := decodeBase64Image(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: product_images[%d]: %v", domain.ErrInvalidInput, i, err)
		}
		productImages = append(productImages, data)
	}

	cfg := domain.TaskConfig{
		Prompt:      body.Prompt,
		AspectRatio: body.AspectRatio,
		Style:       body.Style,
		Pose:        body.Pose,
		Variations:  body.Variations,
	}
	if body.Background != nil {
		custom, err := decodeBase64Image(body.Background.CustomImage)
		if err != nil {
			return nil, fmt.Errorf("%w: background.custom_image: %v", domain.ErrInvalidInput, err)
		}
		cfg.Background = &domain.BackgroundSpec{
			Type:        domain.BackgroundType(body.Background.Type),
			Preset:      body.Background.Preset,
			Description: body.Background.Description,
			CustomImage: custom,
		}
	}
	if body.Placement != nil {
		cfg.Placement = &domain.PlacementSpec{
			Position:          body.Placement.Position,
			CustomInstruction: body.Placement.CustomInstruction,
		}
	}

	return &orchestrator.GenerateInput{
		ModelImage:    modelImage,
		ProductImages: productImages,
		Config:        cfg,
		Provider:      body.Provider,
	}, nil
}

func (a *App) parseMultipartGenerate(r *http.Request) (*orchestrator.GenerateInput, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, fmt.Errorf("%w: parse form: %v", domain.ErrInvalidInput, err)
	}

	modelImage, err := formImageBytes(r, "model_image")
	if err != nil {
		return nil, err
	}
	var productImages [][]byte
	if r.MultipartForm != nil {
		for _, header := range r.MultipartForm.File["product_images"] {
			data, err := fileHeaderBytes(header)
			if err != nil {
				return nil, err
			}
			productImages = append(productImages, data)
		}
	}
	// Base64 form fields stand in when no file parts were uploaded.
	if len(productImages) == 0 && r.MultipartForm != nil {
		for i, encoded := range r.MultipartForm.Value["product_images"] {
			data, err := decodeBase64Image(encoded)
			if err != nil {
				return nil, fmt.Errorf("%w: product_images[%d]: %v", domain.ErrInvalidInput, i, err)
			}
			if len(data) > 0 {
				productImages = append(productImages, data)
			}
		}
	}

	variations, _ := strconv.Atoi(r.FormValue("variations"))
	cfg := domain.TaskConfig{
		Prompt:      r.FormValue("prompt"),
		AspectRatio: r.FormValue("aspect_ratio"),
		Style:       r.FormValue("style"),
		Pose:        r.FormValue("pose"),
		Variations:  variations,
	}
	if bgType := r.FormValue("background_type"); bgType != "" {
		cfg.Background = &domain.BackgroundSpec{
			Type:        domain.BackgroundType(bgType),
			Preset:      r.FormValue("background_preset"),
			Description: r.FormValue("background_description"),
		}
		if custom, err := formImageBytes(r, "background_image"); err == nil && len(custom) > 0 {
			cfg.Background.CustomImage = custom
		}
	}
	if position := r.FormValue("placement_position"); position != "" {
		cfg.Placement = &domain.PlacementSpec{
			Position:          position,
			CustomInstruction: r.FormValue("placement_instruction"),
		}
	}

	return &orchestrator.GenerateInput{
		ModelImage:    modelImage,
		ProductImages: productImages,
		Config:        cfg,
		Provider:      r.FormValue("provider"),
	}, nil
}

// formImageBytes reads an image from a multipart field: a file part when one
// was uploaded, otherwise a base64 string form value. A field carrying
// neither yields nil so presence validation stays with the caller.
func formImageBytes(r *http.Request, field string) ([]byte, error) {
	if r.MultipartForm != nil && len(r.MultipartForm.File[field]) > 0 {
		return formFileBytes(r, field)
	}
	data, err := decodeBase64Image(r.FormValue(field))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidInput, field, err)
	}
	return data, nil
}

func formFileBytes(r *http.Request, field string) ([]byte, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is required", domain.ErrInvalidInput, field)
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrInvalidInput, field, err)
	}
	return data, nil
}

func fileHeaderBytes(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open upload: %v", domain.ErrInvalidInput, err)
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read upload: %v", domain.ErrInvalidInput, err)
	}
	return data, nil
}

// decodeBase64Image accepts raw base64 or a data URL. Empty input is allowed
// and yields nil, callers validate presence separately.
func decodeBase64Image(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}
	if idx := strings.Index(encoded, ","); idx >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[idx+1:]
	}
	return base64.StdEncoding.DecodeString(encoded)
}

func contentTypeFor(filename string) string {
	switch {
	case strings.HasSuffix(filename, ".jpg"), strings.HasSuffix(filename, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(filename, ".webp"):
		return "image/webp"
	default:
		return "image/png"
	}
}
