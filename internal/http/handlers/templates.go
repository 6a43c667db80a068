package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"photostudio/internal/domain"
)

// ListTemplates returns the saved template library.
func (a *App) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := a.Templates.List(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	if templates == nil {
		templates = []domain.Template{}
	}
	a.json(w, http.StatusOK, map[string]any{"templates": templates})
}

// AddTemplate stores an uploaded model photo as a reusable template.
func (a *App) AddTemplate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		a.fail(w, fmt.Errorf("%w: parse form: %v", domain.ErrInvalidInput, err))
		return
	}
	image, err := formFileBytes(r, "image")
	if err != nil {
		a.fail(w, err)
		return
	}
	tpl, err := a.Templates.Add(r.Context(), r.FormValue("name"), image)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusCreated, tpl)
}

// GetTemplate returns a template's index entry.
func (a *App) GetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := a.Templates.Get(r.Context(), chi.URLParam(r, "templateID"))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, tpl)
}

// RenameTemplate updates a template's display name.
func (a *App) RenameTemplate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.fail(w, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
		return
	}
	tpl, err := a.Templates.Rename(r.Context(), chi.URLParam(r, "templateID"), body.Name)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, tpl)
}

// TemplateImage serves a template's image or thumbnail.
func (a *App) TemplateImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "templateID")
	var data []byte
	var err error
	if r.URL.Query().Get("thumb") == "1" {
		data, err = a.Templates.Thumbnail(r.Context(), id)
	} else {
		data, err = a.Templates.Image(r.Context(), id)
	}
	if err != nil {
		a.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(data)
}

// RemoveTemplate deletes a template.
func (a *App) RemoveTemplate(w http.ResponseWriter, r *http.Request) {
	if err := a.Templates.Remove(r.Context(), chi.URLParam(r, "templateID")); err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true})
}
