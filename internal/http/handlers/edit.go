package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"photostudio/internal/domain"
)

// CreateSession opens an edit session over one task artifact.
func (a *App) CreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TaskID     string `json:"task_id"`
		ImageIndex int    `json:"image_index"`
		Artifact   string `json:"artifact"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.fail(w, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
		return
	}
	if body.TaskID == "" {
		a.fail(w, fmt.Errorf("%w: task_id is required", domain.ErrInvalidInput))
		return
	}
	artifact := body.Artifact
	if artifact == "" {
		names, err := a.Orchestrator.ListArtifacts(r.Context(), body.TaskID)
		if err != nil {
			a.fail(w, err)
			return
		}
		// Names are ordered by variation index with the generated artifact
		// ahead of any saved edits, so the first hit is the generated one.
		for _, name := range names {
			if a.Orchestrator.ArtifactIndex(name) == body.ImageIndex {
				artifact = name
				break
			}
		}
		if artifact == "" {
			a.fail(w, fmt.Errorf("%w: image_index %d out of range", domain.ErrInvalidInput, body.ImageIndex))
			return
		}
	}

	info, err := a.Sessions.Create(r.Context(), body.TaskID, artifact, body.ImageIndex)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusCreated, info)
}

// ApplyEdit records a new edit step on the session. A base64 mask confines
// the edit to its white region when the backend supports masked edits.
func (a *App) ApplyEdit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Instruction string `json:"instruction"`
		Mask        string `json:"mask"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.fail(w, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
		return
	}
	mask, err := decodeBase64Image(body.Mask)
	if err != nil {
		a.fail(w, fmt.Errorf("%w: mask: %v", domain.ErrInvalidInput, err))
		return
	}
	info, err := a.Sessions.Apply(r.Context(), chi.URLParam(r, "sessionID"), body.Instruction, mask)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, info)
}

// UndoEdit moves the session cursor one step back.
func (a *App) UndoEdit(w http.ResponseWriter, r *http.Request) {
	info, err := a.Sessions.Undo(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, info)
}

// RedoEdit moves the session cursor one step forward.
func (a *App) RedoEdit(w http.ResponseWriter, r *http.Request) {
	info, err := a.Sessions.Redo(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, info)
}

// SessionInfo reports the session cursor state.
func (a *App) SessionInfo(w http.ResponseWriter, r *http.Request) {
	info, err := a.Sessions.Info(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, info)
}

// SessionImage serves the current or original snapshot.
func (a *App) SessionImage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var data []byte
	var err error
	if r.URL.Query().Get("which") == "original" {
		data, err = a.Sessions.OriginalImage(r.Context(), sessionID)
	} else {
		data, err = a.Sessions.CurrentImage(r.Context(), sessionID)
	}
	if err != nil {
		a.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}

// SaveSession persists the current snapshot as a new task artifact and
// discards the session.
func (a *App) SaveSession(w http.ResponseWriter, r *http.Request) {
	artifact, err := a.Sessions.Save(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "artifact": artifact})
}

// CancelSession discards the session without saving.
func (a *App) CancelSession(w http.ResponseWriter, r *http.Request) {
	if err := a.Sessions.Cancel(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true})
}
