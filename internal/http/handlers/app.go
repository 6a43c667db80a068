package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"photostudio/internal/domain"
	"photostudio/internal/editsession"
	"photostudio/internal/infra"
	"photostudio/internal/orchestrator"
	"photostudio/internal/template"
)

// App bundles the handler dependencies.
type App struct {
	Orchestrator *orchestrator.Orchestrator
	Sessions     *editsession.Manager
	Templates    *template.Store
	Logger       infra.Logger
}

// NewApp constructs the handler set.
func NewApp(orch *orchestrator.Orchestrator, sessions *editsession.Manager, templates *template.Store, logger infra.Logger) *App {
	return &App{Orchestrator: orch, Sessions: sessions, Templates: templates, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// fail maps sentinel errors onto HTTP status codes and writes the standard
// error envelope.
func (a *App) fail(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrNothingToUndo),
		errors.Is(err, domain.ErrNothingToRedo):
		code = http.StatusBadRequest
	case errors.Is(err, domain.ErrProviderFailure):
		code = http.StatusBadGateway
	}
	if code == http.StatusInternalServerError {
		a.Logger.Error().Err(err).Msg("request failed")
	}
	a.json(w, code, map[string]any{"success": false, "error": err.Error()})
}

// Health reports service liveness.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
