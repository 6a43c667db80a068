package httpapi

import (
	stdhttp "net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"photostudio/internal/http/handlers"
	"photostudio/internal/infra"
	"photostudio/internal/middleware"
)

// NewRouter wires the full route surface.
func NewRouter(app *handlers.App, cfg *infra.Config, logger infra.Logger, lookup middleware.CountryLookup) stdhttp.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimiddleware.RealIP,
		chimiddleware.Recoverer,
		middleware.Logger(logger),
		middleware.CORS(strings.Split(cfg.CORSOrigins, ",")),
		middleware.LocaleResolver{Default: cfg.DefaultLocale, Country: lookup}.Middleware,
	)

	r.Get("/api/health", app.Health)

	r.Route("/api/product-photo", func(r chi.Router) {
		r.With(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute)).Post("/generate", app.Generate)
		r.With(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute)).Post("/retry", app.RetryVariation)
		r.Get("/task/{taskID}", app.TaskStatus)
		r.Delete("/task/{taskID}", app.CleanupTask)
		r.Get("/task/{taskID}/download", app.TaskDownload)
		r.Get("/images/{taskID}/{filename}", app.TaskImage)
		r.Get("/providers", app.Providers)
		r.Get("/health", app.Health)
	})

	r.Route("/api/edit", func(r chi.Router) {
		r.Post("/session", app.CreateSession)
		r.Route("/session/{sessionID}", func(r chi.Router) {
			r.Get("/", app.SessionInfo)
			r.Post("/apply", app.ApplyEdit)
			r.Post("/undo", app.UndoEdit)
			r.Post("/redo", app.RedoEdit)
			r.Get("/image", app.SessionImage)
			r.Post("/save", app.SaveSession)
			r.Delete("/", app.CancelSession)
		})
	})

	r.Route("/api/templates", func(r chi.Router) {
		r.Get("/", app.ListTemplates)
		r.Post("/", app.AddTemplate)
		r.Get("/{templateID}", app.GetTemplate)
		r.Put("/{templateID}", app.RenameTemplate)
		r.Get("/{templateID}/image", app.TemplateImage)
		r.Delete("/{templateID}", app.RemoveTemplate)
	})

	return r
}
