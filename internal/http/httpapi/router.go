package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"tryon-server/internal/http/handlers"
	"tryon-server/internal/middleware"
)

// Options tunes the edge policy middleware. Zero values disable the
// corresponding middleware, which keeps tests free of cross-cutting noise.
type Options struct {
	AllowedOrigins       []string
	CreateLimitPerMinute int
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
	)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(opts.AllowedOrigins))
	}

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/tryon", func(r chi.Router) {
		if opts.CreateLimitPerMinute > 0 {
			r.With(middleware.RateLimit(opts.CreateLimitPerMinute, time.Minute)).
				Post("/", app.TryOnCreate)
		} else {
			r.Post("/", app.TryOnCreate)
		}
		r.Get("/", app.TryOnList)
		r.Route("/{job_id}", func(r chi.Router) {
			r.Get("/", app.TryOnGet)
			r.Post("/poll", app.TryOnPoll)
			r.Post("/validate", app.TryOnValidate)
			r.Delete("/", app.TryOnDelete)
			r.Get("/events", app.TryOnEvents)
		})
	})

	return r
}
