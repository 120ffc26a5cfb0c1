package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/coah80/enhancer/internal/config"
	"github.com/coah80/enhancer/internal/metrics"
	"github.com/coah80/enhancer/internal/middleware"
	"github.com/coah80/enhancer/internal/routes"
)

type Options struct {
	Config  *config.Config
	API     *routes.API
	Metrics *metrics.Metrics
	Limiter *middleware.RateLimiter
	Logger  zerolog.Logger
}

func New(opts Options) *http.Server {
	return &http.Server{
		Addr:              ":" + opts.Config.Port,
		Handler:           Router(opts),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       0,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}

// Router builds the full handler tree. Metrics and the rate limiter are
// optional.
func Router(opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(opts.Logger))
	r.Use(chimw.Recoverer)
	r.Use(securityHeaders)
	r.Use(middleware.CORS(opts.Config.CORSOriginsFile, opts.Logger))

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		if opts.Limiter != nil {
			r.Use(opts.Limiter.Handler)
		}
		routes.CoreRoutes(r, opts.API)
		routes.VideoRoutes(r, opts.API)
	})

	return r
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func PrintBanner() {
	fmt.Printf(`
  ┌──────────────────────────────────┐
  │        enhancer %s         │
  │     video enhancement api        │
  └──────────────────────────────────┘
`, padVersion(config.Version))
}

func padVersion(v string) string {
	for len(v) < 10 {
		v += " "
	}
	return v
}
