package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/devhw/tgcdn/internal/logger"
	"github.com/devhw/tgcdn/pkg/api/handlers"
	"github.com/devhw/tgcdn/pkg/metrics"
)

// Deps carries everything the router's handlers need. Nil fields degrade
// gracefully: a nil Resolver answers /content with 503, nil probes make
// /health/ready report unavailable.
type Deps struct {
	Queue    handlers.Enqueuer
	Resolver handlers.URLResolver
	DB       handlers.Pinger
	Cache    handlers.Pinger
	TempDir  string
	Metrics  *metrics.PipelineMetrics

	// MaxUpload caps accepted payload sizes; <= 0 selects the default.
	MaxUpload int64

	// Fetch is the client used to stream upstream content. Nil gets a
	// default with a 30s timeout.
	Fetch *http.Client
}

// NewRouter creates and configures the chi router with all middleware and
// routes.
//
// Routes:
//   - GET  /                     - landing page with a manual upload form
//   - GET  /health               - liveness probe
//   - GET  /health/ready         - readiness probe
//   - POST /upload               - multipart image ingest
//   - GET  /content/{file_uuid}  - passthrough content stream
//   - GET  /metrics              - Prometheus scrape (when metrics enabled)
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Cache)
	uploadHandler := handlers.NewUploadHandler(deps.Queue, deps.TempDir, deps.MaxUpload, deps.Metrics)
	contentHandler := handlers.NewContentHandler(deps.Resolver, deps.Fetch)

	r.Get("/", landing)

	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	// Ingest gets a request timeout; the content stream must not, a slow
	// client is allowed to take its time.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(2 * time.Minute))
		r.Post("/upload", uploadHandler.Upload)
	})
	r.Get("/content/{file_uuid}", contentHandler.Content)

	if metrics.IsEnabled() {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	return r
}

const landingPage = `<!DOCTYPE html>
<html>
<head><title>tgcdn</title></head>
<body>
<h1>tgcdn</h1>
<p>Image upload and delivery service.</p>
<form action="/upload" method="post" enctype="multipart/form-data">
<input type="file" name="file" accept="image/*">
<input type="submit" value="Upload">
</form>
</body>
</html>
`

// landing serves the minimal manual-upload page at GET /.
func landing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(landingPage))
}

// requestLogger logs requests using the internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Info("request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
