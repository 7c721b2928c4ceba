package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"exposure-tracer/config"
	"exposure-tracer/internal/middleware"
)

// NewRouter はルーターを生成する。トレーシングが有効な場合はotelhttpで計装する。
func NewRouter(h *DiagnosisHandler, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// ルート定義
	r.Route("/v1/case-ids", func(r chi.Router) {
		r.Post("/", h.CreateCaseIDs)
		r.Get("/", h.ListCaseIDs)
		r.Get("/{code}", h.GetCaseID)
	})
	r.Route("/v1/diagnosis-keys", func(r chi.Router) {
		r.Post("/", h.SubmitKeys)
		r.Get("/", h.ListDiagnosisKeys)
	})

	if !cfg.OtelEnabled {
		return r
	}
	return otelhttp.NewHandler(r, cfg.OtelServiceName)
}
