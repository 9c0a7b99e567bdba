package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/nutriman/internal/metrics"
	"github.com/hitoshi/nutriman/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// カタログ
	CatalogService CatalogServiceInterface

	// ミドルウェア依存
	Logger            *slog.Logger
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string

	// 監視
	MetricsGatherer prometheus.Gatherer
	// DBPinger は/healthでのDB疎通確認に使う。nilの場合はスキップする。
	DBPinger func(ctx context.Context) error
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	catalogHandler := NewCatalogHandler(deps.CatalogService, deps.Logger)

	// --- 監視ルート（レート制限の外） ---

	r.Get("/health", newHealthHandler(deps.DBPinger))

	if deps.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// --- APIルート ---

	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}

		r.Route("/api/catalog", func(r chi.Router) {
			r.Get("/search", catalogHandler.Search)
			r.Get("/barcode/{ean}", catalogHandler.GetByBarcode)
		})
	})

	return r
}

// newHealthHandler は/healthのハンドラーを返す。
// DB疎通確認に失敗した場合は503を返す。
func newHealthHandler(dbPinger func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		code := http.StatusOK

		if dbPinger != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()

			if err := dbPinger(ctx); err != nil {
				status = "unavailable"
				code = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}
