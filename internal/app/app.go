// Package app はアプリケーションの起動とワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/nutriman/internal/catalog"
	"github.com/hitoshi/nutriman/internal/config"
	"github.com/hitoshi/nutriman/internal/database"
	"github.com/hitoshi/nutriman/internal/handler"
	"github.com/hitoshi/nutriman/internal/logger"
	"github.com/hitoshi/nutriman/internal/metrics"
	"github.com/hitoshi/nutriman/internal/middleware"
	"github.com/hitoshi/nutriman/internal/provider/off"
	"github.com/hitoshi/nutriman/internal/provider/usda"
	"github.com/hitoshi/nutriman/internal/repository"
	"github.com/hitoshi/nutriman/internal/security"
	"github.com/hitoshi/nutriman/internal/seed"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandSeed:
		return runSeed(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	foodRepo := repository.NewPostgresFoodRepo(db)

	// 3. セキュリティサービスの初期化
	egressGuard := security.NewEgressGuard()
	sanitizer := security.NewTextSanitizer()

	// プロバイダのベースURLを起動時に静的検証する
	for _, baseURL := range []string{cfg.OFFBaseURL, cfg.USDABaseURL} {
		if err := egressGuard.ValidateBaseURL(baseURL); err != nil {
			return fmt.Errorf("invalid provider base URL %q: %w", baseURL, err)
		}
	}

	// 4. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 5. プロバイダクライアントの初期化
	safeClient := egressGuard.NewSafeClient(cfg.ProviderTimeout)
	offClient := off.NewClient(safeClient, sanitizer, slog.Default(), cfg.OFFBaseURL, cfg.OFFUserAgent)
	usdaClient := usda.NewClient(safeClient, sanitizer, slog.Default(), cfg.USDABaseURL, cfg.USDAAPIKey)

	// 6. プロバイダガードの初期化
	guard := catalog.NewProviderGuard(catalog.GuardConfig{
		RPS: map[string]float64{
			catalog.ProviderOFF:  cfg.ProviderOFFRPS,
			catalog.ProviderUSDA: cfg.ProviderUSDARPS,
		},
		Timeout:          cfg.ProviderTimeout,
		FailureThreshold: cfg.CircuitFailThreshold,
		Cooldown:         cfg.CircuitCooldown,
	})

	// 7. 集約サービスの初期化
	catalogService := catalog.NewService(
		foodRepo, guard, offClient, usdaClient, collector, slog.Default(),
		catalog.ServiceConfig{
			TTL:                     cfg.FoodItemTTL,
			EnableOFF:               cfg.EnableOFF,
			EnableUSDA:              cfg.EnableUSDA,
			InternalOnly:            cfg.InternalOnly,
			CacheOnlyOnProviderDown: cfg.CacheOnlyOnProviderDown,
		},
	)

	// 8. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitPerMin))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		CatalogService:    catalogService,
		Logger:            slog.Default(),
		RateLimiter:       rateLimiter,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		MetricsGatherer:   registry,
		DBPinger:          db.PingContext,
	})

	// 9. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runSeed は内部キュレーション食品のシード投入を実行する。
// UPSERTベースのため再実行しても安全。
func runSeed(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	foodRepo := repository.NewPostgresFoodRepo(db)
	seeder := seed.NewSeeder(foodRepo, slog.Default())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	count, err := seeder.Run(ctx)
	if err != nil {
		return fmt.Errorf("seed failed: %w", err)
	}

	slog.Info("seed completed successfully", slog.Int("count", count))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
