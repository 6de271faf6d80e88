package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"audiotricks/internal/auth"
	"audiotricks/internal/bootstrap"
	"audiotricks/internal/config"
	"audiotricks/internal/events"
	"audiotricks/internal/handlers"
	"audiotricks/internal/ingestion"
	"audiotricks/internal/models"
	"audiotricks/internal/storage"
	"audiotricks/internal/transcribe"
	"audiotricks/internal/version"
	"audiotricks/internal/watch"
	"audiotricks/internal/worker"
	"audiotricks/internal/youtube"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	// 設定を読み込み（.env → ini → 環境変数）
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if cfg.NeedsAPIKey() && cfg.OpenAIAPIKey == "" {
		log.Println("Warning: OPENAI_API_KEY is not set, transcription requests will fail")
	}

	// データベースを開く
	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	jobRepo := storage.NewJobRepository(db)
	sourceRepo := storage.NewSourceRepository(db)
	artifactRepo := storage.NewArtifactRepository(db)

	// 文字起こしパイプライン
	pipeline, err := bootstrap.Build(cfg)
	if err != nil {
		log.Fatalf("Failed to build transcription pipeline: %v", err)
	}
	defer pipeline.Close()

	hub := events.NewHub(1000)
	ingester := ingestion.NewAudioIngester(sourceRepo, artifactRepo, jobRepo, pipeline.Orchestrator, youtube.NewClient(), cfg.DataDir)

	// ワーカーの設定
	w := worker.NewWorker(jobRepo, hub)
	w.RegisterHandler(models.JobTypeTranscribe, func(ctx context.Context, job *models.ProcessingJob, progress worker.ProgressFunc) (json.RawMessage, error) {
		return ingester.ProcessTranscription(ctx, job, ingestion.ProgressCallback(progress))
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w.Start(ctx)

	// 受信箱の監視
	if cfg.InboxDir != "" {
		watcher := watch.New(cfg.InboxDir, ingester)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				log.Printf("Inbox watcher stopped: %v", err)
			}
		}()
	}

	// 古い完了ジョブを定期的に削除
	go cleanupLoop(ctx, jobRepo)

	// Echoインスタンスの作成
	e := echo.New()
	e.HideBanner = true

	// ミドルウェアの設定
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	if cfg.JWTSecret == "" {
		log.Println("Warning: JWT_SECRET is not set, API is unauthenticated")
	}
	requireAuth := auth.Middleware(cfg.JWTSecret)

	jobHandler := handlers.NewJobHandler(jobRepo, ingester)
	eventsHandler := handlers.NewEventsHandler(hub, jobRepo)
	transcribeHandler := handlers.NewTranscribeHandler(func(model, responseFormat, language string) transcribe.Transport {
		return bootstrap.DirectTransport(cfg, cfg.OpenAIAPIKey, model, responseFormat, language)
	})

	// ルートの登録
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version.Version,
		})
	})

	api := e.Group("/api", requireAuth)
	api.POST("/transcribe", transcribeHandler.Transcribe, middleware.BodyLimit("26M"))
	api.POST("/jobs", jobHandler.Create)
	api.POST("/jobs/youtube", jobHandler.CreateFromYouTube)
	api.GET("/jobs", jobHandler.List)
	api.GET("/jobs/stats", jobHandler.Stats)
	api.GET("/jobs/:id", jobHandler.Get)
	api.GET("/jobs/:id/transcript", jobHandler.Transcript)
	api.DELETE("/jobs/:id", jobHandler.Delete)

	e.GET("/ws/jobs/:id", eventsHandler.Stream, requireAuth)

	// サーバー起動
	go func() {
		log.Printf("Starting AudioTricks v%s on port %s", version.Version, cfg.Port)
		if err := e.Start(fmt.Sprintf(":%s", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down server: %v", err)
	}
	w.Stop()
}

// cleanupLoop は30日以上前の完了ジョブを1日ごとに削除する
func cleanupLoop(ctx context.Context, repo *storage.JobRepository) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.CleanupCompleted(ctx, 30)
			if err != nil {
				log.Printf("Error cleaning up jobs: %v", err)
			} else if n > 0 {
				log.Printf("Removed %d old jobs", n)
			}
		}
	}
}
