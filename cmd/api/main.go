package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facepk/internal/api"
	"github.com/your-org/facepk/internal/api/handlers"
	"github.com/your-org/facepk/internal/config"
	"github.com/your-org/facepk/internal/dedupe"
	"github.com/your-org/facepk/internal/match"
	"github.com/your-org/facepk/internal/observability"
	"github.com/your-org/facepk/internal/provider"
	"github.com/your-org/facepk/internal/queue"
	"github.com/your-org/facepk/internal/rating"
	"github.com/your-org/facepk/internal/scoring"
	"github.com/your-org/facepk/internal/stats"
	"github.com/your-org/facepk/internal/storage"
	"github.com/your-org/facepk/internal/vision"
)

// publisher carries both event kinds: the NATS producer, or the stats
// projector applying them in process when no broker is configured.
type publisher interface {
	scoring.Publisher
	match.Publisher
}

type persistence interface {
	storage.Store
	storage.StatsStore
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	gin.SetMode(gin.ReleaseMode)

	slog.Info("starting facepk API", "port", cfg.Server.Port, "storage", cfg.Storage.Driver, "provider", cfg.Provider.Kind)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := map[string]handlers.Pinger{}

	store, blobs, err := openStorage(ctx, cfg)
	if err != nil {
		slog.Error("open storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	ready["store"] = store
	ready["blobs"] = blobs

	var events publisher = stats.NewProjector(store)
	if cfg.NATS.URL != "" {
		producer, err := queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}
		events = producer
		ready["nats"] = producer
	} else {
		slog.Info("no nats url configured, projecting stats in process")
	}

	scorer, err := openProvider(cfg.Provider)
	if err != nil {
		slog.Error("init scoring provider", "error", err)
		os.Exit(1)
	}
	if local, ok := scorer.(*vision.LocalProvider); ok {
		defer vision.DestroyRuntime()
		defer local.Close()
	}

	resolver := dedupe.NewResolver(
		dedupe.WithThreshold(cfg.Dedupe.SimilarityThreshold),
		dedupe.WithMaxHamming(cfg.Dedupe.HammingLimit()),
		dedupe.WithCandidateLimit(cfg.Dedupe.CandidateLimit),
		dedupe.WithSourceLoader(blobs),
	)
	scoringSvc := scoring.NewService(store, blobs, scorer, resolver,
		scoring.WithPublisher(events),
		scoring.WithMaxBytes(cfg.Server.MaxUploadBytes),
	)
	matches := match.NewResolver(store, rating.NewLedger(cfg.Match.DefaultRating),
		match.WithRules(match.Rules{
			Tolerance: cfg.Match.Tolerance,
			WinDelta:  cfg.Match.WinDelta,
			LoseDelta: cfg.Match.LoseDelta,
			TieDelta:  cfg.Match.TieDelta,
		}),
		match.WithPublisher(events),
	)

	router := api.NewRouter(api.RouterConfig{
		APIKey:         cfg.Server.APIKey,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		DefaultRating:  cfg.Match.DefaultRating,
		Store:          store,
		Stats:          store,
		Scoring:        scoringSvc,
		Matches:        matches,
		Ready:          ready,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown", "error", err)
	}
	slog.Info("API server stopped")
}

func openStorage(ctx context.Context, cfg *config.Config) (persistence, storage.BlobStore, error) {
	if cfg.Storage.Driver == config.DriverMemory {
		slog.Warn("using in-memory storage, data is lost on restart")
		return storage.NewMemoryStore(), storage.NewMemoryBlobStore(), nil
	}

	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}

	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	if err := minioStore.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}
	return db, minioStore, nil
}

func openProvider(cfg config.ProviderConfig) (provider.Provider, error) {
	switch cfg.Kind {
	case "local":
		if err := vision.InitRuntime(); err != nil {
			return nil, err
		}
		p, err := vision.NewLocalProvider(cfg.Local)
		if err != nil {
			vision.DestroyRuntime()
			return nil, err
		}
		return p, nil
	default:
		return provider.NewBaiduProvider(cfg.Baidu, cfg.Timeout)
	}
}
