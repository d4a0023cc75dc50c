package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facepk/internal/api/handlers"
	"github.com/your-org/facepk/internal/auth"
	"github.com/your-org/facepk/internal/match"
	"github.com/your-org/facepk/internal/scoring"
	"github.com/your-org/facepk/internal/storage"
)

type RouterConfig struct {
	APIKey         string
	MaxUploadBytes int64
	DefaultRating  int

	Store   storage.Store
	Stats   storage.StatsStore
	Scoring *scoring.Service
	Matches *match.Resolver

	// Ready lists the dependencies checked by /readyz.
	Ready map[string]handlers.Pinger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	if cfg.MaxUploadBytes > 0 {
		// multipart framing on top of the image itself
		r.MaxMultipartMemory = cfg.MaxUploadBytes + 1<<20
	}
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.New(corsConfig()))

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Ready)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey), auth.IdentifyCaller())

	scoreH := handlers.NewScoreHandler(cfg.Scoring, cfg.MaxUploadBytes)
	v1.POST("/scores", auth.RequireCaller(), scoreH.Submit)
	v1.GET("/scores/:id", scoreH.Get)
	v1.GET("/scores/:id/image", scoreH.Image)
	v1.GET("/users/:id/scores", scoreH.ListByOwner)

	matchH := handlers.NewMatchHandler(cfg.Matches, cfg.Store)
	v1.POST("/matches", auth.RequireCaller(), matchH.Create)
	v1.GET("/matches/:id", matchH.Get)
	v1.GET("/users/:id/matches", matchH.ListForUser)

	userH := handlers.NewUserHandler(cfg.Store, cfg.Stats, cfg.DefaultRating)
	v1.GET("/users/:id/rating", userH.Rating)
	v1.GET("/users/:id/stats", userH.Stats)

	rankH := handlers.NewRankingHandler(cfg.Store)
	v1.GET("/rankings/global", rankH.Global)

	return r
}

func corsConfig() cors.Config {
	c := cors.DefaultConfig()
	c.AllowAllOrigins = true
	c.AllowHeaders = append(c.AllowHeaders, auth.APIKeyHeader, auth.UserHeader)
	return c
}
