package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/edflow/backend/internal/config"
	"github.com/edflow/backend/internal/db"
	"github.com/edflow/backend/internal/http/handlers"
	"github.com/edflow/backend/internal/http/middleware"
	"github.com/edflow/backend/internal/service"
	"github.com/edflow/backend/internal/triage"

	_ "github.com/edflow/backend/docs"
)

// Router builds the HTTP façade. store may be nil, in which case runs are
// not persisted and the run endpoints answer 503.
func Router(cfg config.Config, store *db.Store, sims *service.SimulationService, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.AdminKeyHeader, middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" || cfg.CORSAllowed == "" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	engine := sims.Triage
	if engine == nil {
		engine = triage.NewEngine()
	}
	h := &handlers.Handler{
		Simulator:   sims,
		Triage:      engine,
		Validator:   handlers.NewValidator(),
		SimDefaults: cfg.Simulation,
		Logger:      logger,
		Timeout:     cfg.RequestTimeout,
	}
	if store != nil {
		h.Store = store
	}
	if b, ok := sims.Publisher.(handlers.BrokerStatus); ok {
		h.Broker = b
	}

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.GET("/config/defaults", h.Defaults)
		api.POST("/triage/explain", h.TriageExplain)
		api.GET("/runs/latest", h.RunsLatest)
		api.GET("/runs/:id/events", h.RunEvents)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.POST("/simulate", h.Simulate)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
