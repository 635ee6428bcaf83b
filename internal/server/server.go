package server

import (
	"net/http"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/calder-ai/modelgate/internal/cache"
	"github.com/calder-ai/modelgate/internal/config"
	"github.com/calder-ai/modelgate/internal/gateway"
	"github.com/calder-ai/modelgate/internal/server/middleware"
	"github.com/calder-ai/modelgate/internal/server/validator"
)

const serviceName = "modelgate"

type Server struct {
	router  *gin.Engine
	config  *config.Config
	logger  *zap.Logger
	service gateway.Service
	cache   cache.CacheService
	version string
}

func New(cfg *config.Config, logger *zap.Logger, service gateway.Service, cacheSvc cache.CacheService, version string) *Server {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	validator.Init()

	engine := gin.New()

	engine.Use(middleware.RequestID())
	engine.Use(middleware.Logger(logger))
	engine.Use(ginzap.RecoveryWithZap(logger, true))
	engine.Use(middleware.Tracing(serviceName))

	s := &Server{
		router:  engine,
		config:  cfg,
		logger:  logger,
		service: service,
		cache:   cacheSvc,
		version: version,
	}

	s.SetupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}
