package server

import (
	"github.com/calder-ai/modelgate/internal/server/middleware"
	v1 "github.com/calder-ai/modelgate/internal/server/v1"
)

// SetupRoutes wires every HTTP surface of the gateway. The health probe
// stays outside the /v1 group so load balancers can reach it without a
// bearer key.
func (s *Server) SetupRoutes() {
	s.router.Use(middleware.CORS())
	s.router.Use(middleware.ErrorHandler(s.logger))

	health := v1.NewHealthHandler(s.version)
	s.router.GET("/health", health.Health)

	api := s.router.Group("/v1")
	if s.config.Auth.Enabled {
		api.Use(middleware.Auth(s.config.Auth.Keys))
	}
	if s.config.RateLimit.RequestsPerSecond > 0 {
		limiter := middleware.NewRateLimiter(s.config.RateLimit.RequestsPerSecond, s.config.RateLimit.Burst, s.logger)
		api.Use(limiter.Middleware())
	}

	chat := v1.NewChatHandler(s.service)
	api.POST("/chat", chat.CreateChat)

	vision := v1.NewVisionHandler(s.service)
	api.POST("/vision", vision.AnalyzeImage)

	state := v1.NewStateHandler(s.service)
	api.GET("/state", state.Get)
	api.POST("/connection/test", state.TestConnection)

	capabilities := v1.NewCapabilitiesHandler(s.service, s.cache, s.logger)
	api.GET("/capabilities", capabilities.Get)

	models := v1.NewModelHandler(s.service, s.cache, s.logger)
	api.GET("/models", models.List)
	api.POST("/models/pull", models.Pull)

	cfg := v1.NewConfigHandler(s.service)
	api.GET("/config", cfg.Get)
	api.PUT("/config", cfg.Update)

	stats := v1.NewStatsHandler(s.service)
	api.GET("/stats", stats.Get)
}
