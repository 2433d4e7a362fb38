package api

import (
	"farmgate/internal/metrics"
	"farmgate/internal/middleware"
	"farmgate/internal/navigation"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type Handlers struct {
	Config     *ConfigHandler
	Dev        *DevHandler
	Navigation *NavigationHandler
	Auth       *AuthHandler
	Stream     *StreamHandler
}

func RegisterRoutes(h Handlers, tokens middleware.TokenParser, rdb redis.Scripter, requestsPerSecond int, devMode bool) *gin.Engine {
	r := gin.New()

	r.Use(
		middleware.CorsMiddleware(),
		middleware.RequestID(),
		middleware.TraceMiddleware(),
		middleware.GinZapLogger(),
		middleware.GinZapRecovery(),
		middleware.HttpMiddleware(),
	)
	r.SetTrustedProxies(nil)

	session := middleware.OptionalSession(tokens, devMode)
	writeLimiter := middleware.RateLimitMiddleware(rdb, requestsPerSecond)
	adminOnly := middleware.RequireRole(navigation.RoleAdmin)

	// Public Routes
	r.GET("/health", h.Config.HealthCheck)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/config/features", h.Config.GetFeatures)

	auth := r.Group("/v1/auth")
	{
		auth.POST("/otp/verify", writeLimiter, h.Auth.VerifyOTP)
		auth.POST("/refresh", writeLimiter, h.Auth.Refresh)
	}

	authProtected := r.Group("/v1/auth")
	authProtected.Use(session, middleware.RequireSession())
	{
		authProtected.GET("/me", h.Auth.Me)
		authProtected.POST("/logout", h.Auth.Logout)
	}

	// navigation answers signed-out callers too
	r.GET("/v1/navigation", session, h.Navigation.GetNavigation)

	stream := r.Group("/v1/stream")
	stream.Use(session, middleware.RequireSession())
	{
		stream.GET("/flags", h.Stream.WatchFlags)
	}

	dev := r.Group("/v1/dev")
	dev.Use(session, adminOnly)
	{
		dev.GET("/flags", h.Dev.ListFlags)
		dev.POST("/flags/:name/enable", writeLimiter, h.Dev.Enable)
		dev.POST("/flags/:name/disable", writeLimiter, h.Dev.Disable)
		dev.POST("/flags/:name/toggle", writeLimiter, h.Dev.Toggle)
		dev.POST("/flags/reset", writeLimiter, h.Dev.Reset)
		dev.POST("/flags/refresh", writeLimiter, h.Dev.Refresh)
	}

	admin := r.Group("/v1/admin")
	admin.Use(session, adminOnly)
	{
		admin.PUT("/config/features", writeLimiter, h.Config.UpdateFeatures)
		admin.GET("/config/features/audits", h.Config.ListAudits)
	}
	return r
}
