package api

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"coffer/internal/server/config"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, auth *Authenticator, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}))
	e.Use(RequestLogger())
	e.Use(Metrics())

	// Rate limiter on the upload endpoint only
	uploadLimiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	e.Server.RegisterOnShutdown(uploadLimiter.Stop)

	// Health & metrics
	e.GET("/health", handler.HandleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Auth
	e.POST("/api/auth/register", handler.HandleRegister)
	e.POST("/api/auth/login", handler.HandleLogin)

	// Authenticated API
	v1 := e.Group("/api", auth.Require())
	v1.POST("/files", handler.HandleUpload, uploadLimiter.Middleware())
	v1.GET("/files", handler.HandleListFiles)
	v1.GET("/files/:id", handler.HandleGetFile)
	v1.GET("/files/:id/download", handler.HandleDownload)
	v1.DELETE("/files/:id", handler.HandleDeleteFile)

	v1.POST("/files/:id/shares", handler.HandleGrantUser)
	v1.POST("/files/:id/links", handler.HandleGrantLink)
	v1.GET("/files/:id/shares", handler.HandleListShares)
	v1.DELETE("/shares/:id", handler.HandleRevokeShare)
	v1.PATCH("/shares/:id", handler.HandleUpdateShareExpiry)

	v1.GET("/files/:id/audit", handler.HandleFileTrail)
	v1.GET("/audit", handler.HandleActorTrail)

	// Link shares: any authenticated principal may redeem, so the token
	// is resolved when present and the service rejects anonymous callers.
	links := e.Group("/s", auth.Optional())
	links.GET("/:token", handler.HandleLinkInfo)
	links.GET("/:token/download", handler.HandleLinkDownload)

	return e
}
