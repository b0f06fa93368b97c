package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/wardenapp/warden/internal/app"
	iauth "github.com/wardenapp/warden/internal/auth"
	"github.com/wardenapp/warden/internal/handlers"
	"github.com/wardenapp/warden/internal/mediaserver"
	"github.com/wardenapp/warden/internal/middleware"
	"github.com/wardenapp/warden/internal/services"
)

// Services bundles the application services the router depends on.
type Services struct {
	Sessions *iauth.SessionService
	Invites  *services.InviteService
	Accounts *services.AccountService
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(db *gorm.DB, cfg *app.Config, provider mediaserver.Client, svcs Services) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if provider == nil {
		return nil, fmt.Errorf("media server client must be provided")
	}
	if svcs.Sessions == nil || svcs.Invites == nil || svcs.Accounts == nil {
		return nil, fmt.Errorf("all services must be provided")
	}

	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	if cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health(db))
	}
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	cookie := handlers.CookieOptions{
		Name:   cfg.Auth.Session.CookieName,
		MaxAge: cfg.Auth.Session.TTL,
		Secure: cfg.Auth.Session.CookieSecure,
	}

	authHandler := handlers.NewAuthHandler(provider, svcs.Sessions, cookie)
	inviteHandler := handlers.NewInviteHandler(svcs.Invites, cookie)
	accountHandler := handlers.NewAccountHandler(svcs.Accounts)

	// Public routes
	r.POST("/api/auth/login", authHandler.Login)
	r.GET("/api/invites/:code", inviteHandler.Peek)
	r.POST("/api/invites/redeem", inviteHandler.Redeem)
	r.POST("/api/account/verify/confirm", accountHandler.ConfirmVerification)
	r.POST("/api/account/password-reset/request", accountHandler.RequestPasswordReset)
	r.POST("/api/account/password-reset/complete", accountHandler.CompletePasswordReset)

	// Authenticated routes
	authed := r.Group("/api")
	authed.Use(middleware.Auth(svcs.Sessions))
	{
		authed.GET("/auth/me", authHandler.Me)
		authed.POST("/auth/logout", authHandler.Logout)
		authed.POST("/account/verify/request", accountHandler.RequestVerification)
		authed.POST("/account/email/change", accountHandler.RequestEmailChange)
	}

	// Admin routes
	admin := authed.Group("/invites")
	admin.Use(middleware.RequireAdmin(svcs.Sessions))
	{
		admin.POST("", inviteHandler.Create)
		admin.GET("", inviteHandler.List)
		admin.DELETE("/:id", inviteHandler.Delete)
	}

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
