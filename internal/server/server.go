package server

import (
	"context"
	"net/http"
	"time"

	"homepro/internal/api"
	"homepro/internal/auth"
	"homepro/internal/billing"
	"homepro/internal/config"
	"homepro/internal/mutation"
	"homepro/internal/user"
	"homepro/internal/wallet"

	"github.com/gin-gonic/gin"
)

// Handlers groups the domain handlers the router mounts.
type Handlers struct {
	Users    *user.Handler
	Accounts *mutation.Handler
	Wallet   *wallet.Handler
	Billing  *billing.Handler
}

type Server struct {
	router *gin.Engine
	http   *http.Server
	config *config.Config
}

func New(cfg *config.Config, h Handlers) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLoggingMiddleware())
	router.Use(MetricsMiddleware())
	router.Use(corsMiddleware())
	router.Use(api.ErrorHandler())

	limit := RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst)

	public := router.Group("/auth")
	public.Use(limit)
	{
		public.POST("/register", h.Users.Register)
		public.POST("/login", h.Users.Login)
		public.POST("/refresh", h.Users.RefreshToken)
	}

	authMiddleware := auth.AuthMiddleware(cfg.JWTSecret)
	protected := router.Group("/")
	protected.Use(authMiddleware, limit)
	{
		protected.GET("/me", h.Users.GetMe)

		owner := auth.RequireAccountAccess("id")
		protected.GET("/account/:id", owner, h.Accounts.GetStatus)
		protected.GET("/account/:id/cached", owner, h.Accounts.GetCached)
		protected.DELETE("/account/:id/cached", owner, h.Accounts.ForgetCached)

		protected.POST("/categories", h.Accounts.AddCategory)
		protected.PUT("/categories/primary", h.Accounts.PromotePrimary)
		protected.DELETE("/categories/:category", h.Accounts.RemoveCategory)

		protected.POST("/subscription/cancel", h.Accounts.CancelSubscription)
		protected.POST("/subscription/reactivate", h.Accounts.ReactivateSubscription)

		protected.GET("/wallet", h.Wallet.GetBalance)
		protected.POST("/wallet/topup", h.Wallet.TopUp)
		protected.GET("/wallet/transactions", h.Wallet.ListTransactions)
	}

	admin := router.Group("/admin")
	admin.Use(authMiddleware, auth.RequireRole(auth.RoleAdmin))
	{
		admin.POST("/billing/run", h.Billing.RunNow)
	}

	router.GET("/health", Health)
	router.GET("/metrics", Metrics())
	SetupSwagger(router)

	return &Server{
		router: router,
		config: cfg,
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(port string) error {
	s.http = &http.Server{
		Addr:              ":" + port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, "+mutation.SessionHeader)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
