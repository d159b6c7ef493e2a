package router

import (
	"os"
	"strings"

	"vault-backend/internal/config"
	"vault-backend/internal/handlers"
	"vault-backend/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// corsMiddleware applies the CORS policy.
// Priority: CORS_ALLOWED_ORIGINS env var > yaml config > allow-all.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowedOrigins := []string{"*"}
		allowCredentials := true

		if envOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); envOrigins != "" {
			allowedOrigins = allowedOrigins[:0]
			for _, o := range strings.Split(envOrigins, ",") {
				if trimmed := strings.TrimSpace(o); trimmed != "" {
					allowedOrigins = append(allowedOrigins, trimmed)
				}
			}
		} else if config.AppConfig != nil && len(config.AppConfig.CORS.AllowedOrigins) > 0 {
			allowedOrigins = config.AppConfig.CORS.AllowedOrigins
			allowCredentials = config.AppConfig.CORS.AllowCredentials
		}

		origin := c.GetHeader("Origin")
		if len(allowedOrigins) == 1 && allowedOrigins[0] == "*" {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			for _, allowed := range allowedOrigins {
				if strings.TrimSpace(allowed) == origin {
					c.Header("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}

		if c.Request.Method == "OPTIONS" {
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
			if allowCredentials {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// Handlers bundles everything the router mounts
type Handlers struct {
	Auth       *handlers.AuthHandler
	Solver     *handlers.SolverHandler
	Executions *handlers.ExecutionsHandler
	Health     *handlers.HealthHandler
	WebSocket  *handlers.WebSocketHandler
}

// SetupRouter builds the gin engine with all routes mounted
func SetupRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	r.GET("/health", h.Health.HealthCheckHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.NewAuthMiddleware(logrus.StandardLogger())

	v1 := r.Group("/api/v1")
	{
		v1.GET("/auth/nonce", h.Auth.GenerateNonceHandler)
		v1.POST("/auth/login", h.Auth.LoginHandler)

		v1.GET("/ws", h.WebSocket.StreamHandler)

		protected := v1.Group("")
		protected.Use(auth.RequireAuth())
		{
			protected.POST("/deposit/quote", h.Solver.DepositQuoteHandler)
			protected.POST("/deposit", h.Solver.DepositHandler)
			protected.POST("/withdraw/quote", h.Solver.WithdrawQuoteHandler)
			protected.POST("/withdraw", h.Solver.WithdrawHandler)

			protected.GET("/executions", h.Executions.ListHandler)
			protected.GET("/executions/:id", h.Executions.GetHandler)
		}
	}

	return r
}
