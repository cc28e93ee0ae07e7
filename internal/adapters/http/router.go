package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/telecare/internal/config"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware tags every caller with a stable cookie token. The
// token doubles as the user id on created sessions.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// BearerAuthMiddleware guards an endpoint with a shared token.
func BearerAuthMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		got := strings.TrimPrefix(auth, "Bearer ")
		if token == "" || got == auth || got != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, h *Handler) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("TelecareSessions", store))
	r.Use(ClientTokenMiddleware())

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")

	api := r.Group("/api")

	createLimiter := NewCreateRateLimiter(10, time.Minute)
	api.POST("/sessions", RateLimitMiddleware(createLimiter), h.CreateSession)
	api.GET("/sessions", h.ListSessions)
	api.GET("/sessions/:id", h.GetSession)
	api.PUT("/sessions/:id/offer", h.SetOffer)
	api.PUT("/sessions/:id/answer", h.SetAnswer)
	api.POST("/sessions/:id/candidates", h.AppendCandidate)
	api.POST("/sessions/:id/complete", h.CompleteSession)

	api.POST("/rooms", BearerAuthMiddleware(cfg.APIToken), h.CreateHostedRoom)

	api.GET("/ws/sessions/:id", func(c *gin.Context) {
		h.HandleFeed(ctx, c)
	})

	return r
}
