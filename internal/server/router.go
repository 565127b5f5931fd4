package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/studypair/callkit/internal/callrecord"
	"github.com/studypair/callkit/internal/config"
	"github.com/studypair/callkit/internal/domain"
)

type tokenRequest struct {
	UserID   domain.UserID `json:"userId"`
	Username string        `json:"username"`
}

// SetupRouter wires the signaling websocket and the call-record API behind
// bearer auth. Token issuing is delegated to the study-pair backend in
// production; the local endpoint exists for development and the CLI.
func SetupRouter(ctx context.Context, cfg *config.Config, auth *AuthManager, hub *Hub, records *callrecord.Service) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/api/auth/token", func(c *gin.Context) {
		var req tokenRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
			return
		}
		if req.Username == "" {
			req.Username = string(req.UserID)
		}
		user, err := domain.NewUser(req.UserID, req.Username)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tok, err := auth.Issue(time.Now(), user.ID, user.Username)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": tok})
	})

	api := r.Group("/api")
	api.Use(RequireAuth(auth))

	ctl := NewWSController(hub, cfg.ReadLimit)
	api.GET("/ws/signal", func(c *gin.Context) {
		ctl.HandleSignal(ctx, c)
	})

	callrecord.RegisterRoutes(api, records)

	log.Info().Str("module", "server").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
