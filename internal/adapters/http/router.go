package http

import (
	"context"

	"github.com/dkeye/Cast/internal/adapters/signal"
	"github.com/dkeye/Cast/internal/app/orch"
	"github.com/dkeye/Cast/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ClientTokenMiddleware tags every browser with a long lived cookie; signaling
// channels derive their ids from it.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		token, _ := s.Get("ct").(string)
		if token == "" {
			token = uuid.NewString()
			s.Set("ct", token)
			if err := s.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save client token")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("CastSessions", store))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	h := &handlers{orch: o, cfg: cfg}
	api := r.Group("/api")
	api.GET("/healthz", h.healthz)
	api.GET("/ice-servers", h.iceServers)
	api.POST("/sessions", h.createSession)
	api.GET("/sessions/:key", h.getSession)
	api.DELETE("/sessions/:key", h.closeSession)
	api.GET("/sessions/:key/stats", h.sessionStats)
	api.GET("/sessions/:key/messages", h.listMessages)
	api.POST("/sessions/:key/messages", h.postMessage)

	ctrl := signal.NewSignalWSController(o, cfg)
	ws := r.Group("/ws")
	ws.GET("/text/:key", func(c *gin.Context) {
		ctrl.HandleText(ctx, c)
	})
	ws.GET("/stream/:key/:role", func(c *gin.Context) {
		ctrl.HandleStream(ctx, c)
	})

	return r
}
