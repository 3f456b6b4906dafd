package http

import (
	"fmt"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/agencyctl/internal/config"
	"github.com/vovakirdan/agencyctl/internal/devserver"
	"github.com/vovakirdan/agencyctl/internal/log"
)

// DefaultBasePath prefixes every REST route.
const DefaultBasePath = "/api/v1"

// NewServer builds the development backend HTTP server.
func NewServer(backend *devserver.Backend, tokens TokenValidator, cfg config.ServerConfig, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(backend, tokens, DefaultBasePath, cfg.MessageRateLimit, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter registers the REST surface under basePath, the realtime endpoint and /health.
func NewRouter(backend *devserver.Backend, tokens TokenValidator, basePath string, rateLimit int, logger *zerolog.Logger) *gin.Engine {
	logger = log.OrNop(logger)

	r := gin.New()
	r.Use(gin.Recovery(), LoggerMiddleware(logger))

	r.GET("/health", gin.WrapF(healthHandler))

	ws := NewWSHandler(backend, tokens, rateLimit, logger)
	r.GET("/ws/:user_id/:workflow_id/:session_id", ws.Handle)

	h := NewAPIHandlers(backend, logger)
	base := r.Group(basePath)
	base.GET("/version", h.Version)

	authed := base.Group("")
	authed.Use(AuthMiddleware(tokens, logger))

	authed.GET("/user/settings/secrets", h.ListSecrets)
	authed.PUT("/user/settings/secrets", h.UpdateSecrets)
	authed.GET("/user/profile", h.GetProfile)
	authed.PUT("/user/profile", h.UpdateProfile)

	authed.GET("/skill/list", h.ListSkills)
	authed.GET("/skill", h.GetSkill)
	authed.PUT("/skill", h.SaveSkill)
	authed.DELETE("/skill", h.DeleteSkill)
	authed.POST("/skill/approve", h.ApproveSkill)
	authed.POST("/skill/execute", h.ExecuteSkill)

	authed.GET("/agent/list", h.ListAgents)
	authed.GET("/agent", h.GetAgent)
	authed.PUT("/agent", h.SaveAgent)
	authed.DELETE("/agent", h.DeleteAgent)

	authed.GET("/agency/list", h.ListAgencies)
	authed.GET("/agency", h.GetAgency)
	authed.PUT("/agency", h.SaveAgency)
	authed.DELETE("/agency", h.DeleteAgency)

	authed.GET("/session/list", h.ListSessions)
	authed.POST("/session", h.CreateSession)
	authed.DELETE("/session", h.DeleteSession)

	authed.GET("/message/list", h.ListMessages)
	authed.POST("/message", h.PostMessage)

	return r
}

func healthHandler(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
	_, _ = fmt.Fprint(w, "ok")
}
