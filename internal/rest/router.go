package rest

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// NewRouter builds the gin engine for the REST control surface,
// every route behind authMiddleware except the health-style /version
// endpoint.
func NewRouter(s *Server) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), apiVersionHeader())
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PATCH", "DELETE"},
		AllowHeaders:    []string{"Authorization", "Content-Type", "user-id", "session-id"},
	}))

	engine.GET("/version", s.handleVersion)

	v4 := engine.Group("/v4", authMiddleware(s.cfg.Server.Password))
	v4.GET("/info", s.handleInfo)
	v4.GET("/stats", s.handleStats)
	v4.GET("/loadtracks", s.handleLoadTracks)
	v4.GET("/loadsearch", s.handleLoadSearch)

	v4.GET("/sessions/:sessionId/players", s.handleListPlayers)
	v4.GET("/sessions/:sessionId/players/:guildId", s.handleGetPlayer)
	v4.PATCH("/sessions/:sessionId/players/:guildId", s.handleUpdatePlayer)
	v4.DELETE("/sessions/:sessionId/players/:guildId", s.handleDeletePlayer)
	v4.PATCH("/sessions/:sessionId", s.handleUpdateSession)

	v4.GET("/routeplanner/status", s.handleRoutePlannerStatus)
	v4.POST("/routeplanner/free/:address", s.handleRoutePlannerFreeAddress)
	v4.POST("/routeplanner/free/all", s.handleRoutePlannerFreeAll)

	return engine
}
