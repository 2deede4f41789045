package rest

import (
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rustalink/server/internal/session"
)

// Version is stamped at build time; left as a sensible default for
// non-release builds.
var Version = "0.1.0-dev"

func (s *Server) handleVersion(c *gin.Context) {
	c.String(http.StatusOK, Version)
}

func (s *Server) handleInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version": gin.H{"semver": Version},
		"filters": gin.H{
			"volume": s.cfg.Filters.Volume, "equalizer": s.cfg.Filters.Equalizer,
			"karaoke": s.cfg.Filters.Karaoke, "timescale": s.cfg.Filters.Timescale,
			"tremolo": s.cfg.Filters.Tremolo, "vibrato": s.cfg.Filters.Vibrato,
			"distortion": s.cfg.Filters.Distortion, "rotation": s.cfg.Filters.Rotation,
			"channelMix": s.cfg.Filters.ChannelMix, "lowPass": s.cfg.Filters.LowPass,
		},
		"sourceManagers": s.resolverTags,
		"plugins":        s.plugins.Names(),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	players, playing := s.PlayerCounts()
	sent, nulled := s.manager.TotalCounters()

	c.JSON(http.StatusOK, gin.H{
		"players":        players,
		"playingPlayers": playing,
		"uptimeMs":       time.Since(s.startedAt).Milliseconds(),
		"memory": gin.H{
			"allocated": memStats.Alloc,
			"used":      memStats.HeapInuse,
			"free":      memStats.HeapIdle,
			"reservable": memStats.Sys,
		},
		"cpu": gin.H{
			"cores": runtime.NumCPU(),
		},
		"frameStats": gin.H{
			"sent":   sent,
			"nulled": nulled,
		},
	})
}

func (s *Server) handleLoadTracks(c *gin.Context) {
	identifier := c.Query("identifier")
	if identifier == "" {
		abortWithError(c, http.StatusBadRequest, "missing identifier query parameter")
		return
	}

	sourceTag, ident := splitSourceTag(identifier)
	track, err := s.resolvers.Resolve(c.Request.Context(), sourceTag, ident)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"loadType": "empty", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"loadType": "track", "data": track})
}

func (s *Server) handleLoadSearch(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		abortWithError(c, http.StatusBadRequest, "missing query parameter")
		return
	}
	types := s.resolverTags
	if raw := c.Query("types"); raw != "" {
		types = strings.Split(raw, ",")
	}

	tracks, _ := s.resolvers.Search(c.Request.Context(), types, query)
	c.JSON(http.StatusOK, gin.H{"loadType": "search", "data": tracks})
}

func splitSourceTag(identifier string) (string, string) {
	if idx := strings.Index(identifier, ":"); idx > 0 && !strings.HasPrefix(identifier, "http") {
		return identifier[:idx], identifier[idx+1:]
	}
	if strings.HasPrefix(identifier, "http://") || strings.HasPrefix(identifier, "https://") {
		return "http", identifier
	}
	return "local", identifier
}

func (s *Server) handleListPlayers(c *gin.Context) {
	sid := c.Param("sessionId")
	reg := s.registryFor(sid)

	players := reg.All()
	out := make([]gin.H, 0, len(players))
	for _, p := range players {
		out = append(out, playerView(p.Snapshot()))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetPlayer(c *gin.Context) {
	sid, gid := c.Param("sessionId"), c.Param("guildId")
	reg := s.registryFor(sid)
	p, ok := reg.Get(gid)
	if !ok {
		abortWithError(c, http.StatusNotFound, "no player for guild "+gid)
		return
	}
	c.JSON(http.StatusOK, playerView(p.Snapshot()))
}

// updatePlayerRequest is the PATCH body for player CRUD, matching the
// fields a player exposes.
type updatePlayerRequest struct {
	Track *struct {
		Identifier string `json:"identifier"`
		SourceTag  string `json:"sourceTag"`
	} `json:"track"`
	Paused   *bool  `json:"paused"`
	Volume   *int   `json:"volume"`
	Position *int64 `json:"position"`
}

func (s *Server) handleUpdatePlayer(c *gin.Context) {
	sid, gid := c.Param("sessionId"), c.Param("guildId")
	reg := s.registryFor(sid)
	p := reg.GetOrCreate(gid)

	var req updatePlayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.Track != nil {
		transport := s.transportFor(gid)
		if transport == nil {
			abortWithError(c, http.StatusBadRequest, "no voice connection established for guild "+gid)
			return
		}
		if err := s.manager.Play(c.Request.Context(), p, req.Track.SourceTag, req.Track.Identifier, transport, nil, nil); err != nil {
			abortWithError(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.Paused != nil {
		p.SetPaused(*req.Paused)
		s.manager.SetPaused(gid, *req.Paused)
	}
	if req.Volume != nil {
		p.SetVolume(*req.Volume)
		s.manager.SetVolume(gid, *req.Volume)
	}
	if req.Position != nil {
		if err := s.manager.Seek(gid, *req.Position); err != nil {
			abortWithError(c, http.StatusBadRequest, err.Error())
			return
		}
	}

	c.JSON(http.StatusOK, playerView(p.Snapshot()))
}

func (s *Server) handleDeletePlayer(c *gin.Context) {
	sid, gid := c.Param("sessionId"), c.Param("guildId")
	reg := s.registryFor(sid)
	s.manager.Stop(gid)
	reg.Delete(gid)
	c.Status(http.StatusNoContent)
}

type updateSessionRequest struct {
	Resuming   *bool `json:"resuming"`
	TimeoutSec *int  `json:"timeout"`
}

func (s *Server) handleUpdateSession(c *gin.Context) {
	sid := c.Param("sessionId")
	var req updateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	timeout := s.cfg.Server.ResumeTimeout
	if req.TimeoutSec != nil {
		timeout = *req.TimeoutSec
	}
	resuming := true
	if req.Resuming != nil {
		resuming = *req.Resuming
	}

	if err := s.store.SetResuming(c.Request.Context(), sid, resuming, timeout); err != nil {
		abortWithError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"resuming": resuming, "timeout": timeout})
}

func (s *Server) handleRoutePlannerStatus(c *gin.Context) {
	failing, err := s.planner.FailingAddresses(c.Request.Context())
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"class": "RotatingIpRoutePlanner", "failingAddresses": failing})
}

func (s *Server) handleRoutePlannerFreeAddress(c *gin.Context) {
	addr := c.Param("address")
	if err := s.planner.MarkHealthy(c.Request.Context(), addr); err != nil {
		abortWithError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRoutePlannerFreeAll(c *gin.Context) {
	failing, err := s.planner.FailingAddresses(c.Request.Context())
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err.Error())
		return
	}
	for _, addr := range failing {
		_ = s.planner.MarkHealthy(c.Request.Context(), addr)
	}
	c.Status(http.StatusNoContent)
}

func playerView(p session.Player) gin.H {
	return gin.H{
		"guildId":  p.GuildID,
		"track":    p.Track,
		"paused":   p.Paused,
		"volume":   p.VolumePct,
		"position": p.Position,
	}
}
