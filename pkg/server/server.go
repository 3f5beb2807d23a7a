// Cricket Bridge - WhatsApp relay for the CSCC cricket agent
// License: MIT
//
// Copyright (c) 2026 Cricket Bridge contributors

package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cscc/cricket-bridge/pkg/filter"
	"github.com/cscc/cricket-bridge/pkg/forwarder"
	"github.com/cscc/cricket-bridge/pkg/metrics"
)

const relayTokenHeader = "X-Relay-Token"

// Transport is the subset of the connection manager the HTTP surface reads.
type Transport interface {
	Connected() bool
	SelfID() string
	CurrentStateName() string
}

// Server is the bridge's HTTP front door: health, metrics, and a
// token-authenticated relay path that skips the chat transport entirely.
// It holds no business logic of its own.
type Server struct {
	token   string
	fwd     *forwarder.Forwarder
	filt    *filter.Filter
	rec     *metrics.Recorder
	tp      Transport
	httpSrv *http.Server
}

func New(port int, token string, fwd *forwarder.Forwarder, filt *filter.Filter, rec *metrics.Recorder, tp Transport) *Server {
	s := &Server{token: token, fwd: fwd, filt: filt, rec: rec, tp: tp}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", s.health)
	engine.GET("/metrics", gin.WrapH(rec.Handler()))
	engine.POST("/relay", s.relay)

	admin := engine.Group("/admin", s.requireToken)
	admin.POST("/groups", s.updateGroups)
	admin.POST("/caches/clear", s.clearCaches)
	admin.GET("/upstream", s.upstreamStatus)

	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: engine,
	}
	return s
}

// Start serves until Shutdown. It returns on listener failure only.
func (s *Server) Start() error {
	slog.Info("http surface listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	resp := gin.H{
		"ok":        true,
		"connected": s.tp.Connected(),
		"state":     s.tp.CurrentStateName(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if me := s.tp.SelfID(); me != "" {
		resp["me"] = me
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) tokenOK(c *gin.Context) bool {
	supplied := c.GetHeader(relayTokenHeader)
	return supplied != "" &&
		subtle.ConstantTimeCompare([]byte(supplied), []byte(s.token)) == 1
}

func (s *Server) requireToken(c *gin.Context) {
	if !s.tokenOK(c) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "invalid or missing relay token",
		})
	}
}

type relayRequest struct {
	Text     string `json:"text"`
	TeamHint string `json:"team_hint"`
}

// relay forwards text to the upstream agent on behalf of an HTTP caller,
// bypassing the chat transport. Used by operators and integration tests.
func (s *Server) relay(c *gin.Context) {
	if !s.tokenOK(c) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "invalid or missing relay token",
		})
		return
	}

	var req relayRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "text is required",
		})
		return
	}

	s.rec.Forward()
	start := time.Now()
	resp, err := s.fwd.Forward(c.Request.Context(), forwarder.Request{
		Text:     req.Text,
		Source:   "relay",
		TeamHint: req.TeamHint,
	})
	if err != nil {
		s.rec.Error()
		// Keep upstream details out of the response body.
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "upstream request failed",
		})
		return
	}

	s.rec.ObserveForward(float64(time.Since(start).Milliseconds()), resp.Meta.LatencyMS)
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"response": resp.Answer,
		"metadata": resp.Meta,
	})
}

type groupsRequest struct {
	Groups []string `json:"groups"`
}

// updateGroups hot-swaps the group allow-list without a restart.
func (s *Server) updateGroups(c *gin.Context) {
	var req groupsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid body"})
		return
	}
	s.filt.UpdateAllowedGroups(req.Groups)
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": s.filt.Stats()})
}

func (s *Server) clearCaches(c *gin.Context) {
	s.filt.ClearCaches()
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": s.filt.Stats()})
}

func (s *Server) upstreamStatus(c *gin.Context) {
	status := s.fwd.Status(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"reachable": status != nil,
		"upstream":  status,
	})
}
