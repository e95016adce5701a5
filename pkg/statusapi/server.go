// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package statusapi exposes the engine's operational surface over HTTP:
// health summary, round history, manual round triggers, and read access to
// the merged caches. The fleet-facing product API lives elsewhere; this
// server exists for operators, dashboards and the CLI.
package statusapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fleetmesh/fleet-core/pkg/collector"
	"github.com/fleetmesh/fleet-core/pkg/logger"
	"github.com/fleetmesh/fleet-core/pkg/metricstore"
	"github.com/fleetmesh/fleet-core/pkg/models"
	"github.com/fleetmesh/fleet-core/pkg/remote"
	"github.com/fleetmesh/fleet-core/pkg/taskcache"
)

// Server is the operational status HTTP server.
type Server struct {
	engine      *collector.Engine
	metricStore *metricstore.Store
	taskCache   *taskcache.Cache
	port        int
	server      *http.Server
	logger      *zap.SugaredLogger
}

// NewServer creates a status server for the given engine and stores.
func NewServer(engine *collector.Engine, metricStore *metricstore.Store, taskCache *taskcache.Cache, port int) *Server {
	return &Server{
		engine:      engine,
		metricStore: metricStore,
		taskCache:   taskCache,
		port:        port,
		logger:      logger.For(logger.ComponentStatusAPI),
	}
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1")
	v1.GET("/health", s.handleHealthSummary)
	v1.GET("/rounds", s.handleRounds)
	v1.GET("/rounds/:id", s.handleRoundStatus)
	v1.POST("/rounds", s.handleTriggerRound)
	v1.GET("/state", s.handleState)
	v1.GET("/tasks", s.handleTasks)
	v1.GET("/metrics", s.handleMetrics)
	v1.GET("/latency/:remote", s.handleLatency)

	return router
}

// Start runs the server until it is shut down. Blocking, callers run it in a
// goroutine.
func (s *Server) Start() {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Infof("Starting status API on :%d", s.port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Errorf("Status API failed: %v", err)
	}
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("Stopping status API")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealthSummary(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"remotes": s.engine.HealthSummary()})
}

func (s *Server) handleRounds(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rounds": s.engine.Rounds()})
}

func (s *Server) handleRoundStatus(c *gin.Context) {
	round, ok := s.engine.RoundStatus(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "round not found"})
		return
	}
	c.JSON(http.StatusOK, round)
}

// triggerRequest is the POST /v1/rounds body. Remote scopes the round to a
// single remote; empty means all remotes.
type triggerRequest struct {
	Reason string `json:"reason"`
	Remote string `json:"remote"`
}

func (s *Server) handleTriggerRound(c *gin.Context) {
	var req triggerRequest
	// An empty body is fine, it defaults to a manual trigger.
	_ = c.ShouldBindJSON(&req)

	reason := models.TriggerManual
	switch req.Reason {
	case "", string(models.TriggerManual):
	case string(models.TriggerRemoteAdded):
		reason = models.TriggerRemoteAdded
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown trigger reason %q", req.Reason)})
		return
	}

	id := s.engine.TriggerRound(reason, req.Remote)
	c.JSON(http.StatusAccepted, gin.H{"roundId": id})
}

func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.StateSnapshot())
}

func (s *Server) handleTasks(c *gin.Context) {
	filter := taskcache.Filter{
		Remote: c.Query("remote"),
		Type:   c.Query("type"),
		User:   c.Query("user"),
	}
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			filter.Statuses = append(filter.Statuses, models.TaskStatus(s))
		}
	}
	filter.Running = c.Query("running") == "true"
	filter.ErrorsOnly = c.Query("errors") == "true"

	var err error
	if filter.Since, err = parseInt64Query(c, "since"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if filter.Until, err = parseInt64Query(c, "until"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit, err := parseIntQuery(c, "limit")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	offset, err := parseIntQuery(c, "offset")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order := taskcache.SortStartDescending
	if c.Query("order") == "ascending" {
		order = taskcache.SortStartAscending
	}

	tasks := s.taskCache.Query(filter, order, limit, offset)
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (s *Server) handleMetrics(c *gin.Context) {
	since, err := parseInt64Query(c, "since")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	until, err := parseInt64Query(c, "until")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	samples := s.metricStore.Query(c.Query("remote"), c.Query("resource"), since, until)
	c.JSON(http.StatusOK, gin.H{"samples": samples})
}

func (s *Server) handleLatency(c *gin.Context) {
	c.JSON(http.StatusOK, remote.ObservedLatency(c.Param("remote")))
}

func parseInt64Query(c *gin.Context, name string) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return v, nil
}

func parseIntQuery(c *gin.Context, name string) (int, error) {
	v, err := parseInt64Query(c, name)
	return int(v), err
}
