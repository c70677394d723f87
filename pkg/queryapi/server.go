// Package queryapi implements the Query API (C11, §4.11): read-only HTTP
// endpoints over the trajectory_index summary table and the full
// trajectory JSONL store, for dashboards and post-hoc investigation of
// completed tasks.
package queryapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaymind/orchestrator/pkg/trajectory"
	"github.com/relaymind/orchestrator/pkg/version"
)

// Server is the HTTP API server over trajectory_index and the trajectory
// JSONL store.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	pool       *pgxpool.Pool
	reader     *trajectory.Reader
}

// NewServer wires routes over pool (trajectory_index, index_checkpoints)
// and reader (the full per-task step log). gin.SetMode is left to the
// caller — tests run it in gin.TestMode via NewServer's ReleaseMode
// default being overridden externally if desired.
func NewServer(pool *pgxpool.Pool, reader *trajectory.Reader) *Server {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery())

	s := &Server{engine: e, pool: pool, reader: reader}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)

	// Routes are intentionally unversioned and unauthenticated (§4.11, §1
	// Non-goals) — a read-only surface for dashboards and ad hoc lookups,
	// not a public API contract.
	s.engine.GET("/trajectories", s.listTrajectoriesHandler)
	s.engine.GET("/trajectories/:task_id", s.getTrajectoryHandler)
	s.engine.GET("/trajectories/stats", s.terminationStatsHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener. Used
// by tests to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.engine}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.pool.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Version: version.Full()})
		return
	}
	c.JSON(http.StatusOK, healthResponse{Status: "healthy", Version: version.Full()})
}

// listTrajectoriesHandler handles GET /trajectories.
func (s *Server) listTrajectoriesHandler(c *gin.Context) {
	var params ListParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since: must be RFC3339"})
			return
		}
		params.Since = &t
	}

	result, err := listRecords(c.Request.Context(), s.pool, params)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// getTrajectoryHandler handles GET /trajectories/:task_id.
func (s *Server) getTrajectoryHandler(c *gin.Context) {
	taskID := c.Param("task_id")
	if taskID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task_id is required"})
		return
	}

	idxRow, err := findStartedAt(c.Request.Context(), s.pool, taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "trajectory not found: " + taskID})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	result, err := s.reader.FindByTaskID(taskID, idxRow.StartedAt)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if result == nil {
		// Indexed but the JSONL file has since been rotated away or moved —
		// the summary row survives; the full step log doesn't.
		c.JSON(http.StatusNotFound, gin.H{"error": "trajectory indexed but full record unavailable: " + taskID})
		return
	}
	c.JSON(http.StatusOK, result)
}

// terminationStatsHandler handles GET /trajectories/stats.
func (s *Server) terminationStatsHandler(c *gin.Context) {
	counts, err := countByTermination(c.Request.Context(), s.pool)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts})
}
