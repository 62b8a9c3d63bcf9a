// Package server exposes factory resets over HTTP.
//
// Routes, under the brand namespace (for example /bluehost/v1):
//
//	POST /factory-reset                single request reset
//	POST /factory-reset/prepare        phase one; answers with a handoff token
//	POST /factory-reset/execute        phase two for a handoff token
//	GET  /factory-reset/runs/:id       run history record
//	GET  /factory-reset/health         health report
//
// and GET /metrics at the root. Every namespaced route requires the
// configured bearer token.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lyndonlyu/sitereset/internal/auth"
	"github.com/lyndonlyu/sitereset/internal/filelock"
	"github.com/lyndonlyu/sitereset/internal/health"
	"github.com/lyndonlyu/sitereset/internal/killswitch"
	"github.com/lyndonlyu/sitereset/internal/orchestrator"
	"github.com/lyndonlyu/sitereset/internal/ratelimit"
	"github.com/lyndonlyu/sitereset/internal/reset"
	"github.com/lyndonlyu/sitereset/internal/statedb"
)

// Error messages returned to clients.
const (
	MsgForbidden      = "You do not have permission to perform a factory reset."
	MsgPrepareFailed  = "Failed to prepare for reset."
	MsgSessionExpired = "Reset session expired or was not found. Please try again."
	MsgRunNotFound    = "No reset run with that id."
	MsgTooManyRequest = "Too many reset requests. Please wait and try again."
)

// Resetter runs resets. *orchestrator.Orchestrator implements it.
type Resetter interface {
	SiteURL() (string, error)
	// Ready returns the error Execute would refuse with, without running.
	Ready() error
	Prepare(ctx context.Context, origin string) (string, reset.PreparationResult, error)
	Execute(ctx context.Context, origin, runID string, h reset.Handoff) (reset.Report, error)
	ResetNow(ctx context.Context, origin, confirmationURL string) (string, reset.Report, error)
}

// Store keeps handoffs between the prepare and execute requests and the
// run history. *statedb.DB implements it.
type Store interface {
	PutHandoff(runID string, payload []byte, ttl time.Duration) (statedb.Handoff, error)
	TakeHandoff(token string) (statedb.Handoff, error)
	GetRun(id string) (statedb.RunRecord, error)
}

type Server struct {
	Resetter  Resetter
	Store     Store
	Token     string
	Namespace string
	// TimeBudget bounds how long a reset response may take to write.
	TimeBudget time.Duration
	HandoffTTL time.Duration
	Metrics    http.Handler
	// Limiter throttles namespaced requests per client address; nil
	// disables throttling.
	Limiter *ratelimit.Group
	Health  func() *health.Report
	Logger  *slog.Logger
}

// ErrorResponse is the error body. Status repeats the HTTP status.
type ErrorResponse struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Data    ErrorData `json:"data"`
}

type ErrorData struct {
	Status int `json:"status"`
}

// ResetRequest is the body of the single request and prepare routes.
type ResetRequest struct {
	ConfirmationURL string `json:"confirmation_url" binding:"required"`
}

// ExecuteRequest is the body of the execute route.
type ExecuteRequest struct {
	Token string `json:"token" binding:"required"`
}

// PrepareResponse tells the client how to run phase two.
type PrepareResponse struct {
	RunID     string    `json:"run_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Steps     any       `json:"steps"`
}

// ResetResponse is the report plus the run it belongs to.
type ResetResponse struct {
	reset.Report
	RunID string `json:"run_id"`
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Handler builds the gin engine serving every route.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())
	if s.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.Metrics))
	}

	g := r.Group("/"+strings.Trim(s.Namespace, "/"), s.throttle(), s.requireToken())
	g.POST("/factory-reset", s.handleReset)
	g.POST("/factory-reset/prepare", s.handlePrepare)
	g.POST("/factory-reset/execute", s.handleExecute)
	g.GET("/factory-reset/runs/:id", s.handleRun)
	g.GET("/factory-reset/health", s.handleHealth)
	return r
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger().Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// throttle runs before the token check so guessing tokens is throttled too.
func (s *Server) throttle() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.Limiter == nil {
			c.Next()
			return
		}
		if ok, wait := s.Limiter.Allow(c.ClientIP()); !ok {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			abort(c, http.StatusTooManyRequests, "rest_too_many_requests", MsgTooManyRequest)
			return
		}
		c.Next()
	}
}

func (s *Server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		presented, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || !auth.TokenMatches(s.Token, strings.TrimSpace(presented)) {
			s.logger().Warn("rejected reset request", "remote", c.ClientIP(), "path", c.FullPath())
			abort(c, http.StatusForbidden, "rest_forbidden", MsgForbidden)
			return
		}
		c.Next()
	}
}

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Code: code, Message: msg, Data: ErrorData{Status: status}})
}

// resetContext detaches a reset from the client connection so a dropped
// request does not stop a half-finished reset, and extends the response
// write deadline to the time budget.
func (s *Server) resetContext(c *gin.Context) context.Context {
	if s.TimeBudget > 0 {
		rc := http.NewResponseController(c.Writer)
		if err := rc.SetWriteDeadline(time.Now().Add(s.TimeBudget)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			s.logger().Debug("write deadline not extended", "error", err)
		}
	}
	return context.WithoutCancel(c.Request.Context())
}

func bindMissing(c *gin.Context, field string, err error) bool {
	if err == nil {
		return false
	}
	abort(c, http.StatusBadRequest, "rest_missing_callback_param", "Missing parameter(s): "+field)
	return true
}

// busy maps lock and kill switch errors; it reports whether it answered.
func busy(c *gin.Context, err error) bool {
	switch {
	case errors.Is(err, killswitch.ErrDisabled):
		abort(c, http.StatusConflict, "resets_disabled", err.Error())
	case errors.Is(err, filelock.ErrLocked):
		abort(c, http.StatusConflict, "reset_in_progress", err.Error())
	default:
		return false
	}
	return true
}

func (s *Server) reportStatus(c *gin.Context, runID string, rep reset.Report) {
	status := http.StatusOK
	if !rep.Success {
		status = http.StatusInternalServerError
	}
	c.JSON(status, ResetResponse{Report: rep, RunID: runID})
}

func (s *Server) handleReset(c *gin.Context) {
	var req ResetRequest
	if bindMissing(c, "confirmation_url", c.ShouldBindJSON(&req)) {
		return
	}
	ctx := s.resetContext(c)

	runID, rep, err := s.Resetter.ResetNow(ctx, orchestrator.OriginAPI, req.ConfirmationURL)
	if err == nil {
		s.reportStatus(c, runID, rep)
		return
	}
	var perr *reset.PreparationError
	switch {
	case errors.Is(err, reset.ErrConfirmation):
		abort(c, http.StatusBadRequest, "invalid_confirmation", reset.MsgConfirmation)
	case errors.As(err, &perr):
		abort(c, http.StatusInternalServerError, "reset_preparation_failed", perr.Error())
	case !busy(c, err):
		s.logger().Error("reset failed", "run", runID, "error", err)
		abort(c, http.StatusInternalServerError, "reset_failed", err.Error())
	}
}

func (s *Server) confirmed(c *gin.Context, submitted string) bool {
	home, err := s.Resetter.SiteURL()
	if err != nil {
		s.logger().Error("site url lookup failed", "error", err)
		abort(c, http.StatusInternalServerError, "reset_preparation_failed", MsgPrepareFailed)
		return false
	}
	if !reset.ConfirmURL(home, submitted) {
		abort(c, http.StatusBadRequest, "invalid_confirmation", reset.MsgConfirmation)
		return false
	}
	return true
}

func (s *Server) handlePrepare(c *gin.Context) {
	var req ResetRequest
	if bindMissing(c, "confirmation_url", c.ShouldBindJSON(&req)) {
		return
	}
	if !s.confirmed(c, req.ConfirmationURL) {
		return
	}

	runID, prep, err := s.Resetter.Prepare(s.resetContext(c), orchestrator.OriginAPI)
	if err != nil {
		if !busy(c, err) {
			s.logger().Error("prepare failed", "error", err)
			abort(c, http.StatusInternalServerError, "reset_preparation_failed", MsgPrepareFailed)
		}
		return
	}
	if !prep.Success {
		msg := strings.Join(prep.Errors, " ")
		if msg == "" {
			msg = MsgPrepareFailed
		}
		abort(c, http.StatusInternalServerError, "reset_preparation_failed", msg)
		return
	}

	payload, err := json.Marshal(prep.Handoff())
	if err != nil {
		abort(c, http.StatusInternalServerError, "reset_preparation_failed", MsgPrepareFailed)
		return
	}
	h, err := s.Store.PutHandoff(runID, payload, s.HandoffTTL)
	if err != nil {
		s.logger().Error("handoff not stored", "run", runID, "error", err)
		abort(c, http.StatusInternalServerError, "reset_preparation_failed", MsgPrepareFailed)
		return
	}
	c.Header("Location", strings.TrimSuffix(c.Request.URL.Path, "/prepare")+"/execute")
	c.JSON(http.StatusAccepted, PrepareResponse{
		RunID:     runID,
		Token:     h.Token,
		ExpiresAt: h.ExpiresAt.UTC(),
		Steps:     prep.Steps,
	})
}

func (s *Server) handleExecute(c *gin.Context) {
	var req ExecuteRequest
	if bindMissing(c, "token", c.ShouldBindJSON(&req)) {
		return
	}

	// A busy site leaves the handoff in place for a retry.
	if err := s.Resetter.Ready(); err != nil {
		if !busy(c, err) {
			abort(c, http.StatusInternalServerError, "reset_failed", err.Error())
		}
		return
	}
	stored, err := s.Store.TakeHandoff(req.Token)
	if err != nil {
		if !errors.Is(err, statedb.ErrNotFound) {
			s.logger().Error("handoff lookup failed", "error", err)
		}
		abort(c, http.StatusBadRequest, "reset_session_expired", MsgSessionExpired)
		return
	}
	var h reset.Handoff
	if err := json.Unmarshal(stored.Payload, &h); err != nil || h.Steps == nil || h.Data.IsZero() {
		abort(c, http.StatusBadRequest, "reset_session_expired", MsgSessionExpired)
		return
	}

	rep, err := s.Resetter.Execute(s.resetContext(c), orchestrator.OriginAPI, stored.RunID, h)
	if err != nil {
		if !busy(c, err) {
			s.logger().Error("execute failed", "run", stored.RunID, "error", err)
			abort(c, http.StatusInternalServerError, "reset_failed", err.Error())
		}
		return
	}
	s.reportStatus(c, stored.RunID, rep)
}

func (s *Server) handleRun(c *gin.Context) {
	run, err := s.Store.GetRun(c.Param("id"))
	if errors.Is(err, statedb.ErrNotFound) {
		abort(c, http.StatusNotFound, "run_not_found", MsgRunNotFound)
		return
	}
	if err != nil {
		abort(c, http.StatusInternalServerError, "run_lookup_failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.Health == nil {
		abort(c, http.StatusNotFound, "health_unavailable", "Health checks are not configured.")
		return
	}
	report := s.Health()
	status := http.StatusOK
	if !report.Ready() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}
