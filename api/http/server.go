// Package http exposes the runtime over HTTP: execution start and query
// endpoints, workflow activation, webhook ingestion, and WebSocket event
// streaming. The handlers translate between the transport and the runtime
// services; all behavior lives behind them.
package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flowmesh/flowmesh/features/stream/ws"
	"github.com/flowmesh/flowmesh/runtime/events"
	"github.com/flowmesh/flowmesh/runtime/executions"
	"github.com/flowmesh/flowmesh/runtime/flowerrors"
	"github.com/flowmesh/flowmesh/runtime/telemetry"
	"github.com/flowmesh/flowmesh/runtime/trigger"
	"github.com/flowmesh/flowmesh/runtime/workflow"
)

// Server wires the runtime services into a gin router.
type Server struct {
	executions *executions.Service
	dispatcher *trigger.Dispatcher
	workflows  workflow.Store
	bridge     *ws.Bridge
	logger     telemetry.Logger
}

// NewServer constructs the HTTP server facade.
func NewServer(execs *executions.Service, dispatcher *trigger.Dispatcher, workflows workflow.Store, bridge *ws.Bridge, logger telemetry.Logger) *Server {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Server{
		executions: execs,
		dispatcher: dispatcher,
		workflows:  workflows,
		bridge:     bridge,
		logger:     logger,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	{
		api.POST("/executions", s.startExecution)
		api.GET("/executions/:id", s.getExecution)
		api.GET("/executions/:id/progress", s.getProgress)
		api.PUT("/workflows/:id", s.saveWorkflow)
		api.POST("/workflows/:id/activate", s.activateWorkflow)
		api.POST("/workflows/:id/deactivate", s.deactivateWorkflow)
	}
	// Execution endpoints are also served unprefixed, alongside the webhook
	// route, for clients that predate the /api grouping.
	r.POST("/executions", s.startExecution)
	r.GET("/executions/:id", s.getExecution)
	r.GET("/executions/:id/progress", s.getProgress)
	r.Any("/webhook/:webhookId", s.handleWebhook)
	r.GET("/ws/workflow/:id", s.streamWorkflow)
	r.GET("/ws/execution/:id", s.streamExecution)
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	return r
}

func (s *Server) startExecution(c *gin.Context) {
	var req executions.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, flowerrors.Wrap(flowerrors.KindValidation, err, "invalid request body"))
		return
	}
	resp, err := s.executions.StartManual(c.Request.Context(), &req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getExecution(c *gin.Context) {
	details, err := s.executions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

func (s *Server) getProgress(c *gin.Context) {
	summary, err := s.executions.Progress(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) saveWorkflow(c *gin.Context) {
	var wf workflow.Workflow
	if err := c.ShouldBindJSON(&wf); err != nil {
		s.fail(c, flowerrors.Wrap(flowerrors.KindValidation, err, "invalid workflow body"))
		return
	}
	wf.ID = c.Param("id")
	if err := wf.Validate(); err != nil {
		s.fail(c, flowerrors.Wrap(flowerrors.KindValidation, err, "invalid workflow"))
		return
	}
	if err := s.workflows.SaveWorkflow(c.Request.Context(), &wf); err != nil {
		s.fail(c, flowerrors.Wrap(flowerrors.KindInternal, err, "save workflow"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": wf.ID})
}

func (s *Server) activateWorkflow(c *gin.Context) {
	id := c.Param("id")
	wf, err := s.workflows.LoadWorkflow(c.Request.Context(), id)
	if err != nil {
		s.fail(c, flowerrors.Wrap(flowerrors.KindNotFound, err, "workflow %s not found", id))
		return
	}
	if err := s.dispatcher.Activate(c.Request.Context(), wf); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "active": true})
}

func (s *Server) deactivateWorkflow(c *gin.Context) {
	id := c.Param("id")
	s.dispatcher.Deactivate(c.Request.Context(), id)
	c.JSON(http.StatusOK, gin.H{"id": id, "active": false})
}

// handleWebhook accepts any method; method enforcement happens in the
// dispatcher against the registered trigger configuration. ?test=true marks
// editor test-mode requests, with ?visualize=true kept as an alias older
// editor builds send.
func (s *Server) handleWebhook(c *gin.Context) {
	var body any
	if c.Request.Body != nil {
		raw, err := io.ReadAll(c.Request.Body)
		if err == nil && len(raw) > 0 {
			if json.Unmarshal(raw, &body) != nil {
				body = string(raw)
			}
		}
	}
	req := &trigger.WebhookRequest{
		Method:  c.Request.Method,
		Headers: c.Request.Header,
		Query:   c.Request.URL.Query(),
		Body:    body,
		Test:    c.Query("test") == "true" || c.Query("visualize") == "true",
	}
	resp, err := s.dispatcher.HandleWebhook(c.Request.Context(), c.Param("webhookId"), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(resp.StatusCode, resp.Body)
}

func (s *Server) streamWorkflow(c *gin.Context) {
	s.bridge.Serve(c.Writer, c.Request, events.WorkflowTopic(c.Param("id")))
}

func (s *Server) streamExecution(c *gin.Context) {
	s.bridge.Serve(c.Writer, c.Request, events.ExecutionTopic(c.Param("id")))
}

// fail maps a classified error to its HTTP status. Internal failures are
// logged with detail but responded to generically.
func (s *Server) fail(c *gin.Context, err error) {
	kind := flowerrors.KindOf(err)
	status := flowerrors.HTTPStatus(kind)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error(c.Request.Context(), err, "request failed",
			"method", c.Request.Method, "path", c.Request.URL.Path)
		message = "internal error"
	}
	var fe *flowerrors.Error
	if errors.As(err, &fe) && status != http.StatusInternalServerError {
		message = fe.Message
	}
	c.JSON(status, gin.H{"error": message, "kind": string(kind)})
}
