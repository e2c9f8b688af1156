package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/taskmaster/internal/control"
	"github.com/loykin/taskmaster/internal/manager"
	"github.com/loykin/taskmaster/internal/process"
)

// Backend is the part of the supervisor the HTTP API needs. Reads use the
// published snapshot; commands go through the same handler as the control
// socket so that only the loop goroutine mutates state.
type Backend interface {
	control.Handler
	Snapshot() *manager.Snapshot
}

// Router provides embeddable HTTP handlers for the supervisor.
// Endpoints:
//
//	GET  {basePath}/status                  query: name=... (optional filter)
//	GET  {basePath}/status/text             same table as the control socket
//	POST {basePath}/programs/:name/start
//	POST {basePath}/programs/:name/stop
//	POST {basePath}/programs/:name/restart
//	POST {basePath}/reload
//	GET  {basePath}/metrics                 when a metrics handler is set
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	backend  Backend
	basePath string
	metrics  http.Handler
	timeout  time.Duration
}

// NewRouter constructs a new Router with configurable basePath. metrics may be nil.
func NewRouter(backend Backend, basePath string, metrics http.Handler) *Router {
	return &Router{
		backend:  backend,
		basePath: sanitizeBase(basePath),
		metrics:  metrics,
		timeout:  10 * time.Second,
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/status/text", r.handleStatusText)
	group.POST("/programs/:name/:action", r.handleCommand)
	group.POST("/reload", r.handleReload)
	if r.metrics != nil {
		group.GET("/metrics", gin.WrapH(r.metrics))
	}
	return g
}

// NewServer builds a standalone HTTP server on addr using this router.
// The caller runs ListenAndServe and Shutdown.
func NewServer(addr, basePath string, backend Backend, metrics http.Handler) *http.Server {
	r := NewRouter(backend, basePath, metrics)
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type commandResp struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type statusResp struct {
	Version   uint64           `json:"version"`
	Generated time.Time        `json:"generated"`
	Instances []process.Status `json:"instances"`
}

var actions = map[string]control.Command{
	"start":   control.CmdStart,
	"stop":    control.CmdStop,
	"restart": control.CmdRestart,
}

func (r *Router) handleStatus(c *gin.Context) {
	snap := r.backend.Snapshot()
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusOK, statusResp{Version: snap.Version, Generated: snap.Generated, Instances: snap.Instances})
		return
	}
	list := filterByName(snap.Instances, name)
	if len(list) == 0 {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no such program: " + name})
		return
	}
	writeJSON(c, http.StatusOK, statusResp{Version: snap.Version, Generated: snap.Generated, Instances: list})
}

func (r *Router) handleStatusText(c *gin.Context) {
	c.String(http.StatusOK, manager.FormatStatus(r.backend.Snapshot().Instances))
}

func (r *Router) handleCommand(c *gin.Context) {
	name := c.Param("name")
	cmd, ok := actions[c.Param("action")]
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown action: " + c.Param("action")})
		return
	}
	if !validName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid program name"})
		return
	}
	if len(filterByName(r.backend.Snapshot().Instances, name)) == 0 {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no such program: " + name})
		return
	}
	r.dispatch(c, control.Request{Command: cmd, Name: name})
}

func (r *Router) handleReload(c *gin.Context) {
	r.dispatch(c, control.Request{Command: control.CmdReload})
}

func (r *Router) dispatch(c *gin.Context, req control.Request) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), r.timeout)
	defer cancel()
	resp := r.backend.Handle(ctx, req)
	if !resp.Success {
		writeJSON(c, http.StatusConflict, errorResp{Error: resp.Message})
		return
	}
	writeJSON(c, http.StatusOK, commandResp{Success: true, Message: resp.Message})
}

func filterByName(list []process.Status, name string) []process.Status {
	var out []process.Status
	for _, st := range list {
		if st.Name == name {
			out = append(out, st)
		}
	}
	return out
}
