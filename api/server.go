// Package api exposes the gateway over HTTP: the text message log, the node
// directory and file transfers. Handlers are thin wrappers around the file
// and messaging managers.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opd-ai/meshgate/archive"
	"github.com/opd-ai/meshgate/file"
	"github.com/opd-ai/meshgate/messaging"
	"github.com/opd-ai/meshgate/transport"
	"github.com/sirupsen/logrus"
)

// Deps are the components the API serves. Archive may be nil.
type Deps struct {
	Files    *file.Manager
	Messages *messaging.Manager
	Link     transport.Transport
	Archive  *archive.Archive
}

// Server is the gateway HTTP API.
type Server struct {
	deps   Deps
	engine *gin.Engine
	http   *http.Server
}

// New builds the router. It does not start listening.
func New(deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery(), requestID(), requestLogger())
	engine.MaxMultipartMemory = 1 << 20

	s := &Server{
		deps:   deps,
		engine: engine,
		http: &http.Server{
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.engine.Group("/api")

	api.GET("/messages", s.getMessages)
	api.POST("/messages", s.postMessage)
	api.GET("/nodes", s.getNodes)
	api.GET("/local-node", s.getLocalNode)

	transfer := api.Group("/transfer")
	transfer.POST("/send", s.sendFile)
	transfer.GET("/progress/:id", s.getProgress)
	transfer.GET("/received", s.listReceived)
	transfer.GET("/download/:id", s.download)
	transfer.GET("/stats", s.getStats)
	transfer.DELETE("/:id", s.cancelTransfer)

	api.GET("/archive", s.listArchive)
	api.GET("/archive/:id", s.downloadArchived)
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until Shutdown is called. Calling Shutdown
// first makes ListenAndServe return immediately.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "ListenAndServe",
		"addr":     ln.Addr().String(),
	}).Info("Starting web server")

	err = s.http.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func abortWithError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
