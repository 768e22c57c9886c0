package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/pickabook/pickabook-agent/internal/history"
	"github.com/pickabook/pickabook-agent/internal/preview"
	"github.com/pickabook/pickabook-agent/internal/upload"
	"github.com/pickabook/pickabook-agent/internal/viewer"
	"github.com/pickabook/pickabook-agent/internal/workflow"
)

// Workflow is the part of the workflow controller the API drives.
type Workflow interface {
	Snapshot() workflow.State
	Submit(img *upload.Image) error
	Regenerate() error
	Reset()
}

type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]*history.Run, error)
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port        int
	Version     string
	InstallID   string
	StartTime   time.Time
	Workflow    Workflow
	Widget      *upload.Widget
	Previews    *preview.Store
	Toaster     *workflow.Toaster
	History     RunLister
	Fetcher     viewer.Fetcher
	UploadRate  float64
	UploadBurst int
	Logger      *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

// Start listens on the configured loopback address and serves until
// Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ln)
}

func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting HTTP server", "addr", ln.Addr().String())
	err := s.httpServer.Serve(ln)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
