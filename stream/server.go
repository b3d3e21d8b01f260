package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StatusFunc reports the live counter state for /api/status.
type StatusFunc func() any

type Server struct {
	latest *Latest
	hub    *Hub
	status StatusFunc
	log    *zap.Logger
}

func NewServer(latest *Latest, hub *Hub, status StatusFunc, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{latest: latest, hub: hub, status: status, log: log}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/api/status", func(c *gin.Context) {
		if s.status == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "status unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": s.status()})
	})
	r.GET("/snapshot.jpg", func(c *gin.Context) {
		frame := s.latest.Snapshot()
		if frame == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no frame yet"})
			return
		}
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, "image/jpeg", frame)
	})
	r.GET("/video_feed", gin.WrapH(s.latest.Stream()))
	r.GET("/ws/events", gin.WrapH(s.hub))
	return r
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Router(),
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.Int("port", port))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
