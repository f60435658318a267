package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"execution-core/internal/events"
	"execution-core/internal/monitor"
	"execution-core/internal/safety"
	"execution-core/pkg/exchanges/common"
)

// TrackerSource lists tracker entries.
type TrackerSource interface {
	Entries() []safety.TrackerEntry
}

// PositionSource lists cached exchange positions.
type PositionSource interface {
	Positions() []common.Position
	UpdatedAt() time.Time
}

// CooldownSource lists active cooldown deadlines.
type CooldownSource interface {
	Snapshot() map[string]time.Time
}

// Server exposes read-only engine state over HTTP.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	Trackers  TrackerSource
	Positions PositionSource
	Cooldowns CooldownSource
	Metrics   *monitor.Metrics
	Secret    string
	Meta      SystemMeta

	log     *zap.Logger
	started time.Time
}

// SystemMeta describes the running process.
type SystemMeta struct {
	Testnet  bool     `json:"testnet"`
	Symbols  []string `json:"symbols"`
	ExecTF   string   `json:"exec_timeframe"`
	Decision string   `json:"decision_backend"`
	Version  string   `json:"version"`
}

// Deps are the state sources the server reads.
type Deps struct {
	Bus       *events.Bus
	Trackers  TrackerSource
	Positions PositionSource
	Cooldowns CooldownSource
	Metrics   *monitor.Metrics
	Log       *zap.Logger
}

// NewServer builds the router. A non-empty secret requires a bearer token on
// the state routes.
func NewServer(d Deps, meta SystemMeta, secret string) *Server {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log))
	r.Use(newIPLimiter(20, 50).Middleware(log))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Bus:       d.Bus,
		Trackers:  d.Trackers,
		Positions: d.Positions,
		Cooldowns: d.Cooldowns,
		Metrics:   d.Metrics,
		Secret:    secret,
		Meta:      meta,
		log:       log,
		started:   time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/healthz", s.health)
	if s.Metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	state := s.Router.Group("")
	state.Use(AuthMiddleware(s.Secret))
	{
		state.GET("/status", s.getStatus)
		state.GET("/trackers", s.getTrackers)
		state.GET("/trackers/:base/:quote", s.getTracker)
		state.GET("/positions", s.getPositions)
		state.GET("/cooldowns", s.getCooldowns)
		state.GET("/ws", s.websocket)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "uptime": time.Since(s.started).Round(time.Second).String()})
}

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("status api listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return ctx.Err()
	}
}
