package statusserver

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aiperf-core/genaiperf/internal/bus"
	"github.com/aiperf-core/genaiperf/internal/clock"
	"github.com/aiperf-core/genaiperf/internal/controller"
	"github.com/aiperf-core/genaiperf/internal/logging"
	"github.com/aiperf-core/genaiperf/internal/service"
	"github.com/aiperf-core/genaiperf/internal/telemetry"
)

// knownPhases is the full phase vocabulary the run_phase gauge tracks, so
// every scrape shows a complete label set rather than only phases visited
// so far.
var knownPhases = []string{
	string(controller.PhaseInit), string(controller.PhaseReady), string(controller.PhaseWarmup),
	string(controller.PhaseProfiling), string(controller.PhaseCooldown), string(controller.PhaseFinalizing),
	string(controller.PhaseDone), string(controller.PhaseAborted),
}

// StatusSnapshot is the JSON body /status returns; /status/stream sends
// only its phase and updated_at fields.
type StatusSnapshot struct {
	Phase      string             `json:"phase"`
	Heartbeats map[string]float64 `json:"heartbeat_age_seconds"`
	UpdatedAt  string             `json:"updated_at"`
}

// Server is a read-only observability surface over one benchmark run. It
// implements service.Service so it can be registered on the same Runner
// that drives the rest of the pipeline.
type Server struct {
	addr string
	clk  clock.Clock
	log  *logging.Logger

	phaseSub  <-chan bus.Message
	statusSub <-chan bus.Message
	events    *bus.Topic

	httpServer *http.Server

	mu         sync.Mutex
	phase      string
	lastBeatAt map[string]time.Time
}

// New constructs a Server bound to addr (e.g. ":9090"). phaseSub and
// statusSub are the controller's phaseTopic and the runner's status topic
// subscriptions, respectively.
func New(addr string, clk clock.Clock, log *logging.Logger, phaseSub <-chan bus.Message, statusSub <-chan bus.Message) *Server {
	s := &Server{
		addr:       addr,
		clk:        clk,
		log:        log.Service("statusserver"),
		phaseSub:   phaseSub,
		statusSub:  statusSub,
		events:     bus.NewTopic(),
		phase:      string(controller.PhaseInit),
		lastBeatAt: make(map[string]time.Time),
	}
	telemetry.SetHeartbeatSource(s)
	return s
}

func (s *Server) Init(ctx context.Context) error { return nil }

// Start runs the HTTP server and the status-consuming loop until ctx is
// cancelled, at which point it shuts the server down gracefully.
func (s *Server) Start(ctx context.Context) error {
	engine := gin.New()
	engine.Use(gin.Recovery())
	s.routes(engine)

	s.httpServer = &http.Server{Addr: s.addr, Handler: engine}

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.httpServer.ListenAndServe() }()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.httpServer.Shutdown(shutdownCtx)
			return ctx.Err()
		case err := <-serveErr:
			if err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("statusserver: listen: %w", err)
			}
			return nil
		case msg, ok := <-s.phaseSub:
			if !ok {
				s.phaseSub = nil
				continue
			}
			s.handlePhaseMessage(msg)
		case msg, ok := <-s.statusSub:
			if !ok {
				s.statusSub = nil
				continue
			}
			s.handleStatusMessage(msg)
		}
	}
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Cleanup() error { return nil }

func (s *Server) handlePhaseMessage(msg bus.Message) {
	p, ok := msg.Payload.(controller.RunPhase)
	if !ok {
		return
	}
	s.mu.Lock()
	s.phase = string(p)
	s.mu.Unlock()
	telemetry.SetActivePhase(knownPhases, string(p))
	s.events.Publish(bus.Message{Kind: bus.KindPhaseChange, Payload: s.snapshot()})
}

func (s *Server) handleStatusMessage(msg bus.Message) {
	switch msg.Kind {
	case bus.KindHeartbeat:
		hb, ok := msg.Payload.(service.HeartbeatPayload)
		if !ok {
			return
		}
		s.mu.Lock()
		s.lastBeatAt[hb.Service] = s.clk.Now()
		s.mu.Unlock()
	case bus.KindServiceStatus:
		st, ok := msg.Payload.(service.StatusPayload)
		if !ok {
			return
		}
		s.log.Debugf("service %s status -> %s", st.Service, st.State)
	}
}

func (s *Server) snapshot() StatusSnapshot {
	now := s.clk.Now()
	ages := s.HeartbeatAges()
	return StatusSnapshot{Phase: s.phase, Heartbeats: ages, UpdatedAt: now.Format(time.RFC3339)}
}

// HeartbeatAges reports every known service's age, in seconds, since its
// last observed heartbeat, computed fresh from s.clk.Now() rather than
// cached — it backs both the /status JSON body and, via telemetry's
// heartbeat collector, the genaiperf_service_heartbeat_age_seconds gauge
// on every /metrics scrape.
func (s *Server) HeartbeatAges() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clk.Now()
	ages := make(map[string]float64, len(s.lastBeatAt))
	for name, at := range s.lastBeatAt {
		ages[name] = now.Sub(at).Seconds()
	}
	return ages
}

func (s *Server) routes(engine *gin.Engine) {
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	engine.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.snapshot())
	})

	engine.GET("/status/stream", s.streamStatus)

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// streamStatus pushes the current snapshot immediately, then every phase
// transition as it happens, plus a keep-alive ping every 30 seconds —
// mirroring the teacher's StreamSystemStatus loop.
func (s *Server) streamStatus(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	sub := s.events.Subscribe(16)

	writeSnapshot := func(snap StatusSnapshot) bool {
		c.Writer.WriteString(fmt.Sprintf("data: {\"phase\":%q,\"updated_at\":%q}\n\n", snap.Phase, snap.UpdatedAt))
		c.Writer.Flush()
		return true
	}
	writeSnapshot(s.snapshot())

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
			c.Writer.WriteString("data: {\"type\":\"ping\"}\n\n")
			c.Writer.Flush()
		case msg, ok := <-sub:
			if !ok {
				return
			}
			snap, ok := msg.Payload.(StatusSnapshot)
			if !ok {
				continue
			}
			writeSnapshot(snap)
		}
	}
}
