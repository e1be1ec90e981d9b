package statusserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/aiperf-core/genaiperf/internal/bus"
	"github.com/aiperf-core/genaiperf/internal/clock"
	"github.com/aiperf-core/genaiperf/internal/controller"
	"github.com/aiperf-core/genaiperf/internal/logging"
	"github.com/aiperf-core/genaiperf/internal/service"
)

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: "error"})
}

func newTestServer() (*Server, *gin.Engine) {
	phaseTopic := bus.NewTopic()
	statusTopic := bus.NewTopic()
	srv := New(":0", clock.Real{}, testLogger(), phaseTopic.Subscribe(8), statusTopic.Subscribe(8))

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	srv.routes(engine)
	return srv, engine
}

func TestHealthzReturnsOK(t *testing.T) {
	_, engine := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestStatusReflectsPhaseAndHeartbeats(t *testing.T) {
	srv, engine := newTestServer()

	srv.handlePhaseMessage(bus.Message{Kind: bus.KindPhaseChange, Payload: controller.PhaseProfiling})
	srv.handleStatusMessage(bus.Message{Kind: bus.KindHeartbeat, Payload: service.HeartbeatPayload{Service: "worker", AtNs: 1}})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), string(controller.PhaseProfiling))
	require.Contains(t, rec.Body.String(), "worker")
}

func TestMetricsEndpointExposesPrometheusFormat(t *testing.T) {
	_, engine := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "genaiperf_")
}

func TestHandleStatusMessageIgnoresWrongPayloadType(t *testing.T) {
	srv, _ := newTestServer()
	before := srv.snapshot()
	srv.handleStatusMessage(bus.Message{Kind: bus.KindHeartbeat, Payload: "not a heartbeat"})
	after := srv.snapshot()
	require.Equal(t, before.Heartbeats, after.Heartbeats)
}
