package health

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"lifecycle_bot/internal/engine/enginetest"
	"lifecycle_bot/internal/engine/monitor"
	"lifecycle_bot/internal/modules/health/service"
	notify "lifecycle_bot/internal/modules/notify/service"
	"lifecycle_bot/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.InitNop()
	os.Exit(m.Run())
}

func newMux(t *testing.T) (*http.ServeMux, *service.State) {
	env := enginetest.New(t, nil)
	state := service.NewState()
	mon := monitor.New(env.Reg, env.Sim, &enginetest.Events{}, env.Cfg, env.Sink)
	return NewMux(Deps{
		State:    state,
		Monitor:  mon,
		Gate:     env.Gate,
		Registry: env.Reg,
		Queue:    notify.NewQueue(8),
	}), state
}

func serve(mux *http.ServeMux, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestReadyz(t *testing.T) {
	mux, state := newMux(t)

	assert.Equal(t, http.StatusServiceUnavailable, serve(mux, http.MethodGet, "/readyz").Code)

	state.SetReady(true)
	assert.Equal(t, http.StatusOK, serve(mux, http.MethodGet, "/readyz").Code)
	assert.Equal(t, http.StatusOK, serve(mux, http.MethodGet, "/livez").Code)
}

func TestHealthz_ExposesMonitorAndRisk(t *testing.T) {
	mux, _ := newMux(t)

	rec := serve(mux, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["ready"])

	mon, ok := body["monitor"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, mon["circuit_open"])

	rs, ok := body["risk"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 0, rs["openPositions"])
}

func TestBreakerReset_PostOnly(t *testing.T) {
	mux, _ := newMux(t)

	assert.Equal(t, http.StatusMethodNotAllowed, serve(mux, http.MethodGet, "/admin/breaker/reset").Code)
	assert.Equal(t, http.StatusOK, serve(mux, http.MethodPost, "/admin/breaker/reset").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	mux, _ := newMux(t)

	rec := serve(mux, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
