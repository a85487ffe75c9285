package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/langchou/pumpspy/internal/api/pumpspy"
	"github.com/langchou/pumpspy/internal/models"
	"github.com/langchou/pumpspy/internal/service"
	"github.com/langchou/pumpspy/internal/state"
	"github.com/langchou/pumpspy/pkg/ws"
)

type stubDevice struct{}

func (stubDevice) GetDeviceInfo() models.DeviceInfo {
	return models.DeviceInfo{DeviceID: "1234", DeviceName: "Basement", DeviceType: 1}
}

func (stubDevice) SessionState() *state.SessionState {
	return &state.SessionState{DeviceID: "1234", CurrentState: state.StateAuthenticated}
}

type stubPoller struct {
	latest     *models.Snapshot
	refreshErr error
}

func (p *stubPoller) Latest() (*models.Snapshot, bool) { return p.latest, p.latest != nil }

func (p *stubPoller) RefreshNow(context.Context) (*models.Snapshot, error) {
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	p.latest = models.NewSnapshot("1234")
	return p.latest, nil
}

func (p *stubPoller) Status() service.PollerStatus { return service.PollerStatus{Subscribers: 1} }

func setupRouter(t *testing.T, poller *stubPoller) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := NewHandler(zaptest.NewLogger(t), stubDevice{}, poller, ws.NewHub(zaptest.NewLogger(t)))
	h.now = func() time.Time { return time.Date(2026, time.October, 17, 12, 0, 0, 0, time.UTC) }
	r := gin.New()
	h.RegisterRoutes(r)
	return r
}

func do(t *testing.T, r *gin.Engine, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestHealthCheck(t *testing.T) {
	w, body := do(t, setupRouter(t, &stubPoller{}), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["ws_clients"])
}

func TestGetDevice(t *testing.T) {
	w, body := do(t, setupRouter(t, &stubPoller{}), http.MethodGet, "/api/device")
	assert.Equal(t, http.StatusOK, w.Code)

	data := body["data"].(map[string]any)
	assert.Equal(t, "1234", data["device"].(map[string]any)["device_id"])
	assert.Equal(t, state.StateAuthenticated, data["session"].(map[string]any)["state"])
}

func TestGetSnapshot(t *testing.T) {
	poller := &stubPoller{}
	r := setupRouter(t, poller)

	w, body := do(t, r, http.MethodGet, "/api/snapshot")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, body, "error")

	poller.latest = models.NewSnapshot("1234")
	poller.latest.Current = []pumpspy.StatusRecord{{DeviceID: "1234", LastRSSI: -60}}
	w, body = do(t, r, http.MethodGet, "/api/snapshot")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1234", body["data"].(map[string]any)["device_id"])
}

func TestListEntities(t *testing.T) {
	poller := &stubPoller{latest: models.NewSnapshot("1234")}
	poller.latest.Current = []pumpspy.StatusRecord{{DeviceID: "1234", LastRSSI: -60}}

	w, body := do(t, setupRouter(t, poller), http.MethodGet, "/api/entities")
	assert.Equal(t, http.StatusOK, w.Code)

	// 9 sensors and 5 binary sensors for a device without backup
	entities := body["data"].([]any)
	assert.Len(t, entities, 14)
}

func TestRefresh(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusOK},
		{"in progress", service.ErrRefreshInProgress, http.StatusConflict},
		{"not set up", service.ErrNotSetUp, http.StatusServiceUnavailable},
		{"upstream", errors.New("authentication failed"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := do(t, setupRouter(t, &stubPoller{refreshErr: tt.err}), http.MethodPost, "/api/refresh")
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
