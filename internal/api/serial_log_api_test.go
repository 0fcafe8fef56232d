package api

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/bridgeplate/internal/hardware"
	"github.com/wfunc/bridgeplate/internal/repository"
	"github.com/wfunc/bridgeplate/internal/service"
)

func newLogEnv(t *testing.T) (*testEnv, *service.SerialLogService) {
	t.Helper()
	env := newTestEnv(t, nil)

	db := repository.SetupTestDB()
	logs := service.NewSerialLogService(db)
	t.Cleanup(func() {
		logs.Close()
		repository.CleanupTestDB(db)
	})

	env.router.opts.Bridge.SetRecorder(logs)
	env.router = NewRouter(Options{Bridge: env.router.opts.Bridge, Locator: env.router.opts.Locator, Logs: logs})
	return env, logs
}

func TestSerialLogRoutes(t *testing.T) {
	env, logs := newLogEnv(t)
	env.port.SetReply("DAQC.getADC(1, 0)", "2.048")

	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/v1/boards/DAQC/call/getADC", []byte(`{"args":[1,0]}`)).Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/v1/boards/BRIDGE/dump/help", nil).Code)
	logs.Flush()

	w := env.do(http.MethodGet, "/api/v1/serial-logs?namespace=DAQC", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody(t, w)
	assert.EqualValues(t, 1, resp["total"])
	entry := resp["data"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "DAQC.getADC(1, 0)", entry["command"])
	assert.Equal(t, "2.048", entry["reply"])

	w = env.do(http.MethodGet, "/api/v1/serial-logs/latest?mode=BLOCK", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decodeBody(t, w)["count"])

	w = env.do(http.MethodGet, "/api/v1/serial-logs/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decodeBody(t, w)
	assert.EqualValues(t, 2, stats["total_count"])

	w = env.do(http.MethodGet, "/api/v1/serial-logs/export?mode=LINE", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "serial_logs_export.json")
	assert.Contains(t, w.Body.String(), "DAQC.getADC(1, 0)")
}

func TestSerialLogRoutesRejectBadInput(t *testing.T) {
	env, _ := newLogEnv(t)

	w := env.do(http.MethodGet, "/api/v1/serial-logs?order_by=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodGet, "/api/v1/serial-logs/stats?start_time=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	form := url.Values{"retention_days": {"0"}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/serial-logs/cleanup", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.router.GetEngine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSerialLogCleanup(t *testing.T) {
	env, logs := newLogEnv(t)
	logs.RecordExchange(&hardware.Exchange{
		Mode:      hardware.ModeLine,
		Command:   "RELAY.getID(0)",
		StartedAt: time.Now().AddDate(0, 0, -40),
	})
	logs.Flush()

	form := url.Values{"retention_days": {"30"}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/serial-logs/cleanup", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.router.GetEngine().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, decodeBody(t, rec)["deleted"])
}
