package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/bridgeplate/internal/hardware"
	"github.com/wfunc/bridgeplate/internal/middleware"
	"github.com/wfunc/bridgeplate/internal/utils"
	ws "github.com/wfunc/bridgeplate/internal/websocket"
)

type testEnv struct {
	router *Router
	port   *hardware.MockPort
}

func newTestEnv(t *testing.T, auth *middleware.AuthMiddleware) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	port := hardware.NewMockPort(map[hardware.Namespace][]int{
		hardware.NamespaceRelay: {0, 3},
		hardware.NamespaceDAQC:  {1},
	})
	transport := hardware.NewTransport(port, hardware.TransportConfig{
		Device:           hardware.MockDeviceName,
		ReadTimeout:      50 * time.Millisecond,
		BlockIdleTimeout: 50 * time.Millisecond,
		PollInterval:     time.Millisecond,
	})
	bridge := hardware.NewBridge(transport)
	t.Cleanup(func() { bridge.Close() })

	locator := hardware.NewPortLocator(func() ([]hardware.PortInfo, error) {
		return []hardware.PortInfo{
			{Name: "/dev/ttyACM0", IsUSB: true, VID: "2E8A", PID: "10E3"},
		}, nil
	})

	return &testEnv{
		router: NewRouter(Options{Bridge: bridge, Locator: locator, Auth: auth}),
		port:   port,
	}
}

func (e *testEnv) do(method, path string, body []byte, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	e.router.GetEngine().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) float64 {
	t.Helper()
	resp := decodeBody(t, w)
	errObj, ok := resp["error"].(map[string]interface{})
	require.True(t, ok, w.Body.String())
	assert.Nil(t, errObj["stack"])
	return errObj["code"].(float64)
}

func TestHealthAndDevice(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, hardware.MockDeviceName, resp["port"])
	assert.Equal(t, false, resp["auth"])

	w = env.do(http.MethodGet, "/api/v1/device", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	resp = decodeBody(t, w)
	assert.Equal(t, "Pi-Plate BRIDGEplates", resp["getID"])
	assert.Equal(t, 1.0, resp["getFWrev"])
	assert.Contains(t, env.port.Commands(), "BRIDGE.getID()")
}

func TestListPorts(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/api/v1/ports", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.EqualValues(t, 1, resp["count"])
	port := resp["data"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "/dev/ttyACM0", port["name"])
	assert.Equal(t, "2E8A", port["vid"])
}

func TestScan(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/api/v1/scan", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var matrix struct {
		Rows []struct {
			Namespace string `json:"namespace"`
			Slots     []*int `json:"slots"`
		} `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &matrix))
	require.Len(t, matrix.Rows, len(hardware.ScanOrder))

	for _, row := range matrix.Rows {
		require.Len(t, row.Slots, hardware.MaxAddress+1)
		if row.Namespace != string(hardware.NamespaceRelay) {
			continue
		}
		require.NotNil(t, row.Slots[0])
		require.NotNil(t, row.Slots[3])
		assert.Equal(t, 3, *row.Slots[3])
		assert.Nil(t, row.Slots[1])
	}

	w = env.do(http.MethodGet, "/api/v1/scan?format=text", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "RELAYplates:   0--3----\n")
	assert.Contains(t, w.Body.String(), "DAQCplates:    -1------\n")
}

func TestBoards(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/api/v1/boards", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.EqualValues(t, len(hardware.Namespaces()), resp["count"])

	w = env.do(http.MethodGet, "/api/v1/boards/relay2", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	resp = decodeBody(t, w)
	assert.Equal(t, "RELAY2", resp["namespace"])
	assert.Equal(t, "RELAYplate2s", resp["label"])
	assert.Equal(t, true, resp["addressable"])

	w = env.do(http.MethodGet, "/api/v1/boards/FOO", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.EqualValues(t, 3100, errorCode(t, w))
}

func TestCall(t *testing.T) {
	env := newTestEnv(t, nil)
	env.port.SetReply("DAQC.getADC(1, 0)", "2.048")
	env.port.SetReply("DAQC.getADCall(1)", "1.5, 0, 3.25")

	w := env.do(http.MethodPost, "/api/v1/boards/DAQC/call/getADC", []byte(`{"args":[1,0]}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody(t, w)
	assert.Equal(t, "DAQC.getADC(1, 0)", resp["command"])
	assert.Equal(t, 2.048, resp["value"])
	assert.Equal(t, false, resp["empty"])

	w = env.do(http.MethodPost, "/api/v1/boards/daqc/call/getADCall", []byte(`{"args":[1]}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp = decodeBody(t, w)
	assert.Equal(t, []interface{}{1.5, 0.0, 3.25}, resp["value"])

	// 无请求体、无应答
	w = env.do(http.MethodPost, "/api/v1/boards/RELAY/call/relayALL", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp = decodeBody(t, w)
	assert.Equal(t, "RELAY.relayALL()", resp["command"])
	assert.Equal(t, true, resp["empty"])
}

func TestCallRejected(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		path string
		body string
		code float64
	}{
		{"未知命名空间", "/api/v1/boards/FOO/call/getID", `{}`, 3100},
		{"未知方法", "/api/v1/boards/RELAY/call/launch", `{}`, 3101},
		{"块模式方法", "/api/v1/boards/ADC/call/help", `{}`, 3101},
		{"参数含换行", "/api/v1/boards/RELAY/call/relayON", `{"args":["0\n"]}`, 3102},
		{"嵌套参数", "/api/v1/boards/RELAY/call/relayON", `{"args":[[0]]}`, 3102},
		{"非法JSON", "/api/v1/boards/RELAY/call/relayON", `{"args":`, 3102},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(env.port.Commands())
			w := env.do(http.MethodPost, tt.path, []byte(tt.body))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.EqualValues(t, tt.code, errorCode(t, w))
			assert.Len(t, env.port.Commands(), before, "rejected calls must not reach the bus")
		})
	}
}

func TestDumpHTTP(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/api/v1/boards/BRIDGE/dump/help", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "BRIDGE commands:\r\n"))
	assert.True(t, strings.HasSuffix(w.Body.String(), "\r\n\n\n"))
	assert.NotContains(t, w.Body.String(), hardware.BlockSentinel)

	result := w.Result()
	assert.Equal(t, "true", result.Trailer.Get(trailerComplete))
	assert.Empty(t, result.Trailer.Get(trailerError))

	w = env.do(http.MethodGet, "/api/v1/boards/RELAY/dump/relayON", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.EqualValues(t, 3101, errorCode(t, w))
}

func TestDumpHTTPIdle(t *testing.T) {
	env := newTestEnv(t, nil)
	env.port.SetDump("ADC.srTable()", "rate table\r\n", false)

	w := env.do(http.MethodGet, "/api/v1/boards/ADC/dump/srTable", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "rate table\r\n", w.Body.String())
	assert.Equal(t, "false", w.Result().Trailer.Get(trailerComplete))
}

func TestDumpWebSocket(t *testing.T) {
	env := newTestEnv(t, nil)
	server := httptest.NewServer(env.router.GetEngine())
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/boards/DAQC/dump/help"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var output strings.Builder
	for {
		var msg ws.Message
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, "DAQC.help()", msg.Command)
		if msg.Type == ws.MessageEnd {
			require.NotNil(t, msg.Complete)
			assert.True(t, *msg.Complete)
			assert.Empty(t, msg.Error)
			break
		}
		assert.Equal(t, ws.MessageOutput, msg.Type)
		output.WriteString(msg.Data)
	}
	assert.True(t, strings.HasPrefix(output.String(), "DAQC commands:\r\n"))
	assert.True(t, strings.HasSuffix(output.String(), "\r\n\n\n"))
}

func TestAuthEnabled(t *testing.T) {
	jwt := utils.NewJWTManager("secret", time.Hour)
	env := newTestEnv(t, middleware.NewAuthMiddleware(jwt))

	viewer, err := jwt.GenerateToken("dashboard", utils.RoleViewer)
	require.NoError(t, err)
	operator, err := jwt.GenerateToken("bench", utils.RoleOperator)
	require.NoError(t, err)

	// 健康检查不需要令牌
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/health", nil).Code)

	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/api/v1/boards", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/v1/boards", nil, "Authorization", "Bearer "+viewer).Code)

	path := "/api/v1/boards/RELAY/call/relayON"
	body := []byte(`{"args":[0, 1]}`)
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodPost, path, body, "Authorization", "Bearer "+viewer).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodPost, path, body, "Authorization", "Bearer "+operator).Code)
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(http.MethodGet, "/api/v2/nothing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decodeBody(t, w)["code"])
}
