package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/wfunc/bridgeplate/internal/errors"
	"github.com/wfunc/bridgeplate/internal/hardware"
	ws "github.com/wfunc/bridgeplate/internal/websocket"
	"go.uber.org/zap"
)

// WebSocketHandler WebSocket处理器
type WebSocketHandler struct {
	bridge   *hardware.Bridge
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(bridge *hardware.Bridge, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		bridge: bridge,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

// StreamDump 块模式调用，输出逐段推送到WebSocket
func (h *WebSocketHandler) StreamDump(c *gin.Context) {
	ns, err := hardware.ParseNamespace(c.Param("ns"))
	if err != nil {
		respondError(c, err)
		return
	}
	method := c.Param("method")
	if !ns.HasDump(method) {
		respondError(c, errors.Newf(errors.ErrUnknownMethod, "%s.%s 不是块模式方法", ns, method))
		return
	}
	command, err := hardware.Encode(ns, method)
	if err != nil {
		respondError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket升级失败", zap.Error(err))
		return
	}

	stream := ws.NewStream(conn, command, h.logger)
	h.logger.Info("WebSocket连接建立",
		zap.String("stream_id", stream.ID),
		zap.String("command", command),
		zap.String("ip", c.ClientIP()))

	// 客户端中途断开时继续读完设备输出，保证总线同步
	_, complete, err := h.bridge.Dump(ns, method, stream)
	if err := stream.Finish(complete, err); err != nil {
		h.logger.Debug("WebSocket结束消息发送失败",
			zap.String("stream_id", stream.ID),
			zap.Error(err))
	}
}
