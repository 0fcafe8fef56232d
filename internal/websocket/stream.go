package websocket

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrStreamClosed 连接已关闭
var ErrStreamClosed = errors.New("WebSocket连接已关闭")

// WebSocket配置
const (
	// 写超时
	writeWait = 10 * time.Second

	// 读取pong超时
	pongWait = 60 * time.Second

	// ping发送周期（必须小于pongWait）
	pingPeriod = (pongWait * 9) / 10

	// 客户端只发送控制帧
	maxMessageSize = 4 * 1024
)

// 消息类型
const (
	MessageOutput = "output" // 块模式输出片段
	MessageEnd    = "end"    // 输出结束
)

// Message 推送给客户端的消息
type Message struct {
	Type     string `json:"type"`
	Command  string `json:"command,omitempty"`
	Data     string `json:"data,omitempty"`
	Complete *bool  `json:"complete,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Stream 将一次块模式输出推送到WebSocket连接，实现 io.Writer
type Stream struct {
	ID      string
	conn    *websocket.Conn
	command string
	logger  *zap.Logger

	mu     sync.Mutex
	closed chan struct{}
	once   sync.Once
}

// NewStream 创建推送流并启动读取与心跳协程
func NewStream(conn *websocket.Conn, command string, logger *zap.Logger) *Stream {
	s := &Stream{
		ID:      uuid.New().String(),
		conn:    conn,
		command: command,
		logger:  logger,
		closed:  make(chan struct{}),
	}
	go s.readPump()
	go s.pingPump()
	return s
}

// Write 推送一段输出
func (s *Stream) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := s.send(Message{Type: MessageOutput, Command: s.command, Data: string(p)}); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Finish 推送结束消息并关闭连接
func (s *Stream) Finish(complete bool, err error) error {
	msg := Message{Type: MessageEnd, Command: s.command, Complete: &complete}
	if err != nil {
		msg.Error = err.Error()
	}
	sendErr := s.send(msg)

	s.mu.Lock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.mu.Unlock()

	s.Close()
	return sendErr
}

// Close 关闭连接
func (s *Stream) Close() {
	s.once.Do(func() {
		close(s.closed)
		s.conn.Close()
	})
}

// Done 连接关闭时关闭的通道
func (s *Stream) Done() <-chan struct{} {
	return s.closed
}

func (s *Stream) send(msg Message) error {
	select {
	case <-s.closed:
		return ErrStreamClosed
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(msg); err != nil {
		s.logger.Warn("WebSocket发送失败",
			zap.String("stream_id", s.ID),
			zap.Error(err))
		return err
	}
	return nil
}

// readPump 处理控制帧，客户端断开时关闭流
func (s *Stream) readPump() {
	defer s.Close()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Debug("WebSocket读取错误",
					zap.String("stream_id", s.ID),
					zap.Error(err))
			}
			return
		}
	}
}

// pingPump 定时发送ping
func (s *Stream) pingPump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.mu.Unlock()
			if err != nil {
				s.Close()
				return
			}
		}
	}
}
