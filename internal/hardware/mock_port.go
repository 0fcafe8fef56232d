package hardware

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wfunc/bridgeplate/internal/logger"
	"go.uber.org/zap"
)

// MockDeviceName 模拟总线的设备名
const MockDeviceName = "mock://bridgeplate"

var mockCommandPattern = regexp.MustCompile(`^([A-Z0-9]+)\.([A-Za-z0-9_]+)\((.*)\)$`)

// MockPort 模拟BRIDGEplate总线（用于测试和调试模式）
//
// 写入的每一行被当作一条命令处理，应答放入接收缓冲区供Read读取。
type MockPort struct {
	mu     sync.Mutex
	logger *zap.Logger

	boards  map[Namespace]map[int]bool
	replies map[string][]byte // 命令行 -> 原始应答字节
	silent  bool              // 不在位的地址不应答

	line      bytes.Buffer // 尚未收到换行的写入
	rx        bytes.Buffer // 待读取的应答
	commands  []string
	chunkSize int
	poll      time.Duration
	readErr   error
	writeErr  error
	closed    bool
}

// NewMockPort 创建模拟总线，boards为各命名空间上在位的地址
func NewMockPort(boards map[Namespace][]int) *MockPort {
	m := &MockPort{
		logger:  logger.WithModule("mock"),
		boards:  make(map[Namespace]map[int]bool),
		replies: make(map[string][]byte),
		poll:    time.Millisecond,
	}
	for ns, addrs := range boards {
		m.AddBoard(ns, addrs...)
	}
	return m
}

// AddBoard 在总线上放置板卡
func (m *MockPort) AddBoard(ns Namespace, addrs ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.boards[ns] == nil {
		m.boards[ns] = make(map[int]bool)
	}
	for _, a := range addrs {
		m.boards[ns][a] = true
	}
}

// SetReply 设置命令的行应答（自动追加CRLF）
func (m *MockPort) SetReply(command, reply string) {
	m.SetRawReply(command, []byte(reply+"\r\n"))
}

// SetRawReply 设置命令的原始应答字节
func (m *MockPort) SetRawReply(command string, raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies[command] = append([]byte(nil), raw...)
}

// SetDump 设置块模式应答；terminated为false时不发送结束标记
func (m *MockPort) SetDump(command, text string, terminated bool) {
	if terminated {
		text += BlockSentinel
	}
	m.SetRawReply(command, []byte(text))
}

// SetSilent 不在位的地址不应答（否则应答空行）
func (m *MockPort) SetSilent(silent bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.silent = silent
}

// SetChunkSize 限制每次Read返回的字节数，0为不限制
func (m *MockPort) SetChunkSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunkSize = n
}

// Feed 直接向接收缓冲区注入字节
func (m *MockPort) Feed(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rx.Write(data)
}

// FailRead 之后的Read返回err
func (m *MockPort) FailRead(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// FailWrite 之后的Write返回err
func (m *MockPort) FailWrite(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// Commands 已收到的命令行
func (m *MockPort) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

// Write 接收主机写入
func (m *MockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, io.ErrClosedPipe
	}
	if m.writeErr != nil {
		return 0, m.writeErr
	}

	m.line.Write(p)
	for {
		buf := m.line.Bytes()
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		cmd := strings.TrimRight(string(buf[:i]), "\r")
		m.line.Next(i + 1)
		m.handle(cmd)
	}
	return len(p), nil
}

// Read 读取应答；无数据时等待一个轮询间隔后返回 (0, nil)
func (m *MockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if m.readErr != nil {
		err := m.readErr
		m.mu.Unlock()
		return 0, err
	}
	if m.rx.Len() == 0 {
		poll := m.poll
		m.mu.Unlock()
		time.Sleep(poll)
		return 0, nil
	}
	defer m.mu.Unlock()

	if m.chunkSize > 0 && len(p) > m.chunkSize {
		p = p[:m.chunkSize]
	}
	return m.rx.Read(p)
}

// Close 关闭模拟端口
func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// handle 处理一条命令，调用方持有锁
func (m *MockPort) handle(cmd string) {
	m.commands = append(m.commands, cmd)
	m.logger.Debug("模拟总线收到命令", zap.String("command", cmd))

	if raw, ok := m.replies[cmd]; ok {
		m.rx.Write(raw)
		return
	}

	match := mockCommandPattern.FindStringSubmatch(cmd)
	if match == nil {
		m.rx.WriteString("\r\n")
		return
	}
	ns, method, args := Namespace(match[1]), match[2], match[3]

	switch {
	case method == "getADDR":
		addr, err := strconv.Atoi(strings.TrimSpace(args))
		if err == nil && m.boards[ns][addr] {
			fmt.Fprintf(&m.rx, "%d\r\n", addr)
			return
		}
		if !m.silent {
			m.rx.WriteString("\r\n")
		}
	case method == "getID":
		fmt.Fprintf(&m.rx, "Pi-Plate %s\r\n", ns.PlateLabel())
	case method == "getHWrev" || method == "getFWrev":
		m.rx.WriteString("1.0\r\n")
	case ns.HasDump(method):
		fmt.Fprintf(&m.rx, "%s commands:\r\n", ns)
		if entry := ns.Catalog(); entry != nil {
			for _, name := range entry.Methods {
				fmt.Fprintf(&m.rx, "  %s.%s\r\n", ns, name)
			}
		}
		m.rx.WriteString(BlockSentinel)
	default:
		m.rx.WriteString("\r\n")
	}
}
