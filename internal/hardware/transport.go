package hardware

import (
	"bytes"
	stderrors "errors"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/wfunc/bridgeplate/internal/errors"
	"github.com/wfunc/bridgeplate/internal/logger"
	"go.uber.org/zap"
)

// 串口端点的固定参数
const (
	DefaultBaudRate         = 115200
	DefaultReadTimeout      = 20 * time.Second      // 行模式整体读取超时
	DefaultBlockIdleTimeout = 5 * time.Second       // 块模式无新数据超时
	DefaultPollInterval     = 10 * time.Millisecond // 轮询间隔

	// BlockSentinel 块模式传输结束标记
	BlockSentinel = "<<<END>>>"
	// 结束标记之后固定追加的输出
	blockTrailer = "\n\n"

	readChunkSize = 256
)

// ExchangeMode 收发模式
type ExchangeMode string

const (
	ModeLine  ExchangeMode = "LINE"
	ModeBlock ExchangeMode = "BLOCK"
)

// Exchange 一次命令收发的记录
type Exchange struct {
	Mode      ExchangeMode
	Device    string
	Command   string
	Reply     string
	Bytes     int // 收到的字节数
	StartedAt time.Time
	Duration  time.Duration
	TimedOut  bool // 行模式超时 / 块模式未收到结束标记
	Err       error
}

// ExchangeRecorder 收发记录的接收者
type ExchangeRecorder interface {
	RecordExchange(ex *Exchange)
}

// TransportConfig 传输层参数，零值字段使用默认值
type TransportConfig struct {
	Device           string
	ReadTimeout      time.Duration
	BlockIdleTimeout time.Duration
	PollInterval     time.Duration
}

func (c *TransportConfig) applyDefaults() {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.BlockIdleTimeout <= 0 {
		c.BlockIdleTimeout = DefaultBlockIdleTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
}

// Transport 独占一个串口句柄，同一时间只允许一条命令在途
type Transport struct {
	mu       sync.Mutex
	port     Port
	cfg      TransportConfig
	pending  []byte // 上一次行读取中终止符之后的字节
	closed   bool
	recorder ExchangeRecorder
	logger   *zap.Logger
}

// NewTransport 基于已打开的串口创建传输层
func NewTransport(port Port, cfg TransportConfig) *Transport {
	cfg.applyDefaults()
	return &Transport{
		port:   port,
		cfg:    cfg,
		logger: logger.WithModule("serial"),
	}
}

// SetRecorder 设置收发记录器
func (t *Transport) SetRecorder(r ExchangeRecorder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recorder = r
}

// Device 串口设备名
func (t *Transport) Device() string {
	return t.cfg.Device
}

// Config 传输层参数
func (t *Transport) Config() TransportConfig {
	return t.cfg
}

// Close 关闭串口
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.port.Close(); err != nil {
		t.logger.Error("关闭串口失败", zap.String("device", t.cfg.Device), zap.Error(err))
		return err
	}
	t.logger.Info("串口已关闭", zap.String("device", t.cfg.Device))
	return nil
}

// Query 行模式：发送一行命令，读取到换行或超时为止
//
// 超时返回已收到的内容（可能为空），不视为错误。应答中的CR/LF全部去除。
func (t *Transport) Query(line string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ex := &Exchange{Mode: ModeLine, Device: t.cfg.Device, Command: line, StartedAt: time.Now()}
	defer t.finish(ex)

	if err := t.writeLine(line); err != nil {
		ex.Err = err
		return "", err
	}

	raw, timedOut, err := t.readLine()
	ex.Bytes = len(raw)
	ex.TimedOut = timedOut
	if err != nil {
		ex.Err = err
		return "", err
	}

	reply := strings.NewReplacer("\r", "", "\n", "").Replace(decodeReplacing(raw))
	ex.Reply = reply
	return reply, nil
}

// Dump 块模式：发送命令后持续读取，并在数据到达时写入sink
//
// 收到BlockSentinel时输出其之前的全部内容并追加一个空行，返回 (内容, true, nil)；
// 超过BlockIdleTimeout没有新数据时输出缓冲区剩余内容，返回 (内容, false, nil)。
// sink写入失败不会中断读取，首个写入错误在结束时返回。
func (t *Transport) Dump(line string, sink io.Writer) (string, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ex := &Exchange{Mode: ModeBlock, Device: t.cfg.Device, Command: line, StartedAt: time.Now()}
	defer t.finish(ex)

	if err := t.writeLine(line); err != nil {
		ex.Err = err
		return "", false, err
	}

	out := &stickyWriter{w: sink}
	var (
		dec      utf8Decoder
		text     strings.Builder
		flushed  int
		lastData = time.Now()
		buf      = make([]byte, readChunkSize)
	)

	for {
		var data []byte
		if len(t.pending) > 0 {
			data, t.pending = t.pending, nil
		} else {
			n, err := t.read(buf)
			if err != nil {
				ex.Err = err
				return text.String(), false, err
			}
			data = buf[:n]
		}

		if len(data) == 0 {
			if time.Since(lastData) >= t.cfg.BlockIdleTimeout {
				text.WriteString(dec.flush())
				s := text.String()
				out.WriteString(s[flushed:])
				ex.TimedOut = true
				ex.Reply = s
				t.logger.Warn("块传输未收到结束标记",
					zap.String("command", line),
					zap.Int("bytes", ex.Bytes),
					zap.Duration("idle", t.cfg.BlockIdleTimeout))
				return s, false, out.err
			}
			time.Sleep(t.cfg.PollInterval)
			continue
		}

		lastData = time.Now()
		ex.Bytes += len(data)
		text.WriteString(dec.decode(data))
		s := text.String()

		if idx := strings.Index(s, BlockSentinel); idx >= 0 {
			body := s[:idx]
			out.WriteString(body[flushed:])
			out.WriteString(blockTrailer)
			ex.Reply = body
			return body, true, out.err
		}

		// 末尾可能是结束标记的前半部分，暂不输出
		if safe := len(s) - sentinelPrefixLen(s); safe > flushed {
			out.WriteString(s[flushed:safe])
			flushed = safe
		}
	}
}

// finish 记录日志并通知记录器
func (t *Transport) finish(ex *Exchange) {
	ex.Duration = time.Since(ex.StartedAt)
	logger.LogSerialCommand(string(ex.Mode), ex.Command, ex.Reply, ex.Duration, ex.TimedOut)
	if ex.Err != nil {
		t.logger.Error("串口命令失败",
			zap.String("mode", string(ex.Mode)),
			zap.String("command", ex.Command),
			zap.Error(ex.Err))
	}
	if t.recorder != nil {
		t.recorder.RecordExchange(ex)
	}
}

// writeLine 写入命令并追加换行
func (t *Transport) writeLine(line string) error {
	if t.closed {
		return errors.New(errors.ErrDeviceOffline, "串口已关闭")
	}
	if strings.ContainsAny(line, "\r\n") {
		return errors.Newf(errors.ErrInvalidArgument, "命令包含换行: %q", line)
	}

	data := []byte(line + "\n")
	for len(data) > 0 {
		n, err := t.port.Write(data)
		if err != nil {
			return errors.Wrapf(err, errors.ErrSerialPortWrite, "写入 %s 失败", t.cfg.Device)
		}
		if n == 0 {
			return errors.Newf(errors.ErrSerialPortWrite, "写入 %s 返回0字节", t.cfg.Device)
		}
		data = data[n:]
	}
	return nil
}

// readLine 读取到LF为止；超时返回已读取的内容
func (t *Transport) readLine() ([]byte, bool, error) {
	deadline := time.Now().Add(t.cfg.ReadTimeout)
	buf := make([]byte, readChunkSize)

	for {
		if i := bytes.IndexByte(t.pending, '\n'); i >= 0 {
			line := append([]byte(nil), t.pending[:i+1]...)
			t.pending = append([]byte(nil), t.pending[i+1:]...)
			return line, false, nil
		}
		if !time.Now().Before(deadline) {
			line := t.pending
			t.pending = nil
			return line, true, nil
		}

		n, err := t.read(buf)
		if err != nil {
			return nil, false, err
		}
		if n == 0 {
			time.Sleep(t.cfg.PollInterval)
			continue
		}
		t.pending = append(t.pending, buf[:n]...)
	}
}

// read 单次读取；读超时和EOF都视为暂无数据
func (t *Transport) read(buf []byte) (int, error) {
	n, err := t.port.Read(buf)
	if err != nil {
		if stderrors.Is(err, io.EOF) {
			return n, nil
		}
		return n, errors.Wrapf(err, errors.ErrSerialPortRead, "读取 %s 失败", t.cfg.Device)
	}
	return n, nil
}

// sentinelPrefixLen 返回s末尾与结束标记前缀重合的最大长度
func sentinelPrefixLen(s string) int {
	max := len(BlockSentinel) - 1
	if len(s) < max {
		max = len(s)
	}
	for k := max; k > 0; k-- {
		if strings.HasSuffix(s, BlockSentinel[:k]) {
			return k
		}
	}
	return 0
}

// stickyWriter 记录第一个写入错误，之后的写入全部丢弃
type stickyWriter struct {
	w   io.Writer
	err error
}

func (s *stickyWriter) WriteString(str string) {
	if s.w == nil || s.err != nil || str == "" {
		return
	}
	if _, err := io.WriteString(s.w, str); err != nil {
		s.err = err
	}
}

// utf8Decoder 增量解码，跨块的不完整多字节序列留到下一块
type utf8Decoder struct {
	carry []byte
}

func (d *utf8Decoder) decode(p []byte) string {
	if len(d.carry) > 0 {
		p = append(d.carry, p...)
		d.carry = nil
	}

	cut := len(p)
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax+1; i-- {
		if utf8.RuneStart(p[i]) {
			if !utf8.FullRune(p[i:]) {
				cut = i
			}
			break
		}
	}
	if cut < len(p) {
		d.carry = append([]byte(nil), p[cut:]...)
	}
	return decodeReplacing(p[:cut])
}

func (d *utf8Decoder) flush() string {
	s := decodeReplacing(d.carry)
	d.carry = nil
	return s
}

// decodeReplacing 按UTF-8解码，非法字节替换为U+FFFD
func decodeReplacing(p []byte) string {
	if utf8.Valid(p) {
		return string(p)
	}
	var b strings.Builder
	b.Grow(len(p) + 8)
	for len(p) > 0 {
		r, size := utf8.DecodeRune(p)
		if r == utf8.RuneError && size == 1 {
			b.WriteRune(utf8.RuneError)
		} else {
			b.Write(p[:size])
		}
		p = p[size:]
	}
	return b.String()
}
