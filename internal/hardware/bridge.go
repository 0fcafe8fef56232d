package hardware

import (
	"io"
	"sort"
	"time"

	"github.com/wfunc/bridgeplate/internal/errors"
	"github.com/wfunc/bridgeplate/internal/logger"
	"go.uber.org/zap"
)

// BlockExchanger 块模式收发
type BlockExchanger interface {
	Dump(line string, sink io.Writer) (string, bool, error)
}

// Board 某一命名空间的板卡代理，所有板卡类型共用
type Board struct {
	ns    Namespace
	codec *Codec
	block BlockExchanger
}

// NewBoard 创建板卡代理
func NewBoard(ns Namespace, codec *Codec, block BlockExchanger) (*Board, error) {
	if ns.Catalog() == nil {
		return nil, errors.Newf(errors.ErrInvalidNamespace, "%q", ns)
	}
	return &Board{ns: ns, codec: codec, block: block}, nil
}

// Namespace 板卡命名空间
func (b *Board) Namespace() Namespace {
	return b.ns
}

// Call 行模式调用 NS.method(args...)
func (b *Board) Call(method string, args ...interface{}) (Value, error) {
	if !b.ns.HasMethod(method) {
		if b.ns.HasDump(method) {
			return Value{}, errors.Newf(errors.ErrUnknownMethod, "%s.%s 为块模式方法，请使用Dump", b.ns, method)
		}
		return Value{}, errors.Newf(errors.ErrUnknownMethod, "%s.%s", b.ns, method)
	}
	return b.codec.Call(b.ns, method, args...)
}

// Dump 块模式调用 NS.method()，输出写入sink
func (b *Board) Dump(method string, sink io.Writer) (string, bool, error) {
	if !b.ns.HasDump(method) {
		return "", false, errors.Newf(errors.ErrUnknownMethod, "%s.%s 不是块模式方法", b.ns, method)
	}
	line, err := Encode(b.ns, method)
	if err != nil {
		return "", false, err
	}
	return b.block.Dump(line, sink)
}

// BridgeConfig 打开BRIDGEplate的配置
type BridgeConfig struct {
	VID              string
	PID              string
	Port             string // 为空时按VID/PID查找
	Driver           string
	BaudRate         int
	ReadTimeout      time.Duration
	BlockIdleTimeout time.Duration
	PollInterval     time.Duration
	MockMode         bool
	MockBoards       map[Namespace][]int
}

// Bridge BRIDGEplate主机端入口，持有唯一的传输层
type Bridge struct {
	transport *Transport
	codec     *Codec
	scanner   *BusScanner
	logger    *zap.Logger
}

// NewBridge 基于已创建的传输层构造
func NewBridge(t *Transport) *Bridge {
	codec := NewCodec(t)
	return &Bridge{
		transport: t,
		codec:     codec,
		scanner:   NewBusScanner(t),
		logger:    logger.WithModule("bridge"),
	}
}

// Open 定位并打开BRIDGEplate；找不到设备时不打开任何串口
func Open(cfg BridgeConfig, locator *PortLocator) (*Bridge, error) {
	log := logger.WithModule("bridge")

	if cfg.BaudRate <= 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	tcfg := TransportConfig{
		Device:           cfg.Port,
		ReadTimeout:      cfg.ReadTimeout,
		BlockIdleTimeout: cfg.BlockIdleTimeout,
		PollInterval:     cfg.PollInterval,
	}

	if cfg.MockMode {
		tcfg.Device = MockDeviceName
		log.Info("使用模拟总线", zap.Int("namespaces", len(cfg.MockBoards)))
		return NewBridge(NewTransport(NewMockPort(cfg.MockBoards), tcfg)), nil
	}

	if tcfg.Device == "" {
		if locator == nil {
			locator = NewPortLocator(nil)
		}
		vid, pid := cfg.VID, cfg.PID
		if vid == "" {
			vid = DefaultVID
		}
		if pid == "" {
			pid = DefaultPID
		}
		name, err := locator.Find(vid, pid)
		if err != nil {
			return nil, err
		}
		tcfg.Device = name
	}

	port, err := OpenPort(PortConfig{
		Name:         tcfg.Device,
		Driver:       cfg.Driver,
		BaudRate:     cfg.BaudRate,
		PollInterval: tcfg.PollInterval,
	})
	if err != nil {
		return nil, err
	}
	t := NewTransport(port, tcfg)
	log.Info("BRIDGEplate已连接",
		zap.String("port", tcfg.Device),
		zap.String("driver", cfg.Driver),
		zap.Int("baud", cfg.BaudRate))
	return NewBridge(t), nil
}

// ParseMockBoards 将配置中的 命名空间->地址 转换为模拟总线布局
func ParseMockBoards(raw map[string][]int) (map[Namespace][]int, error) {
	out := make(map[Namespace][]int, len(raw))
	for key, addrs := range raw {
		ns, err := ParseNamespace(key)
		if err != nil {
			return nil, err
		}
		for _, a := range addrs {
			if a < 0 || a > MaxAddress {
				return nil, errors.Newf(errors.ErrInvalidAddress, "%s: %d", ns, a)
			}
		}
		sorted := append([]int(nil), addrs...)
		sort.Ints(sorted)
		out[ns] = sorted
	}
	return out, nil
}

// Board 返回命名空间对应的板卡代理
func (b *Bridge) Board(ns Namespace) (*Board, error) {
	return NewBoard(ns, b.codec, b.transport)
}

// Call 行模式调用
func (b *Bridge) Call(ns Namespace, method string, args ...interface{}) (Value, error) {
	board, err := b.Board(ns)
	if err != nil {
		return Value{}, err
	}
	return board.Call(method, args...)
}

// Dump 块模式调用
func (b *Bridge) Dump(ns Namespace, method string, sink io.Writer) (string, bool, error) {
	board, err := b.Board(ns)
	if err != nil {
		return "", false, err
	}
	return board.Dump(method, sink)
}

// Scan 扫描总线
func (b *Bridge) Scan() (*PresenceMatrix, error) {
	return b.scanner.Scan()
}

// Port 已打开的串口设备名
func (b *Bridge) Port() string {
	return b.transport.Device()
}

// SetRecorder 设置收发记录器
func (b *Bridge) SetRecorder(r ExchangeRecorder) {
	b.transport.SetRecorder(r)
}

// Close 关闭串口
func (b *Bridge) Close() error {
	b.logger.Info("关闭BRIDGEplate", zap.String("port", b.Port()))
	return b.transport.Close()
}
