package hardware

import (
	"io"
	"time"

	tarmserial "github.com/tarm/serial"
	"github.com/wfunc/bridgeplate/internal/errors"
	bugserial "go.bug.st/serial"
)

// 串口驱动
const (
	DriverBugst = "bugst" // go.bug.st/serial，默认
	DriverTarm  = "tarm"  // github.com/tarm/serial
)

// Port 已打开的串口句柄
//
// Read 最多阻塞一个轮询间隔；超时无数据时返回 (0, nil) 或 (0, io.EOF)。
type Port interface {
	io.ReadWriteCloser
}

// PortConfig 打开串口的参数
type PortConfig struct {
	Name         string
	Driver       string
	BaudRate     int
	PollInterval time.Duration // 单次Read的阻塞上限
}

// OpenPort 按配置的驱动打开串口
func OpenPort(cfg PortConfig) (Port, error) {
	switch cfg.Driver {
	case DriverBugst, "":
		return openBugstPort(cfg)
	case DriverTarm:
		return openTarmPort(cfg)
	default:
		return nil, errors.Newf(errors.ErrUnsupportedDrive, "%q", cfg.Driver)
	}
}

func openBugstPort(cfg PortConfig) (Port, error) {
	mode := &bugserial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   bugserial.NoParity,
		StopBits: bugserial.OneStopBit,
	}
	p, err := bugserial.Open(cfg.Name, mode)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrSerialPortOpen, "串口 %s 打开失败", cfg.Name)
	}
	if err := p.SetReadTimeout(cfg.PollInterval); err != nil {
		p.Close()
		return nil, errors.Wrapf(err, errors.ErrSerialPortOpen, "串口 %s 设置读取超时失败", cfg.Name)
	}
	return p, nil
}

func openTarmPort(cfg PortConfig) (Port, error) {
	// tarm在POSIX上以VTIME实现超时，精度为100ms
	timeout := cfg.PollInterval
	if timeout < 100*time.Millisecond {
		timeout = 100 * time.Millisecond
	}
	p, err := tarmserial.OpenPort(&tarmserial.Config{
		Name:        cfg.Name,
		Baud:        cfg.BaudRate,
		Size:        8,
		Parity:      tarmserial.ParityNone,
		StopBits:    tarmserial.Stop1,
		ReadTimeout: timeout,
	})
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrSerialPortOpen, "串口 %s 打开失败", cfg.Name)
	}
	return p, nil
}
