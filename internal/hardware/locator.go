package hardware

import (
	"regexp"
	"strings"

	"github.com/wfunc/bridgeplate/internal/errors"
	"github.com/wfunc/bridgeplate/internal/logger"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"
)

// 默认的BRIDGEplate USB标识
const (
	DefaultVID = "2E8A"
	DefaultPID = "10E3"
)

var (
	hwidVIDPattern = regexp.MustCompile(`VID_([0-9A-Fa-f]{4})`)
	hwidPIDPattern = regexp.MustCompile(`PID_([0-9A-Fa-f]{4})`)
)

// PortInfo 主机串口信息
type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	HardwareID   string `json:"hardware_id,omitempty"` // 自由格式的硬件ID，如 USB\VID_2E8A&PID_10E3
}

// PortEnumerator 枚举主机串口
type PortEnumerator func() ([]PortInfo, error)

// SystemPorts 通过 go.bug.st/serial/enumerator 枚举系统串口
func SystemPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			HardwareID:   d.Product,
		})
	}
	return ports, nil
}

// PortLocator 按VID/PID查找串口
type PortLocator struct {
	enumerate PortEnumerator
	logger    *zap.Logger
}

// NewPortLocator 创建串口定位器；enumerate为nil时使用系统枚举
func NewPortLocator(enumerate PortEnumerator) *PortLocator {
	if enumerate == nil {
		enumerate = SystemPorts
	}
	return &PortLocator{
		enumerate: enumerate,
		logger:    logger.WithModule("serial"),
	}
}

// List 枚举串口，补全从硬件ID中解析出的VID/PID
func (l *PortLocator) List() ([]PortInfo, error) {
	ports, err := l.enumerate()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrPortEnumerate)
	}
	for i := range ports {
		ports[i].VID, ports[i].PID = identifiers(ports[i])
	}
	return ports, nil
}

// Find 返回第一个VID/PID匹配（不区分大小写）的串口设备名
func (l *PortLocator) Find(vid, pid string) (string, error) {
	ports, err := l.List()
	if err != nil {
		l.logger.Error("枚举串口失败", zap.Error(err))
		return "", errors.Newf(errors.ErrDeviceNotFound, "VID=%s PID=%s: %v", vid, pid, err).WithCause(err)
	}

	for _, p := range ports {
		if strings.EqualFold(p.VID, vid) && strings.EqualFold(p.PID, pid) {
			l.logger.Info("找到BRIDGEplate设备",
				zap.String("port", p.Name),
				zap.String("vid", p.VID),
				zap.String("pid", p.PID))
			return p.Name, nil
		}
	}

	l.logger.Warn("未找到匹配的串口",
		zap.String("vid", vid),
		zap.String("pid", pid),
		zap.Int("ports", len(ports)))
	return "", errors.Newf(errors.ErrDeviceNotFound, "VID=%s PID=%s", vid, pid)
}

// identifiers 优先使用端口元数据，缺失的一项从硬件ID字符串解析
func identifiers(p PortInfo) (vid, pid string) {
	vid = strings.ToUpper(p.VID)
	pid = strings.ToUpper(p.PID)
	if vid != "" && pid != "" {
		return vid, pid
	}
	if p.HardwareID == "" {
		return vid, pid
	}
	parsedVID, parsedPID := ParseHardwareID(p.HardwareID)
	if vid == "" {
		vid = parsedVID
	}
	if pid == "" {
		pid = parsedPID
	}
	return vid, pid
}

// ParseHardwareID 从硬件ID中分别提取 VID_xxxx 与 PID_xxxx
func ParseHardwareID(hwid string) (vid, pid string) {
	if m := hwidVIDPattern.FindStringSubmatch(hwid); m != nil {
		vid = strings.ToUpper(m[1])
	}
	if m := hwidPIDPattern.FindStringSubmatch(hwid); m != nil {
		pid = strings.ToUpper(m[1])
	}
	return vid, pid
}
