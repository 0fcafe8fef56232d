package hardware

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/wfunc/bridgeplate/internal/logger"
	"go.uber.org/zap"
)

// SlotAbsent 扫描结果中无板卡的地址
const SlotAbsent = -1

// Slots 一个命名空间下 0..7 号地址的扫描结果
type Slots [MaxAddress + 1]int

// Present 地址上是否有板卡应答
func (s Slots) Present(addr int) bool {
	return addr >= 0 && addr <= MaxAddress && s[addr] != SlotAbsent
}

// Addresses 应答的地址（升序）
func (s Slots) Addresses() []int {
	out := []int{}
	for _, v := range s {
		if v != SlotAbsent {
			out = append(out, v)
		}
	}
	return out
}

func (s Slots) String() string {
	parts := make([]string, len(s))
	for i, v := range s {
		if v == SlotAbsent {
			parts[i] = "-"
		} else {
			parts[i] = strconv.Itoa(v)
		}
	}
	return strings.Join(parts, "")
}

// PresenceRow 一个命名空间的扫描行
type PresenceRow struct {
	Namespace Namespace `json:"namespace"`
	Slots     Slots     `json:"slots"`
}

// PresenceMatrix 一次总线扫描的结果，按扫描顺序排列
type PresenceMatrix struct {
	Rows      []PresenceRow `json:"rows"`
	ScannedAt time.Time     `json:"scanned_at"`
}

// Row 返回命名空间对应的扫描行
func (m *PresenceMatrix) Row(ns Namespace) (PresenceRow, bool) {
	for _, r := range m.Rows {
		if r.Namespace == ns {
			return r, true
		}
	}
	return PresenceRow{}, false
}

// Format 每个命名空间输出一行，如 "RELAYplates:   0--3----"
func (m *PresenceMatrix) Format(w io.Writer) error {
	for _, r := range m.Rows {
		if _, err := fmt.Fprintf(w, "%-14s %s\n", r.Namespace.PlateLabel()+":", r.Slots); err != nil {
			return err
		}
	}
	return nil
}

// MarshalJSON 槽位编码为 null 或地址
func (s Slots) MarshalJSON() ([]byte, error) {
	out := make([]*int, len(s))
	for i := range s {
		if s[i] != SlotAbsent {
			v := s[i]
			out[i] = &v
		}
	}
	return json.Marshal(out)
}

// BusScanner 探测总线上每个 (命名空间, 地址) 组合
type BusScanner struct {
	link       LineExchanger
	namespaces []Namespace
	logger     *zap.Logger
}

// NewBusScanner 创建总线扫描器，使用固定扫描顺序
func NewBusScanner(link LineExchanger) *BusScanner {
	return &BusScanner{
		link:       link,
		namespaces: ScanOrder,
		logger:     logger.WithModule("scan"),
	}
}

// Scan 依次发送 NS.getADDR(addr)，应答首字符等于地址即视为在位
//
// 无应答与应答其他地址无法区分，都记为不在位。串口读写错误会中止扫描。
func (s *BusScanner) Scan() (*PresenceMatrix, error) {
	start := time.Now()
	matrix := &PresenceMatrix{
		Rows:      make([]PresenceRow, 0, len(s.namespaces)),
		ScannedAt: start,
	}

	found := 0
	for _, ns := range s.namespaces {
		row := PresenceRow{Namespace: ns}
		for addr := 0; addr <= MaxAddress; addr++ {
			row.Slots[addr] = SlotAbsent

			line, err := Encode(ns, "getADDR", addr)
			if err != nil {
				return nil, err
			}
			reply, err := s.link.Query(line)
			if err != nil {
				s.logger.Error("总线扫描中止",
					zap.String("namespace", string(ns)),
					zap.Int("addr", addr),
					zap.Error(err))
				return nil, err
			}

			if answersAddress(reply, addr) {
				row.Slots[addr] = addr
				found++
			}
		}
		matrix.Rows = append(matrix.Rows, row)
	}

	s.logger.Info("总线扫描完成",
		zap.Int("boards", found),
		zap.Duration("duration", time.Since(start)))
	return matrix, nil
}

// answersAddress 只比较应答的第一个字符
func answersAddress(reply string, addr int) bool {
	if reply == "" {
		return false
	}
	return reply[:1] == strconv.Itoa(addr)
}
