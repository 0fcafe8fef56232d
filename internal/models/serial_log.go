package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// SerialLogMode 收发模式
type SerialLogMode string

const (
	SerialLogModeLine  SerialLogMode = "LINE"  // 行模式
	SerialLogModeBlock SerialLogMode = "BLOCK" // 块模式
)

// SerialLogLevel 日志级别
type SerialLogLevel string

const (
	SerialLogLevelInfo  SerialLogLevel = "INFO"
	SerialLogLevelWarn  SerialLogLevel = "WARN"
	SerialLogLevelError SerialLogLevel = "ERROR"
)

// JSONData 用于存储JSON格式的数据
type JSONData map[string]interface{}

// Value 实现 driver.Valuer 接口
func (j JSONData) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan 实现 sql.Scanner 接口
func (j *JSONData) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		strVal, ok := value.(string)
		if !ok {
			return nil
		}
		bytes = []byte(strVal)
	}
	return json.Unmarshal(bytes, j)
}

// SerialLog BRIDGEplate串口收发日志，一条记录对应一次命令收发
type SerialLog struct {
	ID        uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time      `gorm:"index;not null" json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// 基础信息
	Device string         `gorm:"type:varchar(100)" json:"device"`                 // 串口设备名
	Mode   SerialLogMode  `gorm:"type:varchar(10);index;not null" json:"mode"`     // LINE / BLOCK
	Level  SerialLogLevel `gorm:"type:varchar(10);default:INFO" json:"level"`      // 日志级别

	// 命令相关
	Namespace string `gorm:"type:varchar(20);index" json:"namespace,omitempty"` // 板卡命名空间 (如 "RELAY")
	Method    string `gorm:"type:varchar(50);index" json:"method,omitempty"`    // 方法名 (如 "relayON")
	Command   string `gorm:"type:varchar(255)" json:"command"`                  // 命令行 (如 "RELAY.relayON(0, 3)")

	// 应答
	Reply      string `gorm:"type:text" json:"reply,omitempty"`
	BytesCount int    `gorm:"default:0" json:"bytes_count"`    // 收到的字节数
	TimedOut   bool   `gorm:"index" json:"timed_out"`          // 行模式超时 / 块模式未收到结束标记
	ErrorMsg   string `gorm:"type:text" json:"error_msg,omitempty"`

	// 关联信息
	RequestID string `gorm:"type:varchar(100);index" json:"request_id,omitempty"`
	SessionID string `gorm:"type:varchar(100);index" json:"session_id,omitempty"` // 进程会话ID

	// 性能指标
	Duration  int64 `gorm:"default:0" json:"duration"` // 处理时长（毫秒）
	Timestamp int64 `gorm:"index" json:"timestamp"`    // Unix时间戳（毫秒）

	Meta JSONData `gorm:"type:json" json:"meta,omitempty"` // 额外信息
}

// TableName 指定表名
func (SerialLog) TableName() string {
	return "serial_logs"
}

// BeforeCreate 创建前的钩子
func (s *SerialLog) BeforeCreate(tx *gorm.DB) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if s.Timestamp == 0 {
		s.Timestamp = s.CreatedAt.UnixMilli()
	}
	return nil
}

// SerialLogQuery 查询参数
type SerialLogQuery struct {
	Mode      SerialLogMode  `form:"mode" json:"mode,omitempty"`
	Level     SerialLogLevel `form:"level" json:"level,omitempty"`
	Namespace string         `form:"namespace" json:"namespace,omitempty"`
	Method    string         `form:"method" json:"method,omitempty"`
	Command   string         `form:"command" json:"command,omitempty"`
	RequestID string         `form:"request_id" json:"request_id,omitempty"`
	SessionID string         `form:"session_id" json:"session_id,omitempty"`
	StartTime *time.Time     `form:"start_time" time_format:"2006-01-02T15:04:05Z07:00" json:"start_time,omitempty"`
	EndTime   *time.Time     `form:"end_time" time_format:"2006-01-02T15:04:05Z07:00" json:"end_time,omitempty"`
	TimedOut  *bool          `form:"timed_out" json:"timed_out,omitempty"`
	HasError  *bool          `form:"has_error" json:"has_error,omitempty"`
	Limit     int            `form:"limit" json:"limit,omitempty"`
	Offset    int            `form:"offset" json:"offset,omitempty"`
	OrderBy   string         `form:"order_by" json:"order_by,omitempty"`
}

// SerialLogStats 统计信息
type SerialLogStats struct {
	TotalCount    int64            `json:"total_count"`
	TotalLine     int64            `json:"total_line"`
	TotalBlock    int64            `json:"total_block"`
	TotalTimeouts int64            `json:"total_timeouts"`
	TotalErrors   int64            `json:"total_errors"`
	TotalBytes    int64            `json:"total_bytes"`
	ByNamespace   map[string]int64 `json:"by_namespace"`
	AvgDuration   float64          `json:"avg_duration"`
	MaxDuration   int64            `json:"max_duration"`
	MinDuration   int64            `json:"min_duration"`
}
