package service

import (
	"encoding/json"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/bridgeplate/internal/hardware"
	"github.com/wfunc/bridgeplate/internal/logger"
	"github.com/wfunc/bridgeplate/internal/models"
	"github.com/wfunc/bridgeplate/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	flushInterval  = 5 * time.Second // 定时批量写入
	flushBatchSize = 100             // 缓冲区达到该数量立即写入
	queueSize      = 1000
)

var commandPattern = regexp.MustCompile(`^([A-Z0-9]+)\.([A-Za-z0-9_]+)\(`)

// SerialLogService 串口日志服务，实现 hardware.ExchangeRecorder
type SerialLogService struct {
	repo      *repository.SerialLogRepository
	logger    *zap.Logger
	mu        sync.Mutex
	buffer    []*models.SerialLog
	bufferCh  chan *models.SerialLog
	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
	sessionID string
}

// NewSerialLogService 创建串口日志服务
func NewSerialLogService(db *gorm.DB) *SerialLogService {
	service := &SerialLogService{
		repo:      repository.NewSerialLogRepository(db),
		logger:    logger.WithModule("database"),
		buffer:    make([]*models.SerialLog, 0, flushBatchSize),
		bufferCh:  make(chan *models.SerialLog, queueSize),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		sessionID: uuid.New().String(),
	}

	// 启动后台写入协程
	go service.backgroundWriter()

	return service
}

// backgroundWriter 后台写入协程
func (s *SerialLogService) backgroundWriter() {
	defer close(s.doneCh)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case log := <-s.bufferCh:
			s.mu.Lock()
			s.buffer = append(s.buffer, log)
			// 如果缓冲区满了，立即写入
			if len(s.buffer) >= flushBatchSize {
				s.flushBuffer()
			}
			s.mu.Unlock()

		case <-ticker.C:
			s.mu.Lock()
			s.flushBuffer()
			s.mu.Unlock()

		case <-s.stopCh:
			// 退出前写入剩余的日志
			s.mu.Lock()
			for {
				select {
				case log := <-s.bufferCh:
					s.buffer = append(s.buffer, log)
					continue
				default:
				}
				break
			}
			s.flushBuffer()
			s.mu.Unlock()
			return
		}
	}
}

// flushBuffer 写入缓冲区的日志到数据库，调用方持有锁
func (s *SerialLogService) flushBuffer() {
	if len(s.buffer) == 0 {
		return
	}

	start := time.Now()
	err := s.repo.CreateBatch(s.buffer)
	logger.LogDatabaseOperation("create_batch", "serial_logs", time.Since(start), err)
	if err != nil {
		s.logger.Error("批量写入串口日志失败", zap.Error(err), zap.Int("count", len(s.buffer)))
	} else {
		s.logger.Debug("批量写入串口日志成功", zap.Int("count", len(s.buffer)))
	}

	// 清空缓冲区
	s.buffer = make([]*models.SerialLog, 0, flushBatchSize)
}

// RecordExchange 记录一次命令收发（异步写入）
func (s *SerialLogService) RecordExchange(ex *hardware.Exchange) {
	log := &models.SerialLog{
		Device:     ex.Device,
		Mode:       models.SerialLogMode(ex.Mode),
		Level:      models.SerialLogLevelInfo,
		Command:    ex.Command,
		Reply:      ex.Reply,
		BytesCount: ex.Bytes,
		TimedOut:   ex.TimedOut,
		RequestID:  uuid.New().String(),
		SessionID:  s.sessionID,
		Duration:   ex.Duration.Milliseconds(),
		CreatedAt:  ex.StartedAt,
		Timestamp:  ex.StartedAt.UnixMilli(),
	}

	if m := commandPattern.FindStringSubmatch(ex.Command); m != nil {
		log.Namespace = m[1]
		log.Method = m[2]
	}

	switch {
	case ex.Err != nil:
		log.Level = models.SerialLogLevelError
		log.ErrorMsg = ex.Err.Error()
	case ex.TimedOut:
		log.Level = models.SerialLogLevelWarn
	}

	if ex.Mode == hardware.ModeBlock {
		log.Meta = models.JSONData{"complete": !ex.TimedOut && ex.Err == nil}
	}

	select {
	case s.bufferCh <- log:
	default:
		s.logger.Warn("串口日志缓冲区满，丢弃日志", zap.String("command", ex.Command))
	}
}

// SessionID 当前进程的会话ID
func (s *SerialLogService) SessionID() string {
	return s.sessionID
}

// Flush 立即写入已缓冲的日志
func (s *SerialLogService) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		select {
		case log := <-s.bufferCh:
			s.buffer = append(s.buffer, log)
			continue
		default:
		}
		break
	}
	s.flushBuffer()
}

// Query 查询日志
func (s *SerialLogService) Query(query *models.SerialLogQuery) ([]*models.SerialLog, int64, error) {
	return s.repo.Query(query)
}

// GetStats 获取统计信息
func (s *SerialLogService) GetStats(startTime, endTime *time.Time) (*models.SerialLogStats, error) {
	return s.repo.GetStats(startTime, endTime)
}

// GetLatestLogs 获取最新的日志
func (s *SerialLogService) GetLatestLogs(limit int, mode models.SerialLogMode) ([]*models.SerialLog, error) {
	return s.repo.GetLatest(limit, mode)
}

// GetErrorLogs 获取错误日志
func (s *SerialLogService) GetErrorLogs(limit int) ([]*models.SerialLog, error) {
	return s.repo.GetErrorLogs(limit)
}

// CleanupOldLogs 清理旧日志
func (s *SerialLogService) CleanupOldLogs(retentionDays int) (int64, error) {
	return s.repo.CleanupLogs(retentionDays)
}

// ExportLogs 导出日志为JSON格式
func (s *SerialLogService) ExportLogs(query *models.SerialLogQuery) ([]byte, error) {
	logs, _, err := s.Query(query)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(logs, "", "  ")
}

// Close 关闭服务，写入剩余日志
func (s *SerialLogService) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
	})
}
