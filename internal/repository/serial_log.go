package repository

import (
	"time"

	"github.com/wfunc/bridgeplate/internal/errors"
	"github.com/wfunc/bridgeplate/internal/models"
	"gorm.io/gorm"
)

// 允许的排序方式
var serialLogOrders = map[string]string{
	"":             "created_at DESC",
	"created_at":   "created_at ASC",
	"-created_at":  "created_at DESC",
	"duration":     "duration ASC",
	"-duration":    "duration DESC",
	"bytes_count":  "bytes_count ASC",
	"-bytes_count": "bytes_count DESC",
}

// SerialLogRepository 串口日志仓库
type SerialLogRepository struct {
	db *gorm.DB
}

// NewSerialLogRepository 创建串口日志仓库
func NewSerialLogRepository(db *gorm.DB) *SerialLogRepository {
	return &SerialLogRepository{
		db: db,
	}
}

// Create 创建日志记录
func (r *SerialLogRepository) Create(log *models.SerialLog) error {
	return r.db.Create(log).Error
}

// CreateBatch 批量创建日志记录
func (r *SerialLogRepository) CreateBatch(logs []*models.SerialLog) error {
	if len(logs) == 0 {
		return nil
	}
	return r.db.CreateInBatches(logs, 100).Error
}

// GetByID 根据ID获取日志
func (r *SerialLogRepository) GetByID(id uint) (*models.SerialLog, error) {
	var log models.SerialLog
	err := r.db.First(&log, id).Error
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// GetBySessionID 根据会话ID获取日志
func (r *SerialLogRepository) GetBySessionID(sessionID string) ([]*models.SerialLog, error) {
	var logs []*models.SerialLog
	err := r.db.Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&logs).Error
	return logs, err
}

// Query 查询日志
func (r *SerialLogRepository) Query(query *models.SerialLogQuery) ([]*models.SerialLog, int64, error) {
	orderBy, ok := serialLogOrders[query.OrderBy]
	if !ok {
		return nil, 0, errors.Newf(errors.ErrInvalidParam, "不支持的排序字段: %s", query.OrderBy)
	}

	db := r.db.Model(&models.SerialLog{})

	// 构建查询条件
	if query.Mode != "" {
		db = db.Where("mode = ?", query.Mode)
	}
	if query.Level != "" {
		db = db.Where("level = ?", query.Level)
	}
	if query.Namespace != "" {
		db = db.Where("namespace = ?", query.Namespace)
	}
	if query.Method != "" {
		db = db.Where("method = ?", query.Method)
	}
	if query.Command != "" {
		db = db.Where("command LIKE ?", "%"+query.Command+"%")
	}
	if query.RequestID != "" {
		db = db.Where("request_id = ?", query.RequestID)
	}
	if query.SessionID != "" {
		db = db.Where("session_id = ?", query.SessionID)
	}
	if query.StartTime != nil {
		db = db.Where("created_at >= ?", *query.StartTime)
	}
	if query.EndTime != nil {
		db = db.Where("created_at <= ?", *query.EndTime)
	}
	if query.TimedOut != nil {
		db = db.Where("timed_out = ?", *query.TimedOut)
	}
	if query.HasError != nil {
		if *query.HasError {
			db = db.Where("error_msg IS NOT NULL AND error_msg != ''")
		} else {
			db = db.Where("error_msg IS NULL OR error_msg = ''")
		}
	}

	// 获取总数
	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	db = db.Order(orderBy)

	// 分页
	if query.Limit > 0 {
		db = db.Limit(query.Limit)
	}
	if query.Offset > 0 {
		db = db.Offset(query.Offset)
	}

	var logs []*models.SerialLog
	if err := db.Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}

// GetStats 获取统计信息
func (r *SerialLogRepository) GetStats(startTime, endTime *time.Time) (*models.SerialLogStats, error) {
	stats := &models.SerialLogStats{ByNamespace: make(map[string]int64)}

	scoped := func() *gorm.DB {
		db := r.db.Model(&models.SerialLog{})
		if startTime != nil {
			db = db.Where("created_at >= ?", *startTime)
		}
		if endTime != nil {
			db = db.Where("created_at <= ?", *endTime)
		}
		return db
	}

	// 总数统计
	if err := scoped().Count(&stats.TotalCount).Error; err != nil {
		return nil, err
	}

	// 模式统计
	if err := scoped().Where("mode = ?", models.SerialLogModeBlock).Count(&stats.TotalBlock).Error; err != nil {
		return nil, err
	}
	stats.TotalLine = stats.TotalCount - stats.TotalBlock

	// 超时与错误
	if err := scoped().Where("timed_out = ?", true).Count(&stats.TotalTimeouts).Error; err != nil {
		return nil, err
	}
	if err := scoped().Where("error_msg IS NOT NULL AND error_msg != ''").Count(&stats.TotalErrors).Error; err != nil {
		return nil, err
	}

	// 按命名空间统计
	type namespaceCount struct {
		Namespace string
		Count     int64
	}
	var counts []namespaceCount
	if err := scoped().
		Select("namespace, COUNT(*) as count").
		Where("namespace != ''").
		Group("namespace").
		Scan(&counts).Error; err != nil {
		return nil, err
	}
	for _, c := range counts {
		stats.ByNamespace[c.Namespace] = c.Count
	}

	// 性能统计
	type durationStats struct {
		TotalBytes  int64
		AvgDuration float64
		MaxDuration int64
		MinDuration int64
	}
	var ds durationStats
	if err := scoped().
		Select("COALESCE(SUM(bytes_count), 0) as total_bytes, COALESCE(AVG(duration), 0) as avg_duration, " +
			"COALESCE(MAX(duration), 0) as max_duration, COALESCE(MIN(duration), 0) as min_duration").
		Scan(&ds).Error; err != nil {
		return nil, err
	}
	stats.TotalBytes = ds.TotalBytes
	stats.AvgDuration = ds.AvgDuration
	stats.MaxDuration = ds.MaxDuration
	stats.MinDuration = ds.MinDuration

	return stats, nil
}

// GetLatest 获取最新的日志记录
func (r *SerialLogRepository) GetLatest(limit int, mode models.SerialLogMode) ([]*models.SerialLog, error) {
	var logs []*models.SerialLog
	db := r.db.Order("created_at DESC").Limit(limit)
	if mode != "" {
		db = db.Where("mode = ?", mode)
	}
	err := db.Find(&logs).Error
	return logs, err
}

// GetErrorLogs 获取错误日志
func (r *SerialLogRepository) GetErrorLogs(limit int) ([]*models.SerialLog, error) {
	var logs []*models.SerialLog
	err := r.db.Where("error_msg IS NOT NULL AND error_msg != ''").
		Or("level = ?", models.SerialLogLevelError).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

// DeleteOldLogs 删除旧日志
func (r *SerialLogRepository) DeleteOldLogs(beforeTime time.Time) (int64, error) {
	result := r.db.Where("created_at < ?", beforeTime).Delete(&models.SerialLog{})
	return result.RowsAffected, result.Error
}

// CleanupLogs 清理日志（保留最近N天的数据）
func (r *SerialLogRepository) CleanupLogs(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, errors.New(errors.ErrInvalidParam, "保留天数必须大于0")
	}
	beforeTime := time.Now().AddDate(0, 0, -retentionDays)
	return r.DeleteOldLogs(beforeTime)
}
