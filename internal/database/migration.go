package database

import (
	"fmt"
	"strings"

	"github.com/wfunc/bridgeplate/internal/logger"
	"github.com/wfunc/bridgeplate/internal/models"
	"go.uber.org/zap"
)

// 大表阈值，超过后只补索引不做 AutoMigrate
const largeTableRows = 10000

// serial_logs 的查询索引
var serialLogIndexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_serial_logs_mode ON serial_logs(mode)",
	"CREATE INDEX IF NOT EXISTS idx_serial_logs_level ON serial_logs(level)",
	"CREATE INDEX IF NOT EXISTS idx_serial_logs_namespace ON serial_logs(namespace)",
	"CREATE INDEX IF NOT EXISTS idx_serial_logs_method ON serial_logs(method)",
	"CREATE INDEX IF NOT EXISTS idx_serial_logs_session_id ON serial_logs(session_id)",
	"CREATE INDEX IF NOT EXISTS idx_serial_logs_request_id ON serial_logs(request_id)",
	"CREATE INDEX IF NOT EXISTS idx_serial_logs_created_at ON serial_logs(created_at)",
}

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate() error {
	if DB == nil {
		return fmt.Errorf("数据库未初始化")
	}

	// SQLite 文件库加迁移锁，避免多个进程同时迁移
	if dbFile := sqliteFile(DB); dbFile != "" {
		cleanupStaleLocks(dbFile)
		lock, err := acquireMigrationLock(dbFile)
		if err != nil {
			logger.Error("无法获取迁移锁", zap.Error(err))
			return fmt.Errorf("获取迁移锁失败: %w", err)
		}
		defer lock.Release()
	}

	logger.Info("开始数据库迁移...")

	migrationModels := []interface{}{
		&models.SerialLog{},
	}

	for _, model := range migrationModels {
		tableName := tableNameOf(model)

		if shouldSkipMigration(tableName) {
			logger.Info("跳过大型表的迁移", zap.String("table", tableName))
			continue
		}

		if err := DB.AutoMigrate(model); err != nil {
			logger.Error("迁移失败",
				zap.String("model", fmt.Sprintf("%T", model)),
				zap.Error(err),
			)
			return err
		}
		logger.Debug("迁移成功", zap.String("table", tableName))
	}

	ensureIndexes(serialLogIndexes)

	logger.Info("数据库迁移完成")
	return nil
}

// tableNameOf 获取模型对应的表名
func tableNameOf(model interface{}) string {
	if tabler, ok := model.(interface{ TableName() string }); ok {
		return tabler.TableName()
	}
	stmt := DB.Model(model).Statement
	if err := stmt.Parse(model); err == nil {
		return stmt.Schema.Table
	}
	return fmt.Sprintf("%T", model)
}

// shouldSkipMigration 已有大量数据的表只补索引
func shouldSkipMigration(tableName string) bool {
	if !DB.Migrator().HasTable(tableName) {
		return false
	}

	var count int64
	if err := DB.Table(tableName).Count(&count).Error; err != nil {
		return false
	}

	if count > largeTableRows {
		logger.Info("表中数据量较大，跳过AutoMigrate",
			zap.String("table", tableName),
			zap.Int64("count", count))
		ensureIndexes(serialLogIndexes)
		return true
	}
	return false
}

// ensureIndexes 创建不存在的索引
func ensureIndexes(indexes []string) {
	for _, idx := range indexes {
		if err := DB.Exec(idx).Error; err != nil {
			// 忽略索引已存在的错误
			if !strings.Contains(err.Error(), "already exists") {
				logger.Warn("创建索引失败", zap.String("index", idx), zap.Error(err))
			}
		}
	}
}

// DropAllTables 删除所有表（仅用于测试环境）
func DropAllTables() error {
	if DB == nil {
		return fmt.Errorf("数据库未初始化")
	}

	tables, err := DB.Migrator().GetTables()
	if err != nil {
		return err
	}

	for _, table := range tables {
		if err := DB.Migrator().DropTable(table); err != nil {
			logger.Error("删除表失败", zap.String("table", table), zap.Error(err))
			return err
		}
	}

	logger.Info("所有表已删除")
	return nil
}
