package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wfunc/bridgeplate/internal/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	lockSuffix     = ".migration.lock"
	lockStaleAfter = 5 * time.Minute
	lockAttempts   = 30
	lockRetryWait  = time.Second
)

// migrationLock 串口日志库的迁移锁，同一个 SQLite 文件同时只允许一个进程迁移
type migrationLock struct {
	path string
	file *os.File
}

func lockPathFor(dbFile string) string {
	return dbFile + lockSuffix
}

// acquireMigrationLock 独占创建锁文件并写入持有者PID，过期的锁直接接管
func acquireMigrationLock(dbFile string) (*migrationLock, error) {
	lockPath := lockPathFor(dbFile)

	for i := 0; i < lockAttempts; i++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
		if err == nil {
			fmt.Fprintf(f, "pid=%d\nat=%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
			logger.Debug("获取迁移锁成功", zap.String("lock", lockPath))
			return &migrationLock{path: lockPath, file: f}, nil
		}

		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > lockStaleAfter {
			logger.Warn("迁移锁已过期，接管",
				zap.String("lock", lockPath),
				zap.String("holder", lockHolder(lockPath)),
			)
			os.Remove(lockPath)
			continue
		}

		logger.Debug("等待迁移锁...", zap.Int("attempt", i+1), zap.String("holder", lockHolder(lockPath)))
		time.Sleep(lockRetryWait)
	}

	return nil, fmt.Errorf("无法获取迁移锁 %s，持有者: %s", lockPath, lockHolder(lockPath))
}

// lockHolder 锁文件中记录的持有者
func lockHolder(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return "unknown"
	}
	return strings.Join(strings.Fields(string(data)), " ")
}

// Release 释放迁移锁
func (l *migrationLock) Release() {
	if l == nil || l.file == nil {
		return
	}
	l.file.Close()
	os.Remove(l.path)
	l.file = nil
	logger.Debug("释放迁移锁", zap.String("lock", l.path))
}

// sqliteFile 连接对应的 SQLite 文件；其他驱动或内存库返回空
func sqliteFile(db *gorm.DB) string {
	if db == nil {
		return ""
	}
	switch db.Dialector.Name() {
	case "sqlite", "sqlite3":
	default:
		return ""
	}

	sqlDB, err := db.DB()
	if err != nil {
		return ""
	}
	var (
		seq        int
		name, file string
	)
	if err := sqlDB.QueryRow("PRAGMA database_list").Scan(&seq, &name, &file); err != nil {
		return ""
	}
	return file
}

// cleanupStaleLocks 清理该数据库文件旁遗留的过期锁，其他库的锁不动
func cleanupStaleLocks(dbFile string) {
	pattern := filepath.Join(filepath.Dir(dbFile), filepath.Base(dbFile)+"*.lock")
	matches, _ := filepath.Glob(pattern)
	for _, lockPath := range matches {
		info, err := os.Stat(lockPath)
		if err != nil || time.Since(info.ModTime()) <= 2*lockStaleAfter {
			continue
		}
		logger.Info("清理过期锁文件", zap.String("file", lockPath), zap.String("holder", lockHolder(lockPath)))
		os.Remove(lockPath)
	}
}
