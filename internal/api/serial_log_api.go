package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/bridgeplate/internal/errors"
	"github.com/wfunc/bridgeplate/internal/models"
	"github.com/wfunc/bridgeplate/internal/service"
)

// SerialLogAPI 串口日志API
type SerialLogAPI struct {
	service *service.SerialLogService
}

// NewSerialLogAPI 创建串口日志API
func NewSerialLogAPI(service *service.SerialLogService) *SerialLogAPI {
	return &SerialLogAPI{
		service: service,
	}
}

// RegisterRoutes 注册路由，清理接口额外经过 admin 中间件
func (api *SerialLogAPI) RegisterRoutes(router *gin.RouterGroup, admin gin.HandlerFunc) {
	logs := router.Group("/serial-logs")
	{
		logs.GET("", api.QueryLogs)                   // 查询日志列表
		logs.GET("/latest", api.GetLatestLogs)        // 获取最新日志
		logs.GET("/stats", api.GetStats)              // 获取统计信息
		logs.GET("/errors", api.GetErrorLogs)         // 获取错误日志
		logs.GET("/export", api.ExportLogs)           // 导出日志
		logs.POST("/cleanup", admin, api.CleanupLogs) // 清理旧日志
	}
}

// bindQuery 解析查询参数
func bindQuery(c *gin.Context, defaultLimit int) (*models.SerialLogQuery, error) {
	query := &models.SerialLogQuery{}
	if err := c.ShouldBindQuery(query); err != nil {
		return nil, errors.Wrap(err, errors.ErrInvalidParam)
	}
	if query.Limit <= 0 {
		query.Limit = defaultLimit
	}
	return query, nil
}

// parseTimeRange 解析 start_time / end_time（RFC3339）
func parseTimeRange(c *gin.Context) (startTime, endTime *time.Time, err error) {
	if start := c.Query("start_time"); start != "" {
		t, err := time.Parse(time.RFC3339, start)
		if err != nil {
			return nil, nil, errors.Wrapf(err, errors.ErrInvalidParam, "start_time")
		}
		startTime = &t
	}
	if end := c.Query("end_time"); end != "" {
		t, err := time.Parse(time.RFC3339, end)
		if err != nil {
			return nil, nil, errors.Wrapf(err, errors.ErrInvalidParam, "end_time")
		}
		endTime = &t
	}
	return startTime, endTime, nil
}

// QueryLogs 查询日志列表
func (api *SerialLogAPI) QueryLogs(c *gin.Context) {
	query, err := bindQuery(c, 20)
	if err != nil {
		respondError(c, err)
		return
	}

	logs, total, err := api.service.Query(query)
	if err != nil {
		respondError(c, errors.Wrap(err, errors.ErrDatabaseQuery))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   logs,
		"total":  total,
		"limit":  query.Limit,
		"offset": query.Offset,
	})
}

// GetLatestLogs 获取最新日志
func (api *SerialLogAPI) GetLatestLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	mode := models.SerialLogMode(c.Query("mode"))

	logs, err := api.service.GetLatestLogs(limit, mode)
	if err != nil {
		respondError(c, errors.Wrap(err, errors.ErrDatabaseQuery))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  logs,
		"count": len(logs),
	})
}

// GetStats 获取统计信息
func (api *SerialLogAPI) GetStats(c *gin.Context) {
	startTime, endTime, err := parseTimeRange(c)
	if err != nil {
		respondError(c, err)
		return
	}

	stats, err := api.service.GetStats(startTime, endTime)
	if err != nil {
		respondError(c, errors.Wrap(err, errors.ErrDatabaseQuery))
		return
	}

	c.JSON(http.StatusOK, stats)
}

// GetErrorLogs 获取错误日志
func (api *SerialLogAPI) GetErrorLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	logs, err := api.service.GetErrorLogs(limit)
	if err != nil {
		respondError(c, errors.Wrap(err, errors.ErrDatabaseQuery))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  logs,
		"count": len(logs),
	})
}

// CleanupLogs 清理旧日志
func (api *SerialLogAPI) CleanupLogs(c *gin.Context) {
	retentionDays, err := strconv.Atoi(c.DefaultPostForm("retention_days", "30"))
	if err != nil || retentionDays < 1 {
		respondError(c, errors.New(errors.ErrInvalidParam, "保留天数必须大于0"))
		return
	}

	count, err := api.service.CleanupOldLogs(retentionDays)
	if err != nil {
		respondError(c, errors.Wrap(err, errors.ErrDatabaseDelete))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":        "清理成功",
		"deleted":        count,
		"retention_days": retentionDays,
	})
}

// ExportLogs 导出日志
func (api *SerialLogAPI) ExportLogs(c *gin.Context) {
	query, err := bindQuery(c, 1000)
	if err != nil {
		respondError(c, err)
		return
	}

	data, err := api.service.ExportLogs(query)
	if err != nil {
		respondError(c, errors.Wrap(err, errors.ErrDatabaseQuery))
		return
	}

	c.Header("Content-Disposition", "attachment; filename=serial_logs_export.json")
	c.Data(http.StatusOK, "application/json", data)
}
