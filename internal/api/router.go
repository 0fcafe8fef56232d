package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/bridgeplate/internal/errors"
	"github.com/wfunc/bridgeplate/internal/hardware"
	"github.com/wfunc/bridgeplate/internal/logger"
	"github.com/wfunc/bridgeplate/internal/middleware"
	"github.com/wfunc/bridgeplate/internal/service"
	"github.com/wfunc/bridgeplate/internal/utils"
	"go.uber.org/zap"
)

// Options 路由依赖
type Options struct {
	Bridge  *hardware.Bridge
	Locator *hardware.PortLocator
	Logs    *service.SerialLogService // 为nil时不注册串口日志路由
	Auth    *middleware.AuthMiddleware
}

// Router API路由器
type Router struct {
	engine  *gin.Engine
	opts    Options
	boards  *BoardHandler
	ws      *WebSocketHandler
	logsAPI *SerialLogAPI
	log     *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(opts Options) *Router {
	if opts.Locator == nil {
		opts.Locator = hardware.NewPortLocator(nil)
	}
	if opts.Auth == nil {
		opts.Auth = middleware.NewAuthMiddleware(nil)
	}

	engine := gin.New()

	// 全局中间件
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.RequestLogger())

	log := logger.WithModule("api")
	router := &Router{
		engine: engine,
		opts:   opts,
		boards: NewBoardHandler(opts.Bridge, opts.Locator),
		ws:     NewWebSocketHandler(opts.Bridge, log),
		log:    log,
	}
	if opts.Logs != nil {
		router.logsAPI = NewSerialLogAPI(opts.Logs)
	}

	router.setupRoutes()

	return router
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	auth := r.opts.Auth

	// 健康检查
	r.engine.GET("/health", r.healthCheck)

	v1 := r.engine.Group("/api/v1")
	{
		read := v1.Group("")
		read.Use(auth.RequireAuth())
		{
			read.GET("/device", r.boards.GetDevice)
			read.GET("/ports", r.boards.ListPorts)
			read.GET("/scan", r.boards.Scan)
			read.GET("/boards", r.boards.ListBoards)
			read.GET("/boards/:ns", r.boards.GetBoard)
		}

		// 向板卡发送命令需要操作员权限
		operate := v1.Group("/boards/:ns")
		operate.Use(auth.RequireRole(utils.RoleOperator))
		{
			operate.POST("/call/:method", r.boards.Call)
			operate.GET("/dump/:method", r.boards.Dump)
		}

		if r.logsAPI != nil {
			logs := v1.Group("")
			logs.Use(auth.RequireAuth())
			r.logsAPI.RegisterRoutes(logs, auth.RequireRole(utils.RoleOperator))
		}
	}

	// WebSocket路由
	ws := r.engine.Group("/ws")
	ws.Use(auth.RequireRole(utils.RoleOperator))
	{
		ws.GET("/boards/:ns/dump/:method", r.ws.StreamDump)
	}

	// 404处理
	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "NOT_FOUND",
			"message": "接口不存在",
		})
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"message": "服务运行正常",
		"port":    r.opts.Bridge.Port(),
		"auth":    r.opts.Auth.Enabled(),
	})
}

// Run 运行服务器
func (r *Router) Run(addr string) error {
	r.log.Info("启动API服务", zap.String("address", addr))
	return r.engine.Run(addr)
}

// GetEngine 获取Gin引擎（用于测试和http.Server）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

// respondError 以统一格式返回错误
func respondError(c *gin.Context, err error) {
	appErr, ok := errors.As(err)
	if !ok {
		appErr = errors.Wrap(err, errors.ErrUnknown)
	}
	logger.WithModule("api").Warn("请求失败",
		zap.String("path", c.Request.URL.Path),
		zap.Int("code", int(appErr.Code)),
		zap.Error(err))

	// 调用栈不返回给客户端
	resp := *appErr
	resp.Stack = nil
	c.JSON(appErr.HTTPStatus(), errors.NewErrorResponse(&resp, middleware.GetRequestID(c)))
}
