package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/bridgeplate/internal/api"
	"github.com/wfunc/bridgeplate/internal/config"
	"github.com/wfunc/bridgeplate/internal/errors"
	"github.com/wfunc/bridgeplate/internal/logger"
	"github.com/wfunc/bridgeplate/internal/middleware"
	"github.com/wfunc/bridgeplate/internal/utils"
	"go.uber.org/zap"
)

// Server HTTP服务实例
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	session *session
	http    *http.Server
	errCh   chan error
}

// runServe 启动HTTP/WebSocket服务直到收到退出信号
func runServe(cfg *config.Config, args []string) error {
	server, err := NewServer(cfg)
	if err != nil {
		return err
	}

	server.Start()

	// 监听配置变化
	config.Watch(server.reloadConfig)

	if err := server.WaitForShutdown(); err != nil {
		server.Shutdown()
		return err
	}
	return server.Shutdown()
}

// NewServer 打开设备并创建服务器实例
func NewServer(cfg *config.Config) (*Server, error) {
	log := logger.WithModule("api")
	log.Info("正在启动BRIDGEplate服务...",
		zap.String("version", Version),
		zap.String("mode", cfg.Server.Mode),
	)

	s, err := openSession(cfg)
	if err != nil {
		return nil, err
	}

	gin.SetMode(cfg.Server.Mode)

	// 未配置密钥时不启用认证
	var auth *middleware.AuthMiddleware
	if cfg.Security.JWT.Secret != "" {
		jwt := utils.NewJWTManager(cfg.Security.JWT.Secret, time.Duration(cfg.Security.JWT.ExpireHours)*time.Hour)
		auth = middleware.NewAuthMiddleware(jwt)
	} else {
		log.Warn("security.jwt.secret 未配置，API不做认证")
		auth = middleware.NewAuthMiddleware(nil)
	}

	router := api.NewRouter(api.Options{
		Bridge: s.bridge,
		Logs:   s.logs,
		Auth:   auth,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	return &Server{
		cfg:     cfg,
		logger:  log,
		session: s,
		http: &http.Server{
			Addr:         addr,
			Handler:      router.GetEngine(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		errCh: make(chan error, 1),
	}, nil
}

// Start 在后台启动HTTP服务
func (s *Server) Start() {
	go func() {
		s.logger.Info("服务器启动成功",
			zap.String("http", s.http.Addr),
			zap.String("port", s.session.bridge.Port()))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.errCh <- errors.Wrap(err, errors.ErrUnknown, "HTTP服务异常退出")
		}
	}()
}

// WaitForShutdown 等待退出信号或服务异常
func (s *Server) WaitForShutdown() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh,
		syscall.SIGINT,  // Ctrl+C
		syscall.SIGTERM, // kill命令
	)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		s.logger.Info("收到退出信号", zap.String("signal", sig.String()))
		return nil
	case err := <-s.errCh:
		return err
	}
}

// Shutdown 优雅关闭：先停止接收请求，再关闭串口与日志库
func (s *Server) Shutdown() error {
	s.logger.Info("正在优雅关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	err := s.http.Shutdown(ctx)
	if err != nil {
		s.logger.Warn("关闭超时，强制退出", zap.Error(err))
		err = errors.Wrap(err, errors.ErrTimeout, "关闭超时")
	}

	s.session.Close()
	s.logger.Info("服务器已安全关闭")
	return err
}

// reloadConfig 配置热更新，只应用无需重新打开设备的项
func (s *Server) reloadConfig(newCfg *config.Config) {
	logger.SetLevel(newCfg.Log.Level)
	s.logger.Info("配置重新加载完成", zap.String("log_level", newCfg.Log.Level))
}
