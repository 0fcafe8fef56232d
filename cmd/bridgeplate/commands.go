package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/wfunc/bridgeplate/internal/config"
	"github.com/wfunc/bridgeplate/internal/database"
	"github.com/wfunc/bridgeplate/internal/errors"
	"github.com/wfunc/bridgeplate/internal/hardware"
	"github.com/wfunc/bridgeplate/internal/logger"
	"github.com/wfunc/bridgeplate/internal/service"
	"github.com/wfunc/bridgeplate/internal/utils"
	"go.uber.org/zap"
)

// bridgeConfig 将串口配置转换为硬件层配置
func bridgeConfig(cfg *config.SerialConfig) (hardware.BridgeConfig, error) {
	boards, err := hardware.ParseMockBoards(cfg.MockBoards)
	if err != nil {
		return hardware.BridgeConfig{}, err
	}
	return hardware.BridgeConfig{
		VID:              cfg.VID,
		PID:              cfg.PID,
		Port:             cfg.Port,
		Driver:           cfg.Driver,
		BaudRate:         cfg.BaudRate,
		ReadTimeout:      cfg.ReadTimeout,
		BlockIdleTimeout: cfg.BlockIdleTimeout,
		PollInterval:     cfg.PollInterval,
		MockMode:         cfg.MockMode,
		MockBoards:       boards,
	}, nil
}

// session 一次命令执行期间打开的资源
type session struct {
	bridge *hardware.Bridge
	logs   *service.SerialLogService
}

// openSession 打开BRIDGEplate；启用数据库时记录每次收发
func openSession(cfg *config.Config) (*session, error) {
	bcfg, err := bridgeConfig(&cfg.Serial)
	if err != nil {
		return nil, err
	}
	bridge, err := hardware.Open(bcfg, hardware.NewPortLocator(nil))
	if err != nil {
		return nil, err
	}

	s := &session{bridge: bridge}
	if cfg.Database.Enabled {
		logs, err := openExchangeLog(&cfg.Database)
		if err != nil {
			// 日志库不可用不影响对板卡的操作
			logger.Warn("串口日志数据库不可用", zap.Error(err))
		} else {
			s.logs = logs
			bridge.SetRecorder(logs)
		}
	}
	return s, nil
}

// openExchangeLog 初始化数据库与串口日志服务
func openExchangeLog(cfg *config.DatabaseConfig) (*service.SerialLogService, error) {
	if err := database.Init(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabaseConnect, "初始化数据库连接失败")
	}
	if cfg.AutoMigrate {
		if err := database.AutoMigrate(); err != nil {
			database.Close()
			return nil, errors.Wrap(err, errors.ErrDatabaseConnect, "数据库迁移失败")
		}
	}
	return service.NewSerialLogService(database.GetDB()), nil
}

func (s *session) Close() {
	if err := s.bridge.Close(); err != nil {
		logger.Warn("关闭串口失败", zap.Error(err))
	}
	if s.logs != nil {
		s.logs.Close()
		database.Close()
	}
}

// runPorts 列出主机串口，标记BRIDGEplate
func runPorts(cfg *config.Config, args []string) error {
	ports, err := hardware.NewPortLocator(nil).List()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PORT\tVID\tPID\tSERIAL\t")
	for _, p := range ports {
		mark := ""
		if strings.EqualFold(p.VID, cfg.Serial.VID) && strings.EqualFold(p.PID, cfg.Serial.PID) {
			mark = "BRIDGEplate"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.Name, p.VID, p.PID, p.SerialNumber, mark)
	}
	return w.Flush()
}

// runScan 扫描总线并打印在位表
func runScan(cfg *config.Config, args []string) error {
	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	matrix, err := s.bridge.Scan()
	if err != nil {
		return err
	}
	return matrix.Format(os.Stdout)
}

// parseTarget 解析 NS.method
func parseTarget(target string) (hardware.Namespace, string, error) {
	nsText, method, ok := strings.Cut(target, ".")
	if !ok || method == "" {
		return "", "", errors.Newf(errors.ErrInvalidParam, "需要 NS.method 形式: %q", target)
	}
	ns, err := hardware.ParseNamespace(nsText)
	if err != nil {
		return "", "", err
	}
	return ns, method, nil
}

// runCall 行模式调用，打印解析后的应答
func runCall(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return errors.New(errors.ErrInvalidParam, "用法: call NS.method [参数...]")
	}
	ns, method, err := parseTarget(args[0])
	if err != nil {
		return err
	}
	callArgs := make([]interface{}, 0, len(args)-1)
	for _, a := range args[1:] {
		callArgs = append(callArgs, a)
	}

	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	value, err := s.bridge.Call(ns, method, callArgs...)
	if err != nil {
		return err
	}
	fmt.Println(value.String())
	return nil
}

// runDump 块模式调用，输出直接写到stdout
func runDump(cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return errors.New(errors.ErrInvalidParam, "用法: dump NS.method")
	}
	ns, method, err := parseTarget(args[0])
	if err != nil {
		return err
	}

	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	_, complete, err := s.bridge.Dump(ns, method, os.Stdout)
	if err != nil {
		return err
	}
	if !complete {
		fmt.Fprintf(os.Stderr, "警告: %s 在 %s 内没有新数据，输出可能不完整\n", args[0], cfg.Serial.BlockIdleTimeout)
	}
	return nil
}

// runToken 签发API令牌
func runToken(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	role := fs.String("role", utils.RoleViewer, "令牌角色 viewer|operator")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New(errors.ErrInvalidParam, "用法: token [-role viewer|operator] <subject>")
	}
	if *role != utils.RoleViewer && *role != utils.RoleOperator {
		return errors.Newf(errors.ErrInvalidParam, "未知角色: %s", *role)
	}
	if cfg.Security.JWT.Secret == "" {
		return errors.New(errors.ErrConfigMissing, "security.jwt.secret 未配置")
	}

	jwt := utils.NewJWTManager(cfg.Security.JWT.Secret, time.Duration(cfg.Security.JWT.ExpireHours)*time.Hour)
	token, err := jwt.GenerateToken(fs.Arg(0), *role)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
