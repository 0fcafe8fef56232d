package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/wfunc/bridgeplate/internal/config"
	"github.com/wfunc/bridgeplate/internal/errors"
	"github.com/wfunc/bridgeplate/internal/logger"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// command 子命令
type command struct {
	name  string
	usage string
	run   func(cfg *config.Config, args []string) error
}

var commands = []command{
	{"ports", "列出主机串口", runPorts},
	{"scan", "扫描总线上的板卡", runScan},
	{"call", "行模式调用 NS.method [参数...]", runCall},
	{"dump", "块模式调用 NS.method，输出到stdout", runDump},
	{"serve", "启动HTTP/WebSocket服务", runServe},
	{"token", "签发API令牌 [-role viewer|operator] <subject>", runToken},
}

func main() {
	// 命令行参数
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		showVersion = flag.Bool("version", false, "显示版本信息")
	)
	flag.Usage = printHelp
	flag.Parse()

	// 显示版本信息
	if *showVersion {
		printVersion()
		return
	}

	if flag.NArg() == 0 {
		printHelp()
		os.Exit(2)
	}

	name, args := flag.Arg(0), flag.Args()[1:]
	var cmd *command
	for i := range commands {
		if commands[i].name == name {
			cmd = &commands[i]
			break
		}
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "未知命令: %s\n\n", name)
		printHelp()
		os.Exit(2)
	}

	// 加载配置
	if err := config.Init(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Get()

	// 初始化日志系统
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Cleanup()

	if err := cmd.run(cfg, args); err != nil {
		if errors.Is(err, errors.ErrDeviceNotFound) {
			fmt.Fprintln(os.Stderr, "BRIDGEplate not found")
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		logger.Cleanup()
		os.Exit(1)
	}
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("BRIDGEplate主机桥接工具\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// printHelp 打印帮助信息
func printHelp() {
	out := flag.CommandLine.Output()
	fmt.Fprintln(out, "BRIDGEplate主机桥接工具")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "用法:")
	fmt.Fprintln(out, "  bridgeplate [选项] <命令> [参数...]")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "命令:")
	for _, c := range commands {
		fmt.Fprintf(out, "  %-8s %s\n", c.name, c.usage)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "选项:")
	flag.PrintDefaults()
	fmt.Fprintln(out)
	fmt.Fprintln(out, "环境变量:")
	fmt.Fprintln(out, "  BRIDGEPLATE_SERIAL_PORT        指定串口，跳过VID/PID查找")
	fmt.Fprintln(out, "  BRIDGEPLATE_SERIAL_MOCK_MODE   使用模拟总线")
	fmt.Fprintln(out, "  BRIDGEPLATE_SECURITY_JWT_SECRET API令牌密钥")
}
