package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Serial   SerialConfig   `mapstructure:"serial"`
	Log      LogConfig      `mapstructure:"log"`
	Security SecurityConfig `mapstructure:"security"`
}

// ServerConfig HTTP服务配置
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig 数据库配置（串口通信日志）
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SerialConfig 串口配置
type SerialConfig struct {
	VID              string           `mapstructure:"vid"`                // USB厂商ID
	PID              string           `mapstructure:"pid"`                // USB产品ID
	Port             string           `mapstructure:"port"`               // 指定串口（为空时按VID/PID自动查找）
	Driver           string           `mapstructure:"driver"`             // 串口驱动 bugst | tarm
	BaudRate         int              `mapstructure:"baud_rate"`
	ReadTimeout      time.Duration    `mapstructure:"read_timeout"`       // 行模式整体读取超时
	BlockIdleTimeout time.Duration    `mapstructure:"block_idle_timeout"` // 块模式无数据超时
	PollInterval     time.Duration    `mapstructure:"poll_interval"`      // 轮询间隔
	MockMode         bool             `mapstructure:"mock_mode"`          // 调试模式（使用模拟总线）
	MockBoards       map[string][]int `mapstructure:"mock_boards"`        // 模拟总线上的板卡地址
}

// LogConfig 日志配置
type LogConfig struct {
	Level   string            `mapstructure:"level"`
	Format  string            `mapstructure:"format"`
	Output  string            `mapstructure:"output"`
	File    LogFileConfig     `mapstructure:"file"`
	Modules map[string]string `mapstructure:"modules"`
}

// LogFileConfig 日志文件配置
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	JWT JWTConfig `mapstructure:"jwt"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
	v    *viper.Viper
)

// Init 初始化配置
func Init(configPath string) error {
	var err error
	once.Do(func() {
		// .env 文件可选
		_ = godotenv.Load()

		v = viper.New()

		// 设置配置文件路径
		if configPath != "" {
			v.SetConfigFile(configPath)
		} else {
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			v.AddConfigPath("./config")
			v.AddConfigPath(".")
		}

		// 设置环境变量前缀
		v.SetEnvPrefix("BRIDGEPLATE")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		// 设置默认值
		setDefaults(v)

		// 读取配置文件
		if err = v.ReadInConfig(); err != nil {
			// 如果配置文件不存在，使用默认配置
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return
			}
			err = nil
		}

		loaded := &Config{}
		if err = v.Unmarshal(loaded); err != nil {
			return
		}
		if err = loaded.Validate(); err != nil {
			return
		}

		mu.Lock()
		cfg = loaded
		mu.Unlock()
	})

	return err
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 串口默认配置
	v.SetDefault("serial.vid", "2E8A")
	v.SetDefault("serial.pid", "10E3")
	v.SetDefault("serial.port", "")
	v.SetDefault("serial.driver", "bugst")
	v.SetDefault("serial.baud_rate", 115200)
	v.SetDefault("serial.read_timeout", "20s")
	v.SetDefault("serial.block_idle_timeout", "5s")
	v.SetDefault("serial.poll_interval", "10ms")
	v.SetDefault("serial.mock_mode", false)

	// 服务器默认配置
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.mode", "release")
	// 块模式输出可能持续数秒，写超时需覆盖整体读取超时
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// 数据库默认配置
	v.SetDefault("database.enabled", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/bridgeplate.db")
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.auto_migrate", true)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "bridgeplate.log")
	v.SetDefault("log.file.max_size", 100)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 7)
	v.SetDefault("log.file.compress", true)

	// 安全默认配置
	v.SetDefault("security.jwt.secret", "")
	v.SetDefault("security.jwt.expire_hours", 24)
}

// Validate 校验配置
func (c *Config) Validate() error {
	if !isHex4(c.Serial.VID) || !isHex4(c.Serial.PID) {
		return fmt.Errorf("serial.vid/serial.pid 必须为4位十六进制: vid=%q pid=%q", c.Serial.VID, c.Serial.PID)
	}
	switch c.Serial.Driver {
	case "bugst", "tarm":
	default:
		return fmt.Errorf("不支持的串口驱动: %s", c.Serial.Driver)
	}
	if c.Serial.ReadTimeout <= 0 || c.Serial.BlockIdleTimeout <= 0 || c.Serial.PollInterval <= 0 {
		return fmt.Errorf("串口超时配置必须大于0")
	}
	return nil
}

func isHex4(s string) bool {
	if len(s) != 4 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}

// Get 获取配置实例
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Watch 监听配置文件变化
func Watch(callback func(*Config)) {
	if v == nil || v.ConfigFileUsed() == "" {
		return
	}
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		newCfg := &Config{}
		if err := v.Unmarshal(newCfg); err != nil {
			fmt.Printf("配置重载失败: %v\n", err)
			return
		}
		if err := newCfg.Validate(); err != nil {
			fmt.Printf("配置校验失败，忽略本次变更: %v\n", err)
			return
		}

		mu.Lock()
		cfg = newCfg
		mu.Unlock()

		if callback != nil {
			callback(newCfg)
		}

		fmt.Printf("配置已重新加载: %s\n", e.Name)
	})
}

// Set 动态设置配置值
func Set(key string, value interface{}) {
	v.Set(key, value)
}
