package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig 应用基础信息
type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

// HTTPConfig 运维端点（健康检查/指标）配置
type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

// ReaderConfig 读头连接配置（客户端模式）
type ReaderConfig struct {
	// ConnType tcp | serial | simulated | bluetooth
	ConnType string `mapstructure:"connType"`
	// Addr 读头 IP（tcp 模式）
	Addr string `mapstructure:"addr"`
	// Port 读头命令口，Chafon 系默认 4001
	Port int `mapstructure:"port"`
	// SerialPath 串口设备路径（serial 模式），如 /dev/ttyUSB0
	SerialPath string `mapstructure:"serialPath"`
	// SerialBaud 串口波特率
	SerialBaud int `mapstructure:"serialBaud"`
	// DeviceAddr 帧地址，0xFF 为广播
	DeviceAddr byte `mapstructure:"deviceAddr"`
	// DialTimeout 建连超时
	DialTimeout time.Duration `mapstructure:"dialTimeout"`
	// RequestTimeout 单次命令应答超时
	RequestTimeout time.Duration `mapstructure:"requestTimeout"`
	// ReadTimeout 扫描循环单次读超时（决定取消响应粒度）
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
	// SimInterval 模拟模式合成标签的间隔
	SimInterval time.Duration `mapstructure:"simInterval"`
	// SimFixture 模拟模式 EPC 池文件（yaml，可为空）
	SimFixture string `mapstructure:"simFixture"`
}

// PushConfig 推送模式监听配置（设备主动建连）
type PushConfig struct {
	Enable           bool          `mapstructure:"enable"`
	Addr             string        `mapstructure:"addr"`
	ReadTimeout      time.Duration `mapstructure:"readTimeout"`
	MaxConnections   int           `mapstructure:"maxConnections"`
	AcceptRatePerSec int           `mapstructure:"acceptRatePerSec"`
	AcceptBurst      int           `mapstructure:"acceptBurst"`
}

// StoreConfig 标签缓存配置
type StoreConfig struct {
	// TTL 超过该时长未再读到的记录被清理
	TTL time.Duration `mapstructure:"ttl"`
	// CleanupInterval 后台清理周期，0 关闭后台清理
	CleanupInterval time.Duration `mapstructure:"cleanupInterval"`
	// MaxRecords 记录列表上限，超出后淘汰最旧
	MaxRecords int `mapstructure:"maxRecords"`
}

// LumberjackConfig 日志滚动（lumberjack）配置
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig 日志级别与输出配置
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig Prometheus 指标暴露配置
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// Config 顶层配置结构
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Reader  ReaderConfig  `mapstructure:"reader"`
	Push    PushConfig    `mapstructure:"push"`
	Store   StoreConfig   `mapstructure:"store"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// Load 从 YAML/TOML/JSON 文件与环境变量加载配置。
// 若 path 为空，则尝试从环境变量 RFID_CONFIG 读取；否则回退到 configs/example.yaml。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = v.GetString("RFID_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("example")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	// 环境变量覆盖：前缀 RFID_，点号替换为下划线
	v.SetEnvPrefix("RFID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// 首次运行允许缺少配置文件，依赖默认值与环境变量
		var notFound viper.ConfigFileNotFoundError
		if fmt.Sprintf("%T", err) != fmt.Sprintf("%T", notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "rfid-server")
	v.SetDefault("app.env", "dev")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "10s")

	v.SetDefault("reader.connType", "tcp")
	v.SetDefault("reader.addr", "192.168.1.190")
	v.SetDefault("reader.port", 4001)
	v.SetDefault("reader.serialPath", "/dev/ttyUSB0")
	v.SetDefault("reader.serialBaud", 57600)
	v.SetDefault("reader.deviceAddr", 0xFF)
	v.SetDefault("reader.dialTimeout", "5s")
	v.SetDefault("reader.requestTimeout", "2s")
	v.SetDefault("reader.readTimeout", "500ms")
	v.SetDefault("reader.simInterval", "300ms")

	v.SetDefault("push.enable", false)
	v.SetDefault("push.addr", ":9090")
	v.SetDefault("push.readTimeout", "300s")
	v.SetDefault("push.maxConnections", 64)
	v.SetDefault("push.acceptRatePerSec", 10)
	v.SetDefault("push.acceptBurst", 20)

	v.SetDefault("store.ttl", "10m")
	v.SetDefault("store.cleanupInterval", "1m")
	v.SetDefault("store.maxRecords", 10000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.filename", "logs/rfid-server.log")
	v.SetDefault("logging.file.maxSize", 100)
	v.SetDefault("logging.file.maxBackups", 7)
	v.SetDefault("logging.file.maxAge", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")
}
