package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mailq/backend/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 管理接口的监听配置
type ServerConfig struct {
	Host            string        // 监听地址，默认 "127.0.0.1"
	Port            int           // 监听端口，默认 8025
	RefreshInterval time.Duration // 定时重新加载队列的间隔，0 表示不自动刷新
	SnapshotDir     string        // HTTP 接口可加载的快照文件目录，为空时禁止通过 HTTP 加载文件
}

// PostfixConfig 定义与 Postfix 交互的参数
type PostfixConfig struct {
	SpoolPath      string        // spool 目录，默认 /var/spool/postfix
	SpoolWorkers   int           // spool 加载时并发运行 postcat 的数量，默认 1
	UseSudo        bool          // 是否通过 sudo 执行外部命令
	SudoCommand    []string      // sudo 前缀，默认 "sudo -n"
	AuthCheckDelay time.Duration // 启动 postsuper 后判断权限失败的等待时间，默认 100ms
}

// CommandsConfig 各外部命令的完整参数列表
type CommandsConfig struct {
	List    []string
	Dump    []string
	Hold    []string
	Release []string
	Requeue []string
	Delete  []string
}

// CacheConfig 邮件内容解析结果缓存
type CacheConfig struct {
	MaxEntries int
	TTL        time.Duration
}

// AlertConfig 队列告警阈值
type AlertConfig struct {
	MaxMessages      int           // 队列邮件总数上限
	MaxDeferredRatio float64       // deferred 邮件占比上限
	MaxStoreAge      time.Duration // 数据最长多久未刷新
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// AuthConfig 管理操作鉴权
type AuthConfig struct {
	AdminKeyHash string  // 管理密钥的 bcrypt 哈希，为空时禁用管理操作接口
	AdminRate    float64 // 每秒允许的管理请求数
	AdminBurst   int
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 控制台格式输出
	File        string // 日志文件，为空时只输出到控制台
}

// Config 是系统配置的根结构体
type Config struct {
	Server   ServerConfig
	Postfix  PostfixConfig
	Commands CommandsConfig
	Cache    CacheConfig
	Alert    AlertConfig
	CORS     CORSConfig
	Auth     AuthConfig
	Log      LogConfig
}

// Load 从配置文件、环境变量和 .env 文件加载配置
//
// 优先级（从高到低）：
//  1. 系统环境变量
//  2. .env 文件（如果存在）
//  3. 配置文件（configFile 或 MAILQ_CONFIG 指定）
//  4. 默认值
//
// 环境变量前缀: MAILQ_，例如 MAILQ_POSTFIX_USE_SUDO、MAILQ_COMMANDS_HOLD
func Load(configFile string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("mailq")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if configFile == "" {
		configFile = os.Getenv("MAILQ_CONFIG")
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	refresh, err := parseDuration(v, "server.refresh_interval")
	if err != nil {
		return nil, err
	}
	authDelay, err := parseDuration(v, "postfix.auth_check_delay")
	if err != nil {
		return nil, err
	}
	cacheTTL, err := parseDuration(v, "cache.ttl")
	if err != nil {
		return nil, err
	}
	storeAge, err := parseDuration(v, "alert.max_store_age")
	if err != nil {
		return nil, err
	}

	commands := CommandsConfig{}
	targets := map[string]*[]string{
		"commands.list":    &commands.List,
		"commands.dump":    &commands.Dump,
		"commands.hold":    &commands.Hold,
		"commands.release": &commands.Release,
		"commands.requeue": &commands.Requeue,
		"commands.delete":  &commands.Delete,
	}
	for key, target := range targets {
		command := getCommand(v, key)
		if len(command) == 0 {
			return nil, fmt.Errorf("%s must not be empty", key)
		}
		*target = command
	}

	useSudo := v.GetBool("postfix.use_sudo")
	sudo := getCommand(v, "postfix.sudo_command")
	if useSudo && len(sudo) == 0 {
		return nil, fmt.Errorf("postfix.sudo_command must not be empty when postfix.use_sudo is enabled")
	}

	port := v.GetInt("server.port")
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid server.port: %d", port)
	}

	workers := v.GetInt("postfix.spool_workers")
	if workers <= 0 {
		workers = 1
	}

	ratio := v.GetFloat64("alert.max_deferred_ratio")
	if ratio < 0 || ratio > 1 {
		return nil, fmt.Errorf("alert.max_deferred_ratio must be between 0 and 1, got %v", ratio)
	}

	corsOrigins := parseList(v.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	adminRate := v.GetFloat64("auth.admin_rate")
	if adminRate <= 0 {
		adminRate = 1
	}
	adminBurst := v.GetInt("auth.admin_burst")
	if adminBurst <= 0 {
		adminBurst = 3
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Port:            port,
			RefreshInterval: refresh,
			SnapshotDir:     strings.TrimSpace(v.GetString("server.snapshot_dir")),
		},
		Postfix: PostfixConfig{
			SpoolPath:      v.GetString("postfix.spool_path"),
			SpoolWorkers:   workers,
			UseSudo:        useSudo,
			SudoCommand:    sudo,
			AuthCheckDelay: authDelay,
		},
		Commands: commands,
		Cache: CacheConfig{
			MaxEntries: v.GetInt("cache.max_entries"),
			TTL:        cacheTTL,
		},
		Alert: AlertConfig{
			MaxMessages:      v.GetInt("alert.max_messages"),
			MaxDeferredRatio: ratio,
			MaxStoreAge:      storeAge,
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Auth: AuthConfig{
			AdminKeyHash: strings.TrimSpace(v.GetString("auth.admin_key_hash")),
			AdminRate:    adminRate,
			AdminBurst:   adminBurst,
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
		},
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8025)
	v.SetDefault("server.refresh_interval", "0s")
	v.SetDefault("server.snapshot_dir", "")
	v.SetDefault("postfix.spool_path", "/var/spool/postfix")
	v.SetDefault("postfix.spool_workers", 1)
	v.SetDefault("postfix.use_sudo", false)
	v.SetDefault("postfix.sudo_command", "sudo -n")
	v.SetDefault("postfix.auth_check_delay", "100ms")
	v.SetDefault("commands.list", "postqueue -p")
	v.SetDefault("commands.dump", "postcat -qv")
	v.SetDefault("commands.hold", "postsuper -h -")
	v.SetDefault("commands.release", "postsuper -H -")
	v.SetDefault("commands.requeue", "postsuper -r -")
	v.SetDefault("commands.delete", "postsuper -d -")
	v.SetDefault("cache.max_entries", 1000)
	v.SetDefault("cache.ttl", "10m")
	v.SetDefault("alert.max_messages", 5000)
	v.SetDefault("alert.max_deferred_ratio", 0.8)
	v.SetDefault("alert.max_store_age", "15m")
	v.SetDefault("cors.allowed_origins", "*")
	v.SetDefault("auth.admin_key_hash", "")
	v.SetDefault("auth.admin_rate", 1)
	v.SetDefault("auth.admin_burst", 3)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
}

// Addr 返回 HTTP 监听地址
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// Sudo 返回外部命令前缀，未启用 sudo 时为 nil
func (c *Config) Sudo() []string {
	if !c.Postfix.UseSudo {
		return nil
	}
	return append([]string{}, c.Postfix.SudoCommand...)
}

// Logger 转换为日志模块的配置
func (l LogConfig) Logger() logger.Config {
	return logger.Config{
		Level:       l.Level,
		Development: l.Development,
		File:        l.File,
		Compress:    true,
	}
}

// getCommand 读取命令配置，支持字符串（按空白拆分）或配置文件中的列表
func getCommand(v *viper.Viper, key string) []string {
	if list, ok := v.Get(key).([]interface{}); ok {
		command := make([]string, 0, len(list))
		for _, item := range list {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				command = append(command, s)
			}
		}
		return command
	}
	return parseCommand(v.GetString(key))
}

// parseCommand 按空白拆分命令行
func parseCommand(value string) []string {
	return strings.Fields(value)
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env
//
// 文件不存在时静默跳过，已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
