package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
	JSON       bool   `yaml:"json" json:"json"`
}

// RateLimitConfig 价格查询限流配置
type RateLimitConfig struct {
	MaxRequests int `yaml:"max_requests" json:"max_requests"`
	WindowMs    int `yaml:"window_ms" json:"window_ms"`
}

// MonitorConfig 监控循环配置
type MonitorConfig struct {
	IdleWaitMs     int  `yaml:"idle_wait_ms" json:"idle_wait_ms"`
	ProbeTimeoutMs int  `yaml:"probe_timeout_ms" json:"probe_timeout_ms"`
	AutoStart      bool `yaml:"auto_start" json:"auto_start"`
}

// LadderTimingConfig 阶梯下单节奏配置（0 表示使用默认值）
type LadderTimingConfig struct {
	PollMs            int    `yaml:"poll_ms" json:"poll_ms"`
	ErrorBackoffMs    int    `yaml:"error_backoff_ms" json:"error_backoff_ms"`
	RetryMs           int    `yaml:"retry_ms" json:"retry_ms"`
	WaitMs            int    `yaml:"wait_ms" json:"wait_ms"`
	UnavailableWaitMs int    `yaml:"unavailable_wait_ms" json:"unavailable_wait_ms"`
	MaxDuration       string `yaml:"max_duration" json:"max_duration"` // 例如 "1h"
}

// StorageConfig 存储配置
type StorageConfig struct {
	StateDir  string `yaml:"state_dir" json:"state_dir"`   // 注册表快照（JSON）
	SecretDB  string `yaml:"secret_db" json:"secret_db"`   // 会话凭据（Badger）
	JournalDB string `yaml:"journal_db" json:"journal_db"` // 阶梯结果日志（sqlite）
}

// APIConfig 管理接口配置
type APIConfig struct {
	Listen string `yaml:"listen" json:"listen"`
	Token  string `yaml:"token" json:"token"` // 为空则不鉴权
}

// MetricsConfig 指标服务配置
type MetricsConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// AccountConfig 静态账户配置
type AccountConfig struct {
	ID         string `yaml:"id" json:"id"`
	Name       string `yaml:"name" json:"name"`
	AccountKey string `yaml:"account_key" json:"account_key"`
	Venue      string `yaml:"venue" json:"venue"` // tms | ats
	Role       string `yaml:"role" json:"role"`   // price | order | both | none
	Endpoint   string `yaml:"endpoint" json:"endpoint"`
	Enabled    *bool  `yaml:"enabled" json:"enabled"`
	Broker     string `yaml:"broker" json:"broker"`
	AcntID     string `yaml:"acntid" json:"acntid"`
	ClientAcc  string `yaml:"client_acc" json:"client_acc"`
}

// InstrumentConfig 监控标的配置
type InstrumentConfig struct {
	Symbol      string  `yaml:"symbol" json:"symbol"`
	Enabled     *bool   `yaml:"enabled" json:"enabled"`
	TargetPrice float64 `yaml:"target_price" json:"target_price"`
	Qty         int     `yaml:"qty" json:"qty"`
	Condition   string  `yaml:"condition" json:"condition"` // lte | gte
}

// LadderConfig 单个 (accountKey, symbol) 的阶梯配置
type LadderConfig struct {
	OrderQty    int      `yaml:"order_qty" json:"order_qty"`
	MaxOrderQty int      `yaml:"max_order_qty" json:"max_order_qty"`
	OrderPrice  *float64 `yaml:"order_price" json:"order_price"` // 未设置时取默认值；0 表示用证券的 DPR 上限
	BelowPrice  float64  `yaml:"below_price" json:"below_price"`
	Collateral  float64  `yaml:"collateral" json:"collateral"`
}

// ConfigFile 配置文件结构
type ConfigFile struct {
	Log         LogConfig                          `yaml:"log" json:"log"`
	RateLimit   RateLimitConfig                    `yaml:"rate_limit" json:"rate_limit"`
	Monitor     MonitorConfig                      `yaml:"monitor" json:"monitor"`
	Ladder      LadderTimingConfig                 `yaml:"ladder" json:"ladder"`
	Storage     StorageConfig                      `yaml:"storage" json:"storage"`
	API         APIConfig                          `yaml:"api" json:"api"`
	Metrics     MetricsConfig                      `yaml:"metrics" json:"metrics"`
	Accounts    []AccountConfig                    `yaml:"accounts" json:"accounts"`
	Instruments []InstrumentConfig                 `yaml:"instruments" json:"instruments"`
	Ladders     map[string]map[string]LadderConfig `yaml:"ladders" json:"ladders"`
}

// Config 运行时配置（文件 + 环境变量合并后的结果）
type Config struct {
	ConfigFile

	SecretKey         string        // 来自环境变量，不写入配置文件
	RateLimitWindow   time.Duration // 由 RateLimit.WindowMs 解析
	IdleWait          time.Duration
	ProbeTimeout      time.Duration
	LadderMaxDuration time.Duration
}

var (
	globalConfig *Config
	configMu     sync.RWMutex
)

// Load 从默认路径加载配置
func Load() (*Config, error) {
	return LoadFromFile(getEnv("CIRCUITBOT_CONFIG", "config.yaml"))
}

// LoadFromFile 从指定文件加载配置；文件不存在时只使用环境变量和默认值
func LoadFromFile(filePath string) (*Config, error) {
	cf := &ConfigFile{}
	if filePath != "" {
		if _, err := os.Stat(filePath); err == nil {
			loaded, err := loadConfigFile(filePath)
			if err != nil {
				return nil, err
			}
			cf = loaded
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	applyDefaults(cf)
	applyEnv(cf)

	cfg := &Config{ConfigFile: *cf}
	cfg.SecretKey = getEnv("CIRCUITBOT_SECRET_KEY", "")
	cfg.RateLimitWindow = time.Duration(cf.RateLimit.WindowMs) * time.Millisecond
	cfg.IdleWait = time.Duration(cf.Monitor.IdleWaitMs) * time.Millisecond
	cfg.ProbeTimeout = time.Duration(cf.Monitor.ProbeTimeoutMs) * time.Millisecond
	d, err := time.ParseDuration(cf.Ladder.MaxDuration)
	if err != nil {
		return nil, fmt.Errorf("ladder.max_duration 无效: %w", err)
	}
	cfg.LadderMaxDuration = d

	configMu.Lock()
	globalConfig = cfg
	configMu.Unlock()
	return cfg, nil
}

// Get 获取最近一次加载的配置
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var configFile ConfigFile
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}

	return &configFile, nil
}

func applyDefaults(cf *ConfigFile) {
	if cf.Log.Level == "" {
		cf.Log.Level = "info"
	}
	if cf.Log.File == "" {
		cf.Log.File = "logs/circuitbot.log"
	}
	if cf.Log.MaxSizeMB == 0 {
		cf.Log.MaxSizeMB = 100
	}
	if cf.Log.MaxBackups == 0 {
		cf.Log.MaxBackups = 3
	}
	if cf.Log.MaxAgeDays == 0 {
		cf.Log.MaxAgeDays = 7
	}
	if cf.RateLimit.MaxRequests == 0 {
		cf.RateLimit.MaxRequests = 2
	}
	if cf.RateLimit.WindowMs == 0 {
		cf.RateLimit.WindowMs = 1000
	}
	if cf.Monitor.IdleWaitMs == 0 {
		cf.Monitor.IdleWaitMs = 5000
	}
	if cf.Monitor.ProbeTimeoutMs == 0 {
		cf.Monitor.ProbeTimeoutMs = 30000
	}
	if cf.Ladder.MaxDuration == "" {
		cf.Ladder.MaxDuration = "1h"
	}
	if cf.Storage.StateDir == "" {
		cf.Storage.StateDir = "data/state"
	}
	if cf.Storage.SecretDB == "" {
		cf.Storage.SecretDB = "data/secrets"
	}
	if cf.Storage.JournalDB == "" {
		cf.Storage.JournalDB = "data/journal.db"
	}
	if cf.API.Listen == "" {
		cf.API.Listen = ":3000"
	}
}

// applyEnv 环境变量覆盖配置文件
func applyEnv(cf *ConfigFile) {
	cf.Log.Level = getEnv("CIRCUITBOT_LOG_LEVEL", cf.Log.Level)
	cf.Log.File = getEnv("CIRCUITBOT_LOG_FILE", cf.Log.File)
	cf.Log.JSON = parseBoolEnv("CIRCUITBOT_LOG_JSON", cf.Log.JSON)
	cf.RateLimit.MaxRequests = parseIntEnv("CIRCUITBOT_RATE_LIMIT_MAX", cf.RateLimit.MaxRequests)
	cf.RateLimit.WindowMs = parseIntEnv("CIRCUITBOT_RATE_LIMIT_WINDOW_MS", cf.RateLimit.WindowMs)
	cf.Monitor.AutoStart = parseBoolEnv("CIRCUITBOT_AUTO_START", cf.Monitor.AutoStart)
	cf.Storage.StateDir = getEnv("CIRCUITBOT_STATE_DIR", cf.Storage.StateDir)
	cf.Storage.SecretDB = getEnv("CIRCUITBOT_SECRET_DB", cf.Storage.SecretDB)
	cf.Storage.JournalDB = getEnv("CIRCUITBOT_JOURNAL_DB", cf.Storage.JournalDB)
	cf.API.Listen = getEnv("CIRCUITBOT_LISTEN", cf.API.Listen)
	cf.API.Token = getEnv("CIRCUITBOT_API_TOKEN", cf.API.Token)
	cf.Metrics.Addr = getEnv("CIRCUITBOT_METRICS_ADDR", cf.Metrics.Addr)
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rate_limit.max_requests 必须大于 0")
	}
	if c.RateLimit.WindowMs <= 0 {
		return fmt.Errorf("rate_limit.window_ms 必须大于 0")
	}
	if c.LadderMaxDuration <= 0 {
		return fmt.Errorf("ladder.max_duration 必须大于 0")
	}

	seen := make(map[string]bool)
	for i, a := range c.Accounts {
		if a.ID == "" {
			return fmt.Errorf("accounts[%d].id 不能为空", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("账户 ID 重复: %s", a.ID)
		}
		seen[a.ID] = true
		switch a.Venue {
		case "tms", "ats":
		default:
			return fmt.Errorf("账户 %s 的 venue 无效: %q (支持 tms, ats)", a.ID, a.Venue)
		}
		switch a.Role {
		case "", "price", "order", "both", "none":
		default:
			return fmt.Errorf("账户 %s 的 role 无效: %q", a.ID, a.Role)
		}
		if a.Endpoint == "" {
			return fmt.Errorf("账户 %s 缺少 endpoint", a.ID)
		}
	}

	for i, in := range c.Instruments {
		if strings.TrimSpace(in.Symbol) == "" {
			return fmt.Errorf("instruments[%d].symbol 不能为空", i)
		}
		switch in.Condition {
		case "", "lte", "gte":
		default:
			return fmt.Errorf("标的 %s 的 condition 无效: %q", in.Symbol, in.Condition)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
