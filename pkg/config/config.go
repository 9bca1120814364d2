package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 做市机器人配置
type Config struct {
	Symbol          string
	OrderSize       float64 // 买单固定数量
	MaxSizeMultiple float64 // 卖单上限 = OrderSize * MaxSizeMultiple；0 表示卖出全部余额
	PriceIncrement  float64
	SizeIncrement   float64
	MinOrderSize    float64 // 余额低于此值挂买单，否则挂卖单

	ReconcileInterval time.Duration // 慢定时器：余额 + 挂单全量同步
	ExecuteInterval   time.Duration // 快定时器：执行决策
	SubscribeDelay    time.Duration // 两次订阅之间的间隔
	ShutdownTimeout   time.Duration

	RestBaseURL string
	WSURL       string
	HTTPTimeout time.Duration

	LogLevel string
	LogFile  string

	StatusAddr string // 为空不启动状态服务
	Dashboard  bool
	StateDir   string
	DryRun     bool

	Credentials Credentials
}

// Credentials API 凭证
type Credentials struct {
	APIKey    string
	SecretKey string

	SecretDB  string // Badger 凭证库（可选）
	SecretKEK string // Badger 加密 key（hex/base64）
}

// ConfigFile 配置文件结构（YAML/JSON）
type ConfigFile struct {
	Symbol            string  `yaml:"symbol" json:"symbol"`
	OrderSize         float64 `yaml:"order_size" json:"order_size"`
	MaxSizeMultiple   float64 `yaml:"max_size_multiple" json:"max_size_multiple"`
	PriceIncrement    float64 `yaml:"price_increment" json:"price_increment"`
	SizeIncrement     float64 `yaml:"size_increment" json:"size_increment"`
	MinOrderSize      float64 `yaml:"min_order_size" json:"min_order_size"`
	ReconcileInterval string  `yaml:"reconcile_interval" json:"reconcile_interval"`
	ExecuteInterval   string  `yaml:"execute_interval" json:"execute_interval"`
	SubscribeDelay    string  `yaml:"subscribe_delay" json:"subscribe_delay"`
	ShutdownTimeout   string  `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	RestBaseURL       string  `yaml:"rest_base_url" json:"rest_base_url"`
	WSURL             string  `yaml:"ws_url" json:"ws_url"`
	HTTPTimeout       string  `yaml:"http_timeout" json:"http_timeout"`
	LogLevel          string  `yaml:"log_level" json:"log_level"`
	LogFile           string  `yaml:"log_file" json:"log_file"`
	StatusAddr        string  `yaml:"status_addr" json:"status_addr"`
	Dashboard         *bool   `yaml:"dashboard" json:"dashboard"`
	StateDir          string  `yaml:"state_dir" json:"state_dir"`
	DryRun            *bool   `yaml:"dry_run" json:"dry_run"`
	SecretDB          string  `yaml:"secret_db" json:"secret_db"`
}

// 默认值
const (
	DefaultSymbol         = "btc_jpy"
	DefaultOrderSize      = 0.02
	DefaultPriceIncrement = 1.0
	DefaultSizeIncrement  = 0.00000001
	DefaultMinOrderSize   = 0.005
	DefaultRestBaseURL    = "https://coincheck.com"
	DefaultWSURL          = "wss://ws-api.coincheck.com"
)

// Load 加载配置：环境变量 > 配置文件 > 默认值
// filePath 为空时只使用环境变量和默认值
func Load(filePath string) (*Config, error) {
	cf := &ConfigFile{}
	if filePath != "" {
		var err error
		cf, err = loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
	}

	var err error
	durations := map[string]time.Duration{}
	for _, d := range []struct {
		key, env, file string
		def            time.Duration
	}{
		{"reconcile", "RECONCILE_INTERVAL", cf.ReconcileInterval, 20 * time.Second},
		{"execute", "EXECUTE_INTERVAL", cf.ExecuteInterval, 200 * time.Millisecond},
		{"subscribe", "SUBSCRIBE_DELAY", cf.SubscribeDelay, time.Second},
		{"shutdown", "SHUTDOWN_TIMEOUT", cf.ShutdownTimeout, 10 * time.Second},
		{"http", "HTTP_TIMEOUT", cf.HTTPTimeout, 10 * time.Second},
	} {
		durations[d.key], err = parseDurationEnv(d.env, d.file, d.def)
		if err != nil {
			return nil, err
		}
	}

	config := &Config{
		Symbol:            getEnv("SYMBOL", orString(cf.Symbol, DefaultSymbol)),
		OrderSize:         parseFloatEnv("ORDER_SIZE", orFloat(cf.OrderSize, DefaultOrderSize)),
		MaxSizeMultiple:   parseFloatEnv("MAX_SIZE_MULTIPLE", cf.MaxSizeMultiple),
		PriceIncrement:    parseFloatEnv("PRICE_INCREMENT", orFloat(cf.PriceIncrement, DefaultPriceIncrement)),
		SizeIncrement:     parseFloatEnv("SIZE_INCREMENT", orFloat(cf.SizeIncrement, DefaultSizeIncrement)),
		MinOrderSize:      parseFloatEnv("MIN_ORDER_SIZE", orFloat(cf.MinOrderSize, DefaultMinOrderSize)),
		ReconcileInterval: durations["reconcile"],
		ExecuteInterval:   durations["execute"],
		SubscribeDelay:    durations["subscribe"],
		ShutdownTimeout:   durations["shutdown"],
		RestBaseURL:       strings.TrimRight(getEnv("REST_BASE_URL", orString(cf.RestBaseURL, DefaultRestBaseURL)), "/"),
		WSURL:             getEnv("WS_URL", orString(cf.WSURL, DefaultWSURL)),
		HTTPTimeout:       durations["http"],
		LogLevel:          getEnv("LOG_LEVEL", orString(cf.LogLevel, "info")),
		LogFile:           getEnv("LOG_FILE", cf.LogFile),
		StatusAddr:        getEnv("STATUS_ADDR", cf.StatusAddr),
		Dashboard:         parseBoolEnv("DASHBOARD", orBool(cf.Dashboard, false)),
		StateDir:          getEnv("STATE_DIR", orString(cf.StateDir, "data/state")),
		DryRun:            parseBoolEnv("DRY_RUN", orBool(cf.DryRun, false)),
		Credentials: Credentials{
			APIKey:    strings.TrimSpace(os.Getenv("API_KEY")),
			SecretKey: strings.TrimSpace(os.Getenv("SECRET_KEY")),
			SecretDB:  getEnv("CC_SECRET_DB", cf.SecretDB),
			SecretKEK: strings.TrimSpace(os.Getenv("CC_SECRET_KEY")),
		},
	}
	return config, nil
}

// MaxSellSize 卖单数量上限；0 表示不限制
func (c *Config) MaxSellSize() float64 {
	if c.MaxSizeMultiple <= 0 {
		return 0
	}
	return c.OrderSize * c.MaxSizeMultiple
}

// HasCredentials 是否已有 API 凭证
func (c *Config) HasCredentials() bool {
	return c.Credentials.APIKey != "" && c.Credentials.SecretKey != ""
}

// Validate 验证配置
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Symbol) == "" {
		return fmt.Errorf("SYMBOL 未配置")
	}
	if c.OrderSize <= 0 {
		return fmt.Errorf("ORDER_SIZE 必须大于 0")
	}
	if c.MaxSizeMultiple < 0 {
		return fmt.Errorf("MAX_SIZE_MULTIPLE 不能为负数")
	}
	if c.PriceIncrement <= 0 {
		return fmt.Errorf("PRICE_INCREMENT 必须大于 0")
	}
	if c.SizeIncrement <= 0 {
		return fmt.Errorf("SIZE_INCREMENT 必须大于 0")
	}
	if c.MinOrderSize <= 0 {
		return fmt.Errorf("MIN_ORDER_SIZE 必须大于 0")
	}
	if c.MinOrderSize > c.OrderSize {
		return fmt.Errorf("MIN_ORDER_SIZE(%v) 不能大于 ORDER_SIZE(%v)", c.MinOrderSize, c.OrderSize)
	}
	if c.ReconcileInterval <= 0 || c.ExecuteInterval <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL/EXECUTE_INTERVAL 必须大于 0")
	}
	if c.SubscribeDelay < 0 {
		return fmt.Errorf("SUBSCRIBE_DELAY 不能为负数")
	}
	if c.ShutdownTimeout <= 0 || c.HTTPTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT/HTTP_TIMEOUT 必须大于 0")
	}
	if c.RestBaseURL == "" || c.WSURL == "" {
		return fmt.Errorf("REST_BASE_URL/WS_URL 不能为空")
	}
	if !c.HasCredentials() {
		return fmt.Errorf("API_KEY/SECRET_KEY 未配置（环境变量、.env 或 Badger 凭证库）")
	}
	return nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON）
func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var configFile ConfigFile
	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
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

func orString(v, def string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func orFloat(v, def float64) float64 {
	if v != 0 {
		return v
	}
	return def
}

func orBool(v *bool, def bool) bool {
	if v != nil {
		return *v
	}
	return def
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// parseFloatEnv 解析浮点数环境变量
func parseFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseDurationEnv 解析时长：环境变量 > 配置文件 > 默认值
// 写错时返回错误
func parseDurationEnv(key, fileValue string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	source := key
	if raw == "" {
		raw = strings.TrimSpace(fileValue)
		source = "配置文件 " + strings.ToLower(key)
	}
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s 不是合法时长 %q: %w", source, raw, err)
	}
	return d, nil
}
