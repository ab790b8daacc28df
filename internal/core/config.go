package core

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/RecoveryAshes/BrochureBot/internal/crawlers"
	"github.com/RecoveryAshes/BrochureBot/internal/models"
	"github.com/RecoveryAshes/BrochureBot/internal/utils"
	"github.com/adrg/xdg"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// AppName 配置目录名
const AppName = "brochurebot"

// DefaultBaseDir 默认镜像目录
const DefaultBaseDir = "website_content"

// Config 应用程序配置
type Config struct {
	Crawl    models.CrawlConfig  `mapstructure:"crawl"`
	Render   models.RenderConfig `mapstructure:"render"`
	Resource ResourceConfig      `mapstructure:"resource"`
	Logging  LoggingConfig       `mapstructure:"logging"`
	Output   OutputConfig        `mapstructure:"output"`
	Batch    BatchConfig         `mapstructure:"batch"`

	// 实际加载的配置文件, 未找到时为空
	File string `mapstructure:"-"`
}

// ResourceConfig 并发资源限制(内存单位MB)
type ResourceConfig struct {
	SafetyReserveMemory int `mapstructure:"safety_reserve_memory"`
	WorkerMemory        int `mapstructure:"worker_memory"`
	MaxWorkersLimit     int `mapstructure:"max_workers_limit"`
	CPULoadThreshold    int `mapstructure:"cpu_load_threshold"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	LogDir   string         `mapstructure:"log_dir"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	BaseDir string `mapstructure:"base_dir"`
	Journal bool   `mapstructure:"journal"` // 写入 .crawl_journal.db
	Report  bool   `mapstructure:"report"`  // 写入 .reports/
}

// BatchConfig 批量模式配置
type BatchConfig struct {
	Delay           time.Duration `mapstructure:"delay"`
	ContinueOnError bool          `mapstructure:"continue_on_error"`
	Concurrency     int           `mapstructure:"concurrency"`
}

// ConfigSearchPaths 未指定配置文件时的搜索目录, 按优先级
func ConfigSearchPaths() []string {
	return []string{
		"./configs",
		".",
		filepath.Join(xdg.ConfigHome, AppName),
	}
}

// LoadConfig 加载配置文件
// configPath为空时在 ConfigSearchPaths 中查找 config.yaml, 找不到则全部使用默认值
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, p := range ConfigSearchPaths() {
			v.AddConfigPath(p)
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, &models.ConfigError{FilePath: configPath, Cause: err}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, &models.ConfigError{
			FilePath: v.ConfigFileUsed(),
			Cause:    fmt.Errorf("解析配置失败: %w", err),
		}
	}
	config.File = v.ConfigFileUsed()

	return &config, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	v.SetDefault("crawl.max_workers", 4)
	v.SetDefault("crawl.request_delay", crawlers.DefaultRequestDelay)
	v.SetDefault("crawl.request_timeout", crawlers.DefaultRequestTimeout)
	v.SetDefault("crawl.classify_timeout", crawlers.DefaultClassifyTimeout)
	v.SetDefault("crawl.max_pages", 0)
	v.SetDefault("crawl.crawl_timeout", 0)
	v.SetDefault("crawl.insecure_skip_verify", false)
	v.SetDefault("crawl.user_agent", crawlers.DefaultUserAgent)

	v.SetDefault("render.timeout", 120*time.Second)
	v.SetDefault("render.headless", true)
	v.SetDefault("render.browser_bin", "")
	v.SetDefault("render.no_sandbox", false)
	v.SetDefault("render.sanitize", false)
	v.SetDefault("render.margin_cm", 1.0)

	v.SetDefault("resource.safety_reserve_memory", 512)
	v.SetDefault("resource.worker_memory", 50)
	v.SetDefault("resource.max_workers_limit", 100)
	v.SetDefault("resource.cpu_load_threshold", 80)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)

	v.SetDefault("output.base_dir", DefaultBaseDir)
	v.SetDefault("output.journal", true)
	v.SetDefault("output.report", true)

	v.SetDefault("batch.delay", 0)
	v.SetDefault("batch.continue_on_error", true)
	v.SetDefault("batch.concurrency", 1)
}

// CLIOverrides 命令行显式给出的参数, nil/空值表示未指定
type CLIOverrides struct {
	MaxWorkers    *int
	RequestDelay  *time.Duration
	MaxPages      *int
	CrawlTimeout  *time.Duration
	RenderTimeout *time.Duration
	Sanitize      *bool
	NoSandbox     *bool
	BaseDir       string
	LogLevel      string
}

// MergeCLIFlags 合并命令行参数, 命令行优先于配置文件
func (c *Config) MergeCLIFlags(o CLIOverrides) {
	if o.MaxWorkers != nil {
		c.Crawl.MaxWorkers = *o.MaxWorkers
	}
	if o.RequestDelay != nil {
		c.Crawl.RequestDelay = *o.RequestDelay
	}
	if o.MaxPages != nil {
		c.Crawl.MaxPages = *o.MaxPages
	}
	if o.CrawlTimeout != nil {
		c.Crawl.CrawlTimeout = *o.CrawlTimeout
	}
	if o.RenderTimeout != nil {
		c.Render.Timeout = *o.RenderTimeout
	}
	if o.Sanitize != nil {
		c.Render.Sanitize = *o.Sanitize
	}
	if o.NoSandbox != nil {
		c.Render.NoSandbox = *o.NoSandbox
	}
	if o.BaseDir != "" {
		c.Output.BaseDir = o.BaseDir
	}
	if o.LogLevel != "" {
		c.Logging.Level = o.LogLevel
	}
}

// Validate 校验合并后的配置
func (c *Config) Validate() error {
	if err := c.Crawl.Validate(); err != nil {
		return fmt.Errorf("crawl配置无效: %w", err)
	}
	if err := c.Render.Validate(); err != nil {
		return fmt.Errorf("render配置无效: %w", err)
	}
	if c.Output.BaseDir == "" {
		return fmt.Errorf("output.base_dir不能为空")
	}
	if c.Batch.Concurrency < 1 {
		return fmt.Errorf("batch.concurrency必须大于0")
	}
	return nil
}

// GuardConfig 资源守卫配置
func (c *Config) GuardConfig() crawlers.ResourceGuardConfig {
	return crawlers.ResourceGuardConfig{
		SafetyReserveMemory: c.Resource.SafetyReserveMemory,
		WorkerMemory:        c.Resource.WorkerMemory,
		MaxWorkersLimit:     c.Resource.MaxWorkersLimit,
		CPULoadThreshold:    c.Resource.CPULoadThreshold,
	}
}

// LogConfig 日志系统配置
func (c *Config) LogConfig() utils.LogConfig {
	return utils.LogConfig{
		Level:      c.Logging.Level,
		LogDir:     c.Logging.LogDir,
		MaxSize:    c.Logging.Rotation.MaxSize,
		MaxBackups: c.Logging.Rotation.MaxBackups,
		MaxAge:     c.Logging.Rotation.MaxAge,
		Compress:   c.Logging.Rotation.Compress,
	}
}

// ToYAML 输出生效配置, 时长以 "1s" 形式表示, 可直接作为config.yaml使用
func (c *Config) ToYAML() ([]byte, error) {
	doc := map[string]any{
		"crawl": map[string]any{
			"max_workers":          c.Crawl.MaxWorkers,
			"request_delay":        c.Crawl.RequestDelay.String(),
			"request_timeout":      c.Crawl.RequestTimeout.String(),
			"classify_timeout":     c.Crawl.ClassifyTimeout.String(),
			"max_pages":            c.Crawl.MaxPages,
			"crawl_timeout":        c.Crawl.CrawlTimeout.String(),
			"insecure_skip_verify": c.Crawl.InsecureSkipVerify,
			"user_agent":           c.Crawl.UserAgent,
		},
		"render": map[string]any{
			"timeout":     c.Render.Timeout.String(),
			"headless":    c.Render.Headless,
			"browser_bin": c.Render.BrowserBin,
			"no_sandbox":  c.Render.NoSandbox,
			"sanitize":    c.Render.Sanitize,
			"margin_cm":   c.Render.MarginCM,
		},
		"resource": map[string]any{
			"safety_reserve_memory": c.Resource.SafetyReserveMemory,
			"worker_memory":         c.Resource.WorkerMemory,
			"max_workers_limit":     c.Resource.MaxWorkersLimit,
			"cpu_load_threshold":    c.Resource.CPULoadThreshold,
		},
		"logging": map[string]any{
			"level":   c.Logging.Level,
			"log_dir": c.Logging.LogDir,
			"rotation": map[string]any{
				"max_size":    c.Logging.Rotation.MaxSize,
				"max_backups": c.Logging.Rotation.MaxBackups,
				"max_age":     c.Logging.Rotation.MaxAge,
				"compress":    c.Logging.Rotation.Compress,
			},
		},
		"output": map[string]any{
			"base_dir": c.Output.BaseDir,
			"journal":  c.Output.Journal,
			"report":   c.Output.Report,
		},
		"batch": map[string]any{
			"delay":             c.Batch.Delay.String(),
			"continue_on_error": c.Batch.ContinueOnError,
			"concurrency":       c.Batch.Concurrency,
		},
	}
	return yaml.Marshal(doc)
}

// DefaultConfig 不读取任何配置文件的默认配置
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	// 默认值都是合法类型, 不会解析失败
	_ = v.Unmarshal(&config)
	return &config
}
