package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"   // 待执行
	TaskStatusCrawling  TaskStatus = "crawling"  // 爬取中
	TaskStatusRendering TaskStatus = "rendering" // 渲染中
	TaskStatusCompleted TaskStatus = "completed" // 已完成
	TaskStatusFailed    TaskStatus = "failed"    // 失败
)

// RenderStrategy PDF渲染策略
type RenderStrategy string

const (
	StrategyStatic  RenderStrategy = "static"  // 拼接已镜像的HTML
	StrategyDynamic RenderStrategy = "dynamic" // 浏览器实时导航起始URL
)

// StrategyFor 渲染策略只由清单的is_dynamic决定
func StrategyFor(isDynamic bool) RenderStrategy {
	if isDynamic {
		return StrategyDynamic
	}
	return StrategyStatic
}

// TaskStats 任务统计
type TaskStats struct {
	VisitedURLs   int     `json:"visited_urls"`   // 发出的请求数
	SavedPages    int     `json:"saved_pages"`    // 保存的页面数
	RejectedPages int     `json:"rejected_pages"` // 被丢弃的响应数(跨域/非HTML/重复)
	FailedPages   int     `json:"failed_pages"`   // 失败的页面数
	SavedAssets   int     `json:"saved_assets"`   // 保存的资源数
	FailedAssets  int     `json:"failed_assets"`  // 失败的资源数
	TotalSize     int64   `json:"total_size"`     // 写入磁盘的总字节数
	Duration      float64 `json:"duration"`       // 总耗时(秒)
}

// CrawlConfig 爬取配置
type CrawlConfig struct {
	MaxWorkers         int           `json:"max_workers" mapstructure:"max_workers"`                   // 并发上限 (默认:4)
	RequestDelay       time.Duration `json:"request_delay" mapstructure:"request_delay"`               // 全局请求间隔 (默认:1s)
	RequestTimeout     time.Duration `json:"request_timeout" mapstructure:"request_timeout"`           // 单请求超时 (默认:30s)
	ClassifyTimeout    time.Duration `json:"classify_timeout" mapstructure:"classify_timeout"`         // 站点探测超时 (默认:10s)
	MaxPages           int           `json:"max_pages" mapstructure:"max_pages"`                       // 页面预算, 0为不限
	CrawlTimeout       time.Duration `json:"crawl_timeout" mapstructure:"crawl_timeout"`               // 爬取总时长, 0为不限
	InsecureSkipVerify bool          `json:"insecure_skip_verify" mapstructure:"insecure_skip_verify"` // 跳过TLS证书验证
	UserAgent          string        `json:"user_agent" mapstructure:"user_agent"`
}

// Validate 验证配置
func (c *CrawlConfig) Validate() error {
	if c.MaxWorkers < 1 || c.MaxWorkers > 100 {
		return fmt.Errorf("并发数必须在1-100之间")
	}
	if c.RequestDelay < 0 || c.RequestDelay > time.Minute {
		return fmt.Errorf("请求间隔必须在0-60秒之间")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("请求超时不能为负数")
	}
	if c.ClassifyTimeout < 0 {
		return fmt.Errorf("探测超时不能为负数")
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("页面预算不能为负数")
	}
	if c.CrawlTimeout < 0 {
		return fmt.Errorf("爬取时长不能为负数")
	}
	return nil
}

// RenderConfig 渲染配置
type RenderConfig struct {
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`         // 页面稳定等待硬超时 (默认:120s)
	Headless   bool          `json:"headless" mapstructure:"headless"`       // 无头模式 (默认:true)
	BrowserBin string        `json:"browser_bin" mapstructure:"browser_bin"` // 浏览器可执行文件, 空则自动查找/下载
	NoSandbox  bool          `json:"no_sandbox" mapstructure:"no_sandbox"`
	Sanitize   bool          `json:"sanitize" mapstructure:"sanitize"`   // 拼接前清洗页面body
	MarginCM   float64       `json:"margin_cm" mapstructure:"margin_cm"` // 页边距(厘米)
}

// Validate 验证配置
func (c *RenderConfig) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("渲染超时必须大于0")
	}
	if c.MarginCM < 0 || c.MarginCM > 5 {
		return fmt.Errorf("页边距必须在0-5厘米之间")
	}
	return nil
}

// CrawlTask 一次完整的 爬取→渲染 任务
type CrawlTask struct {
	ID          string     `json:"id"`
	TargetURL   string     `json:"target_url"`
	Domain      string     `json:"domain"`
	BaseDir     string     `json:"base_dir"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Config CrawlConfig `json:"config"`

	Status    TaskStatus `json:"status"`
	IsDynamic bool       `json:"is_dynamic"`

	Stats TaskStats `json:"stats"`

	ErrorMessage string `json:"error_message,omitempty"`
}

// NewCrawlTask 创建新任务
func NewCrawlTask(targetURL string, baseDir string, config CrawlConfig) (*CrawlTask, error) {
	parsed, err := ParseStartURL(targetURL)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &CrawlTask{
		ID:        NewSessionID(),
		TargetURL: targetURL,
		Domain:    parsed.Host,
		BaseDir:   baseDir,
		CreatedAt: time.Now(),
		Config:    config,
		Status:    TaskStatusPending,
	}, nil
}

// Start 标记任务开始
func (t *CrawlTask) Start() {
	now := time.Now()
	t.StartedAt = &now
	t.Status = TaskStatusCrawling
}

// Finish 标记任务结束
func (t *CrawlTask) Finish(err error) {
	now := time.Now()
	t.CompletedAt = &now
	if err != nil {
		t.Status = TaskStatusFailed
		t.ErrorMessage = err.Error()
		return
	}
	t.Status = TaskStatusCompleted
}

// ToJSON 序列化为JSON
func (t *CrawlTask) ToJSON() ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

// FromJSON 从JSON反序列化
func (t *CrawlTask) FromJSON(data []byte) error {
	return json.Unmarshal(data, t)
}
