package core

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/RecoveryAshes/BrochureBot/internal/crawlers"
	"github.com/RecoveryAshes/BrochureBot/internal/models"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()

	tests := []struct {
		name string
		ok   bool
	}{
		{"并发数4", c.Crawl.MaxWorkers == 4},
		{"请求间隔1秒", c.Crawl.RequestDelay == time.Second},
		{"探测超时10秒", c.Crawl.ClassifyTimeout == 10*time.Second},
		{"爬虫标识", c.Crawl.UserAgent == crawlers.DefaultUserAgent},
		{"渲染超时120秒", c.Render.Timeout == 120*time.Second},
		{"无头模式", c.Render.Headless},
		{"页边距1厘米", c.Render.MarginCM == 1.0},
		{"镜像目录", c.Output.BaseDir == DefaultBaseDir},
		{"启用爬取日志", c.Output.Journal},
		{"启用报告", c.Output.Report},
		{"批量并发1", c.Batch.Concurrency == 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.ok {
				t.Errorf("默认配置不正确: %+v", c)
			}
		})
	}

	if err := c.Validate(); err != nil {
		t.Errorf("默认配置应通过校验: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("读取指定文件", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := `crawl:
  max_workers: 8
  request_delay: 250ms
  max_pages: 20
render:
  timeout: 30s
  sanitize: true
output:
  base_dir: mirror
  journal: false
`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("写入配置失败: %v", err)
		}

		c, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig() 错误: %v", err)
		}
		if c.Crawl.MaxWorkers != 8 || c.Crawl.RequestDelay != 250*time.Millisecond || c.Crawl.MaxPages != 20 {
			t.Errorf("crawl配置不正确: %+v", c.Crawl)
		}
		if c.Render.Timeout != 30*time.Second || !c.Render.Sanitize {
			t.Errorf("render配置不正确: %+v", c.Render)
		}
		if c.Output.BaseDir != "mirror" || c.Output.Journal {
			t.Errorf("output配置不正确: %+v", c.Output)
		}
		// 未出现的键使用默认值
		if c.Crawl.ClassifyTimeout != crawlers.DefaultClassifyTimeout || !c.Output.Report {
			t.Error("缺失的键应使用默认值")
		}
		if c.File != path {
			t.Errorf("File = %q, 期望 %q", c.File, path)
		}
	})

	t.Run("指定文件不存在", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		var cfgErr *models.ConfigError
		if !errors.As(err, &cfgErr) {
			t.Errorf("期望 ConfigError, 得到 %v", err)
		}
	})

	t.Run("格式错误", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte("crawl: [oops\n"), 0644); err != nil {
			t.Fatalf("写入配置失败: %v", err)
		}
		if _, err := LoadConfig(path); err == nil {
			t.Error("期望返回错误")
		}
	})
}

func TestConfig_MergeCLIFlags(t *testing.T) {
	c := DefaultConfig()
	workers := 16
	delay := time.Duration(0)
	pages := 5
	renderTimeout := time.Minute
	sanitize := true

	c.MergeCLIFlags(CLIOverrides{
		MaxWorkers:    &workers,
		RequestDelay:  &delay,
		MaxPages:      &pages,
		RenderTimeout: &renderTimeout,
		Sanitize:      &sanitize,
		BaseDir:       "out",
		LogLevel:      "debug",
	})

	if c.Crawl.MaxWorkers != 16 || c.Crawl.RequestDelay != 0 || c.Crawl.MaxPages != 5 {
		t.Errorf("crawl配置未合并: %+v", c.Crawl)
	}
	if c.Render.Timeout != time.Minute || !c.Render.Sanitize {
		t.Errorf("render配置未合并: %+v", c.Render)
	}
	if c.Output.BaseDir != "out" || c.Logging.Level != "debug" {
		t.Error("output/logging配置未合并")
	}
	// 未指定的参数保持原值
	if c.Crawl.CrawlTimeout != 0 || c.Render.NoSandbox {
		t.Error("未指定的参数不应改变")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"默认配置", func(c *Config) {}, false},
		{"并发数为0", func(c *Config) { c.Crawl.MaxWorkers = 0 }, true},
		{"渲染超时为0", func(c *Config) { c.Render.Timeout = 0 }, true},
		{"镜像目录为空", func(c *Config) { c.Output.BaseDir = "" }, true},
		{"批量并发为0", func(c *Config) { c.Batch.Concurrency = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() 错误 = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ToYAML(t *testing.T) {
	data, err := DefaultConfig().ToYAML()
	if err != nil {
		t.Fatalf("ToYAML() 错误: %v", err)
	}
	if !strings.Contains(string(data), "request_delay: 1s") {
		t.Errorf("时长应以字符串输出:\n%s", data)
	}

	// 输出可以重新作为配置文件加载
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() 错误: %v", err)
	}
	if c.Render.Timeout != 120*time.Second || c.Crawl.MaxWorkers != 4 {
		t.Errorf("重新加载的配置不正确: %+v", c)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("输出不是合法YAML: %v", err)
	}
	for _, section := range []string{"crawl", "render", "resource", "logging", "output", "batch"} {
		if _, ok := doc[section]; !ok {
			t.Errorf("缺少 %s 段", section)
		}
	}
}

func TestConfigSearchPaths(t *testing.T) {
	paths := ConfigSearchPaths()
	if len(paths) != 3 || !strings.HasSuffix(paths[2], AppName) {
		t.Errorf("ConfigSearchPaths() = %v", paths)
	}
}
