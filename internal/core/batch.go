package core

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/RecoveryAshes/BrochureBot/internal/models"
	"github.com/RecoveryAshes/BrochureBot/internal/render"
	"github.com/RecoveryAshes/BrochureBot/internal/utils"
	"golang.org/x/sync/errgroup"
)

// BatchRunner 批量处理URL列表, 每个URL使用独立的镜像子目录
type BatchRunner struct {
	config  *Config
	headers models.HeaderProvider
	engine  render.Engine
	rootDir string
}

// BatchResult 单个URL的结果
type BatchResult struct {
	URL      string
	BaseDir  string
	Success  bool
	Error    error
	Stats    models.TaskStats
	PDF      *models.RenderResult
	Duration float64
}

// BatchSummary 批量处理摘要
type BatchSummary struct {
	TotalURLs     int
	SuccessCount  int
	FailCount     int
	PDFCount      int
	TotalPages    int
	TotalSize     int64
	TotalDuration float64
	Results       []BatchResult // 与输入顺序一致
}

// NewBatchRunner 创建批量处理器, rootDir下按主机名建立子目录
func NewBatchRunner(config *Config, headers models.HeaderProvider, engine render.Engine, rootDir string) *BatchRunner {
	return &BatchRunner{
		config:  config,
		headers: headers,
		engine:  engine,
		rootDir: rootDir,
	}
}

// AssignDirs 为每个URL分配镜像目录
// 同一主机出现多次时依次加 _2, _3 后缀
func AssignDirs(rootDir string, urls []string) ([]string, error) {
	dirs := make([]string, len(urls))
	used := make(map[string]int)

	for i, u := range urls {
		name, err := utils.HostDirName(u)
		if err != nil {
			return nil, err
		}
		used[name]++
		if n := used[name]; n > 1 {
			name = fmt.Sprintf("%s_%d", name, n)
		}
		dirs[i] = filepath.Join(rootDir, name)
	}
	return dirs, nil
}

// Run 处理全部URL
// continue_on_error为false时, 第一个失败取消尚未开始的URL
func (br *BatchRunner) Run(ctx context.Context, urls []string) (*BatchSummary, error) {
	dirs, err := AssignDirs(br.rootDir, urls)
	if err != nil {
		return nil, err
	}

	utils.Infof("🚀 开始批量处理: %d个URL", len(urls))
	start := time.Now()

	summary := &BatchSummary{
		TotalURLs: len(urls),
		Results:   make([]BatchResult, len(urls)),
	}

	bar := utils.NewProgressBar(len(urls), "批量处理")
	var barMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(br.config.Batch.Concurrency)

	for i, targetURL := range urls {
		if i > 0 && br.config.Batch.Delay > 0 {
			select {
			case <-time.After(br.config.Batch.Delay):
			case <-gctx.Done():
			}
		}
		if gctx.Err() != nil {
			summary.Results[i] = BatchResult{URL: targetURL, BaseDir: dirs[i], Error: context.Cause(gctx)}
			continue
		}

		g.Go(func() error {
			if gctx.Err() != nil {
				summary.Results[i] = BatchResult{URL: targetURL, BaseDir: dirs[i], Error: context.Cause(gctx)}
				return nil
			}
			res := br.runOne(gctx, targetURL, dirs[i])
			summary.Results[i] = res

			barMu.Lock()
			_ = bar.Add(1)
			barMu.Unlock()

			if !res.Success {
				utils.Errorf("❌ 处理失败 [%s]: %v", targetURL, res.Error)
				if !br.config.Batch.ContinueOnError {
					return fmt.Errorf("批量处理中止 [%s]: %w", targetURL, res.Error)
				}
			}
			return nil
		})
	}

	groupErr := g.Wait()
	_ = bar.Finish()

	for _, r := range summary.Results {
		if r.Success {
			summary.SuccessCount++
			summary.TotalPages += r.Stats.SavedPages
			summary.TotalSize += r.Stats.TotalSize
			if r.PDF != nil && r.PDF.Success {
				summary.PDFCount++
			}
		} else {
			summary.FailCount++
		}
	}
	summary.TotalDuration = time.Since(start).Seconds()

	printSummary(summary)
	return summary, groupErr
}

func (br *BatchRunner) runOne(ctx context.Context, targetURL, baseDir string) BatchResult {
	start := time.Now()
	result := BatchResult{URL: targetURL, BaseDir: baseDir}

	res, err := NewPipeline(br.config, br.headers, br.engine).Run(ctx, targetURL, baseDir)
	result.Duration = time.Since(start).Seconds()
	if err != nil {
		result.Error = err
		return result
	}

	result.Success = !res.Crawl.Interrupted
	if res.Crawl.Interrupted {
		result.Error = fmt.Errorf("爬取被中断")
	}
	result.Stats = res.Crawl.Task.Stats
	result.PDF = res.Render
	return result
}

func printSummary(summary *BatchSummary) {
	utils.Info("==================================================")
	utils.Info("📊 批量处理摘要")
	utils.Infof("总URL数: %d", summary.TotalURLs)
	utils.Infof("✅ 成功: %d (PDF %d个)", summary.SuccessCount, summary.PDFCount)
	utils.Infof("❌ 失败: %d", summary.FailCount)
	utils.Infof("📄 页面总数: %d, 总大小: %s", summary.TotalPages, utils.FormatSize(summary.TotalSize))
	utils.Infof("⏱️  总耗时: %.2f秒", summary.TotalDuration)
	utils.Info("==================================================")

	for _, r := range summary.Results {
		if !r.Success {
			utils.Warnf("  - %s: %v", r.URL, r.Error)
		}
	}
}
