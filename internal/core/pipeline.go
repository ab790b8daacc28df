package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/RecoveryAshes/BrochureBot/internal/crawlers"
	"github.com/RecoveryAshes/BrochureBot/internal/models"
	"github.com/RecoveryAshes/BrochureBot/internal/render"
	"github.com/RecoveryAshes/BrochureBot/internal/storage"
	"github.com/RecoveryAshes/BrochureBot/internal/utils"
)

// 进度显示的阶段文字
const (
	StatusClassifying = "Classifying website"
	StatusCrawling    = "Crawling in progress"
	StatusRendering   = "Generating PDF"
)

// Pipeline 单个站点的 探测 → 镜像爬取 → 保存清单 → 渲染PDF → 报告
// 渲染只读取保存后的清单, 两个阶段也可以分别执行
type Pipeline struct {
	config  *Config
	headers models.HeaderProvider
	engine  render.Engine
	guard   *crawlers.ResourceGuard
	status  func(string)
}

// PipelineOption 可选项
type PipelineOption func(*Pipeline)

// WithStatus 阶段变化回调, 通常是 ProgressReporter.SetStatus
func WithStatus(f func(string)) PipelineOption {
	return func(p *Pipeline) { p.status = f }
}

// WithGuard 使用指定的资源守卫
func WithGuard(g *crawlers.ResourceGuard) PipelineOption {
	return func(p *Pipeline) { p.guard = g }
}

// NewPipeline 创建流水线; headers可以为nil
func NewPipeline(config *Config, headers models.HeaderProvider, engine render.Engine, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		config:  config,
		headers: headers,
		engine:  engine,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.guard == nil {
		p.guard = crawlers.NewResourceGuard(config.GuardConfig())
	}
	return p
}

// CrawlResult 爬取阶段结果
type CrawlResult struct {
	Task         *models.CrawlTask
	Session      *crawlers.Session
	Manifest     *models.Manifest
	ManifestPath string
	Failures     []models.FailedURL
	Journal      storage.Summary // 爬取日志按类型和状态的统计, 未启用日志时为nil
	Interrupted  bool // ctx在爬取中被取消, 清单只包含已保存的页面
}

// Result 完整流水线结果
type Result struct {
	Crawl  *CrawlResult
	Render *models.RenderResult // 爬取被中断或 metadata.json 不存在时为nil
	Report *models.CrawlReport  // 关闭报告时为nil
}

func (p *Pipeline) setStatus(s string) {
	if p.status != nil {
		p.status(s)
	}
}

// Crawl 探测站点类型并镜像爬取, 结束后写入 metadata.json
// ctx取消时等待在途请求结束, 仍然保存已爬取页面的清单
func (p *Pipeline) Crawl(ctx context.Context, targetURL, baseDir string) (*CrawlResult, error) {
	crawl := p.config.Crawl

	task, err := models.NewCrawlTask(targetURL, baseDir, crawl)
	if err != nil {
		return nil, err
	}
	task.Start()

	utils.Infof("🚀 开始处理: %s", targetURL)
	utils.Infof("镜像目录: %s", baseDir)

	p.setStatus(StatusClassifying)
	classifier := crawlers.NewClassifier(crawl.ClassifyTimeout, crawl.UserAgent, crawl.InsecureSkipVerify)
	task.IsDynamic = classifier.Classify(ctx, targetURL)

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		err = fmt.Errorf("创建镜像目录失败: %w", err)
		task.Finish(err)
		return nil, err
	}

	var journal *storage.SQLiteJournal
	if p.config.Output.Journal {
		journal, err = storage.OpenJournal(storage.JournalPath(baseDir))
		if err != nil {
			utils.Warnf("爬取日志不可用, 继续爬取: %v", err)
			journal = nil
		} else {
			defer journal.Close()
		}
	}

	opts := []crawlers.MirrorOption{
		crawlers.WithResourceGuard(p.guard),
		crawlers.WithStatusFunc(p.status),
	}
	if p.headers != nil {
		opts = append(opts, crawlers.WithHeaderProvider(p.headers))
	}
	if journal != nil {
		opts = append(opts, crawlers.WithJournal(journal))
	}

	mirror, err := crawlers.NewMirror(crawlers.MirrorConfigFrom(baseDir, crawl), targetURL, task.IsDynamic, opts...)
	if err != nil {
		task.Finish(err)
		return nil, err
	}
	task.ID = mirror.Session().ID

	if journal != nil {
		if err := journal.BeginSession(task.ID, targetURL, baseDir); err != nil {
			utils.Debugf("登记会话失败: %v", err)
		}
	}

	p.setStatus(StatusCrawling)
	session, err := mirror.Run(ctx)
	task.Stats = mirror.Stats()
	if err != nil {
		task.Finish(err)
		return nil, err
	}

	result := &CrawlResult{
		Task:        task,
		Session:     session,
		Manifest:    session.Manifest(),
		Failures:    []models.FailedURL{},
		Interrupted: ctx.Err() != nil,
	}

	result.ManifestPath, err = result.Manifest.Save()
	if err != nil {
		task.Finish(err)
		return nil, err
	}
	utils.Infof("📄 清单已保存: %s (%d个页面)", result.ManifestPath, len(result.Manifest.HTMLFiles))

	if journal != nil {
		if err := journal.FinishSession(task.ID, task.IsDynamic); err != nil {
			utils.Debugf("更新会话失败: %v", err)
		}
		if failures, err := journal.Failures(task.ID); err != nil {
			utils.Warnf("读取失败记录失败: %v", err)
		} else {
			result.Failures = failures
		}
		if summary, err := journal.Summary(task.ID); err != nil {
			utils.Warnf("统计爬取日志失败: %v", err)
		} else {
			result.Journal = summary
		}
	}

	return result, nil
}

// RenderDir 读取镜像目录下的 metadata.json 并生成PDF
// 没有清单时返回 models.ErrNoManifest
func (p *Pipeline) RenderDir(ctx context.Context, baseDir string) (models.RenderResult, error) {
	p.setStatus(StatusRendering)
	utils.Infof("开始生成PDF...")
	return render.NewRenderer(p.engine, p.config.Render).RenderDir(ctx, baseDir)
}

// Run 执行完整流水线
// PDF生成失败不作为错误返回, 结果记录在 Result.Render 中
func (p *Pipeline) Run(ctx context.Context, targetURL, baseDir string) (*Result, error) {
	crawl, err := p.Crawl(ctx, targetURL, baseDir)
	if err != nil {
		return nil, err
	}
	result := &Result{Crawl: crawl}

	if crawl.Interrupted {
		utils.Warnf("爬取被中断, 跳过PDF生成; 可稍后执行 render 子命令")
	} else {
		// 渲染只依赖磁盘上的清单, 与单独执行 render 子命令一致
		rr, err := p.RenderDir(ctx, baseDir)
		switch {
		case errors.Is(err, models.ErrNoManifest):
			utils.Warnf("没有找到 %s, 跳过PDF生成", models.ManifestFileName)
		case err != nil:
			rr = models.RenderResult{Err: err}
			result.Render = &rr
			utils.Errorf("读取清单失败: %v", err)
			utils.Warnf("PDF generation failed. Check the error above.")
		default:
			result.Render = &rr
			if !rr.Success {
				utils.Warnf("PDF generation failed. Check the error above.")
			}
		}
	}

	if p.config.Output.Report {
		result.Report = p.buildReport(crawl, result.Render)
		if err := utils.NewReporter(baseDir).Generate(result.Report); err != nil {
			utils.Warnf("生成报告失败: %v", err)
		}
	}

	if crawl.Interrupted {
		crawl.Task.Finish(errors.New("爬取被中断"))
	} else {
		crawl.Task.Finish(nil)
	}
	return result, nil
}

func (p *Pipeline) buildReport(crawl *CrawlResult, rr *models.RenderResult) *models.CrawlReport {
	task := crawl.Task
	start := task.CreatedAt
	if task.StartedAt != nil {
		start = *task.StartedAt
	}
	end := time.Now()

	return &models.CrawlReport{
		SessionID:    task.ID,
		TargetURL:    task.TargetURL,
		Domain:       task.Domain,
		IsDynamic:    task.IsDynamic,
		Strategy:     string(models.StrategyFor(task.IsDynamic)),
		StartTime:    start,
		EndTime:      end,
		Duration:     end.Sub(start).Seconds(),
		Stats:        task.Stats,
		Pages:        crawl.Session.Pages(),
		Failures:     crawl.Failures,
		Journal:      crawl.Journal,
		BaseDir:      task.BaseDir,
		ManifestPath: crawl.ManifestPath,
		Render:       rr,
		Config:       p.config.Crawl,
	}
}
