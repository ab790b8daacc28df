package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/RecoveryAshes/BrochureBot/internal/core"
	"github.com/RecoveryAshes/BrochureBot/internal/models"
	"github.com/RecoveryAshes/BrochureBot/internal/render"
	"github.com/RecoveryAshes/BrochureBot/internal/utils"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// 命令行参数
var (
	// 全局参数
	configFile string
	verbose    bool
	logLevel   string

	// HTTP头部参数
	headers        []string // 自定义HTTP请求头
	headerFile     string
	validateConfig bool // 验证头部配置

	// 爬取参数
	targetURL     string
	urlFile       string
	outputDir     string
	maxWorkers    int
	requestDelay  time.Duration
	maxPages      int
	crawlTimeout  time.Duration
	renderTimeout time.Duration
	sanitize      bool
	noSandbox     bool
	noProgress    bool
)

// appConfig 合并命令行参数后的生效配置, 在PersistentPreRunE中初始化
var appConfig *core.Config

var rootCmd = &cobra.Command{
	Use:   "brochurebot",
	Short: "网站镜像与PDF宣传册生成工具",
	Long: `BrochureBot - 把一个网站爬取到本地并生成PDF宣传册

工作流程:
  • 探测站点类型 (静态页面 / 单页应用)
  • 同域镜像爬取, 下载图片、样式表和脚本并改写引用
  • 写入 metadata.json 清单
  • 静态站点拼接镜像页面打印, 动态站点由浏览器实时渲染

示例:
  # 爬取并生成 website_content/website_brochure.pdf
  brochurebot -u https://example.com

  # 批量处理, 每个站点一个子目录
  brochurebot -f urls.txt -o brochures

  # 只对已有镜像重新生成PDF
  brochurebot render -o website_content

  # 自定义请求头
  brochurebot -u https://example.com -H "Authorization: Bearer token"

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	RunE: func(cmd *cobra.Command, args []string) error {
		hm, err := newHeaderManager()
		if err != nil {
			return err
		}

		if validateConfig {
			return runValidateConfig(hm)
		}

		if targetURL == "" && urlFile == "" {
			return cmd.Help()
		}

		engine := newEngine()

		if urlFile != "" {
			urls, err := utils.ReadURLsFromFile(urlFile)
			if err != nil {
				return fmt.Errorf("读取URL文件失败: %w", err)
			}
			if len(urls) == 0 {
				return fmt.Errorf("URL文件中没有有效的URL: %s", urlFile)
			}

			runner := core.NewBatchRunner(appConfig, hm, engine, appConfig.Output.BaseDir)
			if _, err := runner.Run(cmd.Context(), urls); err != nil {
				return fmt.Errorf("批量处理失败: %w", err)
			}
			utils.Info("✨ 批量处理完成!")
			return nil
		}

		var result *core.Result
		err = runWithProgress(cmd.Context(), core.StatusClassifying, func(ctx context.Context, status func(string)) error {
			p := core.NewPipeline(appConfig, hm, engine, core.WithStatus(status))
			var err error
			result, err = p.Run(ctx, targetURL, appConfig.Output.BaseDir)
			return err
		})
		if err != nil {
			return err
		}

		printResult(result)
		return nil
	},
}

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "只执行爬取阶段, 写入镜像和metadata.json",
	RunE: func(cmd *cobra.Command, args []string) error {
		if targetURL == "" {
			return fmt.Errorf("必须通过 -u 指定目标URL")
		}
		hm, err := newHeaderManager()
		if err != nil {
			return err
		}

		var result *core.CrawlResult
		err = runWithProgress(cmd.Context(), core.StatusClassifying, func(ctx context.Context, status func(string)) error {
			p := core.NewPipeline(appConfig, hm, nil, core.WithStatus(status))
			var err error
			result, err = p.Crawl(ctx, targetURL, appConfig.Output.BaseDir)
			return err
		})
		if err != nil {
			return err
		}

		printStats(result.Task.Stats)
		fmt.Printf("📄 清单: %s\n", result.ManifestPath)
		return nil
	},
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "根据已有镜像的metadata.json生成PDF",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result models.RenderResult
		err := runWithProgress(cmd.Context(), core.StatusRendering, func(ctx context.Context, status func(string)) error {
			p := core.NewPipeline(appConfig, nil, newEngine(), core.WithStatus(status))
			var err error
			result, err = p.RenderDir(ctx, appConfig.Output.BaseDir)
			return err
		})
		if errors.Is(err, models.ErrNoManifest) {
			fmt.Println("没有可渲染的内容")
			return nil
		}
		if err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("PDF generation failed: %w", result.Err)
		}
		fmt.Printf("📄 PDF: %s (%d页, %s)\n", result.PDFPath, result.PageCount, utils.FormatSize(result.Size))
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "以YAML输出生效配置",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := appConfig.ToYAML()
		if err != nil {
			return fmt.Errorf("输出配置失败: %w", err)
		}
		if appConfig.File != "" {
			fmt.Printf("# 配置文件: %s\n", appConfig.File)
		}
		fmt.Print(string(data))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("BrochureBot %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
	},
}

// setup 加载配置, 合并命令行参数, 初始化日志
func setup(cmd *cobra.Command, args []string) error {
	config, err := core.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	if targetURL != "" {
		normalized, err := NormalizeURL(targetURL)
		if err != nil {
			return fmt.Errorf("无效的目标URL: %w", err)
		}
		targetURL = normalized
	}

	config.MergeCLIFlags(overridesFrom(cmd))
	if err := ValidateFlags(targetURL, config.Crawl.MaxWorkers, config.Crawl.RequestDelay, config.Crawl.MaxPages); err != nil {
		return err
	}
	if err := config.Validate(); err != nil {
		return err
	}

	logConfig := config.LogConfig()
	logConfig.Console = os.Stderr
	if err := utils.InitLogger(logConfig); err != nil {
		return fmt.Errorf("初始化日志系统失败: %w", err)
	}

	if verbose {
		utils.Info("详细模式已启用")
	}
	if config.File != "" {
		utils.Debugf("使用配置文件: %s", config.File)
	}

	appConfig = config
	return nil
}

// overridesFrom 只收集用户显式指定的参数
func overridesFrom(cmd *cobra.Command) core.CLIOverrides {
	flags := cmd.Flags()
	o := core.CLIOverrides{LogLevel: logLevel}
	if verbose && logLevel == "" {
		o.LogLevel = "debug"
	}
	if flags.Changed("output") {
		o.BaseDir = outputDir
	}
	if flags.Changed("threads") {
		o.MaxWorkers = &maxWorkers
	}
	if flags.Changed("delay") {
		o.RequestDelay = &requestDelay
	}
	if flags.Changed("max-pages") {
		o.MaxPages = &maxPages
	}
	if flags.Changed("crawl-timeout") {
		o.CrawlTimeout = &crawlTimeout
	}
	if flags.Changed("render-timeout") {
		o.RenderTimeout = &renderTimeout
	}
	if flags.Changed("sanitize") {
		o.Sanitize = &sanitize
	}
	if flags.Changed("no-sandbox") {
		o.NoSandbox = &noSandbox
	}
	return o
}

func newHeaderManager() (*core.HeaderManager, error) {
	hm, err := core.NewHeaderManager(headerFile, appConfig.Crawl.UserAgent, headers)
	if err != nil {
		return nil, fmt.Errorf("创建HTTP头部管理器失败: %w", err)
	}
	return hm, nil
}

func newEngine() render.Engine {
	return render.NewRodEngine(render.RodEngineConfig{
		Headless:   appConfig.Render.Headless,
		BrowserBin: appConfig.Render.BrowserBin,
		NoSandbox:  appConfig.Render.NoSandbox,
	})
}

// runValidateConfig 检查头部配置并输出脱敏后的结果
func runValidateConfig(hm *core.HeaderManager) error {
	utils.Info("🔍 验证HTTP头部配置...")
	if _, err := hm.GetHeaders(); err != nil {
		return fmt.Errorf("配置验证失败: %w", err)
	}

	safe := hm.GetSafeHeaders()
	names := make([]string, 0, len(safe))
	for name := range safe {
		names = append(names, name)
	}
	sort.Strings(names)

	utils.Info("✅ 配置验证通过!")
	utils.Infof("当前有效的HTTP头部 (%d个):", len(safe))
	for _, name := range names {
		utils.Infof("  %s: %s", name, safe[name])
	}
	return nil
}

// runWithProgress 在终端进度提示旁执行fn
// fn成功时输出完成信息; fn失败或ctx取消时只清除进度行
func runWithProgress(ctx context.Context, initial string, fn func(ctx context.Context, status func(string)) error) error {
	if noProgress {
		return fn(ctx, nil)
	}

	reporter := core.NewProgressReporter(os.Stderr, initial)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return reporter.Start(gctx)
	})
	g.Go(func() error {
		if err := fn(gctx, reporter.SetStatus); err != nil {
			return err
		}
		reporter.Done()
		return nil
	})
	return g.Wait()
}

func printResult(result *core.Result) {
	printStats(result.Crawl.Task.Stats)

	switch {
	case result.Render == nil && result.Crawl.Interrupted:
		fmt.Println("⚠️  爬取被中断, 未生成PDF; 可执行 brochurebot render 继续")
	case result.Render == nil:
		fmt.Println("⚠️  没有可渲染的内容, 未生成PDF")
	case result.Render.Success:
		fmt.Printf("📄 PDF: %s (%d页, %s)\n", result.Render.PDFPath, result.Render.PageCount, utils.FormatSize(result.Render.Size))
	default:
		fmt.Println("❌ PDF generation failed. Check the error above.")
	}
	if n := len(result.Crawl.Failures); n > 0 {
		fmt.Printf("⚠️  %d 个URL失败或被丢弃, 详见 %s\n", n, utils.NewReporter(result.Crawl.Manifest.BaseDir).Dir())
	}
}

func printStats(stats models.TaskStats) {
	fmt.Println("\n==================================================")
	fmt.Println("📊 爬取统计")
	fmt.Println("==================================================")
	fmt.Printf("✅ 请求URL数: %d\n", stats.VisitedURLs)
	fmt.Printf("✅ 保存页面: %d\n", stats.SavedPages)
	fmt.Printf("✅ 保存资源: %d\n", stats.SavedAssets)
	fmt.Printf("⏭️  丢弃页面: %d\n", stats.RejectedPages)
	fmt.Printf("❌ 失败: %d\n", stats.FailedPages+stats.FailedAssets)
	fmt.Printf("📦 总大小: %s\n", utils.FormatSize(stats.TotalSize))
	fmt.Printf("⏱️  总耗时: %.2f秒\n", stats.Duration)
	fmt.Println("==================================================")
}

func init() {
	// 全局参数
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "配置文件路径")
	pf.BoolVarP(&verbose, "verbose", "v", false, "详细输出模式")
	pf.StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")

	// HTTP头部参数
	pf.StringSliceVarP(&headers, "header", "H", []string{}, "自定义HTTP头部,格式: 'Name: Value',可多次指定")
	pf.StringVar(&headerFile, "header-file", "", "HTTP头部配置文件 (默认 configs/headers.yaml)")
	rootCmd.Flags().BoolVar(&validateConfig, "validate-config", false, "验证HTTP头部配置")

	// 爬取与渲染参数
	pf.StringVarP(&targetURL, "url", "u", "", "目标URL")
	pf.StringVarP(&outputDir, "output", "o", core.DefaultBaseDir, "镜像目录; 批量模式下为各站点子目录的父目录")
	pf.IntVar(&maxWorkers, "threads", 4, "并发请求数上限 (1-100)")
	pf.DurationVar(&requestDelay, "delay", time.Second, "请求间隔")
	pf.IntVar(&maxPages, "max-pages", 0, "最多保存的页面数, 0为不限")
	pf.DurationVar(&crawlTimeout, "crawl-timeout", 0, "爬取总时长上限, 0为不限")
	pf.DurationVar(&renderTimeout, "render-timeout", 120*time.Second, "PDF渲染超时")
	pf.BoolVar(&sanitize, "sanitize", false, "拼接前清洗页面中的脚本和事件属性")
	pf.BoolVar(&noSandbox, "no-sandbox", false, "以 --no-sandbox 启动浏览器 (容器内运行时需要)")
	pf.BoolVar(&noProgress, "no-progress", false, "不显示进度提示")

	rootCmd.Flags().StringVarP(&urlFile, "url-file", "f", "", "包含URL列表的文件路径 (批量模式)")

	// 添加子命令
	rootCmd.AddCommand(crawlCmd, renderCmd, doctorCmd, configCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		stop()
		os.Exit(1)
	}
}
