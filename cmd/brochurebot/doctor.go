package main

import (
	"fmt"
	"os"

	"github.com/RecoveryAshes/BrochureBot/internal/config"
	"github.com/RecoveryAshes/BrochureBot/internal/crawlers"
	"github.com/RecoveryAshes/BrochureBot/internal/render"
	"github.com/RecoveryAshes/BrochureBot/internal/utils"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "检查运行环境 (浏览器、输出目录、系统资源、配置)",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("🔍 BrochureBot 环境检查")
		fmt.Println("==================================================")

		failed := 0

		// 浏览器
		if bin, ok := render.LookupBrowser(); ok {
			fmt.Printf("✅ 浏览器: %s\n", bin)
		} else if appConfig.Render.BrowserBin != "" {
			fmt.Printf("✅ 浏览器(配置): %s\n", appConfig.Render.BrowserBin)
		} else {
			fmt.Println("⚠️  未找到本地Chrome/Chromium, 首次渲染时会自动下载")
		}

		// 输出目录
		if err := checkWritable(appConfig.Output.BaseDir); err != nil {
			fmt.Printf("❌ 输出目录不可写: %s (%v)\n", appConfig.Output.BaseDir, err)
			failed++
		} else {
			fmt.Printf("✅ 输出目录可写: %s\n", appConfig.Output.BaseDir)
		}

		// 系统资源
		guard := crawlers.NewResourceGuard(appConfig.GuardConfig())
		status := guard.Status()
		fmt.Printf("✅ 内存: 可用 %s / 总计 %s (压力: %s)\n",
			utils.FormatSize(int64(status.AvailableMemory)), utils.FormatSize(int64(status.TotalMemory)), status.Pressure)
		fmt.Printf("✅ 并发上限: 请求 %d, 实际可用 %d\n", appConfig.Crawl.MaxWorkers, guard.Ceiling(appConfig.Crawl.MaxWorkers))

		// 配置
		if appConfig.File != "" {
			fmt.Printf("✅ 配置文件: %s\n", appConfig.File)
		} else {
			fmt.Println("✅ 未找到配置文件, 使用默认配置")
		}

		hf := config.NewHeaderFile(headerFile)
		if _, err := os.Stat(hf.Path()); err != nil {
			fmt.Printf("✅ 头部配置文件不存在, 首次运行时生成: %s\n", hf.Path())
		} else if _, err := hf.Load(); err != nil {
			fmt.Printf("❌ 头部配置文件无效: %v\n", err)
			failed++
		} else {
			fmt.Printf("✅ 头部配置文件: %s\n", hf.Path())
		}

		fmt.Println("==================================================")
		if failed > 0 {
			return fmt.Errorf("%d 项检查未通过", failed)
		}
		fmt.Println("✨ 环境检查通过")
		return nil
	},
}

// checkWritable 确认目录存在且可以创建文件
func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
