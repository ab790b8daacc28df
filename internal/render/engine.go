package render

import (
	"context"
	"fmt"
	"io"

	"github.com/RecoveryAshes/BrochureBot/internal/utils"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"
)

const (
	// A4 纸张尺寸(英寸)
	a4WidthInch  = 8.27
	a4HeightInch = 11.69

	cmPerInch = 2.54

	// DefaultMarginCM 默认页边距
	DefaultMarginCM = 1.0
)

// PrintRequest 一次打印请求
type PrintRequest struct {
	URL string
	// WaitNetworkIdle 为true时等待networkIdle生命周期事件, 否则只等待load事件
	WaitNetworkIdle bool
	// Stealth 使用反检测标签页
	Stealth  bool
	MarginCM float64
}

// Engine 把一个URL打印为PDF字节
// ctx 的截止时间就是页面稳定等待的硬超时
type Engine interface {
	Print(ctx context.Context, req PrintRequest) ([]byte, error)
}

// RodEngineConfig 浏览器配置
type RodEngineConfig struct {
	Headless   bool
	BrowserBin string // 空则自动查找或下载
	NoSandbox  bool
}

// RodEngine 基于go-rod的打印引擎
// 每次Print启动一个独立的浏览器实例, 返回前一定关闭
type RodEngine struct {
	config RodEngineConfig
}

// NewRodEngine 创建打印引擎
func NewRodEngine(config RodEngineConfig) *RodEngine {
	return &RodEngine{config: config}
}

// Print 启动浏览器, 导航到URL, 等待页面稳定后打印A4 PDF
func (e *RodEngine) Print(ctx context.Context, req PrintRequest) (data []byte, err error) {
	// rod 操作失败时可能panic
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("浏览器操作panic: %v", r)
		}
	}()

	l := launcher.New().Headless(e.config.Headless)
	if e.config.BrowserBin != "" {
		l = l.Bin(e.config.BrowserBin)
	}
	if e.config.NoSandbox {
		l = l.NoSandbox(true)
	}
	l = l.Set("ignore-certificate-errors")

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("启动浏览器失败: %w", err)
	}
	defer l.Cleanup()
	defer l.Kill()

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("连接浏览器失败: %w", err)
	}
	defer func() {
		if closeErr := browser.Close(); closeErr != nil {
			utils.Debugf("关闭浏览器失败: %v", closeErr)
		}
	}()
	utils.Debugf("浏览器已启动: %s", controlURL)

	var page *rod.Page
	if req.Stealth {
		page, err = stealth.Page(browser)
	} else {
		page, err = browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("创建标签页失败: %w", err)
	}
	p := page.Context(ctx)

	if req.WaitNetworkIdle {
		wait := p.WaitNavigation(proto.PageLifecycleEventNameNetworkIdle)
		if err := p.Navigate(req.URL); err != nil {
			return nil, fmt.Errorf("导航失败 [%s]: %w", req.URL, err)
		}
		wait()
	} else {
		if err := p.Navigate(req.URL); err != nil {
			return nil, fmt.Errorf("导航失败 [%s]: %w", req.URL, err)
		}
		if err := p.WaitLoad(); err != nil {
			return nil, fmt.Errorf("等待页面加载失败 [%s]: %w", req.URL, err)
		}
	}

	// wait() 在ctx超时后直接返回, 需要单独检查
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("等待页面稳定超时 [%s]: %w", req.URL, err)
	}

	margin := req.MarginCM
	if margin <= 0 {
		margin = DefaultMarginCM
	}
	marginInch := margin / cmPerInch

	stream, err := p.PDF(&proto.PagePrintToPDF{
		PrintBackground: true,
		PaperWidth:      gson.Num(a4WidthInch),
		PaperHeight:     gson.Num(a4HeightInch),
		MarginTop:       gson.Num(marginInch),
		MarginBottom:    gson.Num(marginInch),
		MarginLeft:      gson.Num(marginInch),
		MarginRight:     gson.Num(marginInch),
	})
	if err != nil {
		return nil, fmt.Errorf("生成PDF失败: %w", err)
	}

	data, err = io.ReadAll(stream)
	if err != nil {
		return nil, fmt.Errorf("读取PDF数据失败: %w", err)
	}
	return data, nil
}

// LookupBrowser 查找本机浏览器
func LookupBrowser() (string, bool) {
	return launcher.LookPath()
}
