package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/RecoveryAshes/BrochureBot/internal/models"
	"github.com/RecoveryAshes/BrochureBot/internal/utils"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const (
	// ComposedFileName 静态策略拼接文档的临时文件名, 位于镜像根目录
	ComposedFileName = ".brochure.html"

	// DefaultRenderTimeout 页面稳定等待硬超时
	DefaultRenderTimeout = 120 * time.Second
)

// Renderer 根据清单生成PDF宣传册
type Renderer struct {
	engine Engine
	config models.RenderConfig
}

// NewRenderer 创建渲染器
func NewRenderer(engine Engine, config models.RenderConfig) *Renderer {
	if config.Timeout <= 0 {
		config.Timeout = DefaultRenderTimeout
	}
	if config.MarginCM <= 0 {
		config.MarginCM = DefaultMarginCM
	}
	return &Renderer{engine: engine, config: config}
}

// RenderDir 加载镜像目录下的清单并渲染
// 没有清单时返回 models.ErrNoManifest, 调用方按"没有可渲染的内容"处理
func (r *Renderer) RenderDir(ctx context.Context, baseDir string) (models.RenderResult, error) {
	manifest, err := models.LoadManifest(baseDir)
	if err != nil {
		return models.RenderResult{}, err
	}
	return r.Render(ctx, manifest), nil
}

// Render 按清单的is_dynamic选择策略生成PDF
// 任何失败都使整个渲染步骤失败, 不会留下不完整的PDF
func (r *Renderer) Render(ctx context.Context, manifest *models.Manifest) models.RenderResult {
	start := time.Now()
	strategy := models.StrategyFor(manifest.IsDynamic)
	result := models.RenderResult{
		PDFPath:  manifest.PDFPath(),
		Strategy: string(strategy),
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	var data []byte
	var err error
	if strategy == models.StrategyDynamic {
		utils.Infof("⚡ 使用浏览器导航渲染: %s", manifest.StartURL)
		data, err = r.engine.Print(ctx, PrintRequest{
			URL:             manifest.StartURL,
			WaitNetworkIdle: true,
			Stealth:         true,
			MarginCM:        r.config.MarginCM,
		})
	} else {
		utils.Infof("📄 拼接 %d 个页面渲染PDF", len(manifest.HTMLFiles))
		data, err = r.renderStatic(ctx, manifest)
	}

	if err == nil {
		result.PageCount, err = validatePDF(data)
	}
	if err == nil {
		err = writeFileAtomic(result.PDFPath, data)
	}

	result.Duration = time.Since(start).Seconds()
	if err != nil {
		result.Err = err
		utils.Errorf("❌ PDF生成失败: %v", err)
		return result
	}

	result.Success = true
	result.Size = int64(len(data))
	utils.Infof("✅ PDF宣传册已生成: %s (%d页, %d bytes)", result.PDFPath, result.PageCount, result.Size)
	return result
}

// renderStatic 拼接镜像页面, 写入镜像根目录后通过file:// URL打印
func (r *Renderer) renderStatic(ctx context.Context, manifest *models.Manifest) ([]byte, error) {
	composition, err := NewComposer(manifest.BaseDir, r.config.Sanitize).Compose(manifest.HTMLFiles)
	if err != nil {
		return nil, err
	}
	if len(composition.Skipped) > 0 {
		utils.Warnf("%d 个页面未能拼入文档", len(composition.Skipped))
	}

	docPath := filepath.Join(manifest.BaseDir, ComposedFileName)
	if err := os.WriteFile(docPath, []byte(composition.HTML), 0644); err != nil {
		return nil, fmt.Errorf("写入拼接文档失败: %w", err)
	}
	defer os.Remove(docPath)

	docURL, err := fileURL(docPath)
	if err != nil {
		return nil, err
	}

	return r.engine.Print(ctx, PrintRequest{
		URL:      docURL,
		MarginCM: r.config.MarginCM,
	})
}

// fileURL 本地文件的 file:// URL
func fileURL(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("获取绝对路径失败: %w", err)
	}
	slashed := filepath.ToSlash(abs)
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	return (&url.URL{Scheme: "file", Path: slashed}).String(), nil
}

// validatePDF 用pdfcpu校验PDF结构, 返回页数
func validatePDF(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, errors.New("渲染结果为空")
	}

	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return 0, fmt.Errorf("PDF校验失败: %w", err)
	}
	return ctx.PageCount, nil
}

// writeFileAtomic 先写临时文件再rename
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".brochure-*.pdf")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("写入PDF失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("写入PDF失败: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("保存PDF失败: %w", err)
	}
	return nil
}
