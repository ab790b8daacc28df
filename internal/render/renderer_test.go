package render

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RecoveryAshes/BrochureBot/internal/models"
)

// fakeEngine 记录打印请求, 返回预设的PDF
type fakeEngine struct {
	mu       sync.Mutex
	requests []PrintRequest
	docs     []string

	data  []byte
	err   error
	block bool
}

func (f *fakeEngine) Print(ctx context.Context, req PrintRequest) ([]byte, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	if strings.HasPrefix(req.URL, "file://") {
		if u, err := url.Parse(req.URL); err == nil {
			if b, err := os.ReadFile(u.Path); err == nil {
				f.docs = append(f.docs, string(b))
			}
		}
	}
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.data, f.err
}

// minimalPDF 构造一个xref偏移正确的单页PDF
func minimalPDF(text string) []byte {
	stream := "BT\n/F1 12 Tf\n72 720 Td\n(" + text + ") Tj\nET"

	var b strings.Builder
	b.WriteString("%PDF-1.4\n")

	offsets := make([]int, 6)

	offsets[1] = b.Len()
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	offsets[2] = b.Len()
	b.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")

	offsets[3] = b.Len()
	b.WriteString("3 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>\nendobj\n")

	offsets[4] = b.Len()
	b.WriteString("4 0 obj\n<< /Length " + strconv.Itoa(len(stream)) + " >>\nstream\n")
	b.WriteString(stream)
	b.WriteString("\nendstream\nendobj\n")

	offsets[5] = b.Len()
	b.WriteString("5 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n")

	xrefOffset := b.Len()
	b.WriteString("xref\n0 6\n")
	b.WriteString("0000000000 65535 f \n")
	for i := 1; i <= 5; i++ {
		b.WriteString(fmt.Sprintf("%010d 00000 n \n", offsets[i]))
	}
	b.WriteString("trailer\n<< /Size 6 /Root 1 0 R >>\nstartxref\n")
	b.WriteString(strconv.Itoa(xrefOffset))
	b.WriteString("\n%%EOF\n")

	return []byte(b.String())
}

func writePage(t *testing.T, base, rel, content string) {
	t.Helper()
	full := filepath.Join(base, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		t.Fatalf("写入页面失败: %v", err)
	}
}

func testRenderConfig() models.RenderConfig {
	return models.RenderConfig{Timeout: 5 * time.Second, MarginCM: 1}
}

// TestRenderer_StaticStrategy 静态站点: 拼接页面后打印
func TestRenderer_StaticStrategy(t *testing.T) {
	base := t.TempDir()
	writePage(t, base, "index.html", `<html><head><link rel="stylesheet" href="css/site.css"></head>
		<body><h1>Home</h1><img src="img/logo.png"></body></html>`)
	writePage(t, base, "about/index.html", `<html><head><link rel="stylesheet" href="../css/site.css"></head>
		<body><h1>About</h1><img src="../img/logo.png"></body></html>`)

	manifest := &models.Manifest{
		StartURL:  "https://example.com/",
		BaseDir:   base,
		IsDynamic: false,
		HTMLFiles: []string{"index.html", "about/index.html"},
	}
	if _, err := manifest.Save(); err != nil {
		t.Fatalf("保存清单失败: %v", err)
	}

	engine := &fakeEngine{data: minimalPDF("brochure")}
	result, err := NewRenderer(engine, testRenderConfig()).RenderDir(context.Background(), base)
	if err != nil {
		t.Fatalf("RenderDir() 错误: %v", err)
	}

	if !result.Success {
		t.Fatalf("渲染应成功, 错误: %v", result.Err)
	}
	if result.Strategy != string(models.StrategyStatic) {
		t.Errorf("Strategy = %q, 期望 static", result.Strategy)
	}
	if result.PageCount != 1 {
		t.Errorf("PageCount = %d, 期望 1", result.PageCount)
	}
	if result.PDFPath != filepath.Join(base, models.BrochureFileName) {
		t.Errorf("PDFPath = %q", result.PDFPath)
	}
	if _, err := os.Stat(result.PDFPath); err != nil {
		t.Errorf("PDF文件应存在: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, ComposedFileName)); !os.IsNotExist(err) {
		t.Error("拼接文档应在打印后删除")
	}

	if len(engine.requests) != 1 {
		t.Fatalf("打印次数 = %d, 期望 1", len(engine.requests))
	}
	req := engine.requests[0]
	if !strings.HasPrefix(req.URL, "file://") || req.WaitNetworkIdle {
		t.Errorf("静态策略应打印本地文件并等待load事件: %+v", req)
	}

	if len(engine.docs) != 1 {
		t.Fatalf("打印时应能读到拼接文档")
	}
	doc := engine.docs[0]
	if n := strings.Count(doc, "<div class='page'>"); n != 2 {
		t.Errorf("页面块数量 = %d, 期望 2", n)
	}
	if n := strings.Count(doc, pageBreak); n != 2 {
		t.Errorf("分页标记数量 = %d, 期望 2", n)
	}
	if strings.Index(doc, "Home") > strings.Index(doc, "About") {
		t.Error("页面应按html_files顺序拼接")
	}
	if n := strings.Count(doc, `src="img/logo.png"`); n != 2 {
		t.Errorf("图片引用应相对镜像根目录, 找到 %d 处:\n%s", n, doc)
	}
	if n := strings.Count(doc, `href="css/site.css"`); n != 1 {
		t.Errorf("相同的样式表只应提升一次, 找到 %d 处", n)
	}
}

// TestRenderer_DynamicStrategy 动态站点: 只导航起始URL
func TestRenderer_DynamicStrategy(t *testing.T) {
	base := t.TempDir()
	manifest := &models.Manifest{
		StartURL:  "https://spa.example.com/",
		BaseDir:   base,
		IsDynamic: true,
		HTMLFiles: []string{"index.html"},
	}

	engine := &fakeEngine{data: minimalPDF("spa")}
	result := NewRenderer(engine, testRenderConfig()).Render(context.Background(), manifest)

	if !result.Success {
		t.Fatalf("渲染应成功, 错误: %v", result.Err)
	}
	if result.Strategy != string(models.StrategyDynamic) {
		t.Errorf("Strategy = %q, 期望 dynamic", result.Strategy)
	}
	if len(engine.requests) != 1 {
		t.Fatalf("打印次数 = %d, 期望 1", len(engine.requests))
	}
	req := engine.requests[0]
	if req.URL != manifest.StartURL || !req.WaitNetworkIdle || !req.Stealth {
		t.Errorf("动态策略请求不正确: %+v", req)
	}
	if len(engine.docs) != 0 {
		t.Error("动态策略不应拼接页面")
	}
}

// TestRenderer_MissingManifest 没有清单: 没有可渲染的内容
func TestRenderer_MissingManifest(t *testing.T) {
	base := t.TempDir()
	engine := &fakeEngine{data: minimalPDF("x")}

	_, err := NewRenderer(engine, testRenderConfig()).RenderDir(context.Background(), base)
	if !errors.Is(err, models.ErrNoManifest) {
		t.Fatalf("期望 ErrNoManifest, 得到 %v", err)
	}
	if len(engine.requests) != 0 {
		t.Error("没有清单时不应启动渲染")
	}
	if _, err := os.Stat(filepath.Join(base, models.BrochureFileName)); !os.IsNotExist(err) {
		t.Error("不应生成PDF")
	}
}

// TestRenderer_Failures 渲染失败时不留下PDF
func TestRenderer_Failures(t *testing.T) {
	tests := []struct {
		name    string
		engine  *fakeEngine
		timeout time.Duration
	}{
		{"引擎错误", &fakeEngine{err: errors.New("browser crashed")}, 5 * time.Second},
		{"无效的PDF数据", &fakeEngine{data: []byte("not a pdf")}, 5 * time.Second},
		{"空数据", &fakeEngine{}, 5 * time.Second},
		{"等待超时", &fakeEngine{block: true}, 50 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := t.TempDir()
			manifest := &models.Manifest{
				StartURL:  "https://example.com/",
				BaseDir:   base,
				IsDynamic: true,
			}

			cfg := testRenderConfig()
			cfg.Timeout = tt.timeout
			result := NewRenderer(tt.engine, cfg).Render(context.Background(), manifest)

			if result.Success {
				t.Fatal("渲染应失败")
			}
			if result.Err == nil {
				t.Error("失败结果应带有错误")
			}
			entries, _ := os.ReadDir(base)
			if len(entries) != 0 {
				t.Errorf("失败后镜像目录不应有新文件, 得到 %d 个", len(entries))
			}
		})
	}
}

// TestRenderer_StaticAllPagesMissing 所有页面都缺失时渲染失败
func TestRenderer_StaticAllPagesMissing(t *testing.T) {
	base := t.TempDir()
	manifest := &models.Manifest{
		StartURL:  "https://example.com/",
		BaseDir:   base,
		HTMLFiles: []string{"gone.html"},
	}

	engine := &fakeEngine{data: minimalPDF("x")}
	result := NewRenderer(engine, testRenderConfig()).Render(context.Background(), manifest)
	if result.Success {
		t.Error("没有可拼接的页面时渲染应失败")
	}
	if len(engine.requests) != 0 {
		t.Error("没有可拼接的页面时不应打印")
	}
}

// TestFileURL 测试本地文件URL
func TestFileURL(t *testing.T) {
	base := t.TempDir()
	got, err := fileURL(filepath.Join(base, "a b", ComposedFileName))
	if err != nil {
		t.Fatalf("fileURL() 错误: %v", err)
	}
	if !strings.HasPrefix(got, "file:///") {
		t.Errorf("fileURL() = %q, 应以 file:/// 开头", got)
	}
	if !strings.Contains(got, "a%20b") {
		t.Errorf("路径中的空格应被转义: %q", got)
	}
}
