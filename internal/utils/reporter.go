package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/RecoveryAshes/BrochureBot/internal/models"
	"github.com/nao1215/markdown"
	"github.com/schollz/progressbar/v3"
)

const (
	// ReportDirName 报告目录, 位于镜像根目录, 以点开头避免与镜像路径冲突
	ReportDirName = ".reports"

	// maxReportFailures Markdown报告中列出的失败URL上限, JSON报告不受限制
	maxReportFailures = 50
)

// Reporter 爬取报告生成器
type Reporter struct {
	baseDir string
}

// NewReporter 创建报告生成器
func NewReporter(baseDir string) *Reporter {
	return &Reporter{baseDir: baseDir}
}

// Dir 报告目录
func (r *Reporter) Dir() string {
	return filepath.Join(r.baseDir, ReportDirName)
}

// Generate 写入 crawl_report.json 和 crawl_report.md
func (r *Reporter) Generate(report *models.CrawlReport) error {
	dir := r.Dir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建报告目录失败: %w", err)
	}

	if err := r.saveJSON(filepath.Join(dir, "crawl_report.json"), report); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := WriteMarkdownReport(&buf, report); err != nil {
		return fmt.Errorf("生成Markdown报告失败: %w", err)
	}
	mdPath := filepath.Join(dir, "crawl_report.md")
	if err := os.WriteFile(mdPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("写入报告文件失败: %w", err)
	}

	Infof("✅ 报告已生成: %s", dir)
	return nil
}

func (r *Reporter) saveJSON(path string, data interface{}) error {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化JSON失败: %w", err)
	}
	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("写入报告文件失败: %w", err)
	}
	Debugf("保存报告: %s", path)
	return nil
}

// WriteMarkdownReport 以Markdown格式输出爬取报告
func WriteMarkdownReport(w io.Writer, report *models.CrawlReport) error {
	md := markdown.NewMarkdown(w)

	md.H1("BrochureBot 爬取报告")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"项目", "值"},
		Rows: [][]string{
			{"起始URL", "`" + report.TargetURL + "`"},
			{"域名", report.Domain},
			{"站点类型", siteKind(report.IsDynamic)},
			{"渲染策略", report.Strategy},
			{"开始时间", report.StartTime.Format("2006-01-02 15:04:05")},
			{"耗时", strconv.FormatFloat(report.Duration, 'f', 1, 64) + "s"},
			{"镜像目录", "`" + report.BaseDir + "`"},
		},
	})
	md.PlainText("")

	s := report.Stats
	md.H2("统计")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"指标", "数量"},
		Rows: [][]string{
			{"请求数", strconv.Itoa(s.VisitedURLs)},
			{"保存页面", strconv.Itoa(s.SavedPages)},
			{"丢弃页面", strconv.Itoa(s.RejectedPages)},
			{"失败页面", strconv.Itoa(s.FailedPages)},
			{"保存资源", strconv.Itoa(s.SavedAssets)},
			{"失败资源", strconv.Itoa(s.FailedAssets)},
			{"写入大小", FormatSize(s.TotalSize)},
		},
	})
	md.PlainText("")

	writeJournalSection(md, report.Journal)

	writeRenderSection(md, report.Render)

	md.H2("页面")
	md.PlainText("")
	if len(report.Pages) == 0 {
		md.PlainText("没有保存任何页面。")
	} else {
		rows := make([][]string, 0, len(report.Pages))
		for _, p := range report.Pages {
			rows = append(rows, []string{p.SourceURL, "`" + p.LocalPath + "`", FormatSize(p.Size)})
		}
		md.Table(markdown.TableSet{Header: []string{"URL", "本地路径", "大小"}, Rows: rows})
	}
	md.PlainText("")

	md.H2("失败与丢弃")
	md.PlainText("")
	if len(report.Failures) == 0 {
		md.Tip("没有失败的URL。")
	} else {
		failures := report.Failures
		if len(failures) > maxReportFailures {
			md.Note(fmt.Sprintf("共 %d 条, 只列出前 %d 条, 完整列表见 crawl_report.json。", len(failures), maxReportFailures))
			md.PlainText("")
			failures = failures[:maxReportFailures]
		}
		rows := make([][]string, 0, len(failures))
		for _, f := range failures {
			code := ""
			if f.StatusCode > 0 {
				code = strconv.Itoa(f.StatusCode)
			}
			rows = append(rows, []string{f.URL, string(f.Kind), string(f.State), code, f.Reason})
		}
		md.Table(markdown.TableSet{Header: []string{"URL", "类型", "状态", "状态码", "原因"}, Rows: rows})
	}
	md.PlainText("")

	return md.Build()
}

// writeJournalSection 按爬取日志输出各类型URL的终态分布, 没有日志时不输出
func writeJournalSection(md *markdown.Markdown, journal map[models.EntryKind]map[models.PageState]int) {
	if len(journal) == 0 {
		return
	}

	md.H2("URL状态")
	md.PlainText("")
	rows := make([][]string, 0)
	for _, kind := range sortedKeys(journal) {
		states := journal[kind]
		for _, state := range sortedKeys(states) {
			rows = append(rows, []string{string(kind), string(state), strconv.Itoa(states[state])})
		}
	}
	md.Table(markdown.TableSet{Header: []string{"类型", "状态", "数量"}, Rows: rows})
	md.PlainText("")
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func writeRenderSection(md *markdown.Markdown, render *models.RenderResult) {
	md.H2("PDF")
	md.PlainText("")
	switch {
	case render == nil:
		md.Note("未执行渲染。")
	case render.Success:
		md.BulletList(
			"文件: `"+render.PDFPath+"`",
			"页数: "+strconv.Itoa(render.PageCount),
			"大小: "+FormatSize(render.Size),
		)
	default:
		msg := render.Error
		if msg == "" && render.Err != nil {
			msg = render.Err.Error()
		}
		md.Warningf("PDF生成失败: %s", msg)
	}
	md.PlainText("")
}

func siteKind(isDynamic bool) string {
	if isDynamic {
		return "动态 (JavaScript渲染)"
	}
	return "静态"
}

// NewProgressBar 创建计数进度条
func NewProgressBar(max int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
