package crawlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RecoveryAshes/BrochureBot/internal/models"
)

// hitCounter 记录测试服务器每个路径被请求的次数
type hitCounter struct {
	mu   sync.Mutex
	hits map[string]int
}

func newHitCounter() *hitCounter {
	return &hitCounter{hits: make(map[string]int)}
}

func (h *hitCounter) add(path string) {
	h.mu.Lock()
	h.hits[path]++
	h.mu.Unlock()
}

func (h *hitCounter) get(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hits[path]
}

// memJournal 内存日志
type memJournal struct {
	mu      sync.Mutex
	entries []models.JournalEntry
}

func (j *memJournal) Record(e models.JournalEntry) error {
	j.mu.Lock()
	j.entries = append(j.entries, e)
	j.mu.Unlock()
	return nil
}

func (j *memJournal) final(url string) models.PageState {
	j.mu.Lock()
	defer j.mu.Unlock()
	var state models.PageState
	for _, e := range j.entries {
		if e.URL == url {
			state = e.State
		}
	}
	return state
}

// newSiteServer 构造测试站点, routes 为 路径 -> 处理函数
func newSiteServer(t *testing.T, counter *hitCounter, routes map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		counter.add(r.URL.Path)
		if h, ok := routes[r.URL.Path]; ok {
			h(w, r)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func htmlPage(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}
}

func rawContent(contentType, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write([]byte(body))
	}
}

func testMirrorConfig(base string) MirrorConfig {
	return MirrorConfig{
		BaseDir:        base,
		MaxWorkers:     4,
		RequestTimeout: 5 * time.Second,
	}
}

func runMirror(t *testing.T, cfg MirrorConfig, startURL string, isDynamic bool, opts ...MirrorOption) (*Mirror, *Session) {
	t.Helper()
	m, err := NewMirror(cfg, startURL, isDynamic, opts...)
	if err != nil {
		t.Fatalf("NewMirror() 错误: %v", err)
	}
	session, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() 错误: %v", err)
	}
	return m, session
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取文件失败 %s: %v", path, err)
	}
	return string(data)
}

// TestMirror_StaticSite 静态站点: 跟随链接, 下载资源, 改写引用
func TestMirror_StaticSite(t *testing.T) {
	counter := newHitCounter()
	server := newSiteServer(t, counter, map[string]http.HandlerFunc{
		"/": htmlPage(`<html><head><link rel="stylesheet" href="/css/site.css"></head>
			<body><a href="/about">About</a><img src="/img/logo.png"></body></html>`),
		"/about": func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/about/", http.StatusMovedPermanently)
		},
		"/about/":       htmlPage(`<html><body><h1>About</h1><img src="/img/logo.png"><a href="/">Home</a></body></html>`),
		"/img/logo.png": rawContent("image/png", "\x89PNG fake"),
		"/css/site.css": rawContent("text/css", "body{color:red}"),
	})

	base := t.TempDir()
	journal := &memJournal{}
	m, session := runMirror(t, testMirrorConfig(base), server.URL+"/", false, WithJournal(journal))

	for _, rel := range []string{"index.html", "about/index.html", "img/logo.png", "css/site.css"} {
		if _, err := os.Stat(filepath.Join(base, filepath.FromSlash(rel))); err != nil {
			t.Errorf("镜像中缺少 %s: %v", rel, err)
		}
	}

	index := readFile(t, filepath.Join(base, "index.html"))
	if !strings.Contains(index, `src="img/logo.png"`) {
		t.Errorf("index.html 应引用 img/logo.png:\n%s", index)
	}
	if !strings.Contains(index, `href="css/site.css"`) {
		t.Errorf("index.html 应引用 css/site.css:\n%s", index)
	}
	about := readFile(t, filepath.Join(base, "about", "index.html"))
	if !strings.Contains(about, `src="../img/logo.png"`) {
		t.Errorf("about/index.html 应引用 ../img/logo.png:\n%s", about)
	}

	files := session.HTMLFiles()
	sort.Strings(files)
	if want := []string{"about/index.html", "index.html"}; strings.Join(files, ",") != strings.Join(want, ",") {
		t.Errorf("HTMLFiles() = %v, 期望 %v", files, want)
	}

	// 两个页面共享的资源只下载一次
	if n := counter.get("/img/logo.png"); n != 1 {
		t.Errorf("logo.png 请求次数 = %d, 期望 1", n)
	}
	if n := counter.get("/about/"); n != 1 {
		t.Errorf("/about/ 请求次数 = %d, 期望 1", n)
	}
	if n := counter.get("/"); n != 1 {
		t.Errorf("/ 请求次数 = %d, 期望 1", n)
	}

	stats := m.Stats()
	if stats.SavedPages != 2 || stats.SavedAssets != 2 {
		t.Errorf("统计 = %+v, 期望 2个页面 2个资源", stats)
	}

	if state := journal.final(server.URL + "/about/"); state != models.StateSaved {
		t.Errorf("/about/ 终态 = %q, 期望 saved", state)
	}

	manifest := session.Manifest()
	if manifest.IsDynamic || manifest.StartURL != server.URL+"/" || len(manifest.HTMLFiles) != 2 {
		t.Errorf("清单内容不正确: %+v", manifest)
	}
}

// TestMirror_DynamicSite 动态站点只抓取起始页面
func TestMirror_DynamicSite(t *testing.T) {
	counter := newHitCounter()
	server := newSiteServer(t, counter, map[string]http.HandlerFunc{
		"/":        htmlPage(`<html><body><div id="app"></div><script src="/main.js"></script><a href="/hidden">x</a></body></html>`),
		"/main.js": rawContent("application/javascript", "console.log(1)"),
		"/hidden":  htmlPage(`<p>hidden</p>`),
	})

	base := t.TempDir()
	_, session := runMirror(t, testMirrorConfig(base), server.URL+"/", true)

	if files := session.HTMLFiles(); len(files) != 1 || files[0] != "index.html" {
		t.Errorf("HTMLFiles() = %v, 期望 [index.html]", files)
	}
	if n := counter.get("/hidden"); n != 0 {
		t.Errorf("动态站点不应跟随链接, /hidden 请求了 %d 次", n)
	}
	if n := counter.get("/main.js"); n != 1 {
		t.Errorf("动态站点仍应下载资源, /main.js 请求了 %d 次", n)
	}
	if !session.Manifest().IsDynamic {
		t.Error("清单应标记为动态站点")
	}
}

// TestMirror_RejectsNonHTML 非HTML响应不保存, 也不提取链接
func TestMirror_RejectsNonHTML(t *testing.T) {
	counter := newHitCounter()
	server := newSiteServer(t, counter, map[string]http.HandlerFunc{
		"/":            htmlPage(`<a href="/notes.txt">notes</a><a href="/data.json">data</a>`),
		"/notes.txt":   rawContent("text/plain", `<a href="/secret.html">secret</a>`),
		"/data.json":   rawContent("application/json", `{"a":1}`),
		"/secret.html": htmlPage(`<p>secret</p>`),
	})

	base := t.TempDir()
	journal := &memJournal{}
	m, session := runMirror(t, testMirrorConfig(base), server.URL+"/", false, WithJournal(journal))

	if files := session.HTMLFiles(); len(files) != 1 {
		t.Errorf("只应保存起始页面, 得到 %v", files)
	}
	for _, rel := range []string{"notes.txt", "data.json"} {
		if _, err := os.Stat(filepath.Join(base, rel)); !os.IsNotExist(err) {
			t.Errorf("非HTML响应不应落盘: %s", rel)
		}
	}
	if n := counter.get("/secret.html"); n != 0 {
		t.Errorf("非HTML响应中的链接不应被跟随, /secret.html 请求了 %d 次", n)
	}
	if got := m.Stats().RejectedPages; got != 2 {
		t.Errorf("RejectedPages = %d, 期望 2", got)
	}
	if state := journal.final(server.URL + "/data.json"); state != models.StateRejected {
		t.Errorf("/data.json 终态 = %q, 期望 rejected", state)
	}
}

// TestMirror_CrossDomain 跨域链接和资源从不请求
func TestMirror_CrossDomain(t *testing.T) {
	otherCounter := newHitCounter()
	other := newSiteServer(t, otherCounter, map[string]http.HandlerFunc{
		"/":      htmlPage(`<p>other</p>`),
		"/x.png": rawContent("image/png", "png"),
	})

	counter := newHitCounter()
	server := newSiteServer(t, counter, map[string]http.HandlerFunc{
		"/": htmlPage(`<a href="` + other.URL + `/">other</a><img src="` + other.URL + `/x.png">`),
	})

	base := t.TempDir()
	_, _ = runMirror(t, testMirrorConfig(base), server.URL+"/", false)

	if n := otherCounter.get("/") + otherCounter.get("/x.png"); n != 0 {
		t.Errorf("跨域站点被请求了 %d 次", n)
	}
	index := readFile(t, filepath.Join(base, "index.html"))
	if !strings.Contains(index, other.URL+"/x.png") {
		t.Errorf("跨域资源引用应保持不变:\n%s", index)
	}
}

// TestMirror_FetchIdempotent 同一URL只调度一次
func TestMirror_FetchIdempotent(t *testing.T) {
	counter := newHitCounter()
	server := newSiteServer(t, counter, map[string]http.HandlerFunc{
		"/":  htmlPage(`<a href="/a">1</a><a href="/a#x">2</a><a href="a">3</a>`),
		"/a": htmlPage(`<a href="/">home</a><a href="/a">self</a>`),
	})

	base := t.TempDir()
	m, _ := runMirror(t, testMirrorConfig(base), server.URL+"/", false)

	if n := counter.get("/a"); n != 1 {
		t.Errorf("/a 请求次数 = %d, 期望 1", n)
	}
	if m.Fetch(server.URL + "/a") {
		t.Error("已调度的URL再次Fetch应返回false")
	}
}

// TestMirror_CanonicalLinkFetchedOnce 页面通过 <link rel="canonical"> 引用自身时只请求一次, 改写后的页面不被原始内容覆盖
func TestMirror_CanonicalLinkFetchedOnce(t *testing.T) {
	counter := newHitCounter()
	server := newSiteServer(t, counter, map[string]http.HandlerFunc{
		"/":          htmlPage(`<a href="/p.html">p</a>`),
		"/p.html":    htmlPage(`<html><head><link rel="canonical" href="/p.html"></head><body><img src="/img/a.png"></body></html>`),
		"/img/a.png": rawContent("image/png", "PNGDATA"),
	})

	base := t.TempDir()
	journal := &memJournal{}
	_, session := runMirror(t, testMirrorConfig(base), server.URL+"/", false, WithJournal(journal))

	if n := counter.get("/p.html"); n != 1 {
		t.Errorf("/p.html 请求次数 = %d, 期望 1", n)
	}
	if n := counter.get("/img/a.png"); n != 1 {
		t.Errorf("/img/a.png 请求次数 = %d, 期望 1", n)
	}

	page := readFile(t, filepath.Join(base, "p.html"))
	if !strings.Contains(page, `src="img/a.png"`) {
		t.Errorf("p.html 应包含改写后的图片引用:\n%s", page)
	}
	if strings.Contains(page, `src="/img/a.png"`) {
		t.Errorf("p.html 被原始内容覆盖:\n%s", page)
	}
	if got := journal.final(server.URL + "/p.html"); got != models.StateSaved {
		t.Errorf("/p.html 最终状态 = %s, 期望 %s", got, models.StateSaved)
	}

	found := false
	for _, p := range session.Pages() {
		if p.LocalPath == "p.html" {
			found = true
		}
	}
	if !found {
		t.Error("清单应包含 p.html 页面")
	}
}

// TestMirror_LinkedAssetStillSaved 同一URL既是链接又是图片时, 页面被丢弃后仍按资源保存
func TestMirror_LinkedAssetStillSaved(t *testing.T) {
	counter := newHitCounter()
	server := newSiteServer(t, counter, map[string]http.HandlerFunc{
		"/":          htmlPage(`<a href="/img/a.png">原图</a><img src="/img/a.png">`),
		"/img/a.png": rawContent("image/png", "\x89PNG fake"),
	})

	base := t.TempDir()
	m, session := runMirror(t, testMirrorConfig(base), server.URL+"/", false)

	if got := readFile(t, filepath.Join(base, "img", "a.png")); got != "\x89PNG fake" {
		t.Errorf("img/a.png 内容 = %q", got)
	}
	if n := counter.get("/img/a.png"); n < 1 || n > 2 {
		t.Errorf("/img/a.png 请求次数 = %d, 期望 1 或 2", n)
	}
	stats := m.Stats()
	if stats.SavedAssets != 1 || stats.RejectedPages != 1 {
		t.Errorf("统计 = %+v, 期望 1个资源 1个丢弃页面", stats)
	}
	if files := session.HTMLFiles(); len(files) != 1 {
		t.Errorf("HTMLFiles() = %v, 期望只有起始页面", files)
	}
}

func TestSession_AssetHandoff(t *testing.T) {
	newSession := func(t *testing.T) *Session {
		s, err := NewSession("http://example.com/", t.TempDir(), false)
		if err != nil {
			t.Fatalf("NewSession() 错误: %v", err)
		}
		return s
	}
	const u = "http://example.com/a.png"

	t.Run("先丢弃页面后发现资源", func(t *testing.T) {
		s := newSession(t)
		if _, ok := s.RejectNonHTML(u); ok {
			t.Fatal("没有资源引用时不应交接")
		}
		if !s.DeferAsset(u+"#x", "a.png") {
			t.Error("页面已丢弃时资源应立即下载")
		}
		if s.DeferAsset(u, "a.png") {
			t.Error("同一URL只交接一次")
		}
	})

	t.Run("先发现资源后丢弃页面", func(t *testing.T) {
		s := newSession(t)
		if s.DeferAsset(u, "a.png") {
			t.Fatal("页面尚未丢弃时不应下载")
		}
		local, ok := s.RejectNonHTML("HTTP://EXAMPLE.COM/a.png")
		if !ok || local != "a.png" {
			t.Errorf("RejectNonHTML() = %q, %v, 期望 a.png, true", local, ok)
		}
		if _, ok := s.RejectNonHTML(u); ok {
			t.Error("同一URL只交接一次")
		}
	})
}

// TestSession_ClaimPathShared 页面和资源共用本地路径占用表
func TestSession_ClaimPathShared(t *testing.T) {
	s, err := NewSession("http://example.com/", t.TempDir(), false)
	if err != nil {
		t.Fatalf("NewSession() 错误: %v", err)
	}
	if !s.ClaimPath("p.html", "http://example.com/p.html") {
		t.Fatal("第一次占用应成功")
	}
	if s.ClaimPath("p.html", "http://example.com/p.html?asset") {
		t.Error("已占用的路径再次占用应返回false")
	}
}

// TestMirror_AssetFailureKeepsReference 资源下载失败时保留改写后的引用
func TestMirror_AssetFailureKeepsReference(t *testing.T) {
	counter := newHitCounter()
	server := newSiteServer(t, counter, map[string]http.HandlerFunc{
		"/": htmlPage(`<img src="/missing.png">`),
	})

	base := t.TempDir()
	journal := &memJournal{}
	m, session := runMirror(t, testMirrorConfig(base), server.URL+"/", false, WithJournal(journal))

	if len(session.HTMLFiles()) != 1 {
		t.Fatalf("页面应被保存")
	}
	index := readFile(t, filepath.Join(base, "index.html"))
	if !strings.Contains(index, `src="missing.png"`) {
		t.Errorf("失败资源的引用仍应被改写:\n%s", index)
	}
	if got := m.Stats().FailedAssets; got != 1 {
		t.Errorf("FailedAssets = %d, 期望 1", got)
	}
	if state := journal.final(server.URL + "/missing.png"); state != models.StateFailed {
		t.Errorf("资源终态 = %q, 期望 failed", state)
	}
}

// TestMirror_MaxPages 页面预算
func TestMirror_MaxPages(t *testing.T) {
	counter := newHitCounter()
	server := newSiteServer(t, counter, map[string]http.HandlerFunc{
		"/":  htmlPage(`<a href="/a">a</a><a href="/b">b</a>`),
		"/a": htmlPage(`a`),
		"/b": htmlPage(`b`),
	})

	cfg := testMirrorConfig(t.TempDir())
	cfg.MaxPages = 1
	_, session := runMirror(t, cfg, server.URL+"/", false)

	if files := session.HTMLFiles(); len(files) != 1 {
		t.Errorf("页面预算为1时只应保存1个页面, 得到 %v", files)
	}
	if n := counter.get("/a") + counter.get("/b"); n != 0 {
		t.Errorf("超出预算的页面被请求了 %d 次", n)
	}
}

// TestMirror_CancelledContext 已取消的ctx: 不发出请求, 仍正常返回会话
func TestMirror_CancelledContext(t *testing.T) {
	counter := newHitCounter()
	server := newSiteServer(t, counter, map[string]http.HandlerFunc{
		"/": htmlPage(`<p>home</p>`),
	})

	cfg := testMirrorConfig(t.TempDir())
	cfg.RequestDelay = 10 * time.Millisecond

	m, err := NewMirror(cfg, server.URL+"/", false)
	if err != nil {
		t.Fatalf("NewMirror() 错误: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	session, err := m.Run(ctx)
	if err != nil {
		t.Fatalf("Run() 错误: %v", err)
	}
	if len(session.HTMLFiles()) != 0 {
		t.Errorf("取消后不应保存页面, 得到 %v", session.HTMLFiles())
	}
	if n := counter.get("/"); n != 0 {
		t.Errorf("取消后不应发出请求, 得到 %d 次", n)
	}
}

// TestNewMirror 构造参数校验
func TestNewMirror(t *testing.T) {
	tests := []struct {
		name     string
		cfg      MirrorConfig
		startURL string
		wantErr  bool
	}{
		{"正常", MirrorConfig{BaseDir: "out"}, "https://example.com/", false},
		{"缺少镜像目录", MirrorConfig{}, "https://example.com/", true},
		{"缺少主机名", MirrorConfig{BaseDir: "out"}, "/relative", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMirror(tt.cfg, tt.startURL, false)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewMirror() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && m.Session().Domain != "example.com" {
				t.Errorf("锁定域名 = %q, 期望 example.com", m.Session().Domain)
			}
		})
	}
}
