package crawlers

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RecoveryAshes/BrochureBot/internal/models"
	"github.com/RecoveryAshes/BrochureBot/internal/utils"
	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"
)

const (
	kindPage  = "page"
	kindAsset = "asset"

	ctxKind  = "kind"
	ctxLocal = "local"
	ctxURL   = "url" // 调度时的规范化URL, 不随重定向改变

	// DefaultRequestDelay 默认请求间隔
	DefaultRequestDelay = time.Second

	// DefaultRequestTimeout 默认单请求超时
	DefaultRequestTimeout = 30 * time.Second

	maxBodySize = 50 * 1024 * 1024
)

// MirrorConfig 镜像爬取配置
type MirrorConfig struct {
	BaseDir            string
	MaxWorkers         int
	RequestDelay       time.Duration // <=0 不限速
	RequestTimeout     time.Duration
	MaxPages           int           // 0 不限
	CrawlTimeout       time.Duration // 0 不限
	InsecureSkipVerify bool
	UserAgent          string
}

// MirrorConfigFrom 由爬取配置构造镜像配置
func MirrorConfigFrom(baseDir string, c models.CrawlConfig) MirrorConfig {
	return MirrorConfig{
		BaseDir:            baseDir,
		MaxWorkers:         c.MaxWorkers,
		RequestDelay:       c.RequestDelay,
		RequestTimeout:     c.RequestTimeout,
		MaxPages:           c.MaxPages,
		CrawlTimeout:       c.CrawlTimeout,
		InsecureSkipVerify: c.InsecureSkipVerify,
		UserAgent:          c.UserAgent,
	}
}

// MirrorOption 可选依赖
type MirrorOption func(*Mirror)

// WithJournal 记录每个URL的终态
func WithJournal(j models.Journal) MirrorOption {
	return func(m *Mirror) { m.journal = j }
}

// WithHeaderProvider 为每个请求附加自定义头部
func WithHeaderProvider(p models.HeaderProvider) MirrorOption {
	return func(m *Mirror) { m.headerProvider = p }
}

// WithStatusFunc 进度状态回调
func WithStatusFunc(f func(string)) MirrorOption {
	return func(m *Mirror) { m.status = f }
}

// WithResourceGuard 按系统资源收紧并发上限
func WithResourceGuard(g *ResourceGuard) MirrorOption {
	return func(m *Mirror) { m.guard = g }
}

// Mirror 单域名镜像爬取引擎
// colly负责请求调度, 去重/过滤/落盘由Mirror自身的 Fetch, OnPageAccepted, OnAssetDiscovered 完成
type Mirror struct {
	config    MirrorConfig
	session   *Session
	collector *colly.Collector

	links     *LinkExtractor
	localizer *AssetLocalizer
	limiter   *rate.Limiter

	journal        models.Journal
	headerProvider models.HeaderProvider
	status         func(string)
	guard          *ResourceGuard

	runCtx         context.Context
	stopped        atomic.Bool
	scheduledPages atomic.Int64

	mu    sync.Mutex
	stats models.TaskStats
}

// NewMirror 创建镜像爬取引擎
func NewMirror(cfg MirrorConfig, startURL string, isDynamic bool, opts ...MirrorOption) (*Mirror, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("镜像目录不能为空")
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	session, err := NewSession(startURL, cfg.BaseDir, isDynamic)
	if err != nil {
		return nil, err
	}

	m := &Mirror{
		config:    cfg,
		session:   session,
		links:     NewLinkExtractor(session.Domain),
		localizer: NewAssetLocalizer(session.Domain),
		runCtx:    context.Background(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if cfg.RequestDelay > 0 {
		m.limiter = rate.NewLimiter(rate.Every(cfg.RequestDelay), 1)
	}

	workers := cfg.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	if m.guard != nil {
		workers = m.guard.Ceiling(workers)
	}

	// 去重由VisitedSet负责, colly自身的访问记录会拦截重定向后的别名
	c := colly.NewCollector(
		colly.Async(true),
		colly.AllowURLRevisit(),
		colly.UserAgent(cfg.UserAgent),
		colly.MaxBodySize(maxBodySize),
	)
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: workers,
	}); err != nil {
		utils.Warnf("设置并发限制失败: %v", err)
	}
	c.SetRequestTimeout(cfg.RequestTimeout)
	c.WithTransport(&http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify},
	})

	m.collector = c
	m.setupCallbacks()

	utils.Debugf("镜像引擎: 域名=%s, 并发=%d, 请求间隔=%v", session.Domain, workers, cfg.RequestDelay)
	return m, nil
}

// Session 当前会话
func (m *Mirror) Session() *Session {
	return m.session
}

// Stats 统计快照
func (m *Mirror) Stats() models.TaskStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Mirror) setupCallbacks() {
	m.collector.OnRequest(func(r *colly.Request) {
		if m.stopped.Load() {
			m.record(r.Ctx.Get(ctxKind), r.URL.String(), models.StateFailed, r.Ctx.Get(ctxLocal), 0, "爬取已停止", 0)
			r.Abort()
			return
		}

		if m.limiter != nil {
			if err := m.limiter.Wait(m.runCtx); err != nil {
				m.stopped.Store(true)
				m.record(r.Ctx.Get(ctxKind), r.URL.String(), models.StateFailed, r.Ctx.Get(ctxLocal), 0, "爬取已停止", 0)
				r.Abort()
				return
			}
		}

		if m.headerProvider != nil {
			headers, err := m.headerProvider.GetHeaders()
			if err != nil {
				utils.Warnf("获取HTTP头部失败: %v", err)
			} else {
				for name, values := range headers {
					if len(values) > 0 {
						r.Headers.Set(name, values[0])
					}
				}
			}
		}

		m.bump(func(s *models.TaskStats) { s.VisitedURLs++ })
		m.record(r.Ctx.Get(ctxKind), r.URL.String(), models.StateFetching, r.Ctx.Get(ctxLocal), 0, "", 0)

		utils.Debugf("访问: %s", r.URL.String())
	})

	m.collector.OnResponse(func(r *colly.Response) {
		if r.Ctx.Get(ctxKind) == kindAsset {
			m.saveAsset(r)
			return
		}
		m.handlePage(r)
	})

	m.collector.OnError(func(r *colly.Response, err error) {
		kind := r.Ctx.Get(ctxKind)
		target := r.Request.URL.String()

		state := models.StateFailed
		if r.StatusCode > 0 {
			state = models.StateRejected
		}

		if kind == kindAsset {
			utils.Warnf("资源下载失败 [%s]: %v", target, err)
			m.bump(func(s *models.TaskStats) { s.FailedAssets++ })
			m.record(kind, target, models.StateFailed, r.Ctx.Get(ctxLocal), r.StatusCode, err.Error(), 0)
			return
		}

		if state == models.StateRejected {
			utils.Debugf("跳过页面 [%s]: HTTP %d", target, r.StatusCode)
			m.bump(func(s *models.TaskStats) { s.RejectedPages++ })
		} else {
			utils.Errorf("爬取错误 [%s]: %v", target, err)
			m.bump(func(s *models.TaskStats) { s.FailedPages++ })
		}
		m.record(kind, target, state, "", r.StatusCode, err.Error(), 0)
	})
}

// Run 从起始URL开始爬取, 直到队列耗尽、达到页面预算/时长上限或ctx取消
// 返回时所有在途请求均已结束, 会话不再变化
func (m *Mirror) Run(ctx context.Context) (*Session, error) {
	startTime := time.Now()

	if m.config.CrawlTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.CrawlTimeout)
		defer cancel()
	}
	m.runCtx = ctx

	if err := os.MkdirAll(m.config.BaseDir, 0755); err != nil {
		return m.session, fmt.Errorf("创建镜像目录失败: %w", err)
	}

	utils.Infof("🔍 开始镜像爬取: %s", m.session.StartURL)
	utils.Infof("锁定域名: %s, 镜像目录: %s", m.session.Domain, m.config.BaseDir)
	if m.session.IsDynamic {
		utils.Infof("动态站点: 只抓取起始页面, 不跟随链接")
	}

	if !m.Fetch(m.session.StartURL) {
		return m.session, fmt.Errorf("无法调度起始URL: %s", m.session.StartURL)
	}

	waitDone := make(chan struct{})
	go func() {
		m.collector.Wait()
		close(waitDone)
	}()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-waitDone:
			break loop
		case <-ctx.Done():
			if !m.stopped.Swap(true) {
				utils.Warnf("爬取被中止(%v), 等待在途请求结束", context.Cause(ctx))
			}
			<-waitDone
			break loop
		case <-ticker.C:
			s := m.Stats()
			utils.Infof("进度: 已请求 %d 个URL, 保存页面 %d, 保存资源 %d, 失败 %d",
				s.VisitedURLs, s.SavedPages, s.SavedAssets, s.FailedPages+s.FailedAssets)
		}
	}

	m.mu.Lock()
	m.stats.Duration = time.Since(startTime).Seconds()
	stats := m.stats
	m.mu.Unlock()

	utils.Infof("✅ 镜像爬取完成")
	utils.Infof("保存页面: %d, 保存资源: %d, 丢弃: %d, 失败: %d",
		stats.SavedPages, stats.SavedAssets, stats.RejectedPages, stats.FailedPages+stats.FailedAssets)
	utils.Infof("总耗时: %.2f秒", stats.Duration)

	return m.session, nil
}

// Fetch 调度一个页面URL
// 同一URL在会话内最多调度一次; 跨域URL、停止后或超出页面预算时返回false
func (m *Mirror) Fetch(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || !SameHost(parsed, m.session.Domain) {
		utils.Debugf("拒绝跨域URL: %s", rawURL)
		return false
	}
	if m.stopped.Load() {
		return false
	}
	if !m.session.visited.TryMark(rawURL) {
		return false
	}

	if n := m.scheduledPages.Add(1); m.config.MaxPages > 0 && n > int64(m.config.MaxPages) {
		utils.Debugf("已达到页面预算(%d), 跳过: %s", m.config.MaxPages, rawURL)
		return false
	}

	target := NormalizeURL(rawURL)
	m.record(kindPage, target, models.StatePending, "", 0, "", 0)
	m.setStatus(fmt.Sprintf("正在爬取 %s", target))

	ctx := colly.NewContext()
	ctx.Put(ctxKind, kindPage)
	ctx.Put(ctxURL, target)
	if err := m.collector.Request(http.MethodGet, target, nil, ctx, nil); err != nil {
		utils.Warnf("调度页面失败 [%s]: %v", target, err)
		m.bump(func(s *models.TaskStats) { s.FailedPages++ })
		m.record(kindPage, target, models.StateFailed, "", 0, err.Error(), 0)
		return false
	}
	return true
}

// handlePage 页面响应: 按最终URL检查域名与内容类型, 通过后交给OnPageAccepted
func (m *Mirror) handlePage(r *colly.Response) {
	finalURL := r.Request.URL
	target := finalURL.String()

	reject := func(reason string) {
		utils.Debugf("跳过页面 [%s]: %s", target, reason)
		m.bump(func(s *models.TaskStats) { s.RejectedPages++ })
		m.record(kindPage, target, models.StateRejected, "", r.StatusCode, reason, 0)
	}

	if !SameHost(finalURL, m.session.Domain) {
		reject("重定向到其他域名")
		return
	}

	body, err := decodeBody(r.Headers.Get("Content-Encoding"), r.Body)
	if err != nil {
		utils.Warnf("解压响应失败 [%s]: %v", target, err)
		m.bump(func(s *models.TaskStats) { s.FailedPages++ })
		m.record(kindPage, target, models.StateFailed, "", r.StatusCode, err.Error(), 0)
		return
	}

	if !isHTMLContentType(r.Headers.Get("Content-Type"), body) {
		reject("非HTML内容")
		requested := r.Ctx.Get(ctxURL)
		if local, ok := m.session.RejectNonHTML(requested); ok {
			m.storeAsset(requested, local, r.StatusCode, body)
		}
		return
	}

	// 重定向后的最终URL也计入已访问
	m.session.visited.TryMark(target)

	m.OnPageAccepted(finalURL, body)
}

// OnPageAccepted 处理一个已接受的同域HTML页面
// 改写资源引用并调度资源下载, 写入本地路径, 静态站点继续发现链接
func (m *Mirror) OnPageAccepted(pageURL *url.URL, body []byte) {
	target := pageURL.String()
	local := PagePath(pageURL)

	if !m.session.ClaimPath(local, target) {
		utils.Debugf("跳过页面 [%s]: 本地路径 %s 已被占用", target, local)
		m.bump(func(s *models.TaskStats) { s.RejectedPages++ })
		m.record(kindPage, target, models.StateRejected, local, 0, "本地路径重复", 0)
		return
	}
	m.record(kindPage, target, models.StateAccepted, local, 0, "", 0)

	// 先调度链接再调度资源: 同一URL既是链接又被 <link href> 引用时按页面抓取
	if !m.session.IsDynamic {
		links, err := m.links.ExtractFromHTML(body, pageURL)
		if err != nil {
			utils.Warnf("提取链接失败 [%s]: %v", target, err)
		}
		for _, link := range links {
			m.Fetch(link)
		}
	}

	rewritten, refs := m.localizer.Rewrite(pageURL, local, string(body))
	for _, ref := range refs {
		m.OnAssetDiscovered(ref)
	}
	m.record(kindPage, target, models.StateParsed, local, 0, "", 0)

	size, err := writeUnder(m.config.BaseDir, local, []byte(rewritten))
	if err != nil {
		utils.Errorf("保存页面失败 [%s]: %v", target, err)
		m.bump(func(s *models.TaskStats) { s.FailedPages++ })
		m.record(kindPage, target, models.StateFailed, local, 0, err.Error(), 0)
		return
	}

	m.session.AddPage(models.PageRecord{
		SourceURL: target,
		LocalPath: local,
		Size:      size,
		SavedAt:   time.Now(),
	})
	m.bump(func(s *models.TaskStats) {
		s.SavedPages++
		s.TotalSize += size
	})
	m.record(kindPage, target, models.StateSaved, local, 0, "", size)
	utils.Infof("📄 保存页面: %s -> %s", target, local)
}

// OnAssetDiscovered 调度一个同域资源的下载
// 与页面共用已访问集合, 已调度过的URL不再请求;
// 例外是该URL按页面请求后因非HTML被丢弃, 此时交接为资源
func (m *Mirror) OnAssetDiscovered(ref models.AssetRef) {
	if m.stopped.Load() {
		return
	}
	if !m.session.visited.TryMark(ref.ResolvedURL) {
		if m.session.DeferAsset(ref.ResolvedURL, ref.LocalPath) {
			m.requestAsset(ref)
			return
		}
		utils.Debugf("URL已调度, 跳过资源: %s", ref.ResolvedURL)
		return
	}
	m.requestAsset(ref)
}

func (m *Mirror) requestAsset(ref models.AssetRef) {
	m.record(kindAsset, ref.ResolvedURL, models.StatePending, ref.LocalPath, 0, "", 0)

	ctx := colly.NewContext()
	ctx.Put(ctxKind, kindAsset)
	ctx.Put(ctxLocal, ref.LocalPath)
	if err := m.collector.Request(http.MethodGet, ref.ResolvedURL, nil, ctx, nil); err != nil {
		utils.Warnf("调度资源失败 [%s]: %v", ref.ResolvedURL, err)
		m.bump(func(s *models.TaskStats) { s.FailedAssets++ })
		m.record(kindAsset, ref.ResolvedURL, models.StateFailed, ref.LocalPath, 0, err.Error(), 0)
	}
}

// saveAsset 资源原样写入调度时确定的本地路径(不随重定向改变)
func (m *Mirror) saveAsset(r *colly.Response) {
	target := r.Request.URL.String()
	local := r.Ctx.Get(ctxLocal)

	body, err := decodeBody(r.Headers.Get("Content-Encoding"), r.Body)
	if err != nil {
		m.assetFailed(target, local, r.StatusCode, err)
		return
	}
	m.storeAsset(target, local, r.StatusCode, body)
}

// storeAsset 写入资源; 本地路径已被页面或其他资源占用时跳过
func (m *Mirror) storeAsset(target, local string, code int, body []byte) {
	if !m.session.ClaimPath(local, target) {
		utils.Debugf("跳过资源 [%s]: 本地路径 %s 已被占用", target, local)
		m.record(kindAsset, target, models.StateRejected, local, code, "本地路径重复", 0)
		return
	}

	size, err := writeUnder(m.config.BaseDir, local, body)
	if err != nil {
		m.assetFailed(target, local, code, err)
		return
	}
	m.bump(func(s *models.TaskStats) {
		s.SavedAssets++
		s.TotalSize += size
	})
	m.record(kindAsset, target, models.StateSaved, local, code, "", size)
	utils.Debugf("📦 保存资源: %s -> %s (%d bytes)", target, local, size)
}

func (m *Mirror) assetFailed(target, local string, code int, err error) {
	utils.Warnf("保存资源失败 [%s]: %v", target, err)
	m.bump(func(s *models.TaskStats) { s.FailedAssets++ })
	m.record(kindAsset, target, models.StateFailed, local, code, err.Error(), 0)
}

func (m *Mirror) bump(f func(*models.TaskStats)) {
	m.mu.Lock()
	f(&m.stats)
	m.mu.Unlock()
}

func (m *Mirror) setStatus(s string) {
	if m.status != nil {
		m.status(s)
	}
}

func (m *Mirror) record(kind, target string, state models.PageState, local string, code int, reason string, size int64) {
	if m.journal == nil {
		return
	}
	if kind == "" {
		kind = kindPage
	}

	err := m.journal.Record(models.JournalEntry{
		SessionID:  m.session.ID,
		Kind:       models.EntryKind(kind),
		URL:        target,
		State:      state,
		LocalPath:  local,
		StatusCode: code,
		Reason:     reason,
		Size:       size,
		At:         time.Now(),
	})
	if err != nil {
		utils.Debugf("写入爬取日志失败 [%s]: %v", target, err)
	}
}

// writeUnder 写入镜像目录下的相对路径, 按需创建目录
func writeUnder(base, rel string, data []byte) (int64, error) {
	full, err := ResolveUnder(base, rel)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return 0, fmt.Errorf("创建目录失败: %w", err)
	}
	if err := os.WriteFile(full, data, 0644); err != nil {
		return 0, fmt.Errorf("写入文件失败: %w", err)
	}
	return int64(len(data)), nil
}
