package crawlers

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/RecoveryAshes/BrochureBot/internal/models"
)

// Session 一次爬取会话的状态
// 爬取期间只由Mirror写入; Run返回后只读, 通过Manifest()转换为清单
type Session struct {
	ID        string
	StartURL  string
	BaseDir   string
	Domain    string
	IsDynamic bool

	// 已调度的URL, 页面和资源共用, 同一URL在会话内只请求一次
	visited *VisitedSet

	mu      sync.Mutex
	claimed map[string]string // 本地路径 -> 来源URL
	pages   []models.PageRecord

	// 同一URL既是链接又是资源时, 按页面请求得到非HTML内容后改按资源保存
	wanted  map[string]string // URL -> 资源本地路径, 资源引用因URL已调度而跳过
	nonHTML map[string]bool   // 因非HTML被丢弃的页面URL
}

// NewSession 创建会话, 锁定起始URL的主机为会话域名
func NewSession(startURL, baseDir string, isDynamic bool) (*Session, error) {
	parsed, err := url.Parse(startURL)
	if err != nil {
		return nil, fmt.Errorf("解析起始URL失败: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("起始URL缺少主机名: %s", startURL)
	}

	return &Session{
		ID:        models.NewSessionID(),
		StartURL:  startURL,
		BaseDir:   baseDir,
		Domain:    strings.ToLower(parsed.Host),
		IsDynamic: isDynamic,
		visited:   NewVisitedSet(),
		claimed:   make(map[string]string),
		wanted:    make(map[string]string),
		nonHTML:   make(map[string]bool),
	}, nil
}

// ClaimPath 占用本地路径; 已被其他URL占用时返回false
// 页面和资源共用同一张表, 每个本地路径只有第一个写入者
func (s *Session) ClaimPath(localPath, sourceURL string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.claimed[localPath]; ok {
		return false
	}
	s.claimed[localPath] = sourceURL
	return true
}

// DeferAsset 记录一个因URL已调度而跳过的资源引用
// 该URL已作为非HTML页面被丢弃时返回true, 调用方应按资源下载
func (s *Session) DeferAsset(rawURL, localPath string) bool {
	key := NormalizeURL(rawURL)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nonHTML[key] {
		delete(s.nonHTML, key)
		return true
	}
	if _, ok := s.wanted[key]; !ok {
		s.wanted[key] = localPath
	}
	return false
}

// RejectNonHTML 记录因非HTML被丢弃的页面URL
// 该URL曾被当作资源引用时返回资源本地路径, 调用方应把响应按资源保存
func (s *Session) RejectNonHTML(rawURL string) (string, bool) {
	key := NormalizeURL(rawURL)
	s.mu.Lock()
	defer s.mu.Unlock()

	if local, ok := s.wanted[key]; ok {
		delete(s.wanted, key)
		return local, true
	}
	s.nonHTML[key] = true
	return "", false
}

// AddPage 追加已保存页面(完成顺序)
func (s *Session) AddPage(record models.PageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record.RawHTML = ""
	s.pages = append(s.pages, record)
}

// Pages 已保存页面的副本
func (s *Session) Pages() []models.PageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	pages := make([]models.PageRecord, len(s.pages))
	copy(pages, s.pages)
	return pages
}

// HTMLFiles 已保存页面的本地路径
func (s *Session) HTMLFiles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	files := make([]string, 0, len(s.pages))
	for _, p := range s.pages {
		files = append(files, p.LocalPath)
	}
	return files
}

// VisitedCount 已调度的URL数(页面和资源)
func (s *Session) VisitedCount() int {
	return s.visited.Len()
}

// Manifest 将会话转换为清单
func (s *Session) Manifest() *models.Manifest {
	return &models.Manifest{
		StartURL:  s.StartURL,
		BaseDir:   s.BaseDir,
		IsDynamic: s.IsDynamic,
		HTMLFiles: s.HTMLFiles(),
	}
}
