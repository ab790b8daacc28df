package crawlers

import (
	"net/url"
	"strings"
	"sync"
)

// VisitedSet 会话内已调度URL集合
// TryMark 是原子的 检查+插入, 两个goroutine同时发现同一URL时只有一个能拿到调度权
type VisitedSet struct {
	mu   sync.Mutex
	urls map[string]struct{}
}

// NewVisitedSet 创建集合
func NewVisitedSet() *VisitedSet {
	return &VisitedSet{urls: make(map[string]struct{})}
}

// TryMark 标记URL; 返回true表示此前未出现过, 调用方获得调度权
func (v *VisitedSet) TryMark(rawURL string) bool {
	key := NormalizeURL(rawURL)
	if key == "" {
		return false
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.urls[key]; ok {
		return false
	}
	v.urls[key] = struct{}{}
	return true
}

// Contains 检查URL是否已标记
func (v *VisitedSet) Contains(rawURL string) bool {
	key := NormalizeURL(rawURL)

	v.mu.Lock()
	defer v.mu.Unlock()

	_, ok := v.urls[key]
	return ok
}

// Len 已标记数量
func (v *VisitedSet) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.urls)
}

// NormalizeURL 去重用的URL规范化: 去掉fragment, scheme和host小写, 空路径补 '/'
// 无法解析或非绝对URL返回空串
func NormalizeURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
		u.RawPath = ""
	}
	return u.String()
}

// SameHost 比较URL主机与锁定域名(不区分大小写, 含端口)
func SameHost(u *url.URL, domain string) bool {
	return u != nil && strings.EqualFold(u.Host, domain)
}
