package crawlers

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// SkippedExtensions 不跟随的二进制/媒体文件扩展名
var SkippedExtensions = []string{".zip", ".exe", ".wav", ".mp3", ".mp4", ".avi", ".mov"}

// LinkExtractor 从页面中发现可跟随的链接
type LinkExtractor struct {
	// 锁定域名
	domain string
}

// NewLinkExtractor 创建链接提取器
func NewLinkExtractor(domain string) *LinkExtractor {
	return &LinkExtractor{domain: strings.ToLower(domain)}
}

// ExtractFromHTML 提取页面中所有应跟随的 a[href] 链接(绝对URL, 已去掉fragment)
// 结果按文档顺序, 同一页面内去重
func (e *LinkExtractor) ExtractFromHTML(body []byte, pageURL *url.URL) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("解析HTML失败: %w", err)
	}

	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		link, ok, _ := e.ShouldFollowLink(pageURL, href)
		if !ok || seen[link] {
			return
		}
		seen[link] = true
		links = append(links, link)
	})

	return links, nil
}

// ShouldFollowLink 判断链接是否应该被跟随
// 返回解析后的绝对URL、是否跟随以及不跟随的原因
func (e *LinkExtractor) ShouldFollowLink(pageURL *url.URL, href string) (string, bool, string) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false, "页内锚点"
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", false, "URL格式无效"
	}

	// 相对/根相对引用没有scheme
	switch strings.ToLower(ref.Scheme) {
	case "", "http", "https":
	default:
		return "", false, "不支持的协议"
	}

	abs := pageURL.ResolveReference(ref)
	abs.Fragment = ""
	abs.RawFragment = ""

	if hasSkippedExtension(abs.Path) {
		return "", false, "二进制/媒体文件"
	}

	if !SameHost(abs, e.domain) {
		return "", false, "跨域链接已过滤"
	}

	return abs.String(), true, ""
}

func hasSkippedExtension(p string) bool {
	lower := strings.ToLower(p)
	for _, ext := range SkippedExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
