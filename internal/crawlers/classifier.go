package crawlers

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/RecoveryAshes/BrochureBot/internal/utils"
	"golang.org/x/net/html"
)

const (
	// DefaultUserAgent 固定的爬虫标识
	DefaultUserAgent = "BrochureBot/1.2 (Content Analysis; mailto:your-email@example.com)"

	// DefaultClassifyTimeout 站点探测超时
	DefaultClassifyTimeout = 10 * time.Second

	// maxProbeBody 探测时最多读取的响应体大小
	maxProbeBody = 5 * 1024 * 1024
)

// mountIDs 单页应用常见的挂载点id
var mountIDs = map[string]bool{"root": true, "app": true}

// Classifier 站点类型探测器
// 对起始URL做一次GET, 判断站点是静态页面还是单页应用
type Classifier struct {
	client    *http.Client
	userAgent string
}

// NewClassifier 创建探测器
func NewClassifier(timeout time.Duration, userAgent string, insecureSkipVerify bool) *Classifier {
	if timeout <= 0 {
		timeout = DefaultClassifyTimeout
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &Classifier{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: insecureSkipVerify},
			},
		},
		userAgent: userAgent,
	}
}

// Classify 返回站点是否为动态站点
// 任何网络或解析错误都按静态站点处理, 只记录日志, 不重试
func (c *Classifier) Classify(ctx context.Context, startURL string) bool {
	body, err := c.fetch(ctx, startURL)
	if err != nil {
		utils.Warnf("无法探测站点类型,按静态站点处理: %v", err)
		return false
	}

	if IsDynamicMarkup(body) {
		utils.Infof("⚡ 检测到动态/JS驱动站点(SPA), 将使用浏览器导航渲染PDF")
		return true
	}

	utils.Infof("🔍 检测到静态站点, 将拼接镜像页面渲染PDF")
	return false
}

func (c *Classifier) fetch(ctx context.Context, startURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, startURL, nil)
	if err != nil {
		return nil, fmt.Errorf("创建探测请求失败: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("探测请求失败: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	if err != nil {
		return nil, fmt.Errorf("读取探测响应失败: %w", err)
	}

	// 非2xx响应同样参与判断, 与页面内容无关的状态码不影响结论
	body, err := decodeBody(resp.Header.Get("Content-Encoding"), raw)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// IsDynamicMarkup 启发式判断: 没有任何 <a> 标签, 且存在 <script> 或 id 为 root/app 的元素
// 对同一响应体结果确定
func IsDynamicMarkup(body []byte) bool {
	var hasAnchor, hasScript, hasMount bool

	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}

		name, hasAttr := z.TagName()
		switch string(name) {
		case "a":
			hasAnchor = true
		case "script":
			hasScript = true
		}

		for hasAttr {
			var key, val []byte
			key, val, hasAttr = z.TagAttr()
			if string(key) == "id" && mountIDs[strings.ToLower(strings.TrimSpace(string(val)))] {
				hasMount = true
			}
		}

		if hasAnchor {
			return false
		}
	}

	return hasScript || hasMount
}
