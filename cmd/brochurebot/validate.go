package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/RecoveryAshes/BrochureBot/internal/models"
)

// ValidateFlags 验证命令行标志
func ValidateFlags(targetURL string, maxWorkers int, requestDelay time.Duration, maxPages int) error {
	if targetURL != "" {
		if err := models.ValidateURL(targetURL); err != nil {
			return fmt.Errorf("无效的目标URL: %w", err)
		}
	}

	if maxWorkers < 1 || maxWorkers > 100 {
		return fmt.Errorf("并发数必须在1-100之间,当前值: %d", maxWorkers)
	}

	if requestDelay < 0 || requestDelay > time.Minute {
		return fmt.Errorf("请求间隔必须在0-60秒之间,当前值: %s", requestDelay)
	}

	if maxPages < 0 {
		return fmt.Errorf("页面预算不能为负数,当前值: %d", maxPages)
	}

	return nil
}

// NormalizeURL 规范化URL
// 没有协议时默认使用https; 只有主机名时补上根路径
func NormalizeURL(urlStr string) (string, error) {
	urlStr = strings.TrimSpace(urlStr)
	if urlStr == "" {
		return "", fmt.Errorf("URL不能为空")
	}

	if !strings.Contains(urlStr, "://") {
		urlStr = "https://" + urlStr
	}

	parsed, err := url.Parse(urlStr)
	if err != nil {
		return "", err
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("URL缺少主机名: %s", urlStr)
	}
	if parsed.Path == "" {
		parsed.Path = "/"
	}

	return parsed.String(), nil
}
