package models

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// ValidateURL 起始URL必须是带主机名的http/https地址
func ValidateURL(urlStr string) error {
	_, err := ParseStartURL(urlStr)
	return err
}

// ParseStartURL 解析起始URL
// 协议和主机名转为小写, 去掉片段; 主机名(含端口)即爬取锁定的域名
func ParseStartURL(urlStr string) (*url.URL, error) {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("无效的URL: %w", err)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("URL必须是HTTP或HTTPS协议: %q", urlStr)
	}
	if parsed.Hostname() == "" {
		return nil, fmt.Errorf("URL必须包含主机名: %q", urlStr)
	}

	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	return parsed, nil
}

// NewSessionID 爬取会话ID, 也是爬取日志中sessions表的主键
func NewSessionID() string {
	return uuid.NewString()
}
