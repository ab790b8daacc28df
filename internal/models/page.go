package models

import (
	"encoding/json"
	"time"
)

// PageState URL在一次会话中的状态
type PageState string

const (
	StatePending  PageState = "pending"  // 已发现,待抓取
	StateFetching PageState = "fetching" // 请求已发出
	StateAccepted PageState = "accepted" // 同域HTML响应
	StateParsed   PageState = "parsed"   // 资源已改写
	StateSaved    PageState = "saved"    // 已落盘(终态)
	StateRejected PageState = "rejected" // 跨域/非HTML/重复(终态)
	StateFailed   PageState = "failed"   // 网络或写入错误(终态)
)

// IsTerminal 是否为终态
func (s PageState) IsTerminal() bool {
	return s == StateSaved || s == StateRejected || s == StateFailed
}

// PageRecord 已保存页面记录
// 创建后不可变; LocalPath 相对镜像根目录,使用 '/' 分隔
type PageRecord struct {
	SourceURL string    `json:"source_url"`
	LocalPath string    `json:"local_path"`
	Size      int64     `json:"size"`
	SavedAt   time.Time `json:"saved_at"`

	// RawHTML 原始HTML,仅在处理过程中存在,不持久化
	RawHTML string `json:"-"`
}

// AssetRef 页面中的一个资源引用
// 仅存在于单个页面的改写过程中
type AssetRef struct {
	TagKind           string `json:"tag_kind"`       // img / link / script
	AttributeName     string `json:"attribute_name"` // src / href
	OriginalReference string `json:"original_reference"`
	ResolvedURL       string `json:"resolved_url"`
	LocalPath         string `json:"local_path"`
}

// RenderResult 渲染结果
type RenderResult struct {
	PDFPath   string  `json:"pdf_path"`
	Success   bool    `json:"success"`
	Strategy  string  `json:"strategy"` // static / dynamic
	PageCount int     `json:"page_count,omitempty"`
	Size      int64   `json:"size,omitempty"`
	Duration  float64 `json:"duration"` // 秒
	Err       error   `json:"-"`
	Error     string  `json:"error,omitempty"`
}

// MarshalJSON 序列化时带上错误文本
func (r RenderResult) MarshalJSON() ([]byte, error) {
	type alias RenderResult
	a := alias(r)
	if r.Err != nil && a.Error == "" {
		a.Error = r.Err.Error()
	}
	return json.Marshal(a)
}
