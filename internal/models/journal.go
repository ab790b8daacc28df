package models

import "time"

// EntryKind 日志条目类型
type EntryKind string

const (
	KindPage  EntryKind = "page"
	KindAsset EntryKind = "asset"
)

// JournalEntry 单个URL的终态记录
type JournalEntry struct {
	SessionID  string
	Kind       EntryKind
	URL        string
	State      PageState
	LocalPath  string
	StatusCode int
	Reason     string
	Size       int64
	At         time.Time
}

// Journal 记录爬取过程中每个URL的终态
// 实现需并发安全; 记录失败不影响爬取
type Journal interface {
	Record(entry JournalEntry) error
}

// FailedURL 失败或被丢弃的URL
type FailedURL struct {
	URL        string    `json:"url"`
	Kind       EntryKind `json:"kind"`
	State      PageState `json:"state"`
	StatusCode int       `json:"status_code,omitempty"`
	Reason     string    `json:"reason"`
}
