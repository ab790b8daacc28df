package models

import (
	"encoding/json"
	"time"
)

// CrawlReport 爬取报告
type CrawlReport struct {
	// 任务信息
	SessionID string `json:"session_id"`
	TargetURL string `json:"target_url"`
	Domain    string `json:"domain"`
	IsDynamic bool   `json:"is_dynamic"`
	Strategy  string `json:"strategy"`

	// 时间信息
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  float64   `json:"duration"` // 秒

	Stats TaskStats `json:"stats"`

	Pages    []PageRecord `json:"pages"`
	Failures []FailedURL  `json:"failures"`

	// 爬取日志按类型和状态的统计, 未启用日志时为空
	Journal map[EntryKind]map[PageState]int `json:"journal,omitempty"`

	// 输出路径
	BaseDir      string `json:"base_dir"`
	ManifestPath string `json:"manifest_path"`

	Render *RenderResult `json:"render,omitempty"`

	// 配置快照
	Config CrawlConfig `json:"config"`
}

// ToJSON 序列化为JSON
func (r *CrawlReport) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// FromJSON 从JSON反序列化
func (r *CrawlReport) FromJSON(data []byte) error {
	return json.Unmarshal(data, r)
}
