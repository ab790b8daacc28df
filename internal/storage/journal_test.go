package storage

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/RecoveryAshes/BrochureBot/internal/models"
)

func openTestJournal(t *testing.T) *SQLiteJournal {
	t.Helper()
	j, err := OpenJournal(JournalPath(t.TempDir()))
	if err != nil {
		t.Fatalf("OpenJournal() 错误: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

// TestJournal_RecordLifecycle 同一URL只保留最新状态
func TestJournal_RecordLifecycle(t *testing.T) {
	j := openTestJournal(t)
	if err := j.BeginSession("s1", "https://example.com/", "/tmp/x"); err != nil {
		t.Fatalf("BeginSession() 错误: %v", err)
	}

	page := "https://example.com/"
	for _, state := range []models.PageState{
		models.StatePending, models.StateFetching, models.StateAccepted, models.StateParsed,
	} {
		if err := j.Record(models.JournalEntry{SessionID: "s1", Kind: models.KindPage, URL: page, State: state}); err != nil {
			t.Fatalf("Record(%s) 错误: %v", state, err)
		}
	}
	if err := j.Record(models.JournalEntry{
		SessionID: "s1", Kind: models.KindPage, URL: page,
		State: models.StateSaved, LocalPath: "index.html", StatusCode: 200, Size: 42,
	}); err != nil {
		t.Fatalf("Record(saved) 错误: %v", err)
	}

	// 终态之后的非终态记录被忽略
	if err := j.Record(models.JournalEntry{SessionID: "s1", Kind: models.KindPage, URL: page, State: models.StateFetching}); err != nil {
		t.Fatalf("Record() 错误: %v", err)
	}

	summary, err := j.Summary("s1")
	if err != nil {
		t.Fatalf("Summary() 错误: %v", err)
	}
	if got := summary.Count(models.KindPage, models.StateSaved); got != 1 {
		t.Errorf("saved 页面数 = %d, 期望 1", got)
	}
	if got := summary.Count(models.KindPage, models.StateFetching); got != 0 {
		t.Errorf("fetching 页面数 = %d, 期望 0", got)
	}

	var localPath string
	if err := j.db.QueryRow(`SELECT local_path FROM entries WHERE url = ?`, page).Scan(&localPath); err != nil {
		t.Fatalf("查询错误: %v", err)
	}
	if localPath != "index.html" {
		t.Errorf("local_path = %q, 期望 index.html", localPath)
	}
}

// TestJournal_Failures 只返回失败和被丢弃的URL
func TestJournal_Failures(t *testing.T) {
	j := openTestJournal(t)

	entries := []models.JournalEntry{
		{SessionID: "s1", Kind: models.KindPage, URL: "https://a.com/", State: models.StateSaved},
		{SessionID: "s1", Kind: models.KindPage, URL: "https://a.com/file.pdf", State: models.StateRejected, StatusCode: 200, Reason: "非HTML响应"},
		{SessionID: "s1", Kind: models.KindAsset, URL: "https://a.com/missing.png", State: models.StateFailed, StatusCode: 404, Reason: "Not Found"},
		{SessionID: "s2", Kind: models.KindPage, URL: "https://b.com/x", State: models.StateFailed},
	}
	for _, e := range entries {
		if err := j.Record(e); err != nil {
			t.Fatalf("Record() 错误: %v", err)
		}
	}

	failures, err := j.Failures("s1")
	if err != nil {
		t.Fatalf("Failures() 错误: %v", err)
	}
	if len(failures) != 2 {
		t.Fatalf("失败数 = %d, 期望 2", len(failures))
	}
	if failures[0].URL != "https://a.com/file.pdf" || failures[0].State != models.StateRejected {
		t.Errorf("第一条失败记录不正确: %+v", failures[0])
	}
	if failures[1].Kind != models.KindAsset || failures[1].StatusCode != 404 || failures[1].Reason != "Not Found" {
		t.Errorf("第二条失败记录不正确: %+v", failures[1])
	}

	empty, err := j.Failures("none")
	if err != nil {
		t.Fatalf("Failures() 错误: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("没有失败时应返回空切片, 得到 %v", empty)
	}
}

// TestJournal_ConcurrentRecord 并发写入
func TestJournal_ConcurrentRecord(t *testing.T) {
	j := openTestJournal(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = j.Record(models.JournalEntry{
				SessionID: "s1",
				Kind:      models.KindAsset,
				URL:       fmt.Sprintf("https://example.com/img/%d.png", n),
				State:     models.StateSaved,
			})
		}(i)
	}
	wg.Wait()

	summary, err := j.Summary("s1")
	if err != nil {
		t.Fatalf("Summary() 错误: %v", err)
	}
	if got := summary.Count(models.KindAsset, models.StateSaved); got != 20 {
		t.Errorf("saved 资源数 = %d, 期望 20", got)
	}
}

// TestJournal_Session 会话登记与结束
func TestJournal_Session(t *testing.T) {
	j := openTestJournal(t)

	if err := j.BeginSession("s1", "https://example.com/", "out"); err != nil {
		t.Fatalf("BeginSession() 错误: %v", err)
	}
	// 重复登记不报错
	if err := j.BeginSession("s1", "https://example.com/", "out"); err != nil {
		t.Fatalf("重复 BeginSession() 错误: %v", err)
	}
	if err := j.FinishSession("s1", true); err != nil {
		t.Fatalf("FinishSession() 错误: %v", err)
	}

	var isDynamic bool
	var finished bool
	if err := j.db.QueryRow(`SELECT is_dynamic, finished_at IS NOT NULL FROM sessions WHERE id = ?`, "s1").Scan(&isDynamic, &finished); err != nil {
		t.Fatalf("查询会话错误: %v", err)
	}
	if !isDynamic || !finished {
		t.Errorf("is_dynamic=%v finished=%v, 期望都为true", isDynamic, finished)
	}
}

// TestJournalPath 测试日志路径
func TestJournalPath(t *testing.T) {
	got := JournalPath("website_content")
	if got != filepath.Join("website_content", JournalFileName) {
		t.Errorf("JournalPath() = %q", got)
	}
}

// TestSummary_CountMissing 缺失的统计项为0
func TestSummary_CountMissing(t *testing.T) {
	var s Summary
	if s.Count(models.KindPage, models.StateSaved) != 0 {
		t.Error("空统计应返回0")
	}
}
