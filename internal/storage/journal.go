// Package storage 爬取日志的持久化
// 每个URL的状态变化写入镜像目录下的SQLite数据库, 供爬取报告统计和失败排查使用
package storage

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/RecoveryAshes/BrochureBot/internal/models"
	// SQLite驱动(无CGO)
	_ "modernc.org/sqlite"
)

// JournalFileName 爬取日志数据库文件名, 位于镜像根目录
const JournalFileName = ".crawl_journal.db"

// Summary 会话内按类型和状态统计的URL数量
type Summary map[models.EntryKind]map[models.PageState]int

// Count 返回指定类型和状态的数量
func (s Summary) Count(kind models.EntryKind, state models.PageState) int {
	if s[kind] == nil {
		return 0
	}
	return s[kind][state]
}

// SQLiteJournal 基于SQLite的爬取日志, 实现 models.Journal
type SQLiteJournal struct {
	db   *sql.DB
	path string
}

// JournalPath 返回镜像目录下的日志数据库路径
func JournalPath(baseDir string) string {
	return filepath.Join(baseDir, JournalFileName)
}

// OpenJournal 打开(或创建)日志数据库
func OpenJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开日志数据库失败: %w", err)
	}

	// 单连接, 避免写锁冲突
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	j := &SQLiteJournal{db: db, path: dbPath}
	if err := j.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("初始化日志数据库失败: %w", err)
	}

	return j, nil
}

func (j *SQLiteJournal) initSchema() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 30000",
	}

	for _, pragma := range pragmas {
		if _, err := j.db.Exec(pragma); err != nil {
			return fmt.Errorf("执行 %s 失败: %w", pragma, err)
		}
	}

	if _, err := j.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("创建表结构失败: %w", err)
	}
	return nil
}

// Path 数据库文件路径
func (j *SQLiteJournal) Path() string {
	return j.path
}

// Close 关闭数据库
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// BeginSession 登记一次会话
func (j *SQLiteJournal) BeginSession(id, startURL, baseDir string) error {
	_, err := j.db.Exec(`
		INSERT INTO sessions (id, start_url, base_dir, started_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, startURL, baseDir, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("登记会话失败: %w", err)
	}
	return nil
}

// FinishSession 记录会话结束和站点分类
func (j *SQLiteJournal) FinishSession(id string, isDynamic bool) error {
	_, err := j.db.Exec(`
		UPDATE sessions SET is_dynamic = ?, finished_at = ? WHERE id = ?
	`, isDynamic, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("更新会话失败: %w", err)
	}
	return nil
}

// Record 写入URL的最新状态
// 已处于终态的记录不会被非终态覆盖
func (j *SQLiteJournal) Record(entry models.JournalEntry) error {
	at := entry.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err := j.db.Exec(`
		INSERT INTO entries (session_id, kind, url, state, local_path, status_code, reason, size, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, kind, url) DO UPDATE SET
			state = excluded.state,
			local_path = COALESCE(NULLIF(excluded.local_path, ''), entries.local_path),
			status_code = COALESCE(NULLIF(excluded.status_code, 0), entries.status_code),
			reason = excluded.reason,
			size = excluded.size,
			updated_at = excluded.updated_at
		WHERE entries.state NOT IN ('saved', 'rejected', 'failed') OR ?
	`,
		entry.SessionID, string(entry.Kind), entry.URL, string(entry.State),
		entry.LocalPath, entry.StatusCode, entry.Reason, entry.Size, at.UTC(),
		entry.State.IsTerminal(),
	)
	if err != nil {
		return fmt.Errorf("写入日志失败 [%s]: %w", entry.URL, err)
	}
	return nil
}

// Summary 统计会话内各类型各状态的URL数量
func (j *SQLiteJournal) Summary(sessionID string) (Summary, error) {
	rows, err := j.db.Query(`
		SELECT kind, state, COUNT(*) FROM entries
		WHERE session_id = ?
		GROUP BY kind, state
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("统计日志失败: %w", err)
	}
	defer rows.Close()

	summary := make(Summary)
	for rows.Next() {
		var kind, state string
		var count int
		if err := rows.Scan(&kind, &state, &count); err != nil {
			return nil, fmt.Errorf("读取统计结果失败: %w", err)
		}
		k := models.EntryKind(kind)
		if summary[k] == nil {
			summary[k] = make(map[models.PageState]int)
		}
		summary[k][models.PageState(state)] = count
	}
	return summary, rows.Err()
}

// Failures 返回会话内失败或被丢弃的URL, 按写入顺序
func (j *SQLiteJournal) Failures(sessionID string) ([]models.FailedURL, error) {
	rows, err := j.db.Query(`
		SELECT url, kind, state, COALESCE(status_code, 0), COALESCE(reason, '')
		FROM entries
		WHERE session_id = ? AND state IN ('rejected', 'failed')
		ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("查询失败记录失败: %w", err)
	}
	defer rows.Close()

	failures := []models.FailedURL{}
	for rows.Next() {
		var f models.FailedURL
		var kind, state string
		if err := rows.Scan(&f.URL, &kind, &state, &f.StatusCode, &f.Reason); err != nil {
			return nil, fmt.Errorf("读取失败记录失败: %w", err)
		}
		f.Kind = models.EntryKind(kind)
		f.State = models.PageState(state)
		failures = append(failures, f)
	}
	return failures, rows.Err()
}
