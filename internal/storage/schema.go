package storage

const schemaSQL = `
-- 一次爬取会话
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    start_url TEXT NOT NULL,
    base_dir TEXT NOT NULL,
    is_dynamic INTEGER NOT NULL DEFAULT 0,
    started_at DATETIME NOT NULL,
    finished_at DATETIME
);

-- 每个URL在会话中的最新状态, 同一URL只保留一行
CREATE TABLE IF NOT EXISTS entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    kind TEXT NOT NULL CHECK (kind IN ('page', 'asset')),
    url TEXT NOT NULL,
    state TEXT NOT NULL CHECK (state IN ('pending', 'fetching', 'accepted', 'parsed', 'saved', 'rejected', 'failed')),
    local_path TEXT,
    status_code INTEGER,
    reason TEXT,
    size INTEGER DEFAULT 0,
    updated_at DATETIME NOT NULL,
    UNIQUE (session_id, kind, url)
);

CREATE INDEX IF NOT EXISTS idx_entries_session_state ON entries(session_id, state);
CREATE INDEX IF NOT EXISTS idx_entries_session_kind ON entries(session_id, kind);
`
