package taskstore

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    prompt TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    priority INTEGER NOT NULL DEFAULT 0,
    worker_id INTEGER,
    parent_id TEXT,
    plan TEXT,
    result_summary TEXT,
    error TEXT,
    attempts INTEGER NOT NULL DEFAULT 0,
    cost_usd REAL,
    tokens_in INTEGER,
    tokens_out INTEGER,
    duration_s REAL,
    created_at TIMESTAMP NOT NULL,
    enqueued_at TIMESTAMP NOT NULL,
    started_at TIMESTAMP,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_id);

CREATE TABLE IF NOT EXISTS run_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id TEXT NOT NULL REFERENCES tasks(id),
    event_type TEXT NOT NULL,
    content TEXT,
    ts TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_logs_task ON run_logs(task_id);

CREATE TABLE IF NOT EXISTS progress (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id TEXT NOT NULL,
    worker_id INTEGER NOT NULL,
    lesson TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`
