package store

const schema = `
CREATE TABLE IF NOT EXISTS work_items (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    state TEXT NOT NULL DEFAULT 'DRAFT',
    sections_completed BOOLEAN NOT NULL DEFAULT FALSE,
    all_gates_passed BOOLEAN NOT NULL DEFAULT FALSE,
    externally_finalized BOOLEAN NOT NULL DEFAULT FALSE,
    created_by TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    version INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_work_items_state ON work_items(state);

CREATE TABLE IF NOT EXISTS decision_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    work_item_id TEXT NOT NULL REFERENCES work_items(id),
    timestamp TIMESTAMP NOT NULL,
    actor TEXT NOT NULL,
    from_state TEXT NOT NULL,
    to_state TEXT NOT NULL,
    reason TEXT
);

CREATE INDEX IF NOT EXISTS idx_decision_log_item ON decision_log(work_item_id);

CREATE TABLE IF NOT EXISTS gates (
    work_item_id TEXT NOT NULL REFERENCES work_items(id),
    gate_id TEXT NOT NULL,
    status TEXT NOT NULL,
    details TEXT,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (work_item_id, gate_id)
);

CREATE TABLE IF NOT EXISTS agent_tasks (
    id TEXT PRIMARY KEY,
    work_item_id TEXT NOT NULL,
    action TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    phase TEXT NOT NULL DEFAULT 'starting',
    progress INTEGER,
    message TEXT,
    triggered_by TEXT NOT NULL,
    triggered_at TIMESTAMP NOT NULL,
    work_item_name TEXT,
    webhook_url TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    dispatched_at TIMESTAMP,
    completed_at TIMESTAMP,
    updated_at TIMESTAMP NOT NULL,
    response_code INTEGER NOT NULL DEFAULT 0,
    error TEXT,
    expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_agent_tasks_item ON agent_tasks(work_item_id);
CREATE INDEX IF NOT EXISTS idx_agent_tasks_expires ON agent_tasks(expires_at);

CREATE TABLE IF NOT EXISTS task_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    level TEXT NOT NULL,
    message TEXT NOT NULL,
    metadata TEXT,
    expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_task_logs_task_ts ON task_logs(task_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_task_logs_expires ON task_logs(expires_at);
`
