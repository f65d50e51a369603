package sqlite

const schema = `
-- Item mirror table
CREATE TABLE IF NOT EXISTS items (
    internal_id INTEGER PRIMARY KEY AUTOINCREMENT,
    drive_id TEXT NOT NULL,
    external_id TEXT NOT NULL,
    name TEXT NOT NULL,
    kind TEXT NOT NULL CHECK(kind IN ('file', 'folder')),
    parent_id INTEGER REFERENCES items(internal_id),
    path TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    modified_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted INTEGER NOT NULL DEFAULT 0,
    deleted_at DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_items_external ON items(drive_id, external_id);
CREATE INDEX IF NOT EXISTS idx_items_parent ON items(parent_id);

-- Append-only audit log of classified changes
CREATE TABLE IF NOT EXISTS change_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    item_id INTEGER NOT NULL REFERENCES items(internal_id),
    kind TEXT NOT NULL CHECK(kind IN ('create', 'rename', 'move', 'delete', 'update')),
    old_name TEXT,
    new_name TEXT,
    old_parent_id INTEGER,
    new_parent_id INTEGER,
    timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_events_item_ts ON change_events(item_id, timestamp DESC);

-- Per-drive delta continuation. Empty cursor means next sync is a full sync.
CREATE TABLE IF NOT EXISTS drive_cursors (
    drive_id TEXT PRIMARY KEY,
    cursor TEXT NOT NULL DEFAULT '',
    last_sync_at DATETIME
);

-- Push subscription records. Only the most recent row per resource is live.
CREATE TABLE IF NOT EXISTS subscriptions (
    provider_id TEXT PRIMARY KEY,
    resource TEXT NOT NULL,
    shared_secret TEXT NOT NULL,
    expiry DATETIME NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_subscriptions_resource ON subscriptions(resource);
`
