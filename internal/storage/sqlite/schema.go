package sqlite

// SchemaVersion is recorded in metadata on first initialization and left
// untouched afterwards.
const SchemaVersion = "1"

const schema = `
-- Contacts table
CREATE TABLE IF NOT EXISTS contacts (
    contact_id TEXT PRIMARY KEY,
    contact_data TEXT NOT NULL,
    data_hash TEXT NOT NULL,
    synced_to_api INTEGER NOT NULL DEFAULT 0,
    last_modified DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    source TEXT NOT NULL DEFAULT 'api' CHECK(source IN ('api', 'csv_import', 'manual')),
    import_session_id TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_contacts_data_hash ON contacts(data_hash);
CREATE INDEX IF NOT EXISTS idx_contacts_session ON contacts(import_session_id);
CREATE INDEX IF NOT EXISTS idx_contacts_unsynced ON contacts(synced_to_api) WHERE synced_to_api = 0;

-- Sync queue table
CREATE TABLE IF NOT EXISTS sync_queue (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    contact_id TEXT NOT NULL,
    operation TEXT NOT NULL CHECK(operation IN ('create', 'update', 'delete')),
    data_before TEXT,
    data_after TEXT,
    data_hash_after TEXT,
    reviewed INTEGER NOT NULL DEFAULT 0,
    approved INTEGER,
    sync_status TEXT NOT NULL DEFAULT 'pending'
        CHECK(sync_status IN ('pending', 'approved', 'syncing', 'synced', 'failed')),
    error_message TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    reviewed_at DATETIME,
    synced_at DATETIME,
    retry_count INTEGER NOT NULL DEFAULT 0,
    import_session_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_queue_status ON sync_queue(sync_status);
CREATE INDEX IF NOT EXISTS idx_queue_contact ON sync_queue(contact_id);
CREATE INDEX IF NOT EXISTS idx_queue_session ON sync_queue(import_session_id);
CREATE INDEX IF NOT EXISTS idx_queue_created_at ON sync_queue(created_at);

-- Import history table
CREATE TABLE IF NOT EXISTS import_history (
    session_id TEXT PRIMARY KEY,
    csv_filename TEXT NOT NULL,
    csv_hash TEXT NOT NULL,
    started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    completed_at DATETIME,
    total_rows INTEGER NOT NULL DEFAULT 0,
    parsed_contacts INTEGER NOT NULL DEFAULT 0,
    matched_contacts INTEGER NOT NULL DEFAULT 0,
    new_contacts INTEGER NOT NULL DEFAULT 0,
    queued_operations INTEGER NOT NULL DEFAULT 0,
    synced_operations INTEGER NOT NULL DEFAULT 0,
    failed_operations INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'in_progress'
        CHECK(status IN ('in_progress', 'completed', 'failed', 'cancelled')),
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_import_csv_hash ON import_history(csv_hash);
CREATE INDEX IF NOT EXISTS idx_import_started_at ON import_history(started_at);

-- CSV row hashes (duplicate suppression across sessions)
CREATE TABLE IF NOT EXISTS csv_row_hashes (
    row_hash TEXT PRIMARY KEY,
    import_session_id TEXT NOT NULL,
    contact_id TEXT,
    decision TEXT CHECK(decision IN ('merge', 'skip', 'new')),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (import_session_id) REFERENCES import_history(session_id)
);

CREATE INDEX IF NOT EXISTS idx_row_hashes_session ON csv_row_hashes(import_session_id);

-- Metadata table (schema version, sync config)
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Activity ledger (append-only; writes never block the critical path)
CREATE TABLE IF NOT EXISTS api_call_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    endpoint TEXT NOT NULL,
    success INTEGER NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS contact_view_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    contact_id TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS tool_execution_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    session_id TEXT,
    generated_count INTEGER NOT NULL DEFAULT 0,
    modified_count INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tool_exec_session ON tool_execution_log(session_id);
`
