package storage

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema contains the SQL statements to create the evidence database schema.
const Schema = `
CREATE TABLE IF NOT EXISTS evidence (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    recorded_at INTEGER NOT NULL,

    object_id TEXT,
    tier TEXT,
    job_id TEXT,
    method TEXT,

    verified BOOLEAN NOT NULL DEFAULT 0,
    passes INTEGER NOT NULL DEFAULT 0,
    witness_hash TEXT,
    approval_hash TEXT,

    retry_count INTEGER NOT NULL DEFAULT 0,
    error TEXT,

    batch_id TEXT,
    entries INTEGER NOT NULL DEFAULT 0,

    payload TEXT
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evidence_kind_recorded_at ON evidence(kind, recorded_at);
CREATE INDEX IF NOT EXISTS idx_evidence_object_id ON evidence(object_id);
CREATE INDEX IF NOT EXISTS idx_evidence_recorded_at ON evidence(recorded_at);
`

// InsertSchemaVersion records the schema version.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

// GetSchemaVersion retrieves the current schema version.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`

const insertRecord = `
INSERT INTO evidence (
    id, kind, recorded_at,
    object_id, tier, job_id, method,
    verified, passes, witness_hash, approval_hash,
    retry_count, error,
    batch_id, entries,
    payload
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const selectColumns = `
id, kind, recorded_at,
object_id, tier, job_id, method,
verified, passes, witness_hash, approval_hash,
retry_count, error,
batch_id, entries,
payload
`
