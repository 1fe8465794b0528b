package store

const schema = `
CREATE TABLE IF NOT EXISTS daemon_jobs (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	scheduled_at TEXT NOT NULL,
	started_at TEXT,
	finished_at TEXT,
	payload_json TEXT,
	result_json TEXT,
	lease_owner TEXT,
	lease_expires_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_status_scheduled ON daemon_jobs(status, scheduled_at);
CREATE INDEX IF NOT EXISTS idx_jobs_type_scheduled ON daemon_jobs(type, scheduled_at);

CREATE TABLE IF NOT EXISTS daemon_kv (
	key TEXT PRIMARY KEY,
	value TEXT
);

CREATE TABLE IF NOT EXISTS incidents (
	id TEXT PRIMARY KEY,
	phase TEXT NOT NULL,
	active_stage TEXT,
	context_json TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_updated TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS incident_leases (
	id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	expires_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS shipments (
	id TEXT PRIMARY KEY,
	data_json TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS suppliers (
	id TEXT PRIMARY KEY,
	data_json TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS budget (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	currency TEXT NOT NULL,
	available REAL NOT NULL,
	allocated REAL NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_transactions (
	transaction_id TEXT PRIMARY KEY,
	shipment_id TEXT NOT NULL UNIQUE,
	amount REAL NOT NULL,
	source TEXT NOT NULL,
	destination TEXT NOT NULL,
	approved_by TEXT NOT NULL,
	executed_by TEXT NOT NULL,
	recovery_budget_ceiling REAL NOT NULL,
	created_at TEXT NOT NULL
);
`
