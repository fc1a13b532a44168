package migrations

// InitialSchema creates all tables and indexes. Statements are idempotent so
// the schema can be applied on every startup.
const InitialSchema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS broadcasts (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	name TEXT NOT NULL,
	payload TEXT NOT NULL,
	recipient_spec TEXT NOT NULL,
	messages_per_minute INTEGER NOT NULL,
	batch_size INTEGER NOT NULL,
	scheduled_at TIMESTAMP,
	status TEXT NOT NULL DEFAULT 'draft',
	recipient_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_broadcasts_tenant_status
	ON broadcasts(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_broadcasts_scheduled
	ON broadcasts(status, scheduled_at);

CREATE TABLE IF NOT EXISTS sequences (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	name TEXT NOT NULL,
	steps TEXT NOT NULL,
	entry_conditions TEXT,
	exit_on_reply INTEGER NOT NULL DEFAULT 0,
	max_messages_per_day INTEGER NOT NULL DEFAULT 0,
	window_start TEXT NOT NULL DEFAULT '',
	window_end TEXT NOT NULL DEFAULT '',
	window_timezone TEXT NOT NULL DEFAULT '',
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sequences_tenant_active
	ON sequences(tenant_id, is_active);

CREATE TABLE IF NOT EXISTS enrollments (
	id TEXT PRIMARY KEY,
	sequence_id TEXT NOT NULL REFERENCES sequences(id) ON DELETE CASCADE,
	tenant_id TEXT NOT NULL,
	lead_id TEXT NOT NULL,
	phone TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	current_step INTEGER NOT NULL DEFAULT 0,
	next_run_at TIMESTAMP,
	started_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	completed_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- one live enrollment per lead per sequence; cancelled ones may pile up
CREATE UNIQUE INDEX IF NOT EXISTS idx_enrollments_unique_live
	ON enrollments(sequence_id, lead_id) WHERE status != 'cancelled';
CREATE INDEX IF NOT EXISTS idx_enrollments_due
	ON enrollments(status, next_run_at);
CREATE INDEX IF NOT EXISTS idx_enrollments_tenant_lead
	ON enrollments(tenant_id, lead_id, status);

CREATE TABLE IF NOT EXISTS message_jobs (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	recipient_id TEXT NOT NULL,
	phone TEXT NOT NULL,
	payload TEXT NOT NULL,
	origin_type TEXT NOT NULL,
	origin_id TEXT NOT NULL,
	step_index INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending',
	provider_message_id TEXT,
	error_class TEXT,
	error_detail TEXT,
	attempts INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	sent_at TIMESTAMP,
	delivered_at TIMESTAMP,
	read_at TIMESTAMP,
	failed_at TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_jobs_origin
	ON message_jobs(origin_type, origin_id, status);
CREATE INDEX IF NOT EXISTS idx_jobs_provider
	ON message_jobs(provider_message_id);
CREATE INDEX IF NOT EXISTS idx_jobs_tenant_created
	ON message_jobs(tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_stale
	ON message_jobs(status, sent_at);
`
