package db

import (
	"context"

	"github.com/jmoiron/sqlx"
)

func RunMigrations(db *sqlx.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS users (
    id SERIAL PRIMARY KEY,
    email TEXT NOT NULL,
    email_blind_index TEXT UNIQUE NOT NULL,
    password_hash TEXT NOT NULL,
    display_name TEXT,
    pattern TEXT NOT NULL DEFAULT 'complex',
    pattern_description TEXT,
    stage TEXT NOT NULL DEFAULT 'precontemplation',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS checkin_sessions (
    id SERIAL PRIMARY KEY,
    user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    local_date DATE NOT NULL DEFAULT CURRENT_DATE,
    completed BOOLEAN NOT NULL DEFAULT false,
    stress_level INTEGER CHECK (stress_level BETWEEN 1 AND 10),
    insight TEXT,
    extracted BOOLEAN NOT NULL DEFAULT false,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- At most one incomplete session per user per date.
CREATE UNIQUE INDEX IF NOT EXISTS checkin_sessions_open_per_day
    ON checkin_sessions (user_id, local_date) WHERE NOT completed;

CREATE TABLE IF NOT EXISTS messages (
    id SERIAL PRIMARY KEY,
    session_id INTEGER NOT NULL REFERENCES checkin_sessions(id) ON DELETE CASCADE,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
    content TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS messages_session_order
    ON messages (session_id, id);

CREATE TABLE IF NOT EXISTS extracted_records (
    id SERIAL PRIMARY KEY,
    session_id INTEGER NOT NULL REFERENCES checkin_sessions(id) ON DELETE CASCADE,
    user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    category TEXT NOT NULL,
    description TEXT NOT NULL,
    local_date DATE NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS extracted_records_user_date
    ON extracted_records (user_id, local_date);

CREATE TABLE IF NOT EXISTS aggregations (
    id TEXT PRIMARY KEY,
    user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    type TEXT NOT NULL,
    period_start DATE NOT NULL,
    period_end DATE NOT NULL,
    summary TEXT NOT NULL,
    data JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (user_id, type, period_start)
);

CREATE TABLE IF NOT EXISTS delivery_log (
    id TEXT PRIMARY KEY,
    user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    aggregation_id TEXT REFERENCES aggregations(id) ON DELETE CASCADE,
    local_date DATE,
    type TEXT NOT NULL,
    channel TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('pending', 'sent', 'failed')),
    error TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- One sent delivery per aggregation and type; guards the weekly email.
CREATE UNIQUE INDEX IF NOT EXISTS delivery_log_sent_once
    ON delivery_log (aggregation_id, type) WHERE status = 'sent';

-- One sent reminder per user per date.
CREATE UNIQUE INDEX IF NOT EXISTS delivery_log_reminder_once
    ON delivery_log (user_id, local_date, type) WHERE status = 'sent' AND local_date IS NOT NULL;
`
	_, err := db.ExecContext(context.Background(), schema)
	return err
}
