package store

import "database/sql"

// Schema is the complete replyhive schema. Timestamps are milliseconds since
// epoch; string-list columns hold JSON arrays.
const Schema = `
-- Per-user OAuth links to platforms. Written by the OAuth layer, read here.
CREATE TABLE IF NOT EXISTS platform_connections (
    id                   TEXT PRIMARY KEY,
    user_id              TEXT NOT NULL,
    platform             TEXT NOT NULL,
    access_token_sealed  TEXT NOT NULL,
    refresh_token_sealed TEXT NOT NULL DEFAULT '',
    expires_at           INTEGER NOT NULL DEFAULT 0,
    active               INTEGER NOT NULL DEFAULT 1,
    created_at           INTEGER NOT NULL,
    updated_at           INTEGER NOT NULL
);
-- At most one active connection per (user, platform).
CREATE UNIQUE INDEX IF NOT EXISTS idx_connections_user_platform_active
    ON platform_connections(user_id, platform) WHERE active = 1;

-- User-defined auto-reply rules. Written by the rules API, read here.
CREATE TABLE IF NOT EXISTS auto_reply_rules (
    id                      TEXT PRIMARY KEY,
    user_id                 TEXT NOT NULL,
    name                    TEXT NOT NULL,
    trigger_type            TEXT NOT NULL,
    keywords                TEXT NOT NULL DEFAULT '[]',
    match_mode              TEXT NOT NULL DEFAULT 'contains',
    case_sensitive          INTEGER NOT NULL DEFAULT 0,
    ai_similarity_threshold REAL NOT NULL DEFAULT 0.7,
    platforms               TEXT NOT NULL DEFAULT '[]',
    video_ids               TEXT NOT NULL DEFAULT '[]',
    response_action         TEXT NOT NULL DEFAULT 'reply_comment',
    response_template       TEXT NOT NULL DEFAULT '',
    custom_link             TEXT NOT NULL DEFAULT '',
    max_responses_per_day   INTEGER NOT NULL DEFAULT 50,
    min_delay_seconds       INTEGER NOT NULL DEFAULT 30,
    max_delay_seconds       INTEGER NOT NULL DEFAULT 300,
    skip_negative_sentiment INTEGER NOT NULL DEFAULT 0,
    skip_spam               INTEGER NOT NULL DEFAULT 0,
    active                  INTEGER NOT NULL DEFAULT 1,
    created_at              INTEGER NOT NULL,
    updated_at              INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rules_user_active ON auto_reply_rules(user_id, active, created_at);

-- Dedup markers: append-only, unique per (platform, comment).
CREATE TABLE IF NOT EXISTS processed_comments (
    platform     TEXT NOT NULL,
    comment_id   TEXT NOT NULL,
    user_id      TEXT NOT NULL,
    video_id     TEXT NOT NULL DEFAULT '',
    processed_at INTEGER NOT NULL,
    PRIMARY KEY (platform, comment_id)
);
CREATE INDEX IF NOT EXISTS idx_processed_time ON processed_comments(processed_at);

-- One row per (rule, comment) match attempt; the pipeline's audit trail.
CREATE TABLE IF NOT EXISTS auto_reply_logs (
    id              TEXT PRIMARY KEY,
    rule_id         TEXT NOT NULL,
    user_id         TEXT NOT NULL,
    comment_id      TEXT NOT NULL,
    comment_text    TEXT NOT NULL DEFAULT '',
    comment_author  TEXT NOT NULL DEFAULT '',
    video_id        TEXT NOT NULL DEFAULT '',
    platform        TEXT NOT NULL,
    matched_keyword TEXT NOT NULL DEFAULT '',
    ai_score        REAL,
    sentiment_label TEXT NOT NULL DEFAULT '',
    sentiment_score REAL,
    response_action TEXT NOT NULL DEFAULT '',
    response_sent   INTEGER NOT NULL DEFAULT 0,
    response_text   TEXT NOT NULL DEFAULT '',
    response_id     TEXT NOT NULL DEFAULT '',
    error_message   TEXT NOT NULL DEFAULT '',
    triggered_at    INTEGER NOT NULL,
    responded_at    INTEGER
);
CREATE INDEX IF NOT EXISTS idx_logs_rule_comment ON auto_reply_logs(rule_id, comment_id);
CREATE INDEX IF NOT EXISTS idx_logs_user_time ON auto_reply_logs(user_id, triggered_at DESC);

-- Per-rule response counts per UTC day. Incremented atomically.
CREATE TABLE IF NOT EXISTS daily_usage (
    rule_id   TEXT NOT NULL,
    day       TEXT NOT NULL,
    user_id   TEXT NOT NULL,
    responses INTEGER NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (rule_id, day)
);

-- Per-user poll cadence tracking for the scheduler.
CREATE TABLE IF NOT EXISTS poll_state (
    user_id        TEXT PRIMARY KEY,
    last_polled_at INTEGER NOT NULL DEFAULT 0
);
`

// ApplySchema creates all tables and indexes on the given database.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
