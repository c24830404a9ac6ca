package sqlx

import (
	"context"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id VARCHAR(128) PRIMARY KEY,
		xp BIGINT NOT NULL DEFAULT 0,
		level BIGINT NOT NULL DEFAULT 1,
		wallet BIGINT NOT NULL DEFAULT 0,
		followers BIGINT NOT NULL DEFAULT 0,
		influence BIGINT NOT NULL DEFAULT 0,
		streak_days BIGINT NOT NULL DEFAULT 0,
		challenges_completed BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS xp_events (
		id VARCHAR(64) PRIMARY KEY,
		user_id VARCHAR(128) NOT NULL,
		event_type VARCHAR(64) NOT NULL,
		target_id VARCHAR(128) NOT NULL DEFAULT '',
		target_type VARCHAR(64) NOT NULL DEFAULT '',
		amount BIGINT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_xp_events_user ON xp_events (user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_xp_events_created ON xp_events (created_at)`,
	`CREATE TABLE IF NOT EXISTS challenges (
		id VARCHAR(64) PRIMARY KEY,
		title VARCHAR(255) NOT NULL,
		requirement_type VARCHAR(64) NOT NULL,
		target_value BIGINT NOT NULL,
		xp_reward BIGINT NOT NULL DEFAULT 0,
		badge_reward VARCHAR(64) NOT NULL DEFAULT '',
		status VARCHAR(16) NOT NULL,
		starts_at TIMESTAMPTZ NULL,
		ends_at TIMESTAMPTZ NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS challenge_progress (
		user_id VARCHAR(128) NOT NULL,
		challenge_id VARCHAR(64) NOT NULL,
		current_value BIGINT NOT NULL DEFAULT 0,
		is_completed BOOLEAN NOT NULL DEFAULT FALSE,
		completed_at TIMESTAMPTZ NULL,
		joined_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (user_id, challenge_id)
	)`,
	`CREATE TABLE IF NOT EXISTS badges (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS user_badges (
		user_id VARCHAR(128) NOT NULL,
		badge VARCHAR(64) NOT NULL,
		awarded_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (user_id, badge)
	)`,
	`CREATE TABLE IF NOT EXISTS seasons (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		starts_at TIMESTAMPTZ NOT NULL,
		ends_at TIMESTAMPTZ NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS season_entries (
		season_id VARCHAR(64) NOT NULL,
		user_id VARCHAR(128) NOT NULL,
		xp_earned BIGINT NOT NULL DEFAULT 0,
		rank_pos INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (season_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS season_lock (
		id INTEGER PRIMARY KEY
	)`,
}

// MySQL has no CREATE INDEX IF NOT EXISTS, so indexes are declared inline.
var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id VARCHAR(128) PRIMARY KEY,
		xp BIGINT NOT NULL DEFAULT 0,
		level BIGINT NOT NULL DEFAULT 1,
		wallet BIGINT NOT NULL DEFAULT 0,
		followers BIGINT NOT NULL DEFAULT 0,
		influence BIGINT NOT NULL DEFAULT 0,
		streak_days BIGINT NOT NULL DEFAULT 0,
		challenges_completed BIGINT NOT NULL DEFAULT 0,
		updated_at DATETIME(6) NOT NULL
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS xp_events (
		id VARCHAR(64) PRIMARY KEY,
		user_id VARCHAR(128) NOT NULL,
		event_type VARCHAR(64) NOT NULL,
		target_id VARCHAR(128) NOT NULL DEFAULT '',
		target_type VARCHAR(64) NOT NULL DEFAULT '',
		amount BIGINT NOT NULL,
		reason VARCHAR(1024) NOT NULL DEFAULT '',
		created_at DATETIME(6) NOT NULL,
		INDEX idx_xp_events_user (user_id, created_at),
		INDEX idx_xp_events_created (created_at)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS challenges (
		id VARCHAR(64) PRIMARY KEY,
		title VARCHAR(255) NOT NULL,
		requirement_type VARCHAR(64) NOT NULL,
		target_value BIGINT NOT NULL,
		xp_reward BIGINT NOT NULL DEFAULT 0,
		badge_reward VARCHAR(64) NOT NULL DEFAULT '',
		status VARCHAR(16) NOT NULL,
		starts_at DATETIME(6) NULL,
		ends_at DATETIME(6) NULL,
		created_at DATETIME(6) NOT NULL
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS challenge_progress (
		user_id VARCHAR(128) NOT NULL,
		challenge_id VARCHAR(64) NOT NULL,
		current_value BIGINT NOT NULL DEFAULT 0,
		is_completed BOOLEAN NOT NULL DEFAULT FALSE,
		completed_at DATETIME(6) NULL,
		joined_at DATETIME(6) NOT NULL,
		PRIMARY KEY (user_id, challenge_id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS badges (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		description VARCHAR(1024) NOT NULL DEFAULT ''
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS user_badges (
		user_id VARCHAR(128) NOT NULL,
		badge VARCHAR(64) NOT NULL,
		awarded_at DATETIME(6) NOT NULL,
		PRIMARY KEY (user_id, badge)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS seasons (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		starts_at DATETIME(6) NOT NULL,
		ends_at DATETIME(6) NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME(6) NOT NULL
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS season_entries (
		season_id VARCHAR(64) NOT NULL,
		user_id VARCHAR(128) NOT NULL,
		xp_earned BIGINT NOT NULL DEFAULT 0,
		rank_pos INT NOT NULL DEFAULT 0,
		PRIMARY KEY (season_id, user_id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS season_lock (
		id INT PRIMARY KEY
	) ENGINE=InnoDB`,
}

// Schema returns the DDL statements for driver.
func Schema(driver Driver) []string {
	if driver == DriverMySQL {
		return mysqlSchema
	}
	return postgresSchema
}

// Migrate creates every table and seeds the season lock row. It is safe to
// run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range Schema(s.driver) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO season_lock (id) VALUES (?)`), 1)
	if err != nil && !isDuplicate(err) {
		return fmt.Errorf("migrate: seed season lock: %w", err)
	}
	return nil
}
