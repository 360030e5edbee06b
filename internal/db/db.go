package db

import (
	"context"
	"database/sql"
	"net/url"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

func Init(ctx context.Context, dbPath string) (*sql.DB, error) {
	dsn := formatDBPath(dbPath)

	instance, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Error().Err(err).Msg("failed to open database")
		return nil, err
	}

	if err := instance.PingContext(ctx); err != nil {
		log.Error().Err(err).Msg("failed to ping database")
		return nil, err
	}

	log.Debug().Msg("database connection successful")

	if err := migrate(ctx, instance); err != nil {
		log.Error().Err(err).Msg("failed to run migrations")
		return nil, err
	}

	log.Info().Msg("migrations completed successfully")
	return instance, nil
}

func formatDBPath(path string) string {
	// Add pragmas for better performance and safety
	// See: https://pkg.go.dev/modernc.org/sqlite#pkg-overview
	params := url.Values{}
	params.Set("cache", "shared")
	params.Set("mode", "rwc")
	params.Set("_time_format", "sqlite")
	params.Set("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "synchronous(NORMAL)")
	params.Set("_busy_timeout", "5000")

	return "file:" + path + "?" + params.Encode()
}

func migrate(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS links (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		slug TEXT UNIQUE NOT NULL,
		url TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		passcode TEXT,
		expires_at TEXT,
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS analytics_totals (
		link_id INTEGER PRIMARY KEY,
		clicks INTEGER NOT NULL DEFAULT 0,
		unique_users INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY(link_id) REFERENCES links(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS analytics_visitors (
		link_id INTEGER NOT NULL,
		visitor_hash TEXT NOT NULL,
		first_seen_at TEXT NOT NULL,
		PRIMARY KEY (link_id, visitor_hash),
		FOREIGN KEY(link_id) REFERENCES links(id) ON DELETE CASCADE
	) WITHOUT ROWID;

	CREATE TABLE IF NOT EXISTS analytics_by_date (
		link_id INTEGER NOT NULL,
		date_key TEXT NOT NULL,
		clicks INTEGER NOT NULL DEFAULT 0,
		unique_users INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (link_id, date_key),
		FOREIGN KEY(link_id) REFERENCES links(id) ON DELETE CASCADE
	) WITHOUT ROWID;

	CREATE TABLE IF NOT EXISTS analytics_by_region (
		link_id INTEGER NOT NULL,
		country TEXT NOT NULL,
		clicks INTEGER NOT NULL DEFAULT 0,
		unique_users INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (link_id, country),
		FOREIGN KEY(link_id) REFERENCES links(id) ON DELETE CASCADE
	) WITHOUT ROWID;

	CREATE TABLE IF NOT EXISTS analytics_by_city (
		link_id INTEGER NOT NULL,
		country TEXT NOT NULL,
		city TEXT NOT NULL,
		clicks INTEGER NOT NULL DEFAULT 0,
		unique_users INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (link_id, country, city),
		FOREIGN KEY(link_id) REFERENCES links(id) ON DELETE CASCADE
	) WITHOUT ROWID;

	CREATE TABLE IF NOT EXISTS analytics_by_referrer (
		link_id INTEGER NOT NULL,
		referrer TEXT NOT NULL,
		clicks INTEGER NOT NULL DEFAULT 0,
		unique_users INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (link_id, referrer),
		FOREIGN KEY(link_id) REFERENCES links(id) ON DELETE CASCADE
	) WITHOUT ROWID;

	CREATE INDEX IF NOT EXISTS idx_links_slug ON links(slug);
	`

	_, err := db.ExecContext(ctx, schema)
	return err
}
