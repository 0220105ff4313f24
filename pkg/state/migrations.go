package state

// migration is one schema step. Statements are split so drivers that only
// accept one statement per Exec can run them.
type migration struct {
	version    int
	statements []string
}

// migrations must stay ordered by version. SQL is limited to the subset
// shared by PostgreSQL and SQLite.
var migrations = []migration{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS users (
				email VARCHAR(320) PRIMARY KEY,
				google_token TEXT,
				notion_token TEXT,
				tasklist_id VARCHAR(255),
				database_id VARCHAR(255),
				mapping TEXT NOT NULL DEFAULT '[]',
				last_synced TIMESTAMP,
				setup_prompt_sent BOOLEAN NOT NULL DEFAULT FALSE,
				setup_prompt_sent_at TIMESTAMP,
				created TIMESTAMP NOT NULL,
				modified TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_users_last_synced ON users(last_synced)`,
		},
	},
	{
		version: 2,
		statements: []string{
			`ALTER TABLE users ADD COLUMN last_error TEXT`,
		},
	},
}
