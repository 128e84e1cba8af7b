package storage

// schema is applied by both SQL stores. Statements must be idempotent and
// portable between PostgreSQL and SQLite.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS boards (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		owner TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_boards_owner_name ON boards(owner, name)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('todo', 'doing', 'done')),
		board TEXT NOT NULL,
		owner TEXT NOT NULL,
		position INTEGER NOT NULL CHECK (position >= 0),
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_owner_board ON tasks(owner, board, status, position)`,
}
