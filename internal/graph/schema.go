package graph

// schema is applied on every open. Each statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS nodes (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		label       TEXT NOT NULL,
		key         TEXT NOT NULL,
		name        TEXT NOT NULL,
		file_path   TEXT NOT NULL DEFAULT '',
		repo_path   TEXT NOT NULL DEFAULT '',
		start_line  INTEGER NOT NULL DEFAULT 0,
		end_line    INTEGER NOT NULL DEFAULT 0,
		language    TEXT NOT NULL DEFAULT '',
		source      TEXT NOT NULL DEFAULT '',
		complexity  INTEGER NOT NULL DEFAULT 0,
		decorators  TEXT NOT NULL DEFAULT '[]',
		props       TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_nodes_label_key ON nodes(label, key)`,
	`CREATE INDEX IF NOT EXISTS idx_nodes_name ON nodes(name)`,
	`CREATE INDEX IF NOT EXISTS idx_nodes_file ON nodes(file_path)`,
	`CREATE INDEX IF NOT EXISTS idx_nodes_repo ON nodes(repo_path)`,
	`CREATE TABLE IF NOT EXISTS edges (
		src   INTEGER NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
		dst   INTEGER NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
		type  TEXT NOT NULL,
		props TEXT NOT NULL DEFAULT '{}',
		PRIMARY KEY (src, dst, type)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_edges_dst ON edges(dst, type)`,
	`CREATE INDEX IF NOT EXISTS idx_edges_type ON edges(type)`,
}

const nodeColumns = `id, label, key, name, file_path, repo_path, start_line, end_line,
	language, source, complexity, decorators, props`
