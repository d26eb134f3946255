package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/replyplace/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial commands table
// 2 - Keys hash raw field bytes; existing rows are rekeyed
const currentSchemaVersion = 2

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

// SQLite is a Log backed by a SQLite database.
//
// The connection pool is limited to a single connection: SQLite allows one
// writer at a time, and a ":memory:" database only exists on the connection
// that created it.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite creates or opens a SQLite command log.
// An empty dsn means MemoryDSN.
//
// File-backed databases are configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//
// This function is idempotent - safe to call multiple times on one file.
func OpenSQLite(dsn string) (*SQLite, error) {
	if dsn == "" {
		dsn = MemoryDSN
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(db, dsn == MemoryDSN); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Insert adds cmd; a row with the same key is silently ignored.
// ON CONFLICT(key) DO NOTHING makes the dedup check and insert one statement.
func (s *SQLite) Insert(ctx context.Context, cmd ir.Command) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO commands (key, actor, x, y, colour, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`,
		ir.CommandKey(cmd),
		cmd.Actor,
		cmd.X,
		cmd.Y,
		cmd.Colour,
		ir.FormatTime(cmd.Timestamp),
	)
	if err != nil {
		return false, fmt.Errorf("insert command: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert command: rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Snapshot returns every command ordered by arrival (seq ASC).
// A single SELECT runs in one implicit transaction, so concurrent inserts
// are either fully visible or not at all.
func (s *SQLite) Snapshot(ctx context.Context) ([]ir.Command, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT actor, x, y, colour, timestamp
		FROM commands
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query commands: %w", err)
	}
	defer rows.Close()

	commands := []ir.Command{}
	for rows.Next() {
		var (
			cmd ir.Command
			ts  string
		)
		if err := rows.Scan(&cmd.Actor, &cmd.X, &cmd.Y, &cmd.Colour, &ts); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		cmd.Timestamp, err = ir.ParseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("scan command timestamp %q: %w", ts, err)
		}
		commands = append(commands, cmd)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commands: %w", err)
	}

	return commands, nil
}

// Len returns the number of accepted commands.
func (s *SQLite) Len(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM commands").Scan(&count); err != nil {
		return 0, fmt.Errorf("count commands: %w", err)
	}
	return count, nil
}

// applyPragmas sets required SQLite configuration.
// journal_mode is not meaningful for in-memory databases.
func applyPragmas(db *sql.DB, inMemory bool) error {
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
	}
	if !inMemory {
		pragmas = append(pragmas,
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
		)
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and records the version.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, currentSchemaVersion)
	}
	if version == 1 {
		if err := rekey(db); err != nil {
			return fmt.Errorf("migrate to version 2: %w", err)
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// rekey recomputes every stored key with the current ir.CommandKey.
// Distinct rows have distinct fields, so the new keys stay unique.
func rekey(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.Query("SELECT seq, actor, x, y, colour, timestamp FROM commands")
	if err != nil {
		return fmt.Errorf("query commands: %w", err)
	}
	type row struct {
		seq int64
		key string
	}
	var updates []row
	for rows.Next() {
		var (
			seq int64
			cmd ir.Command
			ts  string
		)
		if err := rows.Scan(&seq, &cmd.Actor, &cmd.X, &cmd.Y, &cmd.Colour, &ts); err != nil {
			rows.Close()
			return fmt.Errorf("scan command: %w", err)
		}
		if cmd.Timestamp, err = ir.ParseTime(ts); err != nil {
			rows.Close()
			return fmt.Errorf("scan command timestamp %q: %w", ts, err)
		}
		updates = append(updates, row{seq: seq, key: ir.CommandKey(cmd)})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate commands: %w", err)
	}
	rows.Close()

	for _, u := range updates {
		if _, err := tx.Exec("UPDATE commands SET key = ? WHERE seq = ?", u.key, u.seq); err != nil {
			return fmt.Errorf("update key for seq %d: %w", u.seq, err)
		}
	}
	return tx.Commit()
}
