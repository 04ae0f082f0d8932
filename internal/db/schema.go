package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Column types that differ between the two dialects.
type dialect struct {
	pk        string
	timestamp string
	bigint    string
}

var dialects = map[Driver]dialect{
	DriverPostgres: {pk: "BIGSERIAL PRIMARY KEY", timestamp: "TIMESTAMPTZ", bigint: "BIGINT"},
	DriverSQLite:   {pk: "INTEGER PRIMARY KEY AUTOINCREMENT", timestamp: "TIMESTAMP", bigint: "INTEGER"},
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id {{pk}},
		username TEXT NOT NULL UNIQUE,
		email TEXT,
		password_hash TEXT NOT NULL,
		full_name TEXT NOT NULL,
		role TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS questions (
		id {{pk}},
		question_text TEXT NOT NULL,
		question_type TEXT NOT NULL,
		options_json TEXT NOT NULL DEFAULT '[]',
		correct_json TEXT NOT NULL DEFAULT '[]',
		points INTEGER NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		difficulty TEXT NOT NULL,
		tags_json TEXT NOT NULL DEFAULT '[]',
		explanation TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		created_by {{bigint}},
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS exams (
		id {{pk}},
		title TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		questions_json TEXT NOT NULL DEFAULT '[]',
		duration_minutes INTEGER NOT NULL,
		start_time {{ts}} NOT NULL,
		end_time {{ts}} NOT NULL,
		allowed_attempts INTEGER NOT NULL DEFAULT 1,
		randomize_questions BOOLEAN NOT NULL DEFAULT FALSE,
		show_results BOOLEAN NOT NULL DEFAULT TRUE,
		status TEXT NOT NULL,
		created_by {{bigint}},
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL,
		published_at {{ts}},
		archived_at {{ts}}
	)`,
	`CREATE TABLE IF NOT EXISTS attempts (
		id {{pk}},
		exam_id {{bigint}} NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
		student_id {{bigint}} NOT NULL,
		ordinal INTEGER NOT NULL,
		status TEXT NOT NULL,
		started_at {{ts}} NOT NULL,
		expires_at {{ts}} NOT NULL,
		submitted_at {{ts}},
		graded_at {{ts}},
		question_order_json TEXT NOT NULL DEFAULT '[]',
		answers_json TEXT NOT NULL DEFAULT '{}',
		results_json TEXT NOT NULL DEFAULT '{}',
		score INTEGER,
		max_score INTEGER NOT NULL,
		feedback TEXT NOT NULL DEFAULT '',
		graded_by {{bigint}},
		UNIQUE (exam_id, student_id, ordinal)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attempts_student ON attempts (student_id)`,
	`CREATE INDEX IF NOT EXISTS idx_attempts_status ON attempts (status)`,
	`CREATE INDEX IF NOT EXISTS idx_exams_status ON exams (status)`,
}

// SchemaStatements renders the DDL for a driver, one statement per element.
func SchemaStatements(driver Driver) ([]string, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported db driver: %s", driver)
	}
	r := strings.NewReplacer("{{pk}}", d.pk, "{{ts}}", d.timestamp, "{{bigint}}", d.bigint)
	out := make([]string, 0, len(schemaStatements))
	for _, stmt := range schemaStatements {
		out = append(out, r.Replace(stmt))
	}
	return out, nil
}

func EnsureSchema(ctx context.Context, conn *sql.DB, driver Driver) error {
	stmts, err := SchemaStatements(driver)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// OpenTestSQLite opens an in-memory database with the schema applied.
func OpenTestSQLite(ctx context.Context) (*sql.DB, error) {
	return Open(ctx, DriverSQLite, ":memory:", PoolConfig{})
}
