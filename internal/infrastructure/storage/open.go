package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects placeholder format and schema flavour.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Open connects to the database and applies the schema.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	dialect := Dialect(strings.ToLower(strings.TrimSpace(driver)))
	var driverName string
	switch dialect {
	case DialectPostgres:
		driverName = "postgres"
	case DialectSQLite:
		driverName = "sqlite"
		dsn = sqliteDSN(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// a single connection keeps ":memory:" databases shared and serialises writers
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}

	store := NewSQLStore(db, dialect)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func sqliteDSN(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = ":memory:"
	}
	if strings.Contains(dsn, "_time_format=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_time_format=sqlite&_pragma=foreign_keys(1)"
}

func (d Dialect) placeholder() sq.PlaceholderFormat {
	if d == DialectPostgres {
		return sq.Dollar
	}
	return sq.Question
}

// Migrate creates tables and indexes when missing.
func (s *SQLStore) Migrate(ctx context.Context) error {
	ts, seq := "TIMESTAMPTZ", "seq BIGSERIAL"
	if s.dialect == DialectSQLite {
		ts, seq = "TIMESTAMP", "seq INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	idCol := "id TEXT PRIMARY KEY"
	if s.dialect == DialectSQLite {
		idCol = "id TEXT NOT NULL UNIQUE"
	}

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS sources (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			identifier TEXT NOT NULL,
			config TEXT NOT NULL DEFAULT '{}',
			last_polled_at %[1]s NULL,
			created_at %[1]s NOT NULL
		)`, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS contents (
			%[2]s,
			%[3]s,
			source_id TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
			external_id TEXT NOT NULL,
			raw_text TEXT NOT NULL,
			posted_at %[1]s NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at %[1]s NOT NULL,
			UNIQUE (source_id, external_id)
		)`, ts, seq, idCol),
		`CREATE INDEX IF NOT EXISTS idx_contents_source_created ON contents(source_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_contents_source_posted ON contents(source_id, posted_at)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS streams (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			prompt_template TEXT NOT NULL DEFAULT '{}',
			notification_config TEXT NOT NULL DEFAULT '{}',
			llm_config TEXT NOT NULL DEFAULT '{}',
			aggregation_config TEXT NOT NULL DEFAULT '{}',
			created_at %[1]s NOT NULL
		)`, ts),
		`CREATE INDEX IF NOT EXISTS idx_streams_source_status ON streams(source_id, status)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS logs (
			%[2]s,
			%[3]s,
			stream_id TEXT NOT NULL,
			type TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at %[1]s NOT NULL
		)`, ts, seq, idCol),
		`CREATE INDEX IF NOT EXISTS idx_logs_stream ON logs(stream_id)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS llm_outputs (
			%[2]s,
			%[3]s,
			content_id TEXT NOT NULL,
			stream_id TEXT NOT NULL,
			model TEXT NOT NULL,
			prompt_text TEXT NOT NULL,
			raw_output TEXT NOT NULL,
			backtest_id TEXT NULL,
			created_at %[1]s NOT NULL
		)`, ts, seq, idCol),
		`CREATE INDEX IF NOT EXISTS idx_llm_outputs_stream ON llm_outputs(stream_id, backtest_id)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS backtests (
			id TEXT PRIMARY KEY,
			stream_id TEXT NOT NULL,
			range_start %[1]s NOT NULL,
			range_end %[1]s NOT NULL,
			config TEXT NOT NULL DEFAULT '{}',
			status TEXT NOT NULL,
			total_items INTEGER NOT NULL DEFAULT 0,
			processed_items INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at %[1]s NOT NULL,
			updated_at %[1]s NOT NULL
		)`, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS backtest_results (
			%[2]s,
			%[3]s,
			backtest_id TEXT NOT NULL REFERENCES backtests(id) ON DELETE CASCADE,
			content_id TEXT NOT NULL,
			status TEXT NOT NULL,
			output TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			execution_time_ms BIGINT NOT NULL DEFAULT 0,
			created_at %[1]s NOT NULL
		)`, ts, seq, idCol),
		`CREATE INDEX IF NOT EXISTS idx_backtest_results_backtest ON backtest_results(backtest_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
