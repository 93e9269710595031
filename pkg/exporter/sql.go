package exporter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	// Drivers for the two supported dialects.
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/polisai/polis-signals/pkg/domain"
	"github.com/polisai/polis-signals/pkg/telemetry"
)

// Dialect selects the SQL driver and placeholder style.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const defaultTable = "telemetry_events"

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

// SQL appends events to a relational table. SQLite suits a local event archive,
// Postgres a shared one.
type SQL struct {
	dialect Dialect
	logger  *slog.Logger

	mu         sync.RWMutex
	name       string
	db         *sql.DB
	table      string
	insert     string
	redactions []telemetry.Redaction
	batch      *batcher
}

// NewSQL returns an unconfigured exporter for the dialect.
func NewSQL(dialect Dialect, logger *slog.Logger) *SQL {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQL{dialect: dialect, logger: logger, name: string(dialect)}
}

func (s *SQL) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

// Configure opens the database named by the endpoint (or the "dsn" option),
// creates the table named by the "table" option and starts batching.
func (s *SQL) Configure(cfg domain.PlatformConfig) error {
	redactions, err := platformRedactions(cfg)
	if err != nil {
		return err
	}

	field := "platforms." + cfg.DisplayName()
	dsn := cfg.Endpoint
	if dsn == "" {
		dsn = cfg.Option("dsn", "")
	}
	if dsn == "" {
		return &domain.ConfigError{Field: field + ".endpoint", Message: string(s.dialect) + " exporter requires a DSN"}
	}
	table := cfg.Option(OptionTable, defaultTable)
	if !tableNamePattern.MatchString(table) {
		return &domain.ConfigError{Field: field + ".options." + OptionTable, Message: fmt.Sprintf("invalid table name %q", table)}
	}

	db, err := s.open(dsn)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping %s: %w", s.dialect, err)
	}
	if _, err := db.ExecContext(ctx, s.schema(table)); err != nil {
		_ = db.Close()
		return fmt.Errorf("create %s table: %w", table, err)
	}

	s.mu.Lock()
	previousDB, previousBatch := s.db, s.batch
	s.name = cfg.DisplayName()
	s.db = db
	s.table = table
	s.insert = s.insertStatement(table)
	s.redactions = redactions
	s.batch = newBatcher(s.name, cfg.BatchSize, cfg.FlushInterval, s.write, s.logger)
	s.mu.Unlock()

	if previousBatch != nil {
		if err := previousBatch.Close(ctx); err != nil {
			s.logger.Warn("flush before reconfigure failed", slog.String("exporter", s.name), slog.Any("error", err))
		}
	}
	if previousDB != nil {
		_ = previousDB.Close()
	}
	return nil
}

func (s *SQL) open(dsn string) (*sql.DB, error) {
	switch s.dialect {
	case DialectSQLite:
		path := strings.TrimPrefix(dsn, "sqlite://")
		memory := path == ":memory:"
		if !memory && !strings.Contains(path, "?") {
			path += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
		}
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if memory {
			// Every connection to :memory: is a separate database.
			db.SetMaxOpenConns(1)
		}
		return db, nil
	case DialectPostgres:
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("%w: sql dialect %q", domain.ErrExporterUnknown, s.dialect)
	}
}

func (s *SQL) schema(table string) string {
	timestampType, jsonType := "INTEGER", "TEXT"
	if s.dialect == DialectPostgres {
		timestampType, jsonType = "BIGINT", "JSONB"
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	timestamp_ms %s NOT NULL,
	domain TEXT NOT NULL,
	event_type TEXT NOT NULL,
	name TEXT NOT NULL,
	severity TEXT NOT NULL DEFAULT '',
	impact TEXT NOT NULL DEFAULT '',
	journey TEXT NOT NULL DEFAULT '',
	feature TEXT NOT NULL DEFAULT '',
	attributes %s NOT NULL
)`, table, timestampType, jsonType)
}

func (s *SQL) insertStatement(table string) string {
	const columns = "id, timestamp_ms, domain, event_type, name, severity, impact, journey, feature, attributes"
	placeholders := "?, ?, ?, ?, ?, ?, ?, ?, ?, ?"
	if s.dialect == DialectPostgres {
		placeholders = "$1, $2, $3, $4, $5, $6, $7, $8, $9, $10"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO NOTHING", table, columns, placeholders)
}

func (s *SQL) Export(ctx context.Context, events []domain.TelemetryEvent) error {
	s.mu.RLock()
	batch, name := s.batch, s.name
	s.mu.RUnlock()
	if batch == nil {
		return errNotConfigured(name)
	}
	return batch.Add(ctx, events)
}

// Flush writes pending events immediately.
func (s *SQL) Flush(ctx context.Context) error {
	s.mu.RLock()
	batch := s.batch
	s.mu.RUnlock()
	if batch == nil {
		return nil
	}
	return batch.Flush(ctx)
}

// DB returns the underlying handle, or nil before Configure.
func (s *SQL) DB() *sql.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// Table returns the configured table name.
func (s *SQL) Table() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table
}

// Destroy flushes pending events and closes the database.
func (s *SQL) Destroy(ctx context.Context) error {
	s.mu.Lock()
	batch, db := s.batch, s.db
	s.batch = nil
	s.mu.Unlock()
	if batch == nil {
		return nil
	}
	flushErr := batch.Close(ctx)

	s.mu.Lock()
	s.db = nil
	s.mu.Unlock()
	if err := db.Close(); err != nil && flushErr == nil {
		return err
	}
	return flushErr
}

func (s *SQL) write(ctx context.Context, events []domain.TelemetryEvent) error {
	s.mu.RLock()
	db, insert, redactions := s.db, s.insert, s.redactions
	s.mu.RUnlock()
	if db == nil {
		return errNotConfigured(s.Name())
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range redactEvents(events, redactions) {
		attrs, err := json.Marshal(e.Attributes)
		if err != nil {
			return fmt.Errorf("encode attributes of %s: %w", e.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID,
			e.Timestamp.UnixMilli(),
			e.Domain,
			string(e.Type),
			e.Name,
			string(e.Severity),
			string(e.Business.Impact),
			e.Business.UserJourney,
			e.Business.Feature,
			string(attrs),
		); err != nil {
			return fmt.Errorf("insert %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}
