package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	dbconfig "livepoll/pkg/database"
	"livepoll/pkg/types"
)

// Manager errors
var (
	ErrManagerClosed = errors.New("database manager is closed")
	ErrWriteTimeout  = errors.New("write operation timeout")
)

// Manager is the SQLite archive of closed poll results. Writes go through a
// single writer goroutine; reads use the connection pool directly.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *zap.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies the embedded migrations and starts
// the writer.
func NewManager(config *dbconfig.Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	migrations := dbconfig.NewMigrationManager(db, dbconfig.Migrations())
	if err := migrations.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	if err := migrations.ValidateSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	m := &Manager{
		db:           db,
		config:       config,
		logger:       logger,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.writeLoop()

	logger.Info("result archive opened", zap.String("path", config.DatabasePath))
	return m, nil
}

// writeLoop runs every write; a failed write is retried once after the
// configured delay.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				m.logger.Warn("database write failed, retrying",
					zap.Duration("delay", m.config.WriteRetryDelay),
					zap.Error(err))
				select {
				case <-time.After(m.config.WriteRetryDelay):
					err = op.operation(m.db)
				case <-m.shutdown:
				}
				if err != nil {
					m.logger.Error("database write failed after retry", zap.Error(err))
				}
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Info("database write loop shutting down")
			return
		}
	}
}

func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StoreResult archives a closed poll. Storing the same poll twice keeps the first copy.
func (m *Manager) StoreResult(ctx context.Context, result *types.PollResult) error {
	options, err := json.Marshal(result.Poll.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}
	votes, err := json.Marshal(result.Votes)
	if err != nil {
		return fmt.Errorf("failed to marshal votes: %w", err)
	}
	answers := result.Answers
	if answers == nil {
		answers = map[string]int{}
	}
	answersJSON, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("failed to marshal answers: %w", err)
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		query := `
			INSERT INTO poll_results
				(poll_id, question, options, votes, answers, total_students, time_limit, reason, started_at, ended_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (poll_id) DO NOTHING
		`
		_, err := db.ExecContext(ctx, query,
			result.Poll.ID,
			result.Poll.Question,
			string(options),
			string(votes),
			string(answersJSON),
			result.TotalParticipants,
			result.Poll.TimeLimitSeconds,
			string(result.Reason),
			result.Poll.StartedAt.UTC(),
			result.ClosedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert poll result: %w", err)
		}
		return nil
	})
}

// ListResults returns up to limit archived results, most recently closed first.
// A non-positive limit returns everything.
func (m *Manager) ListResults(ctx context.Context, limit int) ([]*types.PollResult, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT poll_id, question, options, votes, answers, total_students, time_limit, reason, started_at, ended_at
		FROM poll_results
		ORDER BY ended_at DESC, poll_id
		LIMIT ?
	`
	rows, err := m.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query poll results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []*types.PollResult
	for rows.Next() {
		var (
			r           types.PollResult
			options     string
			votes       string
			answersJSON string
			reason      string
		)
		err := rows.Scan(
			&r.Poll.ID,
			&r.Poll.Question,
			&options,
			&votes,
			&answersJSON,
			&r.TotalParticipants,
			&r.Poll.TimeLimitSeconds,
			&reason,
			&r.Poll.StartedAt,
			&r.ClosedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan poll result row: %w", err)
		}
		if err := json.Unmarshal([]byte(options), &r.Poll.Options); err != nil {
			return nil, fmt.Errorf("failed to unmarshal options: %w", err)
		}
		if err := json.Unmarshal([]byte(votes), &r.Votes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal votes: %w", err)
		}
		if err := json.Unmarshal([]byte(answersJSON), &r.Answers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal answers: %w", err)
		}
		r.Reason = types.CloseReason(reason)
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating poll result rows: %w", err)
	}
	return results, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM poll_results").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close stops the writer and closes the database. Safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
