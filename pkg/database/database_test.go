package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.DatabasePath != "./data/livepoll.db" {
		t.Errorf("Expected DatabasePath './data/livepoll.db', got %s", config.DatabasePath)
	}
	if config.MaxConnections != 10 {
		t.Errorf("Expected MaxConnections 10, got %d", config.MaxConnections)
	}
	if config.ConnMaxLifetime != time.Hour {
		t.Errorf("Expected ConnMaxLifetime 1 hour, got %v", config.ConnMaxLifetime)
	}
	if config.ConnMaxIdleTime != 10*time.Minute {
		t.Errorf("Expected ConnMaxIdleTime 10 minutes, got %v", config.ConnMaxIdleTime)
	}
	if config.WriteRetryDelay != time.Second {
		t.Errorf("Expected WriteRetryDelay 1s, got %v", config.WriteRetryDelay)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty path", func(c *Config) { c.DatabasePath = "" }},
		{"zero connections", func(c *Config) { c.MaxConnections = 0 }},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }},
		{"zero idle time", func(c *Config) { c.ConnMaxIdleTime = 0 }},
		{"negative retry delay", func(c *Config) { c.WriteRetryDelay = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			if err := config.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestMigrations_Embedded(t *testing.T) {
	manager := NewMigrationManager(nil, Migrations())

	migrations, err := manager.LoadMigrations()
	if err != nil {
		t.Fatalf("Failed to load embedded migrations: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("Expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != "001" || migrations[0].Description != "poll_results" {
		t.Errorf("Unexpected first migration: %+v", migrations[0])
	}
	if migrations[1].Version != "002" {
		t.Errorf("Expected migrations sorted by version, got %s second", migrations[1].Version)
	}
}

func TestMigrationManager_ApplyAndValidate(t *testing.T) {
	db := openTestDB(t)
	manager := NewMigrationManager(db, Migrations())

	if err := manager.ValidateSchema(); err == nil {
		t.Error("Expected validation to fail before migrations")
	}

	if err := manager.ApplyMigrations(); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	if err := manager.ValidateSchema(); err != nil {
		t.Errorf("Schema should be valid after migrations: %v", err)
	}

	// a second run applies nothing and does not fail
	if err := manager.ApplyMigrations(); err != nil {
		t.Errorf("Re-applying migrations failed: %v", err)
	}

	applied, err := manager.AppliedVersions()
	if err != nil {
		t.Fatalf("Failed to read applied versions: %v", err)
	}
	if len(applied) != 2 || !applied["001"] || !applied["002"] {
		t.Errorf("Unexpected applied versions: %v", applied)
	}
}

func TestMigrationManager_ReasonConstraint(t *testing.T) {
	db := openTestDB(t)
	if err := NewMigrationManager(db, Migrations()).ApplyMigrations(); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	insert := `INSERT INTO poll_results
		(poll_id, question, options, votes, total_students, time_limit, reason, started_at, ended_at)
		VALUES (?, 'Q', '[]', '[]', 0, 60, ?, ?, ?)`
	now := time.Now().UTC()

	if _, err := db.Exec(insert, "p1", "timeout", now, now); err != nil {
		t.Errorf("Valid reason rejected: %v", err)
	}
	if _, err := db.Exec(insert, "p2", "cancelled", now, now); err == nil {
		t.Error("Expected check constraint to reject unknown reason")
	}
}

func TestMigrationManager_FailedMigrationRollsBack(t *testing.T) {
	db := openTestDB(t)
	fsys := fstest.MapFS{
		"001_ok.sql":     {Data: []byte("CREATE TABLE a (id INTEGER);")},
		"002_broken.sql": {Data: []byte("CREATE TABLE b (id INTEGER); THIS IS NOT SQL;")},
		"README.md":      {Data: []byte("ignored")},
	}
	manager := NewMigrationManager(db, fsys)

	if err := manager.ApplyMigrations(); err == nil {
		t.Fatal("Expected broken migration to fail")
	}

	applied, err := manager.AppliedVersions()
	if err != nil {
		t.Fatalf("Failed to read applied versions: %v", err)
	}
	if !applied["001"] || applied["002"] {
		t.Errorf("Expected only 001 applied, got %v", applied)
	}

	exists, err := manager.objectExists("table", "b")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("Table from failed migration should have been rolled back")
	}
}
