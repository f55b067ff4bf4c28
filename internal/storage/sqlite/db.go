package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/fabianr-su/ApproachMDPproject/pkg/logger"
	_ "modernc.org/sqlite"
)

// Open opens (creating if needed) the SQLite database at dbPath and makes
// sure every table exists
func Open(dbPath string, log *logger.Logger) (*sql.DB, error) {
	storageLogger := log.Named("sqlite")

	storageLogger.Info("Initializing SQLite storage",
		logger.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set %q: %w", p, err)
		}
	}

	if err := initDatabase(db, storageLogger); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// initDatabase initializes the database schema
func initDatabase(db *sql.DB, log *logger.Logger) error {
	log.Info("Initializing database schema")

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS policies (
			name TEXT PRIMARY KEY,
			aircraft TEXT NOT NULL,
			faf_altitude REAL NOT NULL,
			faf_speed REAL NOT NULL,
			faf_config INTEGER NOT NULL,
			entries INTEGER NOT NULL,
			data BLOB NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create policies table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS flights (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create flights table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS flight_samples (
			flight_id TEXT NOT NULL REFERENCES flights(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			time REAL NOT NULL,
			lat REAL,
			lon REAL,
			altitude REAL NOT NULL,
			speed REAL NOT NULL,
			dist_to_end REAL NOT NULL,
			PRIMARY KEY (flight_id, seq)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create flight_samples table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS rollouts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			policy TEXT NOT NULL,
			aircraft TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			start TEXT NOT NULL,
			resolved TEXT NOT NULL,
			final TEXT NOT NULL,
			fuel_used REAL NOT NULL,
			steps INTEGER NOT NULL,
			trajectory TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create rollouts table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_rollouts_created_at ON rollouts(created_at)`)
	if err != nil {
		return fmt.Errorf("failed to create created_at index: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_rollouts_policy ON rollouts(policy)`)
	if err != nil {
		return fmt.Errorf("failed to create policy index: %w", err)
	}

	return nil
}
