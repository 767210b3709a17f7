// Package db stores the emission history (connection and stage events) in a
// local SQLite database.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DB is the history database.
type DB struct {
	path string
	conn *sql.DB
}

// Open opens the database at DefaultPath.
func Open() (*DB, error) {
	return OpenAt(DefaultPath())
}

// OpenAt opens (creating if needed) the database at path and applies
// migrations. A corrupt file is moved aside and a fresh database is created.
func OpenAt(path string) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("path is required")
	}

	clean := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(clean), 0700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	conn, err := openAndInit(clean)
	if err == nil {
		return &DB{path: clean, conn: conn}, nil
	}
	if !isCorruptSQLiteError(err) {
		return nil, err
	}

	if _, statErr := os.Stat(clean); statErr == nil {
		backupPath := clean + ".corrupt." + time.Now().UTC().Format("20060102T150405Z")
		if renameErr := os.Rename(clean, backupPath); renameErr != nil {
			return nil, fmt.Errorf("db appears corrupt (%v), and rename failed: %w", err, renameErr)
		}
		if sidecarErr := renameSQLiteSidecars(clean, backupPath); sidecarErr != nil {
			return nil, fmt.Errorf("db appears corrupt (%v), and sidecar rename failed: %w", err, sidecarErr)
		}
	}

	conn, err = openAndInit(clean)
	if err != nil {
		return nil, err
	}
	return &DB{path: clean, conn: conn}, nil
}

// Close releases the connection. Safe on a nil DB.
func (d *DB) Close() error {
	if d == nil || d.conn == nil {
		return nil
	}
	return d.conn.Close()
}

func (d *DB) Conn() *sql.DB {
	if d == nil {
		return nil
	}
	return d.conn
}

func (d *DB) Path() string {
	if d == nil {
		return ""
	}
	return d.path
}

// DefaultPath is $EMITRACK_HOME/data/emitrack.db, falling back to
// ~/.emitrack/data/emitrack.db.
func DefaultPath() string {
	if home := os.Getenv("EMITRACK_HOME"); home != "" {
		return filepath.Join(home, "data", "emitrack.db")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".emitrack", "data", "emitrack.db")
	}
	return filepath.Join(homeDir, ".emitrack", "data", "emitrack.db")
}

func openAndInit(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// PRAGMAs are per-connection; keep a single shared connection.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	initErr := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := conn.PingContext(ctx); err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		if err := configure(conn); err != nil {
			return err
		}
		return RunMigrations(conn)
	}()
	if initErr != nil {
		_ = conn.Close()
		return nil, initErr
	}
	return conn, nil
}

func dsn(path string) string {
	return "file:" + filepath.ToSlash(path) + "?mode=rwc"
}

func configure(conn *sql.DB) error {
	if conn == nil {
		return fmt.Errorf("conn is nil")
	}
	if _, err := conn.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("set journal_mode=WAL: %w", err)
	}
	if _, err := conn.Exec(`PRAGMA busy_timeout=5000;`); err != nil {
		return fmt.Errorf("set busy_timeout: %w", err)
	}
	return nil
}

func isCorruptSQLiteError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrInvalid) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "file is not a database") ||
		strings.Contains(msg, "malformed")
}

func renameSQLiteSidecars(path, backupPath string) error {
	for _, suffix := range []string{"-wal", "-shm"} {
		oldPath := path + suffix
		if _, err := os.Stat(oldPath); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("stat %s: %w", oldPath, err)
		}
		if err := os.Rename(oldPath, backupPath+suffix); err != nil {
			return fmt.Errorf("rename %s: %w", oldPath, err)
		}
	}
	return nil
}
