package cmd

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogPath returns the log file used while the stepper owns the
// terminal: $EMITRACK_HOME/logs/emitrack.log or ~/.emitrack/logs/emitrack.log.
func DefaultLogPath() string {
	if home := os.Getenv("EMITRACK_HOME"); home != "" {
		return filepath.Join(home, "logs", "emitrack.log")
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".emitrack", "logs", "emitrack.log")
	}
	return filepath.Join(homeDir, ".emitrack", "logs", "emitrack.log")
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}
