// Package statedir resolves the layout of the paperboy state directory.
//
// The directory holds everything the daemon persists locally: the whatsmeow
// credential store, the sent-item ledger, the instance lock and the logs.
package statedir

import (
	"os"
	"path/filepath"
)

// SessionDB returns the whatsmeow credential database path.
func SessionDB(dir string) string {
	return filepath.Join(dir, "session.db")
}

// Ledger returns the sent-item ledger path.
func Ledger(dir string) string {
	return filepath.Join(dir, "sent.json")
}

// LockPath returns the instance lock file path.
func LockPath(dir string) string {
	return filepath.Join(dir, "LOCK")
}

// LogDir returns the log directory.
func LogDir(dir string) string {
	return filepath.Join(dir, "logs")
}

// LogFile returns the daemon log file path.
func LogFile(dir string) string {
	return filepath.Join(LogDir(dir), "paperboyd.log")
}

// Ensure creates the state directory tree with owner-only permissions.
func Ensure(dir string) error {
	dirs := []string{
		dir,
		LogDir(dir),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
