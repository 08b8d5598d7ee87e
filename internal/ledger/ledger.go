// Package ledger persists the set of bucket objects that were already
// announced to the group, so a restart does not repost old documents.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Ledger is a durable set of object names. Add writes through to disk before
// returning, so a recorded name survives a crash. Lookups are served from
// memory.
type Ledger struct {
	mu     sync.Mutex
	path   string
	seen   map[string]struct{}
	logger *zap.Logger
}

// Open loads the ledger file at path. A missing or unreadable file yields an
// empty ledger: reposting a document is recoverable, refusing to start over a
// corrupt JSON file is not.
func Open(path string, logger *zap.Logger) *Ledger {
	l := &Ledger{
		path:   path,
		seen:   make(map[string]struct{}),
		logger: logger,
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("could not read ledger file, starting empty",
				zap.String("path", path),
				zap.Error(err))
		}
		return l
	}

	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		logger.Warn("ledger file is not valid JSON, starting empty",
			zap.String("path", path),
			zap.Error(err))
		return l
	}

	for _, name := range names {
		l.seen[name] = struct{}{}
	}
	logger.Info("loaded sent-item ledger",
		zap.String("path", path),
		zap.Int("entries", len(l.seen)))
	return l
}

// Contains reports whether name was already recorded.
func (l *Ledger) Contains(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[name]
	return ok
}

// Add records name and persists the full set before returning. When the write
// fails the name stays in the in-memory set, so the running process will not
// resend it, but the caller is told durability was not achieved.
func (l *Ledger) Add(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seen[name]; ok {
		return nil
	}
	l.seen[name] = struct{}{}

	if err := l.flushLocked(); err != nil {
		return fmt.Errorf("persisting ledger: %w", err)
	}
	return nil
}

// Names returns the recorded names in sorted order.
func (l *Ledger) Names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	names := make([]string, 0, len(l.seen))
	for name := range l.seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// flushLocked rewrites the whole file through a temp file plus rename, so a
// crash mid-write leaves the previous ledger intact.
func (l *Ledger) flushLocked() error {
	names := make([]string, 0, len(l.seen))
	for name := range l.seen {
		names = append(names, name)
	}
	sort.Strings(names)

	raw, err := json.MarshalIndent(names, "", "  ")
	if err != nil {
		return err
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, l.path)
}
