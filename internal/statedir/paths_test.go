package statedir

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPaths(t *testing.T) {
	dir := filepath.Join("var", "lib", "paperboy")
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"SessionDB", SessionDB(dir), filepath.Join(dir, "session.db")},
		{"Ledger", Ledger(dir), filepath.Join(dir, "sent.json")},
		{"LockPath", LockPath(dir), filepath.Join(dir, "LOCK")},
		{"LogFile", LogFile(dir), filepath.Join(dir, "logs", "paperboyd.log")},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestEnsure(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	if err := Ensure(dir); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	for _, d := range []string{dir, LogDir(dir)} {
		info, err := os.Stat(d)
		if err != nil {
			t.Fatalf("%s not created: %v", d, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", d)
		}
		if perm := info.Mode().Perm(); perm != 0700 {
			t.Errorf("%s permission = %o, want 0700", d, perm)
		}
	}
}
