package backend

import (
	"context"
	"path/filepath"
	"testing"

	"piggybank/internal/config"
	"piggybank/internal/core"
)

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := FromAppConfig(&config.Config{DataBackend: "sheets"}); err == nil {
		t.Error("expected error for unknown backend")
	}

	cfg, err := FromAppConfig(&config.Config{
		DataBackend:     "mongo",
		MongoURI:        "mongodb://localhost:27017",
		MongoDatabase:   "piggybank",
		MongoCollection: "snapshots",
	})
	if err != nil {
		t.Fatalf("FromAppConfig: %v", err)
	}
	if cfg.Type != MongoBackend || cfg.MongoURI == "" || cfg.MongoCollection != "snapshots" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"memory", Config{Type: MemoryBackend}, false},
		{"sqlite", Config{Type: SQLiteBackend, SQLiteDBPath: "x.db"}, false},
		{"sqlite without path", Config{Type: SQLiteBackend}, true},
		{"file without path", Config{Type: FileBackend}, true},
		{"mongo without uri", Config{Type: MongoBackend, MongoDatabase: "d", MongoCollection: "c"}, true},
		{"mongo without collection", Config{Type: MongoBackend, MongoURI: "mongodb://h", MongoDatabase: "d"}, true},
		{"unknown", Config{Type: "sheets"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetBackendTypeStrings(t *testing.T) {
	got := GetBackendTypeStrings()
	want := []string{"memory", "file", "sqlite", "mongo"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestFactory_CreateBackend(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name   string
		config Config
	}{
		{"memory", Config{Type: MemoryBackend}},
		{"file", Config{Type: FileBackend, SnapshotFilePath: filepath.Join(dir, "snap.json")}},
		{"sqlite", Config{Type: SQLiteBackend, SQLiteDBPath: filepath.Join(dir, "snap.db")}},
	}

	f := NewFactory(nil)
	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.CreateBackend(ctx, tt.config)
			if err != nil {
				t.Fatalf("CreateBackend: %v", err)
			}
			defer func() {
				if err := res.Cleanup(); err != nil {
					t.Errorf("cleanup: %v", err)
				}
			}()

			snap, err := res.Store.Load(ctx)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if snap.Profile.Secret != core.DefaultSecret {
				t.Errorf("fresh store should carry the default profile")
			}
			snap.Version = 1
			if err := res.Store.Save(ctx, snap); err != nil {
				t.Fatalf("Save: %v", err)
			}
			again, err := res.Store.Load(ctx)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if again.Version != 1 {
				t.Errorf("version = %d, want 1", again.Version)
			}
		})
	}

	if _, err := f.CreateBackend(ctx, Config{Type: SQLiteBackend}); err == nil {
		t.Error("expected validation error")
	}
}
