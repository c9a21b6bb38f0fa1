package db

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/zulandar/consortium/internal/config"
	"github.com/zulandar/consortium/internal/models"
)

func TestMySQLDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.DatabaseConfig
		want string
	}{
		{
			name: "default local",
			cfg:  config.DatabaseConfig{User: "root", Host: "127.0.0.1", Port: 3306, Name: "llm_consortium"},
			want: "root@tcp(127.0.0.1:3306)/llm_consortium?parseTime=true",
		},
		{
			name: "with password",
			cfg:  config.DatabaseConfig{User: "audit", Password: "s3cret", Host: "db.internal", Port: 3307, Name: "audit"},
			want: "audit:s3cret@tcp(db.internal:3307)/audit?parseTime=true",
		},
		{
			name: "admin without database",
			cfg:  config.DatabaseConfig{User: "root", Host: "10.0.0.5", Port: 3306},
			want: "root@tcp(10.0.0.5:3306)/?parseTime=true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MySQLDSN(tt.cfg)
			if got != tt.want {
				t.Errorf("MySQLDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSQLiteDSN(t *testing.T) {
	file := SQLiteDSN("/tmp/audit.db")
	if !strings.HasPrefix(file, "file:/tmp/audit.db?") {
		t.Errorf("file DSN = %q", file)
	}
	for _, want := range []string{"_foreign_keys=on", "_busy_timeout=5000", "_journal_mode=WAL"} {
		if !strings.Contains(file, want) {
			t.Errorf("file DSN %q missing %s", file, want)
		}
	}

	mem := SQLiteDSN(MemoryPath)
	if !strings.HasPrefix(mem, "file::memory:?") {
		t.Errorf("memory DSN = %q", mem)
	}
	if strings.Contains(mem, "_journal_mode") {
		t.Errorf("memory DSN should not set WAL: %q", mem)
	}
}

func TestAllModels_Count(t *testing.T) {
	if n := len(AllModels()); n != 4 {
		t.Errorf("AllModels() returned %d models, want 4", n)
	}
}

func TestConnect_UnsupportedDriver(t *testing.T) {
	_, err := Connect(config.DatabaseConfig{Driver: "postgres"})
	if err == nil || !strings.Contains(err.Error(), "unsupported driver") {
		t.Errorf("err = %v, want unsupported driver", err)
	}
}

func TestOpen_SQLiteCreatesTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.db")
	gdb, err := Open(config.DatabaseConfig{Driver: config.DriverSQLite, Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer Close(gdb)

	for _, table := range []string{"consortium_sessions", "model_responses", "evaluations", "model_performance"} {
		if !gdb.Migrator().HasTable(table) {
			t.Errorf("table %q not created", table)
		}
	}
	for _, idx := range []struct{ model interface{}; name string }{
		{&models.ModelResponse{}, "idx_session_id"},
		{&models.ModelResponse{}, "idx_conversation_id"},
		{&models.ModelResponse{}, "idx_timestamp"},
		{&models.Evaluation{}, "idx_evaluations_consortium"},
		{&models.Evaluation{}, "idx_evaluations_timestamp"},
		{&models.Evaluation{}, "idx_evaluations_confidence"},
	} {
		if !gdb.Migrator().HasIndex(idx.model, idx.name) {
			t.Errorf("index %q not created", idx.name)
		}
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	cfg := config.DatabaseConfig{Driver: config.DriverSQLite, Path: path}
	first, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open (1st): %v", err)
	}
	Close(first)

	second, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open (2nd): %v", err)
	}
	Close(second)
}

func TestEnsureDatabase_SQLiteNoop(t *testing.T) {
	if err := EnsureDatabase(config.DatabaseConfig{Driver: config.DriverSQLite, Path: MemoryPath}); err != nil {
		t.Errorf("EnsureDatabase(sqlite) = %v, want nil", err)
	}
}
