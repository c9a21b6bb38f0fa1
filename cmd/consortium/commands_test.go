package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/consortium/internal/config"
	"github.com/zulandar/consortium/internal/db"
	"github.com/zulandar/consortium/internal/evaluation"
	"github.com/zulandar/consortium/internal/session"
)

// writeConfig writes a sqlite config under a temp dir and returns its path.
func writeConfig(t *testing.T, extra string) (string, config.DatabaseConfig) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "audit.db")
	body := "database:\n  driver: sqlite\n  path: " + dbPath + "\nlogging:\n  level: error\n  format: json\n" + extra
	path := filepath.Join(dir, "consortium.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path, config.DatabaseConfig{Driver: config.DriverSQLite, Path: dbPath}
}

// seed stores one session with two responses and a two-iteration run.
func seed(t *testing.T, dbCfg config.DatabaseConfig) string {
	t.Helper()
	gdb, err := db.Open(dbCfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close(gdb)

	ctx := context.Background()
	ss, _ := session.NewStore(session.StoreOpts{DB: gdb})
	es, _ := evaluation.NewStore(evaluation.StoreOpts{DB: gdb})

	sid, err := ss.CreateSession(ctx, "Explain quicksort", "arbiter", []string{"claude", "gpt"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	for it, text := range []string{"first draft", "refined answer"} {
		content := text
		if _, err := ss.LogResponse(ctx, sid, session.ResponseInput{ModelID: "claude", Content: &content, Iteration: it}); err != nil {
			t.Fatalf("LogResponse: %v", err)
		}
	}
	if err := ss.CompleteSession(ctx, sid, "quicksort partitions", nil); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}

	for it, conf := range []float64{0.6, 0.92} {
		_, err := es.StoreEvaluation(ctx, evaluation.EvaluationInput{
			ConsortiumID:    "run-42",
			IterationID:     it,
			PromptText:      "Explain quicksort",
			ArbiterModel:    "judge",
			EvaluatedModels: []string{"claude", "gpt"},
			Decision: evaluation.Decision{
				Confidence:      conf,
				ChosenModel:     "claude",
				Synthesis:       "quicksort partitions",
				Analysis:        "claude was clearer",
				RefinementAreas: []string{"examples"},
			},
			TokenUsage: map[string]int{"claude": 1200, "gpt": 800},
			DurationMs: 900,
		})
		if err != nil {
			t.Fatalf("StoreEvaluation: %v", err)
		}
	}
	return sid
}

func TestDBInit(t *testing.T) {
	path, dbCfg := writeConfig(t, "")
	out, err := runCmd(t, "db", "init", "-c", path)
	if err != nil {
		t.Fatalf("db init: %v", err)
	}
	if !strings.Contains(out, "Migrated 4 tables") {
		t.Errorf("output = %s", out)
	}
	if _, err := os.Stat(dbCfg.Path); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestDBInit_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	os.WriteFile(path, []byte("database:\n  driver: postgres\n"), 0o644)
	if _, err := runCmd(t, "db", "init", "-c", path); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestLeaderboardCmd(t *testing.T) {
	path, dbCfg := writeConfig(t, "")
	seed(t, dbCfg)

	out, err := runCmd(t, "leaderboard", "-c", path)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want header + 2:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[1], "1") || !strings.Contains(lines[1], "claude") || !strings.Contains(lines[1], "100.0%") {
		t.Errorf("first row = %q", lines[1])
	}

	out, _ = runCmd(t, "leaderboard", "-c", path, "--model", "nomatch")
	if !strings.Contains(out, "No evaluations found.") {
		t.Errorf("filtered output = %s", out)
	}
}

func TestLeaderboardCmd_BadSince(t *testing.T) {
	path, _ := writeConfig(t, "")
	if _, err := runCmd(t, "leaderboard", "-c", path, "--since", "last week"); err == nil {
		t.Fatal("expected error for bad --since")
	}
}

func TestRunsAndRunCmd(t *testing.T) {
	path, dbCfg := writeConfig(t, "")
	seed(t, dbCfg)

	out, err := runCmd(t, "runs", "-c", path, "--since", "24h")
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if !strings.Contains(out, "run-42") || !strings.Contains(out, "0.920") || !strings.Contains(out, "4,000") {
		t.Errorf("runs output = %s", out)
	}

	out, err = runCmd(t, "run", "run-42", "-c", path)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, want := range []string{"Final:      iteration 1, confidence 0.920", "Synthesis:\nquicksort partitions", "examples"} {
		if !strings.Contains(out, want) {
			t.Errorf("run output missing %q:\n%s", want, out)
		}
	}

	out, err = runCmd(t, "run", "run-42", "-c", path, "--json")
	if err != nil {
		t.Fatalf("run --json: %v", err)
	}
	var d evaluation.RunDetail
	if err := json.Unmarshal([]byte(out), &d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(d.Evaluations) != 2 || d.TotalTokens != 4000 {
		t.Errorf("detail = %+v", d)
	}

	if _, err := runCmd(t, "run", "missing", "-c", path); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestSessionsAndSessionCmd(t *testing.T) {
	path, dbCfg := writeConfig(t, "")
	sid := seed(t, dbCfg)

	out, err := runCmd(t, "sessions", "-c", path)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if !strings.Contains(out, sid) || !strings.Contains(out, "completed") || !strings.Contains(out, "claude,gpt") {
		t.Errorf("sessions output = %s", out)
	}

	out, err = runCmd(t, "session", sid, "-c", path, "--iteration", "1")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if !strings.Contains(out, "Responses (1)") || !strings.Contains(out, "refined answer") || strings.Contains(out, "first draft") {
		t.Errorf("session output = %s", out)
	}
	if !strings.Contains(out, "Final result:\nquicksort partitions") {
		t.Errorf("final result missing:\n%s", out)
	}

	if _, err := runCmd(t, "session", "nope", "-c", path); err == nil {
		t.Error("expected error for unknown session")
	}
}

func TestExportCmd(t *testing.T) {
	path, dbCfg := writeConfig(t, "")
	seed(t, dbCfg)

	out, err := runCmd(t, "export", "-c", path, "--min-confidence", "0.9")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %d, want 1:\n%s", len(lines), out)
	}
	var sample map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &sample); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sample["consortium_id"] != "run-42" || sample["confidence"] != 0.92 {
		t.Errorf("sample = %v", sample)
	}

	file := filepath.Join(t.TempDir(), "train.jsonl")
	out, err = runCmd(t, "export", "-c", path, "-o", file)
	if err != nil {
		t.Fatalf("export to file: %v", err)
	}
	if !strings.Contains(out, "Exported 2 records") {
		t.Errorf("output = %s", out)
	}
	data, _ := os.ReadFile(file)
	if n := strings.Count(string(data), "\n"); n != 2 {
		t.Errorf("file lines = %d, want 2", n)
	}
}

func TestDigestPublishers(t *testing.T) {
	pubs, err := digestPublishers(config.DigestConfig{
		Slack:   config.ChannelTarget{Token: "xoxb-1", Channel: "C1"},
		Discord: config.ChannelTarget{Token: "abc", Channel: "123"},
	})
	if err != nil {
		t.Fatalf("digestPublishers: %v", err)
	}
	if len(pubs) != 2 || pubs[0].Name() != "slack" || pubs[1].Name() != "discord" {
		t.Errorf("publishers = %v", pubs)
	}

	pubs, _ = digestPublishers(config.DigestConfig{Slack: config.ChannelTarget{Token: "xoxb-1"}})
	if len(pubs) != 0 {
		t.Errorf("slack without channel should be skipped, got %d", len(pubs))
	}
}

func TestNewDigestScheduler(t *testing.T) {
	a := &app{cfg: config.Default()}
	s, err := newDigestScheduler(a)
	if err != nil || s != nil {
		t.Fatalf("no schedule: scheduler=%v err=%v", s, err)
	}
}

func TestParseSince(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"", time.Time{}, false},
		{"2026-05-01", time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), false},
		{"2026-05-01T08:30:00Z", time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC), false},
		{"48h", now.Add(-48 * time.Hour), false},
		{"-1h", time.Time{}, true},
		{"yesterday", time.Time{}, true},
	}
	for _, tt := range tests {
		got, err := parseSince(tt.in, now)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseSince(%q) err = %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseSince(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFormatTokenCount(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{45230, "45,230"},
		{1234567, "1,234,567"},
		{-1500, "-1,500"},
	}
	for _, tt := range tests {
		if got := formatTokenCount(tt.in); got != tt.want {
			t.Errorf("formatTokenCount(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOneLine(t *testing.T) {
	if got := oneLine("a\n  b\tc", 10); got != "a b c" {
		t.Errorf("oneLine = %q", got)
	}
	if got := oneLine("abcdefgh", 3); got != "abc..." {
		t.Errorf("oneLine = %q", got)
	}
}
