package digest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zulandar/consortium/internal/config"
	"github.com/zulandar/consortium/internal/db"
	"github.com/zulandar/consortium/internal/evaluation"
)

type fakeSource struct {
	runs     []evaluation.RecentRun
	leaders  []evaluation.LeaderboardEntry
	runsErr  error
	gotSince time.Time
	gotLimit int
}

func (f *fakeSource) GetLeaderboard(_ context.Context, q evaluation.LeaderboardQuery) ([]evaluation.LeaderboardEntry, error) {
	f.gotLimit = q.Limit
	return f.leaders, nil
}

func (f *fakeSource) GetRecentRuns(_ context.Context, _ int, since time.Time) ([]evaluation.RecentRun, error) {
	f.gotSince = since
	return f.runs, f.runsErr
}

type fakePublisher struct {
	name string
	err  error
	mu   sync.Mutex
	sent []Message
}

func (p *fakePublisher) Name() string { return p.name }

func (p *fakePublisher) Publish(_ context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg)
	return p.err
}

var (
	periodStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	periodEnd   = periodStart.Add(24 * time.Hour)
)

func TestBuild_NoRunsSuppressed(t *testing.T) {
	r, err := Build(context.Background(), &fakeSource{}, periodStart, periodEnd, 5)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if r != nil {
		t.Errorf("report = %+v, want nil for empty period", r)
	}
}

func TestBuild_Aggregates(t *testing.T) {
	src := &fakeSource{
		runs: []evaluation.RecentRun{
			{ConsortiumID: "a", Timestamp: periodStart.Add(time.Hour), FinalConfidence: 0.7, EvaluationCount: 2, TotalTokens: 300},
			{ConsortiumID: "b", Timestamp: periodStart.Add(2 * time.Hour), FinalConfidence: 0.9, EvaluationCount: 1, TotalTokens: 1200},
			{ConsortiumID: "late", Timestamp: periodEnd.Add(time.Minute), FinalConfidence: 1, EvaluationCount: 9, TotalTokens: 9},
		},
		leaders: []evaluation.LeaderboardEntry{{Model: "claude", AvgConfidence: 0.8}},
	}
	r, err := Build(context.Background(), src, periodStart, periodEnd, 3)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if r.Runs != 2 || r.Evaluations != 3 || r.TotalTokens != 1500 {
		t.Errorf("report = %+v", r)
	}
	if r.BestRun == nil || r.BestRun.ConsortiumID != "b" {
		t.Errorf("best run = %+v, want b", r.BestRun)
	}
	if !src.gotSince.Equal(periodStart) || src.gotLimit != 3 {
		t.Errorf("source called with since=%v limit=%d", src.gotSince, src.gotLimit)
	}
}

func TestBuild_SourceError(t *testing.T) {
	_, err := Build(context.Background(), &fakeSource{runsErr: errors.New("db down")}, periodStart, periodEnd, 5)
	if err == nil || !strings.Contains(err.Error(), "db down") {
		t.Errorf("err = %v", err)
	}
}

func TestFormat(t *testing.T) {
	msg := Format(&Report{
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Runs:        2,
		Evaluations: 3,
		TotalTokens: 1500,
		BestRun:     &evaluation.RecentRun{ConsortiumID: "b", FinalConfidence: 0.9},
		Leaders: []evaluation.LeaderboardEntry{
			{Model: "claude", AvgConfidence: 0.85, WinRate: 50, EvaluationCount: 4},
			{Model: "gpt", AvgConfidence: 0.7, WinRate: 25, EvaluationCount: 4},
		},
	})

	for _, want := range []string{
		"**Runs**: 2 (3 evaluations)",
		"**Tokens**: 1.5K",
		"**Most confident run**: b at 0.90",
		"1. claude: 0.85 avg confidence, 50% wins, 4 evaluations",
		"2. gpt:",
	} {
		if !strings.Contains(msg.Body, want) {
			t.Errorf("body missing %q:\n%s", want, msg.Body)
		}
	}
	if msg.Color != ColorSuccess {
		t.Errorf("color = %s, want success", msg.Color)
	}
	if last := msg.Fields[len(msg.Fields)-1]; last.Name != "Leader" || last.Value != "claude" {
		t.Errorf("last field = %+v", last)
	}
}

func TestFormatTokenCount(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{999, "999"},
		{1_000, "1.0K"},
		{2_500_000, "2.5M"},
	}
	for _, tt := range tests {
		if got := formatTokenCount(tt.in); got != tt.want {
			t.Errorf("formatTokenCount(%d) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestParseSchedule(t *testing.T) {
	if _, err := ParseSchedule("not a cron expr"); err == nil {
		t.Error("expected error for invalid expression")
	}
	sched, err := ParseSchedule("0 9 * * *")
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	if got := Interval(sched, periodStart); got != 24*time.Hour {
		t.Errorf("daily interval = %v", got)
	}
	weekly, _ := ParseSchedule("0 9 * * 1")
	if got := Interval(weekly, periodStart); got != 7*24*time.Hour {
		t.Errorf("weekly interval = %v", got)
	}
}

func TestNewScheduler_Validation(t *testing.T) {
	pub := &fakePublisher{name: "p"}
	tests := []struct {
		name string
		opts SchedulerOpts
	}{
		{"no source", SchedulerOpts{Schedule: "* * * * *", Publishers: []Publisher{pub}}},
		{"no publishers", SchedulerOpts{Schedule: "* * * * *", Source: &fakeSource{}}},
		{"bad schedule", SchedulerOpts{Schedule: "daily", Source: &fakeSource{}, Publishers: []Publisher{pub}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewScheduler(tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestFire_PublishesToAll(t *testing.T) {
	src := &fakeSource{runs: []evaluation.RecentRun{{ConsortiumID: "a", Timestamp: periodStart.Add(time.Hour)}}}
	ok := &fakePublisher{name: "ok"}
	bad := &fakePublisher{name: "bad", err: errors.New("forbidden")}
	core, logs := observer.New(zapcore.InfoLevel)

	s, err := NewScheduler(SchedulerOpts{
		Schedule:   "0 9 * * *",
		Source:     src,
		Publishers: []Publisher{bad, ok},
		Logger:     zap.New(core),
	})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.now = func() time.Time { return periodEnd }

	err = s.Fire(context.Background())
	if err == nil || !strings.Contains(err.Error(), "bad: forbidden") {
		t.Errorf("err = %v, want joined publisher error", err)
	}
	if len(ok.sent) != 1 || ok.sent[0].Title != "Consortium Digest" {
		t.Errorf("ok publisher sent %v", ok.sent)
	}
	if !src.gotSince.Equal(periodStart) {
		t.Errorf("since = %v, want one schedule interval before now", src.gotSince)
	}
	if logs.FilterMessage("digest published").Len() != 1 {
		t.Errorf("published log entries = %d, want 1", logs.FilterMessage("digest published").Len())
	}
}

func TestFire_EmptyPeriodSkipsPublish(t *testing.T) {
	pub := &fakePublisher{name: "p"}
	s, err := NewScheduler(SchedulerOpts{Schedule: "0 9 * * *", Source: &fakeSource{}, Publishers: []Publisher{pub}})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	if err := s.Fire(context.Background()); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if len(pub.sent) != 0 {
		t.Errorf("sent = %v, want nothing", pub.sent)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	s, err := NewScheduler(SchedulerOpts{Schedule: "0 9 * * *", Source: &fakeSource{}, Publishers: []Publisher{&fakePublisher{}}})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestBuild_EvaluationStore(t *testing.T) {
	gdb, err := db.Open(config.DatabaseConfig{Driver: config.DriverSQLite, Path: db.MemoryPath})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close(gdb)
	store, err := evaluation.NewStore(evaluation.StoreOpts{DB: gdb})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	ctx := context.Background()
	for i, conf := range []float64{0.6, 0.9} {
		_, err := store.StoreEvaluation(ctx, evaluation.EvaluationInput{
			ConsortiumID:    "run",
			IterationID:     i,
			ArbiterModel:    "judge",
			EvaluatedModels: []string{"claude", "gpt"},
			Decision:        evaluation.Decision{Confidence: conf, ChosenModel: "gpt"},
			TokenUsage:      map[string]int{"claude": 100, "gpt": 50},
		})
		if err != nil {
			t.Fatalf("StoreEvaluation: %v", err)
		}
	}

	now := time.Now()
	r, err := Build(ctx, store, now.Add(-time.Hour), now.Add(time.Hour), 5)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if r == nil || r.Runs != 1 || r.Evaluations != 2 || r.TotalTokens != 300 {
		t.Fatalf("report = %+v", r)
	}
	if len(r.Leaders) != 2 {
		t.Errorf("leaders = %+v", r.Leaders)
	}
}
