// Package digest builds a periodic leaderboard summary from the evaluation
// store and publishes it to chat platforms.
package digest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/consortium/internal/evaluation"
)

// Sidebar colors for published messages.
const (
	ColorInfo    = "#2196f3"
	ColorSuccess = "#36a64f"
)

// maxRuns bounds how many runs a single digest inspects.
const maxRuns = 500

// Source is the read side of the evaluation store a digest needs.
type Source interface {
	GetLeaderboard(ctx context.Context, q evaluation.LeaderboardQuery) ([]evaluation.LeaderboardEntry, error)
	GetRecentRuns(ctx context.Context, limit int, since time.Time) ([]evaluation.RecentRun, error)
}

// Report holds the figures for one digest period.
type Report struct {
	PeriodStart time.Time
	PeriodEnd   time.Time
	Runs        int
	Evaluations int
	TotalTokens int64
	Leaders     []evaluation.LeaderboardEntry
	BestRun     *evaluation.RecentRun // highest final confidence in the period
}

// Message is a platform-neutral chat message.
type Message struct {
	Title  string
	Body   string
	Color  string
	Fields []Field
}

// Field is a key-value pair rendered beside the message body.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Publisher delivers a Message to one chat platform.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, msg Message) error
}

// Build computes the report for [since, until). It returns nil when no run
// was evaluated in the period.
func Build(ctx context.Context, src Source, since, until time.Time, limit int) (*Report, error) {
	runs, err := src.GetRecentRuns(ctx, maxRuns, since)
	if err != nil {
		return nil, fmt.Errorf("digest: recent runs: %w", err)
	}

	r := &Report{PeriodStart: since, PeriodEnd: until}
	for i := range runs {
		run := runs[i]
		if !run.Timestamp.Before(until) {
			continue
		}
		r.Runs++
		r.Evaluations += run.EvaluationCount
		r.TotalTokens += run.TotalTokens
		if r.BestRun == nil || run.FinalConfidence > r.BestRun.FinalConfidence {
			r.BestRun = &run
		}
	}
	if r.Runs == 0 {
		return nil, nil
	}

	r.Leaders, err = src.GetLeaderboard(ctx, evaluation.LeaderboardQuery{Limit: limit, Since: since})
	if err != nil {
		return nil, fmt.Errorf("digest: leaderboard: %w", err)
	}
	return r, nil
}

// Format renders a report as a Message.
func Format(r *Report) Message {
	var lines []string
	lines = append(lines, fmt.Sprintf("**Period**: %s – %s",
		r.PeriodStart.Format("Jan 2 15:04"), r.PeriodEnd.Format("Jan 2 15:04")))
	lines = append(lines, fmt.Sprintf("**Runs**: %d (%d evaluations)", r.Runs, r.Evaluations))
	if r.TotalTokens > 0 {
		lines = append(lines, fmt.Sprintf("**Tokens**: %s", formatTokenCount(r.TotalTokens)))
	}
	if r.BestRun != nil {
		lines = append(lines, fmt.Sprintf("**Most confident run**: %s at %.2f",
			r.BestRun.ConsortiumID, r.BestRun.FinalConfidence))
	}

	if len(r.Leaders) > 0 {
		lines = append(lines, "", "**Leaderboard**:")
		for i, e := range r.Leaders {
			lines = append(lines, fmt.Sprintf("  %d. %s: %.2f avg confidence, %.0f%% wins, %d evaluations",
				i+1, e.Model, e.AvgConfidence, e.WinRate, e.EvaluationCount))
		}
	}

	fields := []Field{
		{Name: "Runs", Value: fmt.Sprintf("%d", r.Runs), Short: true},
		{Name: "Evaluations", Value: fmt.Sprintf("%d", r.Evaluations), Short: true},
	}
	if r.TotalTokens > 0 {
		fields = append(fields, Field{Name: "Tokens", Value: formatTokenCount(r.TotalTokens), Short: true})
	}
	color := ColorInfo
	if len(r.Leaders) > 0 {
		fields = append(fields, Field{Name: "Leader", Value: r.Leaders[0].Model, Short: true})
		color = ColorSuccess
	}

	return Message{
		Title:  "Consortium Digest",
		Body:   strings.Join(lines, "\n"),
		Color:  color,
		Fields: fields,
	}
}

// formatTokenCount formats a token count with K/M suffixes.
func formatTokenCount(tokens int64) string {
	if tokens >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(tokens)/1_000_000)
	}
	if tokens >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(tokens)/1_000)
	}
	return fmt.Sprintf("%d", tokens)
}
