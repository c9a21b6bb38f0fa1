package evaluation

import (
	"context"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/zulandar/consortium/internal/errs"
	"github.com/zulandar/consortium/internal/models"
)

// Default limits for the aggregate queries.
const (
	DefaultLeaderboardLimit = 10
	DefaultRecentRunsLimit  = 10
)

// LeaderboardQuery filters GetLeaderboard. Zero values mean no filter.
type LeaderboardQuery struct {
	Limit       int
	Since       time.Time
	ModelFilter string // substring of the model id
}

// LeaderboardEntry aggregates one model's performance rows.
type LeaderboardEntry struct {
	Model           string  `json:"model"`
	EvaluationCount int64   `json:"evaluation_count"`
	AvgConfidence   float64 `json:"avg_confidence"`
	AvgTokens       float64 `json:"avg_tokens"`
	TotalTokens     int64   `json:"total_tokens"`
	AvgDurationMs   float64 `json:"avg_duration_ms"`
	WinRate         float64 `json:"win_rate"`
}

// GetLeaderboard ranks models by average confidence, then by number of
// evaluations. Averages are compared at six decimal places so rounding
// noise does not split ties.
func (s *Store) GetLeaderboard(ctx context.Context, q LeaderboardQuery) ([]LeaderboardEntry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}

	tx := s.db.WithContext(ctx).Model(&models.ModelPerformance{}).
		Select(`model,
			COUNT(*) AS evaluation_count,
			AVG(confidence) AS avg_confidence,
			AVG(token_usage) AS avg_tokens,
			SUM(token_usage) AS total_tokens,
			AVG(duration_ms) AS avg_duration_ms,
			100.0 * SUM(chosen_count) / COUNT(*) AS win_rate`)
	if !q.Since.IsZero() {
		tx = tx.Where("timestamp >= ?", q.Since.UTC())
	}
	if q.ModelFilter != "" {
		tx = tx.Where("model LIKE ? ESCAPE '!'", likeContains(q.ModelFilter))
	}

	var out []LeaderboardEntry
	err := tx.Group("model").
		Order("ROUND(AVG(confidence), 6) DESC, COUNT(*) DESC, model ASC").
		Limit(limit).
		Scan(&out).Error
	if err != nil {
		return nil, errs.Storage("leaderboard", err)
	}
	return out, nil
}

// likeContains builds a LIKE pattern matching s anywhere, with '!' as the
// escape character.
func likeContains(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return "%" + r.Replace(s) + "%"
}

// RecentRun summarizes one run by its latest evaluation.
type RecentRun struct {
	ConsortiumID    string    `json:"consortium_id"`
	Timestamp       time.Time `json:"timestamp"`
	ArbiterModel    string    `json:"arbiter_model"`
	Models          []string  `json:"models"`
	FinalConfidence float64   `json:"final_confidence"`
	ChosenModel     string    `json:"chosen_model,omitempty"`
	IterationCount  int       `json:"iteration_count"`
	EvaluationCount int       `json:"evaluation_count"`
	TotalTokens     int64     `json:"total_tokens"`
	TotalDurationMs int64     `json:"total_duration_ms"`
}

type runAggregate struct {
	ConsortiumID    string
	LatestID        uint
	IterationCount  int
	EvaluationCount int
	TotalTokens     int64
	TotalDurationMs int64
}

// GetRecentRuns returns distinct runs, most recently evaluated first.
func (s *Store) GetRecentRuns(ctx context.Context, limit int, since time.Time) ([]RecentRun, error) {
	if limit <= 0 {
		limit = DefaultRecentRunsLimit
	}

	var out []RecentRun
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&models.Evaluation{}).
			Select(`consortium_id,
				MAX(id) AS latest_id,
				COUNT(DISTINCT iteration_id) AS iteration_count,
				COUNT(*) AS evaluation_count,
				SUM(total_tokens) AS total_tokens,
				SUM(duration_ms) AS total_duration_ms`)
		if !since.IsZero() {
			q = q.Where("timestamp >= ?", since.UTC())
		}
		var aggs []runAggregate
		err := q.Group("consortium_id").
			Order("MAX(timestamp) DESC, MAX(id) DESC").
			Limit(limit).
			Scan(&aggs).Error
		if err != nil {
			return err
		}
		if len(aggs) == 0 {
			return nil
		}

		ids := make([]uint, len(aggs))
		for i, a := range aggs {
			ids[i] = a.LatestID
		}
		var latest []models.Evaluation
		if err := tx.Where("id IN ?", ids).Find(&latest).Error; err != nil {
			return err
		}
		byID := make(map[uint]models.Evaluation, len(latest))
		for _, ev := range latest {
			byID[ev.ID] = ev
		}

		for _, a := range aggs {
			rec, err := decodeEvaluation(byID[a.LatestID])
			if err != nil {
				return err
			}
			out = append(out, RecentRun{
				ConsortiumID:    a.ConsortiumID,
				Timestamp:       rec.Timestamp,
				ArbiterModel:    rec.ArbiterModel,
				Models:          rec.EvaluatedModels,
				FinalConfidence: rec.Decision.Confidence,
				ChosenModel:     rec.Decision.ChosenModel,
				IterationCount:  a.IterationCount,
				EvaluationCount: a.EvaluationCount,
				TotalTokens:     a.TotalTokens,
				TotalDurationMs: a.TotalDurationMs,
			})
		}
		return nil
	})
	if err != nil {
		return nil, errs.Storage("recent runs", err)
	}
	return out, nil
}

// IterationSummary condenses the evaluations of one iteration.
type IterationSummary struct {
	Iteration       int      `json:"iteration"`
	Confidence      float64  `json:"confidence"`
	Tokens          int64    `json:"tokens"`
	DurationMs      int64    `json:"duration_ms"`
	Models          []string `json:"models"`
	ChosenModel     string   `json:"chosen_model,omitempty"`
	RefinementAreas []string `json:"refinement_areas"`
	Evaluations     int      `json:"evaluations"`
}

// RunDetail reconstructs one run from its evaluations.
type RunDetail struct {
	ConsortiumID    string             `json:"consortium_id"`
	StartedAt       time.Time          `json:"started_at"`
	LastUpdated     time.Time          `json:"last_updated"`
	ArbiterModel    string             `json:"arbiter_model"`
	Models          []string           `json:"models"`
	FinalIteration  int                `json:"final_iteration"`
	FinalConfidence float64            `json:"final_confidence"`
	FinalSynthesis  string             `json:"final_synthesis"`
	TotalTokens     int64              `json:"total_tokens"`
	TotalDurationMs int64              `json:"total_duration_ms"`
	Iterations      []IterationSummary `json:"iterations"`
	Evaluations     []EvaluationRecord `json:"evaluations"`
}

// GetRunDetails returns the run's evaluations grouped by iteration, or nil
// when the run has no evaluations. The final synthesis comes from the
// highest-numbered iteration, taking its most confident evaluation.
func (s *Store) GetRunDetails(ctx context.Context, consortiumID string) (*RunDetail, error) {
	var rows []models.Evaluation
	err := s.db.WithContext(ctx).
		Where("consortium_id = ?", consortiumID).
		Order("iteration_id ASC, timestamp ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, errs.Storage("run details", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	d := &RunDetail{ConsortiumID: consortiumID}
	seenModel := map[string]bool{}
	byIter := map[int]*IterationSummary{}
	var final *EvaluationRecord

	for _, row := range rows {
		rec, err := decodeEvaluation(row)
		if err != nil {
			return nil, errs.Storage("run details", err)
		}
		d.Evaluations = append(d.Evaluations, rec)

		if d.StartedAt.IsZero() || rec.Timestamp.Before(d.StartedAt) {
			d.StartedAt = rec.Timestamp
		}
		if rec.Timestamp.After(d.LastUpdated) {
			d.LastUpdated = rec.Timestamp
		}
		d.TotalTokens += int64(rec.TotalTokens)
		d.TotalDurationMs += rec.DurationMs
		for _, m := range rec.EvaluatedModels {
			if !seenModel[m] {
				seenModel[m] = true
				d.Models = append(d.Models, m)
			}
		}

		it, ok := byIter[rec.IterationID]
		if !ok {
			it = &IterationSummary{Iteration: rec.IterationID, Models: []string{}, RefinementAreas: []string{}}
			byIter[rec.IterationID] = it
		}
		it.Evaluations++
		it.Tokens += int64(rec.TotalTokens)
		it.DurationMs += rec.DurationMs
		// The latest evaluation of an iteration defines its outcome.
		it.Confidence = rec.Decision.Confidence
		it.ChosenModel = rec.Decision.ChosenModel
		if rec.Decision.RefinementAreas != nil {
			it.RefinementAreas = rec.Decision.RefinementAreas
		}
		for _, m := range rec.EvaluatedModels {
			if !contains(it.Models, m) {
				it.Models = append(it.Models, m)
			}
		}

		if final == nil || rec.IterationID > final.IterationID ||
			(rec.IterationID == final.IterationID && rec.Decision.Confidence >= final.Decision.Confidence) {
			r := rec
			final = &r
		}
	}

	for _, it := range byIter {
		d.Iterations = append(d.Iterations, *it)
	}
	sort.Slice(d.Iterations, func(i, j int) bool { return d.Iterations[i].Iteration < d.Iterations[j].Iteration })

	d.ArbiterModel = final.ArbiterModel
	d.FinalIteration = final.IterationID
	d.FinalConfidence = final.Decision.Confidence
	d.FinalSynthesis = final.Decision.Synthesis
	return d, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// LatestEvaluationID returns the highest evaluation id, or 0 when empty.
func (s *Store) LatestEvaluationID(ctx context.Context) (uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.Evaluation{}).
		Order("id DESC").Limit(1).Pluck("id", &ids).Error
	if err != nil {
		return 0, errs.Storage("latest evaluation", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return ids[0], nil
}

// EvaluationsAfter returns up to limit evaluations with id > afterID,
// oldest first.
func (s *Store) EvaluationsAfter(ctx context.Context, afterID uint, limit int) ([]EvaluationRecord, error) {
	if limit <= 0 {
		limit = DefaultRecentRunsLimit
	}
	var rows []models.Evaluation
	err := s.db.WithContext(ctx).Where("id > ?", afterID).Order("id ASC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, errs.Storage("evaluations after", err)
	}
	out := make([]EvaluationRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := decodeEvaluation(row)
		if err != nil {
			return nil, errs.Storage("evaluations after", err)
		}
		out = append(out, rec)
	}
	return out, nil
}
