package evaluation

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/zulandar/consortium/internal/errs"
	"github.com/zulandar/consortium/internal/logging"
	"github.com/zulandar/consortium/internal/models"
)

// ExportQuery filters ExportTrainingData. Zero values mean no filter.
type ExportQuery struct {
	Since         time.Time
	ModelFilter   string   // substring of the chosen model id
	MinConfidence *float64 // inclusive
}

// TrainingSample is one exported line.
type TrainingSample struct {
	ConsortiumID    string   `json:"consortium_id"`
	Iteration       int      `json:"iteration"`
	Prompt          string   `json:"prompt"`
	Model           string   `json:"model"`
	Chosen          bool     `json:"chosen"`
	Arbiter         string   `json:"arbiter"`
	Analysis        string   `json:"analysis"`
	Confidence      float64  `json:"confidence"`
	RefinementAreas []string `json:"refinement_areas"`
	AllModels       []string `json:"all_models"`
	Tokens          int      `json:"tokens"`
}

func sampleFrom(rec EvaluationRecord) TrainingSample {
	analysis := rec.Decision.Analysis
	if analysis == "" {
		analysis = rec.Decision.Synthesis
	}
	areas := rec.Decision.RefinementAreas
	if areas == nil {
		areas = []string{}
	}
	all := rec.EvaluatedModels
	if all == nil {
		all = []string{}
	}
	return TrainingSample{
		ConsortiumID:    rec.ConsortiumID,
		Iteration:       rec.IterationID,
		Prompt:          rec.PromptText,
		Model:           rec.Decision.ChosenModel,
		Chosen:          rec.Decision.ChosenModel != "",
		Arbiter:         rec.ArbiterModel,
		Analysis:        analysis,
		Confidence:      rec.Decision.Confidence,
		RefinementAreas: areas,
		AllModels:       all,
		Tokens:          rec.TotalTokens,
	}
}

// ExportTrainingData writes one JSON line per matching evaluation to w,
// oldest first, and returns the number of lines written. Rows are read
// from a cursor one at a time.
func (s *Store) ExportTrainingData(ctx context.Context, w io.Writer, q ExportQuery) (int, error) {
	tx := s.db.WithContext(ctx).Model(&models.Evaluation{})
	if !q.Since.IsZero() {
		tx = tx.Where("timestamp >= ?", q.Since.UTC())
	}
	if q.ModelFilter != "" {
		tx = tx.Where("chosen_model LIKE ? ESCAPE '!'", likeContains(q.ModelFilter))
	}
	if q.MinConfidence != nil {
		tx = tx.Where("confidence >= ?", *q.MinConfidence)
	}

	rows, err := tx.Order("id ASC").Rows()
	if err != nil {
		return 0, errs.Storage("export training data", err)
	}
	defer rows.Close()

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	count := 0
	for rows.Next() {
		var ev models.Evaluation
		if err := s.db.ScanRows(rows, &ev); err != nil {
			return count, errs.Storage("export training data", err)
		}
		rec, err := decodeEvaluation(ev)
		if err != nil {
			return count, errs.Storage("export training data", err)
		}
		if err := enc.Encode(sampleFrom(rec)); err != nil {
			return count, fmt.Errorf("evaluation: export: write: %w", err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, errs.Storage("export training data", err)
	}
	if err := bw.Flush(); err != nil {
		return count, fmt.Errorf("evaluation: export: flush: %w", err)
	}

	s.emitter.Info(ctx, "training data exported", logging.Fields{"count": count})
	return count, nil
}
