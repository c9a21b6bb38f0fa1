package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/zulandar/consortium/internal/config"
	"github.com/zulandar/consortium/internal/errs"
	"github.com/zulandar/consortium/internal/logging"
	"github.com/zulandar/consortium/internal/models"
	"github.com/zulandar/consortium/internal/tracing"
)

// Store records arbiter evaluations.
type Store struct {
	db            *gorm.DB
	emitter       *logging.Emitter
	promptPreview int
	now           func() time.Time
}

// StoreOpts holds parameters for creating a Store.
type StoreOpts struct {
	DB            *gorm.DB
	Emitter       *logging.Emitter // optional
	PromptPreview int              // defaults to config.DefaultPromptPreview
}

// NewStore creates a Store.
func NewStore(opts StoreOpts) (*Store, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("evaluation: store: db is required")
	}
	preview := opts.PromptPreview
	if preview <= 0 {
		preview = config.DefaultPromptPreview
	}
	em := opts.Emitter
	if em == nil {
		em = logging.NewEmitter(nil)
	}
	return &Store{
		db:            opts.DB,
		emitter:       em,
		promptPreview: preview,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// EvaluationInput is one arbiter decision to store. ConsortiumID and
// RequestID fall back to the correlation context when empty.
type EvaluationInput struct {
	ConsortiumID    string
	RequestID       string
	IterationID     int
	PromptText      string
	ArbiterModel    string
	EvaluatedModels []string
	Decision        Decision
	TokenUsage      map[string]int
	DurationMs      int64
	Error           string
}

func (in *EvaluationInput) resolve(ctx context.Context) error {
	corr := tracing.FromContext(ctx)
	if in.ConsortiumID == "" {
		in.ConsortiumID = corr.RunID
	}
	if in.RequestID == "" {
		in.RequestID = corr.RequestID
	}

	if in.ConsortiumID == "" {
		return errs.Invalid("consortium_id", "required")
	}
	if strings.TrimSpace(in.ArbiterModel) == "" {
		return errs.Invalid("arbiter_model", "required")
	}
	if in.IterationID < 0 {
		return errs.Invalid("iteration_id", "must be >= 0")
	}
	if in.DurationMs < 0 {
		return errs.Invalid("duration_ms", "must be >= 0")
	}
	for i, m := range in.EvaluatedModels {
		if strings.TrimSpace(m) == "" {
			return errs.Invalid(fmt.Sprintf("evaluated_models[%d]", i), "empty model id")
		}
	}
	for m, n := range in.TokenUsage {
		if n < 0 {
			return errs.Invalid("token_usage."+m, "must be >= 0")
		}
	}
	return in.Decision.Validate()
}

// StoreEvaluation inserts the evaluation and replaces the performance row
// of every evaluated model for (model, consortium, iteration), all in one
// transaction. Nothing is written when any step fails.
func (s *Store) StoreEvaluation(ctx context.Context, in EvaluationInput) (uint, error) {
	if err := in.resolve(ctx); err != nil {
		return 0, err
	}

	evaluated := in.EvaluatedModels
	if evaluated == nil {
		evaluated = []string{}
	}
	usage := in.TokenUsage
	if usage == nil {
		usage = map[string]int{}
	}
	areas := in.Decision.RefinementAreas
	if areas == nil {
		areas = []string{}
	}

	evaluatedJSON, err := json.Marshal(evaluated)
	if err != nil {
		return 0, errs.Invalid("evaluated_models", err.Error())
	}
	decisionJSON, err := json.Marshal(in.Decision)
	if err != nil {
		return 0, errs.Invalid("decision", err.Error())
	}
	areasJSON, err := json.Marshal(areas)
	if err != nil {
		return 0, errs.Invalid("decision.refinement_areas", err.Error())
	}
	usageJSON, err := json.Marshal(usage)
	if err != nil {
		return 0, errs.Invalid("token_usage", err.Error())
	}

	total := 0
	for _, n := range usage {
		total += n
	}
	now := s.now()

	ev := models.Evaluation{
		ConsortiumID:    in.ConsortiumID,
		IterationID:     in.IterationID,
		Timestamp:       now,
		PromptText:      logging.Truncate(in.PromptText, s.promptPreview),
		ArbiterModel:    in.ArbiterModel,
		EvaluatedModels: datatypes.JSON(evaluatedJSON),
		Decision:        datatypes.JSON(decisionJSON),
		Confidence:      in.Decision.Confidence,
		RefinementAreas: datatypes.JSON(areasJSON),
		ChosenModel:     in.Decision.ChosenModel,
		TokenUsage:      datatypes.JSON(usageJSON),
		TotalTokens:     total,
		DurationMs:      in.DurationMs,
	}
	if in.RequestID != "" {
		rid := in.RequestID
		ev.RequestID = &rid
	}
	if in.Error != "" {
		e := in.Error
		ev.Error = &e
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&ev).Error; err != nil {
			return fmt.Errorf("insert evaluation: %w", err)
		}
		for _, m := range evaluated {
			perf := models.ModelPerformance{
				Model:        m,
				ConsortiumID: in.ConsortiumID,
				IterationID:  in.IterationID,
				Confidence:   in.Decision.Confidence,
				TokenUsage:   usage[m],
				DurationMs:   in.DurationMs,
				Timestamp:    now,
			}
			if m == in.Decision.ChosenModel {
				perf.ChosenCount = 1
			}
			if err := replacePerformance(tx, perf); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, errs.Storage("store evaluation", err)
	}

	s.emitter.Debug(ctx, "evaluation stored", logging.Fields{
		"evaluation_id": ev.ID,
		"consortium_id": ev.ConsortiumID,
		"iteration_id":  ev.IterationID,
		"arbiter_model": ev.ArbiterModel,
		"confidence":    ev.Confidence,
	})
	return ev.ID, nil
}

// replacePerformance writes p over any existing row with the same key.
// It checks for the key and then inserts or updates, so it does not depend
// on dialect-specific upsert syntax.
func replacePerformance(tx *gorm.DB, p models.ModelPerformance) error {
	key := tx.Model(&models.ModelPerformance{}).
		Where("model = ? AND consortium_id = ? AND iteration_id = ?", p.Model, p.ConsortiumID, p.IterationID)

	var n int64
	if err := key.Count(&n).Error; err != nil {
		return fmt.Errorf("check performance %s: %w", p.Model, err)
	}
	if n == 0 {
		if err := tx.Create(&p).Error; err != nil {
			return fmt.Errorf("insert performance %s: %w", p.Model, err)
		}
		return nil
	}

	err := tx.Model(&models.ModelPerformance{}).
		Where("model = ? AND consortium_id = ? AND iteration_id = ?", p.Model, p.ConsortiumID, p.IterationID).
		Updates(map[string]any{
			"confidence":   p.Confidence,
			"token_usage":  p.TokenUsage,
			"duration_ms":  p.DurationMs,
			"timestamp":    p.Timestamp,
			"chosen_count": p.ChosenCount,
		}).Error
	if err != nil {
		return fmt.Errorf("replace performance %s: %w", p.Model, err)
	}
	return nil
}

// EvaluationRecord is a stored evaluation with its JSON columns decoded.
type EvaluationRecord struct {
	ID              uint           `json:"id"`
	ConsortiumID    string         `json:"consortium_id"`
	RequestID       string         `json:"request_id,omitempty"`
	IterationID     int            `json:"iteration_id"`
	Timestamp       time.Time      `json:"timestamp"`
	PromptText      string         `json:"prompt_text"`
	ArbiterModel    string         `json:"arbiter_model"`
	EvaluatedModels []string       `json:"evaluated_models"`
	Decision        Decision       `json:"decision"`
	TokenUsage      map[string]int `json:"token_usage"`
	TotalTokens     int            `json:"total_tokens"`
	DurationMs      int64          `json:"duration_ms"`
	Error           string         `json:"error,omitempty"`
}

func decodeEvaluation(ev models.Evaluation) (EvaluationRecord, error) {
	rec := EvaluationRecord{
		ID:           ev.ID,
		ConsortiumID: ev.ConsortiumID,
		IterationID:  ev.IterationID,
		Timestamp:    ev.Timestamp.UTC(),
		PromptText:   ev.PromptText,
		ArbiterModel: ev.ArbiterModel,
		TotalTokens:  ev.TotalTokens,
		DurationMs:   ev.DurationMs,
	}
	if ev.RequestID != nil {
		rec.RequestID = *ev.RequestID
	}
	if ev.Error != nil {
		rec.Error = *ev.Error
	}
	if err := decodeJSON(ev.EvaluatedModels, &rec.EvaluatedModels); err != nil {
		return rec, fmt.Errorf("evaluation %d: evaluated_models: %w", ev.ID, err)
	}
	if len(ev.Decision) > 0 {
		d, err := ParseDecision(ev.Decision)
		if err != nil {
			return rec, fmt.Errorf("evaluation %d: decision: %w", ev.ID, err)
		}
		rec.Decision = d
	}
	if err := decodeJSON(ev.TokenUsage, &rec.TokenUsage); err != nil {
		return rec, fmt.Errorf("evaluation %d: token_usage: %w", ev.ID, err)
	}
	return rec, nil
}

func decodeJSON(raw datatypes.JSON, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
