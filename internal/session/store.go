// Package session persists consortium runs and the per-model responses
// produced during them.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/zulandar/consortium/internal/errs"
	"github.com/zulandar/consortium/internal/logging"
	"github.com/zulandar/consortium/internal/models"
)

// DefaultListLimit caps ListSessions when the caller passes no limit.
const DefaultListLimit = 20

// Store records sessions and model responses.
type Store struct {
	db      *gorm.DB
	emitter *logging.Emitter
	now     func() time.Time
}

// StoreOpts holds parameters for creating a Store.
type StoreOpts struct {
	DB      *gorm.DB
	Emitter *logging.Emitter // optional; debug events for writes
}

// NewStore creates a Store.
func NewStore(opts StoreOpts) (*Store, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("session: store: db is required")
	}
	em := opts.Emitter
	if em == nil {
		em = logging.NewEmitter(nil)
	}
	return &Store{
		db:      opts.DB,
		emitter: em,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// ResponseInput is one model response to record. Content is required and
// may be empty but not nil. Zero ConversationID and Timestamp are filled in.
type ResponseInput struct {
	ModelID        string
	Content        *string
	ConversationID string
	Confidence     *float64
	Reasoning      *string
	Iteration      int
	Timestamp      time.Time
}

// CreateSession inserts a new, uncompleted session and returns its id.
func (s *Store) CreateSession(ctx context.Context, prompt, strategy string, modelIDs []string) (string, error) {
	if modelIDs == nil {
		modelIDs = []string{}
	}
	modelsJSON, err := json.Marshal(modelIDs)
	if err != nil {
		return "", errs.Invalid("models", err.Error())
	}

	sess := models.ConsortiumSession{
		SessionID: uuid.NewString(),
		Prompt:    prompt,
		Strategy:  strategy,
		Models:    datatypes.JSON(modelsJSON),
		CreatedAt: s.now(),
		Metadata:  datatypes.JSON("{}"),
	}
	if err := s.db.WithContext(ctx).Create(&sess).Error; err != nil {
		return "", errs.Storage("create session", err)
	}

	s.emitter.Debug(ctx, "session created", logging.Fields{
		"session_id": sess.SessionID,
		"strategy":   strategy,
		"models":     modelIDs,
	})
	return sess.SessionID, nil
}

// LogResponse appends one response to sessionID and returns its row id.
func (s *Store) LogResponse(ctx context.Context, sessionID string, in ResponseInput) (uint, error) {
	if sessionID == "" {
		return 0, errs.Invalid("session_id", "required")
	}
	if strings.TrimSpace(in.ModelID) == "" {
		return 0, errs.Invalid("model_id", "required")
	}
	if in.Content == nil {
		return 0, errs.Invalid("content", "required")
	}

	resp := models.ModelResponse{
		SessionID:       sessionID,
		ModelID:         in.ModelID,
		ConversationID:  in.ConversationID,
		ResponseContent: *in.Content,
		Confidence:      in.Confidence,
		Reasoning:       in.Reasoning,
		Iteration:       in.Iteration,
		Timestamp:       in.Timestamp.UTC(),
	}
	if resp.ConversationID == "" {
		resp.ConversationID = uuid.NewString()
	}
	if in.Timestamp.IsZero() {
		resp.Timestamp = s.now()
	}
	if resp.Iteration < 0 {
		resp.Iteration = 0
	}

	if err := s.db.WithContext(ctx).Create(&resp).Error; err != nil {
		return 0, errs.Storage("log response", err)
	}

	s.emitter.Debug(ctx, "response logged", logging.Fields{
		"session_id": sessionID,
		"model_id":   resp.ModelID,
		"iteration":  resp.Iteration,
		"response":   logging.Truncate(resp.ResponseContent, logging.ResponsePreviewLen),
	})
	return resp.ID, nil
}

// LogResponseJSON records a response given as a loose JSON object with keys
// model_id, content, conversation_id, confidence, reasoning, iteration and
// timestamp. Numeric strings are accepted for iteration and confidence; a
// non-string content is stored as its raw JSON text.
func (s *Store) LogResponseJSON(ctx context.Context, sessionID string, raw []byte) (uint, error) {
	in, err := ParseResponse(raw)
	if err != nil {
		return 0, err
	}
	return s.LogResponse(ctx, sessionID, in)
}

// ParseResponse converts a loose JSON response object into a ResponseInput.
func ParseResponse(raw []byte) (ResponseInput, error) {
	var in ResponseInput
	if !gjson.ValidBytes(raw) {
		return in, errs.Invalid("response", "malformed JSON")
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return in, errs.Invalid("response", "expected a JSON object")
	}

	in.ModelID = doc.Get("model_id").String()

	switch c := doc.Get("content"); c.Type {
	case gjson.Null:
	case gjson.String:
		v := c.String()
		in.Content = &v
	default:
		v := c.Raw
		in.Content = &v
	}

	in.ConversationID = doc.Get("conversation_id").String()

	if c := doc.Get("confidence"); c.Exists() && c.Type != gjson.Null {
		v, err := number(c)
		if err != nil {
			return in, errs.Invalid("confidence", err.Error())
		}
		in.Confidence = &v
	}
	if r := doc.Get("reasoning"); r.Exists() && r.Type != gjson.Null {
		v := r.String()
		in.Reasoning = &v
	}
	if it := doc.Get("iteration"); it.Exists() && it.Type != gjson.Null {
		v, err := number(it)
		if err != nil {
			return in, errs.Invalid("iteration", err.Error())
		}
		in.Iteration = int(v)
	}
	if ts := doc.Get("timestamp"); ts.Type == gjson.String && ts.String() != "" {
		t, err := time.Parse(time.RFC3339Nano, ts.String())
		if err != nil {
			return in, errs.Invalid("timestamp", "expected RFC 3339")
		}
		in.Timestamp = t
	}
	return in, nil
}

func number(r gjson.Result) (float64, error) {
	switch r.Type {
	case gjson.Number:
		return r.Float(), nil
	case gjson.String:
		v, err := strconv.ParseFloat(strings.TrimSpace(r.String()), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", r.String())
		}
		return v, nil
	default:
		return 0, fmt.Errorf("not a number: %s", r.Raw)
	}
}

// GetResponses returns the session's responses in timestamp order, ties
// broken by insertion order. A non-nil iteration restricts the result to
// that iteration.
func (s *Store) GetResponses(ctx context.Context, sessionID string, iteration *int) ([]models.ModelResponse, error) {
	q := s.db.WithContext(ctx).Where("session_id = ?", sessionID)
	if iteration != nil {
		q = q.Where("iteration = ?", *iteration)
	}
	var out []models.ModelResponse
	if err := q.Order("timestamp ASC, id ASC").Find(&out).Error; err != nil {
		return nil, errs.Storage("get responses", err)
	}
	return out, nil
}

// CompleteSession marks the session completed. A non-string finalResult is
// stored as JSON. Metadata replaces the stored metadata only when non-nil.
// Calling it again overwrites the previous completion.
func (s *Store) CompleteSession(ctx context.Context, sessionID string, finalResult any, metadata map[string]any) error {
	result, err := resultText(finalResult)
	if err != nil {
		return errs.Invalid("final_result", err.Error())
	}

	updates := map[string]any{
		"completed_at": s.now(),
		"final_result": result,
	}
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err != nil {
			return errs.Invalid("metadata", err.Error())
		}
		updates["metadata_json"] = datatypes.JSON(b)
	}

	res := s.db.WithContext(ctx).Model(&models.ConsortiumSession{}).
		Where("session_id = ?", sessionID).
		Updates(updates)
	if res.Error != nil {
		return errs.Storage("complete session", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.Invalid("session_id", "unknown session "+sessionID)
	}

	s.emitter.Debug(ctx, "session completed", logging.Fields{"session_id": sessionID})
	return nil
}

func resultText(v any) (string, error) {
	switch r := v.(type) {
	case string:
		return r, nil
	case []byte:
		return string(r), nil
	case nil:
		return "null", nil
	default:
		b, err := json.Marshal(r)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

// GetSession returns the session, or nil when it does not exist.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*models.ConsortiumSession, error) {
	var sess []models.ConsortiumSession
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Limit(1).Find(&sess).Error; err != nil {
		return nil, errs.Storage("get session", err)
	}
	if len(sess) == 0 {
		return nil, nil
	}
	return &sess[0], nil
}

// ListSessions returns the most recently created sessions first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]models.ConsortiumSession, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var out []models.ConsortiumSession
	if err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, errs.Storage("list sessions", err)
	}
	return out, nil
}

// ModelIDs decodes the session's model list.
func ModelIDs(sess *models.ConsortiumSession) ([]string, error) {
	var ids []string
	if len(sess.Models) == 0 {
		return ids, nil
	}
	if err := json.Unmarshal(sess.Models, &ids); err != nil {
		return nil, fmt.Errorf("session: decode models for %s: %w", sess.SessionID, err)
	}
	return ids, nil
}
