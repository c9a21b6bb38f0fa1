package dashboard

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/consortium/internal/errs"
	"github.com/zulandar/consortium/internal/evaluation"
	"github.com/zulandar/consortium/internal/models"
	"github.com/zulandar/consortium/internal/session"
)

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.GET("/leaderboard", handleLeaderboard(opts.Evaluations))
	api.GET("/runs", handleRecentRuns(opts.Evaluations))
	api.GET("/runs/:id", handleRunDetail(opts.Evaluations))
	api.GET("/sessions", handleSessions(opts.Sessions))
	api.GET("/sessions/:id", handleSessionDetail(opts.Sessions))
	api.GET("/events", handleSSE(opts.Evaluations, opts.PollInterval))
}

func handleLeaderboard(store *evaluation.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := queryInt(c, "limit")
		if err != nil {
			writeError(c, err)
			return
		}
		since, err := querySince(c)
		if err != nil {
			writeError(c, err)
			return
		}
		entries, err := store.GetLeaderboard(c.Request.Context(), evaluation.LeaderboardQuery{
			Limit:       limit,
			Since:       since,
			ModelFilter: c.Query("model"),
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"leaderboard": nonNil(entries)})
	}
}

func handleRecentRuns(store *evaluation.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := queryInt(c, "limit")
		if err != nil {
			writeError(c, err)
			return
		}
		since, err := querySince(c)
		if err != nil {
			writeError(c, err)
			return
		}
		runs, err := store.GetRecentRuns(c.Request.Context(), limit, since)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": nonNil(runs)})
	}
}

func handleRunDetail(store *evaluation.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		detail, err := store.GetRunDetails(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		if detail == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusOK, detail)
	}
}

// sessionView is the API shape of a session.
type sessionView struct {
	SessionID   string          `json:"session_id"`
	Prompt      string          `json:"prompt"`
	Strategy    string          `json:"strategy"`
	Models      json.RawMessage `json:"models"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at"`
	FinalResult *string         `json:"final_result"`
	Metadata    json.RawMessage `json:"metadata"`
	Responses   []responseView  `json:"responses,omitempty"`
}

type responseView struct {
	ID             uint      `json:"id"`
	ModelID        string    `json:"model_id"`
	ConversationID string    `json:"conversation_id"`
	Content        string    `json:"content"`
	Confidence     *float64  `json:"confidence"`
	Reasoning      *string   `json:"reasoning"`
	Iteration      int       `json:"iteration"`
	Timestamp      time.Time `json:"timestamp"`
}

func viewSession(s models.ConsortiumSession) sessionView {
	v := sessionView{
		SessionID:   s.SessionID,
		Prompt:      s.Prompt,
		Strategy:    s.Strategy,
		Models:      json.RawMessage(s.Models),
		CreatedAt:   s.CreatedAt.UTC(),
		CompletedAt: s.CompletedAt,
		FinalResult: s.FinalResult,
		Metadata:    json.RawMessage(s.Metadata),
	}
	if len(v.Models) == 0 {
		v.Models = json.RawMessage("[]")
	}
	if len(v.Metadata) == 0 {
		v.Metadata = json.RawMessage("{}")
	}
	return v
}

func handleSessions(store *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := queryInt(c, "limit")
		if err != nil {
			writeError(c, err)
			return
		}
		list, err := store.ListSessions(c.Request.Context(), limit)
		if err != nil {
			writeError(c, err)
			return
		}
		out := make([]sessionView, 0, len(list))
		for _, s := range list {
			out = append(out, viewSession(s))
		}
		c.JSON(http.StatusOK, gin.H{"sessions": out})
	}
}

func handleSessionDetail(store *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id := c.Param("id")
		sess, err := store.GetSession(ctx, id)
		if err != nil {
			writeError(c, err)
			return
		}
		if sess == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}

		var iteration *int
		if raw := c.Query("iteration"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeError(c, errs.Invalid("iteration", "must be a non-negative integer"))
				return
			}
			iteration = &n
		}
		responses, err := store.GetResponses(ctx, id, iteration)
		if err != nil {
			writeError(c, err)
			return
		}

		v := viewSession(*sess)
		v.Responses = make([]responseView, 0, len(responses))
		for _, r := range responses {
			v.Responses = append(v.Responses, responseView{
				ID:             r.ID,
				ModelID:        r.ModelID,
				ConversationID: r.ConversationID,
				Content:        r.ResponseContent,
				Confidence:     r.Confidence,
				Reasoning:      r.Reasoning,
				Iteration:      r.Iteration,
				Timestamp:      r.Timestamp.UTC(),
			})
		}
		c.JSON(http.StatusOK, v)
	}
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errs.Invalid(key, "must be a non-negative integer")
	}
	return n, nil
}

// querySince parses the since parameter as RFC 3339 or a date.
func querySince(c *gin.Context) (time.Time, error) {
	raw := c.Query("since")
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Time{}, errs.Invalid("since", "expected RFC 3339 timestamp or YYYY-MM-DD")
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errs.IsValidation(err) {
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": errs.Kind(err)})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
