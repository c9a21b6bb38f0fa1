package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/consortium/internal/evaluation"
)

// evaluationEvent is the payload of an "evaluation" SSE event.
type evaluationEvent struct {
	ID           uint     `json:"id"`
	ConsortiumID string   `json:"consortium_id"`
	IterationID  int      `json:"iteration_id"`
	ArbiterModel string   `json:"arbiter_model"`
	Models       []string `json:"models"`
	Confidence   float64  `json:"confidence"`
	ChosenModel  string   `json:"chosen_model,omitempty"`
}

const sseBatch = 50

// handleSSE streams newly stored evaluations. Only evaluations stored after
// the client connects are sent.
func handleSSE(store *evaluation.Store, poll time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		ctx := c.Request.Context()
		lastSeenID, err := store.LatestEvaluationID(ctx)
		if err != nil {
			writeSSE(c.Writer, "error", map[string]string{"error": err.Error()})
			c.Writer.Flush()
			return
		}

		writeSSE(c.Writer, "connected", map[string]any{"type": "connected", "last_id": lastSeenID})
		c.Writer.Flush()

		ticker := time.NewTicker(poll)
		heartbeat := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-ticker.C:
				recs, err := store.EvaluationsAfter(ctx, lastSeenID, sseBatch)
				if err != nil || len(recs) == 0 {
					continue
				}
				for _, r := range recs {
					writeSSE(c.Writer, "evaluation", evaluationEvent{
						ID:           r.ID,
						ConsortiumID: r.ConsortiumID,
						IterationID:  r.IterationID,
						ArbiterModel: r.ArbiterModel,
						Models:       r.EvaluatedModels,
						Confidence:   r.Decision.Confidence,
						ChosenModel:  r.Decision.ChosenModel,
					})
				}
				lastSeenID = recs[len(recs)-1].ID
				c.Writer.Flush()
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
