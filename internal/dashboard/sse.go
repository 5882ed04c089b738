package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/itcshield/itc/internal/history"
	"gorm.io/gorm"
)

// heartbeatInterval keeps idle connections open through proxies.
const heartbeatInterval = 15 * time.Second

// handleSSE streams job events recorded after the client connected. A
// client reconnecting with Last-Event-ID resumes after that event.
func handleSSE(db *gorm.DB, interval time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		lastSeen, err := resumeFrom(db, c.GetHeader("Last-Event-ID"))
		if err != nil {
			log.Printf("dashboard: sse: %v", err)
		}
		writeSSE(c.Writer, "", "connected", map[string]string{"type": "connected"})
		c.Writer.Flush()

		ctx := c.Request.Context()
		ticker := time.NewTicker(interval)
		heartbeat := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "", "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-ticker.C:
				evs, err := history.EventsSince(db, lastSeen, 100)
				if err != nil {
					log.Printf("dashboard: sse: %v", err)
					continue
				}
				for _, e := range evs {
					writeSSE(c.Writer, fmt.Sprint(e.ID), "job", eventRow(e))
					lastSeen = e.ID
				}
				if len(evs) > 0 {
					c.Writer.Flush()
				}
			}
		}
	}
}

// resumeFrom picks the event id to stream after.
func resumeFrom(db *gorm.DB, lastEventID string) (uint, error) {
	var id uint
	if lastEventID != "" {
		if _, err := fmt.Sscan(lastEventID, &id); err == nil {
			return id, nil
		}
	}
	return history.LastEventID(db)
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, id, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	if id != "" {
		fmt.Fprintf(w, "id: %s\n", id)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
}
