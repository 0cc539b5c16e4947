package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/lapseforge/lapseforge/internal/catalog"
	"github.com/lapseforge/lapseforge/internal/export"
)

const (
	eventsWriteWait  = 5 * time.Second
	eventsPongWait   = 60 * time.Second
	eventsPingPeriod = eventsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || isAllowedOrigin(origin)
	},
}

// JobEvent is one websocket message. Status carries live progress from the
// hub; Job is sent first and last with the persisted record.
type JobEvent struct {
	Type   string         `json:"type"`
	Job    *JobResponse   `json:"job,omitempty"`
	Status *export.Status `json:"status,omitempty"`
}

// jobEventsHandler streams status updates for one job until it reaches a
// terminal state or the client goes away.
func jobEventsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := chi.URLParam(r, "id")

		job, err := cfg.CatalogService.GetJob(ctx, id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if cfg.Hub == nil {
			WriteError(w, http.StatusServiceUnavailable, "status stream not available", "UNAVAILABLE")
			return
		}

		// Subscribe before upgrading so no update between the snapshot and
		// the loop is lost.
		updates, unsubscribe := cfg.Hub.Subscribe(id)
		defer unsubscribe()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			cfg.Logger.Warn("websocket upgrade failed", "job_id", id, "error", err)
			return
		}
		defer conn.Close()

		send := func(ev JobEvent) error {
			conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			return conn.WriteJSON(ev)
		}

		resp := JobToResponse(job)
		if err := send(JobEvent{Type: "job", Job: &resp}); err != nil {
			return
		}
		if job.Finished() {
			closeEvents(conn, "job finished")
			return
		}
		if s, ok := cfg.Hub.Snapshot(id); ok {
			if err := send(JobEvent{Type: "status", Status: &s}); err != nil {
				return
			}
			if s.State.Terminal() {
				sendFinalJob(cfg, r, id, send)
				closeEvents(conn, "job finished")
				return
			}
		}

		gone := make(chan struct{})
		go func() {
			defer close(gone)
			conn.SetReadDeadline(time.Now().Add(eventsPongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(eventsPongWait))
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(eventsPingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-gone:
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case s, ok := <-updates:
				if !ok {
					closeEvents(conn, "shutting down")
					return
				}
				if err := send(JobEvent{Type: "status", Status: &s}); err != nil {
					return
				}
				if s.State.Terminal() {
					sendFinalJob(cfg, r, id, send)
					closeEvents(conn, "job finished")
					return
				}
			}
		}
	}
}

// sendFinalJob reports the persisted record once the runner has written the
// terminal status. The hub turns terminal slightly before the database does.
func sendFinalJob(cfg ServerConfig, r *http.Request, id string, send func(JobEvent) error) {
	var job *catalog.Job
	for i := 0; i < 20; i++ {
		j, err := cfg.CatalogService.GetJob(r.Context(), id)
		if err != nil {
			return
		}
		job = j
		if j.Finished() {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	resp := JobToResponse(job)
	send(JobEvent{Type: "job", Job: &resp})
}

func closeEvents(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(eventsWriteWait))
}
