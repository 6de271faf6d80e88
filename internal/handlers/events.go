package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"audiotricks/internal/events"
	"audiotricks/internal/models"
	"audiotricks/internal/storage"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventsHandler streams job progress over websockets
type EventsHandler struct {
	hub  *events.Hub
	repo *storage.JobRepository
}

// NewEventsHandler creates an EventsHandler
func NewEventsHandler(hub *events.Hub, repo *storage.JobRepository) *EventsHandler {
	return &EventsHandler{hub: hub, repo: repo}
}

// Stream sends remembered events for the job, then live ones, and closes the
// connection after the terminal event.
// GET /ws/jobs/:id
func (h *EventsHandler) Stream(c echo.Context) error {
	id := c.Param("id")

	job, err := h.repo.GetByID(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if job == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the error response
		log.Printf("WebSocket upgrade failed for job %s: %v", id, err)
		return nil
	}
	defer conn.Close()

	// subscribe before reading history so nothing falls between the two
	live, cancel := h.hub.Subscribe(id)
	defer cancel()

	var lastSeq int64
	history := h.hub.Since(id, 0)
	if len(history) == 0 {
		// nothing in memory, e.g. after a restart: start from the stored row
		history = []events.Event{snapshot(job)}
	}
	for _, event := range history {
		if err := writeEvent(conn, event); err != nil {
			return nil
		}
		lastSeq = event.Seq
		if event.Terminal() {
			closeNormal(conn)
			return nil
		}
	}

	closed := make(chan struct{})
	go readPump(conn, closed)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return nil

		case event, ok := <-live:
			if !ok {
				return nil
			}
			if event.Seq <= lastSeq {
				continue
			}
			lastSeq = event.Seq
			if err := writeEvent(conn, event); err != nil {
				return nil
			}
			if event.Terminal() {
				closeNormal(conn)
				return nil
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}

// snapshot turns a stored job into the event a late subscriber starts from
func snapshot(job *models.ProcessingJob) events.Event {
	event := events.Event{
		JobID:    job.ID,
		Type:     events.EventTypeStatus,
		Status:   job.Status,
		Progress: job.Progress,
		Step:     job.CurrentStep,
	}
	switch job.Status {
	case models.JobStatusCompleted:
		event.Type = events.EventTypeResult
		event.Progress = 100
	case models.JobStatusFailed:
		event.Type = events.EventTypeError
		event.Message = job.Error
	}
	return event
}

func writeEvent(conn *websocket.Conn, event events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	w, err := conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	return writeMessage(w, data)
}

// writeMessage writes one frame and closes it; a write error takes precedence
func writeMessage(w io.WriteCloser, data []byte) error {
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func closeNormal(conn *websocket.Conn) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
}

// readPump handles pongs and notices when the client goes away
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			return
		}
	}
}
