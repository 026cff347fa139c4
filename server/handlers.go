package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/nedpals/davi-felica-agent/buildinfo"
	"github.com/nedpals/davi-felica-agent/idcard"
	"github.com/nedpals/davi-felica-agent/session"
)

// Status is the agent summary served by /api/v1/health and the status message.
type Status struct {
	Status    string `json:"status"`
	Name      string `json:"name"`
	Version   string `json:"version"`
	Reader    string `json:"reader,omitempty"`
	Clients   int    `json:"clients"`
	Timestamp string `json:"timestamp"`
}

// EventPayload is the payload of a broadcast session event.
type EventPayload struct {
	Time    time.Time             `json:"time"`
	TagID   string                `json:"tag_id,omitempty"`
	TagType string                `json:"tag_type,omitempty"`
	Record  *idcard.StudentRecord `json:"record,omitempty"`
	Failure *session.Failure      `json:"failure,omitempty"`
}

func eventMessage(ev session.Event) WebsocketMessage {
	return WebsocketMessage{
		ID:   ev.ID,
		Type: string(ev.Type),
		Payload: EventPayload{
			Time:    ev.Time,
			TagID:   ev.TagID,
			TagType: ev.TagType,
			Record:  ev.Record,
			Failure: ev.Failure,
		},
	}
}

func (s *Server) status() Status {
	return Status{
		Status:    "ok",
		Name:      buildinfo.Name,
		Version:   buildinfo.FullVersion(),
		Reader:    s.config.Reader,
		Clients:   s.clients.Count(),
		Timestamp: s.now().Format(time.RFC3339),
	}
}

// registerHandlers sets up the websocket request handlers.
func (s *Server) registerHandlers() {
	s.handlers.Handle(WSMessageTypeGetStatus, s.handleGetStatus)
	s.handlers.Handle(WSMessageTypeGetLastRead, s.handleGetLastRead)
}

func (s *Server) handleGetStatus(ctx context.Context, c *Client, req WebsocketRequest) error {
	return SendResponse(c, req, s.status())
}

func (s *Server) handleGetLastRead(ctx context.Context, c *Client, req WebsocketRequest) error {
	ev, ok := s.LastRead()
	if !ok {
		return SendErrorResponse(c, req.ID, "NO_READ", "no card has been read yet")
	}
	return SendResponse(c, req, eventMessage(ev))
}

// handleHealthCheck provides a health check endpoint (GET /api/v1/health)
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

// handleLastRead serves the most recent successful read (GET /api/v1/last-read)
func (s *Server) handleLastRead(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.LastRead()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no card has been read yet",
		})
		return
	}
	writeJSON(w, http.StatusOK, eventMessage(ev))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
