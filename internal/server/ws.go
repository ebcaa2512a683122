package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/ragserve/internal/models"
	"github.com/raphaelgruber/ragserve/internal/stream"
)

// wsWriteTimeout bounds a single websocket frame write.
const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // local frontend runs on a different port
	},
}

// wsSink adapts a websocket connection to the stream sink. Frames are sent
// as JSON-encoded stream events.
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) send(ev stream.Event) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteJSON(ev)
}

func (s *wsSink) Sources(sources []models.Source) error {
	if sources == nil {
		sources = []models.Source{}
	}
	return s.send(stream.Event{Type: stream.EventSources, Sources: sources})
}

func (s *wsSink) Delta(text string) error {
	return s.send(stream.Event{Type: stream.EventData, Delta: text})
}

func (s *wsSink) Done() error {
	return s.send(stream.Event{Type: stream.EventDone})
}

func (s *wsSink) Error(message string) error {
	return s.send(stream.Event{Type: stream.EventError, Message: message})
}

// handleChatWS streams chat answers over a websocket. Each client message is
// a ChatRequest; each answer is a sequence of stream events ending in done
// or error.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if _, ok := s.agentOr404(w, r, agentID); !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "agent_id", agentID, "error", err)
		return
	}
	defer conn.Close()

	log := s.logger.With("agent_id", agentID, "remote", conn.RemoteAddr().String())
	log.Debug("websocket chat opened")

	sink := &wsSink{conn: conn}
	conversationID := ""

	for {
		var req ChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("websocket read failed", "error", err)
			}
			return
		}
		if req.Query == "" {
			if err := sink.Error("query must not be empty"); err != nil {
				return
			}
			continue
		}

		// The connection stays on one conversation unless the client picks
		// another.
		if req.ConversationID != "" {
			conversationID = req.ConversationID
		}

		convID, err := s.chat.ChatStream(r.Context(), agentID, conversationID, req.Query, req.TopK, sink)
		if err != nil {
			log.Error("websocket chat failed", "error", err)
			if err := sink.Error(err.Error()); err != nil {
				return
			}
			continue
		}
		conversationID = convID
	}
}
