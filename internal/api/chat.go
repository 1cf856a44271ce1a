package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"

	"github.com/MrWong99/replica/internal/observe"
)

// handleChat upgrades to a websocket. The greeting is sent right away; every
// text frame received is pushed as a phrase and answered with one text frame
// per reply. Closing the socket does not end the conversation.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	log := observe.Logger(r.Context()).With("user_id", user)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		log.Debug("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(s.maxBody)

	ctx := r.Context()
	if err := s.conv.StartConversation(ctx, user); err != nil {
		log.Warn("websocket start failed", "err", err)
		conn.Close(websocket.StatusPolicyViolation, "cannot start conversation")
		return
	}
	if err := s.flush(ctx, conn, user); err != nil {
		return
	}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if !errors.Is(err, context.Canceled) {
					log.Debug("websocket read failed", "err", err)
				}
			}
			return
		}
		if typ != websocket.MessageText {
			conn.Close(websocket.StatusUnsupportedData, "text frames only")
			return
		}
		if err := s.conv.PushPhrase(ctx, user, string(data)); err != nil {
			log.Error("websocket push failed", "err", err)
			conn.Close(websocket.StatusInternalError, "internal error")
			return
		}
		if err := s.flush(ctx, conn, user); err != nil {
			return
		}
	}
}

func (s *Server) flush(ctx context.Context, conn *websocket.Conn, user string) error {
	for _, reply := range s.conv.Drain(user) {
		if err := conn.Write(ctx, websocket.MessageText, []byte(reply)); err != nil {
			return err
		}
	}
	return nil
}
