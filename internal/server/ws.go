package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"example.com/isogate/internal/common"
)

const wsSource = "ws"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// streamReply answers one frame. Seq counts frames on the connection from 1.
type streamReply struct {
	Seq int `json:"seq"`
	*Result
	*ErrorResponse
}

// handleStream decodes every text or binary frame as one message and
// answers each with a JSON frame, for terminals that keep a session open.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		common.Logf("[ws] upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(s.maxMessage)
	remote := r.RemoteAddr
	common.Logf("[ws] session from %s", remote)

	seq := 0
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, websocket.ErrReadLimit) {
				common.Logf("[ws] read from %s: %v", remote, err)
			}
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		seq++
		reply := streamReply{Seq: seq}
		res, err := s.processor.Process(wsSource, remote, strings.TrimSpace(string(data)))
		if err != nil {
			resp := newParseErrorResponse(err)
			reply.ErrorResponse = &resp
		} else {
			reply.Result = res
		}
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(reply); err != nil {
			common.Logf("[ws] write to %s: %v", remote, err)
			return
		}
	}
}
