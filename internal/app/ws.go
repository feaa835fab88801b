package app

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"corkboard/api/internal/identity"
	"corkboard/api/internal/session"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsPongWait   = 2 * wsPingPeriod
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsMessage is the envelope of every server-to-client frame.
type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// wsCommand is a client-to-server frame. The board stream understands
// "approveAll", which approves everything pending in the session's view.
type wsCommand struct {
	Type string `json:"type"`
}

const wsCommandApproveAll = "approveAll"

// serveBoardWS opens a Board Session for the connection and streams each
// rebuilt view until either side goes away.
func (s *HTTPServer) serveBoardWS(c *gin.Context) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	boardID := c.Param("boardID")

	sess, err := s.service.OpenSession(ctx, boardID)
	if err != nil {
		respondError(c, err)
		return
	}
	defer sess.Close()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("board_id", boardID), zap.Error(err))
		return
	}
	defer conn.Close()

	u, _ := identity.FromContext(ctx)
	log := s.logger.With(zap.String("board_id", boardID), zap.String("uid", u.UID))
	log.Info("board stream connected", zap.String("client_ip", c.ClientIP()))

	commands, closed := readCommands(conn)
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			log.Info("board stream disconnected")
			return
		case cmd := <-commands:
			if err := writeFrame(conn, s.runCommand(ctx, sess, cmd)); err != nil {
				log.Warn("board stream write failed", zap.Error(err))
				return
			}
		case view, ok := <-sess.Updates():
			if !ok {
				return
			}
			if err := writeFrame(conn, wsMessage{Type: "view", Data: VisibleTo(view, u.UID)}); err != nil {
				log.Warn("board stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// serveDirectoryWS streams the signed-in user's boards and folders.
func (s *HTTPServer) serveDirectoryWS(c *gin.Context) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	u, ok := identity.FromContext(ctx)
	if !ok {
		writeError(c, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil)
		return
	}
	updates, err := s.service.SubscribeDirectory(ctx, u.UID)
	if err != nil {
		respondError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("uid", u.UID), zap.Error(err))
		return
	}
	defer conn.Close()

	_, closed := readCommands(conn)
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case dir, ok := <-updates:
			if !ok {
				return
			}
			if err := writeFrame(conn, wsMessage{Type: "directory", Data: dir}); err != nil {
				s.logger.Warn("directory stream write failed", zap.String("uid", u.UID), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// runCommand executes one client command against the open session and
// returns the reply frame.
func (s *HTTPServer) runCommand(ctx context.Context, sess *session.Session, cmd wsCommand) wsMessage {
	switch cmd.Type {
	case wsCommandApproveAll:
		if err := s.service.ApproveLoaded(ctx, sess); err != nil {
			return errorFrame(err)
		}
		return wsMessage{Type: "approved", Data: gin.H{"ok": true}}
	}
	return errorFrame(invalidInput("unknown command", map[string]any{"type": cmd.Type}))
}

func errorFrame(err error) wsMessage {
	_, code, message, details := mapError(err)
	data := gin.H{"code": code, "error": message}
	if details != nil {
		data["details"] = details
	}
	return wsMessage{Type: "error", Data: data}
}

// readCommands reads client frames until the connection ends, which closes
// the second channel. Pongs extend the read deadline; frames that are not a
// command are ignored, and commands arriving while the buffer is full are
// dropped.
func readCommands(conn *websocket.Conn) (<-chan wsCommand, <-chan struct{}) {
	commands := make(chan wsCommand, 8)
	closed := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cmd wsCommand
			if json.Unmarshal(data, &cmd) != nil || cmd.Type == "" {
				continue
			}
			select {
			case commands <- cmd:
			default:
			}
		}
	}()
	return commands, closed
}

func writeFrame(conn *websocket.Conn, msg wsMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(msg)
}
