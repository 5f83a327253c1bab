package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NicolasHaas/gomingle/pkg/protocol"
	pb "github.com/NicolasHaas/gomingle/pkg/protocol/pb"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser clients connect from arbitrary origins; the login handshake is
	// the access control, not the Origin header.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsMsgConn adapts a WebSocket connection to the shared session lifecycle.
// Frames are the same JSON control messages the TCP transport carries,
// without the length prefix (WebSocket frames are already delimited).
type wsMsgConn struct {
	conn *websocket.Conn
}

func (c *wsMsgConn) ReadMessage() (*pb.ControlMessage, error) {
	var msg pb.ControlMessage
	if err := c.conn.ReadJSON(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *wsMsgConn) WriteMessage(msg *pb.ControlMessage) error {
	return c.conn.WriteJSON(msg)
}

func (c *wsMsgConn) SetReadDeadline(t time.Time) error { return c.conn.SetReadDeadline(t) }
func (c *wsMsgConn) Close() error                      { return c.conn.Close() }
func (c *wsMsgConn) RemoteAddr() string                { return c.conn.RemoteAddr().String() }

// StartWS starts the HTTP listener serving WebSocket clients on /ws.
// Browser and mobile clients use this plane; native clients use the TCP
// control plane. Both speak the same protocol through the same coordinator.
func (s *Server) StartWS() {
	addr := s.cfg.WSAddr
	if addr == "" {
		return // WebSocket transport disabled
	}

	s.wsSrv = &http.Server{
		Addr:              addr,
		Handler:           s.wsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("websocket plane listening", "addr", addr)
		if err := s.wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("websocket HTTP error", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = s.wsSrv.Close()
	}()
}

func (s *Server) wsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/up", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(protocol.MaxControlMessage)

	go func() {
		defer func() { _ = conn.Close() }()
		s.serveSession(&wsMsgConn{conn: conn})
	}()
}
