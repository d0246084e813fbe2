// Package wsserver exposes the broadcast stream over a websocket endpoint.
// Subscribers connect to /ws and receive one JSON envelope per broadcast
// tick; anything they send is discarded and only serves to detect
// disconnects.
package wsserver

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gpumon/gpumon/internal/monitor"
)

// Registry is where new connections are attached; in practice the
// broadcast coordinator.
type Registry interface {
	Attach(sub monitor.Subscriber)
	Detach(id string)
}

type Server struct {
	l         *zap.SugaredLogger
	registry  Registry
	queueSize int
	upgrader  websocket.Upgrader
}

func New(l *zap.SugaredLogger, registry Registry, queueSize int) *Server {
	if queueSize < 1 {
		queueSize = 8
	}
	return &Server{
		l:         l,
		registry:  registry,
		queueSize: queueSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// No authentication or origin policy at this layer.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP handler serving the /ws endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.l.Errorw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newClient(conn, s.queueSize)
	s.l.Infow("websocket client connected", "subscriber", c.ID(), "remote", r.RemoteAddr)

	go c.writeLoop(s.l)
	go c.readLoop(func() {
		s.l.Infow("websocket client disconnected", "subscriber", c.ID())
		s.registry.Detach(c.ID())
	})

	s.registry.Attach(c)
}
