// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hotswap/internal/log"
)

const writeWait = time.Second

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex // gorilla allows one concurrent writer
}

func (c *wsClient) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// WebSocketServer broadcasts status events to every client on /ws and
// dispatches the commands they send to a Controller.
type WebSocketServer struct {
	addr       string
	controller Controller
	upgrader   websocket.Upgrader
	mux        *http.ServeMux

	clients   map[*wsClient]bool
	clientsMu sync.Mutex
	broadcast chan any
	done      chan struct{}
	closeOnce sync.Once

	server   *http.Server
	listener net.Listener
}

// NewWebSocketServer creates a server for addr. A nil controller makes it
// read-only: commands are answered with an error.
func NewWebSocketServer(addr string, controller Controller) *WebSocketServer {
	s := &WebSocketServer{
		addr:       addr,
		controller: controller,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // local tooling connects from arbitrary origins
			},
		},
		clients:   make(map[*wsClient]bool),
		broadcast: make(chan any, 256),
		done:      make(chan struct{}),
	}
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/ws", s.handleWebSocket)

	go s.handleBroadcasts()
	return s
}

// Handler serves /ws. Start uses it; tests can mount it directly.
func (s *WebSocketServer) Handler() http.Handler { return s.mux }

// Start listens on the configured address and serves in the background.
func (s *WebSocketServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.server = &http.Server{Handler: s.mux}

	go func() {
		log.Infof("WebSocketServer: listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("WebSocketServer: server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *WebSocketServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *WebSocketServer) ClientCount() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

func (s *WebSocketServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("WebSocketServer: upgrade error: %v", err)
		return
	}
	c := &wsClient{conn: conn}

	s.clientsMu.Lock()
	s.clients[c] = true
	n := len(s.clients)
	s.clientsMu.Unlock()
	log.Infof("WebSocketServer: client connected, total: %d", n)

	go s.readLoop(c)
}

func (s *WebSocketServer) readLoop(c *wsClient) {
	defer s.drop(c)
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugf("WebSocketServer: read error: %v", err)
			}
			return
		}
		var cmd Command
		if err = json.Unmarshal(msg, &cmd); err == nil {
			err = Dispatch(s.controller, cmd)
		}
		if err != nil {
			log.Warnf("WebSocketServer: %s command failed: %v", cmd.Type, err)
		}
		if werr := c.writeJSON(replyFor(cmd, err)); werr != nil {
			return
		}
	}
}

func (s *WebSocketServer) drop(c *wsClient) {
	s.clientsMu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	n := len(s.clients)
	s.clientsMu.Unlock()
	c.conn.Close()
	if ok {
		log.Infof("WebSocketServer: client disconnected, total: %d", n)
	}
}

func (s *WebSocketServer) handleBroadcasts() {
	for {
		select {
		case data := <-s.broadcast:
			s.clientsMu.Lock()
			clients := make([]*wsClient, 0, len(s.clients))
			for c := range s.clients {
				clients = append(clients, c)
			}
			s.clientsMu.Unlock()

			for _, c := range clients {
				if err := c.writeJSON(data); err != nil {
					log.Debugf("WebSocketServer: error sending to client: %v", err)
					s.drop(c)
				}
			}
		case <-s.done:
			return
		}
	}
}

// Send queues data for every client. It never blocks; when the queue is
// full the event is dropped.
func (s *WebSocketServer) Send(data any) error {
	select {
	case <-s.done:
		return errors.New("websocket server closed")
	default:
	}
	select {
	case s.broadcast <- data:
	default:
	}
	return nil
}

// Close disconnects every client and shuts the server down.
func (s *WebSocketServer) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)

		s.clientsMu.Lock()
		for c := range s.clients {
			c.conn.Close()
		}
		s.clients = make(map[*wsClient]bool)
		s.clientsMu.Unlock()

		if s.server != nil {
			err = s.server.Close()
		}
	})
	return err
}

var _ Transport = (*WebSocketServer)(nil)
