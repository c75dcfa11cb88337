package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"arcade-server/protocol"
	"arcade-server/throttle"

	"github.com/google/uuid"
	"github.com/gorilla/websocket" // Gorilla WebSocket library for plain WebSockets
)

// Headers carrying routing intent when the query string does not.
const (
	HeaderRoomAction = "X-Room-Action"
	HeaderRoomID     = "X-Room-Id"
)

// Options tunes per-connection behaviour.
type Options struct {
	InputRate   float64       // Input frames per second per connection
	InputBurst  int           // Token bucket size
	JoinTimeout time.Duration // How long a join waits for its room to be created
}

// InstanceServer accepts WebSocket connections and seats them in rooms.
type InstanceServer struct {
	upgrader     websocket.Upgrader          // WebSocket upgrader for HTTP requests
	rooms        *RoomManager                // Room registry shared with the API
	opts         Options                     // Per-connection limits
	clients      map[string]*WebSocketClient // Active connections by id
	clientsMutex sync.RWMutex                // Protects clients
	logger       *slog.Logger
}

// NewInstanceServer wires a server to a room registry.
func NewInstanceServer(rooms *RoomManager, opts Options, logger *slog.Logger) *InstanceServer {
	return &InstanceServer{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Browser clients and the balancer connect from anywhere
			},
		},
		rooms:   rooms,
		opts:    opts,
		clients: make(map[string]*WebSocketClient),
		logger:  logger,
	}
}

// Rooms returns the registry this server seats players in.
func (s *InstanceServer) Rooms() *RoomManager { return s.rooms }

// HandleConnections upgrades the request, places the connection in a room
// according to its intent and starts the pumps.
func (s *InstanceServer) HandleConnections(w http.ResponseWriter, r *http.Request) {
	intent, token, err := intentFromRequest(r)
	if err != nil {
		s.logger.Info("rejecting connection", "remote", r.RemoteAddr, "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	id := uuid.NewString()
	client := NewWebSocketClient(conn, id, throttle.New(s.opts.InputRate, s.opts.InputBurst), s.logger)
	s.clientsMutex.Lock()
	s.clients[id] = client
	s.clientsMutex.Unlock()

	go client.WritePump()

	roomID, err := s.place(r.Context(), client, intent, token)
	if err != nil {
		s.logger.Info("room assignment failed",
			"client", id, "intent", string(intent), "token", token, "error", err)
		client.Send(protocol.Encode(protocol.NewError(assignmentMessage(err))))
		s.forget(client)
		client.Close()
		return
	}

	if err := client.Send(protocol.Encode(protocol.NewRoomAssignment(roomID))); err != nil {
		s.unregisterClient(client)
		client.Close()
		return
	}
	client.MarkReady()
	s.logger.Info("client assigned", "client", id, "room", roomID, "intent", string(intent), "remote", r.RemoteAddr)

	go client.ReadPump(s)
}

// place seats c according to intent. A join for a room that does not exist
// yet waits up to JoinTimeout for its creator.
func (s *InstanceServer) place(ctx context.Context, c Conn, intent protocol.Intent, token string) (string, error) {
	switch intent {
	case protocol.IntentCreate:
		return s.rooms.AssignTo(c, token, true)
	case protocol.IntentJoin:
		roomID, err := s.rooms.AssignTo(c, token, false)
		if !errors.Is(err, ErrRoomNotFound) || s.opts.JoinTimeout <= 0 {
			return roomID, err
		}
		waitCtx, cancel := context.WithTimeout(ctx, s.opts.JoinTimeout)
		defer cancel()
		if err := s.rooms.WaitForRoom(waitCtx, token); err != nil {
			return "", ErrRoomNotFound
		}
		return s.rooms.AssignTo(c, token, false)
	default:
		return s.rooms.Assign(c)
	}
}

// unregisterClient releases the client's seat and forgets it.
func (s *InstanceServer) unregisterClient(c *WebSocketClient) {
	s.rooms.Release(c)
	s.forget(c)
}

func (s *InstanceServer) forget(c *WebSocketClient) {
	s.clientsMutex.Lock()
	delete(s.clients, c.ID())
	s.clientsMutex.Unlock()
}

// ConnectedClients returns the number of open connections.
func (s *InstanceServer) ConnectedClients() int {
	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()
	return len(s.clients)
}

// Close disconnects every client.
func (s *InstanceServer) Close() {
	s.clientsMutex.Lock()
	clients := make([]*WebSocketClient, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMutex.Unlock()

	for _, c := range clients {
		c.Close()
	}
}

// intentFromRequest reads routing intent from the query, then the headers.
func intentFromRequest(r *http.Request) (protocol.Intent, string, error) {
	q := r.URL.Query()
	action, room := q.Get("action"), q.Get("room")
	if action == "" && room == "" {
		action, room = r.Header.Get(HeaderRoomAction), r.Header.Get(HeaderRoomID)
	}
	return protocol.ParseIntent(action, room)
}

func assignmentMessage(err error) string {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return protocol.MsgSessionNotFound
	case errors.Is(err, ErrRoomFull):
		return protocol.MsgRoomFull
	default:
		return protocol.MsgAssignFailed
	}
}
