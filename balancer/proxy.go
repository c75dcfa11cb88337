package balancer

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"arcade-server/config"
	"arcade-server/events"
	"arcade-server/protocol"
	"arcade-server/throttle"

	"github.com/gorilla/websocket"
)

const (
	writeWait     = 10 * time.Second
	inboundBuffer = 32 // Client frames read ahead of the backend dial
)

// Intent headers, read when the query string carries none.
const (
	HeaderRoomAction = "X-Room-Action"
	HeaderRoomID     = "X-Room-Id"
)

// ProxyConfig tunes the relay.
type ProxyConfig struct {
	InputRate    float64
	InputBurst   int
	JoinTimeout  time.Duration // How long a join waits for its session to be created
	HelloTimeout time.Duration // How long to wait for a hello frame when no intent was given
	DialTimeout  time.Duration
}

// Proxy terminates client WebSocket connections, picks a backend and relays
// frames both ways until either side closes.
type Proxy struct {
	pool      *Pool
	cfg       ProxyConfig
	upgrader  websocket.Upgrader
	dialer    *websocket.Dialer
	publisher events.Publisher
	logger    *slog.Logger
}

// NewProxy creates a proxy over pool.
func NewProxy(pool *Pool, cfg ProxyConfig, publisher events.Publisher, logger *slog.Logger) *Proxy {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = config.BackendDialTimeout
	}
	return &Proxy{
		pool: pool,
		cfg:  cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		},
		publisher: publisher,
		logger:    logger,
	}
}

// inbound is one frame read from the client.
type inbound struct {
	kind int
	data []byte
}

// clientConn serialises writes to the client socket, which both relay
// directions and the proxy itself perform.
type clientConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
	in   chan inbound // Closed when the client read loop ends
}

func (c *clientConn) write(kind int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(kind, data)
}

// fail sends an error frame and closes the connection.
func (c *clientConn) fail(msg string) {
	c.write(websocket.TextMessage, protocol.Encode(protocol.NewError(msg)))
	c.shutdown()
}

// shutdown closes the socket and drains unread frames so the read loop exits.
func (c *clientConn) shutdown() {
	c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.conn.Close()
	go func() {
		for range c.in {
		}
	}()
}

// readLoop feeds client frames into c.in until the client goes away.
func (c *clientConn) readLoop() {
	defer close(c.in)
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.in <- inbound{kind: kind, data: data}
	}
}

// ServeHTTP handles one client connection.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	intent, token, err := intentFromRequest(r)
	if err != nil {
		p.logger.Info("rejecting connection", "remote", r.RemoteAddr, "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	client := &clientConn{conn: conn, in: make(chan inbound, inboundBuffer)}
	go client.readLoop()

	ctx := r.Context()
	var replay *inbound
	if intent == protocol.IntentNone {
		intent, token, replay = p.peekHello(client)
	}

	lease, err := p.route(ctx, intent, token)
	if err != nil {
		p.logDecision(token, intent, "rejected", "", err)
		client.fail(rejectionMessage(err))
		return
	}
	b := lease.Backend
	p.logDecision(token, intent, decisionFor(lease), b.URL, nil)

	backend, err := p.dial(ctx, b, intent, token)
	if err != nil {
		p.pool.OnFailure(b)
		p.pool.Abort(ctx, lease)
		p.logger.Warn("backend dial failed", "token", token, "backend", b.URL, "error", err)
		p.publisher.Publish(events.SubjectBackendFailure, map[string]string{
			"backend": b.URL, "token": token, "reason": "dial",
		})
		client.fail(protocol.MsgBackendDown)
		return
	}
	p.pool.OnSuccess(b)

	p.relay(client, backend, b, token, replay)
	p.pool.Release(lease)
}

// peekHello waits briefly for a hello frame. A non-hello first frame is
// returned for replay to the backend.
func (p *Proxy) peekHello(client *clientConn) (protocol.Intent, string, *inbound) {
	timer := time.NewTimer(p.cfg.HelloTimeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		return protocol.IntentNone, "", nil
	case msg, ok := <-client.in:
		if !ok {
			return protocol.IntentNone, "", nil
		}
		hello, err := protocol.DecodeHello(msg.data)
		if err != nil {
			if !errors.Is(err, protocol.ErrNotHello) {
				p.logger.Debug("ignoring invalid hello", "error", err)
			}
			return protocol.IntentNone, "", &msg
		}
		return hello.Action, hello.Room, nil
	}
}

// route picks a backend for intent. A join for an unmapped token waits for
// its creator up to JoinTimeout.
func (p *Proxy) route(ctx context.Context, intent protocol.Intent, token string) (*Lease, error) {
	switch intent {
	case protocol.IntentCreate:
		return p.pool.PickForToken(ctx, token, true)
	case protocol.IntentJoin:
		lease, err := p.pool.PickForToken(ctx, token, false)
		if !errors.Is(err, ErrSessionNotFound) || p.cfg.JoinTimeout <= 0 {
			return lease, err
		}
		waitCtx, cancel := context.WithTimeout(ctx, p.cfg.JoinTimeout)
		defer cancel()
		if err := p.pool.AwaitSession(waitCtx, token); err != nil {
			return nil, ErrSessionNotFound
		}
		return p.pool.PickForToken(ctx, token, false)
	default:
		return p.pool.Pick()
	}
}

// dial connects to b, forwarding the routing intent in the query string.
func (p *Proxy) dial(ctx context.Context, b *Backend, intent protocol.Intent, token string) (*websocket.Conn, error) {
	target, err := url.Parse(b.URL)
	if err != nil {
		return nil, err
	}
	if intent != protocol.IntentNone {
		q := target.Query()
		q.Set("action", string(intent))
		q.Set("room", token)
		target.RawQuery = q.Encode()
	}
	conn, _, err := p.dialer.DialContext(ctx, target.String(), nil)
	return conn, err
}

// relay copies frames both ways until either side ends. Client input is
// throttled; excess frames are dropped with an occasional advisory.
func (p *Proxy) relay(client *clientConn, backend *websocket.Conn, b *Backend, token string, replay *inbound) {
	var backendMu sync.Mutex
	toBackend := func(msg inbound) error {
		backendMu.Lock()
		defer backendMu.Unlock()
		backend.SetWriteDeadline(time.Now().Add(writeWait))
		return backend.WriteMessage(msg.kind, msg.data)
	}

	done := make(chan struct{})
	var once sync.Once
	backendFirst := false // Which side ended the relay; read only after done
	finish := func(fromBackend bool) {
		once.Do(func() {
			backendFirst = fromBackend
			close(done)
		})
	}

	var wg sync.WaitGroup
	wg.Add(2)

	// client -> backend
	go func() {
		defer wg.Done()
		limiter := throttle.New(p.cfg.InputRate, p.cfg.InputBurst)
		if replay != nil {
			limiter.Offer(time.Now())
			if err := toBackend(*replay); err != nil {
				finish(false)
				return
			}
		}
		for {
			select {
			case <-done:
				return
			case msg, ok := <-client.in:
				if !ok {
					finish(false)
					return
				}
				switch limiter.Offer(time.Now()) {
				case throttle.Drop:
					continue
				case throttle.Advise:
					client.write(websocket.TextMessage, protocol.Encode(protocol.NewRateLimit()))
					continue
				}
				if err := toBackend(msg); err != nil {
					finish(false)
					return
				}
			}
		}
	}()

	// backend -> client
	var backendErr error
	go func() {
		defer wg.Done()
		for {
			kind, data, err := backend.ReadMessage()
			if err != nil {
				backendErr = err
				finish(true)
				return
			}
			if err := client.write(kind, data); err != nil {
				finish(false)
				return
			}
		}
	}()

	<-done
	if backendFirst && !cleanClose(backendErr) {
		p.pool.OnFailure(b)
		p.logger.Warn("backend connection lost", "token", token, "backend", b.URL, "error", backendErr)
		p.publisher.Publish(events.SubjectBackendFailure, map[string]string{
			"backend": b.URL, "token": token, "reason": "disconnect",
		})
		client.fail(protocol.MsgBackendLost)
	} else {
		client.shutdown()
	}

	backendMu.Lock()
	backend.SetWriteDeadline(time.Now().Add(writeWait))
	backend.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	backendMu.Unlock()
	backend.Close()
	wg.Wait()
}

// cleanClose reports whether err is a normal close handshake.
func cleanClose(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce) && (ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway)
}

func (p *Proxy) logDecision(token string, intent protocol.Intent, decision, backend string, err error) {
	attrs := []any{"token", token, "intent", string(intent), "decision", decision, "backend", backend}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	p.logger.Info("route", attrs...)

	pub := map[string]string{"token": token, "intent": string(intent), "decision": decision, "backend": backend}
	if err != nil {
		pub["error"] = err.Error()
	}
	p.publisher.Publish(events.SubjectRoute, pub)
}

func decisionFor(l *Lease) string {
	switch {
	case l.Token == "":
		return "least_loaded"
	case l.Created:
		return "new_session"
	default:
		return "sticky"
	}
}

func rejectionMessage(err error) string {
	switch {
	case errors.Is(err, ErrOverloaded):
		return protocol.MsgBusy
	case errors.Is(err, ErrSessionNotFound):
		return protocol.MsgSessionNotFound
	default:
		return protocol.MsgNoBackend
	}
}

func intentFromRequest(r *http.Request) (protocol.Intent, string, error) {
	q := r.URL.Query()
	action, room := q.Get("action"), q.Get("room")
	if action == "" && room == "" {
		action, room = r.Header.Get(HeaderRoomAction), r.Header.Get(HeaderRoomID)
	}
	return protocol.ParseIntent(action, room)
}
