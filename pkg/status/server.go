// Package status serves the operator channel: a websocket that broadcasts
// machine status events and accepts command lines.
//
// Clients send either a plain command line ("HOME") or a JSON-RPC request
// {"method":"command","params":{"line":"HOME"},"id":1}. Commands are posted
// to the reactor goroutine and executed there; a JSON-RPC request is
// answered once its command has finished.
package status

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"gantry-go/pkg/errors"
	"gantry-go/pkg/log"
	"gantry-go/pkg/machine"
)

const (
	sendBuffer   = 64
	readLimit    = 64 * 1024
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// Executor runs one command line on the reactor goroutine.
type Executor interface {
	Execute(line string) error
}

// Poster queues fn on the reactor goroutine. reactor.Reactor's
// RegisterAsyncCallback has this shape.
type Poster func(fn func(eventtime float64)) error

// Config holds server configuration.
type Config struct {
	Addr string
	Exec Executor
	Post Poster
}

// Server is the websocket status server. It implements machine.Notifier.
type Server struct {
	exec Executor
	post Poster
	addr string
	log  *log.Logger

	upgrader websocket.Upgrader
	clients  map[int64]*client
	mu       sync.RWMutex
	nextID   int64

	httpServer *http.Server
	listener   net.Listener
	running    atomic.Bool
	startTime  time.Time

	// quit is closed by Stop and releases commands the reactor never ran.
	quit     chan struct{}
	quitOnce sync.Once
}

// New creates a server.
func New(cfg Config) *Server {
	return &Server{
		exec:    cfg.Exec,
		post:    cfg.Post,
		addr:    cfg.Addr,
		log:     log.GetLogger("status"),
		clients: make(map[int64]*client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		startTime: time.Now(),
		quit:      make(chan struct{}),
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/jsonrpc", s.handleJSONRPC)
	return mux
}

// Start listens and serves until Stop. It returns once the listener is open.
func (s *Server) Start() error {
	if s.running.Load() {
		return errors.New(errors.ErrRuntime, "status server already running")
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.IOError("status "+s.addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: writeWait}
	s.running.Store(true)
	s.log.Info("status server listening on %s", ln.Addr())
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("status server stopped")
		}
		s.running.Store(false)
	}()
	return nil
}

// Addr returns the listening address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop closes every client and the listener. Commands still waiting for the
// reactor fail.
func (s *Server) Stop(ctx context.Context) error {
	s.quitOnce.Do(func() { close(s.quit) })
	s.mu.Lock()
	for _, c := range s.clients {
		c.close()
	}
	s.clients = make(map[int64]*client)
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	s.running.Store(false)
	return s.httpServer.Shutdown(ctx)
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Notify broadcasts ev to every client without blocking.
func (s *Server) Notify(ev machine.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		c.send(ev)
	}
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id,omitempty"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
	ID      any       `json:"id,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// Reply is sent to a client whose plain command line failed. Failures raised
// by the machine are also broadcast; parse failures reach only the sender.
type Reply struct {
	Status  machine.Status `json:"status"`
	Message string         `json:"message"`
	Code    string         `json:"code,omitempty"`
}

const (
	codeParse          = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeCommandFailed  = -32000
)

func failure(id any, code int, err error) rpcResponse {
	e := &rpcError{Code: code, Message: err.Error()}
	if he, ok := errors.As(err); ok {
		e.Message = errors.Reason(he)
		e.Data = string(he.Code)
	}
	return rpcResponse{JSONRPC: "2.0", Error: e, ID: id}
}

// run posts line to the reactor and waits for its result, or for Stop.
func (s *Server) run(line string) error {
	if s.exec == nil || s.post == nil {
		return errors.HardwareUnavailable("command executor")
	}
	done := make(chan error, 1)
	if err := s.post(func(float64) { done <- s.exec.Execute(line) }); err != nil {
		return errors.Wrap(err, errors.ErrRuntime, "post command")
	}
	select {
	case err := <-done:
		return err
	case <-s.quit:
		return errors.New(errors.ErrRuntime, "status server stopped before the command ran")
	}
}

// call handles one JSON-RPC request.
func (s *Server) call(req rpcRequest) rpcResponse {
	switch req.Method {
	case "command":
		var p struct {
			Line string `json:"line"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil || strings.TrimSpace(p.Line) == "" {
			return failure(req.ID, codeInvalidParams, errors.InvalidParameter("line", "missing command line"))
		}
		if err := s.run(p.Line); err != nil {
			return failure(req.ID, codeCommandFailed, err)
		}
		return rpcResponse{JSONRPC: "2.0", Result: "ok", ID: req.ID}
	case "server.info":
		return rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{
			"clients": s.ClientCount(),
			"uptime":  time.Since(s.startTime).Seconds(),
		}}
	}
	return failure(req.ID, codeMethodNotFound, errors.Newf(errors.ErrUnknownCommand, "method not found: %s", req.Method))
}

func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req rpcRequest
	var resp rpcResponse
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp = failure(nil, codeParse, errors.Wrap(err, errors.ErrCommandParse, "decode request"))
	} else {
		resp = s.call(req)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	c := &client{
		id:     atomic.AddInt64(&s.nextID, 1),
		conn:   conn,
		server: s,
		sendCh: make(chan any, sendBuffer),
		done:   make(chan struct{}),
	}
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.log.WithField("client", c.id).Info("connected")

	go c.writePump()
	c.readPump()
}

func (s *Server) remove(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	s.log.WithField("client", c.id).Info("disconnected")
}

// client is one websocket connection.
type client struct {
	id     int64
	conn   *websocket.Conn
	server *Server
	sendCh chan any
	done   chan struct{}
	once   sync.Once
}

// send queues msg, dropping it when the client is not keeping up.
func (c *client) send(msg any) {
	select {
	case c.sendCh <- msg:
	case <-c.done:
	default:
		c.server.log.WithField("client", c.id).Warn("send buffer full, dropping message")
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *client) readPump() {
	defer func() {
		c.server.remove(c)
		c.close()
	}()
	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.log.WithField("client", c.id).WithError(err).Warn("read failed")
			}
			return
		}
		// Commands block until the reactor has run them; reading continues
		// so that STOP is never stuck behind a long move.
		go c.handle(data)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.server.log.WithField("client", c.id).WithError(err).Warn("write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) handle(data []byte) {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return
	}
	if strings.HasPrefix(text, "{") {
		var req rpcRequest
		if err := json.Unmarshal(data, &req); err != nil {
			c.send(failure(nil, codeParse, errors.Wrap(err, errors.ErrCommandParse, "decode request")))
			return
		}
		c.send(c.server.call(req))
		return
	}
	if err := c.server.run(text); err != nil {
		c.send(Reply{Status: machine.StatusError, Message: errors.Reason(err), Code: string(errors.CodeOf(err))})
	}
}
