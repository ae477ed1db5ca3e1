package websocket

import (
	"fmt"
	"log"
	"net"
)

// Handlers is the callback table an application installs on a Server, per
// spec.md §3's "mapping from event kind to callback" and §9's decision to
// model it as a struct of optional function fields rather than an
// interface — grounded on the teacher's Hub, which wires individual
// function fields (OnConnect, OnMessage, OnDisconnect) rather than exposing
// a Hub interface for applications to implement.
//
// Every field is optional; a nil field means the engine does nothing for
// that event besides the state transition itself.
type Handlers struct {
	// OnHandshake runs with the raw request headers before the 101 response
	// is sent. Returning false rejects the handshake with 400.
	OnHandshake func(headers map[string]string) bool

	// OnDisconnect fires exactly once per connection that completed the
	// handshake, regardless of which path ended it (spec.md §4.4, §5). A
	// connection whose handshake fails is closed without it.
	OnDisconnect func(c *Client)

	// OnError fires for protocol violations and other runtime errors that
	// are not ordinary peer loss (spec.md §7). A panic raised from inside
	// any other handler is reported here too, with Kind CallbackPanic.
	OnError func(c *Client, info *ErrorInfo)

	OnText   func(c *Client, data []byte)
	OnBinary func(c *Client, data []byte)
	OnClose  func(c *Client)
	OnPing   func(c *Client, payload []byte)
	OnPong   func(c *Client, payload []byte)
}

func (h *Handlers) onHandshake() func(map[string]string) bool {
	if h == nil {
		return nil
	}
	return h.OnHandshake
}

func (h *Handlers) onDisconnect() func(c *Client) {
	if h == nil {
		return nil
	}
	return h.OnDisconnect
}

func (h *Handlers) onError() func(c *Client, info *ErrorInfo) {
	if h == nil {
		return nil
	}
	return h.OnError
}

func (h *Handlers) onText() func(c *Client, data []byte) {
	if h == nil {
		return nil
	}
	return h.OnText
}

func (h *Handlers) onBinary() func(c *Client, data []byte) {
	if h == nil {
		return nil
	}
	return h.OnBinary
}

func (h *Handlers) onClose() func(c *Client) {
	if h == nil {
		return nil
	}
	return h.OnClose
}

func (h *Handlers) onPing() func(c *Client, payload []byte) {
	if h == nil {
		return nil
	}
	return h.OnPing
}

func (h *Handlers) onPong() func(c *Client, payload []byte) {
	if h == nil {
		return nil
	}
	return h.OnPong
}

// Server is the listening shell around the connection engine: it owns the
// bound address, the shared Config, and the Handlers table every accepted
// connection reads from (spec.md §3 "Server state").
//
// Grounded on the teacher's Hub/ServeHTTP split in hub.go, restructured
// from net/http's Handler model into a raw net.Listener accept loop since
// spec.md §4.3 performs its own HTTP/1.1 upgrade parsing rather than
// delegating to net/http.
type Server struct {
	addr string
	port int

	cfg      Config
	handlers Handlers
	logger   *log.Logger
}

// NewServer returns a Server bound to addr:port once Listen is called, with
// DefaultConfig installed.
func NewServer(addr string, port int) *Server {
	return &Server{
		addr:   addr,
		port:   port,
		cfg:    DefaultConfig(),
		logger: log.Default(),
	}
}

// SetConfig replaces the server's Config. Must be called before Listen;
// the connection engine treats Config as read-only once connections start
// (spec.md §5).
func (s *Server) SetConfig(cfg Config) {
	s.cfg = cfg.applyDefaults()
}

// SetLogger installs the logger used for accept-loop diagnostics that have
// no Client to hand to OnError (e.g. a failed Accept itself).
func (s *Server) SetLogger(logger *log.Logger) {
	s.logger = logger
}

func (s *Server) OnHandshake(fn func(headers map[string]string) bool) { s.handlers.OnHandshake = fn }
func (s *Server) OnDisconnect(fn func(c *Client))                     { s.handlers.OnDisconnect = fn }
func (s *Server) OnError(fn func(c *Client, info *ErrorInfo))         { s.handlers.OnError = fn }
func (s *Server) OnText(fn func(c *Client, data []byte))              { s.handlers.OnText = fn }
func (s *Server) OnBinary(fn func(c *Client, data []byte))            { s.handlers.OnBinary = fn }
func (s *Server) OnClose(fn func(c *Client))                          { s.handlers.OnClose = fn }
func (s *Server) OnPing(fn func(c *Client, payload []byte))           { s.handlers.OnPing = fn }
func (s *Server) OnPong(fn func(c *Client, payload []byte))           { s.handlers.OnPong = fn }

// Listen validates the server's Config, binds, and accepts connections
// until the listener is closed or ln.Accept returns another error that
// isBenignReadError classifies as benign; any other Accept error is
// reported through reportAcceptError and the loop continues.
// Each accepted connection is handed its own goroutine running the
// handshake and, on success, the connection engine (spec.md §4.3, §4.4).
func (s *Server) Listen() error {
	if err := s.cfg.validate(); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.addr, s.port))
	if err != nil {
		return fmt.Errorf("websocket: listen: %w", err)
	}
	defer ln.Close()

	s.logger.Printf("websocket: listening on %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if isBenignReadError(err) {
				return nil
			}
			s.reportAcceptError(err)
			continue
		}
		tuneSocket(conn, s.cfg)
		go serveConnection(conn, s.cfg, &s.handlers)
	}
}

// reportAcceptError logs a failed Accept and, per spec.md §4.5, also
// delivers it to OnError with a nil Client reference — there is no
// connection yet for this error to be attributed to.
func (s *Server) reportAcceptError(err error) {
	s.logger.Printf("websocket: accept error: %v", err)
	if h := s.handlers.onError(); h != nil {
		info := newErrorInfo(KindAcceptError, err, 1)
		h(nil, info)
	}
}
