// Package varserver exposes simulation variables to external clients over a
// line-oriented TCP protocol and an optional WebSocket endpoint.
//
// Each connection gets a session with its own goroutines. Reads are copied out
// through Target.Read and writes are handed to Target.Write, so a slow client
// never stalls the simulation loop.
package varserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/san-kum/fluidsim/internal/dynamo"
	"github.com/san-kum/fluidsim/internal/vars"
)

// Target is the simulation as the server sees it.
type Target interface {
	Lookup(name string) (*vars.Binding, error)
	Names() []string
	Read(fn func())
	Write(b *vars.Binding, v float64) error
	Terminate(reason string)
	Clock() dynamo.Clock
}

type State int

const (
	Stopped State = iota
	Listening
)

func (s State) String() string {
	if s == Listening {
		return "LISTENING"
	}
	return "STOPPED"
}

type Config struct {
	Host string
	Port int
	// WSPort enables the WebSocket endpoint when >= 0; 0 auto-assigns.
	WSPort       int
	Mode         Mode
	Cycle        time.Duration
	WriteTimeout time.Duration
	MaxLine      int
}

func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         0,
		WSPort:       -1,
		Mode:         ASCII,
		Cycle:        100 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
		MaxLine:      4096,
	}
}

func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", dynamo.ErrConfiguration, c.Port)
	}
	if c.WSPort < -1 || c.WSPort > 65535 {
		return fmt.Errorf("%w: invalid websocket port %d", dynamo.ErrConfiguration, c.WSPort)
	}
	if c.Cycle <= 0 {
		return fmt.Errorf("%w: cycle must be positive, got %s", dynamo.ErrConfiguration, c.Cycle)
	}
	if c.MaxLine <= 0 {
		return fmt.Errorf("%w: max line must be positive", dynamo.ErrConfiguration)
	}
	return nil
}

type Server struct {
	cfg    Config
	target Target
	logger *log.Logger

	mu       sync.Mutex
	state    State
	ln       net.Listener
	wsLn     net.Listener
	httpSrv  *http.Server
	sessions map[*session]struct{}
	nextID   uint64
	stopped  chan struct{}

	wg sync.WaitGroup
}

func New(cfg Config, target Target, logger *log.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		cfg:      cfg,
		target:   target,
		logger:   logger.WithPrefix("varserver"),
		sessions: make(map[*session]struct{}),
	}, nil
}

// Listen binds the configured ports. After it returns, Port reports the
// bound port even if the configuration asked for 0.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Stopped || s.stopped != nil {
		return fmt.Errorf("%w: server already started", dynamo.ErrConfiguration)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return fmt.Errorf("%w: listen on port %d: %v", dynamo.ErrConfiguration, s.cfg.Port, err)
	}

	if s.cfg.WSPort >= 0 {
		wsLn, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.WSPort)))
		if err != nil {
			ln.Close()
			return fmt.Errorf("%w: listen on websocket port %d: %v", dynamo.ErrConfiguration, s.cfg.WSPort, err)
		}
		mux := http.NewServeMux()
		mux.HandleFunc("/varserver", s.handleWebSocket)
		s.wsLn = wsLn
		s.httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}

	s.ln = ln
	s.state = Listening
	s.stopped = make(chan struct{})
	s.logger.Info("listening", "addr", ln.Addr().String(), "mode", s.cfg.Mode, "websocket", s.wsAddr())
	return nil
}

func (s *Server) wsAddr() string {
	if s.wsLn == nil {
		return ""
	}
	return s.wsLn.Addr().String()
}

// Port returns the bound TCP port, or 0 before Listen.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return portOf(s.ln)
}

// WSPort returns the bound WebSocket port, or 0 when disabled.
func (s *Server) WSPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return portOf(s.wsLn)
}

func portOf(ln net.Listener) int {
	if ln == nil {
		return 0
	}
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Sessions returns the number of open client sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Serve accepts connections until Shutdown or ctx cancellation.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Listening {
		s.mu.Unlock()
		return fmt.Errorf("%w: Serve called before Listen", dynamo.ErrConfiguration)
	}
	ln, wsLn, httpSrv, stopped := s.ln, s.wsLn, s.httpSrv, s.stopped
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
			defer cancel()
			s.Shutdown(shutdownCtx, "server stopped")
		case <-stopped:
		}
	}()

	if httpSrv != nil {
		go func() {
			if err := httpSrv.Serve(wsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("websocket endpoint failed", "err", err)
			}
		}()
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.Warn("accept failed, retrying", "err", err)
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return fmt.Errorf("%w: accept: %v", dynamo.ErrConnection, err)
		}
		s.start(newTCPTransport(conn, s.cfg.WriteTimeout, s.cfg.MaxLine))
	}
}

// start registers a session and runs it on its own goroutine. It refuses the
// transport once the server is stopping.
func (s *Server) start(tr transport) {
	s.mu.Lock()
	if s.state != Listening {
		s.mu.Unlock()
		tr.Close()
		return
	}
	s.nextID++
	sess := newSession(s.nextID, s, tr)
	s.sessions[sess] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Debug("client connected", "session", sess.id, "remote", tr.RemoteAddr())
	go func() {
		defer s.wg.Done()
		sess.run()
		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
		s.logger.Debug("client disconnected", "session", sess.id)
	}()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(int64(s.cfg.MaxLine))
	s.start(newWSTransport(conn, s.cfg.WriteTimeout))
}

// Shutdown stops listening, sends "terminated <reason>" to every session,
// closes them and waits for their goroutines or ctx.
func (s *Server) Shutdown(ctx context.Context, reason string) error {
	s.mu.Lock()
	if s.state != Listening {
		s.mu.Unlock()
		return nil
	}
	s.state = Stopped
	s.ln.Close()
	if s.wsLn != nil {
		s.wsLn.Close()
	}
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	httpSrv := s.httpSrv
	close(s.stopped)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.terminate(reason)
	}
	if httpSrv != nil {
		httpSrv.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.logger.Info("stopped", "reason", reason, "sessions", len(sessions))
	return nil
}
