package varserver

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/san-kum/fluidsim/internal/dynamo"
	"github.com/san-kum/fluidsim/internal/vars"
)

const minCycle = time.Millisecond

// session is one ESTABLISHED client. The command loop and the stream loop
// share the transport; the transport serializes writes.
type session struct {
	id     uint64
	target Target
	tr     transport
	logger *log.Logger

	mu     sync.Mutex
	subs   []*vars.Binding
	mode   Mode
	paused bool
	cycle  time.Duration

	cycleCh   chan time.Duration
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(id uint64, s *Server, tr transport) *session {
	return &session{
		id:      id,
		target:  s.target,
		tr:      tr,
		logger:  s.logger.With("session", id),
		mode:    s.cfg.Mode,
		cycle:   s.cfg.Cycle,
		cycleCh: make(chan time.Duration, 1),
		done:    make(chan struct{}),
	}
}

// errExit ends the command loop without an error reply.
var errExit = errors.New("exit")

func (s *session) run() {
	go s.stream()
	defer s.close()

	for {
		line, err := s.tr.ReadCommand()
		if err != nil {
			if errors.Is(err, dynamo.ErrProtocol) {
				s.replyError(err)
				continue
			}
			if !isDisconnect(err) {
				s.logger.Debug("read failed", "err", err)
			}
			return
		}

		if err := s.handle(line); err != nil {
			if errors.Is(err, errExit) {
				return
			}
			if errors.Is(err, dynamo.ErrConnection) {
				s.logger.Debug("send failed", "err", err)
				return
			}
			s.logger.Warn("command rejected", "cmd", line, "err", err)
			if s.replyError(err) != nil {
				return
			}
		}
	}
}

func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.tr.Close()
	})
}

// terminate notifies the client of the terminal state and closes the session.
func (s *session) terminate(reason string) {
	s.sendText(ReplyTerminated + " " + reason)
	s.close()
}

func (s *session) binary() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode == Binary
}

func (s *session) sendText(text string) error {
	return s.tr.Send(message{text: text, binary: s.binary()})
}

func (s *session) sendValues(vals []Value) error {
	return s.tr.Send(message{vals: vals, binary: s.binary()})
}

func (s *session) replyError(err error) error {
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	return s.sendText(ReplyError + " " + msg)
}

// handle executes one command line.
func (s *session) handle(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return nil
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "ping":
		return s.sendText(ReplyPong)
	case "var_get":
		if len(args) == 0 {
			return usage("var_get name...")
		}
		return s.get(args)
	case "var_set":
		if len(args) != 2 {
			return usage("var_set name value")
		}
		return s.set(args[0], args[1])
	case "var_add":
		if len(args) == 0 {
			return usage("var_add name...")
		}
		return s.add(args)
	case "var_remove":
		if len(args) == 0 {
			return usage("var_remove name...")
		}
		s.remove(args)
		return s.sendText(ReplyOK)
	case "var_clear":
		s.mu.Lock()
		s.subs = nil
		s.mu.Unlock()
		return s.sendText(ReplyOK)
	case "var_send":
		return s.sendValues(s.sample(s.subscriptions()))
	case "var_cycle":
		if len(args) != 1 {
			return usage("var_cycle seconds")
		}
		return s.setCycle(args[0])
	case "var_pause", "var_unpause":
		s.mu.Lock()
		s.paused = cmd == "var_pause"
		s.mu.Unlock()
		return s.sendText(ReplyOK)
	case "var_ascii", "var_binary":
		// Acknowledge in the mode the command arrived in.
		if err := s.sendText(ReplyOK); err != nil {
			return err
		}
		s.mu.Lock()
		s.mode = ASCII
		if cmd == "var_binary" {
			s.mode = Binary
		}
		s.mu.Unlock()
		return nil
	case "var_list":
		return s.sendText(ReplyVars + " " + strings.Join(s.target.Names(), " "))
	case "var_session":
		return s.sendText(s.describe())
	case "var_exit":
		return errExit
	case "exec_set_terminate_time":
		if len(args) != 1 {
			return usage("exec_set_terminate_time seconds")
		}
		return s.set("exec.terminate_time", args[0])
	case "exec_terminate":
		s.target.Terminate("client request")
		return s.sendText(ReplyOK)
	case "exec_get_time":
		return s.get([]string{"exec.sim_time"})
	}

	if strings.HasPrefix(cmd, "var_") || strings.HasPrefix(cmd, "exec_") {
		return fmt.Errorf("%w: unknown command %q", dynamo.ErrProtocol, cmd)
	}

	// Bare forms: "name", "name value" and "name = value".
	switch {
	case len(args) == 0:
		return s.get([]string{cmd})
	case len(args) == 1:
		return s.set(cmd, args[0])
	case len(args) == 2 && args[0] == "=":
		return s.set(cmd, args[1])
	}
	return fmt.Errorf("%w: cannot parse %q", dynamo.ErrProtocol, line)
}

func usage(u string) error {
	return fmt.Errorf("%w: usage: %s", dynamo.ErrProtocol, u)
}

func (s *session) resolve(names []string) ([]*vars.Binding, error) {
	bs := make([]*vars.Binding, 0, len(names))
	for _, name := range names {
		b, err := s.target.Lookup(name)
		if err != nil {
			return nil, err
		}
		bs = append(bs, b)
	}
	return bs, nil
}

// read copies the values of bs in one critical section so they belong to
// the same frame.
func (s *session) read(bs []*vars.Binding) ([]Value, error) {
	vals := make([]Value, len(bs))
	var err error
	s.target.Read(func() {
		for i, b := range bs {
			v, rerr := b.Value()
			if rerr != nil {
				v = math.NaN()
				if err == nil {
					err = rerr
				}
			}
			vals[i] = Value{Name: b.Name, Kind: b.Kind, Value: v}
		}
	})
	return vals, err
}

// sample is read for streaming: unreadable entries come back as NaN.
func (s *session) sample(bs []*vars.Binding) []Value {
	vals, _ := s.read(bs)
	return vals
}

func (s *session) get(names []string) error {
	bs, err := s.resolve(names)
	if err != nil {
		return err
	}
	vals, err := s.read(bs)
	if err != nil {
		return err
	}
	return s.sendValues(vals)
}

func (s *session) set(name, raw string) error {
	b, err := s.target.Lookup(name)
	if err != nil {
		return err
	}
	if !b.Writable() {
		return fmt.Errorf("%w: %s", dynamo.ErrReadOnly, b.Name)
	}
	v, err := b.Parse(raw)
	if err != nil {
		return err
	}
	if err := s.target.Write(b, v); err != nil {
		return err
	}
	s.logger.Debug("write accepted", "var", b.Name, "value", v)
	return s.sendText(ReplyOK)
}

func (s *session) add(names []string) error {
	bs, err := s.resolve(names)
	if err != nil {
		return err
	}
	if _, err := s.read(bs); err != nil {
		return err
	}

	s.mu.Lock()
	for _, b := range bs {
		if !containsName(s.subs, b.Name) {
			s.subs = append(s.subs, b)
		}
	}
	s.mu.Unlock()
	return s.sendText(ReplyOK)
}

func (s *session) remove(names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.subs[:0]
	for _, b := range s.subs {
		drop := false
		for _, n := range names {
			if strings.TrimSpace(n) == b.Name {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, b)
		}
	}
	s.subs = kept
}

func containsName(bs []*vars.Binding, name string) bool {
	for _, b := range bs {
		if b.Name == name {
			return true
		}
	}
	return false
}

func (s *session) subscriptions() []*vars.Binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*vars.Binding(nil), s.subs...)
}

func (s *session) setCycle(raw string) error {
	sec, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(sec) || math.IsInf(sec, 0) || sec <= 0 {
		return fmt.Errorf("%w: cycle must be a positive number of seconds, got %q", dynamo.ErrProtocol, raw)
	}
	d := time.Duration(sec * float64(time.Second))
	if d < minCycle {
		d = minCycle
	}

	s.mu.Lock()
	s.cycle = d
	s.mu.Unlock()
	select {
	case <-s.cycleCh:
	default:
	}
	s.cycleCh <- d
	return s.sendText(ReplyOK)
}

func (s *session) describe() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.subs))
	for i, b := range s.subs {
		names[i] = b.Name
	}
	return fmt.Sprintf("%s id=%d mode=%s cycle=%g paused=%t vars=%s",
		ReplySession, s.id, s.mode, s.cycle.Seconds(), s.paused, strings.Join(names, ","))
}

// stream re-sends the subscribed variables once per cycle until the session
// closes.
func (s *session) stream() {
	s.mu.Lock()
	cycle := s.cycle
	s.mu.Unlock()

	ticker := time.NewTicker(cycle)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case d := <-s.cycleCh:
			ticker.Reset(d)
		case <-ticker.C:
			s.mu.Lock()
			paused, n := s.paused, len(s.subs)
			s.mu.Unlock()
			if paused || n == 0 {
				continue
			}
			if err := s.sendValues(s.sample(s.subscriptions())); err != nil {
				s.logger.Debug("stream send failed", "err", err)
				s.close()
				return
			}
		}
	}
}
