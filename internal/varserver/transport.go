package varserver

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/san-kum/fluidsim/internal/dynamo"
)

// message is one server-to-client message. Values messages carry vals, text
// replies carry text.
type message struct {
	text   string
	vals   []Value
	binary bool
}

type transport interface {
	ReadCommand() (string, error)
	Send(m message) error
	Close() error
	RemoteAddr() string
}

type tcpTransport struct {
	conn    net.Conn
	r       *bufio.Reader
	timeout time.Duration
	maxLine int

	mu  sync.Mutex
	buf []byte
}

func newTCPTransport(conn net.Conn, timeout time.Duration, maxLine int) *tcpTransport {
	return &tcpTransport{
		conn:    conn,
		r:       bufio.NewReaderSize(conn, maxLine),
		timeout: timeout,
		maxLine: maxLine,
	}
}

// ReadCommand returns the next line. An overlong line is drained and
// reported as a protocol error so the session can keep going.
func (t *tcpTransport) ReadCommand() (string, error) {
	line, err := t.r.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		for err == bufio.ErrBufferFull {
			_, err = t.r.ReadSlice('\n')
		}
		if err != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: line longer than %d bytes", dynamo.ErrProtocol, t.maxLine)
	}
	if err != nil && len(line) == 0 {
		return "", err
	}
	return strings.TrimRight(string(line), "\r\n"), nil
}

func (t *tcpTransport) Send(m message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = t.buf[:0]
	switch {
	case m.binary && m.vals != nil:
		t.buf = AppendFrame(t.buf, m.vals)
	case m.binary:
		t.buf = AppendText(t.buf, m.text)
	case m.vals != nil:
		t.buf = append(t.buf, FormatValues(m.vals)...)
		t.buf = append(t.buf, '\n')
	default:
		t.buf = append(t.buf, m.text...)
		t.buf = append(t.buf, '\n')
	}

	if err := t.conn.SetWriteDeadline(time.Now().Add(t.timeout)); err != nil {
		return fmt.Errorf("%w: %v", dynamo.ErrConnection, err)
	}
	if _, err := t.conn.Write(t.buf); err != nil {
		return fmt.Errorf("%w: %v", dynamo.ErrConnection, err)
	}
	return nil
}

func (t *tcpTransport) Close() error      { return t.conn.Close() }
func (t *tcpTransport) RemoteAddr() string { return t.conn.RemoteAddr().String() }

// wsTransport carries one command per text message. Binary-mode value frames
// go out as binary messages; everything else is text.
type wsTransport struct {
	conn    *websocket.Conn
	timeout time.Duration
	mu      sync.Mutex
}

func newWSTransport(conn *websocket.Conn, timeout time.Duration) *wsTransport {
	return &wsTransport{conn: conn, timeout: timeout}
}

func (t *wsTransport) ReadCommand() (string, error) {
	mt, data, err := t.conn.ReadMessage()
	if err != nil {
		return "", err
	}
	if mt != websocket.TextMessage {
		return "", fmt.Errorf("%w: commands must be text messages", dynamo.ErrProtocol)
	}
	return strings.TrimSpace(string(data)), nil
}

func (t *wsTransport) Send(m message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.conn.SetWriteDeadline(time.Now().Add(t.timeout)); err != nil {
		return fmt.Errorf("%w: %v", dynamo.ErrConnection, err)
	}
	var err error
	switch {
	case m.binary && m.vals != nil:
		err = t.conn.WriteMessage(websocket.BinaryMessage, AppendFrame(nil, m.vals))
	case m.vals != nil:
		err = t.conn.WriteMessage(websocket.TextMessage, []byte(FormatValues(m.vals)))
	default:
		err = t.conn.WriteMessage(websocket.TextMessage, []byte(m.text))
	}
	if err != nil {
		return fmt.Errorf("%w: %v", dynamo.ErrConnection, err)
	}
	return nil
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.mu.Unlock()
	return t.conn.Close()
}

func (t *wsTransport) RemoteAddr() string { return t.conn.RemoteAddr().String() }
