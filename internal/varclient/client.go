// Package varclient is a Go client for the variable server's TCP protocol.
package varclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/san-kum/fluidsim/internal/dynamo"
	"github.com/san-kum/fluidsim/internal/varserver"
)

var (
	// ErrServer wraps an "error ..." reply.
	ErrServer = errors.New("varclient: server error")

	// ErrTerminated is returned once the server reports the run has ended.
	ErrTerminated = errors.New("varclient: simulation terminated")
)

// Message is one reply or stream update. Values is nil for text replies.
type Message struct {
	Text   string
	Values []varserver.Value
}

// Terminated reports whether the message is the server's terminal notice,
// and its reason.
func (m Message) Terminated() (string, bool) {
	if m.Values != nil {
		return "", false
	}
	reason, ok := strings.CutPrefix(m.Text, varserver.ReplyTerminated)
	return strings.TrimSpace(reason), ok
}

// Client is not safe for concurrent use, except that Send may be called
// while another goroutine blocks in Next.
type Client struct {
	conn   net.Conn
	r      *bufio.Reader
	binary bool

	// Timeout bounds each read and write; zero means no deadline.
	Timeout time.Duration
}

func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dynamo.ErrConnection, err)
	}
	return &Client{conn: conn, r: bufio.NewReader(conn), Timeout: 5 * time.Second}, nil
}

// DialPort connects to a server on localhost.
func DialPort(ctx context.Context, port int) (*Client, error) {
	return Dial(ctx, net.JoinHostPort("localhost", strconv.Itoa(port)))
}

func (c *Client) Close() error { return c.conn.Close() }

// Send writes a raw command without waiting for its reply.
func (c *Client) Send(cmd string) error {
	if c.Timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.Timeout))
	}
	if _, err := io.WriteString(c.conn, cmd+"\n"); err != nil {
		return fmt.Errorf("%w: %v", dynamo.ErrConnection, err)
	}
	return nil
}

// Next reads the next message from the server.
func (c *Client) Next() (Message, error) {
	if c.Timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.Timeout))
	} else {
		c.conn.SetReadDeadline(time.Time{})
	}
	if c.binary {
		text, vals, err := varserver.ReadBinary(c.r)
		if err != nil {
			return Message{}, fmt.Errorf("%w: %v", dynamo.ErrConnection, err)
		}
		return Message{Text: text, Values: vals}, nil
	}

	line, err := c.r.ReadString('\n')
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", dynamo.ErrConnection, err)
	}
	line = strings.TrimRight(line, "\r\n")
	if varserver.IsReply(line) {
		return Message{Text: line}, nil
	}
	vals, err := varserver.ParseValues(line)
	if err != nil {
		return Message{}, err
	}
	return Message{Values: vals}, nil
}

// reply skips stream updates until a text reply arrives.
func (c *Client) reply() (string, error) {
	for {
		m, err := c.Next()
		if err != nil {
			return "", err
		}
		if m.Values != nil {
			continue
		}
		return m.Text, checkText(m)
	}
}

func checkText(m Message) error {
	if reason, ok := m.Terminated(); ok {
		return fmt.Errorf("%w: %s", ErrTerminated, reason)
	}
	if msg, ok := strings.CutPrefix(m.Text, varserver.ReplyError); ok {
		return fmt.Errorf("%w: %s", ErrServer, strings.TrimSpace(msg))
	}
	return nil
}

func (c *Client) command(cmd string) error {
	if err := c.Send(cmd); err != nil {
		return err
	}
	_, err := c.reply()
	return err
}

// GetAll reads several variables from the same frame.
func (c *Client) GetAll(names ...string) ([]varserver.Value, error) {
	if err := c.Send("var_get " + strings.Join(names, " ")); err != nil {
		return nil, err
	}
	for {
		m, err := c.Next()
		if err != nil {
			return nil, err
		}
		if m.Values == nil {
			if err := checkText(m); err != nil {
				return nil, err
			}
			continue
		}
		if matches(m.Values, names) {
			return m.Values, nil
		}
	}
}

func matches(vals []varserver.Value, names []string) bool {
	if len(vals) != len(names) {
		return false
	}
	for i := range vals {
		if vals[i].Name != names[i] {
			return false
		}
	}
	return true
}

func (c *Client) Get(name string) (float64, error) {
	vals, err := c.GetAll(name)
	if err != nil {
		return 0, err
	}
	return vals[0].Value, nil
}

func (c *Client) Set(name string, v float64) error {
	return c.command(fmt.Sprintf("var_set %s %s", name, strconv.FormatFloat(v, 'g', -1, 64)))
}

func (c *Client) Ping() error {
	return c.command("ping")
}

func (c *Client) Time() (float64, error) {
	return c.Get("exec.sim_time")
}

func (c *Client) SetTerminateTime(t float64) error {
	return c.command("exec_set_terminate_time " + strconv.FormatFloat(t, 'g', -1, 64))
}

func (c *Client) Terminate() error {
	return c.command("exec_terminate")
}

func (c *Client) Add(names ...string) error {
	return c.command("var_add " + strings.Join(names, " "))
}

func (c *Client) Remove(names ...string) error {
	return c.command("var_remove " + strings.Join(names, " "))
}

func (c *Client) Clear() error { return c.command("var_clear") }

func (c *Client) Pause() error { return c.command("var_pause") }

func (c *Client) Unpause() error { return c.command("var_unpause") }

func (c *Client) Cycle(d time.Duration) error {
	return c.command("var_cycle " + strconv.FormatFloat(d.Seconds(), 'g', -1, 64))
}

// SetBinary switches the session's wire mode. The server acknowledges in the
// old mode.
func (c *Client) SetBinary(on bool) error {
	cmd := "var_ascii"
	if on {
		cmd = "var_binary"
	}
	if err := c.command(cmd); err != nil {
		return err
	}
	c.binary = on
	return nil
}

// List returns the server's variable names.
func (c *Client) List() ([]string, error) {
	if err := c.Send("var_list"); err != nil {
		return nil, err
	}
	text, err := c.reply()
	if err != nil {
		return nil, err
	}
	rest, ok := strings.CutPrefix(text, varserver.ReplyVars)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected reply %q", dynamo.ErrProtocol, text)
	}
	return strings.Fields(rest), nil
}

// Exit ends the session; the server closes the connection.
func (c *Client) Exit() error {
	if err := c.Send("var_exit"); err != nil {
		return err
	}
	return c.Close()
}
