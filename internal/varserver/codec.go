package varserver

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/san-kum/fluidsim/internal/dynamo"
	"github.com/san-kum/fluidsim/internal/vars"
)

// Mode is the wire encoding of a session.
type Mode int

const (
	ASCII Mode = iota
	Binary
)

func (m Mode) String() string {
	if m == Binary {
		return "binary"
	}
	return "ascii"
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ascii", "":
		return ASCII, nil
	case "binary":
		return Binary, nil
	}
	return ASCII, fmt.Errorf("%w: unknown wire mode %q", dynamo.ErrConfiguration, s)
}

// Value is one variable sample sent to a client.
type Value struct {
	Name  string
	Kind  vars.Kind
	Value float64
}

// textTag in place of a frame count marks a text reply in binary mode.
const textTag = math.MaxUint32

const maxNameLen = math.MaxUint16

// AppendFrame encodes values as a binary frame: uint32 count, then per value
// uint16 name length, name bytes and a float64, all little-endian.
func AppendFrame(dst []byte, vals []Value) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(vals)))
	for _, v := range vals {
		name := v.Name
		if len(name) > maxNameLen {
			name = name[:maxNameLen]
		}
		dst = binary.LittleEndian.AppendUint16(dst, uint16(len(name)))
		dst = append(dst, name...)
		dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(v.Value))
	}
	return dst
}

// AppendText encodes a text reply for a binary-mode stream.
func AppendText(dst []byte, text string) []byte {
	if len(text) > maxNameLen {
		text = text[:maxNameLen]
	}
	dst = binary.LittleEndian.AppendUint32(dst, textTag)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(text)))
	return append(dst, text...)
}

// ReadBinary decodes one binary-mode message. Exactly one of text or vals is
// meaningful: text replies come back with a nil vals slice.
func ReadBinary(r *bufio.Reader) (text string, vals []Value, err error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", nil, err
	}
	count := binary.LittleEndian.Uint32(hdr[:])
	if count == textTag {
		s, err := readString(r)
		return s, nil, err
	}
	if count > 1<<20 {
		return "", nil, fmt.Errorf("%w: frame claims %d values", dynamo.ErrProtocol, count)
	}

	vals = make([]Value, 0, count)
	for i := uint32(0); i < count; i++ {
		name, err := readString(r)
		if err != nil {
			return "", nil, err
		}
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return "", nil, err
		}
		vals = append(vals, Value{Name: name, Value: math.Float64frombits(binary.LittleEndian.Uint64(buf[:]))})
	}
	return "", vals, nil
}

func readString(r *bufio.Reader) (string, error) {
	var lb [2]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return "", err
	}
	buf := make([]byte, binary.LittleEndian.Uint16(lb[:]))
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// FormatValues renders values as one ASCII line of tab-separated name=value
// pairs, without the trailing newline.
func FormatValues(vals []Value) string {
	var sb strings.Builder
	for i, v := range vals {
		if i > 0 {
			sb.WriteByte('\t')
		}
		sb.WriteString(v.Name)
		sb.WriteByte('=')
		sb.WriteString(vars.FormatValue(v.Kind, v.Value))
	}
	return sb.String()
}

// ParseValues is the inverse of FormatValues.
func ParseValues(line string) ([]Value, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return []Value{}, nil
	}
	fields := strings.Split(line, "\t")
	vals := make([]Value, 0, len(fields))
	for _, f := range fields {
		name, raw, ok := strings.Cut(f, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: bad value pair %q", dynamo.ErrProtocol, f)
		}
		x, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad value for %s: %q", dynamo.ErrProtocol, name, raw)
		}
		vals = append(vals, Value{Name: name, Value: x})
	}
	return vals, nil
}

// Reply keywords open every ASCII line that is not a value line.
const (
	ReplyOK         = "ok"
	ReplyError      = "error"
	ReplyPong       = "pong"
	ReplyTerminated = "terminated"
	ReplyVars       = "vars"
	ReplySession    = "session"
)

// IsReply reports whether an ASCII line is a text reply rather than values.
func IsReply(line string) bool {
	word, _, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch word {
	case ReplyOK, ReplyError, ReplyPong, ReplyTerminated, ReplyVars, ReplySession:
		return true
	}
	return false
}
