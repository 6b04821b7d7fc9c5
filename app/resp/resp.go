package resp

import (
	"errors"
	"fmt"
	"strconv"
)

// ref: https://redis.io/docs/latest/develop/reference/protocol-spec/

const (
	TypeSimpleString = '+'
	TypeBulkString   = '$'
	TypeArray        = '*'
	TypeError        = '-'
)

const linebreak = "\r\n"

// maxLength bounds any declared array or bulk length.
const maxLength = 512 * 1024 * 1024

var (
	// ErrProtocol is returned for malformed request framing.
	ErrProtocol = errors.New("resp: protocol error")
	// ErrIncomplete is returned when the buffer ends before the frame does.
	// It wraps ErrProtocol: callers that do not re-buffer treat it as malformed.
	ErrIncomplete = fmt.Errorf("%w: incomplete frame", ErrProtocol)
)

// DecodeLength reads ASCII decimal digits up to a CRLF terminator.
// It returns the value and the number of bytes consumed, terminator included.
func DecodeLength(b []byte) (int, int, error) {
	n := 0
	pos := 0
	for ; pos < len(b) && b[pos] != '\r'; pos++ {
		c := b[pos]
		if c < '0' || c > '9' {
			return 0, 0, fmt.Errorf("%w: invalid length byte %q", ErrProtocol, c)
		}
		n = n*10 + int(c-'0')
		if n > maxLength {
			return 0, 0, fmt.Errorf("%w: length exceeds %d", ErrProtocol, maxLength)
		}
	}
	if pos+1 >= len(b) {
		return 0, 0, ErrIncomplete
	}
	if pos == 0 {
		return 0, 0, fmt.Errorf("%w: empty length", ErrProtocol)
	}
	if b[pos+1] != '\n' {
		return 0, 0, fmt.Errorf("%w: expecting line break after length", ErrProtocol)
	}
	return n, pos + len(linebreak), nil
}

// DecodeBulkString decodes one `$<len>\r\n<payload>\r\n` element.
func DecodeBulkString(b []byte) (string, int, error) {
	if len(b) == 0 {
		return "", 0, ErrIncomplete
	}
	if b[0] != TypeBulkString {
		return "", 0, fmt.Errorf("%w: expecting bulk string, got %q", ErrProtocol, b[0])
	}
	size, n, err := DecodeLength(b[1:])
	if err != nil {
		return "", 0, err
	}
	start := 1 + n
	end := start + size
	if end+len(linebreak) > len(b) {
		return "", 0, ErrIncomplete
	}
	if string(b[end:end+len(linebreak)]) != linebreak {
		return "", 0, fmt.Errorf("%w: bulk string not terminated by line break", ErrProtocol)
	}
	return string(b[start:end]), end + len(linebreak), nil
}

// DecodeRequest decodes one request frame: an array of bulk strings.
// It returns the tokens in order and the number of bytes the frame occupied,
// so a caller holding pipelined input can continue after it.
func DecodeRequest(b []byte) ([]string, int, error) {
	if len(b) == 0 {
		return nil, 0, ErrIncomplete
	}
	if b[0] != TypeArray {
		return nil, 0, fmt.Errorf("%w: expecting array, got %q", ErrProtocol, b[0])
	}
	count, n, err := DecodeLength(b[1:])
	if err != nil {
		return nil, 0, err
	}
	pos := 1 + n
	tokens := make([]string, 0, min(count, 64))
	for i := 0; i < count; i++ {
		s, n, err := DecodeBulkString(b[pos:])
		if err != nil {
			return nil, 0, err
		}
		tokens = append(tokens, s)
		pos += n
	}
	return tokens, pos, nil
}

func NewSimpleString(msg string) []byte {
	return []byte(fmt.Sprintf("%c%s\r\n", TypeSimpleString, msg))
}

func NewBulkString(msg string) []byte {
	return []byte(fmt.Sprintf("%c%d\r\n%s\r\n", TypeBulkString, len(msg), msg))
}

func NewNullBulkString() []byte {
	return []byte(fmt.Sprintf("%c-1\r\n", TypeBulkString))
}

// NewBulkStringArray encodes elems, in order, as an array of bulk strings.
// A client request has the same shape.
func NewBulkStringArray(elems ...string) []byte {
	b := make([]byte, 0, 16*(len(elems)+1))
	b = append(b, TypeArray)
	b = strconv.AppendInt(b, int64(len(elems)), 10)
	b = append(b, linebreak...)
	for _, e := range elems {
		b = append(b, NewBulkString(e)...)
	}
	return b
}

func NewErrorMSG(msg string) []byte {
	return []byte(fmt.Sprintf("%cERR %s\r\n", TypeError, msg))
}
