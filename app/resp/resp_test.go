package resp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeLength(t *testing.T) {
	n, pos, err := DecodeLength([]byte("123\r\n"))
	require.NoError(t, err)
	require.Equal(t, 123, n)
	require.Equal(t, 5, pos)

	_, _, err = DecodeLength([]byte("1a\r\n"))
	require.ErrorIs(t, err, ErrProtocol)
	require.False(t, errors.Is(err, ErrIncomplete))

	_, _, err = DecodeLength([]byte("12"))
	require.ErrorIs(t, err, ErrIncomplete)

	_, _, err = DecodeLength([]byte("\r\n"))
	require.ErrorIs(t, err, ErrProtocol)

	_, _, err = DecodeLength([]byte("3\rx"))
	require.ErrorIs(t, err, ErrProtocol)
}

func TestDecodeBulkString(t *testing.T) {
	s, pos, err := DecodeBulkString([]byte("$3\r\nfoo\r\n"))
	require.NoError(t, err)
	require.Equal(t, "foo", s)
	require.Equal(t, 9, pos)

	s, pos, err = DecodeBulkString([]byte("$0\r\n\r\n"))
	require.NoError(t, err)
	require.Equal(t, "", s)
	require.Equal(t, 6, pos)

	_, _, err = DecodeBulkString([]byte("+3\r\nfoo\r\n"))
	require.ErrorIs(t, err, ErrProtocol)

	_, _, err = DecodeBulkString([]byte("$5\r\nfoo\r\n"))
	require.ErrorIs(t, err, ErrIncomplete)

	_, _, err = DecodeBulkString([]byte("$3\r\nfooXY"))
	require.ErrorIs(t, err, ErrProtocol)
	require.False(t, errors.Is(err, ErrIncomplete))
}

func TestBulkStringRoundTrip(t *testing.T) {
	for _, v := range []string{"", "a", "hello world", "κλειδί"} {
		b := NewBulkString(v)
		s, pos, err := DecodeBulkString(b)
		require.NoError(t, err)
		require.Equal(t, v, s)
		require.Equal(t, len(b), pos)
	}
}

func TestDecodeRequest(t *testing.T) {
	in := []byte("*2\r\n$3\r\nfoo\r\n$3\r\nbar\r\n")
	tokens, pos, err := DecodeRequest(in)
	require.NoError(t, err)
	require.Equal(t, []string{"foo", "bar"}, tokens)
	require.Equal(t, len(in), pos)

	tokens, pos, err = DecodeRequest([]byte("*0\r\n"))
	require.NoError(t, err)
	require.Empty(t, tokens)
	require.Equal(t, 4, pos)
}

func TestDecodeRequestPipelined(t *testing.T) {
	in := append(NewBulkStringArray("PING"), NewBulkStringArray("ECHO", "hey")...)
	first, pos, err := DecodeRequest(in)
	require.NoError(t, err)
	require.Equal(t, []string{"PING"}, first)

	second, n, err := DecodeRequest(in[pos:])
	require.NoError(t, err)
	require.Equal(t, []string{"ECHO", "hey"}, second)
	require.Equal(t, len(in), pos+n)
}

func TestDecodeRequestErrors(t *testing.T) {
	cases := []struct {
		name       string
		in         string
		incomplete bool
	}{
		{"empty", "", true},
		{"not an array", "$3\r\nfoo\r\n", false},
		{"inline", "PING\r\n", false},
		{"bad count", "*x\r\n", false},
		{"truncated header", "*2", true},
		{"missing element", "*2\r\n$3\r\nfoo\r\n", true},
		{"truncated payload", "*1\r\n$10\r\nfoo\r\n", true},
		{"simple string element", "*1\r\n+OK\r\n", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := DecodeRequest([]byte(tc.in))
			require.ErrorIs(t, err, ErrProtocol)
			require.Equal(t, tc.incomplete, errors.Is(err, ErrIncomplete))
		})
	}
}

func TestEncode(t *testing.T) {
	require.Equal(t, "+PONG\r\n", string(NewSimpleString("PONG")))
	require.Equal(t, "$-1\r\n", string(NewNullBulkString()))
	require.Equal(t, "-ERR unknown command\r\n", string(NewErrorMSG("unknown command")))
	require.Equal(t, "*2\r\n$3\r\ndir\r\n$4\r\n/tmp\r\n", string(NewBulkStringArray("dir", "/tmp")))
	require.Equal(t, "*0\r\n", string(NewBulkStringArray()))
}
