package command

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInterpret(t *testing.T) {
	cases := []struct {
		name   string
		tokens []string
		want   Command
	}{
		{"ping", []string{"PING"}, Ping{}},
		{"ping ignores extra tokens", []string{"ping", "hello"}, Ping{}},
		{"echo", []string{"ECHO", "hey"}, Echo{Message: "hey"}},
		{"set", []string{"SET", "k", "v"}, Set{Key: "k", Value: "v"}},
		{"set px", []string{"set", "k", "v", "PX", "100"}, Set{Key: "k", Value: "v", ExpireInMS: 100, HasExpiry: true}},
		{"set px lowercase", []string{"SET", "k", "v", "px", "0"}, Set{Key: "k", Value: "v", HasExpiry: true}},
		{"get", []string{"Get", "k"}, Get{Key: "k"}},
		{"keys", []string{"KEYS", "*"}, Keys{Pattern: "*"}},
		{"config get", []string{"CONFIG", "get", "dir"}, ConfigGet{Parameter: "dir"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd, err := Interpret(tc.tokens)
			require.NoError(t, err)
			require.Equal(t, tc.want, cmd)
		})
	}
}

func TestInterpretUnknownShapes(t *testing.T) {
	for _, tokens := range [][]string{
		nil,
		{},
		{"FLUSHALL"},
		{"ECHO"},
		{"ECHO", "a", "b"},
		{"SET", "k"},
		{"SET", "k", "v", "PX"},
		{"SET", "k", "v", "EX", "10"},
		{"SET", "k", "v", "PX", "10", "NX"},
		{"GET"},
		{"GET", "a", "b"},
		{"KEYS"},
		{"CONFIG", "GET"},
		{"CONFIG", "SET", "dir", "/tmp"},
	} {
		cmd, err := Interpret(tokens)
		require.NoError(t, err, "tokens %q", tokens)
		require.IsType(t, Unknown{}, cmd, "tokens %q", tokens)
		require.Equal(t, "unknown", cmd.Name())
	}
}

func TestInterpretInvalidExpire(t *testing.T) {
	for _, px := range []string{"abc", "-1", "1.5", "", "99999999999999999999"} {
		cmd, err := Interpret([]string{"SET", "k", "v", "PX", px})
		require.ErrorIs(t, err, ErrInvalidArgument, "px %q", px)
		require.Nil(t, cmd)
	}
}

func TestSetTTL(t *testing.T) {
	cmd, err := Interpret([]string{"SET", "k", "v", "PX", "1500"})
	require.NoError(t, err)
	require.Equal(t, 1500*time.Millisecond, cmd.(Set).TTL())
}
