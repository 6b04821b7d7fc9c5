// Package command maps decoded request tokens to typed commands.
package command

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidArgument is returned when a command has the right shape but an
// argument cannot be interpreted, e.g. a non-numeric PX value.
var ErrInvalidArgument = errors.New("command: invalid argument")

// Command is one of Ping, Echo, Set, Get, Keys, ConfigGet or Unknown.
type Command interface {
	// Name is the lowercased command name, "unknown" for Unknown.
	Name() string
	isCommand()
}

type Ping struct{}

type Echo struct {
	Message string
}

// Set stores Value under Key. When HasExpiry is set the key expires
// ExpireInMS milliseconds after the write.
type Set struct {
	Key        string
	Value      string
	ExpireInMS uint64
	HasExpiry  bool
}

type Get struct {
	Key string
}

type Keys struct {
	Pattern string
}

type ConfigGet struct {
	Parameter string
}

// Unknown is any request that does not match a supported shape.
type Unknown struct {
	// Tokens holds the request as received, possibly empty.
	Tokens []string
}

func (Ping) Name() string      { return "ping" }
func (Echo) Name() string      { return "echo" }
func (Set) Name() string       { return "set" }
func (Get) Name() string       { return "get" }
func (Keys) Name() string      { return "keys" }
func (ConfigGet) Name() string { return "config" }
func (Unknown) Name() string   { return "unknown" }

func (Ping) isCommand()      {}
func (Echo) isCommand()      {}
func (Set) isCommand()       {}
func (Get) isCommand()       {}
func (Keys) isCommand()      {}
func (ConfigGet) isCommand() {}
func (Unknown) isCommand()   {}

// TTL returns the expiry as a duration. Only meaningful when HasExpiry is set.
func (s Set) TTL() time.Duration {
	return time.Duration(s.ExpireInMS) * time.Millisecond
}

// maxExpireMS keeps ExpireInMS representable as a time.Duration.
const maxExpireMS = math.MaxInt64 / int64(time.Millisecond)

// Interpret maps tokens to a Command. Tokens that do not form a supported
// command yield Unknown; an error is returned only for ErrInvalidArgument.
func Interpret(tokens []string) (Command, error) {
	if len(tokens) == 0 {
		return Unknown{Tokens: tokens}, nil
	}
	switch strings.ToLower(tokens[0]) {
	// [PING, ...]
	case "ping":
		return Ping{}, nil
	// [ECHO, message]
	case "echo":
		if len(tokens) != 2 {
			break
		}
		return Echo{Message: tokens[1]}, nil
	// [SET, key, value] or [SET, key, value, PX, milliseconds]
	case "set":
		switch {
		case len(tokens) == 3:
			return Set{Key: tokens[1], Value: tokens[2]}, nil
		case len(tokens) == 5 && strings.EqualFold(tokens[3], "px"):
			ms, err := parseExpire(tokens[4])
			if err != nil {
				return nil, err
			}
			return Set{Key: tokens[1], Value: tokens[2], ExpireInMS: ms, HasExpiry: true}, nil
		}
	// [GET, key]
	case "get":
		if len(tokens) != 2 {
			break
		}
		return Get{Key: tokens[1]}, nil
	// [KEYS, pattern]
	case "keys":
		if len(tokens) < 2 {
			break
		}
		return Keys{Pattern: tokens[1]}, nil
	// [CONFIG, GET, parameter]
	case "config":
		if len(tokens) < 3 || !strings.EqualFold(tokens[1], "get") {
			break
		}
		return ConfigGet{Parameter: tokens[2]}, nil
	}
	return Unknown{Tokens: tokens}, nil
}

func parseExpire(s string) (uint64, error) {
	ms, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: PX %q: %w", ErrInvalidArgument, s, err)
	}
	if ms > uint64(maxExpireMS) {
		return 0, fmt.Errorf("%w: PX %q out of range", ErrInvalidArgument, s)
	}
	return ms, nil
}
