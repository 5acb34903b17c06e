package relay

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	Unreachable ErrorKind = iota + 1
	RoomFull
	Timeout
	// Closed means the relay ended the room's stream.
	Closed
)

func (k ErrorKind) String() string {
	switch k {
	case Unreachable:
		return "relay unreachable"
	case RoomFull:
		return "room full"
	case Timeout:
		return "relay timeout"
	case Closed:
		return "room closed"
	default:
		return "unknown relay error"
	}
}

type Error struct {
	Kind ErrorKind
	Room string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: room %s", e.Kind, e.Room)
	}
	return fmt.Sprintf("%s: room %s: %v", e.Kind, e.Room, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func IsKind(err error, kind ErrorKind) bool {
	var rerr *Error
	return errors.As(err, &rerr) && rerr.Kind == kind
}
