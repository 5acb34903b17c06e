package protocol

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	MalformedMessage ErrorKind = iota + 1
	InconsistentRound
	PartiesUnreachable
	Timeout
)

func (k ErrorKind) String() string {
	switch k {
	case MalformedMessage:
		return "malformed message"
	case InconsistentRound:
		return "inconsistent round"
	case PartiesUnreachable:
		return "parties unreachable"
	case Timeout:
		return "timeout"
	default:
		return "unknown protocol error"
	}
}

// Error is an unrecoverable fault of a protocol run. Party is the index of
// the peer that caused it, zero when the fault is not attributable.
type Error struct {
	Kind  ErrorKind
	Party uint16
	Err   error
}

func NewError(kind ErrorKind, party uint16, err error) *Error {
	return &Error{Kind: kind, Party: party, Err: err}
}

func (e *Error) Error() string {
	msg := "protocol: " + e.Kind.String()
	if e.Party != 0 {
		msg = fmt.Sprintf("%s (party %d)", msg, e.Party)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err carries a protocol error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var perr *Error
	return errors.As(err, &perr) && perr.Kind == kind
}
