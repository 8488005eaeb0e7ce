package model

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindForbidden
	KindConflict
	KindInvalidState
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindInvalidState:
		return "invalid state"
	case KindValidation:
		return "validation failed"
	default:
		return "internal error"
	}
}

// Error is a domain failure whose Kind survives wrapping.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Msg
}

// Is matches kind-only sentinels (ErrNotFound, ErrConflict, ...) against any
// error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Kind == e.Kind
}

var (
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrForbidden    = &Error{Kind: KindForbidden}
	ErrConflict     = &Error{Kind: KindConflict}
	ErrInvalidState = &Error{Kind: KindInvalidState}
	ErrValidation   = &Error{Kind: KindValidation}
)

var (
	ErrEventNotFound         = &Error{Kind: KindNotFound, Msg: "event not found"}
	ErrRegistrationNotFound  = &Error{Kind: KindNotFound, Msg: "registration not found"}
	ErrDuplicateRegistration = &Error{Kind: KindConflict, Msg: "user is already registered for this event"}
	ErrRegistrationClosed    = &Error{Kind: KindInvalidState, Msg: "event is not open for registration"}
	ErrInvalidTransition     = &Error{Kind: KindInvalidState, Msg: "event status transition is not allowed"}
	ErrEventClosed           = &Error{Kind: KindInvalidState, Msg: "event can no longer be modified"}
	ErrStartInPast           = &Error{Kind: KindValidation, Msg: "event start time must be in the future"}
	ErrInvalidTimeRange      = &Error{Kind: KindValidation, Msg: "event end time must be after start time"}
	ErrInvalidLimit          = &Error{Kind: KindValidation, Msg: "participant limit must be positive"}
)

// Errorf builds an error of the given kind.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first domain error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}
