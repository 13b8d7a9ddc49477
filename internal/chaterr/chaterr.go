// Package chaterr implements the typed error taxonomy shared by the domain
// packages (room, dm, user) and rendered back to clients over the wire.
package chaterr

import "fmt"

// Kind is one of the stable error tags clients can switch on.
type Kind string

const (
	InvalidName         Kind = "invalidName"
	NoLogin             Kind = "noLogin"
	NotAllowed          Kind = "notAllowed"
	NotJoined           Kind = "notJoined"
	NameInList          Kind = "nameInList"
	NoNameInList        Kind = "noNameInList"
	NoList              Kind = "noList"
	RoomExists          Kind = "roomExists"
	NoUserOnline        Kind = "noUserOnline"
	WrongArgumentsCount Kind = "wrongArgumentsCount"
	BadArgument         Kind = "badArgument"
	InvalidSocket       Kind = "invalidSocket"
	ServerError         Kind = "serverError"
)

// Error is a typed, taggable error. Args are the values that would be
// substituted into a human-readable rendering.
type Error struct {
	KindVal Kind
	Args    []any
}

func (e *Error) Error() string {
	return e.String()
}

// String renders the error as "<name>: <args>", used when the service is
// configured with useRawErrorObjects = false.
func (e *Error) String() string {
	if len(e.Args) == 0 {
		return string(e.KindVal)
	}
	return fmt.Sprintf("%s: %v", e.KindVal, e.Args)
}

// Raw renders the error as a {name, args} structured object, used when the
// service is configured with useRawErrorObjects = true.
type Raw struct {
	Name string `json:"name"`
	Args []any  `json:"args,omitempty"`
}

func (e *Error) Raw() Raw {
	return Raw{Name: string(e.KindVal), Args: e.Args}
}

// KindOf reports the error's tag, or "" if err is nil or not a *Error.
func KindOf(err error) Kind {
	var ce *Error
	if err == nil {
		return ""
	}
	if as, ok := err.(*Error); ok {
		ce = as
	} else {
		return ""
	}
	return ce.KindVal
}

// New builds a typed error. It is the "makeError(kind, args...)" operation.
func New(kind Kind, args ...any) *Error {
	return &Error{KindVal: kind, Args: args}
}

// Is allows errors.Is(err, chaterr.New(kind)) style comparisons by kind only.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.KindVal == t.KindVal
}

// Render produces the wire representation of err according to the
// useRawErrorObjects switch. A nil err renders as nil.
func Render(err error, useRawErrorObjects bool) any {
	if err == nil {
		return nil
	}
	ce, ok := err.(*Error)
	if !ok {
		// Non-domain failures (store/transport) are never surfaced raw;
		// callers are expected to have already translated them to
		// ServerError via Wrap before reaching Render.
		ce = New(ServerError)
	}
	if useRawErrorObjects {
		return ce.Raw()
	}
	return ce.String()
}

// Wrap translates an opaque backend failure (store/transport) into a
// ServerError, logging is left to the caller so call sites can attach
// request-scoped fields.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*Error); ok {
		return ce
	}
	return New(ServerError, err.Error())
}
