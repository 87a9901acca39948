package domain

import "fmt"

// ErrorKind classifies failures so the HTTP layer can pick a status code
// without string matching.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindInvalidRequest
	KindNotReady
	KindNotFound
	KindEncoding
	KindExternalTool
	KindStorage
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindNotReady:
		return "not_ready"
	case KindNotFound:
		return "not_found"
	case KindEncoding:
		return "encoding"
	case KindExternalTool:
		return "external_tool"
	case KindStorage:
		return "storage"
	default:
		return "internal"
	}
}

// Error is a tagged failure. Every public operation in this module returns
// either nil or an *Error so callers can branch on Kind.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Errf builds a tagged error with a formatted message.
func Errf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error. Returns nil if err is nil.
func Wrap(kind ErrorKind, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf reports the kind of err, defaulting to KindInternal for untagged
// errors and iterating through wrapped causes.
func KindOf(err error) ErrorKind {
	for err != nil {
		if de, ok := err.(*Error); ok {
			return de.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return KindInternal
}
